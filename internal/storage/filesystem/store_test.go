package filesystem

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/artshare/internal/pkg/crypto"
	"github.com/prn-tf/artshare/internal/storage"
)

func TestImageStore_PutExistsDelete(t *testing.T) {
	dir := t.TempDir()
	s, err := NewImageStore(dir, 0, zerolog.Nop())
	require.NoError(t, err)
	ctx := context.Background()

	ref, err := s.Put(ctx, strings.NewReader("pixels"), 6, "cat.PNG")
	require.NoError(t, err)
	assert.Equal(t, crypto.ComputeSHA256([]byte("pixels"))+".png", ref)

	p := filepath.Join(dir, ref[0:2], ref[2:4], ref)
	data, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Equal(t, "pixels", string(data))

	again, err := s.Put(ctx, strings.NewReader("pixels"), -1, "copy.png")
	require.NoError(t, err)
	assert.Equal(t, ref, again)

	ok, err := s.Exists(ctx, ref)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, s.Delete(ctx, ref))
	ok, err = s.Exists(ctx, ref)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.True(t, storage.IsNotFound(s.Delete(ctx, ref)))
}

func TestImageStore_Rejects(t *testing.T) {
	s, err := NewImageStore(t.TempDir(), 4, zerolog.Nop())
	require.NoError(t, err)
	ctx := context.Background()

	_, err = s.Put(ctx, strings.NewReader("x"), 1, "notes.txt")
	assert.ErrorIs(t, err, storage.ErrUnsupportedImage)

	_, err = s.Put(ctx, strings.NewReader("too big"), 7, "a.gif")
	assert.ErrorIs(t, err, storage.ErrImageTooLarge)

	// Undeclared size is enforced while reading.
	_, err = s.Put(ctx, strings.NewReader("too big"), -1, "a.gif")
	assert.ErrorIs(t, err, storage.ErrImageTooLarge)

	_, err = s.Put(ctx, strings.NewReader("abc"), 2, "a.gif")
	assert.Error(t, err)

	_, err = s.Exists(ctx, "../../etc/passwd.png")
	assert.ErrorIs(t, err, storage.ErrInvalidReference)
}
