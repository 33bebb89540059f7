package storage

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateImage(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		size     int64
		wantExt  string
		wantErr  error
	}{
		{"png", "a.png", 10, "png", nil},
		{"upper case", "A.JPEG", 10, "jpeg", nil},
		{"gif at limit", "x.gif", DefaultMaxImageSize, "gif", nil},
		{"too large", "x.gif", DefaultMaxImageSize + 1, "", ErrImageTooLarge},
		{"no extension", "image", 1, "", ErrUnsupportedImage},
		{"bmp", "x.bmp", 1, "", ErrUnsupportedImage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ext, err := ValidateImage(tt.filename, tt.size, 0)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantExt, ext)
		})
	}
}

func TestParseRef(t *testing.T) {
	hash := strings.Repeat("ab", 32)

	h, ext, err := ParseRef(Ref(hash, "jpg"))
	require.NoError(t, err)
	assert.Equal(t, hash, h)
	assert.Equal(t, "jpg", ext)

	for _, bad := range []string{"", "png", hash, hash + ".exe", "short.png", hash + "."} {
		_, _, err := ParseRef(bad)
		assert.ErrorIs(t, err, ErrInvalidReference, bad)
	}
}

func TestComputePath(t *testing.T) {
	cfg := DefaultPathConfig("/data")
	assert.Equal(t, filepath.Join("/data", "ab", "cd", "abcdef.png"), ComputePath(cfg, "abcdef.png"))
	assert.Equal(t, filepath.Join("/data", "abc"), ComputePath(cfg, "abc"))
	assert.Equal(t, filepath.Join("/data", "ab", "cd"), GetShardPath(cfg, "abcdef.png"))

	assert.Equal(t, "img/ab/cd/abcdef.png", ComputeKey(DefaultPathConfig("img"), "abcdef.png"))
	assert.Equal(t, "ab/cd/abcdef.png", ComputeKey(DefaultPathConfig(""), "abcdef.png"))
}
