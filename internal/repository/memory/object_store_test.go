package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/artshare/internal/repository"
)

func TestObjectStore_SaveLoadDelete(t *testing.T) {
	ctx := context.Background()
	s := NewObjectStore()

	require.NoError(t, s.Save(ctx, repository.Record{Type: "user", Key: "user@1", Data: []byte(`{"id":"1"}`)}))
	require.NoError(t, s.Save(ctx, repository.Record{Type: "user", Key: "user@2", Data: []byte(`{"id":"2"}`)}))
	require.NoError(t, s.Save(ctx, repository.Record{Type: "user", Key: "user@1", Data: []byte(`{"id":"1","v":2}`)}))
	require.NoError(t, s.Save(ctx, repository.Record{Type: "artwork", Key: "artwork@1", Data: []byte(`{}`)}))

	recs, err := s.LoadAll(ctx, "user")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "user@1", recs[0].Key)
	assert.JSONEq(t, `{"id":"1","v":2}`, string(recs[0].Data))
	assert.False(t, recs[0].UpdatedAt.IsZero())

	matched, err := s.Filter(ctx, "user", func(r repository.Record) bool { return r.Key == "user@2" })
	require.NoError(t, err)
	require.Len(t, matched, 1)

	require.NoError(t, s.Delete(ctx, "user", "user@1"))
	assert.ErrorIs(t, s.Delete(ctx, "user", "user@1"), repository.ErrNotFound)
	assert.ErrorIs(t, s.Delete(ctx, "comment", "comment@1"), repository.ErrNotFound)

	recs, err = s.LoadAll(ctx, "user")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "user@2", recs[0].Key)
}

func TestObjectStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewObjectStore()

	data := []byte(`{"a":1}`)
	require.NoError(t, s.Save(ctx, repository.Record{Type: "user", Key: "1", Data: data}))
	data[2] = 'b'

	recs, err := s.LoadAll(ctx, "user")
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(recs[0].Data))
}

func TestObjectStore_Closed(t *testing.T) {
	ctx := context.Background()
	s := NewObjectStore()
	require.NoError(t, s.Close())

	assert.ErrorIs(t, s.Ping(ctx), repository.ErrStoreClosed)
	assert.ErrorIs(t, s.Save(ctx, repository.Record{Type: "user", Key: "1"}), repository.ErrStoreClosed)
	_, err := s.LoadAll(ctx, "user")
	assert.ErrorIs(t, err, repository.ErrStoreClosed)
}
