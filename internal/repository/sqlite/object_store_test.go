package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/artshare/internal/repository"
)

func setupStore(t *testing.T) (*ObjectStore, *DB) {
	t.Helper()

	ctx := context.Background()
	cfg := DefaultConfig(filepath.Join(t.TempDir(), "data", "artshare.db"))

	db, err := NewDB(ctx, cfg, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, db.Migrate(ctx))

	store := NewObjectStore(db, zerolog.Nop())
	t.Cleanup(func() { _ = store.Close() })
	return store, db
}

func TestMigrate_Idempotent(t *testing.T) {
	ctx := context.Background()
	_, db := setupStore(t)

	v, err := db.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	require.NoError(t, db.Migrate(ctx))
	v, err = db.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}

func TestObjectStore_Upsert(t *testing.T) {
	ctx := context.Background()
	store, _ := setupStore(t)

	require.NoError(t, store.Save(ctx, repository.Record{Type: "user", Key: "user@1", Data: []byte(`{"username":"a"}`)}))
	require.NoError(t, store.Save(ctx, repository.Record{Type: "user", Key: "user@2", Data: []byte(`{"username":"b"}`)}))
	require.NoError(t, store.Save(ctx, repository.Record{Type: "user", Key: "user@1", Data: []byte(`{"username":"c"}`)}))

	recs, err := store.LoadAll(ctx, "user")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "user@1", recs[0].Key)
	assert.Equal(t, `{"username":"c"}`, string(recs[0].Data))
	assert.Equal(t, "user", recs[0].Type)
	assert.False(t, recs[0].UpdatedAt.IsZero())

	none, err := store.LoadAll(ctx, "artwork")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestObjectStore_DeleteAndFilter(t *testing.T) {
	ctx := context.Background()
	store, _ := setupStore(t)

	for _, key := range []string{"comment@1", "comment@2", "3"} {
		require.NoError(t, store.Save(ctx, repository.Record{Type: "comment", Key: key, Data: []byte(`{}`)}))
	}

	bare, err := store.Filter(ctx, "comment", func(r repository.Record) bool { return r.Key == "3" })
	require.NoError(t, err)
	require.Len(t, bare, 1)

	require.NoError(t, store.Delete(ctx, "comment", "3"))
	assert.ErrorIs(t, store.Delete(ctx, "comment", "3"), repository.ErrNotFound)

	recs, err := store.LoadAll(ctx, "comment")
	require.NoError(t, err)
	assert.Len(t, recs, 2)
}

func TestObjectStore_Ping(t *testing.T) {
	store, _ := setupStore(t)
	assert.NoError(t, store.Ping(context.Background()))
}
