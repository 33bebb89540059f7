package postgres

import (
	"context"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/artshare/internal/config"
	"github.com/prn-tf/artshare/internal/repository"
)

// setupStore connects to the database named by ARTSHARE_TEST_POSTGRES_HOST.
// The test is skipped when no database is configured.
func setupStore(t *testing.T) *ObjectStore {
	t.Helper()

	host := os.Getenv("ARTSHARE_TEST_POSTGRES_HOST")
	if host == "" {
		t.Skip("ARTSHARE_TEST_POSTGRES_HOST not set")
	}
	port, _ := strconv.Atoi(os.Getenv("ARTSHARE_TEST_POSTGRES_PORT"))
	if port == 0 {
		port = 5432
	}

	cfg := config.DatabaseConfig{
		Driver:          "postgres",
		Host:            host,
		Port:            port,
		User:            envOr("ARTSHARE_TEST_POSTGRES_USER", "artshare"),
		Password:        os.Getenv("ARTSHARE_TEST_POSTGRES_PASSWORD"),
		Database:        envOr("ARTSHARE_TEST_POSTGRES_DB", "artshare_test"),
		SSLMode:         "disable",
		MaxOpenConns:    4,
		MaxIdleConns:    1,
		ConnMaxLifetime: time.Minute,
		ConnMaxIdleTime: time.Minute,
	}

	ctx := context.Background()
	db, err := NewDB(ctx, cfg, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, db.Migrate(ctx))

	_, err = db.Pool.Exec(ctx, `DELETE FROM objects`)
	require.NoError(t, err)

	store := NewObjectStore(db, zerolog.Nop())
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func TestObjectStore_RoundTrip(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, repository.Record{Type: "user", Key: "user@1", Data: []byte(`{"username":"a"}`)}))
	require.NoError(t, store.Save(ctx, repository.Record{Type: "user", Key: "user@2", Data: []byte(`{"username":"b"}`)}))
	require.NoError(t, store.Save(ctx, repository.Record{Type: "user", Key: "user@1", Data: []byte(`{"username":"c"}`)}))

	recs, err := store.LoadAll(ctx, "user")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "user@1", recs[0].Key)
	assert.JSONEq(t, `{"username":"c"}`, string(recs[0].Data))

	require.NoError(t, store.Delete(ctx, "user", "user@1"))
	assert.ErrorIs(t, store.Delete(ctx, "user", "user@1"), repository.ErrNotFound)
}
