package redis

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redismock/v9"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/artshare/internal/config"
	"github.com/prn-tf/artshare/internal/repository"
)

// setupTestRedis creates a miniredis instance for testing.
func setupTestRedis(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err, "failed to start miniredis")

	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})

	t.Cleanup(func() {
		_ = client.Close()
		mr.Close()
	})

	return NewCache(client), mr
}

func TestCache_GetSetDelete(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c, _ := setupTestRedis(t)

	_, err := c.Get(ctx, "missing")
	assert.ErrorIs(t, err, repository.ErrCacheMiss)

	require.NoError(t, c.Set(ctx, "k", []byte("v"), 0))
	got, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", string(got))

	exists, err := c.Exists(ctx, "k")
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, c.Delete(ctx, "k"))
	_, err = c.Get(ctx, "k")
	assert.ErrorIs(t, err, repository.ErrCacheMiss)
}

func TestCache_TTLCodes(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c, mr := setupTestRedis(t)

	ttl, err := c.TTL(ctx, "missing")
	require.NoError(t, err)
	assert.Equal(t, time.Duration(-1), ttl)

	require.NoError(t, c.Set(ctx, "forever", []byte("v"), 0))
	ttl, err = c.TTL(ctx, "forever")
	require.NoError(t, err)
	assert.Equal(t, time.Duration(-2), ttl)

	require.NoError(t, c.Set(ctx, "short", []byte("v"), time.Minute))
	ttl, err = c.TTL(ctx, "short")
	require.NoError(t, err)
	assert.Equal(t, time.Minute, ttl)

	require.NoError(t, c.Expire(ctx, "short", 0))
	ttl, _ = c.TTL(ctx, "short")
	assert.Equal(t, time.Duration(-2), ttl)

	require.NoError(t, c.Expire(ctx, "forever", time.Second))
	mr.FastForward(2 * time.Second)
	_, err = c.Get(ctx, "forever")
	assert.ErrorIs(t, err, repository.ErrCacheMiss)
}

func TestCache_SetNXAndCounters(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c, _ := setupTestRedis(t)

	ok, err := c.SetNX(ctx, "k", []byte("a"), 0)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = c.SetNX(ctx, "k", []byte("b"), 0)
	require.NoError(t, err)
	assert.False(t, ok)

	n, err := c.Increment(ctx, "n", 10)
	require.NoError(t, err)
	assert.Equal(t, int64(10), n)
	n, err = c.Decrement(ctx, "n", 3)
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)
}

func TestCache_Multi(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c, _ := setupTestRedis(t)

	require.NoError(t, c.SetMulti(ctx, map[string][]byte{"a": []byte("1"), "b": []byte("2")}, time.Minute))
	got, err := c.GetMulti(ctx, []string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Equal(t, map[string][]byte{"a": []byte("1"), "b": []byte("2")}, got)

	require.NoError(t, c.DeleteMulti(ctx, "a", "b"))
	got, err = c.GetMulti(ctx, []string{"a", "b"})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestCache_Unavailable(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	rdb, mock := redismock.NewClientMock()
	defer func() { _ = rdb.Close() }()
	c := NewCache(rdb)

	mock.ExpectGet("k").SetErr(errors.New("connection refused"))
	_, err := c.Get(ctx, "k")
	assert.ErrorIs(t, err, repository.ErrCacheUnavailable)

	mock.ExpectGet("k").RedisNil()
	_, err = c.Get(ctx, "k")
	assert.ErrorIs(t, err, repository.ErrCacheMiss)

	mock.ExpectSet("k", []byte("v"), time.Duration(0)).SetErr(errors.New("timeout"))
	assert.ErrorIs(t, c.Set(ctx, "k", []byte("v"), 0), repository.ErrCacheUnavailable)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNewClient(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	mr, err := miniredis.Run()
	require.NoError(t, err)

	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)

	cfg := config.RedisConfig{Host: mr.Host(), Port: port, PoolSize: 2, DialTimeout: time.Second}
	client, err := NewClient(ctx, cfg, zerolog.Nop())
	require.NoError(t, err)
	defer client.Close()

	mr.Close()
	_, err = NewClient(ctx, cfg, zerolog.Nop())
	assert.ErrorIs(t, err, repository.ErrCacheUnavailable)
}
