package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/artshare/internal/repository"
)

// newTestCache returns a cache whose clock the test controls.
func newTestCache(t *testing.T) (*Cache, *time.Time) {
	t.Helper()
	c := NewCache(time.Hour)
	t.Cleanup(c.Stop)

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	return c, &now
}

func TestCache_GetSet(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t)

	_, err := c.Get(ctx, "missing")
	assert.ErrorIs(t, err, repository.ErrCacheMiss)

	value := []byte("hello")
	require.NoError(t, c.Set(ctx, "k", value, 0))
	value[0] = 'j'

	got, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))

	got[0] = 'y'
	again, _ := c.Get(ctx, "k")
	assert.Equal(t, "hello", string(again))
}

func TestCache_Expiry(t *testing.T) {
	ctx := context.Background()
	c, now := newTestCache(t)

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))
	ttl, err := c.TTL(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, time.Minute, ttl)

	*now = now.Add(2 * time.Minute)
	_, err = c.Get(ctx, "k")
	assert.ErrorIs(t, err, repository.ErrCacheMiss)

	ttl, _ = c.TTL(ctx, "k")
	assert.Equal(t, time.Duration(-1), ttl)

	c.evictExpired()
	assert.Equal(t, 0, c.Len())
}

func TestCache_ExpireAndTTL(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t)

	require.NoError(t, c.Set(ctx, "k", []byte("v"), 0))
	ttl, _ := c.TTL(ctx, "k")
	assert.Equal(t, time.Duration(-2), ttl)

	require.NoError(t, c.Expire(ctx, "k", time.Second))
	ttl, _ = c.TTL(ctx, "k")
	assert.Equal(t, time.Second, ttl)

	require.NoError(t, c.Expire(ctx, "k", 0))
	ttl, _ = c.TTL(ctx, "k")
	assert.Equal(t, time.Duration(-2), ttl)
}

func TestCache_SetNX(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t)

	ok, err := c.SetNX(ctx, "k", []byte("a"), 0)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.SetNX(ctx, "k", []byte("b"), 0)
	require.NoError(t, err)
	assert.False(t, ok)

	got, _ := c.Get(ctx, "k")
	assert.Equal(t, "a", string(got))
}

func TestCache_Multi(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t)

	require.NoError(t, c.SetMulti(ctx, map[string][]byte{"a": []byte("1"), "b": []byte("2")}, 0))
	got, err := c.GetMulti(ctx, []string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	require.NoError(t, c.DeleteMulti(ctx, "a", "b"))
	exists, _ := c.Exists(ctx, "a")
	assert.False(t, exists)
}

func TestCache_Increment(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t)

	n, err := c.Increment(ctx, "counter", 5)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)

	n, err = c.Decrement(ctx, "counter", 7)
	require.NoError(t, err)
	assert.Equal(t, int64(-2), n)

	raw, _ := c.Get(ctx, "counter")
	assert.Equal(t, "-2", string(raw))

	require.NoError(t, c.Set(ctx, "text", []byte("abc"), 0))
	_, err = c.Increment(ctx, "text", 1)
	assert.Error(t, err)
}
