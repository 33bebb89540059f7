package identity

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/artshare/internal/cache/memory"
	"github.com/prn-tf/artshare/internal/metrics"
	"github.com/prn-tf/artshare/internal/repository"
)

// flakyCache fails reads and/or writes on demand.
type flakyCache struct {
	repository.Cache
	failGet bool
	failSet bool
}

func (c *flakyCache) Get(ctx context.Context, key string) ([]byte, error) {
	if c.failGet {
		return nil, repository.ErrCacheUnavailable
	}
	return c.Cache.Get(ctx, key)
}

func (c *flakyCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if c.failSet {
		return errors.New("connection reset")
	}
	return c.Cache.Set(ctx, key, value, ttl)
}

func newCache(t *testing.T) *memory.Cache {
	t.Helper()
	c := memory.NewCache(time.Hour)
	t.Cleanup(c.Stop)
	return c
}

func TestAllocator_NextIsSequentialPerType(t *testing.T) {
	ctx := context.Background()
	a := NewAllocator(newCache(t), nil, zerolog.Nop())

	for want := int64(1); want <= 3; want++ {
		n, err := a.Next(ctx, "user")
		require.NoError(t, err)
		assert.Equal(t, want, n)
	}

	n, err := a.Next(ctx, "artwork")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = a.Next(ctx, "")
	assert.ErrorIs(t, err, ErrEmptyType)
}

func TestAllocator_SurvivesRestart(t *testing.T) {
	ctx := context.Background()
	cache := newCache(t)

	first := NewAllocator(cache, nil, zerolog.Nop())
	for i := 0; i < 5; i++ {
		_, err := first.Next(ctx, "comment")
		require.NoError(t, err)
	}

	second := NewAllocator(cache, nil, zerolog.Nop())
	second.Load(ctx)
	n, err := second.Next(ctx, "comment")
	require.NoError(t, err)
	assert.Equal(t, int64(6), n)
}

func TestAllocator_LoadToleratesBadTable(t *testing.T) {
	ctx := context.Background()

	t.Run("corrupt", func(t *testing.T) {
		cache := newCache(t)
		require.NoError(t, cache.Set(ctx, repository.CacheKeys.IDCounters(), []byte("{not json"), 0))

		a := NewAllocator(cache, nil, zerolog.Nop())
		a.Load(ctx)
		assert.Empty(t, a.Snapshot())
	})

	t.Run("unavailable", func(t *testing.T) {
		a := NewAllocator(&flakyCache{Cache: newCache(t), failGet: true}, nil, zerolog.Nop())
		a.Load(ctx)
		n, err := a.Next(ctx, "user")
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
	})
}

func TestAllocator_PersistFailureIsNotFatal(t *testing.T) {
	ctx := context.Background()
	m := metrics.New(nil)
	a := NewAllocator(&flakyCache{Cache: newCache(t), failSet: true}, m, zerolog.Nop())

	n, err := a.Next(ctx, "message")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.IDPersistFailures))
}

func TestAllocator_ConcurrentNextIsUnique(t *testing.T) {
	ctx := context.Background()
	a := NewAllocator(newCache(t), nil, zerolog.Nop())

	const n = 200
	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		ids = make(map[int64]struct{}, n)
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := a.Next(ctx, "artwork")
			assert.NoError(t, err)
			mu.Lock()
			ids[id] = struct{}{}
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, ids, n)
	assert.Equal(t, int64(n), a.Snapshot()["artwork"])
}

func TestAllocator_ObserveAndReset(t *testing.T) {
	ctx := context.Background()
	cache := newCache(t)
	a := NewAllocator(cache, nil, zerolog.Nop())

	assert.True(t, a.Observe(ctx, "user", 41))
	assert.False(t, a.Observe(ctx, "user", 10))

	n, err := a.Next(ctx, "user")
	require.NoError(t, err)
	assert.Equal(t, int64(42), n)

	require.NoError(t, a.Reset(ctx))
	assert.Empty(t, a.Snapshot())
	exists, _ := cache.Exists(ctx, repository.CacheKeys.IDCounters())
	assert.False(t, exists)

	n, err = a.Next(ctx, "user")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestAllocator_SharedCacheKeepsIDsUnique(t *testing.T) {
	ctx := context.Background()
	cache := newCache(t)
	first := NewAllocator(cache, nil, zerolog.Nop())
	second := NewAllocator(cache, nil, zerolog.Nop())
	first.Load(ctx)
	second.Load(ctx)

	var got []int64
	for _, a := range []*Allocator{first, second, second, first} {
		n, err := a.Next(ctx, "user")
		require.NoError(t, err)
		got = append(got, n)
	}
	assert.Equal(t, []int64{1, 2, 3, 4}, got)

	// Observing on one allocator moves the shared counter for the other.
	assert.True(t, first.Observe(ctx, "user", 10))
	n, err := second.Next(ctx, "user")
	require.NoError(t, err)
	assert.Equal(t, int64(11), n)

	raw, err := cache.Get(ctx, repository.CacheKeys.IDCounters())
	require.NoError(t, err)
	assert.JSONEq(t, `{"user":11}`, string(raw))
}

func TestAllocator_LocalCounterIsFloorAfterCacheFlush(t *testing.T) {
	ctx := context.Background()
	cache := newCache(t)
	a := NewAllocator(cache, nil, zerolog.Nop())

	for i := 0; i < 5; i++ {
		_, err := a.Next(ctx, "artwork")
		require.NoError(t, err)
	}
	require.NoError(t, cache.Delete(ctx, repository.CacheKeys.IDCounter("artwork")))

	n, err := a.Next(ctx, "artwork")
	require.NoError(t, err)
	assert.Equal(t, int64(6), n)

	shared, err := cache.Increment(ctx, repository.CacheKeys.IDCounter("artwork"), 0)
	require.NoError(t, err)
	assert.Equal(t, int64(6), shared)
}
