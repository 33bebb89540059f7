package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/artshare/internal/repository"
)

func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err, "failed to start miniredis")

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
		mr.Close()
	})
	return client, mr
}

// lockers returns every Locker implementation that enforces exclusion.
func lockers(t *testing.T) map[string]Locker {
	client, _ := setupTestRedis(t)
	mem := NewMemoryLocker()
	t.Cleanup(mem.Stop)

	return map[string]Locker{
		"memory": mem,
		"redis":  NewRedisLocker(client),
	}
}

func TestLocker_AcquireRelease(t *testing.T) {
	ctx := context.Background()

	for name, l := range lockers(t) {
		t.Run(name, func(t *testing.T) {
			ok, err := l.Acquire(ctx, "k", time.Minute)
			require.NoError(t, err)
			assert.True(t, ok)

			ok, err = l.Acquire(ctx, "k", time.Minute)
			require.NoError(t, err)
			assert.False(t, ok)

			held, err := l.IsHeld(ctx, "k")
			require.NoError(t, err)
			assert.True(t, held)

			extended, err := l.Extend(ctx, "k", time.Minute)
			require.NoError(t, err)
			assert.True(t, extended)

			released, err := l.Release(ctx, "k")
			require.NoError(t, err)
			assert.True(t, released)

			released, err = l.Release(ctx, "k")
			require.NoError(t, err)
			assert.False(t, released)

			ok, err = l.AcquireWithRetry(ctx, "k", time.Minute, 2, time.Millisecond)
			require.NoError(t, err)
			assert.True(t, ok)
		})
	}
}

func TestMemoryLocker_Expiry(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryLocker()
	defer m.Stop()

	now := time.Now()
	m.now = func() time.Time { return now }

	ok, _ := m.Acquire(ctx, "k", time.Second)
	require.True(t, ok)

	now = now.Add(2 * time.Second)
	ok, _ = m.Acquire(ctx, "k", time.Second)
	assert.True(t, ok)
}

func TestRedisLocker_ForeignOwner(t *testing.T) {
	ctx := context.Background()
	client, mr := setupTestRedis(t)

	a := NewRedisLocker(client)
	b := NewRedisLocker(client)

	ok, err := a.Acquire(ctx, "k", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Second)

	ok, err = b.Acquire(ctx, "k", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	// a's lease expired; it must not remove b's.
	released, err := a.Release(ctx, "k")
	require.NoError(t, err)
	assert.False(t, released)

	held, err := b.IsHeld(ctx, "k")
	require.NoError(t, err)
	assert.True(t, held)
}

func TestRedisLocker_Unavailable(t *testing.T) {
	ctx := context.Background()
	client, mr := setupTestRedis(t)
	l := NewRedisLocker(client)

	mr.Close()
	_, err := l.Acquire(ctx, "k", time.Second)
	assert.ErrorIs(t, err, repository.ErrCacheUnavailable)
}

func TestAcquireAll(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryLocker()
	defer m.Stop()
	opts := Options{TTL: time.Minute, MaxRetries: 0, RetryDelay: time.Millisecond}

	release, err := AcquireAll(ctx, m, opts, "b", "a", "b", "")
	require.NoError(t, err)

	held, _ := m.IsHeld(ctx, "a")
	assert.True(t, held)

	// "a" is taken, so nothing new stays held.
	_, err = AcquireAll(ctx, m, opts, "c", "a")
	assert.ErrorIs(t, err, repository.ErrLockNotAcquired)
	held, _ = m.IsHeld(ctx, "c")
	assert.False(t, held)

	release()
	held, _ = m.IsHeld(ctx, "a")
	assert.False(t, held)
	held, _ = m.IsHeld(ctx, "b")
	assert.False(t, held)
}

func TestAcquireAll_MutualExclusion(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryLocker()
	defer m.Stop()
	opts := Options{TTL: time.Minute, MaxRetries: 1000, RetryDelay: time.Millisecond}

	var (
		wg      sync.WaitGroup
		inside  int32
		maxSeen int32
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			keys := []string{"x", "y"}
			if i%2 == 1 {
				keys = []string{"y", "x"}
			}
			release, err := AcquireAll(ctx, m, opts, keys...)
			if !assert.NoError(t, err) {
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				cur := atomic.LoadInt32(&maxSeen)
				if n <= cur || atomic.CompareAndSwapInt32(&maxSeen, cur, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			release()
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxSeen)
}

func TestNoOpLocker(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	l := NewNoOpLocker()

	ok, err := l.Acquire(ctx, "k", time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	cancel()
	ok, err = l.Acquire(ctx, "k", time.Second)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, ok)
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "lock:user:7", Keys.User("7"))
	assert.Equal(t, "lock:artwork:3", Keys.Artwork("3"))
	assert.Equal(t, Keys.Username("alice"), Keys.Username("ALICE"))
	assert.Equal(t, "lock:email:alice@example.com", Keys.Email("Alice@Example.com"))
	assert.NotEqual(t, Keys.Username("alice"), Keys.Email("alice"))
}
