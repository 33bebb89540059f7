// Package memory provides an in-process repository.Cache.
// It stands in for Redis on single-node deployments and in tests.
package memory

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/prn-tf/artshare/internal/repository"
)

// DefaultCleanupInterval is used when NewCache is given a non-positive interval.
const DefaultCleanupInterval = time.Minute

// Cache implements repository.Cache with a map guarded by a RWMutex.
// Values are copied on the way in and out. Counters are stored as decimal
// text, matching how Redis represents them.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]entry
	now     func() time.Time
	stopCh  chan struct{}
	stopped bool
}

type entry struct {
	value     []byte
	expiresAt time.Time // zero means no expiry
}

func (e entry) live(now time.Time) bool {
	return e.expiresAt.IsZero() || now.Before(e.expiresAt)
}

// NewCache creates a cache and starts its eviction loop.
func NewCache(cleanupInterval time.Duration) *Cache {
	if cleanupInterval <= 0 {
		cleanupInterval = DefaultCleanupInterval
	}
	c := &Cache{
		entries: make(map[string]entry),
		now:     time.Now,
		stopCh:  make(chan struct{}),
	}
	go c.evictLoop(cleanupInterval)
	return c
}

func (c *Cache) evictLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.evictExpired()
		}
	}
}

func (c *Cache) evictExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for key, e := range c.entries {
		if !e.live(now) {
			delete(c.entries, key)
		}
	}
}

// Stop ends the eviction loop. Stored values stay readable.
func (c *Cache) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.stopped {
		close(c.stopCh)
		c.stopped = true
	}
}

// Len returns the number of live keys.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	now := c.now()
	n := 0
	for _, e := range c.entries {
		if e.live(now) {
			n++
		}
	}
	return n
}

func (c *Cache) newEntry(value []byte, ttl time.Duration) entry {
	e := entry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expiresAt = c.now().Add(ttl)
	}
	return e
}

// lookup returns the live entry for key. Callers hold c.mu.
func (c *Cache) lookup(key string) (entry, bool) {
	e, ok := c.entries[key]
	if !ok || !e.live(c.now()) {
		return entry{}, false
	}
	return e, true
}

// Get retrieves a value by key.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.lookup(key)
	if !ok {
		return nil, repository.ErrCacheMiss
	}
	return append([]byte(nil), e.value...), nil
}

// Set stores a value. A ttl of 0 keeps it until overwritten.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = c.newEntry(value, ttl)
	return nil
}

// SetNX sets a value only if the key doesn't exist.
func (c *Cache) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.lookup(key); ok {
		return false, nil
	}
	c.entries[key] = c.newEntry(value, ttl)
	return true, nil
}

// Delete removes a value by key.
func (c *Cache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, key)
	return nil
}

// Exists checks if a key exists.
func (c *Cache) Exists(ctx context.Context, key string) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	_, ok := c.lookup(key)
	return ok, nil
}

// Expire sets or clears the TTL of an existing key.
func (c *Cache) Expire(ctx context.Context, key string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.lookup(key)
	if !ok {
		return nil
	}
	if ttl > 0 {
		e.expiresAt = c.now().Add(ttl)
	} else {
		e.expiresAt = time.Time{}
	}
	c.entries[key] = e
	return nil
}

// TTL returns the remaining TTL: -1 for a missing key, -2 for no expiry.
func (c *Cache) TTL(ctx context.Context, key string) (time.Duration, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.lookup(key)
	if !ok {
		return -1, nil
	}
	if e.expiresAt.IsZero() {
		return -2, nil
	}
	return e.expiresAt.Sub(c.now()), nil
}

// GetMulti retrieves multiple values. Missing keys are omitted.
func (c *Cache) GetMulti(ctx context.Context, keys []string) (map[string][]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string][]byte, len(keys))
	for _, key := range keys {
		if e, ok := c.lookup(key); ok {
			out[key] = append([]byte(nil), e.value...)
		}
	}
	return out, nil
}

// SetMulti stores multiple values with the same TTL.
func (c *Cache) SetMulti(ctx context.Context, items map[string][]byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, value := range items {
		c.entries[key] = c.newEntry(value, ttl)
	}
	return nil
}

// DeleteMulti removes multiple values.
func (c *Cache) DeleteMulti(ctx context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, key := range keys {
		delete(c.entries, key)
	}
	return nil
}

// Increment atomically adds delta to an integer value, starting from 0.
// An existing TTL is preserved.
func (c *Cache) Increment(ctx context.Context, key string, delta int64) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var current int64
	e, ok := c.lookup(key)
	if ok {
		n, err := strconv.ParseInt(string(e.value), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("value of %s is not an integer", key)
		}
		current = n
	}

	next := current + delta
	e.value = []byte(strconv.FormatInt(next, 10))
	c.entries[key] = e
	return next, nil
}

// Decrement atomically subtracts delta from an integer value.
func (c *Cache) Decrement(ctx context.Context, key string, delta int64) (int64, error) {
	return c.Increment(ctx, key, -delta)
}

// Ensure Cache implements repository.Cache.
var _ repository.Cache = (*Cache)(nil)
