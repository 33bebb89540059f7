package repository

import (
	"context"
	"time"
)

// =============================================================================
// Cache Interface
// =============================================================================

// Cache defines the interface for caching operations.
// Implemented by Redis for shared deployments and in memory for a single node.
// The cache is never a correctness dependency: callers fall back to the store.
type Cache interface {
	// Get retrieves a value by key.
	// Returns ErrCacheMiss if the key doesn't exist.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value with an optional TTL.
	// If ttl is 0, the value doesn't expire.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// SetNX sets a value only if the key doesn't exist.
	// Returns true if the value was set, false if the key already exists.
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)

	// Delete removes a value by key.
	Delete(ctx context.Context, key string) error

	// Exists checks if a key exists.
	Exists(ctx context.Context, key string) (bool, error)

	// Expire sets or updates the TTL for a key. A ttl of 0 removes the expiry.
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// TTL returns the remaining TTL for a key.
	// Returns -1 if the key doesn't exist, -2 if no TTL is set.
	TTL(ctx context.Context, key string) (time.Duration, error)

	// GetMulti retrieves multiple values by keys. Missing keys are omitted.
	GetMulti(ctx context.Context, keys []string) (map[string][]byte, error)

	// SetMulti stores multiple values.
	SetMulti(ctx context.Context, items map[string][]byte, ttl time.Duration) error

	// DeleteMulti removes multiple values.
	DeleteMulti(ctx context.Context, keys ...string) error

	// Increment atomically increments an integer value.
	Increment(ctx context.Context, key string, delta int64) (int64, error)

	// Decrement atomically decrements an integer value.
	Decrement(ctx context.Context, key string, delta int64) (int64, error)
}

// =============================================================================
// Common Cache Keys
// =============================================================================

// CacheKeys generates cache keys for common scenarios.
var CacheKeys = cacheKeys{}

type cacheKeys struct{}

// Object returns the key of a serialized entity.
func (cacheKeys) Object(typeName, id string) string {
	return "cache:obj:" + typeName + ":" + id
}

// IDCounters returns the key of the identity counter table.
func (cacheKeys) IDCounters() string {
	return "cache:id_counters"
}

// IDCounter returns the key of the shared id counter of typeName.
func (cacheKeys) IDCounter(typeName string) string {
	return "cache:id_counter:" + typeName
}

// Balance returns the key of a user's live balance view.
func (cacheKeys) Balance(userID string) string {
	return "cache:balance:" + userID
}
