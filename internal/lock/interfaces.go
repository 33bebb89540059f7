// Package lock provides distributed and local locking abstractions.
// For single-node deployments, memory-based locks are used.
// For distributed deployments, Redis-based locks can be used.
package lock

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/prn-tf/artshare/internal/repository"
)

// Locker defines the interface for distributed/local locking.
// This abstraction allows switching between in-memory locks (single-node)
// and Redis-based locks (distributed) without changing business logic.
type Locker interface {
	// Acquire attempts to acquire a lock.
	// Returns true if the lock was acquired, false if it's held by another process.
	// The lock will automatically expire after the specified TTL.
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// AcquireWithRetry attempts to acquire a lock with retries.
	// Will retry up to maxRetries times with retryDelay between attempts.
	AcquireWithRetry(ctx context.Context, key string, ttl time.Duration, maxRetries int, retryDelay time.Duration) (bool, error)

	// Release releases a lock.
	// Returns true if the lock was released, false if it wasn't held.
	Release(ctx context.Context, key string) (bool, error)

	// Extend extends the TTL of a held lock.
	// Returns true if the lock was extended, false if it's not held.
	Extend(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// IsHeld checks if the lock is currently held.
	IsHeld(ctx context.Context, key string) (bool, error)
}

// Options controls how AcquireAll waits for each key.
type Options struct {
	TTL        time.Duration
	MaxRetries int
	RetryDelay time.Duration
}

// AcquireAll takes every key in sorted order, so two callers that need
// overlapping key sets cannot deadlock. Duplicate and empty keys are ignored.
// If any key cannot be taken, the keys already held are released and the
// returned error wraps repository.ErrLockNotAcquired.
// The returned release func frees all keys and ignores cancellation of ctx.
func AcquireAll(ctx context.Context, locker Locker, opts Options, keys ...string) (release func(), err error) {
	ordered := make([]string, 0, len(keys))
	seen := make(map[string]bool, len(keys))
	for _, k := range keys {
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		ordered = append(ordered, k)
	}
	sort.Strings(ordered)

	held := make([]string, 0, len(ordered))
	release = func() {
		rctx := context.WithoutCancel(ctx)
		for i := len(held) - 1; i >= 0; i-- {
			_, _ = locker.Release(rctx, held[i])
		}
	}

	for _, key := range ordered {
		acquired, err := locker.AcquireWithRetry(ctx, key, opts.TTL, opts.MaxRetries, opts.RetryDelay)
		if err != nil {
			release()
			return nil, fmt.Errorf("acquire %s: %w", key, err)
		}
		if !acquired {
			release()
			return nil, fmt.Errorf("%w: %s", repository.ErrLockNotAcquired, key)
		}
		held = append(held, key)
	}

	return release, nil
}

// =============================================================================
// Common Lock Keys
// =============================================================================

// Keys provides lock key generation for common scenarios.
var Keys = lockKeys{}

type lockKeys struct{}

// User guards a read-modify-write of one user record, balance included.
func (lockKeys) User(userID string) string {
	return "lock:user:" + userID
}

// Artwork guards a read-modify-write of one artwork record.
func (lockKeys) Artwork(artworkID string) string {
	return "lock:artwork:" + artworkID
}

// Username reserves a username, ignoring case, while it is checked and claimed.
func (lockKeys) Username(username string) string {
	return "lock:username:" + strings.ToLower(username)
}

// Email reserves an email address, ignoring case, while it is checked and claimed.
func (lockKeys) Email(email string) string {
	return "lock:email:" + strings.ToLower(email)
}

// MaintenanceSweep serializes integrity sweeps across instances.
func (lockKeys) MaintenanceSweep() string {
	return "lock:maintenance:sweep"
}
