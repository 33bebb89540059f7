package lock

import (
	"context"
	"time"
)

// NoOpLocker grants every request. It is used when a single process owns the
// store and callers serialize on their own, and in tests.
type NoOpLocker struct{}

// NewNoOpLocker creates a new no-op locker.
func NewNoOpLocker() *NoOpLocker {
	return &NoOpLocker{}
}

// Acquire reports success unless ctx is done.
func (NoOpLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return ctx.Err() == nil, ctx.Err()
}

// AcquireWithRetry reports success unless ctx is done.
func (n NoOpLocker) AcquireWithRetry(ctx context.Context, key string, ttl time.Duration, maxRetries int, retryDelay time.Duration) (bool, error) {
	return n.Acquire(ctx, key, ttl)
}

// Release reports success unless ctx is done.
func (NoOpLocker) Release(ctx context.Context, key string) (bool, error) {
	return ctx.Err() == nil, ctx.Err()
}

// Extend reports success unless ctx is done.
func (NoOpLocker) Extend(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return ctx.Err() == nil, ctx.Err()
}

// IsHeld is always false; nothing is ever tracked.
func (NoOpLocker) IsHeld(ctx context.Context, key string) (bool, error) {
	return false, ctx.Err()
}

// Ensure NoOpLocker implements Locker.
var _ Locker = (*NoOpLocker)(nil)
