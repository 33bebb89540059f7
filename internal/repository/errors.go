package repository

import "errors"

// Repository errors
var (
	// ErrNotFound indicates the requested record was not found.
	ErrNotFound = errors.New("not found")

	// ErrStoreClosed indicates the store was used after Close.
	ErrStoreClosed = errors.New("store closed")
)

// Cache and lock errors
var (
	// ErrCacheMiss indicates the key was not found in cache.
	ErrCacheMiss = errors.New("cache miss")

	// ErrCacheUnavailable indicates the cache is unavailable.
	ErrCacheUnavailable = errors.New("cache unavailable")

	// ErrLockNotAcquired indicates the lock could not be acquired.
	ErrLockNotAcquired = errors.New("lock not acquired")
)
