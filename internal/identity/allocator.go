// Package identity allocates per-type numeric entity ids.
//
// Each type has a shared counter in the external cache, advanced with an atomic
// increment, so processes sharing a cache never hand out the same id. The
// process also keeps its own table, written to the cache after every
// allocation, which is the floor for the shared counters. When the cache is
// unreachable the local table alone allocates; the gateway's Reconcile
// raises counters to the highest persisted id afterwards.
package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/prn-tf/artshare/internal/metrics"
	"github.com/prn-tf/artshare/internal/repository"
)

// ErrEmptyType is returned when an id is requested without a type name.
var ErrEmptyType = errors.New("identity: empty type name")

// Allocator hands out strictly increasing ids per type name.
// Allocation and persistence run under one mutex, so concurrent callers in a
// process never receive the same id; across processes the shared counter
// keeps ids unique.
type Allocator struct {
	cache   repository.Cache
	metrics *metrics.Metrics
	logger  zerolog.Logger

	mu       sync.Mutex
	counters map[string]int64
	loaded   bool
}

// NewAllocator creates an allocator backed by cache.
func NewAllocator(cache repository.Cache, m *metrics.Metrics, logger zerolog.Logger) *Allocator {
	return &Allocator{
		cache:    cache,
		metrics:  m,
		logger:   logger.With().Str("component", "identity").Logger(),
		counters: make(map[string]int64),
	}
}

// Load reads the counter table from the cache. It runs once; later calls are
// no-ops. A missing, unreadable or corrupt table leaves the counters empty.
func (a *Allocator) Load(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.loadLocked(ctx)
}

func (a *Allocator) loadLocked(ctx context.Context) {
	if a.loaded {
		return
	}
	a.loaded = true

	key := repository.CacheKeys.IDCounters()
	raw, err := a.cache.Get(ctx, key)
	switch {
	case errors.Is(err, repository.ErrCacheMiss):
		a.logger.Info().Msg("no id counters found, starting empty")
		return
	case err != nil:
		a.logger.Warn().Err(err).Msg("failed to load id counters, starting empty")
		return
	}

	var stored map[string]int64
	if err := json.Unmarshal(raw, &stored); err != nil {
		a.logger.Warn().Err(err).Msg("corrupt id counter table, starting empty")
		return
	}

	for typeName, n := range stored {
		if n > a.counters[typeName] {
			a.counters[typeName] = n
		}
	}

	a.logger.Info().Int("types", len(a.counters)).Msg("loaded id counters")
}

// Next returns the next id for typeName.
// Only an empty type name or a cancelled context fail; a failed counter write
// is logged and counted.
func (a *Allocator) Next(ctx context.Context, typeName string) (int64, error) {
	if typeName == "" {
		return 0, ErrEmptyType
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.loadLocked(ctx)

	n := a.incrementLocked(ctx, typeName)
	a.counters[typeName] = n

	a.persistLocked(ctx)
	a.metrics.RecordAllocation(typeName)

	a.logger.Debug().Str("type", typeName).Int64("id", n).Msg("allocated id")
	return n, nil
}

// Observe raises the counter of typeName to at least n.
// It returns true if the counter moved.
func (a *Allocator) Observe(ctx context.Context, typeName string, n int64) bool {
	if typeName == "" {
		return false
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.loadLocked(ctx)

	if n <= a.counters[typeName] {
		return false
	}

	a.logger.Warn().
		Str("type", typeName).
		Int64("from", a.counters[typeName]).
		Int64("to", n).
		Msg("raising id counter to persisted maximum")

	a.counters[typeName] = n
	a.raiseShared(ctx, typeName, n)
	a.persistLocked(ctx)
	return true
}

// incrementLocked advances the shared counter of typeName past the local one
// and returns the new id. Callers hold a.mu.
func (a *Allocator) incrementLocked(ctx context.Context, typeName string) int64 {
	floor := a.counters[typeName]
	key := repository.CacheKeys.IDCounter(typeName)

	n, err := a.cache.Increment(ctx, key, 1)
	if err == nil && n <= floor {
		// The shared counter is behind this process, e.g. after a cache flush.
		n, err = a.cache.Increment(ctx, key, floor-n+1)
	}
	if err != nil {
		a.metrics.RecordPersistFailure()
		a.logger.Warn().Err(err).Str("type", typeName).Msg("shared id counter unavailable, allocating locally")
		return floor + 1
	}
	return n
}

// raiseShared moves the shared counter of typeName up to at least n.
func (a *Allocator) raiseShared(ctx context.Context, typeName string, n int64) {
	key := repository.CacheKeys.IDCounter(typeName)
	cur, err := a.cache.Increment(ctx, key, 0)
	if err == nil && cur < n {
		_, err = a.cache.Increment(ctx, key, n-cur)
	}
	if err != nil {
		a.metrics.RecordPersistFailure()
		a.logger.Warn().Err(err).Str("type", typeName).Msg("failed to raise shared id counter")
	}
}

// Snapshot returns a copy of the counter table.
func (a *Allocator) Snapshot() map[string]int64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make(map[string]int64, len(a.counters))
	for k, v := range a.counters {
		out[k] = v
	}
	return out
}

// Reset clears every counter and removes the persisted table together with
// the shared counters of typeNames and of every type this process allocated.
func (a *Allocator) Reset(ctx context.Context, typeNames ...string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	keys := []string{repository.CacheKeys.IDCounters()}
	seen := make(map[string]bool)
	for _, typeName := range typeNames {
		seen[typeName] = true
		keys = append(keys, repository.CacheKeys.IDCounter(typeName))
	}
	for typeName := range a.counters {
		if !seen[typeName] {
			keys = append(keys, repository.CacheKeys.IDCounter(typeName))
		}
	}

	a.counters = make(map[string]int64)
	a.loaded = true

	if err := a.cache.DeleteMulti(ctx, keys...); err != nil {
		return fmt.Errorf("failed to delete id counters: %w", err)
	}
	a.logger.Info().Msg("id counters reset")
	return nil
}

// persistLocked merges the counter table with the stored one and writes it.
// Callers hold a.mu.
func (a *Allocator) persistLocked(ctx context.Context) {
	table := make(map[string]int64, len(a.counters))
	if raw, err := a.cache.Get(ctx, repository.CacheKeys.IDCounters()); err == nil {
		_ = json.Unmarshal(raw, &table)
	}
	for typeName, n := range a.counters {
		if n > table[typeName] {
			table[typeName] = n
		}
	}

	raw, err := json.Marshal(table)
	if err != nil {
		a.metrics.RecordPersistFailure()
		a.logger.Error().Err(err).Msg("failed to encode id counters")
		return
	}

	if err := a.cache.Set(ctx, repository.CacheKeys.IDCounters(), raw, 0); err != nil {
		a.metrics.RecordPersistFailure()
		a.logger.Error().Err(err).Msg("failed to persist id counters")
	}
}
