// Package gateway is the single entry point for persisting and retrieving
// domain entities.
//
// Reads consult an in-process map, then the external cache, then the object
// store, backfilling the faster tiers on the way out. Writes go to the store
// first, then the cache, then the map. The store is the source of truth; cache
// failures are logged and never fail an operation.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/prn-tf/artshare/internal/domain"
	"github.com/prn-tf/artshare/internal/identity"
	"github.com/prn-tf/artshare/internal/metrics"
	"github.com/prn-tf/artshare/internal/repository"
)

// Options configures a Gateway.
type Options struct {
	Store     repository.ObjectStore
	Cache     repository.Cache
	Allocator *identity.Allocator
	Metrics   *metrics.Metrics
	Logger    zerolog.Logger

	// ObjectTTL bounds cached entities. Zero keeps them until overwritten.
	ObjectTTL time.Duration
}

// Gateway persists entities. One instance is shared by the whole process.
type Gateway struct {
	store   repository.ObjectStore
	cache   repository.Cache
	ids     *identity.Allocator
	metrics *metrics.Metrics
	logger  zerolog.Logger
	ttl     time.Duration

	// local holds encoded snapshots so callers never share entity values.
	mu     sync.RWMutex
	local  map[string]map[string][]byte
	closed atomic.Bool
}

// New creates a gateway. Store, Cache and Allocator are required.
func New(opts Options) (*Gateway, error) {
	switch {
	case opts.Store == nil:
		return nil, fmt.Errorf("%w: object store is nil", ErrNotInitialized)
	case opts.Cache == nil:
		return nil, fmt.Errorf("%w: cache is nil", ErrNotInitialized)
	case opts.Allocator == nil:
		return nil, fmt.Errorf("%w: id allocator is nil", ErrNotInitialized)
	}

	return &Gateway{
		store:   opts.Store,
		cache:   opts.Cache,
		ids:     opts.Allocator,
		metrics: opts.Metrics,
		logger:  opts.Logger.With().Str("component", "gateway").Logger(),
		ttl:     opts.ObjectTTL,
		local:   make(map[string]map[string][]byte),
	}, nil
}

func (g *Gateway) ready() error {
	if g == nil || g.closed.Load() {
		return ErrNotInitialized
	}
	return nil
}

// Ready reports whether the gateway is open and its store reachable.
func (g *Gateway) Ready(ctx context.Context) error {
	if err := g.ready(); err != nil {
		return err
	}
	if err := g.store.Ping(ctx); err != nil {
		return persistenceError("ping", "", "", err)
	}
	return nil
}

// Close drops the in-process map. Later operations fail with ErrNotInitialized.
// The store and cache belong to the caller and stay open.
func (g *Gateway) Close() error {
	if g.closed.Swap(true) {
		return nil
	}
	g.mu.Lock()
	g.local = make(map[string]map[string][]byte)
	g.mu.Unlock()
	g.logger.Info().Msg("gateway closed")
	return nil
}

// =============================================================================
// Writes
// =============================================================================

// Save persists e, allocating an identity first if e has none.
// Saving an identified entity replaces it in place.
// The id is allocated before the store write, so a failed write burns it.
func (g *Gateway) Save(ctx context.Context, e domain.Entity) (domain.Entity, error) {
	if err := g.ready(); err != nil {
		return nil, err
	}
	if e == nil {
		return nil, domain.NewValidationError("entity", "is nil")
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}

	typeName := e.EntityType()
	assigned := domain.NormalizeID(e.EntityID()) != ""
	if !assigned {
		n, err := g.ids.Next(ctx, typeName)
		if err != nil {
			return nil, fmt.Errorf("allocate %s id: %w", typeName, err)
		}
		e.SetEntityID(strconv.FormatInt(n, 10))
	} else {
		e.SetEntityID(e.EntityID())
	}
	if v, ok := e.(domain.Versioned); ok {
		v.SetSchemaVersion(domain.CurrentSchemaVersion)
	}

	id := domain.IdentityOf(e)
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", id, err)
	}

	if err := g.store.Save(ctx, repository.Record{Type: typeName, Key: id.String(), Data: data}); err != nil {
		g.metrics.RecordStoreError("save")
		g.logger.Error().Err(err).Str("type", typeName).Str("id", id.Numeric).Msg("store rejected save")
		return nil, persistenceError("save", typeName, id.Numeric, err)
	}

	// A caller-chosen id must never be allocated later.
	if assigned {
		g.ids.Observe(ctx, typeName, id.Int64())
	}
	g.cacheSet(ctx, typeName, id.Numeric, data)
	g.localSet(typeName, id.Numeric, data)

	g.logger.Debug().Str("type", typeName).Str("id", id.Numeric).Msg("saved entity")
	return e, nil
}

// Update saves e and reports success instead of returning it.
func (g *Gateway) Update(ctx context.Context, e domain.Entity) bool {
	if _, err := g.Save(ctx, e); err != nil {
		g.logger.Warn().Err(err).Msg("update failed")
		return false
	}
	return true
}

// Delete removes e from the store, the in-process map and the cache.
// The three removals are independent. It returns true only if the store held
// the entity and removed it; a store failure is returned as a PersistenceError.
func (g *Gateway) Delete(ctx context.Context, e domain.Entity) (bool, error) {
	if err := g.ready(); err != nil {
		return false, err
	}
	if e == nil {
		return false, nil
	}

	typeName := e.EntityType()
	id := domain.NormalizeID(e.EntityID())
	if id == "" {
		return false, nil
	}

	removed, storeErr := g.storeDelete(ctx, typeName, id)
	g.localDelete(typeName, id)
	g.cacheDelete(ctx, typeName, id)

	if storeErr != nil {
		g.metrics.RecordStoreError("delete")
		g.logger.Error().Err(storeErr).Str("type", typeName).Str("id", id).Msg("store rejected delete")
		return false, persistenceError("delete", typeName, id, storeErr)
	}

	if removed {
		g.logger.Debug().Str("type", typeName).Str("id", id).Msg("deleted entity")
	}
	return removed, nil
}

// ForceDelete is the compensating delete used to undo a save. It clears both
// cache tiers, deletes from the store, and then confirms with FindByID that
// the entity is gone. Errors are logged and reported as false.
func (g *Gateway) ForceDelete(ctx context.Context, e domain.Entity) bool {
	if err := g.ready(); err != nil || e == nil {
		return false
	}

	id := domain.IdentityOf(e)
	if id.IsZero() {
		return false
	}
	log := g.logger.With().Str("type", id.TypeName).Str("id", id.Numeric).Logger()

	g.localDelete(id.TypeName, id.Numeric)
	g.cacheDelete(ctx, id.TypeName, id.Numeric)

	if _, err := g.storeDelete(ctx, id.TypeName, id.Numeric); err != nil {
		g.metrics.RecordStoreError("force_delete")
		log.Error().Err(err).Msg("force delete: store delete failed")
	}

	_, found, err := g.FindByID(ctx, id.TypeName, id.Numeric)
	if err != nil {
		log.Error().Err(err).Msg("force delete: verification failed")
		return false
	}
	if found {
		log.Error().Msg("force delete: entity still present")
		return false
	}

	log.Info().Msg("force deleted entity")
	return true
}

// storeDelete removes every record of typeName whose id is id, which covers
// records written under legacy keys. It reports whether anything was removed.
func (g *Gateway) storeDelete(ctx context.Context, typeName, id string) (bool, error) {
	recs, err := g.store.Filter(ctx, typeName, matchID(id))
	if err != nil {
		return false, err
	}

	removed := false
	var errs []error
	for _, rec := range recs {
		err := g.store.Delete(ctx, typeName, rec.Key)
		switch {
		case err == nil:
			removed = true
		case errors.Is(err, repository.ErrNotFound):
		default:
			errs = append(errs, err)
		}
	}
	return removed, errors.Join(errs...)
}

// =============================================================================
// Records
// =============================================================================

// recordID returns the bare id of a stored record. The key is used when it
// parses; otherwise the id field of the body.
func recordID(rec repository.Record) string {
	if id := domain.NormalizeID(rec.Key); id != "" {
		return id
	}
	var body struct {
		ID json.RawMessage `json:"id"`
	}
	if json.Unmarshal(rec.Data, &body) != nil || len(body.ID) == 0 {
		return ""
	}
	var s string
	if json.Unmarshal(body.ID, &s) == nil {
		return domain.NormalizeID(s)
	}
	var n int64
	if json.Unmarshal(body.ID, &n) == nil {
		return domain.NormalizeID(strconv.FormatInt(n, 10))
	}
	return ""
}

func matchID(id string) func(repository.Record) bool {
	return func(rec repository.Record) bool {
		return recordID(rec) == id
	}
}

// canonical keeps one record per id, preferring the record stored under the
// qualified key. Order of first appearance is kept.
func canonical(typeName string, recs []repository.Record) []repository.Record {
	index := make(map[string]int, len(recs))
	out := make([]repository.Record, 0, len(recs))
	for _, rec := range recs {
		id := recordID(rec)
		if id == "" {
			out = append(out, rec)
			continue
		}
		i, seen := index[id]
		if !seen {
			index[id] = len(out)
			out = append(out, rec)
			continue
		}
		if rec.Key == domain.Qualified(typeName, id).String() {
			out[i] = rec
		}
	}
	return out
}

// decode builds an entity from encoded data and upgrades it to the current
// schema. fallbackID is used when the body carries no id.
func decode(typeName string, data []byte, fallbackID string) (domain.Entity, bool, error) {
	e, err := domain.NewEntity(typeName)
	if err != nil {
		return nil, false, err
	}
	if err := json.Unmarshal(data, e); err != nil {
		return nil, false, fmt.Errorf("decode %s: %w", typeName, err)
	}

	if domain.NormalizeID(e.EntityID()) == "" {
		e.SetEntityID(fallbackID)
	} else {
		e.SetEntityID(e.EntityID())
	}
	if e.EntityID() == "" {
		return nil, false, fmt.Errorf("decode %s: record has no id", typeName)
	}

	upgraded := domain.Upgrade(e)
	return e, upgraded, nil
}

// writeBack stores an upgraded entity under its existing key. Failures are
// logged; the caller still gets the upgraded value.
func (g *Gateway) writeBack(ctx context.Context, key string, e domain.Entity) {
	data, err := json.Marshal(e)
	if err != nil {
		g.logger.Warn().Err(err).Str("key", key).Msg("failed to encode upgraded entity")
		return
	}
	if err := g.store.Save(ctx, repository.Record{Type: e.EntityType(), Key: key, Data: data}); err != nil {
		g.metrics.RecordStoreError("upgrade")
		g.logger.Warn().Err(err).Str("key", key).Msg("failed to write back upgraded entity")
		return
	}
	g.cacheSet(ctx, e.EntityType(), e.EntityID(), data)
	g.logger.Info().Str("type", e.EntityType()).Str("id", e.EntityID()).Msg("upgraded stored entity")
}

// =============================================================================
// Cache tiers
// =============================================================================

func (g *Gateway) localGet(typeName, id string) ([]byte, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	data, ok := g.local[typeName][id]
	return data, ok
}

func (g *Gateway) localSet(typeName, id string, data []byte) {
	g.mu.Lock()
	defer g.mu.Unlock()
	byID, ok := g.local[typeName]
	if !ok {
		byID = make(map[string][]byte)
		g.local[typeName] = byID
	}
	byID[id] = data
}

func (g *Gateway) localDelete(typeName, id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.local[typeName], id)
}

// localSnapshot copies the map entries of typeName.
func (g *Gateway) localSnapshot(typeName string) map[string][]byte {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make(map[string][]byte, len(g.local[typeName]))
	for id, data := range g.local[typeName] {
		out[id] = data
	}
	return out
}

func (g *Gateway) localReset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.local = make(map[string]map[string][]byte)
}

func (g *Gateway) cacheGet(ctx context.Context, typeName, id string) ([]byte, bool) {
	data, err := g.cache.Get(ctx, repository.CacheKeys.Object(typeName, id))
	switch {
	case err == nil:
		return data, true
	case errors.Is(err, repository.ErrCacheMiss):
		g.metrics.RecordLookup(metrics.TierExternal, metrics.ResultMiss)
	default:
		g.metrics.RecordLookup(metrics.TierExternal, metrics.ResultError)
		g.logger.Warn().Err(err).Str("type", typeName).Str("id", id).Msg("cache read failed")
	}
	return nil, false
}

func (g *Gateway) cacheSet(ctx context.Context, typeName, id string, data []byte) {
	if err := g.cache.Set(ctx, repository.CacheKeys.Object(typeName, id), data, g.ttl); err != nil {
		g.logger.Warn().Err(err).Str("type", typeName).Str("id", id).Msg("cache write failed")
	}
}

func (g *Gateway) cacheDelete(ctx context.Context, typeName, id string) {
	if err := g.cache.Delete(ctx, repository.CacheKeys.Object(typeName, id)); err != nil {
		g.logger.Warn().Err(err).Str("type", typeName).Str("id", id).Msg("cache delete failed")
	}
}
