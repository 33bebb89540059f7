package gateway

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/prn-tf/artshare/internal/domain"
	"github.com/prn-tf/artshare/internal/metrics"
	"github.com/prn-tf/artshare/internal/repository"
)

// Predicate selects entities in FindAll and FindFirst. A nil Predicate
// accepts everything.
type Predicate func(domain.Entity) bool

func (p Predicate) accepts(e domain.Entity) bool {
	return p == nil || p(e)
}

// Load scans the store for the entity of typeName whose normalized id matches.
// It bypasses both cache tiers. An empty or unparseable id is reported as absent.
func (g *Gateway) Load(ctx context.Context, typeName, rawID string) (domain.Entity, bool, error) {
	if err := g.ready(); err != nil {
		return nil, false, err
	}
	id := domain.NormalizeID(rawID)
	if id == "" {
		return nil, false, nil
	}

	recs, err := g.store.Filter(ctx, typeName, matchID(id))
	if err != nil {
		g.metrics.RecordStoreError("load")
		return nil, false, persistenceError("load", typeName, id, err)
	}

	for _, rec := range canonical(typeName, recs) {
		e, upgraded, err := decode(typeName, rec.Data, id)
		if err != nil {
			g.logger.Warn().Err(err).Str("key", rec.Key).Msg("skipping unreadable record")
			continue
		}
		if upgraded {
			g.writeBack(ctx, rec.Key, e)
		}
		return e, true, nil
	}
	return nil, false, nil
}

// FindByID returns the entity of typeName with the given id, consulting the
// in-process map, the cache and the store in that order. A store hit is
// copied into both cache tiers. Cache failures fall through to the store.
func (g *Gateway) FindByID(ctx context.Context, typeName, rawID string) (domain.Entity, bool, error) {
	if err := g.ready(); err != nil {
		return nil, false, err
	}
	id := domain.NormalizeID(rawID)
	if id == "" {
		return nil, false, nil
	}

	if data, ok := g.localGet(typeName, id); ok {
		if e, _, err := decode(typeName, data, id); err == nil {
			g.metrics.RecordLookup(metrics.TierLocal, metrics.ResultHit)
			return e, true, nil
		}
		g.localDelete(typeName, id)
	}
	g.metrics.RecordLookup(metrics.TierLocal, metrics.ResultMiss)

	if data, ok := g.cacheGet(ctx, typeName, id); ok {
		e, _, err := decode(typeName, data, id)
		if err == nil {
			g.metrics.RecordLookup(metrics.TierExternal, metrics.ResultHit)
			g.localSet(typeName, id, data)
			return e, true, nil
		}
		g.metrics.RecordLookup(metrics.TierExternal, metrics.ResultCorrupt)
		g.logger.Warn().Err(err).Str("type", typeName).Str("id", id).Msg("dropping corrupt cache entry")
		g.cacheDelete(ctx, typeName, id)
	}

	e, found, err := g.Load(ctx, typeName, id)
	if err != nil {
		return nil, false, err
	}
	if !found {
		g.metrics.RecordLookup(metrics.TierStore, metrics.ResultMiss)
		return nil, false, nil
	}
	g.metrics.RecordLookup(metrics.TierStore, metrics.ResultHit)

	if data, err := json.Marshal(e); err == nil {
		g.cacheSet(ctx, typeName, id, data)
		g.localSet(typeName, id, data)
	}
	return e, true, nil
}

// Refresh reads the entity of typeName from the store and replaces both cache
// tiers with it, or evicts them when the store no longer holds it. Callers use
// it to re-read records under a lock, since another process sharing the store
// may have written them since this process cached them.
func (g *Gateway) Refresh(ctx context.Context, typeName, rawID string) (domain.Entity, bool, error) {
	e, found, err := g.Load(ctx, typeName, rawID)
	if err != nil {
		return nil, false, err
	}
	id := domain.NormalizeID(rawID)
	if !found {
		if id != "" {
			g.localDelete(typeName, id)
			g.cacheDelete(ctx, typeName, id)
		}
		return nil, false, nil
	}

	if data, err := json.Marshal(e); err == nil {
		g.cacheSet(ctx, typeName, id, data)
		g.localSet(typeName, id, data)
	}
	return e, true, nil
}

// FindAll returns every stored entity of typeName accepted by pred, in store
// order. Users are repaired, and users without a username or password hash
// are dropped. Records needing a schema upgrade are written back.
func (g *Gateway) FindAll(ctx context.Context, typeName string, pred Predicate) ([]domain.Entity, error) {
	var out []domain.Entity
	err := g.scan(ctx, typeName, func(e domain.Entity) bool {
		if pred.accepts(e) {
			out = append(out, e)
		}
		return true
	})
	if out == nil {
		out = []domain.Entity{}
	}
	return out, err
}

// FindFirst returns the first entity of typeName accepted by pred.
// Entities already in the in-process map are checked first, lowest id first;
// otherwise the store is scanned and the match is cached.
func (g *Gateway) FindFirst(ctx context.Context, typeName string, pred Predicate) (domain.Entity, bool, error) {
	if err := g.ready(); err != nil {
		return nil, false, err
	}

	snapshot := g.localSnapshot(typeName)
	ids := make([]string, 0, len(snapshot))
	for id := range snapshot {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return domain.CompareIDs(ids[i], ids[j]) < 0 })

	for _, id := range ids {
		e, _, err := decode(typeName, snapshot[id], id)
		if err != nil {
			continue
		}
		if u, ok := e.(*domain.User); ok && !u.IsValid() {
			continue
		}
		if pred.accepts(e) {
			g.metrics.RecordLookup(metrics.TierLocal, metrics.ResultHit)
			return e, true, nil
		}
	}

	var match domain.Entity
	err := g.scan(ctx, typeName, func(e domain.Entity) bool {
		if pred.accepts(e) {
			match = e
			return false
		}
		return true
	})
	if err != nil || match == nil {
		return nil, false, err
	}

	if data, err := json.Marshal(match); err == nil {
		g.localSet(typeName, match.EntityID(), data)
	}
	return match, true, nil
}

// FindManyByIDs looks up every id with FindByID, dropping absent ones and
// keeping the input order.
func (g *Gateway) FindManyByIDs(ctx context.Context, typeName string, ids []string) ([]domain.Entity, error) {
	if err := g.ready(); err != nil {
		return nil, err
	}

	out := make([]domain.Entity, 0, len(ids))
	for _, id := range ids {
		e, found, err := g.FindByID(ctx, typeName, id)
		if err != nil {
			return nil, err
		}
		if found {
			out = append(out, e)
		}
	}
	return out, nil
}

// scan decodes every stored entity of typeName and hands it to visit until
// visit returns false.
func (g *Gateway) scan(ctx context.Context, typeName string, visit func(domain.Entity) bool) error {
	if err := g.ready(); err != nil {
		return err
	}

	recs, err := g.store.LoadAll(ctx, typeName)
	if err != nil {
		g.metrics.RecordStoreError("scan")
		return persistenceError("scan", typeName, "", err)
	}

	for _, rec := range canonical(typeName, recs) {
		e, ok := g.hydrate(ctx, typeName, rec)
		if !ok {
			continue
		}
		if !visit(e) {
			return nil
		}
	}
	return nil
}

// hydrate decodes rec, repairs users and writes back upgraded records.
// It returns false for records that should be skipped.
func (g *Gateway) hydrate(ctx context.Context, typeName string, rec repository.Record) (domain.Entity, bool) {
	e, upgraded, err := decode(typeName, rec.Data, recordID(rec))
	if err != nil {
		g.logger.Warn().Err(err).Str("key", rec.Key).Msg("skipping unreadable record")
		return nil, false
	}

	if u, ok := e.(*domain.User); ok {
		u.EnsureAttributes()
		if !u.IsValid() {
			g.logger.Debug().Str("key", rec.Key).Msg("skipping user without username or password")
			return nil, false
		}
	}

	if upgraded {
		g.writeBack(ctx, rec.Key, e)
	}
	return e, true
}
