package gateway

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/prn-tf/artshare/internal/domain"
	"github.com/prn-tf/artshare/internal/repository"
)

// Reconcile raises every id counter to at least the highest id found in the
// store, so ids lost by a failed counter write are never handed out twice.
// It returns the counters that moved.
func (g *Gateway) Reconcile(ctx context.Context) (map[string]int64, error) {
	if err := g.ready(); err != nil {
		return nil, err
	}

	raised := make(map[string]int64)
	for _, typeName := range domain.EntityTypes() {
		recs, err := g.store.LoadAll(ctx, typeName)
		if err != nil {
			g.metrics.RecordStoreError("reconcile")
			return raised, persistenceError("reconcile", typeName, "", err)
		}

		var highest int64
		for _, rec := range recs {
			n, err := strconv.ParseInt(recordID(rec), 10, 64)
			if err == nil && n > highest {
				highest = n
			}
		}
		if g.ids.Observe(ctx, typeName, highest) {
			raised[typeName] = highest
		}
	}

	g.logger.Info().Int("raised", len(raised)).Msg("id counters reconciled")
	return raised, nil
}

// Duplicates groups the store keys of typeName that resolve to the same id.
// Only ids stored under more than one key are returned.
func (g *Gateway) Duplicates(ctx context.Context, typeName string) (map[string][]string, error) {
	if err := g.ready(); err != nil {
		return nil, err
	}

	recs, err := g.store.LoadAll(ctx, typeName)
	if err != nil {
		g.metrics.RecordStoreError("duplicates")
		return nil, persistenceError("duplicates", typeName, "", err)
	}

	groups := make(map[string][]string)
	for _, rec := range recs {
		if id := recordID(rec); id != "" {
			groups[id] = append(groups[id], rec.Key)
		}
	}
	for id, keys := range groups {
		if len(keys) < 2 {
			delete(groups, id)
		}
	}
	return groups, nil
}

// PurgeKey removes one raw store record and evicts its id from both cache
// tiers. It is meant for repairing duplicates.
func (g *Gateway) PurgeKey(ctx context.Context, typeName, key string) error {
	if err := g.ready(); err != nil {
		return err
	}

	if err := g.store.Delete(ctx, typeName, key); err != nil && !errors.Is(err, repository.ErrNotFound) {
		g.metrics.RecordStoreError("purge")
		return persistenceError("purge", typeName, key, err)
	}

	if id := domain.NormalizeID(key); id != "" {
		g.localDelete(typeName, id)
		g.cacheDelete(ctx, typeName, id)
	}
	return nil
}

// Purge deletes every stored entity of every type, clears both cache tiers
// and resets the id counters. It returns the number of records removed.
func (g *Gateway) Purge(ctx context.Context) (int, error) {
	if err := g.ready(); err != nil {
		return 0, err
	}

	removed := 0
	for _, typeName := range domain.EntityTypes() {
		recs, err := g.store.LoadAll(ctx, typeName)
		if err != nil {
			g.metrics.RecordStoreError("purge")
			return removed, persistenceError("purge", typeName, "", err)
		}

		for _, rec := range recs {
			if err := g.store.Delete(ctx, typeName, rec.Key); err != nil && !errors.Is(err, repository.ErrNotFound) {
				g.metrics.RecordStoreError("purge")
				return removed, persistenceError("purge", typeName, rec.Key, err)
			}
			if id := recordID(rec); id != "" {
				g.cacheDelete(ctx, typeName, id)
			}
			removed++
		}
	}

	g.localReset()
	if err := g.ids.Reset(ctx, domain.EntityTypes()...); err != nil {
		g.logger.Warn().Err(err).Msg("failed to reset id counters")
	}

	g.logger.Warn().Int("records", removed).Msg("purged all entities")
	return removed, nil
}

// UpgradeAll rewrites every record that needs a schema upgrade, and moves
// records stored under legacy keys to their qualified key unless that key is
// already taken. It returns the number of records rewritten.
func (g *Gateway) UpgradeAll(ctx context.Context) (int, error) {
	if err := g.ready(); err != nil {
		return 0, err
	}

	rewritten := 0
	for _, typeName := range domain.EntityTypes() {
		recs, err := g.store.LoadAll(ctx, typeName)
		if err != nil {
			g.metrics.RecordStoreError("upgrade")
			return rewritten, persistenceError("upgrade", typeName, "", err)
		}

		taken := make(map[string]bool, len(recs))
		for _, rec := range recs {
			taken[rec.Key] = true
		}

		for _, rec := range recs {
			e, upgraded, err := decode(typeName, rec.Data, recordID(rec))
			if err != nil {
				g.logger.Warn().Err(err).Str("key", rec.Key).Msg("skipping unreadable record")
				continue
			}

			key := domain.IdentityOf(e).String()
			move := rec.Key != key && !taken[key]
			if !upgraded && !move {
				continue
			}

			if move {
				if err := g.rekey(ctx, rec.Key, key, e); err != nil {
					return rewritten, err
				}
				taken[key] = true
			} else {
				g.writeBack(ctx, rec.Key, e)
			}
			rewritten++
		}
	}

	g.logger.Info().Int("records", rewritten).Msg("entity upgrade finished")
	return rewritten, nil
}

// rekey stores e under newKey and then removes oldKey.
func (g *Gateway) rekey(ctx context.Context, oldKey, newKey string, e domain.Entity) error {
	typeName := e.EntityType()
	if _, err := g.Save(ctx, e); err != nil {
		return fmt.Errorf("move %s to %s: %w", oldKey, newKey, err)
	}
	if err := g.store.Delete(ctx, typeName, oldKey); err != nil && !errors.Is(err, repository.ErrNotFound) {
		g.metrics.RecordStoreError("upgrade")
		return persistenceError("upgrade", typeName, oldKey, err)
	}
	g.logger.Info().Str("from", oldKey).Str("to", newKey).Msg("moved record to qualified key")
	return nil
}
