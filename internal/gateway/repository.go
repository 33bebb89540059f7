package gateway

import (
	"context"
	"fmt"

	"github.com/prn-tf/artshare/internal/domain"
)

// Repository is a typed view of the gateway for one entity type.
type Repository[T domain.Entity] struct {
	g        *Gateway
	typeName string
}

// For returns the typed view of g for T.
func For[T domain.Entity](g *Gateway) *Repository[T] {
	var zero T
	return &Repository[T]{g: g, typeName: zero.EntityType()}
}

// TypeName returns the entity type name of T.
func (r *Repository[T]) TypeName() string { return r.typeName }

func cast[T domain.Entity](e domain.Entity) (T, error) {
	t, ok := e.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("unexpected entity %T for %T", e, zero)
	}
	return t, nil
}

// FindByID returns the entity with the given id.
func (r *Repository[T]) FindByID(ctx context.Context, id string) (T, bool, error) {
	var zero T
	e, found, err := r.g.FindByID(ctx, r.typeName, id)
	if err != nil || !found {
		return zero, false, err
	}
	t, err := cast[T](e)
	return t, err == nil, err
}

// Load scans the store for the entity with the given id.
func (r *Repository[T]) Load(ctx context.Context, id string) (T, bool, error) {
	var zero T
	e, found, err := r.g.Load(ctx, r.typeName, id)
	if err != nil || !found {
		return zero, false, err
	}
	t, err := cast[T](e)
	return t, err == nil, err
}

// Refresh re-reads the entity from the store and updates the cache tiers.
func (r *Repository[T]) Refresh(ctx context.Context, id string) (T, bool, error) {
	var zero T
	e, found, err := r.g.Refresh(ctx, r.typeName, id)
	if err != nil || !found {
		return zero, false, err
	}
	t, err := cast[T](e)
	return t, err == nil, err
}

// FindAll returns every entity accepted by pred; nil accepts all.
func (r *Repository[T]) FindAll(ctx context.Context, pred func(T) bool) ([]T, error) {
	found, err := r.g.FindAll(ctx, r.typeName, r.predicate(pred))
	if err != nil {
		return nil, err
	}
	return castAll[T](found)
}

// FindFirst returns the first entity accepted by pred.
func (r *Repository[T]) FindFirst(ctx context.Context, pred func(T) bool) (T, bool, error) {
	var zero T
	e, found, err := r.g.FindFirst(ctx, r.typeName, r.predicate(pred))
	if err != nil || !found {
		return zero, false, err
	}
	t, err := cast[T](e)
	return t, err == nil, err
}

// FindManyByIDs returns the entities that exist among ids, in input order.
func (r *Repository[T]) FindManyByIDs(ctx context.Context, ids []string) ([]T, error) {
	found, err := r.g.FindManyByIDs(ctx, r.typeName, ids)
	if err != nil {
		return nil, err
	}
	return castAll[T](found)
}

// Save persists e.
func (r *Repository[T]) Save(ctx context.Context, e T) (T, error) {
	var zero T
	saved, err := r.g.Save(ctx, e)
	if err != nil {
		return zero, err
	}
	return cast[T](saved)
}

// Update persists e and reports success.
func (r *Repository[T]) Update(ctx context.Context, e T) bool {
	return r.g.Update(ctx, e)
}

// Delete removes e.
func (r *Repository[T]) Delete(ctx context.Context, e T) (bool, error) {
	return r.g.Delete(ctx, e)
}

// ForceDelete removes e and confirms it is gone.
func (r *Repository[T]) ForceDelete(ctx context.Context, e T) bool {
	return r.g.ForceDelete(ctx, e)
}

func (r *Repository[T]) predicate(pred func(T) bool) Predicate {
	if pred == nil {
		return nil
	}
	return func(e domain.Entity) bool {
		t, ok := e.(T)
		return ok && pred(t)
	}
}

func castAll[T domain.Entity](in []domain.Entity) ([]T, error) {
	out := make([]T, 0, len(in))
	for _, e := range in {
		t, err := cast[T](e)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}
