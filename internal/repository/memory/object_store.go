// Package memory provides an in-process ObjectStore.
// It keeps insertion order per type and is meant for development and tests;
// nothing survives a restart.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/prn-tf/artshare/internal/repository"
)

// ObjectStore implements repository.ObjectStore on top of plain maps.
type ObjectStore struct {
	mu     sync.RWMutex
	types  map[string]*table
	closed bool
}

// table keeps records of one type plus their insertion order.
type table struct {
	records map[string]repository.Record
	order   []string
}

// NewObjectStore creates an empty store.
func NewObjectStore() *ObjectStore {
	return &ObjectStore{types: make(map[string]*table)}
}

func (s *ObjectStore) withWrite(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return repository.ErrStoreClosed
	}
	return fn()
}

func (s *ObjectStore) withRead(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return repository.ErrStoreClosed
	}
	return fn()
}

// Save inserts or replaces a record. Replacing keeps the original position.
func (s *ObjectStore) Save(ctx context.Context, rec repository.Record) error {
	return s.withWrite(ctx, func() error {
		t, ok := s.types[rec.Type]
		if !ok {
			t = &table{records: make(map[string]repository.Record)}
			s.types[rec.Type] = t
		}
		if _, exists := t.records[rec.Key]; !exists {
			t.order = append(t.order, rec.Key)
		}
		if rec.UpdatedAt.IsZero() {
			rec.UpdatedAt = time.Now().UTC()
		}
		rec.Data = append([]byte(nil), rec.Data...)
		t.records[rec.Key] = rec
		return nil
	})
}

// Delete removes a record.
func (s *ObjectStore) Delete(ctx context.Context, typeName, key string) error {
	return s.withWrite(ctx, func() error {
		t, ok := s.types[typeName]
		if !ok {
			return repository.ErrNotFound
		}
		if _, exists := t.records[key]; !exists {
			return repository.ErrNotFound
		}
		delete(t.records, key)
		for i, k := range t.order {
			if k == key {
				t.order = append(t.order[:i], t.order[i+1:]...)
				break
			}
		}
		return nil
	})
}

// LoadAll returns all records of a type in insertion order.
func (s *ObjectStore) LoadAll(ctx context.Context, typeName string) ([]repository.Record, error) {
	var out []repository.Record
	err := s.withRead(ctx, func() error {
		t, ok := s.types[typeName]
		if !ok {
			return nil
		}
		out = make([]repository.Record, 0, len(t.order))
		for _, key := range t.order {
			rec := t.records[key]
			rec.Data = append([]byte(nil), rec.Data...)
			out = append(out, rec)
		}
		return nil
	})
	return out, err
}

// Filter returns the records accepted by match.
func (s *ObjectStore) Filter(ctx context.Context, typeName string, match func(repository.Record) bool) ([]repository.Record, error) {
	recs, err := s.LoadAll(ctx, typeName)
	if err != nil {
		return nil, err
	}
	return repository.FilterRecords(recs, match), nil
}

// Ping reports whether the store is open.
func (s *ObjectStore) Ping(ctx context.Context) error {
	return s.withRead(ctx, func() error { return nil })
}

// Close drops all records. Later calls fail.
func (s *ObjectStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.types = nil
	return nil
}

// Ensure ObjectStore implements repository.ObjectStore.
var _ repository.ObjectStore = (*ObjectStore)(nil)
