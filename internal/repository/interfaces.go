// Package repository defines the data access contracts of ArtShare.
// The gateway depends only on these interfaces, so persistent stores (SQLite,
// PostgreSQL, in-memory) and caches (Redis, in-memory) can be swapped freely.
package repository

import (
	"context"
	"time"
)

// =============================================================================
// Object Store
// =============================================================================

// Record is one whole persisted document.
type Record struct {
	// Type is the entity type name.
	Type string

	// Key is the record key within Type, normally the qualified id ("user@3").
	// Older records may carry a bare or differently qualified key.
	Key string

	// Data is the serialized entity.
	Data []byte

	// UpdatedAt is the time of the last write.
	UpdatedAt time.Time
}

// ObjectStore is the persistent, schema-less object store behind the gateway.
// It works at whole-record granularity; there are no partial updates.
type ObjectStore interface {
	// Save inserts or replaces a record.
	Save(ctx context.Context, rec Record) error

	// Delete removes the record stored under key.
	// Returns ErrNotFound if no such record exists.
	Delete(ctx context.Context, typeName, key string) error

	// LoadAll returns every record of typeName in store iteration order.
	LoadAll(ctx context.Context, typeName string) ([]Record, error)

	// Filter returns the records of typeName accepted by match, in store order.
	Filter(ctx context.Context, typeName string, match func(Record) bool) ([]Record, error)

	// Ping checks that the store is reachable.
	Ping(ctx context.Context) error

	// Close releases the store's resources.
	Close() error
}

// FilterRecords applies match to recs. Stores that cannot push predicates down
// use it to implement Filter on top of LoadAll.
func FilterRecords(recs []Record, match func(Record) bool) []Record {
	if match == nil {
		return recs
	}
	out := make([]Record, 0, len(recs))
	for _, rec := range recs {
		if match(rec) {
			out = append(out, rec)
		}
	}
	return out
}
