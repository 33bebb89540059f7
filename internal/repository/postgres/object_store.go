package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"

	"github.com/prn-tf/artshare/internal/repository"
)

// ObjectStore implements repository.ObjectStore on a JSONB document table.
type ObjectStore struct {
	db     *DB
	logger zerolog.Logger
}

// NewObjectStore creates a new PostgreSQL object store.
func NewObjectStore(db *DB, logger zerolog.Logger) *ObjectStore {
	return &ObjectStore{
		db:     db,
		logger: logger.With().Str("store", "postgres").Logger(),
	}
}

// Save inserts or replaces a record. Replacing keeps the original seq.
func (s *ObjectStore) Save(ctx context.Context, rec repository.Record) error {
	updatedAt := rec.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO objects (type_name, object_key, body, updated_at)
		VALUES ($1, $2, $3::jsonb, $4)
		ON CONFLICT (type_name, object_key) DO UPDATE SET
			body = EXCLUDED.body,
			updated_at = EXCLUDED.updated_at
	`

	_, err := s.db.Pool.Exec(ctx, query, rec.Type, rec.Key, string(rec.Data), updatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "22P02" {
			return fmt.Errorf("failed to save %s %s: body is not valid JSON: %w", rec.Type, rec.Key, err)
		}
		return fmt.Errorf("failed to save %s %s: %w", rec.Type, rec.Key, err)
	}

	return nil
}

// Delete removes a record. Returns repository.ErrNotFound if it is absent.
func (s *ObjectStore) Delete(ctx context.Context, typeName, key string) error {
	tag, err := s.db.Pool.Exec(ctx,
		`DELETE FROM objects WHERE type_name = $1 AND object_key = $2`,
		typeName, key,
	)
	if err != nil {
		return fmt.Errorf("failed to delete %s %s: %w", typeName, key, err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// LoadAll returns every record of a type in insertion order.
func (s *ObjectStore) LoadAll(ctx context.Context, typeName string) ([]repository.Record, error) {
	rows, err := s.db.Pool.Query(ctx, `
		SELECT object_key, body::text, updated_at
		FROM objects
		WHERE type_name = $1
		ORDER BY seq
	`, typeName)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s records: %w", typeName, err)
	}

	recs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (repository.Record, error) {
		var (
			rec  repository.Record
			body string
		)
		if err := row.Scan(&rec.Key, &body, &rec.UpdatedAt); err != nil {
			return repository.Record{}, err
		}
		rec.Type = typeName
		rec.Data = []byte(body)
		return rec, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s records: %w", typeName, err)
	}

	return recs, nil
}

// Filter returns the records of a type accepted by match.
func (s *ObjectStore) Filter(ctx context.Context, typeName string, match func(repository.Record) bool) ([]repository.Record, error) {
	recs, err := s.LoadAll(ctx, typeName)
	if err != nil {
		return nil, err
	}
	return repository.FilterRecords(recs, match), nil
}

// Ping checks the database connection.
func (s *ObjectStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close closes the connection pool.
func (s *ObjectStore) Close() error {
	return s.db.Close()
}

// Ensure ObjectStore implements repository.ObjectStore.
var _ repository.ObjectStore = (*ObjectStore)(nil)
