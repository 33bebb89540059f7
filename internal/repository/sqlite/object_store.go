package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/prn-tf/artshare/internal/repository"
)

// ObjectStore implements repository.ObjectStore on the objects table.
type ObjectStore struct {
	db     *DB
	logger zerolog.Logger
}

// NewObjectStore creates a new SQLite object store.
func NewObjectStore(db *DB, logger zerolog.Logger) *ObjectStore {
	return &ObjectStore{
		db:     db,
		logger: logger.With().Str("store", "sqlite").Logger(),
	}
}

// Save inserts or replaces a record.
func (s *ObjectStore) Save(ctx context.Context, rec repository.Record) error {
	updatedAt := rec.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO objects (type_name, object_key, body, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (type_name, object_key) DO UPDATE SET
			body = excluded.body,
			updated_at = excluded.updated_at
	`

	_, err := s.db.db.ExecContext(ctx, query,
		rec.Type,
		rec.Key,
		rec.Data,
		updatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to save %s %s: %w", rec.Type, rec.Key, err)
	}

	return nil
}

// Delete removes a record. Returns repository.ErrNotFound if it is absent.
func (s *ObjectStore) Delete(ctx context.Context, typeName, key string) error {
	result, err := s.db.db.ExecContext(ctx,
		`DELETE FROM objects WHERE type_name = ? AND object_key = ?`,
		typeName, key,
	)
	if err != nil {
		return fmt.Errorf("failed to delete %s %s: %w", typeName, key, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return repository.ErrNotFound
	}

	return nil
}

// LoadAll returns every record of a type in insertion order.
func (s *ObjectStore) LoadAll(ctx context.Context, typeName string) ([]repository.Record, error) {
	rows, err := s.db.db.QueryContext(ctx, `
		SELECT object_key, body, updated_at
		FROM objects
		WHERE type_name = ?
		ORDER BY rowid
	`, typeName)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s records: %w", typeName, err)
	}
	defer rows.Close()

	var out []repository.Record
	for rows.Next() {
		rec, err := scanRecord(rows, typeName)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate %s records: %w", typeName, err)
	}

	return out, nil
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

// Close closes the underlying database.
func (s *ObjectStore) Close() error {
	return s.db.Close()
}

func scanRecord(rows *sql.Rows, typeName string) (repository.Record, error) {
	var (
		rec       repository.Record
		updatedAt string
	)

	if err := rows.Scan(&rec.Key, &rec.Data, &updatedAt); err != nil {
		return repository.Record{}, fmt.Errorf("failed to scan %s record: %w", typeName, err)
	}

	rec.Type = typeName
	if t, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
		rec.UpdatedAt = t
	}

	return rec, nil
}

// Ensure ObjectStore implements repository.ObjectStore.
var _ repository.ObjectStore = (*ObjectStore)(nil)
