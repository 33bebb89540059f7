package bootstrap

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/prn-tf/artshare/internal/config"
	"github.com/prn-tf/artshare/internal/repository"
	"github.com/prn-tf/artshare/internal/repository/memory"
	"github.com/prn-tf/artshare/internal/repository/postgres"
	"github.com/prn-tf/artshare/internal/repository/sqlite"
)

// Migrator applies the embedded schema of a SQL-backed store.
type Migrator interface {
	Migrate(ctx context.Context) error
	Version(ctx context.Context) (int, error)
}

// Store is an opened object store and, for SQL drivers, its migrator.
type Store struct {
	repository.ObjectStore

	// Driver is the configured driver name.
	Driver string

	// Migrator is nil for the memory driver.
	Migrator Migrator
}

// OpenStore connects the object store selected by cfg.Driver.
// Migrations are not applied; see Store.Migrate.
func OpenStore(ctx context.Context, cfg config.DatabaseConfig, logger zerolog.Logger) (*Store, error) {
	switch cfg.Driver {
	case "postgres":
		db, err := postgres.NewDB(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		return &Store{
			ObjectStore: postgres.NewObjectStore(db, logger),
			Driver:      cfg.Driver,
			Migrator:    db,
		}, nil

	case "sqlite":
		db, err := sqlite.NewDB(ctx, sqliteConfig(cfg), logger)
		if err != nil {
			return nil, err
		}
		return &Store{
			ObjectStore: sqlite.NewObjectStore(db, logger),
			Driver:      cfg.Driver,
			Migrator:    db,
		}, nil

	case "memory":
		logger.Warn().Msg("using the in-memory object store; data is lost on exit")
		return &Store{ObjectStore: memory.NewObjectStore(), Driver: cfg.Driver}, nil

	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// Migrate applies pending migrations. It is a no-op for the memory driver.
func (s *Store) Migrate(ctx context.Context) error {
	if s.Migrator == nil {
		return nil
	}
	return s.Migrator.Migrate(ctx)
}

// Version returns the applied schema version, or 0 for the memory driver.
func (s *Store) Version(ctx context.Context) (int, error) {
	if s.Migrator == nil {
		return 0, nil
	}
	return s.Migrator.Version(ctx)
}

func sqliteConfig(cfg config.DatabaseConfig) sqlite.Config {
	out := sqlite.DefaultConfig(cfg.Path)
	if cfg.JournalMode != "" {
		out.JournalMode = cfg.JournalMode
	}
	if cfg.BusyTimeout > 0 {
		out.BusyTimeout = cfg.BusyTimeout
	}
	if cfg.CacheSize != 0 {
		out.CacheSize = cfg.CacheSize
	}
	if cfg.SynchronousMode != "" {
		out.SynchronousMode = cfg.SynchronousMode
	}
	if cfg.ConnMaxLifetime > 0 {
		out.ConnMaxLifetime = cfg.ConnMaxLifetime
	}
	return out
}
