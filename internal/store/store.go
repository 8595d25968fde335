// Package store implements the metadata store: a typed
// KV store with range scans and write batches, backed by a single
// goose-migrated SQLite table fronted by modernc.org/sqlite. SQLite's
// on-disk format is out of scope — only the KV contract it fronts is
// normative.
//
// The table is a single flat keyspace covering every namespace (file:,
// *:cursor, *:conflict:, services, rules, drivers:, referee:addr), with
// lexicographic ordering
// over a TEXT PRIMARY KEY standing in for range scans over those
// prefixes.
package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/pressly/goose/v3"
	// Pure-Go SQLite driver (no CGO), chosen for this reason.
	_ "modernc.org/sqlite"

	"github.com/MontBlanc-69/onitu/internal/onituerr"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DB is the metadata store. Safe for concurrent use; writes serialize
// through SQLite's own locking the same way BaselineManager
// is the sole writer to its database.
type DB struct {
	sql    *sql.DB
	closed bool
	logger *slog.Logger
}

// Open opens (creating if necessary) the SQLite-backed store at path and
// runs pending migrations.
func Open(ctx context.Context, path string, logger *slog.Logger) (*DB, error) {
	if logger == nil {
		logger = slog.Default()
	}

	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: opening %s: %w", path, err)
	}

	sqlDB.SetMaxOpenConns(1) // modernc.org/sqlite: serialize writers, same as baseline.

	if err := runMigrations(ctx, sqlDB, logger); err != nil {
		sqlDB.Close()
		return nil, err
	}

	return &DB{sql: sqlDB, logger: logger}, nil
}

func runMigrations(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	subFS, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("store: creating migration sub-filesystem: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, db, subFS)
	if err != nil {
		return fmt.Errorf("store: creating migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("store: running migrations: %w", err)
	}

	for _, r := range results {
		logger.Info("store: applied migration",
			slog.String("source", r.Source.Path),
			slog.Int64("duration_ms", r.Duration.Milliseconds()),
		)
	}

	return nil
}

// Close releases the database connection. Subsequent calls to any DB method
// return onituerr.ErrStoreClosed.
func (db *DB) Close() error {
	db.closed = true
	return db.sql.Close()
}

func (db *DB) checkOpen() error {
	if db.closed {
		return onituerr.ErrStoreClosed
	}

	return nil
}

// Get returns the value stored under key, or ok=false if absent.
func (db *DB) Get(ctx context.Context, key string) (value []byte, ok bool, err error) {
	if err := db.checkOpen(); err != nil {
		return nil, false, err
	}

	row := db.sql.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key)

	if err := row.Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}

		return nil, false, fmt.Errorf("store: get %q: %w", key, err)
	}

	return value, true, nil
}

// Put writes key=value as a single-statement batch.
func (db *DB) Put(ctx context.Context, key string, value []byte) error {
	b, err := db.Batch(ctx)
	if err != nil {
		return err
	}
	defer b.Rollback()

	if err := b.Put(key, value); err != nil {
		return err
	}

	return b.Commit()
}

// Delete removes key. Deleting an absent key is a no-op, matching the
// idempotence this requires of delete_file (section 8).
func (db *DB) Delete(ctx context.Context, key string) error {
	b, err := db.Batch(ctx)
	if err != nil {
		return err
	}
	defer b.Rollback()

	if err := b.Delete(key); err != nil {
		return err
	}

	return b.Commit()
}
