// Package store persists messages, MIME part records, attachments,
// and render-cache rows in SQLite via modernc.org/sqlite, plus
// attachment bytes in a content-addressed blob store. Grounded on the
// teacher's internal/database package: PRAGMA-embedded DSN,
// versioned migrations table, periodic WAL checkpointing.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/inboxcore/mailcore/internal/logging"
)

const (
	// MaxOpenConns caps concurrent connections; SQLite's WAL mode
	// only allows one writer at a time, so a large pool just adds
	// lock contention rather than throughput.
	MaxOpenConns = 8
	// MaxIdleConns keeps a modest number of warm connections.
	MaxIdleConns = 4
	// CheckpointInterval is how often StartCheckpointRoutine merges
	// the WAL back into the main database file.
	CheckpointInterval = 5 * time.Minute
)

// DB wraps the SQL connection with mailcore-specific lifecycle
// helpers (migrations, WAL checkpointing).
type DB struct {
	*sql.DB
	path string
}

// Open opens or creates a SQLite database at path, with PRAGMAs
// embedded in the DSN so every pooled connection picks them up
// (PRAGMAs are per-connection, and database/sql creates connections
// lazily).
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("store: create database directory: %w", err)
	}

	dsn := fmt.Sprintf(
		"file:%s?_pragma=busy_timeout(30000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)&_pragma=cache_size(-64000)",
		path,
	)
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}

	sqlDB.SetMaxOpenConns(MaxOpenConns)
	sqlDB.SetMaxIdleConns(MaxIdleConns)

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("store: ping database: %w", err)
	}
	if err := os.Chmod(path, 0600); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("store: set database permissions: %w", err)
	}

	return &DB{DB: sqlDB, path: path}, nil
}

// Path returns the database file path.
func (db *DB) Path() string { return db.path }

// Close closes the underlying connection pool.
func (db *DB) Close() error { return db.DB.Close() }

// Checkpoint merges the write-ahead log back into the main database
// file, using PASSIVE mode so it never blocks a concurrent writer.
func (db *DB) Checkpoint() error {
	_, err := db.Exec("PRAGMA wal_checkpoint(PASSIVE)")
	if err != nil {
		return fmt.Errorf("store: checkpoint WAL: %w", err)
	}
	return nil
}

// StartCheckpointRoutine runs Checkpoint on CheckpointInterval until
// ctx is cancelled.
func (db *DB) StartCheckpointRoutine(ctx context.Context) {
	log := logging.WithComponent("store")
	ticker := time.NewTicker(CheckpointInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := db.Checkpoint(); err != nil {
				log.Error().Err(err).Msg("periodic WAL checkpoint failed")
			}
		case <-ctx.Done():
			return
		}
	}
}

// Migrate applies every pending migration in order, recording each
// applied version in a migrations table.
func (db *DB) Migrate() error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("store: create migrations table: %w", err)
	}

	var current int
	if err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM migrations").Scan(&current); err != nil {
		return fmt.Errorf("store: read migration version: %w", err)
	}

	for _, m := range migrations {
		if m.Version > current {
			if err := db.applyMigration(m); err != nil {
				return fmt.Errorf("store: apply migration %d: %w", m.Version, err)
			}
		}
	}
	return nil
}

func (db *DB) applyMigration(m Migration) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(m.SQL); err != nil {
		return fmt.Errorf("migration SQL failed: %w", err)
	}
	if _, err := tx.Exec("INSERT INTO migrations (version) VALUES (?)", m.Version); err != nil {
		return fmt.Errorf("record migration: %w", err)
	}
	return tx.Commit()
}
