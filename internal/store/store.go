// Package store provides the embedded local database for tally.
//
// The store is the durability boundary for every user mutation: writes land
// here first, regardless of connectivity, and the sync engine replays them
// against the remote store later. It runs embedded SQLite (ncruces/go-sqlite3)
// with WAL mode for concurrent reads.
//
// Collections map to tables: habits, completions, user_settings,
// pending_mutations, sync_status, offline_status. Schema upgrades are
// additive-only and idempotent (see migrate.go).
//
// The invariant the rest of the system leans on: a mutation-tracked write
// (PutHabitTracked, RecordCheckIn, DeleteHabitTracked, PutSettingsTracked)
// commits the record and its pending-mutation queue entry in the same SQL
// transaction. No local write is ever durably committed without a matching
// queue entry.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// Store wraps the SQLite connection with habit-tracker specific operations.
type Store struct {
	conn *sql.DB
	path string
}

// Open creates (or opens) the database at path and applies any pending
// schema migrations.
//
// The database is opened in WAL mode for concurrent reads. The caller MUST
// call Close() when done.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, &StorageError{Op: "open", Err: fmt.Errorf("failed to create database directory: %w", err)}
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, &StorageError{Op: "open", Err: err}
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, &StorageError{Op: "open", Err: fmt.Errorf("failed to ping database: %w", err)}
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{conn: conn, path: path}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := s.conn.Exec(pragma); err != nil {
			_ = s.Close()
			return nil, &StorageError{Op: "open", Err: fmt.Errorf("failed to apply %q: %w", pragma, err)}
		}
	}

	if err := s.Migrate(context.Background()); err != nil {
		_ = s.Close()
		return nil, err
	}

	return s, nil
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

// RawDB returns the underlying sql.DB connection.
func (s *Store) RawDB() *sql.DB {
	return s.conn
}

// Close closes the database connection, checkpointing the WAL first so all
// changes are persisted to the main database file.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}

	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := s.conn.Close(); err != nil {
		return &StorageError{Op: "close", Err: err}
	}

	s.conn = nil
	return nil
}

// withTx runs fn inside a transaction, committing on success and rolling
// back on error. Transactions never span network I/O; callers complete all
// SQL work before awaiting anything else.
func (s *Store) withTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return &StorageError{Op: op, Err: err}
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return &StorageError{Op: op, Err: err}
	}

	if err := tx.Commit(); err != nil {
		return &StorageError{Op: op, Err: err}
	}

	return nil
}
