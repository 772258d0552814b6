package store

import (
	"context"
	"database/sql"
	"fmt"
)

// migrations is the ordered list of schema upgrade steps. Steps are
// additive-only: a new version may add tables and indexes but never drops or
// rewrites existing collections, so data written by older versions stays
// readable. Every statement is IF NOT EXISTS, making a re-run of an already
// applied step a no-op.
var migrations = []string{
	// v1: habits and the pending-write queue.
	`
	CREATE TABLE IF NOT EXISTS habits (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		name TEXT NOT NULL,
		tracking_type TEXT NOT NULL,
		target_value REAL NOT NULL DEFAULT 0,
		unit TEXT,
		steps TEXT,          -- JSON array of step labels
		active INTEGER NOT NULL DEFAULT 1,
		check_ins TEXT NOT NULL DEFAULT '{}',  -- JSON map date -> check-in
		deleted INTEGER NOT NULL DEFAULT 0,    -- local tombstone awaiting ack
		last_updated TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_habits_owner ON habits(owner_id);
	CREATE INDEX IF NOT EXISTS idx_habits_owner_active ON habits(owner_id, active, deleted);

	CREATE TABLE IF NOT EXISTS pending_mutations (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		target_id TEXT NOT NULL,
		payload TEXT,
		enqueued_at TEXT NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		UNIQUE(target_id, type)
	);
	CREATE INDEX IF NOT EXISTS idx_pending_enqueued ON pending_mutations(enqueued_at);
	`,

	// v2: user settings and sync bookkeeping.
	`
	CREATE TABLE IF NOT EXISTS user_settings (
		owner_id TEXT PRIMARY KEY,
		payload TEXT NOT NULL,
		last_updated TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sync_status (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	`,

	// v3: per-day completion index and the connectivity audit record.
	`
	CREATE TABLE IF NOT EXISTS completions (
		habit_id TEXT NOT NULL,
		date TEXT NOT NULL,
		payload TEXT NOT NULL,
		recorded_at TEXT NOT NULL,
		PRIMARY KEY (habit_id, date)
	);
	CREATE INDEX IF NOT EXISTS idx_completions_date ON completions(date);

	CREATE TABLE IF NOT EXISTS offline_status (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		last_offline_at TEXT
	);
	`,
}

// SchemaVersion is the version a fully migrated database reports.
var SchemaVersion = len(migrations)

// Migrate upgrades the database schema to the current version. Safe to call
// on every open; already-applied steps are skipped.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.conn.ExecContext(ctx,
		`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY)`); err != nil {
		return &MigrationError{Version: 0, Err: err}
	}

	current, err := s.schemaVersion(ctx)
	if err != nil {
		return &MigrationError{Version: 0, Err: err}
	}

	for v := current + 1; v <= len(migrations); v++ {
		if err := s.applyMigration(ctx, v); err != nil {
			return &MigrationError{Version: v, Err: err}
		}
	}

	return nil
}

// schemaVersion returns the highest applied migration version, 0 for a
// fresh database.
func (s *Store) schemaVersion(ctx context.Context) (int, error) {
	var version sql.NullInt64
	err := s.conn.QueryRowContext(ctx,
		`SELECT MAX(version) FROM schema_version`).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	if !version.Valid {
		return 0, nil
	}
	return int(version.Int64), nil
}

// applyMigration runs a single migration step and records it, atomically.
func (s *Store) applyMigration(ctx context.Context, version int) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, migrations[version-1]); err != nil {
		_ = tx.Rollback()
		return err
	}

	// INSERT OR IGNORE keeps a concurrently applied step from failing.
	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO schema_version (version) VALUES (?)`, version); err != nil {
		_ = tx.Rollback()
		return err
	}

	return tx.Commit()
}
