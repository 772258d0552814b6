package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// Sync bookkeeping keys in the sync_status table.
const (
	statusKeyLastSync   = "last_sync_time"
	statusKeyLastResult = "last_sync_result"
)

// SetLastSync records when a drain pass finished and its outcome summary
// (e.g. "3/3" or "1/2 partial").
func (s *Store) SetLastSync(ctx context.Context, at time.Time, result string) error {
	err := s.withTx(ctx, "set last sync", func(tx *sql.Tx) error {
		now := time.Now().UTC().Format(time.RFC3339Nano)
		for key, value := range map[string]string{
			statusKeyLastSync:   at.UTC().Format(time.RFC3339Nano),
			statusKeyLastResult: result,
		} {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO sync_status (key, value, updated_at) VALUES (?, ?, ?)
				ON CONFLICT(key) DO UPDATE SET
					value = excluded.value,
					updated_at = excluded.updated_at`,
				key, value, now); err != nil {
				return err
			}
		}
		return nil
	})
	return err
}

// LastSync returns the recorded end of the most recent drain pass and its
// result summary. Returns zero values if no drain has completed yet.
func (s *Store) LastSync(ctx context.Context) (time.Time, string, error) {
	var at time.Time
	var raw, result string

	err := s.conn.QueryRowContext(ctx,
		`SELECT value FROM sync_status WHERE key = ?`, statusKeyLastSync).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, "", nil
	}
	if err != nil {
		return time.Time{}, "", &StorageError{Op: "last sync", Err: err}
	}
	at, err = time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, "", &StorageError{Op: "last sync", Err: err}
	}

	err = s.conn.QueryRowContext(ctx,
		`SELECT value FROM sync_status WHERE key = ?`, statusKeyLastResult).Scan(&result)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, "", &StorageError{Op: "last sync", Err: err}
	}
	return at, result, nil
}

// SetLastOffline records the connectivity audit timestamp: the last moment
// the monitor observed the network go away.
func (s *Store) SetLastOffline(ctx context.Context, at time.Time) error {
	if _, err := s.conn.ExecContext(ctx, `
		INSERT INTO offline_status (id, last_offline_at) VALUES (1, ?)
		ON CONFLICT(id) DO UPDATE SET last_offline_at = excluded.last_offline_at`,
		at.UTC().Format(time.RFC3339Nano)); err != nil {
		return &StorageError{Op: "set last offline", Err: err}
	}
	return nil
}

// LastOffline returns the last recorded offline transition, or a zero time
// if connectivity has never been lost.
func (s *Store) LastOffline(ctx context.Context) (time.Time, error) {
	var raw sql.NullString
	err := s.conn.QueryRowContext(ctx,
		`SELECT last_offline_at FROM offline_status WHERE id = 1`).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && !raw.Valid) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, &StorageError{Op: "last offline", Err: err}
	}
	at, err := time.Parse(time.RFC3339Nano, raw.String)
	if err != nil {
		return time.Time{}, &StorageError{Op: "last offline", Err: err}
	}
	return at, nil
}
