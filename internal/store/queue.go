package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/tallyapp/tally/internal/schema"
)

// The pending-write queue lives in the pending_mutations table. It is
// FIFO-ish by enqueued_at but makes no strict ordering promise across
// targets; the sync engine serializes per target instead.

// enqueuedAtLayout keeps fractional seconds fixed-width so the string
// ordering of enqueued_at matches time ordering. RFC3339Nano trims trailing
// zeros, which would break ORDER BY.
const enqueuedAtLayout = "2006-01-02T15:04:05.000000000Z07:00"

// enqueueTx upserts a pending mutation inside an existing transaction.
// The queue is idempotent per (target_id, type): a later enqueue for the same
// logical change supersedes the earlier un-synced one, keeping its row id
// but replacing the payload and resetting the attempt count.
func enqueueTx(ctx context.Context, tx *sql.Tx, typ schema.MutationType, targetID string, payload []byte) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO pending_mutations (id, type, target_id, payload, enqueued_at, attempts)
		VALUES (?, ?, ?, ?, ?, 0)
		ON CONFLICT(target_id, type) DO UPDATE SET
			payload = excluded.payload,
			enqueued_at = excluded.enqueued_at,
			attempts = 0`,
		uuid.NewString(), string(typ), targetID, nullableString(payload),
		time.Now().UTC().Format(enqueuedAtLayout))
	return err
}

// Enqueue records a pending mutation outside any tracked write. The tracked
// put/delete paths enqueue transactionally; this entry point exists for
// callers that already persisted the record some other way.
func (s *Store) Enqueue(ctx context.Context, typ schema.MutationType, targetID string, payload json.RawMessage) error {
	m := &schema.PendingMutation{ID: uuid.NewString(), Type: typ, TargetID: targetID, Payload: payload}
	if err := m.Validate(); err != nil {
		return &StorageError{Op: "enqueue", Err: err}
	}
	return s.withTx(ctx, "enqueue", func(tx *sql.Tx) error {
		return enqueueTx(ctx, tx, typ, targetID, payload)
	})
}

// Dequeue removes a pending mutation after confirmed remote success. The
// enqueuedAt timestamp must match the row as it was listed: a superseding
// enqueue rewrites enqueued_at, so a row that changed under an in-flight
// delivery survives the stale acknowledgment and is delivered next pass.
// Returns whether a row was removed; an already-removed id is a no-op.
func (s *Store) Dequeue(ctx context.Context, id string, enqueuedAt time.Time) (bool, error) {
	res, err := s.conn.ExecContext(ctx,
		`DELETE FROM pending_mutations WHERE id = ? AND enqueued_at = ?`,
		id, enqueuedAt.UTC().Format(enqueuedAtLayout))
	if err != nil {
		return false, &StorageError{Op: "dequeue", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, &StorageError{Op: "dequeue", Err: err}
	}
	return n > 0, nil
}

// ListPending returns all pending mutations, oldest first.
func (s *Store) ListPending(ctx context.Context) ([]*schema.PendingMutation, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, type, target_id, payload, enqueued_at, attempts
		FROM pending_mutations ORDER BY enqueued_at`)
	if err != nil {
		return nil, &StorageError{Op: "list pending", Err: err}
	}
	defer rows.Close()

	var pending []*schema.PendingMutation
	for rows.Next() {
		var (
			m          schema.PendingMutation
			typ        string
			payload    sql.NullString
			enqueuedAt string
		)
		if err := rows.Scan(&m.ID, &typ, &m.TargetID, &payload, &enqueuedAt, &m.Attempts); err != nil {
			return nil, &StorageError{Op: "list pending", Err: err}
		}
		m.Type = schema.MutationType(typ)
		if payload.Valid {
			m.Payload = json.RawMessage(payload.String)
		}
		m.EnqueuedAt, err = time.Parse(time.RFC3339Nano, enqueuedAt)
		if err != nil {
			return nil, &StorageError{Op: "list pending", Err: err}
		}
		pending = append(pending, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Op: "list pending", Err: err}
	}
	return pending, nil
}

// CountPending returns the number of queued mutations.
func (s *Store) CountPending(ctx context.Context) (int, error) {
	var n int
	if err := s.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM pending_mutations`).Scan(&n); err != nil {
		return 0, &StorageError{Op: "count pending", Err: err}
	}
	return n, nil
}

// PendingTargets returns the set of target ids with queued mutations. The
// reconciliation layer uses this to tag habits as awaiting sync.
func (s *Store) PendingTargets(ctx context.Context) (map[string]bool, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT DISTINCT target_id FROM pending_mutations`)
	if err != nil {
		return nil, &StorageError{Op: "pending targets", Err: err}
	}
	defer rows.Close()

	targets := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, &StorageError{Op: "pending targets", Err: err}
		}
		targets[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Op: "pending targets", Err: err}
	}
	return targets, nil
}

// IncrementAttempts bumps the attempt counter for a pending mutation and
// returns the new count.
func (s *Store) IncrementAttempts(ctx context.Context, id string) (int, error) {
	var attempts int
	err := s.conn.QueryRowContext(ctx, `
		UPDATE pending_mutations SET attempts = attempts + 1
		WHERE id = ?
		RETURNING attempts`, id).Scan(&attempts)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, &StorageError{Op: "increment attempts", Err: err}
	}
	return attempts, nil
}

func nullableString(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
