package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tallyapp/tally/internal/schema"
)

// GetHabit returns the habit with the given id, including local tombstones
// (callers check Deleted). Returns ErrNotFound if no row exists.
func (s *Store) GetHabit(ctx context.Context, id string) (*schema.Habit, error) {
	row := s.conn.QueryRowContext(ctx, `
		SELECT id, owner_id, name, tracking_type, target_value, unit, steps,
		       active, check_ins, deleted, last_updated
		FROM habits WHERE id = ?`, id)

	habit, err := scanHabit(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, &StorageError{Op: "get habit", Err: err}
	}
	return habit, nil
}

// ListHabits returns all locally stored habits for an owner, including
// tombstoned rows. Order is unspecified.
func (s *Store) ListHabits(ctx context.Context, ownerID string) ([]*schema.Habit, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, owner_id, name, tracking_type, target_value, unit, steps,
		       active, check_ins, deleted, last_updated
		FROM habits WHERE owner_id = ?`, ownerID)
	if err != nil {
		return nil, &StorageError{Op: "list habits", Err: err}
	}
	defer rows.Close()

	var habits []*schema.Habit
	for rows.Next() {
		habit, err := scanHabit(rows)
		if err != nil {
			return nil, &StorageError{Op: "list habits", Err: err}
		}
		habits = append(habits, habit)
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Op: "list habits", Err: err}
	}
	return habits, nil
}

// PutHabit upserts a habit without recording a pending mutation. Used when
// caching remote-confirmed state locally; user-originated writes go through
// PutHabitTracked instead.
func (s *Store) PutHabit(ctx context.Context, habit *schema.Habit) error {
	if err := habit.Validate(); err != nil {
		return &StorageError{Op: "put habit", Err: err}
	}
	return s.withTx(ctx, "put habit", func(tx *sql.Tx) error {
		return upsertHabitTx(ctx, tx, habit)
	})
}

// PutHabitTracked upserts a habit and enqueues the matching save_habit
// mutation in the same transaction. This is the write path for every
// user-originated habit edit.
func (s *Store) PutHabitTracked(ctx context.Context, habit *schema.Habit) error {
	if err := habit.Validate(); err != nil {
		return &StorageError{Op: "put habit", Err: err}
	}
	return s.withTx(ctx, "put habit", func(tx *sql.Tx) error {
		if err := upsertHabitTx(ctx, tx, habit); err != nil {
			return err
		}
		payload, err := json.Marshal(habit)
		if err != nil {
			return fmt.Errorf("failed to marshal habit: %w", err)
		}
		return enqueueTx(ctx, tx, schema.MutationSaveHabit, habit.ID, payload)
	})
}

// RecordCheckIn applies a check-in to a habit, records the per-day completion
// row, and enqueues a save_completion mutation, all in one transaction.
// A second check-in for the same habit before the first syncs supersedes it
// in the queue rather than duplicating it.
func (s *Store) RecordCheckIn(ctx context.Context, habitID, date string, ci schema.CheckIn) (*schema.Habit, error) {
	var habit *schema.Habit
	err := s.withTx(ctx, "record check-in", func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `
			SELECT id, owner_id, name, tracking_type, target_value, unit, steps,
			       active, check_ins, deleted, last_updated
			FROM habits WHERE id = ?`, habitID)

		h, err := scanHabit(row)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if h.Deleted {
			return fmt.Errorf("habit %s is deleted", habitID)
		}

		h.SetCheckIn(date, ci)
		if err := upsertHabitTx(ctx, tx, h); err != nil {
			return err
		}

		ciJSON, err := json.Marshal(h.CheckIns[date])
		if err != nil {
			return fmt.Errorf("failed to marshal check-in: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO completions (habit_id, date, payload, recorded_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(habit_id, date) DO UPDATE SET
				payload = excluded.payload,
				recorded_at = excluded.recorded_at`,
			habitID, date, string(ciJSON), time.Now().UTC().Format(time.RFC3339Nano)); err != nil {
			return fmt.Errorf("failed to record completion: %w", err)
		}

		payload, err := json.Marshal(h)
		if err != nil {
			return fmt.Errorf("failed to marshal habit: %w", err)
		}
		if err := enqueueTx(ctx, tx, schema.MutationSaveCompletion, h.ID, payload); err != nil {
			return err
		}

		habit = h
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return habit, nil
}

// DeleteHabitTracked tombstones a habit and enqueues the delete mutation in
// the same transaction. The row is kept (deleted=1) until the remote store
// acknowledges the deletion, at which point the syncer calls PurgeHabit.
func (s *Store) DeleteHabitTracked(ctx context.Context, id string) error {
	return s.withTx(ctx, "delete habit", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE habits SET deleted = 1, last_updated = ? WHERE id = ?`,
			time.Now().UTC().Format(time.RFC3339Nano), id)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}
		// A pending save for this habit is now moot.
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM pending_mutations
			WHERE target_id = ? AND type IN (?, ?)`,
			id, string(schema.MutationSaveHabit), string(schema.MutationSaveCompletion)); err != nil {
			return err
		}
		return enqueueTx(ctx, tx, schema.MutationDeleteHabit, id, nil)
	})
}

// PurgeHabit removes a tombstoned habit row and its completions after the
// remote deletion was acknowledged.
func (s *Store) PurgeHabit(ctx context.Context, id string) error {
	return s.withTx(ctx, "purge habit", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM completions WHERE habit_id = ?`, id); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM habits WHERE id = ? AND deleted = 1`, id); err != nil {
			return err
		}
		return nil
	})
}

// Completions returns the recorded check-in payloads for a habit keyed by
// date, using the per-day completion index.
func (s *Store) Completions(ctx context.Context, habitID string) (map[string]schema.CheckIn, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT date, payload FROM completions WHERE habit_id = ?`, habitID)
	if err != nil {
		return nil, &StorageError{Op: "list completions", Err: err}
	}
	defer rows.Close()

	out := make(map[string]schema.CheckIn)
	for rows.Next() {
		var date, payload string
		if err := rows.Scan(&date, &payload); err != nil {
			return nil, &StorageError{Op: "list completions", Err: err}
		}
		var ci schema.CheckIn
		if err := json.Unmarshal([]byte(payload), &ci); err != nil {
			return nil, &StorageError{Op: "list completions", Err: err}
		}
		out[date] = ci
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Op: "list completions", Err: err}
	}
	return out, nil
}

// upsertHabitTx writes a habit row. last_updated is forced monotonic: a
// write that does not advance the stored timestamp gets nudged past it so
// last-write-wins ordering never regresses for the same id. The nudge is
// applied to the stored value only; the caller's struct is left alone.
func upsertHabitTx(ctx context.Context, tx *sql.Tx, habit *schema.Habit) error {
	var existing sql.NullString
	err := tx.QueryRowContext(ctx,
		`SELECT last_updated FROM habits WHERE id = ?`, habit.ID).Scan(&existing)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return err
	}
	lastUpdated := habit.LastUpdated
	if existing.Valid {
		prev, perr := time.Parse(time.RFC3339Nano, existing.String)
		if perr == nil && !lastUpdated.After(prev) {
			lastUpdated = prev.Add(time.Millisecond)
		}
	}

	stepsJSON, err := json.Marshal(habit.Steps)
	if err != nil {
		return fmt.Errorf("failed to marshal steps: %w", err)
	}
	checkInsJSON, err := json.Marshal(habit.CheckIns)
	if err != nil {
		return fmt.Errorf("failed to marshal check-ins: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO habits (
			id, owner_id, name, tracking_type, target_value, unit, steps,
			active, check_ins, deleted, last_updated
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			owner_id = excluded.owner_id,
			name = excluded.name,
			tracking_type = excluded.tracking_type,
			target_value = excluded.target_value,
			unit = excluded.unit,
			steps = excluded.steps,
			active = excluded.active,
			check_ins = excluded.check_ins,
			deleted = excluded.deleted,
			last_updated = excluded.last_updated`,
		habit.ID,
		habit.OwnerID,
		habit.Name,
		string(habit.TrackingType),
		habit.TargetValue,
		habit.Unit,
		string(stepsJSON),
		boolToInt(habit.Active),
		string(checkInsJSON),
		boolToInt(habit.Deleted),
		lastUpdated.UTC().Format(time.RFC3339Nano),
	)
	return err
}

// scanner abstracts sql.Row and sql.Rows for scanHabit.
type scanner interface {
	Scan(dest ...any) error
}

func scanHabit(row scanner) (*schema.Habit, error) {
	var (
		habit       schema.Habit
		tracking    string
		steps       sql.NullString
		unit        sql.NullString
		active      int
		checkIns    string
		deleted     int
		lastUpdated string
	)
	err := row.Scan(&habit.ID, &habit.OwnerID, &habit.Name, &tracking,
		&habit.TargetValue, &unit, &steps, &active, &checkIns, &deleted, &lastUpdated)
	if err != nil {
		return nil, err
	}

	habit.TrackingType = schema.TrackingType(tracking)
	habit.Unit = unit.String
	habit.Active = active != 0
	habit.Deleted = deleted != 0

	if steps.Valid && steps.String != "" && steps.String != "null" {
		if err := json.Unmarshal([]byte(steps.String), &habit.Steps); err != nil {
			return nil, fmt.Errorf("failed to parse steps for %s: %w", habit.ID, err)
		}
	}
	if checkIns != "" && checkIns != "null" {
		if err := json.Unmarshal([]byte(checkIns), &habit.CheckIns); err != nil {
			return nil, fmt.Errorf("failed to parse check-ins for %s: %w", habit.ID, err)
		}
	}
	habit.LastUpdated, err = time.Parse(time.RFC3339Nano, lastUpdated)
	if err != nil {
		return nil, fmt.Errorf("failed to parse last_updated for %s: %w", habit.ID, err)
	}
	return &habit, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
