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

// GetSettings returns the stored settings document for an owner.
func (s *Store) GetSettings(ctx context.Context, ownerID string) (*schema.UserSettings, error) {
	var payload string
	err := s.conn.QueryRowContext(ctx,
		`SELECT payload FROM user_settings WHERE owner_id = ?`, ownerID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, &StorageError{Op: "get settings", Err: err}
	}

	var settings schema.UserSettings
	if err := json.Unmarshal([]byte(payload), &settings); err != nil {
		return nil, &StorageError{Op: "get settings", Err: err}
	}
	return &settings, nil
}

// PutSettingsTracked upserts the settings document and enqueues the matching
// save_user_settings mutation in the same transaction.
func (s *Store) PutSettingsTracked(ctx context.Context, settings *schema.UserSettings) error {
	if err := settings.Validate(); err != nil {
		return &StorageError{Op: "put settings", Err: err}
	}

	payload, err := json.Marshal(settings)
	if err != nil {
		return &StorageError{Op: "put settings", Err: fmt.Errorf("failed to marshal settings: %w", err)}
	}

	return s.withTx(ctx, "put settings", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO user_settings (owner_id, payload, last_updated)
			VALUES (?, ?, ?)
			ON CONFLICT(owner_id) DO UPDATE SET
				payload = excluded.payload,
				last_updated = excluded.last_updated`,
			settings.OwnerID, string(payload),
			settings.LastUpdated.UTC().Format(time.RFC3339Nano)); err != nil {
			return err
		}
		return enqueueTx(ctx, tx, schema.MutationSaveSettings, settings.OwnerID, payload)
	})
}
