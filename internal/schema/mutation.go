package schema

import (
	"encoding/json"
	"fmt"
	"time"
)

// MutationType identifies the kind of pending write awaiting remote delivery.
type MutationType string

const (
	MutationSaveHabit      MutationType = "save_habit"
	MutationDeleteHabit    MutationType = "delete_habit"
	MutationSaveCompletion MutationType = "save_completion"
	MutationSaveSettings   MutationType = "save_user_settings"
)

// Valid reports whether t is a known mutation type.
func (t MutationType) Valid() bool {
	switch t {
	case MutationSaveHabit, MutationDeleteHabit, MutationSaveCompletion, MutationSaveSettings:
		return true
	default:
		return false
	}
}

// SyncCategory groups mutation types for background scheduling. Habit and
// completion writes share one deferred-sync tag; settings writes get their own.
type SyncCategory string

const (
	CategoryHabits   SyncCategory = "sync-habits"
	CategorySettings SyncCategory = "sync-user-settings"
)

// Category returns the scheduling category for this mutation type.
func (t MutationType) Category() SyncCategory {
	if t == MutationSaveSettings {
		return CategorySettings
	}
	return CategoryHabits
}

// PendingMutation is a locally recorded write not yet acknowledged by the
// remote store. It lives in the pending_mutations table from the moment the
// local write commits until the remote delivery succeeds (or the mutation is
// explicitly abandoned, which is always logged).
type PendingMutation struct {
	ID         string          `json:"id"`
	Type       MutationType    `json:"type"`
	TargetID   string          `json:"target_id"`
	Payload    json.RawMessage `json:"payload"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	Attempts   int             `json:"attempts"`
}

// Validate checks that the mutation has valid field values.
func (m *PendingMutation) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("id is required")
	}
	if !m.Type.Valid() {
		return fmt.Errorf("invalid mutation type: %q", m.Type)
	}
	if m.TargetID == "" {
		return fmt.Errorf("target_id is required")
	}
	if m.Type != MutationDeleteHabit && len(m.Payload) == 0 {
		return fmt.Errorf("payload is required for %s", m.Type)
	}
	return nil
}
