// Package schema provides the persisted data structures shared by the local
// store, the sync engine, and the remote client.
package schema

import (
	"fmt"
	"time"
)

// DateLayout is the canonical key format for check-in dates.
const DateLayout = "2006-01-02"

// TrackingType determines how a habit's daily check-ins are recorded.
type TrackingType string

const (
	// TrackingBinary records a plain done/not-done per day.
	TrackingBinary TrackingType = "binary"
	// TrackingNumeric records a measured value per day (e.g. minutes, pages).
	TrackingNumeric TrackingType = "numeric"
	// TrackingProgress records completion of an ordered list of steps per day.
	TrackingProgress TrackingType = "progress"
)

// Valid reports whether t is a known tracking type.
func (t TrackingType) Valid() bool {
	switch t {
	case TrackingBinary, TrackingNumeric, TrackingProgress:
		return true
	default:
		return false
	}
}

// CheckIn is a single day's recorded value for a habit. Which fields are
// meaningful depends on the habit's tracking type: Done for binary, Value for
// numeric, Steps/Completed for progress. Timestamp is when the check-in was
// recorded and drives last-write-wins resolution.
type CheckIn struct {
	Done      bool      `json:"done,omitempty"`
	Value     float64   `json:"value,omitempty"`
	Steps     []bool    `json:"steps,omitempty"`
	Completed bool      `json:"completed,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Habit is the unit of synchronization. Fields are flat and timestamped so
// that concurrent edits from multiple devices resolve last-write-wins.
type Habit struct {
	ID           string       `json:"id"`
	OwnerID      string       `json:"owner_id"`
	Name         string       `json:"name"`
	TrackingType TrackingType `json:"tracking_type"`

	// TargetValue is the daily goal for numeric habits (completed when the
	// recorded value reaches it). Zero means any value counts.
	TargetValue float64 `json:"target_value,omitempty"`
	Unit        string  `json:"unit,omitempty"`

	// Steps are the ordered step labels for progress habits.
	Steps []string `json:"steps,omitempty"`

	Active bool `json:"active"`

	// CheckIns is keyed by date string (DateLayout). Entries are only ever
	// added or updated, never reordered.
	CheckIns map[string]CheckIn `json:"check_ins,omitempty"`

	// Deleted marks a local tombstone awaiting remote acknowledgment.
	Deleted bool `json:"deleted,omitempty"`

	LastUpdated time.Time `json:"last_updated"`
}

// Validate checks that the habit has valid field values.
func (h *Habit) Validate() error {
	if h.ID == "" {
		return fmt.Errorf("id is required")
	}
	if h.OwnerID == "" {
		return fmt.Errorf("owner_id is required")
	}
	if h.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(h.Name) > 200 {
		return fmt.Errorf("name must be 200 characters or less (got %d)", len(h.Name))
	}
	if !h.TrackingType.Valid() {
		return fmt.Errorf("invalid tracking type: %q", h.TrackingType)
	}
	if h.TrackingType == TrackingProgress && len(h.Steps) == 0 {
		return fmt.Errorf("progress habit requires at least one step")
	}
	if h.TrackingType == TrackingNumeric && h.TargetValue < 0 {
		return fmt.Errorf("target_value must not be negative (got %v)", h.TargetValue)
	}
	if h.LastUpdated.IsZero() {
		return fmt.Errorf("last_updated is required")
	}
	for date := range h.CheckIns {
		if _, err := time.Parse(DateLayout, date); err != nil {
			return fmt.Errorf("invalid check-in date key: %q", date)
		}
	}
	return nil
}

// DateKey formats a time as a check-in map key.
func DateKey(t time.Time) string {
	return t.Format(DateLayout)
}

// CompletedOn reports whether the habit counts as completed for the given
// date key. Binary habits complete when done; numeric habits complete when
// the recorded value reaches the target (any positive value if no target);
// progress habits complete when every step is checked.
func (h *Habit) CompletedOn(date string) bool {
	ci, ok := h.CheckIns[date]
	if !ok {
		return false
	}
	switch h.TrackingType {
	case TrackingBinary:
		return ci.Done
	case TrackingNumeric:
		if h.TargetValue <= 0 {
			return ci.Value > 0
		}
		return ci.Value >= h.TargetValue
	case TrackingProgress:
		if len(ci.Steps) == 0 {
			return false
		}
		for _, done := range ci.Steps {
			if !done {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// SetCheckIn records a check-in for the given date and bumps LastUpdated.
// The progress Completed flag is derived from the steps so readers don't
// have to recompute it.
func (h *Habit) SetCheckIn(date string, ci CheckIn) {
	if h.CheckIns == nil {
		h.CheckIns = make(map[string]CheckIn)
	}
	if h.TrackingType == TrackingProgress {
		ci.Completed = len(ci.Steps) > 0
		for _, done := range ci.Steps {
			if !done {
				ci.Completed = false
				break
			}
		}
	}
	if ci.Timestamp.IsZero() {
		ci.Timestamp = time.Now().UTC()
	}
	h.CheckIns[date] = ci
	if ci.Timestamp.After(h.LastUpdated) {
		h.LastUpdated = ci.Timestamp
	}
}

// Filename returns the canonical filename for this habit: {id}.json.
func (h *Habit) Filename() string {
	return fmt.Sprintf("%s.json", h.ID)
}
