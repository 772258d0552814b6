package schema

import (
	"fmt"
	"time"
)

// UserSettings holds per-owner preferences. The sync layer treats the
// preference fields as opaque; only OwnerID and LastUpdated matter to it.
type UserSettings struct {
	OwnerID      string    `json:"owner_id"`
	ReminderHour int       `json:"reminder_hour"`
	WeekStart    string    `json:"week_start,omitempty"`
	Theme        string    `json:"theme,omitempty"`
	LastUpdated  time.Time `json:"last_updated"`
}

// Validate checks that the settings document has valid field values.
func (s *UserSettings) Validate() error {
	if s.OwnerID == "" {
		return fmt.Errorf("owner_id is required")
	}
	if s.ReminderHour < 0 || s.ReminderHour > 23 {
		return fmt.Errorf("reminder_hour must be between 0 and 23 (got %d)", s.ReminderHour)
	}
	if s.LastUpdated.IsZero() {
		return fmt.Errorf("last_updated is required")
	}
	return nil
}
