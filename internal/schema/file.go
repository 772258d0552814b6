package schema

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ReadHabitFile reads and validates a habit JSON file.
func ReadHabitFile(path string) (*Habit, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read habit file: %w", err)
	}

	var habit Habit
	if err := json.Unmarshal(data, &habit); err != nil {
		return nil, fmt.Errorf("failed to parse habit file %s: %w", filepath.Base(path), err)
	}

	if err := habit.Validate(); err != nil {
		return nil, fmt.Errorf("invalid habit in %s: %w", filepath.Base(path), err)
	}

	return &habit, nil
}

// WriteHabitFile writes a habit as {id}.json in dir. The write goes through
// a temp file and rename so watchers never observe a partial file.
func WriteHabitFile(dir string, habit *Habit) error {
	if err := habit.Validate(); err != nil {
		return fmt.Errorf("invalid habit: %w", err)
	}

	data, err := json.MarshalIndent(habit, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal habit: %w", err)
	}

	path := filepath.Join(dir, habit.Filename())
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write habit file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to finalize habit file: %w", err)
	}

	return nil
}

// HabitIDFromFilename extracts the habit id from a {id}.json filename.
func HabitIDFromFilename(name string) (string, error) {
	base := filepath.Base(name)
	if !strings.HasSuffix(base, ".json") {
		return "", fmt.Errorf("not a habit file: %s", base)
	}
	id := strings.TrimSuffix(base, ".json")
	if id == "" {
		return "", fmt.Errorf("empty habit id in filename: %s", base)
	}
	return id, nil
}
