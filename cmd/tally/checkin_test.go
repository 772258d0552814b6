package main

import (
	"testing"

	"github.com/tallyapp/tally/internal/schema"
)

func resetCheckinFlags(t *testing.T) {
	t.Helper()
	checkinValue = 0
	checkinSteps = nil
	checkinUndo = false
	t.Cleanup(func() {
		checkinValue = 0
		checkinSteps = nil
		checkinUndo = false
	})
}

func TestBuildCheckInNumericExplicitZero(t *testing.T) {
	resetCheckinFlags(t)
	habit := &schema.Habit{TrackingType: schema.TrackingNumeric, TargetValue: 30}

	// An explicit --value 0 is a valid recording, not a missing flag.
	ci, err := buildCheckIn(habit, true)
	if err != nil {
		t.Fatalf("buildCheckIn() with explicit zero: %v", err)
	}
	if ci.Value != 0 {
		t.Errorf("Value = %v, want 0", ci.Value)
	}
}

func TestBuildCheckInNumericRequiresValue(t *testing.T) {
	resetCheckinFlags(t)
	habit := &schema.Habit{TrackingType: schema.TrackingNumeric}

	if _, err := buildCheckIn(habit, false); err == nil {
		t.Error("expected an error when --value is absent")
	}
}

func TestBuildCheckInProgressStepRange(t *testing.T) {
	resetCheckinFlags(t)
	habit := &schema.Habit{TrackingType: schema.TrackingProgress, Steps: []string{"a", "b"}}

	checkinSteps = []int{3}
	if _, err := buildCheckIn(habit, false); err == nil {
		t.Error("expected an error for a step number out of range")
	}

	checkinSteps = []int{2}
	ci, err := buildCheckIn(habit, false)
	if err != nil {
		t.Fatalf("buildCheckIn() error: %v", err)
	}
	if len(ci.Steps) != 2 || ci.Steps[0] || !ci.Steps[1] {
		t.Errorf("Steps = %v, want only step 2 done", ci.Steps)
	}
}
