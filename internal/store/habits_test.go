package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tallyapp/tally/internal/schema"
)

func TestPutHabitTrackedEnqueues(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.PutHabitTracked(ctx, testHabit("h-1")))

	pending, err := st.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, schema.MutationSaveHabit, pending[0].Type)
	assert.Equal(t, "h-1", pending[0].TargetID)
	assert.NotEmpty(t, pending[0].Payload)
}

func TestPutHabitUntrackedDoesNotEnqueue(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.PutHabit(ctx, testHabit("h-1")))

	count, err := st.CountPending(ctx)
	require.NoError(t, err)
	assert.Zero(t, count, "caching remote state must not queue a mutation")
}

func TestPutHabitRejectsInvalid(t *testing.T) {
	st := newTestStore(t)

	habit := testHabit("h-1")
	habit.Name = ""
	err := st.PutHabitTracked(context.Background(), habit)
	require.Error(t, err)

	count, err := st.CountPending(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestRecordCheckIn(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	habit := testHabit("h-1")
	habit.TrackingType = schema.TrackingNumeric
	habit.TargetValue = 30
	habit.Unit = "minutes"
	require.NoError(t, st.PutHabitTracked(ctx, habit))

	updated, err := st.RecordCheckIn(ctx, "h-1", "2026-08-29", schema.CheckIn{Value: 45})
	require.NoError(t, err)
	assert.True(t, updated.CompletedOn("2026-08-29"), "45 minutes against a 30 target counts completed")

	// Persisted, not just returned.
	got, err := st.GetHabit(ctx, "h-1")
	require.NoError(t, err)
	assert.InDelta(t, 45, got.CheckIns["2026-08-29"].Value, 0.001)

	// The per-day completion index has the row too.
	completions, err := st.Completions(ctx, "h-1")
	require.NoError(t, err)
	require.Contains(t, completions, "2026-08-29")
	assert.InDelta(t, 45, completions["2026-08-29"].Value, 0.001)

	// The save_habit entry from creation plus the save_completion entry.
	pending, err := st.ListPending(ctx)
	require.NoError(t, err)
	types := make(map[schema.MutationType]bool)
	for _, m := range pending {
		types[m.Type] = true
	}
	assert.True(t, types[schema.MutationSaveCompletion])
}

func TestRapidCheckInsCollapseInQueue(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.PutHabitTracked(ctx, testHabit("h-1")))

	// Toggle on then off before anything syncs: the queue keeps exactly one
	// completion entry carrying the final state.
	_, err := st.RecordCheckIn(ctx, "h-1", "2026-08-29", schema.CheckIn{Done: true})
	require.NoError(t, err)
	_, err = st.RecordCheckIn(ctx, "h-1", "2026-08-29", schema.CheckIn{Done: false})
	require.NoError(t, err)

	pending, err := st.ListPending(ctx)
	require.NoError(t, err)

	var completions []*schema.PendingMutation
	for _, m := range pending {
		if m.Type == schema.MutationSaveCompletion {
			completions = append(completions, m)
		}
	}
	require.Len(t, completions, 1)

	var payload schema.Habit
	require.NoError(t, json.Unmarshal(completions[0].Payload, &payload))
	assert.False(t, payload.CheckIns["2026-08-29"].Done, "queued payload must carry the final state")
}

func TestRecordCheckInUnknownHabit(t *testing.T) {
	st := newTestStore(t)

	_, err := st.RecordCheckIn(context.Background(), "ghost", "2026-08-29", schema.CheckIn{Done: true})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRecordCheckInDeletedHabit(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.PutHabitTracked(ctx, testHabit("h-1")))
	require.NoError(t, st.DeleteHabitTracked(ctx, "h-1"))

	_, err := st.RecordCheckIn(ctx, "h-1", "2026-08-29", schema.CheckIn{Done: true})
	assert.Error(t, err)
}

func TestDeleteHabitTracked(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.PutHabitTracked(ctx, testHabit("h-1")))
	_, err := st.RecordCheckIn(ctx, "h-1", "2026-08-29", schema.CheckIn{Done: true})
	require.NoError(t, err)

	require.NoError(t, st.DeleteHabitTracked(ctx, "h-1"))

	// Tombstoned, not gone: the row stays until the remote acks.
	got, err := st.GetHabit(ctx, "h-1")
	require.NoError(t, err)
	assert.True(t, got.Deleted)

	// Pending saves for the habit are moot; only the delete remains.
	pending, err := st.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, schema.MutationDeleteHabit, pending[0].Type)
	assert.Equal(t, "h-1", pending[0].TargetID)
}

func TestDeleteHabitTrackedUnknown(t *testing.T) {
	st := newTestStore(t)

	err := st.DeleteHabitTracked(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPurgeHabit(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.PutHabitTracked(ctx, testHabit("h-1")))
	_, err := st.RecordCheckIn(ctx, "h-1", "2026-08-29", schema.CheckIn{Done: true})
	require.NoError(t, err)
	require.NoError(t, st.DeleteHabitTracked(ctx, "h-1"))

	require.NoError(t, st.PurgeHabit(ctx, "h-1"))

	_, err = st.GetHabit(ctx, "h-1")
	assert.ErrorIs(t, err, ErrNotFound)

	completions, err := st.Completions(ctx, "h-1")
	require.NoError(t, err)
	assert.Empty(t, completions)
}

func TestPurgeHabitSkipsLiveRows(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.PutHabitTracked(ctx, testHabit("h-1")))
	require.NoError(t, st.PurgeHabit(ctx, "h-1"))

	// Not tombstoned, so the purge must leave it alone.
	_, err := st.GetHabit(ctx, "h-1")
	assert.NoError(t, err)
}

func TestLastUpdatedNeverRegresses(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	habit := testHabit("h-1")
	habit.LastUpdated = time.Now().UTC()
	require.NoError(t, st.PutHabitTracked(ctx, habit))

	first, err := st.GetHabit(ctx, "h-1")
	require.NoError(t, err)

	// A write stamped in the past must still land after the stored time.
	stale := testHabit("h-1")
	stale.Name = "Renamed"
	stale.LastUpdated = first.LastUpdated.Add(-time.Hour)
	require.NoError(t, st.PutHabitTracked(ctx, stale))

	second, err := st.GetHabit(ctx, "h-1")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", second.Name)
	assert.True(t, second.LastUpdated.After(first.LastUpdated),
		"stored last_updated must advance monotonically")
}

func TestPutLeavesCallerTimestampAlone(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	habit := testHabit("h-1")
	require.NoError(t, st.PutHabitTracked(ctx, habit))
	stamped := habit.LastUpdated

	// A re-put with a non-advancing timestamp gets nudged in storage, but
	// the caller's struct is not modified as a side effect.
	require.NoError(t, st.PutHabitTracked(ctx, habit))
	assert.True(t, habit.LastUpdated.Equal(stamped),
		"put must not mutate the caller's LastUpdated")

	stored, err := st.GetHabit(ctx, "h-1")
	require.NoError(t, err)
	assert.True(t, stored.LastUpdated.After(stamped))
}

func TestListHabitsFiltersByOwner(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	mine := testHabit("h-1")
	require.NoError(t, st.PutHabitTracked(ctx, mine))

	other := testHabit("h-2")
	other.OwnerID = "owner-2"
	require.NoError(t, st.PutHabitTracked(ctx, other))

	habits, err := st.ListHabits(ctx, "owner-1")
	require.NoError(t, err)
	require.Len(t, habits, 1)
	assert.Equal(t, "h-1", habits[0].ID)
}

func TestHabitRoundTripPreservesFields(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	habit := testHabit("h-1")
	habit.TrackingType = schema.TrackingProgress
	habit.Steps = []string{"stretch", "run", "cool down"}
	habit.CheckIns = map[string]schema.CheckIn{
		"2026-08-28": {Steps: []bool{true, true, false}, Timestamp: time.Now().UTC()},
	}
	require.NoError(t, st.PutHabitTracked(ctx, habit))

	got, err := st.GetHabit(ctx, "h-1")
	require.NoError(t, err)
	assert.Equal(t, habit.Steps, got.Steps)
	require.Contains(t, got.CheckIns, "2026-08-28")
	assert.Equal(t, []bool{true, true, false}, got.CheckIns["2026-08-28"].Steps)
}
