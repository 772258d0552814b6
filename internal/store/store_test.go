package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tallyapp/tally/internal/schema"
)

// newTestStore opens a store in a temp directory and closes it on cleanup.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(filepath.Join(t.TempDir(), "tally.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func testHabit(id string) *schema.Habit {
	return &schema.Habit{
		ID:           id,
		OwnerID:      "owner-1",
		Name:         "Meditate " + id,
		TrackingType: schema.TrackingBinary,
		Active:       true,
		LastUpdated:  time.Now().UTC(),
	}
}

func TestOpenCreatesMissingDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "deeper", "tally.db")
	st, err := Open(path)
	require.NoError(t, err)
	defer st.Close()

	assert.Equal(t, path, st.Path())
}

func TestMigrateIsIdempotent(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	// Open already migrated; running again must be a no-op.
	require.NoError(t, st.Migrate(ctx))
	require.NoError(t, st.Migrate(ctx))

	version, err := st.schemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, SchemaVersion, version)
}

func TestDurabilityAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tally.db")
	ctx := context.Background()

	st, err := Open(path)
	require.NoError(t, err)

	habit := testHabit("h-1")
	require.NoError(t, st.PutHabitTracked(ctx, habit))
	require.NoError(t, st.Close())

	// Simulated restart: both the record and its queue entry survive.
	st, err = Open(path)
	require.NoError(t, err)
	defer st.Close()

	got, err := st.GetHabit(ctx, "h-1")
	require.NoError(t, err)
	assert.Equal(t, habit.Name, got.Name)

	pending, err := st.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, schema.MutationSaveHabit, pending[0].Type)
	assert.Equal(t, "h-1", pending[0].TargetID)
}

func TestSettingsTrackedWrite(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	settings := &schema.UserSettings{
		OwnerID:      "owner-1",
		ReminderHour: 7,
		WeekStart:    "monday",
		LastUpdated:  time.Now().UTC(),
	}
	require.NoError(t, st.PutSettingsTracked(ctx, settings))

	got, err := st.GetSettings(ctx, "owner-1")
	require.NoError(t, err)
	assert.Equal(t, 7, got.ReminderHour)
	assert.Equal(t, "monday", got.WeekStart)

	pending, err := st.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, schema.MutationSaveSettings, pending[0].Type)
	assert.Equal(t, "owner-1", pending[0].TargetID)
}

func TestGetSettingsNotFound(t *testing.T) {
	st := newTestStore(t)

	_, err := st.GetSettings(context.Background(), "nobody")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSyncStatusRoundTrip(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	at, result, err := st.LastSync(ctx)
	require.NoError(t, err)
	assert.True(t, at.IsZero())
	assert.Empty(t, result)

	now := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, st.SetLastSync(ctx, now, "2/2"))

	at, result, err = st.LastSync(ctx)
	require.NoError(t, err)
	assert.True(t, at.Equal(now))
	assert.Equal(t, "2/2", result)
}

func TestOfflineAuditRoundTrip(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	at, err := st.LastOffline(ctx)
	require.NoError(t, err)
	assert.True(t, at.IsZero())

	now := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, st.SetLastOffline(ctx, now))

	at, err = st.LastOffline(ctx)
	require.NoError(t, err)
	assert.True(t, at.Equal(now))
}
