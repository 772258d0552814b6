// Package reconcile produces the merged habit view the UI reads.
//
// The merge rule: start from the remote-sourced list when it is available,
// overlay every local habit with the same id (local always wins; it may
// hold check-ins the remote has not acknowledged yet), append purely-local
// habits created offline, and drop any id carrying a local delete marker
// even if the remote still lists it.
package reconcile

import (
	"context"
	"log"
	"os"
	"sort"

	"github.com/tallyapp/tally/internal/schema"
	"github.com/tallyapp/tally/internal/store"
)

// RemoteLister is the slice of the remote client the merger needs.
type RemoteLister interface {
	ListHabits(ctx context.Context, ownerID string) ([]*schema.Habit, error)
}

// ConnectivitySource reports whether remote reads are worth attempting.
type ConnectivitySource interface {
	IsOnline() bool
}

// MergedHabit is a habit tagged with its sync standing for UI display.
type MergedHabit struct {
	*schema.Habit

	// PendingSync is set when a queued mutation for this habit awaits
	// remote acknowledgment.
	PendingSync bool `json:"pending_sync"`

	// LocalOnly is set when the habit has never been confirmed remotely
	// (created while offline).
	LocalOnly bool `json:"local_only"`
}

// Merger overlays local store state on remote reads.
type Merger struct {
	store   *store.Store
	remote  RemoteLister
	monitor ConnectivitySource
	logger  *log.Logger
}

// New creates a merger. monitor may be nil, in which case remote reads are
// always attempted; logger nil gets a default.
func New(st *store.Store, remote RemoteLister, monitor ConnectivitySource, logger *log.Logger) *Merger {
	if logger == nil {
		logger = log.New(os.Stderr, "[merge] ", log.LstdFlags)
	}
	return &Merger{store: st, remote: remote, monitor: monitor, logger: logger}
}

// MergedHabits returns the single merged view of an owner's habits.
// A failed remote read degrades to the local-only view rather than erroring:
// the local store is the source of truth the user can always see.
func (m *Merger) MergedHabits(ctx context.Context, ownerID string) ([]*MergedHabit, error) {
	var remoteHabits []*schema.Habit
	if m.remote != nil && (m.monitor == nil || m.monitor.IsOnline()) {
		rh, err := m.remote.ListHabits(ctx, ownerID)
		if err != nil {
			m.logger.Printf("Remote read failed, serving local view: %v", err)
		} else {
			remoteHabits = rh
		}
	}

	local, err := m.store.ListHabits(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	pending, err := m.store.PendingTargets(ctx)
	if err != nil {
		return nil, err
	}

	localByID := make(map[string]*schema.Habit, len(local))
	deleted := make(map[string]bool)
	for _, h := range local {
		localByID[h.ID] = h
		if h.Deleted {
			deleted[h.ID] = true
		}
	}

	var merged []*MergedHabit
	seen := make(map[string]bool)

	for _, rh := range remoteHabits {
		seen[rh.ID] = true
		if deleted[rh.ID] {
			continue
		}
		habit := rh
		if lh, ok := localByID[rh.ID]; ok {
			habit = lh
		}
		merged = append(merged, &MergedHabit{
			Habit:       habit,
			PendingSync: pending[habit.ID],
		})
	}

	// Purely-local habits, appended in stable name order.
	var localOnly []*schema.Habit
	for _, lh := range local {
		if !seen[lh.ID] && !lh.Deleted {
			localOnly = append(localOnly, lh)
		}
	}
	sort.Slice(localOnly, func(i, j int) bool { return localOnly[i].Name < localOnly[j].Name })

	for _, lh := range localOnly {
		merged = append(merged, &MergedHabit{
			Habit:       lh,
			PendingSync: pending[lh.ID],
			LocalOnly:   true,
		})
	}

	return merged, nil
}
