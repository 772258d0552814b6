// Package syncer drains the pending-write queue against the remote store.
//
// A drain pass walks every queued mutation and attempts network delivery
// with bounded per-item retries. Mutations for different targets are
// delivered concurrently through a small worker pool; mutations for the same
// target are serialized so last-write-wins ordering is preserved. Failed
// items stay queued for the next pass; a drain never discards work.
package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tallyapp/tally/internal/schema"
	"github.com/tallyapp/tally/internal/store"
)

// ErrDrainInProgress is returned when DrainNow is invoked while another
// drain is running. Triggers treat it as benign: the in-flight pass covers
// the same queue.
var ErrDrainInProgress = errors.New("drain already in progress")

// Result summarizes a drain pass for UI surfaces.
type Result struct {
	Synced int `json:"synced"`
	Total  int `json:"total"`
}

// String renders the summary the way the status surfaces display it.
func (r Result) String() string {
	if r.Total == 0 {
		return "nothing to sync"
	}
	if r.Synced == r.Total {
		return fmt.Sprintf("%d/%d", r.Synced, r.Total)
	}
	return fmt.Sprintf("%d/%d partial", r.Synced, r.Total)
}

// Remote is the slice of the remote client the syncer needs.
type Remote interface {
	SyncHabit(ctx context.Context, habit *schema.Habit) error
	SyncSettings(ctx context.Context, settings *schema.UserSettings) error
	DeleteHabit(ctx context.Context, id string) error
}

// Config holds syncer configuration.
type Config struct {
	// MaxAttempts bounds delivery attempts per item within one drain pass
	// (default: 3). After the cap the item stays queued for the next pass.
	MaxAttempts int

	// BackoffBase is the unit for exponential backoff between attempts:
	// delay after attempt n is BackoffBase << n (default: 1s, so 2s, 4s).
	BackoffBase time.Duration

	// MaxWorkers bounds concurrent per-target delivery (default: 4).
	MaxWorkers int

	// OnComplete, if set, receives the summary of every finished pass.
	OnComplete func(Result)

	// Logger for sync activity (default: stderr logger).
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		MaxAttempts: 3,
		BackoffBase: time.Second,
		MaxWorkers:  4,
		Logger:      log.New(os.Stderr, "[sync] ", log.LstdFlags),
	}
}

// Syncer delivers pending mutations to the remote store.
type Syncer struct {
	store    *store.Store
	remote   Remote
	config   *Config
	draining atomic.Bool
}

// New creates a syncer. If config is nil, defaults are used.
func New(st *store.Store, remote Remote, config *Config) *Syncer {
	if config == nil {
		config = DefaultConfig()
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 3
	}
	if config.BackoffBase <= 0 {
		config.BackoffBase = time.Second
	}
	if config.MaxWorkers <= 0 {
		config.MaxWorkers = 4
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	return &Syncer{store: st, remote: remote, config: config}
}

// Draining reports whether a drain pass is currently running.
func (s *Syncer) Draining() bool {
	return s.draining.Load()
}

// DrainNow attempts delivery of every pending mutation and returns the pass
// summary. Overlapping invocations (e.g. a reconnect event racing a
// scheduler tick) are coalesced: the second caller gets ErrDrainInProgress.
func (s *Syncer) DrainNow(ctx context.Context) (Result, error) {
	if !s.draining.CompareAndSwap(false, true) {
		return Result{}, ErrDrainInProgress
	}
	defer s.draining.Store(false)

	pending, err := s.store.ListPending(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("failed to list pending mutations: %w", err)
	}

	result := Result{Total: len(pending)}
	if len(pending) == 0 {
		s.finish(ctx, result)
		return result, nil
	}

	s.config.Logger.Printf("Draining %d pending mutation(s)", len(pending))

	// Group by target, preserving enqueue order within each group. Groups
	// drain concurrently; items within a group are serialized.
	var order []string
	groups := make(map[string][]*schema.PendingMutation)
	for _, m := range pending {
		if _, seen := groups[m.TargetID]; !seen {
			order = append(order, m.TargetID)
		}
		groups[m.TargetID] = append(groups[m.TargetID], m)
	}

	var synced atomic.Int64
	sem := make(chan struct{}, s.config.MaxWorkers)
	var wg sync.WaitGroup

	for _, target := range order {
		group := groups[target]
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			for _, m := range group {
				if ctx.Err() != nil {
					return
				}
				if s.deliver(ctx, m) {
					synced.Add(1)
				}
			}
		}()
	}
	wg.Wait()

	result.Synced = int(synced.Load())
	s.finish(ctx, result)
	return result, ctx.Err()
}

// finish records the pass outcome and notifies listeners.
func (s *Syncer) finish(ctx context.Context, result Result) {
	if err := s.store.SetLastSync(ctx, time.Now(), result.String()); err != nil {
		s.config.Logger.Printf("Warning: failed to record sync status: %v", err)
	}
	if result.Total > 0 {
		s.config.Logger.Printf("Drain complete: %s", result)
	}
	if s.config.OnComplete != nil {
		s.config.OnComplete(result)
	}
}

// deliver attempts one mutation with bounded retries and exponential
// backoff. Returns true once the remote acknowledged and the item was
// dequeued. On exhaustion the item stays queued for the next pass.
func (s *Syncer) deliver(ctx context.Context, m *schema.PendingMutation) bool {
	for attempt := 1; ; attempt++ {
		err := s.send(ctx, m)
		if err == nil {
			return s.ack(ctx, m)
		}

		var unmarshalErr *payloadError
		if errors.As(err, &unmarshalErr) {
			// A corrupt payload will never deliver. Abandon explicitly and
			// loudly rather than wedge the queue. The conditional dequeue
			// spares a payload rewritten since the pass listed the queue.
			s.config.Logger.Printf("ABANDONING mutation %s (%s %s): %v",
				m.ID, m.Type, m.TargetID, err)
			if _, derr := s.store.Dequeue(ctx, m.ID, m.EnqueuedAt); derr != nil {
				s.config.Logger.Printf("Warning: failed to remove abandoned mutation: %v", derr)
			}
			return false
		}

		if _, ierr := s.store.IncrementAttempts(ctx, m.ID); ierr != nil && !errors.Is(ierr, store.ErrNotFound) {
			s.config.Logger.Printf("Warning: failed to record attempt for %s: %v", m.ID, ierr)
		}

		if attempt >= s.config.MaxAttempts {
			s.config.Logger.Printf("Delivery failed for %s %s after %d attempt(s), leaving queued: %v",
				m.Type, m.TargetID, attempt, err)
			return false
		}

		delay := s.config.BackoffBase << uint(attempt)
		s.config.Logger.Printf("Delivery failed for %s %s (attempt %d), retrying in %s: %v",
			m.Type, m.TargetID, attempt, delay, err)

		select {
		case <-ctx.Done():
			return false
		case <-time.After(delay):
		}
	}
}

// ack dequeues a delivered mutation and finishes local bookkeeping for it.
// The dequeue is conditioned on the enqueued_at snapshot the drain listed:
// if a newer payload superseded the row while this one was on the wire, the
// row survives and the superseding payload goes out next pass.
func (s *Syncer) ack(ctx context.Context, m *schema.PendingMutation) bool {
	removed, err := s.store.Dequeue(ctx, m.ID, m.EnqueuedAt)
	if err != nil {
		// The remote accepted but the local dequeue failed; the next pass
		// redelivers and the remote overwrite makes that safe.
		s.config.Logger.Printf("Warning: failed to dequeue %s: %v", m.ID, err)
		return false
	}
	if !removed {
		s.config.Logger.Printf("Mutation %s %s superseded mid-delivery, keeping queued",
			m.Type, m.TargetID)
		return false
	}
	if m.Type == schema.MutationDeleteHabit {
		if err := s.store.PurgeHabit(ctx, m.TargetID); err != nil {
			s.config.Logger.Printf("Warning: failed to purge tombstone %s: %v", m.TargetID, err)
		}
	}
	return true
}

// payloadError marks a mutation payload that cannot be decoded.
type payloadError struct {
	err error
}

func (e *payloadError) Error() string { return e.err.Error() }
func (e *payloadError) Unwrap() error { return e.err }

// send performs a single network delivery for a mutation.
func (s *Syncer) send(ctx context.Context, m *schema.PendingMutation) error {
	switch m.Type {
	case schema.MutationSaveHabit, schema.MutationSaveCompletion:
		var habit schema.Habit
		if err := json.Unmarshal(m.Payload, &habit); err != nil {
			return &payloadError{fmt.Errorf("failed to decode habit payload: %w", err)}
		}
		return s.remote.SyncHabit(ctx, &habit)

	case schema.MutationDeleteHabit:
		return s.remote.DeleteHabit(ctx, m.TargetID)

	case schema.MutationSaveSettings:
		var settings schema.UserSettings
		if err := json.Unmarshal(m.Payload, &settings); err != nil {
			return &payloadError{fmt.Errorf("failed to decode settings payload: %w", err)}
		}
		return s.remote.SyncSettings(ctx, &settings)

	default:
		return &payloadError{fmt.Errorf("unknown mutation type %q", m.Type)}
	}
}
