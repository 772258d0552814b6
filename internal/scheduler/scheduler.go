// Package scheduler registers deferred sync intent and fires drains later.
//
// There is no OS-provided background-sync facility to hand work to, so the
// concrete adapter is a periodic poller that only runs while the daemon is
// resident, the equivalent of an installed app context. One-shot CLI
// invocations use Noop: registering deferred work from a process about to
// exit would be a lie, so it deliberately registers nothing and the next
// daemon start or manual sync picks the queue up.
package scheduler

import (
	"context"
	"errors"
	"log"
	"os"
	"sync"
	"time"

	"github.com/tallyapp/tally/internal/schema"
	"github.com/tallyapp/tally/internal/syncer"
)

// Drainer is the slice of the sync engine the scheduler fires.
type Drainer interface {
	DrainNow(ctx context.Context) (syncer.Result, error)
}

// Scheduler registers deferred sync intent per mutation category.
type Scheduler interface {
	// Register notes that the category has pending work to deliver once
	// conditions allow. Registering an already-registered category is a
	// no-op.
	Register(category schema.SyncCategory)
}

// Noop is the scheduler for one-shot process contexts.
type Noop struct{}

// Register implements Scheduler by doing nothing.
func (Noop) Register(schema.SyncCategory) {}

// Poller fires registered categories on a timer while the daemon runs.
type Poller struct {
	drainer  Drainer
	interval time.Duration
	logger   *log.Logger

	mu   sync.Mutex
	tags map[schema.SyncCategory]bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPoller creates a poller firing at the given interval (default: 1m).
func NewPoller(drainer Drainer, interval time.Duration, logger *log.Logger) *Poller {
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[scheduler] ", log.LstdFlags)
	}
	return &Poller{
		drainer:  drainer,
		interval: interval,
		logger:   logger,
		tags:     make(map[schema.SyncCategory]bool),
	}
}

// Register implements Scheduler.
func (p *Poller) Register(category schema.SyncCategory) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.tags[category] {
		return
	}
	p.tags[category] = true
	p.logger.Printf("Registered deferred sync: %s", category)
}

// Registered returns the categories currently awaiting a deferred drain.
func (p *Poller) Registered() []schema.SyncCategory {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]schema.SyncCategory, 0, len(p.tags))
	for tag := range p.tags {
		out = append(out, tag)
	}
	return out
}

// Start begins the timer loop.
func (p *Poller) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.fire(ctx)
			}
		}
	}()
}

// Stop halts the timer loop.
func (p *Poller) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}

// fire runs a drain for the registered categories. The registration is only
// cleared when the pass fully succeeds; anything less reschedules.
func (p *Poller) fire(ctx context.Context) {
	p.mu.Lock()
	if len(p.tags) == 0 {
		p.mu.Unlock()
		return
	}
	firing := make([]schema.SyncCategory, 0, len(p.tags))
	for tag := range p.tags {
		firing = append(firing, tag)
	}
	p.mu.Unlock()

	result, err := p.drainer.DrainNow(ctx)
	if errors.Is(err, syncer.ErrDrainInProgress) {
		// Another trigger beat us to it; keep the tags for the next tick.
		return
	}
	if err != nil {
		p.logger.Printf("Deferred drain failed, rescheduling %v: %v", firing, err)
		return
	}
	if result.Synced < result.Total {
		p.logger.Printf("Deferred drain partial (%s), rescheduling %v", result, firing)
		return
	}

	p.mu.Lock()
	for _, tag := range firing {
		delete(p.tags, tag)
	}
	p.mu.Unlock()

	if result.Total > 0 {
		p.logger.Printf("Deferred drain complete: %s", result)
	}
}
