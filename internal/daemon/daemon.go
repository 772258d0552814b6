// Package daemon runs the resident sync process.
//
// The daemon:
//  1. Runs the connectivity monitor and drains the queue on reconnect
//  2. Registers deferred sync with the poller when delivery is not possible
//  3. Optionally watches an import directory for habit JSON files dropped
//     by other devices (e.g. via a file-sync tool) and writes them through
//     the tracked put path so they queue and sync like local edits
//  4. Handles graceful shutdown
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/tallyapp/tally/internal/connectivity"
	"github.com/tallyapp/tally/internal/hub"
	"github.com/tallyapp/tally/internal/schema"
	"github.com/tallyapp/tally/internal/scheduler"
	"github.com/tallyapp/tally/internal/store"
	"github.com/tallyapp/tally/internal/syncer"
)

// Config holds daemon configuration.
type Config struct {
	// ImportDir, if set, is watched for habit JSON files to ingest.
	ImportDir string

	// DebounceInterval batches rapid file updates together (default: 100ms).
	DebounceInterval time.Duration

	// Logger for daemon activity (default: stderr logger).
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DebounceInterval: 100 * time.Millisecond,
		Logger:           log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Daemon wires the monitor, sync engine, scheduler, and hub together.
type Daemon struct {
	store   *store.Store
	syncer  *syncer.Syncer
	monitor *connectivity.Monitor
	poller  *scheduler.Poller
	hub     *hub.Server // optional
	config  *Config

	watcher       *fsnotify.Watcher
	changeQueue   map[string]time.Time
	changeQueueMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a daemon. hubServer may be nil (headless mode).
func New(st *store.Store, sy *syncer.Syncer, mon *connectivity.Monitor,
	poller *scheduler.Poller, hubServer *hub.Server, config *Config) (*Daemon, error) {
	if st == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if sy == nil {
		return nil, fmt.Errorf("syncer cannot be nil")
	}
	if mon == nil {
		return nil, fmt.Errorf("monitor cannot be nil")
	}
	if poller == nil {
		return nil, fmt.Errorf("poller cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.DebounceInterval <= 0 {
		config.DebounceInterval = 100 * time.Millisecond
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[daemon] ", log.LstdFlags)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Daemon{
		store:       st,
		syncer:      sy,
		monitor:     mon,
		poller:      poller,
		hub:         hubServer,
		config:      config,
		changeQueue: make(map[string]time.Time),
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// Start runs the daemon. Blocks until ctx is cancelled.
func (d *Daemon) Start(ctx context.Context) error {
	d.config.Logger.Println("Starting daemon")

	changes := d.monitor.Subscribe()
	d.monitor.Start(d.ctx)
	d.poller.Start(d.ctx)

	d.wg.Add(1)
	go d.watchConnectivity(changes)

	if d.config.ImportDir != "" {
		if err := d.startImportWatcher(); err != nil {
			return err
		}
	}

	// Anything left queued from a previous run gets a deferred registration
	// right away, and an immediate drain attempt if we're reachable.
	d.registerPending(d.ctx)
	go d.drain(d.ctx)

	select {
	case <-ctx.Done():
		d.config.Logger.Println("Shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Stop gracefully shuts down the daemon.
func (d *Daemon) Stop() error {
	d.config.Logger.Println("Stopping daemon")

	d.cancel()

	if d.watcher != nil {
		if err := d.watcher.Close(); err != nil {
			d.config.Logger.Printf("Error closing watcher: %v", err)
		}
	}

	d.poller.Stop()
	d.monitor.Stop()
	d.wg.Wait()

	d.config.Logger.Println("Daemon stopped")
	return nil
}

// watchConnectivity forwards transitions to the hub and drains on reconnect.
func (d *Daemon) watchConnectivity(changes <-chan connectivity.Change) {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return
		case change, ok := <-changes:
			if !ok {
				return
			}
			if d.hub != nil {
				d.hub.BroadcastConnectivity(change.Online)
			}
			if change.Online {
				d.config.Logger.Println("Reconnected, draining queue")
				go d.drain(d.ctx)
			}
		}
	}
}

// drain runs a foreground drain pass; anything left undelivered is handed
// to the scheduler.
func (d *Daemon) drain(ctx context.Context) {
	if !d.monitor.IsOnline() {
		d.registerPending(ctx)
		return
	}

	result, err := d.syncer.DrainNow(ctx)
	if errors.Is(err, syncer.ErrDrainInProgress) {
		return
	}
	if err != nil {
		d.config.Logger.Printf("Drain failed: %v", err)
	}
	if result.Synced < result.Total || err != nil {
		d.registerPending(ctx)
	}
}

// registerPending registers a deferred sync tag for every mutation category
// still in the queue.
func (d *Daemon) registerPending(ctx context.Context) {
	pending, err := d.store.ListPending(ctx)
	if err != nil {
		d.config.Logger.Printf("Warning: failed to inspect queue: %v", err)
		return
	}
	for _, m := range pending {
		d.poller.Register(m.Type.Category())
	}
}

// startImportWatcher begins watching the import directory.
func (d *Daemon) startImportWatcher() error {
	if err := os.MkdirAll(d.config.ImportDir, 0755); err != nil {
		return fmt.Errorf("failed to create import directory: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(d.config.ImportDir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch import directory: %w", err)
	}
	d.watcher = watcher

	d.config.Logger.Printf("Watching import directory: %s", d.config.ImportDir)

	d.wg.Add(2)
	go d.watchFileEvents()
	go d.processChangeQueue()

	return nil
}

// watchFileEvents queues filesystem events for debounced processing.
func (d *Daemon) watchFileEvents() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return

		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if filepath.Ext(event.Name) != ".json" {
				continue
			}
			d.queueChange(event.Name)

		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}

func (d *Daemon) queueChange(path string) {
	d.changeQueueMu.Lock()
	defer d.changeQueueMu.Unlock()
	d.changeQueue[path] = time.Now()
}

// processChangeQueue ingests files once they have been quiet for the
// debounce interval, batching rapid rewrites of the same file.
func (d *Daemon) processChangeQueue() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.DebounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			d.processPendingChanges()
		}
	}
}

func (d *Daemon) processPendingChanges() {
	d.changeQueueMu.Lock()
	now := time.Now()
	var ready []string
	for path, queuedAt := range d.changeQueue {
		if now.Sub(queuedAt) >= d.config.DebounceInterval {
			ready = append(ready, path)
			delete(d.changeQueue, path)
		}
	}
	d.changeQueueMu.Unlock()

	if len(ready) == 0 {
		return
	}

	for _, path := range ready {
		if err := d.importHabitFile(path); err != nil {
			d.config.Logger.Printf("Error importing %s: %v", filepath.Base(path), err)
		}
	}

	go d.drain(d.ctx)
}

// importHabitFile ingests one habit JSON file through the tracked write
// path. Files that vanished between the event and processing are skipped.
// Imports older than the stored copy are dropped (last-write-wins).
func (d *Daemon) importHabitFile(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	habit, err := schema.ReadHabitFile(path)
	if err != nil {
		return err
	}

	existing, err := d.store.GetHabit(d.ctx, habit.ID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	if existing != nil && !habit.LastUpdated.After(existing.LastUpdated) {
		d.config.Logger.Printf("Skipping stale import for %s", habit.ID)
		return nil
	}

	if err := d.store.PutHabitTracked(d.ctx, habit); err != nil {
		return err
	}

	d.config.Logger.Printf("Imported habit %s (%s)", habit.ID, habit.Name)
	return nil
}
