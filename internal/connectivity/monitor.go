// Package connectivity provides a debounced, probe-verified online/offline
// signal.
//
// The OS-level link state alone is not trustworthy (a machine can hold an
// interface up with no route to anywhere), so the monitor issues lightweight
// HTTP probes against a health endpoint and only reports offline after the
// grace window has passed without a successful probe. Link-level down is
// trusted immediately.
package connectivity

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"sync"
	"time"
)

// Change is delivered to subscribers on every online/offline transition.
type Change struct {
	Online bool
	At     time.Time
}

// OfflineRecorder persists the connectivity audit timestamp. The store
// satisfies this interface.
type OfflineRecorder interface {
	SetLastOffline(ctx context.Context, at time.Time) error
}

// Config holds monitor configuration.
type Config struct {
	// ProbeURL is the health endpoint used for reachability probes.
	ProbeURL string

	// ProbeInterval is how often to probe (default: 30s).
	ProbeInterval time.Duration

	// ProbeTimeout bounds each probe request (default: 2s).
	ProbeTimeout time.Duration

	// GraceWindow is how recently a probe must have succeeded for a single
	// failure to be treated as transient (default: 60s).
	GraceWindow time.Duration

	// Recorder, if set, receives offline transitions for auditing.
	Recorder OfflineRecorder

	// Logger for monitor activity (default: stderr logger).
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults for the given probe URL.
func DefaultConfig(probeURL string) *Config {
	return &Config{
		ProbeURL:      probeURL,
		ProbeInterval: 30 * time.Second,
		ProbeTimeout:  2 * time.Second,
		GraceWindow:   60 * time.Second,
		Logger:        log.New(os.Stderr, "[monitor] ", log.LstdFlags),
	}
}

// Monitor tracks network reachability and notifies subscribers of changes.
type Monitor struct {
	config *Config
	client *http.Client

	mu          sync.Mutex
	known       bool // false until the first probe decides a state
	online      bool
	lastSuccess time.Time
	subs        []chan Change

	// linkUp and now are swappable for tests.
	linkUp func() bool
	now    func() time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a monitor. Call Start to begin probing.
func New(config *Config) *Monitor {
	if config == nil {
		config = DefaultConfig("")
	}
	if config.ProbeInterval == 0 {
		config.ProbeInterval = 30 * time.Second
	}
	if config.ProbeTimeout == 0 {
		config.ProbeTimeout = 2 * time.Second
	}
	if config.GraceWindow == 0 {
		config.GraceWindow = 60 * time.Second
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[monitor] ", log.LstdFlags)
	}

	return &Monitor{
		config: config,
		client: &http.Client{Timeout: config.ProbeTimeout},
		linkUp: linkUp,
		now:    time.Now,
	}
}

// Start begins the periodic probe loop. It probes once immediately so the
// state is known early, then on every interval tick.
func (m *Monitor) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		m.CheckNow(ctx)

		ticker := time.NewTicker(m.config.ProbeInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.CheckNow(ctx)
			}
		}
	}()
}

// Stop halts the probe loop and closes subscriber channels.
func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ch := range m.subs {
		close(ch)
	}
	m.subs = nil
}

// IsOnline returns the current debounced state. Before the first probe
// completes the monitor optimistically reports online so local-first writes
// attempt immediate delivery.
func (m *Monitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.known {
		return true
	}
	return m.online
}

// Subscribe returns a channel receiving every state transition, including
// the initial unknown->online/offline decision. The channel is closed on
// Stop. Slow subscribers miss intermediate transitions rather than blocking
// the monitor.
func (m *Monitor) Subscribe() <-chan Change {
	ch := make(chan Change, 8)
	m.mu.Lock()
	m.subs = append(m.subs, ch)
	m.mu.Unlock()
	return ch
}

// CheckNow forces an immediate probe and returns the resulting state.
//
// Decision rule: a link-level down is trusted immediately. Otherwise a
// successful probe means online; a failed probe only flips to offline when
// no probe has succeeded within the grace window (and immediately when no
// probe has ever succeeded).
func (m *Monitor) CheckNow(ctx context.Context) bool {
	if !m.linkUp() {
		m.setOnline(ctx, false)
		return false
	}

	err := m.probe(ctx)
	now := m.now()

	m.mu.Lock()
	if err == nil {
		m.lastSuccess = now
	}
	graceHolds := err != nil && !m.lastSuccess.IsZero() && now.Sub(m.lastSuccess) <= m.config.GraceWindow
	current := m.known && m.online
	m.mu.Unlock()

	switch {
	case err == nil:
		m.setOnline(ctx, true)
		return true
	case graceHolds:
		// Transient failure within the grace window; keep the current state.
		m.config.Logger.Printf("probe failed, holding state (last success %s ago): %v",
			now.Sub(m.lastSuccessTime()).Round(time.Second), err)
		return current
	default:
		m.setOnline(ctx, false)
		return false
	}
}

func (m *Monitor) lastSuccessTime() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastSuccess
}

// probe issues a cache-busted, no-store HEAD request against the health
// endpoint. Any transport error, timeout, or 5xx counts as a failure.
func (m *Monitor) probe(ctx context.Context) error {
	if m.config.ProbeURL == "" {
		return fmt.Errorf("no probe URL configured")
	}

	ctx, cancel := context.WithTimeout(ctx, m.config.ProbeTimeout)
	defer cancel()

	url := fmt.Sprintf("%s?t=%d", m.config.ProbeURL, m.now().UnixNano())
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Cache-Control", "no-store")

	resp, err := m.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("health endpoint returned %d", resp.StatusCode)
	}
	return nil
}

// setOnline applies a state transition, notifying subscribers and recording
// offline transitions for auditing.
func (m *Monitor) setOnline(ctx context.Context, online bool) {
	m.mu.Lock()
	if m.known && m.online == online {
		m.mu.Unlock()
		return
	}
	wasKnown := m.known
	m.known = true
	m.online = online
	at := m.now()
	subs := make([]chan Change, len(m.subs))
	copy(subs, m.subs)
	m.mu.Unlock()

	if wasKnown {
		if online {
			m.config.Logger.Printf("Connectivity restored")
		} else {
			m.config.Logger.Printf("Connectivity lost")
		}
	} else {
		m.config.Logger.Printf("Connectivity: online=%v", online)
	}

	if !online && m.config.Recorder != nil {
		if err := m.config.Recorder.SetLastOffline(ctx, at); err != nil {
			m.config.Logger.Printf("Warning: failed to record offline transition: %v", err)
		}
	}

	change := Change{Online: online, At: at}
	for _, ch := range subs {
		select {
		case ch <- change:
		default:
			// Slow subscriber; it will see the next transition.
		}
	}
}

// linkUp reports whether any non-loopback interface is up. This is the
// local analog of the platform's interface-level offline flag: when it says
// down, no probe is needed.
func linkUp() bool {
	ifaces, err := net.Interfaces()
	if err != nil {
		// Can't tell; let the probe decide.
		return true
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp != 0 && iface.Flags&net.FlagLoopback == 0 {
			return true
		}
	}
	return false
}
