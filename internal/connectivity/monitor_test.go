package connectivity

import (
	"context"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// flakyHealth is a health endpoint whose status can be flipped mid-test.
type flakyHealth struct {
	mu     sync.Mutex
	status int
}

func (f *flakyHealth) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w.WriteHeader(f.status)
}

func (f *flakyHealth) set(status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status = status
}

// newTestMonitor wires a monitor to the given health endpoint with a fake
// clock and a link that is always up.
func newTestMonitor(t *testing.T, url string) (*Monitor, *time.Time) {
	t.Helper()

	config := DefaultConfig(url)
	config.Logger = log.New(io.Discard, "", 0)
	m := New(config)

	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	m.linkUp = func() bool { return true }
	m.now = func() time.Time { return now }
	return m, &now
}

func TestCheckNowOnline(t *testing.T) {
	health := &flakyHealth{status: http.StatusOK}
	srv := httptest.NewServer(health)
	defer srv.Close()

	m, _ := newTestMonitor(t, srv.URL)
	if !m.CheckNow(context.Background()) {
		t.Error("expected online with a healthy endpoint")
	}
	if !m.IsOnline() {
		t.Error("IsOnline() should report the probed state")
	}
}

func TestFirstFailureIsImmediatelyOffline(t *testing.T) {
	health := &flakyHealth{status: http.StatusInternalServerError}
	srv := httptest.NewServer(health)
	defer srv.Close()

	// No prior success exists, so there is nothing for the grace window to
	// protect.
	m, _ := newTestMonitor(t, srv.URL)
	if m.CheckNow(context.Background()) {
		t.Error("expected offline when no probe has ever succeeded")
	}
	if m.IsOnline() {
		t.Error("IsOnline() should report offline after the failed probe")
	}
}

func TestGraceWindowHoldsThroughTransientFailure(t *testing.T) {
	health := &flakyHealth{status: http.StatusOK}
	srv := httptest.NewServer(health)
	defer srv.Close()

	m, now := newTestMonitor(t, srv.URL)
	ctx := context.Background()

	if !m.CheckNow(ctx) {
		t.Fatal("expected initial probe to succeed")
	}

	// A failure 30s after the last success stays within the 60s grace
	// window: state holds.
	health.set(http.StatusInternalServerError)
	*now = now.Add(30 * time.Second)
	if !m.CheckNow(ctx) {
		t.Error("expected state to hold within the grace window")
	}

	// Past the window the monitor commits to offline.
	*now = now.Add(2 * time.Minute)
	if m.CheckNow(ctx) {
		t.Error("expected offline once the grace window expired")
	}
}

func TestLinkDownTrustedImmediately(t *testing.T) {
	health := &flakyHealth{status: http.StatusOK}
	srv := httptest.NewServer(health)
	defer srv.Close()

	m, _ := newTestMonitor(t, srv.URL)
	ctx := context.Background()

	if !m.CheckNow(ctx) {
		t.Fatal("expected initial probe to succeed")
	}

	// Even with a healthy endpoint and a fresh success, link-level down
	// wins without waiting out the grace window.
	m.linkUp = func() bool { return false }
	if m.CheckNow(ctx) {
		t.Error("expected immediate offline when the link is down")
	}
}

func TestIsOnlineOptimisticBeforeFirstProbe(t *testing.T) {
	m := New(&Config{ProbeURL: "http://127.0.0.1:0", Logger: log.New(io.Discard, "", 0)})
	if !m.IsOnline() {
		t.Error("expected optimistic online before any probe has run")
	}
}

func TestSubscribeSeesTransitions(t *testing.T) {
	health := &flakyHealth{status: http.StatusOK}
	srv := httptest.NewServer(health)
	defer srv.Close()

	m, now := newTestMonitor(t, srv.URL)
	ctx := context.Background()
	changes := m.Subscribe()

	m.CheckNow(ctx)
	select {
	case change := <-changes:
		if !change.Online {
			t.Errorf("expected online transition, got %+v", change)
		}
	default:
		t.Fatal("expected the initial transition to be delivered")
	}

	health.set(http.StatusInternalServerError)
	*now = now.Add(5 * time.Minute)
	m.CheckNow(ctx)
	select {
	case change := <-changes:
		if change.Online {
			t.Errorf("expected offline transition, got %+v", change)
		}
	default:
		t.Fatal("expected the offline transition to be delivered")
	}

	// A repeat of the same state is not a transition.
	*now = now.Add(5 * time.Minute)
	m.CheckNow(ctx)
	select {
	case change := <-changes:
		t.Errorf("unexpected duplicate notification: %+v", change)
	default:
	}
}

// auditRecorder captures offline transitions handed to the recorder.
type auditRecorder struct {
	mu    sync.Mutex
	times []time.Time
}

func (r *auditRecorder) SetLastOffline(ctx context.Context, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.times = append(r.times, at)
	return nil
}

func TestOfflineTransitionRecorded(t *testing.T) {
	health := &flakyHealth{status: http.StatusInternalServerError}
	srv := httptest.NewServer(health)
	defer srv.Close()

	m, _ := newTestMonitor(t, srv.URL)
	recorder := &auditRecorder{}
	m.config.Recorder = recorder

	m.CheckNow(context.Background())

	recorder.mu.Lock()
	defer recorder.mu.Unlock()
	if len(recorder.times) != 1 {
		t.Fatalf("expected 1 recorded offline transition, got %d", len(recorder.times))
	}
}

func TestStartAndStop(t *testing.T) {
	health := &flakyHealth{status: http.StatusOK}
	srv := httptest.NewServer(health)
	defer srv.Close()

	config := DefaultConfig(srv.URL)
	config.ProbeInterval = 10 * time.Millisecond
	config.Logger = log.New(io.Discard, "", 0)
	m := New(config)
	m.linkUp = func() bool { return true }

	changes := m.Subscribe()
	m.Start(context.Background())

	select {
	case change := <-changes:
		if !change.Online {
			t.Errorf("expected online transition, got %+v", change)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the initial probe")
	}

	// Stop closes subscriber channels.
	m.Stop()
	for range changes {
	}
}
