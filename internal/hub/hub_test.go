package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/tallyapp/tally/internal/reconcile"
	"github.com/tallyapp/tally/internal/schema"
	"github.com/tallyapp/tally/internal/store"
	"github.com/tallyapp/tally/internal/syncer"
)

func startTestServer(t *testing.T, merger *reconcile.Merger) *Server {
	t.Helper()
	s := NewServer(&Config{
		Addr:   "127.0.0.1:0",
		Merger: merger,
		Logger: log.New(io.Discard, "", 0),
	})
	if err := s.Start(); err != nil {
		t.Fatalf("failed to start hub: %v", err)
	}
	t.Cleanup(func() { _ = s.Stop() })
	return s
}

func TestHealthEndpoint(t *testing.T) {
	s := startTestServer(t, nil)

	resp, err := http.Get(fmt.Sprintf("http://%s/health", s.Addr()))
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	if got := resp.Header.Get("Cache-Control"); got != "no-store" {
		t.Errorf("Cache-Control = %q, want no-store", got)
	}
}

func TestHealthHeadForProbes(t *testing.T) {
	s := startTestServer(t, nil)

	resp, err := http.Head(fmt.Sprintf("http://%s/health", s.Addr()))
	if err != nil {
		t.Fatalf("HEAD request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestBroadcastReachesClient(t *testing.T) {
	s := startTestServer(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, fmt.Sprintf("ws://%s/ws", s.Addr()), nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	// Wait for the server to register the client before broadcasting.
	deadline := time.After(2 * time.Second)
	for s.ClientCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("client never registered")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	s.BroadcastSyncComplete(syncer.Result{Synced: 2, Total: 2})

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("websocket read failed: %v", err)
	}

	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("failed to decode message: %v", err)
	}
	if msg.Type != MessageTypeSyncComplete {
		t.Errorf("message type = %q, want %q", msg.Type, MessageTypeSyncComplete)
	}

	var result syncer.Result
	if err := json.Unmarshal(msg.Data, &result); err != nil {
		t.Fatalf("failed to decode payload: %v", err)
	}
	if result.Synced != 2 || result.Total != 2 {
		t.Errorf("result = %+v, want 2/2", result)
	}
}

func TestHabitsEndpoint(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "tally.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()

	habit := &schema.Habit{
		ID:           "h-1",
		OwnerID:      "owner-1",
		Name:         "Meditate",
		TrackingType: schema.TrackingBinary,
		Active:       true,
		LastUpdated:  time.Now().UTC(),
	}
	if err := st.PutHabitTracked(context.Background(), habit); err != nil {
		t.Fatal(err)
	}

	merger := reconcile.New(st, nil, nil, log.New(io.Discard, "", 0))
	s := startTestServer(t, merger)

	resp, err := http.Get(fmt.Sprintf("http://%s/api/habits?ownerId=owner-1", s.Addr()))
	if err != nil {
		t.Fatalf("habits request failed: %v", err)
	}
	defer resp.Body.Close()

	var habits []*reconcile.MergedHabit
	if err := json.NewDecoder(resp.Body).Decode(&habits); err != nil {
		t.Fatalf("failed to decode habits: %v", err)
	}
	if len(habits) != 1 || habits[0].ID != "h-1" {
		t.Errorf("habits = %+v", habits)
	}
	if !habits[0].PendingSync {
		t.Error("expected pending-sync tag on the unsynced habit")
	}
}

func TestHabitsEndpointRequiresOwner(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "tally.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()

	merger := reconcile.New(st, nil, nil, log.New(io.Discard, "", 0))
	s := startTestServer(t, merger)

	resp, err := http.Get(fmt.Sprintf("http://%s/api/habits", s.Addr()))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}
