// Package hub serves UI-facing surfaces: a WebSocket stream of connectivity
// and sync events, a no-store health endpoint, and the merged habit view
// over HTTP for local frontends.
package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/tallyapp/tally/internal/reconcile"
	"github.com/tallyapp/tally/internal/syncer"
)

// MessageType defines the type of hub broadcast message.
type MessageType string

const (
	// MessageTypeConnectivity indicates the online/offline state changed.
	MessageTypeConnectivity MessageType = "connectivity"

	// MessageTypeSyncComplete indicates a drain pass finished.
	MessageTypeSyncComplete MessageType = "sync_complete"

	// MessageTypeUpdateAvailable indicates a newer app build is available.
	MessageTypeUpdateAvailable MessageType = "update_available"
)

// Message is a hub broadcast envelope.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// ConnectivityData carries an online/offline transition.
type ConnectivityData struct {
	Online bool `json:"online"`
}

// Config holds server configuration.
type Config struct {
	// Addr to listen on (default: "127.0.0.1:7420").
	Addr string

	// Merger serves the /api/habits merged view; optional.
	Merger *reconcile.Merger

	// Logger for server activity (default: log.Default()).
	Logger *log.Logger
}

// Server manages WebSocket clients and the local HTTP API.
type Server struct {
	addr     string
	merger   *reconcile.Merger
	listener net.Listener
	server   *http.Server

	clients   map[*websocket.Conn]bool
	clientsMu sync.RWMutex

	broadcast chan Message

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *log.Logger
}

// NewServer creates a hub server.
func NewServer(config *Config) *Server {
	if config == nil {
		config = &Config{}
	}
	if config.Addr == "" {
		config.Addr = "127.0.0.1:7420"
	}
	if config.Logger == nil {
		config.Logger = log.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		addr:      config.Addr,
		merger:    config.Merger,
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan Message, 100),
		ctx:       ctx,
		cancel:    cancel,
		logger:    config.Logger,
	}
}

// Start begins serving. Non-blocking; use Stop to shut down.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "HEAD"},
	}))
	r.Get("/ws", s.handleWebSocket)
	r.Head("/health", s.handleHealth)
	r.Get("/health", s.handleHealth)
	r.Get("/api/habits", s.handleHabits)

	s.server = &http.Server{
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go s.broadcastLoop()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Printf("Hub listening on %s", ln.Addr())
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Printf("Hub server error: %v", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the server and all WebSocket connections.
func (s *Server) Stop() error {
	s.cancel()

	s.clientsMu.Lock()
	for conn := range s.clients {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		delete(s.clients, conn)
	}
	s.clientsMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("hub shutdown error: %w", err)
	}

	s.wg.Wait()
	return nil
}

// Addr returns the actual listening address.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ClientCount returns the number of connected WebSocket clients.
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

// Broadcast queues a message for every connected client. Never blocks; if
// the channel is full the message is dropped with a warning.
func (s *Server) Broadcast(msg Message) {
	select {
	case s.broadcast <- msg:
	case <-s.ctx.Done():
	default:
		s.logger.Println("Warning: broadcast channel full, dropping message")
	}
}

// BroadcastConnectivity publishes an online/offline transition.
func (s *Server) BroadcastConnectivity(online bool) {
	data, _ := json.Marshal(ConnectivityData{Online: online})
	s.Broadcast(Message{Type: MessageTypeConnectivity, Data: data})
}

// BroadcastSyncComplete publishes a drain pass summary.
func (s *Server) BroadcastSyncComplete(result syncer.Result) {
	data, _ := json.Marshal(result)
	s.Broadcast(Message{Type: MessageTypeSyncComplete, Data: data})
}

func (s *Server) broadcastLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return

		case msg := <-s.broadcast:
			if msg.Timestamp.IsZero() {
				msg.Timestamp = time.Now()
			}

			data, err := json.Marshal(msg)
			if err != nil {
				s.logger.Printf("Failed to marshal message: %v", err)
				continue
			}

			s.clientsMu.RLock()
			clients := make([]*websocket.Conn, 0, len(s.clients))
			for conn := range s.clients {
				clients = append(clients, conn)
			}
			s.clientsMu.RUnlock()

			for _, conn := range clients {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				err := conn.Write(ctx, websocket.MessageText, data)
				cancel()

				if err != nil {
					s.removeClient(conn)
				}
			}
		}
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	s.clientsMu.Lock()
	s.clients[conn] = true
	count := len(s.clients)
	s.clientsMu.Unlock()

	s.logger.Printf("UI client connected (total: %d)", count)

	go s.readLoop(conn)
}

// readLoop keeps the connection alive and detects client disconnects; client
// messages are not processed.
func (s *Server) readLoop(conn *websocket.Conn) {
	defer s.removeClient(conn)

	for {
		if _, _, err := conn.Read(s.ctx); err != nil {
			return
		}
	}
}

func (s *Server) removeClient(conn *websocket.Conn) {
	s.clientsMu.Lock()
	if _, exists := s.clients[conn]; exists {
		delete(s.clients, conn)
		count := len(s.clients)
		s.clientsMu.Unlock()

		_ = conn.Close(websocket.StatusNormalClosure, "")
		s.logger.Printf("UI client disconnected (total: %d)", count)
		return
	}
	s.clientsMu.Unlock()
}

// handleHealth answers reachability probes. No-store headers keep probes
// honest: a cached 200 would defeat the point.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if r.Method != http.MethodHead {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":  "ok",
			"clients": s.ClientCount(),
		})
	}
}

// handleHabits serves the merged habit view for an owner.
func (s *Server) handleHabits(w http.ResponseWriter, r *http.Request) {
	if s.merger == nil {
		http.Error(w, "merged view not available", http.StatusServiceUnavailable)
		return
	}
	ownerID := r.URL.Query().Get("ownerId")
	if ownerID == "" {
		http.Error(w, "ownerId is required", http.StatusBadRequest)
		return
	}

	habits, err := s.merger.MergedHabits(r.Context(), ownerID)
	if err != nil {
		s.logger.Printf("Failed to build merged view: %v", err)
		http.Error(w, "failed to load habits", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if habits == nil {
		habits = []*reconcile.MergedHabit{}
	}
	_ = json.NewEncoder(w).Encode(habits)
}
