// Package dashboard pushes planner change notifications to WebSocket
// clients so calendar and task views can refresh without polling.
package dashboard

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/gorilla/mux"
)

// MessageType defines the type of dashboard message
type MessageType string

const (
	// MessageTypeEventUpdate indicates an event was created, edited, or deleted
	MessageTypeEventUpdate MessageType = "event_update"

	// MessageTypeTaskUpdate indicates a task was created, edited, or deleted
	MessageTypeTaskUpdate MessageType = "task_update"

	// MessageTypeConflict reports a newly detected scheduling conflict
	MessageTypeConflict MessageType = "conflict"

	// MessageTypeDuplicates reports duplicate derived tasks removed by the sync engine
	MessageTypeDuplicates MessageType = "duplicates_removed"

	// MessageTypePersistFailed reports a persistence round where every tier failed
	MessageTypePersistFailed MessageType = "persist_failed"

	// MessageTypeStats carries record counts
	MessageTypeStats MessageType = "stats"
)

// Message represents a dashboard broadcast message
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// StatsData contains record counts
type StatsData struct {
	Events       int            `json:"events"`
	Tasks        int            `json:"tasks"`
	TasksBy      map[string]int `json:"tasks_by_status"`
	DerivedTasks int            `json:"derived_tasks"`
	Unsynced     int            `json:"unsynced"`
}

// Server manages WebSocket connections and broadcasts dashboard messages
type Server struct {
	// WebSocket client management
	clients   map[*websocket.Conn]bool
	clientsMu sync.RWMutex

	// Message broadcasting
	broadcast chan Message

	// Lifecycle management
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool

	stats  func() StatsData
	logger *log.Logger
}

// Config holds server configuration
type Config struct {
	// Buffer is the capacity of the broadcast queue (default: 100)
	Buffer int

	// Stats supplies the snapshot sent to clients when they connect
	Stats func() StatsData

	// Logger for server activity (default: stderr logger)
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Buffer: 100,
		Logger: log.New(os.Stderr, "[dashboard] ", log.LstdFlags),
	}
}

// NewServer creates a new dashboard WebSocket server
func NewServer(config *Config) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = DefaultConfig().Logger
	}
	if config.Buffer <= 0 {
		config.Buffer = 100
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan Message, config.Buffer),
		ctx:       ctx,
		cancel:    cancel,
		stats:     config.Stats,
		logger:    config.Logger,
	}
}

// Mount registers the WebSocket and health endpoints on r.
func (s *Server) Mount(r *mux.Router) {
	r.HandleFunc("/ws", s.handleWebSocket)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
}

// Start runs the broadcast loop. The HTTP listener belongs to whoever
// mounted the server.
func (s *Server) Start() {
	if s.started {
		return
	}
	s.started = true
	s.wg.Add(1)
	go s.broadcastLoop()
}

// Stop closes every client and waits for the broadcast loop to exit.
func (s *Server) Stop() {
	s.logger.Println("Stopping dashboard")

	// Signal shutdown
	s.cancel()

	s.clientsMu.Lock()
	for conn := range s.clients {
		_ = conn.Close(websocket.StatusGoingAway, "Server shutting down")
		delete(s.clients, conn)
	}
	s.clientsMu.Unlock()

	s.wg.Wait()
}

// Broadcast queues a message for every connected client. It never blocks.
func (s *Server) Broadcast(msg Message) {
	select {
	case <-s.ctx.Done():
		return
	default:
	}

	select {
	case s.broadcast <- msg:
	default:
		s.logger.Println("WARNING: broadcast queue full, dropping message")
	}
}

// broadcastLoop handles message broadcasting to all clients
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

			// Writes happen outside the lock so a slow client only delays itself.
			for _, conn := range clients {
				ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
				err := conn.Write(ctx, websocket.MessageText, data)
				cancel()

				if err != nil {
					s.logger.Printf("Failed to send to client: %v", err)
					s.removeClient(conn)
				}
			}
		}
	}
}

// handleWebSocket upgrades HTTP connections to WebSocket
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
	clientCount := len(s.clients)
	s.clientsMu.Unlock()

	s.logger.Printf("Client connected (total: %d)", clientCount)

	// Welcome with the current counts
	welcome := Message{Type: MessageTypeStats, Timestamp: time.Now()}
	if s.stats != nil {
		welcome.Data, _ = json.Marshal(s.stats())
	}
	welcomeData, _ := json.Marshal(welcome)
	ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
	_ = conn.Write(ctx, websocket.MessageText, welcomeData)
	cancel()

	go s.readLoop(conn)
}

// readLoop keeps the connection open until the client goes away
func (s *Server) readLoop(conn *websocket.Conn) {
	defer s.removeClient(conn)

	for {
		if _, _, err := conn.Read(s.ctx); err != nil {
			return
		}
	}
}

// removeClient safely removes a client connection
func (s *Server) removeClient(conn *websocket.Conn) {
	s.clientsMu.Lock()
	if _, exists := s.clients[conn]; !exists {
		s.clientsMu.Unlock()
		return
	}
	delete(s.clients, conn)
	clientCount := len(s.clients)
	s.clientsMu.Unlock()

	_ = conn.Close(websocket.StatusNormalClosure, "")
	s.logger.Printf("Client disconnected (total: %d)", clientCount)
}

// handleHealth returns server health status
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":  "ok",
		"clients": s.ClientCount(),
	})
}

// ClientCount returns the current number of connected clients
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}
