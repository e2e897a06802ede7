package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/gorilla/mux"

	"github.com/orgplan/planner/internal/model"
	"github.com/orgplan/planner/internal/notify"
	"github.com/orgplan/planner/internal/store"
)

func startTestServer(t *testing.T, stats func() StatsData) (*Server, string) {
	t.Helper()

	server := NewServer(&Config{
		Stats:  stats,
		Logger: log.New(io.Discard, "", 0),
	})
	router := mux.NewRouter()
	server.Mount(router)
	server.Start()

	ts := httptest.NewServer(router)
	t.Cleanup(func() {
		server.Stop()
		ts.Close()
	})
	return server, "ws" + strings.TrimPrefix(ts.URL, "http")
}

func dial(t *testing.T, ctx context.Context, url string) *websocket.Conn {
	t.Helper()

	conn, _, err := websocket.Dial(ctx, url+"/ws", nil)
	if err != nil {
		t.Fatalf("Failed to connect WebSocket: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func readMessage(t *testing.T, ctx context.Context, conn *websocket.Conn) Message {
	t.Helper()

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Failed to read message: %v", err)
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("Failed to unmarshal message: %v", err)
	}
	return msg
}

func TestWebSocketConnection(t *testing.T) {
	server, url := startTestServer(t, func() StatsData { return StatsData{Events: 2, Tasks: 5} })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dial(t, ctx, url)
	msg := readMessage(t, ctx, conn)
	if msg.Type != MessageTypeStats {
		t.Fatalf("Expected welcome message type %s, got %s", MessageTypeStats, msg.Type)
	}

	var stats StatsData
	if err := json.Unmarshal(msg.Data, &stats); err != nil {
		t.Fatalf("Failed to unmarshal stats: %v", err)
	}
	if stats.Events != 2 || stats.Tasks != 5 {
		t.Errorf("Welcome stats = %+v, want 2 events and 5 tasks", stats)
	}

	if count := server.ClientCount(); count != 1 {
		t.Errorf("Expected 1 client, got %d", count)
	}
}

func TestMultipleClients(t *testing.T) {
	server, url := startTestServer(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	numClients := 3
	clients := make([]*websocket.Conn, numClients)
	for i := 0; i < numClients; i++ {
		clients[i] = dial(t, ctx, url)
		readMessage(t, ctx, clients[i])
	}

	if count := server.ClientCount(); count != numClients {
		t.Errorf("Expected %d clients, got %d", numClients, count)
	}

	server.Broadcast(Message{Type: MessageTypeDuplicates, Data: json.RawMessage(`{"removed":1}`)})
	for i, conn := range clients {
		if msg := readMessage(t, ctx, conn); msg.Type != MessageTypeDuplicates {
			t.Errorf("Client %d got %s, want %s", i, msg.Type, MessageTypeDuplicates)
		}
	}
}

func TestHandler_StoreNotifications(t *testing.T) {
	bus := notify.NewBus(log.New(io.Discard, "", 0))
	cfg := store.DefaultConfig()
	cfg.Logger = log.New(io.Discard, "", 0)
	s := store.New(bus, cfg)

	stats := func() StatsData {
		st := s.Stats()
		return StatsData{Events: st.Events, Tasks: st.Tasks}
	}
	server, url := startTestServer(t, stats)
	detach := NewHandler(server, stats, nil).Attach(bus)
	defer detach()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dial(t, ctx, url)
	readMessage(t, ctx, conn)

	task, err := s.CreateTask(model.Task{Title: "Report", StartDate: "2025-03-10", Responsible: "alice"})
	if err != nil {
		t.Fatalf("Failed to create task: %v", err)
	}

	msg := readMessage(t, ctx, conn)
	if msg.Type != MessageTypeTaskUpdate {
		t.Fatalf("Expected %s, got %s", MessageTypeTaskUpdate, msg.Type)
	}
	var data RecordUpdateData
	if err := json.Unmarshal(msg.Data, &data); err != nil {
		t.Fatalf("Failed to unmarshal record data: %v", err)
	}
	if data.ID != task.ID || data.Action != "created" || data.Owner != "alice" {
		t.Errorf("Record update = %+v", data)
	}

	msg = readMessage(t, ctx, conn)
	if msg.Type != MessageTypeStats {
		t.Fatalf("Expected stats after change, got %s", msg.Type)
	}
	var st StatsData
	if err := json.Unmarshal(msg.Data, &st); err != nil {
		t.Fatalf("Failed to unmarshal stats: %v", err)
	}
	if st.Tasks != 1 {
		t.Errorf("Stats tasks = %d, want 1", st.Tasks)
	}
}

func TestHandler_PersistFailed(t *testing.T) {
	server, url := startTestServer(t, nil)
	h := NewHandler(server, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dial(t, ctx, url)
	readMessage(t, ctx, conn)

	h.OnNotification(notify.Notification{
		Kind:    notify.PersistFailed,
		ID:      "/data/emergency-1.json",
		Payload: errors.New("all tiers failed"),
	})

	msg := readMessage(t, ctx, conn)
	if msg.Type != MessageTypePersistFailed {
		t.Fatalf("Expected %s, got %s", MessageTypePersistFailed, msg.Type)
	}
	var data PersistFailedData
	if err := json.Unmarshal(msg.Data, &data); err != nil {
		t.Fatalf("Failed to unmarshal data: %v", err)
	}
	if data.Error != "all tiers failed" || data.Backup != "/data/emergency-1.json" {
		t.Errorf("Persist failed data = %+v", data)
	}
}

func TestHealth(t *testing.T) {
	server := NewServer(&Config{Logger: log.New(io.Discard, "", 0)})
	router := mux.NewRouter()
	server.Mount(router)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("Failed to decode health: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("Health status = %v", body["status"])
	}
}

func TestBroadcastAfterStop(t *testing.T) {
	server := NewServer(&Config{Buffer: 1, Logger: log.New(io.Discard, "", 0)})
	server.Start()
	server.Stop()

	// Must neither block nor panic.
	server.Broadcast(Message{Type: MessageTypeStats})
	server.Broadcast(Message{Type: MessageTypeStats})
}
