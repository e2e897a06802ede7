package dashboard

import (
	"encoding/json"
	"log"
	"time"

	"github.com/orgplan/planner/internal/notify"
)

// RecordUpdateData describes a created, edited or deleted record
type RecordUpdateData struct {
	ID       string `json:"id"`
	Action   string `json:"action"`
	Title    string `json:"title,omitempty"`
	Status   string `json:"status,omitempty"`
	Date     string `json:"date,omitempty"`
	Owner    string `json:"owner,omitempty"`
	Priority string `json:"priority,omitempty"`
	Progress int    `json:"progress,omitempty"`
	Origin   string `json:"origin,omitempty"`
}

// DuplicatesData reports a duplicate cleanup
type DuplicatesData struct {
	Removed int   `json:"removed"`
	Total   int64 `json:"total"`
}

// PersistFailedData reports a total persistence failure
type PersistFailedData struct {
	Error  string `json:"error"`
	Backup string `json:"backup,omitempty"`
}

// Handler turns bus notifications into dashboard messages.
type Handler struct {
	server *Server
	stats  func() StatsData
	logger *log.Logger
}

// NewHandler creates a handler broadcasting through server. After every
// record change a stats message follows when stats is non-nil.
func NewHandler(server *Server, stats func() StatsData, logger *log.Logger) *Handler {
	if logger == nil {
		logger = server.logger
	}
	return &Handler{server: server, stats: stats, logger: logger}
}

// Attach subscribes the handler to every notification on bus. The returned
// func detaches it.
func (h *Handler) Attach(bus *notify.Bus) func() {
	return bus.Subscribe(h.OnNotification)
}

// OnNotification converts one notification.
func (h *Handler) OnNotification(n notify.Notification) {
	switch n.Kind {
	case notify.Created, notify.Edited, notify.Deleted:
		h.onRecord(n)
	case notify.ConflictDetected:
		h.send(MessageTypeConflict, n.Payload, n.At)
	case notify.DuplicatesRemoved:
		data := DuplicatesData{Removed: n.Count}
		if total, ok := n.Payload.(int64); ok {
			data.Total = total
		}
		h.send(MessageTypeDuplicates, data, n.At)
	case notify.PersistFailed:
		data := PersistFailedData{Backup: n.ID}
		switch v := n.Payload.(type) {
		case string:
			data.Error = v
		case error:
			data.Error = v.Error()
		}
		h.send(MessageTypePersistFailed, data, n.At)
	}
}

func (h *Handler) onRecord(n notify.Notification) {
	data := RecordUpdateData{ID: n.ID, Action: string(n.Kind)}
	typ := MessageTypeTaskUpdate

	switch n.Entity {
	case notify.EntityEvent:
		typ = MessageTypeEventUpdate
		if ev := n.Event; ev != nil {
			data.Title = ev.Title
			data.Status = string(ev.Status)
			data.Date = ev.Date
			data.Owner = ev.CreatedBy
		}
	case notify.EntityTask:
		if t := n.Task; t != nil {
			data.Title = t.Title
			data.Status = string(t.Status)
			data.Date = t.StartDate
			data.Owner = t.Responsible
			data.Priority = string(t.Priority)
			data.Progress = t.Progress
			data.Origin = t.SyncedFrom
		}
	}

	h.send(typ, data, n.At)
	if h.stats != nil {
		h.send(MessageTypeStats, h.stats(), time.Time{})
	}
}

func (h *Handler) send(typ MessageType, data any, at time.Time) {
	raw, err := json.Marshal(data)
	if err != nil {
		h.logger.Printf("Failed to marshal %s data: %v", typ, err)
		return
	}
	h.server.Broadcast(Message{Type: typ, Timestamp: at, Data: raw})
}
