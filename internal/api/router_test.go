package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/orgplan/planner/internal/api/middleware"
	"github.com/orgplan/planner/internal/app"
	"github.com/orgplan/planner/internal/config"
	"github.com/orgplan/planner/internal/conflict"
	"github.com/orgplan/planner/internal/export"
	"github.com/orgplan/planner/internal/logging"
	"github.com/orgplan/planner/internal/model"
	"github.com/orgplan/planner/internal/tier/flat"
)

func newTestApp(t *testing.T) *app.App {
	t.Helper()

	dir := t.TempDir()
	cfg := config.Default()
	cfg.DataDir = dir

	tier, err := flat.New(dir, "snapshot.json", -1)
	if err != nil {
		t.Fatalf("Failed to create flat tier: %v", err)
	}
	a, err := app.New(cfg, logging.Discard(), app.WithTiers(tier))
	if err != nil {
		t.Fatalf("Failed to create app: %v", err)
	}
	if _, err := a.Open(context.Background()); err != nil {
		t.Fatalf("Failed to open app: %v", err)
	}
	t.Cleanup(func() { _ = a.Close(context.Background()) })
	return a
}

func newTestRouter(t *testing.T) (*app.App, http.Handler) {
	t.Helper()
	a := newTestApp(t)
	r := NewRouter(a, Options{
		Export: export.Options{Location: time.UTC},
		Logger: log.New(io.Discard, "", 0),
	})
	return a, r
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var rd io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rd = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("Failed to marshal body: %v", err)
		}
		rd = bytes.NewReader(data)
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, rd))
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("Failed to decode response %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestEventLifecycle(t *testing.T) {
	_, r := newTestRouter(t)

	rec := do(t, r, http.MethodPost, "/api/events", map[string]any{
		"title":        "Kickoff",
		"date":         "2025-03-10",
		"start_time":   "10:00",
		"end_time":     "11:00",
		"participants": []string{"bob"},
		"created_by":   "alice",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	created := decode[model.Event](t, rec)
	if created.ID == "" {
		t.Fatal("Created event has no id")
	}

	rec = do(t, r, http.MethodGet, "/api/events?user=bob", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if list := decode[[]model.Event](t, rec); len(list) != 1 || list[0].ID != created.ID {
		t.Errorf("Agenda of bob = %+v, want the kickoff", list)
	}

	rec = do(t, r, http.MethodPatch, "/api/events/"+created.ID, map[string]any{"location": "Room 4"})
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := decode[model.Event](t, rec); got.Location != "Room 4" || got.Title != "Kickoff" {
		t.Errorf("Patched event = %+v", got)
	}

	rec = do(t, r, http.MethodDelete, "/api/events/"+created.ID, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("Expected 204, got %d", rec.Code)
	}

	rec = do(t, r, http.MethodGet, "/api/events/"+created.ID, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("Expected 404 after delete, got %d", rec.Code)
	}
	if e := decode[middleware.ErrorResponse](t, rec); e.Error != middleware.ErrNotFound {
		t.Errorf("Error code = %q, want %q", e.Error, middleware.ErrNotFound)
	}
}

func TestErrorMapping(t *testing.T) {
	_, r := newTestRouter(t)

	tests := []struct {
		name       string
		method     string
		path       string
		body       any
		wantStatus int
		wantCode   string
	}{
		{"malformed body", http.MethodPost, "/api/events", "{not json", http.StatusBadRequest, middleware.ErrBadRequest},
		{"missing title", http.MethodPost, "/api/events", map[string]any{"date": "2025-03-10"}, http.StatusBadRequest, middleware.ErrValidation},
		{"bad task date", http.MethodPost, "/api/tasks", map[string]any{"title": "x", "start_date": "10/03/2025", "responsible": "a"}, http.StatusBadRequest, middleware.ErrValidation},
		{"unknown event", http.MethodPatch, "/api/events/nope", map[string]any{"title": "x"}, http.StatusNotFound, middleware.ErrNotFound},
		{"unknown task", http.MethodDelete, "/api/tasks/nope", nil, http.StatusNotFound, middleware.ErrNotFound},
		{"promote unknown", http.MethodPost, "/api/tasks/nope/promote", nil, http.StatusNotFound, middleware.ErrNotFound},
		{"unknown endpoint", http.MethodGet, "/api/nothing", nil, http.StatusNotFound, middleware.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, r, tt.method, tt.path, tt.body)
			if rec.Code != tt.wantStatus {
				t.Fatalf("Expected %d, got %d: %s", tt.wantStatus, rec.Code, rec.Body.String())
			}
			if e := decode[middleware.ErrorResponse](t, rec); e.Error != tt.wantCode {
				t.Errorf("Error code = %q, want %q", e.Error, tt.wantCode)
			}
		})
	}
}

func TestValidationErrorCarriesField(t *testing.T) {
	_, r := newTestRouter(t)

	rec := do(t, r, http.MethodPost, "/api/tasks", map[string]any{"title": "Report", "start_date": "2025-03-10"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400, got %d", rec.Code)
	}
	if e := decode[middleware.ErrorResponse](t, rec); e.Field != "responsible" {
		t.Errorf("Field = %q, want responsible", e.Field)
	}
}

func TestPromoteTwice(t *testing.T) {
	_, r := newTestRouter(t)

	rec := do(t, r, http.MethodPost, "/api/tasks", map[string]any{
		"title":       "Write report",
		"start_date":  "2025-03-12",
		"responsible": "dana",
		"category":    "urgent",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	task := decode[model.Task](t, rec)

	rec = do(t, r, http.MethodPost, "/api/tasks/"+task.ID+"/promote", nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	ev := decode[model.Event](t, rec)
	if ev.Date != "2025-03-12" || ev.SourceTaskID != task.ID {
		t.Errorf("Promoted event = %+v", ev)
	}

	rec = do(t, r, http.MethodPost, "/api/tasks/"+task.ID+"/promote", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("Expected 409 on second promotion, got %d", rec.Code)
	}
	if e := decode[middleware.ErrorResponse](t, rec); e.Error != middleware.ErrConflict {
		t.Errorf("Error code = %q, want %q", e.Error, middleware.ErrConflict)
	}
}

func TestSyncAndConflicts(t *testing.T) {
	a, r := newTestRouter(t)

	if _, err := a.CreateEvent(model.Event{
		Title: "Kickoff", Date: "2025-03-10", StartTime: "10:00", EndTime: "11:00",
		Participants: []string{"bob"}, CreatedBy: "alice",
	}); err != nil {
		t.Fatalf("Failed to create event: %v", err)
	}
	if _, err := a.CreateTask(model.Task{
		Title: "Review", StartDate: "2025-03-10", StartTime: "10:30", EndTime: "11:30",
		Responsible: "bob", Priority: model.PriorityCritical,
	}); err != nil {
		t.Fatalf("Failed to create task: %v", err)
	}

	rec := do(t, r, http.MethodPost, "/api/sync", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	// A pass already running in the background may have served the request.
	derived := 0
	for deadline := time.Now().Add(2 * time.Second); time.Now().Before(deadline); time.Sleep(10 * time.Millisecond) {
		rec = do(t, r, http.MethodGet, "/api/tasks?user=bob", nil)
		derived = 0
		for _, task := range decode[[]model.Task](t, rec) {
			if task.SyncKind == model.SyncDerived {
				derived++
			}
		}
		if derived > 0 {
			break
		}
	}
	if derived != 1 {
		t.Errorf("Derived tasks visible to bob = %d, want 1", derived)
	}

	rec = do(t, r, http.MethodGet, "/api/conflicts", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	conflicts := decode[[]conflict.Conflict](t, rec)
	if len(conflicts) != 1 {
		t.Fatalf("Expected 1 conflict, got %d: %+v", len(conflicts), conflicts)
	}
	if c := conflicts[0]; c.Person != "bob" || c.Overlap != 30 {
		t.Errorf("Conflict = %+v, want bob with 30 minutes overlap", c)
	}
}

func TestHealthAndStatus(t *testing.T) {
	a, r := newTestRouter(t)

	if _, err := a.CreateTask(model.Task{Title: "T", StartDate: "2025-03-10", Responsible: "a"}); err != nil {
		t.Fatalf("Failed to create task: %v", err)
	}

	rec := do(t, r, http.MethodGet, "/api/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = do(t, r, http.MethodGet, "/api/status", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	st := decode[app.Status](t, rec)
	if st.Store.Tasks != 1 {
		t.Errorf("Status tasks = %d, want 1", st.Store.Tasks)
	}
	if len(st.Persist.Tiers) != 1 || st.Persist.Tiers[0].Name != "flat" {
		t.Errorf("Status tiers = %+v", st.Persist.Tiers)
	}
}

func TestUserCalendar(t *testing.T) {
	a, r := newTestRouter(t)

	if _, err := a.CreateEvent(model.Event{
		Title: "Standup", Date: "2025-03-10", StartTime: "09:00", EndTime: "09:15",
		Participants: []string{"carol"},
	}); err != nil {
		t.Fatalf("Failed to create event: %v", err)
	}

	rec := do(t, r, http.MethodGet, "/api/users/carol/calendar.ics", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/calendar") {
		t.Errorf("Content-Type = %q", ct)
	}
	body := rec.Body.String()
	for _, want := range []string{"BEGIN:VCALENDAR", "SUMMARY:Standup", "DTSTART:20250310T090000Z"} {
		if !strings.Contains(body, want) {
			t.Errorf("Calendar missing %q:\n%s", want, body)
		}
	}
}
