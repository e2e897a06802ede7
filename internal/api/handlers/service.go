// Package handlers provides HTTP request handlers for the API endpoints.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/orgplan/planner/internal/app"
	"github.com/orgplan/planner/internal/conflict"
	"github.com/orgplan/planner/internal/model"
	plansync "github.com/orgplan/planner/internal/sync"
)

// Service is the planner core as seen by the handlers. *app.App implements it.
type Service interface {
	CreateEvent(e model.Event) (model.Event, error)
	EditEvent(id string, patch model.EventPatch) (model.Event, error)
	DeleteEvent(id string) error
	GetEvent(id string) (model.Event, error)
	ListEvents() []model.Event
	QueryEventsForUser(user string) []model.Event

	CreateTask(t model.Task) (model.Task, error)
	EditTask(id string, patch model.TaskPatch) (model.Task, error)
	DeleteTask(id string) error
	GetTask(id string) (model.Task, error)
	ListTasks() []model.Task
	QueryTasksForUser(user string) []model.Task

	PromoteTaskToEvent(taskID string) (model.Event, error)
	SyncEventsToTasks() (plansync.Result, error)
	DetectConflicts() []conflict.Conflict
	Status() app.Status
}

var _ Service = (*app.App)(nil)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
