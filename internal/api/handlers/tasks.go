package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/orgplan/planner/internal/api/middleware"
	"github.com/orgplan/planner/internal/model"
)

// ListTasks returns every task, or the tasks visible to ?user=U.
func ListTasks(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var tasks []model.Task
		if user := r.URL.Query().Get("user"); user != "" {
			tasks = svc.QueryTasksForUser(user)
		} else {
			tasks = svc.ListTasks()
		}
		if tasks == nil {
			tasks = []model.Task{}
		}
		writeJSON(w, http.StatusOK, tasks)
	}
}

// GetTask returns one task.
func GetTask(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		task, err := svc.GetTask(mux.Vars(r)["id"])
		if err != nil {
			middleware.WriteServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, task)
	}
}

// CreateTask creates a task. Identity and provenance fields in the body
// are ignored.
func CreateTask(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req model.Task
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			middleware.WriteError(w, http.StatusBadRequest, middleware.ErrBadRequest, "Invalid request body")
			return
		}

		task, err := svc.CreateTask(req)
		if err != nil {
			middleware.WriteServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, task)
	}
}

// UpdateTask applies a partial update.
func UpdateTask(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var patch model.TaskPatch
		if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
			middleware.WriteError(w, http.StatusBadRequest, middleware.ErrBadRequest, "Invalid request body")
			return
		}

		task, err := svc.EditTask(mux.Vars(r)["id"], patch)
		if err != nil {
			middleware.WriteServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, task)
	}
}

// DeleteTask removes a task.
func DeleteTask(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := svc.DeleteTask(mux.Vars(r)["id"]); err != nil {
			middleware.WriteServiceError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// PromoteTask creates an event from a task and links the two.
func PromoteTask(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ev, err := svc.PromoteTaskToEvent(mux.Vars(r)["id"])
		if err != nil {
			middleware.WriteServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, ev)
	}
}
