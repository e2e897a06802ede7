package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/orgplan/planner/internal/api/middleware"
	"github.com/orgplan/planner/internal/model"
)

// ListEvents returns every event, or the agenda of ?user=U.
func ListEvents(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var events []model.Event
		if user := r.URL.Query().Get("user"); user != "" {
			events = svc.QueryEventsForUser(user)
		} else {
			events = svc.ListEvents()
		}
		if events == nil {
			events = []model.Event{}
		}
		writeJSON(w, http.StatusOK, events)
	}
}

// GetEvent returns one event.
func GetEvent(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ev, err := svc.GetEvent(mux.Vars(r)["id"])
		if err != nil {
			middleware.WriteServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, ev)
	}
}

// CreateEvent creates an event. Identity and provenance fields in the body
// are ignored.
func CreateEvent(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req model.Event
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			middleware.WriteError(w, http.StatusBadRequest, middleware.ErrBadRequest, "Invalid request body")
			return
		}

		ev, err := svc.CreateEvent(req)
		if err != nil {
			middleware.WriteServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, ev)
	}
}

// UpdateEvent applies a partial update.
func UpdateEvent(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var patch model.EventPatch
		if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
			middleware.WriteError(w, http.StatusBadRequest, middleware.ErrBadRequest, "Invalid request body")
			return
		}

		ev, err := svc.EditEvent(mux.Vars(r)["id"], patch)
		if err != nil {
			middleware.WriteServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, ev)
	}
}

// DeleteEvent removes an event and the tasks derived from it.
func DeleteEvent(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := svc.DeleteEvent(mux.Vars(r)["id"]); err != nil {
			middleware.WriteServiceError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
