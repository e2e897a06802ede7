package handlers

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/orgplan/planner/internal/api/middleware"
	"github.com/orgplan/planner/internal/conflict"
	"github.com/orgplan/planner/internal/export"
)

// SyncNow runs a fan-out pass immediately. A pass already in flight makes
// this one report skipped.
func SyncNow(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := svc.SyncEventsToTasks()
		if err != nil {
			middleware.WriteServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// ListConflicts runs the detector and returns its findings, most severe
// first.
func ListConflicts(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conflicts := svc.DetectConflicts()
		if conflicts == nil {
			conflicts = []conflict.Conflict{}
		}
		writeJSON(w, http.StatusOK, conflicts)
	}
}

// UserCalendar serves the agenda of one person as an iCalendar feed.
func UserCalendar(svc Service, opts export.Options) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := mux.Vars(r)["id"]

		o := opts
		if o.Name == "" {
			o.Name = user
		}

		var buf bytes.Buffer
		err := export.Write(&buf, svc.QueryEventsForUser(user), svc.QueryTasksForUser(user), o)
		if err != nil {
			middleware.WriteServiceError(w, fmt.Errorf("failed to export calendar for %s: %w", user, err))
			return
		}

		w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", user+".ics"))
		_, _ = w.Write(buf.Bytes())
	}
}
