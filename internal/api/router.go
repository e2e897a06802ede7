// Package api provides HTTP routing for the planner's JSON API.
package api

import (
	"log"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/orgplan/planner/internal/api/handlers"
	"github.com/orgplan/planner/internal/api/middleware"
	"github.com/orgplan/planner/internal/dashboard"
	"github.com/orgplan/planner/internal/export"
)

// Options configures NewRouter.
type Options struct {
	// Dashboard, when set, is mounted at /ws and /health.
	Dashboard *dashboard.Server

	// Export is the template for calendar feeds.
	Export export.Options

	// Logger for request lines (default: log.Default()).
	Logger *log.Logger
}

// NewRouter creates the HTTP router with all API routes.
func NewRouter(svc handlers.Service, opts Options) *mux.Router {
	r := mux.NewRouter()

	r.Use(middleware.Logging(opts.Logger))
	r.Use(middleware.ErrorRecovery)

	if opts.Dashboard != nil {
		opts.Dashboard.Mount(r)
	}

	api := r.PathPrefix("/api").Subrouter()

	// Health and status endpoints
	api.HandleFunc("/health", handlers.HealthCheck(svc)).Methods("GET")
	api.HandleFunc("/status", handlers.Status(svc)).Methods("GET")

	// Event endpoints
	api.HandleFunc("/events", handlers.ListEvents(svc)).Methods("GET")
	api.HandleFunc("/events", handlers.CreateEvent(svc)).Methods("POST")
	api.HandleFunc("/events/{id}", handlers.GetEvent(svc)).Methods("GET")
	api.HandleFunc("/events/{id}", handlers.UpdateEvent(svc)).Methods("PATCH")
	api.HandleFunc("/events/{id}", handlers.DeleteEvent(svc)).Methods("DELETE")

	// Task endpoints
	api.HandleFunc("/tasks", handlers.ListTasks(svc)).Methods("GET")
	api.HandleFunc("/tasks", handlers.CreateTask(svc)).Methods("POST")
	api.HandleFunc("/tasks/{id}", handlers.GetTask(svc)).Methods("GET")
	api.HandleFunc("/tasks/{id}", handlers.UpdateTask(svc)).Methods("PATCH")
	api.HandleFunc("/tasks/{id}", handlers.DeleteTask(svc)).Methods("DELETE")
	api.HandleFunc("/tasks/{id}/promote", handlers.PromoteTask(svc)).Methods("POST")

	// Synchronization and analysis
	api.HandleFunc("/sync", handlers.SyncNow(svc)).Methods("POST")
	api.HandleFunc("/conflicts", handlers.ListConflicts(svc)).Methods("GET")
	api.HandleFunc("/users/{id}/calendar.ics", handlers.UserCalendar(svc, opts.Export)).Methods("GET")

	api.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteError(w, http.StatusNotFound, middleware.ErrNotFound, "No such endpoint")
	})

	return r
}
