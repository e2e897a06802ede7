package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/orgplan/planner/internal/api"
	"github.com/orgplan/planner/internal/app"
	"github.com/orgplan/planner/internal/config"
	"github.com/orgplan/planner/internal/daemon"
	"github.com/orgplan/planner/internal/dashboard"
	"github.com/orgplan/planner/internal/export"
	"github.com/orgplan/planner/internal/logging"
)

const shutdownTimeout = 15 * time.Second

var serveCmd = &cobra.Command{
	Use:     "serve",
	GroupID: "sync",
	Short:   "Run the HTTP API, the WebSocket dashboard and the background jobs",
	Long: `Run the planner as a long-lived service.

The service exposes the JSON API under /api, pushes change notifications to
WebSocket clients on /ws, imports JSON files dropped in <data_dir>/inbox,
and runs the scheduled sweep, conflict scan and remote probe. Interval
changes in the config file are applied without a restart.

On SIGINT or SIGTERM pending changes are written before exiting.

Example usage:
  planner serve                  # listen on server.addr (default :8080)
  planner serve --addr :9000`,
	Run: func(cmd *cobra.Command, args []string) {
		logs := logging.Open(cfg.Log, os.Stderr)
		defer logs.Close()
		logger := logs.Logger("serve")

		a, err := app.New(cfg, logs)
		if err != nil {
			fatal("%v", err)
		}

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		if _, err := a.Open(ctx); err != nil {
			fatal("%v", err)
		}

		stats := func() dashboard.StatsData {
			st := a.Store.Stats()
			byStatus := make(map[string]int)
			for _, t := range a.ListTasks() {
				byStatus[string(t.Status)]++
			}
			return dashboard.StatsData{
				Events:       st.Events,
				Tasks:        st.Tasks,
				TasksBy:      byStatus,
				DerivedTasks: st.DerivedTask,
				Unsynced:     st.DirtyEvents + st.DirtyTasks,
			}
		}
		dash := dashboard.NewServer(&dashboard.Config{Stats: stats, Logger: logs.Logger("dashboard")})
		detach := dashboard.NewHandler(dash, stats, nil).Attach(a.Bus)
		dash.Start()

		d, err := daemon.New(a, daemon.ConfigFrom(cfg, logs.Logger("daemon")))
		if err != nil {
			fatal("%v", err)
		}
		if err := d.Start(); err != nil {
			fatal("%v", err)
		}
		config.Watch(v, logs.Logger("config"), func(next *config.Config) {
			if err := d.Reload(next); err != nil {
				logger.Printf("WARNING: config reload rejected: %v", err)
			}
		})

		router := api.NewRouter(a, api.Options{
			Dashboard: dash,
			Export:    export.Options{DefaultDuration: cfg.Conflict.DefaultDuration},
			Logger:    logs.Logger("api"),
		})
		server := &http.Server{
			Addr:              cfg.Server.Addr,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		}

		serveErr := make(chan error, 1)
		go func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serveErr <- err
			}
			close(serveErr)
		}()

		fmt.Printf("Planner listening on %s\n", cfg.Server.Addr)
		fmt.Printf("API: http://localhost%s/api\n", cfg.Server.Addr)
		fmt.Printf("WebSocket endpoint: ws://localhost%s/ws\n", cfg.Server.Addr)
		fmt.Println("\nPress Ctrl+C to stop...")

		exitCode := 0
		select {
		case <-ctx.Done():
			fmt.Println("\nShutting down...")
		case err := <-serveErr:
			fmt.Fprintf(os.Stderr, "Error: server failed: %v\n", err)
			exitCode = 1
		}

		stopCtx, stopCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer stopCancel()

		if err := server.Shutdown(stopCtx); err != nil {
			logger.Printf("WARNING: HTTP shutdown: %v", err)
		}
		detach()
		dash.Stop()
		if err := d.Stop(stopCtx); err != nil {
			fmt.Fprintf(os.Stderr, "Error during shutdown: %v\n", err)
			exitCode = 1
		}
		if err := a.Close(stopCtx); err != nil {
			fmt.Fprintf(os.Stderr, "Error during shutdown: %v\n", err)
			exitCode = 1
		}

		if exitCode != 0 {
			os.Exit(exitCode)
		}
		fmt.Println("Planner stopped")
	},
}

func init() {
	serveCmd.Flags().String("addr", "", "listen address (overrides server.addr)")

	rootCmd.AddCommand(serveCmd)
}
