// Command planner manages a shared calendar of events and tasks.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/orgplan/planner/internal/app"
	"github.com/orgplan/planner/internal/config"
	"github.com/orgplan/planner/internal/logging"
	"github.com/orgplan/planner/internal/ui"
)

var (
	cfgFile    string
	jsonOutput bool
	verbose    bool

	// Set by the root command's PersistentPreRun.
	cfg *config.Config
	v   *viper.Viper
)

var rootCmd = &cobra.Command{
	Use:   "planner",
	Short: "Shared calendar of events and tasks",
	Long: `planner keeps one calendar of events and tasks for a team.

Events fan out into a task for every participant, tasks can be promoted to
events, and overlapping items on a person's agenda are reported as conflicts.
Data is written to a remote database when one is configured, and always to a
local SQLite file and a local JSON snapshot.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if cmd.Name() == "init" && cmd.Parent() != nil && cmd.Parent().Name() == "config" {
			return
		}
		var err error
		v, err = config.NewViper(cfgFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if f := cmd.Flags().Lookup("data-dir"); f != nil {
			_ = v.BindPFlag("data_dir", f)
		}
		if f := cmd.Flags().Lookup("addr"); f != nil {
			_ = v.BindPFlag("server.addr", f)
		}
		cfg, err = config.Decode(v)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "records", Title: "Records:"},
		&cobra.Group{ID: "sync", Title: "Synchronization:"},
		&cobra.Group{ID: "advanced", Title: "Advanced:"},
	)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./planner.toml or ~/.config/planner/planner.toml)")
	rootCmd.PersistentFlags().String("data-dir", "", "directory holding the local tiers (overrides data_dir)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print JSON instead of tables")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log component activity to stderr")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// openApp builds and opens the application for a one-shot command. The
// returned func flushes pending changes and releases the tiers.
func openApp() (*app.App, func()) {
	console := io.Discard
	if verbose {
		console = os.Stderr
	}
	logs := logging.Open(cfg.Log, console)

	a, err := app.New(cfg, logs, app.WithNotifier(cliNotifier{}))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	if _, err := a.Open(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	return a, func() {
		if err := a.Close(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "%s %v\n", ui.RenderWarn("Warning:"), err)
		}
		_ = logs.Close()
	}
}

// cliNotifier surfaces persistence messages on stderr.
type cliNotifier struct{}

func (cliNotifier) Success(msg string) {}

func (cliNotifier) Warning(msg string) {
	fmt.Fprintf(os.Stderr, "%s %s\n", ui.RenderWarn("Warning:"), msg)
}

func (cliNotifier) Error(msg string, err error) {
	fmt.Fprintf(os.Stderr, "%s %s: %v\n", ui.RenderFail("Error:"), msg, err)
}

// printJSON writes v as indented JSON to stdout.
func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "Error encoding JSON: %v\n", err)
		os.Exit(1)
	}
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
