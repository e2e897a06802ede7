package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/orgplan/planner/internal/export"
	"github.com/orgplan/planner/internal/ui"
)

var exportCmd = &cobra.Command{
	Use:     "export",
	GroupID: "records",
	Short:   "Export a person's agenda as an iCalendar file",
	Long: `Export the events and dated tasks visible to a person as iCalendar (.ics).

Examples:
  planner export --user alice > alice.ics
  planner export --user alice -o alice.ics`,
	Run: func(cmd *cobra.Command, args []string) {
		user, _ := cmd.Flags().GetString("user")
		output, _ := cmd.Flags().GetString("output")
		if user == "" {
			fatal("--user is required")
		}

		a, done := openApp()
		defer done()

		var w io.Writer = os.Stdout
		if output != "" {
			f, err := os.Create(output)
			if err != nil {
				done()
				fatal("failed to create %s: %v", output, err)
			}
			defer f.Close()
			w = f
		}

		opts := export.Options{
			Name:            user,
			DefaultDuration: cfg.Conflict.DefaultDuration,
		}
		if err := export.Write(w, a.QueryEventsForUser(user), a.QueryTasksForUser(user), opts); err != nil {
			done()
			fatal("failed to export: %v", err)
		}
		if output != "" {
			fmt.Fprintf(os.Stderr, "%s Wrote %s\n", ui.RenderPass("✓"), output)
		}
	},
}

func init() {
	exportCmd.Flags().String("user", "", "person whose agenda is exported")
	exportCmd.Flags().StringP("output", "o", "", "write to a file instead of stdout")

	rootCmd.AddCommand(exportCmd)
}
