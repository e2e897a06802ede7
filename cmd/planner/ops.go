package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/orgplan/planner/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Derive a task for every event participant now",
	Long: `Run one fan-out pass: every participant of every event gets exactly one
task derived from it. Extra copies left by earlier passes are removed.`,
	Run: func(cmd *cobra.Command, args []string) {
		a, done := openApp()
		defer done()

		res, err := a.SyncEventsToTasks()
		if err != nil {
			done()
			fatal("fan-out finished with errors: %v", err)
		}
		if jsonOutput {
			printJSON(res)
			return
		}
		fmt.Printf("%s Fan-out complete: %d created, %d duplicates removed\n",
			ui.RenderPass("✓"), res.Created, res.Removed)
	},
}

var sweepCmd = &cobra.Command{
	Use:     "sweep",
	GroupID: "sync",
	Short:   "Remove duplicate and orphaned derived tasks",
	Run: func(cmd *cobra.Command, args []string) {
		a, done := openApp()
		defer done()

		res := a.SweepDuplicates()
		if jsonOutput {
			printJSON(res)
			return
		}
		fmt.Printf("%s Sweep complete: %d duplicates, %d orphans removed\n",
			ui.RenderPass("✓"), res.Duplicates, res.Orphans)
	},
}

var conflictsCmd = &cobra.Command{
	Use:     "conflicts",
	GroupID: "sync",
	Short:   "Report overlapping items on each person's agenda",
	Run: func(cmd *cobra.Command, args []string) {
		user, _ := cmd.Flags().GetString("user")

		a, done := openApp()
		defer done()

		found := a.DetectConflicts()
		if user != "" {
			kept := found[:0]
			for _, c := range found {
				if c.Person == user {
					kept = append(kept, c)
				}
			}
			found = kept
		}

		if jsonOutput {
			printJSON(found)
			return
		}
		ui.Conflicts(os.Stdout, found)
	},
}

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "advanced",
	Short:   "Show record counts and storage tier health",
	Run: func(cmd *cobra.Command, args []string) {
		a, done := openApp()
		defer done()

		st := a.Status()
		if jsonOutput {
			printJSON(st)
			return
		}

		var b strings.Builder
		fmt.Fprintln(&b, ui.LabelValue("Events", st.Store.Events))
		fmt.Fprintln(&b, ui.LabelValue("Tasks", fmt.Sprintf("%d (%d derived)", st.Store.Tasks, st.Store.DerivedTask)))
		fmt.Fprintln(&b, ui.LabelValue("Unsaved", st.Store.DirtyEvents+st.Store.DirtyTasks))
		if st.LoadedFrom != "" {
			fmt.Fprintln(&b, ui.LabelValue("Loaded from", st.LoadedFrom))
		}
		fmt.Fprintln(&b, ui.LabelValue("Conflicts", len(a.DetectConflicts())))
		for _, tier := range st.Persist.Tiers {
			state := ui.RenderPass("available")
			if !tier.Available {
				state = ui.RenderFail("unavailable")
				if tier.LastError != "" {
					state += " " + ui.RenderMuted(tier.LastError)
				}
			}
			fmt.Fprintln(&b, ui.LabelValue("Tier "+tier.Name, state))
		}
		fmt.Println(ui.Panel(strings.TrimRight(b.String(), "\n")))
	},
}

func init() {
	conflictsCmd.Flags().String("user", "", "only conflicts of this person")

	rootCmd.AddCommand(syncCmd, sweepCmd, conflictsCmd, statusCmd)
}
