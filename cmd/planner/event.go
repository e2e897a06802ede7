package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/orgplan/planner/internal/model"
	"github.com/orgplan/planner/internal/ui"
)

var eventCmd = &cobra.Command{
	Use:     "event",
	GroupID: "records",
	Short:   "Create, edit, remove and list events",
}

var eventAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Create an event",
	Long: `Create an event. Every participant gets a task derived from it.

Examples:
  planner event add --title "Kickoff" --date 2025-03-10 --start 10:00 --end 11:00 --participants alice,bob
  planner event add --title "Retro" --date "next friday" --category team-meeting
  planner event add -i`,
	Run: func(cmd *cobra.Command, args []string) {
		interactive, _ := cmd.Flags().GetBool("interactive")
		ev := model.Event{}
		if err := eventFromFlags(cmd, &ev); err != nil {
			fatal("%v", err)
		}

		if interactive || (ev.Title == "" && ui.IsTerminal(os.Stdin)) {
			if err := eventForm(&ev); err != nil {
				if errors.Is(err, errAborted) {
					return
				}
				fatal("%v", err)
			}
		}

		a, done := openApp()
		defer done()

		created, err := a.CreateEvent(ev)
		if err != nil {
			done()
			fatal("failed to create event: %v", err)
		}
		if jsonOutput {
			printJSON(created)
			return
		}
		fmt.Printf("%s Created event %s: %s\n", ui.RenderPass("✓"), ui.RenderAccent(created.ID), created.Title)
	},
}

var eventEditCmd = &cobra.Command{
	Use:   "edit <id>",
	Short: "Change fields of an event",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		patch, err := eventPatchFromFlags(cmd)
		if err != nil {
			fatal("%v", err)
		}

		a, done := openApp()
		defer done()

		updated, err := a.EditEvent(args[0], patch)
		if err != nil {
			done()
			fatal("failed to edit event: %v", err)
		}
		if jsonOutput {
			printJSON(updated)
			return
		}
		fmt.Printf("%s Updated event %s\n", ui.RenderPass("✓"), ui.RenderAccent(updated.ID))
	},
}

var eventRmCmd = &cobra.Command{
	Use:     "rm <id>...",
	Aliases: []string{"delete"},
	Short:   "Delete events and the tasks derived from them",
	Args:    cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		a, done := openApp()
		defer done()

		failed := false
		for _, id := range args {
			if err := a.DeleteEvent(id); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				failed = true
				continue
			}
			fmt.Printf("%s Deleted event %s\n", ui.RenderPass("✓"), id)
		}
		if failed {
			done()
			os.Exit(1)
		}
	},
}

var eventLsCmd = &cobra.Command{
	Use:     "ls",
	Aliases: []string{"list"},
	Short:   "List events",
	Run: func(cmd *cobra.Command, args []string) {
		user, _ := cmd.Flags().GetString("user")
		dateArg, _ := cmd.Flags().GetString("date")
		date, err := parseDate(dateArg, time.Now())
		if err != nil {
			fatal("%v", err)
		}

		a, done := openApp()
		defer done()

		var events []model.Event
		switch {
		case user != "":
			events = a.QueryEventsForUser(user)
		case date != "":
			events = a.Store.EventsOn(date)
		default:
			events = a.ListEvents()
		}
		if user != "" && date != "" {
			events = filterEvents(events, func(e model.Event) bool { return e.Date == date })
		}

		if jsonOutput {
			printJSON(events)
			return
		}
		ui.Events(os.Stdout, events)
	},
}

func filterEvents(in []model.Event, keep func(model.Event) bool) []model.Event {
	var out []model.Event
	for _, e := range in {
		if keep(e) {
			out = append(out, e)
		}
	}
	return out
}

func addEventFlags(cmd *cobra.Command) {
	cmd.Flags().String("title", "", "event title")
	cmd.Flags().String("date", "", "date (YYYY-MM-DD or natural language)")
	cmd.Flags().String("start", "", "start time (HH:MM)")
	cmd.Flags().String("end", "", "end time (HH:MM)")
	cmd.Flags().String("participants", "", "comma separated participants")
	cmd.Flags().String("category", "", "meeting|delivery|deadline|milestone|team-meeting|training|other")
	cmd.Flags().String("status", "", "scheduled|confirmed|done|cancelled")
	cmd.Flags().String("location", "", "location")
	cmd.Flags().String("description", "", "description")
	cmd.Flags().String("scope", "", "personal|team|public")
	cmd.Flags().String("visibility", "", "private|team|public")
}

func eventFromFlags(cmd *cobra.Command, ev *model.Event) error {
	f := cmd.Flags()
	ev.Title, _ = f.GetString("title")
	ev.StartTime, _ = f.GetString("start")
	ev.EndTime, _ = f.GetString("end")
	ev.Location, _ = f.GetString("location")
	ev.Description, _ = f.GetString("description")
	ev.CreatedBy, _ = f.GetString("by")

	people, _ := f.GetString("participants")
	ev.Participants = splitPeople(people)

	category, _ := f.GetString("category")
	status, _ := f.GetString("status")
	scope, _ := f.GetString("scope")
	visibility, _ := f.GetString("visibility")
	ev.Category = model.EventCategory(category)
	ev.Status = model.EventStatus(status)
	ev.Scope = model.Scope(scope)
	ev.Visibility = model.Visibility(visibility)

	date, _ := f.GetString("date")
	var err error
	ev.Date, err = parseDate(date, time.Now())
	return err
}

func eventPatchFromFlags(cmd *cobra.Command) (model.EventPatch, error) {
	var p model.EventPatch
	f := cmd.Flags()

	str := func(name string) *string {
		if !f.Changed(name) {
			return nil
		}
		s, _ := f.GetString(name)
		return &s
	}

	p.Title = str("title")
	p.StartTime = str("start")
	p.EndTime = str("end")
	p.Location = str("location")
	p.Description = str("description")
	if s := str("category"); s != nil {
		c := model.EventCategory(*s)
		p.Category = &c
	}
	if s := str("status"); s != nil {
		st := model.EventStatus(*s)
		p.Status = &st
	}
	if s := str("scope"); s != nil {
		sc := model.Scope(*s)
		p.Scope = &sc
	}
	if s := str("visibility"); s != nil {
		vis := model.Visibility(*s)
		p.Visibility = &vis
	}
	if s := str("participants"); s != nil {
		people := splitPeople(*s)
		p.Participants = &people
	}
	if s := str("date"); s != nil {
		date, err := parseDate(*s, time.Now())
		if err != nil {
			return p, err
		}
		p.Date = &date
	}
	return p, nil
}

func init() {
	addEventFlags(eventAddCmd)
	eventAddCmd.Flags().String("by", "", "creator of the event")
	eventAddCmd.Flags().BoolP("interactive", "i", false, "fill the event in a form")

	addEventFlags(eventEditCmd)

	eventLsCmd.Flags().String("user", "", "only events visible to this person")
	eventLsCmd.Flags().String("date", "", "only events on this date")

	eventCmd.AddCommand(eventAddCmd, eventEditCmd, eventRmCmd, eventLsCmd)
	rootCmd.AddCommand(eventCmd)
}
