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

var taskCmd = &cobra.Command{
	Use:     "task",
	GroupID: "records",
	Short:   "Create, edit, remove, list and promote tasks",
}

var taskAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Create a task",
	Long: `Create a task owned by one responsible person.

Examples:
  planner task add --title "Write report" --responsible dana --date tomorrow --priority high
  planner task add --title "Review" --responsible bob --date 2025-03-10 --start 10:30 --estimate 45
  planner task add -i`,
	Run: func(cmd *cobra.Command, args []string) {
		interactive, _ := cmd.Flags().GetBool("interactive")
		t := model.Task{}
		if err := taskFromFlags(cmd, &t); err != nil {
			fatal("%v", err)
		}

		if interactive || (t.Title == "" && ui.IsTerminal(os.Stdin)) {
			if err := taskForm(&t); err != nil {
				if errors.Is(err, errAborted) {
					return
				}
				fatal("%v", err)
			}
		}

		a, done := openApp()
		defer done()

		created, err := a.CreateTask(t)
		if err != nil {
			done()
			fatal("failed to create task: %v", err)
		}
		if jsonOutput {
			printJSON(created)
			return
		}
		fmt.Printf("%s Created task %s: %s\n", ui.RenderPass("✓"), ui.RenderAccent(created.ID), created.Title)
	},
}

var taskEditCmd = &cobra.Command{
	Use:   "edit <id>",
	Short: "Change fields of a task",
	Long: `Change fields of a task. Progress and status stay linked: --status done
sets progress to 100 and --progress 100 marks the task done.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		patch, err := taskPatchFromFlags(cmd)
		if err != nil {
			fatal("%v", err)
		}
		if patch.IsEmpty() {
			fatal("nothing to change")
		}

		a, done := openApp()
		defer done()

		updated, err := a.EditTask(args[0], patch)
		if err != nil {
			done()
			fatal("failed to edit task: %v", err)
		}
		if jsonOutput {
			printJSON(updated)
			return
		}
		fmt.Printf("%s Updated task %s (%s, %d%%)\n", ui.RenderPass("✓"), ui.RenderAccent(updated.ID), updated.Status, updated.Progress)
	},
}

var taskRmCmd = &cobra.Command{
	Use:     "rm <id>...",
	Aliases: []string{"delete"},
	Short:   "Delete tasks",
	Args:    cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		a, done := openApp()
		defer done()

		failed := false
		for _, id := range args {
			if err := a.DeleteTask(id); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				failed = true
				continue
			}
			fmt.Printf("%s Deleted task %s\n", ui.RenderPass("✓"), id)
		}
		if failed {
			done()
			os.Exit(1)
		}
	},
}

var taskLsCmd = &cobra.Command{
	Use:     "ls",
	Aliases: []string{"list"},
	Short:   "List tasks",
	Run: func(cmd *cobra.Command, args []string) {
		user, _ := cmd.Flags().GetString("user")
		status, _ := cmd.Flags().GetString("status")
		derived, _ := cmd.Flags().GetBool("derived")

		a, done := openApp()
		defer done()

		var tasks []model.Task
		switch {
		case user != "":
			tasks = a.QueryTasksForUser(user)
		case status != "":
			tasks = a.Store.TasksByStatus(model.TaskStatus(status))
		case derived:
			tasks = a.Store.AllDerivedTasks()
		default:
			tasks = a.ListTasks()
		}
		tasks = filterTasks(tasks, func(t model.Task) bool {
			if status != "" && t.Status != model.TaskStatus(status) {
				return false
			}
			return !derived || t.IsDerived()
		})

		if jsonOutput {
			printJSON(tasks)
			return
		}
		ui.Tasks(os.Stdout, tasks)
	},
}

var taskPromoteCmd = &cobra.Command{
	Use:   "promote <id>",
	Short: "Create an event from a task",
	Long: `Create an event from a task and link the two. The event takes the task's
date and time; without a start time it starts at promote.default_start and
lasts the task's estimate or promote.default_duration.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		a, done := openApp()
		defer done()

		ev, err := a.PromoteTaskToEvent(args[0])
		if err != nil {
			done()
			fatal("failed to promote task: %v", err)
		}
		if jsonOutput {
			printJSON(ev)
			return
		}
		fmt.Printf("%s Promoted task %s to event %s (%s %s-%s)\n",
			ui.RenderPass("✓"), args[0], ui.RenderAccent(ev.ID), ev.Date, ev.StartTime, ev.EndTime)
	},
}

func filterTasks(in []model.Task, keep func(model.Task) bool) []model.Task {
	var out []model.Task
	for _, t := range in {
		if keep(t) {
			out = append(out, t)
		}
	}
	return out
}

func addTaskFlags(cmd *cobra.Command) {
	cmd.Flags().String("title", "", "task title")
	cmd.Flags().String("responsible", "", "person responsible for the task")
	cmd.Flags().String("date", "", "start date (YYYY-MM-DD or natural language)")
	cmd.Flags().String("end-date", "", "end date (YYYY-MM-DD or natural language)")
	cmd.Flags().String("start", "", "start time (HH:MM)")
	cmd.Flags().String("end", "", "end time (HH:MM)")
	cmd.Flags().Int("estimate", 0, "estimated minutes")
	cmd.Flags().String("priority", "", "low|medium|high|critical")
	cmd.Flags().String("category", "", "personal|team|project|urgent|routine")
	cmd.Flags().String("status", "", "pending|in-progress|done|cancelled")
	cmd.Flags().Int("progress", 0, "progress percentage (0-100)")
	cmd.Flags().String("participants", "", "comma separated participants")
	cmd.Flags().String("description", "", "description")
	cmd.Flags().String("scope", "", "personal|team|public")
	cmd.Flags().String("visibility", "", "private|team|public")
}

func taskFromFlags(cmd *cobra.Command, t *model.Task) error {
	f := cmd.Flags()
	t.Title, _ = f.GetString("title")
	t.Responsible, _ = f.GetString("responsible")
	t.StartTime, _ = f.GetString("start")
	t.EndTime, _ = f.GetString("end")
	t.EstimatedMinutes, _ = f.GetInt("estimate")
	t.Progress, _ = f.GetInt("progress")
	t.Description, _ = f.GetString("description")
	t.CreatedBy, _ = f.GetString("by")

	people, _ := f.GetString("participants")
	t.Participants = splitPeople(people)

	priority, _ := f.GetString("priority")
	category, _ := f.GetString("category")
	status, _ := f.GetString("status")
	scope, _ := f.GetString("scope")
	visibility, _ := f.GetString("visibility")
	t.Priority = model.Priority(priority)
	t.Category = model.TaskCategory(category)
	t.Status = model.TaskStatus(status)
	t.Scope = model.Scope(scope)
	t.Visibility = model.Visibility(visibility)
	t.NormalizeProgress()

	var err error
	date, _ := f.GetString("date")
	if t.StartDate, err = parseDate(date, time.Now()); err != nil {
		return err
	}
	end, _ := f.GetString("end-date")
	t.EndDate, err = parseDate(end, time.Now())
	return err
}

func taskPatchFromFlags(cmd *cobra.Command) (model.TaskPatch, error) {
	var p model.TaskPatch
	f := cmd.Flags()

	str := func(name string) *string {
		if !f.Changed(name) {
			return nil
		}
		s, _ := f.GetString(name)
		return &s
	}
	num := func(name string) *int {
		if !f.Changed(name) {
			return nil
		}
		n, _ := f.GetInt(name)
		return &n
	}
	date := func(name string) (*string, error) {
		s := str(name)
		if s == nil {
			return nil, nil
		}
		d, err := parseDate(*s, time.Now())
		return &d, err
	}

	p.Title = str("title")
	p.Responsible = str("responsible")
	p.StartTime = str("start")
	p.EndTime = str("end")
	p.Description = str("description")
	p.EstimatedMinutes = num("estimate")
	p.Progress = num("progress")
	if s := str("priority"); s != nil {
		pr := model.Priority(*s)
		p.Priority = &pr
	}
	if s := str("category"); s != nil {
		c := model.TaskCategory(*s)
		p.Category = &c
	}
	if s := str("status"); s != nil {
		st := model.TaskStatus(*s)
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

	var err error
	if p.StartDate, err = date("date"); err != nil {
		return p, err
	}
	if p.EndDate, err = date("end-date"); err != nil {
		return p, err
	}
	return p, nil
}

func init() {
	addTaskFlags(taskAddCmd)
	taskAddCmd.Flags().String("by", "", "creator of the task")
	taskAddCmd.Flags().BoolP("interactive", "i", false, "fill the task in a form")

	addTaskFlags(taskEditCmd)

	taskLsCmd.Flags().String("user", "", "only tasks visible to this person")
	taskLsCmd.Flags().String("status", "", "only tasks with this status")
	taskLsCmd.Flags().Bool("derived", false, "only tasks derived from events")

	taskCmd.AddCommand(taskAddCmd, taskEditCmd, taskRmCmd, taskLsCmd, taskPromoteCmd)
	rootCmd.AddCommand(taskCmd)
}
