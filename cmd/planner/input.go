package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"

	"github.com/orgplan/planner/internal/model"
)

var dateParser = func() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return w
}()

// parseDate accepts YYYY-MM-DD or natural language ("tomorrow", "next
// friday") relative to now, and returns YYYY-MM-DD.
func parseDate(s string, now time.Time) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", nil
	}
	if _, err := model.ParseDate(s); err == nil {
		return s, nil
	}

	r, err := dateParser.Parse(s, now)
	if err != nil {
		return "", fmt.Errorf("failed to parse date %q: %w", s, err)
	}
	if r == nil {
		return "", fmt.Errorf("cannot understand date %q", s)
	}
	return r.Time.Format(model.DateLayout), nil
}

// splitPeople turns "alice, bob" into [alice bob].
func splitPeople(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func requireText(field string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", field)
		}
		return nil
	}
}

func validDate(s string) error {
	_, err := parseDate(s, time.Now())
	return err
}

func validClock(s string) error {
	if s == "" {
		return nil
	}
	_, err := model.ParseClock(s)
	return err
}

// errAborted is returned when the user leaves a form.
var errAborted = errors.New("aborted")

// eventForm asks for the fields of a new event, starting from ev.
func eventForm(ev *model.Event) error {
	date := ev.Date
	people := strings.Join(ev.Participants, ", ")
	category := string(ev.Category)
	if category == "" {
		category = string(model.EventMeeting)
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().Title("Title").Value(&ev.Title).Validate(requireText("title")),
			huh.NewInput().Title("Date").Description("YYYY-MM-DD or e.g. \"next monday\"").Value(&date).Validate(validDate),
			huh.NewInput().Title("Start time").Placeholder("HH:MM").Value(&ev.StartTime).Validate(validClock),
			huh.NewInput().Title("End time").Placeholder("HH:MM").Value(&ev.EndTime).Validate(validClock),
		),
		huh.NewGroup(
			huh.NewSelect[string]().Title("Category").Options(huh.NewOptions(
				string(model.EventMeeting), string(model.EventDelivery), string(model.EventDeadline),
				string(model.EventMilestone), string(model.EventTeamMeeting), string(model.EventTraining),
				string(model.EventOther),
			)...).Value(&category),
			huh.NewInput().Title("Participants").Description("comma separated").Value(&people),
			huh.NewInput().Title("Location").Value(&ev.Location),
			huh.NewText().Title("Description").Value(&ev.Description),
		),
	)
	if err := form.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return errAborted
		}
		return err
	}

	var err error
	if ev.Date, err = parseDate(date, time.Now()); err != nil {
		return err
	}
	ev.Category = model.EventCategory(category)
	ev.Participants = splitPeople(people)
	return nil
}

// taskForm asks for the fields of a new task, starting from t.
func taskForm(t *model.Task) error {
	date := t.StartDate
	people := strings.Join(t.Participants, ", ")
	category := string(t.Category)
	if category == "" {
		category = string(model.TaskPersonal)
	}
	priority := string(t.Priority)
	if priority == "" {
		priority = string(model.PriorityMedium)
	}
	estimate := ""
	if t.EstimatedMinutes > 0 {
		estimate = fmt.Sprint(t.EstimatedMinutes)
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().Title("Title").Value(&t.Title).Validate(requireText("title")),
			huh.NewInput().Title("Responsible").Value(&t.Responsible).Validate(requireText("responsible")),
			huh.NewInput().Title("Start date").Description("YYYY-MM-DD or e.g. \"tomorrow\"").Value(&date).Validate(validDate),
			huh.NewInput().Title("Start time").Placeholder("HH:MM").Value(&t.StartTime).Validate(validClock),
			huh.NewInput().Title("Estimate (minutes)").Value(&estimate).Validate(func(s string) error {
				if s == "" {
					return nil
				}
				var n int
				if _, err := fmt.Sscan(s, &n); err != nil || n < 0 {
					return fmt.Errorf("estimate must be a non-negative number")
				}
				return nil
			}),
		),
		huh.NewGroup(
			huh.NewSelect[string]().Title("Priority").Options(huh.NewOptions(
				string(model.PriorityLow), string(model.PriorityMedium),
				string(model.PriorityHigh), string(model.PriorityCritical),
			)...).Value(&priority),
			huh.NewSelect[string]().Title("Category").Options(huh.NewOptions(
				string(model.TaskPersonal), string(model.TaskTeam), string(model.TaskProject),
				string(model.TaskUrgent), string(model.TaskRoutine),
			)...).Value(&category),
			huh.NewInput().Title("Participants").Description("comma separated").Value(&people),
			huh.NewText().Title("Description").Value(&t.Description),
		),
	)
	if err := form.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return errAborted
		}
		return err
	}

	var err error
	if t.StartDate, err = parseDate(date, time.Now()); err != nil {
		return err
	}
	if estimate != "" {
		_, _ = fmt.Sscan(estimate, &t.EstimatedMinutes)
	}
	t.Priority = model.Priority(priority)
	t.Category = model.TaskCategory(category)
	t.Participants = splitPeople(people)
	return nil
}
