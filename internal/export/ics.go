// Package export renders a person's agenda as an iCalendar feed.
package export

import (
	"fmt"
	"io"
	"time"

	ics "github.com/arran4/golang-ical"

	"github.com/orgplan/planner/internal/model"
)

// ProductID is written to every calendar.
const ProductID = "-//orgplan//planner//EN"

// Options controls an export.
type Options struct {
	// Name is the calendar's display name.
	Name string

	// Location interprets the naive dates and times of records
	// (default: time.Local).
	Location *time.Location

	// DefaultDuration is used for timed tasks with no end and no estimate.
	DefaultDuration time.Duration

	// Now stamps DTSTAMP (default: time.Now).
	Now func() time.Time
}

// Calendar builds the calendar of events and tasks. Derived tasks whose
// origin event is part of the export are left out.
func Calendar(events []model.Event, tasks []model.Task, opts Options) (*ics.Calendar, error) {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.DefaultDuration <= 0 {
		opts.DefaultDuration = time.Hour
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	now := opts.Now().UTC()

	cal := ics.NewCalendar()
	cal.SetMethod(ics.MethodPublish)
	cal.SetProductId(ProductID)
	if opts.Name != "" {
		cal.SetXWRCalName(opts.Name)
	}

	exported := make(map[string]bool, len(events))
	for _, ev := range events {
		if err := addEvent(cal, ev, opts, now); err != nil {
			return nil, err
		}
		exported[ev.ID] = true
	}
	for _, t := range tasks {
		if t.SyncedFrom != "" && exported[t.SyncedFrom] {
			continue
		}
		if t.PromotedEventID != "" && exported[t.PromotedEventID] {
			continue
		}
		if err := addTask(cal, t, opts, now); err != nil {
			return nil, err
		}
	}
	return cal, nil
}

// Write serializes the calendar of events and tasks to w.
func Write(w io.Writer, events []model.Event, tasks []model.Task, opts Options) error {
	cal, err := Calendar(events, tasks, opts)
	if err != nil {
		return err
	}
	if err := cal.SerializeTo(w); err != nil {
		return fmt.Errorf("failed to write calendar: %w", err)
	}
	return nil
}

func addEvent(cal *ics.Calendar, ev model.Event, opts Options, now time.Time) error {
	day, err := localDay(ev.Date, opts.Location)
	if err != nil {
		return fmt.Errorf("event %s: %w", ev.ID, err)
	}

	ve := cal.AddEvent(ev.ID + "@planner")
	ve.SetDtStampTime(now)
	ve.SetCreatedTime(ev.CreatedAt)
	ve.SetModifiedAt(ev.UpdatedAt)
	ve.SetSummary(ev.Title)
	if ev.Description != "" {
		ve.SetDescription(ev.Description)
	}
	if ev.Location != "" {
		ve.SetLocation(ev.Location)
	}
	ve.SetProperty(ics.ComponentPropertyCategories, string(ev.Category))
	ve.SetStatus(eventStatus(ev.Status))
	if ev.CreatedBy != "" {
		ve.SetOrganizer(ev.CreatedBy)
	}
	for _, p := range ev.Participants {
		ve.AddAttendee(p)
	}

	if ev.StartTime == "" {
		ve.SetAllDayStartAt(day)
		ve.SetAllDayEndAt(day.AddDate(0, 0, 1))
		return nil
	}
	start, err := model.ParseClock(ev.StartTime)
	if err != nil {
		return fmt.Errorf("event %s: %w", ev.ID, err)
	}
	end := start + opts.DefaultDuration
	if ev.EndTime != "" {
		if e, err := model.ParseClock(ev.EndTime); err == nil && e > start {
			end = e
		}
	}
	ve.SetStartAt(day.Add(start))
	ve.SetEndAt(day.Add(end))
	return nil
}

func addTask(cal *ics.Calendar, t model.Task, opts Options, now time.Time) error {
	day, err := localDay(t.StartDate, opts.Location)
	if err != nil {
		return fmt.Errorf("task %s: %w", t.ID, err)
	}

	ve := cal.AddEvent(t.ID + "@planner")
	ve.SetDtStampTime(now)
	ve.SetCreatedTime(t.CreatedAt)
	ve.SetModifiedAt(t.UpdatedAt)
	ve.SetSummary(t.Title)
	if t.Description != "" {
		ve.SetDescription(t.Description)
	}
	ve.SetProperty(ics.ComponentPropertyCategories, "task,"+string(t.Category))
	ve.SetStatus(taskStatus(t.Status))
	ve.SetOrganizer(t.Responsible)
	for _, p := range t.Participants {
		ve.AddAttendee(p)
	}

	if t.StartTime == "" {
		last := day
		if t.EndDate != "" {
			if d, err := localDay(t.EndDate, opts.Location); err == nil && d.After(day) {
				last = d
			}
		}
		ve.SetAllDayStartAt(day)
		ve.SetAllDayEndAt(last.AddDate(0, 0, 1))
		return nil
	}

	start, err := model.ParseClock(t.StartTime)
	if err != nil {
		return fmt.Errorf("task %s: %w", t.ID, err)
	}
	end := start + opts.DefaultDuration
	switch {
	case t.EndTime != "":
		if e, err := model.ParseClock(t.EndTime); err == nil && e > start {
			end = e
		}
	case t.EstimatedMinutes > 0:
		end = start + time.Duration(t.EstimatedMinutes)*time.Minute
	}
	ve.SetStartAt(day.Add(start))
	ve.SetEndAt(day.Add(end))
	return nil
}

func localDay(date string, loc *time.Location) (time.Time, error) {
	d, err := model.ParseDate(date)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, loc), nil
}

func eventStatus(s model.EventStatus) ics.ObjectStatus {
	switch s {
	case model.EventConfirmed, model.EventDone:
		return ics.ObjectStatusConfirmed
	case model.EventCancelled:
		return ics.ObjectStatusCancelled
	}
	return ics.ObjectStatusTentative
}

func taskStatus(s model.TaskStatus) ics.ObjectStatus {
	switch s {
	case model.TaskDone:
		return ics.ObjectStatusCompleted
	case model.TaskCancelled:
		return ics.ObjectStatusCancelled
	case model.TaskInProgress:
		return ics.ObjectStatusInProcess
	}
	return ics.ObjectStatusNeedsAction
}
