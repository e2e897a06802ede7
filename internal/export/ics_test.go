package export

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/orgplan/planner/internal/model"
)

func fixedOptions() Options {
	return Options{
		Name:     "alice",
		Location: time.UTC,
		Now:      func() time.Time { return time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC) },
	}
}

func TestWrite(t *testing.T) {
	events := []model.Event{{
		ID:           "ev-1",
		Title:        "Planning",
		Date:         "2025-03-10",
		StartTime:    "09:00",
		EndTime:      "10:00",
		Status:       model.EventConfirmed,
		Category:     model.EventMeeting,
		Participants: []string{"alice", "bob"},
	}}
	tasks := []model.Task{
		{
			ID:          "tk-1",
			Title:       "Report",
			StartDate:   "2025-03-11",
			Status:      model.TaskPending,
			Category:    model.TaskProject,
			Responsible: "alice",
		},
		{
			ID:               "tk-2",
			Title:            "Review",
			StartDate:        "2025-03-12",
			StartTime:        "14:00",
			EstimatedMinutes: 30,
			Status:           model.TaskInProgress,
			Responsible:      "alice",
		},
		{
			ID:          "tk-3",
			Title:       "[Event] Planning",
			StartDate:   "2025-03-10",
			Responsible: "alice",
			SyncKind:    model.SyncDerived,
			SyncedFrom:  "ev-1",
		},
	}

	var buf bytes.Buffer
	if err := Write(&buf, events, tasks, fixedOptions()); err != nil {
		t.Fatalf("Failed to write calendar: %v", err)
	}
	out := buf.String()

	wants := []string{
		"BEGIN:VCALENDAR",
		"UID:ev-1@planner",
		"SUMMARY:Planning",
		"DTSTART:20250310T090000Z",
		"DTEND:20250310T100000Z",
		"UID:tk-1@planner",
		"DTSTART;VALUE=DATE:20250311",
		"DTEND;VALUE=DATE:20250312",
		"DTSTART:20250312T140000Z",
		"DTEND:20250312T143000Z",
	}
	for _, want := range wants {
		if !strings.Contains(out, want) {
			t.Errorf("Calendar missing %q", want)
		}
	}
	if strings.Contains(out, "tk-3@planner") {
		t.Error("Derived task of an exported event should be left out")
	}
	if n := strings.Count(out, "BEGIN:VEVENT"); n != 3 {
		t.Errorf("Expected 3 VEVENTs, got %d", n)
	}
}

func TestWrite_InvalidDate(t *testing.T) {
	var buf bytes.Buffer
	err := Write(&buf, []model.Event{{ID: "ev-1", Title: "Bad", Date: "10/03/2025"}}, nil, fixedOptions())
	if err == nil {
		t.Fatal("Expected error for invalid date")
	}
	if !strings.Contains(err.Error(), "ev-1") {
		t.Errorf("Error should name the record: %v", err)
	}
}
