// Package ui renders planner output for the terminal.
package ui

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/orgplan/planner/internal/conflict"
	"github.com/orgplan/planner/internal/model"
)

var (
	colorAccent = lipgloss.Color("63")
	colorPass   = lipgloss.Color("42")
	colorWarn   = lipgloss.Color("214")
	colorFail   = lipgloss.Color("196")
	colorMuted  = lipgloss.Color("244")
)

var (
	accentStyle = lipgloss.NewStyle().Bold(true).Foreground(colorAccent)
	passStyle   = lipgloss.NewStyle().Bold(true).Foreground(colorPass)
	warnStyle   = lipgloss.NewStyle().Bold(true).Foreground(colorWarn)
	failStyle   = lipgloss.NewStyle().Bold(true).Foreground(colorFail)
	mutedStyle  = lipgloss.NewStyle().Foreground(colorMuted)
	headerStyle = lipgloss.NewStyle().Bold(true).Underline(true)
	panelStyle  = lipgloss.NewStyle().BorderStyle(lipgloss.RoundedBorder()).BorderForeground(colorMuted).Padding(0, 1)
)

func RenderAccent(s string) string { return accentStyle.Render(s) }
func RenderPass(s string) string   { return passStyle.Render(s) }
func RenderWarn(s string) string   { return warnStyle.Render(s) }
func RenderFail(s string) string   { return failStyle.Render(s) }
func RenderMuted(s string) string  { return mutedStyle.Render(s) }

// Panel draws s inside a rounded border.
func Panel(s string) string { return panelStyle.Render(s) }

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// Width returns the terminal width of f, or fallback when it is not a
// terminal.
func Width(f *os.File, fallback int) int {
	if !IsTerminal(f) {
		return fallback
	}
	w, _, err := term.GetSize(int(f.Fd()))
	if err != nil || w <= 0 {
		return fallback
	}
	return w
}

// LabelValue renders "label: value".
func LabelValue(label string, value any) string {
	return fmt.Sprintf("%s %v", accentStyle.Render(label+":"), value)
}

// EventStatus colours an event status.
func EventStatus(s model.EventStatus) string {
	switch s {
	case model.EventDone:
		return passStyle.Render(string(s))
	case model.EventConfirmed:
		return accentStyle.Render(string(s))
	case model.EventCancelled:
		return mutedStyle.Render(string(s))
	}
	return warnStyle.Render(string(s))
}

// TaskStatus colours a task status.
func TaskStatus(s model.TaskStatus) string {
	switch s {
	case model.TaskDone:
		return passStyle.Render(string(s))
	case model.TaskInProgress:
		return accentStyle.Render(string(s))
	case model.TaskCancelled:
		return mutedStyle.Render(string(s))
	}
	return warnStyle.Render(string(s))
}

// Priority colours a priority.
func Priority(p model.Priority) string {
	switch p {
	case model.PriorityCritical:
		return failStyle.Render(string(p))
	case model.PriorityHigh:
		return warnStyle.Render(string(p))
	case model.PriorityLow:
		return mutedStyle.Render(string(p))
	}
	return string(p)
}

// Severity renders a 1-5 conflict severity as a coloured gauge.
func Severity(n int) string {
	gauge := strings.Repeat("●", n) + strings.Repeat("○", max(0, 5-n))
	switch {
	case n >= 4:
		return failStyle.Render(gauge)
	case n >= 3:
		return warnStyle.Render(gauge)
	}
	return mutedStyle.Render(gauge)
}

// ===== Tables =====

func timeRange(start, end string) string {
	switch {
	case start == "":
		return "all day"
	case end == "":
		return start
	}
	return start + "-" + end
}

// table writes rows under a header with columns padded to their widest
// cell. Styled cells are measured with lipgloss so escape codes do not
// break alignment.
func table(w io.Writer, header []string, rows [][]string) {
	widths := make([]int, len(header))
	for i, h := range header {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			widths[i] = max(widths[i], lipgloss.Width(cell))
		}
	}

	line := func(cells []string, style func(string) string) {
		parts := make([]string, len(cells))
		for i, cell := range cells {
			pad := widths[i] - lipgloss.Width(cell)
			if style != nil {
				cell = style(cell)
			}
			parts[i] = cell + strings.Repeat(" ", pad)
		}
		fmt.Fprintln(w, strings.TrimRight(strings.Join(parts, "  "), " "))
	}

	line(header, func(s string) string { return headerStyle.Render(s) })
	for _, row := range rows {
		line(row, nil)
	}
}

// Events writes a table of events.
func Events(w io.Writer, events []model.Event) {
	if len(events) == 0 {
		fmt.Fprintln(w, mutedStyle.Render("No events"))
		return
	}
	rows := make([][]string, 0, len(events))
	for _, ev := range events {
		rows = append(rows, []string{
			ev.ID,
			ev.Date,
			timeRange(ev.StartTime, ev.EndTime),
			ev.Title,
			EventStatus(ev.Status),
			strings.Join(ev.Participants, ","),
		})
	}
	table(w, []string{"ID", "DATE", "TIME", "TITLE", "STATUS", "PARTICIPANTS"}, rows)
}

// Tasks writes a table of tasks.
func Tasks(w io.Writer, tasks []model.Task) {
	if len(tasks) == 0 {
		fmt.Fprintln(w, mutedStyle.Render("No tasks"))
		return
	}
	rows := make([][]string, 0, len(tasks))
	for _, t := range tasks {
		title := t.Title
		switch t.SyncKind {
		case model.SyncDerived:
			title += mutedStyle.Render(" ← " + t.SyncedFrom)
		case model.SyncPromoted:
			title += mutedStyle.Render(" → " + t.PromotedEventID)
		}
		rows = append(rows, []string{
			t.ID,
			t.StartDate,
			timeRange(t.StartTime, t.EndTime),
			title,
			TaskStatus(t.Status),
			Priority(t.Priority),
			fmt.Sprintf("%d%%", t.Progress),
			t.Responsible,
		})
	}
	table(w, []string{"ID", "DATE", "TIME", "TITLE", "STATUS", "PRIORITY", "PROGRESS", "OWNER"}, rows)
}

// Conflicts writes one block per conflict.
func Conflicts(w io.Writer, conflicts []conflict.Conflict) {
	if len(conflicts) == 0 {
		fmt.Fprintln(w, passStyle.Render("✓")+" No scheduling conflicts")
		return
	}
	for _, c := range conflicts {
		fmt.Fprintf(w, "%s %s %s  overlap %dm\n", Severity(c.Severity), accentStyle.Render(c.Person), c.Date, c.Overlap)
		fmt.Fprintf(w, "    %s %-5s %s-%s %s\n", mutedStyle.Render("a"), c.A.Kind, c.A.Start, c.A.End, c.A.Title)
		fmt.Fprintf(w, "    %s %-5s %s-%s %s\n", mutedStyle.Render("b"), c.B.Kind, c.B.Start, c.B.End, c.B.Title)
	}
}
