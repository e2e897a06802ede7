package model

import (
	"fmt"
	"time"
)

const (
	// DateLayout is the wire format of calendar dates.
	DateLayout = "2006-01-02"
	// ClockLayout is the wire format of times of day.
	ClockLayout = "15:04"
)

// Clock returns the current time. Components take one so tests can pin it.
type Clock func() time.Time

// ParseDate parses a YYYY-MM-DD calendar date.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q (want YYYY-MM-DD)", s)
	}
	return t, nil
}

// ParseClock parses an HH:MM time of day into an offset from midnight.
func ParseClock(s string) (time.Duration, error) {
	t, err := time.Parse(ClockLayout, s)
	if err != nil {
		return 0, fmt.Errorf("invalid time %q (want HH:MM)", s)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

// FormatClock renders an offset from midnight as HH:MM. Offsets past
// midnight are clamped to 23:59.
func FormatClock(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	if d >= 24*time.Hour {
		d = 24*time.Hour - time.Minute
	}
	return fmt.Sprintf("%02d:%02d", int(d/time.Hour), int(d%time.Hour/time.Minute))
}

// Touch returns the next last-modified timestamp for a record whose previous
// timestamp is prev. The result never goes backwards.
func Touch(prev, now time.Time) time.Time {
	if now.Before(prev) {
		return prev
	}
	return now
}
