package notify

import (
	"bytes"
	"errors"
	"io"
	"log"
	"strings"
	"testing"
)

func TestBus_KindFilter(t *testing.T) {
	bus := NewBus(log.New(io.Discard, "", 0))

	var all, conflicts []Kind
	bus.Subscribe(func(n Notification) { all = append(all, n.Kind) })
	bus.Subscribe(func(n Notification) { conflicts = append(conflicts, n.Kind) }, ConflictDetected)

	bus.Emit(Notification{Kind: Created, Entity: EntityTask, ID: "t1"})
	bus.Emit(Notification{Kind: ConflictDetected})
	bus.Emit(Notification{Kind: Deleted, Entity: EntityEvent, ID: "e1"})

	if len(all) != 3 {
		t.Errorf("Expected 3 notifications for catch-all listener, got %d", len(all))
	}
	if len(conflicts) != 1 || conflicts[0] != ConflictDetected {
		t.Errorf("Filtered listener got %v, want [%s]", conflicts, ConflictDetected)
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus(log.New(io.Discard, "", 0))

	count := 0
	cancel := bus.Subscribe(func(Notification) { count++ })
	bus.Emit(Notification{Kind: Edited})
	cancel()
	bus.Emit(Notification{Kind: Edited})

	if count != 1 {
		t.Errorf("Expected 1 delivery before unsubscribe, got %d", count)
	}
}

func TestBus_StampsTime(t *testing.T) {
	bus := NewBus(log.New(io.Discard, "", 0))

	var got Notification
	bus.Subscribe(func(n Notification) { got = n })
	bus.Emit(Notification{Kind: Created})

	if got.At.IsZero() {
		t.Error("Expected emitted notification to carry a timestamp")
	}
}

func TestBus_PanickingListener(t *testing.T) {
	var buf bytes.Buffer
	bus := NewBus(log.New(&buf, "", 0))

	delivered := false
	bus.Subscribe(func(Notification) { panic("boom") })
	bus.Subscribe(func(Notification) { delivered = true })
	bus.Emit(Notification{Kind: DuplicatesRemoved, Count: 2})

	if !delivered {
		t.Error("Expected delivery to continue after a panicking listener")
	}
	if !strings.Contains(buf.String(), "WARNING: listener 1 panicked") {
		t.Errorf("Expected panic warning in log, got %q", buf.String())
	}
}

func TestBus_NilIsSafe(t *testing.T) {
	var bus *Bus
	bus.Emit(Notification{Kind: Created})
}

type recorder struct {
	lines []string
}

func (r *recorder) Success(msg string)          { r.lines = append(r.lines, "ok "+msg) }
func (r *recorder) Warning(msg string)          { r.lines = append(r.lines, "warn "+msg) }
func (r *recorder) Error(msg string, err error) { r.lines = append(r.lines, "err "+msg+": "+err.Error()) }

func TestNotifiers(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	m := Multi{a, b, Nop{}}

	m.Success("saved")
	m.Warning("remote offline")
	m.Error("persist failed", errors.New("disk full"))

	want := []string{"ok saved", "warn remote offline", "err persist failed: disk full"}
	for _, r := range []*recorder{a, b} {
		if strings.Join(r.lines, "|") != strings.Join(want, "|") {
			t.Errorf("Recorder got %v, want %v", r.lines, want)
		}
	}

	var buf bytes.Buffer
	ln := LogNotifier{Logger: log.New(&buf, "", 0)}
	ln.Warning("remote offline")
	ln.Error("persist failed", errors.New("disk full"))

	out := buf.String()
	if !strings.Contains(out, "WARNING: remote offline") || !strings.Contains(out, "ERROR: persist failed: disk full") {
		t.Errorf("Unexpected log output %q", out)
	}
}
