package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/orgplan/planner/internal/config"
)

func TestLogger_Prefix(t *testing.T) {
	var buf bytes.Buffer
	out := Open(config.LogConfig{}, &buf)
	defer out.Close()

	out.Logger("persist").Printf("round complete")

	if !strings.Contains(buf.String(), "[persist] ") {
		t.Errorf("Expected component prefix, got %q", buf.String())
	}
	if err := out.Rotate(); err != nil {
		t.Errorf("Rotate without a file should be a no-op, got %v", err)
	}
}

func TestLogger_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "planner.log")
	var console bytes.Buffer
	out := Open(config.LogConfig{File: path, MaxSizeMB: 1, MaxBackups: 1}, &console)

	out.Logger("daemon").Println("started")
	if err := out.Close(); err != nil {
		t.Fatalf("Failed to close log output: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}
	if !strings.HasPrefix(string(data), "[daemon] ") || !strings.Contains(string(data), "started") {
		t.Errorf("Log file missing entry: %q", data)
	}
	if !strings.Contains(console.String(), "started") {
		t.Errorf("Console missing entry: %q", console.String())
	}
}

func TestDiscard(t *testing.T) {
	out := Discard()
	out.Logger("x").Println("dropped")
	if err := out.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
}
