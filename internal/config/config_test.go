package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestWriteDefaultAndLoad(t *testing.T) {
	for _, name := range []string{"planner.toml", "planner.yaml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)
			if err := WriteDefault(path, false); err != nil {
				t.Fatalf("Failed to write default config: %v", err)
			}

			cfg, v, err := Load(path)
			if err != nil {
				t.Fatalf("Failed to load config: %v", err)
			}
			if v.ConfigFileUsed() != path {
				t.Errorf("ConfigFileUsed = %q, want %q", v.ConfigFileUsed(), path)
			}

			if cfg.Persist.Debounce != 2*time.Second {
				t.Errorf("persist.debounce = %s, want 2s", cfg.Persist.Debounce)
			}
			if cfg.Sync.SweepInterval != 5*time.Minute {
				t.Errorf("sync.sweep_interval = %s, want 5m", cfg.Sync.SweepInterval)
			}
			if cfg.Sync.OriginMarker != "[Event] " {
				t.Errorf("sync.origin_marker = %q", cfg.Sync.OriginMarker)
			}
			if cfg.Flat.MaxBytes != 5<<20 {
				t.Errorf("flat.max_bytes = %d, want %d", cfg.Flat.MaxBytes, 5<<20)
			}
			if cfg.Conflict.MaxResults != 50 {
				t.Errorf("conflict.max_results = %d, want 50", cfg.Conflict.MaxResults)
			}
			if cfg.Promote.DefaultStart != "09:00" {
				t.Errorf("promote.default_start = %q, want 09:00", cfg.Promote.DefaultStart)
			}
			if cfg.Remote.URL != "" {
				t.Errorf("remote.url = %q, want empty", cfg.Remote.URL)
			}
		})
	}
}

func TestLoad_FileOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "planner.toml")
	content := `data_dir = "/var/lib/planner"

[persist]
debounce = "500ms"
max_wait = "5s"

[conflict]
max_results = 10
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	cfg, _, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Persist.Debounce != 500*time.Millisecond {
		t.Errorf("persist.debounce = %s, want 500ms", cfg.Persist.Debounce)
	}
	if cfg.Persist.RetryInterval != 30*time.Second {
		t.Errorf("persist.retry_interval = %s, want default 30s", cfg.Persist.RetryInterval)
	}
	if cfg.Conflict.MaxResults != 10 {
		t.Errorf("conflict.max_results = %d, want 10", cfg.Conflict.MaxResults)
	}
	if got := cfg.LocalDBPath(); got != filepath.Join("/var/lib/planner", "planner.db") {
		t.Errorf("LocalDBPath = %q", got)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "planner.toml")
	if err := WriteDefault(path, false); err != nil {
		t.Fatalf("Failed to write default config: %v", err)
	}
	t.Setenv("PLANNER_PERSIST_DEBOUNCE", "7s")
	t.Setenv("PLANNER_SERVER_ADDR", "127.0.0.1:9999")

	cfg, _, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Persist.Debounce != 7*time.Second {
		t.Errorf("persist.debounce = %s, want 7s from env", cfg.Persist.Debounce)
	}
	if cfg.Server.Addr != "127.0.0.1:9999" {
		t.Errorf("server.addr = %q, want env value", cfg.Server.Addr)
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	if _, _, err := Load(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Error("Expected error for missing explicit config file")
	}
}

func TestWriteDefault_RefusesOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "planner.toml")
	if err := WriteDefault(path, false); err != nil {
		t.Fatalf("Failed to write default config: %v", err)
	}
	if err := WriteDefault(path, false); err == nil {
		t.Error("Expected error when config already exists")
	}
	if err := WriteDefault(path, true); err != nil {
		t.Errorf("Forced overwrite failed: %v", err)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		path := filepath.Join(t.TempDir(), "planner.toml")
		if err := WriteDefault(path, false); err != nil {
			t.Fatalf("Failed to write default config: %v", err)
		}
		cfg, _, err := Load(path)
		if err != nil {
			t.Fatalf("Failed to load config: %v", err)
		}
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "zero debounce", mutate: func(c *Config) { c.Persist.Debounce = 0 }, wantErr: "persist.debounce"},
		{name: "max wait below debounce", mutate: func(c *Config) { c.Persist.MaxWait = time.Second }, wantErr: "persist.max_wait"},
		{name: "zero sweep", mutate: func(c *Config) { c.Sync.SweepInterval = 0 }, wantErr: "sync.sweep_interval"},
		{name: "bad start", mutate: func(c *Config) { c.Promote.DefaultStart = "9am" }, wantErr: "promote.default_start"},
		{name: "no results", mutate: func(c *Config) { c.Conflict.MaxResults = 0 }, wantErr: "conflict.max_results"},
		{name: "no data dir", mutate: func(c *Config) { c.DataDir = "" }, wantErr: "data_dir"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error mentioning %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestEncode_Formats(t *testing.T) {
	settings := DefaultSettings()

	var buf bytes.Buffer
	if err := Encode(&buf, settings, "toml"); err != nil {
		t.Fatalf("Failed to encode toml: %v", err)
	}
	if !strings.Contains(buf.String(), `debounce = "2s"`) {
		t.Errorf("TOML output missing debounce:\n%s", buf.String())
	}

	buf.Reset()
	if err := Encode(&buf, settings, "yaml"); err != nil {
		t.Fatalf("Failed to encode yaml: %v", err)
	}
	if !strings.Contains(buf.String(), "debounce: 2s") {
		t.Errorf("YAML output missing debounce:\n%s", buf.String())
	}

	if err := Encode(&buf, settings, "ini"); err == nil {
		t.Error("Expected error for unsupported format")
	}
}
