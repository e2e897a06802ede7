// Package config loads planner configuration from a file, PLANNER_*
// environment variables and command-line flags, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/orgplan/planner/internal/model"
)

// EnvPrefix is the prefix of environment overrides (PLANNER_PERSIST_DEBOUNCE).
const EnvPrefix = "PLANNER"

// Config is the effective planner configuration.
type Config struct {
	DataDir  string         `mapstructure:"data_dir"`
	Persist  PersistConfig  `mapstructure:"persist"`
	Remote   RemoteConfig   `mapstructure:"remote"`
	Local    LocalConfig    `mapstructure:"local"`
	Flat     FlatConfig     `mapstructure:"flat"`
	Sync     SyncConfig     `mapstructure:"sync"`
	Conflict ConflictConfig `mapstructure:"conflict"`
	Promote  PromoteConfig  `mapstructure:"promote"`
	Query    QueryConfig    `mapstructure:"query"`
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
}

// PersistConfig tunes the debounced persistence scheduler.
type PersistConfig struct {
	Debounce      time.Duration `mapstructure:"debounce"`
	MaxWait       time.Duration `mapstructure:"max_wait"`
	RetryInterval time.Duration `mapstructure:"retry_interval"`
}

// RemoteConfig configures the remote synchronized tier. An empty URL means
// the tier is not configured.
type RemoteConfig struct {
	URL           string        `mapstructure:"url"`
	AuthToken     string        `mapstructure:"auth_token"`
	ProbeTimeout  time.Duration `mapstructure:"probe_timeout"`
	ProbeInterval time.Duration `mapstructure:"probe_interval"`
}

// LocalConfig configures the local transactional tier.
type LocalConfig struct {
	DBFile string `mapstructure:"db_file"`
}

// FlatConfig configures the local flat tier. A negative MaxBytes disables
// the size budget.
type FlatConfig struct {
	File     string `mapstructure:"file"`
	MaxBytes int64  `mapstructure:"max_bytes"`
}

type SyncConfig struct {
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	OriginMarker  string        `mapstructure:"origin_marker"`
}

type ConflictConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	MaxResults      int           `mapstructure:"max_results"`
	DefaultDuration time.Duration `mapstructure:"default_duration"`
}

type PromoteConfig struct {
	DefaultDuration time.Duration `mapstructure:"default_duration"`
	DefaultStart    string        `mapstructure:"default_start"`
}

type QueryConfig struct {
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// LogConfig controls log output. When File is empty logs go to stderr only.
type LogConfig struct {
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// defaults lists every key with its default value. Keys are set on each
// new viper instance so environment overrides work for all of them.
var defaults = map[string]any{
	"data_dir":                  ".planner",
	"persist.debounce":          2 * time.Second,
	"persist.max_wait":          10 * time.Second,
	"persist.retry_interval":    30 * time.Second,
	"remote.url":                "",
	"remote.auth_token":         "",
	"remote.probe_timeout":      3 * time.Second,
	"remote.probe_interval":     time.Minute,
	"local.db_file":             "planner.db",
	"flat.file":                 "snapshot.json",
	"flat.max_bytes":            int64(5 << 20),
	"sync.sweep_interval":       5 * time.Minute,
	"sync.origin_marker":        "[Event] ",
	"conflict.interval":         time.Minute,
	"conflict.max_results":      50,
	"conflict.default_duration": time.Hour,
	"promote.default_duration":  time.Hour,
	"promote.default_start":     "09:00",
	"query.cache_ttl":           30 * time.Second,
	"server.addr":               ":8080",
	"log.file":                  "",
	"log.max_size_mb":           10,
	"log.max_backups":           3,
	"log.max_age_days":          28,
	"log.compress":              false,
}

// NewViper returns a viper instance with defaults, environment overrides
// and the config file loaded. If path is empty, planner.{toml,yaml,json} is
// searched for in ./ and $HOME/.config/planner; a missing file is not an
// error.
func NewViper(path string) (*viper.Viper, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("planner")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "planner"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}
	return v, nil
}

// Decode unmarshals and validates the effective configuration.
func Decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the built-in configuration, ignoring files and the
// environment.
func Default() *Config {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	cfg, err := Decode(v)
	if err != nil {
		panic(fmt.Sprintf("config: built-in defaults are invalid: %v", err))
	}
	return cfg
}

// Load is NewViper followed by Decode.
func Load(path string) (*Config, *viper.Viper, error) {
	v, err := NewViper(path)
	if err != nil {
		return nil, nil, err
	}
	cfg, err := Decode(v)
	if err != nil {
		return nil, nil, err
	}
	return cfg, v, nil
}

// Validate rejects values the runtime cannot work with.
func (c *Config) Validate() error {
	positive := map[string]time.Duration{
		"persist.debounce":          c.Persist.Debounce,
		"persist.max_wait":          c.Persist.MaxWait,
		"persist.retry_interval":    c.Persist.RetryInterval,
		"remote.probe_timeout":      c.Remote.ProbeTimeout,
		"remote.probe_interval":     c.Remote.ProbeInterval,
		"sync.sweep_interval":       c.Sync.SweepInterval,
		"conflict.interval":         c.Conflict.Interval,
		"conflict.default_duration": c.Conflict.DefaultDuration,
		"promote.default_duration":  c.Promote.DefaultDuration,
	}
	for key, d := range positive {
		if d <= 0 {
			return fmt.Errorf("invalid config: %s must be positive, got %s", key, d)
		}
	}
	if c.Persist.MaxWait < c.Persist.Debounce {
		return fmt.Errorf("invalid config: persist.max_wait (%s) is shorter than persist.debounce (%s)", c.Persist.MaxWait, c.Persist.Debounce)
	}
	if c.Conflict.MaxResults <= 0 {
		return fmt.Errorf("invalid config: conflict.max_results must be positive, got %d", c.Conflict.MaxResults)
	}
	if _, err := model.ParseClock(c.Promote.DefaultStart); err != nil {
		return fmt.Errorf("invalid config: promote.default_start: %w", err)
	}
	if c.DataDir == "" {
		return errors.New("invalid config: data_dir is empty")
	}
	return nil
}

// ===== Paths =====

// LocalDBPath is the SQLite file of the local transactional tier.
func (c *Config) LocalDBPath() string {
	return c.resolve(c.Local.DBFile)
}

// FlatDir is the directory of the flat tier and its emergency dumps.
func (c *Config) FlatDir() string {
	return c.DataDir
}

// InboxDir is watched for JSON records dropped by external tools.
func (c *Config) InboxDir() string {
	return filepath.Join(c.DataDir, "inbox")
}

func (c *Config) resolve(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(c.DataDir, name)
}

// ===== Hot reload =====

// Watch re-decodes the config file whenever it changes and hands valid
// results to fn. Invalid edits are logged and ignored.
func Watch(v *viper.Viper, logger *log.Logger, fn func(*Config)) {
	if logger == nil {
		logger = log.New(os.Stderr, "[config] ", log.LstdFlags)
	}
	if v.ConfigFileUsed() == "" {
		return
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := Decode(v)
		if err != nil {
			logger.Printf("WARNING: ignoring config change in %s: %v", e.Name, err)
			return
		}
		logger.Printf("Config reloaded from %s", e.Name)
		fn(cfg)
	})
	v.WatchConfig()
}

// ===== Writing =====

// Settings returns the effective settings as a nested map with durations
// rendered as strings ("2s"), ready for encoding.
func Settings(v *viper.Viper) map[string]any {
	return stringifyDurations(v.AllSettings())
}

// DefaultSettings returns the default settings in the same shape.
func DefaultSettings() map[string]any {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	return Settings(v)
}

// Format picks an encoding from a file name: "yaml" for .yaml/.yml and
// "toml" otherwise.
func Format(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return "yaml"
	}
	return "toml"
}

// Encode writes settings to w as TOML or YAML.
func Encode(w io.Writer, settings map[string]any, format string) error {
	switch format {
	case "toml":
		if err := toml.NewEncoder(w).Encode(settings); err != nil {
			return fmt.Errorf("failed to encode toml: %w", err)
		}
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(settings); err != nil {
			return fmt.Errorf("failed to encode yaml: %w", err)
		}
		return enc.Close()
	default:
		return fmt.Errorf("unsupported config format %q", format)
	}
	return nil
}

// WriteDefault writes the default configuration to path. It refuses to
// overwrite an existing file unless force is set.
func WriteDefault(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file %s already exists", path)
		}
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	if err := Encode(f, DefaultSettings(), Format(path)); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func stringifyDurations(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		switch val := v.(type) {
		case time.Duration:
			out[k] = val.String()
		case map[string]any:
			out[k] = stringifyDurations(val)
		default:
			out[k] = v
		}
	}
	return out
}
