// Package config loads the utimer YAML configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fentz26/utimer/internal/maintenance"
	"github.com/fentz26/utimer/internal/scheduler"
	"gopkg.in/yaml.v3"
)

// DefaultListen is the daemon's default API address.
const DefaultListen = "127.0.0.1:7477"

// Config holds the whole utimer configuration.
type Config struct {
	Daemon      DaemonConfig       `yaml:"daemon"`
	Store       StoreConfig        `yaml:"store"`
	Scheduler   scheduler.Config   `yaml:"scheduler"`
	Maintenance maintenance.Config `yaml:"maintenance"`
	Notify      NotifyConfig       `yaml:"notify"`
	Log         LogConfig          `yaml:"log"`
}

// DaemonConfig configures the HTTP API.
type DaemonConfig struct {
	Listen string `yaml:"listen"`
	DBPath string `yaml:"db_path"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	// Backend is sqlite or file.
	Backend string `yaml:"backend"`
	// FileDir is where the file backend keeps its documents.
	FileDir string `yaml:"file_dir"`
}

// NotifyConfig configures the optional command notifier.
type NotifyConfig struct {
	// Command runs on every fire event; empty disables it.
	Command string   `yaml:"command,omitempty"`
	Args    []string `yaml:"args"`
	// AllowedCommands restricts Command. Empty means the built-in list.
	AllowedCommands []string `yaml:"allowed_commands,omitempty"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level string `yaml:"level"`
}

// Store backends.
const (
	BackendSQLite = "sqlite"
	BackendFile   = "file"
)

// Dir returns ~/.utimer, or .utimer if the home directory is unknown.
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".utimer"
	}
	return filepath.Join(home, ".utimer")
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() *Config {
	dir := Dir()
	return &Config{
		Daemon: DaemonConfig{
			Listen: DefaultListen,
			DBPath: filepath.Join(dir, "utimer.db"),
		},
		Store: StoreConfig{
			Backend: BackendSQLite,
			FileDir: filepath.Join(dir, "data"),
		},
		Scheduler:   *scheduler.DefaultConfig(),
		Maintenance: *maintenance.DefaultConfig(),
		Notify: NotifyConfig{
			Args: []string{"{{name}}", "{{message}}"},
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load loads configuration from a YAML file. A missing file yields defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// LoadFromHome loads configuration from ~/.utimer/config.yaml.
func LoadFromHome() (*Config, error) {
	return Load(filepath.Join(Dir(), "config.yaml"))
}

// Save writes cfg to path, creating parent directories if needed.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case BackendSQLite, BackendFile:
	default:
		return fmt.Errorf("invalid store backend %q, must be: sqlite or file", c.Store.Backend)
	}
	if c.Daemon.Listen == "" {
		return fmt.Errorf("daemon.listen must not be empty")
	}
	if c.Maintenance.RetentionDays < 1 {
		return fmt.Errorf("maintenance.retention_days must be at least 1")
	}

	durations := map[string]time.Duration{
		"scheduler.fast_poll":   c.Scheduler.FastPoll,
		"scheduler.slow_poll":   c.Scheduler.SlowPoll,
		"scheduler.near_window": c.Scheduler.NearWindow,
	}
	for name, d := range durations {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	if c.Scheduler.Grace < 0 || c.Scheduler.Stagger < 0 {
		return fmt.Errorf("scheduler grace and stagger must not be negative")
	}
	return nil
}
