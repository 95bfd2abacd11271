// Package config handles configuration loading for voxlink.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// ServerConfig identifies the hub to connect to.
type ServerConfig struct {
	// URL is the hub base URL (e.g. "http://127.0.0.1:5384")
	URL string `yaml:"url"`
	// Label is the application label sent during registration
	Label string `yaml:"label"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level (debug, info, warn, error)
	Level string `yaml:"level"`
	// File is an optional rotating log file path
	File string `yaml:"file"`
	// MaxSizeMB is the log file size before rotation
	MaxSizeMB int `yaml:"max_size_mb"`
	// MaxBackups is the number of rotated files to keep
	MaxBackups int `yaml:"max_backups"`
	// JSON enables JSON log output
	JSON bool `yaml:"json"`
	// Components restricts logging to the named components (empty means all)
	Components []string `yaml:"components"`
}

// Trigger declares a command to run when a matching event arrives.
type Trigger struct {
	// Name identifies the trigger in logs
	Name string `yaml:"name"`
	// Events lists the event names ("$type" values) this trigger matches
	Events []string `yaml:"events"`
	// Command is the shell command to run; the event payload is piped to
	// stdin as JSON
	Command string `yaml:"command"`
	// Timeout bounds command execution (default 30s)
	Timeout time.Duration `yaml:"timeout"`
	// Enabled defaults to true when unset
	Enabled *bool `yaml:"enabled"`
}

// IsEnabled returns true unless the trigger is explicitly disabled.
func (t *Trigger) IsEnabled() bool {
	if t.Enabled == nil {
		return true
	}
	return *t.Enabled
}

// Config is the complete voxlink configuration.
type Config struct {
	Server   ServerConfig  `yaml:"server"`
	Logging  LoggingConfig `yaml:"logging"`
	Triggers []Trigger     `yaml:"triggers"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			URL:   "http://127.0.0.1:5384",
			Label: "voxlink",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// DefaultConfigPath returns the configuration file path: the VOXLINKRC
// environment variable when set, otherwise ~/.voxlinkrc.
func DefaultConfigPath() string {
	if envPath := os.Getenv("VOXLINKRC"); envPath != "" {
		return envPath
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".voxlinkrc"
	}
	return filepath.Join(home, ".voxlinkrc")
}

// Load reads and validates a configuration file. Missing fields fall back
// to defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// LoadOrDefault loads the file at path when it exists, otherwise returns
// the defaults.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Default(), nil
	}
	return Load(path)
}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	if c.Server.URL == "" {
		return fmt.Errorf("server.url is required")
	}
	switch c.Logging.Level {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.Logging.Level)
	}
	for i := range c.Triggers {
		t := &c.Triggers[i]
		if t.Command == "" {
			return fmt.Errorf("trigger %q has no command", t.Name)
		}
		if len(t.Events) == 0 {
			return fmt.Errorf("trigger %q matches no events", t.Name)
		}
	}
	return nil
}
