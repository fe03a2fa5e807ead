package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Config holds engine settings decoded from TOML.
type Config struct {
	StateDB        string `toml:"state_db"`
	LogPath        string `toml:"log_path"`
	LogLevel       string `toml:"log_level"`
	LogFormat      string `toml:"log_format"`
	EventBuffer    int    `toml:"event_buffer"`
	SubTaskWorkers int    `toml:"subtask_workers"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		StateDB:        "~/.local/share/treadle/state.db",
		LogLevel:       "info",
		LogFormat:      "console",
		EventBuffer:    16,
		SubTaskWorkers: 4,
	}
}

// Sample returns the annotated sample configuration file contents.
func Sample() string {
	return sampleConfig
}

// Load reads the config file at path, falling back to defaults when the
// file does not exist. Values present in the file override defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	path = strings.TrimSpace(path)
	if path != "" {
		data, err := os.ReadFile(expandHome(path))
		switch {
		case errors.Is(err, fs.ErrNotExist):
			// Missing file means defaults.
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := toml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalize() {
	c.StateDB = expandHome(strings.TrimSpace(c.StateDB))
	c.LogPath = expandHome(strings.TrimSpace(c.LogPath))
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	c.LogFormat = strings.ToLower(strings.TrimSpace(c.LogFormat))
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "console"
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = 16
	}
	if c.SubTaskWorkers <= 0 {
		c.SubTaskWorkers = 4
	}
}

// Validate reports configuration values the engine cannot run with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.StateDB) == "" {
		return errors.New("config: state_db must not be empty")
	}
	switch c.LogFormat {
	case "console", "json":
	default:
		return fmt.Errorf("config: log_format must be console or json, got %q", c.LogFormat)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}
	return nil
}

// EnsureDirectories creates the directories backing the state database and
// log file.
func (c *Config) EnsureDirectories() error {
	dirs := []string{filepath.Dir(c.StateDB)}
	if c.LogPath != "" {
		dirs = append(dirs, filepath.Dir(c.LogPath))
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("ensure directory %s: %w", dir, err)
		}
	}
	return nil
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		if path == "~" {
			return home
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
