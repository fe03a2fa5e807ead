package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"treadle/config"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	defaults := config.Default()
	if cfg.LogLevel != defaults.LogLevel || cfg.LogFormat != defaults.LogFormat {
		t.Fatalf("expected defaults, got %#v", cfg)
	}
	if cfg.EventBuffer != defaults.EventBuffer {
		t.Fatalf("expected default event buffer, got %d", cfg.EventBuffer)
	}
	if cfg.SubTaskWorkers != defaults.SubTaskWorkers {
		t.Fatalf("expected default subtask workers, got %d", cfg.SubTaskWorkers)
	}
}

func TestLoadOverridesFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "treadle.toml")
	contents := `
state_db = "` + filepath.Join(dir, "engine.db") + `"
log_level = "DEBUG"
log_format = "json"
event_buffer = 64
subtask_workers = 2
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.StateDB != filepath.Join(dir, "engine.db") {
		t.Fatalf("unexpected state_db: %s", cfg.StateDB)
	}
	if cfg.LogLevel != "debug" || cfg.LogFormat != "json" {
		t.Fatalf("expected normalized level/format, got %q/%q", cfg.LogLevel, cfg.LogFormat)
	}
	if cfg.EventBuffer != 64 {
		t.Fatalf("unexpected event buffer: %d", cfg.EventBuffer)
	}
	if cfg.SubTaskWorkers != 2 {
		t.Fatalf("unexpected subtask workers: %d", cfg.SubTaskWorkers)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	dir := t.TempDir()
	cases := []struct {
		name     string
		contents string
	}{
		{"bad-format", "log_format = \"yaml\"\n"},
		{"bad-level", "log_level = \"verbose\"\n"},
		{"empty-db", "state_db = \" \"\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(dir, tc.name+".toml")
			if err := os.WriteFile(path, []byte(tc.contents), 0o644); err != nil {
				t.Fatalf("write config: %v", err)
			}
			if _, err := config.Load(path); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestEnsureDirectories(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.StateDB = filepath.Join(dir, "nested", "state.db")
	cfg.LogPath = filepath.Join(dir, "logs", "treadle.log")

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}
	for _, want := range []string{filepath.Join(dir, "nested"), filepath.Join(dir, "logs")} {
		if info, err := os.Stat(want); err != nil || !info.IsDir() {
			t.Fatalf("expected directory %s, err=%v", want, err)
		}
	}
}

func TestSampleStaysParseable(t *testing.T) {
	sample := config.Sample()
	if !strings.Contains(sample, "state_db") {
		t.Fatal("sample must document state_db")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "sample.toml")
	if err := os.WriteFile(path, []byte(sample), 0o644); err != nil {
		t.Fatalf("write sample: %v", err)
	}
	if _, err := config.Load(path); err != nil {
		t.Fatalf("sample config must load: %v", err)
	}
}
