// Package testsupport holds shared helpers for package tests: temp-dir
// configs, state stores wired for cleanup, and a trivial work item.
package testsupport

import (
	"path/filepath"
	"testing"

	"treadle/config"
)

// NewConfig produces a config seeded with unique temp paths per test.
func NewConfig(t testing.TB) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.StateDB = filepath.Join(base, "state.db")
	cfg.LogPath = filepath.Join(base, "logs", "treadle.log")
	if err := cfg.Validate(); err != nil {
		t.Fatalf("config.Validate: %v", err)
	}
	return &cfg
}
