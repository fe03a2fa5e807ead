package logging_test

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"treadle/logging"
)

func TestNewJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Level: "debug", Format: "json", Output: &buf})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	logger.Info("stage started",
		logging.String(logging.FieldStage, "identify"),
		logging.Int("attempt", 1),
	)

	var decoded map[string]any
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("expected JSON log line, got %q: %v", buf.String(), err)
	}
	if decoded[logging.FieldStage] != "identify" {
		t.Fatalf("missing stage field: %v", decoded)
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := logging.New(logging.Options{Format: "xml"}); err == nil {
		t.Fatal("expected error for unknown format")
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Level: "warn", Format: "console", Output: &buf})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	logger.Info("ignored")
	logger.Warn("kept")

	output := buf.String()
	if strings.Contains(output, "ignored") {
		t.Fatalf("info line must be filtered at warn level: %q", output)
	}
	if !strings.Contains(output, "kept") {
		t.Fatalf("warn line missing: %q", output)
	}
}

func TestNewFileLoggerCreatesDirectories(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "treadle.log")
	logger, closeFn, err := logging.NewFileLogger(path, logging.Options{Level: "info", Format: "json"})
	if err != nil {
		t.Fatalf("NewFileLogger failed: %v", err)
	}
	logger.Info("written", logging.String(logging.FieldItemID, "item-1"))
	if err := closeFn(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "item-1") {
		t.Fatalf("log line missing: %q", string(data))
	}
}

func TestNopLoggerDiscards(t *testing.T) {
	logger := logging.NewNop()
	logger.Error("nothing to see", logging.Error(nil))
}
