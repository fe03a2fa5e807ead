package logging

import (
	"log/slog"
	"time"
)

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldItemID is the standardized structured logging key for work item identifiers.
	FieldItemID = "item_id"
	// FieldStage is the standardized structured logging key for stage names.
	FieldStage = "stage"
	// FieldSubTask is the standardized structured logging key for subtask names.
	FieldSubTask = "subtask"
	// FieldCorrelationID is the standardized structured logging key for advance correlation identifiers.
	FieldCorrelationID = "correlation_id"
	// FieldEventType tags log lines that mirror engine lifecycle events.
	FieldEventType = "event_type"
)

type Attr = slog.Attr

func Duration(key string, value time.Duration) Attr { return slog.Duration(key, value) }

func Int(key string, value int) Attr { return slog.Int(key, value) }

func String(key string, value string) Attr { return slog.String(key, value) }

func Error(err error) Attr {
	if err == nil {
		return slog.String("error", "<nil>")
	}
	return slog.Any("error", err)
}
