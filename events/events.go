// Package events carries best-effort lifecycle notifications out of the
// engine. The bus is an observability aid, not a source of truth: state is
// always recoverable from the state store alone, and a subscriber that does
// not poll promptly misses events silently.
package events

import "time"

// Kind identifies the transition an Event describes.
type Kind string

const (
	StageStarted     Kind = "stage_started"
	StageCompleted   Kind = "stage_completed"
	StageFailed      Kind = "stage_failed"
	ReviewRequired   Kind = "review_required"
	SubTaskStarted   Kind = "subtask_started"
	SubTaskCompleted Kind = "subtask_completed"
	SubTaskFailed    Kind = "subtask_failed"
)

// Event is an immutable notification of one status transition. Publishers
// emit it only after the corresponding state-store write succeeded.
type Event struct {
	Kind    Kind
	ItemID  string
	Stage   string
	SubTask string
	Err     string
	At      time.Time
}
