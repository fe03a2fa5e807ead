package state

import (
	"strings"
	"time"
)

// Status represents the lifecycle of a stage record or subtask record.
type Status string

const (
	StatusPending        Status = "pending"
	StatusRunning        Status = "running"
	StatusCompleted      Status = "completed"
	StatusFailed         Status = "failed"
	StatusAwaitingReview Status = "awaiting_review"
	StatusFannedOut      Status = "fanned_out"
)

var allStatuses = []Status{
	StatusPending,
	StatusRunning,
	StatusCompleted,
	StatusFailed,
	StatusAwaitingReview,
	StatusFannedOut,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// Terminal reports whether the status ends automatic progression for its
// record. Failed is terminal until the caller retries by advancing again.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// StageRecord is the persisted state for one (item, stage) pair. Records
// are created lazily on first advance and never deleted by the engine.
type StageRecord struct {
	ItemID           string
	Stage            string
	Status           Status
	Attempts         int
	LastError        string
	Metadata         map[string]string
	FirstAttemptedAt *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Clone returns a deep copy of the record.
func (r *StageRecord) Clone() *StageRecord {
	if r == nil {
		return nil
	}
	cp := *r
	if r.FirstAttemptedAt != nil {
		t := *r.FirstAttemptedAt
		cp.FirstAttemptedAt = &t
	}
	if r.Metadata != nil {
		cp.Metadata = make(map[string]string, len(r.Metadata))
		for k, v := range r.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}

// MarkRunning moves the record into running, stamping the first attempt and
// bumping the attempt count. Attempt counts are never reset.
func (r *StageRecord) MarkRunning(now time.Time) {
	r.Status = StatusRunning
	r.Attempts++
	r.LastError = ""
	if r.FirstAttemptedAt == nil {
		t := now
		r.FirstAttemptedAt = &t
	}
}

// MarkFailed moves the record into failed with the given reason.
func (r *StageRecord) MarkFailed(reason string) {
	r.Status = StatusFailed
	r.LastError = strings.TrimSpace(reason)
}

// SubTaskRecord is the persisted state for one named subtask of a fanned-out
// stage execution. It mirrors StageRecord's status vocabulary.
type SubTaskRecord struct {
	ItemID           string
	Stage            string
	Name             string
	Status           Status
	Attempts         int
	LastError        string
	FirstAttemptedAt *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Clone returns a deep copy of the record.
func (r *SubTaskRecord) Clone() *SubTaskRecord {
	if r == nil {
		return nil
	}
	cp := *r
	if r.FirstAttemptedAt != nil {
		t := *r.FirstAttemptedAt
		cp.FirstAttemptedAt = &t
	}
	return &cp
}

// MarkRunning moves the subtask into running, stamping the first attempt and
// bumping the attempt count.
func (r *SubTaskRecord) MarkRunning(now time.Time) {
	r.Status = StatusRunning
	r.Attempts++
	r.LastError = ""
	if r.FirstAttemptedAt == nil {
		t := now
		r.FirstAttemptedAt = &t
	}
}

// MarkFailed moves the subtask into failed with the given reason.
func (r *SubTaskRecord) MarkFailed(reason string) {
	r.Status = StatusFailed
	r.LastError = strings.TrimSpace(reason)
}
