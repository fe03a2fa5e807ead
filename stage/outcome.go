package stage

import "strings"

// OutcomeKind discriminates the Outcome union.
type OutcomeKind string

const (
	OutcomeComplete       OutcomeKind = "complete"
	OutcomeFailed         OutcomeKind = "failed"
	OutcomeAwaitingReview OutcomeKind = "awaiting_review"
	OutcomeFanOut         OutcomeKind = "fan_out"
)

// Outcome is the result a handler reports for one invocation. Construct
// values with Complete, Failed, AwaitingReview, or FanOut; the zero value
// is not a valid outcome.
type Outcome struct {
	Kind     OutcomeKind
	Reason   string
	SubTasks []string
}

// Complete reports that the invocation finished successfully.
func Complete() Outcome {
	return Outcome{Kind: OutcomeComplete}
}

// Failed reports failure with a human-readable reason.
func Failed(reason string) Outcome {
	return Outcome{Kind: OutcomeFailed, Reason: strings.TrimSpace(reason)}
}

// AwaitingReview halts progression until a human approves the stage.
func AwaitingReview() Outcome {
	return Outcome{Kind: OutcomeAwaitingReview}
}

// FanOut expands the stage into independently tracked subtasks. Names are
// trimmed and deduplicated preserving order.
func FanOut(names ...string) Outcome {
	cleaned := make([]string, 0, len(names))
	seen := make(map[string]struct{}, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		cleaned = append(cleaned, name)
	}
	return Outcome{Kind: OutcomeFanOut, SubTasks: cleaned}
}
