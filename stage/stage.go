package stage

import "context"

// WorkItem is any externally-identified unit of work. The engine persists
// only the identity; payloads stay opaque to it.
type WorkItem interface {
	// ID returns a stable identifier used as the primary key for all
	// state lookups. It must not change across process restarts.
	ID() string
}

// Handler implements one stage of the graph. Execute is called once per
// stage attempt, or once per subtask attempt after the handler fans out;
// Context reports which of the two is happening.
//
// Execute may block on I/O. The engine imposes no timeout: handlers own
// their own deadlines and should map a timeout to a failed outcome or an
// error. A returned error is equivalent to Failed with the error text.
type Handler interface {
	Execute(ctx context.Context, item WorkItem, sc *Context) (Outcome, error)
}

// HealthChecker is optionally implemented by handlers that can report
// readiness of their external collaborators.
type HealthChecker interface {
	HealthCheck(ctx context.Context) Health
}

// Health describes a handler's readiness.
type Health struct {
	Name   string
	Ready  bool
	Detail string
}

// Healthy returns a ready Health for the named stage.
func Healthy(name string) Health {
	return Health{Name: name, Ready: true}
}

// Unhealthy returns a not-ready Health with a reason.
func Unhealthy(name, detail string) Health {
	return Health{Name: name, Ready: false, Detail: detail}
}

// Func adapts a plain function to the Handler interface.
type Func func(ctx context.Context, item WorkItem, sc *Context) (Outcome, error)

// Execute calls the wrapped function.
func (f Func) Execute(ctx context.Context, item WorkItem, sc *Context) (Outcome, error) {
	return f(ctx, item, sc)
}
