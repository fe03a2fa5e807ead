package workflow

import (
	"fmt"
	"log/slog"
	"strings"

	"treadle/events"
	"treadle/graph"
	"treadle/logging"
	"treadle/stage"
	"treadle/state"
)

// Builder assembles a Workflow from stage registrations and dependency
// edges. Methods chain; the first registration error is remembered and
// returned by Build.
type Builder struct {
	order    []string
	handlers map[string]stage.Handler
	deps     map[string][]string
	err      error
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{
		handlers: make(map[string]stage.Handler),
		deps:     make(map[string][]string),
	}
}

// Stage registers a named stage with its handler and any dependencies known
// at registration time. Further edges can be added with Dependency.
func (b *Builder) Stage(name string, handler stage.Handler, dependsOn ...string) *Builder {
	if b.err != nil {
		return b
	}
	name = strings.TrimSpace(name)
	if name == "" {
		b.err = fmt.Errorf("stage: name must not be empty")
		return b
	}
	if handler == nil {
		b.err = fmt.Errorf("stage %q: handler must not be nil", name)
		return b
	}
	if _, exists := b.handlers[name]; exists {
		b.err = fmt.Errorf("stage %q: %w", name, graph.ErrDuplicateStage)
		return b
	}
	b.order = append(b.order, name)
	b.handlers[name] = handler
	b.deps[name] = append(b.deps[name], dependsOn...)
	return b
}

// Dependency declares that dependent runs only after dependsOn completed.
// The dependent stage must already be registered; the dependency itself may
// be registered later (Build validates unresolved names).
func (b *Builder) Dependency(dependent, dependsOn string) *Builder {
	if b.err != nil {
		return b
	}
	dependent = strings.TrimSpace(dependent)
	if _, ok := b.handlers[dependent]; !ok {
		b.err = fmt.Errorf("dependency: stage %q not registered", dependent)
		return b
	}
	b.deps[dependent] = append(b.deps[dependent], dependsOn)
	return b
}

// Build validates the graph and returns a Workflow bound to the store.
func (b *Builder) Build(store state.Store, opts ...Option) (*Workflow, error) {
	if b.err != nil {
		return nil, b.err
	}
	if store == nil {
		return nil, fmt.Errorf("build workflow: store must not be nil")
	}

	gb := graph.NewBuilder()
	for _, name := range b.order {
		if err := gb.Add(name, b.deps[name]...); err != nil {
			return nil, err
		}
	}
	g, err := gb.Build()
	if err != nil {
		return nil, err
	}

	options := defaultOptions()
	for _, opt := range opts {
		opt(&options)
	}

	handlers := make(map[string]stage.Handler, len(b.handlers))
	for name, handler := range b.handlers {
		handlers[name] = handler
	}

	return &Workflow{
		graph:          g,
		handlers:       handlers,
		store:          store,
		bus:            events.NewBus(options.eventBuffer),
		logger:         options.logger,
		subtaskWorkers: options.subtaskWorkers,
		itemLocks:      make(map[string]*itemLock),
	}, nil
}

type options struct {
	logger         *slog.Logger
	eventBuffer    int
	subtaskWorkers int
}

func defaultOptions() options {
	return options{logger: logging.NewNop(), eventBuffer: 0, subtaskWorkers: 1}
}

// Option configures optional Workflow behavior.
type Option func(*options)

// WithLogger attaches a structured logger to the workflow.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithEventBuffer sets the per-subscriber event channel capacity.
func WithEventBuffer(size int) Option {
	return func(o *options) {
		o.eventBuffer = size
	}
}

// WithSubTaskWorkers bounds how many subtasks of a fanned-out stage run
// concurrently. Values below 1 mean sequential execution.
func WithSubTaskWorkers(n int) Option {
	return func(o *options) {
		o.subtaskWorkers = n
	}
}
