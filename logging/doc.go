// Package logging assembles the structured slog loggers the engine and its
// tooling share.
//
// It centralizes level and output plumbing, exposes attr helpers so engine
// code tags log lines uniformly (item ids, stages, subtasks, correlation
// ids), and provides a no-op logger for tests and wiring code that cannot
// fail. Prefer these constructors over hand-rolled slog setup.
package logging
