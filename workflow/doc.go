// Package workflow is the engine core: it binds a validated stage graph to
// caller-supplied handlers and a state store, and advances work items
// through the graph in dependency order. Stage failures are recorded, never
// propagated; review gates halt progression until approved; fan-out stages
// expand into independently tracked subtasks. Every persisted transition is
// mirrored onto a best-effort event bus after the write succeeds.
package workflow
