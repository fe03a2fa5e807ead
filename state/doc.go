// Package state persists workflow progress: one record per (item, stage)
// and one per (item, stage, subtask). Two Store implementations are
// provided, an ephemeral in-memory map and a durable SQLite database whose
// layout stays readable by ad hoc tooling while the engine is offline.
package state
