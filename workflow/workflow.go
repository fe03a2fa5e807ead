package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"treadle/events"
	"treadle/graph"
	"treadle/stage"
	"treadle/state"
)

// ErrUnknownStage indicates an operation referenced a stage the graph does
// not declare.
var ErrUnknownStage = errors.New("unknown stage")

// ErrNotAwaitingReview indicates an approval was attempted for a stage that
// is not gated on review.
var ErrNotAwaitingReview = errors.New("stage is not awaiting review")

// Workflow advances work items through an immutable stage graph, persisting
// every transition to its state store. Advance calls for different item ids
// may run concurrently; calls for the same id are serialized internally.
type Workflow struct {
	graph    *graph.Graph
	handlers map[string]stage.Handler
	store    state.Store
	bus      *events.Bus
	logger   *slog.Logger

	subtaskWorkers int

	lockMu    sync.Mutex
	itemLocks map[string]*itemLock
}

type itemLock struct {
	mu sync.Mutex
}

// lockItem serializes callers operating on the same item id. Lock entries
// are retained for the workflow's lifetime; the map grows with the number
// of distinct items, not with call volume.
func (w *Workflow) lockItem(itemID string) func() {
	w.lockMu.Lock()
	entry, ok := w.itemLocks[itemID]
	if !ok {
		entry = &itemLock{}
		w.itemLocks[itemID] = entry
	}
	w.lockMu.Unlock()

	entry.mu.Lock()
	return entry.mu.Unlock
}

// Graph returns the workflow's immutable stage graph.
func (w *Workflow) Graph() *graph.Graph {
	return w.graph
}

// Subscribe registers an event listener. The cancel func must be called
// when the listener is done.
func (w *Workflow) Subscribe() (<-chan events.Event, func()) {
	return w.bus.Subscribe()
}

// ItemStatus is a point-in-time snapshot of an item's progress.
type ItemStatus struct {
	ItemID   string
	Stages   []*state.StageRecord
	SubTasks map[string][]*state.SubTaskRecord
}

// StageStatus returns the snapshot's status for a stage, or StatusPending
// when the stage has never been touched.
func (s *ItemStatus) StageStatus(name string) state.Status {
	for _, record := range s.Stages {
		if record.Stage == name {
			return record.Status
		}
	}
	return state.StatusPending
}

// Status returns the per-stage records for an item, ordered by the graph's
// topological order, together with any subtask records. Stages never
// touched by Advance have no record and are simply absent.
func (w *Workflow) Status(ctx context.Context, itemID string) (*ItemStatus, error) {
	records, err := w.store.StageRecords(ctx, itemID)
	if err != nil {
		return nil, fmt.Errorf("load stage records: %w", err)
	}

	byStage := make(map[string]*state.StageRecord, len(records))
	for _, record := range records {
		byStage[record.Stage] = record
	}

	status := &ItemStatus{ItemID: itemID, SubTasks: make(map[string][]*state.SubTaskRecord)}
	for _, name := range w.graph.Stages() {
		record, ok := byStage[name]
		if !ok {
			continue
		}
		status.Stages = append(status.Stages, record)
		subtasks, err := w.store.SubTaskRecords(ctx, itemID, name)
		if err != nil {
			return nil, fmt.Errorf("load subtask records: %w", err)
		}
		if len(subtasks) > 0 {
			status.SubTasks[name] = subtasks
		}
	}
	return status, nil
}

// ItemsAt lists the ids of items whose record for the stage has the given
// status.
func (w *Workflow) ItemsAt(ctx context.Context, stageName string, status state.Status) ([]string, error) {
	if !w.graph.Contains(stageName) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStage, stageName)
	}
	return w.store.ItemsAt(ctx, stageName, status)
}

// ApproveReview resolves a review gate: the stage record moves from
// awaiting_review to completed and a StageCompleted event is published.
// Downstream stages run on the next Advance call.
func (w *Workflow) ApproveReview(ctx context.Context, itemID, stageName string) error {
	if !w.graph.Contains(stageName) {
		return fmt.Errorf("%w: %s", ErrUnknownStage, stageName)
	}

	unlock := w.lockItem(itemID)
	defer unlock()

	record, err := w.store.StageRecord(ctx, itemID, stageName)
	if err != nil {
		return fmt.Errorf("load stage record: %w", err)
	}
	if record == nil || record.Status != state.StatusAwaitingReview {
		return fmt.Errorf("%w: %s/%s", ErrNotAwaitingReview, itemID, stageName)
	}

	record.Status = state.StatusCompleted
	if err := w.store.UpsertStageRecord(ctx, record); err != nil {
		return fmt.Errorf("persist review approval: %w", err)
	}
	w.bus.Publish(events.Event{Kind: events.StageCompleted, ItemID: itemID, Stage: stageName})
	return nil
}

// Health aggregates readiness from handlers that implement HealthCheck,
// in stage order. Handlers without a health check report ready.
func (w *Workflow) Health(ctx context.Context) []stage.Health {
	checks := make([]stage.Health, 0, w.graph.Len())
	for _, name := range w.graph.Stages() {
		if checker, ok := w.handlers[name].(stage.HealthChecker); ok {
			health := checker.HealthCheck(ctx)
			if health.Name == "" {
				health.Name = name
			}
			checks = append(checks, health)
			continue
		}
		checks = append(checks, stage.Healthy(name))
	}
	return checks
}
