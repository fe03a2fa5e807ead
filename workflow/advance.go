package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"treadle/events"
	"treadle/logging"
	"treadle/stage"
	"treadle/state"
)

// Advance walks the item through the stage graph in topological order.
// Each eligible stage is executed in turn; a completed stage lets the walk
// cascade into the next one within the same call. The walk halts at the
// first stage that is blocked upstream, awaiting review, or resolved
// failed — all of which are normal partial progress, not errors.
//
// A stage whose record reads failed is retry-eligible: calling Advance
// again is the caller-driven retry. An item already completed through every
// stage is a no-op that publishes nothing.
//
// Only state-store failures (and nil items) are returned as errors; stage
// failures are recorded and recovered.
func (w *Workflow) Advance(ctx context.Context, item stage.WorkItem) error {
	if item == nil {
		return errors.New("advance: item must not be nil")
	}
	itemID := strings.TrimSpace(item.ID())
	if itemID == "" {
		return errors.New("advance: item id must not be empty")
	}

	unlock := w.lockItem(itemID)
	defer unlock()

	logger := w.logger.With(
		logging.String(logging.FieldItemID, itemID),
		logging.String(logging.FieldCorrelationID, uuid.NewString()),
	)

	for _, name := range w.graph.Stages() {
		record, err := w.store.StageRecord(ctx, itemID, name)
		if err != nil {
			return fmt.Errorf("load stage record: %w", err)
		}
		status := state.StatusPending
		if record != nil {
			status = record.Status
		}
		if status == state.StatusCompleted {
			continue
		}

		satisfied, err := w.dependenciesCompleted(ctx, itemID, name)
		if err != nil {
			return err
		}
		if !satisfied {
			logger.Debug("item blocked upstream", logging.String(logging.FieldStage, name))
			return nil
		}

		if status == state.StatusAwaitingReview {
			logger.Debug("item awaiting review", logging.String(logging.FieldStage, name))
			return nil
		}

		if record == nil {
			record = &state.StageRecord{ItemID: itemID, Stage: name, Status: state.StatusPending}
		}

		resolved, err := w.runStage(ctx, logger, item, record)
		if err != nil {
			return err
		}
		if resolved != state.StatusCompleted {
			return nil
		}
	}
	return nil
}

// runStage executes one stage (or drives its subtasks) and returns the
// resolved status.
func (w *Workflow) runStage(ctx context.Context, logger *slog.Logger, item stage.WorkItem, record *state.StageRecord) (state.Status, error) {
	name := record.Stage
	handler := w.handlers[name]
	stageLogger := logger.With(logging.String(logging.FieldStage, name))

	// A fanned-out stage, including one that failed through one of its
	// subtasks, resolves through the subtask set; the stage handler is
	// never re-invoked for the whole stage once fan-out happened.
	if record.Status == state.StatusFannedOut || record.Status == state.StatusFailed {
		subtasks, err := w.store.SubTaskRecords(ctx, record.ItemID, name)
		if err != nil {
			return "", fmt.Errorf("load subtask records: %w", err)
		}
		if len(subtasks) > 0 {
			return w.advanceSubTasks(ctx, stageLogger, item, record, subtasks)
		}
	}

	record.MarkRunning(time.Now().UTC())
	if err := w.store.UpsertStageRecord(ctx, record); err != nil {
		return "", fmt.Errorf("persist running transition: %w", err)
	}
	w.bus.Publish(events.Event{Kind: events.StageStarted, ItemID: record.ItemID, Stage: name})
	stageLogger.Info("stage started",
		logging.String(logging.FieldEventType, "stage_start"),
		logging.Int("attempt", record.Attempts),
	)

	started := time.Now()
	sc := stage.NewContext()
	outcome, execErr := execute(ctx, handler, item, sc)
	mergeMetadata(record, sc)

	if execErr != nil {
		stageLogger.Debug("stage handler errored", logging.Error(execErr))
		return w.resolveStageFailure(ctx, stageLogger, record, execErr.Error())
	}

	switch outcome.Kind {
	case stage.OutcomeComplete:
		record.Status = state.StatusCompleted
		if err := w.store.UpsertStageRecord(ctx, record); err != nil {
			return "", fmt.Errorf("persist stage result: %w", err)
		}
		w.bus.Publish(events.Event{Kind: events.StageCompleted, ItemID: record.ItemID, Stage: name})
		stageLogger.Info("stage completed",
			logging.String(logging.FieldEventType, "stage_complete"),
			logging.Duration("stage_duration", time.Since(started)),
		)
		return state.StatusCompleted, nil

	case stage.OutcomeFailed:
		reason := outcome.Reason
		if reason == "" {
			reason = fmt.Sprintf("stage %s failed without detail", name)
		}
		return w.resolveStageFailure(ctx, stageLogger, record, reason)

	case stage.OutcomeAwaitingReview:
		record.Status = state.StatusAwaitingReview
		if err := w.store.UpsertStageRecord(ctx, record); err != nil {
			return "", fmt.Errorf("persist review transition: %w", err)
		}
		w.bus.Publish(events.Event{Kind: events.ReviewRequired, ItemID: record.ItemID, Stage: name})
		stageLogger.Info("stage awaiting review", logging.String(logging.FieldEventType, "review_required"))
		return state.StatusAwaitingReview, nil

	case stage.OutcomeFanOut:
		if len(outcome.SubTasks) == 0 {
			return w.resolveStageFailure(ctx, stageLogger, record, "fan-out produced no subtasks")
		}
		record.Status = state.StatusFannedOut
		if err := w.store.FanOut(ctx, record, outcome.SubTasks); err != nil {
			return "", fmt.Errorf("persist fan-out: %w", err)
		}
		stageLogger.Info("stage fanned out",
			logging.String(logging.FieldEventType, "stage_fan_out"),
			logging.Int("subtasks", len(outcome.SubTasks)),
		)
		return state.StatusFannedOut, nil

	default:
		return w.resolveStageFailure(ctx, stageLogger, record, fmt.Sprintf("stage returned invalid outcome %q", outcome.Kind))
	}
}

func (w *Workflow) resolveStageFailure(ctx context.Context, logger *slog.Logger, record *state.StageRecord, reason string) (state.Status, error) {
	record.MarkFailed(reason)
	if err := w.store.UpsertStageRecord(ctx, record); err != nil {
		return "", fmt.Errorf("persist stage failure: %w", err)
	}
	w.bus.Publish(events.Event{
		Kind:   events.StageFailed,
		ItemID: record.ItemID,
		Stage:  record.Stage,
		Err:    record.LastError,
	})
	logger.Warn("stage failed",
		logging.String(logging.FieldEventType, "stage_failure"),
		logging.String("error_message", record.LastError),
		logging.Int("attempt", record.Attempts),
	)
	return state.StatusFailed, nil
}

func (w *Workflow) dependenciesCompleted(ctx context.Context, itemID, name string) (bool, error) {
	for _, dep := range w.graph.Dependencies(name) {
		record, err := w.store.StageRecord(ctx, itemID, dep)
		if err != nil {
			return false, fmt.Errorf("load dependency record: %w", err)
		}
		if record == nil || record.Status != state.StatusCompleted {
			return false, nil
		}
	}
	return true, nil
}

// execute invokes the handler, converting a panic into an error so a
// misbehaving stage is recorded as failed instead of taking the engine down.
func execute(ctx context.Context, handler stage.Handler, item stage.WorkItem, sc *stage.Context) (outcome stage.Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			outcome = stage.Outcome{}
			err = fmt.Errorf("stage panicked: %v", r)
		}
	}()
	return handler.Execute(ctx, item, sc)
}

func mergeMetadata(record *state.StageRecord, sc *stage.Context) {
	meta := sc.MetaSnapshot()
	if len(meta) == 0 {
		return
	}
	if record.Metadata == nil {
		record.Metadata = make(map[string]string, len(meta))
	}
	for k, v := range meta {
		record.Metadata[k] = v
	}
}
