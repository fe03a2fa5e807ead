package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"treadle/events"
	"treadle/logging"
	"treadle/stage"
	"treadle/state"
)

// advanceSubTasks drives the subtask set of a fanned-out stage: every
// subtask that is not yet completed is executed once (failed subtasks are
// retry-eligible the same way failed stages are), spread across the
// configured worker count. The parent resolves completed only when every
// subtask completed; otherwise it resolves failed, naming the first
// failing subtask in subtask order. Siblings that already completed are
// never re-executed.
func (w *Workflow) advanceSubTasks(ctx context.Context, logger *slog.Logger, item stage.WorkItem, parent *state.StageRecord, subtasks []*state.SubTaskRecord) (state.Status, error) {
	pending := make([]*state.SubTaskRecord, 0, len(subtasks))
	for _, sub := range subtasks {
		if sub.Status != state.StatusCompleted {
			pending = append(pending, sub)
		}
	}

	workers := w.subtaskWorkers
	if workers < 1 {
		workers = 1
	}
	if workers > len(pending) {
		workers = len(pending)
	}

	var metaMu sync.Mutex
	if workers <= 1 {
		for _, sub := range pending {
			if err := w.runSubTask(ctx, logger, item, parent, sub, &metaMu); err != nil {
				return "", err
			}
		}
		return w.resolveFanOut(ctx, logger, parent, subtasks)
	}

	var (
		wg       sync.WaitGroup
		errMu    sync.Mutex
		firstErr error
	)
	work := make(chan *state.SubTaskRecord)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for sub := range work {
				if err := w.runSubTask(ctx, logger, item, parent, sub, &metaMu); err != nil {
					errMu.Lock()
					if firstErr == nil {
						firstErr = err
					}
					errMu.Unlock()
				}
			}
		}()
	}
	for _, sub := range pending {
		work <- sub
	}
	close(work)
	wg.Wait()
	if firstErr != nil {
		return "", firstErr
	}

	return w.resolveFanOut(ctx, logger, parent, subtasks)
}

// runSubTask executes one subtask and persists its terminal record. Only
// store errors are returned; handler failures land on the record. The
// parent's metadata bag is shared across workers, hence metaMu.
func (w *Workflow) runSubTask(ctx context.Context, logger *slog.Logger, item stage.WorkItem, parent *state.StageRecord, sub *state.SubTaskRecord, metaMu *sync.Mutex) error {
	handler := w.handlers[parent.Stage]
	subLogger := logger.With(logging.String(logging.FieldSubTask, sub.Name))

	sub.MarkRunning(time.Now().UTC())
	if err := w.store.UpsertSubTaskRecord(ctx, sub); err != nil {
		return fmt.Errorf("persist subtask running: %w", err)
	}
	w.bus.Publish(events.Event{
		Kind:    events.SubTaskStarted,
		ItemID:  sub.ItemID,
		Stage:   sub.Stage,
		SubTask: sub.Name,
	})
	subLogger.Info("subtask started",
		logging.String(logging.FieldEventType, "subtask_start"),
		logging.Int("attempt", sub.Attempts),
	)

	sc := stage.NewSubTaskContext(sub.Name)
	outcome, execErr := execute(ctx, handler, item, sc)
	metaMu.Lock()
	mergeMetadata(parent, sc)
	metaMu.Unlock()

	reason := ""
	switch {
	case execErr != nil:
		subLogger.Debug("subtask handler errored", logging.Error(execErr))
		reason = execErr.Error()
	case outcome.Kind == stage.OutcomeComplete:
	case outcome.Kind == stage.OutcomeFailed:
		reason = outcome.Reason
		if reason == "" {
			reason = fmt.Sprintf("subtask %s failed without detail", sub.Name)
		}
	default:
		// Subtasks cannot gate on review or fan out further.
		reason = fmt.Sprintf("subtask returned invalid outcome %q", outcome.Kind)
	}

	if reason != "" {
		sub.MarkFailed(reason)
		if err := w.store.UpsertSubTaskRecord(ctx, sub); err != nil {
			return fmt.Errorf("persist subtask failure: %w", err)
		}
		w.bus.Publish(events.Event{
			Kind:    events.SubTaskFailed,
			ItemID:  sub.ItemID,
			Stage:   sub.Stage,
			SubTask: sub.Name,
			Err:     sub.LastError,
		})
		subLogger.Warn("subtask failed",
			logging.String(logging.FieldEventType, "subtask_failure"),
			logging.String("error_message", sub.LastError),
		)
		return nil
	}

	sub.Status = state.StatusCompleted
	if err := w.store.UpsertSubTaskRecord(ctx, sub); err != nil {
		return fmt.Errorf("persist subtask result: %w", err)
	}
	w.bus.Publish(events.Event{
		Kind:    events.SubTaskCompleted,
		ItemID:  sub.ItemID,
		Stage:   sub.Stage,
		SubTask: sub.Name,
	})
	subLogger.Info("subtask completed", logging.String(logging.FieldEventType, "subtask_complete"))
	return nil
}

func (w *Workflow) resolveFanOut(ctx context.Context, logger *slog.Logger, parent *state.StageRecord, subtasks []*state.SubTaskRecord) (state.Status, error) {
	var firstFailed *state.SubTaskRecord
	completed := 0
	for _, sub := range subtasks {
		switch sub.Status {
		case state.StatusCompleted:
			completed++
		case state.StatusFailed:
			if firstFailed == nil {
				firstFailed = sub
			}
		}
	}

	if completed == len(subtasks) {
		parent.Status = state.StatusCompleted
		if err := w.store.UpsertStageRecord(ctx, parent); err != nil {
			return "", fmt.Errorf("persist fan-out resolution: %w", err)
		}
		w.bus.Publish(events.Event{Kind: events.StageCompleted, ItemID: parent.ItemID, Stage: parent.Stage})
		logger.Info("stage completed",
			logging.String(logging.FieldEventType, "stage_complete"),
			logging.Int("subtasks", len(subtasks)),
		)
		return state.StatusCompleted, nil
	}

	if firstFailed != nil {
		reason := fmt.Sprintf("subtask %s failed: %s", firstFailed.Name, firstFailed.LastError)
		return w.resolveStageFailure(ctx, logger, parent, reason)
	}

	// Subtasks still outstanding (store updated concurrently); leave the
	// parent fanned out for the next advance.
	parent.Status = state.StatusFannedOut
	if err := w.store.UpsertStageRecord(ctx, parent); err != nil {
		return "", fmt.Errorf("persist fan-out state: %w", err)
	}
	return state.StatusFannedOut, nil
}
