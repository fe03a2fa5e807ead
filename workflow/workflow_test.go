package workflow_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"treadle/graph"
	"treadle/internal/testsupport"
	"treadle/stage"
	"treadle/state"
	"treadle/workflow"
)

// callLog records handler invocations as "stage" or "stage/subtask".
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) record(name, subtask string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if subtask == "" {
		l.calls = append(l.calls, name)
		return
	}
	l.calls = append(l.calls, name+"/"+subtask)
}

func (l *callLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	cp := make([]string, len(l.calls))
	copy(cp, l.calls)
	return cp
}

func completing(log *callLog, name string) stage.Handler {
	return stage.Func(func(ctx context.Context, item stage.WorkItem, sc *stage.Context) (stage.Outcome, error) {
		log.record(name, sc.SubTask)
		return stage.Complete(), nil
	})
}

func mustBuild(t *testing.T, b *workflow.Builder, store state.Store, opts ...workflow.Option) *workflow.Workflow {
	t.Helper()
	wf, err := b.Build(store, opts...)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	return wf
}

func mustAdvance(t *testing.T, wf *workflow.Workflow, item stage.WorkItem) {
	t.Helper()
	if err := wf.Advance(context.Background(), item); err != nil {
		t.Fatalf("Advance failed: %v", err)
	}
}

func stageStatus(t *testing.T, wf *workflow.Workflow, itemID, stageName string) state.Status {
	t.Helper()
	status, err := wf.Status(context.Background(), itemID)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	return status.StageStatus(stageName)
}

func TestAdvanceCascadesInTopologicalOrder(t *testing.T) {
	log := &callLog{}
	b := workflow.NewBuilder().
		Stage("scan", completing(log, "scan")).
		Stage("identify", completing(log, "identify"), "scan").
		Stage("harmonize", completing(log, "harmonize"), "identify")

	wf := mustBuild(t, b, state.NewMemoryStore())
	item := testsupport.Item{Identity: "item-1"}
	mustAdvance(t, wf, item)

	want := []string{"scan", "identify", "harmonize"}
	got := log.snapshot()
	if len(got) != len(want) {
		t.Fatalf("expected calls %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected calls %v, got %v", want, got)
		}
	}
	for _, name := range want {
		if status := stageStatus(t, wf, "item-1", name); status != state.StatusCompleted {
			t.Fatalf("stage %s: expected completed, got %s", name, status)
		}
	}
}

func TestAdvanceOnCompletedItemIsNoOp(t *testing.T) {
	log := &callLog{}
	b := workflow.NewBuilder().
		Stage("scan", completing(log, "scan")).
		Stage("identify", completing(log, "identify"), "scan")

	wf := mustBuild(t, b, state.NewMemoryStore())
	item := testsupport.Item{Identity: "item-1"}
	mustAdvance(t, wf, item)

	eventsCh, cancel := wf.Subscribe()
	defer cancel()

	mustAdvance(t, wf, item)

	if calls := log.snapshot(); len(calls) != 2 {
		t.Fatalf("no handler may re-run, got calls %v", calls)
	}
	select {
	case evt := <-eventsCh:
		t.Fatalf("expected no events from a no-op advance, got %#v", evt)
	default:
	}
}

func TestStageErrorIsRecordedNotPropagated(t *testing.T) {
	log := &callLog{}
	failures := 0
	flaky := stage.Func(func(ctx context.Context, item stage.WorkItem, sc *stage.Context) (stage.Outcome, error) {
		log.record("identify", sc.SubTask)
		if failures == 0 {
			failures++
			return stage.Outcome{}, errors.New("acoustid lookup timed out")
		}
		return stage.Complete(), nil
	})

	b := workflow.NewBuilder().
		Stage("scan", completing(log, "scan")).
		Stage("identify", flaky, "scan").
		Stage("harmonize", completing(log, "harmonize"), "identify")

	wf := mustBuild(t, b, state.NewMemoryStore())
	item := testsupport.Item{Identity: "item-1"}
	mustAdvance(t, wf, item)

	status, err := wf.Status(context.Background(), "item-1")
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if status.StageStatus("identify") != state.StatusFailed {
		t.Fatalf("expected failed identify, got %s", status.StageStatus("identify"))
	}
	if status.StageStatus("harmonize") != state.StatusPending {
		t.Fatal("downstream stage must not run after failure")
	}
	for _, record := range status.Stages {
		if record.Stage == "identify" {
			if record.LastError != "acoustid lookup timed out" {
				t.Fatalf("expected error text preserved, got %q", record.LastError)
			}
			if record.Attempts != 1 {
				t.Fatalf("expected one attempt, got %d", record.Attempts)
			}
		}
	}

	// The next advance is the caller-driven retry.
	mustAdvance(t, wf, item)
	if stageStatus(t, wf, "item-1", "harmonize") != state.StatusCompleted {
		t.Fatal("retry must resume the cascade")
	}
	status, err = wf.Status(context.Background(), "item-1")
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	for _, record := range status.Stages {
		if record.Stage == "identify" && record.Attempts != 2 {
			t.Fatalf("expected attempts to accumulate, got %d", record.Attempts)
		}
	}
}

func TestStagePanicIsRecordedAsFailure(t *testing.T) {
	b := workflow.NewBuilder().
		Stage("scan", stage.Func(func(ctx context.Context, item stage.WorkItem, sc *stage.Context) (stage.Outcome, error) {
			panic("tag reader crashed")
		}))

	wf := mustBuild(t, b, state.NewMemoryStore())
	mustAdvance(t, wf, testsupport.Item{Identity: "item-1"})

	status, err := wf.Status(context.Background(), "item-1")
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if status.StageStatus("scan") != state.StatusFailed {
		t.Fatalf("expected failed scan, got %s", status.StageStatus("scan"))
	}
}

func TestMetadataBagPersists(t *testing.T) {
	b := workflow.NewBuilder().
		Stage("identify", stage.Func(func(ctx context.Context, item stage.WorkItem, sc *stage.Context) (stage.Outcome, error) {
			sc.SetMeta("proposed_title", "Goldberg Variations")
			sc.SetMeta("proposed_composer", "J.S. Bach")
			return stage.AwaitingReview(), nil
		}))

	wf := mustBuild(t, b, state.NewMemoryStore())
	mustAdvance(t, wf, testsupport.Item{Identity: "item-1"})

	status, err := wf.Status(context.Background(), "item-1")
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	record := status.Stages[0]
	if record.Metadata["proposed_title"] != "Goldberg Variations" {
		t.Fatalf("metadata lost: %#v", record.Metadata)
	}
}

func TestAdvanceRejectsBadItems(t *testing.T) {
	b := workflow.NewBuilder().Stage("scan", completing(&callLog{}, "scan"))
	wf := mustBuild(t, b, state.NewMemoryStore())

	if err := wf.Advance(context.Background(), nil); err == nil {
		t.Fatal("expected error for nil item")
	}
	if err := wf.Advance(context.Background(), testsupport.Item{Identity: "  "}); err == nil {
		t.Fatal("expected error for empty id")
	}
}

func TestBuilderValidates(t *testing.T) {
	log := &callLog{}

	if _, err := workflow.NewBuilder().Build(state.NewMemoryStore()); err == nil {
		t.Fatal("expected error for empty builder")
	}

	b := workflow.NewBuilder().
		Stage("scan", completing(log, "scan")).
		Stage("scan", completing(log, "scan"))
	if _, err := b.Build(state.NewMemoryStore()); !errors.Is(err, graph.ErrDuplicateStage) {
		t.Fatalf("expected ErrDuplicateStage, got %v", err)
	}

	b = workflow.NewBuilder().Stage("scan", nil)
	if _, err := b.Build(state.NewMemoryStore()); err == nil {
		t.Fatal("expected error for nil handler")
	}

	b = workflow.NewBuilder().
		Stage("identify", completing(log, "identify"), "scan")
	if _, err := b.Build(state.NewMemoryStore()); !errors.Is(err, graph.ErrUnknownDependency) {
		t.Fatalf("expected ErrUnknownDependency, got %v", err)
	}

	b = workflow.NewBuilder().
		Stage("a", completing(log, "a")).
		Stage("b", completing(log, "b"), "a").
		Dependency("a", "b")
	var cycleErr *graph.CycleError
	if _, err := b.Build(state.NewMemoryStore()); !errors.As(err, &cycleErr) {
		t.Fatalf("expected CycleError, got %v", err)
	}

	b = workflow.NewBuilder().Dependency("missing", "scan")
	if _, err := b.Build(state.NewMemoryStore()); err == nil {
		t.Fatal("expected error for dependency on unregistered stage")
	}

	b = workflow.NewBuilder().Stage("scan", completing(log, "scan"))
	if _, err := b.Build(nil); err == nil {
		t.Fatal("expected error for nil store")
	}
}

func TestItemsAtChecksStage(t *testing.T) {
	log := &callLog{}
	wf := mustBuild(t, workflow.NewBuilder().Stage("scan", completing(log, "scan")), state.NewMemoryStore())

	if _, err := wf.ItemsAt(context.Background(), "missing", state.StatusCompleted); !errors.Is(err, workflow.ErrUnknownStage) {
		t.Fatalf("expected ErrUnknownStage, got %v", err)
	}

	for i := 0; i < 3; i++ {
		mustAdvance(t, wf, testsupport.Item{Identity: fmt.Sprintf("item-%d", i)})
	}
	ids, err := wf.ItemsAt(context.Background(), "scan", state.StatusCompleted)
	if err != nil {
		t.Fatalf("ItemsAt failed: %v", err)
	}
	if len(ids) != 3 {
		t.Fatalf("expected 3 completed items, got %v", ids)
	}
}

func TestConcurrentAdvanceAcrossItems(t *testing.T) {
	log := &callLog{}
	b := workflow.NewBuilder().
		Stage("scan", completing(log, "scan")).
		Stage("identify", completing(log, "identify"), "scan")
	wf := mustBuild(t, b, state.NewMemoryStore())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			item := testsupport.Item{Identity: fmt.Sprintf("item-%d", n)}
			if err := wf.Advance(context.Background(), item); err != nil {
				t.Errorf("Advance failed: %v", err)
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < 8; i++ {
		id := fmt.Sprintf("item-%d", i)
		if status := stageStatus(t, wf, id, "identify"); status != state.StatusCompleted {
			t.Fatalf("item %s: expected completed, got %s", id, status)
		}
	}
}

func TestHealthAggregation(t *testing.T) {
	log := &callLog{}
	checked := checkedHandler{log: log}
	b := workflow.NewBuilder().
		Stage("scan", completing(log, "scan")).
		Stage("enrich", checked, "scan")
	wf := mustBuild(t, b, state.NewMemoryStore())

	checks := wf.Health(context.Background())
	if len(checks) != 2 {
		t.Fatalf("expected 2 health entries, got %d", len(checks))
	}
	if checks[0].Name != "scan" || !checks[0].Ready {
		t.Fatalf("unexpected default health: %#v", checks[0])
	}
	if checks[1].Name != "enrich" || checks[1].Ready || checks[1].Detail != "musicbrainz unreachable" {
		t.Fatalf("unexpected checked health: %#v", checks[1])
	}
}

type checkedHandler struct {
	log *callLog
}

func (h checkedHandler) Execute(ctx context.Context, item stage.WorkItem, sc *stage.Context) (stage.Outcome, error) {
	h.log.record("enrich", sc.SubTask)
	return stage.Complete(), nil
}

func (h checkedHandler) HealthCheck(ctx context.Context) stage.Health {
	return stage.Unhealthy("enrich", "musicbrainz unreachable")
}
