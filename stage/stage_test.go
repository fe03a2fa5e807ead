package stage_test

import (
	"context"
	"testing"

	"treadle/stage"
)

type testItem string

func (t testItem) ID() string { return string(t) }

func TestFuncAdapts(t *testing.T) {
	handler := stage.Func(func(ctx context.Context, item stage.WorkItem, sc *stage.Context) (stage.Outcome, error) {
		sc.SetMeta("seen", item.ID())
		return stage.Complete(), nil
	})

	sc := stage.NewContext()
	outcome, err := handler.Execute(context.Background(), testItem("item-1"), sc)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if outcome.Kind != stage.OutcomeComplete {
		t.Fatalf("expected complete, got %s", outcome.Kind)
	}
	if value, ok := sc.Meta("seen"); !ok || value != "item-1" {
		t.Fatalf("unexpected metadata: %q, %v", value, ok)
	}
}

func TestFanOutCleansNames(t *testing.T) {
	outcome := stage.FanOut(" musicbrainz ", "discogs", "", "discogs", "lastfm")
	if outcome.Kind != stage.OutcomeFanOut {
		t.Fatalf("expected fan_out, got %s", outcome.Kind)
	}
	want := []string{"musicbrainz", "discogs", "lastfm"}
	if len(outcome.SubTasks) != len(want) {
		t.Fatalf("expected %v, got %v", want, outcome.SubTasks)
	}
	for i := range want {
		if outcome.SubTasks[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, outcome.SubTasks)
		}
	}
}

func TestFailedTrimsReason(t *testing.T) {
	outcome := stage.Failed("  network timeout \n")
	if outcome.Reason != "network timeout" {
		t.Fatalf("unexpected reason: %q", outcome.Reason)
	}
}

func TestContextSnapshotCopies(t *testing.T) {
	sc := stage.NewSubTaskContext("musicbrainz")
	if sc.SubTask != "musicbrainz" {
		t.Fatalf("unexpected subtask: %q", sc.SubTask)
	}
	if snapshot := sc.MetaSnapshot(); snapshot != nil {
		t.Fatalf("expected nil snapshot for empty bag, got %#v", snapshot)
	}

	sc.SetMeta("key", "value")
	snapshot := sc.MetaSnapshot()
	snapshot["key"] = "mutated"
	if value, _ := sc.Meta("key"); value != "value" {
		t.Fatal("snapshot must not alias the bag")
	}
}
