package events_test

import (
	"testing"

	"treadle/events"
)

func TestPublishReachesAllSubscribers(t *testing.T) {
	bus := events.NewBus(4)
	first, cancelFirst := bus.Subscribe()
	second, cancelSecond := bus.Subscribe()
	defer cancelFirst()
	defer cancelSecond()

	bus.Publish(events.Event{Kind: events.StageStarted, ItemID: "item-1", Stage: "scan"})

	for _, ch := range []<-chan events.Event{first, second} {
		select {
		case evt := <-ch:
			if evt.Kind != events.StageStarted || evt.ItemID != "item-1" {
				t.Fatalf("unexpected event: %#v", evt)
			}
			if evt.At.IsZero() {
				t.Fatal("expected publish timestamp")
			}
		default:
			t.Fatal("expected buffered event")
		}
	}
}

func TestSlowSubscriberDropsEvents(t *testing.T) {
	bus := events.NewBus(1)
	ch, cancel := bus.Subscribe()
	defer cancel()

	bus.Publish(events.Event{Kind: events.StageStarted, ItemID: "item-1", Stage: "scan"})
	bus.Publish(events.Event{Kind: events.StageCompleted, ItemID: "item-1", Stage: "scan"})

	evt := <-ch
	if evt.Kind != events.StageStarted {
		t.Fatalf("expected first event to survive, got %s", evt.Kind)
	}
	select {
	case extra := <-ch:
		t.Fatalf("expected overflow to drop, got %#v", extra)
	default:
	}
}

func TestCancelClosesChannel(t *testing.T) {
	bus := events.NewBus(0)
	ch, cancel := bus.Subscribe()
	if bus.SubscriberCount() != 1 {
		t.Fatalf("expected one subscriber, got %d", bus.SubscriberCount())
	}

	cancel()
	cancel() // second call is a no-op

	if bus.SubscriberCount() != 0 {
		t.Fatalf("expected no subscribers, got %d", bus.SubscriberCount())
	}
	if _, open := <-ch; open {
		t.Fatal("expected closed channel")
	}

	// Publishing with no subscribers must not panic or block.
	bus.Publish(events.Event{Kind: events.StageFailed, ItemID: "item-1", Stage: "scan"})
}
