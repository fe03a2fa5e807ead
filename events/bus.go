package events

import (
	"sync"
	"time"
)

const defaultBuffer = 16

// Bus fans events out to any number of concurrent subscribers. Publish
// never blocks: a subscriber whose buffer is full drops the event.
type Bus struct {
	mu     sync.Mutex
	nextID uint64
	subs   map[uint64]chan Event
	buffer int
}

// NewBus returns a Bus whose subscriber channels buffer the given number of
// events. A non-positive buffer falls back to a small default.
func NewBus(buffer int) *Bus {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Bus{subs: make(map[uint64]chan Event), buffer: buffer}
}

// Subscribe registers a new listener. The returned cancel func must be
// called when the listener is done; it closes the channel.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	ch := make(chan Event, b.buffer)
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Publish delivers the event to every subscriber that has buffer space and
// drops it for the rest.
func (b *Bus) Publish(evt Event) {
	if b == nil {
		return
	}
	if evt.At.IsZero() {
		evt.At = time.Now().UTC()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subs {
		select {
		case sub <- evt:
		default:
		}
	}
}

// SubscriberCount reports how many listeners are registered.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
