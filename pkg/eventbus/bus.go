// Package eventbus implements the Event Bus (§4.7): a topic-less broadcast
// of Build Index deltas to any number of subscribers, each with its own
// bounded buffer so one slow reader (a stalled SSE connection) cannot back
// up delivery to the rest.
package eventbus

import (
	"sync"

	"github.com/google/uuid"

	"github.com/sbidoul/runboat/pkg/buildindex"
)

// DefaultBufferSize is the per-subscriber channel depth used when callers
// don't override it.
const DefaultBufferSize = 64

// Bus fans out buildindex.Event values to subscribers. It implements
// buildindex.Publisher, so an *Index can be constructed with a *Bus
// directly as its publisher.
type Bus struct {
	mu          sync.Mutex
	bufferSize  int
	subscribers map[uuid.UUID]chan buildindex.Event
}

// New constructs an empty Bus. bufferSize <= 0 uses DefaultBufferSize.
func New(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Bus{
		bufferSize:  bufferSize,
		subscribers: make(map[uuid.UUID]chan buildindex.Event),
	}
}

// Publish delivers e to every current subscriber. Per §4.7, a subscriber
// whose buffer is full is dropped rather than blocking the publisher or
// the other subscribers; the dropped subscriber's channel is closed so its
// reader (the SSE handler) observes the disconnect and the client
// reconnects to receive a fresh snapshot.
func (b *Bus) Publish(e buildindex.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subscribers {
		select {
		case ch <- e:
		default:
			close(ch)
			delete(b.subscribers, id)
		}
	}
}

// Subscribe registers a new subscriber and returns its event channel and an
// Unsubscribe func to call when the caller (e.g. an SSE handler) is done.
// The returned channel is closed either by Unsubscribe or, if the
// subscriber falls behind, by Publish itself — callers must range over it
// rather than assume it stays open forever.
func (b *Bus) Subscribe() (<-chan buildindex.Event, func()) {
	id := uuid.New()
	ch := make(chan buildindex.Event, b.bufferSize)

	b.mu.Lock()
	b.subscribers[id] = ch
	b.mu.Unlock()

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if existing, ok := b.subscribers[id]; ok {
			close(existing)
			delete(b.subscribers, id)
		}
	}
	return ch, unsubscribe
}

// SubscriberCount reports the current number of live subscribers, exposed
// as a metric.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}
