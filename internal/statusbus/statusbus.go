// Package statusbus fans out connection state transitions to any number of
// subscribers without letting a slow consumer stall the publisher.
package statusbus

import (
	"log/slog"
	"sync"

	"llmbridge/internal/connection"
	"llmbridge/internal/logging"
)

// Event records one observed state transition for a connection.
type Event struct {
	Connection connection.Type
	Previous   connection.State
	Current    connection.State
	// Status is the snapshot taken at the moment of the transition.
	Status connection.Status
}

const subscriberBuffer = 16

// Bus is a broadcast channel for Events. Publish never blocks: a
// subscriber whose buffer is full misses the event and the drop is
// counted against that subscriber alone.
type Bus struct {
	logger *slog.Logger

	mu      sync.Mutex
	nextID  int
	subs    map[int]chan Event
	dropped map[int]uint64
	closed  bool
}

func New(logger *slog.Logger) *Bus {
	return &Bus{
		logger:  logging.NewComponentLogger(logger, "statusbus"),
		subs:    make(map[int]chan Event),
		dropped: make(map[int]uint64),
	}
}

// Subscribe registers a new consumer. The returned cancel function is
// idempotent and closes the event channel.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, subscriberBuffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if c, ok := b.subs[id]; ok {
				delete(b.subs, id)
				delete(b.dropped, id)
				close(c)
			}
		})
	}
	return ch, cancel
}

// Publish delivers the event to every subscriber that has buffer room.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for id, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.dropped[id]++
			b.logger.Warn("subscriber buffer full, dropping event",
				logging.Int("subscriber", id),
				logging.String(logging.FieldConnection, string(ev.Connection)),
				logging.Int64("dropped_total", int64(b.dropped[id])),
			)
		}
	}
}

// Close shuts the bus down and closes all subscriber channels. Further
// Publish calls are no-ops and further Subscribe calls return a closed
// channel.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
	b.dropped = map[int]uint64{}
}
