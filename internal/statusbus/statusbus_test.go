package statusbus

import (
	"testing"

	"llmbridge/internal/connection"
	"llmbridge/internal/logging"
)

func transition(prev, cur connection.State) Event {
	return Event{
		Connection: connection.TypeLocalOllama,
		Previous:   prev,
		Current:    cur,
	}
}

func TestPublishFansOut(t *testing.T) {
	bus := New(logging.NewNop())
	defer bus.Close()

	first, cancelFirst := bus.Subscribe()
	defer cancelFirst()
	second, cancelSecond := bus.Subscribe()
	defer cancelSecond()

	ev := transition(connection.StateDisconnected, connection.StateConnected)
	bus.Publish(ev)

	for name, ch := range map[string]<-chan Event{"first": first, "second": second} {
		select {
		case got := <-ch:
			if got.Current != connection.StateConnected {
				t.Errorf("%s subscriber got %+v", name, got)
			}
		default:
			t.Errorf("%s subscriber received nothing", name)
		}
	}
}

func TestFullSubscriberDoesNotBlockOthers(t *testing.T) {
	bus := New(logging.NewNop())
	defer bus.Close()

	stalled, cancelStalled := bus.Subscribe()
	defer cancelStalled()
	healthy, cancelHealthy := bus.Subscribe()
	defer cancelHealthy()

	// Overfill the stalled subscriber's buffer; Publish must never block.
	for i := 0; i < subscriberBuffer+5; i++ {
		bus.Publish(transition(connection.StateConnected, connection.StateError))
	}

	if got := len(stalled); got != subscriberBuffer {
		t.Errorf("stalled subscriber buffered %d events, want %d", got, subscriberBuffer)
	}

	drained := 0
	for n := len(healthy); n > 0; n-- {
		<-healthy
		drained++
	}
	if drained != subscriberBuffer {
		t.Errorf("healthy subscriber drained %d events, want %d", drained, subscriberBuffer)
	}
}

func TestCancelIsIdempotent(t *testing.T) {
	bus := New(logging.NewNop())
	defer bus.Close()

	ch, cancel := bus.Subscribe()
	cancel()
	cancel()

	if _, open := <-ch; open {
		t.Error("channel still open after cancel")
	}

	// Publishing after cancel must not panic or deliver.
	bus.Publish(transition(connection.StateConnected, connection.StateDisconnected))
}

func TestCloseShutsDownSubscribers(t *testing.T) {
	bus := New(logging.NewNop())

	ch, cancel := bus.Subscribe()
	bus.Close()
	bus.Close()

	if _, open := <-ch; open {
		t.Error("channel still open after bus close")
	}

	// Cancel after close is a no-op, not a double close.
	cancel()

	late, lateCancel := bus.Subscribe()
	defer lateCancel()
	if _, open := <-late; open {
		t.Error("subscribe after close returned an open channel")
	}
	bus.Publish(transition(connection.StateConnected, connection.StateDisconnected))
}
