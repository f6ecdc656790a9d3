package notify

import (
	"testing"
	"time"
)

func TestPublishReachesAllSubscribers(t *testing.T) {
	t.Parallel()

	bus := NewBus()
	a := bus.Subscribe()
	b := bus.Subscribe()

	bus.Publish(Event{Type: EventTaskStarted, TaskID: "t1"})

	for _, ch := range []<-chan Event{a, b} {
		select {
		case ev := <-ch:
			if ev.Type != EventTaskStarted || ev.TaskID != "t1" {
				t.Fatalf("unexpected event: %+v", ev)
			}
			if ev.At.IsZero() {
				t.Fatal("Publish should stamp At")
			}
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive event")
		}
	}
}

func TestPublishNeverBlocksOnFullSubscriber(t *testing.T) {
	t.Parallel()

	bus := NewBus()
	_ = bus.Subscribe()

	// Flood well past the channel buffer; Publish must return regardless.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 200; i++ {
			bus.Publish(Event{Type: EventTaskCompleted})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}
}

func TestPublishWithNoSubscribers(t *testing.T) {
	t.Parallel()

	bus := NewBus()
	bus.Publish(Event{Type: EventDrainEntered}) // must not panic or block
}
