// Package notify provides the in-process notification bus. Subscribers
// receive proposal and task lifecycle events; publishing is non-blocking and
// a slow or absent subscriber never aborts the operation that triggered the
// event.
package notify

import (
	"sync"
	"time"
)

// Event types published on the bus.
const (
	EventProposalCreated   = "proposal_created"
	EventProposalCommented = "proposal_commented"
	EventProposalResolved  = "proposal_resolved"
	EventTaskStarted       = "task_started"
	EventTaskCompleted     = "task_completed"
	EventTaskFailed        = "task_failed"
	EventDrainEntered      = "drain_entered"
	EventDrainCleared      = "drain_cleared"
)

// Event is one notification.
type Event struct {
	Type       string    `json:"type"`
	TaskID     string    `json:"task_id,omitempty"`
	ProposalID string    `json:"proposal_id,omitempty"`
	Message    string    `json:"message,omitempty"`
	At         time.Time `json:"at"`
}

// Bus fans events out to subscribers. Channels that cannot accept an event
// immediately are skipped; delivery is best-effort.
type Bus struct {
	mu   sync.Mutex
	subs []chan Event
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe returns a buffered channel receiving future events.
func (b *Bus) Subscribe() <-chan Event {
	ch := make(chan Event, 64)
	b.mu.Lock()
	b.subs = append(b.subs, ch)
	b.mu.Unlock()
	return ch
}

// Publish delivers the event to every subscriber that can take it without
// blocking. It never fails and never blocks the caller.
func (b *Bus) Publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	b.mu.Lock()
	subs := make([]chan Event, len(b.subs))
	copy(subs, b.subs)
	b.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
