// Package stats maintains a sliding one-hour window of dispatch outcomes and
// the soft failure gate derived from it. Events are ephemeral: anything older
// than the window is pruned on every write and never individually addressed.
package stats

import (
	"encoding/json"
	"fmt"
	"time"
)

// WindowSize is the trailing retention period for dispatch events.
const WindowSize = time.Hour

// Gate thresholds for the low-success-rate soft gate.
const (
	// MinSamples is the minimum event count before the gate may fire.
	MinSamples = 10

	// MinRate is the strict lower bound: the gate fires only when the
	// success rate is below this value. A rate of exactly MinRate does not
	// trigger.
	MinRate = 0.30
)

// Event is one dispatch outcome inside the window.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Success   bool      `json:"success"`
	Reason    string    `json:"reason,omitempty"`
}

// Snapshot is the aggregate view of the current window. Rate is nil when the
// window is empty.
type Snapshot struct {
	Total          int            `json:"total"`
	Success        int            `json:"success"`
	Failed         int            `json:"failed"`
	Rate           *float64       `json:"rate,omitempty"`
	FailureReasons map[string]int `json:"failure_reasons,omitempty"`
}

// Window is the rolling dispatch-outcome buffer. Not safe for concurrent
// use; the scheduler owns it and serializes access through the tick lock.
type Window struct {
	events  []Event
	nowFunc func() time.Time
}

// NewWindow creates an empty window.
func NewWindow() *Window {
	return &Window{nowFunc: time.Now}
}

// SetNowFunc overrides the clock, for tests.
func (w *Window) SetNowFunc(fn func() time.Time) {
	w.nowFunc = fn
}

// Record appends one dispatch outcome, then prunes events older than the
// window before any aggregate is recomputed.
func (w *Window) Record(success bool, reason string) {
	now := w.nowFunc()
	w.events = append(w.events, Event{Timestamp: now, Success: success, Reason: reason})
	w.prune(now)
}

// prune drops events older than WindowSize relative to now.
func (w *Window) prune(now time.Time) {
	cutoff := now.Add(-WindowSize)
	kept := w.events[:0]
	for _, e := range w.events {
		if e.Timestamp.After(cutoff) {
			kept = append(kept, e)
		}
	}
	w.events = kept
}

// Snapshot prunes, then returns the current aggregates.
func (w *Window) Snapshot() Snapshot {
	w.prune(w.nowFunc())

	snap := Snapshot{Total: len(w.events)}
	if snap.Total == 0 {
		return snap
	}

	reasons := make(map[string]int)
	for _, e := range w.events {
		if e.Success {
			snap.Success++
			continue
		}
		snap.Failed++
		if e.Reason != "" {
			reasons[e.Reason]++
		}
	}
	if len(reasons) > 0 {
		snap.FailureReasons = reasons
	}

	rate := float64(snap.Success) / float64(snap.Total)
	snap.Rate = &rate
	return snap
}

// LowSuccess reports whether the soft gate fires: a defined rate, at least
// MinSamples events, and a rate strictly below MinRate. Fewer samples never
// trigger regardless of how low the rate is.
func (w *Window) LowSuccess() bool {
	snap := w.Snapshot()
	return snap.Rate != nil && snap.Total >= MinSamples && *snap.Rate < MinRate
}

// MarshalJSON persists the raw window events.
func (w *Window) MarshalJSON() ([]byte, error) {
	return json.Marshal(w.events)
}

// Load replaces the window contents from persisted JSON. Empty input yields
// an empty window.
func (w *Window) Load(data []byte) error {
	if len(data) == 0 {
		w.events = nil
		return nil
	}
	var events []Event
	if err := json.Unmarshal(data, &events); err != nil {
		return fmt.Errorf("load dispatch stats: %w", err)
	}
	w.events = events
	w.prune(w.nowFunc())
	return nil
}
