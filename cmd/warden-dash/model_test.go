package main

import (
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"warden/pkg/protocol"
	"warden/pkg/stats"
)

// TestStatusBar verifies the status bar shows db health plus queue, ramp,
// and window aggregates.
func TestStatusBar(t *testing.T) {
	rate := 0.5
	tests := []struct {
		name         string
		healthy      bool
		snap         *Snapshot
		wantContains []string
	}{
		{
			name:         "unreadable db shows red state",
			healthy:      false,
			snap:         nil,
			wantContains: []string{"unreadable"},
		},
		{
			name:    "healthy shows counts and window",
			healthy: true,
			snap: &Snapshot{
				Queued:   []protocol.Task{{ID: "a"}, {ID: "b"}},
				InFlight: []protocol.Task{{ID: "c"}},
				RampRate: 3,
				Window:   stats.Snapshot{Total: 4, Success: 2, Rate: &rate},
			},
			wantContains: []string{"queued: 2", "in flight: 1", "ramp: 3", "2/4 ok (50%)"},
		},
		{
			name:    "billing pause and paused tiers flagged",
			healthy: true,
			snap: &Snapshot{
				BillingPaused: true,
				PausedTiers:   []string{"P3"},
			},
			wantContains: []string{"BILLING PAUSED", "paused tiers"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := Model{healthy: tt.healthy, snap: tt.snap}
			bar := m.renderStatusBar()
			for _, want := range tt.wantContains {
				if !strings.Contains(bar, want) {
					t.Errorf("status bar missing %q\ngot:\n%s", want, bar)
				}
			}
		})
	}
}

func TestUpdateSnapshotMsg(t *testing.T) {
	m := newModel()

	updated, _ := m.Update(snapshotMsg(&Snapshot{RampRate: 2}))
	got := updated.(Model)
	if !got.healthy {
		t.Error("snapshot msg should mark model healthy")
	}
	if got.snap == nil || got.snap.RampRate != 2 {
		t.Errorf("snap = %+v, want ramp rate 2", got.snap)
	}

	// A nil snapshot flips health but keeps the last good data for display.
	updated, _ = got.Update(snapshotMsg(nil))
	got = updated.(Model)
	if got.healthy {
		t.Error("nil snapshot msg should mark model unhealthy")
	}
	if got.snap == nil {
		t.Error("nil snapshot msg should not discard last snapshot")
	}
}

func TestUpdateQuitKeys(t *testing.T) {
	m := newModel()
	for _, key := range []string{"q", "ctrl+c"} {
		var msg tea.KeyMsg
		if key == "q" {
			msg = tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}}
		} else {
			msg = tea.KeyMsg{Type: tea.KeyCtrlC}
		}
		_, cmd := m.Update(msg)
		if cmd == nil {
			t.Fatalf("key %q: expected quit command, got nil", key)
		}
		if quit := cmd(); quit != tea.Quit() {
			t.Errorf("key %q: expected tea.Quit, got %v", key, quit)
		}
	}
}

func TestUpdateTickRefetches(t *testing.T) {
	m := newModel()
	_, cmd := m.Update(tickMsg(time.Now()))
	if cmd == nil {
		t.Fatal("tick should schedule a refetch")
	}
}

func TestViewWaitingState(t *testing.T) {
	m := newModel()
	out := m.View()
	if !strings.Contains(out, "Waiting for state database") {
		t.Errorf("View() without snapshot missing waiting message\ngot:\n%s", out)
	}
}

func TestViewRendersSections(t *testing.T) {
	started := time.Now().UTC().Add(-5 * time.Minute)
	m := Model{
		healthy: true,
		snap: &Snapshot{
			Queued: []protocol.Task{{ID: "q1", Title: "Queued thing", Priority: protocol.PriorityP1}},
			InFlight: []protocol.Task{{
				ID:       "f1",
				Title:    "Running thing",
				Status:   protocol.StatusInProgress,
				Payload:  protocol.Payload{RunID: "run-f1", RunTriggeredAt: &started},
				Priority: protocol.PriorityP0,
			}},
			Proposals: []protocol.PendingAction{{ID: "p1"}},
		},
	}

	out := m.View()
	for _, want := range []string{"Queue", "Queued thing", "In flight (1)", "Running thing", "run-f1", "awaiting approval"} {
		if !strings.Contains(out, want) {
			t.Errorf("View() missing %q\ngot:\n%s", want, out)
		}
	}
}

func TestFormatElapsed(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	at := func(d time.Duration) *time.Time {
		ts := now.Add(-d)
		return &ts
	}

	tests := []struct {
		name string
		task protocol.Task
		want string
	}{
		{"no timestamps", protocol.Task{}, "-"},
		{"seconds", protocol.Task{Payload: protocol.Payload{RunTriggeredAt: at(30 * time.Second)}}, "30s"},
		{"minutes", protocol.Task{Payload: protocol.Payload{RunTriggeredAt: at(12 * time.Minute)}}, "12m"},
		{"hours", protocol.Task{Payload: protocol.Payload{RunTriggeredAt: at(90 * time.Minute)}}, "1h30m"},
		{"falls back to started at", protocol.Task{StartedAt: at(2 * time.Minute)}, "2m"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := formatElapsed(tt.task, now); got != tt.want {
				t.Errorf("formatElapsed() = %q, want %q", got, tt.want)
			}
		})
	}
}
