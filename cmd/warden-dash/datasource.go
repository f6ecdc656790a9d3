package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"warden/pkg/protocol"
	"warden/pkg/stats"
	"warden/pkg/store"
)

// Snapshot is a point-in-time view of the daemon state read from the
// state database.
type Snapshot struct {
	Queued        []protocol.Task          `json:"queued"`
	InFlight      []protocol.Task          `json:"in_flight"`
	Window        stats.Snapshot           `json:"window"`
	RampRate      int                      `json:"ramp_rate"`
	BillingPaused bool                     `json:"billing_paused"`
	PausedTiers   []string                 `json:"paused_tiers,omitempty"`
	Proposals     []protocol.PendingAction `json:"proposals,omitempty"`
}

// defaultDBPath returns the state database path from env or default.
func defaultDBPath() string {
	if v := os.Getenv("WARDEN_DB_PATH"); v != "" {
		return v
	}
	home := os.Getenv("WARDEN_HOME")
	if home == "" {
		userHome, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		home = filepath.Join(userHome, protocol.WardenDir)
	}
	return filepath.Join(home, protocol.DBFileName)
}

// FetchSnapshot reads daemon state from the sqlite database at dbPath.
//
// Error cases:
//   - dbPath does not exist or is not a valid sqlite DB → returns error
//   - SQL query error → returns error
func FetchSnapshot(dbPath string) (*Snapshot, error) {
	if _, err := os.Stat(dbPath); err != nil {
		return nil, fmt.Errorf("state db %s: %w", dbPath, err)
	}

	s, err := store.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open state db %s: %w", dbPath, err)
	}
	defer s.Close() //nolint:errcheck // best-effort close on read-only snapshot path

	ctx := context.Background()
	snap := &Snapshot{}

	snap.Queued, err = s.ListByStatus(ctx, protocol.StatusQueued)
	if err != nil {
		return nil, fmt.Errorf("query queued tasks: %w", err)
	}
	snap.InFlight, err = s.InFlight(ctx)
	if err != nil {
		return nil, fmt.Errorf("query in-flight tasks: %w", err)
	}

	if raw, err := s.GetState(ctx, protocol.StateDispatchStats); err == nil && raw != "" {
		w := stats.NewWindow()
		if err := w.Load([]byte(raw)); err == nil {
			snap.Window = w.Snapshot()
		}
	}
	if raw, err := s.GetState(ctx, protocol.StateDispatchRamp); err == nil && raw != "" {
		var ramp struct {
			Rate int `json:"rate"`
		}
		if err := json.Unmarshal([]byte(raw), &ramp); err == nil {
			snap.RampRate = ramp.Rate
		}
	}
	if raw, err := s.GetState(ctx, protocol.StateBillingPaused); err == nil {
		snap.BillingPaused = raw == "1"
	}
	if raw, err := s.GetState(ctx, protocol.StatePausedTiers); err == nil && raw != "" {
		_ = json.Unmarshal([]byte(raw), &snap.PausedTiers)
	}

	snap.Proposals, err = s.ListProposals(ctx, protocol.ProposalPending)
	if err != nil {
		return nil, fmt.Errorf("query proposals: %w", err)
	}

	return snap, nil
}
