package main

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"warden/pkg/protocol"
	"warden/pkg/stats"
	"warden/pkg/store"
)

// seedStateDB creates a state database with a few tasks and state keys,
// returning its path.
func seedStateDB(t *testing.T) string {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), protocol.DBFileName)
	s, err := store.Open(dbPath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer s.Close() //nolint:errcheck

	ctx := context.Background()
	queued := protocol.Task{Title: "queued work", Priority: protocol.PriorityP1, Status: protocol.StatusQueued}
	if _, err := s.CreateTask(ctx, queued); err != nil {
		t.Fatalf("create queued task: %v", err)
	}
	running := protocol.Task{Title: "running work", Priority: protocol.PriorityP0, Status: protocol.StatusQueued}
	created, err := s.CreateTask(ctx, running)
	if err != nil {
		t.Fatalf("create running task: %v", err)
	}
	if err := s.MarkInProgress(ctx, created.ID); err != nil {
		t.Fatalf("mark in progress: %v", err)
	}

	w := stats.NewWindow()
	w.Record(true, "")
	w.Record(false, "network")
	raw, err := json.Marshal(w)
	if err != nil {
		t.Fatalf("marshal window: %v", err)
	}
	if err := s.SetState(ctx, protocol.StateDispatchStats, string(raw)); err != nil {
		t.Fatalf("set stats: %v", err)
	}
	if err := s.SetState(ctx, protocol.StateDispatchRamp, `{"rate":3}`); err != nil {
		t.Fatalf("set ramp: %v", err)
	}
	if err := s.SetState(ctx, protocol.StateBillingPaused, "1"); err != nil {
		t.Fatalf("set billing: %v", err)
	}
	if err := s.SetState(ctx, protocol.StatePausedTiers, `["P3"]`); err != nil {
		t.Fatalf("set paused tiers: %v", err)
	}
	return dbPath
}

func TestFetchSnapshot(t *testing.T) {
	dbPath := seedStateDB(t)

	snap, err := FetchSnapshot(dbPath)
	if err != nil {
		t.Fatalf("FetchSnapshot() error = %v", err)
	}

	if len(snap.Queued) != 1 {
		t.Errorf("Queued = %d tasks, want 1", len(snap.Queued))
	}
	if len(snap.InFlight) != 1 {
		t.Errorf("InFlight = %d tasks, want 1", len(snap.InFlight))
	}
	if snap.Window.Total != 2 || snap.Window.Success != 1 {
		t.Errorf("Window = %+v, want total 2 success 1", snap.Window)
	}
	if snap.RampRate != 3 {
		t.Errorf("RampRate = %d, want 3", snap.RampRate)
	}
	if !snap.BillingPaused {
		t.Error("BillingPaused = false, want true")
	}
	if len(snap.PausedTiers) != 1 || snap.PausedTiers[0] != "P3" {
		t.Errorf("PausedTiers = %v, want [P3]", snap.PausedTiers)
	}
}

func TestFetchSnapshotMissingDB(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "does-not-exist.db")
	if _, err := FetchSnapshot(dbPath); err == nil {
		t.Fatal("FetchSnapshot() on missing db: expected error, got nil")
	}
}

func TestFetchSnapshotEmptyState(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), protocol.DBFileName)
	s, err := store.Open(dbPath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close store: %v", err)
	}

	snap, err := FetchSnapshot(dbPath)
	if err != nil {
		t.Fatalf("FetchSnapshot() error = %v", err)
	}
	if len(snap.Queued) != 0 || len(snap.InFlight) != 0 {
		t.Errorf("fresh db snapshot not empty: %+v", snap)
	}
	if snap.Window.Total != 0 {
		t.Errorf("fresh db window not empty: %+v", snap.Window)
	}
	if snap.RampRate != 0 || snap.BillingPaused {
		t.Errorf("fresh db flags not zero: ramp=%d billing=%v", snap.RampRate, snap.BillingPaused)
	}
}

func TestDefaultDBPathEnvOverrides(t *testing.T) {
	t.Setenv("WARDEN_DB_PATH", "/custom/warden.db")
	if got := defaultDBPath(); got != "/custom/warden.db" {
		t.Errorf("defaultDBPath() = %q, want /custom/warden.db", got)
	}

	t.Setenv("WARDEN_DB_PATH", "")
	t.Setenv("WARDEN_HOME", "/custom/home")
	want := filepath.Join("/custom/home", protocol.DBFileName)
	if got := defaultDBPath(); got != want {
		t.Errorf("defaultDBPath() = %q, want %q", got, want)
	}
}
