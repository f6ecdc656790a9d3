package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"warden/pkg/protocol"
)

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	t.Parallel()

	c, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.TickInterval != 60*time.Second {
		t.Errorf("tick_interval = %v, want 60s", c.TickInterval)
	}
	if c.RunTimeout != 45*time.Minute {
		t.Errorf("run_timeout = %v, want 45m", c.RunTimeout)
	}
	if c.ApprovalWindow != 24*time.Hour {
		t.Errorf("approval_window = %v, want 24h", c.ApprovalWindow)
	}
	if c.Slots != 0 {
		t.Errorf("slots = %v, want 0 (host-derived)", c.Slots)
	}
}

func TestLoadPartialFileFillsRemainingDefaults(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	body := "slots = 4.0\ntick_interval = \"30s\"\nworker_command = \"run-task\"\n"
	if err := os.WriteFile(filepath.Join(dir, protocol.ConfigFileName), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	c, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Slots != 4.0 {
		t.Errorf("slots = %v, want 4", c.Slots)
	}
	if c.TickInterval != 30*time.Second {
		t.Errorf("tick_interval = %v, want 30s", c.TickInterval)
	}
	if c.WorkerCommand != "run-task" {
		t.Errorf("worker_command = %q", c.WorkerCommand)
	}
	// Untouched fields still get defaults.
	if c.MinTickSpacing != 5*time.Second {
		t.Errorf("min_tick_spacing = %v, want 5s", c.MinTickSpacing)
	}
}

func TestLoadMalformedFileErrors(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, protocol.ConfigFileName), []byte("slots = ["), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(dir); err == nil {
		t.Fatal("malformed TOML must error, not silently default")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "nested", protocol.WardenDir)
	in := Config{Slots: 2.5, RunTimeout: 10 * time.Minute, PreflightCommand: "check"}
	if err := Save(dir, in); err != nil {
		t.Fatalf("save: %v", err)
	}

	out, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if out.Slots != 2.5 || out.RunTimeout != 10*time.Minute || out.PreflightCommand != "check" {
		t.Fatalf("round trip = %+v", out)
	}
}

func TestGoalsScoping(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	gf := GoalsFile{Goals: []Goal{
		{ID: "g-active", Active: true},
		{ID: "g-inactive", Active: false},
		{ID: "g-expired", Active: true, Deadline: &past},
		{ID: "g-deadline-ahead", Active: true, Deadline: &future},
	}}

	ids := gf.ActiveGoalIDs(now)
	want := []string{"g-active", "g-deadline-ahead"}
	if len(ids) != len(want) {
		t.Fatalf("ids = %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("ids = %v, want %v", ids, want)
		}
	}
}

func TestGoalsEmptyFileMeansNoScoping(t *testing.T) {
	t.Parallel()

	gf, err := LoadGoals(t.TempDir())
	if err != nil {
		t.Fatalf("load goals: %v", err)
	}
	if ids := gf.ActiveGoalIDs(time.Now()); ids != nil {
		t.Fatalf("ids = %v, want nil (no scoping)", ids)
	}
}

func TestGoalsAllInactiveScopesEverythingOut(t *testing.T) {
	t.Parallel()

	gf := GoalsFile{Goals: []Goal{{ID: "g1", Active: false}}}
	ids := gf.ActiveGoalIDs(time.Now())
	if ids == nil || len(ids) != 0 {
		t.Fatalf("ids = %v, want empty non-nil (everything scoped out)", ids)
	}
}

func TestGoalsRoundTrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	in := GoalsFile{Goals: []Goal{{ID: "g1", Name: "ship it", Active: true}}}
	if err := SaveGoals(dir, in); err != nil {
		t.Fatalf("save goals: %v", err)
	}
	out, err := LoadGoals(dir)
	if err != nil {
		t.Fatalf("load goals: %v", err)
	}
	if len(out.Goals) != 1 || out.Goals[0].ID != "g1" || !out.Goals[0].Active {
		t.Fatalf("round trip = %+v", out)
	}
}
