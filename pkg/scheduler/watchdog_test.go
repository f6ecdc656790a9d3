package scheduler

import (
	"context"
	"testing"
	"time"

	"warden/pkg/config"
	"warden/pkg/protocol"
)

func TestWatchdogReapsOverdueTask(t *testing.T) {
	t.Parallel()

	sched, s, trig, _ := testScheduler(t, config.Config{Slots: 4, RunTimeout: 30 * time.Minute})
	ctx := context.Background()

	now := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)
	sched.SetNowFunc(func() time.Time { return now })

	task := mustCreate(t, s, protocol.Task{Title: "runaway"})
	if err := s.MarkInProgress(ctx, task.ID); err != nil {
		t.Fatal(err)
	}

	// Under the ceiling: untouched.
	now = now.Add(20 * time.Minute)
	if err := sched.watchdogSweep(ctx); err != nil {
		t.Fatal(err)
	}
	if len(trig.killed) != 0 {
		t.Fatal("a task under the ceiling must not be killed")
	}

	// Past the ceiling: killed, annotated, requeued with backoff.
	now = now.Add(25 * time.Minute)
	if err := sched.watchdogSweep(ctx); err != nil {
		t.Fatal(err)
	}
	if len(trig.killed) != 1 || trig.killed[0] != task.ID {
		t.Fatalf("killed = %v, want [%s]", trig.killed, task.ID)
	}

	got, _ := s.GetTask(ctx, task.ID)
	if got.Payload.Timeout == nil {
		t.Fatal("reaped task must carry a timeout record")
	}
	if got.Payload.Timeout.ElapsedMinutes < 44 || got.Payload.Timeout.ElapsedMinutes > 46 {
		t.Errorf("elapsed_minutes = %v, want ~45", got.Payload.Timeout.ElapsedMinutes)
	}
	if got.Payload.Timeout.LimitMinutes != 30 {
		t.Errorf("limit = %v, want 30", got.Payload.Timeout.LimitMinutes)
	}
	if got.Payload.WatchdogRetryCount != 1 {
		t.Errorf("watchdog_retry_count = %d, want 1", got.Payload.WatchdogRetryCount)
	}
	if got.Status != protocol.StatusQueued {
		t.Fatalf("status = %s, want queued for retry", got.Status)
	}
	if got.Payload.NextRunAt == nil || !got.Payload.NextRunAt.After(now) {
		t.Fatalf("next_run_at = %v, want a future backoff", got.Payload.NextRunAt)
	}
}

func TestWatchdogQuarantinesRepeatOffender(t *testing.T) {
	t.Parallel()

	sched, s, trig, _ := testScheduler(t, config.Config{Slots: 4, RunTimeout: 30 * time.Minute})
	ctx := context.Background()

	now := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)
	sched.SetNowFunc(func() time.Time { return now })

	task := mustCreate(t, s, protocol.Task{Title: "repeat offender"})

	// Two prior failures: the next one crosses the quarantine threshold.
	got, _ := s.GetTask(ctx, task.ID)
	got.Payload.FailureCount = 2
	if err := s.UpdatePayload(ctx, task.ID, got.Payload); err != nil {
		t.Fatal(err)
	}
	if err := s.MarkInProgress(ctx, task.ID); err != nil {
		t.Fatal(err)
	}

	now = now.Add(time.Hour)
	if err := sched.watchdogSweep(ctx); err != nil {
		t.Fatal(err)
	}
	if len(trig.killed) != 1 {
		t.Fatalf("killed = %v", trig.killed)
	}

	final, _ := s.GetTask(ctx, task.ID)
	if final.Status != protocol.StatusFailed {
		t.Fatalf("status = %s, want failed (quarantined)", final.Status)
	}
	if final.Payload.QuarantinedUntil == nil {
		t.Fatal("quarantined task must carry its release time")
	}
}

func TestWatchdogProposesQuarantineForRepeatKills(t *testing.T) {
	t.Parallel()

	sched, s, trig, _ := testScheduler(t, config.Config{Slots: 4, RunTimeout: 30 * time.Minute})
	ctx := context.Background()

	now := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)
	sched.SetNowFunc(func() time.Time { return now })

	task := mustCreate(t, s, protocol.Task{Title: "chronic runaway"})

	// Each cycle: put the task in flight, let the clock blow past the
	// ceiling, sweep.
	runCycle := func() {
		t.Helper()
		got, err := s.GetTask(ctx, task.ID)
		if err != nil {
			t.Fatal(err)
		}
		if got.Status != protocol.StatusQueued {
			if err := s.SetStatus(ctx, task.ID, protocol.StatusQueued); err != nil {
				t.Fatal(err)
			}
		}
		if err := s.MarkInProgress(ctx, task.ID); err != nil {
			t.Fatal(err)
		}
		now = now.Add(time.Hour)
		if err := sched.watchdogSweep(ctx); err != nil {
			t.Fatal(err)
		}
	}

	runCycle()
	runCycle()
	pending, err := s.ListProposals(ctx, protocol.ProposalPending)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 0 {
		t.Fatalf("two kills should not raise a proposal yet, got %d", len(pending))
	}

	// Third kill crosses the line.
	runCycle()
	if len(trig.killed) != 3 {
		t.Fatalf("killed = %v, want three kills", trig.killed)
	}
	pending, err = s.ListProposals(ctx, protocol.ProposalPending)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 {
		t.Fatalf("pending proposals = %d, want 1", len(pending))
	}
	if pending[0].ActionType != "quarantine_task" {
		t.Fatalf("action type = %s, want quarantine_task", pending[0].ActionType)
	}
	if pending[0].Params["task_id"] != task.ID {
		t.Fatalf("params = %v, want task_id %s", pending[0].Params, task.ID)
	}

	// A fourth kill dedups against the unexpired proposal.
	runCycle()
	pending, err = s.ListProposals(ctx, protocol.ProposalPending)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 {
		t.Fatalf("repeat sweeps must not stack duplicates, got %d", len(pending))
	}
}

func TestWatchdogIgnoresFreshTasks(t *testing.T) {
	t.Parallel()

	sched, s, trig, _ := testScheduler(t, config.Config{Slots: 4, RunTimeout: 30 * time.Minute})
	ctx := context.Background()

	task := mustCreate(t, s, protocol.Task{Title: "fresh"})
	if err := s.MarkInProgress(ctx, task.ID); err != nil {
		t.Fatal(err)
	}
	if err := sched.watchdogSweep(ctx); err != nil {
		t.Fatal(err)
	}
	if len(trig.killed) != 0 {
		t.Fatal("fresh in-flight work must not be reaped")
	}
}
