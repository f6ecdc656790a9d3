// Package integration provides end-to-end tests that run a real scheduler
// loop against a real on-disk state database, exercising the full
// enqueue→dispatch→report→complete lifecycle without reaching into
// unexported internals.
package integration_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"warden/pkg/config"
	"warden/pkg/notify"
	"warden/pkg/protocol"
	"warden/pkg/scheduler"
	"warden/pkg/store"
)

// recordingTrigger pretends to hand work to an external worker process and
// remembers what it was asked to start.
type recordingTrigger struct {
	mu        sync.Mutex
	triggered []string
}

func (r *recordingTrigger) Trigger(_ context.Context, task protocol.Task, _ string) (scheduler.TriggerResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.triggered = append(r.triggered, task.ID)
	return scheduler.TriggerResult{RunID: "run-" + task.ID}, nil
}

func (r *recordingTrigger) CheckAvailable(context.Context) error { return nil }

func (r *recordingTrigger) Kill(context.Context, protocol.Task) error { return nil }

func (r *recordingTrigger) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.triggered)
}

type passPreflight struct{}

func (passPreflight) Check(context.Context, protocol.Task) (scheduler.PreflightResult, error) {
	return scheduler.PreflightResult{Passed: true}, nil
}

// waitFor polls fn until it returns nil or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, fn func() error) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	var last error
	for time.Now().Before(deadline) {
		if last = fn(); last == nil {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v: %v", timeout, last)
}

// TestLifecycleDispatchAndComplete drives a queued task through a live
// scheduler loop: the tick dispatches it, a completion report arrives
// through the commands table, and the next tick marks it completed.
func TestLifecycleDispatchAndComplete(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping live-loop test in short mode")
	}

	dbPath := filepath.Join(t.TempDir(), protocol.DBFileName)
	s, err := store.Open(dbPath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	ctx := context.Background()
	task, err := s.CreateTask(ctx, protocol.Task{Title: "end to end", Priority: protocol.PriorityP1})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}

	trig := &recordingTrigger{}
	cfg := config.Config{
		Slots:          2,
		TickInterval:   50 * time.Millisecond,
		MinTickSpacing: time.Millisecond,
	}
	sched := scheduler.New(cfg, s, trig, passPreflight{}, notify.NewBus(), dbPath, nil)

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- sched.Run(runCtx) }()

	waitFor(t, 3*time.Second, func() error {
		got, err := s.GetTask(ctx, task.ID)
		if err != nil {
			return err
		}
		if got.Status != protocol.StatusInProgress {
			return fmt.Errorf("status = %s, want in_progress", got.Status)
		}
		if got.Payload.RunID == "" {
			return errors.New("run id not recorded")
		}
		return nil
	})
	if trig.count() != 1 {
		t.Fatalf("trigger count = %d, want 1", trig.count())
	}

	report, err := json.Marshal(protocol.CompletionArgs{TaskID: task.ID, Success: true})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.EnqueueCommand(ctx, protocol.DirectiveComplete, string(report)); err != nil {
		t.Fatal(err)
	}

	waitFor(t, 3*time.Second, func() error {
		got, err := s.GetTask(ctx, task.ID)
		if err != nil {
			return err
		}
		if got.Status != protocol.StatusCompleted {
			return fmt.Errorf("status = %s, want completed", got.Status)
		}
		return nil
	})

	// One dispatch event and a persisted stats window prove the loop did
	// real work, not just status flips.
	events, err := s.Events(ctx, store.EventQuery{Type: "dispatched"})
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Fatalf("dispatched events = %d, want 1", len(events))
	}
	waitFor(t, 3*time.Second, func() error {
		raw, err := s.GetState(ctx, protocol.StateDispatchStats)
		if err != nil {
			return err
		}
		if raw == "" {
			return errors.New("stats window not persisted yet")
		}
		return nil
	})

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("scheduler did not stop after cancel")
	}
}

// TestLifecycleFailureSchedulesRetry verifies a failed run reported through
// the commands table lands back in the queue with a future retry time.
func TestLifecycleFailureSchedulesRetry(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping live-loop test in short mode")
	}

	dbPath := filepath.Join(t.TempDir(), protocol.DBFileName)
	s, err := store.Open(dbPath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	ctx := context.Background()
	task, err := s.CreateTask(ctx, protocol.Task{Title: "flaky", Priority: protocol.PriorityP2})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}

	trig := &recordingTrigger{}
	cfg := config.Config{
		Slots:          1,
		TickInterval:   50 * time.Millisecond,
		MinTickSpacing: time.Millisecond,
	}
	sched := scheduler.New(cfg, s, trig, passPreflight{}, notify.NewBus(), dbPath, nil)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- sched.Run(runCtx) }()

	waitFor(t, 3*time.Second, func() error {
		got, err := s.GetTask(ctx, task.ID)
		if err != nil {
			return err
		}
		if got.Status != protocol.StatusInProgress {
			return fmt.Errorf("status = %s, want in_progress", got.Status)
		}
		return nil
	})

	report, err := json.Marshal(protocol.CompletionArgs{
		TaskID: task.ID, Success: false, Message: "connection reset by peer",
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.EnqueueCommand(ctx, protocol.DirectiveComplete, string(report)); err != nil {
		t.Fatal(err)
	}

	waitFor(t, 3*time.Second, func() error {
		got, err := s.GetTask(ctx, task.ID)
		if err != nil {
			return err
		}
		if got.Status != protocol.StatusQueued {
			return fmt.Errorf("status = %s, want queued", got.Status)
		}
		if got.Payload.NextRunAt == nil || !got.Payload.NextRunAt.After(time.Now().UTC()) {
			return errors.New("retry time not in the future")
		}
		if got.Payload.FailureClass == nil {
			return errors.New("failure not classified")
		}
		return nil
	})

	cancel()
	<-done
}
