package quarantine

import (
	"context"
	"errors"
	"testing"
	"time"

	"warden/pkg/protocol"
	"warden/pkg/store"
)

func testKeeper(t *testing.T) (*Keeper, *store.Store) {
	t.Helper()
	s, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return New(s, 3, time.Hour), s
}

func TestQuarantineAfterThreshold(t *testing.T) {
	t.Parallel()

	k, s := testKeeper(t)
	ctx := context.Background()

	now := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	k.SetNowFunc(func() time.Time { return now })

	task, err := s.CreateTask(ctx, protocol.Task{Title: "flaky"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	for i := 1; i <= 2; i++ {
		res, err := k.HandleFailure(ctx, task.ID)
		if err != nil {
			t.Fatalf("failure %d: %v", i, err)
		}
		if res.Quarantined || res.FailureCount != i {
			t.Fatalf("failure %d result = %+v", i, res)
		}
	}

	res, err := k.HandleFailure(ctx, task.ID)
	if err != nil {
		t.Fatalf("third failure: %v", err)
	}
	if !res.Quarantined || res.FailureCount != 3 || res.Reason == "" {
		t.Fatalf("third failure result = %+v, want quarantined", res)
	}

	got, _ := s.GetTask(ctx, task.ID)
	if got.Status != protocol.StatusFailed || got.Payload.QuarantinedUntil == nil {
		t.Fatalf("quarantined task = %+v", got)
	}
	if want := now.Add(time.Hour); !got.Payload.QuarantinedUntil.Equal(want) {
		t.Fatalf("TTL = %v, want %v", got.Payload.QuarantinedUntil, want)
	}
}

func TestReleaseExpired(t *testing.T) {
	t.Parallel()

	k, s := testKeeper(t)
	ctx := context.Background()

	now := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	k.SetNowFunc(func() time.Time { return now })

	task, _ := s.CreateTask(ctx, protocol.Task{Title: "flaky"})
	for i := 0; i < 3; i++ {
		if _, err := k.HandleFailure(ctx, task.ID); err != nil {
			t.Fatalf("failure: %v", err)
		}
	}

	// Before the TTL nothing is released.
	released, err := k.ReleaseExpired(ctx)
	if err != nil || len(released) != 0 {
		t.Fatalf("early release = %v, %v; want none", released, err)
	}

	now = now.Add(2 * time.Hour)
	released, err = k.ReleaseExpired(ctx)
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if len(released) != 1 || released[0] != task.ID {
		t.Fatalf("released = %v, want [%s]", released, task.ID)
	}

	got, _ := s.GetTask(ctx, task.ID)
	if got.Status != protocol.StatusQueued {
		t.Fatalf("released task status = %s, want queued", got.Status)
	}
}

func TestHandleFailureUnknownTask(t *testing.T) {
	t.Parallel()

	k, _ := testKeeper(t)

	var nfe *protocol.TaskNotFoundError
	if _, err := k.HandleFailure(context.Background(), "missing"); !errors.As(err, &nfe) {
		t.Fatalf("HandleFailure(missing) = %v, want TaskNotFoundError", err)
	}
}
