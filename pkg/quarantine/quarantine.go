// Package quarantine isolates tasks that keep failing. After a threshold of
// recorded failures a task is parked with a TTL; ReleaseExpired returns
// parked tasks to the queue once the TTL elapses.
package quarantine

import (
	"context"
	"time"

	"warden/pkg/protocol"
	"warden/pkg/store"
)

// Policy defaults.
const (
	DefaultThreshold = 3
	DefaultTTL       = 6 * time.Hour
)

// Result reports the outcome of HandleFailure.
type Result struct {
	Quarantined  bool   `json:"quarantined"`
	Reason       string `json:"reason,omitempty"`
	FailureCount int    `json:"failure_count"`
}

// Keeper decides when a failing task is pulled out of circulation.
type Keeper struct {
	store     *store.Store
	threshold int
	ttl       time.Duration
	nowFunc   func() time.Time
}

// New creates a Keeper. Zero threshold/ttl take defaults.
func New(s *store.Store, threshold int, ttl time.Duration) *Keeper {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Keeper{store: s, threshold: threshold, ttl: ttl, nowFunc: time.Now}
}

// SetNowFunc overrides the clock, for tests.
func (k *Keeper) SetNowFunc(fn func() time.Time) {
	k.nowFunc = fn
}

// HandleFailure records one failure against the task. At the threshold the
// task is quarantined: marked failed with a TTL after which it is released
// back to the queue automatically.
func (k *Keeper) HandleFailure(ctx context.Context, taskID string) (Result, error) {
	task, err := k.store.GetTask(ctx, taskID)
	if err != nil {
		return Result{}, err
	}

	task.Payload.FailureCount++
	count := task.Payload.FailureCount

	if count < k.threshold {
		if err := k.store.UpdatePayload(ctx, taskID, task.Payload); err != nil {
			return Result{}, err
		}
		return Result{FailureCount: count}, nil
	}

	until := k.nowFunc().Add(k.ttl)
	task.Payload.QuarantinedUntil = &until
	if err := k.store.UpdatePayload(ctx, taskID, task.Payload); err != nil {
		return Result{}, err
	}
	if task.Status != protocol.StatusFailed {
		if err := k.store.SetStatus(ctx, taskID, protocol.StatusFailed); err != nil {
			return Result{}, err
		}
	}
	return Result{
		Quarantined:  true,
		Reason:       "repeated failures",
		FailureCount: count,
	}, nil
}

// ReleaseExpired returns the ids of quarantined tasks whose TTL elapsed and
// were requeued.
func (k *Keeper) ReleaseExpired(ctx context.Context) ([]string, error) {
	return k.store.ReleaseQuarantined(ctx, k.nowFunc())
}
