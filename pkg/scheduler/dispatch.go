package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"warden/pkg/capacity"
	"warden/pkg/classify"
	"warden/pkg/notify"
	"warden/pkg/protocol"
)

// Labeled gate-denial reasons.
const (
	DenyDrain      = "drain"
	DenyBilling    = "billing_pause"
	DenyCapacity   = "capacity"
	DenyBreaker    = "circuit_open"
	DenyLowSuccess = "low_success_rate"
	DenyPaused     = "paused"
)

const maxPreflightRetries = 5

// DispatchOutcome reports what one dispatch attempt did.
type DispatchOutcome struct {
	Dispatched bool
	TaskID     string
	// DeniedReason is set when a gate was closed; empty otherwise.
	DeniedReason string
	// PreflightExhausted is set when every candidate failed pre-flight.
	PreflightExhausted bool
	// RCA is set when the task was routed to deep analysis.
	RCA bool
}

// dispatchPhase runs up to rampRate dispatch attempts for this tick,
// stopping at the first denial or empty queue.
func (s *Scheduler) dispatchPhase(ctx context.Context, level AlertLevel) error {
	slots := s.Slots(ctx)
	budget := capacity.Compute(slots)

	inFlight, err := s.store.CountInFlight(ctx)
	if err != nil {
		return err
	}
	pressure := float64(inFlight) / float64(budget.Slots)

	prev, err := s.loadRampRate(ctx)
	if err != nil {
		return err
	}
	rate := nextRampRate(prev, level, pressure, readLoadModifier(s.cfg.LoadFile), budget.Slots)
	if err := s.saveRampRate(ctx, rate); err != nil {
		return err
	}

	for i := 0; i < rate; i++ {
		out, err := s.dispatchNext(ctx)
		if err != nil {
			return err
		}
		if !out.Dispatched {
			return nil
		}
	}
	return nil
}

// dispatchNext checks the gates in order, then selects and launches one
// task. Gate denials are recorded with a labeled reason, never returned as
// errors.
func (s *Scheduler) dispatchNext(ctx context.Context) (DispatchOutcome, error) {
	if reason := s.gateDenial(ctx); reason != "" {
		s.logEvent(ctx, "dispatch_denied", "", reason)
		// The low-success gate reads the window; its own denials stay
		// out so it cannot hold itself closed.
		if reason != DenyLowSuccess {
			s.window.Record(false, reason)
		}
		return DispatchOutcome{DeniedReason: reason}, nil
	}

	task, exhausted, err := s.selectNextDispatchable(ctx)
	if err != nil {
		return DispatchOutcome{}, err
	}
	if exhausted {
		s.logEvent(ctx, "preflight_exhausted", "", "all candidates failed pre-flight")
		s.window.Record(false, "preflight_exhausted")
		return DispatchOutcome{PreflightExhausted: true}, nil
	}
	if task == nil {
		return DispatchOutcome{}, nil
	}

	mode := "execute"
	if task.Payload.NeedsDeepAnalysis {
		mode = "rca"
	}

	// in_progress before the trigger call; a trigger failure reverts so
	// the task is never stranded.
	if err := s.store.MarkInProgress(ctx, task.ID); err != nil {
		return DispatchOutcome{}, err
	}

	res, err := s.trigger.Trigger(ctx, *task, mode)
	if err != nil {
		if rerr := s.store.RevertToQueued(ctx, task.ID); rerr != nil {
			s.logEvent(ctx, "revert_error", task.ID, rerr.Error())
		}
		s.breaker.RecordFailure(breakerKey)
		class := classify.FailureFromError(err)
		s.window.Record(false, string(class))
		s.logEvent(ctx, "trigger_failed", task.ID, err.Error())
		return DispatchOutcome{}, nil
	}

	now := s.nowFunc()
	task.Payload.RunTriggeredAt = &now
	task.Payload.RunID = res.RunID
	if err := s.store.UpdatePayload(ctx, task.ID, task.Payload); err != nil {
		s.logEvent(ctx, "payload_error", task.ID, err.Error())
	}

	s.breaker.RecordSuccess(breakerKey)
	s.window.Record(true, "")
	s.bus.Publish(notify.Event{Type: notify.EventTaskStarted, TaskID: task.ID})
	s.logEvent(ctx, "dispatched", task.ID, mode)

	return DispatchOutcome{Dispatched: true, TaskID: task.ID, RCA: mode == "rca"}, nil
}

// gateDenial checks the dispatch gates in order and returns the first
// closed gate's label, or "".
func (s *Scheduler) gateDenial(ctx context.Context) string {
	s.mu.Lock()
	state := s.state
	billing := s.billingPaused
	s.mu.Unlock()

	if state == StateDraining {
		return DenyDrain
	}
	if state == StatePaused {
		return DenyPaused
	}
	if billing {
		return DenyBilling
	}

	budget := capacity.Compute(s.Slots(ctx))
	inFlight, err := s.store.CountInFlight(ctx)
	if err == nil && inFlight >= budget.Slots {
		return DenyCapacity
	}

	if !s.breaker.Allow(breakerKey) {
		return DenyBreaker
	}
	if s.window.LowSuccess() {
		return DenyLowSuccess
	}
	return ""
}

// selectNextDispatchable walks the queue in priority-then-FIFO order and
// returns the first candidate that clears the skip conditions and passes
// pre-flight. exhausted is true when five candidates in a row failed
// pre-flight.
func (s *Scheduler) selectNextDispatchable(ctx context.Context) (*protocol.Task, bool, error) {
	goalIDs, err := s.activeGoalIDs()
	if err != nil {
		return nil, false, err
	}
	// A non-nil empty scope means every goal is inactive.
	if goalIDs != nil && len(goalIDs) == 0 {
		return nil, false, nil
	}

	queued, err := s.store.ListQueued(ctx, goalIDs)
	if err != nil {
		return nil, false, err
	}

	paused, err := s.pausedTiers(ctx)
	if err != nil {
		return nil, false, err
	}

	now := s.nowFunc()
	preflightFailures := 0
	for i := range queued {
		task := queued[i]

		if task.Payload.NextRunAt != nil && task.Payload.NextRunAt.After(now) {
			continue
		}
		if paused[string(task.Priority)] {
			continue
		}
		ok, err := s.dependenciesMet(ctx, task)
		if err != nil {
			return nil, false, err
		}
		if !ok {
			continue
		}

		res, err := s.preflight.Check(ctx, task)
		if err != nil || !res.Passed {
			issues := res.Issues
			if err != nil {
				issues = append(issues, err.Error())
			}
			s.annotatePreflight(ctx, task, issues)
			preflightFailures++
			if preflightFailures >= maxPreflightRetries {
				return nil, true, nil
			}
			continue
		}

		return &task, false, nil
	}
	return nil, false, nil
}

func (s *Scheduler) dependenciesMet(ctx context.Context, task protocol.Task) (bool, error) {
	if len(task.Payload.DependsOn) == 0 {
		return true, nil
	}
	statuses, err := s.store.StatusesByID(ctx, task.Payload.DependsOn)
	if err != nil {
		return false, err
	}
	for _, dep := range task.Payload.DependsOn {
		if statuses[dep] != protocol.StatusCompleted {
			return false, nil
		}
	}
	return true, nil
}

// annotatePreflight records why a candidate was passed over.
func (s *Scheduler) annotatePreflight(ctx context.Context, task protocol.Task, issues []string) {
	task.Payload.PreflightIssues = issues
	if err := s.store.UpdatePayload(ctx, task.ID, task.Payload); err != nil {
		s.logEvent(ctx, "payload_error", task.ID, err.Error())
	}
	s.logEvent(ctx, "preflight_failed", task.ID, fmt.Sprintf("%d issue(s)", len(issues)))
}

// pausedTiers reads the set of priority tiers currently paused by a
// committed pause_tier action.
func (s *Scheduler) pausedTiers(ctx context.Context) (map[string]bool, error) {
	raw, err := s.store.GetState(ctx, protocol.StatePausedTiers)
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool)
	if raw == "" {
		return out, nil
	}
	var tiers []string
	if err := json.Unmarshal([]byte(raw), &tiers); err != nil {
		return nil, fmt.Errorf("parse paused tiers: %w", err)
	}
	for _, t := range tiers {
		out[t] = true
	}
	return out, nil
}

// RecordCompletion is called when a worker reports a finished run. It
// feeds the stats window and breaker, and schedules retries for failures.
func (s *Scheduler) RecordCompletion(ctx context.Context, taskID string, success bool, failureMsg string) error {
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return err
	}

	if success {
		if err := s.store.SetStatus(ctx, taskID, protocol.StatusCompleted); err != nil {
			return err
		}
		s.window.Record(true, "")
		s.bus.Publish(notify.Event{Type: notify.EventTaskCompleted, TaskID: taskID})
		s.logEvent(ctx, "task_completed", taskID, "")
		return nil
	}

	class := classify.Failure(failureMsg)
	next := &protocol.Classification{Class: class, Detail: failureMsg}
	// An explicit retry strategy attached by an upstream classifier wins
	// over the local rule-based reclassification.
	if task.Payload.FailureClass != nil && task.Payload.FailureClass.RetryStrategy != nil {
		next.RetryStrategy = task.Payload.FailureClass.RetryStrategy
	}
	task.Payload.FailureClass = next
	s.window.Record(false, string(class))

	result, err := s.quarantine.HandleFailure(ctx, taskID)
	if err != nil {
		return err
	}
	if result.Quarantined {
		s.logEvent(ctx, "quarantined", taskID,
			fmt.Sprintf("%s after %d failures", result.Reason, result.FailureCount))
		s.bus.Publish(notify.Event{Type: notify.EventTaskFailed, TaskID: taskID})
		return nil
	}

	task.Payload.FailureCount = result.FailureCount
	s.scheduleRetry(ctx, task, task.Payload.FailureClass, task.Payload.FailureCount)
	s.bus.Publish(notify.Event{Type: notify.EventTaskFailed, TaskID: taskID})
	return nil
}

// scheduleRetry requeues a failed task with a backoff timestamp, or marks
// it terminally failed when the strategy forbids retry.
func (s *Scheduler) scheduleRetry(ctx context.Context, task protocol.Task, class *protocol.Classification, retryCount int) {
	var strategy *protocol.RetryStrategy
	if class != nil {
		strategy = class.RetryStrategy
	}

	next, ok := classify.NextRetryAt(s.nowFunc(), strategy, retryCount)
	if !ok {
		if strategy.NeedsHumanReview {
			task.Payload.NeedsHumanReview = true
		}
		if err := s.store.UpdatePayload(ctx, task.ID, task.Payload); err != nil {
			s.logEvent(ctx, "payload_error", task.ID, err.Error())
		}
		if err := s.store.SetStatus(ctx, task.ID, protocol.StatusFailed); err != nil {
			s.logEvent(ctx, "status_error", task.ID, err.Error())
		}
		s.logEvent(ctx, "retry_terminal", task.ID, "strategy forbids retry")
		return
	}

	task.Payload.NextRunAt = &next
	if err := s.store.UpdatePayload(ctx, task.ID, task.Payload); err != nil {
		s.logEvent(ctx, "payload_error", task.ID, err.Error())
	}
	if err := s.requeue(ctx, task.ID); err != nil {
		s.logEvent(ctx, "status_error", task.ID, err.Error())
		return
	}
	s.logEvent(ctx, "retry_scheduled", task.ID, next.Format(time.RFC3339))
}

func (s *Scheduler) requeue(ctx context.Context, taskID string) error {
	return s.store.RevertToQueued(ctx, taskID)
}
