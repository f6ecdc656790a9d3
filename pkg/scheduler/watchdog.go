package scheduler

import (
	"context"
	"fmt"
	"time"

	"warden/pkg/protocol"
)

// watchdogSweep reaps tasks in flight longer than the run-timeout ceiling:
// kill the run, annotate a structured timeout record, then quarantine or
// schedule a retry.
func (s *Scheduler) watchdogSweep(ctx context.Context) error {
	inFlight, err := s.store.InFlight(ctx)
	if err != nil {
		return err
	}

	now := s.nowFunc()
	for i := range inFlight {
		task := inFlight[i]
		if task.StartedAt == nil {
			continue
		}
		elapsed := now.Sub(*task.StartedAt)
		if elapsed < s.cfg.RunTimeout {
			continue
		}
		s.reapTimedOut(ctx, task, elapsed)
	}
	return nil
}

func (s *Scheduler) reapTimedOut(ctx context.Context, task protocol.Task, elapsed time.Duration) {
	if err := s.trigger.Kill(ctx, task); err != nil {
		s.logEvent(ctx, "kill_error", task.ID, err.Error())
	}

	now := s.nowFunc()
	task.Payload.Timeout = &protocol.TimeoutRecord{
		ElapsedMinutes: elapsed.Minutes(),
		LimitMinutes:   s.cfg.RunTimeout.Minutes(),
		KilledAt:       now.UTC().Format(time.RFC3339),
	}
	task.Payload.WatchdogRetryCount++
	if err := s.store.UpdatePayload(ctx, task.ID, task.Payload); err != nil {
		s.logEvent(ctx, "payload_error", task.ID, err.Error())
	}
	s.logEvent(ctx, "watchdog_killed", task.ID,
		fmt.Sprintf("%.1f min elapsed, limit %.1f", elapsed.Minutes(), s.cfg.RunTimeout.Minutes()))

	result, err := s.quarantine.HandleFailure(ctx, task.ID)
	if err != nil {
		s.logEvent(ctx, "quarantine_error", task.ID, err.Error())
		return
	}
	if result.Quarantined {
		s.logEvent(ctx, "quarantined", task.ID,
			fmt.Sprintf("%s after %d failures", result.Reason, result.FailureCount))
	} else {
		task.Payload.FailureCount = result.FailureCount
		s.scheduleRetry(ctx, task, task.Payload.FailureClass, task.Payload.WatchdogRetryCount)
	}

	if task.Payload.WatchdogRetryCount >= watchdogProposalAfter {
		s.proposeQuarantine(ctx, task)
	}
}

// watchdogProposalAfter is the kill count at which the keeper's TTL
// quarantine stops being enough and the scheduler raises a proposal so an
// operator can hold the task indefinitely.
const watchdogProposalAfter = 3

// proposeQuarantine routes a repeat watchdog offender through the decision
// executor. quarantine_task is dangerous, so this lands as a pending
// proposal; signature dedup keeps repeat sweeps from stacking duplicates.
func (s *Scheduler) proposeQuarantine(ctx context.Context, task protocol.Task) {
	d := protocol.Decision{
		Level: 1,
		Actions: []protocol.Action{{
			Type:   "quarantine_task",
			Params: map[string]any{"task_id": task.ID},
		}},
		Rationale:  fmt.Sprintf("killed by watchdog %d times", task.Payload.WatchdogRetryCount),
		Confidence: 0.9,
		Safety:     true,
	}
	report := s.decider.Execute(ctx, d)
	if !report.Success {
		s.logEvent(ctx, "remediation_error", task.ID, report.Error)
		return
	}
	if len(report.ActionsPendingApproval) > 0 {
		s.logEvent(ctx, "remediation_proposed", task.ID, "quarantine_task pending approval")
	}
}
