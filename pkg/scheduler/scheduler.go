// Package scheduler runs the tick loop: it evaluates health, processes
// directives, dispatches queued tasks to external workers within the
// capacity and ramp budgets, and reaps runaway work.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"warden/pkg/breaker"
	"warden/pkg/capacity"
	"warden/pkg/config"
	"warden/pkg/decision"
	"warden/pkg/notify"
	"warden/pkg/protocol"
	"warden/pkg/quarantine"
	"warden/pkg/stats"
	"warden/pkg/store"
)

// breakerKey is the single external resource the circuit breaker guards.
const breakerKey = "worker"

// State is the scheduler's dispatch posture.
type State string

const (
	StateRunning  State = "running"
	StatePaused   State = "paused"
	StateDraining State = "draining"
)

// tickGuard enforces at-most-one tick at a time. A guard held past the
// ceiling is force-released rather than deadlocking the loop.
type tickGuard struct {
	mu      sync.Mutex
	running bool
	since   time.Time
	gen     uint64
}

// acquire returns (token, got, forced). forced is true when a stuck holder
// was evicted to let this tick proceed; the token identifies the holder so
// the evicted tick's deferred release cannot clear the new holder.
func (g *tickGuard) acquire(now time.Time, ceiling time.Duration) (uint64, bool, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.running {
		if now.Sub(g.since) < ceiling {
			return 0, false, false
		}
		g.gen++
		g.since = now
		return g.gen, true, true
	}
	g.running = true
	g.gen++
	g.since = now
	return g.gen, true, false
}

// release with a stale token is a no-op.
func (g *tickGuard) release(token uint64) {
	g.mu.Lock()
	if token == g.gen {
		g.running = false
	}
	g.mu.Unlock()
}

// Scheduler owns the tick loop and all dispatch state. One instance per
// deployment; ticks never overlap.
type Scheduler struct {
	cfg        config.Config
	store      *store.Store
	breaker    *breaker.Breaker
	quarantine *quarantine.Keeper
	window     *stats.Window
	bus        *notify.Bus
	trigger    WorkerTrigger
	preflight  Preflight
	alerts     AlertSource
	decider    *decision.Executor

	dbPath  string
	goalsFn func() ([]string, error)

	guard tickGuard

	mu              sync.Mutex
	state           State
	billingPaused   bool
	lastTickAt      time.Time
	lastMaintenance time.Time

	nowFunc func() time.Time
}

// New builds a Scheduler. dbPath is watched for changes to trigger early
// ticks; goalsFn supplies the active goal scope each tick (nil means no
// scoping).
func New(cfg config.Config, s *store.Store, trigger WorkerTrigger, preflight Preflight, bus *notify.Bus, dbPath string, goalsFn func() ([]string, error)) *Scheduler {
	resolved := cfg.WithDefaults()
	w := stats.NewWindow()
	b := breaker.New(0, 0) // package defaults
	decider := decision.NewExecutor(s, decision.NewRegistry(s), bus)
	decider.SetApprovalWindow(resolved.ApprovalWindow)
	sched := &Scheduler{
		cfg:        resolved,
		store:      s,
		breaker:    b,
		quarantine: quarantine.New(s, 0, 0),
		window:     w,
		bus:        bus,
		trigger:    trigger,
		preflight:  preflight,
		dbPath:     dbPath,
		goalsFn:    goalsFn,
		decider:    decider,
		state:      StateRunning,
		nowFunc:    time.Now,
	}
	sched.alerts = &localAlerts{
		breakerOpen: func() bool { return b.Open(breakerKey) },
		lowSuccess:  w.LowSuccess,
	}
	return sched
}

// SetNowFunc overrides the clock for tests, threading it through to the
// window, breaker, and quarantine keeper.
func (s *Scheduler) SetNowFunc(fn func() time.Time) {
	s.nowFunc = fn
	s.window.SetNowFunc(fn)
	s.breaker.SetNowFunc(fn)
	s.quarantine.SetNowFunc(fn)
	s.store.SetNowFunc(fn)
	s.decider.SetNowFunc(fn)
}

// SetAlertSource replaces the local alert derivation.
func (s *Scheduler) SetAlertSource(a AlertSource) { s.alerts = a }

// GetState returns the current dispatch posture.
func (s *Scheduler) GetState() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Scheduler) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Run executes ticks until ctx is cancelled. It watches the database file
// for changes so directives and new tasks get picked up quickly, with a
// fallback ticker as a safety net. Wake-on-change ticks are throttled to
// the configured minimum spacing.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.restoreWindow(ctx); err != nil {
		s.logEvent(ctx, "window_restore_error", "", err.Error())
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		s.runPoll(ctx)
		return ctx.Err()
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(s.dbPath); err != nil {
		s.runPoll(ctx)
		return ctx.Err()
	}

	fallback := time.NewTicker(s.cfg.TickInterval)
	defer fallback.Stop()

	s.runTick(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-watcher.Events:
			if s.throttled() {
				continue
			}
			s.runTick(ctx)
		case werr := <-watcher.Errors:
			if werr != nil {
				s.logEvent(ctx, "watcher_error", "", werr.Error())
			}
		case <-fallback.C:
			s.runTick(ctx)
		}
	}
}

// runPoll is the fallback loop when fsnotify is unavailable.
func (s *Scheduler) runPoll(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()
	s.runTick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runTick(ctx)
		}
	}
}

// throttled reports whether a wake-on-change tick would violate the
// minimum spacing.
func (s *Scheduler) throttled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nowFunc().Sub(s.lastTickAt) < s.cfg.MinTickSpacing
}

// runTick acquires the reentrancy guard and executes one tick. A skipped
// tick (guard busy) is silent; a forced release is logged.
func (s *Scheduler) runTick(ctx context.Context) {
	now := s.nowFunc()
	token, got, forced := s.guard.acquire(now, s.cfg.TickLockCeiling)
	if !got {
		return
	}
	if forced {
		s.logEvent(ctx, "tick_lock_force_released", "",
			fmt.Sprintf("guard held past %s", s.cfg.TickLockCeiling))
	}
	defer s.guard.release(token)

	s.mu.Lock()
	s.lastTickAt = now
	s.mu.Unlock()

	s.tick(ctx)
}

// tick is one pass of the phase sequence. Every phase failure is caught
// and logged; only a critical alert aborts the remaining phases.
func (s *Scheduler) tick(ctx context.Context) {
	level := s.alerts.Evaluate(ctx)
	if level == AlertCritical {
		s.logEvent(ctx, "heartbeat", "", "critical alert, dispatch suspended")
		return
	}

	if err := s.processCommands(ctx); err != nil {
		s.logEvent(ctx, "command_error", "", err.Error())
	}

	if s.maintenanceDue() {
		s.maintain(ctx)
	}

	s.clearDrainIfIdle(ctx)

	if err := s.dispatchPhase(ctx, level); err != nil {
		s.logEvent(ctx, "dispatch_error", "", err.Error())
	}

	if err := s.watchdogSweep(ctx); err != nil {
		s.logEvent(ctx, "watchdog_error", "", err.Error())
	}

	if err := s.persistWindow(ctx); err != nil {
		s.logEvent(ctx, "window_persist_error", "", err.Error())
	}
}

func (s *Scheduler) maintenanceDue() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nowFunc().Sub(s.lastMaintenance) >= s.cfg.MaintenanceInterval
}

// maintain runs the hourly sweep: expire overdue proposals and release
// quarantined tasks whose TTL has passed.
func (s *Scheduler) maintain(ctx context.Context) {
	s.mu.Lock()
	s.lastMaintenance = s.nowFunc()
	s.mu.Unlock()

	if ids, err := s.store.ExpireOverdueProposals(ctx, s.nowFunc()); err != nil {
		s.logEvent(ctx, "maintenance_error", "", err.Error())
	} else if len(ids) > 0 {
		s.logEvent(ctx, "proposals_expired", "", fmt.Sprintf("%d expired", len(ids)))
	}

	if released, err := s.quarantine.ReleaseExpired(ctx); err != nil {
		s.logEvent(ctx, "maintenance_error", "", err.Error())
	} else {
		for _, id := range released {
			s.logEvent(ctx, "quarantine_released", id, "")
		}
	}
}

// processCommands applies pending CLI directives in arrival order.
func (s *Scheduler) processCommands(ctx context.Context) error {
	rows, err := s.store.PendingCommands(ctx)
	if err != nil {
		return err
	}
	for _, row := range rows {
		if protocol.Directive(row.Directive) == protocol.DirectiveComplete {
			s.applyCompletion(ctx, row.Args)
		} else {
			s.applyDirective(ctx, protocol.Directive(row.Directive))
		}
		if err := s.store.MarkCommandProcessed(ctx, row.ID); err != nil {
			return err
		}
	}
	return nil
}

// applyCompletion handles a worker-reported run outcome delivered through
// the commands table.
func (s *Scheduler) applyCompletion(ctx context.Context, args string) {
	var c protocol.CompletionArgs
	if err := json.Unmarshal([]byte(args), &c); err != nil || c.TaskID == "" {
		s.logEvent(ctx, "bad_completion", "", args)
		return
	}
	if err := s.RecordCompletion(ctx, c.TaskID, c.Success, c.Message); err != nil {
		s.logEvent(ctx, "completion_error", c.TaskID, err.Error())
	}
}

func (s *Scheduler) applyDirective(ctx context.Context, d protocol.Directive) {
	switch d {
	case protocol.DirectiveStart, protocol.DirectiveResume:
		s.setState(StateRunning)
	case protocol.DirectivePause:
		s.setState(StatePaused)
	case protocol.DirectiveDrain:
		s.setState(StateDraining)
		s.bus.Publish(notify.Event{Type: notify.EventDrainEntered})
	case protocol.DirectiveBillingPause:
		s.setBillingPaused(ctx, true)
	case protocol.DirectiveBillingResume:
		s.setBillingPaused(ctx, false)
	default:
		s.logEvent(ctx, "unknown_directive", "", string(d))
		return
	}
	s.logEvent(ctx, "directive_applied", "", string(d))
}

func (s *Scheduler) setBillingPaused(ctx context.Context, paused bool) {
	s.mu.Lock()
	s.billingPaused = paused
	s.mu.Unlock()
	value := ""
	if paused {
		value = "1"
	}
	if err := s.store.SetState(ctx, protocol.StateBillingPaused, value); err != nil {
		s.logEvent(ctx, "state_error", "", err.Error())
	}
}

// clearDrainIfIdle auto-clears drain mode once nothing is in flight.
func (s *Scheduler) clearDrainIfIdle(ctx context.Context) {
	if s.GetState() != StateDraining {
		return
	}
	n, err := s.store.CountInFlight(ctx)
	if err != nil || n > 0 {
		return
	}
	s.setState(StateRunning)
	s.bus.Publish(notify.Event{Type: notify.EventDrainCleared})
	s.logEvent(ctx, "drain_cleared", "", "")
}

// restoreWindow reloads the rolling stats window and billing flag from the
// store after a restart.
func (s *Scheduler) restoreWindow(ctx context.Context) error {
	raw, err := s.store.GetState(ctx, protocol.StateDispatchStats)
	if err != nil {
		return err
	}
	if raw != "" {
		if err := s.window.Load([]byte(raw)); err != nil {
			return fmt.Errorf("load dispatch stats: %w", err)
		}
	}
	billing, err := s.store.GetState(ctx, protocol.StateBillingPaused)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.billingPaused = billing == "1"
	s.mu.Unlock()
	return nil
}

func (s *Scheduler) persistWindow(ctx context.Context) error {
	data, err := json.Marshal(s.window)
	if err != nil {
		return err
	}
	return s.store.SetState(ctx, protocol.StateDispatchStats, string(data))
}

// logEvent appends a structured row to the events table. Logging failures
// never abort the operation that triggered them.
func (s *Scheduler) logEvent(ctx context.Context, evType, taskID, payload string) {
	_ = s.store.AppendEvent(ctx, evType, "scheduler", taskID, payload)
}

// activeGoalIDs resolves the current goal scope. nil means no scoping; an
// empty non-nil slice scopes everything out.
func (s *Scheduler) activeGoalIDs() ([]string, error) {
	if s.goalsFn == nil {
		return nil, nil
	}
	return s.goalsFn()
}

// Slots returns the effective concurrency budget, honoring a config
// override and any committed scale_capacity action.
func (s *Scheduler) Slots(ctx context.Context) float64 {
	if raw, err := s.store.GetState(ctx, protocol.StateCapacityOverride); err == nil && raw != "" {
		var v float64
		if json.Unmarshal([]byte(raw), &v) == nil && v > 0 {
			return v
		}
	}
	if s.cfg.Slots > 0 {
		return s.cfg.Slots
	}
	return float64(capacity.HostStreams())
}
