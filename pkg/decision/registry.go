// Package decision validates and executes instruction bundles. A Decision is
// an ordered action list applied inside one transaction: every action
// commits or none do. Dangerous actions are never run inline; they are
// persisted as pending actions awaiting human approval.
package decision

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"warden/pkg/protocol"
	"warden/pkg/store"
)

// Handler executes one whitelisted action variant inside the decision
// transaction. The set of handlers is closed at startup; an action type
// without a handler is a validation error, never a runtime lookup.
type Handler interface {
	Name() string
	Dangerous() bool
	Execute(ctx context.Context, tx *sql.Tx, params map[string]any) error
}

// Registry is the action whitelist: type name to handler.
type Registry struct {
	handlers map[string]Handler
}

// NewRegistry builds the closed action set over the given store.
func NewRegistry(s *store.Store) *Registry {
	r := &Registry{handlers: make(map[string]Handler)}
	for _, h := range []Handler{
		&requeueTask{s: s},
		&cancelTask{s: s},
		&adjustPriority{s: s},
		&annotateTask{s: s},
		&pauseTier{s: s},
		&resumeTier{s: s},
		&quarantineTask{s: s},
		&purgeQueue{s: s},
		&scaleCapacity{s: s},
	} {
		r.handlers[h.Name()] = h
	}
	return r
}

// Lookup returns the handler for an action type.
func (r *Registry) Lookup(name string) (Handler, bool) {
	h, ok := r.handlers[name]
	return h, ok
}

// --- param helpers ---

func paramString(params map[string]any, key string) (string, error) {
	v, ok := params[key]
	if !ok {
		return "", fmt.Errorf("missing param %q", key)
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", fmt.Errorf("param %q must be a non-empty string", key)
	}
	return s, nil
}

func paramFloat(params map[string]any, key string) (float64, error) {
	v, ok := params[key]
	if !ok {
		return 0, fmt.Errorf("missing param %q", key)
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("param %q must be a number", key)
	}
}

func paramPriority(params map[string]any, key string) (protocol.Priority, error) {
	s, err := paramString(params, key)
	if err != nil {
		return "", err
	}
	p := protocol.Priority(s)
	switch p {
	case protocol.PriorityP0, protocol.PriorityP1, protocol.PriorityP2, protocol.PriorityP3:
		return p, nil
	default:
		return "", fmt.Errorf("param %q: unknown priority %q", key, s)
	}
}

// --- non-dangerous actions ---

type requeueTask struct{ s *store.Store }

func (a *requeueTask) Name() string    { return "requeue_task" }
func (a *requeueTask) Dangerous() bool { return false }

func (a *requeueTask) Execute(ctx context.Context, tx *sql.Tx, params map[string]any) error {
	id, err := paramString(params, "task_id")
	if err != nil {
		return err
	}
	return a.s.RequeueTx(ctx, tx, id)
}

type cancelTask struct{ s *store.Store }

func (a *cancelTask) Name() string    { return "cancel_task" }
func (a *cancelTask) Dangerous() bool { return false }

func (a *cancelTask) Execute(ctx context.Context, tx *sql.Tx, params map[string]any) error {
	id, err := paramString(params, "task_id")
	if err != nil {
		return err
	}
	return a.s.SetStatusTx(ctx, tx, id, protocol.StatusCancelled)
}

type adjustPriority struct{ s *store.Store }

func (a *adjustPriority) Name() string    { return "adjust_priority" }
func (a *adjustPriority) Dangerous() bool { return false }

func (a *adjustPriority) Execute(ctx context.Context, tx *sql.Tx, params map[string]any) error {
	id, err := paramString(params, "task_id")
	if err != nil {
		return err
	}
	p, err := paramPriority(params, "priority")
	if err != nil {
		return err
	}
	return a.s.SetPriorityTx(ctx, tx, id, p)
}

type annotateTask struct{ s *store.Store }

func (a *annotateTask) Name() string    { return "annotate_task" }
func (a *annotateTask) Dangerous() bool { return false }

func (a *annotateTask) Execute(ctx context.Context, tx *sql.Tx, params map[string]any) error {
	id, err := paramString(params, "task_id")
	if err != nil {
		return err
	}
	note, err := paramString(params, "note")
	if err != nil {
		return err
	}
	task, err := a.s.GetTaskTx(ctx, tx, id)
	if err != nil {
		return err
	}
	if task.Payload.Extra == nil {
		task.Payload.Extra = make(map[string]any)
	}
	notes, _ := task.Payload.Extra["notes"].([]any)
	task.Payload.Extra["notes"] = append(notes, note)
	return a.s.UpdatePayloadTx(ctx, tx, id, task.Payload)
}

type pauseTier struct{ s *store.Store }

func (a *pauseTier) Name() string    { return "pause_tier" }
func (a *pauseTier) Dangerous() bool { return false }

func (a *pauseTier) Execute(ctx context.Context, tx *sql.Tx, params map[string]any) error {
	p, err := paramPriority(params, "tier")
	if err != nil {
		return err
	}
	return updatePausedTiers(ctx, a.s, tx, func(tiers map[protocol.Priority]bool) {
		tiers[p] = true
	})
}

type resumeTier struct{ s *store.Store }

func (a *resumeTier) Name() string    { return "resume_tier" }
func (a *resumeTier) Dangerous() bool { return false }

func (a *resumeTier) Execute(ctx context.Context, tx *sql.Tx, params map[string]any) error {
	p, err := paramPriority(params, "tier")
	if err != nil {
		return err
	}
	return updatePausedTiers(ctx, a.s, tx, func(tiers map[protocol.Priority]bool) {
		delete(tiers, p)
	})
}

// updatePausedTiers applies fn to the persisted paused-tier set.
func updatePausedTiers(ctx context.Context, s *store.Store, tx *sql.Tx, fn func(map[protocol.Priority]bool)) error {
	raw, err := s.GetStateTx(ctx, tx, protocol.StatePausedTiers)
	if err != nil {
		return err
	}
	tiers := make(map[protocol.Priority]bool)
	if raw != "" {
		var list []protocol.Priority
		if err := json.Unmarshal([]byte(raw), &list); err != nil {
			return fmt.Errorf("decode paused tiers: %w", err)
		}
		for _, t := range list {
			tiers[t] = true
		}
	}
	fn(tiers)
	list := make([]protocol.Priority, 0, len(tiers))
	for _, p := range []protocol.Priority{protocol.PriorityP0, protocol.PriorityP1, protocol.PriorityP2, protocol.PriorityP3} {
		if tiers[p] {
			list = append(list, p)
		}
	}
	encoded, err := json.Marshal(list)
	if err != nil {
		return fmt.Errorf("encode paused tiers: %w", err)
	}
	return s.SetStateTx(ctx, tx, protocol.StatePausedTiers, string(encoded))
}

// --- dangerous actions (run only after human approval) ---

// quarantineTaskTTL parks an operator-quarantined task for a day.
const quarantineTaskTTL = 24 * time.Hour

type quarantineTask struct{ s *store.Store }

func (a *quarantineTask) Name() string    { return "quarantine_task" }
func (a *quarantineTask) Dangerous() bool { return true }

func (a *quarantineTask) Execute(ctx context.Context, tx *sql.Tx, params map[string]any) error {
	id, err := paramString(params, "task_id")
	if err != nil {
		return err
	}
	task, err := a.s.GetTaskTx(ctx, tx, id)
	if err != nil {
		return err
	}
	until := a.s.Now().Add(quarantineTaskTTL)
	task.Payload.QuarantinedUntil = &until
	if err := a.s.UpdatePayloadTx(ctx, tx, id, task.Payload); err != nil {
		return err
	}
	return a.s.SetStatusTx(ctx, tx, id, protocol.StatusFailed)
}

type purgeQueue struct{ s *store.Store }

func (a *purgeQueue) Name() string    { return "purge_queue" }
func (a *purgeQueue) Dangerous() bool { return true }

func (a *purgeQueue) Execute(ctx context.Context, tx *sql.Tx, params map[string]any) error {
	goalID, err := paramString(params, "goal_id")
	if err != nil {
		return err
	}
	_, err = a.s.CancelQueuedByGoalTx(ctx, tx, goalID)
	return err
}

type scaleCapacity struct{ s *store.Store }

func (a *scaleCapacity) Name() string    { return "scale_capacity" }
func (a *scaleCapacity) Dangerous() bool { return true }

func (a *scaleCapacity) Execute(ctx context.Context, tx *sql.Tx, params map[string]any) error {
	slots, err := paramFloat(params, "slots")
	if err != nil {
		return err
	}
	if slots < 1 {
		return fmt.Errorf("param \"slots\" must be >= 1")
	}
	return a.s.SetStateTx(ctx, tx, protocol.StateCapacityOverride, fmt.Sprintf("%d", int(slots)))
}
