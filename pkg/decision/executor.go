package decision

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"warden/pkg/notify"
	"warden/pkg/protocol"
	"warden/pkg/store"
)

// DefaultApprovalWindow is how long a pending action waits for a human
// before expiring.
const DefaultApprovalWindow = 24 * time.Hour

// Report is the structured outcome of executing one Decision. It is always
// returned in place of a raw error: callers past the executor boundary never
// see an unhandled exception.
type Report struct {
	Success                bool     `json:"success"`
	RolledBack             bool     `json:"rolled_back"`
	Error                  string   `json:"error,omitempty"`
	ActionsExecuted        []string `json:"actions_executed"`
	ActionsFailed          []string `json:"actions_failed"`
	ActionsPendingApproval []string `json:"actions_pending_approval"`
}

// Executor applies Decisions transactionally.
type Executor struct {
	store          *store.Store
	registry       *Registry
	bus            *notify.Bus
	approvalWindow time.Duration
	nowFunc        func() time.Time
}

// NewExecutor wires an Executor over the store and notification bus.
func NewExecutor(s *store.Store, reg *Registry, bus *notify.Bus) *Executor {
	return &Executor{
		store:          s,
		registry:       reg,
		bus:            bus,
		approvalWindow: DefaultApprovalWindow,
		nowFunc:        time.Now,
	}
}

// SetNowFunc overrides the clock, for tests.
func (e *Executor) SetNowFunc(fn func() time.Time) {
	e.nowFunc = fn
}

// SetApprovalWindow overrides the proposal expiry window.
func (e *Executor) SetApprovalWindow(d time.Duration) {
	e.approvalWindow = d
}

// Execute validates then applies a Decision. Actions run strictly in order
// inside one transaction; a non-dangerous action failure rolls back every
// prior action. Dangerous actions become pending approvals inside the same
// transaction, deduplicated by signature against unexpired proposals.
func (e *Executor) Execute(ctx context.Context, d protocol.Decision) Report {
	if err := e.registry.Validate(d); err != nil {
		return Report{Success: false, Error: err.Error()}
	}

	report := Report{}
	var created []protocol.PendingAction

	err := e.store.WithTx(ctx, func(tx *sql.Tx) error {
		for _, a := range d.Actions {
			h, _ := e.registry.Lookup(a.Type)

			if h.Dangerous() {
				prop, madeNew, err := e.deferDangerous(ctx, tx, a)
				if err != nil {
					report.ActionsFailed = append(report.ActionsFailed, a.Type)
					return fmt.Errorf("action %s: defer for approval: %w", a.Type, err)
				}
				report.ActionsPendingApproval = append(report.ActionsPendingApproval, a.Type)
				if madeNew {
					created = append(created, prop)
				}
				continue
			}

			if err := h.Execute(ctx, tx, a.Params); err != nil {
				report.ActionsFailed = append(report.ActionsFailed, a.Type)
				return fmt.Errorf("action %s: %w", a.Type, err)
			}
			report.ActionsExecuted = append(report.ActionsExecuted, a.Type)
		}
		return nil
	})
	if err != nil {
		report.Success = false
		report.RolledBack = true
		report.Error = fmt.Sprintf("%v; all prior actions rolled back", err)
		return report
	}

	// Broadcast only after the transaction committed: a proposal that was
	// rolled back must never be announced.
	for _, p := range created {
		e.bus.Publish(notify.Event{
			Type:       notify.EventProposalCreated,
			ProposalID: p.ID,
			Message:    p.ActionType,
		})
	}

	report.Success = true
	report.RolledBack = false
	return report
}

// deferDangerous persists a dangerous action as a pending approval, unless
// an unexpired proposal with the same signature already exists; in that
// case it is silently skipped and nothing new is created or broadcast.
func (e *Executor) deferDangerous(ctx context.Context, tx *sql.Tx, a protocol.Action) (protocol.PendingAction, bool, error) {
	sig := Signature(a)
	existing, err := e.store.PendingBySignatureTx(ctx, tx, sig)
	if err != nil {
		return protocol.PendingAction{}, false, err
	}
	if existing != nil {
		return *existing, false, nil
	}

	prop, err := e.store.CreateProposalTx(ctx, tx, protocol.PendingAction{
		ActionType: a.Type,
		Params:     a.Params,
		Options: []protocol.Option{
			{ID: "approve", Label: "Approve and apply"},
			{ID: "reject", Label: "Reject"},
		},
		Signature: sig,
		ExpiresAt: e.nowFunc().Add(e.approvalWindow),
	})
	if err != nil {
		return protocol.PendingAction{}, false, err
	}
	return prop, true, nil
}

// Signature derives the dedup key for an action: a stable hash of its type
// and canonically ordered params.
func Signature(a protocol.Action) string {
	keys := make([]string, 0, len(a.Params))
	for k := range a.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	h.Write([]byte(a.Type))
	for _, k := range keys {
		v, _ := json.Marshal(a.Params[k])
		fmt.Fprintf(h, "|%s=%s", k, v)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// ApplyApproved executes the underlying action of an approved proposal in
// its own transaction. Rejected, expired, and pending proposals are not
// applied.
func (e *Executor) ApplyApproved(ctx context.Context, proposalID string) error {
	prop, err := e.store.GetProposal(ctx, proposalID)
	if err != nil {
		return err
	}
	if prop.Status != protocol.ProposalApproved {
		return fmt.Errorf("pending action %s is %s, not approved", proposalID, prop.Status)
	}
	h, ok := e.registry.Lookup(prop.ActionType)
	if !ok {
		return fmt.Errorf("pending action %s: unknown type %q", proposalID, prop.ActionType)
	}
	return e.store.WithTx(ctx, func(tx *sql.Tx) error {
		return h.Execute(ctx, tx, prop.Params)
	})
}
