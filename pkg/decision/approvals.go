package decision

import (
	"context"
	"database/sql"
	"fmt"

	"warden/pkg/notify"
	"warden/pkg/protocol"
)

// SelectOption resolves a pending action by choosing one of its options.
// The whole resolution runs in one transaction.
//
// Error classes map to API results: ProposalNotFoundError when the row is
// absent or already resolved (404), InvalidOptionError when the option is
// not among the proposal's candidates (400), anything else is a database
// failure after rollback (500). Exactly one notification is emitted on
// success; failed paths emit none.
func (e *Executor) SelectOption(ctx context.Context, proposalID, optionID, actor string) (protocol.PendingAction, error) {
	var resolved protocol.PendingAction

	err := e.store.WithTx(ctx, func(tx *sql.Tx) error {
		prop, err := e.store.GetProposalTx(ctx, tx, proposalID)
		if err != nil {
			return err
		}
		if prop.Status != protocol.ProposalPending {
			return &protocol.ProposalNotFoundError{ProposalID: proposalID}
		}

		valid := false
		for _, opt := range prop.Options {
			if opt.ID == optionID {
				valid = true
				break
			}
		}
		if !valid {
			return &protocol.InvalidOptionError{ProposalID: proposalID, OptionID: optionID}
		}

		status := protocol.ProposalApproved
		if optionID == "reject" {
			status = protocol.ProposalRejected
		}
		if err := e.store.ResolveProposalTx(ctx, tx, proposalID, status, optionID, actor); err != nil {
			return err
		}

		resolved = prop
		resolved.Status = status
		resolved.SelectedOption = optionID
		resolved.ResolvedBy = actor
		return nil
	})
	if err != nil {
		return protocol.PendingAction{}, err
	}

	e.bus.Publish(notify.Event{
		Type:       notify.EventProposalResolved,
		ProposalID: proposalID,
		Message:    fmt.Sprintf("%s by %s", resolved.Status, actor),
	})
	return resolved, nil
}

// Comment appends to a proposal's comment log and emits one notification.
func (e *Executor) Comment(ctx context.Context, proposalID, author, body string) (protocol.Comment, error) {
	c, err := e.store.AddComment(ctx, proposalID, author, body)
	if err != nil {
		return protocol.Comment{}, err
	}
	e.bus.Publish(notify.Event{
		Type:       notify.EventProposalCommented,
		ProposalID: proposalID,
		Message:    author,
	})
	return c, nil
}

// ExpireOverdue sweeps proposals past their expiry. Expiry is automatic and
// silent: no notification fires.
func (e *Executor) ExpireOverdue(ctx context.Context) ([]string, error) {
	return e.store.ExpireOverdueProposals(ctx, e.nowFunc())
}
