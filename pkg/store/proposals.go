package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"warden/pkg/protocol"
)

// CreateProposalTx persists a new pending action inside an existing
// transaction. A missing ID is generated.
func (s *Store) CreateProposalTx(ctx context.Context, tx *sql.Tx, p protocol.PendingAction) (protocol.PendingAction, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Status == "" {
		p.Status = protocol.ProposalPending
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.nowFunc()
	}

	params, err := json.Marshal(p.Params)
	if err != nil {
		return protocol.PendingAction{}, fmt.Errorf("marshal params: %w", err)
	}
	options, err := json.Marshal(p.Options)
	if err != nil {
		return protocol.PendingAction{}, fmt.Errorf("marshal options: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO pending_actions (id, action_type, params, status, options, signature, expires_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.ActionType, string(params), string(p.Status), string(options),
		p.Signature, formatTime(p.ExpiresAt), formatTime(p.CreatedAt))
	if err != nil {
		return protocol.PendingAction{}, fmt.Errorf("create pending action: %w", err)
	}
	return p, nil
}

// PendingBySignatureTx returns the unexpired pending action with the given
// signature, or nil when none exists. Used for proposal deduplication.
func (s *Store) PendingBySignatureTx(ctx context.Context, tx *sql.Tx, signature string) (*protocol.PendingAction, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+proposalColumns+` FROM pending_actions
		 WHERE signature = ? AND status = ? AND expires_at > ?
		 ORDER BY created_at DESC LIMIT 1`,
		signature, string(protocol.ProposalPending), formatTime(s.nowFunc()))
	p, err := scanProposal(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find pending by signature: %w", err)
	}
	return &p, nil
}

const proposalColumns = `id, action_type, params, status, options, signature,
	expires_at, created_at, resolved_at, COALESCE(resolved_by,''), COALESCE(selected_option,'')`

func scanProposal(r rowScanner) (protocol.PendingAction, error) {
	var (
		p                          protocol.PendingAction
		params, status, options    string
		expiresAt, createdAt       string
		resolvedAt                 sql.NullString
	)
	err := r.Scan(&p.ID, &p.ActionType, &params, &status, &options, &p.Signature,
		&expiresAt, &createdAt, &resolvedAt, &p.ResolvedBy, &p.SelectedOption)
	if err != nil {
		return protocol.PendingAction{}, err
	}
	p.Status = protocol.ProposalStatus(status)
	if params != "" {
		if err := json.Unmarshal([]byte(params), &p.Params); err != nil {
			return protocol.PendingAction{}, fmt.Errorf("unmarshal params: %w", err)
		}
	}
	if options != "" {
		if err := json.Unmarshal([]byte(options), &p.Options); err != nil {
			return protocol.PendingAction{}, fmt.Errorf("unmarshal options: %w", err)
		}
	}
	if p.ExpiresAt, err = parseTime(expiresAt); err != nil {
		return protocol.PendingAction{}, err
	}
	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return protocol.PendingAction{}, err
	}
	p.ResolvedAt = parseTimePtr(resolvedAt)
	return p, nil
}

// GetProposal fetches one pending action by id.
func (s *Store) GetProposal(ctx context.Context, id string) (protocol.PendingAction, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+proposalColumns+` FROM pending_actions WHERE id = ?`, id)
	p, err := scanProposal(row)
	if errors.Is(err, sql.ErrNoRows) {
		return protocol.PendingAction{}, &protocol.ProposalNotFoundError{ProposalID: id}
	}
	if err != nil {
		return protocol.PendingAction{}, fmt.Errorf("get pending action %s: %w", id, err)
	}
	return p, nil
}

// GetProposalTx fetches one pending action inside an existing transaction.
// The transaction's write lock stands in for a row lock.
func (s *Store) GetProposalTx(ctx context.Context, tx *sql.Tx, id string) (protocol.PendingAction, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+proposalColumns+` FROM pending_actions WHERE id = ?`, id)
	p, err := scanProposal(row)
	if errors.Is(err, sql.ErrNoRows) {
		return protocol.PendingAction{}, &protocol.ProposalNotFoundError{ProposalID: id}
	}
	if err != nil {
		return protocol.PendingAction{}, fmt.Errorf("get pending action %s: %w", id, err)
	}
	return p, nil
}

// ResolveProposalTx records the selected option and final status.
func (s *Store) ResolveProposalTx(ctx context.Context, tx *sql.Tx, id string, status protocol.ProposalStatus, optionID, actor string) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE pending_actions SET status = ?, selected_option = ?, resolved_by = ?, resolved_at = ?
		 WHERE id = ? AND status = ?`,
		string(status), optionID, actor, formatTime(s.nowFunc()),
		id, string(protocol.ProposalPending))
	if err != nil {
		return fmt.Errorf("resolve pending action: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &protocol.ProposalNotFoundError{ProposalID: id}
	}
	return nil
}

// ExpireOverdueProposals marks pending actions past their expiry as expired
// and returns their ids.
func (s *Store) ExpireOverdueProposals(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM pending_actions WHERE status = ? AND expires_at <= ?`,
		string(protocol.ProposalPending), formatTime(now))
	if err != nil {
		return nil, fmt.Errorf("query overdue proposals: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan proposal id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate overdue proposals: %w", err)
	}

	for _, id := range ids {
		_, err := s.db.ExecContext(ctx,
			`UPDATE pending_actions SET status = ?, resolved_at = ? WHERE id = ? AND status = ?`,
			string(protocol.ProposalExpired), formatTime(now), id, string(protocol.ProposalPending))
		if err != nil {
			return ids, fmt.Errorf("expire proposal %s: %w", id, err)
		}
	}
	return ids, nil
}

// ListProposals returns pending actions in the given status, newest first.
// An empty status returns everything.
func (s *Store) ListProposals(ctx context.Context, status protocol.ProposalStatus) ([]protocol.PendingAction, error) {
	query := `SELECT ` + proposalColumns + ` FROM pending_actions`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query pending actions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []protocol.PendingAction
	for rows.Next() {
		p, err := scanProposal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pending action: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending actions: %w", err)
	}
	return out, nil
}

// AddComment appends to a proposal's comment log.
func (s *Store) AddComment(ctx context.Context, proposalID, author, body string) (protocol.Comment, error) {
	if _, err := s.GetProposal(ctx, proposalID); err != nil {
		return protocol.Comment{}, err
	}
	now := s.nowFunc()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO proposal_comments (proposal_id, author, body, created_at) VALUES (?, ?, ?, ?)`,
		proposalID, author, body, formatTime(now))
	if err != nil {
		return protocol.Comment{}, fmt.Errorf("add comment: %w", err)
	}
	id, _ := res.LastInsertId()
	return protocol.Comment{ID: id, ProposalID: proposalID, Author: author, Body: body, CreatedAt: now}, nil
}

// Comments returns a proposal's comment log, oldest first.
func (s *Store) Comments(ctx context.Context, proposalID string) ([]protocol.Comment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, proposal_id, author, body, created_at FROM proposal_comments
		 WHERE proposal_id = ? ORDER BY id`, proposalID)
	if err != nil {
		return nil, fmt.Errorf("query comments: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []protocol.Comment
	for rows.Next() {
		var c protocol.Comment
		var createdAt string
		if err := rows.Scan(&c.ID, &c.ProposalID, &c.Author, &c.Body, &createdAt); err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		if c.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate comments: %w", err)
	}
	return out, nil
}
