package store

import (
	"context"
	"fmt"

	"warden/pkg/protocol"
)

// EnqueueCommand writes an operator directive for the daemon to pick up at
// the top of its next tick.
func (s *Store) EnqueueCommand(ctx context.Context, directive protocol.Directive, args string) error {
	if !directive.Valid() {
		return fmt.Errorf("invalid directive %q", directive)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO commands (directive, args, created_at) VALUES (?, ?, ?)`,
		string(directive), args, formatTime(s.nowFunc()))
	if err != nil {
		return fmt.Errorf("enqueue command: %w", err)
	}
	return nil
}

// PendingCommands returns unprocessed directives in arrival order.
func (s *Store) PendingCommands(ctx context.Context) ([]protocol.CommandRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, directive, COALESCE(args,''), status, created_at, COALESCE(processed_at, '')
		 FROM commands WHERE status='pending' ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query pending commands: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var cmds []protocol.CommandRow
	for rows.Next() {
		var c protocol.CommandRow
		if err := rows.Scan(&c.ID, &c.Directive, &c.Args, &c.Status, &c.CreatedAt, &c.ProcessedAt); err != nil {
			return nil, fmt.Errorf("scan command: %w", err)
		}
		cmds = append(cmds, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate commands: %w", err)
	}
	return cmds, nil
}

// MarkCommandProcessed stamps a directive as handled.
func (s *Store) MarkCommandProcessed(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE commands SET status='processed', processed_at=? WHERE id=?`,
		formatTime(s.nowFunc()), id)
	if err != nil {
		return fmt.Errorf("mark command processed: %w", err)
	}
	return nil
}
