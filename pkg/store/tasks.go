package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"warden/pkg/protocol"
)

const taskColumns = `id, title, description, status, priority, goal_id, payload,
	created_at, started_at, updated_at, completed_at`

// CreateTask inserts a new task. A missing ID is generated; a missing status
// defaults to queued and a missing priority to P3.
func (s *Store) CreateTask(ctx context.Context, t protocol.Task) (protocol.Task, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Status == "" {
		t.Status = protocol.StatusQueued
	}
	if t.Priority == "" {
		t.Priority = protocol.PriorityP3
	}
	now := s.nowFunc()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now

	payload, err := json.Marshal(t.Payload)
	if err != nil {
		return protocol.Task{}, fmt.Errorf("marshal payload: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO tasks (id, title, description, status, priority, goal_id, payload,
		                    created_at, started_at, updated_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Title, t.Description, string(t.Status), string(t.Priority), t.GoalID,
		string(payload), formatTime(t.CreatedAt), formatTimePtr(t.StartedAt),
		formatTime(t.UpdatedAt), formatTimePtr(t.CompletedAt))
	if err != nil {
		return protocol.Task{}, fmt.Errorf("create task: %w", err)
	}
	return t, nil
}

// GetTask fetches one task by id.
func (s *Store) GetTask(ctx context.Context, id string) (protocol.Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return protocol.Task{}, &protocol.TaskNotFoundError{TaskID: id}
	}
	if err != nil {
		return protocol.Task{}, fmt.Errorf("get task %s: %w", id, err)
	}
	return t, nil
}

// rowScanner lets scanTask work with both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(r rowScanner) (protocol.Task, error) {
	var (
		t                            protocol.Task
		status, priority, payloadStr string
		createdAt, updatedAt         string
		startedAt, completedAt       sql.NullString
	)
	err := r.Scan(&t.ID, &t.Title, &t.Description, &status, &priority, &t.GoalID,
		&payloadStr, &createdAt, &startedAt, &updatedAt, &completedAt)
	if err != nil {
		return protocol.Task{}, err
	}
	t.Status = protocol.TaskStatus(status)
	t.Priority = protocol.Priority(priority)
	if payloadStr != "" {
		if err := json.Unmarshal([]byte(payloadStr), &t.Payload); err != nil {
			return protocol.Task{}, fmt.Errorf("unmarshal payload: %w", err)
		}
	}
	if t.CreatedAt, err = parseTime(createdAt); err != nil {
		return protocol.Task{}, err
	}
	if t.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return protocol.Task{}, err
	}
	t.StartedAt = parseTimePtr(startedAt)
	t.CompletedAt = parseTimePtr(completedAt)
	return t, nil
}

// UpdatePayload persists a task's payload.
func (s *Store) UpdatePayload(ctx context.Context, id string, p protocol.Payload) error {
	return s.updatePayload(ctx, s.db, id, p)
}

// UpdatePayloadTx persists a task's payload inside an existing transaction.
func (s *Store) UpdatePayloadTx(ctx context.Context, tx *sql.Tx, id string, p protocol.Payload) error {
	return s.updatePayload(ctx, tx, id, p)
}

func (s *Store) updatePayload(ctx context.Context, e execer, id string, p protocol.Payload) error {
	payload, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	res, err := e.ExecContext(ctx,
		`UPDATE tasks SET payload = ?, updated_at = ? WHERE id = ?`,
		string(payload), formatTime(s.nowFunc()), id)
	if err != nil {
		return fmt.Errorf("update payload: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &protocol.TaskNotFoundError{TaskID: id}
	}
	return nil
}

// MarkInProgress transitions a queued task to in_progress and stamps
// started_at. in_progress always implies a non-null started_at.
func (s *Store) MarkInProgress(ctx context.Context, id string) error {
	now := formatTime(s.nowFunc())
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET status = ?, started_at = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(protocol.StatusInProgress), now, now, id, string(protocol.StatusQueued))
	if err != nil {
		return fmt.Errorf("mark in progress: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &protocol.TaskNotFoundError{TaskID: id}
	}
	return nil
}

// RevertToQueued returns an in_progress task to the queue, clearing
// started_at. Used when the worker trigger fails after the optimistic
// in_progress transition.
func (s *Store) RevertToQueued(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET status = ?, started_at = NULL, updated_at = ? WHERE id = ?`,
		string(protocol.StatusQueued), formatTime(s.nowFunc()), id)
	if err != nil {
		return fmt.Errorf("revert to queued: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &protocol.TaskNotFoundError{TaskID: id}
	}
	return nil
}

// SetStatus transitions a task to the given status. Completed and failed
// transitions stamp completed_at.
func (s *Store) SetStatus(ctx context.Context, id string, status protocol.TaskStatus) error {
	return s.setStatus(ctx, s.db, id, status)
}

// SetStatusTx is SetStatus inside an existing transaction.
func (s *Store) SetStatusTx(ctx context.Context, tx *sql.Tx, id string, status protocol.TaskStatus) error {
	return s.setStatus(ctx, tx, id, status)
}

func (s *Store) setStatus(ctx context.Context, e execer, id string, status protocol.TaskStatus) error {
	if !status.Valid() {
		return fmt.Errorf("invalid task status %q", status)
	}
	now := formatTime(s.nowFunc())
	var res sql.Result
	var err error
	switch status {
	case protocol.StatusCompleted, protocol.StatusFailed, protocol.StatusCancelled:
		res, err = e.ExecContext(ctx,
			`UPDATE tasks SET status = ?, completed_at = ?, updated_at = ? WHERE id = ?`,
			string(status), now, now, id)
	default:
		res, err = e.ExecContext(ctx,
			`UPDATE tasks SET status = ?, updated_at = ? WHERE id = ?`,
			string(status), now, id)
	}
	if err != nil {
		return fmt.Errorf("set status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &protocol.TaskNotFoundError{TaskID: id}
	}
	return nil
}

// SetPriorityTx updates a task's priority inside an existing transaction.
func (s *Store) SetPriorityTx(ctx context.Context, tx *sql.Tx, id string, p protocol.Priority) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE tasks SET priority = ?, updated_at = ? WHERE id = ?`,
		string(p), formatTime(s.nowFunc()), id)
	if err != nil {
		return fmt.Errorf("set priority: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &protocol.TaskNotFoundError{TaskID: id}
	}
	return nil
}

// RequeueTx returns a task to the queue inside an existing transaction,
// clearing execution timestamps.
func (s *Store) RequeueTx(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE tasks SET status = ?, started_at = NULL, completed_at = NULL, updated_at = ? WHERE id = ?`,
		string(protocol.StatusQueued), formatTime(s.nowFunc()), id)
	if err != nil {
		return fmt.Errorf("requeue: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &protocol.TaskNotFoundError{TaskID: id}
	}
	return nil
}

// GetTaskTx fetches one task inside an existing transaction.
func (s *Store) GetTaskTx(ctx context.Context, tx *sql.Tx, id string) (protocol.Task, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return protocol.Task{}, &protocol.TaskNotFoundError{TaskID: id}
	}
	if err != nil {
		return protocol.Task{}, fmt.Errorf("get task %s: %w", id, err)
	}
	return t, nil
}

// CancelQueuedByGoalTx cancels every queued task under a goal and returns
// how many rows changed.
func (s *Store) CancelQueuedByGoalTx(ctx context.Context, tx *sql.Tx, goalID string) (int64, error) {
	now := formatTime(s.nowFunc())
	res, err := tx.ExecContext(ctx,
		`UPDATE tasks SET status = ?, completed_at = ?, updated_at = ? WHERE status = ? AND goal_id = ?`,
		string(protocol.StatusCancelled), now, now, string(protocol.StatusQueued), goalID)
	if err != nil {
		return 0, fmt.Errorf("cancel queued by goal: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// ListQueued returns queued tasks scoped to the given goal ids (all goals
// when the set is empty), ordered by priority band then FIFO by creation.
func (s *Store) ListQueued(ctx context.Context, goalIDs []string) ([]protocol.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE status = ?`
	args := []any{string(protocol.StatusQueued)}
	if len(goalIDs) > 0 {
		query += ` AND goal_id IN (?` + strings.Repeat(",?", len(goalIDs)-1) + `)`
		for _, g := range goalIDs {
			args = append(args, g)
		}
	}
	query += ` ORDER BY CASE priority WHEN 'P0' THEN 0 WHEN 'P1' THEN 1 WHEN 'P2' THEN 2 ELSE 3 END, created_at, id`

	return s.queryTasks(ctx, query, args...)
}

// InFlight returns all in_progress tasks, oldest started first.
func (s *Store) InFlight(ctx context.Context) ([]protocol.Task, error) {
	return s.queryTasks(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE status = ? ORDER BY started_at, id`,
		string(protocol.StatusInProgress))
}

// CountInFlight returns the number of in_progress tasks.
func (s *Store) CountInFlight(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM tasks WHERE status = ?`,
		string(protocol.StatusInProgress)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count in flight: %w", err)
	}
	return n, nil
}

// ListByStatus returns tasks in the given status, newest first.
func (s *Store) ListByStatus(ctx context.Context, status protocol.TaskStatus) ([]protocol.Task, error) {
	return s.queryTasks(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE status = ? ORDER BY created_at DESC, id`,
		string(status))
}

// StatusesByID returns the status of each listed task that exists.
func (s *Store) StatusesByID(ctx context.Context, ids []string) (map[string]protocol.TaskStatus, error) {
	out := make(map[string]protocol.TaskStatus, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	query := `SELECT id, status FROM tasks WHERE id IN (?` + strings.Repeat(",?", len(ids)-1) + `)`
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query statuses: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var id, status string
		if err := rows.Scan(&id, &status); err != nil {
			return nil, fmt.Errorf("scan status: %w", err)
		}
		out[id] = protocol.TaskStatus(status)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate statuses: %w", err)
	}
	return out, nil
}

// ReleaseQuarantined returns quarantined tasks whose TTL elapsed back to the
// queue and reports their ids.
func (s *Store) ReleaseQuarantined(ctx context.Context, now time.Time) ([]string, error) {
	tasks, err := s.queryTasks(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE status = ? AND payload LIKE '%quarantined_until%'`,
		string(protocol.StatusFailed))
	if err != nil {
		return nil, err
	}

	var released []string
	for _, t := range tasks {
		if t.Payload.QuarantinedUntil == nil || t.Payload.QuarantinedUntil.After(now) {
			continue
		}
		t.Payload.QuarantinedUntil = nil
		t.Payload.NextRunAt = nil
		if err := s.UpdatePayload(ctx, t.ID, t.Payload); err != nil {
			return released, err
		}
		if err := s.SetStatus(ctx, t.ID, protocol.StatusQueued); err != nil {
			return released, err
		}
		released = append(released, t.ID)
	}
	return released, nil
}

func (s *Store) queryTasks(ctx context.Context, query string, args ...any) ([]protocol.Task, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tasks []protocol.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}
	return tasks, nil
}
