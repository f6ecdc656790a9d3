// Package protocol defines the shared domain types and SQLite schema for the
// warden dispatch daemon: tasks, decisions, pending actions, directives, and
// the typed errors exchanged between the scheduler, store, and CLI.
package protocol

import "time"

// TaskStatus represents the lifecycle state of a task.
type TaskStatus string

// Task status constants.
const (
	StatusQueued     TaskStatus = "queued"
	StatusInProgress TaskStatus = "in_progress"
	StatusCompleted  TaskStatus = "completed"
	StatusFailed     TaskStatus = "failed"
	StatusCancelled  TaskStatus = "cancelled"
)

// Valid reports whether s is a known task status.
func (s TaskStatus) Valid() bool {
	switch s {
	case StatusQueued, StatusInProgress, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Priority orders tasks for dispatch. P0 is most urgent; P3 is the default.
type Priority string

// Priority constants.
const (
	PriorityP0 Priority = "P0"
	PriorityP1 Priority = "P1"
	PriorityP2 Priority = "P2"
	PriorityP3 Priority = "P3"
)

// Rank returns the numeric dispatch rank for a priority. Lower runs first.
// Unknown values rank after P2, matching the default band.
func (p Priority) Rank() int {
	switch p {
	case PriorityP0:
		return 0
	case PriorityP1:
		return 1
	case PriorityP2:
		return 2
	default:
		return 3
	}
}

// Valid reports whether p is one of the known priority bands.
func (p Priority) Valid() bool {
	switch p {
	case PriorityP0, PriorityP1, PriorityP2, PriorityP3:
		return true
	default:
		return false
	}
}

// Task is a unit of work the daemon schedules but never executes itself.
type Task struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Status      TaskStatus `json:"status"`
	Priority    Priority   `json:"priority"`
	GoalID      string     `json:"goal_id,omitempty"`
	Payload     Payload    `json:"payload"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Payload holds the scheduling metadata the daemon reads and writes on a
// task. Fields the scheduler depends on are typed; anything else rides in
// Extra for forward compatibility.
type Payload struct {
	DependsOn          []string        `json:"depends_on,omitempty"`
	NextRunAt          *time.Time      `json:"next_run_at,omitempty"`
	FailureClass       *Classification `json:"failure_classification,omitempty"`
	WatchdogRetryCount int             `json:"watchdog_retry_count,omitempty"`
	RunTriggeredAt     *time.Time      `json:"run_triggered_at,omitempty"`
	RunID              string          `json:"run_id,omitempty"`
	FailureCount       int             `json:"failure_count,omitempty"`
	QuarantinedUntil   *time.Time      `json:"quarantined_until,omitempty"`
	NeedsDeepAnalysis  bool            `json:"needs_deep_analysis,omitempty"`
	NeedsHumanReview   bool            `json:"needs_human_review,omitempty"`
	PreflightIssues    []string        `json:"preflight_issues,omitempty"`
	Timeout            *TimeoutRecord  `json:"timeout,omitempty"`
	Extra              map[string]any  `json:"extra,omitempty"`
}

// TimeoutRecord annotates a task killed by the watchdog.
type TimeoutRecord struct {
	ElapsedMinutes float64 `json:"elapsed_minutes"`
	LimitMinutes   float64 `json:"limit"`
	KilledAt       string  `json:"killed_at"`
}

// FailureClass buckets infrastructure-level task failures.
type FailureClass string

// Failure class constants, ordered from most to least specific.
const (
	FailureNetwork   FailureClass = "NETWORK"
	FailureRateLimit FailureClass = "RATE_LIMIT"
	FailureResource  FailureClass = "RESOURCE"
	FailureTaskError FailureClass = "TASK_ERROR"
)

// ModelErrorClass buckets remote-model call failures. Kept separate from
// FailureClass: infrastructure failures and malformed-output failures trigger
// different remediation and must never be conflated.
type ModelErrorClass string

// Model error class constants.
const (
	ModelAPIError  ModelErrorClass = "API_ERROR"
	ModelTimeout   ModelErrorClass = "TIMEOUT"
	ModelBadOutput ModelErrorClass = "BAD_OUTPUT"
)

// Classification records why a task failed and how (or whether) to retry it.
type Classification struct {
	Class         FailureClass   `json:"class"`
	Detail        string         `json:"detail,omitempty"`
	RetryStrategy *RetryStrategy `json:"retry_strategy,omitempty"`
}

// RetryStrategy controls requeue behavior after a failure. ShouldRetry=false
// is terminal: the task is never auto-requeued.
type RetryStrategy struct {
	ShouldRetry      bool       `json:"should_retry"`
	NextRunAt        *time.Time `json:"next_run_at,omitempty"`
	NeedsHumanReview bool       `json:"needs_human_review,omitempty"`
}

// Decision is a validated, ordered bundle of actions applied atomically by
// the decision executor. External callers never execute actions directly.
type Decision struct {
	Level      int      `json:"level"`      // 0, 1, or 2
	Actions    []Action `json:"actions"`    // executed strictly in order
	Rationale  string   `json:"rationale"`  // required, non-empty
	Confidence float64  `json:"confidence"` // [0, 1]
	Safety     bool     `json:"safety"`     // required true for dangerous actions
}

// Action is one instruction inside a Decision.
type Action struct {
	Type   string         `json:"type"`
	Params map[string]any `json:"params,omitempty"`
}

// ProposalStatus tracks a deferred dangerous action awaiting human approval.
type ProposalStatus string

// Proposal status constants.
const (
	ProposalPending  ProposalStatus = "pending_approval"
	ProposalApproved ProposalStatus = "approved"
	ProposalRejected ProposalStatus = "rejected"
	ProposalExpired  ProposalStatus = "expired"
)

// Option is one candidate resolution on a pending action.
type Option struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// PendingAction is a dangerous action persisted for human approval instead
// of being executed inline.
type PendingAction struct {
	ID             string         `json:"id"`
	ActionType     string         `json:"action_type"`
	Params         map[string]any `json:"params,omitempty"`
	Status         ProposalStatus `json:"status"`
	Options        []Option       `json:"options"`
	Signature      string         `json:"signature"`
	ExpiresAt      time.Time      `json:"expires_at"`
	CreatedAt      time.Time      `json:"created_at"`
	ResolvedAt     *time.Time     `json:"resolved_at,omitempty"`
	ResolvedBy     string         `json:"resolved_by,omitempty"`
	SelectedOption string         `json:"selected_option,omitempty"`
}

// Comment is one entry in a proposal's append-only comment log.
type Comment struct {
	ID         int64     `json:"id"`
	ProposalID string    `json:"proposal_id"`
	Author     string    `json:"author"`
	Body       string    `json:"body"`
	CreatedAt  time.Time `json:"created_at"`
}

// Event represents a row in the events table: the daemon's structured log.
type Event struct {
	ID        int64  `json:"id"`
	Type      string `json:"type"`
	Source    string `json:"source"`
	TaskID    string `json:"task_id"`
	Payload   string `json:"payload"`
	CreatedAt string `json:"created_at"`
}
