package protocol

import "fmt"

// TaskNotFoundError represents a task lookup failure.
// It enables typed error discrimination for task resolution issues.
type TaskNotFoundError struct {
	TaskID string
}

func (e *TaskNotFoundError) Error() string {
	return fmt.Sprintf("task %s not found", e.TaskID)
}

// ProposalNotFoundError is returned when a pending action is absent or has
// already been resolved. Maps to a 404-class result at the API boundary.
type ProposalNotFoundError struct {
	ProposalID string
}

func (e *ProposalNotFoundError) Error() string {
	return fmt.Sprintf("pending action %s not found or already resolved", e.ProposalID)
}

// InvalidOptionError is returned when a resolution names an option that is
// not among the proposal's candidates. Maps to a 400-class result.
type InvalidOptionError struct {
	ProposalID string
	OptionID   string
}

func (e *InvalidOptionError) Error() string {
	return fmt.Sprintf("option %s is not valid for pending action %s", e.OptionID, e.ProposalID)
}

// WorkerUnavailableError represents a worker-trigger communication failure.
// The task is reverted to queued, never stranded in_progress.
type WorkerUnavailableError struct {
	TaskID string
	Reason string
}

func (e *WorkerUnavailableError) Error() string {
	return fmt.Sprintf("worker unavailable for task %s: %s", e.TaskID, e.Reason)
}
