package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"warden/pkg/protocol"
)

// TriggerResult is what a successful worker launch reports back.
type TriggerResult struct {
	RunID string `json:"run_id"`
}

// WorkerTrigger starts, probes, and kills external worker processes. The
// scheduler never executes task work itself.
type WorkerTrigger interface {
	// Trigger launches a worker for the task. mode is "execute" for the
	// normal path or "rca" for deep-analysis routing.
	Trigger(ctx context.Context, task protocol.Task, mode string) (TriggerResult, error)
	// CheckAvailable probes whether a worker can be launched at all.
	CheckAvailable(ctx context.Context) error
	// Kill terminates the run for a task the watchdog reaped.
	Kill(ctx context.Context, task protocol.Task) error
}

// PreflightResult is the outcome of validating a candidate before dispatch.
type PreflightResult struct {
	Passed      bool     `json:"passed"`
	Issues      []string `json:"issues,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`
}

// Preflight validates a candidate task before it is handed to a worker.
type Preflight interface {
	Check(ctx context.Context, task protocol.Task) (PreflightResult, error)
}

// --- exec-based production implementations ---

// runCommand executes a command and returns its stdout, folding stderr into
// the error on failure.
func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	out, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, exitErr.Stderr)
		}
		return nil, fmt.Errorf("%s %s: %w", name, strings.Join(args, " "), err)
	}
	return out, nil
}

// ExecWorkerTrigger launches workers via an external command. The command's
// subcommand protocol: `<cmd> trigger <task-id> <mode>` prints a JSON
// TriggerResult; `<cmd> ping` exits 0 when launchable; `<cmd> kill <run-id>`
// terminates a run.
type ExecWorkerTrigger struct {
	Command string
}

func (t *ExecWorkerTrigger) Trigger(ctx context.Context, task protocol.Task, mode string) (TriggerResult, error) {
	out, err := runCommand(ctx, t.Command, "trigger", task.ID, mode)
	if err != nil {
		return TriggerResult{}, &protocol.WorkerUnavailableError{TaskID: task.ID, Reason: err.Error()}
	}
	var res TriggerResult
	if err := json.Unmarshal(out, &res); err != nil {
		return TriggerResult{}, fmt.Errorf("parse trigger output: %w", err)
	}
	return res, nil
}

func (t *ExecWorkerTrigger) CheckAvailable(ctx context.Context) error {
	if _, err := runCommand(ctx, t.Command, "ping"); err != nil {
		return &protocol.WorkerUnavailableError{Reason: err.Error()}
	}
	return nil
}

func (t *ExecWorkerTrigger) Kill(ctx context.Context, task protocol.Task) error {
	runID := task.Payload.RunID
	if runID == "" {
		runID = task.ID
	}
	_, err := runCommand(ctx, t.Command, "kill", runID)
	return err
}

// ExecPreflight validates candidates via an external command:
// `<cmd> check <task-id>` prints a JSON PreflightResult. An empty Command
// passes everything.
type ExecPreflight struct {
	Command string
}

func (p *ExecPreflight) Check(ctx context.Context, task protocol.Task) (PreflightResult, error) {
	if p.Command == "" {
		return PreflightResult{Passed: true}, nil
	}
	out, err := runCommand(ctx, p.Command, "check", task.ID)
	if err != nil {
		return PreflightResult{}, err
	}
	var res PreflightResult
	if err := json.Unmarshal(out, &res); err != nil {
		return PreflightResult{}, fmt.Errorf("parse pre-flight output: %w", err)
	}
	return res, nil
}
