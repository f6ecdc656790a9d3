package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"warden/pkg/protocol"
	"warden/pkg/store"

	"github.com/spf13/cobra"
)

// newTaskCmd creates the "warden task" subcommand group.
func newTaskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Add and inspect tasks",
	}
	cmd.AddCommand(newTaskAddCmd(), newTaskListCmd(), newTaskCompleteCmd())
	return cmd
}

func newTaskCompleteCmd() *cobra.Command {
	var (
		failed  bool
		message string
	)

	cmd := &cobra.Command{
		Use:   "complete <task-id>",
		Short: "Report a finished run back to the daemon",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTaskComplete(cmd.Context(), cmd.OutOrStdout(), protocol.CompletionArgs{
				TaskID:  args[0],
				Success: !failed,
				Message: message,
			})
		},
	}

	cmd.Flags().BoolVar(&failed, "failed", false, "report the run as failed")
	cmd.Flags().StringVarP(&message, "message", "m", "", "failure message, used for classification")
	return cmd
}

func runTaskComplete(ctx context.Context, w io.Writer, c protocol.CompletionArgs) error {
	paths, err := ResolvePaths()
	if err != nil {
		return fmt.Errorf("resolve paths: %w", err)
	}
	s, err := store.Open(paths.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer s.Close()

	if _, err := s.GetTask(ctx, c.TaskID); err != nil {
		return err
	}
	args, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode completion: %w", err)
	}
	if err := s.EnqueueCommand(ctx, protocol.DirectiveComplete, string(args)); err != nil {
		return err
	}
	outcome := "success"
	if !c.Success {
		outcome = "failure"
	}
	fmt.Fprintf(w, "completion (%s) queued for task %s\n", outcome, c.TaskID)
	return nil
}

func newTaskAddCmd() *cobra.Command {
	var (
		priority  string
		goalID    string
		desc      string
		dependsOn []string
	)

	cmd := &cobra.Command{
		Use:   "add <title>",
		Short: "Queue a new task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p := protocol.Priority(priority)
			if priority != "" && !p.Valid() {
				return fmt.Errorf("unknown priority %q (use P0..P3)", priority)
			}
			return runTaskAdd(cmd.Context(), cmd.OutOrStdout(), protocol.Task{
				Title:       args[0],
				Description: desc,
				Priority:    p,
				GoalID:      goalID,
				Payload:     protocol.Payload{DependsOn: dependsOn},
			})
		},
	}

	cmd.Flags().StringVarP(&priority, "priority", "p", "", "priority P0..P3 (default P3)")
	cmd.Flags().StringVarP(&goalID, "goal", "g", "", "goal id this task belongs to")
	cmd.Flags().StringVarP(&desc, "description", "d", "", "task description")
	cmd.Flags().StringSliceVar(&dependsOn, "depends-on", nil, "task ids that must complete first")
	return cmd
}

func runTaskAdd(ctx context.Context, w io.Writer, task protocol.Task) error {
	paths, err := ResolvePaths()
	if err != nil {
		return fmt.Errorf("resolve paths: %w", err)
	}
	s, err := store.Open(paths.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer s.Close()

	created, err := s.CreateTask(ctx, task)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "task %s queued (%s)\n", created.ID, created.Priority)
	return nil
}

func newTaskListCmd() *cobra.Command {
	var statusFilter string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTaskList(cmd.Context(), cmd.OutOrStdout(), statusFilter)
		},
	}

	cmd.Flags().StringVarP(&statusFilter, "status", "s", "queued", "filter by status, or \"all\"")
	return cmd
}

func runTaskList(ctx context.Context, w io.Writer, statusFilter string) error {
	paths, err := ResolvePaths()
	if err != nil {
		return fmt.Errorf("resolve paths: %w", err)
	}
	s, err := store.Open(paths.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer s.Close()

	var statuses []protocol.TaskStatus
	if statusFilter == "all" {
		statuses = []protocol.TaskStatus{
			protocol.StatusQueued, protocol.StatusInProgress,
			protocol.StatusCompleted, protocol.StatusFailed, protocol.StatusCancelled,
		}
	} else {
		st := protocol.TaskStatus(statusFilter)
		if !st.Valid() {
			return fmt.Errorf("unknown status %q", statusFilter)
		}
		statuses = []protocol.TaskStatus{st}
	}

	n := 0
	for _, st := range statuses {
		tasks, err := s.ListByStatus(ctx, st)
		if err != nil {
			return err
		}
		for _, t := range tasks {
			line := fmt.Sprintf("%s  %-3s %-12s %s", t.ID, t.Priority, t.Status, t.Title)
			if t.GoalID != "" {
				line += "  [" + t.GoalID + "]"
			}
			if len(t.Payload.DependsOn) > 0 {
				line += "  deps: " + strings.Join(t.Payload.DependsOn, ",")
			}
			fmt.Fprintln(w, line)
			n++
		}
	}
	if n == 0 {
		fmt.Fprintln(w, "no tasks")
	}
	return nil
}
