package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"warden/pkg/protocol"
	"warden/pkg/store"

	"github.com/spf13/cobra"
)

// newStatusCmd creates the "warden status" subcommand.
func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon state and queue snapshot",
		Long:  "Displays daemon liveness, queue counts by status, the current\ndispatch rate, and pending approvals.",
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := ResolvePaths()
			if err != nil {
				return fmt.Errorf("resolve paths: %w", err)
			}
			return runStatus(cmd.Context(), cmd.OutOrStdout(), paths)
		},
	}
}

func runStatus(ctx context.Context, w io.Writer, paths *Paths) error {
	status, pid, err := DaemonStatus(paths.PIDPath)
	if err != nil {
		return err
	}
	switch status {
	case StatusRunning:
		fmt.Fprintf(w, "daemon: running (pid %d)\n", pid)
	case StatusStale:
		fmt.Fprintf(w, "daemon: stale pid file (pid %d is dead)\n", pid)
	default:
		fmt.Fprintln(w, "daemon: stopped")
	}

	s, err := store.Open(paths.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer s.Close()

	fmt.Fprintln(w)
	for _, st := range []protocol.TaskStatus{
		protocol.StatusQueued, protocol.StatusInProgress,
		protocol.StatusCompleted, protocol.StatusFailed, protocol.StatusCancelled,
	} {
		tasks, err := s.ListByStatus(ctx, st)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%-12s %d\n", st, len(tasks))
	}

	if raw, err := s.GetState(ctx, protocol.StateDispatchRamp); err == nil && raw != "" {
		var ramp struct {
			Rate int `json:"rate"`
		}
		if json.Unmarshal([]byte(raw), &ramp) == nil {
			fmt.Fprintf(w, "\ndispatch rate: %d/tick\n", ramp.Rate)
		}
	}
	if billing, err := s.GetState(ctx, protocol.StateBillingPaused); err == nil && billing == "1" {
		fmt.Fprintln(w, "billing pause: active")
	}

	pending, err := s.ListProposals(ctx, protocol.ProposalPending)
	if err != nil {
		return err
	}
	if len(pending) > 0 {
		fmt.Fprintf(w, "\npending approvals: %d\n", len(pending))
		for _, p := range pending {
			fmt.Fprintf(w, "  %s  %s\n", p.ID, p.ActionType)
		}
	}
	return nil
}
