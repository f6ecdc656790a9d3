package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"warden/pkg/protocol"
	"warden/pkg/store"

	"github.com/spf13/cobra"
)

// newLogsCmd creates the "warden logs" subcommand.
func newLogsCmd() *cobra.Command {
	var (
		tail    int
		follow  bool
		evType  string
		taskArg string
	)

	cmd := &cobra.Command{
		Use:   "logs [task-id]",
		Short: "Query and tail the daemon event log",
		Long:  "Displays events from the daemon event log.\nOptionally filter by task id or event type, and follow new events.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				taskArg = args[0]
			}

			paths, err := ResolvePaths()
			if err != nil {
				return fmt.Errorf("resolve paths: %w", err)
			}
			s, err := store.Open(paths.DBPath)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer s.Close()

			w := cmd.OutOrStdout()
			if follow {
				return followLogs(cmd.Context(), s, w, evType, taskArg, tail)
			}
			return printLogs(cmd.Context(), s, w, evType, taskArg, tail)
		},
	}

	cmd.Flags().IntVar(&tail, "tail", 20, "number of recent events to show")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "poll for new events every 1s")
	cmd.Flags().StringVarP(&evType, "type", "t", "", "filter by event type")
	return cmd
}

func printLogs(ctx context.Context, s *store.Store, w io.Writer, evType, taskID string, tail int) error {
	events, err := s.Events(ctx, store.EventQuery{Type: evType, TaskID: taskID, Limit: tail})
	if err != nil {
		return err
	}
	if len(events) == 0 {
		fmt.Fprintln(w, "no events")
		return nil
	}
	// The store returns newest first; display chronologically.
	for i := len(events) - 1; i >= 0; i-- {
		printEvent(w, events[i])
	}
	return nil
}

func printEvent(w io.Writer, ev protocol.Event) {
	line := fmt.Sprintf("%s  %-24s", ev.CreatedAt, ev.Type)
	if ev.TaskID != "" {
		line += "  " + ev.TaskID
	}
	if ev.Payload != "" {
		line += "  " + ev.Payload
	}
	fmt.Fprintln(w, line)
}

func followLogs(ctx context.Context, s *store.Store, w io.Writer, evType, taskID string, tail int) error {
	if err := printLogs(ctx, s, w, evType, taskID, tail); err != nil {
		return err
	}

	lastID := int64(0)
	if events, err := s.Events(ctx, store.EventQuery{Type: evType, TaskID: taskID, Limit: 1}); err == nil && len(events) > 0 {
		lastID = events[0].ID
	}

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			events, err := s.Events(ctx, store.EventQuery{Type: evType, TaskID: taskID, Limit: 100})
			if err != nil {
				return err
			}
			for i := len(events) - 1; i >= 0; i-- {
				ev := events[i]
				if ev.ID <= lastID {
					continue
				}
				lastID = ev.ID
				printEvent(w, ev)
			}
		}
	}
}
