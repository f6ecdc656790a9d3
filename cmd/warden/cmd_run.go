package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"warden/pkg/config"
	"warden/pkg/notify"
	"warden/pkg/scheduler"
	"warden/pkg/store"

	"github.com/spf13/cobra"
)

// newRunCmd creates the "warden run" subcommand: the daemon itself.
func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the dispatch daemon in the foreground",
		Long: `Starts the scheduler loop: processes directives, dispatches queued
tasks to workers within the capacity budget, and reaps runaway work.
Stops cleanly on SIGTERM/SIGINT. Refuses to start when another daemon
instance already holds the PID file.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd.Context(), cmd.OutOrStdout())
		},
	}
}

func runDaemon(parent context.Context, w io.Writer) error {
	paths, err := ResolvePaths()
	if err != nil {
		return fmt.Errorf("resolve paths: %w", err)
	}

	status, pid, err := DaemonStatus(paths.PIDPath)
	if err != nil {
		return err
	}
	if status == StatusRunning {
		return fmt.Errorf("daemon already running (pid %d)", pid)
	}
	if status == StatusStale {
		_ = RemovePIDFile(paths.PIDPath)
	}

	cfg, err := config.Load(paths.WardenHome)
	if err != nil {
		return err
	}

	s, err := store.Open(paths.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer s.Close()

	if err := WritePIDFile(paths.PIDPath, os.Getpid()); err != nil {
		return err
	}
	ctx, cleanup := SetupSignalHandler(parent, paths.PIDPath)
	defer cleanup()

	goalsFn := func() ([]string, error) {
		gf, err := config.LoadGoals(paths.WardenHome)
		if err != nil {
			return nil, err
		}
		return gf.ActiveGoalIDs(time.Now().UTC()), nil
	}

	sched := scheduler.New(
		cfg,
		s,
		&scheduler.ExecWorkerTrigger{Command: cfg.WorkerCommand},
		&scheduler.ExecPreflight{Command: cfg.PreflightCommand},
		notify.NewBus(),
		paths.DBPath,
		goalsFn,
	)

	fmt.Fprintf(w, "warden daemon started (pid %d)\n", os.Getpid())
	err = sched.Run(ctx)
	if errors.Is(err, context.Canceled) {
		fmt.Fprintln(w, "warden daemon stopped")
		return nil
	}
	return err
}
