package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"warden/pkg/config"
	"warden/pkg/protocol"
	"warden/pkg/store"

	"github.com/spf13/cobra"
)

// newInitCmd creates the "warden init" subcommand.
func newInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the warden runtime directory, database, and config",
		Long: `Creates ~/.warden (or WARDEN_HOME), initializes the runtime database
schema, and writes a default warden.toml and goals.yaml.

Use --force to overwrite an existing config.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := ResolvePaths()
			if err != nil {
				return fmt.Errorf("resolve paths: %w", err)
			}
			return runInit(cmd.OutOrStdout(), paths, force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing config files")
	return cmd
}

// runInit is the core logic for the init command, separated for testability.
func runInit(w io.Writer, paths *Paths, force bool) error {
	if err := os.MkdirAll(paths.WardenHome, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", paths.WardenHome, err)
	}

	s, err := store.Open(paths.DBPath)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer s.Close()
	fmt.Fprintf(w, "database ready at %s\n", paths.DBPath)

	cfgPath := filepath.Join(paths.WardenHome, protocol.ConfigFileName)
	if _, err := os.Stat(cfgPath); err == nil && !force {
		return fmt.Errorf("config already exists at %s (use --force to overwrite)", cfgPath)
	}

	if err := config.Save(paths.WardenHome, config.Config{}.WithDefaults()); err != nil {
		return err
	}
	fmt.Fprintf(w, "config written to %s\n", cfgPath)

	if err := config.SaveGoals(paths.WardenHome, config.GoalsFile{}); err != nil {
		return err
	}
	fmt.Fprintln(w, "goals file created (empty scope: all tasks eligible)")
	return nil
}
