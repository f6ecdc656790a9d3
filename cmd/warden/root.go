package main

import (
	"fmt"

	"warden/internal/appversion"

	"github.com/spf13/cobra"
)

// newRootCmd creates the root warden command with all subcommands attached.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "warden",
		Short:         "Warden autonomous work dispatcher",
		Long:          "warden is the single entry point for the Warden dispatch daemon.\nIt schedules queued tasks onto external workers within capacity budgets.",
		Version:       fmt.Sprintf("warden %s", appversion.String()),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("{{.Version}}\n")

	cmd.AddCommand(
		newInitCmd(),
		newRunCmd(),
		newStatusCmd(),
		newDirectiveCmd(),
		newTaskCmd(),
		newDecisionCmd(),
		newProposalCmd(),
		newLogsCmd(),
		newDashCmd(),
	)

	return cmd
}
