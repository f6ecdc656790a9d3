package main

import (
	"context"
	"fmt"
	"io"

	"warden/pkg/config"
	"warden/pkg/decision"
	"warden/pkg/notify"
	"warden/pkg/protocol"
	"warden/pkg/store"

	"github.com/spf13/cobra"
)

// newProposalCmd creates the "warden proposal" subcommand group for
// resolving pending dangerous actions.
func newProposalCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "proposal",
		Short: "Review and resolve pending approvals",
	}
	cmd.AddCommand(newProposalListCmd(), newProposalResolveCmd(), newProposalCommentCmd())
	return cmd
}

func withExecutor(ctx context.Context, fn func(*decision.Executor, *store.Store) error) error {
	paths, err := ResolvePaths()
	if err != nil {
		return fmt.Errorf("resolve paths: %w", err)
	}
	s, err := store.Open(paths.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer s.Close()

	cfg, err := config.Load(paths.WardenHome)
	if err != nil {
		return err
	}
	exec := decision.NewExecutor(s, decision.NewRegistry(s), notify.NewBus())
	exec.SetApprovalWindow(cfg.ApprovalWindow)
	return fn(exec, s)
}

func newProposalListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List pending approvals",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withExecutor(cmd.Context(), func(_ *decision.Executor, s *store.Store) error {
				return runProposalList(cmd.Context(), cmd.OutOrStdout(), s)
			})
		},
	}
}

func runProposalList(ctx context.Context, w io.Writer, s *store.Store) error {
	pending, err := s.ListProposals(ctx, protocol.ProposalPending)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		fmt.Fprintln(w, "no pending approvals")
		return nil
	}
	for _, p := range pending {
		fmt.Fprintf(w, "%s  %-18s expires %s\n", p.ID, p.ActionType, p.ExpiresAt.Format("2006-01-02 15:04"))
		for _, opt := range p.Options {
			fmt.Fprintf(w, "    option %-8s %s\n", opt.ID, opt.Label)
		}
	}
	return nil
}

func newProposalResolveCmd() *cobra.Command {
	var actor string

	cmd := &cobra.Command{
		Use:   "resolve <proposal-id> <option>",
		Short: "Approve or reject a pending action",
		Long:  "Selects an option on a pending action. Approving also applies the\nunderlying action.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withExecutor(cmd.Context(), func(exec *decision.Executor, _ *store.Store) error {
				resolved, err := exec.SelectOption(cmd.Context(), args[0], args[1], actor)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "proposal %s %s\n", resolved.ID, resolved.Status)
				if resolved.Status == protocol.ProposalApproved {
					if err := exec.ApplyApproved(cmd.Context(), resolved.ID); err != nil {
						return fmt.Errorf("apply approved action: %w", err)
					}
					fmt.Fprintln(cmd.OutOrStdout(), "action applied")
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&actor, "actor", "cli", "who is resolving the proposal")
	return cmd
}

func newProposalCommentCmd() *cobra.Command {
	var author string

	cmd := &cobra.Command{
		Use:   "comment <proposal-id> <text>",
		Short: "Comment on a pending action",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withExecutor(cmd.Context(), func(exec *decision.Executor, _ *store.Store) error {
				if _, err := exec.Comment(cmd.Context(), args[0], author, args[1]); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "comment added")
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&author, "author", "cli", "comment author")
	return cmd
}
