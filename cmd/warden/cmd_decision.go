package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"warden/pkg/decision"
	"warden/pkg/protocol"
	"warden/pkg/store"

	"github.com/spf13/cobra"
)

// newDecisionCmd creates the "warden decision" subcommand group: the entry
// point through which an analysis pipeline (or an operator) submits
// structured remedial decisions.
func newDecisionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "decision",
		Short: "Apply structured remedial decisions",
	}
	cmd.AddCommand(newDecisionApplyCmd())
	return cmd
}

func newDecisionApplyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "apply <file>",
		Short: "Validate and execute a decision from a JSON file (\"-\" for stdin)",
		Long: `Reads a decision document and applies it transactionally: every action
commits or none do. Dangerous actions are not run inline; they become
pending approvals for "warden proposal resolve".

Decision format:
  {"level": 1, "rationale": "...", "confidence": 0.9, "safety": true,
   "actions": [{"type": "requeue_task", "params": {"task_id": "..."}}]}`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDecisionApply(cmd.Context(), cmd.OutOrStdout(), cmd.InOrStdin(), args[0])
		},
	}
}

func runDecisionApply(ctx context.Context, w io.Writer, in io.Reader, path string) error {
	var raw []byte
	var err error
	if path == "-" {
		raw, err = io.ReadAll(in)
	} else {
		raw, err = os.ReadFile(path)
	}
	if err != nil {
		return fmt.Errorf("read decision: %w", err)
	}

	var d protocol.Decision
	if err := json.Unmarshal(raw, &d); err != nil {
		return fmt.Errorf("parse decision: %w", err)
	}

	return withExecutor(ctx, func(exec *decision.Executor, _ *store.Store) error {
		report := exec.Execute(ctx, d)
		out, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(w, string(out))
		if !report.Success {
			return errors.New("decision not applied")
		}
		return nil
	})
}
