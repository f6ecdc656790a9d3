package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"warden/pkg/protocol"
	"warden/pkg/store"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

// confirmable directives change dispatch posture in ways worth a prompt.
var confirmable = map[protocol.Directive]bool{
	protocol.DirectiveDrain:        true,
	protocol.DirectiveBillingPause: true,
}

// newDirectiveCmd creates the "warden directive" subcommand.
func newDirectiveCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "directive <op>",
		Short: "Send a directive to the daemon",
		Long: `Enqueues a directive in the runtime database; the daemon picks it up
on its next tick.

Supported operations:
  start           - Begin pulling and dispatching queued work
  pause           - Hold new dispatch, in-flight work keeps running
  resume          - Resume dispatch after a pause
  drain           - Stop dispatch, let in-flight work finish
  billing_pause   - Deny dispatch until billing is resumed
  billing_resume  - Clear the billing pause`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDirective(cmd.Context(), cmd.OutOrStdout(), cmd.InOrStdin(), protocol.Directive(args[0]), yes)
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip the confirmation prompt")
	return cmd
}

func runDirective(ctx context.Context, w io.Writer, in io.Reader, d protocol.Directive, yes bool) error {
	if !d.Valid() || d == protocol.DirectiveComplete {
		// Completion reports carry args; they go through "task complete".
		return fmt.Errorf("unknown directive %q", d)
	}

	if confirmable[d] && !yes && isatty.IsTerminal(os.Stdin.Fd()) {
		fmt.Fprintf(w, "apply directive %q? [y/N] ", d)
		reader := bufio.NewReader(in)
		line, _ := reader.ReadString('\n')
		if answer := strings.ToLower(strings.TrimSpace(line)); answer != "y" && answer != "yes" {
			fmt.Fprintln(w, "aborted")
			return nil
		}
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

	if err := s.EnqueueCommand(ctx, d, ""); err != nil {
		return err
	}
	fmt.Fprintf(w, "directive %s queued\n", d)
	return nil
}
