package main

import (
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/ahrav/go-arbiter/infrastructure/tui"
)

var errNotTerminal = errors.New("review needs an interactive terminal; use serve or export instead")

func isTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func newReviewCmd(a *app) *cobra.Command {
	cfg := tui.DefaultConfig()
	var noDiffs, plain bool
	cmd := &cobra.Command{
		Use:   "review <file>",
		Short: "Review a batch in the terminal",
		Long: `review opens a full-screen reviewer for a batch. Comparison batches
are reviewed row by row by picking a winner; JSON-mode documents are
reviewed suggestion by suggestion. Every decision is saved immediately.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !isTerminal(os.Stdin) {
				return errNotTerminal
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM)
			defer stop()

			sess, err := a.openSession(ctx, args[0])
			if err != nil {
				return err
			}
			cfg.ShowDiffs = !noDiffs
			cfg.Markdown = !plain
			return tui.Run(ctx, sess, cfg)
		},
	}
	cmd.Flags().BoolVar(&noDiffs, "no-diffs", false, "show improved code without diffing it against the existing code")
	cmd.Flags().BoolVar(&plain, "plain", false, "show summaries as plain text instead of rendered markdown")
	cmd.Flags().DurationVar(&cfg.OpTimeout, "op-timeout", 5*time.Second, "timeout for saving one decision")
	return cmd
}
