package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ahrav/go-arbiter/internal/review"
)

func newDiffCmd(*app) *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "diff <old> <new>",
		Short: "Print a unified diff between two files",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			oldText, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			newText, err := os.ReadFile(args[1])
			if err != nil {
				return err
			}
			if path == "" {
				path = filepath.ToSlash(args[0])
			}
			out, err := review.RenderFileDiff(path, string(oldText), string(newText))
			if err != nil {
				return fmt.Errorf("render diff: %w", err)
			}
			stats := review.Stats(review.UnifiedDiff(string(oldText), string(newText)))
			fmt.Fprint(cmd.OutOrStdout(), out)
			fmt.Fprintf(cmd.ErrOrStderr(), "%d added, %d removed\n", stats.Added, stats.Removed)
			return nil
		},
	}
	cmd.Flags().StringVar(&path, "path", "", "file name shown in the diff header")
	return cmd
}
