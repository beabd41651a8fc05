package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/ahrav/go-arbiter/internal/application"
)

func newExportCmd(a *app) *cobra.Command {
	var (
		kind   string
		outDir string
	)
	cmd := &cobra.Command{
		Use:   "export <file>",
		Short: "Export the recorded decisions for a batch as JSON",
		Long: `export writes the decisions saved for a batch. Comparison batches
export A/B results with win statistics; JSON-mode documents export the
suggestion feedback. With --dir the document is written to a dated file
in that directory instead of standard output.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := a.openSession(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			var doc any
			switch kind {
			case "":
				doc = application.Export(sess)
				kind = application.ExportKindAB
				if sess.Document().Mode == application.ModeJSON {
					kind = application.ExportKindFeedback
				}
			case "ab", application.ExportKindAB:
				doc, kind = application.ExportAB(sess), application.ExportKindAB
			case "feedback", application.ExportKindFeedback:
				doc, kind = application.ExportFeedbacks(sess), application.ExportKindFeedback
			default:
				return fmt.Errorf("unknown export kind %q (want ab or feedback)", kind)
			}

			var out io.Writer = cmd.OutOrStdout()
			if outDir != "" {
				name := filepath.Join(outDir, application.ExportFileName(kind, time.Now()))
				f, err := os.Create(name)
				if err != nil {
					return err
				}
				defer f.Close()
				out = f
				fmt.Fprintln(cmd.ErrOrStderr(), "wrote", name)
			}
			return printJSON(out, doc)
		},
	}
	cmd.Flags().StringVarP(&kind, "kind", "k", "", "export kind: ab or feedback (default follows the batch mode)")
	cmd.Flags().StringVarP(&outDir, "dir", "o", "", "write a dated export file into this directory")
	return cmd
}
