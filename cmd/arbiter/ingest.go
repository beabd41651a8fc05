package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ahrav/go-arbiter/internal/application"
	"github.com/ahrav/go-arbiter/internal/domain"
)

type ingestFlags struct {
	asJSON bool
	watch  bool
}

func newIngestCmd(a *app) *cobra.Command {
	var f ingestFlags
	cmd := &cobra.Command{
		Use:   "ingest <file>",
		Short: "Parse a batch and print its diagnostic report",
		Long: `ingest parses a CSV comparison batch or a JSON-mode suggestion
document and reports how many rows were assembled, which lines were
skipped and how many outputs survived only as fallback records.`,
		Aliases: []string{"i"},
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			if err := a.runIngest(ctx, out, args[0], f.asJSON); err != nil && !f.watch {
				return err
			}
			if !f.watch {
				return nil
			}

			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return a.watchIngest(ctx, out, args[0], f.asJSON)
		},
	}
	cmd.Flags().BoolVar(&f.asJSON, "json", false, "print the report as JSON")
	cmd.Flags().BoolVarP(&f.watch, "watch", "w", false, "re-ingest whenever the file changes")
	return cmd
}

func (a *app) runIngest(ctx context.Context, out io.Writer, path string, asJSON bool) error {
	doc, err := a.loadFile(ctx, path)
	var batchErr *domain.BatchError
	if err != nil && (doc == nil || !errors.As(err, &batchErr)) {
		return err
	}
	if asJSON {
		if perr := printJSON(out, summarize(doc)); perr != nil {
			return perr
		}
		return err
	}
	printReport(out, doc)
	return err
}

// watchIngest re-runs the ingest whenever path changes until ctx ends.
func (a *app) watchIngest(ctx context.Context, out io.Writer, path string, asJSON bool) error {
	fw := application.NewFileWatcher(path, application.DefaultDebounce, a.logger.Named("watch"))
	err := fw.Start(ctx, func() {
		if err := a.runIngest(ctx, out, path, asJSON); err != nil {
			a.logger.Warn("ingest failed", zap.String("path", path), zap.Error(err))
		}
	})
	if err != nil {
		return err
	}
	defer fw.Stop()

	a.logger.Info("watching for changes", zap.String("path", path))
	<-ctx.Done()
	return nil
}

// ingestSummary is the --json form of an ingest.
type ingestSummary struct {
	Key     string       `json:"key"`
	Mode    string       `json:"mode"`
	Rows    int          `json:"rows"`
	Items   int          `json:"items"`
	Summary string       `json:"summary"`
	Report  any          `json:"report,omitempty"`
	Skipped []rowFailure `json:"skipped,omitempty"`
}

type rowFailure struct {
	Line   int    `json:"line"`
	Reason string `json:"reason"`
}

func summarize(doc *application.Document) ingestSummary {
	s := ingestSummary{Key: doc.Key, Mode: doc.Mode, Items: len(doc.Items)}
	if doc.Batch == nil {
		s.Summary = fmt.Sprintf("%d suggestions in %d sets", len(doc.Items), len(doc.Sets))
		return s
	}
	s.Rows = len(doc.Batch.Rows)
	s.Summary = doc.Batch.Report.Summary()
	s.Report = doc.Batch.Report
	for _, e := range doc.Batch.Report.Skipped {
		s.Skipped = append(s.Skipped, rowFailure{Line: e.Line, Reason: e.Reason})
	}
	return s
}

func printReport(out io.Writer, doc *application.Document) {
	s := summarize(doc)
	fmt.Fprintf(out, "Batch %s (%s)\n", s.Key, s.Mode)
	fmt.Fprintln(out, s.Summary)
	for _, f := range s.Skipped {
		fmt.Fprintf(out, "  line %d: %s\n", f.Line, f.Reason)
	}
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
