package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/ahrav/go-arbiter/infrastructure/judge"
	"github.com/ahrav/go-arbiter/infrastructure/llm"
	"github.com/ahrav/go-arbiter/infrastructure/middleware"
	"github.com/ahrav/go-arbiter/internal/application"
	"github.com/ahrav/go-arbiter/internal/domain"
	"github.com/ahrav/go-arbiter/internal/ports"
)

// Retry backoff bounds for judge requests.
const (
	judgeRetryBase = time.Second
	judgeRetryMax  = 30 * time.Second
)

type judgeFlags struct {
	apply   bool
	pending bool
	asJSON  bool
	model   string
	swap    bool
}

func newJudgeCmd(a *app) *cobra.Command {
	var f judgeFlags
	cmd := &cobra.Command{
		Use:   "judge <file>",
		Short: "Ask a language model to pick a winner for each row",
		Long: `judge sends every row of a comparison batch to the configured
provider and prints the verdicts. The model sees options by slot only,
never by label. Verdicts are suggestions until --apply records them in
the review session.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			if f.model != "" {
				a.cfg.Judge.Model = f.model
			}
			if f.swap {
				a.cfg.Judge.PositionSwap = true
			}
			return a.runJudge(ctx, cmd.OutOrStdout(), args[0], f)
		},
	}
	cmd.Flags().BoolVar(&f.apply, "apply", false, "record verdicts as decisions")
	cmd.Flags().BoolVar(&f.pending, "pending", false, "only judge rows without a decision")
	cmd.Flags().BoolVar(&f.asJSON, "json", false, "print verdicts as JSON")
	cmd.Flags().StringVar(&f.model, "model", "", "provider model (overrides judge.model)")
	cmd.Flags().BoolVar(&f.swap, "position-swap", false, "judge each row twice with the options reversed")
	return cmd
}

func (a *app) runJudge(ctx context.Context, out io.Writer, path string, f judgeFlags) error {
	sess, err := a.openSession(ctx, path)
	if err != nil {
		return err
	}
	doc := sess.Document()
	if doc.Batch == nil {
		return fmt.Errorf("%w: judge needs a comparison batch, got %s mode", domain.ErrInvalidInput, doc.Mode)
	}

	rows := doc.Batch.Rows
	if f.pending {
		rows = pendingRows(sess, rows)
	}
	if len(rows) == 0 {
		fmt.Fprintln(out, "Nothing to judge.")
		return nil
	}

	var collector ports.MetricsCollector
	if a.cfg.Metrics.Enabled {
		collector = a.metrics
	}
	client, model, err := a.newLLM(a.cfg.Judge, collector)
	if err != nil {
		return err
	}
	j, err := judge.New(client, judge.Config{
		Temperature:  a.cfg.Judge.Temperature,
		Concurrency:  a.cfg.Judge.Concurrency,
		PositionSwap: a.cfg.Judge.PositionSwap,
	}, judge.WithLogger(a.logger.Named("judge")), judge.WithMetrics(collector))
	if err != nil {
		return err
	}

	a.logger.Info("judging rows", zap.Int("rows", len(rows)), zap.String("model", model))
	results, err := j.EvaluateAll(ctx, rows)
	if err != nil {
		return err
	}

	var failed int
	for i := range results {
		r := &results[i]
		if r.Err != nil {
			failed++
			continue
		}
		if f.apply {
			if err := applyVerdict(ctx, sess, *r.Verdict); err != nil {
				r.Err = err
				failed++
			}
		}
	}

	if f.asJSON {
		if err := printJSON(out, verdictReport(results)); err != nil {
			return err
		}
	} else {
		printVerdicts(out, sess, results)
	}
	if failed == len(results) {
		return fmt.Errorf("judge failed on all %d rows", failed)
	}
	return nil
}

func pendingRows(sess *application.Session, rows []domain.ComparisonRow) []domain.ComparisonRow {
	var out []domain.ComparisonRow
	for _, row := range rows {
		if _, decided := sess.Result(row.ID); !decided {
			out = append(out, row)
		}
	}
	return out
}

// applyVerdict records v through the same session operations a reviewer uses.
func applyVerdict(ctx context.Context, sess *application.Session, v judge.Verdict) error {
	if _, err := sess.PickWinner(ctx, v.RowID, v.Winner); err != nil {
		return err
	}
	if _, err := sess.SetConfidence(ctx, v.RowID, v.Confidence); err != nil {
		return err
	}
	if v.Reasoning == "" {
		return nil
	}
	_, err := sess.SetReasoning(ctx, v.RowID, fmt.Sprintf("[%s] %s", v.Model, v.Reasoning))
	return err
}

type verdictLine struct {
	RowID   string         `json:"rowId"`
	Verdict *judge.Verdict `json:"verdict,omitempty"`
	Error   string         `json:"error,omitempty"`
}

func verdictReport(results []judge.Result) []verdictLine {
	out := make([]verdictLine, len(results))
	for i, r := range results {
		out[i] = verdictLine{RowID: r.RowID, Verdict: r.Verdict}
		if r.Err != nil {
			out[i].Error = r.Err.Error()
		}
	}
	return out
}

func printVerdicts(out io.Writer, sess *application.Session, results []judge.Result) {
	rows := make(map[string]domain.ComparisonRow, len(results))
	for _, row := range sess.Document().Batch.Rows {
		rows[row.ID] = row
	}
	for _, r := range results {
		if r.Err != nil {
			var verr *judge.VerdictError
			reason := r.Err
			if errors.As(r.Err, &verr) {
				reason = verr.Err
			}
			fmt.Fprintf(out, "%-12s error: %v\n", r.RowID, reason)
			continue
		}
		v := r.Verdict
		winner := v.Winner
		if row, ok := rows[r.RowID]; ok && v.Winner != domain.WinnerTie {
			winner = fmt.Sprintf("%s (%s)", sess.Label(row, v.Winner), v.Winner)
		}
		fmt.Fprintf(out, "%-12s %s confidence %d/5\n", r.RowID, winner, v.Confidence)
		if v.Reasoning != "" {
			fmt.Fprintf(out, "%-12s %s\n", "", domain.Truncate(v.Reasoning, 200))
		}
	}
}

// newJudgeClient builds a provider client from the registry with the
// budget, rate limit, retry, timeout, tracing and metrics layers the config
// asks for. It returns the client with the model it resolved to.
func newJudgeClient(cfg application.JudgeConfig, metrics ports.MetricsCollector) (ports.LLMClient, string, error) {
	budget := middleware.NewBudgetManager(
		middleware.Budget{MaxTokens: cfg.MaxTokens, MaxCalls: cfg.MaxCalls},
		middleware.NewOTelBudgetObserver(metrics, cfg.Provider),
	)
	if err := budget.Validate(); err != nil {
		return nil, "", err
	}

	layers := []llm.Middleware{
		llm.TracingMiddleware(cfg.Provider, otel.GetTracerProvider()),
		llm.MetricsMiddleware(cfg.Provider, metrics),
		llm.RetryMiddleware(cfg.MaxRetries, judgeRetryBase, judgeRetryMax),
		llm.TimeoutMiddleware(cfg.Timeout),
	}
	if cfg.RateLimit > 0 {
		layers = append([]llm.Middleware{llm.RateLimitMiddleware(rate.Limit(cfg.RateLimit), cfg.Burst)}, layers...)
	}
	// Outside retry, so a refused request is not retried.
	layers = append([]llm.Middleware{budget.Middleware()}, layers...)

	registry, err := llm.NewRegistry(llm.RegistryConfig{
		Providers:         llm.DefaultProviders,
		DefaultProvider:   cfg.Provider,
		DefaultTimeout:    cfg.Timeout,
		DefaultMiddleware: layers,
	})
	if err != nil {
		return nil, "", err
	}
	spec := cfg.Provider
	if cfg.Model != "" {
		spec += "/" + cfg.Model
	}
	client, err := registry.GetClient(spec)
	if err != nil {
		return nil, "", err
	}
	return client, client.GetModel(), nil
}
