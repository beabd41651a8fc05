// Package judge asks a language model which output of a comparison row is
// best. Verdicts are suggestions: nothing here records a decision, callers
// decide whether to apply them to a review session.
//
// The model sees outputs by slot id only ("reference", "main", "alt_0",
// ...), never by display label, so renamed or branded models cannot sway
// it. Replies go through the same recovery cascade as ingested cells,
// which tolerates fenced, escaped and truncated JSON.
package judge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"text/template"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ahrav/go-arbiter/internal/domain"
	"github.com/ahrav/go-arbiter/internal/ports"
	"github.com/ahrav/go-arbiter/internal/recovery"
)

// Defaults for Config fields left at zero.
const (
	DefaultConcurrency    = 4
	DefaultMaxTokens      = 512
	DefaultTemperature    = 0.0
	DefaultMaxOptionChars = 6000
)

// Metric names emitted by Judge.
const (
	MetricVerdicts = "judge_verdicts_total"
)

var (
	// ErrUnparseableVerdict indicates the reply held no recoverable JSON object.
	ErrUnparseableVerdict = fmt.Errorf("%w: judge reply is not a JSON object", ports.ErrInvalidResponse)
	// ErrInvalidVerdict indicates the reply decoded but broke a field rule.
	ErrInvalidVerdict = fmt.Errorf("%w: judge reply failed validation", ports.ErrInvalidResponse)
	// ErrNoOptions indicates a row with nothing to compare.
	ErrNoOptions = errors.New("row has fewer than two options")
)

// VerdictError ties a judging failure to its row.
type VerdictError struct {
	RowID string
	Err   error
}

func (e *VerdictError) Error() string { return fmt.Sprintf("judge row %s: %v", e.RowID, e.Err) }
func (e *VerdictError) Unwrap() error { return e.Err }

// Config tunes prompts and fan-out.
type Config struct {
	// Prompt overrides the built-in template. It is executed with a
	// PromptData value.
	Prompt string `validate:"omitempty,min=20"`
	// Temperature is passed to the provider.
	Temperature float64 `validate:"min=0,max=2"`
	// MaxTokens bounds the reply.
	MaxTokens int `validate:"omitempty,min=50,max=4000"`
	// Concurrency bounds in-flight requests in EvaluateAll.
	Concurrency int `validate:"omitempty,min=1,max=64"`
	// MaxOptionChars truncates each option's rendered text.
	MaxOptionChars int `validate:"omitempty,min=100"`
	// PositionSwap judges every row twice, the second time with the
	// options listed in reverse, and only trusts a winner both runs agree on.
	PositionSwap bool
}

// Verdict is the model's pick for one row.
type Verdict struct {
	RowID      string `json:"rowId"`
	Winner     string `json:"winner" validate:"required,verdictwinner"`
	Confidence int    `json:"confidence" validate:"min=1,max=5"`
	Reasoning  string `json:"reasoning" validate:"max=4000"`
	// Model is the provider model that produced the verdict.
	Model string `json:"model"`
	// Strategy names the recovery tier that decoded the reply.
	Strategy string `json:"strategy"`
	// Swap reports the position swap outcome, SwapAgree or SwapDisagree.
	// Empty when the row was judged once.
	Swap string `json:"swap,omitempty"`
}

// Result pairs a row with its verdict or failure.
type Result struct {
	RowID   string
	Verdict *Verdict
	Err     error
}

// Option configures a Judge.
type Option func(*Judge)

// WithLogger sets the logger. Defaults to zap.NewNop.
func WithLogger(l *zap.Logger) Option {
	return func(j *Judge) {
		if l != nil {
			j.logger = l
		}
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m ports.MetricsCollector) Option {
	return func(j *Judge) { j.metrics = m }
}

// WithEngine replaces the default recovery engine used to decode replies.
func WithEngine(e *recovery.Engine) Option {
	return func(j *Judge) {
		if e != nil {
			j.engine = e
		}
	}
}

// Judge builds prompts, calls the model and validates verdicts.
// It is stateless and safe for concurrent use.
type Judge struct {
	client   ports.LLMClient
	cfg      Config
	tmpl     *template.Template
	validate *validator.Validate
	engine   *recovery.Engine
	logger   *zap.Logger
	metrics  ports.MetricsCollector
}

// New validates cfg, compiles the prompt template and returns a Judge.
func New(client ports.LLMClient, cfg Config, opts ...Option) (*Judge, error) {
	if client == nil {
		return nil, errors.New("judge: LLM client is required")
	}

	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.RegisterValidation("verdictwinner", validateWinner); err != nil {
		return nil, fmt.Errorf("judge: register validator: %w", err)
	}
	if err := v.Struct(cfg); err != nil {
		return nil, fmt.Errorf("judge: invalid config: %w", err)
	}
	cfg = withDefaults(cfg)

	source := cfg.Prompt
	if source == "" {
		source = DefaultPrompt
	}
	tmpl, err := template.New("judge").Funcs(TemplateFuncMap()).Parse(source)
	if err != nil {
		return nil, fmt.Errorf("judge: parse prompt: %w", err)
	}

	j := &Judge{
		client:   client,
		cfg:      cfg,
		tmpl:     tmpl,
		validate: v,
		engine:   recovery.NewEngine(),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(j)
	}
	return j, nil
}

func withDefaults(cfg Config) Config {
	if cfg.Concurrency == 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.MaxOptionChars == 0 {
		cfg.MaxOptionChars = DefaultMaxOptionChars
	}
	return cfg
}

func validateWinner(fl validator.FieldLevel) bool {
	id := fl.Field().String()
	return id == domain.WinnerTie || domain.IsSlotID(id)
}

// Prompt renders the prompt for row with options in slot order.
func (j *Judge) Prompt(row domain.ComparisonRow) (string, error) {
	return j.prompt(row, false)
}

func (j *Judge) prompt(row domain.ComparisonRow, reversed bool) (string, error) {
	data, err := newPromptData(row, j.cfg.MaxOptionChars, reversed)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := j.tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("execute prompt: %w", err)
	}
	return buf.String(), nil
}

// Evaluate asks the model to judge one row.
func (j *Judge) Evaluate(ctx context.Context, row domain.ComparisonRow) (Verdict, error) {
	start := time.Now()
	v, err := j.evaluate(ctx, row)

	outcome := "ok"
	switch {
	case errors.Is(err, ErrUnparseableVerdict):
		outcome = "unparseable"
	case errors.Is(err, ErrInvalidVerdict):
		outcome = "invalid"
	case err != nil:
		outcome = "error"
	}
	if j.metrics != nil {
		labels := map[string]string{"model": j.client.GetModel(), "outcome": outcome}
		j.metrics.RecordCounter(MetricVerdicts, 1, labels)
		j.metrics.RecordLatency("judge", time.Since(start), labels)
	}
	if err != nil {
		j.logger.Warn("judge failed", zap.String("row", row.ID), zap.String("outcome", outcome), zap.Error(err))
		return Verdict{}, &VerdictError{RowID: row.ID, Err: err}
	}
	j.logger.Debug("judge verdict",
		zap.String("row", row.ID),
		zap.String("winner", v.Winner),
		zap.Int("confidence", v.Confidence),
		zap.String("strategy", v.Strategy),
	)
	return v, nil
}

func (j *Judge) evaluate(ctx context.Context, row domain.ComparisonRow) (Verdict, error) {
	if j.cfg.PositionSwap {
		return j.evaluateSwapped(ctx, row)
	}
	return j.ask(ctx, row, false)
}

// ask sends one prompt for row and validates the reply against it.
func (j *Judge) ask(ctx context.Context, row domain.ComparisonRow, reversed bool) (Verdict, error) {
	prompt, err := j.prompt(row, reversed)
	if err != nil {
		return Verdict{}, err
	}

	reply, err := j.client.Complete(ctx, prompt, map[string]any{
		"system":      SystemPrompt,
		"temperature": j.cfg.Temperature,
		"max_tokens":  j.cfg.MaxTokens,
		"json":        true,
	})
	if err != nil {
		return Verdict{}, err
	}

	v, err := j.ParseReply(ctx, reply)
	if err != nil {
		return Verdict{}, err
	}
	if _, ok := row.Option(v.Winner); !ok && v.Winner != domain.WinnerTie {
		return Verdict{}, fmt.Errorf("%w: winner %q is not an option of this row", ErrInvalidVerdict, v.Winner)
	}
	v.RowID = row.ID
	v.Model = j.client.GetModel()
	return v, nil
}

// ParseReply decodes a model reply into a Verdict without checking it
// against a particular row.
func (j *Judge) ParseReply(ctx context.Context, reply string) (Verdict, error) {
	rec := j.engine.Recover(ctx, reply, "judge reply")
	if rec.IsFallback() {
		return Verdict{}, fmt.Errorf("%w: %s", ErrUnparseableVerdict, rec.Fallback.ErrorMessage)
	}
	obj, ok := rec.Value.(map[string]any)
	if !ok {
		return Verdict{}, fmt.Errorf("%w: got %T", ErrUnparseableVerdict, rec.Value)
	}
	// Some gateways wrap the model text in {"content": "..."}.
	if inner, ok := obj["content"].(string); ok && obj["winner"] == nil {
		if rec = j.engine.Recover(ctx, inner, "judge reply content"); !rec.IsFallback() {
			if m, ok := rec.Value.(map[string]any); ok {
				obj = m
			}
		}
	}

	v := Verdict{
		Winner:    normalizeWinner(stringField(obj, "winner", "winnerId", "choice")),
		Reasoning: strings.TrimSpace(stringField(obj, "reasoning", "explanation", "rationale")),
		Strategy:  rec.Strategy,
	}
	conf, ok := intField(obj, "confidence")
	if !ok {
		return Verdict{}, fmt.Errorf("%w: confidence is missing or not a number", ErrInvalidVerdict)
	}
	v.Confidence = conf

	if err := j.validate.Struct(v); err != nil {
		return Verdict{}, fmt.Errorf("%w: %v", ErrInvalidVerdict, err)
	}
	return v, nil
}

// EvaluateAll judges rows concurrently, at most Config.Concurrency at a
// time. Results keep the order of rows. Per-row failures are reported in
// Result.Err; the returned error is set only when ctx ends first.
func (j *Judge) EvaluateAll(ctx context.Context, rows []domain.ComparisonRow) ([]Result, error) {
	results := make([]Result, len(rows))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(j.cfg.Concurrency)
	for i, row := range rows {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				results[i] = Result{RowID: row.ID, Err: err}
				return err
			}
			v, err := j.Evaluate(gctx, row)
			results[i] = Result{RowID: row.ID, Err: err}
			if err == nil {
				results[i].Verdict = &v
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, ctx.Err()
}

func stringField(obj map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := obj[k].(string); ok {
			return s
		}
	}
	return ""
}

// intField accepts JSON numbers and numeric strings, rounding fractions.
func intField(obj map[string]any, key string) (int, bool) {
	switch v := obj[key].(type) {
	case float64:
		return int(math.Round(v)), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, false
		}
		return int(math.Round(f)), true
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, false
		}
		return int(math.Round(f)), true
	}
	return 0, false
}

// normalizeWinner folds the spellings models use for slot ids.
func normalizeWinner(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.Trim(s, `"'`+"`")
	switch s {
	case "primary", "output", "outputs":
		return domain.SlotMain
	case "reference_outputs", "ref":
		return domain.SlotReference
	case "draw", "equal", "none":
		return domain.WinnerTie
	}
	if rest, ok := strings.CutPrefix(s, "alt-"); ok {
		return "alt_" + rest
	}
	return s
}
