package recovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/ahrav/go-arbiter/internal/domain"
	"github.com/ahrav/go-arbiter/internal/ports"
)

// MetricStrategyTotal counts which tier recovered each field.
const MetricStrategyTotal = "recovery_strategy_total"

var (
	// errNotStructured indicates a tier decoded to a JSON scalar. Only
	// objects and arrays count as recovered structure.
	errNotStructured = errors.New("decoded value is not an object or array")

	// errEmptyInput indicates there was nothing to decode.
	errEmptyInput = errors.New("empty input")
)

// Engine runs the ordered repair cascade. It is safe for concurrent use;
// it holds no mutable state after construction.
type Engine struct {
	strategies   []Strategy
	previewLimit int
	logger       *zap.Logger
	metrics      ports.MetricsCollector
	tracer       trace.Tracer
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger used for per-attempt debug output.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithMetrics records the winning tier of every recovery.
func WithMetrics(m ports.MetricsCollector) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithTracer overrides the OpenTelemetry tracer.
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) {
		if t != nil {
			e.tracer = t
		}
	}
}

// WithStrategies replaces the transform tiers. Partial extraction and the
// fallback always run after them.
func WithStrategies(s []Strategy) Option {
	return func(e *Engine) { e.strategies = append([]Strategy(nil), s...) }
}

// WithPreviewLimit bounds the original text kept in a Fallback.
func WithPreviewLimit(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.previewLimit = n
		}
	}
}

// NewEngine creates an Engine with the default cascade.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		strategies:   Strategies(),
		previewLimit: domain.FallbackPreviewLimit,
		logger:       zap.NewNop(),
		tracer:       otel.Tracer("arbiter-recovery"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Recover decodes raw into a structured value. Already-structured input
// (maps, slices, structs) is returned unchanged. Strings run the cascade:
// text that already decodes directly wins immediately; otherwise a fenced
// ```json block is tried first, then a "content" wrapper field, then every
// tier against the whole text, then partial extraction. When all of that
// fails the result is a Fallback; Recover itself never panics or errors.
func (e *Engine) Recover(ctx context.Context, raw any, label string) domain.RecoveredValue {
	_, span := e.tracer.Start(ctx, "Engine.Recover",
		trace.WithAttributes(attribute.String("recovery.context", label)),
	)
	defer span.End()

	start := time.Now()
	result := e.recover(raw, label)

	span.SetAttributes(
		attribute.String("recovery.strategy", result.Strategy),
		attribute.Bool("recovery.fallback", result.IsFallback()),
	)
	if e.metrics != nil {
		labels := map[string]string{"strategy": result.Strategy}
		e.metrics.RecordCounter(MetricStrategyTotal, 1, labels)
		e.metrics.RecordLatency("recovery", time.Since(start), labels)
	}
	if result.IsFallback() {
		e.logger.Debug("recovery exhausted every strategy",
			zap.String("context", label),
			zap.String("error", result.Fallback.ErrorMessage),
		)
	}
	return result
}

func (e *Engine) recover(raw any, label string) domain.RecoveredValue {
	var text string
	switch v := raw.(type) {
	case nil:
		return domain.Failed(e.fallback(label, "", errEmptyInput))
	case string:
		text = v
	case []byte:
		text = string(v)
	case json.RawMessage:
		text = string(v)
	default:
		if isStructured(v) {
			return domain.Parsed(v, StrategyPassthrough)
		}
		text = fmt.Sprint(v)
	}

	if v, err := decodeStructured(text); err == nil {
		return domain.Parsed(v, StrategyDirect)
	}

	if fenced, ok := FencedJSON(text); ok {
		if v, name, err := e.cascade(fenced, label); err == nil {
			return domain.Parsed(v, "fenced:"+name)
		}
	}
	if inner, ok := ContentField(text); ok {
		if v, name, err := e.cascade(inner, label); err == nil {
			return domain.Parsed(v, "content:"+name)
		}
	}

	v, name, err := e.cascade(text, label)
	if err == nil {
		return domain.Parsed(v, name)
	}
	return domain.Failed(e.fallback(label, text, err))
}

// cascade runs every transform tier, then partial extraction.
func (e *Engine) cascade(text, label string) (any, string, error) {
	if len(text) == 0 {
		return nil, "", errEmptyInput
	}

	v, name, err := FirstSuccess(text, e.strategies, decodeStructured, func(name string, err error) {
		e.logger.Debug("recovery strategy failed",
			zap.String("context", label),
			zap.String("strategy", name),
			zap.Error(err),
		)
	})
	if err == nil {
		return v, name, nil
	}

	if set, ok := PartialExtract(text); ok {
		e.logger.Debug("partial extraction recovered fields", zap.String("context", label))
		return set, StrategyPartialExtraction, nil
	}
	return nil, "", err
}

func (e *Engine) fallback(label, text string, err error) *domain.Fallback {
	return &domain.Fallback{
		Context:      label,
		OriginalData: domain.Truncate(text, e.previewLimit),
		ErrorMessage: err.Error(),
	}
}

// FirstSuccess applies each strategy's transform to input and returns the
// first result that attempt accepts, together with the strategy name.
// A transform or attempt that panics counts as a failed attempt. onFail,
// when non-nil, observes every rejected attempt. The returned error is the
// last rejection.
func FirstSuccess[T any](
	input string,
	strategies []Strategy,
	attempt func(string) (T, error),
	onFail func(name string, err error),
) (T, string, error) {
	var zero T
	lastErr := errors.New("no strategies")
	for _, s := range strategies {
		v, err := try(s, input, attempt)
		if err == nil {
			return v, s.Name, nil
		}
		lastErr = err
		if onFail != nil {
			onFail(s.Name, err)
		}
	}
	return zero, "", lastErr
}

func try[T any](s Strategy, input string, attempt func(string) (T, error)) (v T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("strategy %s panicked: %v", s.Name, r)
		}
	}()
	return attempt(s.Transform(input))
}

// decodeStructured unmarshals text and accepts only objects and arrays.
func decodeStructured(text string) (any, error) {
	var v any
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		return nil, err
	}
	switch v.(type) {
	case map[string]any, []any:
		return v, nil
	default:
		return nil, errNotStructured
	}
}

func isStructured(v any) bool {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map, reflect.Slice, reflect.Array, reflect.Struct:
		return true
	case reflect.Pointer:
		return !rv.IsNil()
	default:
		return false
	}
}
