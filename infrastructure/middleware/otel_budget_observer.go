package middleware

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/go-arbiter/internal/ports"
)

// Usage fractions at which span events are raised.
const (
	budgetWarningThreshold  = 0.8
	budgetCriticalThreshold = 0.9
)

var _ BudgetObserver = (*OTelBudgetObserver)(nil)

// OTelBudgetObserver traces every budgeted request and reports usage
// through a metrics collector. It keeps no per-request state, so one
// observer serves concurrent requests.
type OTelBudgetObserver struct {
	metrics  ports.MetricsCollector
	provider string
	tracer   trace.Tracer
}

// NewOTelBudgetObserver creates an observer labelling metrics with provider.
// metrics may be nil.
func NewOTelBudgetObserver(metrics ports.MetricsCollector, provider string) *OTelBudgetObserver {
	return &OTelBudgetObserver{
		metrics:  metrics,
		provider: provider,
		tracer:   otel.Tracer("arbiter-budget"),
	}
}

// PreCheck starts a span for the request and flags usage nearing a limit.
func (o *OTelBudgetObserver) PreCheck(ctx context.Context, usage Usage, budget Budget) context.Context {
	ctx, span := o.tracer.Start(ctx, "BudgetManager.Request")
	setBudgetAttributes(span, usage, budget)
	checkBudgetThresholds(span, "tokens", usage.Tokens, budget.MaxTokens)
	checkBudgetThresholds(span, "calls", usage.Calls, budget.MaxCalls)
	return ctx
}

// PostCheck finalizes the span and records usage metrics.
func (o *OTelBudgetObserver) PostCheck(ctx context.Context, usage Usage, budget Budget, elapsed time.Duration, err error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()
	setBudgetAttributes(span, usage, budget)

	labels := map[string]string{"provider": o.provider, "budget_limit": budgetLimitLabel(budget)}
	var budgetErr *BudgetExceededError
	switch {
	case errors.As(err, &budgetErr):
		span.AddEvent("budget.exceeded", trace.WithAttributes(
			attribute.String("limit_type", budgetErr.LimitType),
			attribute.Int64("limit_value", budgetErr.Limit),
			attribute.Int64("used_value", budgetErr.Used),
		))
		span.SetStatus(codes.Error, "Budget limit exceeded")
		if o.metrics != nil {
			labels["limit_type"] = budgetErr.LimitType
			o.metrics.RecordCounter("budget_exceeded_total", 1, labels)
		}
		return
	case err != nil:
		span.SetStatus(codes.Error, err.Error())
	default:
		span.SetStatus(codes.Ok, "")
	}

	if o.metrics == nil {
		return
	}
	o.metrics.RecordLatency("budgeted_request", elapsed, labels)
	o.metrics.RecordGauge("budget_tokens_used", float64(usage.Tokens), labels)
	o.metrics.RecordGauge("budget_calls_used", float64(usage.Calls), labels)
	if budget.MaxTokens > 0 {
		o.metrics.RecordGauge("budget_remaining_tokens", float64(budget.MaxTokens-usage.Tokens), labels)
	}
	if budget.MaxCalls > 0 {
		o.metrics.RecordGauge("budget_remaining_calls", float64(budget.MaxCalls-usage.Calls), labels)
	}
}

func setBudgetAttributes(span trace.Span, usage Usage, budget Budget) {
	span.SetAttributes(
		attribute.Int64("budget.tokens_used", usage.Tokens),
		attribute.Int64("budget.calls_made", usage.Calls),
	)
	if budget.MaxTokens > 0 {
		span.SetAttributes(
			attribute.Int64("budget.max_tokens", budget.MaxTokens),
			attribute.Int64("budget.remaining_tokens", budget.MaxTokens-usage.Tokens),
		)
	}
	if budget.MaxCalls > 0 {
		span.SetAttributes(
			attribute.Int64("budget.max_calls", budget.MaxCalls),
			attribute.Int64("budget.remaining_calls", budget.MaxCalls-usage.Calls),
		)
	}
}

func checkBudgetThresholds(span trace.Span, resource string, used, limit int64) {
	if limit <= 0 {
		return
	}
	pct := float64(used) / float64(limit)
	var event string
	switch {
	case pct >= budgetCriticalThreshold:
		event = "budget.threshold.critical"
	case pct >= budgetWarningThreshold:
		event = "budget.threshold.warning"
	default:
		return
	}
	span.AddEvent(event, trace.WithAttributes(
		attribute.String("resource_type", resource),
		attribute.Float64("usage_percentage", pct*100),
	))
}

func budgetLimitLabel(budget Budget) string {
	switch {
	case budget.MaxTokens > 0 && budget.MaxCalls > 0:
		return "tokens_and_calls"
	case budget.MaxTokens > 0:
		return "tokens_only"
	case budget.MaxCalls > 0:
		return "calls_only"
	}
	return "unlimited"
}
