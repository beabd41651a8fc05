package judge

import (
	"context"
	"fmt"
	"math"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/go-arbiter/internal/domain"
)

// Position swap outcomes reported in Verdict.Swap.
const (
	SwapAgree    = "agree"
	SwapDisagree = "disagree"
)

// MetricPositionSwaps counts swapped evaluations by outcome.
const MetricPositionSwaps = "judge_position_swaps_total"

// evaluateSwapped asks about row in slot order and again in reverse order.
// Models favour whichever option they read first or last; a winner that
// survives the swap is kept, a split becomes a minimum-confidence tie.
func (j *Judge) evaluateSwapped(ctx context.Context, row domain.ComparisonRow) (Verdict, error) {
	ctx, span := otel.Tracer("arbiter-judge").Start(ctx, "Judge.PositionSwap",
		trace.WithAttributes(attribute.String("row.id", row.ID)))
	defer span.End()

	first, err := j.ask(ctx, row, false)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return Verdict{}, fmt.Errorf("first pass: %w", err)
	}
	second, err := j.ask(ctx, row, true)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return Verdict{}, fmt.Errorf("reversed pass: %w", err)
	}

	v := combineSwapped(first, second)
	span.AddEvent("position_swap.combined", trace.WithAttributes(
		attribute.String("first", first.Winner),
		attribute.String("reversed", second.Winner),
		attribute.String("outcome", v.Swap),
	))
	if j.metrics != nil {
		j.metrics.RecordCounter(MetricPositionSwaps, 1, map[string]string{"model": v.Model, "outcome": v.Swap})
	}
	return v, nil
}

// combineSwapped merges the verdicts of the two passes. Agreeing passes
// keep the winner with the rounded mean confidence and the first pass's
// reasoning.
func combineSwapped(first, second Verdict) Verdict {
	v := first
	if first.Winner == second.Winner {
		v.Swap = SwapAgree
		v.Confidence = int(math.Round(float64(first.Confidence+second.Confidence) / 2))
		return v
	}
	v.Swap = SwapDisagree
	v.Winner = domain.WinnerTie
	v.Confidence = domain.MinConfidence
	v.Reasoning = fmt.Sprintf("Position swap disagreement: %s when read in slot order, %s when reversed.",
		first.Winner, second.Winner)
	return v
}
