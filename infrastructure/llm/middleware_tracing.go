package llm

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type tracedLLM struct {
	next     CoreLLM
	provider string
	tracer   trace.Tracer
}

// TracingMiddleware records an "llm.request" span per call. A nil
// provider uses the global tracer provider.
func TracingMiddleware(provider string, tp trace.TracerProvider) Middleware {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	tracer := tp.Tracer("github.com/ahrav/go-arbiter/infrastructure/llm")
	return func(next CoreLLM) CoreLLM {
		return &tracedLLM{next: next, provider: provider, tracer: tracer}
	}
}

func (t *tracedLLM) DoRequest(ctx context.Context, prompt string, opts map[string]any) (string, int, int, error) {
	ctx, span := t.tracer.Start(ctx, "llm.request",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("llm.provider", t.provider),
			attribute.String("llm.model", t.next.GetModel()),
			attribute.Int("llm.prompt.length", len(prompt)),
		),
	)
	defer span.End()

	response, in, out, err := t.next.DoRequest(ctx, prompt, opts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return response, in, out, err
	}
	span.SetAttributes(
		attribute.Int("llm.tokens.input", in),
		attribute.Int("llm.tokens.output", out),
	)
	return response, in, out, nil
}

func (t *tracedLLM) GetModel() string  { return t.next.GetModel() }
func (t *tracedLLM) SetModel(m string) { t.next.SetModel(m) }
