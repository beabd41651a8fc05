package llm

import (
	"context"
	"errors"
	"time"

	"github.com/ahrav/go-arbiter/internal/ports"
)

// Metric names emitted by MetricsMiddleware.
const (
	MetricLLMRequests = "llm_requests_total"
	MetricLLMTokens   = "llm_tokens_total"
)

type metricsLLM struct {
	next      CoreLLM
	provider  string
	collector ports.MetricsCollector
}

// MetricsMiddleware records latency, request outcome and token usage for
// every call. A nil collector disables recording.
func MetricsMiddleware(provider string, collector ports.MetricsCollector) Middleware {
	return func(next CoreLLM) CoreLLM {
		return &metricsLLM{next: next, provider: provider, collector: collector}
	}
}

func (m *metricsLLM) DoRequest(ctx context.Context, prompt string, opts map[string]any) (string, int, int, error) {
	start := time.Now()
	response, in, out, err := m.next.DoRequest(ctx, prompt, opts)
	if m.collector == nil {
		return response, in, out, err
	}

	labels := map[string]string{
		"provider": m.provider,
		"model":    m.next.GetModel(),
		"status":   requestStatus(err),
	}
	m.collector.RecordLatency("llm_request", time.Since(start), labels)
	m.collector.RecordCounter(MetricLLMRequests, 1, labels)
	if err == nil {
		m.collector.RecordCounter(MetricLLMTokens, float64(in), withLabel(labels, "token_type", "input"))
		m.collector.RecordCounter(MetricLLMTokens, float64(out), withLabel(labels, "token_type", "output"))
	}
	return response, in, out, err
}

func requestStatus(err error) string {
	var pe *ProviderError
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.As(err, &pe):
		return pe.Type.String()
	default:
		return "error"
	}
}

func withLabel(labels map[string]string, key, value string) map[string]string {
	out := make(map[string]string, len(labels)+1)
	for k, v := range labels {
		out[k] = v
	}
	out[key] = value
	return out
}

func (m *metricsLLM) GetModel() string  { return m.next.GetModel() }
func (m *metricsLLM) SetModel(s string) { m.next.SetModel(s) }
