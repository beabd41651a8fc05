package recovery

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/ahrav/go-arbiter/internal/domain"
	"github.com/ahrav/go-arbiter/internal/testutils"
)

// tierFixtures holds, per strategy, an input that the strategy repairs and
// that no earlier strategy can.
var tierFixtures = []struct {
	strategy string
	input    string
}{
	{StrategyDirect, `{"a":1}`},
	{StrategyTrim, "\u00a0{\"a\":1}\u00a0"},
	{StrategyUnquoteEmbedded, `"{\"a\":1}"`},
	{StrategyLineEscapes, `{\n"a":1}`},
	{StrategyQuoteEscapes, `{\"a\":1}`},
	{StrategyLineAndQuote, `{\"a\":\n1}`},
	{StrategyStripControl, "{\"a\":\"b\x01c\"}"},
	{StrategyTemplateLiterals, "{\"a\": `x + y`}"},
	{StrategyCollapseEscapes, `{\\"a\\":1}`},
	{StrategyHTMLEntities, `{&quot;a&quot;:1}`},
	{StrategyPercentEncoding, `%7B%22a%22%3A1%7D`},
	{StrategyAggressive, "{\"a\":\"line1\nline2\"}"},
}

func TestEngine_EveryTierIsReachable(t *testing.T) {
	engine := NewEngine()
	for _, fx := range tierFixtures {
		t.Run(fx.strategy, func(t *testing.T) {
			got := engine.Recover(context.Background(), fx.input, "fixture")
			require.False(t, got.IsFallback(), "fallback: %+v", got.Fallback)
			assert.Equal(t, fx.strategy, got.Strategy)

			m, ok := got.Value.(map[string]any)
			require.True(t, ok, "expected an object, got %T", got.Value)
			assert.Contains(t, m, "a")
		})
	}
}

func TestEngine_TiersAreMonotonic(t *testing.T) {
	strategies := Strategies()
	for _, fx := range tierFixtures {
		t.Run(fx.strategy, func(t *testing.T) {
			for _, s := range strategies {
				if s.Name == fx.strategy {
					return
				}
				_, err := decodeStructured(s.Transform(fx.input))
				assert.Error(t, err, "earlier tier %s already repairs the fixture", s.Name)
			}
			t.Fatalf("strategy %s not in cascade", fx.strategy)
		})
	}
}

func TestEngine_PartialExtraction(t *testing.T) {
	input := `{"overallSummary": "ok", "codeSuggestions": [{"relevantFile": "a.go", "label": "bug"}], "trailing": `
	got := NewEngine().Recover(context.Background(), input, "partial")

	require.False(t, got.IsFallback())
	assert.Equal(t, StrategyPartialExtraction, got.Strategy)
	m := got.Value.(map[string]any)
	assert.Equal(t, "ok", m["overallSummary"])
	items := m["codeSuggestions"].([]any)
	require.Len(t, items, 1)
	assert.Equal(t, "a.go", items[0].(map[string]any)["relevantFile"])
}

func TestEngine_Fallback(t *testing.T) {
	got := NewEngine().Recover(context.Background(), "not json at all", "Row 3 outputs")

	require.True(t, got.IsFallback())
	assert.Equal(t, StrategyFallback, got.Strategy)
	assert.Nil(t, got.Value)
	assert.Equal(t, "Row 3 outputs", got.Fallback.Context)
	assert.Equal(t, "not json at all", got.Fallback.OriginalData)
	assert.NotEmpty(t, got.Fallback.ErrorMessage)
}

func TestEngine_FallbackPreviewIsTruncated(t *testing.T) {
	long := make([]byte, 2000)
	for i := range long {
		long[i] = 'x'
	}
	got := NewEngine(WithPreviewLimit(10)).Recover(context.Background(), string(long), "long")

	require.True(t, got.IsFallback())
	assert.Equal(t, "xxxxxxxxxx...", got.Fallback.OriginalData)
}

func TestEngine_ScalarsAreNotStructure(t *testing.T) {
	engine := NewEngine()
	for _, input := range []string{"42", "true", "null", `"plain"`} {
		got := engine.Recover(context.Background(), input, "scalar")
		assert.True(t, got.IsFallback(), "input %q", input)
	}
}

func TestEngine_InputKinds(t *testing.T) {
	engine := NewEngine()
	ctx := context.Background()

	t.Run("nil", func(t *testing.T) {
		got := engine.Recover(ctx, nil, "nil")
		require.True(t, got.IsFallback())
		assert.Equal(t, errEmptyInput.Error(), got.Fallback.ErrorMessage)
	})

	t.Run("bytes", func(t *testing.T) {
		got := engine.Recover(ctx, []byte(`[1,2]`), "bytes")
		assert.Equal(t, StrategyDirect, got.Strategy)
		assert.Equal(t, []any{1.0, 2.0}, got.Value)
	})

	t.Run("raw message", func(t *testing.T) {
		got := engine.Recover(ctx, json.RawMessage(`{"k":"v"}`), "raw")
		assert.Equal(t, StrategyDirect, got.Strategy)
	})

	t.Run("structured passthrough", func(t *testing.T) {
		in := map[string]any{"k": "v"}
		got := engine.Recover(ctx, in, "map")
		assert.Equal(t, StrategyPassthrough, got.Strategy)
		assert.Equal(t, in, got.Value)
	})

	t.Run("struct passthrough", func(t *testing.T) {
		in := domain.SuggestionSet{OverallSummary: "s"}
		got := engine.Recover(ctx, in, "struct")
		assert.Equal(t, StrategyPassthrough, got.Strategy)
		assert.Equal(t, in, got.Value)
	})

	t.Run("number", func(t *testing.T) {
		got := engine.Recover(ctx, 7, "int")
		assert.True(t, got.IsFallback())
		assert.Equal(t, "7", got.Fallback.OriginalData)
	})
}

func TestEngine_Idempotent(t *testing.T) {
	engine := NewEngine()
	ctx := context.Background()
	inputs := []string{
		testutils.ValidSuggestionJSON,
		`{\"a\":1}`,
		testutils.EscapeLevels(testutils.ValidSuggestionJSON, 1),
	}
	for _, input := range inputs {
		first := engine.Recover(ctx, input, "first")
		require.False(t, first.IsFallback())

		second := engine.Recover(ctx, first.Value, "second")
		assert.Equal(t, StrategyPassthrough, second.Strategy)
		assert.Equal(t, first.Value, second.Value)
	}
}

func TestEngine_DoublyEncodedDocument(t *testing.T) {
	got := NewEngine().Recover(context.Background(), testutils.EscapeLevels(testutils.ValidSuggestionJSON, 1), "double")

	require.False(t, got.IsFallback())
	assert.Equal(t, StrategyUnquoteEmbedded, got.Strategy)
	m := got.Value.(map[string]any)
	assert.Len(t, m["codeSuggestions"], 2)
}

func TestEngine_FencedBlockWins(t *testing.T) {
	input := "Here you go:\n```json\n{\"overallSummary\":\"s\",\"codeSuggestions\":[]}\n```\nThanks"
	got := NewEngine().Recover(context.Background(), input, "fenced")

	require.False(t, got.IsFallback())
	assert.Equal(t, "fenced:"+StrategyDirect, got.Strategy)
	assert.Equal(t, "s", got.Value.(map[string]any)["overallSummary"])
}

func TestEngine_FencedBlockWithEscapedNewlines(t *testing.T) {
	input := "```json\\n{\"overallSummary\":\"s\",\"codeSuggestions\":[]}\\n```"
	got := NewEngine().Recover(context.Background(), input, "fenced")

	require.False(t, got.IsFallback())
	assert.Equal(t, "fenced:"+StrategyDirect, got.Strategy)
}

func TestEngine_ContentFieldWins(t *testing.T) {
	input := `{"content": "{\"overallSummary\":\"s\"}", broken`
	got := NewEngine().Recover(context.Background(), input, "content")

	require.False(t, got.IsFallback())
	assert.Equal(t, "content:"+StrategyDirect, got.Strategy)
	assert.Equal(t, "s", got.Value.(map[string]any)["overallSummary"])
}

func TestEngine_WrapperIsPreservedWhenDirectlyValid(t *testing.T) {
	input := `{"output": "{\"overallSummary\":\"x\",\"codeSuggestions\":[]}", "label": "Model A"}`
	got := NewEngine().Recover(context.Background(), input, "wrapper")

	require.False(t, got.IsFallback())
	assert.Equal(t, StrategyDirect, got.Strategy)
	m := got.Value.(map[string]any)
	assert.Equal(t, "Model A", m["label"])
}

func TestEngine_MalformedCorpusNeverPanics(t *testing.T) {
	engine := NewEngine()
	corpus := testutils.MalformedPayloads()
	require.GreaterOrEqual(t, len(corpus), 50)

	for i, payload := range corpus {
		var got domain.RecoveredValue
		require.NotPanics(t, func() {
			got = engine.Recover(context.Background(), payload, "corpus")
		}, "payload %d", i)
		if got.IsFallback() {
			assert.Equal(t, "corpus", got.Fallback.Context)
			assert.NotEmpty(t, got.Fallback.ErrorMessage)
		} else {
			assert.NotNil(t, got.Value, "payload %d", i)
		}
	}
}

func TestEngine_ConcurrentUse(t *testing.T) {
	engine := NewEngine()
	corpus := testutils.MalformedPayloads()

	var wg sync.WaitGroup
	for w := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := w; i < len(corpus); i += 8 {
				engine.Recover(context.Background(), corpus[i], "concurrent")
			}
		}()
	}
	wg.Wait()
}

type recordingMetrics struct {
	mu       sync.Mutex
	counters map[string][]map[string]string
	latency  []string
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{counters: make(map[string][]map[string]string)}
}

func (m *recordingMetrics) RecordLatency(op string, _ time.Duration, _ map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latency = append(m.latency, op)
}

func (m *recordingMetrics) RecordCounter(metric string, _ float64, labels map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[metric] = append(m.counters[metric], labels)
}

func (m *recordingMetrics) RecordGauge(string, float64, map[string]string)     {}
func (m *recordingMetrics) RecordHistogram(string, float64, map[string]string) {}

func TestEngine_RecordsWinningStrategy(t *testing.T) {
	metrics := newRecordingMetrics()
	engine := NewEngine(WithMetrics(metrics))

	engine.Recover(context.Background(), `{\"a\":1}`, "m")
	engine.Recover(context.Background(), "garbage", "m")

	require.Len(t, metrics.counters[MetricStrategyTotal], 2)
	assert.Equal(t, StrategyQuoteEscapes, metrics.counters[MetricStrategyTotal][0]["strategy"])
	assert.Equal(t, StrategyFallback, metrics.counters[MetricStrategyTotal][1]["strategy"])
	assert.Equal(t, []string{"recovery", "recovery"}, metrics.latency)
}

func TestEngine_Tracing(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	engine := NewEngine(WithTracer(tp.Tracer("test")))
	engine.Recover(context.Background(), `{"a":1}`, "traced")

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "Engine.Recover", spans[0].Name)
	assert.Contains(t, spans[0].Attributes, attribute.String("recovery.context", "traced"))
	assert.Contains(t, spans[0].Attributes, attribute.String("recovery.strategy", StrategyDirect))
	assert.Contains(t, spans[0].Attributes, attribute.Bool("recovery.fallback", false))
}

func TestFirstSuccess(t *testing.T) {
	strategies := []Strategy{
		{Name: "panics", Transform: func(string) string { panic("boom") }},
		{Name: "rejects", Transform: identity},
		{Name: "accepts", Transform: func(s string) string { return s + "!" }},
	}
	var failed []string
	got, name, err := FirstSuccess("x", strategies, func(s string) (string, error) {
		if s != "x!" {
			return "", errors.New("rejected")
		}
		return s, nil
	}, func(name string, _ error) { failed = append(failed, name) })

	require.NoError(t, err)
	assert.Equal(t, "x!", got)
	assert.Equal(t, "accepts", name)
	assert.Equal(t, []string{"panics", "rejects"}, failed)
}

func TestFirstSuccess_AllFail(t *testing.T) {
	_, name, err := FirstSuccess("x", nil, func(string) (int, error) { return 0, nil }, nil)
	require.Error(t, err)
	assert.Empty(t, name)
}

func FuzzRecover(f *testing.F) {
	for _, fx := range tierFixtures {
		f.Add(fx.input)
	}
	for _, p := range testutils.MalformedPayloads()[:20] {
		f.Add(p)
	}
	engine := NewEngine()
	f.Fuzz(func(t *testing.T, input string) {
		got := engine.Recover(context.Background(), input, "fuzz")
		if got.IsFallback() {
			if got.Value != nil {
				t.Fatalf("fallback carries a value: %v", got.Value)
			}
			return
		}
		switch got.Value.(type) {
		case map[string]any, []any:
		default:
			t.Fatalf("recovered a non-structured value %T via %s", got.Value, got.Strategy)
		}
	})
}
