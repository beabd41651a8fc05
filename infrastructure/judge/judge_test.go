package judge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ahrav/go-arbiter/infrastructure/llm"
	"github.com/ahrav/go-arbiter/internal/domain"
	"github.com/ahrav/go-arbiter/internal/testutils"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func lineNo(n int) *domain.LineNumber {
	l := domain.LineNumber(n)
	return &l
}

func output(label string, items ...domain.SuggestionItem) domain.ComparisonOutput {
	return domain.ComparisonOutput{
		Label:  label,
		Parsed: &domain.SuggestionSet{OverallSummary: "Reviewed the change.", CodeSuggestions: items},
	}
}

func testRow(id string) domain.ComparisonRow {
	ref := output("Human", domain.SuggestionItem{
		RelevantFile:       "main.go",
		OneSentenceSummary: "Close the response body",
		Label:              "bug",
		RelevantLinesStart: lineNo(12),
		RelevantLinesEnd:   lineNo(14),
		ImprovedCode:       "defer resp.Body.Close()\nreturn nil",
	})
	return domain.ComparisonRow{
		ID:                 id,
		Inputs:             map[string]any{"diff": "+resp, _ := http.Get(url)"},
		ReferenceOutputs:   &ref,
		Outputs:            output("ModelA"),
		AlternativeOutputs: []domain.ComparisonOutput{{Output: "garbage {", Fallback: domain.NewFallback("alt", "garbage {", "bad")}},
	}
}

func newTestJudge(t *testing.T, mock *llm.MockCoreLLM, cfg Config, opts ...Option) *Judge {
	t.Helper()
	j, err := New(llm.NewClientFromCore(mock, llm.ClientConfig{}), cfg, opts...)
	require.NoError(t, err)
	return j
}

func TestNew_Validation(t *testing.T) {
	client := llm.NewClientFromCore(llm.NewMockCoreLLM(), llm.ClientConfig{})

	_, err := New(nil, Config{})
	assert.Error(t, err)

	_, err = New(client, Config{Temperature: 3})
	assert.Error(t, err)

	_, err = New(client, Config{Concurrency: 100})
	assert.Error(t, err)

	_, err = New(client, Config{Prompt: "{{.Input} broken template text"})
	assert.Error(t, err)
}

func TestJudge_Prompt(t *testing.T) {
	j := newTestJudge(t, llm.NewMockCoreLLM(), Config{})
	prompt, err := j.Prompt(testRow("r1"))
	require.NoError(t, err)

	for _, want := range []string{
		`"diff": "+resp, _ := http.Get(url)"`,
		`Option "reference"`,
		`Option "main"`,
		`Option "alt_0"`,
		"1. [error] main.go:12-14",
		"Close the response body",
		"      defer resp.Body.Close()\n      return nil",
		"(No suggestions.)",
		"(The output could not be parsed. Raw text follows.)",
		"reference, main, alt_0, tie",
	} {
		assert.Contains(t, prompt, want)
	}
	assert.NotContains(t, prompt, "Human", "display labels stay hidden from the model")
	assert.NotContains(t, prompt, "ModelA")
}

func TestJudge_PromptNeedsTwoOptions(t *testing.T) {
	j := newTestJudge(t, llm.NewMockCoreLLM(), Config{})
	_, err := j.Prompt(domain.ComparisonRow{ID: "solo", Outputs: output("A")})
	assert.ErrorIs(t, err, ErrNoOptions)
}

func TestJudge_Evaluate(t *testing.T) {
	mock := llm.NewMockCoreLLM()
	mock.Response = "Here you go:\n```json\n{\"winner\": \"Reference\", \"confidence\": \"4\", \"reasoning\": \" catches the leak \"}\n```"
	metrics := testutils.NewRecordingMetrics()
	j := newTestJudge(t, mock, Config{Temperature: 0.2}, WithMetrics(metrics))

	v, err := j.Evaluate(context.Background(), testRow("r1"))
	require.NoError(t, err)
	assert.Equal(t, "r1", v.RowID)
	assert.Equal(t, domain.SlotReference, v.Winner)
	assert.Equal(t, 4, v.Confidence)
	assert.Equal(t, "catches the leak", v.Reasoning)
	assert.Equal(t, "test-model", v.Model)
	assert.True(t, strings.HasPrefix(v.Strategy, "fenced:"))

	assert.Equal(t, SystemPrompt, mock.LastOpts["system"])
	assert.Equal(t, true, mock.LastOpts["json"])
	assert.InDelta(t, 0.2, mock.LastOpts["temperature"], 1e-9)
	assert.InDelta(t, 1, metrics.Counter(MetricVerdicts), 1e-9)
}

func TestJudge_ParseReply(t *testing.T) {
	j := newTestJudge(t, llm.NewMockCoreLLM(), Config{})

	tests := []struct {
		name    string
		reply   string
		winner  string
		conf    int
		wantErr error
	}{
		{"plain", `{"winner":"main","confidence":5,"reasoning":"x"}`, "main", 5, nil},
		{"tie synonym", `{"winner":"draw","confidence":2.6}`, "tie", 3, nil},
		{"alt dash", `{"winner":"ALT-1","confidence":1}`, "alt_1", 1, nil},
		{"escaped", `{\"winner\":\"main\",\"confidence\":3}`, "main", 3, nil},
		{"content wrapper", `{"content":"{\"winner\":\"alt_0\",\"confidence\":4}"}`, "alt_0", 4, nil},
		{"prose", "I think main is better.", "", 0, ErrUnparseableVerdict},
		{"array", `[1,2]`, "", 0, ErrUnparseableVerdict},
		{"confidence out of range", `{"winner":"main","confidence":9}`, "", 0, ErrInvalidVerdict},
		{"missing confidence", `{"winner":"main"}`, "", 0, ErrInvalidVerdict},
		{"unknown winner", `{"winner":"model b","confidence":3}`, "", 0, ErrInvalidVerdict},
		{"undefined is not a verdict", `{"winner":"undefined","confidence":3}`, "", 0, ErrInvalidVerdict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := j.ParseReply(context.Background(), tt.reply)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.winner, v.Winner)
			assert.Equal(t, tt.conf, v.Confidence)
		})
	}
}

func TestJudge_EvaluateRejectsAbsentSlot(t *testing.T) {
	mock := llm.NewMockCoreLLM()
	mock.Response = `{"winner":"alt_3","confidence":3}`
	j := newTestJudge(t, mock, Config{})

	_, err := j.Evaluate(context.Background(), testRow("r1"))
	var ve *VerdictError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "r1", ve.RowID)
	assert.ErrorIs(t, err, ErrInvalidVerdict)
}

func TestJudge_EvaluateLLMError(t *testing.T) {
	mock := llm.NewMockCoreLLM()
	mock.Error = errors.New("provider down")
	j := newTestJudge(t, mock, Config{})

	_, err := j.Evaluate(context.Background(), testRow("r1"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "provider down")
}

func TestJudge_EvaluateAll(t *testing.T) {
	var inFlight, peak atomic.Int32
	mock := llm.NewMockCoreLLM()
	mock.Respond = func(prompt string) (string, error) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		return `{"winner":"main","confidence":3,"reasoning":"ok"}`, nil
	}
	j := newTestJudge(t, mock, Config{Concurrency: 2})

	rows := make([]domain.ComparisonRow, 6)
	for i := range rows {
		rows[i] = testRow(fmt.Sprintf("r%d", i))
	}
	rows[3] = domain.ComparisonRow{ID: "r3", Outputs: output("only")}

	results, err := j.EvaluateAll(context.Background(), rows)
	require.NoError(t, err)
	require.Len(t, results, 6)
	for i, r := range results {
		assert.Equal(t, rows[i].ID, r.RowID, "results keep row order")
		if i == 3 {
			assert.ErrorIs(t, r.Err, ErrNoOptions)
			assert.Nil(t, r.Verdict)
			continue
		}
		require.NoError(t, r.Err)
		assert.Equal(t, "main", r.Verdict.Winner)
	}
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestJudge_EvaluateAllCancelled(t *testing.T) {
	j := newTestJudge(t, llm.NewMockCoreLLM(), Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results, err := j.EvaluateAll(ctx, []domain.ComparisonRow{testRow("a"), testRow("b")})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, results, 2)
}

func TestJudge_EvaluateAllScriptedPerRow(t *testing.T) {
	client := testutils.NewMockLLMClient("mock-judge")
	client.AddResponse(testutils.MockResponse{Pattern: "cache.go", Response: `{"winner":"alt_0","confidence":5}`})
	client.AddResponse(testutils.MockResponse{Pattern: "token.go", Response: `{"winner":"tie","confidence":2,"reasoning":"same advice"}`})
	j, err := New(client, Config{})
	require.NoError(t, err)

	rows := []domain.ComparisonRow{testRow("a"), testRow("b"), testRow("c")}
	rows[0].Inputs = "diff of internal/store/cache.go"
	rows[1].Inputs = "diff of pkg/auth/token.go"
	rows[0].AlternativeOutputs = []domain.ComparisonOutput{output("ModelB")}

	results, err := j.EvaluateAll(context.Background(), rows)
	require.NoError(t, err)

	winners := make([]string, len(results))
	for i, r := range results {
		require.NoError(t, r.Err)
		winners[i] = r.Verdict.Winner
		assert.Equal(t, "mock-judge", r.Verdict.Model)
	}
	assert.Equal(t, []string{"alt_0", domain.WinnerTie, domain.SlotMain}, winners)
	assert.Len(t, client.Prompts(), 3)
	for _, p := range client.Prompts() {
		assert.NotContains(t, p, "ModelA", "labels never reach the model")
	}
}

// firstListedSlot returns the slot of the first option in a rendered prompt.
func firstListedSlot(prompt string) string {
	_, rest, _ := strings.Cut(prompt, `### Option "`)
	slot, _, _ := strings.Cut(rest, `"`)
	return slot
}

func TestJudge_PositionSwap(t *testing.T) {
	tests := []struct {
		name       string
		respond    func(prompt string) string
		winner     string
		confidence int
		swap       string
	}{
		{
			name: "consistent model keeps its winner",
			respond: func(prompt string) string {
				if firstListedSlot(prompt) == domain.SlotReference {
					return `{"winner":"main","confidence":4,"reasoning":"main is precise"}`
				}
				return `{"winner":"main","confidence":5,"reasoning":"second pass"}`
			},
			winner:     domain.SlotMain,
			confidence: 5,
			swap:       SwapAgree,
		},
		{
			name: "position biased model becomes a tie",
			respond: func(prompt string) string {
				return fmt.Sprintf(`{"winner":%q,"confidence":5}`, firstListedSlot(prompt))
			},
			winner:     domain.WinnerTie,
			confidence: domain.MinConfidence,
			swap:       SwapDisagree,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := llm.NewMockCoreLLM()
			mock.Respond = func(prompt string) (string, error) { return tt.respond(prompt), nil }
			metrics := testutils.NewRecordingMetrics()
			j := newTestJudge(t, mock, Config{PositionSwap: true}, WithMetrics(metrics))

			v, err := j.Evaluate(context.Background(), testRow("r1"))
			require.NoError(t, err)
			assert.Equal(t, 2, mock.CallCount)
			assert.Equal(t, tt.winner, v.Winner)
			assert.Equal(t, tt.confidence, v.Confidence)
			assert.Equal(t, tt.swap, v.Swap)
			assert.Equal(t, 1.0, metrics.Counter(MetricPositionSwaps))
		})
	}
}

func TestJudge_PositionSwapReversesOptionOrder(t *testing.T) {
	j := newTestJudge(t, llm.NewMockCoreLLM(), Config{})
	forward, err := j.prompt(testRow("r1"), false)
	require.NoError(t, err)
	reversed, err := j.prompt(testRow("r1"), true)
	require.NoError(t, err)

	assert.Equal(t, domain.SlotReference, firstListedSlot(forward))
	assert.Equal(t, "alt_0", firstListedSlot(reversed))
}

func TestJudge_PositionSwapFailurePropagates(t *testing.T) {
	mock := llm.NewMockCoreLLM()
	mock.Response = `{"winner":"main","confidence":3}`
	mock.Respond = func(prompt string) (string, error) {
		if firstListedSlot(prompt) != domain.SlotReference {
			return "", errors.New("provider down")
		}
		return `{"winner":"main","confidence":3}`, nil
	}
	j := newTestJudge(t, mock, Config{PositionSwap: true})

	_, err := j.Evaluate(context.Background(), testRow("r1"))
	require.ErrorContains(t, err, "reversed pass")
	var verr *VerdictError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "r1", verr.RowID)
}

func TestTemplateFuncMap(t *testing.T) {
	fm := TemplateFuncMap()
	indent := fm["indent"].(func(int, string) string)
	assert.Equal(t, "  a\n  b", indent(2, "a\nb"))
	assert.Equal(t, "a", indent(0, "a"))

	assert.Equal(t, "", lineRange(nil, nil))
	assert.Equal(t, "7", lineRange(lineNo(7), nil))
	assert.Equal(t, "7", lineRange(nil, lineNo(7)))
	assert.Equal(t, "7", lineRange(lineNo(7), lineNo(7)))
	assert.Equal(t, "7-9", lineRange(lineNo(7), lineNo(9)))

	severity := fm["severity"].(func(string) string)
	assert.Equal(t, "critical", severity("Security"))
}
