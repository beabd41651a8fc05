package middleware

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/ahrav/go-arbiter/infrastructure/llm"
	"github.com/ahrav/go-arbiter/internal/ports"
	"github.com/ahrav/go-arbiter/internal/testutils"
)

// mockBudgetObserver implements BudgetObserver for testing.
type mockBudgetObserver struct {
	mu             sync.Mutex
	preCheckCalls  []Usage
	postCheckCalls []postCheckCall
}

type postCheckCall struct {
	usage Usage
	err   error
}

func (m *mockBudgetObserver) PreCheck(ctx context.Context, usage Usage, _ Budget) context.Context {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.preCheckCalls = append(m.preCheckCalls, usage)
	return ctx
}

func (m *mockBudgetObserver) PostCheck(_ context.Context, usage Usage, _ Budget, _ time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.postCheckCalls = append(m.postCheckCalls, postCheckCall{usage: usage, err: err})
}

func budgetedClient(bm *BudgetManager, core llm.CoreLLM) *llm.Client {
	return llm.NewClientFromCore(core, llm.ClientConfig{Middleware: []llm.Middleware{bm.Middleware()}})
}

func TestBudgetManager_Limits(t *testing.T) {
	tests := []struct {
		name      string
		budget    Budget
		calls     int
		wantOK    int
		limitType string
	}{
		{name: "unlimited", budget: Budget{}, calls: 5, wantOK: 5},
		{name: "call limit", budget: Budget{MaxCalls: 2}, calls: 4, wantOK: 2, limitType: "calls"},
		// Each mock call spends 30 tokens; the third starts at 60 >= 50.
		{name: "token limit", budget: Budget{MaxTokens: 50}, calls: 4, wantOK: 2, limitType: "tokens"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bm := NewBudgetManager(tt.budget, nil)
			require.NoError(t, bm.Validate())
			mock := llm.NewMockCoreLLM()
			client := budgetedClient(bm, mock)

			var ok int
			var lastErr error
			for range tt.calls {
				if _, err := client.Complete(context.Background(), "prompt", nil); err != nil {
					lastErr = err
					continue
				}
				ok++
			}

			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantOK, mock.CallCount, "refused requests never reach the provider")
			if tt.limitType == "" {
				require.NoError(t, lastErr)
				return
			}
			require.ErrorIs(t, lastErr, ErrBudgetExceeded)
			var budgetErr *BudgetExceededError
			require.ErrorAs(t, lastErr, &budgetErr)
			assert.Equal(t, tt.limitType, budgetErr.LimitType)
			assert.Equal(t, tt.limitType == "tokens", errors.Is(lastErr, ports.ErrTokenLimitExceeded))
		})
	}
}

func TestBudgetManager_Usage(t *testing.T) {
	bm := NewBudgetManager(Budget{MaxCalls: 10}, nil)
	mock := llm.NewMockCoreLLM()
	mock.TokensIn, mock.TokensOut = 7, 3
	client := budgetedClient(bm, mock)

	for range 3 {
		_, err := client.Complete(context.Background(), "prompt", nil)
		require.NoError(t, err)
	}
	assert.Equal(t, Usage{Tokens: 30, Calls: 3}, bm.Usage())
}

func TestBudgetManager_FailedCallsStillCount(t *testing.T) {
	bm := NewBudgetManager(Budget{MaxCalls: 1}, nil)
	mock := llm.NewMockCoreLLM()
	mock.Error = errors.New("provider down")
	client := budgetedClient(bm, mock)

	_, err := client.Complete(context.Background(), "prompt", nil)
	require.ErrorContains(t, err, "provider down")
	_, err = client.Complete(context.Background(), "prompt", nil)
	require.ErrorIs(t, err, ErrBudgetExceeded)
}

func TestBudgetManager_SharedAcrossConcurrentRequests(t *testing.T) {
	bm := NewBudgetManager(Budget{MaxCalls: 5}, nil)
	client := budgetedClient(bm, llm.NewMockCoreLLM())

	var wg sync.WaitGroup
	var mu sync.Mutex
	var ok int
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := client.Complete(context.Background(), "prompt", nil); err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 5, ok)
	assert.Equal(t, int64(5), bm.Usage().Calls)
}

func TestBudgetManager_Validate(t *testing.T) {
	assert.Error(t, NewBudgetManager(Budget{MaxTokens: -1}, nil).Validate())
	assert.Error(t, NewBudgetManager(Budget{MaxCalls: -1}, nil).Validate())
	assert.NoError(t, NewBudgetManager(Budget{MaxTokens: 1, MaxCalls: 1}, nil).Validate())
}

func TestBudgetManager_Observer(t *testing.T) {
	obs := &mockBudgetObserver{}
	bm := NewBudgetManager(Budget{MaxCalls: 1}, obs)
	client := budgetedClient(bm, llm.NewMockCoreLLM())

	_, err := client.Complete(context.Background(), "prompt", nil)
	require.NoError(t, err)
	_, err = client.Complete(context.Background(), "prompt", nil)
	require.Error(t, err)

	obs.mu.Lock()
	defer obs.mu.Unlock()
	assert.Equal(t, []Usage{{Calls: 1}, {Tokens: 30, Calls: 1}}, obs.preCheckCalls)
	require.Len(t, obs.postCheckCalls, 2)
	assert.NoError(t, obs.postCheckCalls[0].err)
	assert.Equal(t, Usage{Tokens: 30, Calls: 1}, obs.postCheckCalls[0].usage)
	assert.ErrorIs(t, obs.postCheckCalls[1].err, ErrBudgetExceeded)
}

func TestOTelBudgetObserver(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	metrics := testutils.NewRecordingMetrics()

	obs := NewOTelBudgetObserver(metrics, "openai")
	obs.tracer = tp.Tracer("test")
	bm := NewBudgetManager(Budget{MaxCalls: 2, MaxTokens: 1000}, obs)
	client := budgetedClient(bm, llm.NewMockCoreLLM())

	for range 3 {
		_, _ = client.Complete(context.Background(), "prompt", nil)
	}

	spans := sr.Ended()
	require.Len(t, spans, 3)
	assert.Equal(t, "BudgetManager.Request", spans[0].Name())

	// The first request reserves 1 of 2 calls, the second all of them.
	assert.Empty(t, eventNames(spans[0]))
	assert.Contains(t, eventNames(spans[1]), "budget.threshold.critical")
	assert.Contains(t, eventNames(spans[2]), "budget.exceeded")

	assert.Equal(t, 1.0, metrics.Counter("budget_exceeded_total"))
	assert.Equal(t, 2, metrics.Latencies("budgeted_request"))
}

func eventNames(span sdktrace.ReadOnlySpan) []string {
	var names []string
	for _, e := range span.Events() {
		names = append(names, e.Name)
	}
	return names
}

func TestBudgetLimitLabel(t *testing.T) {
	assert.Equal(t, "unlimited", budgetLimitLabel(Budget{}))
	assert.Equal(t, "tokens_only", budgetLimitLabel(Budget{MaxTokens: 1}))
	assert.Equal(t, "calls_only", budgetLimitLabel(Budget{MaxCalls: 1}))
	assert.Equal(t, "tokens_and_calls", budgetLimitLabel(Budget{MaxTokens: 1, MaxCalls: 1}))
}
