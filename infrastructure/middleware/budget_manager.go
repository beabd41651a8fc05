package middleware

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ahrav/go-arbiter/infrastructure/llm"
	"github.com/ahrav/go-arbiter/internal/ports"
)

// ErrBudgetExceeded is wrapped by every BudgetExceededError.
var ErrBudgetExceeded = errors.New("budget exceeded")

// Budget defines resource consumption limits for one judge run.
// It specifies maximum allowed tokens and API calls to prevent runaway costs.
type Budget struct {
	// MaxTokens limits the total number of tokens that can be consumed.
	// Zero means unlimited token usage.
	MaxTokens int64

	// MaxCalls limits the total number of requests that can be made.
	// Zero means unlimited requests.
	MaxCalls int64
}

// Usage is the consumption recorded so far.
type Usage struct {
	Tokens int64
	Calls  int64
}

// BudgetExceededError reports which limit stopped a request.
type BudgetExceededError struct {
	LimitType string
	Limit     int64
	Used      int64
}

func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("%s budget exceeded: used %d of %d", e.LimitType, e.Used, e.Limit)
}

// Unwrap also reports ports.ErrTokenLimitExceeded for a spent token budget.
func (e *BudgetExceededError) Unwrap() []error {
	if e.LimitType == "tokens" {
		return []error{ErrBudgetExceeded, ports.ErrTokenLimitExceeded}
	}
	return []error{ErrBudgetExceeded}
}

// BudgetObserver provides observability hooks for budget operations.
// Implementations can add tracing, metrics, and logging without
// coupling observability concerns to core budget logic.
type BudgetObserver interface {
	// PreCheck is called before a request is admitted. The returned context
	// is passed to the request and to PostCheck.
	PreCheck(ctx context.Context, usage Usage, budget Budget) context.Context

	// PostCheck is called after the request with the updated usage.
	PostCheck(ctx context.Context, usage Usage, budget Budget, elapsed time.Duration, err error)
}

// BudgetManager enforces token and call limits across every request that
// passes through its middleware. One manager is shared by all rows of a
// judge run, so concurrent rows draw on the same budget.
type BudgetManager struct {
	budget   Budget
	observer BudgetObserver

	mu    sync.Mutex
	usage Usage
}

// NewBudgetManager creates a manager for budget. observer may be nil.
func NewBudgetManager(budget Budget, observer BudgetObserver) *BudgetManager {
	return &BudgetManager{budget: budget, observer: observer}
}

// Validate checks that the limits are not negative.
func (bm *BudgetManager) Validate() error {
	if bm.budget.MaxTokens < 0 {
		return fmt.Errorf("budget manager: max_tokens cannot be negative, got %d", bm.budget.MaxTokens)
	}
	if bm.budget.MaxCalls < 0 {
		return fmt.Errorf("budget manager: max_calls cannot be negative, got %d", bm.budget.MaxCalls)
	}
	return nil
}

// Usage returns the consumption recorded so far.
func (bm *BudgetManager) Usage() Usage {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	return bm.usage
}

// Middleware returns an llm.Middleware that admits requests while the
// budget lasts. Place it outside RetryMiddleware so a refused request is
// not retried.
func (bm *BudgetManager) Middleware() llm.Middleware {
	return func(next llm.CoreLLM) llm.CoreLLM {
		return &budgetedLLM{next: next, bm: bm}
	}
}

// admit reserves one call, or reports the limit that is already spent.
func (bm *BudgetManager) admit() (Usage, error) {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	if bm.budget.MaxTokens > 0 && bm.usage.Tokens >= bm.budget.MaxTokens {
		return bm.usage, &BudgetExceededError{LimitType: "tokens", Limit: bm.budget.MaxTokens, Used: bm.usage.Tokens}
	}
	if bm.budget.MaxCalls > 0 && bm.usage.Calls >= bm.budget.MaxCalls {
		return bm.usage, &BudgetExceededError{LimitType: "calls", Limit: bm.budget.MaxCalls, Used: bm.usage.Calls}
	}
	bm.usage.Calls++
	return bm.usage, nil
}

func (bm *BudgetManager) spend(tokens int) Usage {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	bm.usage.Tokens += int64(tokens)
	return bm.usage
}

type budgetedLLM struct {
	next llm.CoreLLM
	bm   *BudgetManager
}

func (b *budgetedLLM) DoRequest(ctx context.Context, prompt string, opts map[string]any) (string, int, int, error) {
	usage, err := b.bm.admit()
	if b.bm.observer != nil {
		ctx = b.bm.observer.PreCheck(ctx, usage, b.bm.budget)
	}
	if err != nil {
		if b.bm.observer != nil {
			b.bm.observer.PostCheck(ctx, usage, b.bm.budget, 0, err)
		}
		return "", 0, 0, err
	}

	start := time.Now()
	response, in, out, err := b.next.DoRequest(ctx, prompt, opts)
	usage = b.bm.spend(in + out)
	if b.bm.observer != nil {
		b.bm.observer.PostCheck(ctx, usage, b.bm.budget, time.Since(start), err)
	}
	return response, in, out, err
}

func (b *budgetedLLM) GetModel() string  { return b.next.GetModel() }
func (b *budgetedLLM) SetModel(m string) { b.next.SetModel(m) }
