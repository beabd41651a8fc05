// Package llm talks to the hosted models that back the assisted judge.
//
// Each provider (OpenAI, Anthropic, Google) implements CoreLLM. Cross-cutting
// behaviour such as rate limiting, retries, timeouts, tracing and metrics is
// layered on with Middleware, and Client adapts the resulting chain to
// ports.LLMClient.
//
//	client, err := llm.NewClient("anthropic", llm.ClientConfig{
//	    APIKey: os.Getenv("ANTHROPIC_API_KEY"),
//	    Model:  "claude-4-sonnet",
//	    Middleware: []llm.Middleware{
//	        llm.RateLimitMiddleware(2, 4),
//	        llm.RetryMiddleware(3, time.Second, 30*time.Second),
//	    },
//	})
//	verdict, err := client.Complete(ctx, prompt, map[string]any{"temperature": 0.0})
package llm

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ahrav/go-arbiter/internal/ports"
)

// CoreLLM is the minimal surface a provider implements. Middleware wraps a
// CoreLLM and returns another one.
type CoreLLM interface {
	// DoRequest sends prompt to the provider and returns the reply with the
	// input and output token counts.
	DoRequest(ctx context.Context, prompt string, opts map[string]any) (response string, tokensIn, tokensOut int, err error)

	GetModel() string
	SetModel(model string)
}

// TokenEstimator approximates token counts before a request is sent.
type TokenEstimator interface {
	EstimateTokens(text string) int
}

// ClientConfig holds everything needed to build a Client.
type ClientConfig struct {
	// APIKey authenticates requests to the provider.
	APIKey string

	// Model names the provider model to use.
	Model string

	// BaseURL overrides the provider endpoint. Tests point it at httptest servers.
	BaseURL string

	// Timeout bounds the underlying HTTP client. Zero keeps the SDK default.
	Timeout time.Duration

	// TokenEstimator defaults to SimpleTokenEstimator.
	TokenEstimator TokenEstimator

	// Middleware is applied so that the first entry is the outermost layer.
	Middleware []Middleware
}

// Middleware wraps a CoreLLM with extra behaviour.
type Middleware func(CoreLLM) CoreLLM

var _ ports.LLMClient = (*Client)(nil)

// Client implements ports.LLMClient on top of a middleware chain.
type Client struct {
	core      CoreLLM
	estimator TokenEstimator
}

// NewClient builds a client for providerType. Unknown providers and
// provider construction failures are returned as errors.
func NewClient(providerType string, config ClientConfig) (*Client, error) {
	if config.APIKey == "" {
		return nil, ErrEmptyAPIKey
	}
	if config.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	factory, ok := providerFactories[providerType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, providerType)
	}

	core, err := factory(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create provider: %w", err)
	}

	return newClientFromCore(core, config), nil
}

// NewClientFromCore wraps an existing CoreLLM, applying config's middleware
// and estimator. It is how tests and alternative backends reuse the chain.
func NewClientFromCore(core CoreLLM, config ClientConfig) *Client {
	return newClientFromCore(core, config)
}

func newClientFromCore(core CoreLLM, config ClientConfig) *Client {
	// Reverse order so the first middleware is the outermost.
	for i := len(config.Middleware) - 1; i >= 0; i-- {
		core = config.Middleware[i](core)
	}

	estimator := config.TokenEstimator
	if estimator == nil {
		estimator = SimpleTokenEstimator{}
	}

	return &Client{core: core, estimator: estimator}
}

// Complete sends prompt and returns the reply text.
func (c *Client) Complete(ctx context.Context, prompt string, options map[string]any) (string, error) {
	response, _, _, err := c.CompleteWithUsage(ctx, prompt, options)
	return response, err
}

// CompleteWithUsage is Complete plus token usage.
func (c *Client) CompleteWithUsage(ctx context.Context, prompt string, options map[string]any) (string, int, int, error) {
	response, in, out, err := c.core.DoRequest(ctx, prompt, options)
	if err != nil {
		return "", 0, 0, ports.NewLLMError(c.core.GetModel(), "complete", err)
	}
	return response, in, out, nil
}

// EstimateTokens returns an approximate token count for text.
func (c *Client) EstimateTokens(text string) (int, error) {
	return c.estimator.EstimateTokens(text), nil
}

// GetModel returns the model of the underlying provider.
func (c *Client) GetModel() string { return c.core.GetModel() }

// SimpleTokenEstimator assumes about four characters per token.
type SimpleTokenEstimator struct{}

// EstimateTokens rounds len(text)/4 up.
func (SimpleTokenEstimator) EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}

// ProviderFactory creates a CoreLLM from configuration.
type ProviderFactory func(ClientConfig) (CoreLLM, error)

var providerFactories = map[string]ProviderFactory{}

// RegisterProviderFactory makes a provider available to NewClient.
// It is meant to be called from init functions.
func RegisterProviderFactory(providerType string, factory ProviderFactory) {
	providerFactories[providerType] = factory
}

// Providers lists the registered provider types in sorted order.
func Providers() []string {
	out := make([]string, 0, len(providerFactories))
	for name := range providerFactories {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
