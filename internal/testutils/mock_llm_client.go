package testutils

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/ahrav/go-arbiter/internal/ports"
)

// DefaultVerdict is the reply MockLLMClient gives when no pattern matches.
const DefaultVerdict = `{"winner": "main", "confidence": 3, "reasoning": "The main output covers the change adequately."}`

var _ ports.LLMClient = (*MockLLMClient)(nil)

// MockLLMClient implements ports.LLMClient with deterministic replies chosen
// by prompt substring, so judge tests can script a verdict per row.
type MockLLMClient struct {
	model string

	mu        sync.Mutex
	responses []MockResponse
	prompts   []string
}

// MockResponse is a scripted reply.
type MockResponse struct {
	// Pattern is matched case-insensitively against the prompt. The first
	// added pattern that matches wins.
	Pattern string
	// Response is returned as the completion text.
	Response string
	// Err, when set, is returned instead of Response.
	Err error
}

// NewMockLLMClient returns a client that answers every prompt with
// DefaultVerdict until responses are added.
func NewMockLLMClient(model string) *MockLLMClient {
	return &MockLLMClient{model: model}
}

// AddResponse registers a reply for prompts containing r.Pattern.
func (m *MockLLMClient) AddResponse(r MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, r)
}

// Complete returns the first matching reply.
func (m *MockLLMClient) Complete(ctx context.Context, prompt string, _ map[string]any) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if prompt == "" {
		return "", errors.New("prompt cannot be empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.prompts = append(m.prompts, prompt)

	lower := strings.ToLower(prompt)
	for _, r := range m.responses {
		if strings.Contains(lower, strings.ToLower(r.Pattern)) {
			return r.Response, r.Err
		}
	}
	return DefaultVerdict, nil
}

// EstimateTokens approximates four characters per token.
func (m *MockLLMClient) EstimateTokens(text string) (int, error) {
	if text == "" {
		return 0, nil
	}
	return max(len(text)/4, 1), nil
}

// GetModel returns the model name given to NewMockLLMClient.
func (m *MockLLMClient) GetModel() string { return m.model }

// Prompts returns every prompt received, in call order.
func (m *MockLLMClient) Prompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.prompts...)
}
