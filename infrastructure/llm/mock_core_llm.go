package llm

import (
	"context"
	"errors"
	"sync"
	"time"
)

// MockCoreLLM is a scripted CoreLLM for middleware and judge tests.
type MockCoreLLM struct {
	mu sync.Mutex

	Response      string
	TokensIn      int
	TokensOut     int
	Error         error
	Model         string
	ResponseDelay time.Duration

	// FailUntilAttempt makes the first N calls fail with Error, or with a
	// generic error when Error is nil, before Response is returned.
	FailUntilAttempt int

	// Respond, when set, computes the reply from the prompt.
	Respond func(prompt string) (string, error)

	CallCount      int
	LastPrompt     string
	LastOpts       map[string]any
	CallTimestamps []time.Time
}

// NewMockCoreLLM returns a mock that answers "test response".
func NewMockCoreLLM() *MockCoreLLM {
	return &MockCoreLLM{
		Response:  "test response",
		TokensIn:  10,
		TokensOut: 20,
		Model:     "test-model",
	}
}

var errSimulated = errors.New("simulated failure")

func (m *MockCoreLLM) DoRequest(ctx context.Context, prompt string, opts map[string]any) (string, int, int, error) {
	m.mu.Lock()
	m.CallCount++
	call := m.CallCount
	m.LastPrompt = prompt
	m.LastOpts = opts
	m.CallTimestamps = append(m.CallTimestamps, time.Now())
	delay, respond := m.ResponseDelay, m.Respond
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", 0, 0, ctx.Err()
		}
	}

	m.mu.Lock()
	in, out := m.TokensIn, m.TokensOut
	switch {
	case m.FailUntilAttempt > 0 && call <= m.FailUntilAttempt:
		err := m.Error
		m.mu.Unlock()
		if err == nil {
			err = errSimulated
		}
		return "", 0, 0, err
	case m.FailUntilAttempt == 0 && m.Error != nil:
		err := m.Error
		m.mu.Unlock()
		return "", 0, 0, err
	}
	response := m.Response
	m.mu.Unlock()

	if respond != nil {
		reply, err := respond(prompt)
		return reply, in, out, err
	}
	return response, in, out, nil
}

func (m *MockCoreLLM) GetModel() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Model
}

func (m *MockCoreLLM) SetModel(model string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Model = model
}

// Calls returns the number of DoRequest calls so far.
func (m *MockCoreLLM) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.CallCount
}

// Prompt returns the most recent prompt.
func (m *MockCoreLLM) Prompt() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.LastPrompt
}
