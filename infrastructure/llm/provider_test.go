package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-arbiter/internal/ports"
)

func newJSONServer(t *testing.T, status int, body any, inspect func(r *http.Request, req map[string]any)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		_ = json.NewDecoder(r.Body).Decode(&req)
		if inspect != nil {
			inspect(r, req)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOpenAIProvider_DoRequest(t *testing.T) {
	body := map[string]any{
		"id":     "chatcmpl-1",
		"object": "chat.completion",
		"model":  "gpt-4.1",
		"choices": []map[string]any{{
			"index":         0,
			"message":       map[string]any{"role": "assistant", "content": `{"winner":"main"}`},
			"finish_reason": "stop",
		}},
		"usage": map[string]any{"prompt_tokens": 12, "completion_tokens": 5, "total_tokens": 17},
	}
	srv := newJSONServer(t, http.StatusOK, body, func(r *http.Request, req map[string]any) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/chat/completions"))
		assert.Equal(t, "gpt-4.1", req["model"])
		msgs := req["messages"].([]any)
		require.Len(t, msgs, 2)
		assert.Equal(t, "system", msgs[0].(map[string]any)["role"])
		assert.Equal(t, map[string]any{"type": "json_object"}, req["response_format"])
	})

	p, err := newOpenAIProvider(ClientConfig{APIKey: "k", Model: "gpt-4.1", BaseURL: srv.URL})
	require.NoError(t, err)

	resp, in, out, err := p.DoRequest(context.Background(), "compare", map[string]any{"system": "judge", "json": true})
	require.NoError(t, err)
	assert.Equal(t, `{"winner":"main"}`, resp)
	assert.Equal(t, 12, in)
	assert.Equal(t, 5, out)
}

func TestOpenAIProvider_Errors(t *testing.T) {
	tests := []struct {
		status int
		want   ErrorType
	}{
		{http.StatusUnauthorized, ErrorTypeAuthentication},
		{http.StatusTooManyRequests, ErrorTypeRateLimit},
		{http.StatusBadRequest, ErrorTypeBadRequest},
		{http.StatusServiceUnavailable, ErrorTypeServerError},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			body := map[string]any{"error": map[string]any{"message": "nope", "type": "invalid_request_error"}}
			srv := newJSONServer(t, tt.status, body, nil)
			p, err := newOpenAIProvider(ClientConfig{APIKey: "k", BaseURL: srv.URL})
			require.NoError(t, err)

			_, _, _, err = p.DoRequest(context.Background(), "x", nil)
			var pe *ProviderError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, tt.want, pe.Type)
			assert.Equal(t, tt.status, pe.StatusCode)
		})
	}
}

func TestOpenAIProvider_NoChoices(t *testing.T) {
	srv := newJSONServer(t, http.StatusOK, map[string]any{"choices": []any{}}, nil)
	p, err := newOpenAIProvider(ClientConfig{APIKey: "k", BaseURL: srv.URL})
	require.NoError(t, err)
	_, _, _, err = p.DoRequest(context.Background(), "x", nil)
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestAnthropicProvider_DoRequest(t *testing.T) {
	body := map[string]any{
		"id":    "msg_1",
		"type":  "message",
		"role":  "assistant",
		"model": AnthropicDefaultModel,
		"content": []map[string]any{
			{"type": "text", "text": "first "},
			{"type": "text", "text": "second"},
		},
		"stop_reason": "end_turn",
		"usage":       map[string]any{"input_tokens": 7, "output_tokens": 0},
	}
	srv := newJSONServer(t, http.StatusOK, body, func(r *http.Request, req map[string]any) {
		assert.Equal(t, AnthropicDefaultModel, req["model"])
		assert.Equal(t, float64(DefaultMaxTokens), req["max_tokens"])
		assert.InDelta(t, 1.0, req["temperature"], 1e-9, "temperature is capped at 1")
		assert.NotNil(t, req["system"])
	})

	p, err := newAnthropicProvider(ClientConfig{APIKey: "k", BaseURL: srv.URL})
	require.NoError(t, err)

	resp, in, out, err := p.DoRequest(context.Background(), "hi", map[string]any{"temperature": 1.5, "system": "judge"})
	require.NoError(t, err)
	assert.Equal(t, "first second", resp)
	assert.Equal(t, 7, in)
	assert.Equal(t, 3, out, "missing usage falls back to the estimate")
}

func TestAnthropicProvider_RateLimit(t *testing.T) {
	body := map[string]any{"type": "error", "error": map[string]any{"type": "rate_limit_error", "message": "slow"}}
	srv := newJSONServer(t, http.StatusTooManyRequests, body, nil)
	p, err := newAnthropicProvider(ClientConfig{APIKey: "k", BaseURL: srv.URL})
	require.NoError(t, err)

	_, _, _, err = p.DoRequest(context.Background(), "x", nil)
	assert.ErrorIs(t, err, ports.ErrRateLimited)
}

func TestAnthropicProvider_ContextCancel(t *testing.T) {
	srv := newJSONServer(t, http.StatusOK, map[string]any{}, nil)
	p, err := newAnthropicProvider(ClientConfig{APIKey: "k", BaseURL: srv.URL})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, _, err = p.DoRequest(ctx, "x", nil)
	var pe *ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, ErrorTypeCanceled, pe.Type)
	assert.False(t, pe.IsRetryable())
}

func TestBuildGenerationConfig(t *testing.T) {
	temp, topP := 3.5, 0.4
	cfg := buildGenerationConfig(RequestOptions{
		MaxTokens:   100,
		Temperature: &temp,
		TopP:        &topP,
		System:      "judge",
		JSON:        true,
	})
	assert.Equal(t, int32(100), cfg.MaxOutputTokens)
	require.NotNil(t, cfg.Temperature)
	assert.InDelta(t, 2.0, *cfg.Temperature, 1e-6)
	assert.InDelta(t, 0.4, *cfg.TopP, 1e-6)
	assert.Equal(t, "application/json", cfg.ResponseMIMEType)
	require.NotNil(t, cfg.SystemInstruction)
	assert.Equal(t, "judge", cfg.SystemInstruction.Parts[0].Text)
}

func TestGoogleProvider_DoRequest(t *testing.T) {
	body := map[string]any{
		"candidates": []map[string]any{{
			"content": map[string]any{"role": "model", "parts": []map[string]any{{"text": "verdict"}}},
		}},
		"usageMetadata": map[string]any{"promptTokenCount": 4, "candidatesTokenCount": 2},
	}
	srv := newJSONServer(t, http.StatusOK, body, func(r *http.Request, _ map[string]any) {
		assert.Contains(t, r.URL.Path, GoogleDefaultModel+":generateContent")
	})

	p, err := newGoogleProvider(ClientConfig{APIKey: "k", BaseURL: srv.URL})
	require.NoError(t, err)

	resp, in, out, err := p.DoRequest(context.Background(), "compare", nil)
	require.NoError(t, err)
	assert.Equal(t, "verdict", resp)
	assert.Equal(t, 4, in)
	assert.Equal(t, 2, out)
}

func TestIsSafetyBlock(t *testing.T) {
	assert.True(t, isSafetyBlock("Request BLOCKED by policy"))
	assert.True(t, isSafetyBlock("safety settings"))
	assert.False(t, isSafetyBlock("quota exceeded"))
}
