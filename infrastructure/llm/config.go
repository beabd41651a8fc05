package llm

import (
	"fmt"
	"net/url"
	"strings"
	"sync"
)

// Request defaults and limits shared by every provider.
const (
	DefaultMaxTokens = 1024
	MaxTemperature   = 2.0
)

// ExtractOptionalInt returns opts[key] as an int when present and valid,
// defaultVal otherwise. Float values are truncated, since JSON decoding
// produces float64 for every number.
func ExtractOptionalInt(opts map[string]any, key string, defaultVal int, validator func(int) bool) int {
	raw, ok := opts[key]
	if !ok {
		return defaultVal
	}
	var v int
	switch n := raw.(type) {
	case int:
		v = n
	case int32:
		v = int(n)
	case int64:
		v = int(n)
	case float64:
		v = int(n)
	default:
		return defaultVal
	}
	if validator != nil && !validator(v) {
		return defaultVal
	}
	return v
}

// ExtractOptionalString returns opts[key] as a string when present and valid.
func ExtractOptionalString(opts map[string]any, key string, defaultVal string, validator func(string) bool) string {
	v, ok := opts[key].(string)
	if !ok {
		return defaultVal
	}
	if validator != nil && !validator(v) {
		return defaultVal
	}
	return v
}

// ExtractOptionalFloat64 returns opts[key] as a float64 when present and valid.
func ExtractOptionalFloat64(opts map[string]any, key string, defaultVal float64, validator func(float64) bool) float64 {
	var v float64
	switch n := opts[key].(type) {
	case float64:
		v = n
	case float32:
		v = float64(n)
	case int:
		v = float64(n)
	default:
		return defaultVal
	}
	if validator != nil && !validator(v) {
		return defaultVal
	}
	return v
}

// IsPositiveInt reports whether val > 0.
func IsPositiveInt(val int) bool { return val > 0 }

// IsNonEmptyString reports whether val is non-empty.
func IsNonEmptyString(val string) bool { return val != "" }

// IsValidTemperature accepts 0 through MaxTemperature.
func IsValidTemperature(val float64) bool { return val >= 0 && val <= MaxTemperature }

// IsValidTopP accepts 0 through 1.
func IsValidTopP(val float64) bool { return val >= 0 && val <= 1 }

func clamp(val, lo, hi float64) float64 { return min(max(val, lo), hi) }

// ValidateBaseURL checks that raw is an absolute http(s) URL and strips
// any trailing slash.
func ValidateBaseURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidBaseURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidBaseURL, raw)
	}
	return strings.TrimRight(raw, "/"), nil
}

// RequestOptions is the provider-neutral view of a request's options map.
type RequestOptions struct {
	MaxTokens int
	Model     string
	// Temperature and TopP are nil when the provider default applies.
	Temperature *float64
	TopP        *float64
	System      string
	// JSON asks providers that support it for a JSON object reply.
	JSON bool
}

// ParseRequestOptions reads the recognised keys of opts, falling back to
// defaults for anything missing or out of range.
func ParseRequestOptions(opts map[string]any, defaultModel string) RequestOptions {
	options := RequestOptions{
		MaxTokens: ExtractOptionalInt(opts, "max_tokens", DefaultMaxTokens, IsPositiveInt),
		Model:     ExtractOptionalString(opts, "model", defaultModel, IsNonEmptyString),
		System:    ExtractOptionalString(opts, "system", "", nil),
	}
	if temp := ExtractOptionalFloat64(opts, "temperature", -1, IsValidTemperature); temp != -1 {
		options.Temperature = &temp
	}
	if topP := ExtractOptionalFloat64(opts, "top_p", -1, IsValidTopP); topP != -1 {
		options.TopP = &topP
	}
	options.JSON, _ = opts["json"].(bool)
	return options
}

// baseProvider holds the model name behind a lock so SetModel is safe
// while requests are in flight.
type baseProvider struct {
	mu    sync.RWMutex
	model string
}

func (b *baseProvider) GetModel() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.model
}

func (b *baseProvider) SetModel(model string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.model = model
}

// tokenCount prefers the count reported by the provider.
func tokenCount(reported int, text string) int {
	if reported > 0 {
		return reported
	}
	return SimpleTokenEstimator{}.EstimateTokens(text)
}
