package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/ahrav/go-arbiter/internal/ports"
)

var (
	// ErrEmptyAPIKey indicates a provider was configured without a key.
	ErrEmptyAPIKey = errors.New("API key cannot be empty")
	// ErrEmptyResponse indicates the provider replied with no text.
	ErrEmptyResponse = errors.New("empty response from API")
	// ErrUnknownProvider indicates no factory is registered under a name.
	ErrUnknownProvider = errors.New("unknown provider")
	// ErrInvalidBaseURL indicates a malformed endpoint override.
	ErrInvalidBaseURL = errors.New("invalid base URL")
	// ErrUnsupportedModel indicates a model outside a provider's allow list.
	ErrUnsupportedModel = errors.New("unsupported model")
)

// ErrorType classifies provider failures.
type ErrorType int

const (
	ErrorTypeUnknown ErrorType = iota
	ErrorTypeAuthentication
	ErrorTypeRateLimit
	ErrorTypeBadRequest
	ErrorTypeNotFound
	ErrorTypeServerError
	ErrorTypeContentPolicy
	ErrorTypeTimeout
	ErrorTypeCanceled
)

func (t ErrorType) String() string {
	switch t {
	case ErrorTypeAuthentication:
		return "authentication"
	case ErrorTypeRateLimit:
		return "rate_limit"
	case ErrorTypeBadRequest:
		return "bad_request"
	case ErrorTypeNotFound:
		return "not_found"
	case ErrorTypeServerError:
		return "server_error"
	case ErrorTypeContentPolicy:
		return "content_policy"
	case ErrorTypeTimeout:
		return "timeout"
	case ErrorTypeCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// ProviderError normalises a provider SDK error.
type ProviderError struct {
	Type       ErrorType
	Provider   string
	StatusCode int
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	msg := e.Provider + " error"
	if e.StatusCode > 0 {
		msg += fmt.Sprintf(" (HTTP %d)", e.StatusCode)
	}
	msg += " [" + e.Type.String() + "]"
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

// Unwrap returns the SDK error.
func (e *ProviderError) Unwrap() error { return e.Err }

// Is lets callers test provider failures against the ports sentinels, so
// ports.LLMError.IsRetryable works without knowing about this package.
func (e *ProviderError) Is(target error) bool {
	switch target {
	case ports.ErrRateLimited:
		return e.Type == ErrorTypeRateLimit
	case ports.ErrServiceUnavailable:
		return e.Type == ErrorTypeServerError
	case ports.ErrTimeout:
		return e.Type == ErrorTypeTimeout
	case ports.ErrAuthenticationFailed:
		return e.Type == ErrorTypeAuthentication
	}
	return false
}

// IsRetryable reports whether repeating the request could succeed.
func (e *ProviderError) IsRetryable() bool {
	switch e.Type {
	case ErrorTypeRateLimit, ErrorTypeServerError, ErrorTypeTimeout:
		return true
	default:
		return false
	}
}

// NewProviderError builds a ProviderError.
func NewProviderError(provider string, errType ErrorType, statusCode int, message string, err error) *ProviderError {
	return &ProviderError{
		Type:       errType,
		Provider:   provider,
		StatusCode: statusCode,
		Message:    message,
		Err:        err,
	}
}

// classifyStatus maps an HTTP status from provider to a ProviderError.
func classifyStatus(provider string, status int, message string, err error) *ProviderError {
	var t ErrorType
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		t = ErrorTypeAuthentication
	case status == http.StatusTooManyRequests:
		t = ErrorTypeRateLimit
	case status == http.StatusNotFound:
		t = ErrorTypeNotFound
	case status == http.StatusRequestTimeout:
		t = ErrorTypeTimeout
	case status >= 500:
		t = ErrorTypeServerError
	case status >= 400:
		t = ErrorTypeBadRequest
	default:
		t = ErrorTypeUnknown
	}
	if message == "" {
		message = http.StatusText(status)
	}
	return NewProviderError(provider, t, status, message, err)
}

// classifyContext maps context failures. It returns nil for other errors.
func classifyContext(provider string, err error) *ProviderError {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return NewProviderError(provider, ErrorTypeTimeout, 0, "deadline exceeded", err)
	case errors.Is(err, context.Canceled):
		return NewProviderError(provider, ErrorTypeCanceled, 0, "request canceled", err)
	}
	return nil
}

// isRetryable is the retry middleware's view of err. Errors that do not
// say otherwise are retried, mirroring transient network failures.
func isRetryable(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.IsRetryable()
	}
	var le *ports.LLMError
	if errors.As(err, &le) {
		return le.IsRetryable()
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}
