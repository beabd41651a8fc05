package ports

import (
	"errors"
	"fmt"
)

// Sentinels shared by the adapters behind the ports. Adapters wrap them so
// callers can branch with errors.Is without importing the adapter.
var (
	// ErrTokenLimitExceeded reports a spent token allowance, either the
	// provider's or the judge run's budget.
	ErrTokenLimitExceeded = errors.New("token limit exceeded")

	// ErrRateLimited reports a provider refusing requests for now.
	ErrRateLimited = errors.New("rate limited")

	// ErrServiceUnavailable reports a provider outage or 5xx reply.
	ErrServiceUnavailable = errors.New("service unavailable")

	// ErrTimeout reports a provider call that ran out of time.
	ErrTimeout = errors.New("operation timed out")

	// ErrInvalidResponse reports a reply that arrived but could not be used,
	// such as a judge verdict that is not JSON or fails validation.
	ErrInvalidResponse = errors.New("invalid response")

	// ErrAuthenticationFailed reports a rejected API key.
	ErrAuthenticationFailed = errors.New("authentication failed")

	// ErrStoreCorrupted reports a stored snapshot that does not decode or
	// carries an unknown layout version.
	ErrStoreCorrupted = errors.New("store corrupted")

	// ErrStoreClosed reports use of a closed store.
	ErrStoreClosed = errors.New("store closed")

	// ErrConfigNotFound reports a config file that does not exist.
	ErrConfigNotFound = errors.New("configuration not found")
)

// LLMError ties a provider failure to the model and call that produced it.
type LLMError struct {
	Model string
	Op    string
	Err   error
}

func (e *LLMError) Error() string {
	return fmt.Sprintf("llm %s %s: %v", e.Model, e.Op, e.Err)
}

func (e *LLMError) Unwrap() error { return e.Err }

// IsRetryable reports whether the failure is transient: rate limiting, an
// outage or a timeout. Bad requests and rejected keys are not.
func (e *LLMError) IsRetryable() bool {
	return errors.Is(e.Err, ErrRateLimited) ||
		errors.Is(e.Err, ErrServiceUnavailable) ||
		errors.Is(e.Err, ErrTimeout)
}

// NewLLMError wraps err from op on model.
func NewLLMError(model, op string, err error) *LLMError {
	return &LLMError{Model: model, Op: op, Err: err}
}

// StoreError ties a DecisionStore failure to the storage key involved.
type StoreError struct {
	Key string
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// NewStoreError wraps err from op on key.
func NewStoreError(key, op string, err error) *StoreError {
	return &StoreError{Key: key, Op: op, Err: err}
}

// ConfigError reports a config file that could not be read, decoded or
// validated.
type ConfigError struct {
	Path string
	Err  error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config %s: %v", e.Path, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// NewConfigError wraps err for the config file at path.
func NewConfigError(path string, err error) *ConfigError {
	return &ConfigError{Path: path, Err: err}
}
