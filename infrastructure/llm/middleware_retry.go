package llm

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"
)

type retryLLM struct {
	next       CoreLLM
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

// RetryMiddleware retries retryable failures up to maxRetries times with
// jittered exponential backoff capped at maxDelay. Authentication, bad
// request and cancellation errors are returned immediately.
func RetryMiddleware(maxRetries int, baseDelay, maxDelay time.Duration) Middleware {
	return func(next CoreLLM) CoreLLM {
		return &retryLLM{
			next:       next,
			maxRetries: max(maxRetries, 0),
			baseDelay:  baseDelay,
			maxDelay:   maxDelay,
		}
	}
}

func (r *retryLLM) DoRequest(ctx context.Context, prompt string, opts map[string]any) (string, int, int, error) {
	var lastErr error
	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		response, in, out, err := r.next.DoRequest(ctx, prompt, opts)
		if err == nil {
			return response, in, out, nil
		}
		lastErr = err

		if ctx.Err() != nil || !isRetryable(err) || attempt == r.maxRetries {
			break
		}

		select {
		case <-ctx.Done():
			return "", 0, 0, ctx.Err()
		case <-time.After(r.delay(attempt)):
		}
	}
	if r.maxRetries == 0 {
		return "", 0, 0, lastErr
	}
	return "", 0, 0, fmt.Errorf("request failed after retries: %w", lastErr)
}

// delay returns baseDelay*2^attempt with +/-25% jitter, capped at maxDelay.
func (r *retryLLM) delay(attempt int) time.Duration {
	d := r.baseDelay << min(attempt, 30)
	if d <= 0 || d > r.maxDelay {
		d = r.maxDelay
	}
	// #nosec G404 - jitter does not need a secure source
	jitter := time.Duration(rand.Float64() * float64(d) / 2)
	d = d - d/4 + jitter
	return min(d, r.maxDelay)
}

func (r *retryLLM) GetModel() string  { return r.next.GetModel() }
func (r *retryLLM) SetModel(m string) { r.next.SetModel(m) }
