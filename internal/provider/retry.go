package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/dgallion1/raptree/internal/apperr"
)

// RetryableError indicates a transient failure (rate limit, 5xx, timeout,
// dropped connection) that can be retried. Err is the transport error, if
// any.
type RetryableError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *RetryableError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("retryable error: %v", e.Err)
	}
	return fmt.Sprintf("retryable error (status %d): %s", e.StatusCode, Truncate(e.Message, 200))
}

func (e *RetryableError) Unwrap() error { return e.Err }

// Transport marks a failed request as retryable. Cancellation by the caller
// is returned unchanged.
func Transport(ctx context.Context, err error) error {
	if err == nil || ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return err
	}
	return &RetryableError{Err: err}
}

// IsRetryable checks if an error is worth retrying.
func IsRetryable(err error) bool {
	var retryErr *RetryableError
	return errors.As(err, &retryErr)
}

// RetryPolicy bounds every provider call.
type RetryPolicy struct {
	MaxRetries int
	Timeout    time.Duration // per attempt
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// DefaultRetryPolicy is three attempts of at most a minute each.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 3,
		Timeout:    60 * time.Second,
		BaseDelay:  time.Second,
		MaxDelay:   30 * time.Second,
	}
}

// Backoff returns a duration for attempt n (0-indexed) with jitter.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	base := p.BaseDelay << uint(attempt)
	if base <= 0 || base > p.MaxDelay {
		base = p.MaxDelay
	}
	if base <= 0 {
		return 0
	}
	jitter := time.Duration(rand.Int64N(int64(base)/2 + 1))
	return base + jitter
}

// call runs fn under the policy. Retryable failures (including transport
// errors marked by Transport) and per-attempt timeouts are retried;
// anything else fails fast. Failures surface as
// *apperr.ProviderError unless the caller's context ended.
func call[T any](ctx context.Context, p RetryPolicy, log *slog.Logger, name, stage string, fn func(context.Context) (T, error)) (T, int, error) {
	var zero T
	attempts := max(p.MaxRetries, 1)
	var lastErr error
	for attempt := range attempts {
		attemptCtx, cancel := ctx, context.CancelFunc(func() {})
		if p.Timeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, p.Timeout)
		}
		v, err := fn(attemptCtx)
		cancel()
		if err == nil {
			return v, attempt, nil
		}
		if ctx.Err() != nil {
			return zero, attempt, ctx.Err()
		}
		lastErr = err
		timedOut := errors.Is(err, context.DeadlineExceeded)
		if !IsRetryable(err) && !timedOut {
			return zero, attempt, &apperr.ProviderError{Provider: name, Stage: stage, Attempts: attempt + 1, Err: err}
		}
		if attempt == attempts-1 {
			break
		}
		log.Warn("retryable provider error", "provider", name, "stage", stage, "attempt", attempt, "error", err)
		select {
		case <-time.After(p.Backoff(attempt)):
		case <-ctx.Done():
			return zero, attempt, ctx.Err()
		}
	}
	return zero, attempts - 1, &apperr.ProviderError{Provider: name, Stage: stage, Attempts: attempts, Err: lastErr}
}

// Truncate shortens s to n bytes for log and error messages.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
