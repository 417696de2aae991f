package resilience

import (
	"context"
	"time"
)

// Policy bundles everything applied around one outbound call.
type Policy struct {
	// Timeout bounds each attempt. Zero means no per-attempt deadline.
	Timeout time.Duration
	Retry   RetryConfig
	Breaker *CircuitBreaker
}

// NewPolicy builds a Policy from flat config values. Zero values fall back to
// the package defaults.
func NewPolicy(name string, timeout time.Duration, maxAttempts, failureThreshold int, resetTimeout time.Duration) Policy {
	retry := DefaultRetryConfig()
	if maxAttempts > 0 {
		retry.MaxAttempts = maxAttempts
	}
	retry.OnRetry = RetryLogger(name, "call")

	cb := DefaultCircuitBreakerConfig()
	cb.Name = name
	if failureThreshold > 0 {
		cb.FailureThreshold = failureThreshold
	}
	if resetTimeout > 0 {
		cb.ResetTimeout = resetTimeout
	}

	return Policy{
		Timeout: timeout,
		Retry:   retry,
		Breaker: NewCircuitBreaker(cb),
	}
}

// Call runs fn under p: each attempt passes through the breaker with its own
// timeout, and transient failures are retried. A rejected call (open circuit)
// is not retried.
func Call[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	attempt := func(ctx context.Context) (T, error) {
		if p.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, p.Timeout)
			defer cancel()
		}
		if p.Breaker == nil {
			return fn(ctx)
		}
		return ExecuteVal(ctx, p.Breaker, fn)
	}
	return DoVal(ctx, p.Retry, attempt)
}
