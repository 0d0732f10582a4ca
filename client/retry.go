package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/unkn0wn-root/kvstate/fetch"
)

// Backoff modes.
const (
	BackoffFixed       = "fixed"
	BackoffLinear      = "linear"
	BackoffExponential = "exponential"
)

// RetryPolicy retries idempotent requests after transport failures, timeouts
// and 502/503/504 responses. It is immutable after construction.
type RetryPolicy struct {
	Mode       string        // fixed|linear|exponential
	Initial    time.Duration // base delay
	Max        time.Duration // cap for growth
	MaxRetries int           // attempts after the first failure
}

// DefaultRetryPolicy: exponential, 200ms initial, 5s cap, 2 retries.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Mode: BackoffExponential, Initial: 200 * time.Millisecond, Max: 5 * time.Second, MaxRetries: 2}
}

// NewRetryPolicy builds a policy from raw config fields; zero or invalid
// values fall back to DefaultRetryPolicy.
func NewRetryPolicy(mode string, initial, max time.Duration, maxRetries int) RetryPolicy {
	p := DefaultRetryPolicy()
	if maxRetries >= 0 {
		p.MaxRetries = maxRetries
	}
	if initial > 0 {
		p.Initial = initial
	}
	if max > 0 {
		p.Max = max
	}
	switch mode {
	case BackoffFixed, BackoffLinear, BackoffExponential:
		p.Mode = mode
	}
	if p.Initial > p.Max {
		p.Initial = p.Max
	}
	return p
}

// Delay returns the wait before retry n (1-based).
func (p RetryPolicy) Delay(n int) time.Duration {
	if n <= 0 {
		return 0
	}
	switch p.Mode {
	case BackoffFixed:
		return p.Initial
	case BackoffLinear:
		d := time.Duration(n) * p.Initial
		if d > p.Max {
			return p.Max
		}
		return d
	default:
		if n > 30 {
			return p.Max
		}
		d := p.Initial * (1 << (n - 1))
		if d > p.Max || d <= 0 {
			return p.Max
		}
		return d
	}
}

func (p RetryPolicy) Validate() error {
	switch p.Mode {
	case BackoffFixed, BackoffLinear, BackoffExponential:
	default:
		return fmt.Errorf("client: unknown backoff mode %q", p.Mode)
	}
	if p.Initial <= 0 {
		return fmt.Errorf("client: retry initial must be >0")
	}
	if p.Max <= 0 {
		return fmt.Errorf("client: retry max must be >0")
	}
	if p.MaxRetries < 0 {
		return fmt.Errorf("client: max retries cannot be negative")
	}
	return nil
}

func idempotent(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodPut, http.MethodDelete:
		return true
	}
	return false
}

// retryable reports whether a dispatch outcome may be retried. Caller
// cancellation never is.
func retryable(ctx context.Context, resp *fetch.Response, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	if err != nil {
		return !errors.Is(err, context.Canceled) && !errors.Is(err, fetch.ErrTooLarge)
	}
	switch resp.Status {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
