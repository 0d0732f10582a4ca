package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrTooLarge is returned when a response body exceeds Request.MaxBytes.
var ErrTooLarge = errors.New("fetch: response body too large")

// HTTPError reports a response outside the 2xx range.
type HTTPError struct {
	Status int
	URL    string
	Body   []byte // possibly truncated
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP error! Status: %d", e.Status)
}

// StatusText returns the canonical text for Status.
func (e *HTTPError) StatusText() string { return http.StatusText(e.Status) }

// TimeoutError reports that the per-call deadline elapsed before the exchange
// settled. It matches context.DeadlineExceeded under errors.Is.
type TimeoutError struct {
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("request timed out after %dms", e.Timeout.Milliseconds())
}

func (e *TimeoutError) Unwrap() error { return context.DeadlineExceeded }

// IsTimeout reports whether err is (or wraps) a *TimeoutError.
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}

// StatusOf extracts the HTTP status from an *HTTPError chain, or 0.
func StatusOf(err error) int {
	var he *HTTPError
	if errors.As(err, &he) {
		return he.Status
	}
	return 0
}
