// Package fetch performs one bounded HTTP exchange: a single deadline per call,
// a capped response body, and errors normalized to *HTTPError and
// *TimeoutError.
package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	DefaultTimeout  = 5 * time.Second
	DefaultMaxBytes = 5 << 20
)

// Doer is the subset of *http.Client used here.
type Doer interface {
	Do(*http.Request) (*http.Response, error)
}

// Request carries per-call options. The zero value is a GET through
// http.DefaultClient.
type Request struct {
	Method   string      // "" => GET
	Header   http.Header // copied onto the outgoing request
	Body     []byte      // nil => no body
	Client   Doer        // nil => http.DefaultClient
	MaxBytes int64       // <=0 => DefaultMaxBytes
}

// Response is a settled exchange with its body fully read.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// OK reports a 2xx status.
func (r *Response) OK() bool { return r.Status >= 200 && r.Status < 300 }

// WithTimeout sends the request and decodes a 2xx JSON body into T.
// A non-2xx status yields *HTTPError; an elapsed deadline yields
// *TimeoutError. Cancellation of ctx itself is returned unchanged.
// timeout <= 0 uses DefaultTimeout.
func WithTimeout[T any](ctx context.Context, url string, req Request, timeout time.Duration) (T, error) {
	var zero T

	r, err := NewRequest(ctx, url, req)
	if err != nil {
		return zero, err
	}
	resp, err := Send(r, req.Client, req.MaxBytes, timeout)
	if err != nil {
		return zero, err
	}
	if !resp.OK() {
		return zero, &HTTPError{Status: resp.Status, URL: url, Body: resp.Body}
	}
	if len(bytes.TrimSpace(resp.Body)) == 0 {
		return zero, nil
	}

	var out T
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return zero, fmt.Errorf("fetch: decode response: %w", err)
	}
	return out, nil
}

// NewRequest builds an *http.Request from url and the options in req.
func NewRequest(ctx context.Context, url string, req Request) (*http.Request, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	var body io.Reader = http.NoBody
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	r, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("fetch: build request: %w", err)
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			r.Header.Add(k, v)
		}
	}
	return r, nil
}

type result struct {
	resp *Response
	err  error
}

// Send dispatches r through c under a deadline of timeout and reads the
// body. It returns as soon as the deadline elapses even if c ignores
// cancellation; the abandoned exchange finishes in the background and its
// body is closed there. Non-2xx statuses are not errors at this level.
func Send(r *http.Request, c Doer, maxBytes int64, timeout time.Duration) (*Response, error) {
	if c == nil {
		c = http.DefaultClient
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	parent := r.Context()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()
	r = r.WithContext(ctx)

	done := make(chan result, 1)
	go func() {
		resp, err := exchange(r, c, maxBytes)
		done <- result{resp, err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return nil, classify(parent, ctx, timeout, res.err)
		}
		return res.resp, nil
	case <-ctx.Done():
		return nil, classify(parent, ctx, timeout, ctx.Err())
	}
}

func exchange(r *http.Request, c Doer, maxBytes int64) (*Response, error) {
	resp, err := c.Do(r)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("fetch: read body: %w", err)
	}
	if int64(len(b)) > maxBytes {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrTooLarge, maxBytes)
	}
	return &Response{Status: resp.StatusCode, Header: resp.Header, Body: b}, nil
}

// classify maps err to the public error kinds. The parent context wins so
// that caller cancellation is never reported as our timeout.
func classify(parent, ctx context.Context, timeout time.Duration, err error) error {
	if perr := parent.Err(); perr != nil {
		return perr
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &TimeoutError{Timeout: timeout}
	}
	return err
}
