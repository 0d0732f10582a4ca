// Package client is a small HTTP client with ordered request and response
// interceptors: a base URL, a default timeout, and interceptor chains that
// attach credentials and react to 401 responses.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/unkn0wn-root/kvstate"
	"github.com/unkn0wn-root/kvstate/fetch"
)

const DefaultTimeout = 30 * time.Second

// Config configures a Client.
type Config struct {
	BaseURL    string         // joined with relative request URLs
	Timeout    time.Duration  // per attempt; 0 => DefaultTimeout
	HTTPClient fetch.Doer     // nil => http.DefaultClient
	Header     http.Header    // sent with every request unless overridden
	Retry      *RetryPolicy   // nil => no retries
	MaxBytes   int64          // response cap; 0 => fetch.DefaultMaxBytes
	Logger     kvstate.Logger // nil => NopLogger

	// Used by NewDefault for the 401 interceptor.
	LoginPath         string        // "" => "/login"
	UnauthorizedDelay time.Duration // 0 => 1s
	Hooks             kvstate.Hooks // nil => NopHooks
}

// Request describes one call. Body may be nil, []byte, json.RawMessage,
// string, or any value encodable as JSON.
type Request struct {
	Method  string
	URL     string
	Header  http.Header
	Query   url.Values
	Body    any
	Timeout time.Duration // overrides Config.Timeout when >0
}

func (r *Request) clone() *Request {
	cp := *r
	cp.Header = r.Header.Clone()
	if cp.Header == nil {
		cp.Header = http.Header{}
	}
	if r.Query != nil {
		cp.Query = url.Values{}
		for k, vs := range r.Query {
			cp.Query[k] = append([]string(nil), vs...)
		}
	}
	return &cp
}

// Response is a settled exchange.
type Response struct {
	Status  int
	Header  http.Header
	Body    []byte
	URL     string
	Request *Request
}

// Decode unmarshals the JSON body into v.
func (r *Response) Decode(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("client: decode response: %w", err)
	}
	return nil
}

type Client struct {
	Interceptors Interceptors

	base     string
	timeout  time.Duration
	hc       fetch.Doer
	header   http.Header
	retry    *RetryPolicy
	maxBytes int64
	log      kvstate.Logger
}

func New(cfg Config) (*Client, error) {
	if cfg.BaseURL != "" {
		u, err := url.Parse(cfg.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("client: invalid base URL %q", cfg.BaseURL)
		}
	}
	if cfg.Retry != nil {
		if err := cfg.Retry.Validate(); err != nil {
			return nil, err
		}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	var log kvstate.Logger = kvstate.NopLogger{}
	if cfg.Logger != nil {
		log = cfg.Logger
	}
	return &Client{
		base:     cfg.BaseURL,
		timeout:  timeout,
		hc:       hc,
		header:   cfg.Header.Clone(),
		retry:    cfg.Retry,
		maxBytes: cfg.MaxBytes,
		log:      log,
	}, nil
}

// Timeout returns the default per-attempt timeout.
func (c *Client) Timeout() time.Duration { return c.timeout }

// Do runs req through the request interceptors, dispatches it and runs the
// outcome through the response interceptors. A failing request interceptor
// skips dispatch and enters the response chain as a rejection.
func (c *Client) Do(ctx context.Context, req *Request) (*Response, error) {
	r := req.clone()
	for k, vs := range c.header {
		if _, ok := r.Header[k]; !ok {
			r.Header[k] = append([]string(nil), vs...)
		}
	}
	if r.Method == "" {
		r.Method = http.MethodGet
	}
	r.Method = strings.ToUpper(r.Method)

	var (
		resp *Response
		err  error
	)
	for _, fn := range c.Interceptors.Request.snapshot() {
		if r, err = fn(ctx, r); err != nil {
			break
		}
		if r == nil {
			err = fmt.Errorf("client: request interceptor returned nil request")
			break
		}
	}
	if err == nil {
		resp, err = c.dispatch(ctx, r)
	}

	for _, p := range c.Interceptors.Response.snapshot() {
		if err == nil {
			if p.fulfilled != nil {
				resp, err = p.fulfilled(ctx, resp)
			}
			continue
		}
		if p.rejected != nil {
			resp, err = p.rejected(ctx, err)
		}
	}
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) Get(ctx context.Context, path string) (*Response, error) {
	return c.Do(ctx, &Request{Method: http.MethodGet, URL: path})
}

func (c *Client) Delete(ctx context.Context, path string) (*Response, error) {
	return c.Do(ctx, &Request{Method: http.MethodDelete, URL: path})
}

func (c *Client) Post(ctx context.Context, path string, body any) (*Response, error) {
	return c.Do(ctx, &Request{Method: http.MethodPost, URL: path, Body: body})
}

func (c *Client) Put(ctx context.Context, path string, body any) (*Response, error) {
	return c.Do(ctx, &Request{Method: http.MethodPut, URL: path, Body: body})
}

func (c *Client) Patch(ctx context.Context, path string, body any) (*Response, error) {
	return c.Do(ctx, &Request{Method: http.MethodPatch, URL: path, Body: body})
}

// JSON performs req and decodes the response body into T.
func JSON[T any](ctx context.Context, c *Client, req *Request) (T, error) {
	var out T
	resp, err := c.Do(ctx, req)
	if err != nil {
		return out, err
	}
	if len(bytes.TrimSpace(resp.Body)) == 0 {
		return out, nil
	}
	err = resp.Decode(&out)
	return out, err
}

func (c *Client) dispatch(ctx context.Context, r *Request) (*Response, error) {
	target, err := c.resolve(r)
	if err != nil {
		return nil, err
	}
	body, err := encodeBody(r.Body)
	if err != nil {
		return nil, err
	}
	timeout := c.timeout
	if r.Timeout > 0 {
		timeout = r.Timeout
	}

	attempts := 1
	if c.retry != nil && idempotent(r.Method) {
		attempts += c.retry.MaxRetries
	}

	var (
		res  *fetch.Response
		last error
	)
	for attempt := 1; attempt <= attempts; attempt++ {
		hr, err := fetch.NewRequest(ctx, target, fetch.Request{Method: r.Method, Header: r.Header, Body: body})
		if err != nil {
			return nil, err
		}
		res, last = fetch.Send(hr, c.hc, c.maxBytes, timeout)
		if attempt == attempts || !retryable(ctx, res, last) {
			break
		}
		wait := c.retry.Delay(attempt)
		c.log.Warn("retrying request", kvstate.Fields{
			"method": r.Method, "url": target, "attempt": attempt, "backoff": wait, "status": statusOrZero(res), "err": last,
		})
		if err := sleepCtx(ctx, wait); err != nil {
			return nil, err
		}
	}
	if last != nil {
		c.log.Debug("request failed", kvstate.Fields{"method": r.Method, "url": target, "err": last})
		return nil, last
	}

	resp := &Response{Status: res.Status, Header: res.Header, Body: res.Body, URL: target, Request: r}
	c.log.Debug("request done", kvstate.Fields{"method": r.Method, "url": target, "status": res.Status})
	if !res.OK() {
		return nil, &ResponseError{Response: resp}
	}
	return resp, nil
}

func statusOrZero(r *fetch.Response) int {
	if r == nil {
		return 0
	}
	return r.Status
}

// resolve joins the base URL and the request URL. An absolute request URL
// wins; otherwise the two are concatenated with a single slash.
func (c *Client) resolve(r *Request) (string, error) {
	raw := r.URL
	if c.base != "" && !isAbsoluteURL(raw) {
		switch {
		case raw == "":
			raw = c.base
		default:
			raw = strings.TrimRight(c.base, "/") + "/" + strings.TrimLeft(raw, "/")
		}
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("client: invalid URL %q: %w", raw, err)
	}
	if len(r.Query) > 0 {
		q := u.Query()
		for k, vs := range r.Query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func isAbsoluteURL(s string) bool {
	u, err := url.Parse(s)
	return err == nil && u.Scheme != "" && u.Host != ""
}

func encodeBody(v any) ([]byte, error) {
	switch b := v.(type) {
	case nil:
		return nil, nil
	case []byte:
		return b, nil
	case json.RawMessage:
		return b, nil
	case string:
		return []byte(b), nil
	default:
		out, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("client: encode body: %w", err)
		}
		return out, nil
	}
}

// NewDefault builds a Client with the standard chain: request interceptors
// [DefaultHeaders, BearerToken from storage] and response interceptor
// [PassThrough, Unauthorized]. redirect receives the login path after a 401.
func NewDefault(cfg Config, storage *kvstate.Storage, redirect func(path string)) (*Client, *Unauthorized, error) {
	c, err := New(cfg)
	if err != nil {
		return nil, nil, err
	}
	u := &Unauthorized{
		Storage:  storage,
		Redirect: redirect,
		Path:     cfg.LoginPath,
		Delay:    cfg.UnauthorizedDelay,
		Hooks:    cfg.Hooks,
		Logger:   c.log,
	}
	c.Interceptors.Request.Use(DefaultHeaders())
	c.Interceptors.Request.Use(BearerToken(StorageTokens{Storage: storage}))
	c.Interceptors.Response.Use(PassThrough, u.Reject)
	return c, u, nil
}
