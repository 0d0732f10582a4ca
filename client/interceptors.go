package client

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/unkn0wn-root/kvstate"
)

// RequestInterceptor may rewrite the outgoing request or fail it.
type RequestInterceptor func(ctx context.Context, r *Request) (*Request, error)

// Fulfilled handles a successful response; returning an error turns it into a
// rejection for the rest of the chain.
type Fulfilled func(ctx context.Context, resp *Response) (*Response, error)

// Rejected handles a failure; returning a response recovers the chain.
type Rejected func(ctx context.Context, err error) (*Response, error)

type entry[H any] struct {
	id int
	h  H
}

// registry keeps handlers in registration order.
type registry[H any] struct {
	mu    sync.Mutex
	next  int
	items []entry[H]
}

func (m *registry[H]) use(h H) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.next++
	m.items = append(m.items, entry[H]{id: m.next, h: h})
	return m.next
}

func (m *registry[H]) eject(id int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, e := range m.items {
		if e.id == id {
			m.items = append(m.items[:i:i], m.items[i+1:]...)
			return true
		}
	}
	return false
}

func (m *registry[H]) snapshot() []H {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]H, len(m.items))
	for i, e := range m.items {
		out[i] = e.h
	}
	return out
}

type RequestInterceptors struct{ reg registry[RequestInterceptor] }

// Use appends fn and returns an id for Eject.
func (r *RequestInterceptors) Use(fn RequestInterceptor) int { return r.reg.use(fn) }

// Eject removes the interceptor registered under id.
func (r *RequestInterceptors) Eject(id int) bool { return r.reg.eject(id) }

func (r *RequestInterceptors) snapshot() []RequestInterceptor { return r.reg.snapshot() }

type responsePair struct {
	fulfilled Fulfilled
	rejected  Rejected
}

type ResponseInterceptors struct{ reg registry[responsePair] }

// Use appends a handler pair; either side may be nil.
func (r *ResponseInterceptors) Use(onFulfilled Fulfilled, onRejected Rejected) int {
	return r.reg.use(responsePair{fulfilled: onFulfilled, rejected: onRejected})
}

func (r *ResponseInterceptors) Eject(id int) bool { return r.reg.eject(id) }

func (r *ResponseInterceptors) snapshot() []responsePair { return r.reg.snapshot() }

type Interceptors struct {
	Request  RequestInterceptors
	Response ResponseInterceptors
}

// DefaultHeaders sets JSON content negotiation headers and a request id when
// the request does not carry them already.
func DefaultHeaders() RequestInterceptor {
	return func(_ context.Context, r *Request) (*Request, error) {
		if r.Header.Get("Accept") == "" {
			r.Header.Set("Accept", "application/json, text/plain, */*")
		}
		if r.Body != nil && r.Header.Get("Content-Type") == "" {
			r.Header.Set("Content-Type", "application/json")
		}
		if r.Header.Get("X-Request-Id") == "" {
			r.Header.Set("X-Request-Id", uuid.NewString())
		}
		return r, nil
	}
}

// TokenSource yields the current access token, if any.
type TokenSource interface {
	Token(ctx context.Context) (string, bool)
}

// StorageTokens reads the token from a slot of a kvstate.Storage.
type StorageTokens struct {
	Storage *kvstate.Storage
	Key     string // "" => kvstate.AccessTokenKey
}

func (s StorageTokens) Token(ctx context.Context) (string, bool) {
	key := s.Key
	if key == "" {
		key = kvstate.AccessTokenKey
	}
	return s.Storage.GetString(ctx, key)
}

// BearerToken sets "Authorization: Bearer <token>" when src has a token.
func BearerToken(src TokenSource) RequestInterceptor {
	return func(ctx context.Context, r *Request) (*Request, error) {
		if tok, ok := src.Token(ctx); ok && tok != "" {
			r.Header.Set("Authorization", "Bearer "+tok)
		}
		return r, nil
	}
}

// PassThrough returns the response unchanged.
func PassThrough(_ context.Context, resp *Response) (*Response, error) { return resp, nil }

// Unauthorized reacts to 401 responses: after Delay it clears the stored
// credentials and calls Redirect with Path. The original error is always
// passed on.
type Unauthorized struct {
	Storage  *kvstate.Storage
	Redirect func(path string)
	Path     string        // "" => "/login"
	Delay    time.Duration // 0 => 1s
	Hooks    kvstate.Hooks
	Logger   kvstate.Logger

	wg sync.WaitGroup
}

// Reject is the Rejected handler; register it with Response.Use(nil, u.Reject)
// or alongside PassThrough.
func (u *Unauthorized) Reject(ctx context.Context, err error) (*Response, error) {
	if StatusOf(err) != http.StatusUnauthorized {
		return nil, err
	}
	path := u.Path
	if path == "" {
		path = "/login"
	}
	delay := u.Delay
	if delay <= 0 {
		delay = time.Second
	}
	if u.Hooks != nil {
		u.Hooks.Unauthorized(path)
	}
	if u.Logger != nil {
		u.Logger.Info("unauthorized; clearing credentials", kvstate.Fields{"redirect": path, "delay": delay})
	}

	bg := context.WithoutCancel(ctx)
	u.wg.Add(1)
	time.AfterFunc(delay, func() {
		defer u.wg.Done()
		u.Storage.ClearCredentials(bg)
		if u.Redirect != nil {
			u.Redirect(path)
		}
	})
	return nil, err
}

// Wait blocks until every scheduled clear-and-redirect has run.
func (u *Unauthorized) Wait() { u.wg.Wait() }
