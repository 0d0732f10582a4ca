package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/unkn0wn-root/kvstate"
	"github.com/unkn0wn-root/kvstate/fetch"
	"github.com/unkn0wn-root/kvstate/store/memory"
)

func newStorage(t *testing.T) *kvstate.Storage {
	t.Helper()
	mem := memory.New(0)
	t.Cleanup(func() { _ = mem.Close(context.Background()) })
	return kvstate.NewStorage(mem, kvstate.StorageOptions{})
}

type redirects struct {
	mu    sync.Mutex
	paths []string
}

func (r *redirects) record(p string) {
	r.mu.Lock()
	r.paths = append(r.paths, p)
	r.mu.Unlock()
}

func (r *redirects) got() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.paths...)
}

type countingHooks struct {
	kvstate.NopHooks
	n atomic.Int32
}

func (h *countingHooks) Unauthorized(string) { h.n.Add(1) }

func TestNewRejectsBadBaseURL(t *testing.T) {
	if _, err := New(Config{BaseURL: "not a url"}); err == nil {
		t.Fatalf("expected error")
	}
	bad := RetryPolicy{Mode: "sometimes", Initial: time.Second, Max: time.Second}
	if _, err := New(Config{Retry: &bad}); err == nil {
		t.Fatalf("expected retry validation error")
	}
	c, err := New(Config{})
	if err != nil || c.Timeout() != DefaultTimeout {
		t.Fatalf("defaults: %v %v", c, err)
	}
}

func TestBaseURLJoin(t *testing.T) {
	var gotPath, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath, gotQuery = r.URL.Path, r.URL.RawQuery
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c, _ := New(Config{BaseURL: srv.URL + "/api/"})
	_, err := c.Do(context.Background(), &Request{URL: "/users", Query: map[string][]string{"page": {"2"}}})
	if err != nil {
		t.Fatal(err)
	}
	if gotPath != "/api/users" || gotQuery != "page=2" {
		t.Fatalf("path=%q query=%q", gotPath, gotQuery)
	}
}

func TestInterceptorOrderAndEject(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(r.Header.Get("X-Trace")))
	}))
	defer srv.Close()

	c, _ := New(Config{BaseURL: srv.URL})
	tag := func(s string) RequestInterceptor {
		return func(_ context.Context, r *Request) (*Request, error) {
			r.Header.Set("X-Trace", r.Header.Get("X-Trace")+s)
			return r, nil
		}
	}
	c.Interceptors.Request.Use(tag("a"))
	id := c.Interceptors.Request.Use(tag("b"))
	c.Interceptors.Request.Use(tag("c"))

	var seen []string
	c.Interceptors.Response.Use(func(_ context.Context, resp *Response) (*Response, error) {
		seen = append(seen, "1:"+string(resp.Body))
		return resp, nil
	}, nil)
	c.Interceptors.Response.Use(func(_ context.Context, resp *Response) (*Response, error) {
		seen = append(seen, "2:"+string(resp.Body))
		return resp, nil
	}, nil)

	if _, err := c.Get(context.Background(), "/"); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(seen, []string{"1:abc", "2:abc"}) {
		t.Fatalf("seen=%v", seen)
	}

	if !c.Interceptors.Request.Eject(id) || c.Interceptors.Request.Eject(id) {
		t.Fatalf("eject should succeed exactly once")
	}
	seen = nil
	if _, err := c.Get(context.Background(), "/"); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(seen, []string{"1:ac", "2:ac"}) {
		t.Fatalf("after eject seen=%v", seen)
	}
}

func TestRejectedInterceptorCanRecover(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c, _ := New(Config{BaseURL: srv.URL})
	c.Interceptors.Response.Use(nil, func(_ context.Context, err error) (*Response, error) {
		if StatusOf(err) == 500 {
			return &Response{Status: 200, Body: []byte(`"fallback"`)}, nil
		}
		return nil, err
	})

	got, err := JSON[string](context.Background(), c, &Request{URL: "/"})
	if err != nil || got != "fallback" {
		t.Fatalf("got %q err=%v", got, err)
	}
}

func TestRequestInterceptorErrorSkipsDispatch(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	boom := errors.New("no token")
	c, _ := New(Config{BaseURL: srv.URL})
	c.Interceptors.Request.Use(func(context.Context, *Request) (*Request, error) { return nil, boom })

	var rejected error
	c.Interceptors.Response.Use(nil, func(_ context.Context, err error) (*Response, error) {
		rejected = err
		return nil, err
	})

	if _, err := c.Get(context.Background(), "/"); !errors.Is(err, boom) {
		t.Fatalf("err=%v", err)
	}
	if hits.Load() != 0 || !errors.Is(rejected, boom) {
		t.Fatalf("hits=%d rejected=%v", hits.Load(), rejected)
	}
}

func TestResponseErrorUnwrapsToHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c, _ := New(Config{BaseURL: srv.URL})
	_, err := c.Get(context.Background(), "/missing")

	var re *ResponseError
	var he *fetch.HTTPError
	if !errors.As(err, &re) || re.Response.Status != 404 {
		t.Fatalf("err=%v want ResponseError 404", err)
	}
	if !errors.As(err, &he) || he.Status != 404 {
		t.Fatalf("ResponseError should unwrap to HTTPError")
	}
}

func TestClientTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c, _ := New(Config{BaseURL: srv.URL, Timeout: 50 * time.Millisecond})
	_, err := c.Get(context.Background(), "/slow")
	if !fetch.IsTimeout(err) {
		t.Fatalf("err=%v want timeout", err)
	}
}

func TestDefaultChainAttachesBearerToken(t *testing.T) {
	var auth, reqID, accept string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth, reqID, accept = r.Header.Get("Authorization"), r.Header.Get("X-Request-Id"), r.Header.Get("Accept")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	ctx := context.Background()
	storage := newStorage(t)
	c, _, err := NewDefault(Config{BaseURL: srv.URL}, storage, nil)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := c.Get(ctx, "/me"); err != nil {
		t.Fatal(err)
	}
	if auth != "" {
		t.Fatalf("no token stored, yet Authorization=%q", auth)
	}
	if reqID == "" || accept == "" {
		t.Fatalf("default headers missing: id=%q accept=%q", reqID, accept)
	}

	storage.SetString(ctx, kvstate.AccessTokenKey, "abc", 0)
	if _, err := c.Get(ctx, "/me"); err != nil {
		t.Fatal(err)
	}
	if auth != "Bearer abc" {
		t.Fatalf("Authorization=%q", auth)
	}
}

func TestUnauthorizedSchedulesExactlyOnce(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	ctx := context.Background()
	storage := newStorage(t)
	storage.SetString(ctx, kvstate.AccessTokenKey, "stale", 0)
	storage.SetString(ctx, kvstate.RefreshTokenKey, "stale-r", 0)

	rd := &redirects{}
	hooks := &countingHooks{}
	c, u, err := NewDefault(Config{
		BaseURL:           srv.URL,
		UnauthorizedDelay: 20 * time.Millisecond,
		Hooks:             hooks,
	}, storage, rd.record)
	if err != nil {
		t.Fatal(err)
	}

	_, err = c.Get(ctx, "/private")
	if StatusOf(err) != http.StatusUnauthorized {
		t.Fatalf("original 401 must still be returned, got %v", err)
	}
	if _, ok := storage.GetString(ctx, kvstate.AccessTokenKey); !ok {
		t.Fatalf("credentials cleared before the delay elapsed")
	}

	u.Wait()
	if got := rd.got(); !reflect.DeepEqual(got, []string{"/login"}) {
		t.Fatalf("redirects=%v want exactly one to /login", got)
	}
	if hooks.n.Load() != 1 {
		t.Fatalf("unauthorized hook fired %d times", hooks.n.Load())
	}
	if _, ok := storage.GetString(ctx, kvstate.AccessTokenKey); ok {
		t.Fatalf("access token not cleared")
	}
	if _, ok := storage.GetString(ctx, kvstate.RefreshTokenKey); ok {
		t.Fatalf("refresh token not cleared")
	}
}

func TestUnauthorizedIgnoresOtherErrors(t *testing.T) {
	rd := &redirects{}
	u := &Unauthorized{Redirect: rd.record, Delay: time.Millisecond}
	boom := errors.New("dial failed")

	if _, err := u.Reject(context.Background(), boom); err != boom {
		t.Fatalf("err=%v", err)
	}
	u.Wait()
	if len(rd.got()) != 0 {
		t.Fatalf("redirect on non-401: %v", rd.got())
	}
}
