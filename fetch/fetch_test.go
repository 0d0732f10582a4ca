package fetch

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

type user struct {
	ID int `json:"id"`
}

// hangingDoer never answers; it records when the request context is canceled.
type hangingDoer struct {
	canceled atomic.Int32
	observed chan struct{}
}

func newHangingDoer() *hangingDoer { return &hangingDoer{observed: make(chan struct{})} }

func (d *hangingDoer) Do(r *http.Request) (*http.Response, error) {
	<-r.Context().Done()
	if d.canceled.Add(1) == 1 {
		close(d.observed)
	}
	return nil, r.Context().Err()
}

// stubbornDoer ignores cancellation entirely.
type stubbornDoer struct{ release chan struct{} }

func (d stubbornDoer) Do(*http.Request) (*http.Response, error) {
	<-d.release
	return &http.Response{StatusCode: 200, Body: io.NopCloser(strings.NewReader(`{}`))}, nil
}

func TestWithTimeoutSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Test") != "1" {
			t.Errorf("header not forwarded")
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":1}`))
	}))
	defer srv.Close()

	got, err := WithTimeout[user](context.Background(), srv.URL, Request{
		Header: http.Header{"X-Test": []string{"1"}},
	}, time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ID != 1 {
		t.Fatalf("got %+v want id=1", got)
	}
}

func TestWithTimeoutElapses(t *testing.T) {
	d := newHangingDoer()
	start := time.Now()

	_, err := WithTimeout[user](context.Background(), "http://example.invalid/slow", Request{Client: d}, 100*time.Millisecond)

	var te *TimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("err=%v want *TimeoutError", err)
	}
	if te.Timeout != 100*time.Millisecond {
		t.Fatalf("timeout=%v", te.Timeout)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("TimeoutError should match DeadlineExceeded")
	}
	if err.Error() != "request timed out after 100ms" {
		t.Fatalf("message=%q", err.Error())
	}
	if time.Since(start) > 2*time.Second {
		t.Fatalf("returned too late")
	}

	select {
	case <-d.observed:
	case <-time.After(time.Second):
		t.Fatalf("cancellation never reached the doer")
	}
	if n := d.canceled.Load(); n != 1 {
		t.Fatalf("cancellation observed %d times, want 1", n)
	}
}

func TestWithTimeoutDoerIgnoresCancellation(t *testing.T) {
	d := stubbornDoer{release: make(chan struct{})}
	defer close(d.release)

	_, err := WithTimeout[user](context.Background(), "http://example.invalid/", Request{Client: d}, 50*time.Millisecond)
	if !IsTimeout(err) {
		t.Fatalf("err=%v want timeout", err)
	}
}

func TestWithTimeoutHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := WithTimeout[user](context.Background(), srv.URL, Request{}, time.Second)
	var he *HTTPError
	if !errors.As(err, &he) || he.Status != 404 {
		t.Fatalf("err=%v want HTTPError 404", err)
	}
	if StatusOf(err) != 404 || err.Error() != "HTTP error! Status: 404" {
		t.Fatalf("unexpected error form: %q", err.Error())
	}
}

func TestParentCancellationIsNotTimeout(t *testing.T) {
	d := newHangingDoer()
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := WithTimeout[user](ctx, "http://example.invalid/", Request{Client: d}, time.Second)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v want context.Canceled", err)
	}
	if IsTimeout(err) {
		t.Fatalf("parent cancellation reported as timeout")
	}
}

func TestDefaultTimeoutApplied(t *testing.T) {
	var deadline time.Time
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":2}`))
	}))
	defer srv.Close()

	c := doerFunc(func(r *http.Request) (*http.Response, error) {
		deadline, _ = r.Context().Deadline()
		return http.DefaultClient.Do(r)
	})
	start := time.Now()
	if _, err := WithTimeout[user](context.Background(), srv.URL, Request{Client: c}, 0); err != nil {
		t.Fatal(err)
	}
	if d := deadline.Sub(start); d < 4*time.Second || d > 6*time.Second {
		t.Fatalf("default deadline %v, want about %v", d, DefaultTimeout)
	}
}

func TestBodyCap(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":12345678}`))
	}))
	defer srv.Close()

	_, err := WithTimeout[user](context.Background(), srv.URL, Request{MaxBytes: 4}, time.Second)
	if !errors.Is(err, ErrTooLarge) {
		t.Fatalf("err=%v want ErrTooLarge", err)
	}
}

func TestPostBodyAndEmptyResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		if r.Method != http.MethodPost || string(b) != `{"name":"x"}` {
			t.Errorf("method=%s body=%s", r.Method, b)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	got, err := WithTimeout[*user](context.Background(), srv.URL, Request{
		Method: http.MethodPost,
		Body:   []byte(`{"name":"x"}`),
	}, time.Second)
	if err != nil || got != nil {
		t.Fatalf("got %v err=%v", got, err)
	}
}

type doerFunc func(*http.Request) (*http.Response, error)

func (f doerFunc) Do(r *http.Request) (*http.Response, error) { return f(r) }
