package cookie

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/unkn0wn-root/kvstate/store"
)

func newTestStore(t *testing.T, rawURL string) *Store {
	t.Helper()
	s, err := New(Config{URL: rawURL})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestNewRejectsBadURL(t *testing.T) {
	for _, u := range []string{"ftp://example.com", "http://", "::bad"} {
		if _, err := New(Config{URL: u}); err == nil {
			t.Fatalf("expected error for %q", u)
		}
	}
}

func TestJSONRoundTripThroughEscaping(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, "http://localhost:3000")

	val := []byte(`{"name":"Ada; Lovelace","tags":["a b","c=d"]}`)
	if ok, err := s.Set(ctx, "user", val, store.Days(7)); err != nil || !ok {
		t.Fatalf("Set: ok=%v err=%v", ok, err)
	}
	got, ok, err := s.Get(ctx, "user")
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if string(got) != string(val) {
		t.Fatalf("got %s want %s", got, val)
	}
}

func TestDelExpiresCookie(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, "http://localhost:3000")

	if _, err := s.Set(ctx, "accessToken", []byte("tok"), 0); err != nil {
		t.Fatal(err)
	}
	if err := s.Del(ctx, "accessToken"); err != nil {
		t.Fatalf("Del: %v", err)
	}
	if _, ok, _ := s.Get(ctx, "accessToken"); ok {
		t.Fatalf("cookie should be gone after Del")
	}
	if err := s.Del(ctx, "never-set"); err != nil {
		t.Fatalf("Del missing: %v", err)
	}
}

func TestRejectsInvalidNameAndOversize(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, "http://localhost:3000")

	if _, err := s.Set(ctx, "bad name", []byte("1"), 0); !errors.Is(err, ErrInvalidName) {
		t.Fatalf("err=%v want ErrInvalidName", err)
	}
	big := []byte(strings.Repeat("x", MaxValueSize))
	if _, err := s.Set(ctx, "big", big, 0); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("err=%v want ErrTooLarge", err)
	}
}

func TestSharedJarSeesServerCookies(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "accessToken", Value: "server-token", Path: "/"})
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	s := newTestStore(t, srv.URL)
	hc := &http.Client{Jar: s.Jar(), Timeout: 5 * time.Second}

	resp, err := hc.Get(srv.URL + "/login")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	_ = resp.Body.Close()

	got, ok, err := s.Get(context.Background(), "accessToken")
	if err != nil || !ok || string(got) != "server-token" {
		t.Fatalf("got=%q ok=%v err=%v", got, ok, err)
	}
}

func TestAbsorbAndCookies(t *testing.T) {
	s := newTestStore(t, "http://localhost:3000")

	rec := httptest.NewRecorder()
	http.SetCookie(rec, &http.Cookie{Name: "refreshToken", Value: "r1", Path: "/"})
	s.Absorb(rec.Result())

	cs := s.Cookies()
	if len(cs) != 1 || cs[0].Name != "refreshToken" || cs[0].Value != "r1" || cs[0].Path != "/" {
		t.Fatalf("unexpected cookies: %+v", cs)
	}
}

func TestClosedStore(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, "http://localhost:3000")
	_ = s.Close(ctx)

	if _, _, err := s.Get(ctx, "k"); !errors.Is(err, store.ErrUnavailable) {
		t.Fatalf("Get err=%v", err)
	}
	if _, err := s.Set(ctx, "k", []byte("v"), 0); !errors.Is(err, store.ErrUnavailable) {
		t.Fatalf("Set err=%v", err)
	}
}
