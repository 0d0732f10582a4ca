package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/unkn0wn-root/kvstate/store"
)

func TestSetGetDoesNotAlias(t *testing.T) {
	ctx := context.Background()
	s := New(0)
	t.Cleanup(func() { _ = s.Close(ctx) })

	in := []byte("abc")
	if _, err := s.Set(ctx, "k", in, 0); err != nil {
		t.Fatal(err)
	}
	in[0] = 'X'

	got, ok, err := s.Get(ctx, "k")
	if err != nil || !ok || string(got) != "abc" {
		t.Fatalf("got=%q ok=%v err=%v", got, ok, err)
	}
	got[1] = 'Y'
	again, _, _ := s.Get(ctx, "k")
	if string(again) != "abc" {
		t.Fatalf("returned slice aliases stored value: %q", again)
	}
}

func TestLazyExpiry(t *testing.T) {
	ctx := context.Background()
	s := New(0)
	t.Cleanup(func() { _ = s.Close(ctx) })

	now := time.Now()
	s.now = func() time.Time { return now }

	if _, err := s.Set(ctx, "k", []byte("v"), time.Second); err != nil {
		t.Fatal(err)
	}
	now = now.Add(time.Second)
	if _, ok, _ := s.Get(ctx, "k"); ok {
		t.Fatalf("expected expired entry to miss")
	}
	if s.Len() != 0 {
		t.Fatalf("expired entry should be removed on read, len=%d", s.Len())
	}
}

func TestSweepPrunesExpiredOnly(t *testing.T) {
	ctx := context.Background()
	s := New(0)
	t.Cleanup(func() { _ = s.Close(ctx) })

	now := time.Now()
	s.now = func() time.Time { return now }

	_, _ = s.Set(ctx, "old", []byte("1"), time.Second)
	_, _ = s.Set(ctx, "keep", []byte("2"), 0)
	now = now.Add(2 * time.Second)
	s.Sweep()

	if s.Len() != 1 {
		t.Fatalf("len=%d want 1", s.Len())
	}
	if _, ok, _ := s.Get(ctx, "keep"); !ok {
		t.Fatalf("non-expiring entry was pruned")
	}
}

func TestClosedStoreIsUnavailable(t *testing.T) {
	ctx := context.Background()
	s := New(10 * time.Millisecond)
	if err := s.Close(ctx); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(ctx); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if _, _, err := s.Get(ctx, "k"); !errors.Is(err, store.ErrUnavailable) {
		t.Fatalf("Get err=%v want ErrUnavailable", err)
	}
	if _, err := s.Set(ctx, "k", nil, 0); !errors.Is(err, store.ErrUnavailable) {
		t.Fatalf("Set err=%v want ErrUnavailable", err)
	}
	if err := s.Del(ctx, "k"); !errors.Is(err, store.ErrUnavailable) {
		t.Fatalf("Del err=%v want ErrUnavailable", err)
	}
}
