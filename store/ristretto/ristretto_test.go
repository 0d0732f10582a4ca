package ristretto

import (
	"bytes"
	"context"
	"testing"
)

func TestInvalidConfig(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatalf("expected error for zero config")
	}
}

func TestSetGetDel(t *testing.T) {
	ctx := context.Background()
	s, err := New(Config{NumCounters: 1000, MaxCost: 1 << 20, BufferItems: 64})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = s.Close(ctx) })

	val := []byte(`{"theme":"dark"}`)
	ok, err := s.Set(ctx, "settings", val, 0)
	if err != nil {
		t.Fatalf("Set: %v", err)
	}
	if !ok {
		t.Skip("admission refused; nothing to assert")
	}

	// mutating the caller's slice must not leak into the store
	val[2] = 'X'

	got, hit, err := s.Get(ctx, "settings")
	if err != nil || !hit {
		t.Fatalf("Get: hit=%v err=%v", hit, err)
	}
	if !bytes.Equal(got, []byte(`{"theme":"dark"}`)) {
		t.Fatalf("got %q", got)
	}

	if err := s.Del(ctx, "settings"); err != nil {
		t.Fatalf("Del: %v", err)
	}
	if _, hit, _ := s.Get(ctx, "settings"); hit {
		t.Fatalf("expected miss after Del")
	}
}
