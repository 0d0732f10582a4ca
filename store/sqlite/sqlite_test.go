package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/unkn0wn-root/kvstate/store"
)

func openTestStore(t *testing.T, path string) *Store {
	t.Helper()
	s, err := Open(context.Background(), Config{Path: path})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open(context.Background(), Config{}); err == nil {
		t.Fatalf("expected error without path")
	}
}

func TestSetGetUpsertDel(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, filepath.Join(t.TempDir(), "state.db"))

	if _, ok, err := s.Get(ctx, "k"); err != nil || ok {
		t.Fatalf("expected miss, ok=%v err=%v", ok, err)
	}
	if _, err := s.Set(ctx, "k", []byte(`1`), 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, err := s.Set(ctx, "k", []byte(`2`), 0); err != nil {
		t.Fatalf("Set upsert: %v", err)
	}
	got, ok, err := s.Get(ctx, "k")
	if err != nil || !ok || string(got) != "2" {
		t.Fatalf("got=%q ok=%v err=%v", got, ok, err)
	}
	if err := s.Del(ctx, "k"); err != nil {
		t.Fatalf("Del: %v", err)
	}
	if _, ok, _ := s.Get(ctx, "k"); ok {
		t.Fatalf("expected miss after Del")
	}
}

func TestSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.db")

	first, err := Open(ctx, Config{Path: path})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := first.Set(ctx, "settings", []byte(`{"theme":"dark"}`), 0); err != nil {
		t.Fatal(err)
	}
	if err := first.Close(ctx); err != nil {
		t.Fatal(err)
	}

	second := openTestStore(t, path)
	got, ok, err := second.Get(ctx, "settings")
	if err != nil || !ok || string(got) != `{"theme":"dark"}` {
		t.Fatalf("got=%q ok=%v err=%v", got, ok, err)
	}
}

func TestExpiryAndPurge(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, filepath.Join(t.TempDir(), "state.db"))

	now := time.Now()
	s.now = func() time.Time { return now }

	_, _ = s.Set(ctx, "a", []byte("1"), time.Minute)
	_, _ = s.Set(ctx, "b", []byte("2"), time.Minute)
	_, _ = s.Set(ctx, "c", []byte("3"), 0)

	now = now.Add(time.Hour)
	if _, ok, _ := s.Get(ctx, "a"); ok {
		t.Fatalf("expired entry should miss")
	}
	n, err := s.Purge(ctx)
	if err != nil {
		t.Fatalf("Purge: %v", err)
	}
	if n != 1 {
		t.Fatalf("purged %d rows, want 1 (b only; a removed on read)", n)
	}
	if _, ok, _ := s.Get(ctx, "c"); !ok {
		t.Fatalf("non-expiring entry should survive")
	}
}

func TestClosedStoreUnavailable(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, Config{Path: filepath.Join(t.TempDir(), "state.db")})
	if err != nil {
		t.Fatal(err)
	}
	_ = s.Close(ctx)
	if _, _, err := s.Get(ctx, "k"); !errors.Is(err, store.ErrUnavailable) {
		t.Fatalf("err=%v want ErrUnavailable", err)
	}
}
