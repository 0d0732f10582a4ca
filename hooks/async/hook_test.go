package asynchook

import (
	"sync"
	"testing"

	"github.com/unkn0wn-root/kvstate"
)

type recorder struct {
	kvstate.NopHooks
	mu   sync.Mutex
	keys []string
	gate chan struct{}
}

func (r *recorder) WriteRejected(k string) {
	if r.gate != nil {
		<-r.gate
	}
	r.mu.Lock()
	r.keys = append(r.keys, k)
	r.mu.Unlock()
}

func TestDeliversAndDrainsOnClose(t *testing.T) {
	rec := &recorder{}
	h := New(rec, 2, 16)
	for i := 0; i < 10; i++ {
		h.WriteRejected("k")
	}
	h.Close()

	if len(rec.keys) != 10 || h.Dropped() != 0 {
		t.Fatalf("delivered=%d dropped=%d", len(rec.keys), h.Dropped())
	}
	h.WriteRejected("late")
	if h.Dropped() != 1 {
		t.Fatalf("event after Close should be dropped")
	}
}

func TestDropsWhenFull(t *testing.T) {
	rec := &recorder{gate: make(chan struct{})}
	h := New(rec, 1, 1)

	// one event blocks the worker, one fills the queue, the rest drop
	for i := 0; i < 5; i++ {
		h.WriteRejected("k")
	}
	close(rec.gate)
	h.Close()

	if got := uint64(len(rec.keys)) + h.Dropped(); got != 5 {
		t.Fatalf("delivered+dropped=%d want 5", got)
	}
	if h.Dropped() == 0 {
		t.Fatalf("expected drops with a full queue")
	}
}
