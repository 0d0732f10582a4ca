// Package asynchook moves kvstate hook delivery off the caller's goroutine.
// Events go through a bounded queue and are dropped when it is full.
//
// usage:
//
//	raw := sloghooks.New(slog.Default(), sloghooks.Options{StoreErrorEvery: 10})
//	hooks := asynchook.New(raw, 1, 1000) // 1 worker; queue 1000 events
//	defer hooks.Close()
//
//	st, _ := kvstate.New(ctx, kvstate.Options[Settings]{
//	    Key:   "settings",
//	    Store: store,
//	    Hooks: hooks, // or `raw` if you don't want async
//	})
package asynchook

import (
	"sync"
	"sync/atomic"

	"github.com/unkn0wn-root/kvstate"
)

type Hooks struct {
	inner   kvstate.Hooks
	q       chan func()
	wg      sync.WaitGroup
	once    sync.Once
	mu      sync.RWMutex
	closed  bool
	dropped atomic.Uint64
}

var _ kvstate.Hooks = (*Hooks)(nil)

func New(inner kvstate.Hooks, workers, qlen int) *Hooks {
	if inner == nil {
		inner = kvstate.NopHooks{}
	}
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: inner, q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

// Close drains queued events and stops the workers. Events after Close are
// dropped.
func (h *Hooks) Close() {
	h.once.Do(func() {
		h.mu.Lock()
		h.closed = true
		close(h.q)
		h.mu.Unlock()
		h.wg.Wait()
	})
}

// Dropped reports how many events were discarded.
func (h *Hooks) Dropped() uint64 { return h.dropped.Load() }

func (h *Hooks) try(f func()) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		h.dropped.Add(1)
		return
	}
	select {
	case h.q <- f:
	default: // drop
		h.dropped.Add(1)
	}
}

func (h *Hooks) RestoreFailed(k, r string) { h.try(func() { h.inner.RestoreFailed(k, r) }) }
func (h *Hooks) WriteRejected(k string)    { h.try(func() { h.inner.WriteRejected(k) }) }
func (h *Hooks) Unauthorized(path string)  { h.try(func() { h.inner.Unauthorized(path) }) }
func (h *Hooks) StoreError(op, k string, err error) {
	h.try(func() { h.inner.StoreError(op, k, err) })
}
func (h *Hooks) StateReset(k string, p kvstate.ResetPolicy) {
	h.try(func() { h.inner.StateReset(k, p) })
}
