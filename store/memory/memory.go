// Package memory is an in-process Store, the local-storage analogue for
// servers, CLIs and tests.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/unkn0wn-root/kvstate/store"
)

type entry struct {
	v   []byte
	exp time.Time // zero => no TTL
}

// Store keeps entries in a map guarded by a RWMutex.
// Optional sweep loop to prune expired entries; reads also expire lazily.
type Store struct {
	mu     sync.RWMutex
	m      map[string]entry
	closed bool
	now    func() time.Time

	ticker *time.Ticker
	stopCh chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

var _ store.Store = (*Store)(nil)

// New returns a store; sweepInterval<=0 disables the background sweeper.
func New(sweepInterval time.Duration) *Store {
	s := &Store{m: make(map[string]entry), now: time.Now}
	if sweepInterval > 0 {
		s.ticker = time.NewTicker(sweepInterval)
		s.stopCh = make(chan struct{})
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			for {
				select {
				case <-s.ticker.C:
					s.Sweep()
				case <-s.stopCh:
					return
				}
			}
		}()
	}
	return s
}

func (s *Store) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, false, store.ErrUnavailable
	}
	e, ok := s.m[key]
	s.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if !e.exp.IsZero() && !s.now().Before(e.exp) {
		s.mu.Lock()
		if cur, ok := s.m[key]; ok && cur.exp.Equal(e.exp) {
			delete(s.m, key)
		}
		s.mu.Unlock()
		return nil, false, nil
	}
	return append([]byte(nil), e.v...), true, nil
}

func (s *Store) Set(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	var exp time.Time
	if ttl > 0 {
		exp = s.now().Add(ttl)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, store.ErrUnavailable
	}
	s.m[key] = entry{v: append([]byte(nil), value...), exp: exp}
	return true, nil
}

func (s *Store) Del(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return store.ErrUnavailable
	}
	delete(s.m, key)
	return nil
}

// Len reports the number of stored entries, expired ones included until swept.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.m)
}

// Sweep removes every expired entry.
func (s *Store) Sweep() {
	now := s.now()
	s.mu.Lock()
	for k, e := range s.m {
		if !e.exp.IsZero() && !now.Before(e.exp) {
			delete(s.m, k)
		}
	}
	s.mu.Unlock()
}

func (s *Store) Close(_ context.Context) error {
	s.once.Do(func() {
		if s.stopCh != nil {
			close(s.stopCh)
			s.ticker.Stop()
			s.wg.Wait()
		}
		s.mu.Lock()
		s.closed = true
		s.m = nil
		s.mu.Unlock()
	})
	return nil
}
