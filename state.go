package kvstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/unkn0wn-root/kvstate/codec"
	"github.com/unkn0wn-root/kvstate/store"
)

// State mirrors one value of type T to a slot in a backing store.
//
// Structured values (structs, string-keyed maps, pointers to structs) take
// partial updates that are merged shallowly over the current value. Scalar
// values are always replaced. Every change is written to the store before
// it becomes visible in memory; store failures are logged and never stop the
// in-memory update.
//
// State is safe for concurrent use. Two States on the same key are
// last-write-wins.
type State[T any] struct {
	key        string
	storage    *Storage
	codec      codec.Codec[T]
	defaults   T
	ttl        time.Duration
	reset      ResetPolicy
	structured bool
	onChange   func(prev, next T)
	log        Logger
	hooks      Hooks

	mu       sync.Mutex
	value    T
	restored bool
}

func newState[T any](opts Options[T]) (*State[T], error) {
	if opts.Key == "" {
		return nil, fmt.Errorf("kvstate: key is required")
	}
	if opts.Reset != ResetRemove && opts.Reset != ResetRewrite {
		return nil, fmt.Errorf("kvstate: invalid reset policy %v", opts.Reset)
	}

	st := opts.Storage
	if st == nil {
		st = NewStorage(opts.Store, StorageOptions{Logger: opts.Logger, Hooks: opts.Hooks})
	}

	s := &State[T]{
		key:        opts.Key,
		storage:    st,
		codec:      opts.Codec,
		ttl:        opts.TTL,
		reset:      opts.Reset,
		structured: structured(typeOf[T]()),
		onChange:   opts.OnChange,
		log:        st.log,
		hooks:      st.hooks,
		value:      clone(opts.Initial),
	}
	if s.codec == nil {
		s.codec = codec.JSON[T]{}
	}
	if opts.Defaults != nil {
		s.defaults = clone(*opts.Defaults)
	} else {
		s.defaults = clone(opts.Initial)
	}
	return s, nil
}

// Key returns the storage slot name.
func (s *State[T]) Key() string { return s.key }

// Structured reports whether T takes partial updates.
func (s *State[T]) Structured() bool { return s.structured }

// Get returns the current value. Top-level maps and struct pointers are
// copied; nested references are shared and must not be mutated.
func (s *State[T]) Get() T {
	s.mu.Lock()
	defer s.mu.Unlock()
	return clone(s.value)
}

// CanReset reports whether the current value differs from the defaults.
func (s *State[T]) CanReset() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !equalValues(s.value, s.defaults)
}

// Restore loads the stored value once. Structured values merge the stored
// fields over the current value; scalars are replaced. It returns true when
// a stored value was applied. Later calls are no-ops.
func (s *State[T]) Restore(ctx context.Context) bool {
	s.mu.Lock()
	prev, applied := s.restoreLocked(ctx)
	next := s.value
	s.mu.Unlock()

	if applied {
		s.notify(prev, next)
	}
	return applied
}

func (s *State[T]) restoreLocked(ctx context.Context) (prev T, applied bool) {
	if s.restored {
		return prev, false
	}
	s.restored = true

	raw, ok, err := s.storage.get(ctx, s.key)
	if err != nil {
		if !errors.Is(err, store.ErrUnavailable) {
			s.hooks.RestoreFailed(s.key, "access")
			s.log.Warn("restore skipped (store error)", Fields{"key": s.key, "err": err})
		}
		return prev, false
	}
	if !ok || isJSONNull(raw) {
		return prev, false
	}

	restored, err := s.codec.Decode(raw)
	if err != nil {
		s.hooks.RestoreFailed(s.key, "decode")
		s.log.Warn("restore skipped (malformed value)", Fields{"key": s.key, "err": err})
		return prev, false
	}

	next := restored
	if s.structured {
		patch := raw
		if !isJSONObject(raw) {
			// non-JSON codec; re-encode the decoded value
			if patch, err = json.Marshal(restored); err != nil {
				s.hooks.RestoreFailed(s.key, "decode")
				return prev, false
			}
		}
		if next, err = mergeJSON(s.value, patch, false); err != nil {
			s.hooks.RestoreFailed(s.key, "decode")
			s.log.Warn("restore skipped (merge failed)", Fields{"key": s.key, "err": err})
			return prev, false
		}
	}

	prev = s.value
	s.value = next
	s.log.Debug("state restored", Fields{"key": s.key})
	return prev, true
}

// SetState applies v. For structured values v is merged over the current
// value: fields absent from v's JSON form (e.g. omitempty zero values) keep
// their previous value. Scalars are replaced.
func (s *State[T]) SetState(ctx context.Context, v T) error {
	if !s.structured {
		return s.update(ctx, func(T) (T, error) { return v, nil })
	}
	patch, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("kvstate: encode update: %w", err)
	}
	return s.mergeRaw(ctx, patch, false)
}

// Merge applies a partial update keyed by JSON field name. Keys that the
// value type does not have fail with ErrUnknownField and leave the state
// unchanged.
func (s *State[T]) Merge(ctx context.Context, p Patch) error {
	if !s.structured {
		return ErrNotStructured
	}
	patch, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("kvstate: encode patch: %w", err)
	}
	return s.mergeRaw(ctx, patch, true)
}

// SetField updates one field of a structured value. For scalar values it is
// a no-op.
func (s *State[T]) SetField(ctx context.Context, name string, value any) error {
	if !s.structured {
		return nil
	}
	if name == "" {
		return errEmptyField
	}
	return s.Merge(ctx, Patch{name: value})
}

// ResetState puts the defaults back. Under ResetRemove the stored entry is
// deleted; under ResetRewrite the defaults are written to the store.
func (s *State[T]) ResetState(ctx context.Context) {
	s.mu.Lock()
	restore := s.pendingRestore(ctx)

	if s.reset == ResetRewrite {
		if err := s.persist(ctx, s.defaults); err != nil {
			s.log.Error("error while setting storage", Fields{"key": s.key, "err": err})
		}
	} else {
		s.storage.Remove(ctx, s.key)
	}
	prev := s.value
	s.value = clone(s.defaults)
	next := s.value
	s.mu.Unlock()

	restore()
	s.hooks.StateReset(s.key, s.reset)
	s.notify(prev, next)
}

func (s *State[T]) mergeRaw(ctx context.Context, patch []byte, strict bool) error {
	return s.update(ctx, func(cur T) (T, error) {
		return mergeJSON(cur, patch, strict)
	})
}

// update computes the next value under the lock, writes it through and then
// publishes it. Encoding errors abort the update; store errors do not.
func (s *State[T]) update(ctx context.Context, fn func(cur T) (T, error)) error {
	s.mu.Lock()
	restore := s.pendingRestore(ctx)

	next, err := fn(s.value)
	if err != nil {
		s.mu.Unlock()
		restore()
		return err
	}
	if err := s.persist(ctx, next); err != nil {
		var access *StorageAccessError
		if !errors.As(err, &access) {
			s.mu.Unlock()
			restore()
			return err
		}
		s.log.Error("error while setting storage", Fields{"key": s.key, "err": err})
	}
	prev := s.value
	s.value = next
	s.mu.Unlock()

	restore()
	s.notify(prev, next)
	return nil
}

// pendingRestore runs a restore that has not happened yet, with s.mu held.
// The returned func reports its transition to OnChange and must be called
// after the lock is released.
func (s *State[T]) pendingRestore(ctx context.Context) func() {
	prev, applied := s.restoreLocked(ctx)
	if !applied {
		return func() {}
	}
	next := s.value
	return func() { s.notify(prev, next) }
}

func (s *State[T]) persist(ctx context.Context, v T) error {
	return WriteWith(ctx, s.storage, s.key, v, s.codec, s.ttl)
}

func (s *State[T]) notify(prev, next T) {
	if s.onChange != nil {
		s.onChange(clone(prev), clone(next))
	}
}
