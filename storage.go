package kvstate

import (
	"bytes"
	"context"
	"errors"
	"time"

	"github.com/unkn0wn-root/kvstate/codec"
	"github.com/unkn0wn-root/kvstate/store"
)

// Well-known credential slots.
const (
	AccessTokenKey  = "accessToken"
	RefreshTokenKey = "refreshToken"
)

// StorageOptions tune a Storage. All fields are optional.
type StorageOptions struct {
	Logger Logger // nil => NopLogger
	Hooks  Hooks  // nil => NopHooks
}

// Storage wraps a store.Store with the best-effort policy used throughout
// kvstate: failures are logged and reported to hooks, and a nil or
// unavailable store behaves like an empty one that ignores writes.
type Storage struct {
	st    store.Store
	log   Logger
	hooks Hooks
}

func NewStorage(st store.Store, opts StorageOptions) *Storage {
	return &Storage{
		st:    st,
		log:   coalesce[Logger](opts.Logger, NopLogger{}),
		hooks: coalesce[Hooks](opts.Hooks, NopHooks{}),
	}
}

// Available reports whether a backing store is attached.
func (s *Storage) Available() bool { return s != nil && s.st != nil }

// Store returns the underlying store (nil when none is attached).
func (s *Storage) Store() store.Store {
	if s == nil {
		return nil
	}
	return s.st
}

func (s *Storage) get(ctx context.Context, key string) ([]byte, bool, error) {
	if !s.Available() {
		return nil, false, &StorageAccessError{Op: "get", Key: key, Err: store.ErrUnavailable}
	}
	b, ok, err := s.st.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, store.ErrUnavailable) {
			s.hooks.StoreError("get", key, err)
		}
		return nil, false, &StorageAccessError{Op: "get", Key: key, Err: err}
	}
	return b, ok, nil
}

func (s *Storage) put(ctx context.Context, key string, b []byte, ttl time.Duration) error {
	if !s.Available() {
		return nil
	}
	ok, err := s.st.Set(ctx, key, b, ttl)
	if errors.Is(err, store.ErrUnavailable) {
		s.log.Debug("write skipped (store unavailable)", Fields{"key": key})
		return nil
	}
	if err != nil {
		s.hooks.StoreError("set", key, err)
		return &StorageAccessError{Op: "set", Key: key, Err: err}
	}
	if !ok {
		s.hooks.WriteRejected(key)
		s.log.Debug("write rejected by store (pressure)", Fields{"key": key})
	}
	return nil
}

// Remove deletes key. Failures are logged, never returned.
func (s *Storage) Remove(ctx context.Context, key string) {
	if !s.Available() {
		return
	}
	err := s.st.Del(ctx, key)
	if err == nil || errors.Is(err, store.ErrUnavailable) {
		return
	}
	s.hooks.StoreError("del", key, err)
	s.log.Error("error while removing from storage", Fields{"key": key, "err": err})
}

// GetString reads a raw (non-JSON) slot, e.g. a token set by a server.
func (s *Storage) GetString(ctx context.Context, key string) (string, bool) {
	v, ok, err := Lookup[string](ctx, s, key, codec.String{})
	if err != nil {
		s.logReadErr(key, err)
		return "", false
	}
	return v, ok
}

// SetString writes a raw (non-JSON) slot. Failures are logged.
func (s *Storage) SetString(ctx context.Context, key, value string, ttl time.Duration) {
	if err := s.put(ctx, key, []byte(value), ttl); err != nil {
		s.log.Error("error while setting storage", Fields{"key": key, "err": err})
	}
}

// ClearCredentials removes the access and refresh token slots.
func (s *Storage) ClearCredentials(ctx context.Context) {
	s.Remove(ctx, AccessTokenKey)
	s.Remove(ctx, RefreshTokenKey)
}

func (s *Storage) logReadErr(key string, err error) {
	if s == nil {
		return
	}
	var dec *DeserializationError
	if errors.As(err, &dec) {
		s.log.Warn("error while getting from storage (malformed value)", Fields{"key": key, "err": err})
		return
	}
	if errors.Is(err, store.ErrUnavailable) {
		s.log.Debug("read skipped (store unavailable)", Fields{"key": key})
		return
	}
	s.log.Error("error while getting from storage", Fields{"key": key, "err": err})
}

// Lookup reads and decodes key. A missing key and a stored JSON null both
// yield ok=false with no error. Store failures return *StorageAccessError;
// undecodable bytes return *DeserializationError.
func Lookup[T any](ctx context.Context, s *Storage, key string, c codec.Codec[T]) (T, bool, error) {
	var zero T
	b, ok, err := s.get(ctx, key)
	if err != nil || !ok {
		return zero, false, err
	}
	if isJSONNull(b) {
		return zero, false, nil
	}
	v, err := c.Decode(b)
	if err != nil {
		return zero, false, &DeserializationError{Key: key, Err: err}
	}
	return v, true, nil
}

// Read is the lenient JSON form of Lookup: any failure is logged and reported
// as ok=false.
func Read[T any](ctx context.Context, s *Storage, key string) (T, bool) {
	v, ok, err := Lookup[T](ctx, s, key, codec.JSON[T]{})
	if err != nil {
		s.logReadErr(key, err)
		var zero T
		return zero, false
	}
	return v, ok
}

// WriteWith encodes value with c and stores it under key. A missing or
// unavailable store is a silent no-op.
func WriteWith[T any](ctx context.Context, s *Storage, key string, value T, c codec.Codec[T], ttl time.Duration) error {
	if !s.Available() {
		return nil
	}
	b, err := c.Encode(value)
	if err != nil {
		return err
	}
	return s.put(ctx, key, b, ttl)
}

// Write stores value as JSON. Failures are logged, not returned.
func Write[T any](ctx context.Context, s *Storage, key string, value T, ttl time.Duration) {
	if err := WriteWith(ctx, s, key, value, codec.JSON[T]{}, ttl); err != nil {
		s.log.Error("error while setting storage", Fields{"key": key, "err": err})
	}
}

func isJSONNull(b []byte) bool {
	return bytes.Equal(bytes.TrimSpace(b), []byte("null"))
}
