package kvstate

import (
	"context"
	"fmt"
	"time"

	"github.com/unkn0wn-root/kvstate/codec"
	"github.com/unkn0wn-root/kvstate/store"
)

// ResetPolicy selects what ResetState does to the backing store.
type ResetPolicy uint8

const (
	// ResetRemove deletes the stored entry; a later restore finds nothing.
	ResetRemove ResetPolicy = iota
	// ResetRewrite stores the default value under the key.
	ResetRewrite
)

func (p ResetPolicy) String() string {
	switch p {
	case ResetRemove:
		return "remove"
	case ResetRewrite:
		return "rewrite"
	default:
		return fmt.Sprintf("ResetPolicy(%d)", uint8(p))
	}
}

// ParseResetPolicy accepts "remove" or "rewrite".
func ParseResetPolicy(s string) (ResetPolicy, error) {
	switch s {
	case "", "remove":
		return ResetRemove, nil
	case "rewrite":
		return ResetRewrite, nil
	default:
		return 0, fmt.Errorf("kvstate: unknown reset policy %q", s)
	}
}

// Options configure a State.
// Only Key is required; others have sensible defaults.
type Options[T any] struct {
	// Required
	Key string // storage slot, e.g. "settings" or "cart"

	Store    store.Store        // nil => in-memory only
	Storage  *Storage           // share an existing Storage; overrides Store/Logger/Hooks
	Codec    codec.Codec[T]     // nil => codec.JSON[T]
	Initial  T                  // starting value before restore
	Defaults *T                 // reset target and CanReset reference; nil => Initial
	TTL      time.Duration      // expiry for every write; 0 => none (see store.Days)
	Reset    ResetPolicy        // default ResetRemove
	Logger   Logger             // if nil, NopLogger is used
	Hooks    Hooks              // if nil, NopHooks is used
	OnChange func(prev, next T) // called after each applied change (restore included), outside the lock

	// DeferRestore skips the restore in New. Call Restore when ready; the
	// first mutation restores first if it has not happened yet.
	DeferRestore bool
}

// New creates a State and, unless DeferRestore is set, restores it from the
// store. Restore failures are not errors.
func New[T any](ctx context.Context, opts Options[T]) (*State[T], error) {
	s, err := newState(opts)
	if err != nil {
		return nil, err
	}
	if !opts.DeferRestore {
		s.Restore(ctx)
	}
	return s, nil
}
