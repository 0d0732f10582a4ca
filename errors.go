package kvstate

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownField is returned by SetField/Merge when a patch names a field
	// the structured value does not have.
	ErrUnknownField = errors.New("kvstate: unknown field")

	// ErrNotStructured is returned by Merge for scalar value types.
	ErrNotStructured = errors.New("kvstate: value is not structured")
)

// StorageAccessError reports a backing store that failed or is unavailable.
// It never escapes State; Lookup and WriteWith return it to callers that ask
// for explicit results.
type StorageAccessError struct {
	Op  string // get | set | del
	Key string
	Err error
}

func (e *StorageAccessError) Error() string {
	return fmt.Sprintf("kvstate: %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *StorageAccessError) Unwrap() error { return e.Err }

// DeserializationError reports stored bytes that the codec could not decode.
type DeserializationError struct {
	Key string
	Err error
}

func (e *DeserializationError) Error() string {
	return fmt.Sprintf("kvstate: decode %q: %v", e.Key, e.Err)
}

func (e *DeserializationError) Unwrap() error { return e.Err }
