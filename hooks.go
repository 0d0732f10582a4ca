package kvstate

// Hooks lightweight callbacks for high-signal events.
// Implementations MUST be cheap and non-blocking; they run on the caller's
// goroutine, sometimes while a State lock is held.
type Hooks interface {
	// A stored value could not be restored and the in-memory value stands.
	// reason ∈ {"access", "decode"}
	RestoreFailed(key, reason string)

	// The backing store returned an error.
	// op ∈ {"get", "set", "del"}
	StoreError(op, key string, err error)

	// Store returned ok=false on Set (backpressure/admission).
	WriteRejected(key string)

	// ResetState ran for key under the given policy.
	StateReset(key string, policy ResetPolicy)

	// A 401 response cleared credentials and scheduled a redirect to path.
	Unauthorized(path string)
}

// NopHooks is the default no-op
type NopHooks struct{}

func (NopHooks) RestoreFailed(string, string)     {}
func (NopHooks) StoreError(string, string, error) {}
func (NopHooks) WriteRejected(string)             {}
func (NopHooks) StateReset(string, ResetPolicy)   {}
func (NopHooks) Unauthorized(string)              {}
