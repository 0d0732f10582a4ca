// Package kvstate keeps an in-memory value in sync with a slot in a
// key/value backing store, the way web apps mirror state into local storage
// or cookies.
//
// Components:
//   - store.Store: byte store with TTL (memory, cookie jar, Redis, BigCache,
//     Ristretto, SQLite).
//   - codec.Codec[T]: (de)serializes T <-> []byte. JSON by default.
//   - Storage: best-effort Read/Write/Remove helpers over a Store. Failures
//     are logged and reported to Hooks, never returned from Read/Write.
//   - State[T]: the persisted value, with SetState, Merge, SetField,
//     ResetState and CanReset.
//
// Usage:
//
//	st, _ := kvstate.New(ctx, kvstate.Options[Settings]{
//	    Key:     "settings",
//	    Store:   memory.New(0),
//	    Initial: Settings{Theme: "light"},
//	})
//	_ = st.SetField(ctx, "theme", "dark") // persisted, then visible
//	st.CanReset()                         // true
//	st.ResetState(ctx)                    // back to Initial; entry removed
package kvstate
