// Package codec converts state values to and from the bytes kept in a store.
//
// JSON is the default everywhere because it is the format browsers use for
// local storage and cookies; the binary codecs are for server-side stores.
package codec

// Codec encodes/decodes values V to []byte for storage.
type Codec[V any] interface {
	Encode(V) ([]byte, error)
	Decode([]byte) (V, error)
}
