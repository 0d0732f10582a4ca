package codec

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// JSON is the default Codec. The zero value is ready to use.
// With Strict set, Decode rejects unknown object fields and trailing data.
type JSON[V any] struct {
	Strict bool
}

var _ Codec[struct{}] = JSON[struct{}]{}

func (JSON[V]) Encode(v V) ([]byte, error) { return json.Marshal(v) }

func (c JSON[V]) Decode(b []byte) (V, error) {
	var v V
	if !c.Strict {
		err := json.Unmarshal(b, &v)
		return v, err
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&v); err != nil {
		return v, err
	}
	if dec.More() {
		var zero V
		return zero, fmt.Errorf("codec: trailing data after JSON value")
	}
	return v, nil
}
