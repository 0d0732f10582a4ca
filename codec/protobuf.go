package codec

import (
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
)

// Protobuf stores proto messages in binary wire format.
type Protobuf[T proto.Message] struct {
	new func() T // constructor for a concrete message, e.g. func() *pb.Prefs { return &pb.Prefs{} }
}

func NewProtobuf[T proto.Message](ctor func() T) Protobuf[T] {
	return Protobuf[T]{new: ctor}
}

func (c Protobuf[T]) Encode(v T) ([]byte, error) {
	return proto.Marshal(v)
}

func (c Protobuf[T]) Decode(b []byte) (T, error) {
	m := c.new()
	err := proto.Unmarshal(b, m)
	return m, err
}

// ProtoJSON stores proto messages in their canonical JSON mapping, so the
// bytes stay readable by browser code that expects JSON.
type ProtoJSON[T proto.Message] struct {
	new func() T
}

func NewProtoJSON[T proto.Message](ctor func() T) ProtoJSON[T] {
	return ProtoJSON[T]{new: ctor}
}

func (c ProtoJSON[T]) Encode(v T) ([]byte, error) {
	return protojson.Marshal(v)
}

func (c ProtoJSON[T]) Decode(b []byte) (T, error) {
	m := c.new()
	err := protojson.UnmarshalOptions{DiscardUnknown: true}.Unmarshal(b, m)
	return m, err
}
