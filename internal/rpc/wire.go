package rpc

import (
	"fmt"
	"time"

	"google.golang.org/grpc/encoding"
	"google.golang.org/protobuf/encoding/protowire"

	"ecstore/internal/codec"
	"ecstore/internal/object"
)

// CodecName is the gRPC content subtype of the wire codec. Clients select
// it per call; the server picks it from the request's content type.
const CodecName = "ecwire"

func init() {
	encoding.RegisterCodec(wireCodec{})
}

// message is implemented by every request and reply of the services.
type message interface {
	appendWire(b []byte) ([]byte, error)
	decodeWire(b []byte) error
}

// wireCodec marshals messages in protobuf wire format.
type wireCodec struct{}

func (wireCodec) Name() string { return CodecName }

func (wireCodec) Marshal(v any) ([]byte, error) {
	m, ok := v.(message)
	if !ok {
		return nil, fmt.Errorf("%s codec: cannot marshal %T", CodecName, v)
	}
	return m.appendWire(nil)
}

func (wireCodec) Unmarshal(data []byte, v any) error {
	m, ok := v.(message)
	if !ok {
		return fmt.Errorf("%s codec: cannot unmarshal into %T", CodecName, v)
	}
	return m.decodeWire(data)
}

// decodeFields calls fn for every field of b, naming the message in errors.
func decodeFields(name string, b []byte, fn func(f codec.Field) error) error {
	fields, err := codec.ParseFields(b)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	for _, f := range fields {
		if err := fn(f); err != nil {
			return fmt.Errorf("%s field %d: %w", name, f.Num, err)
		}
	}
	return nil
}

func appendNested[T any](b []byte, num protowire.Number, c codec.Codec[T], v T) ([]byte, error) {
	enc, err := c.Encode(v)
	if err != nil {
		return nil, err
	}
	return codec.AppendBytesField(b, num, enc), nil
}

func decodeNested[T any](f codec.Field, c codec.Codec[T]) (T, error) {
	if err := f.Want(protowire.BytesType); err != nil {
		var zero T
		return zero, err
	}
	return c.Decode(f.Raw)
}

func setText(f codec.Field, dst *string) (err error) {
	*dst, err = f.Text()
	return err
}

func setBytes(f codec.Field, dst *[]byte) (err error) {
	*dst, err = f.Bytes()
	return err
}

func setBool(f codec.Field, dst *bool) (err error) {
	*dst, err = f.Bool()
	return err
}

func setUint64(f codec.Field, dst *uint64) (err error) {
	*dst, err = f.Uint64()
	return err
}

func setVersion(f codec.Field, dst *object.Version) error {
	v, err := f.Uint64()
	*dst = object.Version(v)
	return err
}

func setSegment(f codec.Field, dst *uint16) error {
	v, err := f.Uint32()
	if err != nil {
		return err
	}
	if v > 0xffff {
		return fmt.Errorf("segment %d overflows uint16: %w", v, codec.ErrMalformed)
	}
	*dst = uint16(v)
	return nil
}

func setDeadline(f codec.Field, dst *time.Duration) error {
	ms, err := f.Uint64()
	*dst = codec.DecodeDeadline(ms)
	return err
}
