package codec

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

var (
	// ErrUnknownDiscriminant is returned when a oneof tag or an enum code
	// has no known meaning.
	ErrUnknownDiscriminant = errors.New("unknown discriminant")
	// ErrMalformed is returned for bytes that are not valid protobuf wire
	// data or carry a field with the wrong wire type.
	ErrMalformed = errors.New("malformed message")
)

// Codec converts values of T to and from wire bytes.
type Codec[T any] interface {
	Encode(v T) ([]byte, error)
	Decode(b []byte) (T, error)
}

type funcCodec[T any] struct {
	appendFn func(b []byte, v T) ([]byte, error)
	decodeFn func(b []byte) (T, error)
}

func (c funcCodec[T]) Encode(v T) ([]byte, error) {
	return c.appendFn(nil, v)
}

func (c funcCodec[T]) Decode(b []byte) (T, error) {
	return c.decodeFn(b)
}

func newCodec[T any](appendFn func([]byte, T) ([]byte, error), decodeFn func([]byte) (T, error)) Codec[T] {
	return funcCodec[T]{appendFn: appendFn, decodeFn: decodeFn}
}

// Field is one decoded wire field. Varint and fixed values land in Val;
// length-delimited payloads in Raw.
type Field struct {
	Num  protowire.Number
	Type protowire.Type
	Val  uint64
	Raw  []byte
}

// ParseFields splits a message into its fields in wire order. Groups are
// skipped.
func ParseFields(b []byte) ([]Field, error) {
	var out []Field
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("tag: %v: %w", protowire.ParseError(n), ErrMalformed)
		}
		b = b[n:]

		f := Field{Num: num, Type: typ}
		switch typ {
		case protowire.VarintType:
			f.Val, n = protowire.ConsumeVarint(b)
		case protowire.Fixed64Type:
			f.Val, n = protowire.ConsumeFixed64(b)
		case protowire.Fixed32Type:
			var v uint32
			v, n = protowire.ConsumeFixed32(b)
			f.Val = uint64(v)
		case protowire.BytesType:
			f.Raw, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return nil, fmt.Errorf("field %d: %v: %w", num, protowire.ParseError(n), ErrMalformed)
		}
		b = b[n:]
		out = append(out, f)
	}
	return out, nil
}

// Want checks the wire type of f.
func (f Field) Want(typ protowire.Type) error {
	if f.Type != typ {
		return fmt.Errorf("field %d has wire type %d, want %d: %w", f.Num, f.Type, typ, ErrMalformed)
	}
	return nil
}

func (f Field) Uint32() (uint32, error) {
	if err := f.Want(protowire.VarintType); err != nil {
		return 0, err
	}
	if f.Val > uint64(^uint32(0)) {
		return 0, fmt.Errorf("field %d overflows uint32: %w", f.Num, ErrMalformed)
	}
	return uint32(f.Val), nil
}

func (f Field) Uint64() (uint64, error) {
	if err := f.Want(protowire.VarintType); err != nil {
		return 0, err
	}
	return f.Val, nil
}

func (f Field) Bool() (bool, error) {
	v, err := f.Uint64()
	return v != 0, err
}

// Bytes returns a copy of a length-delimited payload.
func (f Field) Bytes() ([]byte, error) {
	if err := f.Want(protowire.BytesType); err != nil {
		return nil, err
	}
	return append([]byte(nil), f.Raw...), nil
}

// Text returns a length-delimited payload as a string.
func (f Field) Text() (string, error) {
	if err := f.Want(protowire.BytesType); err != nil {
		return "", err
	}
	return string(f.Raw), nil
}

// oneof returns the last field of a message that consists of a single oneof.
// Later fields override earlier ones, as in protobuf.
func oneof(b []byte, last protowire.Number) (Field, bool, error) {
	fields, err := ParseFields(b)
	if err != nil {
		return Field{}, false, err
	}
	if len(fields) == 0 {
		return Field{}, false, nil
	}
	f := fields[len(fields)-1]
	if f.Num < 1 || f.Num > last {
		return Field{}, false, fmt.Errorf("oneof tag %d: %w", f.Num, ErrUnknownDiscriminant)
	}
	return f, true, nil
}

func AppendVarintField(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func AppendBytesField(b []byte, num protowire.Number, v []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func AppendStringField(b []byte, num protowire.Number, v string) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}
