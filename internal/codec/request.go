package codec

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"ecstore/internal/consistency"
	"ecstore/internal/expect"
	"ecstore/internal/object"
)

var (
	// Versions encodes a version set as a packed repeated uint64.
	Versions = newCodec(appendVersions, decodeVersions)
	// Expect encodes a write precondition.
	Expect = newCodec(appendExpect, decodeExpect)
	// ReadConsistency encodes a read policy.
	ReadConsistency = newCodec(appendReadConsistency, decodeReadConsistency)
)

func appendVersions(b []byte, vs object.Versions) ([]byte, error) {
	if len(vs) == 0 {
		return b, nil
	}
	var packed []byte
	for _, v := range vs {
		packed = protowire.AppendVarint(packed, uint64(v))
	}
	return AppendBytesField(b, 1, packed), nil
}

func decodeVersions(b []byte) (object.Versions, error) {
	fields, err := ParseFields(b)
	if err != nil {
		return nil, err
	}
	var out object.Versions
	for _, f := range fields {
		if f.Num != 1 {
			continue
		}
		switch f.Type {
		case protowire.VarintType:
			out = append(out, object.Version(f.Val))
		case protowire.BytesType:
			packed := f.Raw
			for len(packed) > 0 {
				v, n := protowire.ConsumeVarint(packed)
				if n < 0 {
					return nil, fmt.Errorf("packed versions: %v: %w", protowire.ParseError(n), ErrMalformed)
				}
				out = append(out, object.Version(v))
				packed = packed[n:]
			}
		default:
			return nil, f.Want(protowire.BytesType)
		}
	}
	return out, nil
}

func appendExpect(b []byte, e expect.Expect) ([]byte, error) {
	switch e.Kind {
	case expect.Any:
		return AppendVarintField(b, 1, 0), nil
	case expect.None:
		return AppendVarintField(b, 2, 1), nil
	case expect.IfMatch, expect.IfNoneMatch:
		inner, err := appendVersions(nil, e.Versions)
		if err != nil {
			return nil, err
		}
		num := protowire.Number(3)
		if e.Kind == expect.IfNoneMatch {
			num = 4
		}
		return AppendBytesField(b, num, inner), nil
	default:
		return nil, fmt.Errorf("expect kind %d: %w", e.Kind, ErrUnknownDiscriminant)
	}
}

// decodeExpect decodes an Expect; an empty message is Any.
func decodeExpect(b []byte) (expect.Expect, error) {
	f, ok, err := oneof(b, 4)
	if err != nil || !ok {
		return expect.ExpectAny(), err
	}
	switch f.Num {
	case 1, 2:
		if _, err := f.Uint32(); err != nil {
			return expect.Expect{}, err
		}
		if f.Num == 1 {
			return expect.ExpectAny(), nil
		}
		return expect.ExpectNone(), nil
	default:
		if err := f.Want(protowire.BytesType); err != nil {
			return expect.Expect{}, err
		}
		vs, err := decodeVersions(f.Raw)
		if err != nil {
			return expect.Expect{}, err
		}
		if f.Num == 3 {
			return expect.ExpectIfMatch(vs...), nil
		}
		return expect.ExpectIfNoneMatch(vs...), nil
	}
}

func appendReadConsistency(b []byte, rc consistency.ReadConsistency) ([]byte, error) {
	switch rc.Level {
	case consistency.Consistent:
		return AppendVarintField(b, 1, 0), nil
	case consistency.Stale:
		return AppendVarintField(b, 2, 0), nil
	case consistency.Quorum:
		return AppendVarintField(b, 3, 0), nil
	case consistency.Subset:
		if rc.N < 0 || uint64(rc.N) > uint64(^uint32(0)) {
			return nil, fmt.Errorf("subset(%d): %w", rc.N, consistency.ErrInvalidConsistency)
		}
		return AppendVarintField(b, 4, uint64(rc.N)), nil
	default:
		return nil, fmt.Errorf("consistency level %d: %w", rc.Level, ErrUnknownDiscriminant)
	}
}

// decodeReadConsistency decodes a policy; an empty message is Consistent.
func decodeReadConsistency(b []byte) (consistency.ReadConsistency, error) {
	f, ok, err := oneof(b, 4)
	if err != nil || !ok {
		return consistency.ConsistentRead(), err
	}
	n, err := f.Uint32()
	if err != nil {
		return consistency.ReadConsistency{}, err
	}
	switch f.Num {
	case 1:
		return consistency.ConsistentRead(), nil
	case 2:
		return consistency.StaleRead(), nil
	case 3:
		return consistency.QuorumRead(), nil
	default:
		return consistency.SubsetRead(int(n)), nil
	}
}
