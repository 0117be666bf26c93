package codec

import (
	"fmt"

	"ecstore/internal/object"
)

var (
	// Value encodes a versioned value: version, content and tombstone flag.
	Value = newCodec(appendValue, decodeValue)
	// Summary encodes an object id with its version.
	Summary = newCodec(appendSummary, decodeSummary)
)

func appendValue(b []byte, v object.VersionedValue) ([]byte, error) {
	b = AppendVarintField(b, 1, uint64(v.Version))
	if len(v.Content) > 0 {
		b = AppendBytesField(b, 2, v.Content)
	}
	if v.Deleted {
		b = AppendVarintField(b, 3, 1)
	}
	return b, nil
}

func decodeValue(b []byte) (object.VersionedValue, error) {
	fields, err := ParseFields(b)
	if err != nil {
		return object.VersionedValue{}, err
	}
	var v object.VersionedValue
	for _, f := range fields {
		switch f.Num {
		case 1:
			n, err := f.Uint64()
			if err != nil {
				return object.VersionedValue{}, err
			}
			v.Version = object.Version(n)
		case 2:
			if v.Content, err = f.Bytes(); err != nil {
				return object.VersionedValue{}, err
			}
		case 3:
			n, err := f.Uint64()
			if err != nil {
				return object.VersionedValue{}, err
			}
			v.Deleted = n != 0
		}
	}
	return v, nil
}

func appendSummary(b []byte, s object.Summary) ([]byte, error) {
	b = AppendStringField(b, 1, s.ID)
	return AppendVarintField(b, 2, uint64(s.Version)), nil
}

func decodeSummary(b []byte) (object.Summary, error) {
	fields, err := ParseFields(b)
	if err != nil {
		return object.Summary{}, err
	}
	var s object.Summary
	for _, f := range fields {
		switch f.Num {
		case 1:
			if s.ID, err = f.Text(); err != nil {
				return object.Summary{}, err
			}
		case 2:
			n, err := f.Uint64()
			if err != nil {
				return object.Summary{}, err
			}
			s.Version = object.Version(n)
		}
	}
	if s.ID == "" {
		return object.Summary{}, fmt.Errorf("summary without object id: %w", ErrMalformed)
	}
	return s, nil
}
