package codec

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"ecstore/internal/topology"
)

var (
	// Bucket encodes a bucket record. Decoding validates the topology.
	Bucket = newCodec(appendBucket, decodeBucket)
	// BucketSummary encodes a bucket listing entry.
	BucketSummary = newCodec(appendBucketSummary, decodeBucketSummary)
)

func kindTagCode(tag topology.KindTag) (uint64, error) {
	switch tag {
	case topology.Metadata:
		return 0, nil
	case topology.Replicated:
		return 1, nil
	case topology.Dispersed:
		return 2, nil
	default:
		return 0, fmt.Errorf("bucket kind %d: %w", tag, ErrUnknownDiscriminant)
	}
}

func kindTagFromCode(code uint32) (topology.KindTag, error) {
	switch code {
	case 0:
		return topology.Metadata, nil
	case 1:
		return topology.Replicated, nil
	case 2:
		return topology.Dispersed, nil
	default:
		return 0, fmt.Errorf("bucket kind code %d: %w", code, ErrUnknownDiscriminant)
	}
}

func appendBucket(b []byte, bucket *topology.Bucket) ([]byte, error) {
	if bucket == nil {
		return nil, fmt.Errorf("nil bucket: %w", ErrMalformed)
	}
	k := bucket.Kind()
	code, err := kindTagCode(k.Tag)
	if err != nil {
		return nil, err
	}

	var inner []byte
	inner = AppendStringField(inner, 1, bucket.ID())
	inner = AppendVarintField(inner, 2, uint64(bucket.Seqno()))
	inner = AppendStringField(inner, 3, bucket.Device())
	inner = AppendVarintField(inner, 4, uint64(k.SegmentCount))
	inner = AppendVarintField(inner, 5, uint64(k.TolerableFaults))
	if k.Tag == topology.Dispersed {
		inner = AppendVarintField(inner, 6, uint64(k.DataFragmentCount))
	}
	return AppendBytesField(b, protowire.Number(code+1), inner), nil
}

func decodeBucket(b []byte) (*topology.Bucket, error) {
	f, ok, err := oneof(b, 3)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("empty bucket: %w", ErrUnknownDiscriminant)
	}
	if err := f.Want(protowire.BytesType); err != nil {
		return nil, err
	}
	tag, err := kindTagFromCode(uint32(f.Num - 1))
	if err != nil {
		return nil, err
	}

	fields, err := ParseFields(f.Raw)
	if err != nil {
		return nil, err
	}
	var (
		id, device string
		seqno      uint32
		kind       = topology.Kind{Tag: tag}
	)
	for _, g := range fields {
		switch g.Num {
		case 1:
			id, err = g.Text()
		case 2:
			seqno, err = g.Uint32()
		case 3:
			device, err = g.Text()
		case 4:
			kind.SegmentCount, err = g.Uint32()
		case 5:
			kind.TolerableFaults, err = g.Uint32()
		case 6:
			if tag == topology.Dispersed {
				kind.DataFragmentCount, err = g.Uint32()
			}
		}
		if err != nil {
			return nil, err
		}
	}
	return topology.NewBucket(id, seqno, device, kind)
}

func appendBucketSummary(b []byte, s topology.Summary) ([]byte, error) {
	code, err := kindTagCode(s.Kind)
	if err != nil {
		return nil, err
	}
	b = AppendStringField(b, 1, s.ID)
	b = AppendVarintField(b, 2, code)
	return AppendStringField(b, 3, s.Device), nil
}

func decodeBucketSummary(b []byte) (topology.Summary, error) {
	fields, err := ParseFields(b)
	if err != nil {
		return topology.Summary{}, err
	}
	var s topology.Summary
	for _, f := range fields {
		switch f.Num {
		case 1:
			s.ID, err = f.Text()
		case 2:
			var code uint32
			if code, err = f.Uint32(); err == nil {
				s.Kind, err = kindTagFromCode(code)
			}
		case 3:
			s.Device, err = f.Text()
		}
		if err != nil {
			return topology.Summary{}, err
		}
	}
	return s, nil
}
