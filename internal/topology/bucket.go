package topology

import (
	"errors"
	"fmt"
)

// ErrInvalidTopology is returned when a bucket violates its arithmetic
// invariants.
var ErrInvalidTopology = errors.New("invalid topology")

// MaxSegmentCount is the largest segment count a bucket may have; segment
// ids are 16 bits wide.
const MaxSegmentCount = 1 << 16

// KindTag identifies the redundancy scheme of a bucket.
type KindTag int

const (
	// Metadata buckets keep a single logical copy of each object.
	Metadata KindTag = iota
	// Replicated buckets keep tolerable_faults+1 full replicas per segment.
	Replicated
	// Dispersed buckets erasure-code each segment into data and parity fragments.
	Dispersed
)

// String returns the string representation of KindTag.
func (k KindTag) String() string {
	switch k {
	case Metadata:
		return "metadata"
	case Replicated:
		return "replicated"
	case Dispersed:
		return "dispersed"
	default:
		return "unknown"
	}
}

// ParseKindTag parses the textual form used in configuration files.
func ParseKindTag(s string) (KindTag, error) {
	switch s {
	case "metadata":
		return Metadata, nil
	case "replicated":
		return Replicated, nil
	case "dispersed":
		return Dispersed, nil
	default:
		return 0, fmt.Errorf("unknown bucket kind %q: %w", s, ErrInvalidTopology)
	}
}

// Kind describes a bucket's redundancy parameters.
type Kind struct {
	Tag               KindTag
	SegmentCount      uint32
	TolerableFaults   uint32 // Replicated and Dispersed only
	DataFragmentCount uint32 // Dispersed only
}

// MetadataKind returns a Metadata bucket kind.
func MetadataKind(segments uint32) Kind {
	return Kind{Tag: Metadata, SegmentCount: segments}
}

// ReplicatedKind returns a Replicated bucket kind.
func ReplicatedKind(segments, tolerableFaults uint32) Kind {
	return Kind{Tag: Replicated, SegmentCount: segments, TolerableFaults: tolerableFaults}
}

// DispersedKind returns a Dispersed bucket kind.
func DispersedKind(segments, tolerableFaults, dataFragments uint32) Kind {
	return Kind{
		Tag:               Dispersed,
		SegmentCount:      segments,
		TolerableFaults:   tolerableFaults,
		DataFragmentCount: dataFragments,
	}
}

// Validate checks the arithmetic invariants of the kind. Out-of-range values
// are rejected, never clamped.
func Validate(k Kind) error {
	if k.SegmentCount == 0 {
		return fmt.Errorf("%s bucket: segment_count must be positive: %w", k.Tag, ErrInvalidTopology)
	}
	if k.SegmentCount > MaxSegmentCount {
		return fmt.Errorf("%s bucket: segment_count=%d exceeds %d: %w", k.Tag, k.SegmentCount, MaxSegmentCount, ErrInvalidTopology)
	}

	switch k.Tag {
	case Metadata:
		if k.TolerableFaults != 0 || k.DataFragmentCount != 0 {
			return fmt.Errorf("metadata bucket: redundancy parameters must be zero (tolerable_faults=%d data_fragment_count=%d): %w",
				k.TolerableFaults, k.DataFragmentCount, ErrInvalidTopology)
		}
	case Replicated:
		if k.TolerableFaults >= k.SegmentCount {
			return fmt.Errorf("replicated bucket: tolerable_faults=%d must be less than segment_count=%d: %w",
				k.TolerableFaults, k.SegmentCount, ErrInvalidTopology)
		}
		if k.DataFragmentCount != 0 {
			return fmt.Errorf("replicated bucket: data_fragment_count must be zero, got %d: %w",
				k.DataFragmentCount, ErrInvalidTopology)
		}
	case Dispersed:
		if k.DataFragmentCount == 0 {
			return fmt.Errorf("dispersed bucket: data_fragment_count must be at least 1: %w", ErrInvalidTopology)
		}
		if uint64(k.DataFragmentCount)+uint64(k.TolerableFaults) > uint64(^uint32(0)) {
			return fmt.Errorf("dispersed bucket: fragment count overflows: %w", ErrInvalidTopology)
		}
	default:
		return fmt.Errorf("unknown bucket kind %d: %w", k.Tag, ErrInvalidTopology)
	}
	return nil
}

// Bucket is a validated, immutable bucket record.
type Bucket struct {
	id     string
	seqno  uint32
	device string
	kind   Kind
}

// NewBucket validates kind and returns the bucket snapshot.
func NewBucket(id string, seqno uint32, device string, kind Kind) (*Bucket, error) {
	if id == "" {
		return nil, fmt.Errorf("bucket id cannot be empty: %w", ErrInvalidTopology)
	}
	if err := Validate(kind); err != nil {
		return nil, fmt.Errorf("bucket %s: %w", id, err)
	}
	return &Bucket{id: id, seqno: seqno, device: device, kind: kind}, nil
}

// ID returns the bucket id.
func (b *Bucket) ID() string { return b.id }

// Seqno returns the bucket sequence number.
func (b *Bucket) Seqno() uint32 { return b.seqno }

// Device returns the id of the device the bucket's segments live on.
func (b *Bucket) Device() string { return b.device }

// Kind returns the bucket's redundancy parameters.
func (b *Bucket) Kind() Kind { return b.kind }

// SegmentCount returns the number of segments in the bucket.
func (b *Bucket) SegmentCount() uint32 { return b.kind.SegmentCount }

// ReplicaOrFragmentCount returns how many members hold each segment.
func (b *Bucket) ReplicaOrFragmentCount() uint32 {
	switch b.kind.Tag {
	case Replicated:
		return b.kind.TolerableFaults + 1
	case Dispersed:
		return b.kind.DataFragmentCount + b.kind.TolerableFaults
	default:
		return 1
	}
}

// FaultTolerance returns how many members of a segment may fail while the
// segment stays readable and writable.
func (b *Bucket) FaultTolerance() uint32 {
	if b.kind.Tag == Metadata {
		return 0
	}
	return b.kind.TolerableFaults
}

// MinFragments returns the number of fragments needed to reconstruct a
// segment. It is 1 for non-dispersed buckets, where any replica is complete.
func (b *Bucket) MinFragments() uint32 {
	if b.kind.Tag == Dispersed {
		return b.kind.DataFragmentCount
	}
	return 1
}

// MaxFragmentLoss returns the maximum number of concurrently lost fragments
// or replicas a segment tolerates.
func (b *Bucket) MaxFragmentLoss() uint32 {
	return b.FaultTolerance()
}

// QuorumSize returns the number of members a quorum read must hear from: a
// strict majority, raised to the reconstruction threshold for dispersed
// buckets.
func (b *Bucket) QuorumSize() int {
	n := int(b.ReplicaOrFragmentCount())
	q := n/2 + 1
	if m := int(b.MinFragments()); m > q {
		q = m
	}
	return q
}

// String returns a compact description for logs.
func (b *Bucket) String() string {
	return fmt.Sprintf("%s(%s segments=%d members=%d faults=%d)",
		b.id, b.kind.Tag, b.kind.SegmentCount, b.ReplicaOrFragmentCount(), b.FaultTolerance())
}

// Summary is the listing form of a bucket.
type Summary struct {
	ID     string
	Kind   KindTag
	Device string
}

// Summary returns the listing form of b.
func (b *Bucket) Summary() Summary {
	return Summary{ID: b.id, Kind: b.kind.Tag, Device: b.device}
}
