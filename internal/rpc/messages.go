package rpc

import (
	"fmt"
	"time"

	"ecstore/internal/codec"
	"ecstore/internal/consistency"
	"ecstore/internal/expect"
	"ecstore/internal/membership"
	"ecstore/internal/object"
)

// ObjectRequest addresses one object. Reads use Consistency, deletes use
// Expect; both carry a deadline.
type ObjectRequest struct {
	Bucket      string
	Object      string
	Deadline    time.Duration
	Expect      expect.Expect
	Consistency consistency.ReadConsistency
}

func (m *ObjectRequest) appendWire(b []byte) ([]byte, error) {
	b = codec.AppendStringField(b, 1, m.Bucket)
	b = codec.AppendStringField(b, 2, m.Object)
	b = codec.AppendVarintField(b, 3, codec.EncodeDeadline(m.Deadline))
	b, err := appendNested(b, 4, codec.Expect, m.Expect)
	if err != nil {
		return nil, err
	}
	return appendNested(b, 5, codec.ReadConsistency, m.Consistency)
}

func (m *ObjectRequest) decodeWire(b []byte) error {
	*m = ObjectRequest{}
	return decodeFields("object request", b, func(f codec.Field) (err error) {
		switch f.Num {
		case 1:
			return setText(f, &m.Bucket)
		case 2:
			return setText(f, &m.Object)
		case 3:
			return setDeadline(f, &m.Deadline)
		case 4:
			m.Expect, err = decodeNested(f, codec.Expect)
		case 5:
			m.Consistency, err = decodeNested(f, codec.ReadConsistency)
		}
		return err
	})
}

// PutRequest writes an object.
type PutRequest struct {
	Bucket   string
	Object   string
	Content  []byte
	Deadline time.Duration
	Expect   expect.Expect
}

func (m *PutRequest) appendWire(b []byte) ([]byte, error) {
	b = codec.AppendStringField(b, 1, m.Bucket)
	b = codec.AppendStringField(b, 2, m.Object)
	b = codec.AppendBytesField(b, 3, m.Content)
	b = codec.AppendVarintField(b, 4, codec.EncodeDeadline(m.Deadline))
	return appendNested(b, 5, codec.Expect, m.Expect)
}

func (m *PutRequest) decodeWire(b []byte) error {
	*m = PutRequest{}
	return decodeFields("put request", b, func(f codec.Field) (err error) {
		switch f.Num {
		case 1:
			return setText(f, &m.Bucket)
		case 2:
			return setText(f, &m.Object)
		case 3:
			return setBytes(f, &m.Content)
		case 4:
			return setDeadline(f, &m.Deadline)
		case 5:
			m.Expect, err = decodeNested(f, codec.Expect)
		}
		return err
	})
}

// ApplyRequest asks a segment leader to run a conditional write.
type ApplyRequest struct {
	Bucket  string
	Segment uint16
	Object  string
	Expect  expect.Expect
	Content []byte
	Deleted bool
}

func (m *ApplyRequest) appendWire(b []byte) ([]byte, error) {
	b = codec.AppendStringField(b, 1, m.Bucket)
	b = codec.AppendVarintField(b, 2, uint64(m.Segment))
	b = codec.AppendStringField(b, 3, m.Object)
	b, err := appendNested(b, 4, codec.Expect, m.Expect)
	if err != nil {
		return nil, err
	}
	b = codec.AppendBytesField(b, 5, m.Content)
	if m.Deleted {
		b = codec.AppendVarintField(b, 6, 1)
	}
	return b, nil
}

func (m *ApplyRequest) decodeWire(b []byte) error {
	*m = ApplyRequest{}
	return decodeFields("apply request", b, func(f codec.Field) (err error) {
		switch f.Num {
		case 1:
			return setText(f, &m.Bucket)
		case 2:
			return setSegment(f, &m.Segment)
		case 3:
			return setText(f, &m.Object)
		case 4:
			m.Expect, err = decodeNested(f, codec.Expect)
		case 5:
			return setBytes(f, &m.Content)
		case 6:
			return setBool(f, &m.Deleted)
		}
		return err
	})
}

// ReplicateRequest pushes an exact version to a follower.
type ReplicateRequest struct {
	Bucket  string
	Segment uint16
	Object  string
	Value   object.VersionedValue
}

func (m *ReplicateRequest) appendWire(b []byte) ([]byte, error) {
	b = codec.AppendStringField(b, 1, m.Bucket)
	b = codec.AppendVarintField(b, 2, uint64(m.Segment))
	b = codec.AppendStringField(b, 3, m.Object)
	return appendNested(b, 4, codec.Value, m.Value)
}

func (m *ReplicateRequest) decodeWire(b []byte) error {
	*m = ReplicateRequest{}
	return decodeFields("replicate request", b, func(f codec.Field) (err error) {
		switch f.Num {
		case 1:
			return setText(f, &m.Bucket)
		case 2:
			return setSegment(f, &m.Segment)
		case 3:
			return setText(f, &m.Object)
		case 4:
			m.Value, err = decodeNested(f, codec.Value)
		}
		return err
	})
}

// SegmentRequest addresses one segment of a bucket.
type SegmentRequest struct {
	Bucket  string
	Segment uint16
}

func (m *SegmentRequest) appendWire(b []byte) ([]byte, error) {
	b = codec.AppendStringField(b, 1, m.Bucket)
	return codec.AppendVarintField(b, 2, uint64(m.Segment)), nil
}

func (m *SegmentRequest) decodeWire(b []byte) error {
	*m = SegmentRequest{}
	return decodeFields("segment request", b, func(f codec.Field) error {
		switch f.Num {
		case 1:
			return setText(f, &m.Bucket)
		case 2:
			return setSegment(f, &m.Segment)
		}
		return nil
	})
}

// VersionRequest addresses the object holding a version in a segment.
type VersionRequest struct {
	Bucket   string
	Segment  uint16
	Version  object.Version
	Deadline time.Duration
}

func (m *VersionRequest) appendWire(b []byte) ([]byte, error) {
	b = codec.AppendStringField(b, 1, m.Bucket)
	b = codec.AppendVarintField(b, 2, uint64(m.Segment))
	b = codec.AppendVarintField(b, 3, uint64(m.Version))
	return codec.AppendVarintField(b, 4, codec.EncodeDeadline(m.Deadline)), nil
}

func (m *VersionRequest) decodeWire(b []byte) error {
	*m = VersionRequest{}
	return decodeFields("version request", b, func(f codec.Field) error {
		switch f.Num {
		case 1:
			return setText(f, &m.Bucket)
		case 2:
			return setSegment(f, &m.Segment)
		case 3:
			return setVersion(f, &m.Version)
		case 4:
			return setDeadline(f, &m.Deadline)
		}
		return nil
	})
}

// RangeRequest addresses the objects of a segment within a version range.
type RangeRequest struct {
	Bucket   string
	Segment  uint16
	Targets  object.Range
	Deadline time.Duration
}

func (m *RangeRequest) appendWire(b []byte) ([]byte, error) {
	b = codec.AppendStringField(b, 1, m.Bucket)
	b = codec.AppendVarintField(b, 2, uint64(m.Segment))
	b = codec.AppendVarintField(b, 3, uint64(m.Targets.Start))
	b = codec.AppendVarintField(b, 4, uint64(m.Targets.End))
	return codec.AppendVarintField(b, 5, codec.EncodeDeadline(m.Deadline)), nil
}

func (m *RangeRequest) decodeWire(b []byte) error {
	*m = RangeRequest{}
	return decodeFields("range request", b, func(f codec.Field) error {
		switch f.Num {
		case 1:
			return setText(f, &m.Bucket)
		case 2:
			return setSegment(f, &m.Segment)
		case 3:
			return setVersion(f, &m.Targets.Start)
		case 4:
			return setVersion(f, &m.Targets.End)
		case 5:
			return setDeadline(f, &m.Deadline)
		}
		return nil
	})
}

// PrefixRequest addresses the objects of a bucket sharing an id prefix.
type PrefixRequest struct {
	Bucket   string
	Prefix   object.Prefix
	Deadline time.Duration
}

func (m *PrefixRequest) appendWire(b []byte) ([]byte, error) {
	b = codec.AppendStringField(b, 1, m.Bucket)
	b = codec.AppendStringField(b, 2, string(m.Prefix))
	return codec.AppendVarintField(b, 3, codec.EncodeDeadline(m.Deadline)), nil
}

func (m *PrefixRequest) decodeWire(b []byte) error {
	*m = PrefixRequest{}
	return decodeFields("prefix request", b, func(f codec.Field) error {
		switch f.Num {
		case 1:
			return setText(f, &m.Bucket)
		case 2:
			var p string
			err := setText(f, &p)
			m.Prefix = object.Prefix(p)
			return err
		case 3:
			return setDeadline(f, &m.Deadline)
		}
		return nil
	})
}

// ValueReply carries a stored value; nil when there is none.
type ValueReply struct {
	Value *object.VersionedValue
}

func (m *ValueReply) appendWire(b []byte) ([]byte, error) {
	if m.Value == nil {
		return b, nil
	}
	return appendNested(b, 1, codec.Value, *m.Value)
}

func (m *ValueReply) decodeWire(b []byte) error {
	*m = ValueReply{}
	return decodeFields("value reply", b, func(f codec.Field) error {
		if f.Num != 1 {
			return nil
		}
		v, err := decodeNested(f, codec.Value)
		if err != nil {
			return err
		}
		m.Value = &v
		return nil
	})
}

// VersionReply carries an object version, if there is one.
type VersionReply struct {
	Version object.Version
	Found   bool
}

func (m *VersionReply) appendWire(b []byte) ([]byte, error) {
	if !m.Found {
		return b, nil
	}
	b = codec.AppendVarintField(b, 1, uint64(m.Version))
	return codec.AppendVarintField(b, 2, 1), nil
}

func (m *VersionReply) decodeWire(b []byte) error {
	*m = VersionReply{}
	return decodeFields("version reply", b, func(f codec.Field) error {
		switch f.Num {
		case 1:
			return setVersion(f, &m.Version)
		case 2:
			return setBool(f, &m.Found)
		}
		return nil
	})
}

// PutReply carries the version a put created.
type PutReply struct {
	Version object.Version
	Created bool
}

func (m *PutReply) appendWire(b []byte) ([]byte, error) {
	b = codec.AppendVarintField(b, 1, uint64(m.Version))
	if m.Created {
		b = codec.AppendVarintField(b, 2, 1)
	}
	return b, nil
}

func (m *PutReply) decodeWire(b []byte) error {
	*m = PutReply{}
	return decodeFields("put reply", b, func(f codec.Field) error {
		switch f.Num {
		case 1:
			return setVersion(f, &m.Version)
		case 2:
			return setBool(f, &m.Created)
		}
		return nil
	})
}

// SummariesReply carries object summaries in ascending id order.
type SummariesReply struct {
	Summaries []object.Summary
}

func (m *SummariesReply) appendWire(b []byte) ([]byte, error) {
	var err error
	for _, s := range m.Summaries {
		if b, err = appendNested(b, 1, codec.Summary, s); err != nil {
			return nil, err
		}
	}
	return b, nil
}

func (m *SummariesReply) decodeWire(b []byte) error {
	*m = SummariesReply{}
	return decodeFields("summaries reply", b, func(f codec.Field) error {
		if f.Num != 1 {
			return nil
		}
		s, err := decodeNested(f, codec.Summary)
		if err != nil {
			return err
		}
		m.Summaries = append(m.Summaries, s)
		return nil
	})
}

// LatestReply carries the latest object of a segment, if any.
type LatestReply struct {
	Summary *object.Summary
}

func (m *LatestReply) appendWire(b []byte) ([]byte, error) {
	if m.Summary == nil {
		return b, nil
	}
	return appendNested(b, 1, codec.Summary, *m.Summary)
}

func (m *LatestReply) decodeWire(b []byte) error {
	*m = LatestReply{}
	return decodeFields("latest reply", b, func(f codec.Field) error {
		if f.Num != 1 {
			return nil
		}
		s, err := decodeNested(f, codec.Summary)
		if err != nil {
			return err
		}
		m.Summary = &s
		return nil
	})
}

// DeleteByPrefixReply reports how many objects a prefix delete removed.
type DeleteByPrefixReply struct {
	Total uint64
}

func (m *DeleteByPrefixReply) appendWire(b []byte) ([]byte, error) {
	return codec.AppendVarintField(b, 1, m.Total), nil
}

func (m *DeleteByPrefixReply) decodeWire(b []byte) error {
	*m = DeleteByPrefixReply{}
	return decodeFields("delete by prefix reply", b, func(f codec.Field) error {
		if f.Num == 1 {
			return setUint64(f, &m.Total)
		}
		return nil
	})
}

// Empty is a message without fields.
type Empty struct{}

func (*Empty) appendWire(b []byte) ([]byte, error) { return b, nil }

func (*Empty) decodeWire(b []byte) error {
	return decodeFields("empty", b, func(codec.Field) error { return nil })
}

// PingRequest is a liveness probe.
type PingRequest struct {
	From string
}

func (m *PingRequest) appendWire(b []byte) ([]byte, error) {
	return codec.AppendStringField(b, 1, m.From), nil
}

func (m *PingRequest) decodeWire(b []byte) error {
	*m = PingRequest{}
	return decodeFields("ping request", b, func(f codec.Field) error {
		if f.Num == 1 {
			return setText(f, &m.From)
		}
		return nil
	})
}

// GossipMessage carries a member's view of the cluster.
type GossipMessage struct {
	From    string
	Members []membership.Member
}

func (m *GossipMessage) appendWire(b []byte) ([]byte, error) {
	b = codec.AppendStringField(b, 1, m.From)
	for _, mem := range m.Members {
		b = codec.AppendBytesField(b, 2, appendMember(nil, mem))
	}
	return b, nil
}

func (m *GossipMessage) decodeWire(b []byte) error {
	*m = GossipMessage{}
	return decodeFields("gossip message", b, func(f codec.Field) error {
		switch f.Num {
		case 1:
			return setText(f, &m.From)
		case 2:
			raw, err := f.Bytes()
			if err != nil {
				return err
			}
			mem, err := decodeMember(raw)
			if err != nil {
				return err
			}
			m.Members = append(m.Members, mem)
		}
		return nil
	})
}

func appendMember(b []byte, m membership.Member) []byte {
	b = codec.AppendStringField(b, 1, m.ID)
	b = codec.AppendStringField(b, 2, m.Addr)
	b = codec.AppendVarintField(b, 3, uint64(m.Status))
	b = codec.AppendVarintField(b, 4, m.Incarnation)
	if !m.LastSeen.IsZero() {
		b = codec.AppendVarintField(b, 5, uint64(m.LastSeen.UnixMilli()))
	}
	return b
}

func decodeMember(b []byte) (membership.Member, error) {
	var m membership.Member
	err := decodeFields("member", b, func(f codec.Field) error {
		switch f.Num {
		case 1:
			return setText(f, &m.ID)
		case 2:
			return setText(f, &m.Addr)
		case 3:
			code, err := f.Uint64()
			if err != nil {
				return err
			}
			if code > uint64(membership.Dead) {
				return fmt.Errorf("member status %d: %w", code, codec.ErrUnknownDiscriminant)
			}
			m.Status = membership.Status(code)
		case 4:
			return setUint64(f, &m.Incarnation)
		case 5:
			ms, err := f.Uint64()
			if err != nil {
				return err
			}
			m.LastSeen = time.UnixMilli(int64(ms))
		}
		return nil
	})
	if err == nil && m.ID == "" {
		err = fmt.Errorf("member without id: %w", codec.ErrMalformed)
	}
	return m, err
}
