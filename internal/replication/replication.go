package replication

import (
	"errors"
	"fmt"

	"ecstore/internal/ring"
	"ecstore/internal/topology"
)

// ErrNotEnoughMembers is returned when the ring has fewer members than a
// segment needs.
var ErrNotEnoughMembers = errors.New("not enough members")

// LeaderLookup reports the current leader of a segment. designated is the
// member placement picked; implementations decide whether it may lead.
type LeaderLookup interface {
	Leader(bucketID string, segment uint16, designated string) (string, bool)
}

// Pin returns the members that hold a segment of bucket: the head of the
// ring's preference list, designated leader first.
func Pin(r *ring.Ring, bucket *topology.Bucket, segment uint16) ([]string, error) {
	n := int(bucket.ReplicaOrFragmentCount())
	preferred := r.PreferenceList(ring.SegmentKey(bucket.ID(), segment), n)
	if len(preferred) < n {
		return nil, fmt.Errorf("bucket %s segment %d needs %d members, ring has %d: %w",
			bucket.ID(), segment, n, len(preferred), ErrNotEnoughMembers)
	}

	ids := make([]string, 0, n)
	for _, m := range preferred {
		ids = append(ids, m.ID)
	}
	return ids, nil
}

// Placement holds the pinned members of every segment of a bucket, indexed
// by segment. A nil entry is a segment no ring has been large enough to
// hold yet. Once pinned, a segment never moves: ring changes fill empty
// entries and nothing else.
type Placement [][]string

// Place pins every segment of bucket on r.
func Place(r *ring.Ring, bucket *topology.Bucket) Placement {
	return make(Placement, bucket.SegmentCount()).Fill(r, bucket)
}

// Fill pins the segments of p that are still empty on r. It returns p itself
// when every segment is already pinned, otherwise a copy.
func (p Placement) Fill(r *ring.Ring, bucket *topology.Bucket) Placement {
	if p.Complete() {
		return p
	}
	out := make(Placement, len(p))
	for seg, ids := range p {
		if ids == nil {
			ids, _ = Pin(r, bucket, uint16(seg))
		}
		out[seg] = ids
	}
	return out
}

// Complete reports whether every segment is pinned.
func (p Placement) Complete() bool {
	for _, ids := range p {
		if ids == nil {
			return false
		}
	}
	return true
}

// Fits reports whether p was pinned for a bucket with the shape of bucket,
// so it can be kept across a bucket reconfiguration.
func (p Placement) Fits(bucket *topology.Bucket) bool {
	if uint32(len(p)) != bucket.SegmentCount() {
		return false
	}
	for _, ids := range p {
		if ids != nil && len(ids) != int(bucket.ReplicaOrFragmentCount()) {
			return false
		}
	}
	return true
}

// ReplicaSet returns the replica set of a pinned segment, with the leader
// resolved through leaders. A nil lookup accepts the designated leader.
func (p Placement) ReplicaSet(bucket *topology.Bucket, segment uint16, leaders LeaderLookup) (topology.ReplicaSet, error) {
	if int(segment) >= len(p) {
		return topology.ReplicaSet{}, fmt.Errorf("bucket %s has no segment %d: %w",
			bucket.ID(), segment, topology.ErrInvalidTopology)
	}
	ids := p[segment]
	if ids == nil {
		return topology.ReplicaSet{}, fmt.Errorf("bucket %s segment %d needs %d members: %w",
			bucket.ID(), segment, bucket.ReplicaOrFragmentCount(), ErrNotEnoughMembers)
	}

	leader := ids[0]
	if leaders != nil {
		var ok bool
		if leader, ok = leaders.Leader(bucket.ID(), segment, ids[0]); !ok {
			leader = ""
		}
	}

	rs, err := topology.NewReplicaSet(bucket, ids, leader)
	if err != nil && leader != "" {
		// A leader outside the replica set is as good as unknown.
		return topology.NewReplicaSet(bucket, ids, "")
	}
	return rs, err
}
