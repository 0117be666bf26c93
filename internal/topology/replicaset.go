package topology

import (
	"fmt"
	"sort"
)

// ReplicaSet is the immutable view of the members holding one segment of a
// bucket. Members are kept in ascending id order.
type ReplicaSet struct {
	bucket  *Bucket
	members []string
	leader  string
}

// NewReplicaSet builds a replica set for bucket. The member count must equal
// the bucket's replica or fragment count, and a non-empty leader must be one
// of the members. An empty leader means the leader is currently unknown.
func NewReplicaSet(bucket *Bucket, members []string, leader string) (ReplicaSet, error) {
	if bucket == nil {
		return ReplicaSet{}, fmt.Errorf("replica set without bucket: %w", ErrInvalidTopology)
	}

	sorted := append([]string(nil), members...)
	sort.Strings(sorted)
	for i := 1; i < len(sorted); i++ {
		if sorted[i] == sorted[i-1] {
			return ReplicaSet{}, fmt.Errorf("bucket %s: duplicate member %s: %w", bucket.ID(), sorted[i], ErrInvalidTopology)
		}
	}

	if want := int(bucket.ReplicaOrFragmentCount()); len(sorted) != want {
		return ReplicaSet{}, fmt.Errorf("bucket %s: %d members, topology requires %d: %w",
			bucket.ID(), len(sorted), want, ErrInvalidTopology)
	}

	if leader != "" {
		idx := sort.SearchStrings(sorted, leader)
		if idx >= len(sorted) || sorted[idx] != leader {
			return ReplicaSet{}, fmt.Errorf("bucket %s: leader %s is not a member: %w", bucket.ID(), leader, ErrInvalidTopology)
		}
	}

	return ReplicaSet{bucket: bucket, members: sorted, leader: leader}, nil
}

// Bucket returns the bucket the set belongs to.
func (rs ReplicaSet) Bucket() *Bucket { return rs.bucket }

// Members returns the member ids in ascending order.
func (rs ReplicaSet) Members() []string {
	return append([]string(nil), rs.members...)
}

// Len returns the number of members.
func (rs ReplicaSet) Len() int { return len(rs.members) }

// Leader returns the current leader and whether it is known.
func (rs ReplicaSet) Leader() (string, bool) {
	return rs.leader, rs.leader != ""
}

// WithLeader returns a copy of the set with a different leader.
func (rs ReplicaSet) WithLeader(leader string) (ReplicaSet, error) {
	return NewReplicaSet(rs.bucket, rs.members, leader)
}

// LeaderFirst returns the members with the leader (if known) moved to the
// front; the rest stay in ascending order.
func (rs ReplicaSet) LeaderFirst() []string {
	if rs.leader == "" {
		return rs.Members()
	}
	out := make([]string, 0, len(rs.members))
	out = append(out, rs.leader)
	for _, m := range rs.members {
		if m != rs.leader {
			out = append(out, m)
		}
	}
	return out
}
