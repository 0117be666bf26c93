package router

import (
	"context"
	"fmt"
	"sort"
	"time"

	"ecstore/internal/consistency"
	"ecstore/internal/expect"
	"ecstore/internal/object"
	"ecstore/internal/ring"
	"ecstore/internal/topology"
)

// List returns the live objects of a segment as recorded by its leader.
func (r *Router) List(ctx context.Context, bucketID string, segment uint16) ([]object.Summary, error) {
	b, err := r.bucket(bucketID)
	if err != nil {
		return nil, err
	}
	leader, err := r.leader(b, segment)
	if err != nil {
		return nil, err
	}
	return leader.List(ctx, bucketID, segment)
}

// ListByPrefix returns the live objects of a bucket whose id starts with
// prefix, asking the leader of every segment.
func (r *Router) ListByPrefix(ctx context.Context, bucketID string, prefix object.Prefix) ([]object.Summary, error) {
	b, err := r.bucket(bucketID)
	if err != nil {
		return nil, err
	}

	// One call per distinct leader; a leader only answers for the segments
	// it leads.
	leaders := make(map[uint16]string, b.SegmentCount())
	byLeader := make(map[string]Replica)
	for seg := uint32(0); seg < b.SegmentCount(); seg++ {
		rep, err := r.leader(b, uint16(seg))
		if err != nil {
			return nil, err
		}
		leaders[uint16(seg)] = rep.ID()
		byLeader[rep.ID()] = rep
	}

	var out []object.Summary
	for id, rep := range byLeader {
		sums, err := rep.ListByPrefix(ctx, bucketID, prefix)
		if err != nil {
			return nil, fmt.Errorf("list %s by prefix %q on %s: %w", bucketID, prefix, id, err)
		}
		for _, s := range sums {
			if leaders[ring.SegmentOf(s.ID, b.SegmentCount())] == id {
				out = append(out, s)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// LatestVersion returns the most recently written live object of a segment.
func (r *Router) LatestVersion(ctx context.Context, bucketID string, segment uint16) (object.Summary, bool, error) {
	b, err := r.bucket(bucketID)
	if err != nil {
		return object.Summary{}, false, err
	}
	leader, err := r.leader(b, segment)
	if err != nil {
		return object.Summary{}, false, err
	}
	return leader.Latest(ctx, bucketID, segment)
}

// DeleteByVersion removes the object of a segment that currently has the
// given version. It returns false if no object has that version.
func (r *Router) DeleteByVersion(ctx context.Context, bucketID string, segment uint16, version object.Version, deadline time.Duration) (bool, error) {
	deleted, err := r.deleteMatching(ctx, bucketID, segment, deadline, func(s object.Summary) bool {
		return s.Version == version
	})
	return len(deleted) > 0, err
}

// DeleteByRange removes the objects of a segment whose version falls in rng
// and returns what it removed.
func (r *Router) DeleteByRange(ctx context.Context, bucketID string, segment uint16, rng object.Range, deadline time.Duration) ([]object.Summary, error) {
	if rng.IsEmpty() {
		return nil, nil
	}
	return r.deleteMatching(ctx, bucketID, segment, deadline, func(s object.Summary) bool {
		return rng.Contains(s.Version)
	})
}

// DeleteByPrefix removes every object of a bucket whose id starts with
// prefix.
func (r *Router) DeleteByPrefix(ctx context.Context, bucketID string, prefix object.Prefix, deadline time.Duration) (object.DeleteByPrefixSummary, error) {
	if deadline <= 0 {
		return object.DeleteByPrefixSummary{}, fmt.Errorf("deadline %s: %w", deadline, consistency.ErrInvalidDeadline)
	}
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	sums, err := r.ListByPrefix(ctx, bucketID, prefix)
	if err != nil {
		return object.DeleteByPrefixSummary{}, err
	}
	deleted, err := r.deleteSummaries(ctx, bucketID, sums, deadline)
	return object.DeleteByPrefixSummary{Total: uint64(len(deleted))}, err
}

func (r *Router) deleteMatching(ctx context.Context, bucketID string, segment uint16, deadline time.Duration, match func(object.Summary) bool) ([]object.Summary, error) {
	if deadline <= 0 {
		return nil, fmt.Errorf("deadline %s: %w", deadline, consistency.ErrInvalidDeadline)
	}
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	sums, err := r.List(ctx, bucketID, segment)
	if err != nil {
		return nil, err
	}
	var targets []object.Summary
	for _, s := range sums {
		if match(s) {
			targets = append(targets, s)
		}
	}
	return r.deleteSummaries(ctx, bucketID, targets, deadline)
}

// deleteSummaries deletes each object guarded by IfMatch on its listed
// version. Objects rewritten since the listing are left alone.
func (r *Router) deleteSummaries(ctx context.Context, bucketID string, targets []object.Summary, deadline time.Duration) ([]object.Summary, error) {
	var deleted []object.Summary
	for _, s := range targets {
		left := remaining(ctx, deadline)
		if left <= 0 {
			return deleted, fmt.Errorf("delete %s/%s: %w", bucketID, s.ID, consistency.ErrTimeout)
		}
		_, ok, err := r.Delete(ctx, bucketID, s.ID, expect.ExpectIfMatch(s.Version), left)
		switch {
		case isPreconditionFailure(err):
			continue
		case err != nil:
			return deleted, err
		case ok:
			deleted = append(deleted, s)
		}
	}
	return deleted, nil
}

// Placement returns the replica set of every segment of a bucket.
func (r *Router) Placement(bucketID string) ([]topology.ReplicaSet, error) {
	b, err := r.bucket(bucketID)
	if err != nil {
		return nil, err
	}
	out := make([]topology.ReplicaSet, 0, b.SegmentCount())
	for seg := uint32(0); seg < b.SegmentCount(); seg++ {
		rs, err := r.replicaSet(b, uint16(seg))
		if err != nil {
			return nil, err
		}
		out = append(out, rs)
	}
	return out, nil
}
