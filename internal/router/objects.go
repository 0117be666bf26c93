package router

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ecstore/internal/consistency"
	"ecstore/internal/expect"
	"ecstore/internal/object"
	"ecstore/internal/quorum"
	"ecstore/internal/ring"
	"ecstore/internal/topology"
)

// Get reads an object under rc. A nil value means the object does not exist.
func (r *Router) Get(ctx context.Context, bucketID, objectID string, rc consistency.ReadConsistency, deadline time.Duration) (*object.VersionedValue, error) {
	res, err := r.read(ctx, bucketID, objectID, rc, deadline)
	if err != nil {
		return nil, err
	}
	return res.Value, nil
}

// Head returns the version of an object under rc without its content.
func (r *Router) Head(ctx context.Context, bucketID, objectID string, rc consistency.ReadConsistency, deadline time.Duration) (object.Version, bool, error) {
	res, err := r.read(ctx, bucketID, objectID, rc, deadline)
	if err != nil || !res.Found() {
		return 0, false, err
	}
	return res.Value.Version, true, nil
}

func (r *Router) read(ctx context.Context, bucketID, objectID string, rc consistency.ReadConsistency, deadline time.Duration) (consistency.Resolution, error) {
	ctx, reqID := ensureRequestID(ctx)
	if objectID == "" {
		return consistency.Resolution{}, fmt.Errorf("empty object id: %w", ErrInvalidRequest)
	}
	b, err := r.bucket(bucketID)
	if err != nil {
		return consistency.Resolution{}, err
	}
	segment := ring.SegmentOf(objectID, b.SegmentCount())
	rs, err := r.replicaSet(b, segment)
	if err != nil {
		return consistency.Resolution{}, err
	}

	res, err := r.resolver.Resolve(ctx, rc, rs, deadline, r.fetcher(bucketID, objectID))
	if err != nil {
		r.logger.Debug().Err(err).
			Str("request_id", reqID).
			Str("bucket", bucketID).
			Str("object", objectID).
			Stringer("policy", rc).
			Msg("read failed")
		return consistency.Resolution{}, err
	}

	if r.repairer != nil && res.Value != nil && len(res.Stale) > 0 {
		r.repairer.Repair(bucketID, objectID, res.Value, res.Stale)
	}
	return res, nil
}

// Put writes content if e holds for the object's current version. It
// returns the new version and whether the object did not exist before.
func (r *Router) Put(ctx context.Context, bucketID, objectID string, content []byte, e expect.Expect, deadline time.Duration) (object.Version, bool, error) {
	w, err := r.write(ctx, "put", bucketID, objectID, e, content, false, deadline)
	if err != nil {
		return 0, false, err
	}
	return w.applied.Version, w.previous == nil, nil
}

// Delete removes an object if e holds for its current version. It returns
// the version that was removed, or false if there was nothing to delete.
func (r *Router) Delete(ctx context.Context, bucketID, objectID string, e expect.Expect, deadline time.Duration) (object.Version, bool, error) {
	w, err := r.write(ctx, "delete", bucketID, objectID, e, nil, true, deadline)
	if err != nil || w.previous == nil || w.applied == nil {
		return 0, false, err
	}
	return w.previous.Version, true, nil
}

type writeOutcome struct {
	previous *object.VersionedValue // live value seen before the write
	applied  *object.VersionedValue // value written by the leader
}

// write runs a conditional write: a Consistent read of the current version,
// the precondition check, the leader apply and replication to followers.
// A failed precondition never reaches any replica.
func (r *Router) write(ctx context.Context, op, bucketID, objectID string, e expect.Expect, content []byte, deleted bool, deadline time.Duration) (writeOutcome, error) {
	ctx, reqID := ensureRequestID(ctx)
	logger := r.logger.With().
		Str("request_id", reqID).
		Str("op", op).
		Str("bucket", bucketID).
		Str("object", objectID).
		Logger()

	out, err := r.doWrite(ctx, bucketID, objectID, e, content, deleted, deadline)
	r.metrics.ObserveWrite(op, err == nil)
	if err != nil {
		logger.Debug().Err(err).Stringer("expect", e).Msg("write failed")
		return writeOutcome{}, err
	}
	if out.applied != nil {
		logger.Debug().Stringer("version", out.applied.Version).Msg("write applied")
	}
	return out, nil
}

func (r *Router) doWrite(ctx context.Context, bucketID, objectID string, e expect.Expect, content []byte, deleted bool, deadline time.Duration) (writeOutcome, error) {
	if objectID == "" {
		return writeOutcome{}, fmt.Errorf("empty object id: %w", ErrInvalidRequest)
	}
	if deadline <= 0 {
		return writeOutcome{}, fmt.Errorf("deadline %s: %w", deadline, consistency.ErrInvalidDeadline)
	}
	b, err := r.bucket(bucketID)
	if err != nil {
		return writeOutcome{}, err
	}
	segment := ring.SegmentOf(objectID, b.SegmentCount())
	rs, err := r.replicaSet(b, segment)
	if err != nil {
		return writeOutcome{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	res, err := r.resolver.Resolve(ctx, consistency.ConsistentRead(), rs, deadline, r.fetcher(bucketID, objectID))
	if err != nil {
		return writeOutcome{}, err
	}

	var current object.Versions
	if res.Value != nil {
		current = object.Versions{res.Value.Version}
	}
	err = expect.Evaluate(e, current)
	r.metrics.ObservePrecondition(e.Kind.String(), err == nil)
	if err != nil {
		return writeOutcome{}, err
	}
	if deleted && res.Value == nil {
		return writeOutcome{}, nil
	}

	leaderID, _ := rs.Leader()
	leader, err := r.replica(leaderID)
	if err != nil {
		return writeOutcome{}, fmt.Errorf("leader %s: %w: %w", leaderID, consistency.ErrLeaderUnavailable, err)
	}
	// The leader checks e again under its own lock, so a write that raced
	// ahead since the read above still fails the precondition.
	applied, err := leader.Apply(ctx, bucketID, segment, objectID, e, content, deleted)
	if err != nil {
		return writeOutcome{}, fmt.Errorf("apply on leader %s: %w", leaderID, err)
	}
	if applied == nil {
		return writeOutcome{}, nil
	}

	if err := r.replicateToFollowers(ctx, rs, leaderID, segment, objectID, applied); err != nil {
		return writeOutcome{}, err
	}
	return writeOutcome{previous: res.Value, applied: applied}, nil
}

// replicateToFollowers pushes the leader's value to the other members and
// waits until, together with the leader, a quorum holds it.
func (r *Router) replicateToFollowers(ctx context.Context, rs topology.ReplicaSet, leaderID string, segment uint16, objectID string, value *object.VersionedValue) error {
	b := rs.Bucket()
	followers := make([]string, 0, rs.Len()-1)
	for _, id := range rs.Members() {
		if id != leaderID {
			followers = append(followers, id)
		}
	}
	required := min(b.QuorumSize()-1, len(followers))

	result := quorum.DoWrite(ctx, followers, required, r.perReplica, func(ctx context.Context, replicaID string) error {
		rep, err := r.replica(replicaID)
		if err != nil {
			return err
		}
		return rep.Replicate(ctx, b.ID(), segment, objectID, value)
	})
	if result.Success {
		return nil
	}
	if result.TimedOut {
		return fmt.Errorf("replicate %s/%s: %s: %w: %w",
			b.ID(), objectID, result.ErrorMessage(), consistency.ErrInsufficientReplicas, consistency.ErrTimeout)
	}
	return fmt.Errorf("replicate %s/%s: %s: %w", b.ID(), objectID, result.ErrorMessage(), consistency.ErrInsufficientReplicas)
}

// remaining returns the time left before ctx expires, or fallback when ctx
// has no deadline.
func remaining(ctx context.Context, fallback time.Duration) time.Duration {
	d, ok := ctx.Deadline()
	if !ok {
		return fallback
	}
	return time.Until(d)
}

// isPreconditionFailure reports whether err only says the object moved on.
func isPreconditionFailure(err error) bool {
	return errors.Is(err, expect.ErrPreconditionFailed)
}
