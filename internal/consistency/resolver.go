package consistency

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"ecstore/internal/metrics"
	"ecstore/internal/object"
	"ecstore/internal/quorum"
	"ecstore/internal/repair"
	"ecstore/internal/topology"
)

// FetchFunc reads one replica. A nil value with a nil error means the replica
// has no record of the object; an error means the replica is unreachable.
type FetchFunc = quorum.ReplicaReadFunc

// Config configures a Resolver.
type Config struct {
	PerReplicaTimeout time.Duration    // bound for a single fetch, clipped to the call deadline
	Logger            zerolog.Logger   // Structured logger (optional)
	Metrics           *metrics.Metrics // optional
}

// Resolver selects replicas for a read and reconciles their answers. It
// holds no per-call state and is safe for concurrent use.
type Resolver struct {
	perReplica time.Duration
	logger     zerolog.Logger
	metrics    *metrics.Metrics
}

// NewResolver creates a new resolver.
func NewResolver(cfg Config) *Resolver {
	perReplica := cfg.PerReplicaTimeout
	if perReplica <= 0 {
		perReplica = quorum.DefaultPerReplicaTimeout
	}
	return &Resolver{
		perReplica: perReplica,
		logger:     cfg.Logger.With().Str("component", "resolver").Logger(),
		metrics:    cfg.Metrics,
	}
}

// Resolution is the outcome of a successful read.
type Resolution struct {
	// Value is the authoritative answer, nil if the object does not exist
	// (no record, or the newest record is a tombstone).
	Value *object.VersionedValue
	// Respondents lists the replicas whose answers were used.
	Respondents []string
	// Stale lists respondents lagging behind the returned version.
	Stale []string
	// Observed holds the versions reported by respondents.
	Observed object.Versions
}

// Found reports whether the object exists.
func (r Resolution) Found() bool {
	return r.Value != nil
}

// Resolve reads according to policy from the members of replicas. All
// fetches share one deadline, which must be positive and still in the
// future. Fetches run concurrently; the call returns as soon as the policy
// is satisfied and abandons whatever is still in flight.
func (r *Resolver) Resolve(ctx context.Context, policy ReadConsistency, replicas topology.ReplicaSet, deadline time.Duration, fetch FetchFunc) (Resolution, error) {
	started := time.Now()

	res, err := r.resolve(ctx, policy, replicas, deadline, fetch)

	outcome := "ok"
	var rerr *ResolveError
	if errors.As(err, &rerr) {
		outcome = rerr.Kind.Error()
	} else if err != nil {
		outcome = "error"
	}
	r.metrics.ObserveResolve(policy.Level.String(), outcome, started)

	ev := r.logger.Debug()
	if err != nil {
		ev = r.logger.Warn().Err(err)
	}
	ev.Stringer("policy", policy).
		Int("respondents", len(res.Respondents)).
		Int("stale", len(res.Stale)).
		Dur("elapsed", time.Since(started)).
		Msg("resolve")

	return res, err
}

func (r *Resolver) resolve(ctx context.Context, policy ReadConsistency, replicas topology.ReplicaSet, deadline time.Duration, fetch FetchFunc) (Resolution, error) {
	if deadline <= 0 {
		return Resolution{}, newResolveError(ErrInvalidDeadline, policy)
	}
	if err := ctx.Err(); err != nil {
		return Resolution{}, newResolveError(ErrInvalidDeadline, policy, err)
	}
	if d, ok := ctx.Deadline(); ok && !time.Now().Before(d) {
		return Resolution{}, newResolveError(ErrInvalidDeadline, policy)
	}
	if replicas.Bucket() == nil || replicas.Len() == 0 {
		return Resolution{}, newResolveError(ErrInsufficientReplicas, policy)
	}

	candidates, required, err := plan(policy, replicas)
	if err != nil {
		return Resolution{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	perReplica := r.perReplica
	if perReplica > deadline {
		perReplica = deadline
	}

	result := quorum.DoRead(ctx, candidates, required, perReplica, fetch)
	r.metrics.ObserveFetches(result.Responses, len(result.Errors), 0)

	if !result.Success {
		return Resolution{}, failure(policy, result, ctx.Err() != nil)
	}

	respondents := make([]string, 0, len(result.Values))
	for _, v := range result.Values {
		respondents = append(respondents, v.ReplicaID)
	}

	if policy.Level == Stale {
		answer := result.Values[0].Value
		res := Resolution{Respondents: respondents}
		if answer != nil {
			res.Observed = object.Versions{answer.Version}
			if !answer.Deleted {
				res.Value = answer.Copy()
			}
		}
		return res, nil
	}

	reconciled, err := repair.Reconcile(result.Values)
	if err != nil {
		return Resolution{}, newResolveError(ErrVersionConflict, policy, err)
	}
	r.metrics.ObserveFetches(0, 0, len(reconciled.Stale))

	res := Resolution{
		Respondents: respondents,
		Stale:       reconciled.Stale,
		Observed:    reconciled.Observed,
	}
	if !reconciled.IsNotFound() {
		res.Value = reconciled.Winner
	}
	return res, nil
}

// plan returns the ordered candidates and the number of answers required.
func plan(policy ReadConsistency, replicas topology.ReplicaSet) ([]string, int, error) {
	switch policy.Level {
	case Consistent:
		leader, ok := replicas.Leader()
		if !ok {
			return nil, 0, newResolveError(ErrLeaderUnavailable, policy)
		}
		return []string{leader}, 1, nil
	case Quorum:
		return replicas.LeaderFirst(), replicas.Bucket().QuorumSize(), nil
	case Subset:
		if policy.N < 1 || policy.N > replicas.Len() {
			return nil, 0, newResolveError(ErrInvalidConsistency, policy)
		}
		return replicas.Members(), policy.N, nil
	case Stale:
		return replicas.Members(), 1, nil
	default:
		return nil, 0, newResolveError(ErrInvalidConsistency, policy)
	}
}

// failure maps an unsuccessful fan-out to the policy's error kind.
func failure(policy ReadConsistency, result quorum.ReadResult, expired bool) error {
	causes := result.Errors
	if expired || result.TimedOut {
		switch policy.Level {
		case Quorum:
			return newResolveError(ErrInsufficientReplicas, policy, append([]error{ErrTimeout}, causes...)...)
		default:
			return newResolveError(ErrTimeout, policy, causes...)
		}
	}
	if policy.Level == Consistent {
		return newResolveError(ErrLeaderUnavailable, policy, causes...)
	}
	return newResolveError(ErrInsufficientReplicas, policy, causes...)
}
