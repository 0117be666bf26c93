package router

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"ecstore/internal/consistency"
	"ecstore/internal/metrics"
	"ecstore/internal/object"
	"ecstore/internal/quorum"
	"ecstore/internal/repair"
	"ecstore/internal/replication"
	"ecstore/internal/ring"
	"ecstore/internal/topology"
)

var (
	// ErrUnknownBucket is returned for a bucket id missing from the current
	// topology snapshot.
	ErrUnknownBucket = errors.New("unknown bucket")
	// ErrUnknownMember is returned when a replica id is not on the ring.
	ErrUnknownMember = errors.New("unknown member")
	// ErrInvalidRequest is returned for requests that can never succeed,
	// such as an empty object id or a segment outside the bucket.
	ErrInvalidRequest = errors.New("invalid request")
)

// Dialer returns the Replica of a remote member.
type Dialer func(m ring.Member) (Replica, error)

// Config configures a Router.
type Config struct {
	Local             Replica                  // the member this router runs on
	Dial              Dialer                   // reaches every other member
	Leaders           replication.LeaderLookup // optional; nil trusts placement
	PerReplicaTimeout time.Duration
	ReadRepair        bool
	Logger            zerolog.Logger
	Metrics           *metrics.Metrics // optional
}

// Router coordinates object operations over the replicas of each segment.
// Ring and topology snapshots are swapped atomically; an operation works on
// the snapshots it loaded when it started.
//
// Segments are pinned to members when a bucket is installed. A new ring
// only supplies member addresses and pins segments that no earlier ring
// could hold; it never moves a pinned segment, since nothing migrates the
// data a segment already holds.
type Router struct {
	local      Replica
	dial       Dialer
	leaders    replication.LeaderLookup
	resolver   *consistency.Resolver
	repairer   *repair.ReadRepairer
	perReplica time.Duration
	logger     zerolog.Logger
	metrics    *metrics.Metrics

	mu   sync.Mutex // serializes SetRing and SetBuckets
	ring atomic.Pointer[ring.Ring]
	topo atomic.Pointer[topologySnapshot]
}

// topologySnapshot holds the buckets and the placement of their segments.
type topologySnapshot struct {
	buckets    map[string]*topology.Bucket
	placements map[string]replication.Placement
}

// New creates a router over the given ring and buckets.
func New(cfg Config, r *ring.Ring, buckets []*topology.Bucket) (*Router, error) {
	if cfg.Local == nil {
		return nil, errors.New("router: local replica is required")
	}
	perReplica := cfg.PerReplicaTimeout
	if perReplica <= 0 {
		perReplica = quorum.DefaultPerReplicaTimeout
	}

	rt := &Router{
		local:      cfg.Local,
		dial:       cfg.Dial,
		leaders:    cfg.Leaders,
		perReplica: perReplica,
		logger:     cfg.Logger.With().Str("component", "router").Str("node", cfg.Local.ID()).Logger(),
		metrics:    cfg.Metrics,
	}
	rt.resolver = consistency.NewResolver(consistency.Config{
		PerReplicaTimeout: perReplica,
		Logger:            cfg.Logger,
		Metrics:           cfg.Metrics,
	})
	if cfg.ReadRepair {
		rt.repairer = repair.NewReadRepairer(repairWriter{rt}, perReplica, cfg.Logger)
	}

	if r == nil {
		r = ring.New(nil, ring.DefaultVnodes)
	}
	rt.SetRing(r)
	if err := rt.SetBuckets(buckets); err != nil {
		return nil, err
	}
	return rt, nil
}

// SetRing installs a new ring snapshot. Segments that are already pinned
// keep their members.
func (r *Router) SetRing(rg *ring.Ring) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.ring.Store(rg)
	if cur := r.topo.Load(); cur != nil {
		next := &topologySnapshot{
			buckets:    cur.buckets,
			placements: make(map[string]replication.Placement, len(cur.placements)),
		}
		for id, b := range cur.buckets {
			next.placements[id] = cur.placements[id].Fill(rg, b)
		}
		r.topo.Store(next)
	}
	r.logger.Info().Int("members", rg.Len()).Msg("ring updated")
}

// SetBuckets installs a new bucket snapshot, replacing the previous one. A
// bucket that keeps its id and shape keeps its placement; any other bucket
// is pinned on the current ring.
func (r *Router) SetBuckets(buckets []*topology.Bucket) error {
	m := make(map[string]*topology.Bucket, len(buckets))
	for _, b := range buckets {
		if b == nil {
			return fmt.Errorf("nil bucket: %w", ErrInvalidRequest)
		}
		if _, dup := m[b.ID()]; dup {
			return fmt.Errorf("duplicate bucket %q: %w", b.ID(), topology.ErrInvalidTopology)
		}
		m[b.ID()] = b
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rg := r.ring.Load()
	placements := make(map[string]replication.Placement, len(m))
	cur := r.topo.Load()
	for id, b := range m {
		if cur != nil {
			if p, ok := cur.placements[id]; ok && p.Fits(b) {
				placements[id] = p.Fill(rg, b)
				continue
			}
		}
		placements[id] = replication.Place(rg, b)
	}
	r.topo.Store(&topologySnapshot{buckets: m, placements: placements})
	return nil
}

// Bucket returns the bucket with the given id from the current snapshot.
func (r *Router) Bucket(id string) (*topology.Bucket, bool) {
	b, ok := r.topo.Load().buckets[id]
	return b, ok
}

// Ring returns the current ring snapshot.
func (r *Router) Ring() *ring.Ring {
	return r.ring.Load()
}

func (r *Router) bucket(id string) (*topology.Bucket, error) {
	b, ok := r.Bucket(id)
	if !ok {
		return nil, fmt.Errorf("bucket %q: %w", id, ErrUnknownBucket)
	}
	return b, nil
}

func (r *Router) replicaSet(b *topology.Bucket, segment uint16) (topology.ReplicaSet, error) {
	if uint32(segment) >= b.SegmentCount() {
		return topology.ReplicaSet{}, fmt.Errorf("segment %d of bucket %s with %d segments: %w",
			segment, b.ID(), b.SegmentCount(), ErrInvalidRequest)
	}
	p, ok := r.topo.Load().placements[b.ID()]
	if !ok {
		return topology.ReplicaSet{}, fmt.Errorf("bucket %q: %w", b.ID(), ErrUnknownBucket)
	}
	return p.ReplicaSet(b, segment, r.leaders)
}

// replica returns the Replica for a member id.
func (r *Router) replica(id string) (Replica, error) {
	if id == r.local.ID() {
		return r.local, nil
	}
	m, ok := r.ring.Load().Member(id)
	if !ok {
		return nil, fmt.Errorf("replica %q: %w", id, ErrUnknownMember)
	}
	if r.dial == nil {
		return nil, fmt.Errorf("replica %q: no dialer: %w", id, ErrUnknownMember)
	}
	return r.dial(m)
}

// leader returns the leader replica of a segment or ErrLeaderUnavailable.
func (r *Router) leader(b *topology.Bucket, segment uint16) (Replica, error) {
	rs, err := r.replicaSet(b, segment)
	if err != nil {
		return nil, err
	}
	id, ok := rs.Leader()
	if !ok {
		return nil, fmt.Errorf("bucket %s segment %d: %w", b.ID(), segment, consistency.ErrLeaderUnavailable)
	}
	return r.replica(id)
}

func (r *Router) fetcher(bucketID, objectID string) consistency.FetchFunc {
	return func(ctx context.Context, replicaID string) (*object.VersionedValue, error) {
		rep, err := r.replica(replicaID)
		if err != nil {
			return nil, err
		}
		return rep.Fetch(ctx, bucketID, objectID)
	}
}

type requestIDKey struct{}

// WithRequestID attaches a request id to ctx.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestID returns the request id carried by ctx, if any.
func RequestID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(requestIDKey{}).(string)
	return id, ok && id != ""
}

// ensureRequestID makes sure ctx carries a request id and returns it.
func ensureRequestID(ctx context.Context) (context.Context, string) {
	if id, ok := RequestID(ctx); ok {
		return ctx, id
	}
	id := uuid.NewString()
	return WithRequestID(ctx, id), id
}

// repairWriter routes read repair writes to replicas.
type repairWriter struct {
	r *Router
}

func (w repairWriter) Replicate(ctx context.Context, replicaID, bucketID, objectID string, value *object.VersionedValue) error {
	b, err := w.r.bucket(bucketID)
	if err != nil {
		return err
	}
	rep, err := w.r.replica(replicaID)
	if err != nil {
		return err
	}
	return rep.Replicate(ctx, bucketID, ring.SegmentOf(objectID, b.SegmentCount()), objectID, value)
}
