package rpc

import (
	"context"

	"github.com/rs/zerolog"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"ecstore/internal/membership"
	"ecstore/internal/storage"
)

// ReplicaServer serves a member's object table and membership view to its
// peers.
type ReplicaServer struct {
	store   storage.Store
	members *membership.Membership // nil without membership
	nodeID  string
	logger  zerolog.Logger
}

// NewReplicaServer creates a new replica server instance.
func NewReplicaServer(nodeID string, store storage.Store, members *membership.Membership, logger zerolog.Logger) *ReplicaServer {
	return &ReplicaServer{
		store:   store,
		members: members,
		nodeID:  nodeID,
		logger:  logger.With().Str("component", "replica-server").Str("node", nodeID).Logger(),
	}
}

func invalid(msg string) error {
	return status.Error(codes.InvalidArgument, msg)
}

// Fetch returns the stored record of an object, tombstones included.
func (s *ReplicaServer) Fetch(ctx context.Context, req *ObjectRequest) (*ValueReply, error) {
	if req.Bucket == "" || req.Object == "" {
		return nil, invalid("bucket and object cannot be empty")
	}
	return &ValueReply{Value: s.store.Get(req.Bucket, req.Object)}, nil
}

// Apply runs a conditional write on this member, which must lead the
// object's segment.
func (s *ReplicaServer) Apply(ctx context.Context, req *ApplyRequest) (*ValueReply, error) {
	if req.Bucket == "" || req.Object == "" {
		return nil, invalid("bucket and object cannot be empty")
	}
	v, err := s.store.Apply(req.Bucket, req.Segment, req.Object, req.Expect, req.Content, req.Deleted)
	if err != nil {
		s.logger.Debug().Err(err).
			Str("bucket", req.Bucket).
			Str("object", req.Object).
			Stringer("expect", req.Expect).
			Msg("apply rejected")
		return nil, toStatus(err)
	}
	return &ValueReply{Value: v}, nil
}

// Replicate stores the leader's value with its exact version.
func (s *ReplicaServer) Replicate(ctx context.Context, req *ReplicateRequest) (*Empty, error) {
	if req.Bucket == "" || req.Object == "" {
		return nil, invalid("bucket and object cannot be empty")
	}
	if err := s.store.Replicate(req.Bucket, req.Segment, req.Object, &req.Value); err != nil {
		return nil, toStatus(err)
	}
	return &Empty{}, nil
}

func (s *ReplicaServer) List(ctx context.Context, req *SegmentRequest) (*SummariesReply, error) {
	return &SummariesReply{Summaries: s.store.List(req.Bucket, req.Segment)}, nil
}

func (s *ReplicaServer) ListByPrefix(ctx context.Context, req *PrefixRequest) (*SummariesReply, error) {
	return &SummariesReply{Summaries: s.store.ListByPrefix(req.Bucket, req.Prefix)}, nil
}

func (s *ReplicaServer) Latest(ctx context.Context, req *SegmentRequest) (*LatestReply, error) {
	sum, ok := s.store.Latest(req.Bucket, req.Segment)
	if !ok {
		return &LatestReply{}, nil
	}
	return &LatestReply{Summary: &sum}, nil
}

// Ping handles probes for failure detection.
func (s *ReplicaServer) Ping(ctx context.Context, req *PingRequest) (*Empty, error) {
	if s.members != nil && req.From != "" {
		s.members.MarkAlive(req.From)
	}
	return &Empty{}, nil
}

// Gossip merges the sender's view and answers with ours.
func (s *ReplicaServer) Gossip(ctx context.Context, req *GossipMessage) (*GossipMessage, error) {
	if s.members == nil {
		return nil, status.Error(codes.Unimplemented, "membership is disabled")
	}
	s.logger.Debug().Str("from", req.From).Int("members", len(req.Members)).Msg("gossip received")
	s.members.ApplyGossip(req.Members)
	return &GossipMessage{From: s.nodeID, Members: s.members.Snapshot()}, nil
}
