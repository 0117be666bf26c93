package rpc

import (
	"context"

	"ecstore/internal/router"
)

// ObjectServer serves the object API from a router. Status conversion
// happens here; logging is left to the server interceptor.
type ObjectServer struct {
	router *router.Router
}

// NewObjectServer creates a new object server instance.
func NewObjectServer(r *router.Router) *ObjectServer {
	return &ObjectServer{router: r}
}

func (s *ObjectServer) Get(ctx context.Context, req *ObjectRequest) (*ValueReply, error) {
	v, err := s.router.Get(ctx, req.Bucket, req.Object, req.Consistency, req.Deadline)
	if err != nil {
		return nil, toStatus(err)
	}
	return &ValueReply{Value: v}, nil
}

func (s *ObjectServer) Head(ctx context.Context, req *ObjectRequest) (*VersionReply, error) {
	v, found, err := s.router.Head(ctx, req.Bucket, req.Object, req.Consistency, req.Deadline)
	if err != nil {
		return nil, toStatus(err)
	}
	return &VersionReply{Version: v, Found: found}, nil
}

func (s *ObjectServer) Put(ctx context.Context, req *PutRequest) (*PutReply, error) {
	v, created, err := s.router.Put(ctx, req.Bucket, req.Object, req.Content, req.Expect, req.Deadline)
	if err != nil {
		return nil, toStatus(err)
	}
	return &PutReply{Version: v, Created: created}, nil
}

func (s *ObjectServer) Delete(ctx context.Context, req *ObjectRequest) (*VersionReply, error) {
	v, found, err := s.router.Delete(ctx, req.Bucket, req.Object, req.Expect, req.Deadline)
	if err != nil {
		return nil, toStatus(err)
	}
	return &VersionReply{Version: v, Found: found}, nil
}

func (s *ObjectServer) List(ctx context.Context, req *SegmentRequest) (*SummariesReply, error) {
	sums, err := s.router.List(ctx, req.Bucket, req.Segment)
	if err != nil {
		return nil, toStatus(err)
	}
	return &SummariesReply{Summaries: sums}, nil
}

func (s *ObjectServer) ListByPrefix(ctx context.Context, req *PrefixRequest) (*SummariesReply, error) {
	sums, err := s.router.ListByPrefix(ctx, req.Bucket, req.Prefix)
	if err != nil {
		return nil, toStatus(err)
	}
	return &SummariesReply{Summaries: sums}, nil
}

func (s *ObjectServer) LatestVersion(ctx context.Context, req *SegmentRequest) (*LatestReply, error) {
	sum, ok, err := s.router.LatestVersion(ctx, req.Bucket, req.Segment)
	if err != nil {
		return nil, toStatus(err)
	}
	if !ok {
		return &LatestReply{}, nil
	}
	return &LatestReply{Summary: &sum}, nil
}

func (s *ObjectServer) DeleteByVersion(ctx context.Context, req *VersionRequest) (*VersionReply, error) {
	ok, err := s.router.DeleteByVersion(ctx, req.Bucket, req.Segment, req.Version, req.Deadline)
	if err != nil {
		return nil, toStatus(err)
	}
	return &VersionReply{Version: req.Version, Found: ok}, nil
}

func (s *ObjectServer) DeleteByRange(ctx context.Context, req *RangeRequest) (*SummariesReply, error) {
	sums, err := s.router.DeleteByRange(ctx, req.Bucket, req.Segment, req.Targets, req.Deadline)
	if err != nil {
		return nil, toStatus(err)
	}
	return &SummariesReply{Summaries: sums}, nil
}

func (s *ObjectServer) DeleteByPrefix(ctx context.Context, req *PrefixRequest) (*DeleteByPrefixReply, error) {
	sum, err := s.router.DeleteByPrefix(ctx, req.Bucket, req.Prefix, req.Deadline)
	if err != nil {
		return nil, toStatus(err)
	}
	return &DeleteByPrefixReply{Total: sum.Total}, nil
}
