package rpc

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"ecstore/internal/consistency"
	"ecstore/internal/expect"
	"ecstore/internal/object"
	"ecstore/internal/router"
)

var _ router.Replica = (*RemoteReplica)(nil)

// RemoteReplica reaches a peer's object table over the replica service.
type RemoteReplica struct {
	id   string
	conn grpc.ClientConnInterface
}

// NewRemoteReplica wraps conn as the replica id.
func NewRemoteReplica(id string, conn grpc.ClientConnInterface) *RemoteReplica {
	return &RemoteReplica{id: id, conn: conn}
}

func (r *RemoteReplica) ID() string { return r.id }

func (r *RemoteReplica) method(name string) string {
	return fullMethod(ReplicaServiceName, name)
}

func (r *RemoteReplica) Fetch(ctx context.Context, bucketID, objectID string) (*object.VersionedValue, error) {
	reply := &ValueReply{}
	if err := call(ctx, r.conn, r.method("Fetch"), &ObjectRequest{Bucket: bucketID, Object: objectID}, reply); err != nil {
		return nil, err
	}
	return reply.Value, nil
}

func (r *RemoteReplica) Apply(ctx context.Context, bucketID string, segment uint16, objectID string, e expect.Expect, content []byte, deleted bool) (*object.VersionedValue, error) {
	req := &ApplyRequest{
		Bucket:  bucketID,
		Segment: segment,
		Object:  objectID,
		Expect:  e,
		Content: content,
		Deleted: deleted,
	}
	reply := &ValueReply{}
	if err := call(ctx, r.conn, r.method("Apply"), req, reply); err != nil {
		return nil, err
	}
	return reply.Value, nil
}

func (r *RemoteReplica) Replicate(ctx context.Context, bucketID string, segment uint16, objectID string, value *object.VersionedValue) error {
	if value == nil {
		return fmt.Errorf("replicate %s/%s: nil value", bucketID, objectID)
	}
	req := &ReplicateRequest{Bucket: bucketID, Segment: segment, Object: objectID, Value: *value}
	return call(ctx, r.conn, r.method("Replicate"), req, &Empty{})
}

func (r *RemoteReplica) List(ctx context.Context, bucketID string, segment uint16) ([]object.Summary, error) {
	reply := &SummariesReply{}
	if err := call(ctx, r.conn, r.method("List"), &SegmentRequest{Bucket: bucketID, Segment: segment}, reply); err != nil {
		return nil, err
	}
	return reply.Summaries, nil
}

func (r *RemoteReplica) ListByPrefix(ctx context.Context, bucketID string, prefix object.Prefix) ([]object.Summary, error) {
	reply := &SummariesReply{}
	if err := call(ctx, r.conn, r.method("ListByPrefix"), &PrefixRequest{Bucket: bucketID, Prefix: prefix}, reply); err != nil {
		return nil, err
	}
	return reply.Summaries, nil
}

func (r *RemoteReplica) Latest(ctx context.Context, bucketID string, segment uint16) (object.Summary, bool, error) {
	reply := &LatestReply{}
	if err := call(ctx, r.conn, r.method("Latest"), &SegmentRequest{Bucket: bucketID, Segment: segment}, reply); err != nil {
		return object.Summary{}, false, err
	}
	if reply.Summary == nil {
		return object.Summary{}, false, nil
	}
	return *reply.Summary, true, nil
}

// ObjectClient calls the object API of a member.
type ObjectClient struct {
	conn  grpc.ClientConnInterface
	table *ProcedureTable
}

// NewObjectClient wraps conn. A nil table sends no procedure ids.
func NewObjectClient(conn grpc.ClientConnInterface, table *ProcedureTable) *ObjectClient {
	return &ObjectClient{conn: conn, table: table}
}

func (c *ObjectClient) call(ctx context.Context, method string, req, reply message) error {
	if c.table != nil {
		id, err := c.table.ID(objectProcedures[method])
		if err != nil {
			return err
		}
		ctx = metadata.AppendToOutgoingContext(ctx, procedureIDKey, fmt.Sprintf("0x%08x", id))
	}
	return call(ctx, c.conn, fullMethod(ObjectServiceName, method), req, reply)
}

func (c *ObjectClient) Get(ctx context.Context, bucketID, objectID string, rc consistency.ReadConsistency, deadline time.Duration) (*object.VersionedValue, error) {
	reply := &ValueReply{}
	req := &ObjectRequest{Bucket: bucketID, Object: objectID, Consistency: rc, Deadline: deadline}
	if err := c.call(ctx, "Get", req, reply); err != nil {
		return nil, err
	}
	return reply.Value, nil
}

func (c *ObjectClient) Head(ctx context.Context, bucketID, objectID string, rc consistency.ReadConsistency, deadline time.Duration) (object.Version, bool, error) {
	reply := &VersionReply{}
	req := &ObjectRequest{Bucket: bucketID, Object: objectID, Consistency: rc, Deadline: deadline}
	if err := c.call(ctx, "Head", req, reply); err != nil {
		return 0, false, err
	}
	return reply.Version, reply.Found, nil
}

func (c *ObjectClient) Put(ctx context.Context, bucketID, objectID string, content []byte, e expect.Expect, deadline time.Duration) (object.Version, bool, error) {
	reply := &PutReply{}
	req := &PutRequest{Bucket: bucketID, Object: objectID, Content: content, Expect: e, Deadline: deadline}
	if err := c.call(ctx, "Put", req, reply); err != nil {
		return 0, false, err
	}
	return reply.Version, reply.Created, nil
}

func (c *ObjectClient) Delete(ctx context.Context, bucketID, objectID string, e expect.Expect, deadline time.Duration) (object.Version, bool, error) {
	reply := &VersionReply{}
	req := &ObjectRequest{Bucket: bucketID, Object: objectID, Expect: e, Deadline: deadline}
	if err := c.call(ctx, "Delete", req, reply); err != nil {
		return 0, false, err
	}
	return reply.Version, reply.Found, nil
}

func (c *ObjectClient) List(ctx context.Context, bucketID string, segment uint16) ([]object.Summary, error) {
	reply := &SummariesReply{}
	if err := c.call(ctx, "List", &SegmentRequest{Bucket: bucketID, Segment: segment}, reply); err != nil {
		return nil, err
	}
	return reply.Summaries, nil
}

func (c *ObjectClient) ListByPrefix(ctx context.Context, bucketID string, prefix object.Prefix) ([]object.Summary, error) {
	reply := &SummariesReply{}
	if err := c.call(ctx, "ListByPrefix", &PrefixRequest{Bucket: bucketID, Prefix: prefix}, reply); err != nil {
		return nil, err
	}
	return reply.Summaries, nil
}

func (c *ObjectClient) LatestVersion(ctx context.Context, bucketID string, segment uint16) (object.Summary, bool, error) {
	reply := &LatestReply{}
	if err := c.call(ctx, "LatestVersion", &SegmentRequest{Bucket: bucketID, Segment: segment}, reply); err != nil {
		return object.Summary{}, false, err
	}
	if reply.Summary == nil {
		return object.Summary{}, false, nil
	}
	return *reply.Summary, true, nil
}

func (c *ObjectClient) DeleteByVersion(ctx context.Context, bucketID string, segment uint16, version object.Version, deadline time.Duration) (bool, error) {
	reply := &VersionReply{}
	req := &VersionRequest{Bucket: bucketID, Segment: segment, Version: version, Deadline: deadline}
	if err := c.call(ctx, "DeleteByVersion", req, reply); err != nil {
		return false, err
	}
	return reply.Found, nil
}

func (c *ObjectClient) DeleteByRange(ctx context.Context, bucketID string, segment uint16, targets object.Range, deadline time.Duration) ([]object.Summary, error) {
	reply := &SummariesReply{}
	req := &RangeRequest{Bucket: bucketID, Segment: segment, Targets: targets, Deadline: deadline}
	if err := c.call(ctx, "DeleteByRange", req, reply); err != nil {
		return nil, err
	}
	return reply.Summaries, nil
}

func (c *ObjectClient) DeleteByPrefix(ctx context.Context, bucketID string, prefix object.Prefix, deadline time.Duration) (object.DeleteByPrefixSummary, error) {
	reply := &DeleteByPrefixReply{}
	req := &PrefixRequest{Bucket: bucketID, Prefix: prefix, Deadline: deadline}
	if err := c.call(ctx, "DeleteByPrefix", req, reply); err != nil {
		return object.DeleteByPrefixSummary{}, err
	}
	return object.DeleteByPrefixSummary{Total: reply.Total}, nil
}
