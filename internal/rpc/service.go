package rpc

import (
	"context"

	"google.golang.org/grpc"
)

const (
	ReplicaServiceName = "ecstore.Replica"
	ObjectServiceName  = "ecstore.Object"
)

// ReplicaService is served by every member to its peers: reads and writes
// of its local object table plus membership probes.
type ReplicaService interface {
	Fetch(context.Context, *ObjectRequest) (*ValueReply, error)
	Apply(context.Context, *ApplyRequest) (*ValueReply, error)
	Replicate(context.Context, *ReplicateRequest) (*Empty, error)
	List(context.Context, *SegmentRequest) (*SummariesReply, error)
	ListByPrefix(context.Context, *PrefixRequest) (*SummariesReply, error)
	Latest(context.Context, *SegmentRequest) (*LatestReply, error)
	Ping(context.Context, *PingRequest) (*Empty, error)
	Gossip(context.Context, *GossipMessage) (*GossipMessage, error)
}

// ObjectService is the client facing object API.
type ObjectService interface {
	Get(context.Context, *ObjectRequest) (*ValueReply, error)
	Head(context.Context, *ObjectRequest) (*VersionReply, error)
	Put(context.Context, *PutRequest) (*PutReply, error)
	Delete(context.Context, *ObjectRequest) (*VersionReply, error)
	List(context.Context, *SegmentRequest) (*SummariesReply, error)
	ListByPrefix(context.Context, *PrefixRequest) (*SummariesReply, error)
	LatestVersion(context.Context, *SegmentRequest) (*LatestReply, error)
	DeleteByVersion(context.Context, *VersionRequest) (*VersionReply, error)
	DeleteByRange(context.Context, *RangeRequest) (*SummariesReply, error)
	DeleteByPrefix(context.Context, *PrefixRequest) (*DeleteByPrefixReply, error)
}

// objectProcedures names the procedure each object method implements.
var objectProcedures = map[string]string{
	"Get":             ProcGetObject,
	"Head":            ProcHeadObject,
	"Put":             ProcPutObject,
	"Delete":          ProcDeleteObject,
	"List":            ProcListObjects,
	"ListByPrefix":    ProcListObjects,
	"LatestVersion":   ProcLatestVersion,
	"DeleteByVersion": ProcDeleteObjectByVersion,
	"DeleteByRange":   ProcDeleteObjectsByRange,
	"DeleteByPrefix":  ProcDeleteObjectsByPrefix,
}

func fullMethod(service, method string) string {
	return "/" + service + "/" + method
}

// unaryHandler adapts a typed service method to grpc.MethodHandler.
func unaryHandler[S any, Req any, Rep any](service, method string, fn func(S, context.Context, *Req) (*Rep, error)) grpc.MethodDesc {
	name := fullMethod(service, method)
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			req := new(Req)
			if err := dec(req); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return fn(srv.(S), ctx, req)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: name}
			return interceptor(ctx, req, info, func(ctx context.Context, r any) (any, error) {
				return fn(srv.(S), ctx, r.(*Req))
			})
		},
	}
}

// ReplicaServiceDesc describes the replica service without generated code.
var ReplicaServiceDesc = grpc.ServiceDesc{
	ServiceName: ReplicaServiceName,
	HandlerType: (*ReplicaService)(nil),
	Methods: []grpc.MethodDesc{
		unaryHandler(ReplicaServiceName, "Fetch", ReplicaService.Fetch),
		unaryHandler(ReplicaServiceName, "Apply", ReplicaService.Apply),
		unaryHandler(ReplicaServiceName, "Replicate", ReplicaService.Replicate),
		unaryHandler(ReplicaServiceName, "List", ReplicaService.List),
		unaryHandler(ReplicaServiceName, "ListByPrefix", ReplicaService.ListByPrefix),
		unaryHandler(ReplicaServiceName, "Latest", ReplicaService.Latest),
		unaryHandler(ReplicaServiceName, "Ping", ReplicaService.Ping),
		unaryHandler(ReplicaServiceName, "Gossip", ReplicaService.Gossip),
	},
	Metadata: "ecstore/replica",
}

// ObjectServiceDesc describes the object service without generated code.
var ObjectServiceDesc = grpc.ServiceDesc{
	ServiceName: ObjectServiceName,
	HandlerType: (*ObjectService)(nil),
	Methods: []grpc.MethodDesc{
		unaryHandler(ObjectServiceName, "Get", ObjectService.Get),
		unaryHandler(ObjectServiceName, "Head", ObjectService.Head),
		unaryHandler(ObjectServiceName, "Put", ObjectService.Put),
		unaryHandler(ObjectServiceName, "Delete", ObjectService.Delete),
		unaryHandler(ObjectServiceName, "List", ObjectService.List),
		unaryHandler(ObjectServiceName, "ListByPrefix", ObjectService.ListByPrefix),
		unaryHandler(ObjectServiceName, "LatestVersion", ObjectService.LatestVersion),
		unaryHandler(ObjectServiceName, "DeleteByVersion", ObjectService.DeleteByVersion),
		unaryHandler(ObjectServiceName, "DeleteByRange", ObjectService.DeleteByRange),
		unaryHandler(ObjectServiceName, "DeleteByPrefix", ObjectService.DeleteByPrefix),
	},
	Metadata: "ecstore/object",
}

// RegisterReplicaService registers srv on s.
func RegisterReplicaService(s grpc.ServiceRegistrar, srv ReplicaService) {
	s.RegisterService(&ReplicaServiceDesc, srv)
}

// RegisterObjectService registers srv on s.
func RegisterObjectService(s grpc.ServiceRegistrar, srv ObjectService) {
	s.RegisterService(&ObjectServiceDesc, srv)
}
