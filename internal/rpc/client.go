package rpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"

	"ecstore/internal/membership"
	"ecstore/internal/ring"
	"ecstore/internal/router"
)

// ClientManager manages gRPC connections to peer members.
type ClientManager struct {
	mu     sync.RWMutex
	conns  map[string]*grpc.ClientConn
	nodeID string
	table  *ProcedureTable
	opts   []grpc.DialOption
}

// ClientOption customizes a ClientManager.
type ClientOption func(*ClientManager)

// WithContextDialer replaces the TCP dialer, e.g. with an in-memory
// listener in tests.
func WithContextDialer(dial func(ctx context.Context, addr string) (net.Conn, error)) ClientOption {
	return func(cm *ClientManager) {
		cm.opts = append(cm.opts, grpc.WithContextDialer(dial))
	}
}

// NewClientManager creates a new client manager. nodeID identifies the
// local member in probes and gossip; table stamps object calls with their
// procedure ids.
func NewClientManager(nodeID string, table *ProcedureTable, options ...ClientOption) *ClientManager {
	cm := &ClientManager{
		conns:  make(map[string]*grpc.ClientConn),
		nodeID: nodeID,
		table:  table,
		opts: []grpc.DialOption{
			grpc.WithTransportCredentials(insecure.NewCredentials()),
			grpc.WithDefaultCallOptions(grpc.CallContentSubtype(CodecName)),
		},
	}
	for _, o := range options {
		o(cm)
	}
	return cm
}

// conn returns the connection to addr, creating it on first use.
func (cm *ClientManager) conn(addr string) (*grpc.ClientConn, error) {
	cm.mu.RLock()
	conn, exists := cm.conns[addr]
	cm.mu.RUnlock()

	if exists {
		return conn, nil
	}

	cm.mu.Lock()
	defer cm.mu.Unlock()

	// Double-check after acquiring write lock
	if conn, exists := cm.conns[addr]; exists {
		return conn, nil
	}

	conn, err := grpc.NewClient("passthrough:///"+addr, cm.opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", addr, err)
	}
	cm.conns[addr] = conn
	return conn, nil
}

// Replica returns the replica client of a member. It matches router.Dialer.
func (cm *ClientManager) Replica(m ring.Member) (router.Replica, error) {
	conn, err := cm.conn(m.Addr)
	if err != nil {
		return nil, err
	}
	return &RemoteReplica{id: m.ID, conn: conn}, nil
}

// Objects returns an object API client for the member at addr.
func (cm *ClientManager) Objects(addr string) (*ObjectClient, error) {
	conn, err := cm.conn(addr)
	if err != nil {
		return nil, err
	}
	return &ObjectClient{conn: conn, table: cm.table}, nil
}

// Ping probes the member at addr. It matches membership.ProbeFunc.
func (cm *ClientManager) Ping(ctx context.Context, addr string) error {
	conn, err := cm.conn(addr)
	if err != nil {
		return err
	}
	return call(ctx, conn, fullMethod(ReplicaServiceName, "Ping"), &PingRequest{From: cm.nodeID}, &Empty{})
}

// Gossip exchanges membership views with the member at addr. It matches
// membership.GossipFunc.
func (cm *ClientManager) Gossip(ctx context.Context, addr string, members []membership.Member) ([]membership.Member, error) {
	conn, err := cm.conn(addr)
	if err != nil {
		return nil, err
	}
	reply := &GossipMessage{}
	req := &GossipMessage{From: cm.nodeID, Members: members}
	if err := call(ctx, conn, fullMethod(ReplicaServiceName, "Gossip"), req, reply); err != nil {
		return nil, err
	}
	return reply.Members, nil
}

// Close closes all client connections.
func (cm *ClientManager) Close() error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	var errs []error
	for addr, conn := range cm.conns {
		if err := conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", addr, err))
		}
	}
	cm.conns = make(map[string]*grpc.ClientConn)
	return errors.Join(errs...)
}

// call invokes method, forwarding the request id of ctx (or a fresh one)
// and rebuilding domain errors from the returned status.
func call(ctx context.Context, conn grpc.ClientConnInterface, method string, req, reply message) error {
	id, ok := router.RequestID(ctx)
	if !ok {
		id = uuid.NewString()
	}
	ctx = metadata.AppendToOutgoingContext(ctx, requestIDKey, id)
	return fromStatus(conn.Invoke(ctx, method, req, reply))
}
