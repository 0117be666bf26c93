// Package it runs multi-node clusters in process for integration tests.
package it

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc/test/bufconn"

	"ecstore/internal/node"
	"ecstore/internal/ring"
	"ecstore/internal/rpc"
	"ecstore/internal/topology"
)

// Network routes member addresses to in-memory listeners.
type Network struct {
	mu        sync.Mutex
	listeners map[string]*bufconn.Listener
}

// NewNetwork creates an empty network.
func NewNetwork() *Network {
	return &Network{listeners: make(map[string]*bufconn.Listener)}
}

// Listen returns a listener for addr, replacing any previous one.
func (n *Network) Listen(addr string) *bufconn.Listener {
	n.mu.Lock()
	defer n.mu.Unlock()
	lis := bufconn.Listen(1 << 20)
	n.listeners[addr] = lis
	return lis
}

// Dial connects to addr. It fails once addr has been unplugged.
func (n *Network) Dial(ctx context.Context, addr string) (net.Conn, error) {
	n.mu.Lock()
	lis, ok := n.listeners[addr]
	n.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("dial %s: no such member", addr)
	}
	return lis.DialContext(ctx)
}

// Unplug closes the listener of addr and forgets it.
func (n *Network) Unplug(addr string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if lis, ok := n.listeners[addr]; ok {
		_ = lis.Close()
		delete(n.listeners, addr)
	}
}

// Options configures a Cluster.
type Options struct {
	Buckets           []*topology.Bucket
	PerReplicaTimeout time.Duration
	ProbeInterval     time.Duration
	SuspectTimeout    time.Duration
	ReadRepair        bool
	Logger            zerolog.Logger
}

// Cluster runs nodes in process, connected over an in-memory network.
type Cluster struct {
	mu      sync.Mutex
	net     *Network
	clients *rpc.ClientManager
	ids     []string
	nodes   map[string]*node.Node
	done    map[string]chan error
}

// NewCluster creates one node per id; every node knows all the others.
func NewCluster(ids []string, opts Options) (*Cluster, error) {
	table, err := rpc.NewProcedureTable(rpc.DefaultProcedures())
	if err != nil {
		return nil, err
	}
	c := &Cluster{
		net:   NewNetwork(),
		ids:   ids,
		nodes: make(map[string]*node.Node, len(ids)),
		done:  make(map[string]chan error, len(ids)),
	}
	c.clients = rpc.NewClientManager("it-client", table, rpc.WithContextDialer(c.net.Dial))

	peers := make([]ring.Member, 0, len(ids))
	for _, id := range ids {
		peers = append(peers, ring.Member{ID: id, Addr: id})
	}
	for _, id := range ids {
		n, err := node.New(node.Config{
			ID:                id,
			Listen:            id,
			Peers:             peers,
			Buckets:           opts.Buckets,
			Procedures:        table,
			PerReplicaTimeout: opts.PerReplicaTimeout,
			ProbeInterval:     opts.ProbeInterval,
			SuspectTimeout:    opts.SuspectTimeout,
			ReadRepair:        opts.ReadRepair,
			Logger:            opts.Logger,
			ClientOptions:     []rpc.ClientOption{rpc.WithContextDialer(c.net.Dial)},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create node %s: %w", id, err)
		}
		c.nodes[id] = n
	}
	return c, nil
}

// Start serves every node and waits until each answers a probe.
func (c *Cluster) Start(ctx context.Context) error {
	// Every address is reachable before any node starts probing its peers.
	listeners := make(map[string]*bufconn.Listener, len(c.ids))
	for _, id := range c.ids {
		listeners[id] = c.net.Listen(id)
	}

	c.mu.Lock()
	for _, id := range c.ids {
		done := make(chan error, 1)
		c.done[id] = done
		go func(n *node.Node, lis net.Listener) { done <- n.Serve(lis) }(c.nodes[id], listeners[id])
	}
	c.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, id := range c.ids {
		g.Go(func() error {
			if err := c.waitForReady(gctx, id, 10*time.Second); err != nil {
				return fmt.Errorf("node %s failed to become ready: %w", id, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// waitForReady pings a node until it answers.
func (c *Cluster) waitForReady(ctx context.Context, id string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for {
		pingCtx, cancel := context.WithTimeout(ctx, time.Second)
		err := c.clients.Ping(pingCtx, id)
		cancel()
		if err == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("timeout waiting for node %s to be ready: %w", id, err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Node returns a node by id.
func (c *Cluster) Node(id string) *node.Node {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nodes[id]
}

// Client returns an object API client talking to node id.
func (c *Cluster) Client(id string) (*rpc.ObjectClient, error) {
	return c.clients.Objects(id)
}

// Leader returns the designated leader of the segment holding objectID.
func (c *Cluster) Leader(bucketID, objectID string) (string, error) {
	n := c.Node(c.ids[0])
	b, ok := n.Router().Bucket(bucketID)
	if !ok {
		return "", fmt.Errorf("unknown bucket %s", bucketID)
	}
	sets, err := n.Router().Placement(bucketID)
	if err != nil {
		return "", err
	}
	leader, ok := sets[ring.SegmentOf(objectID, b.SegmentCount())].Leader()
	if !ok {
		return "", fmt.Errorf("no leader for %s/%s", bucketID, objectID)
	}
	return leader, nil
}

// StopNode stops a node and unplugs it from the network.
func (c *Cluster) StopNode(id string) error {
	c.mu.Lock()
	n, done := c.nodes[id], c.done[id]
	delete(c.done, id)
	c.mu.Unlock()

	if n == nil {
		return fmt.Errorf("unknown node %s", id)
	}
	n.Stop()
	c.net.Unplug(id)
	if done != nil {
		return <-done
	}
	return nil
}

// Stop stops all nodes in the cluster.
func (c *Cluster) Stop() {
	for _, id := range c.ids {
		_ = c.StopNode(id)
	}
	_ = c.clients.Close()
}
