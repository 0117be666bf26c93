// Package node assembles a cluster member from its store, router, membership
// and gRPC services.
package node

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"

	"ecstore/internal/device"
	"ecstore/internal/membership"
	"ecstore/internal/metrics"
	"ecstore/internal/ring"
	"ecstore/internal/router"
	"ecstore/internal/rpc"
	"ecstore/internal/storage"
	"ecstore/internal/topology"
)

// Config configures a Node.
type Config struct {
	ID     string
	Listen string
	Peers  []ring.Member // seeds; the local member may appear and is skipped
	VNodes int

	Buckets    []*topology.Bucket
	Devices    *device.Registry // optional; places every bucket on its device
	Procedures *rpc.ProcedureTable

	PerReplicaTimeout time.Duration
	ProbeInterval     time.Duration
	SuspectTimeout    time.Duration
	ReadRepair        bool

	MetricsAddr string // empty disables the metrics endpoint
	Logger      zerolog.Logger

	// ClientOptions customize connections to peers, e.g. an in-memory
	// dialer in tests.
	ClientOptions []rpc.ClientOption
}

// Node represents a single node in the distributed system: a replica of
// the object table, the object API served through its router, and its
// membership view.
type Node struct {
	cfg        Config
	logger     zerolog.Logger
	store      *storage.InMemoryStore
	members    *membership.Membership
	clients    *rpc.ClientManager
	router     *router.Router
	grpcServer *grpc.Server
	registry   *prometheus.Registry
	metricsSrv *http.Server
	placements map[string]device.Placement

	mu      sync.Mutex
	started bool
	stopped bool
}

// New creates a node. Nothing listens until Start or Serve.
func New(cfg Config) (*Node, error) {
	if cfg.ID == "" {
		return nil, errors.New("node: id is required")
	}
	if cfg.VNodes <= 0 {
		cfg.VNodes = ring.DefaultVnodes
	}
	if cfg.Procedures == nil {
		table, err := rpc.NewProcedureTable(rpc.DefaultProcedures())
		if err != nil {
			return nil, err
		}
		cfg.Procedures = table
	}

	logger := cfg.Logger.With().Str("node", cfg.ID).Logger()
	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	n := &Node{
		cfg:        cfg,
		logger:     logger,
		store:      storage.NewInMemoryStore(cfg.ID),
		clients:    rpc.NewClientManager(cfg.ID, cfg.Procedures, cfg.ClientOptions...),
		registry:   registry,
		placements: make(map[string]device.Placement),
	}

	n.members = membership.New(membership.Config{
		LocalID:        cfg.ID,
		LocalAddr:      cfg.Listen,
		ProbeInterval:  cfg.ProbeInterval,
		SuspectTimeout: cfg.SuspectTimeout,
		Logger:         logger,
	})
	n.members.AddSeeds(cfg.Peers)

	rt, err := router.New(router.Config{
		Local:             router.NewLocalReplica(cfg.ID, n.store),
		Dial:              n.clients.Replica,
		Leaders:           n.members,
		PerReplicaTimeout: cfg.PerReplicaTimeout,
		ReadRepair:        cfg.ReadRepair,
		Logger:            logger,
		Metrics:           m,
	}, ring.New(n.members.RingMembers(), cfg.VNodes), cfg.Buckets)
	if err != nil {
		return nil, fmt.Errorf("node %s: %w", cfg.ID, err)
	}
	n.router = rt
	n.members.SetOnChange(n.onMembershipChanged)

	if cfg.Devices != nil {
		alloc := device.NewAllocator(logger, m)
		for _, b := range cfg.Buckets {
			p, err := alloc.PlaceOnDevice(cfg.Devices, b.Device(), b.SegmentCount())
			if err != nil {
				return nil, fmt.Errorf("node %s: place bucket %s: %w", cfg.ID, b.ID(), err)
			}
			n.placements[b.ID()] = p
		}
	}

	n.grpcServer = rpc.NewGRPCServer(cfg.Procedures, logger)
	rpc.RegisterReplicaService(n.grpcServer, rpc.NewReplicaServer(cfg.ID, n.store, n.members, logger))
	rpc.RegisterObjectService(n.grpcServer, rpc.NewObjectServer(rt))
	return n, nil
}

// ID returns the node id.
func (n *Node) ID() string { return n.cfg.ID }

// Router returns the node's router.
func (n *Node) Router() *router.Router { return n.router }

// Store returns the node's local object table.
func (n *Node) Store() *storage.InMemoryStore { return n.store }

// Membership returns the node's membership view.
func (n *Node) Membership() *membership.Membership { return n.members }

// Clients returns the node's connection manager.
func (n *Node) Clients() *rpc.ClientManager { return n.clients }

// Placement returns the devices the segments of a bucket were placed on.
func (n *Node) Placement(bucketID string) (device.Placement, bool) {
	p, ok := n.placements[bucketID]
	return p, ok
}

// Start starts the gRPC server and begins listening.
func (n *Node) Start() error {
	lis, err := net.Listen("tcp", n.cfg.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", n.cfg.Listen, err)
	}
	return n.Serve(lis)
}

// Serve runs the node on lis until Stop.
func (n *Node) Serve(lis net.Listener) error {
	n.mu.Lock()
	if n.stopped || n.started {
		n.mu.Unlock()
		return errors.New("node: already started or stopped")
	}
	n.started = true
	if n.cfg.MetricsAddr != "" {
		n.startMetrics()
	}
	n.members.Start(n.clients.Ping, n.clients.Gossip)
	n.mu.Unlock()

	n.logger.Info().Str("listen", lis.Addr().String()).Int("buckets", len(n.cfg.Buckets)).Msg("starting node")

	if err := n.grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("failed to serve: %w", err)
	}
	return nil
}

func (n *Node) startMetrics() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(n.registry, promhttp.HandlerOpts{}))
	n.metricsSrv = &http.Server{
		Addr:              n.cfg.MetricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := n.metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			n.logger.Error().Err(err).Str("addr", n.cfg.MetricsAddr).Msg("metrics endpoint failed")
		}
	}()
}

// Stop gracefully stops the node.
func (n *Node) Stop() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.stopped {
		return
	}
	n.stopped = true

	n.logger.Info().Msg("stopping node")
	n.members.Stop()
	n.grpcServer.GracefulStop()
	if n.metricsSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = n.metricsSrv.Shutdown(ctx)
	}
	if err := n.clients.Close(); err != nil {
		n.logger.Warn().Err(err).Msg("closing peer connections")
	}
}

// onMembershipChanged rebuilds the ring from the known members. The ring
// refreshes member addresses and pins segments no earlier ring could hold;
// pinned segments keep their members, and membership only decides whether
// a leader is Alive. Callbacks may run out of order, so the current view is
// read again rather than trusting the argument.
func (n *Node) onMembershipChanged([]ring.Member) {
	n.router.SetRing(ring.New(n.members.RingMembers(), n.cfg.VNodes))
}
