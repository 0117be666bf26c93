// Package config loads and validates node configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"ecstore/internal/device"
	"ecstore/internal/ring"
	"ecstore/internal/rpc"
	"ecstore/internal/topology"
)

// Defaults applied by Load.
const (
	DefaultVNodes            = ring.DefaultVnodes
	DefaultPerReplicaTimeout = 500 * time.Millisecond
	DefaultProbeInterval     = time.Second
	DefaultSuspectTimeout    = 3 * time.Second
	DefaultLogLevel          = "info"
)

// ErrInvalidConfig is returned when a configuration fails validation.
var ErrInvalidConfig = errors.New("invalid config")

// Duration is a time.Duration written as "500ms" or "3s" in YAML.
type Duration time.Duration

// UnmarshalYAML parses a duration string.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = Duration(parsed)
	return nil
}

// Peer represents a peer node in the cluster.
type Peer struct {
	ID   string `yaml:"id"`
	Addr string `yaml:"addr"`
}

// NodeConfig identifies the local member.
type NodeConfig struct {
	ID          string `yaml:"id"`
	Listen      string `yaml:"listen"`
	MetricsAddr string `yaml:"metrics_addr"` // empty disables the endpoint
	VNodes      int    `yaml:"vnodes"`
}

// TimeoutConfig holds the timing knobs of replica calls and membership.
type TimeoutConfig struct {
	PerReplica     Duration `yaml:"per_replica"`
	ProbeInterval  Duration `yaml:"probe_interval"`
	SuspectTimeout Duration `yaml:"suspect_timeout"`
}

// BucketConfig describes a bucket and its redundancy scheme.
type BucketConfig struct {
	ID              string `yaml:"id"`
	Seqno           uint32 `yaml:"seqno"`
	Device          string `yaml:"device"`
	Kind            string `yaml:"kind"` // metadata, replicated or dispersed
	Segments        uint32 `yaml:"segments"`
	TolerableFaults uint32 `yaml:"tolerable_faults"`
	DataFragments   uint32 `yaml:"data_fragments"`
}

// DeviceConfig describes a virtual, memory or file device.
type DeviceConfig struct {
	ID       string   `yaml:"id"`
	Seqno    uint32   `yaml:"seqno"`
	Kind     string   `yaml:"kind"`
	Weight   string   `yaml:"weight"` // auto, absolute(n) or relative(r)
	Children []string `yaml:"children"`
	Policy   string   `yaml:"policy"`
	Server   string   `yaml:"server"`
	Capacity uint64   `yaml:"capacity"`
	Path     string   `yaml:"path"`
}

// ServerConfig describes a server hosting physical devices.
type ServerConfig struct {
	ID    string `yaml:"id"`
	Seqno uint32 `yaml:"seqno"`
	Host  string `yaml:"host"`
	Port  uint32 `yaml:"port"`
}

// Config holds the node configuration.
type Config struct {
	Node       NodeConfig        `yaml:"node"`
	Peers      []Peer            `yaml:"peers"`
	Timeouts   TimeoutConfig     `yaml:"timeouts"`
	ReadRepair bool              `yaml:"read_repair"`
	LogLevel   string            `yaml:"log_level"`
	Buckets    []BucketConfig    `yaml:"buckets"`
	Devices    []DeviceConfig    `yaml:"devices"`
	Servers    []ServerConfig    `yaml:"servers"`
	Procedures map[string]uint32 `yaml:"procedures"` // overrides of rpc.DefaultProcedures
}

// Load reads a YAML configuration file, applies defaults and validates it.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML configuration, applies defaults and validates it.
func Parse(data []byte) (*Config, error) {
	cfg, err := Decode(data)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Decode decodes a YAML configuration and applies defaults without
// validating, so callers can apply overrides first.
func Decode(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	cfg.ApplyDefaults()
	return cfg, nil
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.Node.VNodes == 0 {
		c.Node.VNodes = DefaultVNodes
	}
	if c.Timeouts.PerReplica == 0 {
		c.Timeouts.PerReplica = Duration(DefaultPerReplicaTimeout)
	}
	if c.Timeouts.ProbeInterval == 0 {
		c.Timeouts.ProbeInterval = Duration(DefaultProbeInterval)
	}
	if c.Timeouts.SuspectTimeout == 0 {
		c.Timeouts.SuspectTimeout = Duration(DefaultSuspectTimeout)
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
}

// Validate checks the configuration, including that buckets, devices and
// servers build.
func (c *Config) Validate() error {
	if c.Node.ID == "" {
		return fmt.Errorf("node.id is required: %w", ErrInvalidConfig)
	}
	if c.Node.Listen == "" {
		return fmt.Errorf("node.listen is required: %w", ErrInvalidConfig)
	}
	if c.Node.VNodes < 0 {
		return fmt.Errorf("node.vnodes %d is negative: %w", c.Node.VNodes, ErrInvalidConfig)
	}
	if c.Timeouts.PerReplica < 0 || c.Timeouts.ProbeInterval < 0 || c.Timeouts.SuspectTimeout < 0 {
		return fmt.Errorf("timeouts must not be negative: %w", ErrInvalidConfig)
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level %q: %w", c.LogLevel, ErrInvalidConfig)
	}

	seen := map[string]bool{c.Node.ID: true}
	for _, p := range c.Peers {
		if p.ID == "" || p.Addr == "" {
			return fmt.Errorf("peer %q: id and addr are required: %w", p.ID, ErrInvalidConfig)
		}
		if p.ID == c.Node.ID {
			continue
		}
		if seen[p.ID] {
			return fmt.Errorf("duplicate peer %q: %w", p.ID, ErrInvalidConfig)
		}
		seen[p.ID] = true
	}

	servers, err := c.BuildServers()
	if err != nil {
		return err
	}
	known := make(map[string]bool, len(servers))
	for _, s := range servers {
		known[s.ID] = true
	}
	reg, err := c.BuildRegistry()
	if err != nil {
		return err
	}
	if len(servers) > 0 {
		for _, d := range c.Devices {
			if d.Server != "" && !known[d.Server] {
				return fmt.Errorf("device %s: unknown server %q: %w", d.ID, d.Server, ErrInvalidConfig)
			}
		}
	}

	buckets, err := c.BuildBuckets()
	if err != nil {
		return err
	}
	if len(c.Devices) > 0 {
		for _, b := range buckets {
			if _, ok := reg.Get(b.Device()); !ok {
				return fmt.Errorf("bucket %s: unknown device %q: %w", b.ID(), b.Device(), ErrInvalidConfig)
			}
		}
	}

	if _, err := rpc.NewProcedureTable(c.ProcedureIDs()); err != nil {
		return fmt.Errorf("procedures: %v: %w", err, ErrInvalidConfig)
	}
	return nil
}

// ParsePeers parses a comma-separated list of peers in the format:
// "id1=addr1,id2=addr2,id3=addr3"
func ParsePeers(peersStr string) ([]Peer, error) {
	if peersStr == "" {
		return []Peer{}, nil
	}

	parts := strings.Split(peersStr, ",")
	peers := make([]Peer, 0, len(parts))

	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		id, addr, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("invalid peer format: %s (expected id=addr)", part)
		}

		id = strings.TrimSpace(id)
		addr = strings.TrimSpace(addr)
		if id == "" || addr == "" {
			return nil, fmt.Errorf("peer ID and address cannot be empty: %s", part)
		}

		peers = append(peers, Peer{ID: id, Addr: addr})
	}

	return peers, nil
}

// RingMembers returns the local member followed by its peers.
func (c *Config) RingMembers() []ring.Member {
	members := make([]ring.Member, 0, len(c.Peers)+1)
	members = append(members, ring.Member{ID: c.Node.ID, Addr: c.Node.Listen})

	for _, peer := range c.Peers {
		// Skip self if it appears in peers list
		if peer.ID != c.Node.ID {
			members = append(members, ring.Member{ID: peer.ID, Addr: peer.Addr})
		}
	}
	return members
}

// Seeds returns the peers as ring members, without the local member.
func (c *Config) Seeds() []ring.Member {
	return c.RingMembers()[1:]
}

// BuildBuckets returns the configured buckets.
func (c *Config) BuildBuckets() ([]*topology.Bucket, error) {
	out := make([]*topology.Bucket, 0, len(c.Buckets))
	for _, bc := range c.Buckets {
		tag, err := topology.ParseKindTag(bc.Kind)
		if err != nil {
			return nil, fmt.Errorf("bucket %s: %w", bc.ID, err)
		}
		var kind topology.Kind
		switch tag {
		case topology.Metadata:
			kind = topology.MetadataKind(bc.Segments)
		case topology.Replicated:
			kind = topology.ReplicatedKind(bc.Segments, bc.TolerableFaults)
		case topology.Dispersed:
			kind = topology.DispersedKind(bc.Segments, bc.TolerableFaults, bc.DataFragments)
		}
		b, err := topology.NewBucket(bc.ID, bc.Seqno, bc.Device, kind)
		if err != nil {
			return nil, fmt.Errorf("bucket %s: %w", bc.ID, err)
		}
		out = append(out, b)
	}
	return out, nil
}

// BuildDevices returns the configured device records.
func (c *Config) BuildDevices() ([]device.Device, error) {
	out := make([]device.Device, 0, len(c.Devices))
	for _, dc := range c.Devices {
		kind, err := device.ParseKind(dc.Kind)
		if err != nil {
			return nil, fmt.Errorf("device %s: %w", dc.ID, err)
		}
		weight, err := device.ParseWeight(dc.Weight)
		if err != nil {
			return nil, fmt.Errorf("device %s: %w", dc.ID, err)
		}
		d := device.Device{
			ID:       dc.ID,
			Seqno:    dc.Seqno,
			Weight:   weight,
			Kind:     kind,
			Children: dc.Children,
			Server:   dc.Server,
			Capacity: dc.Capacity,
			Filepath: dc.Path,
		}
		if kind == device.Virtual && dc.Policy != "" {
			if d.Policy, err = device.ParsePolicy(dc.Policy); err != nil {
				return nil, fmt.Errorf("device %s: %w", dc.ID, err)
			}
		}
		out = append(out, d)
	}
	return out, nil
}

// BuildRegistry returns a registry over the configured devices.
func (c *Config) BuildRegistry() (*device.Registry, error) {
	devices, err := c.BuildDevices()
	if err != nil {
		return nil, err
	}
	return device.NewRegistry(devices)
}

// BuildServers returns the configured servers.
func (c *Config) BuildServers() ([]device.Server, error) {
	out := make([]device.Server, 0, len(c.Servers))
	seen := make(map[string]bool, len(c.Servers))
	for _, sc := range c.Servers {
		if sc.ID == "" || seen[sc.ID] {
			return nil, fmt.Errorf("server %q: missing or duplicate id: %w", sc.ID, ErrInvalidConfig)
		}
		seen[sc.ID] = true
		s, err := device.ParseServer(sc.ID, sc.Seqno, sc.Host, sc.Port)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// ProcedureIDs returns the default procedure table with the configured
// overrides applied.
func (c *Config) ProcedureIDs() map[string]uint32 {
	procs := rpc.DefaultProcedures()
	for name, id := range c.Procedures {
		procs[name] = id
	}
	return procs
}

// Level returns the configured log level.
func (c *Config) Level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		return zerolog.InfoLevel
	}
	return lvl
}
