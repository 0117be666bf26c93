package device

import (
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"ecstore/internal/metrics"
)

// Registry is an immutable snapshot of the cluster's devices.
type Registry struct {
	devices  map[string]Device
	capacity map[string]uint64
	total    uint64
}

// NewRegistry validates devices and builds a snapshot. Every child of a
// virtual device must exist and the device graph must be acyclic.
func NewRegistry(devices []Device) (*Registry, error) {
	r := &Registry{
		devices:  make(map[string]Device, len(devices)),
		capacity: make(map[string]uint64, len(devices)),
	}
	for _, d := range devices {
		if err := d.Validate(); err != nil {
			return nil, err
		}
		if _, dup := r.devices[d.ID]; dup {
			return nil, fmt.Errorf("duplicate device %s: %w", d.ID, ErrInvalidDevice)
		}
		r.devices[d.ID] = d
		if d.Kind.IsPhysical() {
			r.total += d.Capacity
		}
	}

	visiting := make(map[string]bool)
	var walk func(id string) (uint64, error)
	walk = func(id string) (uint64, error) {
		if c, ok := r.capacity[id]; ok {
			return c, nil
		}
		d, ok := r.devices[id]
		if !ok {
			return 0, fmt.Errorf("unknown device %s: %w", id, ErrInvalidDevice)
		}
		if d.Kind.IsPhysical() {
			r.capacity[id] = d.Capacity
			return d.Capacity, nil
		}
		if visiting[id] {
			return 0, fmt.Errorf("device cycle through %s: %w", id, ErrInvalidDevice)
		}
		visiting[id] = true
		var sum uint64
		for _, child := range d.Children {
			c, err := walk(child)
			if err != nil {
				return 0, err
			}
			sum += c
		}
		visiting[id] = false
		r.capacity[id] = sum
		return sum, nil
	}
	for id := range r.devices {
		if _, err := walk(id); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Get returns the device with the given id.
func (r *Registry) Get(id string) (Device, bool) {
	d, ok := r.devices[id]
	return d, ok
}

// Capacity returns the capacity of a device; for a virtual device it is the
// sum over its children.
func (r *Registry) Capacity(id string) uint64 {
	return r.capacity[id]
}

// ClusterTotal returns the summed capacity of all physical devices.
func (r *Registry) ClusterTotal() uint64 {
	return r.total
}

// Weight returns the resolved weight of a device.
func (r *Registry) Weight(id string) float64 {
	d, ok := r.devices[id]
	if !ok {
		return 0
	}
	return ResolveWeight(d.Weight, r.capacity[id], r.total)
}

// Summaries lists every device in ascending id order.
func (r *Registry) Summaries() []Summary {
	out := make([]Summary, 0, len(r.devices))
	for _, d := range r.devices {
		out = append(out, d.Summary())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Allocator places segments on the device tree of a registry.
type Allocator struct {
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

// NewAllocator creates an allocator. m may be nil.
func NewAllocator(logger zerolog.Logger, m *metrics.Metrics) *Allocator {
	return &Allocator{
		logger:  logger.With().Str("component", "allocator").Logger(),
		metrics: m,
	}
}

// PlaceOnDevice places segments on deviceID and returns, per segment, the
// physical device it lands on. Virtual devices distribute their share over
// their children with their own policy, recursively.
func (a *Allocator) PlaceOnDevice(reg *Registry, deviceID string, segments uint32) (Placement, error) {
	d, ok := reg.Get(deviceID)
	if !ok {
		return nil, fmt.Errorf("place on %s: unknown device: %w", deviceID, ErrInvalidDevice)
	}

	if d.Kind.IsPhysical() {
		out := make(Placement, segments)
		for i := range out {
			out[i] = d.ID
		}
		return out, nil
	}

	children := d.SortedChildren()
	candidates := make([]Candidate, 0, len(children))
	for _, c := range children {
		candidates = append(candidates, Candidate{ID: c, Weight: reg.Weight(c)})
	}

	top, err := Place(candidates, d.Policy, segments)
	a.metrics.ObservePlacement(d.Policy.String(), err == nil)
	if err != nil {
		a.logger.Warn().Err(err).Str("device", d.ID).Uint32("segments", segments).Msg("placement failed")
		return nil, fmt.Errorf("place on %s: %w", d.ID, err)
	}

	// Each child places its own share; results are spliced back in segment
	// order.
	var childIDs []string
	indexes := make(map[string][]int)
	for i, id := range top {
		if _, seen := indexes[id]; !seen {
			childIDs = append(childIDs, id)
		}
		indexes[id] = append(indexes[id], i)
	}

	out := make(Placement, len(top))
	for _, id := range childIDs {
		sub, err := a.PlaceOnDevice(reg, id, uint32(len(indexes[id])))
		if err != nil {
			return nil, err
		}
		for k, i := range indexes[id] {
			out[i] = sub[k]
		}
	}

	a.logger.Debug().Str("device", d.ID).Stringer("policy", d.Policy).
		Int("segments", len(out)).Int("devices", out.Distinct()).Msg("placed segments")
	return out, nil
}
