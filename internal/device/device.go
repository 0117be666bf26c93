package device

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrNoEligibleDevice is returned when no device can receive segments
	// under the requested policy.
	ErrNoEligibleDevice = errors.New("no eligible device")
	// ErrInvalidDevice is returned for malformed device records.
	ErrInvalidDevice = errors.New("invalid device")
)

// Kind is the type of a device.
type Kind int

const (
	Virtual Kind = iota
	Memory
	File
)

func (k Kind) String() string {
	switch k {
	case Virtual:
		return "virtual"
	case Memory:
		return "memory"
	case File:
		return "file"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseKind parses a kind name as printed by Kind.String.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "virtual":
		return Virtual, nil
	case "memory":
		return Memory, nil
	case "file":
		return File, nil
	default:
		return 0, fmt.Errorf("unknown device kind %q: %w", s, ErrInvalidDevice)
	}
}

// IsPhysical reports whether devices of this kind store data themselves.
func (k Kind) IsPhysical() bool { return k == Memory || k == File }

// Policy decides how a virtual device spreads segments over its children.
type Policy int

const (
	// ScatterIfPossible spreads segments over as many children as it can
	// and reuses children once they run out.
	ScatterIfPossible Policy = iota
	// Scatter puts every segment on a distinct child and fails otherwise.
	Scatter
	// Neutral interleaves children by weight.
	Neutral
	// Gather puts every segment on the heaviest child.
	Gather
	// AsEvenAsPossible keeps every child's share as close as possible to
	// its weight-proportional ideal.
	AsEvenAsPossible
)

var policyNames = []string{"scatter_if_possible", "scatter", "neutral", "gather", "as_even_as_possible"}

func (p Policy) String() string {
	if p >= 0 && int(p) < len(policyNames) {
		return policyNames[p]
	}
	return fmt.Sprintf("policy(%d)", int(p))
}

// ParsePolicy parses a policy name as printed by Policy.String.
func ParsePolicy(s string) (Policy, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range policyNames {
		if s == name {
			return Policy(i), nil
		}
	}
	return 0, fmt.Errorf("unknown allocation policy %q: %w", s, ErrInvalidDevice)
}

// Device is a device record. Children and Policy apply to virtual devices;
// Server and Capacity to physical ones; Filepath to file devices only.
type Device struct {
	ID     string
	Seqno  uint32
	Weight Weight
	Kind   Kind

	Children []string
	Policy   Policy

	Server   string
	Capacity uint64
	Filepath string
}

// Summary is the short form of a device used in listings.
type Summary struct {
	ID     string
	Server string // empty for virtual devices
	Kind   Kind
}

// Summary returns the listing form of d.
func (d Device) Summary() Summary {
	return Summary{ID: d.ID, Server: d.Server, Kind: d.Kind}
}

// Validate checks that the fields match the device kind.
func (d Device) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("device without id: %w", ErrInvalidDevice)
	}
	switch d.Kind {
	case Virtual:
		if len(d.Children) == 0 {
			return fmt.Errorf("virtual device %s has no children: %w", d.ID, ErrInvalidDevice)
		}
		if d.Policy < ScatterIfPossible || d.Policy > AsEvenAsPossible {
			return fmt.Errorf("virtual device %s: unknown policy %d: %w", d.ID, d.Policy, ErrInvalidDevice)
		}
		seen := make(map[string]bool, len(d.Children))
		for _, c := range d.Children {
			if c == d.ID || seen[c] {
				return fmt.Errorf("virtual device %s: bad child %q: %w", d.ID, c, ErrInvalidDevice)
			}
			seen[c] = true
		}
	case Memory, File:
		if d.Server == "" {
			return fmt.Errorf("%s device %s has no server: %w", d.Kind, d.ID, ErrInvalidDevice)
		}
		if d.Kind == File && d.Filepath == "" {
			return fmt.Errorf("file device %s has no path: %w", d.ID, ErrInvalidDevice)
		}
	default:
		return fmt.Errorf("device %s: unknown kind %d: %w", d.ID, d.Kind, ErrInvalidDevice)
	}
	if d.Weight.Kind < WeightAuto || d.Weight.Kind > WeightRelative {
		return fmt.Errorf("device %s: unknown weight kind %d: %w", d.ID, d.Weight.Kind, ErrInvalidDevice)
	}
	return nil
}

// SortedChildren returns the children in ascending id order.
func (d Device) SortedChildren() []string {
	out := append([]string(nil), d.Children...)
	sort.Strings(out)
	return out
}
