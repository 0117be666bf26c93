package device

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// WeightKind is the discriminant of a Weight.
type WeightKind int

const (
	// WeightAuto derives the weight from the device capacity.
	WeightAuto WeightKind = iota
	// WeightAbsolute is a fixed weight.
	WeightAbsolute
	// WeightRelative is a fraction of the cluster's total capacity.
	WeightRelative
)

// Weight is the placement weight of a device. The zero value is Auto.
type Weight struct {
	Kind     WeightKind
	Absolute uint64
	Relative float64
}

// AutoWeight returns a capacity-derived weight.
func AutoWeight() Weight { return Weight{Kind: WeightAuto} }

// AbsoluteWeight returns a fixed weight of n.
func AbsoluteWeight(n uint64) Weight { return Weight{Kind: WeightAbsolute, Absolute: n} }

// RelativeWeight returns a weight of r times the cluster total.
func RelativeWeight(r float64) Weight { return Weight{Kind: WeightRelative, Relative: r} }

func (w Weight) String() string {
	switch w.Kind {
	case WeightAuto:
		return "auto"
	case WeightAbsolute:
		return fmt.Sprintf("absolute(%d)", w.Absolute)
	case WeightRelative:
		return fmt.Sprintf("relative(%g)", w.Relative)
	default:
		return fmt.Sprintf("weight(%d)", w.Kind)
	}
}

// ResolveWeight returns the effective weight of a device with the given
// capacity in a cluster whose capacities sum to clusterTotal. Results are
// never negative; a negative or non-finite relative factor resolves to 0,
// which makes the device ineligible for placement.
func ResolveWeight(w Weight, capacity, clusterTotal uint64) float64 {
	var out float64
	switch w.Kind {
	case WeightAuto:
		out = float64(capacity)
	case WeightAbsolute:
		out = float64(w.Absolute)
	case WeightRelative:
		out = w.Relative * float64(clusterTotal)
	}
	if out < 0 || math.IsNaN(out) || math.IsInf(out, 0) {
		return 0
	}
	return out
}

// ParseWeight parses "auto", "absolute(n)" or "relative(r)". The empty
// string is Auto.
func ParseWeight(s string) (Weight, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" || s == "auto" {
		return AutoWeight(), nil
	}
	open := strings.IndexByte(s, '(')
	if open < 0 || !strings.HasSuffix(s, ")") {
		return Weight{}, fmt.Errorf("weight %q: %w", s, ErrInvalidDevice)
	}
	arg := s[open+1 : len(s)-1]
	switch s[:open] {
	case "absolute":
		n, err := strconv.ParseUint(arg, 10, 64)
		if err != nil {
			return Weight{}, fmt.Errorf("weight %q: %v: %w", s, err, ErrInvalidDevice)
		}
		return AbsoluteWeight(n), nil
	case "relative":
		r, err := strconv.ParseFloat(arg, 64)
		if err != nil || r < 0 || math.IsNaN(r) || math.IsInf(r, 0) {
			return Weight{}, fmt.Errorf("weight %q: %w", s, ErrInvalidDevice)
		}
		return RelativeWeight(r), nil
	default:
		return Weight{}, fmt.Errorf("weight %q: %w", s, ErrInvalidDevice)
	}
}
