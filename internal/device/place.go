package device

import (
	"fmt"
	"sort"
)

// Candidate is a device eligible to receive segments, with its resolved
// weight.
type Candidate struct {
	ID     string
	Weight float64
}

// Placement maps segment index to device id.
type Placement []string

// Counts returns how many segments each device received.
func (p Placement) Counts() map[string]int {
	out := make(map[string]int)
	for _, id := range p {
		out[id]++
	}
	return out
}

// Distinct returns the number of distinct devices used.
func (p Placement) Distinct() int {
	return len(p.Counts())
}

// Place assigns segmentCount segments to candidates under policy. Devices
// with a non-positive weight are not eligible. Ties are always broken by
// ascending device id, so the result is deterministic.
func Place(candidates []Candidate, policy Policy, segmentCount uint32) (Placement, error) {
	eligible, err := eligibleCandidates(candidates)
	if err != nil {
		return nil, err
	}
	if segmentCount == 0 {
		return Placement{}, nil
	}

	n := int(segmentCount)
	switch policy {
	case Scatter:
		if len(eligible) < n {
			return nil, fmt.Errorf("scatter %d segments over %d devices: %w", n, len(eligible), ErrNoEligibleDevice)
		}
		return scatter(eligible, n), nil
	case ScatterIfPossible:
		return scatter(eligible, n), nil
	case Gather:
		return gather(eligible, n), nil
	case Neutral:
		return neutral(eligible, n), nil
	case AsEvenAsPossible:
		return asEven(eligible, n), nil
	default:
		return nil, fmt.Errorf("unknown allocation policy %d: %w", policy, ErrInvalidDevice)
	}
}

func eligibleCandidates(candidates []Candidate) ([]Candidate, error) {
	seen := make(map[string]bool, len(candidates))
	eligible := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		if seen[c.ID] {
			return nil, fmt.Errorf("duplicate candidate %q: %w", c.ID, ErrInvalidDevice)
		}
		seen[c.ID] = true
		if c.Weight > 0 {
			eligible = append(eligible, c)
		}
	}
	if len(eligible) == 0 {
		return nil, fmt.Errorf("no device with positive weight among %d candidates: %w", len(candidates), ErrNoEligibleDevice)
	}
	sort.Slice(eligible, func(i, j int) bool { return eligible[i].ID < eligible[j].ID })
	return eligible, nil
}

// scatter gives each segment to the least used device, preferring heavier
// devices among equally used ones.
func scatter(eligible []Candidate, n int) Placement {
	counts := make([]int, len(eligible))
	out := make(Placement, 0, n)
	for range n {
		best := 0
		for i := 1; i < len(eligible); i++ {
			switch {
			case counts[i] < counts[best]:
				best = i
			case counts[i] == counts[best] && eligible[i].Weight > eligible[best].Weight:
				best = i
			}
		}
		counts[best]++
		out = append(out, eligible[best].ID)
	}
	return out
}

// gather puts everything on the heaviest device.
func gather(eligible []Candidate, n int) Placement {
	best := 0
	for i := 1; i < len(eligible); i++ {
		if eligible[i].Weight > eligible[best].Weight {
			best = i
		}
	}
	out := make(Placement, n)
	for i := range out {
		out[i] = eligible[best].ID
	}
	return out
}

// neutral is smooth weighted round-robin: every step each device gains its
// weight and the device with the largest credit is picked and pays the
// total weight.
func neutral(eligible []Candidate, n int) Placement {
	var total float64
	for _, c := range eligible {
		total += c.Weight
	}
	credit := make([]float64, len(eligible))
	out := make(Placement, 0, n)
	for range n {
		best := 0
		for i := range eligible {
			credit[i] += eligible[i].Weight
			if credit[i] > credit[best] {
				best = i
			}
		}
		credit[best] -= total
		out = append(out, eligible[best].ID)
	}
	return out
}

// asEven repeatedly gives the next segment to the device furthest below its
// weight-proportional share of all n segments.
func asEven(eligible []Candidate, n int) Placement {
	var total float64
	for _, c := range eligible {
		total += c.Weight
	}
	ideal := make([]float64, len(eligible))
	for i, c := range eligible {
		ideal[i] = float64(n) * c.Weight / total
	}
	counts := make([]int, len(eligible))
	out := make(Placement, 0, n)
	for range n {
		best := 0
		for i := 1; i < len(eligible); i++ {
			if ideal[i]-float64(counts[i]) > ideal[best]-float64(counts[best]) {
				best = i
			}
		}
		counts[best]++
		out = append(out, eligible[best].ID)
	}
	return out
}
