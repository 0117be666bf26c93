package consistency

import (
	"fmt"
	"strconv"
	"strings"
)

// Level is the discriminant of a ReadConsistency.
type Level int

const (
	// Consistent reads the current leader. It is the default.
	Consistent Level = iota
	// Quorum reads a strict majority of replicas.
	Quorum
	// Subset reads exactly N replicas.
	Subset
	// Stale reads any single replica.
	Stale
)

// String returns the string representation of Level.
func (l Level) String() string {
	switch l {
	case Consistent:
		return "consistent"
	case Quorum:
		return "quorum"
	case Subset:
		return "subset"
	case Stale:
		return "stale"
	default:
		return "unknown"
	}
}

// ReadConsistency is a read policy. The zero value is Consistent.
type ReadConsistency struct {
	Level Level
	N     int // replica count for Subset
}

// ConsistentRead returns the Consistent policy.
func ConsistentRead() ReadConsistency { return ReadConsistency{Level: Consistent} }

// QuorumRead returns the Quorum policy.
func QuorumRead() ReadConsistency { return ReadConsistency{Level: Quorum} }

// SubsetRead returns the Subset(n) policy.
func SubsetRead(n int) ReadConsistency { return ReadConsistency{Level: Subset, N: n} }

// StaleRead returns the Stale policy.
func StaleRead() ReadConsistency { return ReadConsistency{Level: Stale} }

// String returns the textual form accepted by Parse.
func (rc ReadConsistency) String() string {
	if rc.Level == Subset {
		return fmt.Sprintf("subset(%d)", rc.N)
	}
	return rc.Level.String()
}

// IsStrong reports whether the policy guarantees the latest committed value.
func (rc ReadConsistency) IsStrong() bool {
	return rc.Level == Consistent || rc.Level == Quorum
}

// Parse parses "consistent", "quorum", "stale" or "subset(n)". The empty
// string yields the default policy.
func Parse(s string) (ReadConsistency, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "", "consistent":
		return ConsistentRead(), nil
	case "quorum":
		return QuorumRead(), nil
	case "stale":
		return StaleRead(), nil
	}

	if strings.HasPrefix(s, "subset(") && strings.HasSuffix(s, ")") {
		n, err := strconv.Atoi(s[len("subset(") : len(s)-1])
		if err != nil || n < 1 {
			return ReadConsistency{}, fmt.Errorf("parse %q: %w", s, ErrInvalidConsistency)
		}
		return SubsetRead(n), nil
	}
	return ReadConsistency{}, fmt.Errorf("parse %q: %w", s, ErrInvalidConsistency)
}
