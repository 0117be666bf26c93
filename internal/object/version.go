package object

import (
	"fmt"
	"sort"
	"strings"
)

// Version is a totally ordered per-object counter. It strictly increases on
// every successful write to the same object and is never reused.
type Version uint64

// CompareResult represents the result of comparing two versions.
type CompareResult int

const (
	// Before indicates the version is older than the other.
	Before CompareResult = iota
	// After indicates the version is newer than the other.
	After
	// Equal indicates the versions are equal.
	Equal
)

// Compare compares two versions.
func (v Version) Compare(other Version) CompareResult {
	switch {
	case v < other:
		return Before
	case v > other:
		return After
	default:
		return Equal
	}
}

// Next returns the version following v.
func (v Version) Next() Version {
	return v + 1
}

// String returns the decimal form of the version.
func (v Version) String() string {
	return fmt.Sprintf("%d", uint64(v))
}

// Versions is a set of object versions. Order carries no meaning.
type Versions []Version

// Max returns the greatest version in the set, or false if the set is empty.
func (vs Versions) Max() (Version, bool) {
	if len(vs) == 0 {
		return 0, false
	}
	top := vs[0]
	for _, v := range vs[1:] {
		if v > top {
			top = v
		}
	}
	return top, true
}

// Contains reports whether v is a member of the set.
func (vs Versions) Contains(v Version) bool {
	for _, x := range vs {
		if x == v {
			return true
		}
	}
	return false
}

// Sorted returns an ascending, de-duplicated copy of the set.
func (vs Versions) Sorted() Versions {
	out := make(Versions, 0, len(vs))
	seen := make(map[Version]bool, len(vs))
	for _, v := range vs {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// String returns a deterministic representation of the set.
func (vs Versions) String() string {
	sorted := vs.Sorted()
	parts := make([]string, 0, len(sorted))
	for _, v := range sorted {
		parts = append(parts, v.String())
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// Range is a half-open range of versions [Start, End).
type Range struct {
	Start Version
	End   Version
}

// Contains reports whether v falls inside the range.
func (r Range) Contains(v Version) bool {
	return r.Start <= v && v < r.End
}

// IsEmpty reports whether the range contains no versions.
func (r Range) IsEmpty() bool {
	return r.End <= r.Start
}
