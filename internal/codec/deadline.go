package codec

import (
	"math"
	"time"
)

// EncodeDeadline returns the wire form of a deadline in milliseconds.
// Sub-millisecond remainders are dropped; negative durations encode as 0.
func EncodeDeadline(d time.Duration) uint64 {
	if d <= 0 {
		return 0
	}
	return uint64(d / time.Millisecond)
}

// DecodeDeadline converts a millisecond wire deadline, saturating at the
// largest representable duration.
func DecodeDeadline(ms uint64) time.Duration {
	if ms > uint64(math.MaxInt64/int64(time.Millisecond)) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(ms) * time.Millisecond
}

// LegacySecondsToDuration converts a deadline expressed in whole seconds,
// as peers speaking the older protocol send it.
func LegacySecondsToDuration(s uint64) time.Duration {
	if s > uint64(math.MaxInt64/int64(time.Second)) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(s) * time.Second
}

// DurationToLegacySeconds converts d to whole seconds for older peers,
// rounding up so a positive deadline never becomes 0.
func DurationToLegacySeconds(d time.Duration) uint64 {
	if d <= 0 {
		return 0
	}
	s := d / time.Second
	if d%time.Second != 0 {
		s++
	}
	return uint64(s)
}
