package expect

import (
	"errors"
	"fmt"

	"ecstore/internal/object"
)

// ErrPreconditionFailed is matched by every precondition failure.
var ErrPreconditionFailed = errors.New("precondition failed")

// Kind is the discriminant of an Expect.
type Kind int

const (
	// Any places no precondition on the write.
	Any Kind = iota
	// None requires that the object does not currently exist.
	None
	// IfMatch requires the current version to be one of the listed versions.
	IfMatch
	// IfNoneMatch requires the current version not to be any listed version.
	IfNoneMatch
)

// String returns the string representation of Kind.
func (k Kind) String() string {
	switch k {
	case Any:
		return "ANY"
	case None:
		return "NONE"
	case IfMatch:
		return "IF_MATCH"
	case IfNoneMatch:
		return "IF_NONE_MATCH"
	default:
		return "UNKNOWN"
	}
}

// Expect is a write precondition. The zero value is Any.
type Expect struct {
	Kind     Kind
	Versions object.Versions // only for IfMatch / IfNoneMatch
}

// ExpectAny returns a precondition that always holds.
func ExpectAny() Expect { return Expect{Kind: Any} }

// ExpectNone returns a precondition requiring the object to be absent.
func ExpectNone() Expect { return Expect{Kind: None} }

// ExpectIfMatch returns a precondition requiring one of the given versions.
func ExpectIfMatch(versions ...object.Version) Expect {
	return Expect{Kind: IfMatch, Versions: append(object.Versions(nil), versions...)}
}

// ExpectIfNoneMatch returns a precondition excluding the given versions.
func ExpectIfNoneMatch(versions ...object.Version) Expect {
	return Expect{Kind: IfNoneMatch, Versions: append(object.Versions(nil), versions...)}
}

// String returns a human readable form, used in logs and error messages.
func (e Expect) String() string {
	switch e.Kind {
	case IfMatch, IfNoneMatch:
		return fmt.Sprintf("%s%s", e.Kind, e.Versions)
	default:
		return e.Kind.String()
	}
}

// PreconditionFailedError carries the caller's precondition and the
// observed version set.
type PreconditionFailedError struct {
	Expect   Expect
	Observed object.Versions
}

func (e *PreconditionFailedError) Error() string {
	return fmt.Sprintf("precondition failed: expect=%s observed=%s", e.Expect, e.Observed)
}

// Is makes errors.Is(err, ErrPreconditionFailed) succeed.
func (e *PreconditionFailedError) Is(target error) bool {
	return target == ErrPreconditionFailed
}

// Evaluate decides whether a write guarded by e may proceed given the
// object's current versions. An empty set means the object does not exist.
// A multi-element set is reduced to its reconciled (maximum) version before
// the condition is checked. Evaluate performs no I/O and keeps no state.
func Evaluate(e Expect, current object.Versions) error {
	latest, exists := current.Max()

	var ok bool
	switch e.Kind {
	case Any:
		ok = true
	case None:
		ok = !exists
	case IfMatch:
		ok = exists && e.Versions.Contains(latest)
	case IfNoneMatch:
		ok = !exists || !e.Versions.Contains(latest)
	default:
		return fmt.Errorf("unknown expect kind %d: %w", e.Kind, ErrPreconditionFailed)
	}

	if ok {
		return nil
	}
	return &PreconditionFailedError{
		Expect:   e,
		Observed: append(object.Versions(nil), current...),
	}
}
