package consistency

import (
	"errors"
	"fmt"
	"strings"

	"ecstore/internal/repair"
)

var (
	// ErrInvalidConsistency is returned for a malformed policy, e.g. a
	// Subset(n) with n outside [1, replica count].
	ErrInvalidConsistency = errors.New("invalid consistency")
	// ErrLeaderUnavailable is returned when a Consistent read cannot reach
	// the leader.
	ErrLeaderUnavailable = errors.New("leader unavailable")
	// ErrInsufficientReplicas is returned when fewer replicas answered than
	// the policy requires.
	ErrInsufficientReplicas = errors.New("insufficient replicas")
	// ErrVersionConflict is returned when replicas disagree on the payload of
	// one version.
	ErrVersionConflict = repair.ErrVersionConflict
	// ErrTimeout is returned when the deadline expired before the read was
	// resolved.
	ErrTimeout = errors.New("timeout")
	// ErrInvalidDeadline is returned when the deadline is not a positive,
	// still-future duration.
	ErrInvalidDeadline = errors.New("invalid deadline")
)

// ResolveError describes a failed resolution. It matches its Kind and every
// cause with errors.Is.
type ResolveError struct {
	Kind   error
	Policy ReadConsistency
	Causes []error
}

func (e *ResolveError) Error() string {
	msg := fmt.Sprintf("resolve %s: %v", e.Policy, e.Kind)
	if len(e.Causes) > 0 {
		parts := make([]string, 0, len(e.Causes))
		for _, c := range e.Causes[:min(3, len(e.Causes))] {
			parts = append(parts, c.Error())
		}
		msg += ": " + strings.Join(parts, "; ")
	}
	return msg
}

// Unwrap exposes the kind followed by the causes.
func (e *ResolveError) Unwrap() []error {
	return append([]error{e.Kind}, e.Causes...)
}

func newResolveError(kind error, policy ReadConsistency, causes ...error) *ResolveError {
	return &ResolveError{Kind: kind, Policy: policy, Causes: causes}
}
