package repair

import (
	"errors"
	"fmt"
	"sort"

	"ecstore/internal/object"
	"ecstore/internal/quorum"
)

// ErrVersionConflict is returned when replicas report different payloads
// under the same version. Equal versions must carry equal payloads, so this
// is an invariant violation and is never resolved silently.
var ErrVersionConflict = errors.New("version conflict")

// ReconcileResult represents the result of reconciling replica answers.
type ReconcileResult struct {
	// Winner is the answer with the highest version, nil if no replica had
	// any record of the object.
	Winner *object.VersionedValue

	// Stale lists, in ascending order, replicas that answered with an older
	// version or with no record while another replica had one.
	Stale []string

	// Observed holds every version reported, one entry per replica that had
	// a record.
	Observed object.Versions
}

// Reconcile picks the answer with the strictly highest version.
func Reconcile(values []quorum.ReadValue) (ReconcileResult, error) {
	var result ReconcileResult

	var winnerFrom string
	for _, rv := range values {
		if rv.Value == nil {
			continue
		}
		result.Observed = append(result.Observed, rv.Value.Version)
		if result.Winner == nil || rv.Value.Version > result.Winner.Version {
			result.Winner = rv.Value
			winnerFrom = rv.ReplicaID
		}
	}

	if result.Winner == nil {
		return result, nil
	}

	// Only divergence at the winning version matters; older divergence has
	// been superseded.
	for _, rv := range values {
		if rv.Value == nil || rv.Value.Version != result.Winner.Version {
			continue
		}
		if !rv.Value.SamePayload(result.Winner) {
			return ReconcileResult{}, fmt.Errorf("version %s differs between replicas %s and %s: %w",
				rv.Value.Version, winnerFrom, rv.ReplicaID, ErrVersionConflict)
		}
	}

	for _, rv := range values {
		if rv.Value == nil || rv.Value.Version < result.Winner.Version {
			result.Stale = append(result.Stale, rv.ReplicaID)
		}
	}
	sort.Strings(result.Stale)
	result.Winner = result.Winner.Copy()

	return result, nil
}

// IsNotFound returns true if there is no winner or the winner is a tombstone.
func (r *ReconcileResult) IsNotFound() bool {
	return r.Winner == nil || r.Winner.Deleted
}

// HasStale returns true if any replica lags behind the winner.
func (r *ReconcileResult) HasStale() bool {
	return len(r.Stale) > 0
}
