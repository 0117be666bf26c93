package quorum

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ecstore/internal/object"
)

const (
	// DefaultPerReplicaTimeout is the default timeout for each replica RPC.
	DefaultPerReplicaTimeout = 2 * time.Second
)

// ReadValue is one replica's answer. A nil Value means the replica holds no
// record of the object.
type ReadValue struct {
	ReplicaID string
	Value     *object.VersionedValue
}

// ReadResult represents the result of a fan-out read.
type ReadResult struct {
	Success   bool
	Responses int
	Required  int
	Attempted int
	Replicas  int
	Values    []ReadValue
	Errors    []error
	TimedOut  bool // the parent context expired before enough replicas answered
}

// ErrorMessage summarizes a failed read for logs.
func (r ReadResult) ErrorMessage() string {
	if r.Success {
		return ""
	}
	msg := fmt.Sprintf("responses=%d required=%d attempted=%d replicas=%d",
		r.Responses, r.Required, r.Attempted, r.Replicas)
	if r.TimedOut {
		msg += " timed out"
	}
	if len(r.Errors) > 0 {
		msg += fmt.Sprintf(" errors=%v", r.Errors[:min(3, len(r.Errors))])
	}
	return msg
}

// WriteResult represents the result of a fan-out write.
type WriteResult struct {
	Success  bool
	Acks     int
	Required int
	Replicas int
	Errors   []error
	TimedOut bool
}

// ErrorMessage summarizes a failed write for logs.
func (r WriteResult) ErrorMessage() string {
	if r.Success {
		return ""
	}
	msg := fmt.Sprintf("quorum not met: acks=%d required=%d replicas=%d", r.Acks, r.Required, r.Replicas)
	if r.TimedOut {
		msg += " timed out"
	}
	if len(r.Errors) > 0 {
		msg += fmt.Sprintf(" errors=%v", r.Errors[:min(3, len(r.Errors))])
	}
	return msg
}

// ReplicaReadFunc reads one replica. A nil value with a nil error means the
// replica has no record of the object.
type ReplicaReadFunc func(ctx context.Context, replicaID string) (*object.VersionedValue, error)

// ReplicaWriteFunc performs a write to a single replica.
type ReplicaWriteFunc func(ctx context.Context, replicaID string) error

// ErrNotEnoughCandidates is returned when required exceeds the candidates.
var ErrNotEnoughCandidates = errors.New("not enough candidate replicas")

type readReply struct {
	replicaID string
	value     *object.VersionedValue
	err       error
}

// DoRead fetches from candidates until required replicas have answered.
// It starts the first required candidates concurrently, launches the next
// spare (in candidate order) whenever a fetch fails, and cancels the
// remaining fetches as soon as enough answers arrived. Each fetch is bounded
// by perReplica; ctx bounds the whole call.
func DoRead(ctx context.Context, candidates []string, required int, perReplica time.Duration, readFn ReplicaReadFunc) ReadResult {
	result := ReadResult{Required: required, Replicas: len(candidates)}

	if required <= 0 || required > len(candidates) {
		result.Errors = []error{fmt.Errorf("required=%d candidates=%d: %w", required, len(candidates), ErrNotEnoughCandidates)}
		return result
	}
	if perReplica <= 0 {
		perReplica = DefaultPerReplicaTimeout
	}

	fanCtx, cancel := context.WithCancel(ctx)
	defer cancel() // abandons fetches still in flight once we return

	// Buffered so late replies never block an abandoned goroutine.
	replies := make(chan readReply, len(candidates))
	launch := func(rid string) {
		go func() {
			rctx, rcancel := context.WithTimeout(fanCtx, perReplica)
			defer rcancel()
			v, err := readFn(rctx, rid)
			if err == nil && rctx.Err() != nil {
				err = rctx.Err()
			}
			replies <- readReply{replicaID: rid, value: v, err: err}
		}()
	}

	next, inflight := 0, 0
	for ; next < required; next++ {
		launch(candidates[next])
		inflight++
	}
	result.Attempted = next

	for inflight > 0 {
		select {
		case <-ctx.Done():
			result.TimedOut = true
			result.Errors = append(result.Errors, ctx.Err())
			return result
		case r := <-replies:
			inflight--
			if r.err != nil {
				result.Errors = append(result.Errors, fmt.Errorf("replica %s: %w", r.replicaID, r.err))
				if next < len(candidates) {
					launch(candidates[next])
					next++
					inflight++
					result.Attempted = next
				}
				continue
			}
			result.Responses++
			result.Values = append(result.Values, ReadValue{ReplicaID: r.replicaID, Value: r.value})
			if result.Responses >= required {
				result.Success = true
				return result
			}
		}
	}

	return result
}

// DoWrite fans a write out to every replica in parallel and returns as soon
// as required acks arrived or too many replicas failed for the quorum to be
// reachable.
func DoWrite(ctx context.Context, replicas []string, required int, perReplica time.Duration, writeFn ReplicaWriteFunc) WriteResult {
	result := WriteResult{Required: required, Replicas: len(replicas)}

	if required < 0 || required > len(replicas) {
		result.Errors = []error{fmt.Errorf("required=%d replicas=%d: %w", required, len(replicas), ErrNotEnoughCandidates)}
		return result
	}
	if required == 0 {
		result.Success = true
		return result
	}
	if perReplica <= 0 {
		perReplica = DefaultPerReplicaTimeout
	}

	replies := make(chan error, len(replicas))
	for _, rid := range replicas {
		go func(rid string) {
			rctx, cancel := context.WithTimeout(ctx, perReplica)
			defer cancel()
			if err := writeFn(rctx, rid); err != nil {
				replies <- fmt.Errorf("replica %s: %w", rid, err)
				return
			}
			replies <- nil
		}(rid)
	}

	for pending := len(replicas); pending > 0; pending-- {
		select {
		case <-ctx.Done():
			result.TimedOut = true
			result.Errors = append(result.Errors, ctx.Err())
			return result
		case err := <-replies:
			if err != nil {
				result.Errors = append(result.Errors, err)
				if len(replicas)-len(result.Errors) < required {
					return result
				}
				continue
			}
			result.Acks++
			if result.Acks >= required {
				result.Success = true
				return result
			}
		}
	}
	return result
}
