package repair

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"ecstore/internal/object"
)

// ReplicaWriter pushes an exact version of an object to one replica without
// allocating a new version.
type ReplicaWriter interface {
	Replicate(ctx context.Context, replicaID, bucketID, objectID string, value *object.VersionedValue) error
}

// ReadRepairer performs asynchronous read repair to converge stale replicas.
type ReadRepairer struct {
	writer  ReplicaWriter
	timeout time.Duration
	logger  zerolog.Logger
}

// NewReadRepairer creates a new read repairer.
func NewReadRepairer(writer ReplicaWriter, timeout time.Duration, logger zerolog.Logger) *ReadRepairer {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &ReadRepairer{
		writer:  writer,
		timeout: timeout,
		logger:  logger.With().Str("component", "read-repair").Logger(),
	}
}

// Repair asynchronously writes winner to each stale replica. It is
// fire-and-forget: failures are logged and never retried. The returned
// channel is closed when the attempt finishes.
func (r *ReadRepairer) Repair(bucketID, objectID string, winner *object.VersionedValue, stale []string) <-chan struct{} {
	done := make(chan struct{})
	if winner == nil || len(stale) == 0 {
		close(done)
		return done
	}
	winner = winner.Copy()
	stale = append([]string(nil), stale...)

	go func() {
		defer close(done)
		defer func() {
			if err := recover(); err != nil {
				r.logger.Error().Interface("panic", err).Str("object", objectID).Msg("read repair panic")
			}
		}()

		// Detached from the request: the read has already been answered.
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()

		repaired, failed := 0, 0
		for _, replicaID := range stale {
			if err := r.writer.Replicate(ctx, replicaID, bucketID, objectID, winner); err != nil {
				r.logger.Warn().Err(err).
					Str("bucket", bucketID).
					Str("object", objectID).
					Str("replica", replicaID).
					Msg("read repair failed")
				failed++
				continue
			}
			repaired++
		}

		r.logger.Debug().
			Str("bucket", bucketID).
			Str("object", objectID).
			Stringer("version", winner.Version).
			Int("repaired", repaired).
			Int("failed", failed).
			Msg("read repair completed")
	}()

	return done
}
