package storage

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"ecstore/internal/expect"
	"ecstore/internal/object"
)

// ErrStaleVersion is returned when a replicated value is older than the
// one already stored.
var ErrStaleVersion = errors.New("stale version")

// Store defines the interface for a replica's object table.
type Store interface {
	// Get returns the stored record, tombstones included. Returns nil if
	// the replica has never seen the object.
	Get(bucketID, objectID string) *object.VersionedValue
	// Apply writes content (or a tombstone when deleted is true) if e holds
	// for the current version, assigning the next version of the segment.
	// Deleting an object that does not exist is a no-op returning nil.
	Apply(bucketID string, segment uint16, objectID string, e expect.Expect, content []byte, deleted bool) (*object.VersionedValue, error)
	// Replicate stores value with its exact version. Values that are not
	// newer than the stored one are skipped.
	Replicate(bucketID string, segment uint16, objectID string, value *object.VersionedValue) error
	// List returns the live objects of a segment in ascending id order.
	List(bucketID string, segment uint16) []object.Summary
	// ListByPrefix returns the live objects of a bucket whose id starts
	// with prefix, in ascending id order.
	ListByPrefix(bucketID string, prefix object.Prefix) []object.Summary
	// Latest returns the live object with the highest version in a segment.
	Latest(bucketID string, segment uint16) (object.Summary, bool)
}

type objectKey struct {
	bucket string
	id     string
}

type segmentKey struct {
	bucket  string
	segment uint16
}

type record struct {
	segment uint16
	value   object.VersionedValue
}

// InMemoryStore is an in-memory implementation of Store.
// It's thread-safe.
type InMemoryStore struct {
	mu        sync.RWMutex
	data      map[objectKey]*record
	counters  map[segmentKey]object.Version // highest version seen per segment
	replicaID string
}

// NewInMemoryStore creates a new in-memory store.
func NewInMemoryStore(replicaID string) *InMemoryStore {
	return &InMemoryStore{
		data:      make(map[objectKey]*record),
		counters:  make(map[segmentKey]object.Version),
		replicaID: replicaID,
	}
}

// ReplicaID returns the id of the replica owning the store.
func (s *InMemoryStore) ReplicaID() string {
	return s.replicaID
}

// Get retrieves a record by object id.
func (s *InMemoryStore) Get(bucketID, objectID string) *object.VersionedValue {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, exists := s.data[objectKey{bucketID, objectID}]
	if !exists {
		return nil
	}
	// Return a copy to avoid external modifications
	return rec.value.Copy()
}

// Apply evaluates the precondition and writes under one lock, so two
// conditional writes racing on the same object cannot both succeed.
func (s *InMemoryStore) Apply(bucketID string, segment uint16, objectID string, e expect.Expect, content []byte, deleted bool) (*object.VersionedValue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := objectKey{bucketID, objectID}
	var current object.Versions
	rec, exists := s.data[key]
	if exists && !rec.value.Deleted {
		current = object.Versions{rec.value.Version}
	}

	if err := expect.Evaluate(e, current); err != nil {
		return nil, err
	}
	if deleted && len(current) == 0 {
		return nil, nil
	}

	seg := segmentKey{bucketID, segment}
	next := s.counters[seg].Next()
	if exists && rec.value.Version >= next {
		next = rec.value.Version.Next()
	}
	s.counters[seg] = next

	value := object.VersionedValue{Version: next, Deleted: deleted}
	if !deleted {
		value.Content = append([]byte(nil), content...)
	}
	s.data[key] = &record{segment: segment, value: value}

	return value.Copy(), nil
}

// Replicate stores the exact version (no increment) for replication and
// read repair.
func (s *InMemoryStore) Replicate(bucketID string, segment uint16, objectID string, value *object.VersionedValue) error {
	if value == nil {
		return fmt.Errorf("replicate %s/%s: nil value", bucketID, objectID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := objectKey{bucketID, objectID}
	if rec, exists := s.data[key]; exists {
		switch {
		case rec.value.Version > value.Version:
			return fmt.Errorf("replicate %s/%s version %s over %s: %w",
				bucketID, objectID, value.Version, rec.value.Version, ErrStaleVersion)
		case rec.value.Version == value.Version:
			return nil
		}
	}

	s.data[key] = &record{segment: segment, value: *value.Copy()}
	seg := segmentKey{bucketID, segment}
	if value.Version > s.counters[seg] {
		s.counters[seg] = value.Version
	}
	return nil
}

// List returns the live objects of a segment.
func (s *InMemoryStore) List(bucketID string, segment uint16) []object.Summary {
	return s.collect(func(k objectKey, rec *record) bool {
		return k.bucket == bucketID && rec.segment == segment
	})
}

// ListByPrefix returns the live objects of a bucket matching prefix.
func (s *InMemoryStore) ListByPrefix(bucketID string, prefix object.Prefix) []object.Summary {
	return s.collect(func(k objectKey, _ *record) bool {
		return k.bucket == bucketID && prefix.Matches(k.id)
	})
}

// Latest returns the most recently written live object of a segment.
func (s *InMemoryStore) Latest(bucketID string, segment uint16) (object.Summary, bool) {
	var latest object.Summary
	found := false
	for _, sum := range s.List(bucketID, segment) {
		if !found || sum.Version > latest.Version {
			latest, found = sum, true
		}
	}
	return latest, found
}

func (s *InMemoryStore) collect(match func(objectKey, *record) bool) []object.Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []object.Summary
	for k, rec := range s.data {
		if rec.value.Deleted || !match(k, rec) {
			continue
		}
		out = append(out, object.Summary{ID: k.id, Version: rec.value.Version})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
