package router

import (
	"context"

	"ecstore/internal/expect"
	"ecstore/internal/object"
	"ecstore/internal/storage"
)

// Replica is one member's object table as seen by the router. The local
// member is served straight from its store; peers go over the wire.
type Replica interface {
	ID() string
	Fetch(ctx context.Context, bucketID, objectID string) (*object.VersionedValue, error)
	Apply(ctx context.Context, bucketID string, segment uint16, objectID string, e expect.Expect, content []byte, deleted bool) (*object.VersionedValue, error)
	Replicate(ctx context.Context, bucketID string, segment uint16, objectID string, value *object.VersionedValue) error
	List(ctx context.Context, bucketID string, segment uint16) ([]object.Summary, error)
	ListByPrefix(ctx context.Context, bucketID string, prefix object.Prefix) ([]object.Summary, error)
	Latest(ctx context.Context, bucketID string, segment uint16) (object.Summary, bool, error)
}

// LocalReplica serves a Replica from an in-process store.
type LocalReplica struct {
	id    string
	store storage.Store
}

// NewLocalReplica wraps store as the replica id.
func NewLocalReplica(id string, store storage.Store) *LocalReplica {
	return &LocalReplica{id: id, store: store}
}

func (l *LocalReplica) ID() string { return l.id }

func (l *LocalReplica) Fetch(ctx context.Context, bucketID, objectID string) (*object.VersionedValue, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return l.store.Get(bucketID, objectID), nil
}

func (l *LocalReplica) Apply(ctx context.Context, bucketID string, segment uint16, objectID string, e expect.Expect, content []byte, deleted bool) (*object.VersionedValue, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return l.store.Apply(bucketID, segment, objectID, e, content, deleted)
}

func (l *LocalReplica) Replicate(ctx context.Context, bucketID string, segment uint16, objectID string, value *object.VersionedValue) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return l.store.Replicate(bucketID, segment, objectID, value)
}

func (l *LocalReplica) List(ctx context.Context, bucketID string, segment uint16) ([]object.Summary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return l.store.List(bucketID, segment), nil
}

func (l *LocalReplica) ListByPrefix(ctx context.Context, bucketID string, prefix object.Prefix) ([]object.Summary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return l.store.ListByPrefix(bucketID, prefix), nil
}

func (l *LocalReplica) Latest(ctx context.Context, bucketID string, segment uint16) (object.Summary, bool, error) {
	if err := ctx.Err(); err != nil {
		return object.Summary{}, false, err
	}
	sum, ok := l.store.Latest(bucketID, segment)
	return sum, ok, nil
}
