package router

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ecstore/internal/consistency"
	"ecstore/internal/expect"
	"ecstore/internal/object"
	"ecstore/internal/replication"
	"ecstore/internal/ring"
	"ecstore/internal/storage"
	"ecstore/internal/topology"
)

const (
	testBucket   = "photos"
	testDeadline = time.Second
)

var errUnreachable = errors.New("replica unreachable")

// downReplica fails every call.
type downReplica struct{ id string }

func (d downReplica) ID() string { return d.id }
func (d downReplica) Fetch(context.Context, string, string) (*object.VersionedValue, error) {
	return nil, errUnreachable
}
func (d downReplica) Apply(context.Context, string, uint16, string, expect.Expect, []byte, bool) (*object.VersionedValue, error) {
	return nil, errUnreachable
}
func (d downReplica) Replicate(context.Context, string, uint16, string, *object.VersionedValue) error {
	return errUnreachable
}
func (d downReplica) List(context.Context, string, uint16) ([]object.Summary, error) {
	return nil, errUnreachable
}
func (d downReplica) ListByPrefix(context.Context, string, object.Prefix) ([]object.Summary, error) {
	return nil, errUnreachable
}
func (d downReplica) Latest(context.Context, string, uint16) (object.Summary, bool, error) {
	return object.Summary{}, false, errUnreachable
}

type noLeader struct{}

func (noLeader) Leader(string, uint16, string) (string, bool) { return "", false }

// testCluster runs three in-process replicas behind a router that is not a
// member itself, so every replica call goes through the dialer.
type testCluster struct {
	mu     sync.Mutex
	down   map[string]bool
	stores map[string]*storage.InMemoryStore
	router *Router
}

func newTestCluster(t *testing.T, leaders replication.LeaderLookup, readRepair bool) *testCluster {
	t.Helper()

	c := &testCluster{
		down:   make(map[string]bool),
		stores: make(map[string]*storage.InMemoryStore),
	}
	var members []ring.Member
	for _, id := range []string{"n1", "n2", "n3"} {
		c.stores[id] = storage.NewInMemoryStore(id)
		members = append(members, ring.Member{ID: id, Addr: id + ":7000"})
	}

	bucket, err := topology.NewBucket(testBucket, 0, "root", topology.ReplicatedKind(4, 2))
	require.NoError(t, err)

	rt, err := New(Config{
		Local:             NewLocalReplica("gateway", storage.NewInMemoryStore("gateway")),
		Dial:              c.dial,
		Leaders:           leaders,
		PerReplicaTimeout: 200 * time.Millisecond,
		ReadRepair:        readRepair,
		Logger:            zerolog.Nop(),
	}, ring.New(members, 32), []*topology.Bucket{bucket})
	require.NoError(t, err)
	c.router = rt
	return c
}

func (c *testCluster) dial(m ring.Member) (Replica, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.down[m.ID] {
		return downReplica{id: m.ID}, nil
	}
	return NewLocalReplica(m.ID, c.stores[m.ID]), nil
}

func (c *testCluster) setDown(id string, down bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.down[id] = down
}

// replicaSet returns the replica set holding objectID.
func (c *testCluster) replicaSet(t *testing.T, objectID string) (topology.ReplicaSet, uint16) {
	t.Helper()
	sets, err := c.router.Placement(testBucket)
	require.NoError(t, err)
	seg := ring.SegmentOf(objectID, 4)
	return sets[seg], seg
}

func (c *testCluster) leaderOf(t *testing.T, objectID string) string {
	t.Helper()
	rs, _ := c.replicaSet(t, objectID)
	leader, ok := rs.Leader()
	require.True(t, ok)
	return leader
}

// holders counts the replicas storing objectID at version v.
func (c *testCluster) holders(objectID string, v object.Version) int {
	n := 0
	for _, s := range c.stores {
		if got := s.Get(testBucket, objectID); got != nil && got.Version == v {
			n++
		}
	}
	return n
}

func TestRouter_PutGet(t *testing.T) {
	c := newTestCluster(t, nil, false)
	ctx := context.Background()

	v, created, err := c.router.Put(ctx, testBucket, "cat.jpg", []byte("meow"), expect.ExpectNone(), testDeadline)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, object.Version(1), v)
	assert.GreaterOrEqual(t, c.holders("cat.jpg", v), 2, "a quorum must hold the write")

	got, err := c.router.Get(ctx, testBucket, "cat.jpg", consistency.ConsistentRead(), testDeadline)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "meow", string(got.Content))

	version, found, err := c.router.Head(ctx, testBucket, "cat.jpg", consistency.QuorumRead(), testDeadline)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, v, version)

	v2, created, err := c.router.Put(ctx, testBucket, "cat.jpg", []byte("purr"), expect.ExpectIfMatch(v), testDeadline)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Greater(t, v2, v)
}

func TestRouter_GetMissing(t *testing.T) {
	c := newTestCluster(t, nil, false)

	got, err := c.router.Get(context.Background(), testBucket, "nothing", consistency.QuorumRead(), testDeadline)
	require.NoError(t, err)
	assert.Nil(t, got)

	_, found, err := c.router.Head(context.Background(), testBucket, "nothing", consistency.StaleRead(), testDeadline)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRouter_FailedPreconditionNeverWrites(t *testing.T) {
	c := newTestCluster(t, nil, false)
	ctx := context.Background()

	v, _, err := c.router.Put(ctx, testBucket, "doc", []byte("first"), expect.ExpectAny(), testDeadline)
	require.NoError(t, err)

	tests := []struct {
		name string
		e    expect.Expect
	}{
		{"none on existing", expect.ExpectNone()},
		{"if-match other version", expect.ExpectIfMatch(v + 10)},
		{"if-none-match current", expect.ExpectIfNoneMatch(v)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := c.router.Put(ctx, testBucket, "doc", []byte("second"), tt.e, testDeadline)
			require.Error(t, err)
			assert.True(t, errors.Is(err, expect.ErrPreconditionFailed))

			var pf *expect.PreconditionFailedError
			require.True(t, errors.As(err, &pf))
			assert.Equal(t, object.Versions{v}, pf.Observed)

			for id, s := range c.stores {
				if got := s.Get(testBucket, "doc"); got != nil {
					assert.Equal(t, "first", string(got.Content), "replica %s", id)
					assert.Equal(t, v, got.Version, "replica %s", id)
				}
			}
		})
	}

	_, _, err = c.router.Delete(ctx, testBucket, "doc", expect.ExpectIfMatch(v+1), testDeadline)
	assert.True(t, errors.Is(err, expect.ErrPreconditionFailed))
	got, err := c.router.Get(ctx, testBucket, "doc", consistency.ConsistentRead(), testDeadline)
	require.NoError(t, err)
	require.NotNil(t, got)
}

func TestRouter_ConsistentReadSeesLatestWrite(t *testing.T) {
	c := newTestCluster(t, nil, false)
	ctx := context.Background()

	v1, _, err := c.router.Put(ctx, testBucket, "k", []byte("one"), expect.ExpectAny(), testDeadline)
	require.NoError(t, err)

	// A second write reaches only the leader.
	leader := c.leaderOf(t, "k")
	_, seg := c.replicaSet(t, "k")
	v2, err := c.stores[leader].Apply(testBucket, seg, "k", expect.ExpectIfMatch(v1), []byte("two"), false)
	require.NoError(t, err)

	got, err := c.router.Get(ctx, testBucket, "k", consistency.ConsistentRead(), testDeadline)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, v2.Version, got.Version)
	assert.Equal(t, "two", string(got.Content))
}

func TestRouter_ConsistentNeverFallsBack(t *testing.T) {
	c := newTestCluster(t, nil, false)
	ctx := context.Background()

	_, _, err := c.router.Put(ctx, testBucket, "k", []byte("v"), expect.ExpectAny(), testDeadline)
	require.NoError(t, err)

	c.setDown(c.leaderOf(t, "k"), true)

	_, err = c.router.Get(ctx, testBucket, "k", consistency.ConsistentRead(), testDeadline)
	assert.True(t, errors.Is(err, consistency.ErrLeaderUnavailable))

	// Writes read through the leader too.
	_, _, err = c.router.Put(ctx, testBucket, "k", []byte("w"), expect.ExpectAny(), testDeadline)
	assert.True(t, errors.Is(err, consistency.ErrLeaderUnavailable))

	// Stale reads skip the unreachable leader.
	_, err = c.router.Get(ctx, testBucket, "k", consistency.StaleRead(), testDeadline)
	assert.NoError(t, err)
}

func TestRouter_UnknownLeader(t *testing.T) {
	c := newTestCluster(t, noLeader{}, false)
	ctx := context.Background()

	_, _, err := c.router.Put(ctx, testBucket, "k", []byte("v"), expect.ExpectAny(), testDeadline)
	require.Error(t, err)
	assert.True(t, errors.Is(err, consistency.ErrLeaderUnavailable))
	assert.Equal(t, 0, c.holders("k", 1))

	_, err = c.router.List(ctx, testBucket, 0)
	assert.True(t, errors.Is(err, consistency.ErrLeaderUnavailable))
}

func TestRouter_ReplicationQuorumNotMet(t *testing.T) {
	c := newTestCluster(t, nil, false)
	rs, _ := c.replicaSet(t, "k")
	leader, _ := rs.Leader()
	for _, id := range rs.Members() {
		if id != leader {
			c.setDown(id, true)
		}
	}

	_, _, err := c.router.Put(context.Background(), testBucket, "k", []byte("v"), expect.ExpectAny(), testDeadline)
	require.Error(t, err)
	assert.True(t, errors.Is(err, consistency.ErrInsufficientReplicas))
}

func TestRouter_Delete(t *testing.T) {
	c := newTestCluster(t, nil, false)
	ctx := context.Background()

	v, _, err := c.router.Put(ctx, testBucket, "k", []byte("v"), expect.ExpectAny(), testDeadline)
	require.NoError(t, err)

	removed, ok, err := c.router.Delete(ctx, testBucket, "k", expect.ExpectIfMatch(v), testDeadline)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, v, removed)

	got, err := c.router.Get(ctx, testBucket, "k", consistency.ConsistentRead(), testDeadline)
	require.NoError(t, err)
	assert.Nil(t, got, "tombstone must read as absent")

	_, ok, err = c.router.Delete(ctx, testBucket, "k", expect.ExpectAny(), testDeadline)
	require.NoError(t, err)
	assert.False(t, ok)

	// The object can be created again after deletion.
	_, created, err := c.router.Put(ctx, testBucket, "k", []byte("again"), expect.ExpectNone(), testDeadline)
	require.NoError(t, err)
	assert.True(t, created)
}

func TestRouter_InvalidRequests(t *testing.T) {
	c := newTestCluster(t, nil, false)
	ctx := context.Background()

	_, err := c.router.Get(ctx, "nope", "k", consistency.ConsistentRead(), testDeadline)
	assert.True(t, errors.Is(err, ErrUnknownBucket))

	_, err = c.router.Get(ctx, testBucket, "", consistency.ConsistentRead(), testDeadline)
	assert.True(t, errors.Is(err, ErrInvalidRequest))

	_, err = c.router.Get(ctx, testBucket, "k", consistency.SubsetRead(4), testDeadline)
	assert.True(t, errors.Is(err, consistency.ErrInvalidConsistency))

	_, _, err = c.router.Put(ctx, testBucket, "k", []byte("v"), expect.ExpectAny(), 0)
	assert.True(t, errors.Is(err, consistency.ErrInvalidDeadline))

	_, err = c.router.List(ctx, testBucket, 4)
	assert.True(t, errors.Is(err, ErrInvalidRequest))
}

func TestRouter_ListAndLatest(t *testing.T) {
	c := newTestCluster(t, nil, false)
	ctx := context.Background()

	bySegment := make(map[uint16][]string)
	for i := 0; i < 12; i++ {
		id := fmt.Sprintf("obj-%02d", i)
		_, _, err := c.router.Put(ctx, testBucket, id, []byte(id), expect.ExpectNone(), testDeadline)
		require.NoError(t, err)
		seg := ring.SegmentOf(id, 4)
		bySegment[seg] = append(bySegment[seg], id)
	}

	for seg, ids := range bySegment {
		sums, err := c.router.List(ctx, testBucket, seg)
		require.NoError(t, err)
		got := make([]string, 0, len(sums))
		for _, s := range sums {
			got = append(got, s.ID)
		}
		assert.Equal(t, ids, got, "segment %d", seg)

		latest, ok, err := c.router.LatestVersion(ctx, testBucket, seg)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, ids[len(ids)-1], latest.ID)
	}

	all, err := c.router.ListByPrefix(ctx, testBucket, "obj-0")
	require.NoError(t, err)
	assert.Len(t, all, 10)
	for i := 1; i < len(all); i++ {
		assert.Less(t, all[i-1].ID, all[i].ID)
	}
}

func TestRouter_DeleteByVersionAndRange(t *testing.T) {
	c := newTestCluster(t, nil, false)
	ctx := context.Background()

	// Find three ids sharing a segment.
	var ids []string
	seg := ring.SegmentOf("a-0", 4)
	for i := 0; len(ids) < 3; i++ {
		id := fmt.Sprintf("a-%d", i)
		if ring.SegmentOf(id, 4) == seg {
			ids = append(ids, id)
		}
	}
	versions := make([]object.Version, len(ids))
	for i, id := range ids {
		v, _, err := c.router.Put(ctx, testBucket, id, []byte("x"), expect.ExpectAny(), testDeadline)
		require.NoError(t, err)
		versions[i] = v
	}

	ok, err := c.router.DeleteByVersion(ctx, testBucket, seg, versions[0], testDeadline)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.router.DeleteByVersion(ctx, testBucket, seg, versions[0], testDeadline)
	require.NoError(t, err)
	assert.False(t, ok, "already deleted")

	deleted, err := c.router.DeleteByRange(ctx, testBucket, seg, object.Range{Start: versions[1], End: versions[2] + 1}, testDeadline)
	require.NoError(t, err)
	require.Len(t, deleted, 2)
	assert.ElementsMatch(t, ids[1:], []string{deleted[0].ID, deleted[1].ID})

	sums, err := c.router.List(ctx, testBucket, seg)
	require.NoError(t, err)
	assert.Empty(t, sums)

	deleted, err = c.router.DeleteByRange(ctx, testBucket, seg, object.Range{Start: 5, End: 5}, testDeadline)
	require.NoError(t, err)
	assert.Empty(t, deleted)
}

func TestRouter_DeleteByPrefix(t *testing.T) {
	c := newTestCluster(t, nil, false)
	ctx := context.Background()

	for _, id := range []string{"tmp/a", "tmp/b", "tmp/c", "keep/a"} {
		_, _, err := c.router.Put(ctx, testBucket, id, []byte(id), expect.ExpectAny(), testDeadline)
		require.NoError(t, err)
	}

	summary, err := c.router.DeleteByPrefix(ctx, testBucket, "tmp/", testDeadline)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), summary.Total)

	left, err := c.router.ListByPrefix(ctx, testBucket, "")
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, "keep/a", left[0].ID)
}

func TestRouter_ReadRepair(t *testing.T) {
	c := newTestCluster(t, nil, true)
	ctx := context.Background()

	v1, _, err := c.router.Put(ctx, testBucket, "k", []byte("one"), expect.ExpectAny(), testDeadline)
	require.NoError(t, err)

	leader := c.leaderOf(t, "k")
	_, seg := c.replicaSet(t, "k")
	v2, err := c.stores[leader].Apply(testBucket, seg, "k", expect.ExpectIfMatch(v1), []byte("two"), false)
	require.NoError(t, err)

	got, err := c.router.Get(ctx, testBucket, "k", consistency.SubsetRead(3), testDeadline)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, v2.Version, got.Version)

	assert.Eventually(t, func() bool {
		return c.holders("k", v2.Version) == 3
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRouter_RequestID(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req-1")
	id, ok := RequestID(ctx)
	assert.True(t, ok)
	assert.Equal(t, "req-1", id)

	_, ok = RequestID(context.Background())
	assert.False(t, ok)

	ctx, generated := ensureRequestID(context.Background())
	assert.NotEmpty(t, generated)
	id, _ = RequestID(ctx)
	assert.Equal(t, generated, id)
}

func TestRouter_SetBucketsRejectsDuplicates(t *testing.T) {
	c := newTestCluster(t, nil, false)
	b, err := topology.NewBucket("x", 0, "root", topology.MetadataKind(1))
	require.NoError(t, err)

	err = c.router.SetBuckets([]*topology.Bucket{b, b})
	assert.True(t, errors.Is(err, topology.ErrInvalidTopology))

	_, ok := c.router.Bucket(testBucket)
	assert.True(t, ok, "failed swap keeps the previous snapshot")
}

func TestRouter_RingGrowthKeepsSegments(t *testing.T) {
	c := newTestCluster(t, nil, false)
	ctx := context.Background()

	written := make(map[string]object.Version)
	for i := 0; i < 40; i++ {
		id := fmt.Sprintf("obj-%d", i)
		v, _, err := c.router.Put(ctx, testBucket, id, []byte(id), expect.ExpectAny(), testDeadline)
		require.NoError(t, err)
		written[id] = v
	}
	before, err := c.router.Placement(testBucket)
	require.NoError(t, err)

	// New members join with empty stores.
	grown := c.router.Ring()
	for i := 4; i <= 8; i++ {
		id := fmt.Sprintf("n%d", i)
		c.mu.Lock()
		c.stores[id] = storage.NewInMemoryStore(id)
		c.mu.Unlock()
		grown = grown.With(ring.Member{ID: id, Addr: id + ":7000"})
	}
	c.router.SetRing(grown)
	assert.Equal(t, 8, c.router.Ring().Len())

	after, err := c.router.Placement(testBucket)
	require.NoError(t, err)
	for seg := range before {
		assert.Equal(t, before[seg].Members(), after[seg].Members(), "segment %d", seg)
	}

	for id, v := range written {
		got, err := c.router.Get(ctx, testBucket, id, consistency.ConsistentRead(), testDeadline)
		require.NoError(t, err, id)
		require.NotNil(t, got, id)
		assert.Equal(t, v, got.Version, id)
	}

	// A create of an existing object still fails after the ring grew.
	_, _, err = c.router.Put(ctx, testBucket, "obj-0", []byte("again"), expect.ExpectNone(), testDeadline)
	assert.ErrorIs(t, err, expect.ErrPreconditionFailed)
}

func TestRouter_SetBucketsKeepsPlacement(t *testing.T) {
	c := newTestCluster(t, nil, false)
	before, err := c.router.Placement(testBucket)
	require.NoError(t, err)

	c.router.SetRing(c.router.Ring().With(ring.Member{ID: "n4", Addr: "n4:7000"}))

	same, err := topology.NewBucket(testBucket, 1, "root", topology.ReplicatedKind(4, 2))
	require.NoError(t, err)
	require.NoError(t, c.router.SetBuckets([]*topology.Bucket{same}))

	after, err := c.router.Placement(testBucket)
	require.NoError(t, err)
	require.Len(t, after, len(before))
	for seg := range before {
		assert.Equal(t, before[seg].Members(), after[seg].Members(), "segment %d", seg)
	}
}
