package it

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"ecstore/internal/consistency"
	"ecstore/internal/expect"
	"ecstore/internal/object"
	"ecstore/internal/topology"
)

const (
	bucketID = "photos"
	deadline = 2 * time.Second
)

func startCluster(t *testing.T) *Cluster {
	t.Helper()

	bucket, err := topology.NewBucket(bucketID, 0, "", topology.ReplicatedKind(4, 2))
	require.NoError(t, err)

	cluster, err := NewCluster([]string{"n1", "n2", "n3"}, Options{
		Buckets:           []*topology.Bucket{bucket},
		PerReplicaTimeout: 500 * time.Millisecond,
		ProbeInterval:     100 * time.Millisecond,
		SuspectTimeout:    time.Second,
		ReadRepair:        true,
		Logger:            zerolog.Nop(),
	})
	require.NoError(t, err)
	t.Cleanup(cluster.Stop)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	require.NoError(t, cluster.Start(ctx), "Failed to start cluster")
	return cluster
}

// holders counts the members storing objectID at version v.
func holders(c *Cluster, objectID string, v object.Version) int {
	n := 0
	for _, id := range []string{"n1", "n2", "n3"} {
		if got := c.Node(id).Store().Get(bucketID, objectID); got != nil && got.Version == v {
			n++
		}
	}
	return n
}

func TestSmoke_PutGetDelete(t *testing.T) {
	cluster := startCluster(t)
	ctx := context.Background()

	client, err := cluster.Client("n1")
	require.NoError(t, err)

	v, created, err := client.Put(ctx, bucketID, "cat.jpg", []byte("meow"), expect.ExpectNone(), deadline)
	require.NoError(t, err)
	assert.True(t, created)

	// Every member answers for the object, whichever one is asked.
	for _, id := range []string{"n1", "n2", "n3"} {
		c, err := cluster.Client(id)
		require.NoError(t, err)
		got, err := c.Get(ctx, bucketID, "cat.jpg", consistency.ConsistentRead(), deadline)
		require.NoError(t, err, id)
		require.NotNil(t, got, id)
		assert.Equal(t, "meow", string(got.Content))
		assert.Equal(t, v, got.Version)
	}

	assert.Eventually(t, func() bool { return holders(cluster, "cat.jpg", v) == 3 }, 5*time.Second, 20*time.Millisecond)

	removed, ok, err := client.Delete(ctx, bucketID, "cat.jpg", expect.ExpectIfMatch(v), deadline)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, v, removed)

	got, err := client.Get(ctx, bucketID, "cat.jpg", consistency.QuorumRead(), deadline)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSmoke_Preconditions(t *testing.T) {
	cluster := startCluster(t)
	ctx := context.Background()

	a, err := cluster.Client("n2")
	require.NoError(t, err)
	b, err := cluster.Client("n3")
	require.NoError(t, err)

	v1, _, err := a.Put(ctx, bucketID, "doc", []byte("v1"), expect.ExpectNone(), deadline)
	require.NoError(t, err)

	// A second create through another member loses.
	_, _, err = b.Put(ctx, bucketID, "doc", []byte("other"), expect.ExpectNone(), deadline)
	assert.ErrorIs(t, err, expect.ErrPreconditionFailed)
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))

	v2, created, err := b.Put(ctx, bucketID, "doc", []byte("v2"), expect.ExpectIfMatch(v1), deadline)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Greater(t, v2, v1)

	// The stale version no longer matches.
	_, _, err = a.Put(ctx, bucketID, "doc", []byte("v3"), expect.ExpectIfMatch(v1), deadline)
	assert.ErrorIs(t, err, expect.ErrPreconditionFailed)

	got, err := a.Get(ctx, bucketID, "doc", consistency.ConsistentRead(), deadline)
	require.NoError(t, err)
	assert.Equal(t, "v2", string(got.Content))
}

func TestSmoke_FollowerDown(t *testing.T) {
	cluster := startCluster(t)
	ctx := context.Background()

	leader, err := cluster.Leader(bucketID, "cat.jpg")
	require.NoError(t, err)
	var follower string
	for _, id := range []string{"n1", "n2", "n3"} {
		if id != leader {
			follower = id
			break
		}
	}
	require.NoError(t, cluster.StopNode(follower))

	client, err := cluster.Client(leader)
	require.NoError(t, err)

	// Leader plus one follower still make a quorum.
	v, _, err := client.Put(ctx, bucketID, "cat.jpg", []byte("meow"), expect.ExpectAny(), deadline)
	require.NoError(t, err)

	got, err := client.Get(ctx, bucketID, "cat.jpg", consistency.ConsistentRead(), deadline)
	require.NoError(t, err)
	assert.Equal(t, v, got.Version)

	head, found, err := client.Head(ctx, bucketID, "cat.jpg", consistency.QuorumRead(), deadline)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, v, head)
}

func TestSmoke_LeaderDown(t *testing.T) {
	cluster := startCluster(t)
	ctx := context.Background()

	leader, err := cluster.Leader(bucketID, "cat.jpg")
	require.NoError(t, err)
	var entry string
	for _, id := range []string{"n1", "n2", "n3"} {
		if id != leader {
			entry = id
			break
		}
	}
	client, err := cluster.Client(entry)
	require.NoError(t, err)

	v, _, err := client.Put(ctx, bucketID, "cat.jpg", []byte("meow"), expect.ExpectNone(), deadline)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return holders(cluster, "cat.jpg", v) == 3 }, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, cluster.StopNode(leader))

	// Consistent reads never fall back to a follower.
	_, err = client.Get(ctx, bucketID, "cat.jpg", consistency.ConsistentRead(), deadline)
	assert.ErrorIs(t, err, consistency.ErrLeaderUnavailable)

	// Writes need the leader too.
	_, _, err = client.Put(ctx, bucketID, "cat.jpg", []byte("purr"), expect.ExpectIfMatch(v), deadline)
	assert.Error(t, err)

	got, err := client.Get(ctx, bucketID, "cat.jpg", consistency.StaleRead(), deadline)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, v, got.Version)
}

func TestSmoke_SegmentOperations(t *testing.T) {
	cluster := startCluster(t)
	ctx := context.Background()

	client, err := cluster.Client("n1")
	require.NoError(t, err)

	for _, id := range []string{"logs/a", "logs/b", "logs/c", "keep"} {
		_, _, err := client.Put(ctx, bucketID, id, []byte(id), expect.ExpectAny(), deadline)
		require.NoError(t, err)
	}

	listed, err := client.ListByPrefix(ctx, bucketID, object.Prefix("logs/"))
	require.NoError(t, err)
	assert.Len(t, listed, 3)

	sum, err := client.DeleteByPrefix(ctx, bucketID, object.Prefix("logs/"), deadline)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), sum.Total)

	listed, err = client.ListByPrefix(ctx, bucketID, object.Prefix(""))
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, "keep", listed[0].ID)
}
