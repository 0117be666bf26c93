package topology

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func replicatedBucket(t *testing.T) *Bucket {
	t.Helper()
	b, err := NewBucket("b", 0, "d", ReplicatedKind(4, 2))
	require.NoError(t, err)
	return b
}

func TestNewReplicaSet(t *testing.T) {
	b := replicatedBucket(t)

	rs, err := NewReplicaSet(b, []string{"n3", "n1", "n2"}, "n2")
	require.NoError(t, err)
	assert.Equal(t, []string{"n1", "n2", "n3"}, rs.Members())
	assert.Equal(t, []string{"n2", "n1", "n3"}, rs.LeaderFirst())

	leader, ok := rs.Leader()
	assert.True(t, ok)
	assert.Equal(t, "n2", leader)
}

func TestNewReplicaSet_UnknownLeader(t *testing.T) {
	rs, err := NewReplicaSet(replicatedBucket(t), []string{"n2", "n1", "n3"}, "")
	require.NoError(t, err)

	_, ok := rs.Leader()
	assert.False(t, ok)
	assert.Equal(t, []string{"n1", "n2", "n3"}, rs.LeaderFirst())
}

func TestNewReplicaSet_Rejects(t *testing.T) {
	b := replicatedBucket(t)

	tests := []struct {
		name    string
		members []string
		leader  string
	}{
		{"too few", []string{"n1", "n2"}, ""},
		{"too many", []string{"n1", "n2", "n3", "n4"}, ""},
		{"duplicate", []string{"n1", "n1", "n2"}, ""},
		{"foreign leader", []string{"n1", "n2", "n3"}, "n9"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewReplicaSet(b, tt.members, tt.leader)
			assert.ErrorIs(t, err, ErrInvalidTopology)
		})
	}
}

func TestReplicaSet_MembersIsCopy(t *testing.T) {
	rs, err := NewReplicaSet(replicatedBucket(t), []string{"a", "b", "c"}, "")
	require.NoError(t, err)

	m := rs.Members()
	m[0] = "zzz"
	assert.Equal(t, []string{"a", "b", "c"}, rs.Members())
}
