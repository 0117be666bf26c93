package membership

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ecstore/internal/ring"
)

func newTestMembership() *Membership {
	return New(Config{
		LocalID:        "local",
		LocalAddr:      "127.0.0.1:50051",
		ProbeInterval:  20 * time.Millisecond,
		SuspectTimeout: 100 * time.Millisecond,
		Logger:         zerolog.Nop(),
	})
}

func statusOf(t *testing.T, m *Membership, id string) Status {
	t.Helper()
	s, ok := m.Status(id)
	require.True(t, ok, "member %s unknown", id)
	return s
}

func TestMembership_MergeRules(t *testing.T) {
	m := newTestMembership()

	m.ApplyGossip([]Member{{ID: "node1", Addr: "127.0.0.1:50052", Status: Alive, Incarnation: 5}})
	assert.Equal(t, Alive, statusOf(t, m, "node1"))

	// Lower incarnation is ignored.
	m.ApplyGossip([]Member{{ID: "node1", Status: Suspect, Incarnation: 3}})
	assert.Equal(t, Alive, statusOf(t, m, "node1"))

	// Higher incarnation wins.
	m.ApplyGossip([]Member{{ID: "node1", Status: Suspect, Incarnation: 6}})
	assert.Equal(t, Suspect, statusOf(t, m, "node1"))

	// Same incarnation prefers Alive.
	m.ApplyGossip([]Member{{ID: "node1", Status: Alive, Incarnation: 6}})
	assert.Equal(t, Alive, statusOf(t, m, "node1"))

	// Gossip about the local member is ignored.
	m.ApplyGossip([]Member{{ID: "local", Status: Dead, Incarnation: 99}})
	assert.Equal(t, Alive, statusOf(t, m, "local"))
}

func TestMembership_SuspectBecomesDead(t *testing.T) {
	m := newTestMembership()
	m.AddSeeds([]ring.Member{{ID: "node1", Addr: "127.0.0.1:50052"}})

	m.MarkSuspect("node1")
	assert.Equal(t, Suspect, statusOf(t, m, "node1"))

	m.checkTimeouts(time.Now())
	assert.Equal(t, Suspect, statusOf(t, m, "node1"))

	m.checkTimeouts(time.Now().Add(time.Second))
	assert.Equal(t, Dead, statusOf(t, m, "node1"))

	m.MarkAlive("node1")
	assert.Equal(t, Alive, statusOf(t, m, "node1"))
}

func TestMembership_LocalNeverSuspected(t *testing.T) {
	m := newTestMembership()
	m.MarkSuspect("local")
	assert.Equal(t, Alive, statusOf(t, m, "local"))
}

func TestMembership_Leader(t *testing.T) {
	m := newTestMembership()
	m.AddSeeds([]ring.Member{{ID: "node1"}, {ID: "node2"}})

	leader, ok := m.Leader("b", 0, "node1")
	require.True(t, ok)
	assert.Equal(t, "node1", leader)

	// A designated leader that is not Alive is unknown; leadership does not
	// move to another member.
	m.MarkSuspect("node1")
	_, ok = m.Leader("b", 0, "node1")
	assert.False(t, ok)

	m.MarkAlive("node1")
	leader, ok = m.Leader("b", 0, "node1")
	require.True(t, ok)
	assert.Equal(t, "node1", leader)

	_, ok = m.Leader("b", 0, "")
	assert.False(t, ok)
	_, ok = m.Leader("b", 0, "ghost")
	assert.False(t, ok)
}

func TestMembership_RingMembersIncludeFailed(t *testing.T) {
	m := newTestMembership()
	m.AddSeeds([]ring.Member{{ID: "node2", Addr: "b"}, {ID: "node1", Addr: "a"}})
	m.MarkSuspect("node1")

	assert.Equal(t, []ring.Member{
		{ID: "local", Addr: "127.0.0.1:50051"},
		{ID: "node1", Addr: "a"},
		{ID: "node2", Addr: "b"},
	}, m.RingMembers())
	assert.Equal(t, 2, m.AliveCount())
}

func TestMembership_OnChange(t *testing.T) {
	m := newTestMembership()
	changed := make(chan []ring.Member, 4)
	m.SetOnChange(func(members []ring.Member) { changed <- members })

	m.AddSeeds([]ring.Member{{ID: "node1"}})

	select {
	case members := <-changed:
		assert.Len(t, members, 2)
	case <-time.After(time.Second):
		t.Fatal("change callback not invoked")
	}
}

func TestMembership_ProbeLoop(t *testing.T) {
	m := newTestMembership()
	m.AddSeeds([]ring.Member{{ID: "node1", Addr: "down"}})

	var probes atomic.Int32
	m.Start(func(ctx context.Context, addr string) error {
		probes.Add(1)
		return errors.New("unreachable")
	}, nil)
	defer m.Stop()

	require.Eventually(t, func() bool {
		s, _ := m.Status("node1")
		return s == Dead
	}, 2*time.Second, 10*time.Millisecond)
	assert.Positive(t, probes.Load())
}

func TestMembership_GossipLoop(t *testing.T) {
	m := newTestMembership()
	m.AddSeeds([]ring.Member{{ID: "node1", Addr: "peer"}})

	m.Start(func(ctx context.Context, addr string) error { return nil },
		func(ctx context.Context, addr string, members []Member) ([]Member, error) {
			return []Member{{ID: "node3", Addr: "far", Status: Alive, Incarnation: 1}}, nil
		})
	defer m.Stop()

	require.Eventually(t, func() bool {
		_, ok := m.Status("node3")
		return ok
	}, 2*time.Second, 10*time.Millisecond)
}
