package membership

import (
	"context"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"ecstore/internal/ring"
)

// Status represents the state of a cluster member.
type Status int

const (
	Alive Status = iota
	Suspect
	Dead
)

// String returns the string representation of Status.
func (s Status) String() string {
	switch s {
	case Alive:
		return "ALIVE"
	case Suspect:
		return "SUSPECT"
	case Dead:
		return "DEAD"
	default:
		return "UNKNOWN"
	}
}

// Member represents a cluster member.
type Member struct {
	ID          string
	Addr        string
	Status      Status
	Incarnation uint64
	LastSeen    time.Time
}

// ProbeFunc checks that the member at addr responds.
type ProbeFunc func(ctx context.Context, addr string) error

// GossipFunc sends the local view to the member at addr and returns the
// peer's view.
type GossipFunc func(ctx context.Context, addr string, members []Member) ([]Member, error)

// Config configures a Membership.
type Config struct {
	LocalID        string
	LocalAddr      string
	ProbeInterval  time.Duration
	SuspectTimeout time.Duration
	Logger         zerolog.Logger
}

// Membership manages cluster membership and reports which segment leaders
// are Alive.
type Membership struct {
	mu      sync.RWMutex
	localID string
	members map[string]*Member

	probeInterval  time.Duration
	suspectTimeout time.Duration
	logger         zerolog.Logger

	onChange func([]ring.Member)

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a membership manager with the local member Alive.
func New(cfg Config) *Membership {
	if cfg.ProbeInterval <= 0 {
		cfg.ProbeInterval = 1 * time.Second
	}
	if cfg.SuspectTimeout <= 0 {
		cfg.SuspectTimeout = 3 * time.Second
	}

	m := &Membership{
		localID:        cfg.LocalID,
		members:        make(map[string]*Member),
		probeInterval:  cfg.ProbeInterval,
		suspectTimeout: cfg.SuspectTimeout,
		logger:         cfg.Logger.With().Str("component", "membership").Str("local", cfg.LocalID).Logger(),
	}
	m.members[cfg.LocalID] = &Member{
		ID:          cfg.LocalID,
		Addr:        cfg.LocalAddr,
		Status:      Alive,
		Incarnation: 1,
		LastSeen:    time.Now(),
	}
	return m
}

// SetOnChange sets a callback invoked with all known members whenever the
// member set or a status changes. The callback runs on its own goroutine.
func (m *Membership) SetOnChange(fn func([]ring.Member)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = fn
}

// AddSeeds adds statically configured members, assumed Alive.
func (m *Membership) AddSeeds(seeds []ring.Member) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, seed := range seeds {
		if _, exists := m.members[seed.ID]; exists {
			continue
		}
		m.members[seed.ID] = &Member{
			ID:          seed.ID,
			Addr:        seed.Addr,
			Status:      Alive,
			Incarnation: 1,
			LastSeen:    time.Now(),
		}
	}
	m.notifyLocked()
}

// Start runs the probe, gossip and timeout loops until Stop.
func (m *Membership) Start(probeFn ProbeFunc, gossipFn GossipFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel

	loop := func(interval time.Duration, fn func(context.Context)) {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					fn(ctx)
				}
			}
		}()
	}

	loop(m.probeInterval, func(ctx context.Context) { m.probe(ctx, probeFn) })
	if gossipFn != nil {
		loop(m.probeInterval*2, func(ctx context.Context) { m.gossip(ctx, gossipFn) })
	}
	loop(m.probeInterval/2, func(context.Context) { m.checkTimeouts(time.Now()) })
}

// Stop stops the background loops.
func (m *Membership) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}

// randomPeer picks a non-local member with one of the given statuses.
func (m *Membership) randomPeer(statuses ...Status) (Member, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var candidates []Member
	for id, member := range m.members {
		if id == m.localID {
			continue
		}
		for _, s := range statuses {
			if member.Status == s {
				candidates = append(candidates, *member)
				break
			}
		}
	}
	if len(candidates) == 0 {
		return Member{}, false
	}
	return candidates[rand.IntN(len(candidates))], true
}

// probe checks one random peer. Suspect peers are probed too so they can
// recover.
func (m *Membership) probe(ctx context.Context, probeFn ProbeFunc) {
	target, ok := m.randomPeer(Alive, Suspect)
	if !ok {
		return
	}

	pctx, cancel := context.WithTimeout(ctx, m.probeInterval)
	defer cancel()

	if err := probeFn(pctx, target.Addr); err != nil {
		m.MarkSuspect(target.ID)
		return
	}
	m.MarkAlive(target.ID)
}

// gossip exchanges views with one random peer.
func (m *Membership) gossip(ctx context.Context, gossipFn GossipFunc) {
	target, ok := m.randomPeer(Alive)
	if !ok {
		return
	}

	gctx, cancel := context.WithTimeout(ctx, m.probeInterval)
	defer cancel()

	remote, err := gossipFn(gctx, target.Addr, m.Snapshot())
	if err != nil {
		m.logger.Debug().Err(err).Str("peer", target.ID).Msg("gossip failed")
		return
	}
	m.ApplyGossip(remote)
}

// checkTimeouts turns Suspect members silent for longer than the suspect
// timeout into Dead ones.
func (m *Membership) checkTimeouts(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	changed := false
	for id, member := range m.members {
		if id == m.localID || member.Status != Suspect {
			continue
		}
		if now.Sub(member.LastSeen) > m.suspectTimeout {
			member.Status = Dead
			member.Incarnation++
			m.logger.Warn().Str("member", id).Msg("marked DEAD (suspect timeout)")
			changed = true
		}
	}
	if changed {
		m.notifyLocked()
	}
}

// ApplyGossip merges a remote view. A higher incarnation wins; on equal
// incarnations Alive beats Suspect beats Dead.
func (m *Membership) ApplyGossip(remote []Member) {
	m.mu.Lock()
	defer m.mu.Unlock()

	changed := false
	for _, r := range remote {
		if r.ID == m.localID {
			continue
		}

		local, exists := m.members[r.ID]
		switch {
		case !exists:
			m.members[r.ID] = &Member{
				ID:          r.ID,
				Addr:        r.Addr,
				Status:      r.Status,
				Incarnation: r.Incarnation,
				LastSeen:    time.Now(),
			}
			m.logger.Info().Str("member", r.ID).Stringer("status", r.Status).Msg("discovered member")
			changed = true
		case r.Incarnation > local.Incarnation:
			local.Status = r.Status
			local.Incarnation = r.Incarnation
			local.LastSeen = time.Now()
			changed = true
		case r.Incarnation == local.Incarnation && r.Status < local.Status:
			local.Status = r.Status
			local.LastSeen = time.Now()
			changed = true
		}
	}

	if changed {
		m.notifyLocked()
	}
}

// MarkAlive marks a member as alive after it answered.
func (m *Membership) MarkAlive(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	member, exists := m.members[id]
	if !exists {
		return
	}
	member.LastSeen = time.Now()
	if member.Status != Alive {
		member.Status = Alive
		member.Incarnation++
		m.logger.Info().Str("member", id).Msg("marked ALIVE")
		m.notifyLocked()
	}
}

// MarkSuspect marks an Alive member as suspect after a failed probe.
func (m *Membership) MarkSuspect(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	member, exists := m.members[id]
	if !exists || id == m.localID || member.Status != Alive {
		return
	}
	member.Status = Suspect
	member.Incarnation++
	member.LastSeen = time.Now()
	m.logger.Warn().Str("member", id).Msg("marked SUSPECT (probe failed)")
	m.notifyLocked()
}

// Status returns the status of a member.
func (m *Membership) Status(id string) (Status, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	member, ok := m.members[id]
	if !ok {
		return Dead, false
	}
	return member.Status, true
}

// Snapshot returns a copy of all members in ascending id order.
func (m *Membership) Snapshot() []Member {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshotLocked()
}

func (m *Membership) snapshotLocked() []Member {
	out := make([]Member, 0, len(m.members))
	for _, member := range m.members {
		out = append(out, *member)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// RingMembers returns every known member, whatever its status. Placement
// does not move when a member fails; reads route around it instead.
func (m *Membership) RingMembers() []ring.Member {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ringMembersLocked()
}

func (m *Membership) ringMembersLocked() []ring.Member {
	out := make([]ring.Member, 0, len(m.members))
	for _, member := range m.snapshotLocked() {
		out = append(out, ring.Member{ID: member.ID, Addr: member.Addr})
	}
	return out
}

// AliveCount returns the number of Alive members, the local one included.
func (m *Membership) AliveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, member := range m.members {
		if member.Status == Alive {
			n++
		}
	}
	return n
}

// Leader returns the designated leader of a segment if that member is
// Alive. Leadership never passes to another member: a segment whose
// designated leader is Suspect or Dead has no leader until it recovers.
func (m *Membership) Leader(bucketID string, segment uint16, designated string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	member, ok := m.members[designated]
	if designated == "" || !ok || member.Status != Alive {
		return "", false
	}
	return designated, true
}

// notifyLocked invokes the change callback; m.mu must be held.
func (m *Membership) notifyLocked() {
	if m.onChange == nil {
		return
	}
	members := m.ringMembersLocked()
	go m.onChange(members)
}
