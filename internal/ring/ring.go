package ring

import (
	"fmt"
	"hash/fnv"
	"sort"
	"strconv"
)

// DefaultVnodes is the number of virtual nodes per member.
const DefaultVnodes = 128

// Member is a server holding replicas.
type Member struct {
	ID   string
	Addr string
}

// vnode represents a virtual node on the ring.
type vnode struct {
	hash     uint32
	memberID string
}

// Ring implements consistent hashing with virtual nodes.
type Ring struct {
	vnodesPerMember int
	vnodes          []vnode
	members         map[string]Member // memberID -> Member
}

// New builds a ring over members. The same members always produce the
// same ring regardless of input order.
func New(members []Member, vnodesPerMember int) *Ring {
	if vnodesPerMember <= 0 {
		vnodesPerMember = DefaultVnodes
	}
	r := &Ring{
		vnodesPerMember: vnodesPerMember,
		vnodes:          make([]vnode, 0, len(members)*vnodesPerMember),
		members:         make(map[string]Member, len(members)),
	}
	for _, m := range members {
		if _, dup := r.members[m.ID]; dup {
			continue
		}
		r.members[m.ID] = m
		for i := 0; i < vnodesPerMember; i++ {
			r.vnodes = append(r.vnodes, vnode{
				hash:     hashString(m.ID + "-vnode-" + strconv.Itoa(i)),
				memberID: m.ID,
			})
		}
	}

	// Sort vnodes by hash for binary search; equal hashes by member id.
	sort.Slice(r.vnodes, func(i, j int) bool {
		if r.vnodes[i].hash != r.vnodes[j].hash {
			return r.vnodes[i].hash < r.vnodes[j].hash
		}
		return r.vnodes[i].memberID < r.vnodes[j].memberID
	})
	return r
}

// With returns a new ring that also contains m.
func (r *Ring) With(m Member) *Ring {
	return New(append(r.Members(), m), r.vnodesPerMember)
}

// Without returns a new ring without the member.
func (r *Ring) Without(memberID string) *Ring {
	var kept []Member
	for _, m := range r.Members() {
		if m.ID != memberID {
			kept = append(kept, m)
		}
	}
	return New(kept, r.vnodesPerMember)
}

// Len returns the number of members.
func (r *Ring) Len() int {
	return len(r.members)
}

// Member looks a member up by id.
func (r *Ring) Member(id string) (Member, bool) {
	m, ok := r.members[id]
	return m, ok
}

// Members returns all members in ascending id order.
func (r *Ring) Members() []Member {
	out := make([]Member, 0, len(r.members))
	for _, m := range r.members {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// PreferenceList returns the first k distinct members clockwise from key.
func (r *Ring) PreferenceList(key string, k int) []Member {
	if len(r.vnodes) == 0 || k <= 0 {
		return []Member{}
	}

	keyHash := hashString(key)
	idx := sort.Search(len(r.vnodes), func(i int) bool {
		return r.vnodes[i].hash >= keyHash
	})
	if idx >= len(r.vnodes) {
		idx = 0
	}

	seen := make(map[string]bool)
	result := make([]Member, 0, min(k, len(r.members)))
	for i := 0; i < len(r.vnodes) && len(result) < k; i++ {
		id := r.vnodes[(idx+i)%len(r.vnodes)].memberID
		if !seen[id] {
			seen[id] = true
			result = append(result, r.members[id])
		}
	}
	return result
}

// SegmentKey is the ring key of a bucket segment.
func SegmentKey(bucketID string, segment uint16) string {
	return fmt.Sprintf("%s/%d", bucketID, segment)
}

// SegmentOf maps an object id to one of segmentCount segments. Validated
// buckets have at most 1<<16 segments, so the result always fits.
func SegmentOf(objectID string, segmentCount uint32) uint16 {
	if segmentCount == 0 {
		return 0
	}
	return uint16(hashString(objectID) % segmentCount)
}

// hashString computes a 32-bit FNV-1a hash of the string.
func hashString(s string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(s))
	return h.Sum32()
}
