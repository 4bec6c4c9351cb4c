package ring

import (
	"hash/fnv"
	"sort"

	"ringkv/internal/address"
)

const (
	// DefaultSpace is the size of the hash space keys and nodes map into.
	DefaultSpace = 512
	// ReplicationFactor is the number of replicas per key.
	ReplicationFactor = 3
)

// Ring is an immutable snapshot of members sorted by hash ascending.
// Equal hashes are ordered by address.
type Ring struct {
	space  uint32
	nodes  []address.Address
	hashes []uint32
}

// Build sorts members into a new Ring. Duplicate addresses are collapsed.
// A zero space means DefaultSpace.
func Build(members []address.Address, space uint32) *Ring {
	if space == 0 {
		space = DefaultSpace
	}

	seen := make(map[address.Address]bool, len(members))
	nodes := make([]address.Address, 0, len(members))
	for _, m := range members {
		if seen[m] {
			continue
		}
		seen[m] = true
		nodes = append(nodes, m)
	}

	sort.Slice(nodes, func(i, j int) bool {
		hi, hj := hashString(nodes[i].String(), space), hashString(nodes[j].String(), space)
		if hi != hj {
			return hi < hj
		}
		return nodes[i].Less(nodes[j])
	})

	hashes := make([]uint32, len(nodes))
	for i, n := range nodes {
		hashes[i] = hashString(n.String(), space)
	}

	return &Ring{space: space, nodes: nodes, hashes: hashes}
}

// Len returns the number of nodes on the ring.
func (r *Ring) Len() int {
	if r == nil {
		return 0
	}
	return len(r.nodes)
}

// Space returns the hash space of the ring.
func (r *Ring) Space() uint32 {
	return r.space
}

// Nodes returns the ring order.
func (r *Ring) Nodes() []address.Address {
	if r == nil {
		return nil
	}
	return append([]address.Address(nil), r.nodes...)
}

// Hash returns the position of node i.
func (r *Ring) Hash(i int) uint32 {
	return r.hashes[i]
}

// KeyPosition returns the position of key in the ring's hash space.
func (r *Ring) KeyPosition(key string) uint32 {
	return hashString(key, r.space)
}

// Contains reports whether addr is on the ring.
func (r *Ring) Contains(addr address.Address) bool {
	return r.indexOf(addr) >= 0
}

// FindReplicas returns the primary, secondary and tertiary replica for key.
// A key past the last node or at or below the first wraps to the first
// node. It returns nil when the ring holds fewer than ReplicationFactor
// nodes.
func (r *Ring) FindReplicas(key string) []address.Address {
	n := r.Len()
	if n < ReplicationFactor {
		return nil
	}

	pos := r.KeyPosition(key)
	start := 0
	if pos > r.hashes[0] && pos <= r.hashes[n-1] {
		start = sort.Search(n, func(i int) bool { return r.hashes[i] >= pos })
	}

	out := make([]address.Address, ReplicationFactor)
	for i := range out {
		out[i] = r.nodes[(start+i)%n]
	}
	return out
}

// Successors returns up to k distinct nodes following addr on the ring.
// These are the nodes that hold replicas of addr's primary keys.
func (r *Ring) Successors(addr address.Address, k int) []address.Address {
	return r.walk(addr, k, 1)
}

// Predecessors returns up to k distinct nodes preceding addr on the ring.
// These are the nodes whose primary keys addr holds replicas of.
func (r *Ring) Predecessors(addr address.Address, k int) []address.Address {
	return r.walk(addr, k, -1)
}

func (r *Ring) walk(addr address.Address, k, step int) []address.Address {
	idx := r.indexOf(addr)
	n := r.Len()
	if idx < 0 || k <= 0 {
		return nil
	}
	if k > n-1 {
		k = n - 1
	}

	out := make([]address.Address, 0, k)
	for i := 1; i <= k; i++ {
		out = append(out, r.nodes[((idx+step*i)%n+n)%n])
	}
	return out
}

func (r *Ring) indexOf(addr address.Address) int {
	if r == nil {
		return -1
	}
	for i, n := range r.nodes {
		if n == addr {
			return i
		}
	}
	return -1
}

// Changed reports whether two rings differ in size or in the node at any
// position.
func Changed(old, new *Ring) bool {
	if old.Len() != new.Len() {
		return true
	}
	for i := 0; i < old.Len(); i++ {
		if old.nodes[i] != new.nodes[i] {
			return true
		}
	}
	return false
}

// hashString computes a 32-bit FNV-1a hash of s reduced into space.
func hashString(s string, space uint32) uint32 {
	h := fnv.New32a()
	h.Write([]byte(s))
	return h.Sum32() % space
}

// HashKey returns the position of key in space.
func HashKey(key string, space uint32) uint32 {
	if space == 0 {
		space = DefaultSpace
	}
	return hashString(key, space)
}
