package node

import (
	"errors"

	"ringkv/internal/address"
	"ringkv/internal/membership"
	"ringkv/internal/ring"
	"ringkv/internal/storage"
)

// ErrStopped is returned by client calls on a stopped node.
var ErrStopped = errors.New("node stopped")

// Create stores key=value through this node's coordinator and returns the
// transaction id. The outcome is reported when the transaction resolves.
func (n *Node) Create(key, value string) (int64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.failed {
		return 0, ErrStopped
	}
	return n.coord.Create(key, value)
}

// Read fetches key through this node's coordinator.
func (n *Node) Read(key string) (int64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.failed {
		return 0, ErrStopped
	}
	return n.coord.Read(key)
}

// Update overwrites key through this node's coordinator.
func (n *Node) Update(key, value string) (int64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.failed {
		return 0, ErrStopped
	}
	return n.coord.Update(key, value)
}

// Delete removes key through this node's coordinator.
func (n *Node) Delete(key string) (int64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.failed {
		return 0, ErrStopped
	}
	return n.coord.Delete(key)
}

// Status is a point-in-time view of a node.
type Status struct {
	Self      address.Address
	State     membership.State
	Heartbeat int64
	Tick      int64
	Members   []membership.Member
	Ring      []address.Address
	// Positions[i] is the hash position of Ring[i].
	Positions        []uint32
	OpenTransactions int
	StoredKeys       int
}

// Status returns a snapshot of the node.
func (n *Node) Status() Status {
	n.mu.Lock()
	defer n.mu.Unlock()

	current := n.ring.Current()
	positions := make([]uint32, current.Len())
	for i := range positions {
		positions[i] = current.Hash(i)
	}

	return Status{
		Self:             n.cfg.Self,
		State:            n.membership.State(),
		Heartbeat:        n.membership.Heartbeat(),
		Tick:             n.clock.Now(),
		Members:          n.membership.Snapshot(),
		Ring:             current.Nodes(),
		Positions:        positions,
		OpenTransactions: n.coord.Open(),
		StoredKeys:       n.store.Len(),
	}
}

// Self returns the node's address.
func (n *Node) Self() address.Address {
	return n.cfg.Self
}

// Replicas returns the replica triple of key on the node's current ring.
func (n *Node) Replicas(key string) []address.Address {
	return n.ring.FindReplicas(key)
}

// KeyPosition returns where key falls in the hash space. It does not need
// a ring to exist.
func (n *Node) KeyPosition(key string) uint32 {
	return ring.HashKey(key, n.cfg.RingSpace)
}

// LocalData returns the node's local table.
func (n *Node) LocalData() []storage.KeyValue {
	return n.store.Snapshot()
}

// LocalValue returns the node's local copy of key.
func (n *Node) LocalValue(key string) (string, bool) {
	e, ok := n.store.Get(key)
	return e.Value, ok
}

// InGroup reports whether the node has joined the group.
func (n *Node) InGroup() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.membership.InGroup()
}
