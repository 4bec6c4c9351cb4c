package ring

import (
	"sync"

	"github.com/sirupsen/logrus"

	"ringkv/internal/address"
)

// Change describes one ring transition. HasMyReplicas and HaveReplicasOf
// are the neighbour sets computed from Old.
type Change struct {
	Old            *Ring
	New            *Ring
	HasMyReplicas  []address.Address
	HaveReplicasOf []address.Address
}

// ChangeFunc is invoked on every ring change before the new ring becomes
// current.
type ChangeFunc func(Change)

// Manager owns the current ring of one node.
type Manager struct {
	self  address.Address
	space uint32
	log   *logrus.Entry

	mu             sync.RWMutex
	current        *Ring
	hasMyReplicas  []address.Address
	haveReplicasOf []address.Address
	onChange       ChangeFunc
}

// NewManager creates a manager with an empty ring.
func NewManager(self address.Address, space uint32, log *logrus.Entry) *Manager {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Manager{
		self:    self,
		space:   space,
		log:     log.WithFields(logrus.Fields{"node": self.String(), "component": "ring"}),
		current: Build(nil, space),
	}
}

// OnChange registers the stabilization hook.
func (m *Manager) OnChange(fn ChangeFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = fn
}

// Update rebuilds the ring from members and, if it differs from the current
// one, runs the change hook and commits it. It reports whether the ring
// changed.
func (m *Manager) Update(members []address.Address) bool {
	next := Build(members, m.space)

	m.mu.RLock()
	old := m.current
	fn := m.onChange
	ch := Change{
		Old:            old,
		New:            next,
		HasMyReplicas:  append([]address.Address(nil), m.hasMyReplicas...),
		HaveReplicasOf: append([]address.Address(nil), m.haveReplicasOf...),
	}
	m.mu.RUnlock()

	if !Changed(old, next) {
		return false
	}

	m.log.WithFields(logrus.Fields{"old_size": old.Len(), "new_size": next.Len()}).Info("Ring changed")

	m.mu.Lock()
	m.hasMyReplicas = nil
	m.haveReplicasOf = nil
	m.mu.Unlock()

	if fn != nil {
		fn(ch)
	}

	m.mu.Lock()
	m.current = next
	m.hasMyReplicas = next.Successors(m.self, ReplicationFactor-1)
	m.haveReplicasOf = next.Predecessors(m.self, ReplicationFactor-1)
	m.mu.Unlock()

	return true
}

// Current returns the committed ring.
func (m *Manager) Current() *Ring {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// FindReplicas returns the replica triple for key on the committed ring.
func (m *Manager) FindReplicas(key string) []address.Address {
	return m.Current().FindReplicas(key)
}

// HasMyReplicas returns the nodes that replicate the local node's keys.
func (m *Manager) HasMyReplicas() []address.Address {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]address.Address(nil), m.hasMyReplicas...)
}

// HaveReplicasOf returns the nodes whose keys the local node replicates.
func (m *Manager) HaveReplicasOf() []address.Address {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]address.Address(nil), m.haveReplicasOf...)
}
