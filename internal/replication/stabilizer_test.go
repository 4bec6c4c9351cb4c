package replication

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ringkv/internal/address"
	"ringkv/internal/clock"
	"ringkv/internal/eventlog"
	"ringkv/internal/message"
	"ringkv/internal/ring"
	"ringkv/internal/storage"
)

func change(self address.Address, old, next *ring.Ring) ring.Change {
	return ring.Change{
		Old:            old,
		New:            next,
		HasMyReplicas:  old.Successors(self, 2),
		HaveReplicasOf: old.Predecessors(self, 2),
	}
}

func TestStabilizer_SingleNodePass(t *testing.T) {
	members := cluster(5)
	old := ring.Build(members, ring.DefaultSpace)
	next := ring.Build(members[1:], ring.DefaultSpace)

	// Pick a surviving node and give it every key it replicates.
	self := members[2]
	store := storage.NewInMemoryStore()
	var keys []string
	for i := 0; len(keys) < 30; i++ {
		k := fmt.Sprintf("k%d", i)
		if contains(old.FindReplicas(k), self) {
			store.Upsert(k, "v-"+k, message.Primary)
			keys = append(keys, k)
		}
	}

	out := &outbox{}
	coord := NewCoordinator(self, DefaultTimeout, clock.Fixed(0), next, out.send, nil, nullLog())
	ch := change(self, old, next)
	NewStabilizer(self, store, coord, nullLog()).Stabilize(ch)

	creates := map[string][]address.Address{}
	deletes := map[string][]address.Address{}
	for _, e := range out.drain() {
		switch m := e.msg.(type) {
		case *message.Create:
			assert.True(t, m.Upsert)
			assert.Equal(t, "v-"+m.Key, m.Value)
			creates[m.Key] = append(creates[m.Key], e.to)
		case *message.Delete:
			deletes[m.Key] = append(deletes[m.Key], e.to)
		default:
			t.Fatalf("unexpected %s", m.Kind())
		}
	}

	stale := union(ch.HasMyReplicas, ch.HaveReplicasOf)
	for _, k := range keys {
		triple := next.FindReplicas(k)
		assert.Equal(t, triple, creates[k], "re-created on the new triple: %s", k)

		for _, n := range deletes[k] {
			assert.NotContains(t, triple, n, "never deletes from the new triple")
			assert.Contains(t, stale, n)
			assert.NotEqual(t, self, n)
		}
		for _, n := range stale {
			if !contains(triple, n) && n != self {
				assert.Contains(t, deletes[k], n, "stale neighbour %s purged for %s", n, k)
			}
		}

		_, held := store.Read(k)
		assert.Equal(t, contains(triple, self), held, "local copy kept iff still a replica: %s", k)
	}

	purges := 0
	for _, k := range keys {
		if len(deletes[k]) > 0 {
			purges++
		}
	}
	assert.Equal(t, len(keys)+purges, coord.Open(), "one transaction per re-create and per purge")
}

func TestStabilizer_SkipsSmallRing(t *testing.T) {
	members := cluster(3)
	old := ring.Build(members, ring.DefaultSpace)
	next := ring.Build(members[:2], ring.DefaultSpace)

	store := storage.NewInMemoryStore()
	store.Upsert("k", "v", message.Primary)
	out := &outbox{}
	coord := NewCoordinator(members[0], DefaultTimeout, clock.Fixed(0), next, out.send, nil, nullLog())

	NewStabilizer(members[0], store, coord, nullLog()).Stabilize(change(members[0], old, next))
	assert.Empty(t, out.drain())
	assert.Equal(t, 1, store.Len(), "data kept while the ring is too small")
}

// bus wires coordinators and replicas of several nodes together with
// synchronous in-order delivery.
type bus struct {
	queue []struct {
		to  address.Address
		msg message.Message
	}
	nodes map[address.Address]*testNode
	down  map[address.Address]bool
}

type testNode struct {
	store *storage.InMemoryStore
	coord *Coordinator
	repl  *Replica
}

func newBus(members []address.Address, r *ring.Ring, events eventlog.Logger) *bus {
	b := &bus{nodes: map[address.Address]*testNode{}, down: map[address.Address]bool{}}
	for _, m := range members {
		self := m
		send := func(to address.Address, msg message.Message) {
			b.queue = append(b.queue, struct {
				to  address.Address
				msg message.Message
			}{to, msg})
		}
		store := storage.NewInMemoryStore()
		b.nodes[self] = &testNode{
			store: store,
			coord: NewCoordinator(self, DefaultTimeout, clock.Fixed(0), r, send, events, nullLog()),
			repl:  NewReplica(self, store, clock.Fixed(0), send, events, nullLog()),
		}
	}
	return b
}

func (b *bus) run(t *testing.T) {
	t.Helper()
	for len(b.queue) > 0 {
		e := b.queue[0]
		b.queue = b.queue[1:]
		if b.down[e.to] {
			continue
		}
		n := b.nodes[e.to]
		switch e.msg.Kind() {
		case message.KindReply, message.KindReadReply:
			require.NoError(t, n.coord.Handle(e.msg))
		default:
			require.NoError(t, n.repl.Handle(e.msg))
		}
	}
}

func (b *bus) holders(key string) []address.Address {
	var out []address.Address
	for addr, n := range b.nodes {
		if b.down[addr] {
			continue
		}
		if _, ok := n.store.Read(key); ok {
			out = append(out, addr)
		}
	}
	return out
}

func TestStabilizer_Convergence(t *testing.T) {
	tests := []struct {
		name    string
		members []address.Address
		next    func([]address.Address) []address.Address
		failed  []address.Address
	}{
		{
			name:    "node failure",
			members: cluster(6),
			next: func(m []address.Address) []address.Address {
				return append(append([]address.Address(nil), m[:3]...), m[4:]...)
			},
			failed: []address.Address{address.New(4, 0)},
		},
		{
			name:    "node join",
			members: cluster(7),
			next:    func(m []address.Address) []address.Address { return m },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			initial := tt.members
			if tt.failed == nil {
				initial = tt.members[:len(tt.members)-1]
			}
			old := ring.Build(initial, ring.DefaultSpace)
			events := eventlog.NewMemory()
			b := newBus(tt.members, old, events)

			for i := 0; i < 40; i++ {
				_, err := b.nodes[initial[0]].coord.Create(fmt.Sprintf("key-%d", i), fmt.Sprintf("val-%d", i))
				require.NoError(t, err)
			}
			b.run(t)
			require.Equal(t, 40, events.Count(message.KindCreate, true))

			for _, f := range tt.failed {
				b.down[f] = true
			}
			next := ring.Build(tt.next(tt.members), ring.DefaultSpace)
			for _, addr := range next.Nodes() {
				n := b.nodes[addr]
				NewStabilizer(addr, n.store, n.coord, nullLog()).Stabilize(change(addr, old, next))
			}
			b.run(t)

			for i := 0; i < 40; i++ {
				key := fmt.Sprintf("key-%d", i)
				assert.ElementsMatch(t, next.FindReplicas(key), b.holders(key), key)
				for _, h := range next.FindReplicas(key) {
					v, _ := b.nodes[h].store.Read(key)
					assert.Equal(t, fmt.Sprintf("val-%d", i), v)
				}
			}
		})
	}
}
