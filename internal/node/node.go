package node

import (
	"sync"

	"github.com/sirupsen/logrus"

	"ringkv/internal/address"
	"ringkv/internal/clock"
	"ringkv/internal/eventlog"
	"ringkv/internal/membership"
	"ringkv/internal/message"
	"ringkv/internal/metrics"
	"ringkv/internal/replication"
	"ringkv/internal/ring"
	"ringkv/internal/storage"
	"ringkv/internal/transport"
)

// Config holds the protocol parameters of one node.
type Config struct {
	Self        address.Address
	Introducer  address.Address
	FailTimeout int64
	Fanout      int
	JoinTimeout int64
	// RemoveTimeout bounds how long evicted members stay evicted against
	// stale gossip.
	RemoveTimeout int64
	TxTimeout     int64
	RingSpace     uint32
	// Seed feeds gossip target selection; zero derives it from Self.
	Seed int64
}

// Option configures a Node.
type Option func(*Node)

// WithLogger sets the base log entry.
func WithLogger(log *logrus.Entry) Option {
	return func(n *Node) { n.baseLog = log }
}

// WithEvents sets the event sink.
func WithEvents(events eventlog.Logger) Option {
	return func(n *Node) { n.events = events }
}

// WithMetrics instruments the node.
func WithMetrics(m *metrics.Metrics) Option {
	return func(n *Node) { n.metrics = m }
}

// WithResultObserver receives every terminal transaction of the node's
// coordinator.
func WithResultObserver(fn replication.ResultFunc) Option {
	return func(n *Node) { n.onResult = fn }
}

// Node represents a single member of the cluster.
type Node struct {
	cfg       Config
	clock     clock.Clock
	transport transport.Transport
	baseLog   *logrus.Entry
	log       *logrus.Entry
	events    eventlog.Logger
	metrics   *metrics.Metrics
	onResult  replication.ResultFunc

	mu         sync.Mutex
	membership *membership.Service
	ring       *ring.Manager
	store      *storage.InMemoryStore
	coord      *replication.Coordinator
	replica    *replication.Replica
	stabilizer *replication.Stabilizer
	started    bool
	failed     bool
}

// New creates a node bound to t. The address must already be reachable on
// the transport.
func New(cfg Config, clk clock.Clock, t transport.Transport, opts ...Option) *Node {
	n := &Node{cfg: cfg, clock: clk, transport: t}
	for _, opt := range opts {
		opt(n)
	}
	if n.baseLog == nil {
		n.baseLog = logrus.NewEntry(logrus.StandardLogger())
	}
	if n.events == nil {
		n.events = eventlog.Discard{}
	}
	if n.metrics != nil {
		n.events = eventlog.Multi{n.events, n.metrics}
	}
	n.log = n.baseLog.WithFields(logrus.Fields{"node": cfg.Self.String(), "component": "node"})

	n.store = storage.NewInMemoryStore()
	n.ring = ring.NewManager(cfg.Self, cfg.RingSpace, n.baseLog)
	n.membership = membership.New(membership.Config{
		Self:          cfg.Self,
		Introducer:    cfg.Introducer,
		FailTimeout:   cfg.FailTimeout,
		Fanout:        cfg.Fanout,
		JoinTimeout:   cfg.JoinTimeout,
		RemoveTimeout: cfg.RemoveTimeout,
		Seed:          cfg.Seed,
	}, clk, n.send, n.events, n.baseLog)
	n.coord = replication.NewCoordinator(cfg.Self, cfg.TxTimeout, clk, n.ring, n.send, n.events, n.baseLog)
	n.replica = replication.NewReplica(cfg.Self, n.store, clk, n.send, n.events, n.baseLog)
	n.stabilizer = replication.NewStabilizer(cfg.Self, n.store, n.coord, n.baseLog)

	if n.onResult != nil {
		n.coord.OnResult(n.onResult)
	}
	n.ring.OnChange(func(ch ring.Change) {
		n.stabilizer.Stabilize(ch)
		if n.metrics != nil {
			n.metrics.Stabilized(cfg.Self)
		}
	})

	return n
}

// Start introduces the node to the group.
func (n *Node) Start() {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.started {
		return
	}
	n.started = true
	n.log.WithField("introducer", n.cfg.Introducer.String()).Info("Starting node")
	n.membership.Start()
}

// Stop takes the node out of the group for good. A stopped node ignores
// ticks and client calls fail.
func (n *Node) Stop() {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.failed {
		return
	}
	n.failed = true
	n.membership.Stop()
	n.log.Info("Node stopped")
}

// Stopped reports whether Stop was called.
func (n *Node) Stopped() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.failed
}

// Tick runs one cooperative step of the node.
func (n *Node) Tick() {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.started || n.failed {
		return
	}

	if n.membership.InGroup() {
		n.ring.Update(n.membership.Addresses())
	}

	for _, payload := range n.transport.Receive(n.cfg.Self) {
		n.dispatch(payload)
	}

	n.membership.Tick()
	n.coord.Sweep()

	if n.metrics != nil {
		n.metrics.ObserveNode(n.cfg.Self, metrics.NodeStats{
			Members:          len(n.membership.Addresses()),
			RingSize:         n.ring.Current().Len(),
			OpenTransactions: n.coord.Open(),
			StoredKeys:       n.store.Len(),
		})
	}
}

func (n *Node) dispatch(payload []byte) {
	m, err := message.Decode(payload)
	if err != nil {
		n.log.WithError(err).WithField("bytes", len(payload)).Warn("Dropping undecodable message")
		if n.metrics != nil {
			n.metrics.ProtocolError(n.cfg.Self)
		}
		return
	}

	switch m.Kind() {
	case message.KindReply, message.KindReadReply:
		err = n.coord.Handle(m)
	default:
		if m.Kind().Channel() == message.ChannelMembership {
			err = n.membership.Handle(m)
		} else {
			err = n.replica.Handle(m)
		}
	}
	if err != nil {
		fields := logrus.Fields{"kind": m.Kind().String()}
		if id, ok := message.TxID(m); ok {
			fields["tx"] = id
		}
		n.log.WithError(err).WithFields(fields).Warn("Dropping message")
	}
}

func (n *Node) send(to address.Address, m message.Message) {
	payload, err := message.Encode(m)
	if err != nil {
		n.log.WithError(err).WithField("kind", m.Kind().String()).Error("Failed to encode message")
		return
	}
	if err := n.transport.Send(n.cfg.Self, to, payload); err != nil {
		n.log.WithError(err).WithFields(logrus.Fields{"to": to.String(), "kind": m.Kind().String()}).Debug("Send failed")
	}
}
