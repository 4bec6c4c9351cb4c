package sim

import (
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"ringkv/internal/address"
	"ringkv/internal/clock"
	"ringkv/internal/config"
	"ringkv/internal/eventlog"
	"ringkv/internal/membership"
	"ringkv/internal/metrics"
	"ringkv/internal/node"
	"ringkv/internal/replication"
	"ringkv/internal/transport"
)

// Options configures a simulated cluster.
type Options struct {
	// Nodes is the cluster size. Node i gets address i:0; 1:0 is the
	// introducer.
	Nodes int
	// Protocol carries the per-node protocol settings. Zero values fall
	// back to config.Default.
	Protocol config.Config
	DropRate float64
	Seed     int64
	// StaggerJoins starts one node per tick instead of all at tick 0.
	StaggerJoins bool
	Log          *logrus.Entry
	Events       eventlog.Logger
	Metrics      *metrics.Metrics
}

// Cluster is a set of nodes sharing a clock and a network.
type Cluster struct {
	opts    Options
	clk     *clock.Counter
	net     *transport.Network
	events  *eventlog.Memory
	nodes   []*node.Node
	started int

	mu      sync.Mutex
	results []Outcome
}

// Outcome is a terminal transaction together with the node that
// coordinated it.
type Outcome struct {
	Coordinator address.Address
	replication.Result
}

// NewCluster creates the nodes and registers them on a fresh network. Nodes
// are started by Step.
func NewCluster(opts Options) (*Cluster, error) {
	if opts.Nodes <= 0 {
		return nil, fmt.Errorf("sim: need at least one node, got %d", opts.Nodes)
	}
	if opts.Log == nil {
		opts.Log = logrus.NewEntry(logrus.StandardLogger())
	}
	proto := withDefaults(opts.Protocol)
	proto.Introducer = "1:0"

	c := &Cluster{
		opts:   opts,
		clk:    clock.NewCounter(0),
		events: eventlog.NewMemory(),
	}

	netOpts := []transport.Option{transport.WithDropRate(opts.DropRate), transport.WithSeed(opts.Seed)}
	if opts.Metrics != nil {
		netOpts = append(netOpts, transport.WithObserver(opts.Metrics))
	}
	c.net = transport.NewNetwork(netOpts...)

	var events eventlog.Logger = c.events
	if opts.Events != nil {
		events = eventlog.Multi{c.events, opts.Events}
	}

	for i := 1; i <= opts.Nodes; i++ {
		self := address.New(int32(i), 0)
		c.net.Register(self)

		nodeOpts := []node.Option{
			node.WithLogger(opts.Log),
			node.WithEvents(events),
			node.WithResultObserver(func(r replication.Result) { c.record(self, r) }),
		}
		if opts.Metrics != nil {
			nodeOpts = append(nodeOpts, node.WithMetrics(opts.Metrics))
		}

		nc := proto.NodeConfig(self)
		nc.Seed = opts.Seed*1000 + int64(i)
		c.nodes = append(c.nodes, node.New(nc, c.clk, c.net, nodeOpts...))
	}

	return c, nil
}

func withDefaults(p config.Config) config.Config {
	d := config.Default()
	if p.FailTimeout <= 0 {
		p.FailTimeout = d.FailTimeout
	}
	if p.Fanout <= 0 {
		p.Fanout = d.Fanout
	}
	if p.JoinTimeout <= 0 {
		p.JoinTimeout = d.JoinTimeout
	}
	if p.RemoveTimeout <= 0 {
		p.RemoveTimeout = d.RemoveTimeout
	}
	if p.TxTimeout <= 0 {
		p.TxTimeout = d.TxTimeout
	}
	if p.RingSpace == 0 {
		p.RingSpace = d.RingSpace
	}
	return p
}

func (c *Cluster) record(coordinator address.Address, r replication.Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results = append(c.results, Outcome{Coordinator: coordinator, Result: r})
}

// Step advances the clock by one tick, starts pending nodes and ticks every
// node in address order.
func (c *Cluster) Step() {
	c.clk.Advance()

	if c.opts.StaggerJoins {
		if c.started < len(c.nodes) {
			c.nodes[c.started].Start()
			c.started++
		}
	} else {
		for ; c.started < len(c.nodes); c.started++ {
			c.nodes[c.started].Start()
		}
	}

	for _, n := range c.nodes {
		n.Tick()
	}
}

// Run advances the cluster by ticks steps.
func (c *Cluster) Run(ticks int) {
	for i := 0; i < ticks; i++ {
		c.Step()
	}
}

// RunUntil steps until cond holds or max ticks passed. It reports whether
// cond held.
func (c *Cluster) RunUntil(cond func() bool, max int) bool {
	for i := 0; i < max; i++ {
		if cond() {
			return true
		}
		c.Step()
	}
	return cond()
}

// Fail crashes node addr: it stops processing and the network drops
// everything to and from it.
func (c *Cluster) Fail(addr address.Address) error {
	n := c.Node(addr)
	if n == nil {
		return fmt.Errorf("sim: %w: %s", transport.ErrUnknownAddress, addr)
	}
	n.Stop()
	c.net.SetDown(addr, true)
	c.opts.Log.WithFields(logrus.Fields{"node": addr.String(), "tick": c.clk.Now()}).Info("Node failed")
	return nil
}

// Node returns the node at addr or nil.
func (c *Cluster) Node(addr address.Address) *node.Node {
	for _, n := range c.nodes {
		if n.Self() == addr {
			return n
		}
	}
	return nil
}

// Nodes returns every node, failed ones included.
func (c *Cluster) Nodes() []*node.Node {
	return append([]*node.Node(nil), c.nodes...)
}

// Live returns the nodes that have not failed.
func (c *Cluster) Live() []*node.Node {
	var out []*node.Node
	for _, n := range c.nodes {
		if !n.Stopped() {
			out = append(out, n)
		}
	}
	return out
}

// Converged reports whether every live node is in the group and sees a
// ring of exactly the live nodes.
func (c *Cluster) Converged() bool {
	live := c.Live()
	want := make([]address.Address, 0, len(live))
	for _, n := range live {
		want = append(want, n.Self())
	}
	sort.Slice(want, func(i, j int) bool { return want[i].Less(want[j]) })

	for _, n := range live {
		s := n.Status()
		if s.State != membership.InGroup || len(s.Ring) != len(want) {
			return false
		}
		got := append([]address.Address(nil), s.Ring...)
		sort.Slice(got, func(i, j int) bool { return got[i].Less(got[j]) })
		for i := range got {
			if got[i] != want[i] {
				return false
			}
		}
	}
	return true
}

// Holders returns the live nodes whose local table holds key.
func (c *Cluster) Holders(key string) []address.Address {
	var out []address.Address
	for _, n := range c.Live() {
		if _, ok := n.LocalValue(key); ok {
			out = append(out, n.Self())
		}
	}
	return out
}

// Results returns every terminal transaction so far.
func (c *Cluster) Results() []Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Outcome(nil), c.results...)
}

// Result returns the outcome of transaction id coordinated by coordinator.
// Transaction ids are only unique per coordinator.
func (c *Cluster) Result(coordinator address.Address, id int64) (replication.Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, o := range c.results {
		if o.Coordinator == coordinator && o.TxID == id {
			return o.Result, true
		}
	}
	return replication.Result{}, false
}

// Clock returns the shared clock.
func (c *Cluster) Clock() *clock.Counter { return c.clk }

// Network returns the shared network.
func (c *Cluster) Network() *transport.Network { return c.net }

// Events returns the in-memory event record.
func (c *Cluster) Events() *eventlog.Memory { return c.events }
