package transport

import (
	"errors"
	"math/rand"
	"sync"

	"github.com/puzpuzpuz/xsync/v3"

	"ringkv/internal/address"
)

var (
	// ErrUnknownAddress is returned when sending to an address with no inbox.
	ErrUnknownAddress = errors.New("unknown address")
	// ErrNodeDown is returned when the sender or the receiver is down.
	ErrNodeDown = errors.New("node is down")
)

// Transport is what a node needs from the network.
type Transport interface {
	// Send delivers payload to to's inbox, best effort. A nil error does not
	// mean the message will arrive.
	Send(from, to address.Address, payload []byte) error
	// Receive removes and returns every message queued for addr, oldest first.
	Receive(addr address.Address) [][]byte
}

// Observer is notified of message fates. metrics.Metrics implements it.
type Observer interface {
	MessageSent()
	MessageDropped()
}

// Stats counts messages per node.
type Stats struct {
	Sent     int64
	Received int64
	Dropped  int64
}

type mailbox struct {
	mu    sync.Mutex
	queue [][]byte
	down  bool
	stats Stats
}

// Network is a lossy in-memory Transport.
type Network struct {
	boxes    *xsync.MapOf[address.Address, *mailbox]
	observer Observer

	rngMu    sync.Mutex
	rng      *rand.Rand
	dropRate float64
}

// Option configures a Network.
type Option func(*Network)

// WithDropRate makes the network lose each message with probability p.
func WithDropRate(p float64) Option {
	return func(n *Network) {
		n.dropRate = clampRate(p)
	}
}

// WithSeed fixes the randomness used for drops.
func WithSeed(seed int64) Option {
	return func(n *Network) {
		n.rng = rand.New(rand.NewSource(seed))
	}
}

// WithObserver reports message fates to o.
func WithObserver(o Observer) Option {
	return func(n *Network) {
		n.observer = o
	}
}

// NewNetwork creates an empty network.
func NewNetwork(opts ...Option) *Network {
	n := &Network{
		boxes: xsync.NewMapOf[address.Address, *mailbox](),
		rng:   rand.New(rand.NewSource(1)),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Register creates the inbox for addr. Registering twice is a no-op.
func (n *Network) Register(addr address.Address) {
	n.boxes.LoadOrStore(addr, &mailbox{})
}

// SetDown marks addr as failed (or recovered). A down node neither sends
// nor receives and its queued messages are discarded.
func (n *Network) SetDown(addr address.Address, down bool) {
	box, ok := n.boxes.Load(addr)
	if !ok {
		return
	}
	box.mu.Lock()
	defer box.mu.Unlock()

	box.down = down
	if down {
		box.stats.Dropped += int64(len(box.queue))
		box.queue = nil
	}
}

// IsDown reports whether addr is marked failed.
func (n *Network) IsDown(addr address.Address) bool {
	box, ok := n.boxes.Load(addr)
	if !ok {
		return false
	}
	box.mu.Lock()
	defer box.mu.Unlock()
	return box.down
}

// Send implements Transport.
func (n *Network) Send(from, to address.Address, payload []byte) error {
	if src, ok := n.boxes.Load(from); ok {
		src.mu.Lock()
		down := src.down
		if !down {
			src.stats.Sent++
		}
		src.mu.Unlock()
		if down {
			n.dropped()
			return ErrNodeDown
		}
	}

	dst, ok := n.boxes.Load(to)
	if !ok {
		n.dropped()
		return ErrUnknownAddress
	}

	if n.lose() {
		dst.mu.Lock()
		dst.stats.Dropped++
		dst.mu.Unlock()
		n.dropped()
		return nil
	}

	dst.mu.Lock()
	defer dst.mu.Unlock()
	if dst.down {
		dst.stats.Dropped++
		n.dropped()
		return ErrNodeDown
	}
	dst.queue = append(dst.queue, append([]byte(nil), payload...))
	if n.observer != nil {
		n.observer.MessageSent()
	}
	return nil
}

// Receive implements Transport.
func (n *Network) Receive(addr address.Address) [][]byte {
	box, ok := n.boxes.Load(addr)
	if !ok {
		return nil
	}
	box.mu.Lock()
	defer box.mu.Unlock()

	if box.down || len(box.queue) == 0 {
		return nil
	}
	out := box.queue
	box.queue = nil
	box.stats.Received += int64(len(out))
	return out
}

// Stats returns the counters of addr.
func (n *Network) Stats(addr address.Address) Stats {
	box, ok := n.boxes.Load(addr)
	if !ok {
		return Stats{}
	}
	box.mu.Lock()
	defer box.mu.Unlock()
	return box.stats
}

// Pending returns how many messages wait in addr's inbox.
func (n *Network) Pending(addr address.Address) int {
	box, ok := n.boxes.Load(addr)
	if !ok {
		return 0
	}
	box.mu.Lock()
	defer box.mu.Unlock()
	return len(box.queue)
}

// SetDropRate changes the loss probability of messages sent from now on.
func (n *Network) SetDropRate(p float64) {
	n.rngMu.Lock()
	defer n.rngMu.Unlock()
	n.dropRate = clampRate(p)
}

func (n *Network) lose() bool {
	n.rngMu.Lock()
	defer n.rngMu.Unlock()
	if n.dropRate == 0 {
		return false
	}
	return n.rng.Float64() < n.dropRate
}

func clampRate(p float64) float64 {
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}

func (n *Network) dropped() {
	if n.observer != nil {
		n.observer.MessageDropped()
	}
}

var _ Transport = (*Network)(nil)
