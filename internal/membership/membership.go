package membership

import (
	"errors"
	"math/rand"

	"github.com/sirupsen/logrus"

	"ringkv/internal/address"
	"ringkv/internal/clock"
	"ringkv/internal/eventlog"
	"ringkv/internal/message"
)

const (
	// DefaultFailTimeout is the number of ticks without a newer heartbeat
	// after which a member is evicted.
	DefaultFailTimeout = 5
	// DefaultFanout is the number of members each gossip round targets.
	DefaultFanout = 3
	// DefaultJoinTimeout is how long a joining node waits for JOINREP.
	DefaultJoinTimeout = 20
	// DefaultRemoveTimeout is how long an evicted member's last heartbeat
	// is remembered. Gossip carrying that heartbeat or an older one does
	// not re-add the member during the window.
	DefaultRemoveTimeout = 20
)

// ErrNotMembership is returned by Handle for key-value messages.
var ErrNotMembership = errors.New("not a membership message")

// State is the group state of the local node.
type State int

const (
	NotInGroup State = iota
	Joining
	InGroup
)

// String returns the string representation of State.
func (s State) String() string {
	switch s {
	case NotInGroup:
		return "NOT_IN_GROUP"
	case Joining:
		return "JOINING"
	case InGroup:
		return "IN_GROUP"
	default:
		return "UNKNOWN"
	}
}

// Member is one row of the member table.
type Member struct {
	Addr      address.Address
	Heartbeat int64
	// Timestamp is the local tick at which Heartbeat was last raised.
	Timestamp int64
}

// Config holds the membership parameters.
type Config struct {
	Self        address.Address
	Introducer  address.Address
	FailTimeout int64
	Fanout      int
	JoinTimeout int64
	// RemoveTimeout bounds how long evictions are remembered.
	RemoveTimeout int64
	// Seed feeds gossip target selection; zero derives it from Self.
	Seed int64
}

// SendFunc delivers a membership message to another node, best effort.
type SendFunc func(to address.Address, m message.Message)

// Service manages the member table of one node. It is not safe for
// concurrent use; the owning node drives it from its single loop.
type Service struct {
	cfg    Config
	clock  clock.Clock
	send   SendFunc
	events eventlog.Logger
	log    *logrus.Entry
	rng    *rand.Rand

	state       State
	heartbeat   int64
	joinStarted int64
	members     []*Member
	removed     map[address.Address]tombstone
}

type tombstone struct {
	heartbeat int64
	at        int64
}

// New creates a membership service. It does nothing until Start.
func New(cfg Config, clk clock.Clock, send SendFunc, events eventlog.Logger, log *logrus.Entry) *Service {
	if cfg.FailTimeout <= 0 {
		cfg.FailTimeout = DefaultFailTimeout
	}
	if cfg.Fanout <= 0 {
		cfg.Fanout = DefaultFanout
	}
	if cfg.JoinTimeout <= 0 {
		cfg.JoinTimeout = DefaultJoinTimeout
	}
	if cfg.RemoveTimeout <= 0 {
		cfg.RemoveTimeout = DefaultRemoveTimeout
	}
	if events == nil {
		events = eventlog.Discard{}
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = int64(cfg.Self.ID)<<16 | int64(uint16(cfg.Self.Port))
	}

	return &Service{
		cfg:     cfg,
		clock:   clk,
		send:    send,
		events:  events,
		log:     log.WithFields(logrus.Fields{"node": cfg.Self.String(), "component": "membership"}),
		rng:     rand.New(rand.NewSource(seed)),
		removed: make(map[address.Address]tombstone),
	}
}

// Start seeds the member table with the introducer and self, then either
// admits the node directly (it is the introducer) or sends JOINREQ.
func (s *Service) Start() {
	now := s.clock.Now()
	s.members = s.members[:0]
	s.removed = make(map[address.Address]tombstone)
	s.heartbeat = 0

	if s.cfg.Introducer != s.cfg.Self {
		s.members = append(s.members, &Member{Addr: s.cfg.Introducer, Timestamp: now})
		s.events.NodeAdd(s.cfg.Self, s.cfg.Introducer)
	}
	s.members = append(s.members, &Member{Addr: s.cfg.Self, Timestamp: now})

	if s.cfg.Introducer == s.cfg.Self {
		s.state = InGroup
		s.log.Info("Starting up group")
		return
	}

	s.state = Joining
	s.joinStarted = now
	s.log.WithField("introducer", s.cfg.Introducer.String()).Info("Trying to join")
	s.send(s.cfg.Introducer, &message.JoinReq{Sender: s.cfg.Self, Heartbeat: s.heartbeat})
}

// Stop takes the node out of the group. It stops gossiping and answering
// join requests.
func (s *Service) Stop() {
	s.state = NotInGroup
	s.log.Info("Left group")
}

// Handle applies one inbound membership message.
func (s *Service) Handle(m message.Message) error {
	switch v := m.(type) {
	case *message.JoinReq:
		s.handleJoinReq(v)
	case *message.JoinRep:
		s.handleJoinRep(v)
	case *message.MemberTable:
		for _, e := range v.Entries {
			s.merge(e.Addr, e.Heartbeat)
		}
		s.log.WithFields(logrus.Fields{"from": v.Sender.String(), "entries": len(v.Entries)}).Debug("Merged member table")
	default:
		return ErrNotMembership
	}
	return nil
}

func (s *Service) handleJoinReq(req *message.JoinReq) {
	if s.state != InGroup {
		s.log.WithField("from", req.Sender.String()).Debug("Ignoring JOINREQ while not in group")
		return
	}
	s.merge(req.Sender, req.Heartbeat)
	s.log.WithField("from", req.Sender.String()).Debug("Admitting node")
	s.send(req.Sender, &message.JoinRep{Sender: s.cfg.Self, Heartbeat: s.heartbeat})
}

func (s *Service) handleJoinRep(rep *message.JoinRep) {
	if s.state == Joining {
		s.state = InGroup
		s.log.WithField("introducer", rep.Sender.String()).Info("Joined group")
	}
	s.merge(rep.Sender, rep.Heartbeat)
}

// merge applies the gossip merge rule for one entry. Entries about self are
// ignored; the local node is the only authority on its own heartbeat.
func (s *Service) merge(addr address.Address, heartbeat int64) {
	if addr == s.cfg.Self {
		return
	}
	now := s.clock.Now()

	if m := s.find(addr); m != nil {
		if heartbeat > m.Heartbeat {
			m.Heartbeat = heartbeat
			m.Timestamp = now
		}
		return
	}

	if t, ok := s.removed[addr]; ok {
		if now-t.at <= s.cfg.RemoveTimeout && heartbeat <= t.heartbeat {
			return
		}
		delete(s.removed, addr)
	}

	s.members = append(s.members, &Member{Addr: addr, Heartbeat: heartbeat, Timestamp: now})
	s.events.NodeAdd(s.cfg.Self, addr)
	s.log.WithFields(logrus.Fields{"added": addr.String(), "members": len(s.members)}).Info("Member added")
}

// Tick runs the periodic duties: join timeout, heartbeat, eviction and
// gossip. Nothing happens unless the node is in the group.
func (s *Service) Tick() {
	now := s.clock.Now()

	if s.state == Joining && now-s.joinStarted > s.cfg.JoinTimeout {
		s.state = NotInGroup
		s.log.WithField("introducer", s.cfg.Introducer.String()).Error("Unable to join self to group")
		return
	}
	if s.state != InGroup {
		return
	}

	s.heartbeat++
	s.evict(now)

	if self := s.find(s.cfg.Self); self != nil {
		self.Heartbeat = s.heartbeat
		self.Timestamp = now
	} else {
		s.members = append(s.members, &Member{Addr: s.cfg.Self, Heartbeat: s.heartbeat, Timestamp: now})
	}

	s.gossip()
}

func (s *Service) evict(now int64) {
	kept := s.members[:0]
	for _, m := range s.members {
		if m.Addr != s.cfg.Self && now-m.Timestamp > s.cfg.FailTimeout {
			s.removed[m.Addr] = tombstone{heartbeat: m.Heartbeat, at: now}
			s.events.NodeRemove(s.cfg.Self, m.Addr)
			s.log.WithFields(logrus.Fields{"removed": m.Addr.String(), "last_seen": m.Timestamp}).Info("Timing out member")
			continue
		}
		kept = append(kept, m)
	}
	for i := len(kept); i < len(s.members); i++ {
		s.members[i] = nil
	}
	s.members = kept

	for addr, t := range s.removed {
		if now-t.at > s.cfg.RemoveTimeout {
			delete(s.removed, addr)
		}
	}
}

// gossip pushes the entire table to up to Fanout distinct random members.
func (s *Service) gossip() {
	others := make([]address.Address, 0, len(s.members))
	for _, m := range s.members {
		if m.Addr != s.cfg.Self {
			others = append(others, m.Addr)
		}
	}
	if len(others) == 0 {
		return
	}

	table := &message.MemberTable{
		Sender:    s.cfg.Self,
		Heartbeat: s.heartbeat,
		Entries:   s.entries(),
	}

	n := s.cfg.Fanout
	if n > len(others) {
		n = len(others)
	}
	for _, i := range s.rng.Perm(len(others))[:n] {
		s.send(others[i], table)
	}
}

func (s *Service) entries() []message.MemberEntry {
	out := make([]message.MemberEntry, 0, len(s.members))
	for _, m := range s.members {
		out = append(out, message.MemberEntry{Addr: m.Addr, Heartbeat: m.Heartbeat, Timestamp: m.Timestamp})
	}
	return out
}

func (s *Service) find(addr address.Address) *Member {
	for _, m := range s.members {
		if m.Addr == addr {
			return m
		}
	}
	return nil
}

// State returns the group state.
func (s *Service) State() State {
	return s.state
}

// InGroup reports whether the node has joined.
func (s *Service) InGroup() bool {
	return s.state == InGroup
}

// Heartbeat returns the local heartbeat counter.
func (s *Service) Heartbeat() int64 {
	return s.heartbeat
}

// Self returns the local address.
func (s *Service) Self() address.Address {
	return s.cfg.Self
}

// Snapshot returns a copy of the member table in table order.
func (s *Service) Snapshot() []Member {
	out := make([]Member, 0, len(s.members))
	for _, m := range s.members {
		out = append(out, *m)
	}
	return out
}

// Addresses returns the addresses in the member table, self included.
func (s *Service) Addresses() []address.Address {
	out := make([]address.Address, 0, len(s.members))
	for _, m := range s.members {
		out = append(out, m.Addr)
	}
	return out
}
