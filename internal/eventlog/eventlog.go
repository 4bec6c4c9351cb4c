package eventlog

import (
	"sync"

	"github.com/sirupsen/logrus"

	"ringkv/internal/address"
	"ringkv/internal/message"
)

// OpEvent is the outcome of one operation. Coordinator is true for the
// quorum-level result and false for a single replica applying a request.
type OpEvent struct {
	Node        address.Address
	Coordinator bool
	TxID        int64
	Op          message.Kind
	Key         string
	Value       string
	Success     bool
	Tick        int64
}

// Logger is the event sink used by every component.
type Logger interface {
	NodeAdd(observer, added address.Address)
	NodeRemove(observer, removed address.Address)
	Operation(ev OpEvent)
}

// Discard drops every event.
type Discard struct{}

func (Discard) NodeAdd(address.Address, address.Address)    {}
func (Discard) NodeRemove(address.Address, address.Address) {}
func (Discard) Operation(OpEvent)                           {}

// Multi fans events out to several loggers in order.
type Multi []Logger

func (m Multi) NodeAdd(observer, added address.Address) {
	for _, l := range m {
		l.NodeAdd(observer, added)
	}
}

func (m Multi) NodeRemove(observer, removed address.Address) {
	for _, l := range m {
		l.NodeRemove(observer, removed)
	}
}

func (m Multi) Operation(ev OpEvent) {
	for _, l := range m {
		l.Operation(ev)
	}
}

// Logrus writes events as structured log lines.
type Logrus struct {
	entry *logrus.Entry
}

// NewLogrus creates a Logrus sink. A nil entry uses the standard logger.
func NewLogrus(entry *logrus.Entry) *Logrus {
	if entry == nil {
		entry = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Logrus{entry: entry.WithField("component", "events")}
}

func (l *Logrus) NodeAdd(observer, added address.Address) {
	l.entry.WithFields(logrus.Fields{
		"node":  observer.String(),
		"added": added.String(),
	}).Info("Node added")
}

func (l *Logrus) NodeRemove(observer, removed address.Address) {
	l.entry.WithFields(logrus.Fields{
		"node":    observer.String(),
		"removed": removed.String(),
	}).Info("Node removed")
}

func (l *Logrus) Operation(ev OpEvent) {
	outcome := "success"
	if !ev.Success {
		outcome = "fail"
	}
	fields := logrus.Fields{
		"node":        ev.Node.String(),
		"coordinator": ev.Coordinator,
		"tx":          ev.TxID,
		"op":          ev.Op.String(),
		"key":         ev.Key,
		"outcome":     outcome,
		"tick":        ev.Tick,
	}
	if ev.Value != "" {
		fields["value"] = ev.Value
	}
	e := l.entry.WithFields(fields)
	if ev.Coordinator {
		e.Info("Operation completed")
	} else {
		e.Debug("Replica applied operation")
	}
}

// MembershipEvent is a NodeAdd or NodeRemove recorded by Memory.
type MembershipEvent struct {
	Observer address.Address
	Subject  address.Address
	Added    bool
}

// Memory keeps every event for later inspection. It is safe for
// concurrent use.
type Memory struct {
	mu         sync.Mutex
	ops        []OpEvent
	membership []MembershipEvent
}

// NewMemory creates an empty Memory.
func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) NodeAdd(observer, added address.Address) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.membership = append(m.membership, MembershipEvent{Observer: observer, Subject: added, Added: true})
}

func (m *Memory) NodeRemove(observer, removed address.Address) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.membership = append(m.membership, MembershipEvent{Observer: observer, Subject: removed})
}

func (m *Memory) Operation(ev OpEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops = append(m.ops, ev)
}

// Operations returns a copy of the recorded operation events.
func (m *Memory) Operations() []OpEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]OpEvent(nil), m.ops...)
}

// Membership returns a copy of the recorded membership events.
func (m *Memory) Membership() []MembershipEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MembershipEvent(nil), m.membership...)
}

// Coordinated returns the coordinator-side events for transaction txID
// issued by node.
func (m *Memory) Coordinated(node address.Address, txID int64) []OpEvent {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []OpEvent
	for _, ev := range m.ops {
		if ev.Coordinator && ev.Node == node && ev.TxID == txID {
			out = append(out, ev)
		}
	}
	return out
}

// Count returns how many coordinator-side events match op and success.
func (m *Memory) Count(op message.Kind, success bool) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, ev := range m.ops {
		if ev.Coordinator && ev.Op == op && ev.Success == success {
			n++
		}
	}
	return n
}

// Removed reports whether observer logged the removal of subject.
func (m *Memory) Removed(observer, subject address.Address) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, ev := range m.membership {
		if !ev.Added && ev.Observer == observer && ev.Subject == subject {
			return true
		}
	}
	return false
}

// Reset forgets all events.
func (m *Memory) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops = nil
	m.membership = nil
}
