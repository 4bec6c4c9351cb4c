package replication

import (
	"errors"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"ringkv/internal/address"
	"ringkv/internal/clock"
	"ringkv/internal/eventlog"
	"ringkv/internal/message"
	"ringkv/internal/quorum"
	"ringkv/internal/ring"
)

// DefaultTimeout is the number of ticks a transaction may stay open.
const DefaultTimeout = 10

// ErrInsufficientReplicas is returned when the ring holds fewer nodes than
// the replication factor.
var ErrInsufficientReplicas = errors.New("not enough nodes for replication")

// SendFunc delivers a message to another node, best effort.
type SendFunc func(to address.Address, m message.Message)

// ReplicaFinder maps a key to its replica triple.
type ReplicaFinder interface {
	FindReplicas(key string) []address.Address
}

// Result is the terminal state of one transaction.
type Result struct {
	TxID     int64
	Op       message.Kind
	Key      string
	Value    string
	Success  bool
	TimedOut bool
	// Internal marks transactions issued by stabilization.
	Internal  bool
	Issued    int64
	Completed int64
}

// ResultFunc observes every terminal transaction.
type ResultFunc func(Result)

type transaction struct {
	id       int64
	op       message.Kind
	key      string
	value    string
	issued   int64
	internal bool
	targets  map[address.Address]bool
	write    *quorum.Write
	read     *quorum.Read
}

// Coordinator issues operations and resolves their transactions.
type Coordinator struct {
	self     address.Address
	timeout  int64
	clock    clock.Clock
	replicas ReplicaFinder
	send     SendFunc
	events   eventlog.Logger
	log      *logrus.Entry
	observer ResultFunc

	nextID int64
	txs    map[int64]*transaction
}

// NewCoordinator creates a coordinator. A non-positive timeout means
// DefaultTimeout.
func NewCoordinator(self address.Address, timeout int64, clk clock.Clock, replicas ReplicaFinder, send SendFunc, events eventlog.Logger, log *logrus.Entry) *Coordinator {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if events == nil {
		events = eventlog.Discard{}
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Coordinator{
		self:     self,
		timeout:  timeout,
		clock:    clk,
		replicas: replicas,
		send:     send,
		events:   events,
		log:      log.WithFields(logrus.Fields{"node": self.String(), "component": "coordinator"}),
		txs:      make(map[int64]*transaction),
	}
}

// OnResult registers an observer for terminal transactions.
func (c *Coordinator) OnResult(fn ResultFunc) {
	c.observer = fn
}

// Create stores key=value at the key's replicas.
func (c *Coordinator) Create(key, value string) (int64, error) {
	targets, err := c.lookup(key)
	if err != nil {
		return 0, err
	}
	tx := c.open(message.KindCreate, key, value, targets, quorum.Majority(ring.ReplicationFactor), false)
	for i, to := range targets {
		c.send(to, &message.Create{TxID: tx.id, Sender: c.self, Key: key, Value: value, Role: message.RoleAt(i)})
	}
	return tx.id, nil
}

// Read fetches key from the key's replicas.
func (c *Coordinator) Read(key string) (int64, error) {
	targets, err := c.lookup(key)
	if err != nil {
		return 0, err
	}
	tx := c.open(message.KindRead, key, "", targets, 0, false)
	for _, to := range targets {
		c.send(to, &message.Read{TxID: tx.id, Sender: c.self, Key: key})
	}
	return tx.id, nil
}

// Update overwrites key at the key's replicas.
func (c *Coordinator) Update(key, value string) (int64, error) {
	targets, err := c.lookup(key)
	if err != nil {
		return 0, err
	}
	tx := c.open(message.KindUpdate, key, value, targets, quorum.Majority(ring.ReplicationFactor), false)
	for _, to := range targets {
		c.send(to, &message.Update{TxID: tx.id, Sender: c.self, Key: key, Value: value})
	}
	return tx.id, nil
}

// Delete removes key at the key's replicas.
func (c *Coordinator) Delete(key string) (int64, error) {
	targets, err := c.lookup(key)
	if err != nil {
		return 0, err
	}
	tx := c.open(message.KindDelete, key, "", targets, quorum.Majority(ring.ReplicationFactor), false)
	for _, to := range targets {
		c.send(to, &message.Delete{TxID: tx.id, Sender: c.self, Key: key})
	}
	return tx.id, nil
}

// Replicate sends an upsert CREATE of key to an explicit replica triple.
// It is used by stabilization.
func (c *Coordinator) Replicate(key, value string, targets []address.Address) (int64, error) {
	if len(targets) < ring.ReplicationFactor {
		return 0, fmt.Errorf("replicate %q: %w", key, ErrInsufficientReplicas)
	}
	tx := c.open(message.KindCreate, key, value, targets, quorum.Majority(len(targets)), true)
	for i, to := range targets {
		c.send(to, &message.Create{TxID: tx.id, Sender: c.self, Key: key, Value: value, Role: message.RoleAt(i), Upsert: true})
	}
	return tx.id, nil
}

// Purge sends DELETE of key to nodes that should no longer hold it. The
// transaction resolves on a majority of targets.
func (c *Coordinator) Purge(key string, targets []address.Address) (int64, error) {
	if len(targets) == 0 {
		return 0, fmt.Errorf("purge %q: no targets", key)
	}
	tx := c.open(message.KindDelete, key, "", targets, quorum.Majority(len(targets)), true)
	for _, to := range targets {
		c.send(to, &message.Delete{TxID: tx.id, Sender: c.self, Key: key})
	}
	return tx.id, nil
}

func (c *Coordinator) lookup(key string) ([]address.Address, error) {
	targets := c.replicas.FindReplicas(key)
	if len(targets) < ring.ReplicationFactor {
		c.log.WithField("key", key).Warn("Operation rejected: not enough nodes for replication")
		return nil, fmt.Errorf("key %q: %w", key, ErrInsufficientReplicas)
	}
	return targets, nil
}

func (c *Coordinator) open(op message.Kind, key, value string, targets []address.Address, required int, internal bool) *transaction {
	c.nextID++
	tx := &transaction{
		id:       c.nextID,
		op:       op,
		key:      key,
		value:    value,
		issued:   c.clock.Now(),
		internal: internal,
		targets:  make(map[address.Address]bool, len(targets)),
	}
	for _, t := range targets {
		tx.targets[t] = true
	}

	// Targets are non-empty and required never exceeds them, so the
	// constructors cannot fail here.
	if op == message.KindRead {
		tx.read, _ = quorum.NewRead(len(targets))
	} else {
		tx.write, _ = quorum.NewWrite(len(targets), required)
	}

	c.txs[tx.id] = tx
	c.log.WithFields(logrus.Fields{"tx": tx.id, "op": op.String(), "key": key, "replicas": len(targets)}).Debug("Transaction opened")
	return tx
}

// Handle applies a REPLY or READREPLY. Replies for unknown or finished
// transactions, and replies from nodes the request was not sent to, are
// discarded.
func (c *Coordinator) Handle(m message.Message) error {
	switch v := m.(type) {
	case *message.Reply:
		tx := c.pending(v.TxID, v.Sender)
		if tx == nil || tx.write == nil {
			return nil
		}
		if out, done := tx.write.Record(v.Sender, v.Success); done {
			c.finish(tx, out == quorum.Success, tx.value, false)
		}
	case *message.ReadReply:
		tx := c.pending(v.TxID, v.Sender)
		if tx == nil || tx.read == nil {
			return nil
		}
		c.log.WithFields(logrus.Fields{"tx": v.TxID, "from": v.Sender.String(), "found": v.Found()}).Debug("Read reply")
		if out, done := tx.read.Record(v.Sender, v.Value); done {
			c.finish(tx, out == quorum.Success, tx.read.Value(), false)
		}
	default:
		return fmt.Errorf("coordinator: unexpected %s", m.Kind())
	}
	return nil
}

func (c *Coordinator) pending(id int64, from address.Address) *transaction {
	tx, ok := c.txs[id]
	if !ok {
		c.log.WithFields(logrus.Fields{"tx": id, "from": from.String()}).Debug("Discarding reply for closed transaction")
		return nil
	}
	if !tx.targets[from] {
		c.log.WithFields(logrus.Fields{"tx": id, "from": from.String()}).Debug("Discarding reply from non-replica")
		return nil
	}
	return tx
}

// Sweep fails every transaction open for longer than the timeout.
func (c *Coordinator) Sweep() {
	now := c.clock.Now()

	var expired []int64
	for id, tx := range c.txs {
		if now-tx.issued > c.timeout {
			expired = append(expired, id)
		}
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i] < expired[j] })

	for _, id := range expired {
		tx := c.txs[id]
		value := tx.value
		if tx.op == message.KindRead {
			value = ""
		}
		c.finish(tx, false, value, true)
	}
}

func (c *Coordinator) finish(tx *transaction, success bool, value string, timedOut bool) {
	delete(c.txs, tx.id)
	now := c.clock.Now()

	c.events.Operation(eventlog.OpEvent{
		Node:        c.self,
		Coordinator: true,
		TxID:        tx.id,
		Op:          tx.op,
		Key:         tx.key,
		Value:       value,
		Success:     success,
		Tick:        now,
	})

	fields := logrus.Fields{"tx": tx.id, "op": tx.op.String(), "key": tx.key, "success": success}
	switch {
	case tx.write != nil:
		fields["acks"] = tx.write.Acks()
		fields["nacks"] = tx.write.Nacks()
		fields["required"] = tx.write.Required()
	case tx.read != nil:
		fields["values"] = tx.read.Values()
	}
	if timedOut {
		fields["issued"] = tx.issued
		c.log.WithFields(fields).Info("Transaction timed out")
	} else {
		c.log.WithFields(fields).Debug("Transaction finished")
	}

	if c.observer != nil {
		c.observer(Result{
			TxID:      tx.id,
			Op:        tx.op,
			Key:       tx.key,
			Value:     value,
			Success:   success,
			TimedOut:  timedOut,
			Internal:  tx.internal,
			Issued:    tx.issued,
			Completed: now,
		})
	}
}

// Open returns the number of open transactions.
func (c *Coordinator) Open() int {
	return len(c.txs)
}

// IsOpen reports whether transaction id is still waiting.
func (c *Coordinator) IsOpen(id int64) bool {
	_, ok := c.txs[id]
	return ok
}
