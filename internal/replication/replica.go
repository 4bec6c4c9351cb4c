package replication

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"ringkv/internal/address"
	"ringkv/internal/clock"
	"ringkv/internal/eventlog"
	"ringkv/internal/message"
	"ringkv/internal/storage"
)

// Replica applies CREATE, READ, UPDATE and DELETE requests to the local
// table and answers each with exactly one reply.
type Replica struct {
	self   address.Address
	store  storage.Store
	clock  clock.Clock
	send   SendFunc
	events eventlog.Logger
	log    *logrus.Entry
}

// NewReplica creates the request handlers for one node.
func NewReplica(self address.Address, store storage.Store, clk clock.Clock, send SendFunc, events eventlog.Logger, log *logrus.Entry) *Replica {
	if events == nil {
		events = eventlog.Discard{}
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Replica{
		self:   self,
		store:  store,
		clock:  clk,
		send:   send,
		events: events,
		log:    log.WithFields(logrus.Fields{"node": self.String(), "component": "replica"}),
	}
}

// Handle applies one request.
func (r *Replica) Handle(m message.Message) error {
	switch v := m.(type) {
	case *message.Create:
		var err error
		if v.Upsert {
			r.store.Upsert(v.Key, v.Value, v.Role)
		} else {
			err = r.store.Create(v.Key, v.Value, v.Role)
		}
		r.reply(v.Sender, v.TxID, message.KindCreate, v.Key, v.Value, err)
	case *message.Read:
		value, ok := r.store.Read(v.Key)
		if !ok {
			value = message.MissSentinel
		}
		r.send(v.Sender, &message.ReadReply{TxID: v.TxID, Sender: r.self, Value: value})
		r.record(v.TxID, message.KindRead, v.Key, value, ok)
	case *message.Update:
		r.reply(v.Sender, v.TxID, message.KindUpdate, v.Key, v.Value, r.store.Update(v.Key, v.Value))
	case *message.Delete:
		r.reply(v.Sender, v.TxID, message.KindDelete, v.Key, "", r.store.Delete(v.Key))
	default:
		return fmt.Errorf("replica: unexpected %s", m.Kind())
	}
	return nil
}

func (r *Replica) reply(to address.Address, txID int64, op message.Kind, key, value string, err error) {
	if err != nil {
		r.log.WithFields(logrus.Fields{"tx": txID, "op": op.String(), "key": key}).WithError(err).Debug("Request rejected")
	}
	r.send(to, &message.Reply{TxID: txID, Sender: r.self, Success: err == nil})
	r.record(txID, op, key, value, err == nil)
}

func (r *Replica) record(txID int64, op message.Kind, key, value string, success bool) {
	if !success && op == message.KindRead {
		value = ""
	}
	r.events.Operation(eventlog.OpEvent{
		Node:    r.self,
		TxID:    txID,
		Op:      op,
		Key:     key,
		Value:   value,
		Success: success,
		Tick:    r.clock.Now(),
	})
}
