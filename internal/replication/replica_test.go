package replication

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ringkv/internal/address"
	"ringkv/internal/clock"
	"ringkv/internal/eventlog"
	"ringkv/internal/message"
	"ringkv/internal/storage"
)

func newReplicaFixture() (*Replica, *storage.InMemoryStore, *outbox, *eventlog.Memory) {
	store := storage.NewInMemoryStore()
	out := &outbox{}
	events := eventlog.NewMemory()
	r := NewReplica(address.New(2, 0), store, clock.Fixed(3), out.send, events, nullLog())
	return r, store, out, events
}

func TestReplica_Requests(t *testing.T) {
	coord := address.New(1, 0)

	tests := []struct {
		name    string
		seed    bool
		req     message.Message
		want    message.Message
		success bool
	}{
		{"create new", false, &message.Create{TxID: 1, Sender: coord, Key: "k", Value: "v"}, &message.Reply{TxID: 1, Success: true}, true},
		{"create existing", true, &message.Create{TxID: 2, Sender: coord, Key: "k", Value: "v"}, &message.Reply{TxID: 2, Success: false}, false},
		{"upsert existing", true, &message.Create{TxID: 3, Sender: coord, Key: "k", Value: "v", Upsert: true}, &message.Reply{TxID: 3, Success: true}, true},
		{"read present", true, &message.Read{TxID: 4, Sender: coord, Key: "k"}, &message.ReadReply{TxID: 4, Value: "old"}, true},
		{"read missing", false, &message.Read{TxID: 5, Sender: coord, Key: "k"}, &message.ReadReply{TxID: 5, Value: message.MissSentinel}, false},
		{"update present", true, &message.Update{TxID: 6, Sender: coord, Key: "k", Value: "v"}, &message.Reply{TxID: 6, Success: true}, true},
		{"update missing", false, &message.Update{TxID: 7, Sender: coord, Key: "k", Value: "v"}, &message.Reply{TxID: 7, Success: false}, false},
		{"delete present", true, &message.Delete{TxID: 8, Sender: coord, Key: "k"}, &message.Reply{TxID: 8, Success: true}, true},
		{"delete missing", false, &message.Delete{TxID: 9, Sender: coord, Key: "k"}, &message.Reply{TxID: 9, Success: false}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, store, out, events := newReplicaFixture()
			if tt.seed {
				store.Upsert("k", "old", message.Primary)
			}

			require.NoError(t, r.Handle(tt.req))

			sent := out.drain()
			require.Len(t, sent, 1, "exactly one reply")
			assert.Equal(t, coord, sent[0].to)

			switch want := tt.want.(type) {
			case *message.Reply:
				want.Sender = address.New(2, 0)
			case *message.ReadReply:
				want.Sender = address.New(2, 0)
			}
			assert.Equal(t, tt.want, sent[0].msg)

			ops := events.Operations()
			require.Len(t, ops, 1)
			assert.False(t, ops[0].Coordinator)
			assert.Equal(t, tt.success, ops[0].Success)
			assert.Equal(t, tt.req.Kind(), ops[0].Op)
			assert.Equal(t, int64(3), ops[0].Tick)
		})
	}
}

func TestReplica_CreateStoresRole(t *testing.T) {
	r, store, _, _ := newReplicaFixture()
	require.NoError(t, r.Handle(&message.Create{TxID: 1, Key: "k", Value: "v", Role: message.Tertiary}))

	e, ok := store.Get("k")
	require.True(t, ok)
	assert.Equal(t, storage.Entry{Value: "v", Role: message.Tertiary}, e)
}

func TestReplica_RejectsReplies(t *testing.T) {
	r, _, out, _ := newReplicaFixture()
	assert.Error(t, r.Handle(&message.Reply{TxID: 1}))
	assert.Empty(t, out.drain())
}
