package message

import (
	"ringkv/internal/address"
)

// MissSentinel is the value a replica returns when a READ finds nothing.
const MissSentinel = "_"

// Kind tags a message on the wire.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindJoinReq
	KindJoinRep
	KindMemberTable
	KindCreate
	KindRead
	KindUpdate
	KindDelete
	KindReply
	KindReadReply
)

// String returns the protocol name of the kind.
func (k Kind) String() string {
	switch k {
	case KindJoinReq:
		return "JOINREQ"
	case KindJoinRep:
		return "JOINREP"
	case KindMemberTable:
		return "MEMBER_TABLE"
	case KindCreate:
		return "CREATE"
	case KindRead:
		return "READ"
	case KindUpdate:
		return "UPDATE"
	case KindDelete:
		return "DELETE"
	case KindReply:
		return "REPLY"
	case KindReadReply:
		return "READREPLY"
	default:
		return "UNKNOWN"
	}
}

// Channel is the logical protocol a kind belongs to.
type Channel uint8

const (
	ChannelNone Channel = iota
	ChannelMembership
	ChannelKV
)

// Channel returns the protocol that handles messages of this kind.
func (k Kind) Channel() Channel {
	switch k {
	case KindJoinReq, KindJoinRep, KindMemberTable:
		return ChannelMembership
	case KindCreate, KindRead, KindUpdate, KindDelete, KindReply, KindReadReply:
		return ChannelKV
	default:
		return ChannelNone
	}
}

// ReplicaRole is the position of a node in a key's replica set. It is
// informational only and never changes how an operation is applied.
type ReplicaRole uint8

const (
	Primary ReplicaRole = iota
	Secondary
	Tertiary
)

// String returns the role name.
func (r ReplicaRole) String() string {
	switch r {
	case Primary:
		return "PRIMARY"
	case Secondary:
		return "SECONDARY"
	case Tertiary:
		return "TERTIARY"
	default:
		return "UNKNOWN"
	}
}

// RoleAt returns the role of position i in a replica set.
func RoleAt(i int) ReplicaRole {
	return ReplicaRole(i)
}

// Message is implemented by every message type.
type Message interface {
	Kind() Kind
	// From is the address of the node that built the message.
	From() address.Address
}

// MemberEntry is one row of a gossiped member table.
type MemberEntry struct {
	Addr      address.Address
	Heartbeat int64
	Timestamp int64
}

// JoinReq asks the introducer to admit Sender into the group.
type JoinReq struct {
	Sender    address.Address
	Heartbeat int64
}

// JoinRep admits the receiver into the group.
type JoinRep struct {
	Sender    address.Address
	Heartbeat int64
}

// MemberTable carries the sender's entire member table.
type MemberTable struct {
	Sender    address.Address
	Heartbeat int64
	Entries   []MemberEntry
}

// Create stores a new key at a replica. Upsert is set by stabilization,
// where the destination may already hold the key.
type Create struct {
	TxID   int64
	Sender address.Address
	Key    string
	Value  string
	Role   ReplicaRole
	Upsert bool
}

// Read asks a replica for its value of Key.
type Read struct {
	TxID   int64
	Sender address.Address
	Key    string
}

// Update overwrites an existing key at a replica.
type Update struct {
	TxID   int64
	Sender address.Address
	Key    string
	Value  string
}

// Delete removes a key at a replica.
type Delete struct {
	TxID   int64
	Sender address.Address
	Key    string
}

// Reply answers a Create, Update or Delete.
type Reply struct {
	TxID    int64
	Sender  address.Address
	Success bool
}

// ReadReply answers a Read with the stored value or MissSentinel.
type ReadReply struct {
	TxID   int64
	Sender address.Address
	Value  string
}

// Found reports whether the replica had the key.
func (r *ReadReply) Found() bool {
	return r.Value != MissSentinel
}

func (*JoinReq) Kind() Kind     { return KindJoinReq }
func (*JoinRep) Kind() Kind     { return KindJoinRep }
func (*MemberTable) Kind() Kind { return KindMemberTable }
func (*Create) Kind() Kind      { return KindCreate }
func (*Read) Kind() Kind        { return KindRead }
func (*Update) Kind() Kind      { return KindUpdate }
func (*Delete) Kind() Kind      { return KindDelete }
func (*Reply) Kind() Kind       { return KindReply }
func (*ReadReply) Kind() Kind   { return KindReadReply }

func (m *JoinReq) From() address.Address     { return m.Sender }
func (m *JoinRep) From() address.Address     { return m.Sender }
func (m *MemberTable) From() address.Address { return m.Sender }
func (m *Create) From() address.Address      { return m.Sender }
func (m *Read) From() address.Address        { return m.Sender }
func (m *Update) From() address.Address      { return m.Sender }
func (m *Delete) From() address.Address      { return m.Sender }
func (m *Reply) From() address.Address       { return m.Sender }
func (m *ReadReply) From() address.Address   { return m.Sender }

// TxID returns the transaction id carried by a key-value message, or
// (0, false) for membership messages.
func TxID(m Message) (int64, bool) {
	switch v := m.(type) {
	case *Create:
		return v.TxID, true
	case *Read:
		return v.TxID, true
	case *Update:
		return v.TxID, true
	case *Delete:
		return v.TxID, true
	case *Reply:
		return v.TxID, true
	case *ReadReply:
		return v.TxID, true
	default:
		return 0, false
	}
}
