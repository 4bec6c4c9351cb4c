package message

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"ringkv/internal/address"
)

var (
	// ErrUnknownKind is returned when a record carries no known kind tag.
	ErrUnknownKind = errors.New("unknown message kind")
	// ErrTruncated is returned for records that end mid-field.
	ErrTruncated = errors.New("malformed message")
)

// Field numbers of the wire record. Numbers are never reused.
const (
	fieldKind      protowire.Number = 1
	fieldSender    protowire.Number = 2
	fieldHeartbeat protowire.Number = 3
	fieldTxID      protowire.Number = 4
	fieldKey       protowire.Number = 5
	fieldValue     protowire.Number = 6
	fieldRole      protowire.Number = 7
	fieldUpsert    protowire.Number = 8
	fieldSuccess   protowire.Number = 9
	fieldEntry     protowire.Number = 10
)

// Nested field numbers for addresses and member entries.
const (
	fieldAddrID   protowire.Number = 1
	fieldAddrPort protowire.Number = 2

	fieldEntryAddr      protowire.Number = 1
	fieldEntryHeartbeat protowire.Number = 2
	fieldEntryTimestamp protowire.Number = 3
)

// record is the flattened form every message passes through.
type record struct {
	kind      Kind
	sender    address.Address
	heartbeat int64
	txID      int64
	key       string
	value     string
	role      ReplicaRole
	upsert    bool
	success   bool
	entries   []MemberEntry
}

// Encode serializes m.
func Encode(m Message) ([]byte, error) {
	var r record
	r.kind = m.Kind()
	r.sender = m.From()

	switch v := m.(type) {
	case *JoinReq:
		r.heartbeat = v.Heartbeat
	case *JoinRep:
		r.heartbeat = v.Heartbeat
	case *MemberTable:
		r.heartbeat = v.Heartbeat
		r.entries = v.Entries
	case *Create:
		r.txID, r.key, r.value, r.role, r.upsert = v.TxID, v.Key, v.Value, v.Role, v.Upsert
	case *Read:
		r.txID, r.key = v.TxID, v.Key
	case *Update:
		r.txID, r.key, r.value = v.TxID, v.Key, v.Value
	case *Delete:
		r.txID, r.key = v.TxID, v.Key
	case *Reply:
		r.txID, r.success = v.TxID, v.Success
	case *ReadReply:
		r.txID, r.value = v.TxID, v.Value
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownKind, m)
	}

	return r.marshal(), nil
}

// Decode parses a record produced by Encode. Unknown fields are skipped so
// older nodes can read records from newer ones.
func Decode(b []byte) (Message, error) {
	r, err := unmarshalRecord(b)
	if err != nil {
		return nil, err
	}

	switch r.kind {
	case KindJoinReq:
		return &JoinReq{Sender: r.sender, Heartbeat: r.heartbeat}, nil
	case KindJoinRep:
		return &JoinRep{Sender: r.sender, Heartbeat: r.heartbeat}, nil
	case KindMemberTable:
		return &MemberTable{Sender: r.sender, Heartbeat: r.heartbeat, Entries: r.entries}, nil
	case KindCreate:
		return &Create{TxID: r.txID, Sender: r.sender, Key: r.key, Value: r.value, Role: r.role, Upsert: r.upsert}, nil
	case KindRead:
		return &Read{TxID: r.txID, Sender: r.sender, Key: r.key}, nil
	case KindUpdate:
		return &Update{TxID: r.txID, Sender: r.sender, Key: r.key, Value: r.value}, nil
	case KindDelete:
		return &Delete{TxID: r.txID, Sender: r.sender, Key: r.key}, nil
	case KindReply:
		return &Reply{TxID: r.txID, Sender: r.sender, Success: r.success}, nil
	case KindReadReply:
		return &ReadReply{TxID: r.txID, Sender: r.sender, Value: r.value}, nil
	default:
		return nil, fmt.Errorf("%w: tag %d", ErrUnknownKind, r.kind)
	}
}

func (r *record) marshal() []byte {
	b := make([]byte, 0, 32+len(r.key)+len(r.value)+len(r.entries)*16)

	b = appendVarint(b, fieldKind, uint64(r.kind))
	b = protowire.AppendTag(b, fieldSender, protowire.BytesType)
	b = protowire.AppendBytes(b, marshalAddress(r.sender))
	if r.heartbeat != 0 {
		b = appendVarint(b, fieldHeartbeat, protowire.EncodeZigZag(r.heartbeat))
	}
	if r.txID != 0 {
		b = appendVarint(b, fieldTxID, protowire.EncodeZigZag(r.txID))
	}
	if r.key != "" {
		b = protowire.AppendTag(b, fieldKey, protowire.BytesType)
		b = protowire.AppendString(b, r.key)
	}
	if r.value != "" {
		b = protowire.AppendTag(b, fieldValue, protowire.BytesType)
		b = protowire.AppendString(b, r.value)
	}
	if r.role != Primary {
		b = appendVarint(b, fieldRole, uint64(r.role))
	}
	if r.upsert {
		b = appendVarint(b, fieldUpsert, protowire.EncodeBool(true))
	}
	if r.success {
		b = appendVarint(b, fieldSuccess, protowire.EncodeBool(true))
	}
	for _, e := range r.entries {
		b = protowire.AppendTag(b, fieldEntry, protowire.BytesType)
		b = protowire.AppendBytes(b, marshalEntry(e))
	}
	return b
}

func unmarshalRecord(b []byte) (*record, error) {
	r := &record{}
	err := walk(b, func(num protowire.Number, typ protowire.Type, v uint64, raw []byte) error {
		switch {
		case num == fieldKind && typ == protowire.VarintType:
			if v > uint64(KindReadReply) {
				return fmt.Errorf("%w: tag %d", ErrUnknownKind, v)
			}
			r.kind = Kind(v)
		case num == fieldSender && typ == protowire.BytesType:
			addr, err := unmarshalAddress(raw)
			if err != nil {
				return err
			}
			r.sender = addr
		case num == fieldHeartbeat && typ == protowire.VarintType:
			r.heartbeat = protowire.DecodeZigZag(v)
		case num == fieldTxID && typ == protowire.VarintType:
			r.txID = protowire.DecodeZigZag(v)
		case num == fieldKey && typ == protowire.BytesType:
			r.key = string(raw)
		case num == fieldValue && typ == protowire.BytesType:
			r.value = string(raw)
		case num == fieldRole && typ == protowire.VarintType:
			r.role = ReplicaRole(v)
		case num == fieldUpsert && typ == protowire.VarintType:
			r.upsert = protowire.DecodeBool(v)
		case num == fieldSuccess && typ == protowire.VarintType:
			r.success = protowire.DecodeBool(v)
		case num == fieldEntry && typ == protowire.BytesType:
			e, err := unmarshalEntry(raw)
			if err != nil {
				return err
			}
			r.entries = append(r.entries, e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

func marshalAddress(a address.Address) []byte {
	b := make([]byte, 0, 8)
	b = appendVarint(b, fieldAddrID, protowire.EncodeZigZag(int64(a.ID)))
	b = appendVarint(b, fieldAddrPort, protowire.EncodeZigZag(int64(a.Port)))
	return b
}

func unmarshalAddress(b []byte) (address.Address, error) {
	var a address.Address
	err := walk(b, func(num protowire.Number, typ protowire.Type, v uint64, _ []byte) error {
		if typ != protowire.VarintType {
			return nil
		}
		switch num {
		case fieldAddrID:
			a.ID = int32(protowire.DecodeZigZag(v))
		case fieldAddrPort:
			a.Port = int16(protowire.DecodeZigZag(v))
		}
		return nil
	})
	return a, err
}

func marshalEntry(e MemberEntry) []byte {
	b := make([]byte, 0, 24)
	b = protowire.AppendTag(b, fieldEntryAddr, protowire.BytesType)
	b = protowire.AppendBytes(b, marshalAddress(e.Addr))
	b = appendVarint(b, fieldEntryHeartbeat, protowire.EncodeZigZag(e.Heartbeat))
	b = appendVarint(b, fieldEntryTimestamp, protowire.EncodeZigZag(e.Timestamp))
	return b
}

func unmarshalEntry(b []byte) (MemberEntry, error) {
	var e MemberEntry
	err := walk(b, func(num protowire.Number, typ protowire.Type, v uint64, raw []byte) error {
		switch {
		case num == fieldEntryAddr && typ == protowire.BytesType:
			addr, err := unmarshalAddress(raw)
			if err != nil {
				return err
			}
			e.Addr = addr
		case num == fieldEntryHeartbeat && typ == protowire.VarintType:
			e.Heartbeat = protowire.DecodeZigZag(v)
		case num == fieldEntryTimestamp && typ == protowire.VarintType:
			e.Timestamp = protowire.DecodeZigZag(v)
		}
		return nil
	})
	return e, err
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

// walk calls fn for every field of b. Varint fields pass their value in v,
// length-delimited fields pass their payload in raw; other wire types are
// skipped.
func walk(b []byte, fn func(num protowire.Number, typ protowire.Type, v uint64, raw []byte) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrTruncated, protowire.ParseError(n))
		}
		b = b[n:]

		switch typ {
		case protowire.VarintType:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return fmt.Errorf("%w: %v", ErrTruncated, protowire.ParseError(m))
			}
			b = b[m:]
			if err := fn(num, typ, v, nil); err != nil {
				return err
			}
		case protowire.BytesType:
			raw, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return fmt.Errorf("%w: %v", ErrTruncated, protowire.ParseError(m))
			}
			b = b[m:]
			if err := fn(num, typ, 0, raw); err != nil {
				return err
			}
		default:
			m := protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return fmt.Errorf("%w: %v", ErrTruncated, protowire.ParseError(m))
			}
			b = b[m:]
		}
	}
	return nil
}
