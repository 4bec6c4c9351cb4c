package grpcnet

import (
	"fmt"

	"google.golang.org/grpc/encoding"
	"google.golang.org/protobuf/encoding/protowire"

	"ringkv/internal/address"
)

const codecName = "ringkv-frame"

// Frame is the Deliver request.
type Frame struct {
	From    address.Address
	Payload []byte
}

// Ack is the Deliver response.
type Ack struct{}

type frameCodec struct{}

func init() {
	encoding.RegisterCodec(frameCodec{})
}

func (frameCodec) Name() string { return codecName }

func (frameCodec) Marshal(v interface{}) ([]byte, error) {
	switch m := v.(type) {
	case *Frame:
		b := protowire.AppendTag(nil, 1, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeZigZag(int64(m.From.ID)))
		b = protowire.AppendTag(b, 2, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeZigZag(int64(m.From.Port)))
		b = protowire.AppendTag(b, 3, protowire.BytesType)
		b = protowire.AppendBytes(b, m.Payload)
		return b, nil
	case *Ack:
		return []byte{}, nil
	default:
		return nil, fmt.Errorf("grpcnet: cannot marshal %T", v)
	}
}

func (frameCodec) Unmarshal(data []byte, v interface{}) error {
	switch m := v.(type) {
	case *Ack:
		return nil
	case *Frame:
		for len(data) > 0 {
			num, typ, n := protowire.ConsumeTag(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			data = data[n:]

			switch {
			case num == 1 && typ == protowire.VarintType:
				x, n := protowire.ConsumeVarint(data)
				if n < 0 {
					return protowire.ParseError(n)
				}
				m.From.ID = int32(protowire.DecodeZigZag(x))
				data = data[n:]
			case num == 2 && typ == protowire.VarintType:
				x, n := protowire.ConsumeVarint(data)
				if n < 0 {
					return protowire.ParseError(n)
				}
				m.From.Port = int16(protowire.DecodeZigZag(x))
				data = data[n:]
			case num == 3 && typ == protowire.BytesType:
				p, n := protowire.ConsumeBytes(data)
				if n < 0 {
					return protowire.ParseError(n)
				}
				m.Payload = append([]byte(nil), p...)
				data = data[n:]
			default:
				n := protowire.ConsumeFieldValue(num, typ, data)
				if n < 0 {
					return protowire.ParseError(n)
				}
				data = data[n:]
			}
		}
		return nil
	default:
		return fmt.Errorf("grpcnet: cannot unmarshal into %T", v)
	}
}
