package protocol

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Small helpers layered over protowire's varint/length-delimited
// primitives. The runner hand-drives these instead of generated
// message types because no .proto toolchain runs as part of this
// build — field numbers below are this package's own schema, not
// shared with any upstream .proto.

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendBool(b []byte, num protowire.Number, v bool) []byte {
	if v {
		return appendVarint(b, num, 1)
	}
	return appendVarint(b, num, 0)
}

func appendSInt64(b []byte, num protowire.Number, v int64) []byte {
	return appendVarint(b, num, protowire.EncodeZigZag(v))
}

func appendBytes(b []byte, num protowire.Number, v []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendString(b []byte, num protowire.Number, v string) []byte {
	return appendBytes(b, num, []byte(v))
}

func appendMessage(b []byte, num protowire.Number, v []byte) []byte {
	return appendBytes(b, num, v)
}

// field is one decoded (number, type, value) triple; value holds either
// the raw varint or the raw byte slice depending on typ.
type field struct {
	num     protowire.Number
	typ     protowire.Type
	varint  uint64
	bytes   []byte
}

func decodeFields(b []byte) ([]field, error) {
	var out []field
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("protocol: invalid tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, fmt.Errorf("protocol: invalid varint: %w", protowire.ParseError(n))
			}
			out = append(out, field{num: num, typ: typ, varint: v})
			b = b[n:]
		case protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, fmt.Errorf("protocol: invalid bytes: %w", protowire.ParseError(n))
			}
			cp := make([]byte, len(v))
			copy(cp, v)
			out = append(out, field{num: num, typ: typ, bytes: cp})
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, fmt.Errorf("protocol: invalid field (type %d): %w", typ, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return out, nil
}

func (f field) asString() string { return string(f.bytes) }
func (f field) asSInt64() int64  { return protowire.DecodeZigZag(f.varint) }
func (f field) asBool() bool     { return f.varint != 0 }
