// Package pbfield contains small helpers over protowire shared by the value log and the sync wire format.
package pbfield

import (
	"google.golang.org/protobuf/encoding/protowire"
)

// Visitor receives one top-level field. For varint fields val is nil and num holds the value;
// for bytes fields val holds the payload.
type Visitor func(field protowire.Number, val []byte, num uint64) error

// ForEach walks the top-level fields of an encoded message. Unknown wire types are skipped.
func ForEach(b []byte, visit Visitor) error {
	for len(b) > 0 {
		field, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			b = b[n:]
			if err := visit(field, nil, v); err != nil {
				return err
			}
		case protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			b = b[n:]
			if err := visit(field, v, 0); err != nil {
				return err
			}
		default:
			n := protowire.ConsumeFieldValue(field, typ, b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return nil
}

// AppendString appends a string field, omitting empty values.
func AppendString(b []byte, field protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, field, protowire.BytesType)
	return protowire.AppendString(b, s)
}

// AppendBytes appends a bytes field, omitting nil values.
func AppendBytes(b []byte, field protowire.Number, v []byte) []byte {
	if v == nil {
		return b
	}
	b = protowire.AppendTag(b, field, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

// AppendVarint appends a varint field, omitting zero values.
func AppendVarint(b []byte, field protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, field, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

// AppendSigned appends a zigzag encoded signed integer field, omitting zero values.
func AppendSigned(b []byte, field protowire.Number, v int64) []byte {
	return AppendVarint(b, field, protowire.EncodeZigZag(v))
}

// AppendBool appends a bool field, omitting false.
func AppendBool(b []byte, field protowire.Number, v bool) []byte {
	if !v {
		return b
	}
	return AppendVarint(b, field, 1)
}

// Copy returns a copy of a bytes field value, since visited slices alias the input.
func Copy(v []byte) []byte {
	return append([]byte{}, v...)
}
