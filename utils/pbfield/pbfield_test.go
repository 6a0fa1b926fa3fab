package pbfield

import (
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

func TestForEach(t *testing.T) {
	b := AppendString(nil, 1, "hello")
	b = AppendSigned(b, 2, -42)
	b = AppendBytes(b, 3, []byte{})
	b = AppendBool(b, 4, true)
	b = AppendString(b, 5, "")
	b = protowire.AppendTag(b, 9, protowire.Fixed32Type)
	b = protowire.AppendFixed32(b, 7)

	seen := map[protowire.Number]interface{}{}
	require.NoError(t, ForEach(b, func(field protowire.Number, val []byte, num uint64) error {
		if val != nil {
			seen[field] = string(val)
		} else {
			seen[field] = num
		}
		return nil
	}))

	require.Equal(t, "hello", seen[1])
	require.Equal(t, int64(-42), protowire.DecodeZigZag(seen[2].(uint64)))
	require.Equal(t, "", seen[3])
	require.Equal(t, uint64(1), seen[4])
	require.NotContains(t, seen, protowire.Number(5))
	require.NotContains(t, seen, protowire.Number(9))

	require.Error(t, ForEach([]byte{0x0a, 0x05, 'a'}, func(protowire.Number, []byte, uint64) error { return nil }))
}
