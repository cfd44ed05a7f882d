package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinylib/msgp/msgp"
)

func TestDecodeBinaryMap_Truncated(t *testing.T) {
	full := encodeBinaryMap(sampleSnapshot())
	require.Greater(t, len(full), 3)

	for _, n := range []int{0, 1, 3, len(full) / 2, len(full) - 1} {
		_, err := Decode(full[:n], BinaryMap, nil)
		require.Error(t, err, "prefix of %d bytes should fail", n)

		var decodeErr *DecodeError
		require.ErrorAs(t, err, &decodeErr)
		assert.Equal(t, BinaryMap, decodeErr.Format)
		assert.Equal(t, msgp.ErrShortBytes, msgp.Cause(decodeErr.Err), "prefix %d: %v", n, err)
	}
}

// Python's msgpack packer picks the narrowest integer type, including the
// unsigned ones, and keys may arrive in any order.
func TestDecodeBinaryMap_ForeignEncoder(t *testing.T) {
	var b []byte
	b = msgp.AppendMapHeader(b, 4)
	b = msgp.AppendString(b, "timestamp")
	b = msgp.AppendString(b, "2024-01-01T00:00:00Z")
	b = msgp.AppendString(b, "schema_version")
	b = msgp.AppendInt(b, 2)
	b = msgp.AppendString(b, "total")
	b = append(b, 0xcd, 0x13, 0x88) // uint16 5000
	b = msgp.AppendString(b, "users")
	b = msgp.AppendArrayHeader(b, 1)
	b = msgp.AppendMapHeader(b, 5)
	b = msgp.AppendString(b, "city")
	b = msgp.AppendString(b, "Lima")
	b = msgp.AppendString(b, "age")
	b = append(b, 0x1e) // positive fixint 30
	b = msgp.AppendString(b, "id")
	b = append(b, 0xcc, 0xff) // uint8 255
	b = msgp.AppendString(b, "email")
	b = msgp.AppendString(b, "a@x.com")
	b = msgp.AppendString(b, "name")
	b = msgp.AppendString(b, "Ana")

	snap, err := Decode(b, BinaryMap, nil)
	require.NoError(t, err)

	assert.Equal(t, int64(5000), snap.Total)
	assert.Equal(t, "2024-01-01T00:00:00Z", snap.Timestamp)
	require.Len(t, snap.Users, 1)
	assert.Equal(t, int64(255), snap.Users[0].ID)
	assert.Equal(t, int64(30), snap.Users[0].Age)
	assert.Equal(t, "Lima", snap.Users[0].City)
}

func TestDecodeBinaryMap_Malformed(t *testing.T) {
	tests := []struct {
		name  string
		build func() []byte
	}{
		{
			name: "not a map",
			build: func() []byte {
				return msgp.AppendArrayHeader(nil, 0)
			},
		},
		{
			name: "missing timestamp",
			build: func() []byte {
				b := msgp.AppendMapHeader(nil, 2)
				b = msgp.AppendString(b, "users")
				b = msgp.AppendArrayHeader(b, 0)
				b = msgp.AppendString(b, "total")
				return msgp.AppendInt64(b, 0)
			},
		},
		{
			name: "total is a string",
			build: func() []byte {
				b := msgp.AppendMapHeader(nil, 3)
				b = msgp.AppendString(b, "users")
				b = msgp.AppendArrayHeader(b, 0)
				b = msgp.AppendString(b, "total")
				b = msgp.AppendString(b, "many")
				b = msgp.AppendString(b, "timestamp")
				return msgp.AppendString(b, "t")
			},
		},
		{
			name: "user without email",
			build: func() []byte {
				b := msgp.AppendMapHeader(nil, 3)
				b = msgp.AppendString(b, "users")
				b = msgp.AppendArrayHeader(b, 1)
				b = msgp.AppendMapHeader(b, 4)
				b = msgp.AppendString(b, "id")
				b = msgp.AppendInt64(b, 1)
				b = msgp.AppendString(b, "name")
				b = msgp.AppendString(b, "Ana")
				b = msgp.AppendString(b, "age")
				b = msgp.AppendInt64(b, 30)
				b = msgp.AppendString(b, "city")
				b = msgp.AppendString(b, "Lima")
				b = msgp.AppendString(b, "total")
				b = msgp.AppendInt64(b, 1)
				b = msgp.AppendString(b, "timestamp")
				return msgp.AppendString(b, "t")
			},
		},
		{
			name: "trailing bytes",
			build: func() []byte {
				return append(encodeBinaryMap(sampleSnapshot()), 0xc0)
			},
		},
		{
			name: "array header larger than payload",
			build: func() []byte {
				b := msgp.AppendMapHeader(nil, 1)
				b = msgp.AppendString(b, "users")
				return msgp.AppendArrayHeader(b, 1<<30)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.build(), BinaryMap, nil)
			require.Error(t, err)

			var decodeErr *DecodeError
			assert.ErrorAs(t, err, &decodeErr)
		})
	}
}
