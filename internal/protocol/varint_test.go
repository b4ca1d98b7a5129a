package protocol

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVarIntRoundTrip(t *testing.T) {
	cases := []int32{0, 1, -1, 2, 127, 128, 255, 25565, math.MaxInt32, math.MinInt32, -2097151}
	for _, v := range cases {
		encoded := PutVarInt(nil, v)
		assert.LessOrEqual(t, len(encoded), MaxVarIntLen)
		assert.Equal(t, len(encoded), VarIntSize(v))

		got, n, ok, err := DecodeVarInt(encoded)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, len(encoded), n)
		assert.Equal(t, v, got)
	}
}

func TestDecodeVarIntIncomplete(t *testing.T) {
	encoded := PutVarInt(nil, 300) // needs 2 bytes
	_, _, ok, err := DecodeVarInt(encoded[:1])
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDecodeVarIntTooLong(t *testing.T) {
	buf := []byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}
	_, _, _, err := DecodeVarInt(buf)
	assert.ErrorIs(t, err, ErrVarIntTooLong)
}

func TestKnownVarIntEncodings(t *testing.T) {
	// Canonical vectors from the wire protocol reference.
	cases := map[int32][]byte{
		0:          {0x00},
		1:          {0x01},
		2:          {0x02},
		127:        {0x7f},
		128:        {0x80, 0x01},
		255:        {0xff, 0x01},
		25565:      {0xdd, 0xc7, 0x01},
		2097151:    {0xff, 0xff, 0x7f},
		2147483647: {0xff, 0xff, 0xff, 0xff, 0x07},
		-1:         {0xff, 0xff, 0xff, 0xff, 0x0f},
		-2147483648: {0x80, 0x80, 0x80, 0x80, 0x08},
	}
	for v, want := range cases {
		assert.Equal(t, want, PutVarInt(nil, v), "encoding %d", v)
	}
}
