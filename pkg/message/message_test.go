package message

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeaderRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		h    Header
		size int
	}{
		{"unsecured", Header{Counter: 1, HasSource: true, SourceNodeID: 0x1122334455667788}, 16},
		{"secure_minimal", Header{SessionID: 0x0bb8, Counter: 0x3039}, 8},
		{"both_nodes", Header{SessionID: 7, Counter: 9, HasSource: true, SourceNodeID: 1, HasDestination: true, DestinationNodeID: 2}, 24},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			data := tc.h.Encode()
			require.Len(t, data, tc.size)

			var got Header
			n, err := got.Decode(data)
			require.NoError(t, err)
			assert.Equal(t, tc.size, n)
			assert.Equal(t, tc.h, got)
		})
	}
}

func TestHeaderDecodeErrors(t *testing.T) {
	var h Header
	_, err := h.Decode([]byte{0, 1, 2})
	assert.ErrorIs(t, err, ErrMessageTooShort)

	_, err = h.Decode([]byte{0x10, 0, 0, 0, 0, 0, 0, 0})
	assert.ErrorIs(t, err, ErrInvalidVersion)

	// Group session type.
	_, err = h.Decode([]byte{0x00, 0, 0, 0x01, 0, 0, 0, 0})
	assert.ErrorIs(t, err, ErrUnsupportedSession)

	// Source flag without the node ID bytes.
	_, err = h.Decode([]byte{0x04, 0, 0, 0, 0, 0, 0, 0})
	assert.ErrorIs(t, err, ErrMessageTooShort)
}

// Vector from the reference C SDK session manager dispatch tests.
func TestEncodeSecureKnownVector(t *testing.T) {
	key, _ := hex.DecodeString("5eded244e5532b3cdc23409dbad052d2")
	f := &Frame{
		Header: Header{SessionID: 0x0bb8, Counter: 0x00003039},
		Protocol: ProtocolHeader{
			ProtocolID: 0x7d20,
			Opcode:     0x64,
			ExchangeID: 0x0eee,
			Initiator:  true,
			Reliable:   true,
		},
	}

	data, err := f.EncodeSecure(key, UnspecifiedNodeID)
	require.NoError(t, err)
	assert.Equal(t, "00b80b0039300000"+"5a989ae42e8d"+"847f535c3007e6150cd65867f2b817db", hex.EncodeToString(data))

	decoded, err := DecodeSecure(data, key, UnspecifiedNodeID)
	require.NoError(t, err)
	assert.Equal(t, f.Protocol, decoded.Protocol)
	assert.Empty(t, decoded.Payload)

	data[len(data)-1] ^= 0xff
	_, err = DecodeSecure(data, key, UnspecifiedNodeID)
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestUnsecuredRoundTripWithAck(t *testing.T) {
	f := &Frame{
		Header: Header{Counter: 42, HasSource: true, SourceNodeID: 0xABCD},
		Protocol: ProtocolHeader{
			ProtocolID:   ProtocolSecureChannel,
			Opcode:       0x20,
			ExchangeID:   5,
			Ack:          true,
			AckedCounter: 41,
			Reliable:     true,
		},
		Payload: []byte{1, 2, 3},
	}
	got, err := DecodeUnsecured(f.EncodeUnsecured())
	require.NoError(t, err)
	assert.Equal(t, f, got)

	h, rest, err := DecodeHeader(f.EncodeUnsecured())
	require.NoError(t, err)
	assert.False(t, h.IsSecure())
	assert.Len(t, rest, f.Protocol.Size()+3)
}

func TestCounter(t *testing.T) {
	c := NewCounter()
	first, err := c.Next()
	require.NoError(t, err)
	assert.True(t, first >= 1 && first <= CounterInitMax)

	c = NewCounterWithValue(0xFFFFFFFF)
	v, err := c.Next()
	require.NoError(t, err)
	assert.Equal(t, uint32(0xFFFFFFFF), v)
	_, err = c.Next()
	assert.ErrorIs(t, err, ErrCounterExhausted)
}

func TestReceptionStateSecure(t *testing.T) {
	var r ReceptionState
	assert.True(t, r.Accept(100, true))
	assert.False(t, r.Accept(100, true), "duplicate of max")
	assert.True(t, r.Accept(102, true))
	assert.True(t, r.Accept(101, true), "inside window, unseen")
	assert.False(t, r.Accept(101, true), "inside window, seen")
	assert.True(t, r.Accept(200, true))
	assert.False(t, r.Accept(150, true), "behind window")
}

func TestReceptionStateUnsecured(t *testing.T) {
	var r ReceptionState
	assert.True(t, r.Accept(0xFFFFFFFE, false))
	assert.True(t, r.Accept(1, false), "rollover is ahead")
	assert.False(t, r.Accept(1, false))
	assert.True(t, r.Accept(0xFFFFFFFF, false), "inside window, unseen")
	assert.True(t, r.Accept(0x1000, false))
	assert.True(t, r.Accept(5, false), "behind window accepted for reboots")
}
