package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	B []byte `cbor:"2,keyasint,omitempty"`
	A uint16 `cbor:"1,keyasint"`
}

func TestMarshalDeterministic(t *testing.T) {
	v := sample{A: 7, B: []byte{1, 2, 3}}

	first, err := Marshal(v)
	require.NoError(t, err)
	second, err := Marshal(&v)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	// Canonical ordering puts key 1 before key 2 regardless of field order.
	assert.Equal(t, []byte{0xa2, 0x01, 0x07, 0x02, 0x43, 0x01, 0x02, 0x03}, first)
}

func TestUnmarshalErrors(t *testing.T) {
	var v sample
	assert.ErrorIs(t, Unmarshal(nil, &v), ErrEmptyPayload)
	assert.Error(t, Unmarshal([]byte{0xff}, &v))

	// Duplicate map keys are rejected.
	assert.Error(t, Unmarshal([]byte{0xa2, 0x01, 0x01, 0x01, 0x02}, &v))
}

func TestRawMessageDeferredDecode(t *testing.T) {
	type envelope struct {
		Kind uint8      `cbor:"1,keyasint"`
		Body RawMessage `cbor:"2,keyasint"`
	}

	data := MustMarshal(envelope{Kind: 3, Body: MustMarshal(sample{A: 9})})

	var env envelope
	require.NoError(t, Unmarshal(data, &env))
	assert.Equal(t, uint8(3), env.Kind)

	var body sample
	require.NoError(t, Unmarshal(env.Body, &body))
	assert.Equal(t, uint16(9), body.A)
}
