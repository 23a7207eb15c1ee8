package pase

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Orzech99/matter.js/pkg/codec"
)

func newPair(t *testing.T, passcode uint32) (*Session, *Session) {
	t.Helper()
	v, err := GenerateVerifier(testPasscode, testSalt, testIterations)
	require.NoError(t, err)
	responder, err := NewResponder(v, testSalt, testIterations)
	require.NoError(t, err)
	return NewInitiator(passcode), responder
}

func TestHandshake(t *testing.T) {
	initiator, responder := newPair(t, testPasscode)

	req, err := initiator.Start(10)
	require.NoError(t, err)
	resp, err := responder.HandlePBKDFParamRequest(req, 20)
	require.NoError(t, err)
	pake1, err := initiator.HandlePBKDFParamResponse(resp)
	require.NoError(t, err)
	pake2, err := responder.HandlePake1(pake1)
	require.NoError(t, err)
	pake3, err := initiator.HandlePake2(pake2)
	require.NoError(t, err)
	require.NoError(t, responder.HandlePake3(pake3))
	require.NoError(t, initiator.Complete())

	assert.Equal(t, StateComplete, initiator.State())
	assert.Equal(t, StateComplete, responder.State())
	assert.NotEmpty(t, initiator.SharedSecret())
	assert.Equal(t, initiator.SharedSecret(), responder.SharedSecret())
	assert.Equal(t, uint16(20), initiator.PeerSessionID())
	assert.Equal(t, uint16(10), responder.PeerSessionID())
}

func TestHandshakeWrongPasscode(t *testing.T) {
	initiator, responder := newPair(t, 34567890)

	req, err := initiator.Start(1)
	require.NoError(t, err)
	resp, err := responder.HandlePBKDFParamRequest(req, 2)
	require.NoError(t, err)
	pake1, err := initiator.HandlePBKDFParamResponse(resp)
	require.NoError(t, err)
	pake2, err := responder.HandlePake1(pake1)
	require.NoError(t, err)

	_, err = initiator.HandlePake2(pake2)
	assert.ErrorIs(t, err, ErrConfirmationFailed)
	assert.Equal(t, StateFailed, initiator.State())
	assert.Nil(t, initiator.SharedSecret())
}

func TestResponderRejectsBadConfirmation(t *testing.T) {
	initiator, responder := newPair(t, testPasscode)

	req, _ := initiator.Start(1)
	resp, _ := responder.HandlePBKDFParamRequest(req, 2)
	pake1, _ := initiator.HandlePBKDFParamResponse(resp)
	_, err := responder.HandlePake1(pake1)
	require.NoError(t, err)

	forged := codec.MustMarshal(&Pake3{CA: make([]byte, 32)})
	assert.ErrorIs(t, responder.HandlePake3(forged), ErrConfirmationFailed)
	assert.Nil(t, responder.SharedSecret())
}

func TestInitiatorRejectsRandomMismatch(t *testing.T) {
	initiator, responder := newPair(t, testPasscode)

	req, err := initiator.Start(1)
	require.NoError(t, err)
	data, err := responder.HandlePBKDFParamRequest(req, 2)
	require.NoError(t, err)

	var resp PBKDFParamResponse
	require.NoError(t, codec.Unmarshal(data, &resp))
	resp.InitiatorRandom[0] ^= 0xff

	_, err = initiator.HandlePBKDFParamResponse(codec.MustMarshal(&resp))
	assert.ErrorIs(t, err, ErrRandomMismatch)
}

func TestOutOfOrderMessages(t *testing.T) {
	initiator, responder := newPair(t, testPasscode)

	_, err := initiator.HandlePake2(nil)
	assert.ErrorIs(t, err, ErrInvalidState)
	_, err = responder.HandlePake1(nil)
	assert.ErrorIs(t, err, ErrInvalidState)
	_, err = responder.Start(1)
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.ErrorIs(t, initiator.Complete(), ErrInvalidState)
}

func TestResponderRejectsMalformedRequest(t *testing.T) {
	_, responder := newPair(t, testPasscode)

	short := codec.MustMarshal(&PBKDFParamRequest{InitiatorRandom: []byte{1}, InitiatorSessionID: 1})
	_, err := responder.HandlePBKDFParamRequest(short, 2)
	assert.ErrorIs(t, err, ErrInvalidMessage)

	_, responder = newPair(t, testPasscode)
	wrongID := codec.MustMarshal(&PBKDFParamRequest{
		InitiatorRandom: make([]byte, RandomSize), InitiatorSessionID: 1, PasscodeID: 7,
	})
	_, err = responder.HandlePBKDFParamRequest(wrongID, 2)
	assert.ErrorIs(t, err, ErrInvalidPasscodeID)
}
