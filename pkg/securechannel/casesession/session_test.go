package casesession

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Orzech99/matter.js/pkg/codec"
	"github.com/Orzech99/matter.js/pkg/credentials"
	"github.com/Orzech99/matter.js/pkg/fabric"
	"github.com/Orzech99/matter.js/pkg/securechannel"
	"github.com/Orzech99/matter.js/pkg/session"
)

const (
	controllerNode = fabric.NodeID(0x0000_0000_0001_B669)
	deviceNode     = fabric.NodeID(0x0000_0000_0000_1234)
)

type records map[string]*session.ResumptionRecord

func (r records) FindResumptionRecordByID(id []byte) (*session.ResumptionRecord, bool) {
	rec, ok := r[string(id)]
	return rec, ok
}

// newFabrics creates the controller's and the device's view of one fabric.
func newFabrics(t *testing.T) (controller, device *fabric.Fabric, table *fabric.Table) {
	t.Helper()
	ca, err := credentials.NewCertificateAuthority(credentials.CertificateAuthorityConfig{})
	require.NoError(t, err)

	epoch := []byte("0123456789abcdef")
	controller, err = fabric.NewTestFabric(ca, fabric.TestFabricConfig{FabricID: 1, NodeID: controllerNode, EpochKey: epoch})
	require.NoError(t, err)
	device, err = fabric.NewTestFabric(ca, fabric.TestFabricConfig{FabricID: 1, NodeID: deviceNode, EpochKey: epoch})
	require.NoError(t, err)

	table, err = fabric.NewTable(fabric.TableConfig{})
	require.NoError(t, err)
	require.NoError(t, table.Add(device))
	return controller, device, table
}

// fullHandshake runs Sigma1..Sigma3 between fresh state machines.
func fullHandshake(t *testing.T, initiator, responder *Session) {
	t.Helper()
	sigma1, err := initiator.Start(1)
	require.NoError(t, err)
	op, sigma2, err := responder.HandleSigma1(sigma1, 2)
	require.NoError(t, err)
	require.Equal(t, securechannel.OpcodeCASESigma2, op)
	sigma3, err := initiator.HandleSigma2(sigma2)
	require.NoError(t, err)
	require.NoError(t, responder.HandleSigma3(sigma3))
	require.NoError(t, initiator.Complete())
}

func TestFullHandshake(t *testing.T) {
	controller, _, table := newFabrics(t)

	initiator, err := NewInitiator(controller, deviceNode, nil)
	require.NoError(t, err)
	responder := NewResponder(table, nil)
	fullHandshake(t, initiator, responder)

	assert.Equal(t, StateComplete, initiator.State())
	assert.Equal(t, StateComplete, responder.State())
	assert.Equal(t, controllerNode, responder.PeerNodeID())
	assert.Equal(t, deviceNode, initiator.PeerNodeID())
	assert.False(t, initiator.IsResumption())

	ip, err := initiator.SecureSessionParams()
	require.NoError(t, err)
	rp, err := responder.SecureSessionParams()
	require.NoError(t, err)
	assert.Equal(t, ip.SharedSecret, rp.SharedSecret)
	assert.Equal(t, ip.Salt, rp.Salt)
	assert.Equal(t, uint16(2), ip.PeerSessionID)
	assert.True(t, ip.IsInitiator)
	assert.False(t, rp.IsInitiator)

	ir, err := initiator.ResumptionRecord()
	require.NoError(t, err)
	rr, err := responder.ResumptionRecord()
	require.NoError(t, err)
	assert.Equal(t, ir.ResumptionID, rr.ResumptionID)
	assert.Len(t, ir.ResumptionID, ResumptionIDSize)
}

func TestResumption(t *testing.T) {
	controller, _, table := newFabrics(t)

	initiator, _ := NewInitiator(controller, deviceNode, nil)
	responder := NewResponder(table, nil)
	fullHandshake(t, initiator, responder)
	controllerRecord, _ := initiator.ResumptionRecord()
	deviceRecord, _ := responder.ResumptionRecord()

	initiator, err := NewInitiator(controller, deviceNode, controllerRecord)
	require.NoError(t, err)
	responder = NewResponder(table, records{string(deviceRecord.ResumptionID): deviceRecord})

	sigma1, err := initiator.Start(3)
	require.NoError(t, err)
	op, resume, err := responder.HandleSigma1(sigma1, 4)
	require.NoError(t, err)
	require.Equal(t, securechannel.OpcodeCASESigma2Resume, op)
	require.NoError(t, initiator.HandleSigma2Resume(resume))
	require.NoError(t, responder.Complete())

	assert.True(t, initiator.IsResumption())
	assert.True(t, responder.IsResumption())
	assert.Equal(t, controllerNode, responder.PeerNodeID())

	ip, _ := initiator.SecureSessionParams()
	rp, _ := responder.SecureSessionParams()
	assert.True(t, ip.IsResumption)
	assert.Equal(t, ip.Salt, rp.Salt)

	// A new resumption ID is issued each time.
	ir, _ := initiator.ResumptionRecord()
	assert.NotEqual(t, controllerRecord.ResumptionID, ir.ResumptionID)
}

func TestUnknownResumptionFallsBack(t *testing.T) {
	controller, _, table := newFabrics(t)

	stale := &session.ResumptionRecord{
		ResumptionID: make([]byte, ResumptionIDSize),
		SharedSecret: []byte("stale secret"),
		PeerNodeID:   deviceNode,
		Fabric:       controller,
	}
	initiator, err := NewInitiator(controller, deviceNode, stale)
	require.NoError(t, err)
	responder := NewResponder(table, records{})

	fullHandshake(t, initiator, responder)
	assert.False(t, initiator.IsResumption())
}

func TestNoSharedRoot(t *testing.T) {
	controller, _, _ := newFabrics(t)
	_, _, otherTable := newFabrics(t)

	initiator, _ := NewInitiator(controller, deviceNode, nil)
	responder := NewResponder(otherTable, nil)

	sigma1, err := initiator.Start(1)
	require.NoError(t, err)
	_, _, err = responder.HandleSigma1(sigma1, 2)
	assert.ErrorIs(t, err, ErrNoSharedRoot)
	assert.Equal(t, StateFailed, responder.State())
}

func TestWrongPeerNodeID(t *testing.T) {
	controller, _, table := newFabrics(t)

	// The responder matches on its own node ID only.
	initiator, _ := NewInitiator(controller, deviceNode+1, nil)
	sigma1, err := initiator.Start(1)
	require.NoError(t, err)
	_, _, err = NewResponder(table, nil).HandleSigma1(sigma1, 2)
	assert.ErrorIs(t, err, ErrNoSharedRoot)
}

func TestTamperedSigma2(t *testing.T) {
	controller, _, table := newFabrics(t)

	initiator, _ := NewInitiator(controller, deviceNode, nil)
	responder := NewResponder(table, nil)

	sigma1, _ := initiator.Start(1)
	_, sigma2, err := responder.HandleSigma1(sigma1, 2)
	require.NoError(t, err)

	msg, err := decode[Sigma2](sigma2)
	require.NoError(t, err)
	msg.Encrypted2[0] ^= 0x01
	tampered := codec.MustMarshal(msg)

	_, err = initiator.HandleSigma2(tampered)
	assert.ErrorIs(t, err, ErrDecryptionFailed)
	assert.Equal(t, StateFailed, initiator.State())
}

func TestStateChecks(t *testing.T) {
	controller, _, table := newFabrics(t)
	initiator, _ := NewInitiator(controller, deviceNode, nil)
	responder := NewResponder(table, nil)

	_, err := initiator.HandleSigma2(nil)
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.ErrorIs(t, responder.HandleSigma3(nil), ErrInvalidState)
	_, err = initiator.SecureSessionParams()
	assert.ErrorIs(t, err, ErrInvalidState)

	_, err = NewInitiator(nil, deviceNode, nil)
	assert.ErrorIs(t, err, ErrNoFabric)
}
