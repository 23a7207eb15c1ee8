package session

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Orzech99/matter.js/pkg/credentials"
	"github.com/Orzech99/matter.js/pkg/crypto"
	"github.com/Orzech99/matter.js/pkg/fabric"
	"github.com/Orzech99/matter.js/pkg/message"
	"github.com/Orzech99/matter.js/pkg/storage"
)

func newManager(t *testing.T, cfg ManagerConfig) *Manager {
	t.Helper()
	m, err := NewManager(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	return m
}

func mustCA(t *testing.T) *credentials.CertificateAuthority {
	t.Helper()
	ca, err := credentials.NewCertificateAuthority(credentials.CertificateAuthorityConfig{})
	require.NoError(t, err)
	return ca
}

func newFabricPair(t *testing.T) (controller, device *fabric.Fabric) {
	t.Helper()
	ca := mustCA(t)
	controller, err := fabric.NewTestFabric(ca, fabric.TestFabricConfig{FabricID: 1, NodeID: 0x1111})
	require.NoError(t, err)
	device, err = fabric.NewTestFabric(ca, fabric.TestFabricConfig{FabricID: 1, NodeID: 0x2222})
	require.NoError(t, err)
	return controller, device
}

func createSecure(t *testing.T, m *Manager, p SecureSessionParams) *SecureSession {
	t.Helper()
	id, err := m.GetNextAvailableSessionID()
	require.NoError(t, err)
	p.SessionID = id
	s, err := m.CreateSecureSession(p)
	require.NoError(t, err)
	return s
}

func paseParams() SecureSessionParams {
	return SecureSessionParams{
		Type:          TypePASE,
		PeerSessionID: 0x42,
		SharedSecret:  []byte("0123456789abcdef"),
		IsInitiator:   true,
	}
}

func TestSessionIDAllocationSkipsOpenSessions(t *testing.T) {
	m := newManager(t, ManagerConfig{})

	first := createSecure(t, m, paseParams())
	second := createSecure(t, m, paseParams())
	assert.Equal(t, MinSessionID, first.ID())
	assert.Equal(t, MinSessionID+1, second.ID())

	// Force a wrap: the next candidates are 0xFFFF, then 1 and 2 which are open.
	m.mu.Lock()
	m.lastSessionID = MaxSessionID - 1
	m.mu.Unlock()

	id, err := m.GetNextAvailableSessionID()
	require.NoError(t, err)
	assert.Equal(t, MaxSessionID, id)

	id, err = m.GetNextAvailableSessionID()
	require.NoError(t, err)
	assert.Equal(t, uint16(3), id)
}

func TestSessionIDRecycledOnlyAfterClose(t *testing.T) {
	m := newManager(t, ManagerConfig{})
	s := createSecure(t, m, paseParams())

	m.mu.Lock()
	m.lastSessionID = 0
	m.mu.Unlock()
	id, err := m.GetNextAvailableSessionID()
	require.NoError(t, err)
	assert.NotEqual(t, s.ID(), id)
	m.ReleaseSessionID(id)

	require.NoError(t, s.Close())
	m.mu.Lock()
	m.lastSessionID = 0
	m.mu.Unlock()
	id, err = m.GetNextAvailableSessionID()
	require.NoError(t, err)
	assert.Equal(t, s.ID(), id)
}

func TestSessionIDExhausted(t *testing.T) {
	m := newManager(t, ManagerConfig{})
	m.mu.Lock()
	for id := int(MinSessionID); id <= int(MaxSessionID); id++ {
		m.reserved[uint16(id)] = struct{}{}
	}
	m.mu.Unlock()

	_, err := m.GetNextAvailableSessionID()
	assert.ErrorIs(t, err, ErrSessionIDExhausted)
}

func TestCreateSecureSessionValidation(t *testing.T) {
	m := newManager(t, ManagerConfig{})

	p := paseParams()
	_, err := m.CreateSecureSession(p)
	assert.ErrorIs(t, err, ErrInvalidSessionID)

	p.SessionID = 7
	_, err = m.CreateSecureSession(p)
	assert.ErrorIs(t, err, ErrInvalidSessionID, "ID was never reserved")

	p.Type = TypeCASE
	_, err = m.CreateSecureSession(p)
	assert.ErrorIs(t, err, ErrMissingFabric)

	p = paseParams()
	p.SessionID = 7
	p.SharedSecret = nil
	_, err = m.CreateSecureSession(p)
	assert.ErrorIs(t, err, ErrMissingSecret)

	p = paseParams()
	p.SessionID = 7
	p.PeerParams.IdleInterval = 2 * time.Hour
	_, err = m.CreateSecureSession(p)
	assert.ErrorIs(t, err, ErrInvalidParams)
}

func TestCloseCallbackRunsOnce(t *testing.T) {
	m := newManager(t, ManagerConfig{})

	calls := 0
	p := paseParams()
	p.CloseCallback = func() { calls++ }
	s := createSecure(t, m, p)

	var observed []Session
	cancel := m.OnSessionClosed(func(s Session) { observed = append(observed, s) })
	defer cancel()

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.Equal(t, 1, calls)
	assert.Len(t, observed, 1)
	assert.Equal(t, 0, m.SecureSessionCount())

	select {
	case <-s.Done():
	default:
		t.Fatal("Done not closed")
	}
	_, err := s.Encode(&message.Frame{})
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestOnSessionClosedCancel(t *testing.T) {
	m := newManager(t, ManagerConfig{})

	calls := 0
	cancel := m.OnSessionClosed(func(Session) { calls++ })
	cancel()
	cancel()

	u, err := m.CreateUnsecureSession()
	require.NoError(t, err)
	require.NoError(t, u.Close())
	assert.Zero(t, calls)
}

func TestSecureSessionRoundTrip(t *testing.T) {
	controllerFabric, deviceFabric := newFabricPair(t)
	controller := newManager(t, ManagerConfig{})
	device := newManager(t, ManagerConfig{})

	secret := []byte("shared secret from sigma exchange")
	salt := []byte("salt")

	deviceID, err := device.GetNextAvailableSessionID()
	require.NoError(t, err)
	controllerID, err := controller.GetNextAvailableSessionID()
	require.NoError(t, err)

	initiator, err := controller.CreateSecureSession(SecureSessionParams{
		Type: TypeCASE, SessionID: controllerID, PeerSessionID: deviceID,
		Fabric: controllerFabric, PeerNodeID: deviceFabric.NodeID(),
		SharedSecret: secret, Salt: salt, IsInitiator: true, Resumable: true,
	})
	require.NoError(t, err)
	responder, err := device.CreateSecureSession(SecureSessionParams{
		Type: TypeCASE, SessionID: deviceID, PeerSessionID: controllerID,
		Fabric: deviceFabric, PeerNodeID: controllerFabric.NodeID(),
		SharedSecret: secret, Salt: salt, Resumable: true,
	})
	require.NoError(t, err)
	assert.True(t, initiator.IsResumable())
	assert.Equal(t, initiator.AttestationChallenge(), responder.AttestationChallenge())

	out := &message.Frame{
		Protocol: message.ProtocolHeader{ProtocolID: message.ProtocolInteractionModel, Opcode: 8, ExchangeID: 9, Initiator: true, Reliable: true},
		Payload:  []byte("arm fail-safe"),
	}
	data, err := initiator.Encode(out)
	require.NoError(t, err)

	hdr, _, err := message.DecodeHeader(data)
	require.NoError(t, err)
	got, ok := device.GetSecureSession(hdr.SessionID)
	require.True(t, ok)

	in, err := got.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, out.Payload, in.Payload)
	assert.Equal(t, out.Protocol, in.Protocol)
	assert.True(t, got.Accept(in.Header.Counter))
	assert.False(t, got.Accept(in.Header.Counter), "replay")

	// The initiator cannot decrypt its own direction.
	_, err = initiator.Decode(data)
	assert.Error(t, err)
}

func TestResumptionKeysDiffer(t *testing.T) {
	full, err := DeriveSessionKeys([]byte("secret"), []byte("salt"), false)
	require.NoError(t, err)
	resumed, err := DeriveSessionKeys([]byte("secret"), []byte("salt"), true)
	require.NoError(t, err)

	assert.Len(t, full.I2R, crypto.SymmetricKeySize)
	assert.Len(t, full.AttestationChallenge, AttestationChallengeSize)
	assert.NotEqual(t, full.I2R, full.R2I)
	assert.NotEqual(t, full.I2R, resumed.I2R)
}

func TestUnsecureSessionRoundTrip(t *testing.T) {
	controller := newManager(t, ManagerConfig{})
	device := newManager(t, ManagerConfig{})

	initiator, err := controller.CreateUnsecureSession()
	require.NoError(t, err)
	assert.True(t, initiator.EphemeralNodeID().IsOperational())
	assert.Equal(t, 1, controller.UnsecureSessionCount())

	data, err := initiator.Encode(&message.Frame{
		Protocol: message.ProtocolHeader{ProtocolID: message.ProtocolSecureChannel, Opcode: 0x20, Initiator: true},
		Payload:  []byte("pbkdf param request"),
	})
	require.NoError(t, err)

	hdr, _, err := message.DecodeHeader(data)
	require.NoError(t, err)
	require.True(t, hdr.HasSource)

	responder := device.UnsecureSessionForPeer(fabric.NodeID(hdr.SourceNodeID))
	assert.Same(t, responder, device.UnsecureSessionForPeer(fabric.NodeID(hdr.SourceNodeID)))
	in, err := responder.Decode(data)
	require.NoError(t, err)
	assert.True(t, responder.Accept(in.Header.Counter))

	reply, err := responder.Encode(&message.Frame{
		Protocol: message.ProtocolHeader{ProtocolID: message.ProtocolSecureChannel, Opcode: 0x21},
	})
	require.NoError(t, err)
	hdr, _, err = message.DecodeHeader(reply)
	require.NoError(t, err)
	require.True(t, hdr.HasDestination)
	found, ok := controller.FindUnsecureSession(fabric.NodeID(hdr.DestinationNodeID))
	require.True(t, ok)
	assert.Same(t, initiator, found)

	require.NoError(t, initiator.Close())
	assert.Equal(t, 0, controller.UnsecureSessionCount())
}

func TestPeerActivity(t *testing.T) {
	mock := clock.NewMock()
	m := newManager(t, ManagerConfig{Clock: mock})
	s := createSecure(t, m, paseParams())

	assert.False(t, s.IsPeerActive())
	assert.True(t, s.Accept(10))
	assert.True(t, s.IsPeerActive())

	mock.Add(DefaultActiveThreshold + time.Millisecond)
	assert.False(t, s.IsPeerActive())
}

func TestRemoveAllSessionsForNode(t *testing.T) {
	controllerFabric, deviceFabric := newFabricPair(t)
	m := newManager(t, ManagerConfig{})
	peer := deviceFabric.NodeID()

	caseParams := SecureSessionParams{
		Type: TypeCASE, PeerSessionID: 1, Fabric: controllerFabric, PeerNodeID: peer,
		SharedSecret: []byte("secret"), IsInitiator: true, Resumable: true,
	}
	createSecure(t, m, caseParams)
	createSecure(t, m, caseParams)
	other := createSecure(t, m, paseParams())

	record := &ResumptionRecord{
		ResumptionID: make([]byte, ResumptionIDSize),
		SharedSecret: []byte("secret"),
		PeerNodeID:   peer,
		Fabric:       controllerFabric,
	}
	require.NoError(t, m.SaveResumptionRecord(record))

	require.NoError(t, m.RemoveAllSessionsForNode(peer, true))
	assert.Equal(t, 1, m.SecureSessionCount())
	_, ok := m.FindResumptionRecordByNodeID(peer)
	assert.True(t, ok, "record kept")

	createSecure(t, m, caseParams)
	require.NoError(t, m.RemoveAllSessionsForNode(peer, false))
	_, ok = m.FindResumptionRecordByNodeID(peer)
	assert.False(t, ok)
	_, ok = m.GetSecureSession(other.ID())
	assert.True(t, ok, "sessions of other peers survive")
}

func TestCloseClosesEverything(t *testing.T) {
	m, err := NewManager(ManagerConfig{})
	require.NoError(t, err)
	createSecure(t, m, paseParams())
	_, err = m.CreateUnsecureSession()
	require.NoError(t, err)

	closed := 0
	m.OnSessionClosed(func(Session) { closed++ })
	require.NoError(t, m.Close())
	assert.Equal(t, 2, closed)
	assert.Zero(t, m.SecureSessionCount())
	assert.Zero(t, m.UnsecureSessionCount())
}

func TestParams(t *testing.T) {
	p := Params{IdleInterval: time.Second}.WithDefaults()
	assert.Equal(t, time.Second, p.IdleInterval)
	assert.Equal(t, DefaultActiveInterval, p.ActiveInterval)
	assert.Equal(t, DefaultActiveThreshold, p.ActiveThreshold)

	assert.NoError(t, Params{}.Validate())
	assert.ErrorIs(t, Params{ActiveThreshold: time.Minute * 2}.Validate(), ErrInvalidParams)
	assert.ErrorIs(t, Params{ActiveInterval: -1}.Validate(), ErrInvalidParams)
}

func TestResumptionRecordRejectsIncomplete(t *testing.T) {
	m := newManager(t, ManagerConfig{})
	err := m.SaveResumptionRecord(&ResumptionRecord{ResumptionID: []byte{1}, SharedSecret: []byte("s")})
	assert.ErrorIs(t, err, ErrInvalidResumptionRecord)
}

func TestResumptionRecordStringOmitsSecret(t *testing.T) {
	r := &ResumptionRecord{ResumptionID: make([]byte, ResumptionIDSize), SharedSecret: []byte("top-secret"), PeerNodeID: 5}
	assert.NotContains(t, r.String(), "top-secret")
}

func newStorage() *storage.Context {
	return storage.MustContext(storage.NewMemoryBackend(), storage.ContextSessionManager)
}
