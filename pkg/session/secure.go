package session

import (
	"fmt"
	"sync"

	"github.com/Orzech99/matter.js/pkg/crypto"
	"github.com/Orzech99/matter.js/pkg/fabric"
	"github.com/Orzech99/matter.js/pkg/message"
)

// Key derivation info strings.
var (
	infoSessionKeys           = []byte("SessionKeys")
	infoSessionResumptionKeys = []byte("SessionResumptionKeys")
)

// AttestationChallengeSize is the size of the challenge derived alongside
// the session keys.
const AttestationChallengeSize = crypto.SymmetricKeySize

// SecureSessionParams describes a secure session produced by a handshake.
type SecureSessionParams struct {
	Type Type

	// SessionID is the local ID from GetNextAvailableSessionID.
	SessionID     uint16
	PeerSessionID uint16

	// Fabric and PeerNodeID are set for CASE sessions.
	Fabric     *fabric.Fabric
	PeerNodeID fabric.NodeID

	// SharedSecret and Salt feed the session key derivation.
	SharedSecret []byte
	Salt         []byte

	IsInitiator bool

	// IsResumption selects the resumption key derivation.
	IsResumption bool

	// Resumable marks CASE sessions whose secret may be resumed later.
	Resumable bool

	// PeerParams overrides the retransmission timeouts. Zero fields use defaults.
	PeerParams Params

	// CloseCallback runs exactly once, after the session was closed.
	CloseCallback func()
}

// Validate checks the parameters before any key is derived.
func (p SecureSessionParams) Validate() error {
	switch {
	case p.Type != TypePASE && p.Type != TypeCASE:
		return ErrInvalidSessionType
	case p.SessionID == 0:
		return ErrInvalidSessionID
	case len(p.SharedSecret) == 0:
		return ErrMissingSecret
	case p.Type == TypeCASE && p.Fabric == nil:
		return ErrMissingFabric
	}
	return p.PeerParams.Validate()
}

// SessionKeys are the keys derived for one secure session.
type SessionKeys struct {
	I2R                  []byte
	R2I                  []byte
	AttestationChallenge []byte
}

// DeriveSessionKeys expands sharedSecret into the I2R, R2I and attestation
// challenge keys.
func DeriveSessionKeys(sharedSecret, salt []byte, resumption bool) (SessionKeys, error) {
	info := infoSessionKeys
	if resumption {
		info = infoSessionResumptionKeys
	}
	okm, err := crypto.HKDFSHA256(sharedSecret, salt, info, 3*crypto.SymmetricKeySize)
	if err != nil {
		return SessionKeys{}, err
	}
	return SessionKeys{
		I2R:                  okm[:crypto.SymmetricKeySize],
		R2I:                  okm[crypto.SymmetricKeySize : 2*crypto.SymmetricKeySize],
		AttestationChallenge: okm[2*crypto.SymmetricKeySize:],
	}, nil
}

// SecureSession is an established PASE or CASE session.
//
// Thread Safety: All methods are safe for concurrent use.
type SecureSession struct {
	manager *Manager

	id            uint16
	peerSessionID uint16
	typ           Type
	fabric        *fabric.Fabric
	peerNodeID    fabric.NodeID
	initiator     bool
	resumable     bool
	params        Params

	encryptKey           []byte
	decryptKey           []byte
	attestationChallenge []byte

	counter   *message.Counter
	reception message.ReceptionState
	activity

	closeCallback func()
	closeOnce     sync.Once
	done          chan struct{}
}

func newSecureSession(m *Manager, p SecureSessionParams) (*SecureSession, error) {
	keys, err := DeriveSessionKeys(p.SharedSecret, p.Salt, p.IsResumption)
	if err != nil {
		return nil, err
	}

	s := &SecureSession{
		manager:              m,
		id:                   p.SessionID,
		peerSessionID:        p.PeerSessionID,
		typ:                  p.Type,
		fabric:               p.Fabric,
		peerNodeID:           p.PeerNodeID,
		initiator:            p.IsInitiator,
		resumable:            p.Resumable && p.Type == TypeCASE,
		params:               p.PeerParams.WithDefaults(),
		attestationChallenge: keys.AttestationChallenge,
		counter:              message.NewCounter(),
		activity:             activity{clock: m.clock},
		closeCallback:        p.CloseCallback,
		done:                 make(chan struct{}),
	}
	if p.IsInitiator {
		s.encryptKey, s.decryptKey = keys.I2R, keys.R2I
	} else {
		s.encryptKey, s.decryptKey = keys.R2I, keys.I2R
	}
	return s, nil
}

// ID implements Session.
func (s *SecureSession) ID() uint16 { return s.id }

// PeerSessionID is the ID the peer assigned to this session.
func (s *SecureSession) PeerSessionID() uint16 { return s.peerSessionID }

// Type implements Session.
func (s *SecureSession) Type() Type { return s.typ }

// IsSecure implements Session.
func (s *SecureSession) IsSecure() bool { return true }

// PeerNodeID implements Session.
func (s *SecureSession) PeerNodeID() fabric.NodeID { return s.peerNodeID }

// Fabric implements Session.
func (s *SecureSession) Fabric() *fabric.Fabric { return s.fabric }

// IsInitiator reports whether the local node initiated the handshake.
func (s *SecureSession) IsInitiator() bool { return s.initiator }

// IsResumable reports whether the session may be resumed later.
func (s *SecureSession) IsResumable() bool { return s.resumable }

// Params implements Session.
func (s *SecureSession) Params() Params { return s.params }

// AttestationChallenge returns the challenge derived with the session keys.
func (s *SecureSession) AttestationChallenge() []byte { return s.attestationChallenge }

// IsPeerActive implements Session.
func (s *SecureSession) IsPeerActive() bool {
	return s.activeWithin(s.params.ActiveThreshold)
}

// localNonceNodeID is the sender node ID of outgoing nonces.
func (s *SecureSession) localNonceNodeID() uint64 {
	if s.typ == TypeCASE {
		return uint64(s.fabric.NodeID())
	}
	return message.UnspecifiedNodeID
}

func (s *SecureSession) peerNonceNodeID() uint64 {
	if s.typ == TypeCASE {
		return uint64(s.peerNodeID)
	}
	return message.UnspecifiedNodeID
}

// Encode implements Session.
func (s *SecureSession) Encode(f *message.Frame) ([]byte, error) {
	select {
	case <-s.done:
		return nil, ErrSessionClosed
	default:
	}
	counter, err := s.counter.Next()
	if err != nil {
		return nil, err
	}
	f.Header = message.Header{SessionID: s.peerSessionID, Counter: counter}
	return f.EncodeSecure(s.encryptKey, s.localNonceNodeID())
}

// Decode implements Session.
func (s *SecureSession) Decode(data []byte) (*message.Frame, error) {
	f, err := message.DecodeSecure(data, s.decryptKey, s.peerNonceNodeID())
	if err != nil {
		return nil, err
	}
	if f.Header.SessionID != s.id {
		return nil, ErrUnexpectedSession
	}
	return f, nil
}

// Accept implements Session.
func (s *SecureSession) Accept(counter uint32) bool {
	if !s.reception.Accept(counter, true) {
		return false
	}
	s.touch()
	return true
}

// Close implements Session. The close callback and the manager's
// observers run once, then the session ID returns to the pool.
func (s *SecureSession) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		if s.closeCallback != nil {
			s.closeCallback()
		}
		s.manager.releaseSecure(s)
	})
	return nil
}

// Done implements Session.
func (s *SecureSession) Done() <-chan struct{} { return s.done }

func (s *SecureSession) String() string {
	return fmt.Sprintf("%s session %d with %s", s.typ, s.id, s.peerNodeID)
}
