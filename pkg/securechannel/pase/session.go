package pase

import (
	"crypto/rand"
	"crypto/subtle"
	"io"

	"github.com/Orzech99/matter.js/pkg/codec"
	"github.com/Orzech99/matter.js/pkg/crypto"
	"github.com/Orzech99/matter.js/pkg/crypto/spake2p"
	"github.com/Orzech99/matter.js/pkg/securechannel"
	"github.com/Orzech99/matter.js/pkg/session"
)

// Role is the side of the handshake.
type Role int

const (
	RoleInitiator Role = iota
	RoleResponder
)

func (r Role) String() string {
	if r == RoleInitiator {
		return "initiator"
	}
	return "responder"
}

// State is the handshake progress.
type State int

const (
	StateInit State = iota
	StateWaitingPBKDFResponse
	StateWaitingPake1
	StateWaitingPake2
	StateWaitingPake3
	StateWaitingStatusReport
	StateComplete
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "Init"
	case StateWaitingPBKDFResponse:
		return "WaitingPBKDFResponse"
	case StateWaitingPake1:
		return "WaitingPake1"
	case StateWaitingPake2:
		return "WaitingPake2"
	case StateWaitingPake3:
		return "WaitingPake3"
	case StateWaitingStatusReport:
		return "WaitingStatusReport"
	case StateComplete:
		return "Complete"
	case StateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Session is the PASE state machine. It does no I/O: each Handle method
// consumes the peer's message and returns the next message to send.
//
// Not safe for concurrent use; one goroutine drives a handshake.
type Session struct {
	role  Role
	state State

	passcode   uint32    // initiator
	verifier   *Verifier // responder
	salt       []byte
	iterations uint32

	localSessionID uint16
	peerSessionID  uint16
	localRandom    []byte
	localParams    *securechannel.SessionParameters
	peerParams     *securechannel.SessionParameters

	request []byte
	spake   *spake2p.SPAKE2P
	secret  []byte

	rand io.Reader
}

// NewInitiator creates the commissioner side for passcode.
func NewInitiator(passcode uint32) *Session {
	return &Session{role: RoleInitiator, passcode: passcode, rand: rand.Reader}
}

// NewResponder creates the commissionee side.
func NewResponder(verifier *Verifier, salt []byte, iterations uint32) (*Session, error) {
	if verifier == nil {
		return nil, ErrNoVerifier
	}
	if err := ValidatePBKDFParams(salt, iterations); err != nil {
		return nil, err
	}
	return &Session{
		role:       RoleResponder,
		verifier:   verifier,
		salt:       append([]byte(nil), salt...),
		iterations: iterations,
		rand:       rand.Reader,
	}, nil
}

// SetRandom replaces the random source. Tests only.
func (s *Session) SetRandom(r io.Reader) { s.rand = r }

// SetLocalParams sets the MRP parameters announced to the peer.
func (s *Session) SetLocalParams(p session.Params) {
	s.localParams = securechannel.NewSessionParameters(p)
}

func (s *Session) expect(role Role, state State) error {
	if s.role != role || s.state != state {
		return ErrInvalidState
	}
	return nil
}

func (s *Session) fail(err error) error {
	s.state = StateFailed
	return err
}

func (s *Session) newRandom() error {
	s.localRandom = make([]byte, RandomSize)
	_, err := io.ReadFull(s.rand, s.localRandom)
	return err
}

// Start returns the PBKDFParamRequest.
func (s *Session) Start(localSessionID uint16) ([]byte, error) {
	if err := s.expect(RoleInitiator, StateInit); err != nil {
		return nil, err
	}
	if err := s.newRandom(); err != nil {
		return nil, s.fail(err)
	}
	s.localSessionID = localSessionID

	req, err := codec.Marshal(&PBKDFParamRequest{
		InitiatorRandom:    s.localRandom,
		InitiatorSessionID: localSessionID,
		PasscodeID:         DefaultPasscodeID,
		SessionParams:      s.localParams,
	})
	if err != nil {
		return nil, s.fail(err)
	}
	s.request = req
	s.state = StateWaitingPBKDFResponse
	return req, nil
}

// HandlePBKDFParamRequest returns the PBKDFParamResponse.
func (s *Session) HandlePBKDFParamRequest(data []byte, localSessionID uint16) ([]byte, error) {
	if err := s.expect(RoleResponder, StateInit); err != nil {
		return nil, err
	}
	req, err := decode[PBKDFParamRequest](data)
	if err != nil {
		return nil, s.fail(err)
	}
	if err := s.newRandom(); err != nil {
		return nil, s.fail(err)
	}
	s.localSessionID = localSessionID
	s.peerSessionID = req.InitiatorSessionID
	s.peerParams = req.SessionParams

	resp := &PBKDFParamResponse{
		InitiatorRandom:    req.InitiatorRandom,
		ResponderRandom:    s.localRandom,
		ResponderSessionID: localSessionID,
		SessionParams:      s.localParams,
	}
	if !req.HasPBKDFParameters {
		resp.PBKDFParams = &PBKDFParameters{Iterations: s.iterations, Salt: s.salt}
	}
	out, err := codec.Marshal(resp)
	if err != nil {
		return nil, s.fail(err)
	}

	s.spake, err = spake2p.NewVerifier(contextHash(data, out), nil, nil, s.verifier.W0, s.verifier.L)
	if err != nil {
		return nil, s.fail(err)
	}
	s.state = StateWaitingPake1
	return out, nil
}

// HandlePBKDFParamResponse returns Pake1.
func (s *Session) HandlePBKDFParamResponse(data []byte) ([]byte, error) {
	if err := s.expect(RoleInitiator, StateWaitingPBKDFResponse); err != nil {
		return nil, err
	}
	resp, err := decode[PBKDFParamResponse](data)
	if err != nil {
		return nil, s.fail(err)
	}
	if subtle.ConstantTimeCompare(resp.InitiatorRandom, s.localRandom) != 1 {
		return nil, s.fail(ErrRandomMismatch)
	}
	if resp.PBKDFParams == nil {
		return nil, s.fail(ErrMissingPBKDFParams)
	}
	s.peerSessionID = resp.ResponderSessionID
	s.peerParams = resp.SessionParams
	s.salt, s.iterations = resp.PBKDFParams.Salt, resp.PBKDFParams.Iterations

	w0, w1 := ComputeW0W1(s.passcode, s.salt, s.iterations)
	s.spake, err = spake2p.NewProver(contextHash(s.request, data), nil, nil, w0, w1)
	if err != nil {
		return nil, s.fail(err)
	}
	pA, err := s.spake.GenerateShare()
	if err != nil {
		return nil, s.fail(err)
	}
	out, err := codec.Marshal(&Pake1{PA: pA})
	if err != nil {
		return nil, s.fail(err)
	}
	s.state = StateWaitingPake2
	return out, nil
}

// HandlePake1 returns Pake2.
func (s *Session) HandlePake1(data []byte) ([]byte, error) {
	if err := s.expect(RoleResponder, StateWaitingPake1); err != nil {
		return nil, err
	}
	pake1, err := decode[Pake1](data)
	if err != nil {
		return nil, s.fail(err)
	}
	pB, err := s.spake.GenerateShare()
	if err != nil {
		return nil, s.fail(err)
	}
	if err := s.spake.ProcessPeerShare(pake1.PA); err != nil {
		return nil, s.fail(err)
	}
	cB, err := s.spake.Confirmation()
	if err != nil {
		return nil, s.fail(err)
	}
	out, err := codec.Marshal(&Pake2{PB: pB, CB: cB})
	if err != nil {
		return nil, s.fail(err)
	}
	s.state = StateWaitingPake3
	return out, nil
}

// HandlePake2 verifies the responder's confirmation and returns Pake3.
func (s *Session) HandlePake2(data []byte) ([]byte, error) {
	if err := s.expect(RoleInitiator, StateWaitingPake2); err != nil {
		return nil, err
	}
	pake2, err := decode[Pake2](data)
	if err != nil {
		return nil, s.fail(err)
	}
	if err := s.spake.ProcessPeerShare(pake2.PB); err != nil {
		return nil, s.fail(err)
	}
	if err := s.spake.VerifyPeerConfirmation(pake2.CB); err != nil {
		return nil, s.fail(ErrConfirmationFailed)
	}
	cA, err := s.spake.Confirmation()
	if err != nil {
		return nil, s.fail(err)
	}
	out, err := codec.Marshal(&Pake3{CA: cA})
	if err != nil {
		return nil, s.fail(err)
	}
	s.state = StateWaitingStatusReport
	return out, nil
}

// HandlePake3 verifies the initiator's confirmation. On success the
// responder is complete and sends a success status report.
func (s *Session) HandlePake3(data []byte) error {
	if err := s.expect(RoleResponder, StateWaitingPake3); err != nil {
		return err
	}
	pake3, err := decode[Pake3](data)
	if err != nil {
		return s.fail(err)
	}
	if err := s.spake.VerifyPeerConfirmation(pake3.CA); err != nil {
		return s.fail(ErrConfirmationFailed)
	}
	s.secret = s.spake.SharedSecret()
	s.state = StateComplete
	return nil
}

// Complete finishes the initiator after the success status report.
func (s *Session) Complete() error {
	if err := s.expect(RoleInitiator, StateWaitingStatusReport); err != nil {
		return err
	}
	s.secret = s.spake.SharedSecret()
	s.state = StateComplete
	return nil
}

// contextHash binds SPAKE2+ to the exact PBKDF messages exchanged.
func contextHash(request, response []byte) []byte {
	return crypto.SHA256([]byte(ContextPrefix), request, response)
}

// State returns the handshake progress.
func (s *Session) State() State { return s.state }

// Role returns the side of the handshake.
func (s *Session) Role() Role { return s.role }

// SharedSecret returns Ke once the handshake is complete, else nil.
func (s *Session) SharedSecret() []byte {
	if s.state != StateComplete {
		return nil
	}
	return s.secret
}

// LocalSessionID returns the local session ID.
func (s *Session) LocalSessionID() uint16 { return s.localSessionID }

// PeerSessionID returns the peer's session ID.
func (s *Session) PeerSessionID() uint16 { return s.peerSessionID }

// PeerParams returns the peer's MRP parameters, defaults when absent.
func (s *Session) PeerParams() session.Params { return s.peerParams.Params() }
