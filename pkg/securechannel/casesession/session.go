package casesession

import (
	"crypto/ecdsa"
	"crypto/rand"
	"io"

	"github.com/Orzech99/matter.js/pkg/codec"
	"github.com/Orzech99/matter.js/pkg/crypto"
	"github.com/Orzech99/matter.js/pkg/fabric"
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
	StateWaitingSigma2
	StateWaitingSigma3
	StateWaitingStatusReport
	StateComplete
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "Init"
	case StateWaitingSigma2:
		return "WaitingSigma2"
	case StateWaitingSigma3:
		return "WaitingSigma3"
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

// FabricFinder resolves the fabric a Sigma1 is addressed to.
type FabricFinder interface {
	FindByDestinationID(destinationID, random []byte) (*fabric.Fabric, error)
}

// ResumptionFinder resolves a resumption ID offered in Sigma1.
type ResumptionFinder interface {
	FindResumptionRecordByID(resumptionID []byte) (*session.ResumptionRecord, bool)
}

// Session is the CASE state machine. It does no I/O.
//
// Not safe for concurrent use; one goroutine drives a handshake.
type Session struct {
	role  Role
	state State

	fabric     *fabric.Fabric
	peerNodeID fabric.NodeID

	// responder lookups
	fabrics FabricFinder
	records ResumptionFinder

	localSessionID uint16
	peerSessionID  uint16
	localParams    *securechannel.SessionParameters
	peerParams     *securechannel.SessionParameters

	ephemeral       *crypto.KeyPair
	peerEphKey      []byte
	initiatorRandom []byte
	secret          []byte
	msg1, msg2      []byte
	salt            []byte

	// offered is the record the initiator tries to resume.
	offered *session.ResumptionRecord
	// resumptionID is the ID issued for the session being established.
	resumptionID []byte
	resumed      bool

	rand io.Reader
}

// NewInitiator creates the initiator side towards peerNodeID on f. A
// non-nil record for the same peer is offered for resumption.
func NewInitiator(f *fabric.Fabric, peerNodeID fabric.NodeID, record *session.ResumptionRecord) (*Session, error) {
	if f == nil {
		return nil, ErrNoFabric
	}
	if record != nil && (record.PeerNodeID != peerNodeID || record.Fabric == nil || record.Fabric.Index() != f.Index()) {
		record = nil
	}
	return &Session{
		role:       RoleInitiator,
		fabric:     f,
		peerNodeID: peerNodeID,
		offered:    record,
		rand:       rand.Reader,
	}, nil
}

// NewResponder creates the responder side. records may be nil, which
// disables resumption.
func NewResponder(fabrics FabricFinder, records ResumptionFinder) *Session {
	return &Session{role: RoleResponder, fabrics: fabrics, records: records, rand: rand.Reader}
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

func (s *Session) random(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := io.ReadFull(s.rand, b)
	return b, err
}

// Start returns Sigma1.
func (s *Session) Start(localSessionID uint16) ([]byte, error) {
	if err := s.expect(RoleInitiator, StateInit); err != nil {
		return nil, err
	}
	var err error
	if s.initiatorRandom, err = s.random(RandomSize); err != nil {
		return nil, s.fail(err)
	}
	if s.ephemeral, err = crypto.GenerateKeyPair(); err != nil {
		return nil, s.fail(err)
	}
	s.localSessionID = localSessionID

	msg := &Sigma1{
		InitiatorRandom:    s.initiatorRandom,
		InitiatorSessionID: localSessionID,
		DestinationID:      s.fabric.DestinationID(s.initiatorRandom, s.peerNodeID),
		InitiatorEphPubKey: s.ephemeral.PublicKeyBytes(),
		SessionParams:      s.localParams,
	}
	if s.offered != nil {
		mic, err := sigma1ResumeMIC(s.offered.SharedSecret, s.initiatorRandom, s.offered.ResumptionID)
		if err != nil {
			return nil, s.fail(err)
		}
		msg.ResumptionID = s.offered.ResumptionID
		msg.InitiatorResumeMIC = mic
	}

	if s.msg1, err = codec.Marshal(msg); err != nil {
		return nil, s.fail(err)
	}
	s.state = StateWaitingSigma2
	return s.msg1, nil
}

// HandleSigma1 answers Sigma1 with either Sigma2Resume or Sigma2, returning
// the opcode to send the reply with.
func (s *Session) HandleSigma1(data []byte, localSessionID uint16) (securechannel.Opcode, []byte, error) {
	if err := s.expect(RoleResponder, StateInit); err != nil {
		return 0, nil, err
	}
	msg, err := decode[Sigma1](data)
	if err != nil {
		return 0, nil, s.fail(err)
	}
	s.msg1 = data
	s.localSessionID = localSessionID
	s.peerSessionID = msg.InitiatorSessionID
	s.peerParams = msg.SessionParams
	s.initiatorRandom = msg.InitiatorRandom

	if msg.resumable() && s.records != nil {
		if out, ok, err := s.tryResume(msg); err != nil {
			return 0, nil, s.fail(err)
		} else if ok {
			return securechannel.OpcodeCASESigma2Resume, out, nil
		}
	}

	out, err := s.sigma2(msg)
	if err != nil {
		return 0, nil, s.fail(err)
	}
	return securechannel.OpcodeCASESigma2, out, nil
}

// tryResume accepts a resumption when the record exists and the MIC
// verifies. Anything else falls back to a full handshake.
func (s *Session) tryResume(msg *Sigma1) ([]byte, bool, error) {
	record, ok := s.records.FindResumptionRecordByID(msg.ResumptionID)
	if !ok {
		return nil, false, nil
	}
	want, err := sigma1ResumeMIC(record.SharedSecret, msg.InitiatorRandom, msg.ResumptionID)
	if err != nil {
		return nil, false, err
	}
	if !crypto.HMACEqual(want, msg.InitiatorResumeMIC) {
		return nil, false, nil
	}

	if s.resumptionID, err = s.random(ResumptionIDSize); err != nil {
		return nil, false, err
	}
	mic, err := sigma2ResumeMIC(record.SharedSecret, msg.InitiatorRandom, s.resumptionID)
	if err != nil {
		return nil, false, err
	}
	out, err := codec.Marshal(&Sigma2Resume{
		ResumptionID:       s.resumptionID,
		Sigma2ResumeMIC:    mic,
		ResponderSessionID: s.localSessionID,
		SessionParams:      s.localParams,
	})
	if err != nil {
		return nil, false, err
	}

	s.fabric = record.Fabric
	s.peerNodeID = record.PeerNodeID
	s.secret = record.SharedSecret
	s.salt = resumptionSalt(msg.InitiatorRandom, s.resumptionID)
	s.resumed = true
	s.state = StateWaitingStatusReport
	return out, true, nil
}

func (s *Session) sigma2(msg *Sigma1) ([]byte, error) {
	f, err := s.fabrics.FindByDestinationID(msg.DestinationID, msg.InitiatorRandom)
	if err != nil {
		return nil, ErrNoSharedRoot
	}
	s.fabric = f
	s.peerEphKey = msg.InitiatorEphPubKey

	if s.ephemeral, err = crypto.GenerateKeyPair(); err != nil {
		return nil, err
	}
	if s.secret, err = s.ephemeral.ECDH(msg.InitiatorEphPubKey); err != nil {
		return nil, ErrInvalidMessage
	}
	responderRandom, err := s.random(RandomSize)
	if err != nil {
		return nil, err
	}
	if s.resumptionID, err = s.random(ResumptionIDSize); err != nil {
		return nil, err
	}

	ephKey := s.ephemeral.PublicKeyBytes()
	sig, err := f.Sign(codec.MustMarshal(&tbsData{
		NOC:          f.OperationalCert(),
		ICAC:         f.IntermediateCert(),
		SenderEphKey: ephKey,
		PeerEphKey:   msg.InitiatorEphPubKey,
	}))
	if err != nil {
		return nil, err
	}
	plain, err := codec.Marshal(&tbeData2{
		NOC:          f.OperationalCert(),
		ICAC:         f.IntermediateCert(),
		Signature:    sig,
		ResumptionID: s.resumptionID,
	})
	if err != nil {
		return nil, err
	}
	s2k, err := deriveS2K(s.secret, f.IdentityProtectionKey(), responderRandom, ephKey, s.msg1)
	if err != nil {
		return nil, err
	}
	encrypted, err := crypto.AESCCM128Encrypt(s2k, nonceSigma2, plain, nil)
	if err != nil {
		return nil, err
	}

	if s.msg2, err = codec.Marshal(&Sigma2{
		ResponderRandom:    responderRandom,
		ResponderSessionID: s.localSessionID,
		ResponderEphPubKey: ephKey,
		Encrypted2:         encrypted,
		SessionParams:      s.localParams,
	}); err != nil {
		return nil, err
	}
	s.state = StateWaitingSigma3
	return s.msg2, nil
}

// HandleSigma2 authenticates the responder and returns Sigma3.
func (s *Session) HandleSigma2(data []byte) ([]byte, error) {
	if err := s.expect(RoleInitiator, StateWaitingSigma2); err != nil {
		return nil, err
	}
	msg, err := decode[Sigma2](data)
	if err != nil {
		return nil, s.fail(err)
	}
	f := s.fabric
	ipk := f.IdentityProtectionKey()

	if s.secret, err = s.ephemeral.ECDH(msg.ResponderEphPubKey); err != nil {
		return nil, s.fail(ErrInvalidMessage)
	}
	s2k, err := deriveS2K(s.secret, ipk, msg.ResponderRandom, msg.ResponderEphPubKey, s.msg1)
	if err != nil {
		return nil, s.fail(err)
	}
	plain, err := crypto.AESCCM128Decrypt(s2k, nonceSigma2, msg.Encrypted2, nil)
	if err != nil {
		return nil, s.fail(ErrDecryptionFailed)
	}
	tbe, err := decode[tbeData2](plain)
	if err != nil {
		return nil, s.fail(err)
	}

	nodeID, pub, err := s.verifyPeer(tbe.NOC, tbe.ICAC)
	if err != nil {
		return nil, s.fail(err)
	}
	if nodeID != s.peerNodeID {
		return nil, s.fail(ErrUnexpectedPeer)
	}
	tbs := codec.MustMarshal(&tbsData{
		NOC:          tbe.NOC,
		ICAC:         tbe.ICAC,
		SenderEphKey: msg.ResponderEphPubKey,
		PeerEphKey:   s.ephemeral.PublicKeyBytes(),
	})
	if err := crypto.Verify(pub, tbs, tbe.Signature); err != nil {
		return nil, s.fail(ErrSignatureInvalid)
	}

	s.msg2 = data
	s.peerSessionID = msg.ResponderSessionID
	s.peerParams = msg.SessionParams
	s.peerEphKey = msg.ResponderEphPubKey
	s.resumptionID = tbe.ResumptionID

	sig, err := f.Sign(codec.MustMarshal(&tbsData{
		NOC:          f.OperationalCert(),
		ICAC:         f.IntermediateCert(),
		SenderEphKey: s.ephemeral.PublicKeyBytes(),
		PeerEphKey:   msg.ResponderEphPubKey,
	}))
	if err != nil {
		return nil, s.fail(err)
	}
	plain3, err := codec.Marshal(&tbeData3{NOC: f.OperationalCert(), ICAC: f.IntermediateCert(), Signature: sig})
	if err != nil {
		return nil, s.fail(err)
	}
	s3k, err := deriveS3K(s.secret, ipk, s.msg1, s.msg2)
	if err != nil {
		return nil, s.fail(err)
	}
	encrypted, err := crypto.AESCCM128Encrypt(s3k, nonceSigma3, plain3, nil)
	if err != nil {
		return nil, s.fail(err)
	}
	msg3, err := codec.Marshal(&Sigma3{Encrypted3: encrypted})
	if err != nil {
		return nil, s.fail(err)
	}

	s.salt = sessionSalt(ipk, s.msg1, s.msg2, msg3)
	s.state = StateWaitingStatusReport
	return msg3, nil
}

// HandleSigma2Resume verifies the responder's resumption MIC. The
// initiator then confirms with a success status report and is complete.
func (s *Session) HandleSigma2Resume(data []byte) error {
	if err := s.expect(RoleInitiator, StateWaitingSigma2); err != nil {
		return err
	}
	if s.offered == nil {
		return s.fail(ErrInvalidState)
	}
	msg, err := decode[Sigma2Resume](data)
	if err != nil {
		return s.fail(err)
	}
	want, err := sigma2ResumeMIC(s.offered.SharedSecret, s.initiatorRandom, msg.ResumptionID)
	if err != nil {
		return s.fail(err)
	}
	if !crypto.HMACEqual(want, msg.Sigma2ResumeMIC) {
		return s.fail(ErrInvalidResumeMIC)
	}

	s.peerSessionID = msg.ResponderSessionID
	s.peerParams = msg.SessionParams
	s.secret = s.offered.SharedSecret
	s.resumptionID = msg.ResumptionID
	s.salt = resumptionSalt(s.initiatorRandom, msg.ResumptionID)
	s.resumed = true
	s.state = StateComplete
	return nil
}

// HandleSigma3 authenticates the initiator. The responder is complete and
// sends a success status report.
func (s *Session) HandleSigma3(data []byte) error {
	if err := s.expect(RoleResponder, StateWaitingSigma3); err != nil {
		return err
	}
	msg, err := decode[Sigma3](data)
	if err != nil {
		return s.fail(err)
	}
	ipk := s.fabric.IdentityProtectionKey()
	s3k, err := deriveS3K(s.secret, ipk, s.msg1, s.msg2)
	if err != nil {
		return s.fail(err)
	}
	plain, err := crypto.AESCCM128Decrypt(s3k, nonceSigma3, msg.Encrypted3, nil)
	if err != nil {
		return s.fail(ErrDecryptionFailed)
	}
	tbe, err := decode[tbeData3](plain)
	if err != nil {
		return s.fail(err)
	}

	nodeID, pub, err := s.verifyPeer(tbe.NOC, tbe.ICAC)
	if err != nil {
		return s.fail(err)
	}
	tbs := codec.MustMarshal(&tbsData{
		NOC:          tbe.NOC,
		ICAC:         tbe.ICAC,
		SenderEphKey: s.peerEphKey,
		PeerEphKey:   s.ephemeral.PublicKeyBytes(),
	})
	if err := crypto.Verify(pub, tbs, tbe.Signature); err != nil {
		return s.fail(ErrSignatureInvalid)
	}

	s.peerNodeID = nodeID
	s.salt = sessionSalt(ipk, s.msg1, s.msg2, data)
	s.state = StateComplete
	return nil
}

// Complete finishes the side waiting for the closing success report: the
// initiator of a full handshake or the responder of a resumption.
func (s *Session) Complete() error {
	if s.state != StateWaitingStatusReport {
		return ErrInvalidState
	}
	s.state = StateComplete
	return nil
}

func (s *Session) verifyPeer(noc, icac []byte) (fabric.NodeID, *ecdsa.PublicKey, error) {
	nodeID, pub, err := s.fabric.VerifyCredentials(noc, icac)
	if err != nil {
		return 0, nil, ErrInvalidCertificate
	}
	return nodeID, pub, nil
}

// State returns the handshake progress.
func (s *Session) State() State { return s.state }

// Role returns the side of the handshake.
func (s *Session) Role() Role { return s.role }

// IsResumption reports whether the session resumed a previous one.
func (s *Session) IsResumption() bool { return s.resumed }

// Fabric returns the fabric the session belongs to.
func (s *Session) Fabric() *fabric.Fabric { return s.fabric }

// PeerNodeID returns the authenticated peer.
func (s *Session) PeerNodeID() fabric.NodeID { return s.peerNodeID }

// PeerSessionID returns the peer's session ID.
func (s *Session) PeerSessionID() uint16 { return s.peerSessionID }

// PeerParams returns the peer's MRP parameters, defaults when absent.
func (s *Session) PeerParams() session.Params { return s.peerParams.Params() }

// SecureSessionParams describes the established session for the session
// manager.
func (s *Session) SecureSessionParams() (session.SecureSessionParams, error) {
	if s.state != StateComplete {
		return session.SecureSessionParams{}, ErrInvalidState
	}
	return session.SecureSessionParams{
		Type:          session.TypeCASE,
		SessionID:     s.localSessionID,
		PeerSessionID: s.peerSessionID,
		Fabric:        s.fabric,
		PeerNodeID:    s.peerNodeID,
		SharedSecret:  s.secret,
		Salt:          s.salt,
		IsInitiator:   s.role == RoleInitiator,
		IsResumption:  s.resumed,
		Resumable:     true,
		PeerParams:    s.PeerParams(),
	}, nil
}

// ResumptionRecord is the record to store for resuming this session later.
func (s *Session) ResumptionRecord() (*session.ResumptionRecord, error) {
	if s.state != StateComplete {
		return nil, ErrInvalidState
	}
	return &session.ResumptionRecord{
		ResumptionID: s.resumptionID,
		SharedSecret: s.secret,
		PeerNodeID:   s.peerNodeID,
		Fabric:       s.fabric,
	}, nil
}
