// Package casesession implements Certificate Authenticated Session
// Establishment, the Sigma handshake between two commissioned nodes of a
// fabric.
//
// Full handshake:
//
//	Sigma1 → Sigma2 → Sigma3 → StatusReport
//
// Resumption, when the initiator holds a resumption record the responder
// still knows:
//
//	Sigma1 (resumption ID, MIC) → Sigma2Resume → StatusReport
//
// A responder that cannot resume answers a resumption Sigma1 with a full
// Sigma2, so the initiator always sends everything a full handshake needs.
package casesession

import "errors"

const (
	// RandomSize is the size of the Sigma randoms.
	RandomSize = 32

	// ResumptionIDSize is the size of a resumption ID.
	ResumptionIDSize = 16

	// MICSize is the size of the resumption MICs.
	MICSize = 16
)

// AEAD nonces, 13 bytes each.
var (
	nonceSigma2  = []byte("NCASE_Sigma2N")
	nonceSigma3  = []byte("NCASE_Sigma3N")
	nonceResume1 = []byte("NCASE_SigmaS1")
	nonceResume2 = []byte("NCASE_SigmaS2")
)

// HKDF info strings.
var (
	infoS2K  = []byte("Sigma2")
	infoS3K  = []byte("Sigma3")
	infoS1RK = []byte("Sigma1_Resume")
	infoS2RK = []byte("Sigma2_Resume")
)

var (
	ErrInvalidState       = errors.New("case: invalid protocol state")
	ErrInvalidMessage     = errors.New("case: invalid message")
	ErrNoSharedRoot       = errors.New("case: no shared trust root")
	ErrInvalidCertificate = errors.New("case: peer certificate rejected")
	ErrUnexpectedPeer     = errors.New("case: peer node ID mismatch")
	ErrSignatureInvalid   = errors.New("case: signature verification failed")
	ErrDecryptionFailed   = errors.New("case: decryption failed")
	ErrInvalidResumeMIC   = errors.New("case: invalid resumption MIC")
	ErrNoFabric           = errors.New("case: no fabric")
)
