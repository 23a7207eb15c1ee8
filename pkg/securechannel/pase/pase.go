// Package pase implements Passcode-Authenticated Session Establishment.
//
// PASE turns a shared setup passcode into the first secure session between
// a commissioner (initiator) and a commissionee (responder) using SPAKE2+:
//
//	Client (commissioner)                 Server (commissionee)
//	PBKDFParamRequest        ------>
//	                         <------      PBKDFParamResponse
//	Pake1 (pA)               ------>
//	                         <------      Pake2 (pB, cB)
//	Pake3 (cA)               ------>
//	                         <------      StatusReport
//
// Session is the sans-IO state machine. Client and Server drive it over
// one exchange and register the resulting session.
package pase

import "errors"

const (
	// ContextPrefix starts the SPAKE2+ context hash. It reads "PAKE", not "PASE".
	ContextPrefix = "CHIP PAKE V1 Commissioning"

	// RandomSize is the size of the PBKDF exchange randoms.
	RandomSize = 32

	// DefaultPasscodeID is the only passcode ID in use.
	DefaultPasscodeID = 0
)

// PBKDF parameter bounds.
const (
	PBKDFMinSaltLength = 16
	PBKDFMaxSaltLength = 32
	PBKDFMinIterations = 1000
	PBKDFMaxIterations = 100000

	// DefaultIterations is used by servers that do not configure a count.
	DefaultIterations = 1000
)

var (
	ErrInvalidState       = errors.New("pase: invalid protocol state")
	ErrInvalidMessage     = errors.New("pase: invalid message")
	ErrInvalidSalt        = errors.New("pase: invalid salt length")
	ErrInvalidIterations  = errors.New("pase: invalid iteration count")
	ErrInvalidPasscodeID  = errors.New("pase: invalid passcode ID")
	ErrRandomMismatch     = errors.New("pase: initiator random mismatch")
	ErrMissingPBKDFParams = errors.New("pase: no PBKDF parameters")
	ErrConfirmationFailed = errors.New("pase: key confirmation failed")
	ErrNoVerifier         = errors.New("pase: no verifier configured")
)
