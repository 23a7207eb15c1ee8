package session

import "errors"

// Session package errors.
var (
	// ErrInvalidSessionType is returned for a secure session that is neither PASE nor CASE.
	ErrInvalidSessionType = errors.New("session: invalid session type")

	// ErrInvalidSessionID is returned for a zero or unreserved local session ID.
	ErrInvalidSessionID = errors.New("session: invalid session ID")

	// ErrMissingFabric is returned when a CASE session has no fabric.
	ErrMissingFabric = errors.New("session: CASE session requires a fabric")

	// ErrMissingSecret is returned when no shared secret was negotiated.
	ErrMissingSecret = errors.New("session: missing shared secret")

	// ErrSessionIDExhausted is returned when every session ID is in use.
	ErrSessionIDExhausted = errors.New("session: session ID space exhausted")

	// ErrSessionClosed is returned when encoding on a closed session.
	ErrSessionClosed = errors.New("session: closed")

	// ErrUnexpectedSession is returned when a frame does not belong to the session.
	ErrUnexpectedSession = errors.New("session: frame for another session")

	// ErrInvalidResumptionRecord is returned for records missing their ID, secret or fabric.
	ErrInvalidResumptionRecord = errors.New("session: invalid resumption record")
)
