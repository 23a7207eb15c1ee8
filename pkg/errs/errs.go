// Package errs defines the error kinds that drive retry and fallback decisions
// across the stack.
//
// Lower layers return *Error values tagged with a Kind. Upper layers branch on
// the kind instead of on concrete error types:
//
//	switch errs.KindOf(err) {
//	case errs.KindRetransmissionLimit:
//		// try the next address
//	case errs.KindNoChannel:
//		// resume the session
//	}
//
// errors.Is(err, errs.KindDiscovery) also works because Kind implements error.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an error for control-flow purposes.
type Kind int

const (
	// KindUnknown is the kind of errors that carry no classification.
	KindUnknown Kind = iota

	// KindRetransmissionLimit means the peer did not answer. It is ambiguous
	// between a wrong address, wrong credentials and an offline device.
	KindRetransmissionLimit

	// KindPairingFailed means a handshake failed cryptographically or by
	// protocol violation.
	KindPairingFailed

	// KindDiscovery means no candidate address succeeded in time.
	KindDiscovery

	// KindNoChannel means no open channel exists for a peer.
	KindNoChannel

	// KindNoProvider means an optional capability is not available on this host.
	KindNoProvider

	// KindValidation means invalid configuration or input.
	KindValidation

	// KindImplementation means a programming error or an impossible state.
	KindImplementation
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindRetransmissionLimit:
		return "RetransmissionLimit"
	case KindPairingFailed:
		return "PairingFailed"
	case KindDiscovery:
		return "Discovery"
	case KindNoChannel:
		return "NoChannel"
	case KindNoProvider:
		return "NoProvider"
	case KindValidation:
		return "Validation"
	case KindImplementation:
		return "Implementation"
	default:
		return "Unknown"
	}
}

// Error lets a Kind be used as an errors.Is target.
func (k Kind) Error() string {
	return k.String()
}

// Retryable reports whether an operation failing with this kind may succeed
// against another address or after rediscovery.
func (k Kind) Retryable() bool {
	return k == KindRetransmissionLimit
}

// Error is an error tagged with a Kind.
type Error struct {
	Kind Kind
	// Op names the operation that failed, e.g. "pase.Pair".
	Op  string
	Err error
}

// New creates a tagged error with a plain message.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Err: errors.New(msg)}
}

// E tags err with kind. A nil err yields nil.
func E(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf formats a message and tags it with kind.
func Errorf(kind Kind, op string, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Op != "" {
		return e.Op + ": " + msg
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches a Kind target or another *Error with the same kind and message.
func (e *Error) Is(target error) bool {
	switch t := target.(type) {
	case Kind:
		return e.Kind == t
	case *Error:
		return e == t
	}
	return false
}

// KindOf returns the kind of the outermost *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Is reports whether any error in err's chain has the given kind.
func Is(err error, kind Kind) bool {
	return errors.Is(err, kind)
}
