// Package session manages the unsecured and secure session contexts that
// frame and protect messages on a channel.
//
// Unsecured sessions exist only for the PASE and CASE handshakes and are
// never persisted. Secure sessions carry the keys derived by a handshake,
// the message counters and the peer's MRP parameters. The Manager
// allocates local session IDs and keeps CASE resumption records across
// restarts.
package session

import (
	"github.com/Orzech99/matter.js/pkg/fabric"
	"github.com/Orzech99/matter.js/pkg/message"
)

// Type identifies how a session was established.
type Type uint8

const (
	TypeUnsecured Type = iota
	TypePASE
	TypeCASE
)

func (t Type) String() string {
	switch t {
	case TypeUnsecured:
		return "unsecured"
	case TypePASE:
		return "pase"
	case TypeCASE:
		return "case"
	default:
		return "unknown"
	}
}

// Session is the security context a channel frames messages with.
type Session interface {
	// ID is the local session ID. Unsecured sessions use 0.
	ID() uint16

	Type() Type

	// IsSecure reports whether frames are encrypted.
	IsSecure() bool

	// PeerNodeID is the peer's operational node ID, or its ephemeral ID on
	// unsecured sessions. Zero for PASE.
	PeerNodeID() fabric.NodeID

	// Fabric is nil for unsecured and PASE sessions.
	Fabric() *fabric.Fabric

	// Params returns the peer's MRP parameters.
	Params() Params

	// IsPeerActive reports whether the peer was heard from within its
	// active threshold.
	IsPeerActive() bool

	// Encode fills in the message header and encodes f.
	Encode(f *message.Frame) ([]byte, error)

	// Decode decodes and authenticates a frame received on the session.
	Decode(data []byte) (*message.Frame, error)

	// Accept records an inbound message counter and reports false for a
	// duplicate.
	Accept(counter uint32) bool

	// Close ends the session. Closing twice is a no-op.
	Close() error

	// Done is closed once the session has been closed.
	Done() <-chan struct{}

	String() string
}
