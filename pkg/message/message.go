// Package message implements message framing and per-message security.
//
// A frame is a message header, a protocol header and an application
// payload. On secure sessions the protocol header and payload are sealed
// with AES-128-CCM using the message header as additional data.
//
// All multi-byte fields are little-endian on the wire.
package message

import "errors"

// ProtocolID identifies the protocol that defines the message opcode.
type ProtocolID uint16

const (
	// ProtocolSecureChannel carries PASE, CASE, MRP acks and status reports.
	ProtocolSecureChannel ProtocolID = 0x0000
	// ProtocolInteractionModel carries the commissioning commands.
	ProtocolInteractionModel ProtocolID = 0x0001
)

func (p ProtocolID) String() string {
	switch p {
	case ProtocolSecureChannel:
		return "SecureChannel"
	case ProtocolInteractionModel:
		return "InteractionModel"
	default:
		return "Unknown"
	}
}

// Sizes.
const (
	// MessageVersion is the only supported message format version.
	MessageVersion uint8 = 0

	// MinHeaderSize is flags(1) + session ID(2) + security flags(1) + counter(4).
	MinHeaderSize = 8

	// MinProtocolHeaderSize is flags(1) + opcode(1) + exchange ID(2) + protocol ID(2).
	MinProtocolHeaderSize = 6

	// MICSize is the AES-CCM tag size.
	MICSize = 16

	// NodeIDSize is the size of a 64-bit node ID.
	NodeIDSize = 8
)

// UnspecifiedNodeID is used in nonces of PASE sessions.
const UnspecifiedNodeID uint64 = 0

// Message flags.
const (
	flagDSIZMask      uint8 = 0x03
	flagDSIZNodeID    uint8 = 0x01
	flagSourcePresent uint8 = 0x04
	flagVersionShift        = 4
)

// Security flags.
const (
	secFlagSessionTypeMask uint8 = 0x03
	secFlagControl         uint8 = 0x40
	secFlagPrivacy         uint8 = 0x80
)

// Exchange flags.
const (
	exchFlagInitiator       uint8 = 0x01
	exchFlagAcknowledgement uint8 = 0x02
	exchFlagReliability     uint8 = 0x04
	exchFlagVendor          uint8 = 0x10
)

// Counter constants.
const (
	// CounterWindowSize is the replay detection window.
	CounterWindowSize = 32
	// CounterInitMax bounds random initial counters to [1, 2^28].
	CounterInitMax = 1 << 28
)

// Message layer errors.
var (
	ErrMessageTooShort    = errors.New("message: data too short")
	ErrInvalidVersion     = errors.New("message: invalid version")
	ErrUnsupportedSession = errors.New("message: unsupported session type")
	ErrPayloadTooShort    = errors.New("message: payload too short for protocol header")
	ErrDecryptionFailed   = errors.New("message: decryption/authentication failed")
	ErrInvalidKey         = errors.New("message: invalid encryption key")
	ErrCounterExhausted   = errors.New("message: message counter exhausted")
)
