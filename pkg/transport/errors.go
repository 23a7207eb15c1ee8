package transport

import "errors"

// Transport errors.
var (
	// ErrClosed is returned when an operation is attempted on a closed transport.
	ErrClosed = errors.New("transport: closed")

	// ErrInvalidAddress is returned when an invalid server address is provided.
	ErrInvalidAddress = errors.New("transport: invalid address")

	// ErrUnsupportedAddress is returned when an interface cannot reach an address type.
	ErrUnsupportedAddress = errors.New("transport: unsupported address type")

	// ErrMessageTooLarge is returned when a message exceeds the maximum size.
	ErrMessageTooLarge = errors.New("transport: message too large")
)
