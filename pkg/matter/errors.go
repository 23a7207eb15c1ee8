package matter

import (
	"errors"

	"github.com/Orzech99/matter.js/pkg/commissioning/payload"
)

// Package-level errors.
var (
	// ErrAlreadyStarted is returned when Start() is called on a running node.
	ErrAlreadyStarted = errors.New("matter: node already started")

	// ErrNotStarted is returned when an operation requires a running node.
	ErrNotStarted = errors.New("matter: node not started")

	// ErrAlreadyStopped is returned when Stop() is called on a stopped node.
	ErrAlreadyStopped = errors.New("matter: node already stopped")

	ErrInvalidVendorID      = errors.New("matter: invalid vendor ID")
	ErrInvalidProductID     = errors.New("matter: invalid product ID")
	ErrInvalidDiscriminator = errors.New("matter: discriminator must be 0-4095")
	ErrInvalidPasscode      = errors.New("matter: invalid passcode")

	// ErrFabricNotFound is returned when a fabric is not found.
	ErrFabricNotFound = errors.New("matter: fabric not found")
)

// IsValidPasscode reports whether passcode is in range and not one of the
// trivially guessable values such as 11111111 or 12345678.
func IsValidPasscode(passcode uint32) bool {
	return payload.ValidatePasscode(passcode) == nil
}
