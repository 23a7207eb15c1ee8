package im

import (
	"errors"
	"fmt"
)

// Errors a command handler returns to select the response status.
var (
	ErrClusterNotFound   = errors.New("im: cluster not found")
	ErrCommandNotFound   = errors.New("im: command not found")
	ErrInvalidCommand    = errors.New("im: invalid command")
	ErrAccessDenied      = errors.New("im: access denied")
	ErrConstraintError   = errors.New("im: constraint error")
	ErrInvalidInState    = errors.New("im: invalid in state")
	ErrFailsafeRequired  = errors.New("im: fail-safe required")
	ErrBusy              = errors.New("im: busy")
	ErrResourceExhausted = errors.New("im: resource exhausted")
	ErrAlreadyExists     = errors.New("im: already exists")
	ErrNotFound          = errors.New("im: not found")
)

// Client errors.
var (
	ErrUnexpectedResponse = errors.New("im: unexpected response")
)

// StatusError is a non-success status received from the peer.
type StatusError struct {
	Path   CommandPath
	Status Status
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("im: %s failed with status %s", e.Path, e.Status)
}

// Is matches the sentinel mapped to the status, so callers can test
// errors.Is(err, im.ErrBusy) on both sides of the wire.
func (e *StatusError) Is(target error) bool {
	return target == StatusToError(e.Status)
}

// ErrorToStatus maps a handler error to a status code.
func ErrorToStatus(err error) Status {
	if err == nil {
		return StatusSuccess
	}

	switch {
	case errors.Is(err, ErrClusterNotFound):
		return StatusUnsupportedCluster
	case errors.Is(err, ErrCommandNotFound):
		return StatusUnsupportedCommand
	case errors.Is(err, ErrInvalidCommand):
		return StatusInvalidCommand
	case errors.Is(err, ErrAccessDenied):
		return StatusUnsupportedAccess
	case errors.Is(err, ErrConstraintError):
		return StatusConstraintError
	case errors.Is(err, ErrInvalidInState):
		return StatusInvalidInState
	case errors.Is(err, ErrFailsafeRequired):
		return StatusFailsafeRequired
	case errors.Is(err, ErrBusy):
		return StatusBusy
	case errors.Is(err, ErrResourceExhausted):
		return StatusResourceExhausted
	case errors.Is(err, ErrAlreadyExists):
		return StatusAlreadyExists
	case errors.Is(err, ErrNotFound):
		return StatusNotFound
	default:
		return StatusFailure
	}
}

// StatusToError maps a status code to its sentinel. Success maps to nil and
// codes without a sentinel to nil as well.
func StatusToError(status Status) error {
	switch status {
	case StatusUnsupportedCluster:
		return ErrClusterNotFound
	case StatusUnsupportedCommand:
		return ErrCommandNotFound
	case StatusInvalidCommand:
		return ErrInvalidCommand
	case StatusUnsupportedAccess:
		return ErrAccessDenied
	case StatusConstraintError:
		return ErrConstraintError
	case StatusInvalidInState:
		return ErrInvalidInState
	case StatusFailsafeRequired:
		return ErrFailsafeRequired
	case StatusBusy:
		return ErrBusy
	case StatusResourceExhausted:
		return ErrResourceExhausted
	case StatusAlreadyExists:
		return ErrAlreadyExists
	case StatusNotFound:
		return ErrNotFound
	default:
		return nil
	}
}
