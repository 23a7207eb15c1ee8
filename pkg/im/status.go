package im

import "fmt"

// Status is an Interaction Model status code.
type Status uint8

const (
	StatusSuccess            Status = 0x00
	StatusFailure            Status = 0x01
	StatusUnsupportedAccess  Status = 0x7e
	StatusInvalidAction      Status = 0x80
	StatusUnsupportedCommand Status = 0x81
	StatusInvalidCommand     Status = 0x85
	StatusConstraintError    Status = 0x87
	StatusResourceExhausted  Status = 0x89
	StatusNotFound           Status = 0x8b
	StatusTimeout            Status = 0x94
	StatusBusy               Status = 0x9c
	StatusUnsupportedCluster Status = 0xc3
	StatusFailsafeRequired   Status = 0xca
	StatusInvalidInState     Status = 0xcb
	StatusNoCommandResponse  Status = 0xcc
	StatusAlreadyExists      Status = 0xd0
	StatusInvalidTransport   Status = 0xd1
)

// String returns the name of the status code.
func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "Success"
	case StatusFailure:
		return "Failure"
	case StatusUnsupportedAccess:
		return "UnsupportedAccess"
	case StatusInvalidAction:
		return "InvalidAction"
	case StatusUnsupportedCommand:
		return "UnsupportedCommand"
	case StatusInvalidCommand:
		return "InvalidCommand"
	case StatusConstraintError:
		return "ConstraintError"
	case StatusResourceExhausted:
		return "ResourceExhausted"
	case StatusNotFound:
		return "NotFound"
	case StatusTimeout:
		return "Timeout"
	case StatusBusy:
		return "Busy"
	case StatusUnsupportedCluster:
		return "UnsupportedCluster"
	case StatusFailsafeRequired:
		return "FailsafeRequired"
	case StatusInvalidInState:
		return "InvalidInState"
	case StatusNoCommandResponse:
		return "NoCommandResponse"
	case StatusAlreadyExists:
		return "AlreadyExists"
	case StatusInvalidTransport:
		return "InvalidTransportType"
	default:
		return fmt.Sprintf("Status(0x%02x)", uint8(s))
	}
}
