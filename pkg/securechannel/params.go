package securechannel

import (
	"time"

	"github.com/Orzech99/matter.js/pkg/session"
)

// SessionParameters carries a node's MRP timing in handshake messages.
// Absent fields mean the default.
type SessionParameters struct {
	IdleIntervalMs    uint32 `cbor:"1,keyasint,omitempty"`
	ActiveIntervalMs  uint32 `cbor:"2,keyasint,omitempty"`
	ActiveThresholdMs uint16 `cbor:"4,keyasint,omitempty"`
}

// NewSessionParameters encodes local MRP parameters for the wire.
func NewSessionParameters(p session.Params) *SessionParameters {
	return &SessionParameters{
		IdleIntervalMs:    uint32(p.IdleInterval.Milliseconds()),
		ActiveIntervalMs:  uint32(p.ActiveInterval.Milliseconds()),
		ActiveThresholdMs: uint16(min(p.ActiveThreshold.Milliseconds(), int64(^uint16(0)))),
	}
}

// Params converts received parameters. A nil receiver yields defaults.
func (p *SessionParameters) Params() session.Params {
	if p == nil {
		return session.DefaultParams()
	}
	return session.Params{
		IdleInterval:    time.Duration(p.IdleIntervalMs) * time.Millisecond,
		ActiveInterval:  time.Duration(p.ActiveIntervalMs) * time.Millisecond,
		ActiveThreshold: time.Duration(p.ActiveThresholdMs) * time.Millisecond,
	}.WithDefaults()
}
