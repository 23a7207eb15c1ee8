package session

import (
	"errors"
	"time"
)

// MRP timing defaults, used when the peer does not advertise its own.
const (
	// DefaultIdleInterval is the retry interval for an idle peer.
	DefaultIdleInterval = 500 * time.Millisecond

	// DefaultActiveInterval is the retry interval for an active peer.
	DefaultActiveInterval = 300 * time.Millisecond

	// DefaultActiveThreshold is how long a peer stays active after it was
	// last heard from.
	DefaultActiveThreshold = 4 * time.Second

	// MaxInterval bounds both retry intervals.
	MaxInterval = time.Hour

	// MaxActiveThreshold bounds ActiveThreshold.
	MaxActiveThreshold = 65535 * time.Millisecond
)

// ErrInvalidParams is returned by Params.Validate.
var ErrInvalidParams = errors.New("session: MRP parameters out of range")

// Params holds the peer's MRP timing parameters. They override the
// retransmission timeouts of every exchange running on the session.
type Params struct {
	IdleInterval    time.Duration `cbor:"1,keyasint,omitempty" yaml:"idleInterval,omitempty"`
	ActiveInterval  time.Duration `cbor:"2,keyasint,omitempty" yaml:"activeInterval,omitempty"`
	ActiveThreshold time.Duration `cbor:"3,keyasint,omitempty" yaml:"activeThreshold,omitempty"`
}

// DefaultParams returns the default MRP parameters.
func DefaultParams() Params {
	return Params{
		IdleInterval:    DefaultIdleInterval,
		ActiveInterval:  DefaultActiveInterval,
		ActiveThreshold: DefaultActiveThreshold,
	}
}

// WithDefaults returns a copy where zero fields take their default.
func (p Params) WithDefaults() Params {
	if p.IdleInterval == 0 {
		p.IdleInterval = DefaultIdleInterval
	}
	if p.ActiveInterval == 0 {
		p.ActiveInterval = DefaultActiveInterval
	}
	if p.ActiveThreshold == 0 {
		p.ActiveThreshold = DefaultActiveThreshold
	}
	return p
}

// Validate checks that set fields are within range. Zero fields are valid
// and mean "use the default".
func (p Params) Validate() error {
	switch {
	case p.IdleInterval < 0 || p.IdleInterval > MaxInterval:
		return ErrInvalidParams
	case p.ActiveInterval < 0 || p.ActiveInterval > MaxInterval:
		return ErrInvalidParams
	case p.ActiveThreshold < 0 || p.ActiveThreshold > MaxActiveThreshold:
		return ErrInvalidParams
	}
	return nil
}
