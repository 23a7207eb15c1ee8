package pase

import (
	"github.com/Orzech99/matter.js/pkg/codec"
	"github.com/Orzech99/matter.js/pkg/crypto/spake2p"
	"github.com/Orzech99/matter.js/pkg/securechannel"
)

// PBKDFParameters are the salt and iteration count for the passcode KDF.
type PBKDFParameters struct {
	Iterations uint32 `cbor:"1,keyasint"`
	Salt       []byte `cbor:"2,keyasint"`
}

// PBKDFParamRequest opens the handshake.
type PBKDFParamRequest struct {
	InitiatorRandom    []byte                           `cbor:"1,keyasint"`
	InitiatorSessionID uint16                           `cbor:"2,keyasint"`
	PasscodeID         uint16                           `cbor:"3,keyasint"`
	HasPBKDFParameters bool                             `cbor:"4,keyasint"`
	SessionParams      *securechannel.SessionParameters `cbor:"5,keyasint,omitempty"`
}

// PBKDFParamResponse carries the responder's random, session ID and, if
// the initiator asked for them, the PBKDF parameters.
type PBKDFParamResponse struct {
	InitiatorRandom    []byte                           `cbor:"1,keyasint"`
	ResponderRandom    []byte                           `cbor:"2,keyasint"`
	ResponderSessionID uint16                           `cbor:"3,keyasint"`
	PBKDFParams        *PBKDFParameters                 `cbor:"4,keyasint,omitempty"`
	SessionParams      *securechannel.SessionParameters `cbor:"5,keyasint,omitempty"`
}

// Pake1 carries the prover share.
type Pake1 struct {
	PA []byte `cbor:"1,keyasint"`
}

// Pake2 carries the verifier share and confirmation.
type Pake2 struct {
	PB []byte `cbor:"1,keyasint"`
	CB []byte `cbor:"2,keyasint"`
}

// Pake3 carries the prover confirmation.
type Pake3 struct {
	CA []byte `cbor:"1,keyasint"`
}

func (m *PBKDFParamRequest) validate() error {
	if len(m.InitiatorRandom) != RandomSize || m.InitiatorSessionID == 0 {
		return ErrInvalidMessage
	}
	if m.PasscodeID != DefaultPasscodeID {
		return ErrInvalidPasscodeID
	}
	return nil
}

func (m *PBKDFParamResponse) validate() error {
	if len(m.InitiatorRandom) != RandomSize || len(m.ResponderRandom) != RandomSize || m.ResponderSessionID == 0 {
		return ErrInvalidMessage
	}
	if m.PBKDFParams != nil {
		return ValidatePBKDFParams(m.PBKDFParams.Salt, m.PBKDFParams.Iterations)
	}
	return nil
}

func (m *Pake1) validate() error {
	if len(m.PA) != spake2p.PointSizeBytes {
		return ErrInvalidMessage
	}
	return nil
}

func (m *Pake2) validate() error {
	if len(m.PB) != spake2p.PointSizeBytes || len(m.CB) != spake2p.HashSizeBytes {
		return ErrInvalidMessage
	}
	return nil
}

func (m *Pake3) validate() error {
	if len(m.CA) != spake2p.HashSizeBytes {
		return ErrInvalidMessage
	}
	return nil
}

type validator interface{ validate() error }

// decode unmarshals and validates one handshake message.
func decode[T any, PT interface {
	*T
	validator
}](data []byte) (PT, error) {
	var v T
	if err := codec.Unmarshal(data, &v); err != nil {
		return nil, ErrInvalidMessage
	}
	p := PT(&v)
	if err := p.validate(); err != nil {
		return nil, err
	}
	return p, nil
}
