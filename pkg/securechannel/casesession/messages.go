package casesession

import (
	"github.com/Orzech99/matter.js/pkg/codec"
	"github.com/Orzech99/matter.js/pkg/crypto"
	"github.com/Orzech99/matter.js/pkg/securechannel"
)

// Sigma1 opens the handshake. ResumptionID and InitiatorResumeMIC are
// present together or not at all.
type Sigma1 struct {
	InitiatorRandom    []byte                           `cbor:"1,keyasint"`
	InitiatorSessionID uint16                           `cbor:"2,keyasint"`
	DestinationID      []byte                           `cbor:"3,keyasint"`
	InitiatorEphPubKey []byte                           `cbor:"4,keyasint"`
	SessionParams      *securechannel.SessionParameters `cbor:"5,keyasint,omitempty"`
	ResumptionID       []byte                           `cbor:"6,keyasint,omitempty"`
	InitiatorResumeMIC []byte                           `cbor:"7,keyasint,omitempty"`
}

// Sigma2 answers a Sigma1 that could not be resumed.
type Sigma2 struct {
	ResponderRandom    []byte                           `cbor:"1,keyasint"`
	ResponderSessionID uint16                           `cbor:"2,keyasint"`
	ResponderEphPubKey []byte                           `cbor:"3,keyasint"`
	Encrypted2         []byte                           `cbor:"4,keyasint"`
	SessionParams      *securechannel.SessionParameters `cbor:"5,keyasint,omitempty"`
}

// Sigma3 completes the initiator's authentication.
type Sigma3 struct {
	Encrypted3 []byte `cbor:"1,keyasint"`
}

// Sigma2Resume accepts a resumption.
type Sigma2Resume struct {
	ResumptionID       []byte                           `cbor:"1,keyasint"`
	Sigma2ResumeMIC    []byte                           `cbor:"2,keyasint"`
	ResponderSessionID uint16                           `cbor:"3,keyasint"`
	SessionParams      *securechannel.SessionParameters `cbor:"4,keyasint,omitempty"`
}

// tbeData2 is the plaintext of Sigma2.Encrypted2.
type tbeData2 struct {
	NOC          []byte `cbor:"1,keyasint"`
	ICAC         []byte `cbor:"2,keyasint,omitempty"`
	Signature    []byte `cbor:"3,keyasint"`
	ResumptionID []byte `cbor:"4,keyasint"`
}

// tbeData3 is the plaintext of Sigma3.Encrypted3.
type tbeData3 struct {
	NOC       []byte `cbor:"1,keyasint"`
	ICAC      []byte `cbor:"2,keyasint,omitempty"`
	Signature []byte `cbor:"3,keyasint"`
}

// tbsData is what each side signs: its own credentials, then its own
// ephemeral key, then the peer's.
type tbsData struct {
	NOC          []byte `cbor:"1,keyasint"`
	ICAC         []byte `cbor:"2,keyasint,omitempty"`
	SenderEphKey []byte `cbor:"3,keyasint"`
	PeerEphKey   []byte `cbor:"4,keyasint"`
}

func (m *Sigma1) validate() error {
	switch {
	case len(m.InitiatorRandom) != RandomSize,
		m.InitiatorSessionID == 0,
		len(m.DestinationID) != crypto.SHA256LenBytes,
		len(m.InitiatorEphPubKey) != crypto.P256PublicKeySizeBytes:
		return ErrInvalidMessage
	case (m.ResumptionID == nil) != (m.InitiatorResumeMIC == nil):
		return ErrInvalidMessage
	case m.ResumptionID != nil && (len(m.ResumptionID) != ResumptionIDSize || len(m.InitiatorResumeMIC) != MICSize):
		return ErrInvalidMessage
	}
	return nil
}

// resumable reports whether the initiator asked for resumption.
func (m *Sigma1) resumable() bool { return m.ResumptionID != nil }

func (m *Sigma2) validate() error {
	if len(m.ResponderRandom) != RandomSize || m.ResponderSessionID == 0 ||
		len(m.ResponderEphPubKey) != crypto.P256PublicKeySizeBytes || len(m.Encrypted2) <= MICSize {
		return ErrInvalidMessage
	}
	return nil
}

func (m *Sigma3) validate() error {
	if len(m.Encrypted3) <= MICSize {
		return ErrInvalidMessage
	}
	return nil
}

func (m *Sigma2Resume) validate() error {
	if len(m.ResumptionID) != ResumptionIDSize || len(m.Sigma2ResumeMIC) != MICSize || m.ResponderSessionID == 0 {
		return ErrInvalidMessage
	}
	return nil
}

func (m *tbeData2) validate() error {
	if len(m.NOC) == 0 || len(m.Signature) != crypto.P256SignatureSizeBytes || len(m.ResumptionID) != ResumptionIDSize {
		return ErrInvalidMessage
	}
	return nil
}

func (m *tbeData3) validate() error {
	if len(m.NOC) == 0 || len(m.Signature) != crypto.P256SignatureSizeBytes {
		return ErrInvalidMessage
	}
	return nil
}

type validator interface{ validate() error }

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
