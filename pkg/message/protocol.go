package message

import "encoding/binary"

// ProtocolHeader is the first part of the (encrypted) payload.
type ProtocolHeader struct {
	ProtocolID ProtocolID
	Opcode     uint8
	ExchangeID uint16

	// AckedCounter is the counter being acknowledged when Ack is set.
	AckedCounter uint32

	// Initiator is set on messages sent by the exchange initiator (I flag).
	Initiator bool
	// Ack marks a piggybacked or standalone acknowledgement (A flag).
	Ack bool
	// Reliable requests an acknowledgement (R flag).
	Reliable bool
}

// Size returns the encoded size in bytes.
func (p *ProtocolHeader) Size() int {
	if p.Ack {
		return MinProtocolHeaderSize + 4
	}
	return MinProtocolHeaderSize
}

// AppendTo appends the encoded header to buf.
func (p *ProtocolHeader) AppendTo(buf []byte) []byte {
	var flags uint8
	if p.Initiator {
		flags |= exchFlagInitiator
	}
	if p.Ack {
		flags |= exchFlagAcknowledgement
	}
	if p.Reliable {
		flags |= exchFlagReliability
	}
	buf = append(buf, flags, p.Opcode)
	buf = binary.LittleEndian.AppendUint16(buf, p.ExchangeID)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(p.ProtocolID))
	if p.Ack {
		buf = binary.LittleEndian.AppendUint32(buf, p.AckedCounter)
	}
	return buf
}

// Decode parses a protocol header and returns the number of bytes consumed.
// A vendor prefix is accepted and skipped.
func (p *ProtocolHeader) Decode(data []byte) (int, error) {
	if len(data) < MinProtocolHeaderSize {
		return 0, ErrPayloadTooShort
	}
	flags := data[0]
	*p = ProtocolHeader{
		Opcode:     data[1],
		ExchangeID: binary.LittleEndian.Uint16(data[2:]),
		Initiator:  flags&exchFlagInitiator != 0,
		Ack:        flags&exchFlagAcknowledgement != 0,
		Reliable:   flags&exchFlagReliability != 0,
	}

	offset := 4
	if flags&exchFlagVendor != 0 {
		offset += 2
	}
	need := offset + 2
	if p.Ack {
		need += 4
	}
	if len(data) < need {
		return 0, ErrPayloadTooShort
	}
	p.ProtocolID = ProtocolID(binary.LittleEndian.Uint16(data[offset:]))
	offset += 2
	if p.Ack {
		p.AckedCounter = binary.LittleEndian.Uint32(data[offset:])
		offset += 4
	}
	return offset, nil
}
