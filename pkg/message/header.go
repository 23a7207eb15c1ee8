package message

import "encoding/binary"

// Header is the unencrypted message header.
type Header struct {
	// SessionID selects the decryption context. 0 means unsecured.
	SessionID uint16

	// Counter is unique per message and feeds the nonce.
	Counter uint32

	// SourceNodeID is present when HasSource is set.
	SourceNodeID uint64
	HasSource    bool

	// DestinationNodeID is present when HasDestination is set.
	DestinationNodeID uint64
	HasDestination    bool
}

// Size returns the encoded size in bytes.
func (h *Header) Size() int {
	size := MinHeaderSize
	if h.HasSource {
		size += NodeIDSize
	}
	if h.HasDestination {
		size += NodeIDSize
	}
	return size
}

// IsSecure reports whether the message belongs to a secure session.
func (h *Header) IsSecure() bool {
	return h.SessionID != 0
}

// securityFlags is always unicast without privacy or control.
func (h *Header) securityFlags() uint8 { return 0 }

// AppendTo appends the encoded header to buf.
func (h *Header) AppendTo(buf []byte) []byte {
	flags := MessageVersion << flagVersionShift
	if h.HasSource {
		flags |= flagSourcePresent
	}
	if h.HasDestination {
		flags |= flagDSIZNodeID
	}
	buf = append(buf, flags)
	buf = binary.LittleEndian.AppendUint16(buf, h.SessionID)
	buf = append(buf, h.securityFlags())
	buf = binary.LittleEndian.AppendUint32(buf, h.Counter)
	if h.HasSource {
		buf = binary.LittleEndian.AppendUint64(buf, h.SourceNodeID)
	}
	if h.HasDestination {
		buf = binary.LittleEndian.AppendUint64(buf, h.DestinationNodeID)
	}
	return buf
}

// Encode serializes the header. The result doubles as AEAD additional data.
func (h *Header) Encode() []byte {
	return h.AppendTo(make([]byte, 0, h.Size()))
}

// Decode parses a header and returns the number of bytes consumed.
func (h *Header) Decode(data []byte) (int, error) {
	if len(data) < MinHeaderSize {
		return 0, ErrMessageTooShort
	}
	flags := data[0]
	if flags>>flagVersionShift != MessageVersion {
		return 0, ErrInvalidVersion
	}
	dsiz := flags & flagDSIZMask
	if dsiz > flagDSIZNodeID {
		// Group destinations are not supported.
		return 0, ErrUnsupportedSession
	}
	secFlags := data[3]
	if secFlags&secFlagSessionTypeMask != 0 || secFlags&(secFlagPrivacy|secFlagControl) != 0 {
		return 0, ErrUnsupportedSession
	}

	*h = Header{
		SessionID:      binary.LittleEndian.Uint16(data[1:]),
		Counter:        binary.LittleEndian.Uint32(data[4:]),
		HasSource:      flags&flagSourcePresent != 0,
		HasDestination: dsiz == flagDSIZNodeID,
	}
	if len(data) < h.Size() {
		return 0, ErrMessageTooShort
	}

	offset := MinHeaderSize
	if h.HasSource {
		h.SourceNodeID = binary.LittleEndian.Uint64(data[offset:])
		offset += NodeIDSize
	}
	if h.HasDestination {
		h.DestinationNodeID = binary.LittleEndian.Uint64(data[offset:])
		offset += NodeIDSize
	}
	return offset, nil
}
