package crypto

import "encoding/binary"

// Message security sizes.
const (
	NonceSize        = 13
	SymmetricKeySize = 16
	MICSize          = 16
)

// BuildAEADNonce builds the 13-byte message nonce:
// SecurityFlags || MessageCounter (LE) || SourceNodeID (LE).
func BuildAEADNonce(securityFlags uint8, messageCounter uint32, sourceNodeID uint64) []byte {
	nonce := make([]byte, NonceSize)
	nonce[0] = securityFlags
	binary.LittleEndian.PutUint32(nonce[1:5], messageCounter)
	binary.LittleEndian.PutUint64(nonce[5:13], sourceNodeID)
	return nonce
}
