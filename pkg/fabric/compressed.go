package fabric

import (
	"encoding/binary"
	"errors"

	"github.com/Orzech99/matter.js/pkg/crypto"
)

var (
	compressedFabricInfo = []byte("CompressedFabric")
	groupKeyInfo         = []byte("GroupKey v1.0")
)

// Errors for key derivation.
var (
	// ErrInvalidRootPublicKey is returned when the root public key has invalid length.
	ErrInvalidRootPublicKey = errors.New("fabric: invalid root public key length")
	// ErrInvalidFabricID is returned when the fabric ID is invalid (zero).
	ErrInvalidFabricID = errors.New("fabric: invalid fabric ID")
	// ErrInvalidIPK is returned for an epoch key of the wrong size.
	ErrInvalidIPK = errors.New("fabric: invalid identity protection key")
)

// CompressedFabricID computes the 64-bit compressed fabric identifier used
// in operational DNS-SD instance names:
//
//	HKDF-SHA256(ikm = rootPublicKey without 0x04, salt = fabricID (BE),
//	            info = "CompressedFabric", len = 8)
//
// rootPublicKey may be given with or without the 0x04 prefix.
func CompressedFabricID(rootPublicKey []byte, fabricID FabricID) ([CompressedFabricIDSize]byte, error) {
	var result [CompressedFabricIDSize]byte

	if !fabricID.IsValid() {
		return result, ErrInvalidFabricID
	}

	var keyBytes []byte
	switch len(rootPublicKey) {
	case RootPublicKeySize - 1:
		keyBytes = rootPublicKey
	case RootPublicKeySize:
		if rootPublicKey[0] != 0x04 {
			return result, ErrInvalidRootPublicKey
		}
		keyBytes = rootPublicKey[1:]
	default:
		return result, ErrInvalidRootPublicKey
	}

	salt := make([]byte, 8)
	binary.BigEndian.PutUint64(salt, uint64(fabricID))

	derived, err := crypto.HKDFSHA256(keyBytes, salt, compressedFabricInfo, CompressedFabricIDSize)
	if err != nil {
		return result, err
	}
	copy(result[:], derived)
	return result, nil
}

// OperationalGroupKey derives the identity protection key (IPK) from the
// epoch key delivered with AddNOC:
//
//	HKDF-SHA256(ikm = epochKey, salt = compressedFabricID, info = "GroupKey v1.0", len = 16)
func OperationalGroupKey(epochKey []byte, compressedFabricID [CompressedFabricIDSize]byte) ([]byte, error) {
	if len(epochKey) != IPKSize {
		return nil, ErrInvalidIPK
	}
	return crypto.HKDFSHA256(epochKey, compressedFabricID[:], groupKeyInfo, IPKSize)
}
