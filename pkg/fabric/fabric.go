// Package fabric holds fabric and node identity.
//
// A fabric is a security domain defined by a root certificate and a 64-bit
// fabric ID. A node joins a fabric with a node operational certificate (NOC)
// and is tracked locally under an 8-bit fabric index.
//
// This package provides:
//   - Core types: FabricIndex, FabricID, NodeID, VendorID
//   - Compressed fabric ID and identity protection key derivation
//   - Fabric, an immutable validated fabric, and Builder to assemble one
//   - Table, the device-side set of installed fabrics, persisted to storage
package fabric

import (
	"encoding/binary"
	"fmt"

	"github.com/Orzech99/matter.js/pkg/crypto"
)

// FabricIndex is an 8-bit local index identifying a fabric on this node.
// Valid values are 1-254. The value 0 is invalid/unassigned.
type FabricIndex uint8

// FabricIndex constants.
const (
	// FabricIndexMin is the minimum valid fabric index.
	FabricIndexMin FabricIndex = 1
	// FabricIndexMax is the maximum valid fabric index.
	FabricIndexMax FabricIndex = 254
	// FabricIndexInvalid represents an invalid/unassigned fabric index.
	FabricIndexInvalid FabricIndex = 0
)

// IsValid returns true if the fabric index is in the valid range [1, 254].
func (f FabricIndex) IsValid() bool {
	return f >= FabricIndexMin && f <= FabricIndexMax
}

func (f FabricIndex) String() string {
	if f == FabricIndexInvalid {
		return "FabricIndex(invalid)"
	}
	return fmt.Sprintf("FabricIndex(%d)", f)
}

// FabricID is a 64-bit fabric identifier.
// The value 0 is reserved and invalid.
type FabricID uint64

// FabricIDInvalid is the reserved invalid fabric ID value.
const FabricIDInvalid FabricID = 0

// IsValid returns true if the fabric ID is valid (non-zero).
func (f FabricID) IsValid() bool {
	return f != FabricIDInvalid
}

func (f FabricID) String() string {
	return fmt.Sprintf("FabricID(0x%016X)", uint64(f))
}

// NodeID is a 64-bit node identifier.
type NodeID uint64

// Operational node ID range used for random assignment.
const (
	NodeIDMinOperational NodeID = 0x0000_0000_0000_0001
	NodeIDMaxOperational NodeID = 0xFFFF_FFEF_FFFF_FFFF
)

// NodeIDUnspecified represents an unspecified/invalid node ID.
const NodeIDUnspecified NodeID = 0

// IsOperational returns true if the node ID is in the operational range.
func (n NodeID) IsOperational() bool {
	return n >= NodeIDMinOperational && n <= NodeIDMaxOperational
}

func (n NodeID) String() string {
	return fmt.Sprintf("NodeID(0x%016X)", uint64(n))
}

// RandomOperationalNodeID draws a node ID uniformly from the operational range.
func RandomOperationalNodeID() (NodeID, error) {
	span := uint64(NodeIDMaxOperational - NodeIDMinOperational + 1)
	// Rejection sampling keeps the distribution uniform.
	limit := ^uint64(0) - (^uint64(0) % span)
	for {
		b, err := crypto.RandomBytes(8)
		if err != nil {
			return NodeIDUnspecified, err
		}
		v := binary.BigEndian.Uint64(b)
		if v < limit {
			return NodeIDMinOperational + NodeID(v%span), nil
		}
	}
}

// VendorID is a 16-bit vendor identifier.
type VendorID uint16

// VendorID constants.
const (
	// VendorIDUnspecified represents an unspecified vendor ID.
	VendorIDUnspecified VendorID = 0
	// VendorIDTestVendor1 is a test vendor ID for development.
	VendorIDTestVendor1 VendorID = 0xFFF1
)

func (v VendorID) String() string {
	return fmt.Sprintf("VendorID(0x%04X)", uint16(v))
}

// Sizes.
const (
	// CompressedFabricIDSize is the size of the compressed fabric ID in bytes.
	CompressedFabricIDSize = 8
	// RootPublicKeySize is the uncompressed P-256 public key size.
	RootPublicKeySize = crypto.P256PublicKeySizeBytes
	// IPKSize is the identity protection key size.
	IPKSize = crypto.SymmetricKeySize
	// MaxLabelSize is the maximum fabric label size.
	MaxLabelSize = 32
)

// Fabric table limits.
const (
	// MinSupportedFabrics is the minimum supported fabrics (5).
	MinSupportedFabrics = 5
	// MaxSupportedFabrics is the maximum supported fabrics (254).
	MaxSupportedFabrics = 254
	// DefaultSupportedFabrics is the default supported fabrics count.
	DefaultSupportedFabrics = 5
)
