package fabric

import (
	"crypto/ecdsa"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/Orzech99/matter.js/pkg/credentials"
	"github.com/Orzech99/matter.js/pkg/crypto"
)

// DestinationIDSize is the size of a CASE destination identifier.
const DestinationIDSize = crypto.SHA256LenBytes

// ErrCredentialMismatch is returned when a peer NOC belongs to another fabric.
var ErrCredentialMismatch = errors.New("fabric: peer credentials do not match fabric")

// Fabric is a validated fabric membership. It is immutable once built.
type Fabric struct {
	index        FabricIndex
	fabricID     FabricID
	nodeID       NodeID
	rootNodeID   NodeID
	rootVendorID VendorID
	label        string

	rootCert         []byte
	rootPublicKey    []byte
	intermediateCert []byte
	operationalCert  []byte
	keyPair          *crypto.KeyPair

	epochKey           []byte
	ipk                []byte
	compressedFabricID [CompressedFabricIDSize]byte
}

// Index returns the local fabric index.
func (f *Fabric) Index() FabricIndex { return f.index }

// FabricID returns the fabric ID.
func (f *Fabric) FabricID() FabricID { return f.fabricID }

// NodeID returns this node's ID on the fabric.
func (f *Fabric) NodeID() NodeID { return f.nodeID }

// RootNodeID returns the node ID of the administrator that created the fabric.
func (f *Fabric) RootNodeID() NodeID { return f.rootNodeID }

// RootVendorID returns the administrator vendor ID.
func (f *Fabric) RootVendorID() VendorID { return f.rootVendorID }

// Label returns the user-visible fabric label.
func (f *Fabric) Label() string { return f.label }

// RootCert returns the DER root certificate.
func (f *Fabric) RootCert() []byte { return f.rootCert }

// RootPublicKey returns the uncompressed root public key.
func (f *Fabric) RootPublicKey() []byte { return f.rootPublicKey }

// IntermediateCert returns the DER ICAC, or nil.
func (f *Fabric) IntermediateCert() []byte { return f.intermediateCert }

// OperationalCert returns this node's DER NOC.
func (f *Fabric) OperationalCert() []byte { return f.operationalCert }

// KeyPair returns the operational key pair.
func (f *Fabric) KeyPair() *crypto.KeyPair { return f.keyPair }

// IdentityProtectionKey returns the derived IPK used for destination IDs.
func (f *Fabric) IdentityProtectionKey() []byte { return f.ipk }

// EpochKey returns the IPK epoch key the fabric was built with. A
// commissioner hands it to new nodes in AddNOC.
func (f *Fabric) EpochKey() []byte { return f.epochKey }

// CompressedFabricID returns the compressed fabric identifier.
func (f *Fabric) CompressedFabricID() [CompressedFabricIDSize]byte { return f.compressedFabricID }

// OperationalInstanceName returns the DNS-SD instance name of nodeID on
// this fabric.
func (f *Fabric) OperationalInstanceName(nodeID NodeID) string {
	return fmt.Sprintf("%016X-%016X", binary.BigEndian.Uint64(f.compressedFabricID[:]), uint64(nodeID))
}

func (f *Fabric) String() string {
	return fmt.Sprintf("Fabric(index=%d, id=0x%016X, node=0x%016X)", f.index, uint64(f.fabricID), uint64(f.nodeID))
}

// Sign signs data with the operational key.
func (f *Fabric) Sign(data []byte) ([]byte, error) {
	return f.keyPair.Sign(data)
}

// DestinationID computes the CASE destination identifier for nodeID:
//
//	HMAC-SHA256(IPK, random || rootPublicKey || fabricID (LE) || nodeID (LE))
func (f *Fabric) DestinationID(random []byte, nodeID NodeID) []byte {
	msg := make([]byte, 0, len(random)+len(f.rootPublicKey)+16)
	msg = append(msg, random...)
	msg = append(msg, f.rootPublicKey...)
	msg = binary.LittleEndian.AppendUint64(msg, uint64(f.fabricID))
	msg = binary.LittleEndian.AppendUint64(msg, uint64(nodeID))
	return crypto.HMACSHA256(f.ipk, msg)
}

// MatchesDestinationID reports whether destinationID addresses this node.
func (f *Fabric) MatchesDestinationID(destinationID, random []byte) bool {
	return crypto.HMACEqual(destinationID, f.DestinationID(random, f.nodeID))
}

// VerifyCredentials validates a peer's NOC (and optional ICAC) against the
// fabric root and returns the peer node ID and public key.
func (f *Fabric) VerifyCredentials(noc, icac []byte) (NodeID, *ecdsa.PublicKey, error) {
	cert, err := credentials.ValidateChain(noc, icac, f.rootCert, time.Now())
	if err != nil {
		return NodeIDUnspecified, nil, err
	}
	if FabricID(cert.FabricID) != f.fabricID {
		return NodeIDUnspecified, nil, ErrCredentialMismatch
	}
	return NodeID(cert.NodeID), cert.ECDSAPublicKey(), nil
}
