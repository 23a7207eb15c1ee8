package fabric

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/Orzech99/matter.js/pkg/credentials"
	"github.com/Orzech99/matter.js/pkg/crypto"
)

// Builder errors.
var (
	ErrMissingRootCert        = errors.New("fabric: root certificate not set")
	ErrMissingOperationalCert = errors.New("fabric: operational certificate not set")
	ErrKeyMismatch            = errors.New("fabric: operational certificate does not match key pair")
	ErrInvalidFabricIndex     = errors.New("fabric: invalid fabric index")
	ErrLabelTooLong           = errors.New("fabric: label too long")
)

// Builder assembles a Fabric from the pieces delivered during commissioning.
// It owns the operational key pair from the start so a CSR can be produced
// before the NOC exists.
type Builder struct {
	keyPair          *crypto.KeyPair
	rootCert         []byte
	intermediateCert []byte
	operationalCert  []byte
	epochKey         []byte
	rootNodeID       NodeID
	rootVendorID     VendorID
	label            string
}

// NewBuilder creates a builder with a fresh operational key pair.
func NewBuilder() (*Builder, error) {
	kp, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	return NewBuilderWithKeyPair(kp), nil
}

// NewBuilderWithKeyPair creates a builder around an existing key pair.
func NewBuilderWithKeyPair(kp *crypto.KeyPair) *Builder {
	return &Builder{keyPair: kp}
}

// KeyPair returns the operational key pair.
func (b *Builder) KeyPair() *crypto.KeyPair { return b.keyPair }

// CreateCSR returns a PKCS#10 request for the operational key.
func (b *Builder) CreateCSR() ([]byte, error) {
	return credentials.CreateCSR(b.keyPair)
}

// HasRootCert reports whether SetRootCert was called.
func (b *Builder) HasRootCert() bool { return b.rootCert != nil }

// SetRootCert sets the trusted root certificate.
func (b *Builder) SetRootCert(der []byte) error {
	cert, err := credentials.ParseCertificate(der)
	if err != nil {
		return err
	}
	if !cert.IsCA {
		return credentials.ErrNotCA
	}
	b.rootCert = bytes.Clone(der)
	return nil
}

// SetIntermediateCert sets the optional ICAC.
func (b *Builder) SetIntermediateCert(der []byte) {
	b.intermediateCert = bytes.Clone(der)
}

// SetOperationalCert sets the NOC. Its subject key must match the key pair.
func (b *Builder) SetOperationalCert(der []byte) error {
	cert, err := credentials.ParseCertificate(der)
	if err != nil {
		return err
	}
	if !bytes.Equal(cert.PublicKey, b.keyPair.PublicKeyBytes()) {
		return ErrKeyMismatch
	}
	b.operationalCert = bytes.Clone(der)
	return nil
}

// SetIdentityProtectionKey sets the 16-byte IPK epoch key.
func (b *Builder) SetIdentityProtectionKey(epochKey []byte) error {
	if len(epochKey) != IPKSize {
		return ErrInvalidIPK
	}
	b.epochKey = bytes.Clone(epochKey)
	return nil
}

// SetRootNodeID sets the administrator node ID.
func (b *Builder) SetRootNodeID(id NodeID) { b.rootNodeID = id }

// SetRootVendorID sets the administrator vendor ID.
func (b *Builder) SetRootVendorID(id VendorID) { b.rootVendorID = id }

// SetLabel sets the fabric label.
func (b *Builder) SetLabel(label string) error {
	if len(label) > MaxLabelSize {
		return ErrLabelTooLong
	}
	b.label = label
	return nil
}

// Build validates the collected credentials and returns the fabric at index.
func (b *Builder) Build(index FabricIndex) (*Fabric, error) {
	if !index.IsValid() {
		return nil, ErrInvalidFabricIndex
	}
	if b.rootCert == nil {
		return nil, ErrMissingRootCert
	}
	if b.operationalCert == nil {
		return nil, ErrMissingOperationalCert
	}
	if b.epochKey == nil {
		return nil, ErrInvalidIPK
	}

	noc, err := credentials.ValidateChain(b.operationalCert, b.intermediateCert, b.rootCert, time.Now())
	if err != nil {
		return nil, fmt.Errorf("fabric: validate NOC: %w", err)
	}
	root, err := credentials.ParseCertificate(b.rootCert)
	if err != nil {
		return nil, err
	}

	fabricID := FabricID(noc.FabricID)
	cfid, err := CompressedFabricID(root.PublicKey, fabricID)
	if err != nil {
		return nil, err
	}
	ipk, err := OperationalGroupKey(b.epochKey, cfid)
	if err != nil {
		return nil, err
	}

	return &Fabric{
		index:              index,
		fabricID:           fabricID,
		nodeID:             NodeID(noc.NodeID),
		rootNodeID:         b.rootNodeID,
		rootVendorID:       b.rootVendorID,
		label:              b.label,
		rootCert:           b.rootCert,
		rootPublicKey:      root.PublicKey,
		intermediateCert:   b.intermediateCert,
		operationalCert:    b.operationalCert,
		keyPair:            b.keyPair,
		epochKey:           b.epochKey,
		ipk:                ipk,
		compressedFabricID: cfid,
	}, nil
}
