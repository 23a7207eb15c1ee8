package credentials

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
	"strconv"
	"time"

	"github.com/Orzech99/matter.js/pkg/crypto"
)

// Identity is the Matter identity carried in a certificate subject.
// Zero fields are absent.
type Identity struct {
	NodeID   uint64
	FabricID uint64
	RCACID   uint64
	ICACID   uint64
}

// Name builds a subject with the identity attributes, in the order
// rcac-id, icac-id, fabric-id, node-id.
func (id Identity) Name() pkix.Name {
	var attrs []pkix.AttributeTypeAndValue
	add := func(oid asn1.ObjectIdentifier, v uint64) {
		if v != 0 {
			attrs = append(attrs, pkix.AttributeTypeAndValue{Type: oid, Value: FormatMatterID(v)})
		}
	}
	add(OIDMatterRCACID, id.RCACID)
	add(OIDMatterICACID, id.ICACID)
	add(OIDMatterFabricID, id.FabricID)
	add(OIDMatterNodeID, id.NodeID)
	return pkix.Name{ExtraNames: attrs}
}

// FormatMatterID renders a 64-bit identifier as a subject attribute value.
func FormatMatterID(v uint64) string {
	return fmt.Sprintf("%016X", v)
}

// ParseMatterID parses a subject attribute value.
func ParseMatterID(s string) (uint64, error) {
	if len(s) != matterIDHexLength {
		return 0, ErrInvalidDN
	}
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, ErrInvalidDN
	}
	return v, nil
}

// IdentityFromName extracts the Matter attributes of a parsed subject.
func IdentityFromName(name pkix.Name) (Identity, error) {
	var id Identity
	for _, attr := range name.Names {
		var dst *uint64
		switch {
		case attr.Type.Equal(OIDMatterNodeID):
			dst = &id.NodeID
		case attr.Type.Equal(OIDMatterFabricID):
			dst = &id.FabricID
		case attr.Type.Equal(OIDMatterRCACID):
			dst = &id.RCACID
		case attr.Type.Equal(OIDMatterICACID):
			dst = &id.ICACID
		default:
			continue
		}
		s, ok := attr.Value.(string)
		if !ok {
			return Identity{}, ErrInvalidDN
		}
		v, err := ParseMatterID(s)
		if err != nil {
			return Identity{}, err
		}
		*dst = v
	}
	return id, nil
}

// Certificate is a parsed operational certificate.
type Certificate struct {
	*x509.Certificate
	Identity

	// PublicKey is the uncompressed subject public key (0x04 || X || Y).
	PublicKey []byte
}

// ParseCertificate decodes a DER certificate with a P-256 subject key.
func ParseCertificate(der []byte) (*Certificate, error) {
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCertificate, err)
	}
	pub, ok := cert.PublicKey.(*ecdsa.PublicKey)
	if !ok || pub.Curve != elliptic.P256() {
		return nil, ErrInvalidPublicKey
	}
	id, err := IdentityFromName(cert.Subject)
	if err != nil {
		return nil, err
	}
	return &Certificate{
		Certificate: cert,
		Identity:    id,
		PublicKey:   crypto.MarshalPublicKey(pub),
	}, nil
}

// ECDSAPublicKey returns the subject key.
func (c *Certificate) ECDSAPublicKey() *ecdsa.PublicKey {
	return c.Certificate.PublicKey.(*ecdsa.PublicKey)
}

// ValidateChain checks that noc chains to root, optionally through icac,
// and that the chain agrees on the fabric ID. It returns the parsed NOC.
func ValidateChain(nocDER, icacDER, rootDER []byte, now time.Time) (*Certificate, error) {
	root, err := ParseCertificate(rootDER)
	if err != nil {
		return nil, fmt.Errorf("root: %w", err)
	}
	noc, err := ParseCertificate(nocDER)
	if err != nil {
		return nil, fmt.Errorf("noc: %w", err)
	}
	if noc.NodeID == 0 {
		return nil, ErrMissingNodeID
	}
	if noc.FabricID == 0 {
		return nil, ErrMissingFabricID
	}

	chain := []*Certificate{noc}
	if len(icacDER) > 0 {
		icac, err := ParseCertificate(icacDER)
		if err != nil {
			return nil, fmt.Errorf("icac: %w", err)
		}
		chain = append(chain, icac)
	}
	chain = append(chain, root)

	for i, cert := range chain {
		if now.Before(cert.NotBefore) || now.After(cert.NotAfter) {
			return nil, ErrExpired
		}
		if cert.FabricID != 0 && cert.FabricID != noc.FabricID {
			return nil, ErrFabricIDMismatch
		}
		issuer := cert
		if i+1 < len(chain) {
			issuer = chain[i+1]
		}
		if !issuer.IsCA {
			return nil, ErrNotCA
		}
		if err := cert.CheckSignatureFrom(issuer.Certificate); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrChainVerification, err)
		}
	}
	return noc, nil
}
