package credentials

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"

	"github.com/Orzech99/matter.js/pkg/crypto"
)

// CreateCSR builds a PKCS#10 request for the operational key pair.
func CreateCSR(kp *crypto.KeyPair) ([]byte, error) {
	template := &x509.CertificateRequest{
		Subject:            pkix.Name{CommonName: "CSR"},
		SignatureAlgorithm: x509.ECDSAWithSHA256,
	}
	der, err := x509.CreateCertificateRequest(rand.Reader, template, kp.PrivateKey())
	if err != nil {
		return nil, fmt.Errorf("credentials: create csr: %w", err)
	}
	return der, nil
}

// PublicKeyFromCSR verifies the request signature and returns its
// uncompressed P-256 public key.
func PublicKeyFromCSR(csrDER []byte) ([]byte, error) {
	csr, err := x509.ParseCertificateRequest(csrDER)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCSR, err)
	}
	if err := csr.CheckSignature(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCSR, err)
	}
	pub, ok := csr.PublicKey.(*ecdsa.PublicKey)
	if !ok || pub.Curve != elliptic.P256() {
		return nil, ErrInvalidPublicKey
	}
	return crypto.MarshalPublicKey(pub), nil
}
