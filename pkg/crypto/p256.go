package crypto

import (
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"errors"
	"fmt"
	"math/big"
)

// P-256 sizes.
const (
	P256GroupSizeBytes     = 32
	P256PublicKeySizeBytes = 65
	P256SignatureSizeBytes = 64
)

var (
	// ErrInvalidPublicKey is returned for malformed or off-curve public keys.
	ErrInvalidPublicKey = errors.New("crypto: invalid P-256 public key")

	// ErrInvalidSignature is returned for signatures of the wrong size.
	ErrInvalidSignature = errors.New("crypto: invalid P-256 signature")
)

// KeyPair is a P-256 key usable for both ECDSA and ECDH.
type KeyPair struct {
	priv *ecdsa.PrivateKey
}

// GenerateKeyPair creates a new random P-256 key pair.
func GenerateKeyPair() (*KeyPair, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("crypto: generate key: %w", err)
	}
	return &KeyPair{priv: priv}, nil
}

// NewKeyPair wraps an existing ECDSA P-256 private key.
func NewKeyPair(priv *ecdsa.PrivateKey) (*KeyPair, error) {
	if priv == nil || priv.Curve != elliptic.P256() {
		return nil, errors.New("crypto: key is not P-256")
	}
	return &KeyPair{priv: priv}, nil
}

// ParseKeyPair decodes a key produced by MarshalKeyPair.
func ParseKeyPair(der []byte) (*KeyPair, error) {
	priv, err := x509.ParseECPrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("crypto: parse key: %w", err)
	}
	return NewKeyPair(priv)
}

// Marshal encodes the private key as SEC 1 DER.
func (kp *KeyPair) Marshal() ([]byte, error) {
	return x509.MarshalECPrivateKey(kp.priv)
}

// PrivateKey returns the ECDSA private key, for certificate signing.
func (kp *KeyPair) PrivateKey() *ecdsa.PrivateKey {
	return kp.priv
}

// PublicKey returns the ECDSA public key.
func (kp *KeyPair) PublicKey() *ecdsa.PublicKey {
	return &kp.priv.PublicKey
}

// PublicKeyBytes returns the uncompressed public key (0x04 || X || Y).
func (kp *KeyPair) PublicKeyBytes() []byte {
	return MarshalPublicKey(&kp.priv.PublicKey)
}

// Sign signs SHA-256(message) and returns r || s, each 32 bytes.
func (kp *KeyPair) Sign(message []byte) ([]byte, error) {
	digest := SHA256(message)
	r, s, err := ecdsa.Sign(rand.Reader, kp.priv, digest)
	if err != nil {
		return nil, fmt.Errorf("crypto: sign: %w", err)
	}
	sig := make([]byte, P256SignatureSizeBytes)
	r.FillBytes(sig[:P256GroupSizeBytes])
	s.FillBytes(sig[P256GroupSizeBytes:])
	return sig, nil
}

// ECDH computes the shared secret with the peer's uncompressed public key.
func (kp *KeyPair) ECDH(peerPublicKey []byte) ([]byte, error) {
	local, err := kp.priv.ECDH()
	if err != nil {
		return nil, fmt.Errorf("crypto: ecdh key: %w", err)
	}
	peer, err := ecdh.P256().NewPublicKey(peerPublicKey)
	if err != nil {
		return nil, ErrInvalidPublicKey
	}
	return local.ECDH(peer)
}

// Verify checks an r || s signature over SHA-256(message).
func Verify(pub *ecdsa.PublicKey, message, signature []byte) error {
	if len(signature) != P256SignatureSizeBytes {
		return ErrInvalidSignature
	}
	r := new(big.Int).SetBytes(signature[:P256GroupSizeBytes])
	s := new(big.Int).SetBytes(signature[P256GroupSizeBytes:])
	if !ecdsa.Verify(pub, SHA256(message), r, s) {
		return errors.New("crypto: signature verification failed")
	}
	return nil
}

// MarshalPublicKey encodes pub in uncompressed form.
func MarshalPublicKey(pub *ecdsa.PublicKey) []byte {
	out := make([]byte, P256PublicKeySizeBytes)
	out[0] = 0x04
	pub.X.FillBytes(out[1 : 1+P256GroupSizeBytes])
	pub.Y.FillBytes(out[1+P256GroupSizeBytes:])
	return out
}

// ParsePublicKey decodes an uncompressed P-256 public key.
func ParsePublicKey(data []byte) (*ecdsa.PublicKey, error) {
	if len(data) != P256PublicKeySizeBytes || data[0] != 0x04 {
		return nil, ErrInvalidPublicKey
	}
	x := new(big.Int).SetBytes(data[1 : 1+P256GroupSizeBytes])
	y := new(big.Int).SetBytes(data[1+P256GroupSizeBytes:])
	if !elliptic.P256().IsOnCurve(x, y) {
		return nil, ErrInvalidPublicKey
	}
	return &ecdsa.PublicKey{Curve: elliptic.P256(), X: x, Y: y}, nil
}
