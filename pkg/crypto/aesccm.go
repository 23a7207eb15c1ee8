package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"errors"

	"github.com/pion/dtls/v2/pkg/crypto/ccm"
)

// Message and session payloads use AES-128 in CCM mode with a 13-byte nonce
// and a 16-byte MIC.
const (
	AESCCMKeySize   = 16
	AESCCMTagSize   = 16
	AESCCMNonceSize = 13
)

var (
	ErrAESCCMInvalidKeySize   = errors.New("aes-ccm: invalid key size")
	ErrAESCCMInvalidNonceSize = errors.New("aes-ccm: invalid nonce size")
	ErrAESCCMCiphertextShort  = errors.New("aes-ccm: ciphertext shorter than tag")
	ErrAESCCMAuthFailed       = errors.New("aes-ccm: message authentication failed")
)

// NewAESCCM returns the AEAD used for Matter payload protection.
func NewAESCCM(key []byte) (cipher.AEAD, error) {
	return newCCM(key, AESCCMTagSize)
}

func newCCM(key []byte, tagSize int) (cipher.AEAD, error) {
	if len(key) != AESCCMKeySize {
		return nil, ErrAESCCMInvalidKeySize
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return ccm.NewCCM(block, tagSize, AESCCMNonceSize)
}

// AESCCM128Encrypt seals plaintext and returns ciphertext || tag.
func AESCCM128Encrypt(key, nonce, plaintext, aad []byte) ([]byte, error) {
	aead, err := NewAESCCM(key)
	if err != nil {
		return nil, err
	}
	if len(nonce) != AESCCMNonceSize {
		return nil, ErrAESCCMInvalidNonceSize
	}
	return aead.Seal(nil, nonce, plaintext, aad), nil
}

// AESCCM128Decrypt opens ciphertext || tag. Any tag mismatch is reported as
// ErrAESCCMAuthFailed.
func AESCCM128Decrypt(key, nonce, sealed, aad []byte) ([]byte, error) {
	aead, err := NewAESCCM(key)
	if err != nil {
		return nil, err
	}
	if len(nonce) != AESCCMNonceSize {
		return nil, ErrAESCCMInvalidNonceSize
	}
	if len(sealed) < AESCCMTagSize {
		return nil, ErrAESCCMCiphertextShort
	}
	plaintext, err := aead.Open(nil, nonce, sealed, aad)
	if err != nil {
		return nil, ErrAESCCMAuthFailed
	}
	return plaintext, nil
}
