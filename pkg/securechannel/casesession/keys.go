package casesession

import (
	"github.com/Orzech99/matter.js/pkg/crypto"
)

func concat(parts ...[]byte) []byte {
	n := 0
	for _, p := range parts {
		n += len(p)
	}
	out := make([]byte, 0, n)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// deriveS2K is the Sigma2 encryption key:
//
//	HKDF(secret, IPK || responderRandom || responderEphPubKey || SHA256(msg1), "Sigma2")
func deriveS2K(secret, ipk, responderRandom, responderEphPubKey, msg1 []byte) ([]byte, error) {
	salt := concat(ipk, responderRandom, responderEphPubKey, crypto.SHA256(msg1))
	return crypto.HKDFSHA256(secret, salt, infoS2K, crypto.SymmetricKeySize)
}

// deriveS3K is the Sigma3 encryption key:
//
//	HKDF(secret, IPK || SHA256(msg1 || msg2), "Sigma3")
func deriveS3K(secret, ipk, msg1, msg2 []byte) ([]byte, error) {
	salt := concat(ipk, crypto.SHA256(msg1, msg2))
	return crypto.HKDFSHA256(secret, salt, infoS3K, crypto.SymmetricKeySize)
}

// sessionSalt feeds the "SessionKeys" derivation of a full handshake.
func sessionSalt(ipk, msg1, msg2, msg3 []byte) []byte {
	return concat(ipk, crypto.SHA256(msg1, msg2, msg3))
}

// resumptionSalt feeds the "SessionResumptionKeys" derivation and the
// Sigma2Resume key.
func resumptionSalt(initiatorRandom, resumptionID []byte) []byte {
	return concat(initiatorRandom, resumptionID)
}

// resumeMIC authenticates a resumption attempt: AES-CCM over an empty
// plaintext with a key bound to the random and resumption ID.
func resumeMIC(secret, initiatorRandom, resumptionID, info, nonce []byte) ([]byte, error) {
	key, err := crypto.HKDFSHA256(secret, resumptionSalt(initiatorRandom, resumptionID), info, crypto.SymmetricKeySize)
	if err != nil {
		return nil, err
	}
	return crypto.AESCCM128Encrypt(key, nonce, nil, nil)
}

func sigma1ResumeMIC(secret, initiatorRandom, resumptionID []byte) ([]byte, error) {
	return resumeMIC(secret, initiatorRandom, resumptionID, infoS1RK, nonceResume1)
}

func sigma2ResumeMIC(secret, initiatorRandom, resumptionID []byte) ([]byte, error) {
	return resumeMIC(secret, initiatorRandom, resumptionID, infoS2RK, nonceResume2)
}
