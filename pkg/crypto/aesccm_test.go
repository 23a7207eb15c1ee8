package crypto

import (
	"bytes"
	"testing"
)

type ccmVector struct {
	name      string
	key       string
	nonce     string
	aad       string
	plaintext string
	sealed    string // ciphertext || tag
	tagSize   int
}

// RFC 3610 packet vectors #1, #2 and #7.
var rfc3610Vectors = []ccmVector{
	{
		name:      "packet1",
		key:       "c0c1c2c3c4c5c6c7c8c9cacbcccdcecf",
		nonce:     "00000003020100a0a1a2a3a4a5",
		aad:       "0001020304050607",
		plaintext: "08090a0b0c0d0e0f101112131415161718191a1b1c1d1e",
		sealed:    "588c979a61c663d2f066d0c2c0f989806d5f6b61dac384" + "17e8d12cfdf926e0",
		tagSize:   8,
	},
	{
		name:      "packet2",
		key:       "c0c1c2c3c4c5c6c7c8c9cacbcccdcecf",
		nonce:     "00000004030201a0a1a2a3a4a5",
		aad:       "0001020304050607",
		plaintext: "08090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f",
		sealed:    "72c91a36e135f8cf291ca894085c87e3cc15c439c9e43a3b" + "a091d56e10400916",
		tagSize:   8,
	},
	{
		name:      "packet7",
		key:       "c0c1c2c3c4c5c6c7c8c9cacbcccdcecf",
		nonce:     "00000009080706a0a1a2a3a4a5",
		aad:       "0001020304050607",
		plaintext: "08090a0b0c0d0e0f101112131415161718191a1b1c1d1e",
		sealed:    "0135d1b2c95f41d5d1d4fec185d166b8094e999dfed96c" + "048c56602c97acbb7490",
		tagSize:   10,
	},
}

// Vectors from the connectedhomeip AES-CCM-128 suite, 16-byte tags.
var matterCCMVectors = []ccmVector{
	{
		name:    "empty",
		key:     "404142434445464748494a4b4c4d4e4f",
		nonce:   "101112131415161718191a1b1c",
		sealed:  "32d6f8243a26d0bd98d01b0f448e7773",
		tagSize: 16,
	},
	{
		name:      "13 bytes",
		key:       "0953fa93e7caac9638f58820220a398e",
		nonce:     "00800000011201000012345678",
		plaintext: "fffd034b50057e400000010000",
		sealed:    "b5e5bfdacbaf6cb7fb6bff871f" + "b0d6dd827d35bf372fa6425dcd17d356",
		tagSize:   16,
	},
	{
		name:      "9 bytes",
		key:       "0953fa93e7caac9638f58820220a398e",
		nonce:     "00800148202345000012345678",
		plaintext: "120104320308ba072f",
		sealed:    "79d7dbc0c9b4d43eeb" + "281508e50d58dbbd27c39597800f4733",
		tagSize:   16,
	},
}

func TestAESCCMVectors(t *testing.T) {
	vectors := append(append([]ccmVector{}, rfc3610Vectors...), matterCCMVectors...)
	for _, tc := range vectors {
		t.Run(tc.name, func(t *testing.T) {
			key, nonce := mustHex(t, tc.key), mustHex(t, tc.nonce)
			aad, plaintext := mustHex(t, tc.aad), mustHex(t, tc.plaintext)
			want := mustHex(t, tc.sealed)

			aead, err := newCCM(key, tc.tagSize)
			if err != nil {
				t.Fatalf("newCCM() error = %v", err)
			}
			got := aead.Seal(nil, nonce, plaintext, aad)
			if !bytes.Equal(got, want) {
				t.Fatalf("Seal() = %x, want %x", got, want)
			}
			opened, err := aead.Open(nil, nonce, got, aad)
			if err != nil {
				t.Fatalf("Open() error = %v", err)
			}
			if !bytes.Equal(opened, plaintext) {
				t.Errorf("Open() = %x, want %x", opened, plaintext)
			}

			if tc.tagSize != AESCCMTagSize {
				return
			}
			sealed, err := AESCCM128Encrypt(key, nonce, plaintext, aad)
			if err != nil {
				t.Fatalf("AESCCM128Encrypt() error = %v", err)
			}
			if !bytes.Equal(sealed, want) {
				t.Errorf("AESCCM128Encrypt() = %x, want %x", sealed, want)
			}
		})
	}
}

func TestAESCCMRoundtripAndTamper(t *testing.T) {
	key := bytes.Repeat([]byte{0x42}, AESCCMKeySize)
	nonce := BuildAEADNonce(0, 7, 0x1122)
	aad := []byte("header")

	for _, plaintext := range [][]byte{nil, []byte("pbkdf param request"), bytes.Repeat([]byte{1}, 300)} {
		sealed, err := AESCCM128Encrypt(key, nonce, plaintext, aad)
		if err != nil {
			t.Fatalf("AESCCM128Encrypt() error = %v", err)
		}
		if len(sealed) != len(plaintext)+AESCCMTagSize {
			t.Fatalf("len(sealed) = %d, want %d", len(sealed), len(plaintext)+AESCCMTagSize)
		}

		opened, err := AESCCM128Decrypt(key, nonce, sealed, aad)
		if err != nil {
			t.Fatalf("AESCCM128Decrypt() error = %v", err)
		}
		if !bytes.Equal(opened, plaintext) {
			t.Errorf("AESCCM128Decrypt() = %x, want %x", opened, plaintext)
		}

		sealed[0] ^= 0x01
		if _, err := AESCCM128Decrypt(key, nonce, sealed, aad); err != ErrAESCCMAuthFailed {
			t.Errorf("tampered AESCCM128Decrypt() error = %v, want %v", err, ErrAESCCMAuthFailed)
		}
	}
}

func TestAESCCMInvalidInput(t *testing.T) {
	key := bytes.Repeat([]byte{0x42}, AESCCMKeySize)
	nonce := make([]byte, AESCCMNonceSize)

	if _, err := AESCCM128Encrypt(key[:8], nonce, nil, nil); err != ErrAESCCMInvalidKeySize {
		t.Errorf("short key error = %v, want %v", err, ErrAESCCMInvalidKeySize)
	}
	if _, err := AESCCM128Encrypt(key, nonce[:12], nil, nil); err != ErrAESCCMInvalidNonceSize {
		t.Errorf("short nonce error = %v, want %v", err, ErrAESCCMInvalidNonceSize)
	}
	if _, err := AESCCM128Decrypt(key, nonce[:12], make([]byte, 20), nil); err != ErrAESCCMInvalidNonceSize {
		t.Errorf("short nonce error = %v, want %v", err, ErrAESCCMInvalidNonceSize)
	}
	if _, err := AESCCM128Decrypt(key, nonce, make([]byte, AESCCMTagSize-1), nil); err != ErrAESCCMCiphertextShort {
		t.Errorf("short ciphertext error = %v, want %v", err, ErrAESCCMCiphertextShort)
	}
}
