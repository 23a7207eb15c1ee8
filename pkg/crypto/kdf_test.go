package crypto

import (
	"bytes"
	"encoding/hex"
	"testing"
)

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	if err != nil {
		t.Fatalf("bad hex %q: %v", s, err)
	}
	return b
}

// RFC 5869 SHA-256 test cases 1 and 3.
func TestHKDFSHA256(t *testing.T) {
	tests := []struct {
		name   string
		ikm    string
		salt   string
		info   string
		length int
		okm    string
	}{
		{
			name:   "RFC5869_TC1",
			ikm:    "0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b",
			salt:   "000102030405060708090a0b0c",
			info:   "f0f1f2f3f4f5f6f7f8f9",
			length: 42,
			okm:    "3cb25f25faacd57a90434f64d0362f2a2d2d0a90cf1a5a4c5db02d56ecc4c5bf34007208d5b887185865",
		},
		{
			name:   "RFC5869_TC3",
			ikm:    "0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b",
			length: 42,
			okm:    "8da4e775a563c18f715f802a063c5a31b8a11f5c5ee1879ec3454e5f3c738d2d9d201395faa4b61a96c8",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := HKDFSHA256(mustHex(t, tc.ikm), mustHex(t, tc.salt), mustHex(t, tc.info), tc.length)
			if err != nil {
				t.Fatalf("HKDFSHA256() error = %v", err)
			}
			if want := mustHex(t, tc.okm); !bytes.Equal(got, want) {
				t.Errorf("HKDFSHA256() = %x, want %x", got, want)
			}
		})
	}
}

func TestPBKDF2SHA256(t *testing.T) {
	tests := []struct {
		name       string
		password   []byte
		salt       []byte
		iterations int
		keyLen     int
		want       string
	}{
		{
			name:       "passwd_salt_1",
			password:   []byte("passwd"),
			salt:       []byte("salt"),
			iterations: 1,
			keyLen:     64,
			want:       "55ac046e56e3089fec1691c22544b605f94185216dde0465e68b9d57c20dacbc49ca9cccf179b645991664b39d77ef317c71b845b1e30bd509112041d3a19783",
		},
		{
			name:       "passcode_spake_salt",
			password:   []byte("20202021"),
			salt:       []byte("SPKE2P Key Salt"),
			iterations: 1000,
			keyLen:     80,
			want:       "20cc08a176cab591e0b7879fe21eb87e752dea88bbf00e10faa7a0f0092ea45ef901b63a73ef1e51b31dbef037842d984484f3c55452c2a290061ae293ed06011babe3f81c251e655a8f42d634fdf3d0",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := PBKDF2SHA256(tc.password, tc.salt, tc.iterations, tc.keyLen)
			if want := mustHex(t, tc.want); !bytes.Equal(got, want) {
				t.Errorf("PBKDF2SHA256() = %x, want %x", got, want)
			}
		})
	}
}
