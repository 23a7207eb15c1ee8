package pase

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Orzech99/matter.js/pkg/commissioning/payload"
)

// Spake2p parameter set #01 of the CHIP SDK test suite.
var (
	testPasscode   = uint32(20202021)
	testIterations = uint32(1000)
	testSalt       = []byte("SPAKE2P Key Salt")

	testW0 = []byte{
		0xB9, 0x61, 0x70, 0xAA, 0xE8, 0x03, 0x34, 0x68, 0x84, 0x72, 0x4F, 0xE9, 0xA3, 0xB2, 0x87, 0xC3,
		0x03, 0x30, 0xC2, 0xA6, 0x60, 0x37, 0x5D, 0x17, 0xBB, 0x20, 0x5A, 0x8C, 0xF1, 0xAE, 0xCB, 0x35,
	}
	testL = []byte{
		0x04, 0x57, 0xF8, 0xAB, 0x79, 0xEE, 0x25, 0x3A, 0xB6, 0xA8, 0xE4, 0x6B, 0xB0, 0x9E, 0x54, 0x3A,
		0xE4, 0x22, 0x73, 0x6D, 0xE5, 0x01, 0xE3, 0xDB, 0x37, 0xD4, 0x41, 0xFE, 0x34, 0x49, 0x20, 0xD0,
		0x95, 0x48, 0xE4, 0xC1, 0x82, 0x40, 0x63, 0x0C, 0x4F, 0xF4, 0x91, 0x3C, 0x53, 0x51, 0x38, 0x39,
		0xB7, 0xC0, 0x7F, 0xCC, 0x06, 0x27, 0xA1, 0xB8, 0x57, 0x3A, 0x14, 0x9F, 0xCD, 0x1F, 0xA4, 0x66,
		0xCF,
	}
)

func TestGenerateVerifier(t *testing.T) {
	v, err := GenerateVerifier(testPasscode, testSalt, testIterations)
	require.NoError(t, err)
	assert.Equal(t, testW0, v.W0)
	assert.Equal(t, testL, v.L)
}

func TestGenerateVerifierRejectsForbiddenPasscodes(t *testing.T) {
	for _, pc := range []uint32{0, 11111111, 99999999, 12345678, 87654321, 100000000} {
		_, err := GenerateVerifier(pc, testSalt, testIterations)
		assert.ErrorIs(t, err, payload.ErrInvalidPasscode, "passcode %08d", pc)
	}
}

func TestValidatePBKDFParams(t *testing.T) {
	tests := []struct {
		name       string
		salt       []byte
		iterations uint32
		want       error
	}{
		{"minimum", make([]byte, 16), 1000, nil},
		{"maximum", make([]byte, 32), 100000, nil},
		{"short salt", make([]byte, 15), 1000, ErrInvalidSalt},
		{"long salt", make([]byte, 33), 1000, ErrInvalidSalt},
		{"few iterations", make([]byte, 16), 999, ErrInvalidIterations},
		{"many iterations", make([]byte, 16), 100001, ErrInvalidIterations},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, ValidatePBKDFParams(tt.salt, tt.iterations), tt.want)
		})
	}
}
