package pase

import (
	"crypto/elliptic"
	"encoding/binary"
	"math/big"

	"github.com/Orzech99/matter.js/pkg/commissioning/payload"
	"github.com/Orzech99/matter.js/pkg/crypto"
	"github.com/Orzech99/matter.js/pkg/crypto/spake2p"
)

// Verifier is what the commissionee stores instead of the passcode.
type Verifier struct {
	W0 []byte // w0 scalar, 32 bytes
	L  []byte // w1·P, uncompressed point
}

// GenerateVerifier derives the verifier for passcode. The passcode must
// not be on the forbidden list.
func GenerateVerifier(passcode uint32, salt []byte, iterations uint32) (*Verifier, error) {
	if err := payload.ValidatePasscode(passcode); err != nil {
		return nil, err
	}
	if err := ValidatePBKDFParams(salt, iterations); err != nil {
		return nil, err
	}

	w0, w1 := ComputeW0W1(passcode, salt, iterations)
	x, y := p256.ScalarBaseMult(w1)
	l := make([]byte, spake2p.PointSizeBytes)
	l[0] = 0x04
	x.FillBytes(l[1:33])
	y.FillBytes(l[33:])
	return &Verifier{W0: w0, L: l}, nil
}

var p256 = elliptic.P256()

// ComputeW0W1 stretches the little-endian passcode with PBKDF2 into two
// 40 byte halves and reduces each modulo the group order.
func ComputeW0W1(passcode uint32, salt []byte, iterations uint32) (w0, w1 []byte) {
	pc := binary.LittleEndian.AppendUint32(nil, passcode)
	ws := crypto.PBKDF2SHA256(pc, salt, int(iterations), 2*spake2p.WsSizeBytes)
	return reduce(ws[:spake2p.WsSizeBytes]), reduce(ws[spake2p.WsSizeBytes:])
}

func reduce(ws []byte) []byte {
	n := new(big.Int).SetBytes(ws)
	n.Mod(n, p256.Params().N)
	out := make([]byte, spake2p.GroupSizeBytes)
	n.FillBytes(out)
	return out
}

// ValidatePBKDFParams checks the salt length and iteration count.
func ValidatePBKDFParams(salt []byte, iterations uint32) error {
	if len(salt) < PBKDFMinSaltLength || len(salt) > PBKDFMaxSaltLength {
		return ErrInvalidSalt
	}
	if iterations < PBKDFMinIterations || iterations > PBKDFMaxIterations {
		return ErrInvalidIterations
	}
	return nil
}
