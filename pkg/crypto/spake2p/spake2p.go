// Package spake2p implements SPAKE2+ over P-256 with SHA-256, HKDF and HMAC,
// as used by PASE.
//
// The prover (commissioner) holds w0 and w1. The verifier (commissionee)
// holds w0 and the registration point L = w1*P.
//
//	prover                             verifier
//	X := GenerateShare()   ---X--->    GenerateShare(), ProcessPeerShare(X)
//	ProcessPeerShare(Y)    <--Y,cB--   cB := Confirmation()
//	VerifyPeerConfirmation(cB)
//	cA := Confirmation()   ---cA-->    VerifyPeerConfirmation(cA)
//
// Both sides then read the same SharedSecret.
package spake2p

import (
	"crypto/elliptic"
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"io"
	"math/big"

	"github.com/Orzech99/matter.js/pkg/crypto"
)

const (
	// GroupSizeBytes is the length of an encoded scalar.
	GroupSizeBytes = 32
	// PointSizeBytes is the length of an uncompressed point.
	PointSizeBytes = 65
	// HashSizeBytes is the length of a confirmation MAC.
	HashSizeBytes = 32
	// WsSizeBytes is the PBKDF2 output per scalar before reduction mod n.
	WsSizeBytes = GroupSizeBytes + 8
)

var (
	ErrInvalidW0Size       = errors.New("spake2p: w0 must be 32 bytes")
	ErrInvalidW1Size       = errors.New("spake2p: w1 must be 32 bytes")
	ErrInvalidLSize        = errors.New("spake2p: L must be an uncompressed point")
	ErrInvalidShareSize    = errors.New("spake2p: share must be an uncompressed point")
	ErrInvalidPointOnCurve = errors.New("spake2p: point is not on the curve")
	ErrInvalidState        = errors.New("spake2p: operation not allowed in this state")
	ErrConfirmationFailed  = errors.New("spake2p: key confirmation failed")
)

var curve = elliptic.P256()

// Fixed generators M and N for P-256 (RFC 9383 section 4).
var (
	encodedM = mustHex("04886e2f97ace46e55ba9dd7242579f2993b64e16ef3dcab95afd497333d8fa12f" +
		"5ff355163e43ce224e0b0e65ff02ac8e5c7be09419c785e0ca547d55a12e2d20")
	encodedN = mustHex("04d8bbd6c639c62937b04d997f38c3770719c629d7014d49a24b4f98baa1292b49" +
		"07d60aa6bfade45008a636337f5168c64d9bd36034808cd564490b1e656edbe7")

	generatorM = mustPoint(encodedM)
	generatorN = mustPoint(encodedN)
)

// Role selects the side of the exchange.
type Role int

const (
	RoleProver Role = iota
	RoleVerifier
)

type step int

const (
	stepInit step = iota
	stepShared
	stepKeyed
	stepConfirmed
)

// SPAKE2P is one side of a single SPAKE2+ exchange. It is not safe for
// concurrent use.
type SPAKE2P struct {
	role roleSpec
	step step
	rand io.Reader

	context, idProver, idVerifier []byte

	w0 *big.Int
	w1 *big.Int // prover
	l  *ecPoint // verifier
	r  *big.Int // x or y

	share, peerShare []byte
	keys             keySchedule
}

// roleSpec keeps the generator pair of a role together.
type roleSpec struct {
	Role
	own, peer *ecPoint
}

type keySchedule struct {
	ke       []byte
	own      []byte // confirmation key for our MAC
	expected []byte // confirmation key for the peer's MAC
}

type ecPoint struct {
	x, y *big.Int
}

// NewProver starts the commissioner side. w0 and w1 are the reduced
// PBKDF2 scalars.
func NewProver(context, idProver, idVerifier, w0, w1 []byte) (*SPAKE2P, error) {
	if len(w0) != GroupSizeBytes {
		return nil, ErrInvalidW0Size
	}
	if len(w1) != GroupSizeBytes {
		return nil, ErrInvalidW1Size
	}
	s := newParty(roleSpec{Role: RoleProver, own: generatorM, peer: generatorN}, context, idProver, idVerifier, w0)
	s.w1 = new(big.Int).SetBytes(w1)
	return s, nil
}

// NewVerifier starts the commissionee side from the stored registration
// record (w0, L).
func NewVerifier(context, idProver, idVerifier, w0, L []byte) (*SPAKE2P, error) {
	if len(w0) != GroupSizeBytes {
		return nil, ErrInvalidW0Size
	}
	if len(L) != PointSizeBytes {
		return nil, ErrInvalidLSize
	}
	l, err := parsePoint(L)
	if err != nil {
		return nil, err
	}
	s := newParty(roleSpec{Role: RoleVerifier, own: generatorN, peer: generatorM}, context, idProver, idVerifier, w0)
	s.l = l
	return s, nil
}

func newParty(role roleSpec, context, idProver, idVerifier, w0 []byte) *SPAKE2P {
	return &SPAKE2P{
		role:       role,
		rand:       rand.Reader,
		context:    clone(context),
		idProver:   clone(idProver),
		idVerifier: clone(idVerifier),
		w0:         new(big.Int).SetBytes(w0),
	}
}

// SetRandom replaces the scalar source. Tests use it for reproducible shares.
func (s *SPAKE2P) SetRandom(r io.Reader) {
	s.rand = r
}

// Role reports which side this instance plays.
func (s *SPAKE2P) Role() Role {
	return s.role.Role
}

// GenerateShare picks the ephemeral scalar and returns r*P + w0*G, where G
// is M for the prover and N for the verifier.
func (s *SPAKE2P) GenerateShare() ([]byte, error) {
	if s.step != stepInit {
		return nil, ErrInvalidState
	}
	r, err := randomScalar(s.rand)
	if err != nil {
		return nil, err
	}
	s.r = r

	bx, by := curve.ScalarBaseMult(r.Bytes())
	share := (&ecPoint{bx, by}).add(s.role.own.mul(s.w0))
	s.share = share.encode()
	s.step = stepShared
	return clone(s.share), nil
}

// ProcessPeerShare validates the peer share and derives the session keys.
func (s *SPAKE2P) ProcessPeerShare(peerShare []byte) error {
	if s.step != stepShared {
		return ErrInvalidState
	}
	if len(peerShare) != PointSizeBytes {
		return ErrInvalidShareSize
	}
	peer, err := parsePoint(peerShare)
	if err != nil {
		return err
	}
	s.peerShare = clone(peerShare)

	// P-256 has cofactor 1.
	unblinded := peer.sub(s.role.peer.mul(s.w0))
	z := unblinded.mul(s.r)
	var v *ecPoint
	if s.role.Role == RoleProver {
		v = unblinded.mul(s.w1)
	} else {
		v = s.l.mul(s.r)
	}

	if err := s.deriveKeys(z.encode(), v.encode()); err != nil {
		return err
	}
	s.step = stepKeyed
	return nil
}

// Confirmation returns the MAC over the peer share.
func (s *SPAKE2P) Confirmation() ([]byte, error) {
	if s.step < stepKeyed {
		return nil, ErrInvalidState
	}
	return crypto.HMACSHA256(s.keys.own, s.peerShare), nil
}

// VerifyPeerConfirmation checks the peer's MAC over our share.
func (s *SPAKE2P) VerifyPeerConfirmation(confirmation []byte) error {
	if s.step < stepKeyed {
		return ErrInvalidState
	}
	if !crypto.HMACEqual(crypto.HMACSHA256(s.keys.expected, s.share), confirmation) {
		return ErrConfirmationFailed
	}
	s.step = stepConfirmed
	return nil
}

// SharedSecret returns Ke. It is only meaningful once the peer confirmation
// has been verified.
func (s *SPAKE2P) SharedSecret() []byte {
	return clone(s.keys.ke)
}

// deriveKeys hashes the transcript into Ka || Ke and expands Ka into the
// two confirmation keys.
func (s *SPAKE2P) deriveKeys(z, v []byte) error {
	x, y := s.share, s.peerShare
	if s.role.Role == RoleVerifier {
		x, y = y, x
	}
	w0 := make([]byte, GroupSizeBytes)
	s.w0.FillBytes(w0)

	var tt transcript
	tt.add(s.context)
	tt.add(s.idProver)
	tt.add(s.idVerifier)
	tt.add(encodedM)
	tt.add(encodedN)
	tt.add(x)
	tt.add(y)
	tt.add(z)
	tt.add(v)
	tt.add(w0)

	kae := crypto.SHA256(tt)
	half := len(kae) / 2
	ka := kae[:half]

	kc, err := crypto.HKDFSHA256(ka, nil, []byte("ConfirmationKeys"), 2*half)
	if err != nil {
		return err
	}
	kcA, kcB := kc[:half], kc[half:]

	s.keys.ke = clone(kae[half:])
	if s.role.Role == RoleProver {
		s.keys.own, s.keys.expected = kcA, kcB
	} else {
		s.keys.own, s.keys.expected = kcB, kcA
	}
	return nil
}

// transcript is TT: every field prefixed with its 64-bit little-endian
// length.
type transcript []byte

func (t *transcript) add(field []byte) {
	*t = binary.LittleEndian.AppendUint64(*t, uint64(len(field)))
	*t = append(*t, field...)
}

func parsePoint(b []byte) (*ecPoint, error) {
	if len(b) != PointSizeBytes {
		return nil, ErrInvalidShareSize
	}
	if b[0] != 0x04 {
		return nil, ErrInvalidPointOnCurve
	}
	p := &ecPoint{
		x: new(big.Int).SetBytes(b[1 : 1+GroupSizeBytes]),
		y: new(big.Int).SetBytes(b[1+GroupSizeBytes:]),
	}
	if !curve.IsOnCurve(p.x, p.y) {
		return nil, ErrInvalidPointOnCurve
	}
	return p, nil
}

func (p *ecPoint) encode() []byte {
	b := make([]byte, PointSizeBytes)
	b[0] = 0x04
	p.x.FillBytes(b[1 : 1+GroupSizeBytes])
	p.y.FillBytes(b[1+GroupSizeBytes:])
	return b
}

func (p *ecPoint) mul(k *big.Int) *ecPoint {
	x, y := curve.ScalarMult(p.x, p.y, k.Bytes())
	return &ecPoint{x, y}
}

func (p *ecPoint) add(q *ecPoint) *ecPoint {
	x, y := curve.Add(p.x, p.y, q.x, q.y)
	return &ecPoint{x, y}
}

func (p *ecPoint) sub(q *ecPoint) *ecPoint {
	negY := new(big.Int).Sub(curve.Params().P, q.y)
	negY.Mod(negY, curve.Params().P)
	return p.add(&ecPoint{q.x, negY})
}

// randomScalar draws a scalar in [1, n) by rejection sampling.
func randomScalar(r io.Reader) (*big.Int, error) {
	n := curve.Params().N
	buf := make([]byte, GroupSizeBytes)
	for {
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, err
		}
		k := new(big.Int).SetBytes(buf)
		if k.Sign() > 0 && k.Cmp(n) < 0 {
			return k, nil
		}
	}
}

func mustPoint(b []byte) *ecPoint {
	p, err := parsePoint(b)
	if err != nil {
		panic(err)
	}
	return p
}

func mustHex(s string) []byte {
	b, err := hex.DecodeString(s)
	if err != nil {
		panic(err)
	}
	return b
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}
