package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyPairSignVerify(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)

	msg := []byte("sigma2 tbs data")
	sig, err := kp.Sign(msg)
	require.NoError(t, err)
	assert.Len(t, sig, P256SignatureSizeBytes)

	assert.NoError(t, Verify(kp.PublicKey(), msg, sig))
	assert.Error(t, Verify(kp.PublicKey(), []byte("other"), sig))
	assert.ErrorIs(t, Verify(kp.PublicKey(), msg, sig[:10]), ErrInvalidSignature)
}

func TestKeyPairECDHSymmetric(t *testing.T) {
	a, err := GenerateKeyPair()
	require.NoError(t, err)
	b, err := GenerateKeyPair()
	require.NoError(t, err)

	ab, err := a.ECDH(b.PublicKeyBytes())
	require.NoError(t, err)
	ba, err := b.ECDH(a.PublicKeyBytes())
	require.NoError(t, err)

	assert.Len(t, ab, P256GroupSizeBytes)
	assert.Equal(t, ab, ba)

	_, err = a.ECDH([]byte{0x04, 0x01})
	assert.ErrorIs(t, err, ErrInvalidPublicKey)
}

func TestPublicKeyRoundTrip(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)

	raw := kp.PublicKeyBytes()
	require.Len(t, raw, P256PublicKeySizeBytes)

	pub, err := ParsePublicKey(raw)
	require.NoError(t, err)
	assert.True(t, pub.Equal(kp.PublicKey()))

	bad := append([]byte(nil), raw...)
	bad[40] ^= 0xff
	_, err = ParsePublicKey(bad)
	assert.ErrorIs(t, err, ErrInvalidPublicKey)
}

func TestKeyPairMarshal(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)

	der, err := kp.Marshal()
	require.NoError(t, err)

	parsed, err := ParseKeyPair(der)
	require.NoError(t, err)
	assert.Equal(t, kp.PublicKeyBytes(), parsed.PublicKeyBytes())
}

func TestBuildAEADNonce(t *testing.T) {
	nonce := BuildAEADNonce(0x00, 0x01020304, 0x1122334455667788)
	assert.Equal(t, []byte{
		0x00,
		0x04, 0x03, 0x02, 0x01,
		0x88, 0x77, 0x66, 0x55, 0x44, 0x33, 0x22, 0x11,
	}, nonce)
}

func TestHashHelpers(t *testing.T) {
	assert.Equal(t, SHA256([]byte("ab")), SHA256([]byte("a"), []byte("b")))
	assert.Len(t, HMACSHA256([]byte("k"), []byte("m")), SHA256LenBytes)
	assert.True(t, HMACEqual(HMACSHA256([]byte("k"), []byte("m")), HMACSHA256([]byte("k"), []byte("m"))))

	r, err := RandomBytes(32)
	require.NoError(t, err)
	assert.Len(t, r, 32)
}
