package credentials

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Orzech99/matter.js/pkg/crypto"
	"github.com/Orzech99/matter.js/pkg/storage"
)

func TestIdentityNameRoundTrip(t *testing.T) {
	id := Identity{NodeID: 0x0123456789ABCDEF, FabricID: 1}
	name := id.Name()
	require.Len(t, name.ExtraNames, 2)
	assert.Equal(t, "0000000000000001", name.ExtraNames[0].Value)
	assert.Equal(t, "0123456789ABCDEF", name.ExtraNames[1].Value)

	_, err := ParseMatterID("12")
	assert.ErrorIs(t, err, ErrInvalidDN)
	_, err = ParseMatterID("ZZZZZZZZZZZZZZZZ")
	assert.ErrorIs(t, err, ErrInvalidDN)
}

func TestIssueNOCFromCSR(t *testing.T) {
	ca, err := NewCertificateAuthority(CertificateAuthorityConfig{})
	require.NoError(t, err)

	kp, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	csr, err := CreateCSR(kp)
	require.NoError(t, err)

	noc, err := ca.IssueNOCFromCSR(csr, 0x1122, 0x01)
	require.NoError(t, err)

	parsed, err := ValidateChain(noc, nil, ca.RootCertificate(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, uint64(0x1122), parsed.NodeID)
	assert.Equal(t, uint64(0x01), parsed.FabricID)
	assert.Equal(t, kp.PublicKeyBytes(), parsed.PublicKey)

	root, err := ParseCertificate(ca.RootCertificate())
	require.NoError(t, err)
	assert.Equal(t, ca.RootPublicKey(), root.PublicKey)
	assert.True(t, root.IsCA)
}

func TestIssueNOCRejectsBadInput(t *testing.T) {
	ca, err := NewCertificateAuthority(CertificateAuthorityConfig{})
	require.NoError(t, err)
	kp, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	_, err = ca.IssueNOC(kp.PublicKeyBytes(), 0, 1)
	assert.ErrorIs(t, err, ErrMissingNodeID)
	_, err = ca.IssueNOC(kp.PublicKeyBytes(), 1, 0)
	assert.ErrorIs(t, err, ErrMissingFabricID)
	_, err = ca.IssueNOCFromCSR([]byte{0x30, 0x00}, 1, 1)
	assert.ErrorIs(t, err, ErrInvalidCSR)
}

func TestValidateChainRejectsForeignRoot(t *testing.T) {
	ca1, err := NewCertificateAuthority(CertificateAuthorityConfig{})
	require.NoError(t, err)
	ca2, err := NewCertificateAuthority(CertificateAuthorityConfig{})
	require.NoError(t, err)

	kp, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	noc, err := ca1.IssueNOC(kp.PublicKeyBytes(), 5, 1)
	require.NoError(t, err)

	_, err = ValidateChain(noc, nil, ca2.RootCertificate(), time.Now())
	assert.ErrorIs(t, err, ErrChainVerification)
}

func TestValidateChainExpired(t *testing.T) {
	mock := clock.NewMock()
	mock.Set(time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC))
	ca, err := NewCertificateAuthority(CertificateAuthorityConfig{Clock: mock, Validity: 24 * time.Hour})
	require.NoError(t, err)

	kp, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	noc, err := ca.IssueNOC(kp.PublicKeyBytes(), 5, 1)
	require.NoError(t, err)

	_, err = ValidateChain(noc, nil, ca.RootCertificate(), mock.Now().Add(48*time.Hour))
	assert.ErrorIs(t, err, ErrExpired)
}

func TestCertificateAuthorityRestore(t *testing.T) {
	backend := storage.NewMemoryBackend()
	store := storage.MustContext(backend, storage.ContextCertificates)

	ca, err := NewCertificateAuthority(CertificateAuthorityConfig{Storage: store})
	require.NoError(t, err)
	kp, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	_, err = ca.IssueNOC(kp.PublicKeyBytes(), 1, 1)
	require.NoError(t, err)

	restored, err := NewCertificateAuthority(CertificateAuthorityConfig{Storage: store})
	require.NoError(t, err)
	assert.Equal(t, ca.RootCertificate(), restored.RootCertificate())
	assert.Equal(t, ca.nextSerial, restored.nextSerial)
}
