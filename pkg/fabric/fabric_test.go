package fabric

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Orzech99/matter.js/pkg/credentials"
	"github.com/Orzech99/matter.js/pkg/crypto"
	"github.com/Orzech99/matter.js/pkg/storage"
)

func newCA(t *testing.T) *credentials.CertificateAuthority {
	t.Helper()
	ca, err := credentials.NewCertificateAuthority(credentials.CertificateAuthorityConfig{})
	require.NoError(t, err)
	return ca
}

func TestBuilderBuild(t *testing.T) {
	ca := newCA(t)

	b, err := NewBuilder()
	require.NoError(t, err)
	csr, err := b.CreateCSR()
	require.NoError(t, err)
	noc, err := ca.IssueNOCFromCSR(csr, 0x42, 0x7)
	require.NoError(t, err)

	_, err = b.Build(1)
	assert.ErrorIs(t, err, ErrMissingRootCert)

	require.NoError(t, b.SetRootCert(ca.RootCertificate()))
	require.NoError(t, b.SetOperationalCert(noc))
	require.NoError(t, b.SetIdentityProtectionKey(make([]byte, IPKSize)))

	_, err = b.Build(0)
	assert.ErrorIs(t, err, ErrInvalidFabricIndex)

	f, err := b.Build(3)
	require.NoError(t, err)
	assert.Equal(t, FabricIndex(3), f.Index())
	assert.Equal(t, NodeID(0x42), f.NodeID())
	assert.Equal(t, FabricID(0x7), f.FabricID())
	assert.Equal(t, ca.RootPublicKey(), f.RootPublicKey())
	assert.Len(t, f.IdentityProtectionKey(), IPKSize)
}

func TestBuilderRejectsForeignNOC(t *testing.T) {
	ca := newCA(t)
	b, err := NewBuilder()
	require.NoError(t, err)

	other, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	noc, err := ca.IssueNOC(other.PublicKeyBytes(), 1, 1)
	require.NoError(t, err)
	assert.ErrorIs(t, b.SetOperationalCert(noc), ErrKeyMismatch)
}

func TestFabricStorageRoundTrip(t *testing.T) {
	ca := newCA(t)
	f, err := NewTestFabric(ca, TestFabricConfig{Index: 2, FabricID: 9, NodeID: 0x99})
	require.NoError(t, err)

	obj, err := f.ToStorageObject()
	require.NoError(t, err)
	restored, err := CreateFromStorageObject(obj)
	require.NoError(t, err)

	assert.Equal(t, f.Index(), restored.Index())
	assert.Equal(t, f.NodeID(), restored.NodeID())
	assert.Equal(t, f.CompressedFabricID(), restored.CompressedFabricID())
	assert.Equal(t, f.IdentityProtectionKey(), restored.IdentityProtectionKey())
	assert.Equal(t, f.KeyPair().PublicKeyBytes(), restored.KeyPair().PublicKeyBytes())
}

func TestDestinationIDAndCredentials(t *testing.T) {
	ca := newCA(t)
	controller, err := NewTestFabric(ca, TestFabricConfig{FabricID: 1, NodeID: 0x1})
	require.NoError(t, err)
	device, err := NewTestFabric(ca, TestFabricConfig{FabricID: 1, NodeID: 0x2})
	require.NoError(t, err)

	random, err := crypto.RandomBytes(32)
	require.NoError(t, err)
	dest := controller.DestinationID(random, device.NodeID())
	assert.True(t, device.MatchesDestinationID(dest, random))
	assert.False(t, controller.MatchesDestinationID(dest, random))

	nodeID, pub, err := controller.VerifyCredentials(device.OperationalCert(), nil)
	require.NoError(t, err)
	assert.Equal(t, device.NodeID(), nodeID)
	assert.True(t, pub.Equal(device.KeyPair().PublicKey()))

	foreign, err := NewTestFabric(newCA(t), TestFabricConfig{FabricID: 1, NodeID: 0x3})
	require.NoError(t, err)
	_, _, err = controller.VerifyCredentials(foreign.OperationalCert(), nil)
	assert.Error(t, err)

	assert.Regexp(t, `^[0-9A-F]{16}-0000000000000002$`, controller.OperationalInstanceName(2))
}

func TestTablePersistence(t *testing.T) {
	backend := storage.NewMemoryBackend()
	store := storage.MustContext(backend, storage.ContextFabricManager)

	table, err := NewTable(TableConfig{Storage: store})
	require.NoError(t, err)

	idx, err := table.AllocateFabricIndex()
	require.NoError(t, err)
	assert.Equal(t, FabricIndexMin, idx)

	ca := newCA(t)
	f, err := NewTestFabric(ca, TestFabricConfig{Index: idx, FabricID: 5, NodeID: 0x55})
	require.NoError(t, err)
	require.NoError(t, table.Add(f))
	assert.ErrorIs(t, table.Add(f), ErrFabricIndexInUse)

	dup, err := NewTestFabric(ca, TestFabricConfig{Index: 2, FabricID: 5, NodeID: 0x56})
	require.NoError(t, err)
	assert.ErrorIs(t, table.Add(dup), ErrFabricConflict)

	reloaded, err := NewTable(TableConfig{Storage: store})
	require.NoError(t, err)
	require.Equal(t, 1, reloaded.Count())
	got, ok := reloaded.Get(idx)
	require.True(t, ok)
	assert.Equal(t, NodeID(0x55), got.NodeID())

	random := make([]byte, 32)
	found, err := reloaded.FindByDestinationID(f.DestinationID(random, f.NodeID()), random)
	require.NoError(t, err)
	assert.Equal(t, idx, found.Index())

	require.NoError(t, reloaded.Remove(idx))
	assert.ErrorIs(t, reloaded.Remove(idx), ErrFabricNotFound)

	again, err := NewTable(TableConfig{Storage: store})
	require.NoError(t, err)
	assert.Equal(t, 0, again.Count())
}

func TestTableFull(t *testing.T) {
	table, err := NewTable(TableConfig{MaxFabrics: MinSupportedFabrics})
	require.NoError(t, err)
	ca := newCA(t)
	for i := 1; i <= MinSupportedFabrics; i++ {
		f, err := NewTestFabric(ca, TestFabricConfig{Index: FabricIndex(i), FabricID: FabricID(i), NodeID: 1})
		require.NoError(t, err)
		require.NoError(t, table.Add(f))
	}
	_, err = table.AllocateFabricIndex()
	assert.ErrorIs(t, err, ErrTableFull)
}
