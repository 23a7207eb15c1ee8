package fabric

import (
	"github.com/Orzech99/matter.js/pkg/credentials"
	"github.com/Orzech99/matter.js/pkg/crypto"
)

// TestFabricConfig describes a fabric created by NewTestFabric.
type TestFabricConfig struct {
	Index    FabricIndex
	FabricID FabricID
	NodeID   NodeID
	EpochKey []byte
}

// NewTestFabric issues a NOC for a fresh key under ca and builds the fabric.
// Intended for tests and single-process setups.
func NewTestFabric(ca *credentials.CertificateAuthority, cfg TestFabricConfig) (*Fabric, error) {
	if cfg.Index == FabricIndexInvalid {
		cfg.Index = FabricIndexMin
	}
	if cfg.EpochKey == nil {
		cfg.EpochKey = make([]byte, IPKSize)
	}
	kp, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	noc, err := ca.IssueNOC(kp.PublicKeyBytes(), uint64(cfg.NodeID), uint64(cfg.FabricID))
	if err != nil {
		return nil, err
	}
	b := NewBuilderWithKeyPair(kp)
	if err := b.SetRootCert(ca.RootCertificate()); err != nil {
		return nil, err
	}
	if err := b.SetOperationalCert(noc); err != nil {
		return nil, err
	}
	if err := b.SetIdentityProtectionKey(cfg.EpochKey); err != nil {
		return nil, err
	}
	b.SetRootVendorID(VendorIDTestVendor1)
	return b.Build(cfg.Index)
}
