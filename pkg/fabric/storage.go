package fabric

import "github.com/Orzech99/matter.js/pkg/crypto"

// StorageObject is the persisted form of a Fabric.
type StorageObject struct {
	FabricIndex      uint8  `cbor:"1,keyasint"`
	FabricID         uint64 `cbor:"2,keyasint"`
	NodeID           uint64 `cbor:"3,keyasint"`
	RootNodeID       uint64 `cbor:"4,keyasint"`
	RootVendorID     uint16 `cbor:"5,keyasint"`
	RootCert         []byte `cbor:"6,keyasint"`
	IntermediateCert []byte `cbor:"7,keyasint,omitempty"`
	OperationalCert  []byte `cbor:"8,keyasint"`
	KeyPair          []byte `cbor:"9,keyasint"`
	EpochKey         []byte `cbor:"10,keyasint"`
	Label            string `cbor:"11,keyasint,omitempty"`
}

// ToStorageObject returns the persisted form of f.
func (f *Fabric) ToStorageObject() (StorageObject, error) {
	key, err := f.keyPair.Marshal()
	if err != nil {
		return StorageObject{}, err
	}
	return StorageObject{
		FabricIndex:      uint8(f.index),
		FabricID:         uint64(f.fabricID),
		NodeID:           uint64(f.nodeID),
		RootNodeID:       uint64(f.rootNodeID),
		RootVendorID:     uint16(f.rootVendorID),
		RootCert:         f.rootCert,
		IntermediateCert: f.intermediateCert,
		OperationalCert:  f.operationalCert,
		KeyPair:          key,
		EpochKey:         f.epochKey,
		Label:            f.label,
	}, nil
}

// CreateFromStorageObject rebuilds and revalidates a persisted fabric.
func CreateFromStorageObject(obj StorageObject) (*Fabric, error) {
	kp, err := crypto.ParseKeyPair(obj.KeyPair)
	if err != nil {
		return nil, err
	}
	b := NewBuilderWithKeyPair(kp)
	if err := b.SetRootCert(obj.RootCert); err != nil {
		return nil, err
	}
	if len(obj.IntermediateCert) > 0 {
		b.SetIntermediateCert(obj.IntermediateCert)
	}
	if err := b.SetOperationalCert(obj.OperationalCert); err != nil {
		return nil, err
	}
	if err := b.SetIdentityProtectionKey(obj.EpochKey); err != nil {
		return nil, err
	}
	if err := b.SetLabel(obj.Label); err != nil {
		return nil, err
	}
	b.SetRootNodeID(NodeID(obj.RootNodeID))
	b.SetRootVendorID(VendorID(obj.RootVendorID))

	f, err := b.Build(FabricIndex(obj.FabricIndex))
	if err != nil {
		return nil, err
	}
	if uint64(f.fabricID) != obj.FabricID || uint64(f.nodeID) != obj.NodeID {
		return nil, ErrCredentialMismatch
	}
	return f, nil
}
