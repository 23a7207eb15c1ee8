package commissioning

import (
	"bytes"
	"errors"
	"sync"

	"github.com/pion/logging"

	"github.com/Orzech99/matter.js/pkg/credentials"
	"github.com/Orzech99/matter.js/pkg/errs"
	"github.com/Orzech99/matter.js/pkg/fabric"
)

// CSRNonceSize is the length of the nonce a commissioner sends with
// CSRRequest.
const CSRNonceSize = 32

// ErrNOCAlreadyAdded indicates a second AddNOC under one fail-safe.
var ErrNOCAlreadyAdded = errors.New("commissioning: NOC already added under this fail-safe")

// OperationalCredentials is the device capability installing a fabric.
// The fabric added by AddNOC is live at once so CASE can reach it, and is
// removed again by Revert unless Commit ran first.
type OperationalCredentials interface {
	CSRRequest(nonce []byte) (csr []byte, err error)
	AddTrustedRootCertificate(der []byte) error
	AddNOC(req *AddNOCRequest) (*fabric.Fabric, error)
	RemoveFabric(index fabric.FabricIndex) error
	Commit()
	Revert()
}

// CredentialStoreConfig configures a CredentialStore.
type CredentialStoreConfig struct {
	// Fabrics is required.
	Fabrics *fabric.Table

	// OnFabricAdded runs after a fabric enters the table.
	OnFabricAdded func(*fabric.Fabric)

	// OnFabricRemoved runs after a fabric leaves the table, by revert or
	// RemoveFabric.
	OnFabricRemoved func(*fabric.Fabric)

	LoggerFactory logging.LoggerFactory
}

// CredentialStore implements OperationalCredentials on a fabric.Table.
//
// Thread Safety: All methods are safe for concurrent use. Callbacks run
// without the lock held.
type CredentialStore struct {
	config CredentialStoreConfig
	log    logging.LeveledLogger

	mu       sync.Mutex
	builder  *fabric.Builder
	rootCert []byte
	pending  *fabric.Fabric
}

// NewCredentialStore creates a store over config.Fabrics.
func NewCredentialStore(config CredentialStoreConfig) (*CredentialStore, error) {
	if config.Fabrics == nil {
		return nil, errs.New(errs.KindImplementation, "commissioning: Fabrics is required")
	}
	if config.LoggerFactory == nil {
		config.LoggerFactory = logging.NewDefaultLoggerFactory()
	}
	return &CredentialStore{
		config: config,
		log:    config.LoggerFactory.NewLogger("commissioning"),
	}, nil
}

// CSRRequest implements OperationalCredentials. Each call generates a new
// operational key.
func (s *CredentialStore) CSRRequest(nonce []byte) ([]byte, error) {
	if len(nonce) != CSRNonceSize {
		return nil, ErrInvalidNonce
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending != nil {
		return nil, ErrNOCAlreadyAdded
	}
	b, err := fabric.NewBuilder()
	if err != nil {
		return nil, err
	}
	csr, err := b.CreateCSR()
	if err != nil {
		return nil, err
	}
	s.builder = b
	return csr, nil
}

// AddTrustedRootCertificate implements OperationalCredentials.
func (s *CredentialStore) AddTrustedRootCertificate(der []byte) error {
	cert, err := credentials.ParseCertificate(der)
	if err != nil {
		return err
	}
	if !cert.IsCA {
		return credentials.ErrNotCA
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending != nil {
		return ErrNOCAlreadyAdded
	}
	s.rootCert = bytes.Clone(der)
	return nil
}

// AddNOC implements OperationalCredentials.
func (s *CredentialStore) AddNOC(req *AddNOCRequest) (*fabric.Fabric, error) {
	s.mu.Lock()
	f, err := s.addNOCLocked(req)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	s.log.Infof("Added %s as node %s", f, f.NodeID())
	if s.config.OnFabricAdded != nil {
		s.config.OnFabricAdded(f)
	}
	return f, nil
}

func (s *CredentialStore) addNOCLocked(req *AddNOCRequest) (*fabric.Fabric, error) {
	if s.pending != nil {
		return nil, ErrNOCAlreadyAdded
	}
	if s.builder == nil {
		return nil, ErrMissingCSR
	}
	if s.rootCert == nil {
		return nil, fabric.ErrMissingRootCert
	}

	b := s.builder
	if err := b.SetRootCert(s.rootCert); err != nil {
		return nil, err
	}
	if len(req.ICACValue) > 0 {
		b.SetIntermediateCert(req.ICACValue)
	}
	if err := b.SetOperationalCert(req.NOCValue); err != nil {
		return nil, err
	}
	if err := b.SetIdentityProtectionKey(req.IPKValue); err != nil {
		return nil, err
	}
	b.SetRootNodeID(fabric.NodeID(req.CaseAdminSubject))
	b.SetRootVendorID(fabric.VendorID(req.AdminVendorID))

	index, err := s.config.Fabrics.AllocateFabricIndex()
	if err != nil {
		return nil, err
	}
	f, err := b.Build(index)
	if err != nil {
		return nil, err
	}
	if err := s.config.Fabrics.Add(f); err != nil {
		return nil, err
	}
	s.pending = f
	s.builder = nil
	s.rootCert = nil
	return f, nil
}

// RemoveFabric implements OperationalCredentials.
func (s *CredentialStore) RemoveFabric(index fabric.FabricIndex) error {
	f, ok := s.config.Fabrics.Get(index)
	if !ok {
		return fabric.ErrFabricNotFound
	}
	if err := s.config.Fabrics.Remove(index); err != nil {
		return err
	}

	s.mu.Lock()
	if s.pending != nil && s.pending.Index() == index {
		s.pending = nil
	}
	s.mu.Unlock()

	s.log.Infof("Removed %s", f)
	if s.config.OnFabricRemoved != nil {
		s.config.OnFabricRemoved(f)
	}
	return nil
}

// Commit implements OperationalCredentials.
func (s *CredentialStore) Commit() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = nil
	s.builder = nil
	s.rootCert = nil
}

// Revert implements OperationalCredentials.
func (s *CredentialStore) Revert() {
	s.mu.Lock()
	f := s.pending
	s.pending = nil
	s.builder = nil
	s.rootCert = nil
	s.mu.Unlock()

	if f == nil {
		return
	}
	if err := s.config.Fabrics.Remove(f.Index()); err != nil {
		s.log.Warnf("Reverting %s: %v", f, err)
		return
	}
	s.log.Infof("Reverted %s", f)
	if s.config.OnFabricRemoved != nil {
		s.config.OnFabricRemoved(f)
	}
}

// nocStatus maps an AddNOC failure to its cluster status.
func nocStatus(err error) NOCStatus {
	switch {
	case err == nil:
		return NOCStatusOK
	case errors.Is(err, ErrMissingCSR):
		return NOCStatusMissingCSR
	case errors.Is(err, fabric.ErrKeyMismatch), errors.Is(err, credentials.ErrInvalidPublicKey):
		return NOCStatusInvalidPublicKey
	case errors.Is(err, credentials.ErrMissingNodeID):
		return NOCStatusInvalidNodeOpID
	case errors.Is(err, fabric.ErrTableFull):
		return NOCStatusTableFull
	case errors.Is(err, fabric.ErrFabricConflict):
		return NOCStatusFabricConflict
	case errors.Is(err, fabric.ErrFabricNotFound), errors.Is(err, fabric.ErrInvalidFabricIndex):
		return NOCStatusInvalidFabricIndex
	default:
		return NOCStatusInvalidNOC
	}
}
