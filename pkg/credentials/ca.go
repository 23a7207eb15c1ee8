package credentials

import (
	"crypto/rand"
	"crypto/x509"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pion/logging"

	"github.com/Orzech99/matter.js/pkg/crypto"
	"github.com/Orzech99/matter.js/pkg/storage"
)

// Storage keys of the RootCertificateAuthority context.
const (
	storageKeyRootCertID      = "rootCertId"
	storageKeyRootKeyPair     = "rootKeyPair"
	storageKeyRootCert        = "rootCertBytes"
	storageKeyNextCertificate = "nextCertificateId"
)

// DefaultCertificateValidity is the lifetime of issued certificates.
const DefaultCertificateValidity = 10 * 365 * 24 * time.Hour

// certificateBackdate tolerates small clock skew between peers.
const certificateBackdate = time.Hour

// CertificateAuthorityConfig configures a CertificateAuthority.
type CertificateAuthorityConfig struct {
	// Storage persists the root key and certificate. When nil the authority
	// lives in memory only.
	Storage *storage.Context

	// Validity of issued certificates. Default: DefaultCertificateValidity.
	Validity time.Duration

	// Clock provides the certificate validity start. Default: wall clock.
	Clock clock.Clock

	LoggerFactory logging.LoggerFactory
}

// CertificateAuthority is a root CA issuing operational certificates.
//
// Thread Safety: All methods are safe for concurrent use.
type CertificateAuthority struct {
	mu sync.Mutex

	rootKey    *crypto.KeyPair
	rootCert   []byte
	rootCertID uint64
	nextSerial uint64

	validity time.Duration
	clock    clock.Clock
	store    *storage.Context
	log      logging.LeveledLogger
}

// NewCertificateAuthority restores the authority from storage, or creates
// a new root key and self-signed root certificate.
func NewCertificateAuthority(config CertificateAuthorityConfig) (*CertificateAuthority, error) {
	if config.Validity == 0 {
		config.Validity = DefaultCertificateValidity
	}
	if config.Clock == nil {
		config.Clock = clock.New()
	}
	if config.LoggerFactory == nil {
		config.LoggerFactory = logging.NewDefaultLoggerFactory()
	}

	ca := &CertificateAuthority{
		validity: config.Validity,
		clock:    config.Clock,
		store:    config.Storage,
		log:      config.LoggerFactory.NewLogger("ca"),
	}

	if ca.store != nil {
		restored, err := ca.load()
		if err != nil {
			return nil, err
		}
		if restored {
			ca.log.Debugf("restored root certificate %016X", ca.rootCertID)
			return ca, nil
		}
	}

	if err := ca.generate(); err != nil {
		return nil, err
	}
	ca.log.Infof("created root certificate %016X", ca.rootCertID)
	return ca, ca.save()
}

func (ca *CertificateAuthority) load() (bool, error) {
	var keyDER []byte
	err := ca.store.Get(storageKeyRootKeyPair, &keyDER)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	key, err := crypto.ParseKeyPair(keyDER)
	if err != nil {
		return false, err
	}
	ca.rootKey = key
	if err := ca.store.Get(storageKeyRootCert, &ca.rootCert); err != nil {
		return false, err
	}
	if err := ca.store.Get(storageKeyRootCertID, &ca.rootCertID); err != nil {
		return false, err
	}
	if err := ca.store.Get(storageKeyNextCertificate, &ca.nextSerial); err != nil {
		return false, err
	}
	return true, nil
}

func (ca *CertificateAuthority) save() error {
	if ca.store == nil {
		return nil
	}
	keyDER, err := ca.rootKey.Marshal()
	if err != nil {
		return err
	}
	for key, v := range map[string]any{
		storageKeyRootKeyPair:     keyDER,
		storageKeyRootCert:        ca.rootCert,
		storageKeyRootCertID:      ca.rootCertID,
		storageKeyNextCertificate: ca.nextSerial,
	} {
		if err := ca.store.Set(key, v); err != nil {
			return err
		}
	}
	return nil
}

func (ca *CertificateAuthority) generate() error {
	key, err := crypto.GenerateKeyPair()
	if err != nil {
		return err
	}
	ca.rootKey = key
	id, err := crypto.RandomBytes(8)
	if err != nil {
		return err
	}
	ca.rootCertID = binary.BigEndian.Uint64(id) | 1
	ca.nextSerial = 1

	template := ca.template(Identity{RCACID: ca.rootCertID})
	template.IsCA = true
	template.BasicConstraintsValid = true
	template.KeyUsage = x509.KeyUsageCertSign | x509.KeyUsageCRLSign

	der, err := x509.CreateCertificate(rand.Reader, template, template, key.PublicKey(), key.PrivateKey())
	if err != nil {
		return fmt.Errorf("credentials: create root: %w", err)
	}
	ca.rootCert = der
	return nil
}

// template returns a certificate template with the next serial number.
// Callers hold ca.mu or are in the constructor.
func (ca *CertificateAuthority) template(id Identity) *x509.Certificate {
	now := ca.clock.Now()
	serial := new(big.Int).SetUint64(ca.nextSerial)
	ca.nextSerial++
	return &x509.Certificate{
		SerialNumber:       serial,
		Subject:            id.Name(),
		NotBefore:          now.Add(-certificateBackdate),
		NotAfter:           now.Add(ca.validity),
		SignatureAlgorithm: x509.ECDSAWithSHA256,
	}
}

// RootCertificate returns the DER root certificate.
func (ca *CertificateAuthority) RootCertificate() []byte {
	ca.mu.Lock()
	defer ca.mu.Unlock()
	return append([]byte(nil), ca.rootCert...)
}

// RootPublicKey returns the uncompressed root public key.
func (ca *CertificateAuthority) RootPublicKey() []byte {
	return ca.rootKey.PublicKeyBytes()
}

// IssueNOC signs a node operational certificate for publicKey.
func (ca *CertificateAuthority) IssueNOC(publicKey []byte, nodeID, fabricID uint64) ([]byte, error) {
	if nodeID == 0 {
		return nil, ErrMissingNodeID
	}
	if fabricID == 0 {
		return nil, ErrMissingFabricID
	}
	pub, err := crypto.ParsePublicKey(publicKey)
	if err != nil {
		return nil, ErrInvalidPublicKey
	}

	ca.mu.Lock()
	defer ca.mu.Unlock()

	parent, err := x509.ParseCertificate(ca.rootCert)
	if err != nil {
		return nil, err
	}

	template := ca.template(Identity{NodeID: nodeID, FabricID: fabricID})
	template.BasicConstraintsValid = true
	template.KeyUsage = x509.KeyUsageDigitalSignature
	template.ExtKeyUsage = []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth, x509.ExtKeyUsageServerAuth}

	der, err := x509.CreateCertificate(rand.Reader, template, parent, pub, ca.rootKey.PrivateKey())
	if err != nil {
		return nil, fmt.Errorf("credentials: create noc: %w", err)
	}
	if err := ca.saveSerial(); err != nil {
		return nil, err
	}
	ca.log.Debugf("issued NOC for node %016X on fabric %016X", nodeID, fabricID)
	return der, nil
}

// IssueNOCFromCSR validates a PKCS#10 request and issues a NOC for its key.
func (ca *CertificateAuthority) IssueNOCFromCSR(csrDER []byte, nodeID, fabricID uint64) ([]byte, error) {
	pub, err := PublicKeyFromCSR(csrDER)
	if err != nil {
		return nil, err
	}
	return ca.IssueNOC(pub, nodeID, fabricID)
}

func (ca *CertificateAuthority) saveSerial() error {
	if ca.store == nil {
		return nil
	}
	return ca.store.Set(storageKeyNextCertificate, ca.nextSerial)
}
