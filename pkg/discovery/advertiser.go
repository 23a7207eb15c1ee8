package discovery

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"net"
	"sync"

	"github.com/grandcat/zeroconf"
	"github.com/pion/logging"

	"github.com/Orzech99/matter.js/pkg/fabric"
	"github.com/Orzech99/matter.js/pkg/session"
	"github.com/Orzech99/matter.js/pkg/transport"
)

// MDNSServer is a live DNS-SD registration.
type MDNSServer interface {
	Shutdown()
}

// MDNSRegistrar publishes DNS-SD services.
type MDNSRegistrar interface {
	Register(instance, service, domain string, port int, txt []string, ifaces []net.Interface) (MDNSServer, error)
}

type zeroconfRegistrar struct{}

func (zeroconfRegistrar) Register(instance, service, domain string, port int, txt []string, ifaces []net.Interface) (MDNSServer, error) {
	s, err := zeroconf.Register(instance, service, domain, port, txt, ifaces)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// AdvertiserConfig configures an Advertiser.
type AdvertiserConfig struct {
	// Port defaults to transport.DefaultPort.
	Port int

	// Interfaces restricts the announcement. Nil means all interfaces.
	Interfaces []net.Interface

	// Registrar defaults to zeroconf.
	Registrar MDNSRegistrar

	LoggerFactory logging.LoggerFactory
}

// Advertiser announces a device: one commissionable record while a
// commissioning window is open, and one operational record per fabric.
type Advertiser struct {
	log       logging.LeveledLogger
	config    AdvertiserConfig
	registrar MDNSRegistrar

	mu             sync.Mutex
	closed         bool
	commissionable MDNSServer
	operational    map[string]MDNSServer
}

// NewAdvertiser creates an advertiser.
func NewAdvertiser(config AdvertiserConfig) *Advertiser {
	if config.Port <= 0 || config.Port > 0xFFFF {
		config.Port = transport.DefaultPort
	}
	if config.Registrar == nil {
		config.Registrar = zeroconfRegistrar{}
	}
	if config.LoggerFactory == nil {
		config.LoggerFactory = logging.NewDefaultLoggerFactory()
	}
	return &Advertiser{
		log:         config.LoggerFactory.NewLogger("discovery"),
		config:      config,
		registrar:   config.Registrar,
		operational: make(map[string]MDNSServer),
	}
}

// AdvertiseCommissionable publishes txt under a random instance name with the
// discriminator and vendor subtypes.
func (a *Advertiser) AdvertiseCommissionable(txt CommissionableTXT) (string, error) {
	if err := txt.Validate(); err != nil {
		return "", err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return "", ErrClosed
	}
	if a.commissionable != nil {
		return "", ErrAlreadyAdvertised
	}

	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", err
	}
	instance := fmt.Sprintf("%016X", binary.BigEndian.Uint64(buf[:]))

	service := fmt.Sprintf("%s,_S%d,_L%d", ServiceCommissionable, txt.Discriminator>>8, txt.Discriminator)
	if txt.VendorID != 0 {
		service += fmt.Sprintf(",_V%d", txt.VendorID)
	}
	if txt.CommissioningMode != CommissioningModeDisabled {
		service += ",_CM"
	}

	server, err := a.registrar.Register(instance, service, DefaultDomain, a.config.Port, txt.Encode(), a.config.Interfaces)
	if err != nil {
		return "", fmt.Errorf("discovery: register %s: %w", service, err)
	}
	a.commissionable = server
	a.log.Infof("Advertising commissionable %s (D=%d) on port %d", instance, txt.Discriminator, a.config.Port)
	return instance, nil
}

// StopCommissionable withdraws the commissionable record. It is a no-op when
// nothing is advertised.
func (a *Advertiser) StopCommissionable() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.commissionable != nil {
		a.commissionable.Shutdown()
		a.commissionable = nil
		a.log.Info("Stopped commissionable advertisement")
	}
}

// IsCommissionable reports whether the commissionable record is published.
func (a *Advertiser) IsCommissionable() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.commissionable != nil
}

// AdvertiseOperational publishes nodeID on f. Re-advertising replaces the
// previous record.
func (a *Advertiser) AdvertiseOperational(f *fabric.Fabric, params session.Params) error {
	instance := f.OperationalInstanceName(f.NodeID())

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return ErrClosed
	}
	if prev, ok := a.operational[instance]; ok {
		prev.Shutdown()
		delete(a.operational, instance)
	}

	server, err := a.registrar.Register(instance, ServiceOperational, DefaultDomain, a.config.Port, OperationalTXT(params), a.config.Interfaces)
	if err != nil {
		return fmt.Errorf("discovery: register %s: %w", instance, err)
	}
	a.operational[instance] = server
	a.log.Infof("Advertising operational %s", instance)
	return nil
}

// StopOperational withdraws the record of nodeID on f.
func (a *Advertiser) StopOperational(f *fabric.Fabric) {
	instance := f.OperationalInstanceName(f.NodeID())
	a.mu.Lock()
	defer a.mu.Unlock()
	if s, ok := a.operational[instance]; ok {
		s.Shutdown()
		delete(a.operational, instance)
	}
}

// Close withdraws every record.
func (a *Advertiser) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true

	if a.commissionable != nil {
		a.commissionable.Shutdown()
		a.commissionable = nil
	}
	for name, s := range a.operational {
		s.Shutdown()
		delete(a.operational, name)
	}
	return nil
}
