package discovery

import (
	"context"
	"net"
	"slices"
	"time"

	"github.com/grandcat/zeroconf"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/pion/logging"

	"github.com/Orzech99/matter.js/pkg/fabric"
	"github.com/Orzech99/matter.js/pkg/transport"
)

// Scanner cache defaults.
const (
	DefaultCacheSize = 128
	DefaultCacheTTL  = 2 * time.Minute
)

// MDNSResolver is the part of a DNS-SD resolver the scanner uses. Browse and
// Lookup stream entries until ctx is done and may return early.
type MDNSResolver interface {
	Browse(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error
	Lookup(ctx context.Context, instance, service, domain string, entries chan<- *zeroconf.ServiceEntry) error
}

// NewZeroconfResolver returns a resolver on all multicast interfaces.
func NewZeroconfResolver() (MDNSResolver, error) {
	r, err := zeroconf.NewResolver()
	if err != nil {
		return nil, err
	}
	return r, nil
}

// MDNSScannerConfig configures an MDNSScanner.
type MDNSScannerConfig struct {
	// Resolver defaults to NewZeroconfResolver().
	Resolver MDNSResolver

	CacheSize int
	CacheTTL  time.Duration

	LoggerFactory logging.LoggerFactory
}

// MDNSScanner discovers nodes with DNS-SD and caches what it has seen.
type MDNSScanner struct {
	log      logging.LeveledLogger
	resolver MDNSResolver

	commissionable *expirable.LRU[string, CommissionableDevice]
	operational    *expirable.LRU[string, []transport.ServerAddress]

	// done is cancelled by Close and stops every running query.
	done  context.Context
	close context.CancelFunc
}

// NewMDNSScanner creates a scanner.
func NewMDNSScanner(config MDNSScannerConfig) (*MDNSScanner, error) {
	if config.Resolver == nil {
		r, err := NewZeroconfResolver()
		if err != nil {
			return nil, err
		}
		config.Resolver = r
	}
	if config.CacheSize <= 0 {
		config.CacheSize = DefaultCacheSize
	}
	if config.CacheTTL <= 0 {
		config.CacheTTL = DefaultCacheTTL
	}
	if config.LoggerFactory == nil {
		config.LoggerFactory = logging.NewDefaultLoggerFactory()
	}
	done, cancel := context.WithCancel(context.Background())
	return &MDNSScanner{
		log:            config.LoggerFactory.NewLogger("discovery"),
		resolver:       config.Resolver,
		commissionable: expirable.NewLRU[string, CommissionableDevice](config.CacheSize, nil, config.CacheTTL),
		operational:    expirable.NewLRU[string, []transport.ServerAddress](config.CacheSize, nil, config.CacheTTL),
		done:           done,
		close:          cancel,
	}, nil
}

// FindCommissionableDevices implements Scanner.
func (s *MDNSScanner) FindCommissionableDevices(ctx context.Context, id Identifier) ([]CommissionableDevice, error) {
	if found := s.GetDiscoveredCommissionableDevices(id); len(found) > 0 {
		return found, nil
	}

	service := ServiceCommissionable
	if sub := id.subtype(); sub != "" {
		service += "," + sub
	}
	err := s.stream(ctx, func(ctx context.Context, entries chan<- *zeroconf.ServiceEntry) error {
		return s.resolver.Browse(ctx, service, DefaultDomain, entries)
	}, func(e *zeroconf.ServiceEntry) bool {
		d, ok := s.addCommissionable(e)
		return ok && id.Matches(&d)
	})
	if err != nil {
		return nil, err
	}
	return s.GetDiscoveredCommissionableDevices(id), nil
}

// GetDiscoveredCommissionableDevices implements Scanner.
func (s *MDNSScanner) GetDiscoveredCommissionableDevices(id Identifier) []CommissionableDevice {
	var out []CommissionableDevice
	for _, d := range s.commissionable.Values() {
		if id.Matches(&d) {
			out = append(out, d)
		}
	}
	return out
}

// FindOperationalDevice implements Scanner.
func (s *MDNSScanner) FindOperationalDevice(ctx context.Context, f *fabric.Fabric, nodeID fabric.NodeID, ignoreExisting bool) ([]transport.ServerAddress, error) {
	instance := f.OperationalInstanceName(nodeID)
	if ignoreExisting {
		s.operational.Remove(instance)
	} else if addrs, ok := s.operational.Get(instance); ok {
		return addrs, nil
	}

	err := s.stream(ctx, func(ctx context.Context, entries chan<- *zeroconf.ServiceEntry) error {
		return s.resolver.Lookup(ctx, instance, ServiceOperational, DefaultDomain, entries)
	}, func(e *zeroconf.ServiceEntry) bool {
		if e.Instance != instance {
			return false
		}
		addrs := entryAddresses(e)
		if len(addrs) == 0 {
			return false
		}
		s.operational.Add(instance, addrs)
		return true
	})
	if err != nil {
		return nil, err
	}
	return s.GetDiscoveredOperationalDevices(f, nodeID), nil
}

// GetDiscoveredOperationalDevices implements Scanner.
func (s *MDNSScanner) GetDiscoveredOperationalDevices(f *fabric.Fabric, nodeID fabric.NodeID) []transport.ServerAddress {
	addrs, _ := s.operational.Peek(f.OperationalInstanceName(nodeID))
	return addrs
}

// Close stops running queries and drops the caches.
func (s *MDNSScanner) Close() error {
	s.close()
	s.commissionable.Purge()
	s.operational.Purge()
	return nil
}

// stream runs query until match accepts an entry or ctx is done. A deadline
// is not an error: the caller reads whatever reached the cache.
func (s *MDNSScanner) stream(
	ctx context.Context,
	query func(context.Context, chan<- *zeroconf.ServiceEntry) error,
	match func(*zeroconf.ServiceEntry) bool,
) error {
	if s.done.Err() != nil {
		return ErrClosed
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.done, cancel)
	defer stop()

	entries := make(chan *zeroconf.ServiceEntry, 8)
	queryErr := make(chan error, 1)
	go func() { queryErr <- query(ctx, entries) }()

	for {
		select {
		case e, ok := <-entries:
			if !ok {
				return nil
			}
			if e != nil && match(e) {
				return nil
			}
		case err := <-queryErr:
			if err != nil {
				s.log.Warnf("mDNS query failed: %v", err)
				return err
			}
			queryErr = nil
		case <-ctx.Done():
			if ctx.Err() == context.DeadlineExceeded {
				return nil
			}
			if s.done.Err() != nil {
				return ErrClosed
			}
			return ctx.Err()
		}
	}
}

func (s *MDNSScanner) addCommissionable(e *zeroconf.ServiceEntry) (CommissionableDevice, bool) {
	txt, err := ParseCommissionableTXT(e.Text)
	if err != nil {
		s.log.Debugf("Ignoring %s: %v", e.Instance, err)
		return CommissionableDevice{}, false
	}
	d := CommissionableDevice{
		CommissionableTXT: txt,
		InstanceID:        e.Instance,
		Addresses:         entryAddresses(e),
	}
	if len(d.Addresses) == 0 {
		return d, false
	}
	if prev, ok := s.commissionable.Peek(e.Instance); ok {
		d.Addresses = mergeAddresses(slices.Clone(prev.Addresses), d.Addresses...)
	}
	s.commissionable.Add(e.Instance, d)
	s.log.Debugf("Found commissionable %s (D=%d) at %v", d.InstanceID, d.Discriminator, d.Addresses)
	return d, true
}

// entryAddresses lists the UDP addresses of an entry. IPv6 link-local
// addresses are skipped: the entry does not carry the zone needed to reach them.
func entryAddresses(e *zeroconf.ServiceEntry) []transport.ServerAddress {
	var addrs []transport.ServerAddress
	for _, ips := range [][]net.IP{e.AddrIPv6, e.AddrIPv4} {
		for _, ip := range ips {
			if ip.IsLinkLocalUnicast() && ip.To4() == nil {
				continue
			}
			addrs = mergeAddresses(addrs, transport.UDPAddress(ip.String(), uint16(e.Port)))
		}
	}
	return addrs
}
