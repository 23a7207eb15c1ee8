package discovery

import (
	"context"
	"net"
	"slices"
	"strings"
	"sync"

	"github.com/grandcat/zeroconf"
)

// MemoryMDNS is an in-process DNS-SD bus. Registrars bound to an IP publish
// into it and it answers Browse and Lookup like a network resolver, so an
// Advertiser and an MDNSScanner can find each other without multicast.
type MemoryMDNS struct {
	mu      sync.Mutex
	records []*memoryRecord
	changed chan struct{}
}

type memoryRecord struct {
	bus      *MemoryMDNS
	entry    *zeroconf.ServiceEntry
	subtypes []string
}

func (r *memoryRecord) Shutdown() {
	b := r.bus
	b.mu.Lock()
	defer b.mu.Unlock()
	b.records = slices.DeleteFunc(b.records, func(o *memoryRecord) bool { return o == r })
}

// NewMemoryMDNS creates an empty bus.
func NewMemoryMDNS() *MemoryMDNS {
	return &MemoryMDNS{changed: make(chan struct{})}
}

// Registrar returns a registrar whose records resolve to ip.
func (b *MemoryMDNS) Registrar(ip string) MDNSRegistrar {
	return memoryRegistrar{bus: b, ip: net.ParseIP(ip)}
}

type memoryRegistrar struct {
	bus *MemoryMDNS
	ip  net.IP
}

func (r memoryRegistrar) Register(instance, service, domain string, port int, txt []string, _ []net.Interface) (MDNSServer, error) {
	base, subtypes := splitService(service)
	entry := &zeroconf.ServiceEntry{
		ServiceRecord: zeroconf.ServiceRecord{Instance: instance, Service: base, Domain: domain},
		HostName:      instance + "." + domain,
		Port:          port,
		Text:          slices.Clone(txt),
	}
	if r.ip.To4() != nil {
		entry.AddrIPv4 = []net.IP{r.ip}
	} else {
		entry.AddrIPv6 = []net.IP{r.ip}
	}

	rec := &memoryRecord{bus: r.bus, entry: entry, subtypes: subtypes}
	b := r.bus
	b.mu.Lock()
	b.records = append(b.records, rec)
	close(b.changed)
	b.changed = make(chan struct{})
	b.mu.Unlock()
	return rec, nil
}

// Browse implements MDNSResolver.
func (b *MemoryMDNS) Browse(ctx context.Context, service, _ string, entries chan<- *zeroconf.ServiceEntry) error {
	base, subtypes := splitService(service)
	return b.stream(ctx, entries, func(r *memoryRecord) bool {
		if r.entry.Service != base {
			return false
		}
		for _, st := range subtypes {
			if !slices.Contains(r.subtypes, st) {
				return false
			}
		}
		return true
	})
}

// Lookup implements MDNSResolver.
func (b *MemoryMDNS) Lookup(ctx context.Context, instance, service, _ string, entries chan<- *zeroconf.ServiceEntry) error {
	return b.stream(ctx, entries, func(r *memoryRecord) bool {
		return r.entry.Service == service && r.entry.Instance == instance
	})
}

// stream sends every matching record once, then keeps watching for new
// registrations until ctx is done.
func (b *MemoryMDNS) stream(ctx context.Context, entries chan<- *zeroconf.ServiceEntry, match func(*memoryRecord) bool) error {
	sent := make(map[*memoryRecord]bool)
	for {
		b.mu.Lock()
		var pending []*memoryRecord
		for _, r := range b.records {
			if !sent[r] && match(r) {
				pending = append(pending, r)
			}
		}
		changed := b.changed
		b.mu.Unlock()

		for _, r := range pending {
			sent[r] = true
			select {
			case entries <- r.entry:
			case <-ctx.Done():
				return nil
			}
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return nil
		}
	}
}

// splitService splits "_svc._udp,_sub1,_sub2".
func splitService(service string) (string, []string) {
	parts := strings.Split(service, ",")
	return parts[0], parts[1:]
}
