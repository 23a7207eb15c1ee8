package discovery

import (
	"context"
	"sync"

	"github.com/Orzech99/matter.js/pkg/fabric"
	"github.com/Orzech99/matter.js/pkg/transport"
)

// StaticScanner serves a table of known devices. Find methods wait until a
// matching entry is added or ctx is done.
type StaticScanner struct {
	mu             sync.Mutex
	commissionable []CommissionableDevice
	operational    map[string][]transport.ServerAddress
	changed        chan struct{}
	closed         bool
}

// NewStaticScanner creates an empty scanner.
func NewStaticScanner() *StaticScanner {
	return &StaticScanner{
		operational: make(map[string][]transport.ServerAddress),
		changed:     make(chan struct{}),
	}
}

// AddCommissionable registers a commissionable device.
func (s *StaticScanner) AddCommissionable(d CommissionableDevice) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commissionable = append(s.commissionable, d)
	s.notifyLocked()
}

// RemoveCommissionable drops every device with the given instance ID.
func (s *StaticScanner) RemoveCommissionable(instanceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.commissionable[:0]
	for _, d := range s.commissionable {
		if d.InstanceID != instanceID {
			kept = append(kept, d)
		}
	}
	s.commissionable = kept
}

// SetOperational records the addresses of nodeID on f. Nil removes them.
func (s *StaticScanner) SetOperational(f *fabric.Fabric, nodeID fabric.NodeID, addrs ...transport.ServerAddress) {
	s.mu.Lock()
	defer s.mu.Unlock()
	name := f.OperationalInstanceName(nodeID)
	if len(addrs) == 0 {
		delete(s.operational, name)
		return
	}
	s.operational[name] = mergeAddresses(nil, addrs...)
	s.notifyLocked()
}

func (s *StaticScanner) notifyLocked() {
	if s.closed {
		return
	}
	close(s.changed)
	s.changed = make(chan struct{})
}

// wait polls lookup until it yields results or ctx is done.
func wait[T any](ctx context.Context, s *StaticScanner, lookup func() []T) ([]T, error) {
	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return nil, ErrClosed
		}
		changed := s.changed
		s.mu.Unlock()

		if found := lookup(); len(found) > 0 {
			return found, nil
		}
		select {
		case <-changed:
		case <-ctx.Done():
			if ctx.Err() == context.DeadlineExceeded {
				return nil, nil
			}
			return nil, ctx.Err()
		}
	}
}

// FindCommissionableDevices implements Scanner.
func (s *StaticScanner) FindCommissionableDevices(ctx context.Context, id Identifier) ([]CommissionableDevice, error) {
	return wait(ctx, s, func() []CommissionableDevice { return s.GetDiscoveredCommissionableDevices(id) })
}

// GetDiscoveredCommissionableDevices implements Scanner.
func (s *StaticScanner) GetDiscoveredCommissionableDevices(id Identifier) []CommissionableDevice {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []CommissionableDevice
	for _, d := range s.commissionable {
		if id.Matches(&d) {
			out = append(out, d)
		}
	}
	return out
}

// FindOperationalDevice implements Scanner. The table has no stale records,
// so ignoreExisting has no effect.
func (s *StaticScanner) FindOperationalDevice(ctx context.Context, f *fabric.Fabric, nodeID fabric.NodeID, _ bool) ([]transport.ServerAddress, error) {
	return wait(ctx, s, func() []transport.ServerAddress { return s.GetDiscoveredOperationalDevices(f, nodeID) })
}

// GetDiscoveredOperationalDevices implements Scanner.
func (s *StaticScanner) GetDiscoveredOperationalDevices(f *fabric.Fabric, nodeID fabric.NodeID) []transport.ServerAddress {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]transport.ServerAddress(nil), s.operational[f.OperationalInstanceName(nodeID)]...)
}

// Close wakes pending Find calls with ErrClosed.
func (s *StaticScanner) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.changed)
	}
	return nil
}
