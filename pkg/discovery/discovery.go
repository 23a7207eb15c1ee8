// Package discovery finds commissionable and operational nodes and drives the
// address iteration used by commissioning and reconnection.
//
// Scanners are pluggable: MDNSScanner browses DNS-SD over the local network,
// StaticScanner serves a fixed table, and BLE scanners are provided by the
// host through the controller's BLE capability.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Orzech99/matter.js/pkg/fabric"
	"github.com/Orzech99/matter.js/pkg/transport"
)

// DNS-SD service types.
const (
	ServiceCommissionable = "_matterc._udp"
	ServiceOperational    = "_matter._tcp"
	DefaultDomain         = "local."
)

var (
	ErrClosed            = errors.New("discovery: closed")
	ErrAlreadyAdvertised = errors.New("discovery: already advertising")
	ErrInvalidTXT        = errors.New("discovery: invalid TXT record")
)

// Identifier selects commissionable devices. Zero fields match anything.
type Identifier struct {
	// InstanceID is the DNS-SD instance name.
	InstanceID string

	// Discriminator is a 12-bit value, or the upper 4 bits when
	// ShortDiscriminator is set.
	Discriminator      *uint16
	ShortDiscriminator bool

	VendorID  uint16
	ProductID uint16
}

// LongDiscriminator returns an Identifier for a 12-bit discriminator.
func LongDiscriminator(d uint16) Identifier {
	return Identifier{Discriminator: &d}
}

// ShortDiscriminatorID returns an Identifier for a 4-bit discriminator.
func ShortDiscriminatorID(d uint8) Identifier {
	v := uint16(d)
	return Identifier{Discriminator: &v, ShortDiscriminator: true}
}

// Matches reports whether d satisfies every set field of id.
func (id Identifier) Matches(d *CommissionableDevice) bool {
	if id.InstanceID != "" && !strings.EqualFold(id.InstanceID, d.InstanceID) {
		return false
	}
	if id.Discriminator != nil {
		want, got := *id.Discriminator, d.Discriminator
		if id.ShortDiscriminator {
			got >>= 8
		}
		if want != got {
			return false
		}
	}
	if id.VendorID != 0 && id.VendorID != d.VendorID {
		return false
	}
	if id.ProductID != 0 && id.ProductID != d.ProductID {
		return false
	}
	return true
}

// subtype returns the DNS-SD subtype narrowing a browse for id.
func (id Identifier) subtype() string {
	switch {
	case id.Discriminator != nil && id.ShortDiscriminator:
		return fmt.Sprintf("_S%d", *id.Discriminator)
	case id.Discriminator != nil:
		return fmt.Sprintf("_L%d", *id.Discriminator)
	case id.VendorID != 0:
		return fmt.Sprintf("_V%d", id.VendorID)
	}
	return ""
}

func (id Identifier) String() string {
	var parts []string
	if id.InstanceID != "" {
		parts = append(parts, "instance="+id.InstanceID)
	}
	if id.Discriminator != nil {
		kind := "long"
		if id.ShortDiscriminator {
			kind = "short"
		}
		parts = append(parts, fmt.Sprintf("%sDiscriminator=%d", kind, *id.Discriminator))
	}
	if id.VendorID != 0 {
		parts = append(parts, fmt.Sprintf("vendor=0x%04X", id.VendorID))
	}
	if id.ProductID != 0 {
		parts = append(parts, fmt.Sprintf("product=0x%04X", id.ProductID))
	}
	if len(parts) == 0 {
		return "{any}"
	}
	return "{" + strings.Join(parts, " ") + "}"
}

// CommissionableDevice is a device announcing that it accepts commissioning.
type CommissionableDevice struct {
	CommissionableTXT
	InstanceID string
	Addresses  []transport.ServerAddress
}

// Scanner finds devices over one discovery medium.
//
// Find methods block until at least one match is known or ctx is done, and
// return what was found. Get methods only read the scanner's cache.
type Scanner interface {
	FindCommissionableDevices(ctx context.Context, id Identifier) ([]CommissionableDevice, error)
	GetDiscoveredCommissionableDevices(id Identifier) []CommissionableDevice

	// FindOperationalDevice skips cached records when ignoreExisting is set.
	FindOperationalDevice(ctx context.Context, f *fabric.Fabric, nodeID fabric.NodeID, ignoreExisting bool) ([]transport.ServerAddress, error)
	GetDiscoveredOperationalDevices(f *fabric.Fabric, nodeID fabric.NodeID) []transport.ServerAddress

	Close() error
}

// mergeAddresses appends the addresses of b missing from a, then sorts UDP
// before BLE.
func mergeAddresses(a []transport.ServerAddress, b ...transport.ServerAddress) []transport.ServerAddress {
outer:
	for _, addr := range b {
		for _, have := range a {
			if have.Equal(addr) {
				continue outer
			}
		}
		a = append(a, addr)
	}
	transport.SortServerAddresses(a)
	return a
}
