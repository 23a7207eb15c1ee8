package controller

import (
	"slices"
	"time"

	"github.com/Orzech99/matter.js/pkg/commissioning"
	"github.com/Orzech99/matter.js/pkg/commissioning/payload"
	"github.com/Orzech99/matter.js/pkg/discovery"
	"github.com/Orzech99/matter.js/pkg/errs"
	"github.com/Orzech99/matter.js/pkg/fabric"
	"github.com/Orzech99/matter.js/pkg/transport"
)

// CommissionOptions describes one device to commission.
type CommissionOptions struct {
	// Passcode is the device setup passcode. Required.
	Passcode uint32

	// Identifier selects the device to discover.
	Identifier discovery.Identifier

	// Device is a device found by an earlier scan. It replaces Identifier
	// and its preferred address becomes KnownAddress.
	Device *discovery.CommissionableDevice

	// KnownAddress is tried before any discovery. When it does not answer,
	// the device is discovered by Identifier once.
	KnownAddress *transport.ServerAddress

	// Capabilities selects the discovery media. Default: on-network, plus
	// BLE when Device was seen over BLE.
	Capabilities payload.DiscoveryCapabilities

	// DiscoveryTimeout bounds discovery and the PASE attempts.
	// Default: DefaultDiscoveryTimeout.
	DiscoveryTimeout time.Duration

	// NodeID is assigned to the device. Zero draws a random operational ID.
	NodeID fabric.NodeID

	// Regulatory defaults to Outdoor in country "XX".
	Regulatory commissioning.RegulatoryConfig

	// Network holds the Wi-Fi or Thread credentials for devices that need
	// them.
	Network commissioning.NetworkCredentials

	FailSafeExpiry time.Duration
	NetworkRetries int

	// OnStateChanged observes the commissioning attempt.
	OnStateChanged func(commissioning.State)
}

// WithDefaults returns a copy where unset fields take their default and a
// set Device is folded into Identifier and KnownAddress.
func (o CommissionOptions) WithDefaults() CommissionOptions {
	if o.DiscoveryTimeout == 0 {
		o.DiscoveryTimeout = DefaultDiscoveryTimeout
	}
	if o.Device != nil {
		addrs := slices.Clone(o.Device.Addresses)
		if o.Capabilities != 0 && !o.Capabilities.Has(payload.CapabilityBLE) {
			addrs = slices.DeleteFunc(addrs, func(a transport.ServerAddress) bool {
				return a.Type == transport.AddressTypeBLE
			})
		} else if o.Capabilities == 0 {
			o.Capabilities = payload.CapabilityOnNetwork
			if slices.ContainsFunc(addrs, func(a transport.ServerAddress) bool { return a.Type == transport.AddressTypeBLE }) {
				o.Capabilities |= payload.CapabilityBLE
			}
		}
		transport.SortServerAddresses(addrs)
		if len(addrs) > 0 {
			o.KnownAddress = &addrs[0]
		}
		if o.Device.InstanceID != "" {
			o.Identifier = discovery.Identifier{InstanceID: o.Device.InstanceID}
		} else {
			o.Identifier = discovery.LongDiscriminator(o.Device.Discriminator)
		}
		o.Device = nil
	}
	if o.Capabilities == 0 {
		o.Capabilities = payload.CapabilityOnNetwork
	}
	return o
}

// Validate rejects forbidden passcodes, non-operational node IDs and
// malformed addresses.
func (o *CommissionOptions) Validate() error {
	const op = "controller.CommissionOptions"
	if err := payload.ValidatePasscode(o.Passcode); err != nil {
		return errs.E(errs.KindValidation, op, err)
	}
	if o.NodeID != fabric.NodeIDUnspecified && !o.NodeID.IsOperational() {
		return errs.Errorf(errs.KindValidation, op, "%s is not an operational node ID", o.NodeID)
	}
	if o.KnownAddress != nil && !o.KnownAddress.IsValid() {
		return errs.Errorf(errs.KindValidation, op, "invalid known address %s", o.KnownAddress)
	}
	if o.DiscoveryTimeout < 0 {
		return errs.Errorf(errs.KindValidation, op, "negative discovery timeout %s", o.DiscoveryTimeout)
	}
	return nil
}
