package controller

import (
	"github.com/Orzech99/matter.js/pkg/commissioning/payload"
	"github.com/Orzech99/matter.js/pkg/discovery"
	"github.com/Orzech99/matter.js/pkg/errs"
	"github.com/Orzech99/matter.js/pkg/transport"
)

// BLEProvider exposes a host BLE stack to the controller. Either method
// may fail with a NoProvider error when the radio is unavailable.
type BLEProvider interface {
	// CentralInterface returns the transport that opens BLE channels.
	CentralInterface() (transport.Interface, error)

	// Scanner returns the scanner for BLE advertisements.
	Scanner() (discovery.Scanner, error)
}

// collectScanners returns the scanners for capabilities. The IP scanner is
// always used. The BLE stack is attached on first use; a missing provider
// is logged and skipped.
func (c *Controller) collectScanners(s *stack, capabilities payload.DiscoveryCapabilities) ([]discovery.Scanner, error) {
	scanners := []discovery.Scanner{s.scanner}

	if capabilities.Has(payload.CapabilityBLE) {
		scanner, err := c.bleScanner(s)
		switch {
		case err == nil:
			scanners = append(scanners, scanner)
		case errs.KindOf(err) == errs.KindNoProvider:
			c.log.Warnf("BLE is not supported on this host, the device might not be found: %v", err)
		default:
			return nil, err
		}
	}
	if capabilities.Has(payload.CapabilitySoftAP) {
		c.log.Info("SoftAP discovery is not supported")
	}
	return scanners, nil
}

func (c *Controller) bleScanner(s *stack) (discovery.Scanner, error) {
	const op = "controller.BLE"
	s.bleMu.Lock()
	defer s.bleMu.Unlock()
	if s.ble != nil {
		return s.ble, nil
	}
	if c.config.BLE == nil {
		return nil, errs.New(errs.KindNoProvider, "controller: no BLE provider configured")
	}

	iface, err := c.config.BLE.CentralInterface()
	if err != nil {
		return nil, errs.E(errs.KindOf(err), op, err)
	}
	scanner, err := c.config.BLE.Scanner()
	if err != nil {
		_ = iface.Close()
		return nil, errs.E(errs.KindOf(err), op, err)
	}
	s.exchanges.AddTransportInterface(iface)
	s.ble = scanner
	return scanner, nil
}
