package matter

import (
	"github.com/Orzech99/matter.js/pkg/commissioning/payload"
	"github.com/Orzech99/matter.js/pkg/fabric"
)

// setupPayload describes the node for both code formats.
func (n *Node) setupPayload() *payload.Payload {
	return &payload.Payload{
		VendorID:      uint16(n.config.VendorID),
		ProductID:     n.config.ProductID,
		Flow:          payload.FlowStandard,
		Capabilities:  payload.CapabilityOnNetwork,
		Discriminator: n.setup.Discriminator,
		Passcode:      n.setup.Passcode,
	}
}

// OnboardingPayload returns the QR code payload for this device.
//
// The result starts with "MT:".
func (n *Node) OnboardingPayload() (string, error) {
	return n.setupPayload().QRCode()
}

// ManualPairingCode returns the 11-digit manual pairing code.
func (n *Node) ManualPairingCode() (string, error) {
	return n.setupPayload().ManualCode()
}

// SetupInfo contains all information needed for pairing.
type SetupInfo struct {
	VendorID      fabric.VendorID
	ProductID     uint16
	Discriminator uint16
	Passcode      uint32

	// QRCode is the full QR code payload string.
	QRCode string

	// ManualCode is the manual pairing code.
	ManualCode string

	Port uint16
}

// GetSetupInfo returns all pairing information for the device.
func (n *Node) GetSetupInfo() (SetupInfo, error) {
	qr, err := n.OnboardingPayload()
	if err != nil {
		return SetupInfo{}, err
	}
	manual, err := n.ManualPairingCode()
	if err != nil {
		return SetupInfo{}, err
	}
	return SetupInfo{
		VendorID:      n.config.VendorID,
		ProductID:     n.config.ProductID,
		Discriminator: n.setup.Discriminator,
		Passcode:      n.setup.Passcode,
		QRCode:        qr,
		ManualCode:    manual,
		Port:          n.config.Port,
	}, nil
}
