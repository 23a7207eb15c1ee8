package matter

import (
	"errors"
	"time"

	"github.com/Orzech99/matter.js/pkg/commissioning"
	"github.com/Orzech99/matter.js/pkg/discovery"
)

// OpenCommissioningWindow opens the commissioning window with the node's
// own passcode. A zero timeout keeps it open until commissioning completes
// or CloseCommissioningWindow is called.
//
// For uncommissioned nodes, the window is opened automatically by Start().
func (n *Node) OpenCommissioningWindow(timeout time.Duration) error {
	if !n.State().IsRunning() {
		return ErrNotStarted
	}
	return n.window.OpenCommissioningWindow(timeout)
}

// CloseCommissioningWindow closes the commissioning window.
func (n *Node) CloseCommissioningWindow() error {
	return n.window.CloseCommissioningWindow()
}

// IsCommissioningWindowOpen reports whether PASE is accepted.
func (n *Node) IsCommissioningWindowOpen() bool {
	return n.window.IsCommissioningWindowOpen()
}

// reopenWindow runs after the last fabric was removed.
func (n *Node) reopenWindow() {
	err := n.OpenCommissioningWindow(n.config.WindowTimeout)
	switch {
	case err == nil:
		n.log.Info("Last fabric removed, commissioning window reopened")
	case errors.Is(err, commissioning.ErrWindowAlreadyOpen), errors.Is(err, ErrNotStarted):
	default:
		n.log.Warnf("Reopening commissioning window: %v", err)
	}
}

// onWindowOpen starts answering PASE and announces the node as
// commissionable. It runs with the window lock held.
func (n *Node) onWindowOpen() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.state.IsRunning() {
		return ErrNotStarted
	}

	txt := discovery.CommissionableTXT{
		Discriminator:     n.setup.Discriminator,
		CommissioningMode: discovery.CommissioningModeBasic,
		VendorID:          uint16(n.config.VendorID),
		ProductID:         n.config.ProductID,
		DeviceName:        n.config.DeviceName,
		Params:            n.config.Params,
	}
	if _, err := n.advertiser.AdvertiseCommissionable(txt); err != nil {
		return err
	}
	n.paseServer.Register(n.dispatcher)
	n.windowOpen = true
	n.updateStateLocked()
	return nil
}

// onWindowClose stops answering PASE. Established PASE sessions stay up
// until their commissioner closes them.
func (n *Node) onWindowClose() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.paseServer != nil {
		n.paseServer.Unregister(n.dispatcher)
	}
	if n.advertiser != nil {
		n.advertiser.StopCommissionable()
	}
	n.windowOpen = false
	n.updateStateLocked()
}
