package controller

import (
	"context"
	"fmt"

	"go.uber.org/multierr"

	"github.com/Orzech99/matter.js/pkg/commissioning"
	"github.com/Orzech99/matter.js/pkg/discovery"
	"github.com/Orzech99/matter.js/pkg/errs"
	"github.com/Orzech99/matter.js/pkg/exchange"
	"github.com/Orzech99/matter.js/pkg/fabric"
	"github.com/Orzech99/matter.js/pkg/transport"
)

// Commission pairs with a device over PASE, commissions it onto the
// controller fabric and returns its node ID.
//
// A known address is tried first. If it does not answer, the device is
// discovered by its identifier exactly once more. Every discovered address
// is tried in turn; a wrong passcode aborts at once. On failure nothing is
// recorded.
func (c *Controller) Commission(ctx context.Context, options CommissionOptions) (fabric.NodeID, error) {
	s, err := c.runningStack()
	if err != nil {
		return fabric.NodeIDUnspecified, err
	}
	options = options.WithDefaults()
	if err := options.Validate(); err != nil {
		return fabric.NodeIDUnspecified, err
	}

	nodeID := options.NodeID
	if nodeID == fabric.NodeIDUnspecified {
		if nodeID, err = fabric.RandomOperationalNodeID(); err != nil {
			return fabric.NodeIDUnspecified, err
		}
	}

	commissioner, err := commissioning.NewCommissioner(commissioning.CommissionerConfig{
		Client:         s.imClient,
		CA:             c.ca,
		Fabric:         c.fabric,
		Exchanges:      s.exchanges,
		Regulatory:     options.Regulatory,
		Network:        options.Network,
		FailSafeExpiry: options.FailSafeExpiry,
		NetworkRetries: options.NetworkRetries,
		AdminVendorID:  c.fabric.RootVendorID(),
		Metrics:        c.config.Metrics,
		LoggerFactory:  c.config.LoggerFactory,
	})
	if err != nil {
		return fabric.NodeIDUnspecified, err
	}
	attempt := commissioner.NewAttempt(nodeID)
	if options.OnStateChanged != nil {
		defer attempt.OnStateChanged(options.OnStateChanged)()
	}

	paseCh, err := c.establishPase(ctx, s, attempt, options)
	if err != nil && options.KnownAddress != nil && errs.KindOf(err) == errs.KindRetransmissionLimit {
		c.log.Infof("Known address %s did not answer, discovering %s", options.KnownAddress, options.Identifier)
		options.KnownAddress = nil
		paseCh, err = c.establishPase(ctx, s, attempt, options)
	}
	if err != nil {
		attempt.Fail(err)
		return fabric.NodeIDUnspecified, err
	}
	return c.commissionDevice(ctx, s, commissioner, attempt, paseCh)
}

// establishPase finds the device and runs PASE against each candidate
// address until one succeeds.
func (c *Controller) establishPase(ctx context.Context, s *stack, attempt *commissioning.Attempt, options CommissionOptions) (*exchange.MessageChannel, error) {
	scanners, err := c.collectScanners(s, options.Capabilities)
	if err != nil {
		return nil, err
	}
	c.log.Infof("Commissioning device %s with %d scanners, known address %v", options.Identifier, len(scanners), options.KnownAddress)

	ctx, cancel := context.WithTimeout(ctx, options.DiscoveryTimeout)
	defer cancel()

	var candidates []transport.ServerAddress
	if options.KnownAddress != nil {
		candidates = []transport.ServerAddress{*options.KnownAddress}
	} else {
		candidates, err = discovery.DiscoverDeviceAddressesByIdentifier(ctx, scanners, options.Identifier, 0)
		if err != nil {
			return nil, err
		}
	}

	refresh := func(context.Context) ([]transport.ServerAddress, error) {
		var addrs []transport.ServerAddress
		for _, scanner := range scanners {
			for _, d := range scanner.GetDiscoveredCommissionableDevices(options.Identifier) {
				addrs = append(addrs, d.Addresses...)
			}
		}
		transport.SortServerAddresses(addrs)
		return addrs, nil
	}

	ch, addr, err := discovery.IterateServerAddresses(ctx, candidates, errs.KindRetransmissionLimit, refresh,
		func(ctx context.Context, addr transport.ServerAddress) (*exchange.MessageChannel, error) {
			attempt.BeginPase()
			ch, err := c.openPase(ctx, s, addr, options.Passcode)
			if err != nil {
				c.log.Debugf("PASE with %s failed: %v", addr, err)
				attempt.Restart(err)
			}
			return ch, err
		})
	if err != nil {
		return nil, err
	}
	c.log.Infof("PASE session with %s established", addr)
	return ch, nil
}

// openPase opens a channel to addr and runs PASE on it. An address the
// host cannot reach counts as a device that did not answer.
func (c *Controller) openPase(ctx context.Context, s *stack, addr transport.ServerAddress, passcode uint32) (*exchange.MessageChannel, error) {
	const op = "controller.openPase"
	tch, err := s.exchanges.OpenChannel(ctx, addr)
	if err != nil {
		return nil, errs.E(errs.KindRetransmissionLimit, op, err)
	}
	sess, err := s.sessions.CreateUnsecureSession()
	if err != nil {
		_ = tch.Close()
		return nil, errs.E(errs.KindImplementation, op, err)
	}
	return s.paseClient.Pair(ctx, s.exchanges.NewMessageChannel(tch, sess), passcode)
}

// commissionDevice runs the commissioning steps over paseCh and records
// the node once it has completed over CASE.
func (c *Controller) commissionDevice(ctx context.Context, s *stack, commissioner *commissioning.Commissioner, attempt *commissioning.Attempt, paseCh *exchange.MessageChannel) (fabric.NodeID, error) {
	nodeID := attempt.NodeID

	reconnect := func(ctx context.Context, nodeID fabric.NodeID) (*exchange.MessageChannel, error) {
		ch, _, err := c.resume(ctx, s, nodeID, commissioningReconnectTimeout)
		return ch, err
	}
	caseCh, err := commissioner.Run(ctx, attempt, paseCh, reconnect)
	if err != nil {
		attempt.Fail(err)
		_ = paseCh.Close()
		cleanup := multierr.Append(
			c.channels.RemoveChannel(c.fabric, nodeID),
			s.sessions.RemoveAllSessionsForNode(nodeID, false),
		)
		if cleanup != nil {
			c.log.Debugf("Cleaning up node %s: %v", nodeID, cleanup)
		}
		return fabric.NodeIDUnspecified, err
	}

	if err := c.registry.setAddress(nodeID, caseCh.RemoteAddress()); err != nil {
		return fabric.NodeIDUnspecified, fmt.Errorf("controller: storing node %s: %w", nodeID, err)
	}
	c.log.Infof("Commissioned node %s at %s", nodeID, caseCh.RemoteAddress())
	return nodeID, nil
}
