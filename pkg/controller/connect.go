package controller

import (
	"context"
	"strconv"
	"time"

	"go.uber.org/multierr"

	"github.com/Orzech99/matter.js/pkg/commissioning"
	"github.com/Orzech99/matter.js/pkg/discovery"
	"github.com/Orzech99/matter.js/pkg/errs"
	"github.com/Orzech99/matter.js/pkg/exchange"
	"github.com/Orzech99/matter.js/pkg/fabric"
	"github.com/Orzech99/matter.js/pkg/securechannel"
	"github.com/Orzech99/matter.js/pkg/transport"
)

// Connect returns the operational channel to nodeID, establishing a CASE
// session when none is open.
//
// The last known address is tried first. When it does not answer, the
// node is rediscovered while that address keeps being polled every
// ReconnectInterval; the first to succeed wins. Without a deadline on ctx
// this retries until the node is found. Concurrent calls for one node
// share a single attempt, which runs under the context of the call that
// started it.
func (c *Controller) Connect(ctx context.Context, nodeID fabric.NodeID) (*exchange.MessageChannel, error) {
	s, err := c.runningStack()
	if err != nil {
		return nil, err
	}
	ch, err := c.channels.GetChannel(c.fabric, nodeID)
	switch {
	case err == nil:
		return ch, nil
	case errs.KindOf(err) != errs.KindNoChannel:
		return nil, err
	}
	return c.resumeShared(ctx, s, nodeID, 0)
}

// Reconnect drops the channel to nodeID and connects again, giving up
// after a minute.
func (c *Controller) Reconnect(ctx context.Context, nodeID fabric.NodeID) (*exchange.MessageChannel, error) {
	s, err := c.runningStack()
	if err != nil {
		return nil, err
	}
	if err := c.channels.RemoveChannel(c.fabric, nodeID); err != nil {
		c.log.Debugf("Closing channel to node %s: %v", nodeID, err)
	}
	return c.resumeShared(ctx, s, nodeID, channelReconnectTimeout)
}

func (c *Controller) resumeShared(ctx context.Context, s *stack, nodeID fabric.NodeID, timeout time.Duration) (*exchange.MessageChannel, error) {
	key := strconv.FormatUint(uint64(nodeID), 16)
	results := c.resumes.DoChan(key, func() (any, error) {
		// A resume that finished since the caller's lookup already set it.
		if ch, err := c.channels.GetChannel(c.fabric, nodeID); err == nil {
			return ch, nil
		}
		ch, addr, err := c.resume(ctx, s, nodeID, timeout)
		if err != nil {
			return nil, err
		}
		if err := c.registry.setAddress(nodeID, addr); err != nil {
			c.log.Warnf("Storing address of node %s: %v", nodeID, err)
		}
		return ch, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-results:
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Val.(*exchange.MessageChannel), nil
	}
}

// resume establishes CASE with nodeID and makes the channel current. A
// zero timeout keeps trying until ctx is done. When a commissioned node
// cannot be reached its sessions and resumption record are dropped.
func (c *Controller) resume(ctx context.Context, s *stack, nodeID fabric.NodeID, timeout time.Duration) (*exchange.MessageChannel, transport.ServerAddress, error) {
	var known *transport.ServerAddress
	if d, ok := c.registry.get(nodeID); ok {
		known = d.OperationalAddress
	}

	ch, addr, err := c.connectOrDiscover(ctx, s, nodeID, known, timeout)
	if err != nil {
		switch errs.KindOf(err) {
		case errs.KindDiscovery, errs.KindRetransmissionLimit:
			if c.registry.has(nodeID) {
				c.log.Infof("Resume of node %s failed, removing its sessions", nodeID)
				if rerr := s.sessions.RemoveAllSessionsForNode(nodeID, false); rerr != nil {
					c.log.Debugf("Removing sessions of node %s: %v", nodeID, rerr)
				}
			}
		}
		return nil, transport.ServerAddress{}, err
	}
	c.channels.SetChannel(c.fabric, nodeID, ch)
	return ch, addr, nil
}

type pairResult struct {
	ch      *exchange.MessageChannel
	addr    transport.ServerAddress
	err     error
	polling bool
}

// connectOrDiscover tries the last known address, then races operational
// discovery against polling of that address. Polling only runs when the
// search is unbounded and stops once discovery has candidates.
func (c *Controller) connectOrDiscover(ctx context.Context, s *stack, nodeID fabric.NodeID, known *transport.ServerAddress, timeout time.Duration) (*exchange.MessageChannel, transport.ServerAddress, error) {
	if known != nil {
		ch, err := c.reconnectLastKnownAddress(ctx, s, nodeID, *known)
		if err != nil {
			return nil, transport.ServerAddress{}, err
		}
		if ch != nil {
			return ch, *known, nil
		}
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	pollCtx, stopPolling := context.WithCancel(ctx)
	defer stopPolling()
	discoverCtx, stopDiscovery := context.WithCancel(ctx)
	defer stopDiscovery()

	results := make(chan pairResult, 2)
	pending := 1
	if known != nil && timeout == 0 {
		pending++
		go func() {
			ch, err := c.pollLastKnownAddress(pollCtx, s, nodeID, *known)
			results <- pairResult{ch: ch, addr: *known, err: err, polling: true}
		}()
	}
	go func() {
		ch, addr, err := c.discoverAndPair(discoverCtx, s, nodeID, timeout == 0, stopPolling)
		results <- pairResult{ch: ch, addr: addr, err: err}
	}()

	var discoverErr, pollErr error
	for ; pending > 0; pending-- {
		r := <-results
		if r.err == nil {
			stopPolling()
			stopDiscovery()
			if pending > 1 {
				go closeLoser(results)
			}
			return r.ch, r.addr, nil
		}
		if r.polling {
			pollErr = r.err
		} else {
			discoverErr = r.err
		}
	}
	if discoverErr != nil {
		return nil, transport.ServerAddress{}, discoverErr
	}
	return nil, transport.ServerAddress{}, pollErr
}

// closeLoser drops a channel the losing branch established after the
// winner was chosen.
func closeLoser(results <-chan pairResult) {
	if r := <-results; r.err == nil {
		_ = r.ch.Close()
	}
}

// reconnectLastKnownAddress runs CASE against addr. A node that does not
// answer yields a nil channel and no error.
func (c *Controller) reconnectLastKnownAddress(ctx context.Context, s *stack, nodeID fabric.NodeID, addr transport.ServerAddress) (*exchange.MessageChannel, error) {
	c.log.Debugf("Resuming node %s at %s", nodeID, addr)
	ch, err := c.pair(ctx, s, nodeID, addr)
	switch {
	case err == nil:
		return ch, nil
	case errs.KindOf(err) == errs.KindRetransmissionLimit && ctx.Err() == nil:
		c.log.Debugf("Node %s did not answer at %s, discovering it: %v", nodeID, addr, err)
		return nil, nil
	case ctx.Err() != nil:
		return nil, ctx.Err()
	default:
		return nil, err
	}
}

// pollLastKnownAddress retries addr every ReconnectInterval until CASE
// succeeds, a non-retryable error occurs or ctx is done.
func (c *Controller) pollLastKnownAddress(ctx context.Context, s *stack, nodeID fabric.NodeID, addr transport.ServerAddress) (*exchange.MessageChannel, error) {
	ticker := c.config.Clock.Ticker(c.config.ReconnectInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
		c.log.Debugf("Polling node %s at %s", nodeID, addr)
		ch, err := c.reconnectLastKnownAddress(ctx, s, nodeID, addr)
		if err != nil || ch != nil {
			return ch, err
		}
	}
}

// discoverAndPair resolves the operational addresses of nodeID and runs
// CASE against each. found is called once candidates are known.
func (c *Controller) discoverAndPair(ctx context.Context, s *stack, nodeID fabric.NodeID, ignoreExisting bool, found func()) (*exchange.MessageChannel, transport.ServerAddress, error) {
	addrs, err := discovery.DiscoverOperationalDevice(ctx, c.fabric, nodeID, s.scanner, 0, ignoreExisting)
	if err != nil {
		return nil, transport.ServerAddress{}, err
	}
	found()

	return discovery.IterateServerAddresses(ctx, addrs, errs.KindRetransmissionLimit,
		func(context.Context) ([]transport.ServerAddress, error) {
			return s.scanner.GetDiscoveredOperationalDevices(c.fabric, nodeID), nil
		},
		func(ctx context.Context, addr transport.ServerAddress) (*exchange.MessageChannel, error) {
			return c.pair(ctx, s, nodeID, addr)
		})
}

// pair runs CASE with nodeID at addr. An address the host cannot reach
// counts as a node that did not answer.
func (c *Controller) pair(ctx context.Context, s *stack, nodeID fabric.NodeID, addr transport.ServerAddress) (*exchange.MessageChannel, error) {
	const op = "controller.pair"
	tch, err := s.exchanges.OpenChannel(ctx, addr)
	if err != nil {
		return nil, errs.E(errs.KindRetransmissionLimit, op, err)
	}
	sess, err := s.sessions.CreateUnsecureSession()
	if err != nil {
		_ = tch.Close()
		return nil, errs.E(errs.KindImplementation, op, err)
	}
	return s.caseClient.Pair(ctx, s.exchanges.NewMessageChannel(tch, sess), c.fabric, nodeID)
}

// Disconnect tells nodeID its session is closing and drops the channel.
// The resumption record is kept so the next Connect resumes cheaply.
func (c *Controller) Disconnect(ctx context.Context, nodeID fabric.NodeID) error {
	s, err := c.runningStack()
	if err != nil {
		return err
	}
	if ch, err := c.channels.GetChannel(c.fabric, nodeID); err == nil {
		ctx, cancel := context.WithTimeout(ctx, closeSessionTimeout)
		if err := securechannel.SendCloseSession(ctx, s.exchanges, ch); err != nil {
			c.log.Debugf("CloseSession to node %s: %v", nodeID, err)
		}
		cancel()
	}
	return multierr.Append(
		s.sessions.RemoveAllSessionsForNode(nodeID, true),
		c.channels.RemoveChannel(c.fabric, nodeID),
	)
}

// RemoveNode forgets nodeID: its sessions, resumption record, channel and
// registry entry. The device itself keeps the fabric.
func (c *Controller) RemoveNode(nodeID fabric.NodeID) error {
	s, err := c.runningStack()
	if err != nil {
		return err
	}
	c.log.Infof("Removing commissioned node %s", nodeID)
	return multierr.Combine(
		s.sessions.RemoveAllSessionsForNode(nodeID, false),
		s.sessions.DeleteResumptionRecord(nodeID),
		c.channels.RemoveChannel(c.fabric, nodeID),
		c.registry.remove(nodeID),
	)
}

// OpenCommissioningWindow asks a commissioned node to accept another
// commissioner with its own passcode for timeout.
func (c *Controller) OpenCommissioningWindow(ctx context.Context, nodeID fabric.NodeID, timeout time.Duration) error {
	if timeout < commissioning.MinWindowTimeout || timeout > commissioning.MaxWindowTimeout {
		return errs.Errorf(errs.KindValidation, "controller.OpenCommissioningWindow", "timeout %s out of range", timeout)
	}
	s, err := c.runningStack()
	if err != nil {
		return err
	}
	ch, err := c.Connect(ctx, nodeID)
	if err != nil {
		return err
	}
	req := &commissioning.OpenBasicCommissioningWindowRequest{CommissioningTimeout: uint16(timeout / time.Second)}
	return s.imClient.Invoke(ctx, ch, commissioning.PathOpenBasicCommissioningWindow, req, nil)
}
