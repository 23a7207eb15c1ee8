package exchange

import (
	"fmt"
	"sync"

	"go.uber.org/multierr"

	"github.com/Orzech99/matter.js/pkg/errs"
	"github.com/Orzech99/matter.js/pkg/fabric"
	"github.com/Orzech99/matter.js/pkg/session"
	"github.com/Orzech99/matter.js/pkg/transport"
)

// MessageChannel is a transport channel bound to one session.
type MessageChannel struct {
	manager *Manager
	channel transport.Channel
	session session.Session
}

// Name identifies the channel in logs.
func (c *MessageChannel) Name() string {
	return fmt.Sprintf("%s on %s", c.session, c.channel.Name())
}

// Channel returns the underlying transport channel.
func (c *MessageChannel) Channel() transport.Channel { return c.channel }

// Session returns the bound session.
func (c *MessageChannel) Session() session.Session { return c.session }

// RemoteAddress returns the peer's transport address.
func (c *MessageChannel) RemoteAddress() transport.ServerAddress { return c.channel.RemoteAddress() }

// IsClosed reports whether the bound session has closed.
func (c *MessageChannel) IsClosed() bool {
	select {
	case <-c.session.Done():
		return true
	default:
		return false
	}
}

// Close closes the session's exchanges and the session. The transport
// channel is shared between sessions and stays open.
func (c *MessageChannel) Close() error {
	return c.manager.CloseSession(c.session)
}

type peerKey struct {
	fabric fabric.FabricIndex
	node   fabric.NodeID
}

// ChannelManager tracks the operational channel to each peer node. A peer
// has at most one channel; setting a new one closes the previous one.
//
// Thread Safety: All methods are safe for concurrent use.
type ChannelManager struct {
	mu       sync.Mutex
	channels map[peerKey]*MessageChannel
}

// NewChannelManager creates an empty ChannelManager.
func NewChannelManager() *ChannelManager {
	return &ChannelManager{channels: make(map[peerKey]*MessageChannel)}
}

func keyFor(f *fabric.Fabric, nodeID fabric.NodeID) peerKey {
	k := peerKey{node: nodeID}
	if f != nil {
		k.fabric = f.Index()
	}
	return k
}

// SetChannel records ch as the channel to nodeID on f.
func (cm *ChannelManager) SetChannel(f *fabric.Fabric, nodeID fabric.NodeID, ch *MessageChannel) {
	k := keyFor(f, nodeID)
	cm.mu.Lock()
	old := cm.channels[k]
	cm.channels[k] = ch
	cm.mu.Unlock()

	if old != nil && old != ch {
		old.Close()
	}
}

// HasChannel reports whether an open channel to nodeID exists.
func (cm *ChannelManager) HasChannel(f *fabric.Fabric, nodeID fabric.NodeID) bool {
	_, err := cm.GetChannel(f, nodeID)
	return err == nil
}

// GetChannel returns the open channel to nodeID on f. A missing or closed
// channel is a NoChannel error.
func (cm *ChannelManager) GetChannel(f *fabric.Fabric, nodeID fabric.NodeID) (*MessageChannel, error) {
	k := keyFor(f, nodeID)
	cm.mu.Lock()
	defer cm.mu.Unlock()

	ch, ok := cm.channels[k]
	if ok && ch.IsClosed() {
		delete(cm.channels, k)
		ok = false
	}
	if !ok {
		return nil, errs.Errorf(errs.KindNoChannel, "exchange.GetChannel", "no channel to node %s", nodeID)
	}
	return ch, nil
}

// GetChannelForSession returns the tracked channel bound to sess.
func (cm *ChannelManager) GetChannelForSession(sess session.Session) (*MessageChannel, error) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	for _, ch := range cm.channels {
		if ch.session == sess && !ch.IsClosed() {
			return ch, nil
		}
	}
	return nil, errs.Errorf(errs.KindNoChannel, "exchange.GetChannelForSession", "no channel for %s", sess)
}

// RemoveChannel forgets and closes the channel to nodeID.
func (cm *ChannelManager) RemoveChannel(f *fabric.Fabric, nodeID fabric.NodeID) error {
	k := keyFor(f, nodeID)
	cm.mu.Lock()
	ch, ok := cm.channels[k]
	delete(cm.channels, k)
	cm.mu.Unlock()

	if !ok {
		return nil
	}
	return ch.Close()
}

// Close closes every tracked channel.
func (cm *ChannelManager) Close() error {
	cm.mu.Lock()
	channels := cm.channels
	cm.channels = make(map[peerKey]*MessageChannel)
	cm.mu.Unlock()

	var err error
	for _, ch := range channels {
		err = multierr.Append(err, ch.Close())
	}
	return err
}
