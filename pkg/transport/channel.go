// Package transport carries raw message frames between peers.
//
// An Interface owns one kind of link (UDP socket, BLE central) and opens
// Channels to ServerAddresses. A Channel is a bidirectional byte-frame pipe
// to one peer; inbound frames from every channel of an interface are
// delivered to the handler registered with OnData.
package transport

import "context"

// MaxMessageSize is the largest frame accepted on IP transports.
const MaxMessageSize = 1280

// DefaultPort is the default operational port.
const DefaultPort = 5540

// Channel is a frame pipe to one peer.
type Channel interface {
	// Name identifies the channel in logs, e.g. "udp://10.0.0.5:5540".
	Name() string
	// RemoteAddress returns the peer address.
	RemoteAddress() ServerAddress
	// Send writes one frame.
	Send(ctx context.Context, data []byte) error
	// Close releases the channel. The owning interface stays open.
	Close() error
}

// DataHandler receives inbound frames. It runs on the interface read loop
// and must not block.
type DataHandler func(ch Channel, data []byte)

// Interface is a transport able to reach one address type.
type Interface interface {
	// Type returns the address type this interface serves.
	Type() AddressType
	// OpenChannel returns a channel to addr, reusing an existing one.
	OpenChannel(ctx context.Context, addr ServerAddress) (Channel, error)
	// OnData registers the inbound frame handler, replacing any previous one.
	OnData(handler DataHandler)
	// Close stops the interface and closes its channels.
	Close() error
}
