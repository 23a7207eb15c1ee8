package transport

import (
	"context"
	"errors"
	"net"
	"sync"

	"github.com/pion/logging"
	pionnet "github.com/pion/transport/v3"
	"github.com/pion/transport/v3/stdnet"
)

// UDPConfig configures the UDP interface.
type UDPConfig struct {
	// Net is the network stack. Default: the host network (stdnet).
	// Tests inject a vnet.Net.
	Net pionnet.Net

	// ListenAddr is the address to listen on (e.g. ":5540"). Default ":0".
	ListenAddr string

	// LoggerFactory is the factory for creating loggers.
	LoggerFactory logging.LoggerFactory
}

// UDP is an Interface over one UDP socket. It keeps one channel per remote
// address; frames from unknown remotes open a channel implicitly.
type UDP struct {
	conn net.PacketConn
	log  logging.LeveledLogger

	mu       sync.RWMutex
	handler  DataHandler
	channels map[string]*udpChannel
	closed   bool

	wg sync.WaitGroup
}

// NewUDP opens the socket and starts the read loop.
func NewUDP(config UDPConfig) (*UDP, error) {
	if config.Net == nil {
		n, err := stdnet.NewNet()
		if err != nil {
			return nil, err
		}
		config.Net = n
	}
	if config.ListenAddr == "" {
		config.ListenAddr = ":0"
	}
	if config.LoggerFactory == nil {
		config.LoggerFactory = logging.NewDefaultLoggerFactory()
	}

	conn, err := config.Net.ListenPacket("udp4", config.ListenAddr)
	if err != nil {
		return nil, err
	}

	u := &UDP{
		conn:     conn,
		log:      config.LoggerFactory.NewLogger("transport-udp"),
		channels: make(map[string]*udpChannel),
	}
	u.log.Infof("listening on %s", conn.LocalAddr())

	u.wg.Add(1)
	go u.readLoop()
	return u, nil
}

// Type implements Interface.
func (u *UDP) Type() AddressType { return AddressTypeUDP }

// LocalAddr returns the socket address.
func (u *UDP) LocalAddr() net.Addr { return u.conn.LocalAddr() }

// OnData implements Interface.
func (u *UDP) OnData(handler DataHandler) {
	u.mu.Lock()
	u.handler = handler
	u.mu.Unlock()
}

// OpenChannel implements Interface.
func (u *UDP) OpenChannel(_ context.Context, addr ServerAddress) (Channel, error) {
	if addr.Type != AddressTypeUDP {
		return nil, ErrUnsupportedAddress
	}
	if !addr.IsValid() {
		return nil, ErrInvalidAddress
	}
	return u.channel(addr.UDPAddr())
}

func (u *UDP) channel(raddr *net.UDPAddr) (*udpChannel, error) {
	key := raddr.String()

	u.mu.Lock()
	defer u.mu.Unlock()

	if u.closed {
		return nil, ErrClosed
	}
	if ch, ok := u.channels[key]; ok {
		return ch, nil
	}
	ch := &udpChannel{udp: u, raddr: raddr, key: key, addr: UDPAddressFromNet(raddr)}
	u.channels[key] = ch
	return ch, nil
}

// Close implements Interface.
func (u *UDP) Close() error {
	u.mu.Lock()
	if u.closed {
		u.mu.Unlock()
		return nil
	}
	u.closed = true
	u.channels = make(map[string]*udpChannel)
	u.mu.Unlock()

	u.log.Info("closing UDP interface")
	err := u.conn.Close()
	u.wg.Wait()
	return err
}

func (u *UDP) readLoop() {
	defer u.wg.Done()

	buf := make([]byte, MaxMessageSize)
	for {
		n, addr, err := u.conn.ReadFrom(buf)
		if err != nil {
			u.mu.RLock()
			closed := u.closed
			u.mu.RUnlock()
			if closed || errors.Is(err, net.ErrClosed) {
				return
			}
			u.log.Warnf("read error: %v", err)
			continue
		}
		if n == 0 {
			continue
		}

		raddr, ok := addr.(*net.UDPAddr)
		if !ok {
			continue
		}
		ch, err := u.channel(raddr)
		if err != nil {
			return
		}

		data := make([]byte, n)
		copy(data, buf[:n])
		u.log.Tracef("received %d bytes from %s", n, raddr)

		u.mu.RLock()
		handler := u.handler
		u.mu.RUnlock()
		if handler != nil {
			handler(ch, data)
		}
	}
}

func (u *UDP) release(ch *udpChannel) {
	u.mu.Lock()
	if cur, ok := u.channels[ch.key]; ok && cur == ch {
		delete(u.channels, ch.key)
	}
	u.mu.Unlock()
}

type udpChannel struct {
	udp   *UDP
	raddr *net.UDPAddr
	key   string
	addr  ServerAddress
}

func (c *udpChannel) Name() string { return c.addr.String() }

func (c *udpChannel) RemoteAddress() ServerAddress { return c.addr }

func (c *udpChannel) Send(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(data) > MaxMessageSize {
		return ErrMessageTooLarge
	}
	c.udp.mu.RLock()
	closed := c.udp.closed
	c.udp.mu.RUnlock()
	if closed {
		return ErrClosed
	}
	c.udp.log.Tracef("sending %d bytes to %s", len(data), c.raddr)
	_, err := c.udp.conn.WriteTo(data, c.raddr)
	return err
}

func (c *udpChannel) Close() error {
	c.udp.release(c)
	return nil
}
