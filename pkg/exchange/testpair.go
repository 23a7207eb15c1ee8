package exchange

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/pion/logging"
	"github.com/pion/transport/v3/vnet"
	"go.uber.org/multierr"

	"github.com/Orzech99/matter.js/pkg/session"
	"github.com/Orzech99/matter.js/pkg/storage"
	"github.com/Orzech99/matter.js/pkg/transport"
)

// TestNetwork is a virtual LAN for end-to-end tests of the layers above
// exchange. Frames travel through real UDP transports over pion's vnet.
//
// Usage:
//
//	network, _ := exchange.NewTestNetwork("10.0.0.1", "10.0.0.5")
//	defer network.Close()
//
//	controller, _ := network.NewNode(exchange.TestNodeConfig{IP: "10.0.0.1"})
//	device, _ := network.NewNode(exchange.TestNodeConfig{IP: "10.0.0.5", Port: 5540})
//	device.Exchanges.RegisterProtocol(protocolID, handler)
type TestNetwork struct {
	router *vnet.Router
	nets   map[string]*vnet.Net

	mu    sync.Mutex
	drop  func(from, to string, data []byte) bool
	nodes []*TestNode
}

// NewTestNetwork starts a router with one host per IP in 10.0.0.0/24.
func NewTestNetwork(ips ...string) (*TestNetwork, error) {
	router, err := vnet.NewRouter(&vnet.RouterConfig{
		CIDR:          "10.0.0.0/24",
		LoggerFactory: logging.NewDefaultLoggerFactory(),
	})
	if err != nil {
		return nil, err
	}

	tn := &TestNetwork{router: router, nets: make(map[string]*vnet.Net)}
	for _, ip := range ips {
		n, err := vnet.NewNet(&vnet.NetConfig{StaticIPs: []string{ip}})
		if err != nil {
			return nil, err
		}
		if err := router.AddNet(n); err != nil {
			return nil, err
		}
		tn.nets[ip] = n
	}
	router.AddChunkFilter(tn.filter)

	if err := router.Start(); err != nil {
		return nil, err
	}
	return tn, nil
}

func (tn *TestNetwork) filter(c vnet.Chunk) bool {
	tn.mu.Lock()
	drop := tn.drop
	tn.mu.Unlock()
	if drop == nil {
		return true
	}
	return !drop(hostOf(c.SourceAddr()), hostOf(c.DestinationAddr()), c.UserData())
}

func hostOf(addr net.Addr) string {
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}

// DropIf installs a packet filter. Datagrams for which drop returns true
// are lost. A nil drop delivers everything again.
func (tn *TestNetwork) DropIf(drop func(from, to string, data []byte) bool) {
	tn.mu.Lock()
	tn.drop = drop
	tn.mu.Unlock()
}

// Net returns the virtual host stack for ip.
func (tn *TestNetwork) Net(ip string) *vnet.Net { return tn.nets[ip] }

// TestNodeConfig configures a node on a TestNetwork.
type TestNodeConfig struct {
	// IP must be one of the network's IPs.
	IP string
	// Port to listen on. Zero picks an ephemeral port.
	Port uint16
	// Storage backs the session manager. Default: memory.
	Storage storage.Backend
	Clock   clock.Clock
}

// TestNode is a UDP transport with session and exchange managers.
type TestNode struct {
	UDP       *transport.UDP
	Sessions  *session.Manager
	Exchanges *Manager
	Address   transport.ServerAddress
}

// NewNode starts a node on the network. The network closes it.
func (tn *TestNetwork) NewNode(config TestNodeConfig) (*TestNode, error) {
	vn, ok := tn.nets[config.IP]
	if !ok {
		return nil, fmt.Errorf("exchange: %s is not on the test network", config.IP)
	}
	if config.Storage == nil {
		config.Storage = storage.NewMemoryBackend()
	}
	loggerFactory := logging.NewDefaultLoggerFactory()

	udp, err := transport.NewUDP(transport.UDPConfig{
		Net:           vn,
		ListenAddr:    net.JoinHostPort(config.IP, strconv.Itoa(int(config.Port))),
		LoggerFactory: loggerFactory,
	})
	if err != nil {
		return nil, err
	}

	sessions, err := session.NewManager(session.ManagerConfig{
		Storage:       storage.MustContext(config.Storage, storage.ContextSessionManager),
		Clock:         config.Clock,
		LoggerFactory: loggerFactory,
	})
	if err != nil {
		udp.Close()
		return nil, err
	}

	exchanges, err := NewManager(ManagerConfig{
		SessionManager: sessions,
		Clock:          config.Clock,
		LoggerFactory:  loggerFactory,
	})
	if err != nil {
		udp.Close()
		return nil, err
	}
	exchanges.AddTransportInterface(udp)

	addr, err := transport.ParseUDPAddress(udp.LocalAddr().String())
	if err != nil {
		exchanges.Close()
		return nil, err
	}

	node := &TestNode{UDP: udp, Sessions: sessions, Exchanges: exchanges, Address: addr}
	tn.mu.Lock()
	tn.nodes = append(tn.nodes, node)
	tn.mu.Unlock()
	return node, nil
}

// OpenUnsecured opens an initiator unsecured channel to addr.
func (n *TestNode) OpenUnsecured(ctx context.Context, addr transport.ServerAddress) (*MessageChannel, error) {
	ch, err := n.Exchanges.OpenChannel(ctx, addr)
	if err != nil {
		return nil, err
	}
	sess, err := n.Sessions.CreateUnsecureSession()
	if err != nil {
		return nil, err
	}
	return n.Exchanges.NewMessageChannel(ch, sess), nil
}

// Close stops the node.
func (n *TestNode) Close() error {
	return multierr.Append(n.Exchanges.Close(), n.Sessions.Close())
}

// Close stops every node and the router.
func (tn *TestNetwork) Close() error {
	tn.mu.Lock()
	nodes := tn.nodes
	tn.nodes = nil
	tn.mu.Unlock()

	var err error
	for _, n := range nodes {
		err = multierr.Append(err, n.Close())
	}
	return multierr.Append(err, tn.router.Stop())
}
