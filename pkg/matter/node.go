package matter

import (
	"context"
	"errors"
	"net"
	"strconv"
	"sync"

	"github.com/pion/logging"
	"go.uber.org/multierr"

	"github.com/Orzech99/matter.js/pkg/commissioning"
	"github.com/Orzech99/matter.js/pkg/discovery"
	"github.com/Orzech99/matter.js/pkg/exchange"
	"github.com/Orzech99/matter.js/pkg/fabric"
	"github.com/Orzech99/matter.js/pkg/im"
	"github.com/Orzech99/matter.js/pkg/securechannel"
	"github.com/Orzech99/matter.js/pkg/securechannel/casesession"
	"github.com/Orzech99/matter.js/pkg/securechannel/pase"
	"github.com/Orzech99/matter.js/pkg/session"
	"github.com/Orzech99/matter.js/pkg/storage"
	"github.com/Orzech99/matter.js/pkg/transport"
)

// Node is a commissionable device. It answers PASE while its commissioning
// window is open, serves the commissioning commands and answers CASE for
// every fabric it was commissioned into.
//
// Thread Safety: All methods are safe for concurrent use. OnStateChanged
// runs with the node lock held and must not call back into the node.
type Node struct {
	config   NodeConfig
	log      logging.LeveledLogger
	setup    *setupIdentity
	verifier *pase.Verifier

	fabrics     *fabric.Table
	credentials *nodeCredentials
	failSafe    *commissioning.FailSafeTimer
	networks    *commissioning.NetworkTable
	window      *commissioning.Window
	device      *commissioning.Device
	imServer    *im.Server

	mu         sync.RWMutex
	state      NodeState
	windowOpen bool

	// Set by Start.
	udp        *transport.UDP
	sessions   *session.Manager
	exchanges  *exchange.Manager
	dispatcher *securechannel.Dispatcher
	paseServer *pase.Server
	advertiser *discovery.Advertiser
}

// nodeCredentials reopens the commissioning window when an administrator
// removes the last fabric. Fabrics dropped by a fail-safe rollback do not.
type nodeCredentials struct {
	*commissioning.CredentialStore
	node *Node
}

func (c *nodeCredentials) RemoveFabric(index fabric.FabricIndex) error {
	if err := c.CredentialStore.RemoveFabric(index); err != nil {
		return err
	}
	if c.node.fabrics.Count() == 0 {
		go c.node.reopenWindow()
	}
	return nil
}

// NewNode creates a node with the given configuration. The node is created
// but not started; call Start() to begin operation.
func NewNode(config NodeConfig) (*Node, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	config = config.WithDefaults()

	n := &Node{
		config: config,
		log:    config.LoggerFactory.NewLogger("matter"),
		state:  NodeStateInitialized,
	}

	var err error
	n.setup, err = loadSetupIdentity(storage.MustContext(config.Storage, storage.ContextCommissioning), &config)
	if err != nil {
		return nil, err
	}
	n.verifier, err = pase.GenerateVerifier(n.setup.Passcode, n.setup.Salt, n.setup.Iterations)
	if err != nil {
		return nil, err
	}

	n.fabrics, err = fabric.NewTable(fabric.TableConfig{
		MaxFabrics: config.MaxFabrics,
		Storage:    storage.MustContext(config.Storage, storage.ContextFabricManager),
	})
	if err != nil {
		return nil, err
	}

	store, err := commissioning.NewCredentialStore(commissioning.CredentialStoreConfig{
		Fabrics:         n.fabrics,
		OnFabricAdded:   n.onFabricAdded,
		OnFabricRemoved: n.onFabricRemoved,
		LoggerFactory:   config.LoggerFactory,
	})
	if err != nil {
		return nil, err
	}
	n.credentials = &nodeCredentials{CredentialStore: store, node: n}

	regulatory, err := commissioning.NewRegulatoryState(config.Regulatory)
	if err != nil {
		return nil, err
	}
	n.failSafe = commissioning.NewFailSafeTimer(commissioning.FailSafeConfig{
		Clock:         config.Clock,
		LoggerFactory: config.LoggerFactory,
	})
	n.networks = commissioning.NewNetworkTable(commissioning.NetworkTableConfig{
		Features: config.NetworkFeatures,
		Connect:  config.ConnectNetwork,
	})
	n.window = commissioning.NewWindow(commissioning.WindowConfig{
		OnOpen:        n.onWindowOpen,
		OnClose:       n.onWindowClose,
		Clock:         config.Clock,
		LoggerFactory: config.LoggerFactory,
	})
	n.device, err = commissioning.NewDevice(commissioning.DeviceConfig{
		Credentials:    n.credentials,
		FailSafe:       n.failSafe,
		Regulatory:     regulatory,
		Network:        n.networks,
		Window:         n.window,
		OnCommissioned: n.onCommissioned,
		Clock:          config.Clock,
		LoggerFactory:  config.LoggerFactory,
	})
	if err != nil {
		return nil, err
	}
	n.imServer = im.NewServer(im.ServerConfig{LoggerFactory: config.LoggerFactory})
	n.device.Register(n.imServer)

	return n, nil
}

// Start binds the transport and begins serving. An uncommissioned node
// opens its commissioning window; a commissioned one advertises each of
// its fabrics.
func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()
	if !n.state.CanStart() {
		n.mu.Unlock()
		return ErrAlreadyStarted
	}
	n.setStateLocked(NodeStateStarting)

	if err := n.startStack(); err != nil {
		_ = n.stopStack()
		n.setStateLocked(NodeStateStopped)
		n.mu.Unlock()
		return err
	}
	for _, f := range n.fabrics.List() {
		if err := n.advertiser.AdvertiseOperational(f, n.config.Params); err != nil {
			n.log.Warnf("Advertising %s: %v", f, err)
		}
	}
	n.updateStateLocked()
	commissioned := n.fabrics.Count() > 0
	n.mu.Unlock()

	n.log.Infof("Node started on %s, %d fabrics", n.udp.LocalAddr(), n.fabrics.Count())
	if commissioned || ctx.Err() != nil {
		return ctx.Err()
	}
	return n.OpenCommissioningWindow(n.config.WindowTimeout)
}

// startStack builds the transport, session and exchange layers and the
// protocol servers on top of them. Caller must hold n.mu.
func (n *Node) startStack() error {
	lf := n.config.LoggerFactory

	var err error
	n.udp, err = transport.NewUDP(transport.UDPConfig{
		Net:           n.config.Net,
		ListenAddr:    net.JoinHostPort(n.config.ListenIP, strconv.Itoa(int(n.config.Port))),
		LoggerFactory: lf,
	})
	if err != nil {
		return err
	}

	n.sessions, err = session.NewManager(session.ManagerConfig{
		Storage:       storage.MustContext(n.config.Storage, storage.ContextSessionManager),
		Clock:         n.config.Clock,
		Metrics:       n.config.Metrics,
		LoggerFactory: lf,
	})
	if err != nil {
		return err
	}
	if err := n.sessions.InitFromStorage(n.fabrics.List()); err != nil {
		return err
	}

	n.exchanges, err = exchange.NewManager(exchange.ManagerConfig{
		SessionManager: n.sessions,
		Clock:          n.config.Clock,
		Metrics:        n.config.Metrics,
		LoggerFactory:  lf,
	})
	if err != nil {
		return err
	}
	n.exchanges.AddTransportInterface(n.udp)

	n.dispatcher = securechannel.NewDispatcher(n.exchanges, lf)
	caseServer, err := casesession.NewServer(casesession.ServerConfig{
		Exchanges:     n.exchanges,
		Fabrics:       n.fabrics,
		Params:        n.config.Params,
		Metrics:       n.config.Metrics,
		LoggerFactory: lf,
	})
	if err != nil {
		return err
	}
	caseServer.Register(n.dispatcher)

	n.paseServer, err = pase.NewServer(pase.ServerConfig{
		Exchanges:     n.exchanges,
		Verifier:      n.verifier,
		Salt:          n.setup.Salt,
		Iterations:    n.setup.Iterations,
		Params:        n.config.Params,
		Metrics:       n.config.Metrics,
		LoggerFactory: lf,
	})
	if err != nil {
		return err
	}

	n.imServer.Register(n.exchanges)
	n.advertiser = discovery.NewAdvertiser(discovery.AdvertiserConfig{
		Port:          int(n.config.Port),
		Registrar:     n.config.Registrar,
		LoggerFactory: lf,
	})
	return nil
}

// stopStack tears down what startStack built. Caller must hold n.mu.
func (n *Node) stopStack() error {
	var err error
	if n.advertiser != nil {
		err = multierr.Append(err, n.advertiser.Close())
	}
	switch {
	case n.exchanges != nil:
		// Closes the UDP interface too.
		err = multierr.Append(err, n.exchanges.Close())
	case n.udp != nil:
		err = multierr.Append(err, n.udp.Close())
	}
	if n.sessions != nil {
		err = multierr.Append(err, n.sessions.Close())
	}
	return err
}

// Stop withdraws every advertisement, rolls back an armed fail-safe and
// closes the transport.
func (n *Node) Stop() error {
	n.mu.Lock()
	if !n.state.CanStop() {
		n.mu.Unlock()
		if n.state == NodeStateStopped {
			return ErrAlreadyStopped
		}
		return ErrNotStarted
	}
	n.setStateLocked(NodeStateStopping)
	n.mu.Unlock()

	// Window hooks take the node lock.
	_ = n.window.CloseCommissioningWindow()
	if n.failSafe.IsArmed() {
		n.failSafe.Expire()
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	err := multierr.Append(n.device.Close(), n.stopStack())
	n.setStateLocked(NodeStateStopped)
	n.log.Info("Node stopped")
	return err
}

// State returns the current node state.
func (n *Node) State() NodeState {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.state
}

// Address returns the UDP address the node listens on. It is only valid
// after Start.
func (n *Node) Address() transport.ServerAddress {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.udp == nil {
		return transport.ServerAddress{}
	}
	addr, err := transport.ParseUDPAddress(n.udp.LocalAddr().String())
	if err != nil {
		return transport.ServerAddress{}
	}
	return addr
}

// IsCommissioned reports whether the node holds at least one fabric.
func (n *Node) IsCommissioned() bool {
	return n.fabrics.Count() > 0
}

// Fabrics returns the fabrics the node is commissioned into.
func (n *Node) Fabrics() []*fabric.Fabric {
	return n.fabrics.List()
}

// RemoveFabric removes the node from a fabric. Removing the last fabric
// reopens the commissioning window.
func (n *Node) RemoveFabric(index fabric.FabricIndex) error {
	if err := n.credentials.RemoveFabric(index); err != nil {
		if errors.Is(err, fabric.ErrFabricNotFound) {
			return ErrFabricNotFound
		}
		return err
	}
	return nil
}

// FailSafe exposes the node's fail-safe timer.
func (n *Node) FailSafe() *commissioning.FailSafeTimer { return n.failSafe }

// Networks exposes the node's network table.
func (n *Node) Networks() *commissioning.NetworkTable { return n.networks }

// SessionManager returns the node's session manager. It is nil before Start.
// Exposed for testing and advanced use cases.
func (n *Node) SessionManager() *session.Manager {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.sessions
}

// ExchangeManager returns the node's exchange manager. It is nil before
// Start.
func (n *Node) ExchangeManager() *exchange.Manager {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.exchanges
}

// setStateLocked records s and notifies. Caller must hold n.mu.
func (n *Node) setStateLocked(s NodeState) {
	if n.state == s {
		return
	}
	n.log.Debugf("State %s -> %s", n.state, s)
	n.state = s
	if n.config.OnStateChanged != nil {
		n.config.OnStateChanged(s)
	}
}

// updateStateLocked derives the running state from the window and the
// fabric table. Caller must hold n.mu.
func (n *Node) updateStateLocked() {
	if !n.state.IsRunning() && n.state != NodeStateStarting {
		return
	}
	switch {
	case n.windowOpen:
		n.setStateLocked(NodeStateCommissioningOpen)
	case n.fabrics.Count() > 0:
		n.setStateLocked(NodeStateCommissioned)
	default:
		n.setStateLocked(NodeStateUncommissioned)
	}
}

func (n *Node) onFabricAdded(f *fabric.Fabric) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.advertiser == nil {
		return
	}
	if err := n.advertiser.AdvertiseOperational(f, n.config.Params); err != nil {
		n.log.Warnf("Advertising %s: %v", f, err)
	}
	n.updateStateLocked()
}

func (n *Node) onFabricRemoved(f *fabric.Fabric) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.advertiser != nil {
		n.advertiser.StopOperational(f)
	}
	n.updateStateLocked()
}

func (n *Node) onCommissioned(f *fabric.Fabric) {
	n.log.Infof("Commissioned into %s as node %s", f, f.NodeID())
	if n.config.OnCommissioned != nil {
		n.config.OnCommissioned(f)
	}
}
