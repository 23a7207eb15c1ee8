// Package controller implements a Matter controller: it commissions devices
// onto its own fabric and keeps operational CASE channels to them.
//
// Example usage:
//
//	ctrl, _ := controller.NewController(controller.ControllerConfig{
//		Storage: backend,
//	})
//	ctrl.Start()
//	defer ctrl.Stop()
//
//	nodeID, err := ctrl.Commission(ctx, controller.CommissionOptions{
//		Passcode:   20202021,
//		Identifier: discovery.LongDiscriminator(3840),
//	})
//	ch, err := ctrl.Connect(ctx, nodeID)
package controller

import (
	"errors"
	"fmt"
	"sync"

	"github.com/pion/logging"
	"go.uber.org/multierr"
	"golang.org/x/sync/singleflight"

	"github.com/Orzech99/matter.js/pkg/credentials"
	"github.com/Orzech99/matter.js/pkg/crypto"
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

// Errors
var (
	ErrNotStarted     = errors.New("controller: not started")
	ErrAlreadyStarted = errors.New("controller: already started")
)

// Controller commissions devices and connects to commissioned nodes.
//
// Thread Safety: All methods are safe for concurrent use. Concurrent
// Connect calls for one node share a single resume.
type Controller struct {
	config ControllerConfig
	log    logging.LeveledLogger

	ca       *credentials.CertificateAuthority
	fabric   *fabric.Fabric
	store    *storage.Context
	registry *nodeRegistry
	channels *exchange.ChannelManager

	resumes singleflight.Group

	mu      sync.Mutex
	running *stack

	observersMu  sync.Mutex
	observers    map[uint64]func(fabric.NodeID)
	nextObserver uint64
}

// NewController restores the controller fabric, certificate authority and
// commissioned nodes from storage, creating the fabric and authority on
// first use.
func NewController(config ControllerConfig) (*Controller, error) {
	config = config.WithDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}

	c := &Controller{
		config:    config,
		log:       config.LoggerFactory.NewLogger("controller"),
		channels:  exchange.NewChannelManager(),
		observers: make(map[uint64]func(fabric.NodeID)),
	}

	var err error
	c.ca, err = credentials.NewCertificateAuthority(credentials.CertificateAuthorityConfig{
		Storage:       storage.MustContext(config.Storage, storage.ContextCertificates),
		Clock:         config.Clock,
		LoggerFactory: config.LoggerFactory,
	})
	if err != nil {
		return nil, fmt.Errorf("controller: certificate authority: %w", err)
	}

	c.store = storage.MustContext(config.Storage, storage.ContextController)
	c.fabric, err = c.loadFabric()
	if err != nil {
		return nil, err
	}
	c.registry, err = loadNodeRegistry(c.store)
	if err != nil {
		return nil, fmt.Errorf("controller: commissioned nodes: %w", err)
	}

	c.log.Infof("Controller node %s on %s, %d commissioned nodes", c.fabric.NodeID(), c.fabric, c.registry.len())
	return c, nil
}

// loadFabric restores the stored fabric or builds a new one under the
// certificate authority and stores it.
func (c *Controller) loadFabric() (*fabric.Fabric, error) {
	var obj fabric.StorageObject
	err := c.store.Get(storageKeyFabric, &obj)
	switch {
	case err == nil:
		f, err := fabric.CreateFromStorageObject(obj)
		if err != nil {
			return nil, fmt.Errorf("controller: stored fabric: %w", err)
		}
		return f, nil
	case !errors.Is(err, storage.ErrNotFound):
		return nil, err
	}

	rootNodeID, err := fabric.RandomOperationalNodeID()
	if err != nil {
		return nil, err
	}
	ipk, err := crypto.RandomBytes(fabric.IPKSize)
	if err != nil {
		return nil, err
	}
	b, err := fabric.NewBuilder()
	if err != nil {
		return nil, err
	}
	if err := b.SetRootCert(c.ca.RootCertificate()); err != nil {
		return nil, err
	}
	noc, err := c.ca.IssueNOC(b.KeyPair().PublicKeyBytes(), uint64(rootNodeID), uint64(c.config.AdminFabricID))
	if err != nil {
		return nil, err
	}
	if err := b.SetOperationalCert(noc); err != nil {
		return nil, err
	}
	if err := b.SetIdentityProtectionKey(ipk); err != nil {
		return nil, err
	}
	b.SetRootNodeID(rootNodeID)
	b.SetRootVendorID(c.config.AdminVendorID)

	f, err := b.Build(c.config.AdminFabricIndex)
	if err != nil {
		return nil, err
	}
	if obj, err = f.ToStorageObject(); err != nil {
		return nil, err
	}
	if err := c.store.Set(storageKeyFabric, obj); err != nil {
		return nil, err
	}
	c.log.Infof("Created fabric %s", f)
	return f, nil
}

// stack is what Start creates and Stop releases.
type stack struct {
	udp        *transport.UDP
	sessions   *session.Manager
	exchanges  *exchange.Manager
	paseClient *pase.Client
	caseClient *casesession.Client
	imClient   *im.Client

	scanner     discovery.Scanner
	ownsScanner bool

	bleMu sync.Mutex
	ble   discovery.Scanner

	cancelSessionObserver func()
}

// Start opens the operational transport and restores the resumption
// records of the controller fabric.
func (c *Controller) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running != nil {
		return ErrAlreadyStarted
	}
	s := &stack{}
	if err := c.startStack(s); err != nil {
		_ = c.stopStack(s)
		return err
	}
	c.running = s
	c.log.Infof("Controller listening on %s", s.udp.LocalAddr())
	return nil
}

func (c *Controller) startStack(s *stack) error {
	var err error
	lf := c.config.LoggerFactory

	s.scanner = c.config.Scanner
	if s.scanner == nil {
		s.scanner, err = discovery.NewMDNSScanner(discovery.MDNSScannerConfig{LoggerFactory: lf})
		if err != nil {
			return fmt.Errorf("controller: mDNS scanner: %w", err)
		}
		s.ownsScanner = true
	}

	s.udp, err = transport.NewUDP(transport.UDPConfig{
		Net:           c.config.Net,
		ListenAddr:    c.config.ListenAddr,
		LoggerFactory: lf,
	})
	if err != nil {
		return err
	}

	s.sessions, err = session.NewManager(session.ManagerConfig{
		Storage:       storage.MustContext(c.config.Storage, storage.ContextSessionManager),
		Clock:         c.config.Clock,
		Metrics:       c.config.Metrics,
		LoggerFactory: lf,
	})
	if err != nil {
		return err
	}
	if err := s.sessions.InitFromStorage([]*fabric.Fabric{c.fabric}); err != nil {
		return err
	}
	s.cancelSessionObserver = s.sessions.OnSessionClosed(c.onSessionClosed)

	s.exchanges, err = exchange.NewManager(exchange.ManagerConfig{
		SessionManager: s.sessions,
		Clock:          c.config.Clock,
		Metrics:        c.config.Metrics,
		LoggerFactory:  lf,
	})
	if err != nil {
		return err
	}
	s.exchanges.AddTransportInterface(s.udp)

	// Answers CloseSession reports from peers.
	securechannel.NewDispatcher(s.exchanges, lf)

	s.paseClient, err = pase.NewClient(pase.ClientConfig{
		Exchanges:     s.exchanges,
		Params:        c.config.Params,
		Metrics:       c.config.Metrics,
		LoggerFactory: lf,
	})
	if err != nil {
		return err
	}
	s.caseClient, err = casesession.NewClient(casesession.ClientConfig{
		Exchanges:     s.exchanges,
		Params:        c.config.Params,
		Metrics:       c.config.Metrics,
		LoggerFactory: lf,
	})
	if err != nil {
		return err
	}
	s.imClient, err = im.NewClient(im.ClientConfig{Exchanges: s.exchanges, LoggerFactory: lf})
	return err
}

// stopStack releases what startStack created. The exchange manager closes
// the transports it was given.
func (c *Controller) stopStack(s *stack) error {
	var err error
	if s.cancelSessionObserver != nil {
		s.cancelSessionObserver()
	}
	err = multierr.Append(err, c.channels.Close())
	switch {
	case s.exchanges != nil:
		err = multierr.Append(err, s.exchanges.Close())
	case s.udp != nil:
		err = multierr.Append(err, s.udp.Close())
	}
	if s.sessions != nil {
		err = multierr.Append(err, s.sessions.Close())
	}
	if s.ownsScanner {
		err = multierr.Append(err, s.scanner.Close())
	}
	return err
}

// Stop closes every channel, session and transport. Stored state is kept,
// so the controller can be started again.
func (c *Controller) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running == nil {
		return nil
	}
	s := c.running
	c.running = nil
	return c.stopStack(s)
}

// IsStarted reports whether Start succeeded and Stop was not called.
func (c *Controller) IsStarted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running != nil
}

// runningStack returns the running stack, or ErrNotStarted.
func (c *Controller) runningStack() (*stack, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running == nil {
		return nil, ErrNotStarted
	}
	return c.running, nil
}

// NodeID returns the controller's own node ID on its fabric.
func (c *Controller) NodeID() fabric.NodeID { return c.fabric.NodeID() }

// Fabric returns the controller fabric.
func (c *Controller) Fabric() *fabric.Fabric { return c.fabric }

// CertificateAuthority returns the root authority of the fabric.
func (c *Controller) CertificateAuthority() *credentials.CertificateAuthority { return c.ca }

// Address returns the local UDP address, or the zero address when stopped.
func (c *Controller) Address() transport.ServerAddress {
	s, err := c.runningStack()
	if err != nil {
		return transport.ServerAddress{}
	}
	addr, err := transport.ParseUDPAddress(s.udp.LocalAddr().String())
	if err != nil {
		return transport.ServerAddress{}
	}
	return addr
}

// SessionManager returns the session manager, or nil when stopped.
func (c *Controller) SessionManager() *session.Manager {
	if s, err := c.runningStack(); err == nil {
		return s.sessions
	}
	return nil
}

// InteractionClient returns the client used to invoke commands on nodes,
// or nil when stopped.
func (c *Controller) InteractionClient() *im.Client {
	if s, err := c.runningStack(); err == nil {
		return s.imClient
	}
	return nil
}

// IsCommissioned reports whether any node is commissioned.
func (c *Controller) IsCommissioned() bool { return c.registry.len() > 0 }

// GetCommissionedNodes returns the IDs of the commissioned nodes in
// ascending order.
func (c *Controller) GetCommissionedNodes() []fabric.NodeID { return c.registry.ids() }

// GetCommissionedNodeDetails returns what is known about nodeID.
func (c *Controller) GetCommissionedNodeDetails(nodeID fabric.NodeID) (NodeDetails, bool) {
	return c.registry.get(nodeID)
}

// OnPeerDisconnected registers fn to run when a secure session to a peer
// closes. The returned function cancels the registration.
func (c *Controller) OnPeerDisconnected(fn func(nodeID fabric.NodeID)) (cancel func()) {
	c.observersMu.Lock()
	id := c.nextObserver
	c.nextObserver++
	c.observers[id] = fn
	c.observersMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.observersMu.Lock()
			delete(c.observers, id)
			c.observersMu.Unlock()
		})
	}
}

func (c *Controller) onSessionClosed(s session.Session) {
	if s.Type() != session.TypeCASE {
		return
	}
	nodeID := s.PeerNodeID()
	c.log.Debugf("Session %s to node %s closed", s, nodeID)

	c.observersMu.Lock()
	fns := make([]func(fabric.NodeID), 0, len(c.observers))
	for _, fn := range c.observers {
		fns = append(fns, fn)
	}
	c.observersMu.Unlock()

	for _, fn := range fns {
		fn(nodeID)
	}
}
