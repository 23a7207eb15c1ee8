// Package exchange multiplexes conversations over channels and makes
// their messages reliable.
//
// A MessageChannel binds a transport Channel to one session. An Exchange
// is one conversation for one protocol over a MessageChannel; the Manager
// routes inbound frames to exchanges, starts responder exchanges for
// registered protocols and runs the Message Reliability Protocol (MRP):
// acknowledgements, retransmission with exponential backoff and the
// transmission limit.
package exchange

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/pion/logging"
	"go.uber.org/multierr"

	"github.com/Orzech99/matter.js/pkg/crypto"
	"github.com/Orzech99/matter.js/pkg/errs"
	"github.com/Orzech99/matter.js/pkg/fabric"
	"github.com/Orzech99/matter.js/pkg/message"
	"github.com/Orzech99/matter.js/pkg/metrics"
	"github.com/Orzech99/matter.js/pkg/session"
	"github.com/Orzech99/matter.js/pkg/transport"
)

// ProtocolHandler serves exchanges opened by peers. HandleExchange runs on
// its own goroutine; the first message is already queued and is read with
// NextMessage. The handler owns the exchange and must close it.
type ProtocolHandler interface {
	HandleExchange(ex *Exchange)
}

// ProtocolHandlerFunc adapts a function to ProtocolHandler.
type ProtocolHandlerFunc func(ex *Exchange)

// HandleExchange implements ProtocolHandler.
func (f ProtocolHandlerFunc) HandleExchange(ex *Exchange) { f(ex) }

// ManagerConfig configures the exchange Manager.
type ManagerConfig struct {
	// SessionManager resolves inbound sessions. Required.
	SessionManager *session.Manager

	// Clock drives retransmission and ack timers. Default: wall clock.
	Clock clock.Clock

	// Random provides backoff jitter. Default: DefaultRandomSource.
	Random RandomSource

	// Metrics is optional.
	Metrics *metrics.Metrics

	LoggerFactory logging.LoggerFactory
}

// Manager routes frames between transports, sessions and exchanges.
//
// Thread Safety: All methods are safe for concurrent use.
type Manager struct {
	log      logging.LeveledLogger
	clock    clock.Clock
	backoff  *Backoff
	metrics  *metrics.Metrics
	sessions *session.Manager

	mu             sync.Mutex
	interfaces     map[transport.AddressType]transport.Interface
	exchanges      map[exchangeKey]*Exchange
	handlers       map[message.ProtocolID]ProtocolHandler
	nextExchangeID uint16
	closed         bool

	cancelObserver func()
	handlersWG     sync.WaitGroup
}

// NewManager creates an exchange manager on top of a session manager.
func NewManager(config ManagerConfig) (*Manager, error) {
	if config.SessionManager == nil {
		return nil, errs.New(errs.KindImplementation, "exchange: SessionManager is required")
	}
	if config.Clock == nil {
		config.Clock = clock.New()
	}
	if config.LoggerFactory == nil {
		config.LoggerFactory = logging.NewDefaultLoggerFactory()
	}

	m := &Manager{
		log:        config.LoggerFactory.NewLogger("exchange"),
		clock:      config.Clock,
		backoff:    NewBackoff(config.Random),
		metrics:    config.Metrics,
		sessions:   config.SessionManager,
		interfaces: make(map[transport.AddressType]transport.Interface),
		exchanges:  make(map[exchangeKey]*Exchange),
		handlers:   make(map[message.ProtocolID]ProtocolHandler),
	}
	if b, err := crypto.RandomBytes(2); err == nil {
		m.nextExchangeID = binary.LittleEndian.Uint16(b)
	}
	m.cancelObserver = config.SessionManager.OnSessionClosed(m.closeExchangesFor)
	return m, nil
}

// SessionManager returns the session manager the exchanges run on.
func (m *Manager) SessionManager() *session.Manager { return m.sessions }

// AddTransportInterface makes iface available to OpenChannel and routes its
// inbound frames through the manager.
func (m *Manager) AddTransportInterface(iface transport.Interface) {
	m.mu.Lock()
	m.interfaces[iface.Type()] = iface
	m.mu.Unlock()
	iface.OnData(m.onData)
	m.log.Debugf("Added %s transport", iface.Type())
}

// HasTransportInterface reports whether an interface serves t.
func (m *Manager) HasTransportInterface(t transport.AddressType) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.interfaces[t]
	return ok
}

// OpenChannel opens a transport channel to addr on the matching interface.
func (m *Manager) OpenChannel(ctx context.Context, addr transport.ServerAddress) (transport.Channel, error) {
	m.mu.Lock()
	iface, ok := m.interfaces[addr.Type]
	closed := m.closed
	m.mu.Unlock()

	if closed {
		return nil, ErrManagerClosed
	}
	if !ok {
		if addr.Type == transport.AddressTypeBLE {
			return nil, errs.E(errs.KindNoProvider, "exchange.OpenChannel", ErrNoInterface)
		}
		return nil, errs.E(errs.KindImplementation, "exchange.OpenChannel", ErrNoInterface)
	}
	return iface.OpenChannel(ctx, addr)
}

// NewMessageChannel binds a transport channel to a session.
func (m *Manager) NewMessageChannel(ch transport.Channel, sess session.Session) *MessageChannel {
	return &MessageChannel{manager: m, channel: ch, session: sess}
}

// RegisterProtocol routes exchanges opened by peers for protocolID to handler.
func (m *Manager) RegisterProtocol(protocolID message.ProtocolID, handler ProtocolHandler) {
	m.mu.Lock()
	m.handlers[protocolID] = handler
	m.mu.Unlock()
}

// UnregisterProtocol stops accepting exchanges for protocolID.
func (m *Manager) UnregisterProtocol(protocolID message.ProtocolID) {
	m.mu.Lock()
	delete(m.handlers, protocolID)
	m.mu.Unlock()
}

func (m *Manager) handler(protocolID message.ProtocolID) (ProtocolHandler, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.handlers[protocolID]
	return h, ok
}

// InitiateExchangeWithChannel opens an exchange as initiator on ch.
func (m *Manager) InitiateExchangeWithChannel(ch *MessageChannel, protocolID message.ProtocolID) (*Exchange, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrManagerClosed
	}
	select {
	case <-ch.session.Done():
		return nil, session.ErrSessionClosed
	default:
	}

	for range 1 << 16 {
		id := m.nextExchangeID
		m.nextExchangeID++
		key := exchangeKey{session: ch.session, id: id, initiator: true}
		if _, taken := m.exchanges[key]; taken {
			continue
		}
		ex := newExchange(m, ch, id, true, protocolID)
		m.exchanges[key] = ex
		m.metrics.ExchangeOpened(protocolID.String(), "outbound")
		return ex, nil
	}
	return nil, ErrExchangeIDExhausted
}

func (m *Manager) removeExchange(ex *Exchange) {
	m.mu.Lock()
	if m.exchanges[ex.key] == ex {
		delete(m.exchanges, ex.key)
	}
	m.mu.Unlock()
}

// ExchangeCount returns the number of open exchanges.
func (m *Manager) ExchangeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.exchanges)
}

func (m *Manager) exchangesFor(match func(*Exchange) bool) []*Exchange {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Exchange
	for _, ex := range m.exchanges {
		if match(ex) {
			out = append(out, ex)
		}
	}
	return out
}

func (m *Manager) closeExchangesFor(sess session.Session) {
	for _, ex := range m.exchangesFor(func(ex *Exchange) bool { return ex.key.session == sess }) {
		ex.Close()
	}
}

// CloseSession closes every exchange bound to sess, then the session.
func (m *Manager) CloseSession(sess session.Session) error {
	m.closeExchangesFor(sess)
	return sess.Close()
}

// onData runs on a transport read loop.
func (m *Manager) onData(ch transport.Channel, data []byte) {
	hdr, _, err := message.DecodeHeader(data)
	if err != nil {
		m.log.Debugf("Dropping frame from %s: %v", ch.Name(), err)
		return
	}

	var (
		sess session.Session
		f    *message.Frame
	)
	if hdr.IsSecure() {
		s, ok := m.sessions.GetSecureSession(hdr.SessionID)
		if !ok {
			m.log.Debugf("Dropping frame for unknown session %d from %s", hdr.SessionID, ch.Name())
			return
		}
		if f, err = s.Decode(data); err != nil {
			m.log.Debugf("Dropping frame for session %d: %v", hdr.SessionID, err)
			return
		}
		sess = s
	} else {
		if f, err = message.DecodeUnsecured(data); err != nil {
			m.log.Debugf("Dropping unsecured frame from %s: %v", ch.Name(), err)
			return
		}
		if sess = m.unsecureSessionFor(f); sess == nil {
			m.log.Debugf("Dropping unsecured frame from %s: no session", ch.Name())
			return
		}
	}

	mc := m.NewMessageChannel(ch, sess)
	proto := &f.Protocol

	if !sess.Accept(f.Header.Counter) {
		if proto.Reliable {
			m.sendStandaloneAck(mc, proto.ExchangeID, !proto.Initiator, f.Header.Counter)
		}
		return
	}

	key := exchangeKey{session: sess, id: proto.ExchangeID, initiator: !proto.Initiator}
	m.mu.Lock()
	ex := m.exchanges[key]
	m.mu.Unlock()

	standaloneAck := isStandaloneAck(proto)
	if ex != nil {
		if proto.Ack {
			ex.handleAck(proto.AckedCounter)
		}
		if !standaloneAck {
			ex.deliver(f)
		}
		return
	}
	if standaloneAck {
		return
	}

	handler, ok := m.handler(proto.ProtocolID)
	if !proto.Initiator || !ok {
		if proto.Reliable {
			m.sendStandaloneAck(mc, proto.ExchangeID, !proto.Initiator, f.Header.Counter)
		}
		m.log.Debugf("Dropping unsolicited %s opcode 0x%02x from %s", proto.ProtocolID, proto.Opcode, ch.Name())
		return
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	ex = newExchange(m, mc, proto.ExchangeID, false, proto.ProtocolID)
	m.exchanges[key] = ex
	m.handlersWG.Add(1)
	m.mu.Unlock()

	m.metrics.ExchangeOpened(proto.ProtocolID.String(), "inbound")
	ex.deliver(f)
	go func() {
		defer m.handlersWG.Done()
		handler.HandleExchange(ex)
	}()
}

// unsecureSessionFor finds the unsecured session of a clear-text frame.
// Responder sessions are created only for new exchanges of a registered
// protocol.
func (m *Manager) unsecureSessionFor(f *message.Frame) session.Session {
	switch {
	case f.Header.HasDestination:
		if s, ok := m.sessions.FindUnsecureSession(fabric.NodeID(f.Header.DestinationNodeID)); ok {
			return s
		}
	case f.Header.HasSource:
		peer := fabric.NodeID(f.Header.SourceNodeID)
		if s, ok := m.sessions.FindUnsecureSession(peer); ok {
			return s
		}
		if !f.Protocol.Initiator || isStandaloneAck(&f.Protocol) {
			return nil
		}
		if _, ok := m.handler(f.Protocol.ProtocolID); ok {
			return m.sessions.UnsecureSessionForPeer(peer)
		}
	}
	return nil
}

func isStandaloneAck(p *message.ProtocolHeader) bool {
	return p.ProtocolID == message.ProtocolSecureChannel && p.Opcode == OpcodeStandaloneAck
}

func (m *Manager) sendStandaloneAck(ch *MessageChannel, exchangeID uint16, initiator bool, counter uint32) {
	f := &message.Frame{
		Protocol: message.ProtocolHeader{
			ProtocolID:   message.ProtocolSecureChannel,
			Opcode:       OpcodeStandaloneAck,
			ExchangeID:   exchangeID,
			Initiator:    initiator,
			Ack:          true,
			AckedCounter: counter,
		},
	}
	data, err := ch.session.Encode(f)
	if err != nil {
		if !errors.Is(err, session.ErrSessionClosed) {
			m.log.Debugf("Encoding ack for %d failed: %v", counter, err)
		}
		return
	}
	if err := ch.channel.Send(context.Background(), data); err != nil {
		m.log.Debugf("Sending ack for %d failed: %v", counter, err)
	}
}

// Close closes every exchange and transport interface. Handler goroutines
// are awaited.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	interfaces := make([]transport.Interface, 0, len(m.interfaces))
	for _, iface := range m.interfaces {
		interfaces = append(interfaces, iface)
	}
	m.mu.Unlock()

	m.cancelObserver()
	for _, ex := range m.exchangesFor(func(*Exchange) bool { return true }) {
		ex.Close()
	}

	var err error
	for _, iface := range interfaces {
		err = multierr.Append(err, iface.Close())
	}
	m.handlersWG.Wait()
	return err
}
