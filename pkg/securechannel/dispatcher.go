package securechannel

import (
	"context"
	"sync"
	"time"

	"github.com/pion/logging"

	"github.com/Orzech99/matter.js/pkg/exchange"
)

// Responder continues a peer-initiated handshake. It owns ex and must
// close it when done.
type Responder interface {
	HandleHandshake(ex *exchange.Exchange, first *exchange.Message)
}

// ResponderFunc adapts a function to a Responder.
type ResponderFunc func(ex *exchange.Exchange, first *exchange.Message)

// HandleHandshake calls f(ex, first).
func (f ResponderFunc) HandleHandshake(ex *exchange.Exchange, first *exchange.Message) { f(ex, first) }

// firstMessageTimeout bounds the wait for the message that opened an
// exchange. It is already queued when the handler runs.
const firstMessageTimeout = time.Second

// Dispatcher is the exchange handler for the secure channel protocol.
// PASE and CASE share the protocol ID, so the opening opcode decides which
// responder runs.
type Dispatcher struct {
	log       logging.LeveledLogger
	exchanges *exchange.Manager

	mu         sync.RWMutex
	responders map[Opcode]Responder
}

// NewDispatcher creates a dispatcher and registers it with exchanges.
func NewDispatcher(exchanges *exchange.Manager, loggerFactory logging.LoggerFactory) *Dispatcher {
	if loggerFactory == nil {
		loggerFactory = logging.NewDefaultLoggerFactory()
	}
	d := &Dispatcher{
		log:        loggerFactory.NewLogger("securechannel"),
		exchanges:  exchanges,
		responders: make(map[Opcode]Responder),
	}
	exchanges.RegisterProtocol(ProtocolID, d)
	return d
}

// Handle routes exchanges opened with op to r. A nil r removes the route.
func (d *Dispatcher) Handle(op Opcode, r Responder) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if r == nil {
		delete(d.responders, op)
		return
	}
	d.responders[op] = r
}

func (d *Dispatcher) responder(op Opcode) (Responder, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	r, ok := d.responders[op]
	return r, ok
}

// HandleExchange implements exchange.ProtocolHandler.
func (d *Dispatcher) HandleExchange(ex *exchange.Exchange) {
	ctx, cancel := context.WithTimeout(context.Background(), firstMessageTimeout)
	msg, err := ex.NextMessage(ctx)
	cancel()
	if err != nil {
		_ = ex.Close()
		return
	}

	op := Opcode(msg.Opcode)
	if op == OpcodeStatusReport {
		d.handleStatusReport(ex, msg)
		return
	}

	r, ok := d.responder(op)
	if !ok {
		d.log.Debugf("No responder for %s on %s", op, ex.Session())
		if err := Abort(ex, InvalidParam()); err != nil {
			d.log.Debugf("%v", err)
		}
		_ = ex.Close()
		if !ex.Session().IsSecure() {
			_ = ex.Session().Close()
		}
		return
	}
	r.HandleHandshake(ex, msg)
}

// handleStatusReport processes unsolicited reports. Only CloseSession on a
// secure session has an effect.
func (d *Dispatcher) handleStatusReport(ex *exchange.Exchange, msg *exchange.Message) {
	sess := ex.Session()
	sr, err := DecodeStatusReport(msg.Payload)
	if err != nil || !sr.IsCloseSession() || !sess.IsSecure() {
		d.log.Debugf("Ignoring unsolicited status report on %s", sess)
		_ = ex.Close()
		return
	}

	d.log.Infof("Peer closed %s", sess)
	if err := d.exchanges.CloseSession(sess); err != nil {
		d.log.Debugf("Closing %s: %v", sess, err)
	}
}

// SendCloseSession notifies the peer that the secure session on ch is
// being closed. The caller closes the session afterwards.
func SendCloseSession(ctx context.Context, exchanges *exchange.Manager, ch *exchange.MessageChannel) error {
	ex, err := exchanges.InitiateExchangeWithChannel(ch, ProtocolID)
	if err != nil {
		return err
	}
	defer ex.Close()
	return SendStatus(ctx, ex, CloseSession())
}
