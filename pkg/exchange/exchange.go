package exchange

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/Orzech99/matter.js/pkg/errs"
	"github.com/Orzech99/matter.js/pkg/message"
	"github.com/Orzech99/matter.js/pkg/session"
)

// OpcodeStandaloneAck is the secure channel opcode of an MRP standalone ack.
const OpcodeStandaloneAck uint8 = 0x10

// Message is an inbound message on an exchange.
type Message struct {
	ProtocolID message.ProtocolID
	Opcode     uint8
	Payload    []byte
}

type exchangeKey struct {
	session   session.Session
	id        uint16
	initiator bool
}

// retransmission is the one reliable message an exchange may have in flight.
type retransmission struct {
	counter uint32
	data    []byte
	sends   int
	timer   *clock.Timer
	result  chan error
}

// Exchange is one conversation for one protocol over a MessageChannel.
// The initiator allocates the exchange ID; both sides close their end
// explicitly.
//
// Thread Safety: Send, NextMessage and Close may be called concurrently.
type Exchange struct {
	manager   *Manager
	channel   *MessageChannel
	key       exchangeKey
	protocol  message.ProtocolID
	inbox     chan *Message
	done      chan struct{}
	closeOnce sync.Once

	mu         sync.Mutex
	pending    *retransmission
	ackCounter uint32
	ackSet     bool
	ackTimer   *clock.Timer
}

func newExchange(m *Manager, ch *MessageChannel, id uint16, initiator bool, protocol message.ProtocolID) *Exchange {
	return &Exchange{
		manager:  m,
		channel:  ch,
		key:      exchangeKey{session: ch.session, id: id, initiator: initiator},
		protocol: protocol,
		inbox:    make(chan *Message, inboxSize),
		done:     make(chan struct{}),
	}
}

// ID returns the exchange ID.
func (e *Exchange) ID() uint16 { return e.key.id }

// IsInitiator reports whether the local node opened the exchange.
func (e *Exchange) IsInitiator() bool { return e.key.initiator }

// ProtocolID returns the protocol the exchange carries.
func (e *Exchange) ProtocolID() message.ProtocolID { return e.protocol }

// Channel returns the channel the exchange runs on.
func (e *Exchange) Channel() *MessageChannel { return e.channel }

// Session returns the session of the exchange's channel.
func (e *Exchange) Session() session.Session { return e.channel.session }

// Done is closed when the exchange closes.
func (e *Exchange) Done() <-chan struct{} { return e.done }

func (e *Exchange) closed() bool {
	select {
	case <-e.done:
		return true
	default:
		return false
	}
}

// Send transmits a reliable message and blocks until the peer acknowledged
// it. After MaxTransmissions unacknowledged sends it fails with a
// RetransmissionLimit error and the exchange is closed.
func (e *Exchange) Send(ctx context.Context, opcode uint8, payload []byte) error {
	f := &message.Frame{
		Protocol: message.ProtocolHeader{
			ProtocolID: e.protocol,
			Opcode:     opcode,
			ExchangeID: e.key.id,
			Initiator:  e.key.initiator,
			Reliable:   true,
		},
		Payload: payload,
	}

	e.mu.Lock()
	if e.closed() {
		e.mu.Unlock()
		return ErrExchangeClosed
	}
	if e.pending != nil {
		e.mu.Unlock()
		return ErrPendingRetransmit
	}
	if counter, ok := e.takeAckLocked(); ok {
		f.Protocol.Ack = true
		f.Protocol.AckedCounter = counter
	}
	data, err := e.channel.session.Encode(f)
	if err != nil {
		e.mu.Unlock()
		return err
	}
	r := &retransmission{
		counter: f.Header.Counter,
		data:    data,
		sends:   1,
		result:  make(chan error, 1),
	}
	e.pending = r
	r.timer = e.manager.clock.AfterFunc(e.manager.backoff.Timeout(baseInterval(e.channel.session), 0), func() {
		e.retransmit(r)
	})
	e.mu.Unlock()

	if err := e.channel.channel.Send(ctx, data); err != nil {
		e.dropPending(r)
		return err
	}

	select {
	case err := <-r.result:
		return err
	case <-ctx.Done():
		e.dropPending(r)
		return ctx.Err()
	}
}

func (e *Exchange) dropPending(r *retransmission) {
	e.mu.Lock()
	if e.pending == r {
		r.timer.Stop()
		e.pending = nil
	}
	e.mu.Unlock()
}

func (e *Exchange) retransmit(r *retransmission) {
	e.mu.Lock()
	if e.pending != r {
		e.mu.Unlock()
		return
	}
	// r.sends is only touched under e.mu; the next timer may fire as soon
	// as the lock is released.
	sends := r.sends
	if sends >= MaxTransmissions {
		e.pending = nil
		e.mu.Unlock()

		e.manager.metrics.RetransmissionLimit()
		e.manager.log.Debugf("Exchange %d on %s: message %d not acknowledged after %d transmissions",
			e.key.id, e.channel.Name(), r.counter, sends)
		r.result <- errs.Errorf(errs.KindRetransmissionLimit, "exchange.Send",
			"no acknowledgement from %s after %d transmissions", e.channel.Name(), sends)
		e.Close()
		return
	}
	sends++
	r.sends = sends
	r.timer = e.manager.clock.AfterFunc(e.manager.backoff.Timeout(baseInterval(e.channel.session), sends-1), func() {
		e.retransmit(r)
	})
	e.mu.Unlock()

	e.manager.metrics.Retransmission()
	e.manager.log.Tracef("Exchange %d: retransmitting message %d (send %d)", e.key.id, r.counter, sends)
	if err := e.channel.channel.Send(context.Background(), r.data); err != nil {
		e.manager.log.Debugf("Exchange %d: retransmit failed: %v", e.key.id, err)
	}
}

func (e *Exchange) handleAck(counter uint32) {
	e.mu.Lock()
	r := e.pending
	if r == nil || r.counter != counter {
		e.mu.Unlock()
		return
	}
	r.timer.Stop()
	e.pending = nil
	e.mu.Unlock()

	r.result <- nil
}

// deliver runs on the transport read loop and must not block.
func (e *Exchange) deliver(f *message.Frame) {
	if f.Protocol.Reliable {
		e.scheduleAck(f.Header.Counter)
	}
	msg := &Message{ProtocolID: f.Protocol.ProtocolID, Opcode: f.Protocol.Opcode, Payload: f.Payload}
	select {
	case e.inbox <- msg:
	default:
		e.manager.log.Warnf("Exchange %d: inbox full, dropping opcode 0x%02x", e.key.id, f.Protocol.Opcode)
	}
}

func (e *Exchange) scheduleAck(counter uint32) {
	e.mu.Lock()
	prev, hadPrev := e.takeAckLocked()
	e.ackCounter = counter
	e.ackSet = true
	e.ackTimer = e.manager.clock.AfterFunc(StandaloneAckTimeout, func() { e.flushAck(counter) })
	e.mu.Unlock()

	if hadPrev {
		e.sendStandaloneAck(prev)
	}
}

func (e *Exchange) flushAck(counter uint32) {
	e.mu.Lock()
	if !e.ackSet || e.ackCounter != counter {
		e.mu.Unlock()
		return
	}
	e.takeAckLocked()
	e.mu.Unlock()

	e.sendStandaloneAck(counter)
}

func (e *Exchange) takeAckLocked() (uint32, bool) {
	if !e.ackSet {
		return 0, false
	}
	if e.ackTimer != nil {
		e.ackTimer.Stop()
		e.ackTimer = nil
	}
	e.ackSet = false
	return e.ackCounter, true
}

func (e *Exchange) sendStandaloneAck(counter uint32) {
	e.manager.sendStandaloneAck(e.channel, e.key.id, e.key.initiator, counter)
}

// NextMessage waits for the next inbound message. Without a context
// deadline the wait is bounded by ResponseTimeout of the session's
// parameters and expiry is a RetransmissionLimit error.
func (e *Exchange) NextMessage(ctx context.Context) (*Message, error) {
	select {
	case msg := <-e.inbox:
		return msg, nil
	default:
	}

	var timeout <-chan time.Time
	if _, ok := ctx.Deadline(); !ok {
		t := e.manager.clock.Timer(ResponseTimeout(e.channel.session.Params()))
		defer t.Stop()
		timeout = t.C
	}

	select {
	case msg := <-e.inbox:
		return msg, nil
	case <-e.done:
		return nil, ErrExchangeClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timeout:
		return nil, errs.Errorf(errs.KindRetransmissionLimit, "exchange.NextMessage",
			"no response from %s", e.channel.Name())
	}
}

// Close ends the exchange: a pending send fails with ErrExchangeClosed, a
// pending ack is flushed and the exchange is forgotten. Closing twice is a
// no-op.
func (e *Exchange) Close() error {
	e.closeOnce.Do(func() {
		e.mu.Lock()
		if r := e.pending; r != nil {
			r.timer.Stop()
			e.pending = nil
			r.result <- ErrExchangeClosed
		}
		counter, hasAck := e.takeAckLocked()
		close(e.done)
		e.mu.Unlock()

		if hasAck {
			e.sendStandaloneAck(counter)
		}
		e.manager.removeExchange(e)
	})
	return nil
}
