package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/Orzech99/matter.js/pkg/fabric"
	"github.com/Orzech99/matter.js/pkg/message"
)

// activity tracks when the peer was last heard from.
type activity struct {
	clock clock.Clock

	mu     sync.Mutex
	lastRx time.Time
}

func (a *activity) touch() {
	a.mu.Lock()
	a.lastRx = a.clock.Now()
	a.mu.Unlock()
}

func (a *activity) activeWithin(threshold time.Duration) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return !a.lastRx.IsZero() && a.clock.Since(a.lastRx) < threshold
}

// UnsecureSession carries the clear-text handshake messages of PASE and
// CASE. The initiator picks a random ephemeral node ID and sends it as the
// source node; the responder addresses its replies to that ID.
type UnsecureSession struct {
	manager   *Manager
	initiator bool

	// ephemeralNodeID is the initiator's ephemeral ID on both sides.
	ephemeralNodeID fabric.NodeID

	counter   *message.Counter
	reception message.ReceptionState
	activity

	mu     sync.RWMutex
	params Params

	closeOnce sync.Once
	done      chan struct{}
}

func newUnsecureSession(m *Manager, ephemeralNodeID fabric.NodeID, initiator bool) *UnsecureSession {
	return &UnsecureSession{
		manager:         m,
		initiator:       initiator,
		ephemeralNodeID: ephemeralNodeID,
		counter:         message.NewCounter(),
		activity:        activity{clock: m.clock},
		params:          DefaultParams(),
		done:            make(chan struct{}),
	}
}

// ID implements Session.
func (s *UnsecureSession) ID() uint16 { return 0 }

// Type implements Session.
func (s *UnsecureSession) Type() Type { return TypeUnsecured }

// IsSecure implements Session.
func (s *UnsecureSession) IsSecure() bool { return false }

// Fabric implements Session.
func (s *UnsecureSession) Fabric() *fabric.Fabric { return nil }

// IsInitiator reports whether the local node opened the handshake.
func (s *UnsecureSession) IsInitiator() bool { return s.initiator }

// EphemeralNodeID returns the initiator's ephemeral node ID.
func (s *UnsecureSession) EphemeralNodeID() fabric.NodeID { return s.ephemeralNodeID }

// PeerNodeID implements Session. On the initiator side the peer has no
// node ID yet.
func (s *UnsecureSession) PeerNodeID() fabric.NodeID {
	if s.initiator {
		return fabric.NodeIDUnspecified
	}
	return s.ephemeralNodeID
}

// Params implements Session.
func (s *UnsecureSession) Params() Params {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.params
}

// SetParams records MRP parameters learned from discovery.
func (s *UnsecureSession) SetParams(p Params) {
	s.mu.Lock()
	s.params = p.WithDefaults()
	s.mu.Unlock()
}

// IsPeerActive implements Session.
func (s *UnsecureSession) IsPeerActive() bool {
	return s.activeWithin(s.Params().ActiveThreshold)
}

// Encode implements Session.
func (s *UnsecureSession) Encode(f *message.Frame) ([]byte, error) {
	select {
	case <-s.done:
		return nil, ErrSessionClosed
	default:
	}
	counter, err := s.counter.Next()
	if err != nil {
		return nil, err
	}
	f.Header = message.Header{Counter: counter}
	if s.initiator {
		f.Header.SourceNodeID = uint64(s.ephemeralNodeID)
		f.Header.HasSource = true
	} else {
		f.Header.DestinationNodeID = uint64(s.ephemeralNodeID)
		f.Header.HasDestination = true
	}
	return f.EncodeUnsecured(), nil
}

// Decode implements Session.
func (s *UnsecureSession) Decode(data []byte) (*message.Frame, error) {
	f, err := message.DecodeUnsecured(data)
	if err != nil {
		return nil, err
	}
	if f.Header.IsSecure() {
		return nil, ErrUnexpectedSession
	}
	return f, nil
}

// Accept implements Session.
func (s *UnsecureSession) Accept(counter uint32) bool {
	if !s.reception.Accept(counter, false) {
		return false
	}
	s.touch()
	return true
}

// Close implements Session. The session is forgotten by its manager.
func (s *UnsecureSession) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.manager.releaseUnsecure(s)
	})
	return nil
}

// Done implements Session.
func (s *UnsecureSession) Done() <-chan struct{} { return s.done }

func (s *UnsecureSession) String() string {
	return fmt.Sprintf("unsecured session %s", s.ephemeralNodeID)
}
