package session

import (
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/pion/logging"
	"go.uber.org/multierr"

	"github.com/Orzech99/matter.js/pkg/fabric"
	"github.com/Orzech99/matter.js/pkg/metrics"
	"github.com/Orzech99/matter.js/pkg/storage"
)

// Session ID range for secure sessions. 0 is the unsecured session.
const (
	MinSessionID uint16 = 0x0001
	MaxSessionID uint16 = 0xFFFF
)

// ManagerConfig configures the session manager.
type ManagerConfig struct {
	// Storage persists resumption records, normally the SessionManager
	// context. When nil records live in memory only.
	Storage *storage.Context

	// MaxResumptionRecords bounds the resumption cache.
	// Default: DefaultMaxResumptionRecords (256)
	MaxResumptionRecords int

	// Clock drives peer activity tracking. Default: wall clock.
	Clock clock.Clock

	// Metrics is optional.
	Metrics *metrics.Metrics

	LoggerFactory logging.LoggerFactory
}

// Manager owns the unsecured and secure sessions of a node, allocates
// local session IDs and keeps resumption records.
//
// Thread Safety: All methods are safe for concurrent use.
type Manager struct {
	log     logging.LeveledLogger
	clock   clock.Clock
	metrics *metrics.Metrics

	mu            sync.Mutex
	unsecure      map[fabric.NodeID]*UnsecureSession
	secure        map[uint16]*SecureSession
	reserved      map[uint16]struct{}
	lastSessionID uint16

	resumption *resumptionStore

	observersMu  sync.Mutex
	observers    map[uint64]func(Session)
	nextObserver uint64
}

// NewManager creates a session manager.
func NewManager(config ManagerConfig) (*Manager, error) {
	if config.MaxResumptionRecords <= 0 {
		config.MaxResumptionRecords = DefaultMaxResumptionRecords
	}
	if config.Clock == nil {
		config.Clock = clock.New()
	}
	if config.LoggerFactory == nil {
		config.LoggerFactory = logging.NewDefaultLoggerFactory()
	}

	store, err := newResumptionStore(config.MaxResumptionRecords, config.Storage)
	if err != nil {
		return nil, err
	}

	return &Manager{
		log:        config.LoggerFactory.NewLogger("session"),
		clock:      config.Clock,
		metrics:    config.Metrics,
		unsecure:   make(map[fabric.NodeID]*UnsecureSession),
		secure:     make(map[uint16]*SecureSession),
		reserved:   make(map[uint16]struct{}),
		resumption: store,
		observers:  make(map[uint64]func(Session)),
	}, nil
}

// CreateUnsecureSession creates an initiator-side unsecured session with a
// fresh random ephemeral node ID.
func (m *Manager) CreateUnsecureSession() (*UnsecureSession, error) {
	for {
		nodeID, err := fabric.RandomOperationalNodeID()
		if err != nil {
			return nil, err
		}

		m.mu.Lock()
		if _, taken := m.unsecure[nodeID]; taken {
			m.mu.Unlock()
			continue
		}
		s := newUnsecureSession(m, nodeID, true)
		m.unsecure[nodeID] = s
		m.mu.Unlock()

		m.metrics.SessionOpened(TypeUnsecured.String())
		return s, nil
	}
}

// UnsecureSessionForPeer returns the responder-side unsecured session for
// an initiator's ephemeral node ID, creating it on first contact.
func (m *Manager) UnsecureSessionForPeer(ephemeralNodeID fabric.NodeID) *UnsecureSession {
	m.mu.Lock()
	s, ok := m.unsecure[ephemeralNodeID]
	if !ok {
		s = newUnsecureSession(m, ephemeralNodeID, false)
		m.unsecure[ephemeralNodeID] = s
	}
	m.mu.Unlock()

	if !ok {
		m.metrics.SessionOpened(TypeUnsecured.String())
	}
	return s
}

// FindUnsecureSession looks up an unsecured session by ephemeral node ID.
func (m *Manager) FindUnsecureSession(ephemeralNodeID fabric.NodeID) (*UnsecureSession, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.unsecure[ephemeralNodeID]
	return s, ok
}

func (m *Manager) releaseUnsecure(s *UnsecureSession) {
	m.mu.Lock()
	if m.unsecure[s.ephemeralNodeID] == s {
		delete(m.unsecure, s.ephemeralNodeID)
	}
	m.mu.Unlock()

	m.metrics.SessionClosed(TypeUnsecured.String())
	m.notifyClosed(s)
}

// GetNextAvailableSessionID reserves the next free local session ID. IDs
// continue from the previous allocation and wrap, skipping IDs held by
// open sessions or earlier reservations. The reservation is consumed by
// CreateSecureSession or returned with ReleaseSessionID.
func (m *Manager) GetNextAvailableSessionID() (uint16, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.lastSessionID
	for range int(MaxSessionID) {
		if id == MaxSessionID {
			id = MinSessionID
		} else {
			id++
		}
		if m.idInUseLocked(id) {
			continue
		}
		m.reserved[id] = struct{}{}
		m.lastSessionID = id
		return id, nil
	}
	return 0, ErrSessionIDExhausted
}

// ReleaseSessionID returns an unused reservation, for handshakes that failed.
func (m *Manager) ReleaseSessionID(id uint16) {
	m.mu.Lock()
	delete(m.reserved, id)
	m.mu.Unlock()
}

func (m *Manager) idInUseLocked(id uint16) bool {
	if _, ok := m.secure[id]; ok {
		return true
	}
	_, ok := m.reserved[id]
	return ok
}

// CreateSecureSession derives the session keys and registers the session
// under its reserved local ID.
func (m *Manager) CreateSecureSession(params SecureSessionParams) (*SecureSession, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	s, err := newSecureSession(m, params)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if _, ok := m.reserved[params.SessionID]; !ok {
		m.mu.Unlock()
		return nil, ErrInvalidSessionID
	}
	delete(m.reserved, params.SessionID)
	m.secure[params.SessionID] = s
	m.mu.Unlock()

	m.metrics.SessionOpened(params.Type.String())
	m.log.Debugf("Created %s", s)
	return s, nil
}

// GetSecureSession looks up a secure session by local session ID.
func (m *Manager) GetSecureSession(id uint16) (*SecureSession, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.secure[id]
	return s, ok
}

// SecureSessionsForNode returns the open CASE sessions with nodeID.
func (m *Manager) SecureSessionsForNode(nodeID fabric.NodeID) []*SecureSession {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*SecureSession
	for _, s := range m.secure {
		if s.typ == TypeCASE && s.peerNodeID == nodeID {
			out = append(out, s)
		}
	}
	return out
}

// SecureSessionCount returns the number of open secure sessions.
func (m *Manager) SecureSessionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.secure)
}

// UnsecureSessionCount returns the number of open unsecured sessions.
func (m *Manager) UnsecureSessionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.unsecure)
}

func (m *Manager) releaseSecure(s *SecureSession) {
	m.metrics.SessionClosed(s.typ.String())
	m.log.Debugf("Closed %s", s)
	m.notifyClosed(s)

	m.mu.Lock()
	if m.secure[s.id] == s {
		delete(m.secure, s.id)
	}
	m.mu.Unlock()
}

// RemoveAllSessionsForNode closes every CASE session with nodeID. Its
// resumption record is deleted too unless keepResumptionRecord is set.
func (m *Manager) RemoveAllSessionsForNode(nodeID fabric.NodeID, keepResumptionRecord bool) error {
	var err error
	for _, s := range m.SecureSessionsForNode(nodeID) {
		err = multierr.Append(err, s.Close())
	}
	if !keepResumptionRecord {
		if _, delErr := m.resumption.deleteNode(nodeID); delErr != nil {
			err = multierr.Append(err, delErr)
		}
	}
	return err
}

// SaveResumptionRecord stores r, replacing any record for the same peer.
func (m *Manager) SaveResumptionRecord(r *ResumptionRecord) error {
	if err := r.validate(); err != nil {
		return err
	}
	m.log.Debugf("Saving %s", r)
	return m.resumption.save(r)
}

// FindResumptionRecordByID looks up a record by resumption ID.
func (m *Manager) FindResumptionRecordByID(resumptionID []byte) (*ResumptionRecord, bool) {
	return m.resumption.findByID(resumptionID)
}

// FindResumptionRecordByNodeID looks up the most recent record for a peer.
func (m *Manager) FindResumptionRecordByNodeID(nodeID fabric.NodeID) (*ResumptionRecord, bool) {
	return m.resumption.findByNode(nodeID)
}

// DeleteResumptionRecord forgets the records for nodeID.
func (m *Manager) DeleteResumptionRecord(nodeID fabric.NodeID) error {
	_, err := m.resumption.deleteNode(nodeID)
	return err
}

// ResumptionRecordCount returns the number of cached records.
func (m *Manager) ResumptionRecordCount() int {
	return m.resumption.len()
}

// InitFromStorage loads the persisted resumption records. Records for
// fabrics not in fabrics are discarded.
func (m *Manager) InitFromStorage(fabrics []*fabric.Fabric) error {
	dropped, err := m.resumption.load(fabrics)
	if err != nil {
		return err
	}
	if dropped > 0 {
		m.log.Warnf("Dropped %d resumption records of unknown fabrics", dropped)
	}
	m.log.Debugf("Loaded %d resumption records", m.resumption.len())
	return nil
}

// OnSessionClosed registers fn to run after any session closes. The
// returned function cancels the registration.
func (m *Manager) OnSessionClosed(fn func(Session)) (cancel func()) {
	m.observersMu.Lock()
	id := m.nextObserver
	m.nextObserver++
	m.observers[id] = fn
	m.observersMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.observersMu.Lock()
			delete(m.observers, id)
			m.observersMu.Unlock()
		})
	}
}

func (m *Manager) notifyClosed(s Session) {
	m.observersMu.Lock()
	fns := make([]func(Session), 0, len(m.observers))
	for _, fn := range m.observers {
		fns = append(fns, fn)
	}
	m.observersMu.Unlock()

	for _, fn := range fns {
		fn(s)
	}
}

// Close closes every open session.
func (m *Manager) Close() error {
	m.mu.Lock()
	sessions := make([]Session, 0, len(m.secure)+len(m.unsecure))
	for _, s := range m.secure {
		sessions = append(sessions, s)
	}
	for _, s := range m.unsecure {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	var err error
	for _, s := range sessions {
		err = multierr.Append(err, s.Close())
	}
	return err
}
