package commissioning

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pion/logging"

	"github.com/Orzech99/matter.js/pkg/fabric"
)

const (
	// DefaultFailSafeExpiry is the expiry a commissioner asks for when it
	// has no other preference.
	DefaultFailSafeExpiry = 60 * time.Second

	// DefaultMaxCumulativeFailSafe bounds how long a fail-safe can be kept
	// armed by repeated extensions.
	DefaultMaxCumulativeFailSafe = 900 * time.Second
)

// FailSafe is the device capability guarding commissioning changes. Work
// done while armed is rolled back on expiry and kept on Disarm.
type FailSafe interface {
	// Arm arms or extends the fail-safe for the accessing fabric. A zero
	// expiry expires it immediately. FabricIndexInvalid is the PASE
	// commissioner.
	Arm(accessing fabric.FabricIndex, expiry time.Duration) error

	// Disarm stops the timer and keeps the changes.
	Disarm()

	// Expire stops the timer and rolls the changes back.
	Expire()

	IsArmed() bool

	// FabricIndex is the fabric the fail-safe is bound to.
	FabricIndex() fabric.FabricIndex

	// SetFabricIndex binds the fail-safe to the fabric added under it.
	SetFabricIndex(index fabric.FabricIndex)

	// OnExpire registers fn to run after each expiry. The returned function
	// cancels the registration.
	OnExpire(fn func()) (cancel func())
}

// FailSafeConfig configures a FailSafeTimer.
type FailSafeConfig struct {
	// MaxCumulative defaults to DefaultMaxCumulativeFailSafe.
	MaxCumulative time.Duration

	// Clock defaults to the wall clock.
	Clock clock.Clock

	LoggerFactory logging.LoggerFactory
}

// FailSafeTimer implements FailSafe on a clock timer.
//
// Thread Safety: All methods are safe for concurrent use. Expiry callbacks
// run without the lock held.
type FailSafeTimer struct {
	log           logging.LeveledLogger
	clock         clock.Clock
	maxCumulative time.Duration

	mu          sync.Mutex
	armed       bool
	fabricIndex fabric.FabricIndex
	armedAt     time.Time
	expiresAt   time.Time
	timer       *clock.Timer
	generation  uint64

	observersMu  sync.Mutex
	observers    map[uint64]func()
	nextObserver uint64
}

// NewFailSafeTimer creates a disarmed fail-safe.
func NewFailSafeTimer(config FailSafeConfig) *FailSafeTimer {
	if config.MaxCumulative <= 0 {
		config.MaxCumulative = DefaultMaxCumulativeFailSafe
	}
	if config.Clock == nil {
		config.Clock = clock.New()
	}
	if config.LoggerFactory == nil {
		config.LoggerFactory = logging.NewDefaultLoggerFactory()
	}
	return &FailSafeTimer{
		log:           config.LoggerFactory.NewLogger("commissioning"),
		clock:         config.Clock,
		maxCumulative: config.MaxCumulative,
		observers:     make(map[uint64]func()),
	}
}

// Arm implements FailSafe. Extensions never push the expiry past
// MaxCumulative from the first arm.
func (f *FailSafeTimer) Arm(accessing fabric.FabricIndex, expiry time.Duration) error {
	if expiry < 0 {
		return ErrValueOutsideRange
	}

	f.mu.Lock()
	if f.armed && accessing != fabric.FabricIndexInvalid &&
		f.fabricIndex != fabric.FabricIndexInvalid && accessing != f.fabricIndex {
		f.mu.Unlock()
		return ErrBusyWithOtherAdmin
	}
	if expiry == 0 {
		wasArmed := f.armed
		f.stopLocked()
		f.mu.Unlock()
		if wasArmed {
			f.log.Infof("Fail-safe expired on request")
			f.notifyExpired()
		}
		return nil
	}

	now := f.clock.Now()
	if !f.armed {
		f.armed = true
		f.armedAt = now
		f.fabricIndex = accessing
	}
	deadline := now.Add(expiry)
	if limit := f.armedAt.Add(f.maxCumulative); deadline.After(limit) {
		deadline = limit
	}
	f.expiresAt = deadline
	if f.timer != nil {
		f.timer.Stop()
	}
	f.generation++
	gen := f.generation
	f.timer = f.clock.AfterFunc(deadline.Sub(now), func() { f.fire(gen) })
	f.mu.Unlock()

	f.log.Debugf("Fail-safe armed until %s", deadline.Format(time.RFC3339))
	return nil
}

func (f *FailSafeTimer) fire(gen uint64) {
	f.mu.Lock()
	if !f.armed || gen != f.generation {
		f.mu.Unlock()
		return
	}
	f.stopLocked()
	f.mu.Unlock()

	f.log.Warnf("Fail-safe timer expired, rolling back")
	f.notifyExpired()
}

// stopLocked disarms without notifying. Caller holds f.mu.
func (f *FailSafeTimer) stopLocked() {
	f.armed = false
	f.fabricIndex = fabric.FabricIndexInvalid
	f.generation++
	if f.timer != nil {
		f.timer.Stop()
		f.timer = nil
	}
}

// Disarm implements FailSafe.
func (f *FailSafeTimer) Disarm() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopLocked()
}

// Expire implements FailSafe.
func (f *FailSafeTimer) Expire() {
	f.mu.Lock()
	wasArmed := f.armed
	f.stopLocked()
	f.mu.Unlock()
	if wasArmed {
		f.notifyExpired()
	}
}

// IsArmed implements FailSafe.
func (f *FailSafeTimer) IsArmed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.armed
}

// FabricIndex implements FailSafe.
func (f *FailSafeTimer) FabricIndex() fabric.FabricIndex {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fabricIndex
}

// SetFabricIndex implements FailSafe.
func (f *FailSafeTimer) SetFabricIndex(index fabric.FabricIndex) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.armed {
		f.fabricIndex = index
	}
}

// ExpiresAt returns the current deadline, or the zero time when disarmed.
func (f *FailSafeTimer) ExpiresAt() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.armed {
		return time.Time{}
	}
	return f.expiresAt
}

// RemainingTime returns the time until expiry, or 0 when disarmed.
func (f *FailSafeTimer) RemainingTime() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.armed {
		return 0
	}
	if remaining := f.expiresAt.Sub(f.clock.Now()); remaining > 0 {
		return remaining
	}
	return 0
}

// MaxCumulative returns the longest time the fail-safe can stay armed.
func (f *FailSafeTimer) MaxCumulative() time.Duration { return f.maxCumulative }

// OnExpire implements FailSafe.
func (f *FailSafeTimer) OnExpire(fn func()) (cancel func()) {
	f.observersMu.Lock()
	id := f.nextObserver
	f.nextObserver++
	f.observers[id] = fn
	f.observersMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			f.observersMu.Lock()
			delete(f.observers, id)
			f.observersMu.Unlock()
		})
	}
}

func (f *FailSafeTimer) notifyExpired() {
	f.observersMu.Lock()
	fns := make([]func(), 0, len(f.observers))
	for _, fn := range f.observers {
		fns = append(fns, fn)
	}
	f.observersMu.Unlock()

	for _, fn := range fns {
		fn()
	}
}
