package commissioning

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pion/logging"
)

// Commissioning window bounds.
const (
	MinWindowTimeout     = 3 * time.Minute
	MaxWindowTimeout     = 15 * time.Minute
	DefaultWindowTimeout = MaxWindowTimeout
)

// CommissioningWindow is the device capability that accepts PASE and
// advertises commissionable.
type CommissioningWindow interface {
	// OpenCommissioningWindow opens the window. A zero timeout keeps it
	// open until closed.
	OpenCommissioningWindow(timeout time.Duration) error
	CloseCommissioningWindow() error
	IsCommissioningWindowOpen() bool
}

// WindowConfig configures a Window.
type WindowConfig struct {
	// OnOpen starts accepting commissioners. An error keeps the window
	// closed.
	OnOpen func() error

	// OnClose stops accepting commissioners.
	OnClose func()

	// Clock defaults to the wall clock.
	Clock clock.Clock

	LoggerFactory logging.LoggerFactory
}

// Window implements CommissioningWindow with hooks and a close timer.
//
// Thread Safety: All methods are safe for concurrent use. Hooks run with
// the window lock held and must not call back into the window.
type Window struct {
	config WindowConfig
	log    logging.LeveledLogger

	mu    sync.Mutex
	open  bool
	timer *clock.Timer
	gen   uint64
}

// NewWindow creates a closed window.
func NewWindow(config WindowConfig) *Window {
	if config.Clock == nil {
		config.Clock = clock.New()
	}
	if config.LoggerFactory == nil {
		config.LoggerFactory = logging.NewDefaultLoggerFactory()
	}
	return &Window{config: config, log: config.LoggerFactory.NewLogger("commissioning")}
}

// OpenCommissioningWindow implements CommissioningWindow.
func (w *Window) OpenCommissioningWindow(timeout time.Duration) error {
	if timeout < 0 || timeout > MaxWindowTimeout {
		return ErrValueOutsideRange
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.open {
		return ErrWindowAlreadyOpen
	}
	if w.config.OnOpen != nil {
		if err := w.config.OnOpen(); err != nil {
			return err
		}
	}
	w.open = true
	w.gen++
	if timeout > 0 {
		gen := w.gen
		w.timer = w.config.Clock.AfterFunc(timeout, func() { w.expire(gen) })
		w.log.Infof("Commissioning window open for %s", timeout)
	} else {
		w.log.Infof("Commissioning window open")
	}
	return nil
}

func (w *Window) expire(gen uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.open || gen != w.gen {
		return
	}
	w.log.Infof("Commissioning window timed out")
	w.closeLocked()
}

// CloseCommissioningWindow implements CommissioningWindow.
func (w *Window) CloseCommissioningWindow() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.open {
		return ErrWindowClosed
	}
	w.closeLocked()
	w.log.Infof("Commissioning window closed")
	return nil
}

func (w *Window) closeLocked() {
	w.open = false
	w.gen++
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	if w.config.OnClose != nil {
		w.config.OnClose()
	}
}

// IsCommissioningWindowOpen implements CommissioningWindow.
func (w *Window) IsCommissioningWindowOpen() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.open
}
