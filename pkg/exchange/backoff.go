package exchange

import (
	"math"
	"math/rand/v2"
	"time"
)

// RandomSource provides the jitter. Tests inject fixed values.
type RandomSource interface {
	// Float64 returns a value in [0.0, 1.0).
	Float64() float64
}

type defaultRandomSource struct{}

func (defaultRandomSource) Float64() float64 { return rand.Float64() }

// DefaultRandomSource draws jitter from math/rand.
var DefaultRandomSource RandomSource = defaultRandomSource{}

// Backoff computes MRP retransmission timeouts:
//
//	timeout = base * BackoffMargin * BackoffBase^max(0, n-BackoffThreshold)
//	              * (1 + random * BackoffJitter)
//
// where n is the number of sends before the one being timed.
type Backoff struct {
	random RandomSource
}

// NewBackoff creates a calculator. A nil random uses DefaultRandomSource.
func NewBackoff(random RandomSource) *Backoff {
	if random == nil {
		random = DefaultRandomSource
	}
	return &Backoff{random: random}
}

// Timeout returns the wait after a send that had attempt earlier sends.
func (b *Backoff) Timeout(base time.Duration, attempt int) time.Duration {
	return scaled(base, attempt, 1+b.random.Float64()*BackoffJitter)
}

func minBackoff(base time.Duration, attempt int) time.Duration {
	return scaled(base, attempt, 1)
}

func maxBackoff(base time.Duration, attempt int) time.Duration {
	return scaled(base, attempt, 1+BackoffJitter)
}

func scaled(base time.Duration, attempt int, jitter float64) time.Duration {
	exponent := max(0, attempt-BackoffThreshold)
	return time.Duration(float64(base) * BackoffMargin * math.Pow(BackoffBase, float64(exponent)) * jitter)
}
