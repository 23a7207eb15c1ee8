package exchange

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Orzech99/matter.js/pkg/session"
)

type fixedRandom float64

func (f fixedRandom) Float64() float64 { return float64(f) }

// Timeouts for a 300ms base interval, without and with full jitter.
func TestBackoffTable(t *testing.T) {
	base := 300 * time.Millisecond
	cases := []struct {
		attempt int
		minMs   int64
		maxMs   int64
	}{
		{0, 330, 413},
		{1, 330, 413},
		{2, 528, 660},
		{3, 845, 1056},
		{4, 1352, 1690},
	}

	for _, tc := range cases {
		assert.InDelta(t, tc.minMs, minBackoff(base, tc.attempt).Milliseconds(), 1, "min attempt %d", tc.attempt)
		assert.InDelta(t, tc.maxMs, maxBackoff(base, tc.attempt).Milliseconds(), 1, "max attempt %d", tc.attempt)
	}
}

func TestBackoffJitterWithinBounds(t *testing.T) {
	base := 500 * time.Millisecond

	low := NewBackoff(fixedRandom(0))
	high := NewBackoff(fixedRandom(0.999999))
	for attempt := range MaxTransmissions {
		assert.Equal(t, minBackoff(base, attempt), low.Timeout(base, attempt))
		got := high.Timeout(base, attempt)
		assert.Greater(t, got, minBackoff(base, attempt))
		assert.LessOrEqual(t, got, maxBackoff(base, attempt))
	}
}

func TestBackoffDefaultRandom(t *testing.T) {
	b := NewBackoff(nil)
	base := 300 * time.Millisecond
	for range 100 {
		got := b.Timeout(base, 2)
		assert.GreaterOrEqual(t, got, minBackoff(base, 2))
		assert.LessOrEqual(t, got, maxBackoff(base, 2))
	}
}

func TestResponseTimeout(t *testing.T) {
	var window time.Duration
	for attempt := range MaxTransmissions {
		window += maxBackoff(session.DefaultIdleInterval, attempt)
	}
	assert.Equal(t, window+ExpectedProcessingTime, ResponseTimeout(session.Params{}))

	fast := ResponseTimeout(session.Params{IdleInterval: 50 * time.Millisecond})
	assert.Less(t, fast, ResponseTimeout(session.DefaultParams()))
}
