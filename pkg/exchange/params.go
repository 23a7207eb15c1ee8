package exchange

import (
	"time"

	"github.com/Orzech99/matter.js/pkg/session"
)

// MRP constants. Session-level intervals (idle, active, active threshold)
// come from session.Params.
const (
	// MaxTransmissions is the number of sends of a reliable message before
	// the exchange gives up.
	MaxTransmissions = 5

	// BackoffBase is the exponential backoff base.
	BackoffBase = 1.6

	// BackoffJitter scales the random jitter added to each timeout.
	BackoffJitter = 0.25

	// BackoffMargin scales the peer's retry interval.
	BackoffMargin = 1.1

	// BackoffThreshold is the number of retransmissions with linear backoff.
	BackoffThreshold = 1

	// StandaloneAckTimeout is how long an ack waits to be piggybacked.
	StandaloneAckTimeout = 200 * time.Millisecond

	// ExpectedProcessingTime is granted to the peer on top of the
	// retransmission window when waiting for a response.
	ExpectedProcessingTime = 2 * time.Second
)

// inboxSize bounds the messages queued on an exchange before NextMessage.
const inboxSize = 8

// baseInterval picks the retry interval for the peer's current mode.
func baseInterval(s session.Session) time.Duration {
	p := s.Params().WithDefaults()
	if s.IsPeerActive() {
		return p.ActiveInterval
	}
	return p.IdleInterval
}

// ResponseTimeout is the longest a peer may take to answer: the full
// retransmission window of its response plus processing time.
func ResponseTimeout(p session.Params) time.Duration {
	p = p.WithDefaults()
	var total time.Duration
	for attempt := range MaxTransmissions {
		total += maxBackoff(p.IdleInterval, attempt)
	}
	return total + ExpectedProcessingTime
}
