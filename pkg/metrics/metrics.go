// Package metrics exposes Prometheus collectors for the messaging and
// commissioning layers.
//
// All methods are safe on a nil *Metrics, so components take an optional
// *Metrics in their config and call it unconditionally.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "matter"

// Metrics holds the collectors.
type Metrics struct {
	exchangesOpened   *prometheus.CounterVec
	retransmissions   prometheus.Counter
	retransmitLimits  prometheus.Counter
	sessionsActive    *prometheus.GaugeVec
	handshakes        *prometheus.CounterVec
	commissioning     *prometheus.CounterVec
	discoveryAttempts *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
// A nil reg leaves them unregistered.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		exchangesOpened: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "exchange",
			Name:      "opened_total",
			Help:      "Exchanges opened, by protocol and direction.",
		}, []string{"protocol", "direction"}),
		retransmissions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "exchange",
			Name:      "retransmissions_total",
			Help:      "Reliable messages retransmitted.",
		}),
		retransmitLimits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "exchange",
			Name:      "retransmission_limit_total",
			Help:      "Reliable messages abandoned after the maximum number of transmissions.",
		}),
		sessionsActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "active",
			Help:      "Open sessions, by type.",
		}, []string{"type"}),
		handshakes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "securechannel",
			Name:      "handshakes_total",
			Help:      "Completed PASE/CASE handshakes, by protocol, role and result.",
		}, []string{"protocol", "role", "result"}),
		commissioning: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "commissioning",
			Name:      "attempts_total",
			Help:      "Commissioning attempts, by final state.",
		}, []string{"state"}),
		discoveryAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "discovery",
			Name:      "address_attempts_total",
			Help:      "Server address attempts during discovery iteration, by result.",
		}, []string{"result"}),
	}
	if reg != nil {
		reg.MustRegister(m.Collectors()...)
	}
	return m
}

// Collectors returns every collector, for custom registration.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.exchangesOpened,
		m.retransmissions,
		m.retransmitLimits,
		m.sessionsActive,
		m.handshakes,
		m.commissioning,
		m.discoveryAttempts,
	}
}

// ExchangeOpened counts a new exchange. direction is "initiator" or "responder".
func (m *Metrics) ExchangeOpened(protocol, direction string) {
	if m == nil {
		return
	}
	m.exchangesOpened.WithLabelValues(protocol, direction).Inc()
}

// Retransmission counts one retransmitted message.
func (m *Metrics) Retransmission() {
	if m == nil {
		return
	}
	m.retransmissions.Inc()
}

// RetransmissionLimit counts one message that exhausted its transmissions.
func (m *Metrics) RetransmissionLimit() {
	if m == nil {
		return
	}
	m.retransmitLimits.Inc()
}

// SessionOpened increments the active session gauge for sessionType.
func (m *Metrics) SessionOpened(sessionType string) {
	if m == nil {
		return
	}
	m.sessionsActive.WithLabelValues(sessionType).Inc()
}

// SessionClosed decrements the active session gauge for sessionType.
func (m *Metrics) SessionClosed(sessionType string) {
	if m == nil {
		return
	}
	m.sessionsActive.WithLabelValues(sessionType).Dec()
}

// Handshake counts a finished handshake.
func (m *Metrics) Handshake(protocol, role string, err error) {
	if m == nil {
		return
	}
	m.handshakes.WithLabelValues(protocol, role, result(err)).Inc()
}

// Commissioning counts a finished commissioning attempt by its final state.
func (m *Metrics) Commissioning(state string) {
	if m == nil {
		return
	}
	m.commissioning.WithLabelValues(state).Inc()
}

// AddressAttempt counts one discovery candidate attempt.
func (m *Metrics) AddressAttempt(err error) {
	if m == nil {
		return
	}
	m.discoveryAttempts.WithLabelValues(result(err)).Inc()
}

func result(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}
