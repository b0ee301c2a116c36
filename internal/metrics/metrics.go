// Package metrics exposes prometheus collectors for chat sessions.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "direct_chat"

// Metrics groups the session collectors.
type Metrics struct {
	framesReceived    *prometheus.CounterVec
	malformedPayloads *prometheus.CounterVec
	connectAttempts   prometheus.Counter
	connectionLosses  *prometheus.CounterVec
	published         *prometheus.CounterVec
	publishRejected   *prometheus.CounterVec
	connected         prometheus.Gauge
	typingUsers       prometheus.Gauge
}

// New creates the collectors and registers them with reg.
// A nil reg leaves them unregistered.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		framesReceived: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_received_total",
			Help:      "Inbound MESSAGE frames by route.",
		}, []string{"route"}),
		malformedPayloads: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "malformed_payloads_total",
			Help:      "Inbound payloads dropped because they could not be decoded.",
		}, []string{"route"}),
		connectAttempts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connect_attempts_total",
			Help:      "Transport connection attempts, including reconnects.",
		}),
		connectionLosses: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connection_losses_total",
			Help:      "Unexpected transport losses by cause.",
		}, []string{"cause"}),
		published: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "published_total",
			Help:      "Outbound frames sent by kind.",
		}, []string{"kind"}),
		publishRejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_rejected_total",
			Help:      "Outbound publishes refused by a precondition.",
		}, []string{"reason"}),
		connected: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connected",
			Help:      "1 while the session transport is connected.",
		}),
		typingUsers: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "typing_users",
			Help:      "Usernames currently shown as typing.",
		}),
	}
}

func (m *Metrics) FrameReceived(route string) {
	if m == nil {
		return
	}
	m.framesReceived.WithLabelValues(route).Inc()
}

func (m *Metrics) MalformedPayload(route string) {
	if m == nil {
		return
	}
	m.malformedPayloads.WithLabelValues(route).Inc()
}

func (m *Metrics) ConnectAttempt() {
	if m == nil {
		return
	}
	m.connectAttempts.Inc()
}

func (m *Metrics) ConnectionLost(cause string) {
	if m == nil {
		return
	}
	m.connectionLosses.WithLabelValues(cause).Inc()
}

func (m *Metrics) Published(kind string) {
	if m == nil {
		return
	}
	m.published.WithLabelValues(kind).Inc()
}

func (m *Metrics) PublishRejected(reason string) {
	if m == nil {
		return
	}
	m.publishRejected.WithLabelValues(reason).Inc()
}

func (m *Metrics) SetConnected(connected bool) {
	if m == nil {
		return
	}
	if connected {
		m.connected.Set(1)
	} else {
		m.connected.Set(0)
	}
}

func (m *Metrics) SetTypingUsers(n int) {
	if m == nil {
		return
	}
	m.typingUsers.Set(float64(n))
}
