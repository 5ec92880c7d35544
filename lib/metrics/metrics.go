// Package metrics holds the prometheus collectors shared by the networking
// and tick subsystems. Collectors are created once and passed to the
// components that update them; exposition is left to the embedding program.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles every collector the server core updates.
type Metrics struct {
	// SessionsActive tracks currently bound sessions.
	SessionsActive prometheus.Gauge

	// SessionsTotal counts sessions ever bound.
	SessionsTotal prometheus.Counter

	// HandshakesFailed counts handshake drivers that ended without a session.
	HandshakesFailed prometheus.Counter

	// AuthResults counts authentication outcomes, labeled result=success|failure.
	AuthResults *prometheus.CounterVec

	// TicksTotal counts dispatched ticks, labeled by tick kind name.
	TicksTotal *prometheus.CounterVec

	// DatagramsSent and DatagramsDropped count outbound broadcast datagrams
	// and inbound datagrams discarded as stale, short, or unroutable.
	DatagramsSent    prometheus.Counter
	DatagramsDropped prometheus.Counter

	// BytesSent and BytesReceived aggregate transport traffic, labeled
	// transport=stream|datagram.
	BytesSent     *prometheus.CounterVec
	BytesReceived *prometheus.CounterVec
}

// New creates the collector set and registers it with reg.
// Pass prometheus.NewRegistry() in tests to avoid default-registry collisions.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "gameserver",
			Name:      "sessions_active",
			Help:      "Number of currently bound sessions.",
		}),
		SessionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gameserver",
			Name:      "sessions_total",
			Help:      "Total sessions bound since start.",
		}),
		HandshakesFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gameserver",
			Name:      "handshakes_failed_total",
			Help:      "Handshake attempts that timed out or errored.",
		}),
		AuthResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gameserver",
			Name:      "auth_results_total",
			Help:      "Authentication attempts by outcome.",
		}, []string{"result"}),
		TicksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gameserver",
			Name:      "ticks_total",
			Help:      "Ticks dispatched by kind.",
		}, []string{"kind"}),
		DatagramsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gameserver",
			Name:      "datagrams_sent_total",
			Help:      "Outbound datagrams sent to sessions.",
		}),
		DatagramsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gameserver",
			Name:      "datagrams_dropped_total",
			Help:      "Inbound datagrams dropped as short, stale, or unroutable.",
		}),
		BytesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gameserver",
			Name:      "bytes_sent_total",
			Help:      "Bytes sent by transport.",
		}, []string{"transport"}),
		BytesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gameserver",
			Name:      "bytes_received_total",
			Help:      "Bytes received by transport.",
		}, []string{"transport"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.SessionsActive, m.SessionsTotal, m.HandshakesFailed,
			m.AuthResults, m.TicksTotal,
			m.DatagramsSent, m.DatagramsDropped,
			m.BytesSent, m.BytesReceived,
		)
	}
	return m
}

// Nop returns an unregistered collector set for components that are
// constructed without metrics wiring.
func Nop() *Metrics {
	return New(nil)
}
