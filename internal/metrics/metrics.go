// Package metrics exposes the server's prometheus instrumentation. All
// methods are nil-safe so packages can run without a registry in tests.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles every collector the server registers.
type Metrics struct {
	datagramsReceived *prometheus.CounterVec
	datagramsSent     *prometheus.CounterVec
	retransmits       prometheus.Counter
	peersDropped      prometheus.Counter
	connectedPeers    prometheus.Gauge
	actors            *prometheus.GaugeVec
	tickDuration      prometheus.Histogram
	spectatorDropped  prometheus.Counter
}

// New registers all collectors on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		datagramsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "deepfall",
			Subsystem: "transport",
			Name:      "datagrams_received_total",
			Help:      "Datagrams read from the socket, by wire kind.",
		}, []string{"kind"}),
		datagramsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "deepfall",
			Subsystem: "transport",
			Name:      "datagrams_sent_total",
			Help:      "Datagrams written to the socket, by wire kind.",
		}, []string{"kind"}),
		retransmits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "deepfall",
			Subsystem: "transport",
			Name:      "retransmits_total",
			Help:      "Reliable records retransmitted after an RTT timeout.",
		}),
		peersDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "deepfall",
			Subsystem: "transport",
			Name:      "peers_dropped_total",
			Help:      "Peers evicted for liveness timeout.",
		}),
		connectedPeers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "deepfall",
			Subsystem: "transport",
			Name:      "connected_peers",
			Help:      "Peers currently tracked for liveness.",
		}),
		actors: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "deepfall",
			Subsystem: "game",
			Name:      "actors",
			Help:      "Actors on the world stage, by kind.",
		}, []string{"kind"}),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "deepfall",
			Subsystem: "game",
			Name:      "tick_duration_seconds",
			Help:      "Wall time spent inside one state tick.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 12),
		}),
		spectatorDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "deepfall",
			Subsystem: "ops",
			Name:      "spectator_frames_dropped_total",
			Help:      "Spectator frames discarded because a consumer was slow.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.datagramsReceived, m.datagramsSent, m.retransmits, m.peersDropped,
			m.connectedPeers, m.actors, m.tickDuration, m.spectatorDropped,
		)
	}
	return m
}

// DatagramReceived counts one inbound datagram of the given wire kind.
func (m *Metrics) DatagramReceived(kind string) {
	if m == nil {
		return
	}
	m.datagramsReceived.WithLabelValues(kind).Inc()
}

// DatagramSent counts one outbound datagram of the given wire kind.
func (m *Metrics) DatagramSent(kind string) {
	if m == nil {
		return
	}
	m.datagramsSent.WithLabelValues(kind).Inc()
}

// Retransmit counts one RTT-triggered retransmission.
func (m *Metrics) Retransmit() {
	if m == nil {
		return
	}
	m.retransmits.Inc()
}

// PeerDropped counts one liveness eviction.
func (m *Metrics) PeerDropped() {
	if m == nil {
		return
	}
	m.peersDropped.Inc()
}

// SetConnectedPeers records the current liveness-tracked peer count.
func (m *Metrics) SetConnectedPeers(n int) {
	if m == nil {
		return
	}
	m.connectedPeers.Set(float64(n))
}

// SetActors records the current actor count for a kind label.
func (m *Metrics) SetActors(kind string, n int) {
	if m == nil {
		return
	}
	m.actors.WithLabelValues(kind).Set(float64(n))
}

// ObserveTick records the wall time of one state tick.
func (m *Metrics) ObserveTick(d time.Duration) {
	if m == nil {
		return
	}
	m.tickDuration.Observe(d.Seconds())
}

// SpectatorFrameDropped counts one frame discarded for a slow spectator.
func (m *Metrics) SpectatorFrameDropped() {
	if m == nil {
		return
	}
	m.spectatorDropped.Inc()
}
