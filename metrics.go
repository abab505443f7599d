package blefs

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics records protocol and lifecycle activity in Prometheus.
//
// All methods are safe on a nil receiver, so a Peripheral without
// metrics pays nothing.
type Metrics struct {
	requests    *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	transitions *prometheus.CounterVec
	connections prometheus.Counter
	state       prometheus.Gauge
}

// NewMetrics registers the collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "blefs_requests_total",
				Help: "Total number of handled requests by opcode and outcome",
			},
			[]string{"opcode", "outcome"}, // outcome: ok, error, silent
		),
		duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "blefs_request_duration_seconds",
				Help:    "Time spent handling a request by opcode",
				Buckets: prometheus.ExponentialBuckets(0.0005, 4, 8),
			},
			[]string{"opcode"},
		),
		transitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "blefs_state_transitions_total",
				Help: "Total number of lifecycle transitions by target state",
			},
			[]string{"state"},
		),
		connections: factory.NewCounter(prometheus.CounterOpts{
			Name: "blefs_connections_total",
			Help: "Total number of accepted peer connections",
		}),
		state: factory.NewGauge(prometheus.GaugeOpts{
			Name: "blefs_state",
			Help: "Current lifecycle state (0 idle, 1 advertising, 2 connected, 3 tearing down, 4 resetting radio)",
		}),
	}
}

func (m *Metrics) observeRequest(op, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(op, outcome).Inc()
	m.duration.WithLabelValues(op).Observe(elapsed.Seconds())
}

func (m *Metrics) observeState(s State) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(s.String()).Inc()
	m.state.Set(float64(s))
	if s == StateConnected {
		m.connections.Inc()
	}
}
