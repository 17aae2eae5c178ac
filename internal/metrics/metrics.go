// Package metrics provides Prometheus metrics for collaborative sessions.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roach88/coedit/internal/ot"
	"github.com/roach88/coedit/internal/session"
	"github.com/roach88/coedit/internal/transport"
)

// Metrics holds every collector. It implements session.Recorder so it can
// be handed straight to a registry.
type Metrics struct {
	// operationsApplied counts accepted operations.
	// Labels:
	//   - kind: "insert" or "delete"
	operationsApplied *prometheus.CounterVec

	// operationsRejected counts submissions that never entered history.
	// Labels:
	//   - reason: session.Reason of the error (e.g. "out_of_range")
	operationsRejected *prometheus.CounterVec

	// transformChain records how many concurrent operations each accepted
	// operation was transformed against.
	transformChain prometheus.Histogram

	sessionsActive    prometheus.Gauge
	sessionsCreated   prometheus.Counter
	connectionsActive prometheus.Gauge

	// messages counts wire messages.
	// Labels:
	//   - direction: transport.Inbound or transport.Outbound
	//   - type: wire message type (e.g. "op", "ack")
	messages *prometheus.CounterVec
}

var (
	_ session.Recorder   = (*Metrics)(nil)
	_ transport.Observer = (*Metrics)(nil)
)

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		operationsApplied: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coedit_operations_applied_total",
				Help: "Total number of operations accepted into a session history",
			},
			[]string{"kind"},
		),
		operationsRejected: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coedit_operations_rejected_total",
				Help: "Total number of submitted operations that were rejected",
			},
			[]string{"reason"},
		),
		transformChain: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "coedit_transform_chain_length",
				Help:    "Number of concurrent operations an accepted operation was transformed against",
				Buckets: []float64{0, 1, 2, 4, 8, 16, 32, 64, 128, 256},
			},
		),
		sessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "coedit_sessions_active",
			Help: "Number of sessions currently held by the registry",
		}),
		sessionsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "coedit_sessions_created_total",
			Help: "Total number of sessions created",
		}),
		connectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "coedit_connections_active",
			Help: "Number of open client connections",
		}),
		messages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coedit_messages_total",
				Help: "Total number of wire messages by direction and type",
			},
			[]string{"direction", "type"},
		),
	}
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// SessionCreated implements session.Recorder.
func (m *Metrics) SessionCreated(session.Ref) {
	m.sessionsCreated.Inc()
	m.sessionsActive.Inc()
}

// SessionRemoved implements session.Recorder.
func (m *Metrics) SessionRemoved(session.Ref) {
	m.sessionsActive.Dec()
}

// Applied implements session.Recorder.
func (m *Metrics) Applied(_ session.Ref, op ot.Operation, transforms int) {
	m.operationsApplied.WithLabelValues(op.Kind.String()).Inc()
	m.transformChain.Observe(float64(transforms))
}

// Rejected implements session.Recorder.
func (m *Metrics) Rejected(_ session.Ref, _ ot.Operation, err error) {
	m.operationsRejected.WithLabelValues(session.Reason(err)).Inc()
}

// ConnectionOpened records a new client connection.
func (m *Metrics) ConnectionOpened() { m.connectionsActive.Inc() }

// ConnectionClosed records a closed client connection.
func (m *Metrics) ConnectionClosed() { m.connectionsActive.Dec() }

// Message records one wire message.
func (m *Metrics) Message(direction, msgType string) {
	m.messages.WithLabelValues(direction, msgType).Inc()
}
