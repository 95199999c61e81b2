// Package metrics holds the Prometheus collectors exported by the broker.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "sweetlink"

// Command outcomes
const (
	OutcomeOK        = "ok"
	OutcomeFailed    = "failed"
	OutcomeTimeout   = "timeout"
	OutcomeEnded     = "session_ended"
	OutcomeTransport = "transport_error"
	OutcomeCanceled  = "canceled"
)

// Session removal causes
const (
	RemovedClosed   = "socket_closed"
	RemovedReplaced = "replaced"
	RemovedStale    = "stale"
	RemovedOperator = "operator"
	RemovedShutdown = "shutdown"
)

// Metrics bundles the broker's collectors
type Metrics struct {
	registry *prometheus.Registry

	SessionsActive     prometheus.Gauge
	SessionsRegistered prometheus.Counter
	SessionsRemoved    *prometheus.CounterVec
	CommandsTotal      *prometheus.CounterVec
	CommandDuration    prometheus.Histogram
	PendingCommands    prometheus.Gauge
	FramesReceived     *prometheus.CounterVec
	FramesDropped      *prometheus.CounterVec
	ConsoleEvents      prometheus.Counter
	AuthFailures       prometheus.Counter
}

// New creates the collectors and registers them on a fresh registry
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of registered tab sessions.",
		}),
		SessionsRegistered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_registered_total",
			Help:      "Successful session registrations.",
		}),
		SessionsRemoved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_removed_total",
			Help:      "Sessions removed, by cause.",
		}, []string{"cause"}),
		CommandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Commands sent to tabs, by outcome.",
		}, []string{"outcome"}),
		CommandDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "command_duration_seconds",
			Help:      "Round-trip time of commands that received a result.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
		PendingCommands: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_commands",
			Help:      "Commands awaiting a result.",
		}),
		FramesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_received_total",
			Help:      "Inbound socket frames, by kind.",
		}, []string{"kind"}),
		FramesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_dropped_total",
			Help:      "Inbound socket frames that were dropped, by reason.",
		}, []string{"reason"}),
		ConsoleEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "console_events_total",
			Help:      "Console events received from tabs.",
		}),
		AuthFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_failures_total",
			Help:      "Rejected tokens on the socket and the control plane.",
		}),
	}

	m.registry.MustRegister(
		m.SessionsActive,
		m.SessionsRegistered,
		m.SessionsRemoved,
		m.CommandsTotal,
		m.CommandDuration,
		m.PendingCommands,
		m.FramesReceived,
		m.FramesDropped,
		m.ConsoleEvents,
		m.AuthFailures,
		collectors.NewGoCollector(),
	)
	return m
}

// Registry exposes the underlying registry (used by tests)
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
