package metrics

import (
	"net/http"
	"time"

	"github.com/RohitKrishnan4943/ProctorVision/internal/proctor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors of the monitoring pipeline. It
// implements proctor.Observer and signals.UnavailableRecorder.
type Metrics struct {
	registry *prometheus.Registry

	signals             *prometheus.CounterVec
	unavailable         *prometheus.CounterVec
	invalid             *prometheus.CounterVec
	violations          *prometheus.CounterVec
	escalations         prometheus.Counter
	persistenceFailures prometheus.Counter
	activeSessions      prometheus.Gauge
	liveConnections     prometheus.Gauge
	ingestDuration      prometheus.Histogram
}

// New creates a Metrics instance on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		signals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "proctor_signals_total",
			Help: "Measurements received, by channel",
		}, []string{"channel"}),
		unavailable: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "proctor_signal_unavailable_total",
			Help: "Inputs skipped because a detector was unavailable or timed out",
		}, []string{"channel"}),
		invalid: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "proctor_invalid_measurements_total",
			Help: "Measurements rejected as invalid, by channel",
		}, []string{"channel"}),
		violations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "proctor_violations_total",
			Help: "Violations recorded, by type and severity",
		}, []string{"type", "severity"}),
		escalations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "proctor_escalations_total",
			Help: "Submissions auto-submitted by escalation",
		}),
		persistenceFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "proctor_persistence_failures_total",
			Help: "Record calls aborted by a storage failure",
		}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "proctor_active_sessions",
			Help: "Sessions with an in-memory history",
		}),
		liveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "proctor_live_connections",
			Help: "Open monitoring WebSocket connections",
		}),
		ingestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "proctor_ingest_duration_seconds",
			Help:    "Time spent classifying and recording one ingest call",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		}),
	}

	m.registry.MustRegister(
		m.signals,
		m.unavailable,
		m.invalid,
		m.violations,
		m.escalations,
		m.persistenceFailures,
		m.activeSessions,
		m.liveConnections,
		m.ingestDuration,
		collectors.NewGoCollector(),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler returns an HTTP handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) SignalReceived(ch proctor.Channel) {
	m.signals.WithLabelValues(string(ch)).Inc()
}

func (m *Metrics) SignalUnavailable(ch proctor.Channel) {
	m.unavailable.WithLabelValues(string(ch)).Inc()
}

func (m *Metrics) InvalidMeasurement(ch proctor.Channel) {
	m.invalid.WithLabelValues(string(ch)).Inc()
}

func (m *Metrics) ViolationEmitted(v proctor.Violation) {
	m.violations.WithLabelValues(string(v.Type), string(v.Severity)).Inc()
}

func (m *Metrics) Escalated() { m.escalations.Inc() }

func (m *Metrics) PersistenceFailed() { m.persistenceFailures.Inc() }

func (m *Metrics) ActiveSessions(n int) { m.activeSessions.Set(float64(n)) }

func (m *Metrics) LiveConnections(n int) { m.liveConnections.Set(float64(n)) }

func (m *Metrics) IngestDuration(d time.Duration) { m.ingestDuration.Observe(d.Seconds()) }
