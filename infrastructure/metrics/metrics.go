// Package metrics provides Prometheus metrics collection for the agent and server.
package metrics

import (
	"os"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics shared by agent and server processes.
type Metrics struct {
	// HTTP metrics
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	// Error metrics
	ErrorsTotal *prometheus.CounterVec

	// Event pipeline metrics
	EventsProducedTotal *prometheus.CounterVec
	EventsIngestedTotal *prometheus.CounterVec
	AlertsEmittedTotal  *prometheus.CounterVec

	// Spool metrics
	SpoolSegmentsWritten  prometheus.Counter
	SpoolSegmentsCorrupt  prometheus.Counter
	SpoolPendingSegments  prometheus.Gauge

	// Uploader metrics
	UploadAttemptsTotal *prometheus.CounterVec
	UploadBackoffSeconds prometheus.Gauge

	// Service health
	ServiceUptime prometheus.Gauge
	ServiceInfo   *prometheus.GaugeVec
}

// New creates a new Metrics instance registered with the default registerer.
func New(serviceName string) *Metrics {
	return NewWithRegistry(serviceName, prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a new Metrics instance with a custom registry, useful for tests.
func NewWithRegistry(serviceName string, registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"service", "method", "path", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"service", "method", "path"},
		),
		RequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Current number of HTTP requests being processed",
			},
		),
		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "errors_total",
				Help: "Total number of errors",
			},
			[]string{"service", "type", "operation"},
		),
		EventsProducedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agent_events_produced_total",
				Help: "Total number of events produced by agent monitors",
			},
			[]string{"kind"},
		),
		EventsIngestedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "server_events_ingested_total",
				Help: "Total number of events committed to the primary store",
			},
			[]string{"kind"},
		),
		AlertsEmittedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "correlation_alerts_emitted_total",
				Help: "Total number of alerts emitted by the correlation engine",
			},
			[]string{"alert_type", "severity"},
		),
		SpoolSegmentsWritten: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "spool_segments_written_total",
				Help: "Total number of encrypted spool segments written to disk",
			},
		),
		SpoolSegmentsCorrupt: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "spool_segments_corrupt_total",
				Help: "Total number of spool segments quarantined after failed decryption",
			},
		),
		SpoolPendingSegments: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "spool_pending_segments",
				Help: "Current number of sealed segments awaiting upload",
			},
		),
		UploadAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "uploader_attempts_total",
				Help: "Total number of batch upload attempts",
			},
			[]string{"outcome"},
		),
		UploadBackoffSeconds: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "uploader_backoff_seconds",
				Help: "Current backoff duration applied before the next upload attempt",
			},
		),
		ServiceUptime: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "service_uptime_seconds",
				Help: "Service uptime in seconds",
			},
		),
		ServiceInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "service_info",
				Help: "Service information",
			},
			[]string{"service", "version"},
		),
	}

	if registerer != nil {
		registerer.MustRegister(
			m.RequestsTotal,
			m.RequestDuration,
			m.RequestsInFlight,
			m.ErrorsTotal,
			m.EventsProducedTotal,
			m.EventsIngestedTotal,
			m.AlertsEmittedTotal,
			m.SpoolSegmentsWritten,
			m.SpoolSegmentsCorrupt,
			m.SpoolPendingSegments,
			m.UploadAttemptsTotal,
			m.UploadBackoffSeconds,
			m.ServiceUptime,
			m.ServiceInfo,
		)
	}

	m.ServiceInfo.WithLabelValues(serviceName, "1.0.0").Set(1)

	return m
}

// RecordHTTPRequest records an HTTP request.
func (m *Metrics) RecordHTTPRequest(service, method, path, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(service, method, path, status).Inc()
	m.RequestDuration.WithLabelValues(service, method, path).Observe(duration.Seconds())
}

// RecordError records an error.
func (m *Metrics) RecordError(service, errorType, operation string) {
	m.ErrorsTotal.WithLabelValues(service, errorType, operation).Inc()
}

// RecordEventProduced records a monitor-produced event of the given kind
// ("file", "network", "app_usage", "alert").
func (m *Metrics) RecordEventProduced(kind string) {
	m.EventsProducedTotal.WithLabelValues(kind).Inc()
}

// RecordEventIngested records an event of the given kind committed to the primary store.
func (m *Metrics) RecordEventIngested(kind string) {
	m.EventsIngestedTotal.WithLabelValues(kind).Inc()
}

// RecordAlertEmitted records an alert emitted by the correlation engine.
func (m *Metrics) RecordAlertEmitted(alertType, severity string) {
	m.AlertsEmittedTotal.WithLabelValues(alertType, severity).Inc()
}

// RecordUploadAttempt records the outcome ("success", "failure") of an upload attempt.
func (m *Metrics) RecordUploadAttempt(outcome string) {
	m.UploadAttemptsTotal.WithLabelValues(outcome).Inc()
}

// UpdateUptime updates the service uptime.
func (m *Metrics) UpdateUptime(startTime time.Time) {
	m.ServiceUptime.Set(time.Since(startTime).Seconds())
}

// IncrementInFlight increments the in-flight requests counter.
func (m *Metrics) IncrementInFlight() {
	m.RequestsInFlight.Inc()
}

// DecrementInFlight decrements the in-flight requests counter.
func (m *Metrics) DecrementInFlight() {
	m.RequestsInFlight.Dec()
}

// Enabled returns whether Prometheus metrics should be exposed, controlled by
// the METRICS_ENABLED environment variable (defaults to enabled).
func Enabled() bool {
	raw := strings.ToLower(strings.TrimSpace(os.Getenv("METRICS_ENABLED")))
	if raw == "" {
		return true
	}
	switch raw {
	case "0", "false", "no", "off":
		return false
	default:
		return true
	}
}

var (
	globalMetrics *Metrics
	globalMu      sync.Mutex
)

// Init initializes the global metrics instance.
func Init(serviceName string) *Metrics {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalMetrics == nil {
		globalMetrics = New(serviceName)
	}
	return globalMetrics
}

// Global returns the global metrics instance.
func Global() *Metrics {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalMetrics == nil {
		globalMetrics = New("unknown")
	}
	return globalMetrics
}
