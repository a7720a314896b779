package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors of the playback API. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	Decisions      *prometheus.CounterVec
	LeasesClosed   *prometheus.CounterVec
	LeaseDuration  *prometheus.HistogramVec
	Heartbeats     *prometheus.CounterVec
	RateLimited    prometheus.Counter
	StoreErrors    *prometheus.CounterVec
	RequestSeconds *prometheus.HistogramVec
}

// NewMetrics creates and registers all collectors on a private registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		Decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "playback_decisions_total",
			Help: "Arbiter decisions by operation and outcome",
		}, []string{"operation", "device_class", "outcome"}),

		LeasesClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "playback_leases_closed_total",
			Help: "Leases closed by reason",
		}, []string{"reason", "device_class"}),

		LeaseDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "playback_lease_duration_seconds",
			Help:    "Recorded duration of closed leases",
			Buckets: prometheus.ExponentialBuckets(30, 2, 12),
		}, []string{"device_class"}),

		Heartbeats: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "playback_heartbeats_total",
			Help: "Heartbeat calls by kind",
		}, []string{"kind"}),

		RateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "playback_rate_limited_total",
			Help: "Requests rejected by the per-user rate limiter",
		}),

		StoreErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "playback_store_errors_total",
			Help: "Lease or heartbeat store failures by operation",
		}, []string{"operation"}),

		RequestSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "playback_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
		}, []string{"route", "method", "status"}),
	}

	registry.MustRegister(
		m.Decisions,
		m.LeasesClosed,
		m.LeaseDuration,
		m.Heartbeats,
		m.RateLimited,
		m.StoreErrors,
		m.RequestSeconds,
	)
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveDecision counts one arbiter outcome (allow, conflict, error, ...).
func (m *Metrics) ObserveDecision(operation, deviceClass, outcome string) {
	if m == nil {
		return
	}
	m.Decisions.WithLabelValues(operation, deviceClass, outcome).Inc()
}

// ObserveLeaseClosed counts a closed lease and records its duration.
func (m *Metrics) ObserveLeaseClosed(reason, deviceClass string, durationSeconds int64) {
	if m == nil {
		return
	}
	m.LeasesClosed.WithLabelValues(reason, deviceClass).Inc()
	m.LeaseDuration.WithLabelValues(deviceClass).Observe(float64(durationSeconds))
}

// ObserveHeartbeat counts a heartbeat call (beat or stop).
func (m *Metrics) ObserveHeartbeat(kind string) {
	if m == nil {
		return
	}
	m.Heartbeats.WithLabelValues(kind).Inc()
}

// ObserveRateLimited counts one rejected request.
func (m *Metrics) ObserveRateLimited() {
	if m == nil {
		return
	}
	m.RateLimited.Inc()
}

// ObserveStoreError counts one store failure.
func (m *Metrics) ObserveStoreError(operation string) {
	if m == nil {
		return
	}
	m.StoreErrors.WithLabelValues(operation).Inc()
}

// ObserveRequest records one HTTP request.
func (m *Metrics) ObserveRequest(route, method string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.RequestSeconds.WithLabelValues(route, method, strconv.Itoa(status)).Observe(d.Seconds())
}
