package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the playback orchestrator.
// All methods are safe to call on a nil *Metrics, which records nothing.
type Metrics struct {
	registry           *prometheus.Registry
	requestsTotal      *prometheus.CounterVec
	errorsTotal        *prometheus.CounterVec
	sessionsStarted    prometheus.Counter
	sessionsFailed     *prometheus.CounterVec
	activeSessions     prometheus.Gauge
	licenseRequests    prometheus.Counter
	licenseErrors      prometheus.Counter
	fetchTransfers     prometheus.Counter
	fetchCacheHits     prometheus.Counter
	negotiationResults *prometheus.CounterVec
}

// New creates and registers Prometheus metrics on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "playback_http_requests_total",
			Help: "Total number of HTTP requests received, by method and route",
		}, []string{"method", "route"}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "playback_http_errors_total",
			Help: "Total number of HTTP responses with error status (4xx or 5xx), by route and status",
		}, []string{"route", "status"}),
		sessionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "playback_sessions_started_total",
			Help: "Total number of playback sessions that reached the playing state",
		}),
		sessionsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "playback_sessions_failed_total",
			Help: "Total number of playback sessions aborted, by stage",
		}, []string{"stage"}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "playback_active_sessions",
			Help: "Number of sessions that are registered and not closed",
		}),
		licenseRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "playback_license_requests_total",
			Help: "Total number of license challenge round trips attempted",
		}),
		licenseErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "playback_license_errors_total",
			Help: "Total number of license round trips that failed",
		}),
		fetchTransfers: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "playback_fetch_transfers_total",
			Help: "Total number of media payload transfers started",
		}),
		fetchCacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "playback_fetch_cache_hits_total",
			Help: "Total number of media payload lookups served from cache",
		}),
		negotiationResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "playback_keysystem_attempts_total",
			Help: "Key system access attempts, by key system and result",
		}, []string{"key_system", "result"}),
	}

	registry.MustRegister(
		m.requestsTotal,
		m.errorsTotal,
		m.sessionsStarted,
		m.sessionsFailed,
		m.activeSessions,
		m.licenseRequests,
		m.licenseErrors,
		m.fetchTransfers,
		m.fetchCacheHits,
		m.negotiationResults,
	)

	return m
}

// IncRequests counts one request served by route.
func (m *Metrics) IncRequests(method, route string) {
	if m != nil {
		m.requestsTotal.WithLabelValues(method, route).Inc()
	}
}

// IncErrors counts one error response on route.
func (m *Metrics) IncErrors(route string, status int) {
	if m != nil {
		m.errorsTotal.WithLabelValues(route, strconv.Itoa(status)).Inc()
	}
}

// IncSessionsStarted increments the started sessions counter.
func (m *Metrics) IncSessionsStarted() {
	if m != nil {
		m.sessionsStarted.Inc()
	}
}

// IncSessionsFailed counts a session aborted at stage.
func (m *Metrics) IncSessionsFailed(stage string) {
	if m != nil {
		m.sessionsFailed.WithLabelValues(stage).Inc()
	}
}

// SetActiveSessions sets the active sessions gauge.
func (m *Metrics) SetActiveSessions(n int) {
	if m != nil {
		m.activeSessions.Set(float64(n))
	}
}

// IncLicenseRequests increments the license round trip counter.
func (m *Metrics) IncLicenseRequests() {
	if m != nil {
		m.licenseRequests.Inc()
	}
}

// IncLicenseErrors increments the failed license round trip counter.
func (m *Metrics) IncLicenseErrors() {
	if m != nil {
		m.licenseErrors.Inc()
	}
}

// IncFetchTransfers increments the started transfer counter.
func (m *Metrics) IncFetchTransfers() {
	if m != nil {
		m.fetchTransfers.Inc()
	}
}

// IncFetchCacheHits increments the cache hit counter.
func (m *Metrics) IncFetchCacheHits() {
	if m != nil {
		m.fetchCacheHits.Inc()
	}
}

// ObserveKeySystemAttempt records one access attempt for keySystem.
func (m *Metrics) ObserveKeySystemAttempt(keySystem string, ok bool) {
	if m == nil {
		return
	}
	result := "failure"
	if ok {
		result = "success"
	}
	m.negotiationResults.WithLabelValues(keySystem, result).Inc()
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values (e.g. active sessions).
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
