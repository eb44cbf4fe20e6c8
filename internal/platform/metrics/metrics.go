package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Refresh outcomes recorded by ObserveRefresh.
const (
	RefreshSuccess = "success"
	RefreshFailure = "failure"
	RefreshSkipped = "skipped"
)

// ErrSkipped may be passed to ObserveRefresh for attempts that did not reach
// the vendor.
var ErrSkipped = errors.New("refresh skipped")

// Metrics holds Prometheus counters and gauges for the relay.
type Metrics struct {
	registry            *prometheus.Registry
	requestsTotal       prometheus.Counter
	errorsTotal         prometheus.Counter
	requestDuration     *prometheus.HistogramVec
	manifestsRewritten  *prometheus.CounterVec
	upstreamFailures    *prometheus.CounterVec
	sessionRefreshTotal *prometheus.CounterVec
	sessionState        prometheus.Gauge
}

// New creates and registers Prometheus metrics for the relay.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	requestsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hls_requests_total",
		Help: "Total number of HTTP requests received",
	})
	errorsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hls_errors_total",
		Help: "Total number of HTTP responses with error status (4xx or 5xx)",
	})
	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "hls_request_duration_seconds",
		Help:    "HTTP request latency by route pattern",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	manifestsRewritten := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hls_manifests_rewritten_total",
		Help: "Total number of playlists rewritten, by playlist kind",
	}, []string{"kind"})
	upstreamFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hls_upstream_failures_total",
		Help: "Total number of failed vendor calls, by operation",
	}, []string{"op"})
	sessionRefreshTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hls_session_refresh_total",
		Help: "Total number of session refresh attempts, by outcome",
	}, []string{"outcome"})
	sessionState := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "hls_session_state",
		Help: "Session state: 0 logged out, 1 authenticating, 2 authenticated, 3 expired",
	})

	registry.MustRegister(
		requestsTotal,
		errorsTotal,
		requestDuration,
		manifestsRewritten,
		upstreamFailures,
		sessionRefreshTotal,
		sessionState,
	)

	return &Metrics{
		registry:            registry,
		requestsTotal:       requestsTotal,
		errorsTotal:         errorsTotal,
		requestDuration:     requestDuration,
		manifestsRewritten:  manifestsRewritten,
		upstreamFailures:    upstreamFailures,
		sessionRefreshTotal: sessionRefreshTotal,
		sessionState:        sessionState,
	}
}

// IncRequests increments the total request counter.
func (m *Metrics) IncRequests() {
	m.requestsTotal.Inc()
}

// IncErrors increments the errors counter.
func (m *Metrics) IncErrors() {
	m.errorsTotal.Inc()
}

// ObserveRequestDuration records the latency of one request to route.
func (m *Metrics) ObserveRequestDuration(route string, d time.Duration) {
	m.requestDuration.WithLabelValues(route).Observe(d.Seconds())
}

// IncManifestRewritten counts one rewritten playlist of the given kind.
func (m *Metrics) IncManifestRewritten(kind string) {
	m.manifestsRewritten.WithLabelValues(kind).Inc()
}

// IncUpstreamFailure counts one failed vendor call.
func (m *Metrics) IncUpstreamFailure(op string) {
	m.upstreamFailures.WithLabelValues(op).Inc()
}

// ObserveRefresh records the outcome of a refresh attempt.
func (m *Metrics) ObserveRefresh(err error) {
	switch {
	case err == nil:
		m.sessionRefreshTotal.WithLabelValues(RefreshSuccess).Inc()
	case errors.Is(err, ErrSkipped):
		m.sessionRefreshTotal.WithLabelValues(RefreshSkipped).Inc()
	default:
		m.sessionRefreshTotal.WithLabelValues(RefreshFailure).Inc()
	}
}

// SetSessionState sets the session state gauge.
func (m *Metrics) SetSessionState(state int) {
	m.sessionState.Set(float64(state))
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values (e.g. session state).
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	h := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		h.ServeHTTP(w, r)
	})
}
