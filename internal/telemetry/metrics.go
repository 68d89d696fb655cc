package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Refresh outcomes.
const (
	RefreshSucceeded = "success"
	RefreshFailed    = "failure"
)

// Upstream outcomes.
const (
	UpstreamForwarded   = "forwarded"
	UpstreamUnreachable = "unreachable"
	UpstreamNotFound    = "not_found"
)

// Metrics holds the proxy's Prometheus collectors: RED metrics for inbound
// HTTP plus counters for token refreshes and upstream forwarding.
type Metrics struct {
	HTTPRequestsTotal     *prometheus.CounterVec
	HTTPRequestDuration   *prometheus.HistogramVec
	TokenRefreshTotal     *prometheus.CounterVec
	UpstreamRequestsTotal *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
// serviceName becomes the constant "service" label.
func NewMetrics(reg prometheus.Registerer, serviceName string) *Metrics {
	labels := prometheus.Labels{"service": serviceName}
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "http_requests_total",
				Help:        "Total number of HTTP requests",
				ConstLabels: labels,
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:        "http_request_duration_seconds",
				Help:        "Histogram of HTTP request latency",
				ConstLabels: labels,
				Buckets:     []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		TokenRefreshTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "bff_token_refresh_total",
				Help:        "Total number of access token refresh attempts by outcome",
				ConstLabels: labels,
			},
			[]string{"outcome"},
		),
		UpstreamRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "bff_upstream_requests_total",
				Help:        "Total number of proxied upstream requests by outcome",
				ConstLabels: labels,
			},
			[]string{"outcome"},
		),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.TokenRefreshTotal,
		m.UpstreamRequestsTotal,
	)

	return m
}

// ObserveRefresh counts one refresh attempt. A nil Metrics is a no-op.
func (m *Metrics) ObserveRefresh(outcome string) {
	if m == nil {
		return
	}
	m.TokenRefreshTotal.WithLabelValues(outcome).Inc()
}

// ObserveUpstream counts one proxied request. A nil Metrics is a no-op.
func (m *Metrics) ObserveUpstream(outcome string) {
	if m == nil {
		return
	}
	m.UpstreamRequestsTotal.WithLabelValues(outcome).Inc()
}

// MetricsHandler returns the /metrics handler for the given gatherer.
func MetricsHandler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
