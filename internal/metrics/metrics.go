// Package metrics provides Prometheus metrics for the proxy.
package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Default histogram buckets for bridge latency. Device calls such as /call
// can block on user interaction, so the tail runs long.
var defaultBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60}

// Listener label values.
const (
	ListenerProxy     = "proxy"
	ListenerDashboard = "dashboard"
)

// Metrics holds all Prometheus metric collectors for the proxy.
type Metrics struct {
	Registry *prometheus.Registry

	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight *prometheus.GaugeVec

	UpstreamDuration  *prometheus.HistogramVec
	UpstreamResponses *prometheus.CounterVec
	UpstreamFailures  *prometheus.CounterVec
}

// New creates a Metrics instance with a custom registry and all collectors registered.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		Registry: reg,

		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_proxy_http_requests_total",
			Help: "Total inbound HTTP requests.",
		}, []string{"listener", "method", "status_code", "path_prefix"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bridge_proxy_http_request_duration_seconds",
			Help:    "Inbound HTTP request latency in seconds.",
			Buckets: defaultBuckets,
		}, []string{"listener", "method", "status_code", "path_prefix"}),

		RequestsInFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bridge_proxy_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed.",
		}, []string{"listener"}),

		UpstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bridge_proxy_upstream_request_duration_seconds",
			Help:    "Bridge call latency in seconds.",
			Buckets: defaultBuckets,
		}, []string{"method"}),

		UpstreamResponses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_proxy_upstream_responses_total",
			Help: "Total bridge responses by method and status code.",
		}, []string{"method", "status_code"}),

		UpstreamFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_proxy_upstream_failures_total",
			Help: "Bridge calls that failed before a response was received.",
		}, []string{"method"}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.RequestsInFlight,
		m.UpstreamDuration,
		m.UpstreamResponses,
		m.UpstreamFailures,
	)

	return m
}

// knownMethods lists the allowed HTTP method label values (bounded cardinality).
var knownMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "DELETE": true,
	"PATCH": true, "HEAD": true, "OPTIONS": true,
}

// NormalizeMethod returns a bounded HTTP method label for Prometheus metrics.
// Non-standard methods are mapped to "other" to prevent cardinality explosion.
func NormalizeMethod(method string) string {
	if knownMethods[method] {
		return method
	}
	return "other"
}

// knownPrefixes lists the bridge API endpoints used as path labels.
// Session-scoped calls (/acquire/<path>/<session>, /call/<session>, ...)
// collapse onto their endpoint.
var knownPrefixes = []string{
	"/status",
	"/configure",
	"/enumerate",
	"/listen",
	"/acquire",
	"/release",
	"/call",
	"/post",
	"/read",
}

// NormalizePath returns a bounded path label for Prometheus metrics.
func NormalizePath(path string) string {
	if path == "/" {
		return "/"
	}
	for _, prefix := range knownPrefixes {
		if path == prefix || strings.HasPrefix(path, prefix+"/") || strings.HasPrefix(path, prefix+"?") {
			return prefix
		}
	}
	return "other"
}
