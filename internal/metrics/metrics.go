// Package metrics defines Prometheus metrics for kroger-bridge.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "kroger_bridge"

// HTTP metrics.
var (
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "Duration of inbound HTTP requests in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Total number of inbound HTTP requests.",
	}, []string{"method", "path", "status"})
)

// Kroger API metrics.
var (
	UpstreamRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "upstream_requests_total",
		Help:      "Total number of Kroger API calls by operation and outcome.",
	}, []string{"operation", "outcome"})

	UpstreamRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "upstream_request_duration_seconds",
		Help:      "Duration of Kroger API calls in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation"})
)

// OAuth metrics.
var (
	TokenRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "token_requests_total",
		Help:      "Total number of OAuth2 token endpoint calls by grant type and outcome.",
	}, []string{"grant_type", "outcome"})

	ConfigFlowsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "config_flows_total",
		Help:      "Total number of finished config flows by result and reason.",
	}, []string{"result", "reason"})
)
