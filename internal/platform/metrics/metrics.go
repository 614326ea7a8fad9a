// Package metrics holds the transport-level Prometheus collectors. Domain
// packages register their own counters next to the code that drives them.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTPRequestsTotal counts finished requests by method and status class.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "issuer_http_requests_total",
		Help: "Total HTTP requests served.",
	}, []string{"method", "status"})

	// HTTPRequestDuration observes request latency by method.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "issuer_http_request_duration_seconds",
		Help:    "HTTP request latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method"})
)
