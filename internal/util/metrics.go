package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CartOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cart_operations_total",
		Help: "Total number of cart operations",
	}, []string{"op", "outcome"})

	CartOperationLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cart_operation_latency_seconds",
		Help:    "Latency of cart operations including backend round trips",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})

	SessionTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "session_transitions_total",
		Help: "Total number of session status transitions",
	}, []string{"status"})

	AuthFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_failures_total",
		Help: "Total number of rejected sign-in and sign-up attempts",
	}, []string{"op"})

	CatalogCacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "catalog_cache_hits_total",
		Help: "Total number of catalog reads served from cache",
	})

	CatalogCacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "catalog_cache_misses_total",
		Help: "Total number of catalog reads that went to the backend",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
