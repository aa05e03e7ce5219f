// Package metrics declares the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AuditWriteFailures counts audit entries that could not be written to
	// system_logs on the request path, per action.
	AuditWriteFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dermascan_audit_write_failures_total",
		Help: "Audit log writes that failed on the request path",
	}, []string{"action"})

	// AuditReplays counts dead-lettered audit entries, by outcome.
	AuditReplays = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dermascan_audit_replays_total",
		Help: "Dead-lettered audit entries replayed into system_logs",
	}, []string{"outcome"})

	// UpstreamFailures counts failed calls to object storage, the inference
	// service and the LLM.
	UpstreamFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dermascan_upstream_failures_total",
		Help: "Failed calls to external collaborators",
	}, []string{"upstream"})

	// SummaryFallbacks counts summaries produced by the rule-based fallback.
	SummaryFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dermascan_summary_fallbacks_total",
		Help: "LLM summaries replaced by the rule-based fallback",
	})

	// RateLimited counts requests rejected by the token bucket, per route.
	RateLimited = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dermascan_rate_limited_total",
		Help: "Requests rejected by the rate limiter",
	}, []string{"route"})

	// CacheLookups counts response cache lookups by result (hit or miss).
	CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dermascan_cache_lookups_total",
		Help: "Response cache lookups",
	}, []string{"result"})

	// RequestDuration observes handler latency per route and status.
	RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dermascan_http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})
)
