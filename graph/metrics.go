// Package graph provides the core graph execution engine for agentrt.
package graph

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics collects the runtime's operational metrics, namespaced
// "agentrt_". One instance is shared across the engine, the runtime cache
// and the executor's constraint checks; every recording method is safe on a
// nil receiver, so callers wire metrics through without guarding each call.
//
// Metrics exposed:
//
//   - step_latency_ms (histogram; run_id, node_id, status): node execution
//     duration from dispatch to completion. status is success, error or
//     timeout.
//   - retries_total (counter; run_id, node_id, reason): LLM and node retry
//     attempts.
//   - tool_rejections_total (counter; tool, rule): tool calls rejected by
//     the execution-constraints rules (blocked_after, required_precedents,
//     max_retries, consecutive_duplicate).
//   - runtime_cache_entries (gauge): current entry count of the compiled
//     graph cache, pinned and unpinned combined.
//   - runtime_cache_evictions_total (counter; reason): entries leaving the
//     cache. reason is expired, lru or superseded.
//   - runtime_cache_rebuilds_total (counter; status): build and rebuild
//     attempts for cache entries. status is success or error.
//
// Expose via promhttp against the same registry passed to
// NewPrometheusMetrics:
//
//	registry := prometheus.NewRegistry()
//	metrics := graph.NewPrometheusMetrics(registry)
//	http.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
type PrometheusMetrics struct {
	stepLatency    *prometheus.HistogramVec
	retries        *prometheus.CounterVec
	toolRejections *prometheus.CounterVec

	cacheEntries   prometheus.Gauge
	cacheEvictions *prometheus.CounterVec
	cacheRebuilds  *prometheus.CounterVec
}

// NewPrometheusMetrics creates and registers all runtime metrics with the
// provided registry (nil falls back to prometheus.DefaultRegisterer; a
// dedicated registry per process is recommended so tests stay isolated).
func NewPrometheusMetrics(registry prometheus.Registerer) *PrometheusMetrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &PrometheusMetrics{
		stepLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "agentrt",
			Name:      "step_latency_ms",
			Help:      "Node execution duration in milliseconds, from dispatch to completion",
			Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000},
		}, []string{"run_id", "node_id", "status"}),

		retries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentrt",
			Name:      "retries_total",
			Help:      "Cumulative retry attempts across nodes and LLM calls",
		}, []string{"run_id", "node_id", "reason"}),

		toolRejections: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentrt",
			Name:      "tool_rejections_total",
			Help:      "Tool calls rejected by execution-constraint rules",
		}, []string{"tool", "rule"}),

		cacheEntries: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "agentrt",
			Name:      "runtime_cache_entries",
			Help:      "Current compiled-graph cache entry count, pinned and unpinned",
		}),

		cacheEvictions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentrt",
			Name:      "runtime_cache_evictions_total",
			Help:      "Compiled-graph cache entries evicted, by reason",
		}, []string{"reason"}),

		cacheRebuilds: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentrt",
			Name:      "runtime_cache_rebuilds_total",
			Help:      "Compiled-graph build and rebuild attempts, by outcome",
		}, []string{"status"}),
	}
}

// RecordStepLatency records one node execution's duration. status is
// "success", "error" or "timeout".
func (pm *PrometheusMetrics) RecordStepLatency(runID, nodeID string, latency time.Duration, status string) {
	if pm == nil {
		return
	}
	pm.stepLatency.WithLabelValues(runID, nodeID, status).Observe(float64(latency.Milliseconds()))
}

// IncrementRetries counts one retry attempt for nodeID. reason is
// "error", "timeout" or "transient".
func (pm *PrometheusMetrics) IncrementRetries(runID, nodeID, reason string) {
	if pm == nil {
		return
	}
	pm.retries.WithLabelValues(runID, nodeID, reason).Inc()
}

// RecordToolRejection counts one constraint rejection of tool by rule.
func (pm *PrometheusMetrics) RecordToolRejection(tool, rule string) {
	if pm == nil {
		return
	}
	pm.toolRejections.WithLabelValues(tool, rule).Inc()
}

// SetCacheEntries reports the runtime cache's current entry count.
func (pm *PrometheusMetrics) SetCacheEntries(n int) {
	if pm == nil {
		return
	}
	pm.cacheEntries.Set(float64(n))
}

// IncrementCacheEvictions counts one entry leaving the cache. reason is
// "expired", "lru" or "superseded".
func (pm *PrometheusMetrics) IncrementCacheEvictions(reason string) {
	if pm == nil {
		return
	}
	pm.cacheEvictions.WithLabelValues(reason).Inc()
}

// IncrementCacheRebuilds counts one cache build or rebuild attempt. status
// is "success" or "error".
func (pm *PrometheusMetrics) IncrementCacheRebuilds(status string) {
	if pm == nil {
		return
	}
	pm.cacheRebuilds.WithLabelValues(status).Inc()
}
