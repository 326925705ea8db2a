// Package graph provides the core graph execution engine for agentrt.
package graph

import "time"

// Option is a functional option for configuring an Engine.
//
// Functional options provide a clean, extensible API for engine configuration:
//   - Chainable: engine := New(reducer, store, emitter, WithMaxSteps(50), WithDefaultNodeTimeout(d))
//   - Self-documenting: Option names clearly describe their purpose.
//   - Optional: Only specify the configuration you need.
//   - Backward compatible: the Options struct still works in place of functional options.
type Option func(*engineConfig) error

// engineConfig is an internal struct used to collect options before applying them to an Engine.
// This indirection allows validation and composition of options.
type engineConfig struct {
	opts Options
}

// WithMaxSteps limits workflow execution to prevent infinite loops.
//
// Default: 0 (no limit, use with caution).
//
// Workflow loops (A → B → A) are fully supported. Use MaxSteps to prevent
// infinite loops when a conditional exit is missing or misconfigured.
//
// When MaxSteps is exceeded, Run() returns EngineError with code "MAX_STEPS_EXCEEDED".
func WithMaxSteps(n int) Option {
	return func(cfg *engineConfig) error {
		cfg.opts.MaxSteps = n
		return nil
	}
}

// WithDefaultNodeTimeout sets the maximum execution time for a single node.
//
// Default: 0 (no timeout). Prevents a single slow node from blocking
// workflow progress indefinitely.
func WithDefaultNodeTimeout(d time.Duration) Option {
	return func(cfg *engineConfig) error {
		cfg.opts.DefaultNodeTimeout = d
		return nil
	}
}

// WithRunWallClockBudget sets the maximum total execution time for Run().
//
// Default: 0 (disabled; workflow runs until completion or MaxSteps). If
// exceeded, Run() returns context.DeadlineExceeded.
func WithRunWallClockBudget(d time.Duration) Option {
	return func(cfg *engineConfig) error {
		cfg.opts.RunWallClockBudget = d
		return nil
	}
}

// WithMetrics enables Prometheus metrics collection.
//
// Example:
//
//	registry := prometheus.NewRegistry()
//	metrics := graph.NewPrometheusMetrics(registry)
//	engine := graph.New(
//	    reducer, store, emitter,
//	    graph.WithMetrics(metrics),
//	)
func WithMetrics(metrics *PrometheusMetrics) Option {
	return func(cfg *engineConfig) error {
		cfg.opts.Metrics = metrics
		return nil
	}
}
