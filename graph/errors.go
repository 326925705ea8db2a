// Package graph provides the core graph execution engine for agentrt.
package graph

import "errors"

// ErrMaxStepsExceeded indicates that the graph execution reached the maximum.
// allowed step count without completing. This prevents infinite loops and.
// runaway executions.
var ErrMaxStepsExceeded = errors.New("execution exceeded maximum steps limit")

// ErrBackpressure indicates that downstream processing cannot keep up with.
// the current execution rate. This typically occurs when output buffers are.
// full or rate limits are exceeded.
var ErrBackpressure = errors.New("downstream backpressure exceeded threshold")
