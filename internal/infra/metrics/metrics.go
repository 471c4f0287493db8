// Package metrics provides Prometheus metrics for rmono's invocation
// engine: call latency and error counts, handle registry size, deferred-
// free buffer occupancy, and wrapper code-generation activity.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ─── Calls ──────────────────────────────────────────────────────────────────

// CallLatency tracks one RPCCall round trip's duration, by function name and
// view ("raw" or "wrap").
var CallLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "rmono",
	Name:      "call_latency_seconds",
	Help:      "Duration of one target-process call.",
	Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
}, []string{"function", "view"})

// CallErrors tracks failed calls by function name and error class.
var CallErrors = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "rmono",
	Name:      "call_errors_total",
	Help:      "Total failed target-process calls.",
}, []string{"function", "reason"})

// ─── Handles ────────────────────────────────────────────────────────────────

// HandlesLive tracks the current number of live handles in the registry.
var HandlesLive = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "rmono",
	Name:      "handles_live",
	Help:      "Number of live handles in the active attachment's registry.",
})

// HandleDoubleFrees tracks rejected double-release attempts.
var HandleDoubleFrees = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "rmono",
	Name:      "handle_double_frees_total",
	Help:      "Total handle releases rejected for an already-freed handle.",
})

// ─── Deferred free ──────────────────────────────────────────────────────────

// DeferredFreeBatchSize tracks the size of each flushed deferred-free batch.
var DeferredFreeBatchSize = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "rmono",
	Name:      "deferred_free_batch_size",
	Help:      "Number of entries in each flushed deferred-free batch.",
	Buckets:   []float64{1, 2, 4, 8, 16, 32, 64, 128, 256},
}, []string{"kind"})

// ─── Attach / dispatch ──────────────────────────────────────────────────────

// AttachDuration tracks the full attach sequence's wall-clock time.
var AttachDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "rmono",
	Name:      "attach_duration_seconds",
	Help:      "Duration of the full attach sequence.",
	Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10},
})

// WrappersGenerated tracks how many wrap trampolines were synthesized and
// injected during the most recent attach.
var WrappersGenerated = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "rmono",
	Name:      "wrappers_generated",
	Help:      "Number of wrap trampolines synthesized during the active attachment.",
})

// UnsupportedAPICalls tracks lookups against catalog functions the target's
// Mono build didn't export.
var UnsupportedAPICalls = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "rmono",
	Name:      "unsupported_api_calls_total",
	Help:      "Total calls attempted against functions unsupported by the target.",
}, []string{"function"})
