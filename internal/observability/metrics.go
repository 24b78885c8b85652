package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// namespace defines the global prefix for all metrics (e.g. platform_...).
const namespace = "platform"

var (
	// -------------------------------------------------------------------------
	// HTTP API
	// -------------------------------------------------------------------------

	// HTTPReqDuration measures the latency of HTTP requests.
	// Metric: platform_api_http_handling_seconds
	HTTPReqDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "api",
		Name:      "http_handling_seconds",
		Help:      "Time taken to handle HTTP requests",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path"})

	// HTTPReqTotal counts the total number of HTTP requests.
	// Metric: platform_api_http_requests_total
	HTTPReqTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "api",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests",
	}, []string{"method", "path", "code"})

	// -------------------------------------------------------------------------
	// FLAG EVALUATION
	// -------------------------------------------------------------------------

	// EvaluationsTotal counts flag decisions by reason code. The reason label
	// has low cardinality (a fixed set of ten codes).
	EvaluationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "flags",
		Name:      "evaluations_total",
		Help:      "Total flag evaluations by decision reason",
	}, []string{"reason"})

	// FlagCacheHits / FlagCacheMisses track the Redis snapshot cache on the
	// evaluation path.
	FlagCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "flags",
		Name:      "cache_hits_total",
		Help:      "Total flag snapshot cache hits",
	})

	FlagCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "flags",
		Name:      "cache_misses_total",
		Help:      "Total flag snapshot cache misses",
	})

	// -------------------------------------------------------------------------
	// JOB EXECUTION
	// -------------------------------------------------------------------------

	// JobExecutionDuration measures the wall-clock time of webhook calls.
	JobExecutionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "jobs",
		Name:      "execution_duration_seconds",
		Help:      "Wall-clock duration of webhook executions",
		Buckets:   prometheus.DefBuckets,
	})

	// JobExecutionsTotal counts executions by outcome (success, failure).
	JobExecutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "jobs",
		Name:      "executions_total",
		Help:      "Total job executions by outcome",
	}, []string{"status"})

	// -------------------------------------------------------------------------
	// EVENT STREAM (SSE)
	// -------------------------------------------------------------------------

	// StreamSubscribers tracks currently connected event stream listeners.
	StreamSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "events",
		Name:      "stream_subscribers",
		Help:      "Currently connected SSE listeners",
	})

	// EventsDropped counts events discarded because a listener's buffer was
	// full. Non-zero values indicate slow consumers, not data loss: the
	// stream is fire-and-forget by contract.
	EventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "events",
		Name:      "dropped_total",
		Help:      "Events dropped due to slow subscribers",
	})

	// -------------------------------------------------------------------------
	// SYNCER (Workers)
	// -------------------------------------------------------------------------

	// SyncCycleDuration measures one Postgres -> Redis projection cycle.
	SyncCycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "syncer",
		Name:      "cycle_duration_seconds",
		Help:      "Duration of one flag cache sync cycle",
		Buckets:   prometheus.DefBuckets,
	})

	// SyncedFlagsTotal counts flag projections by result (success, fail).
	SyncedFlagsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "syncer",
		Name:      "flags_total",
		Help:      "Total flag cache projections",
	}, []string{"status"})

	// HistoryPurgedTotal counts execution records removed by the retention
	// worker.
	HistoryPurgedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "syncer",
		Name:      "history_purged_total",
		Help:      "Job history rows removed by the retention purge",
	})
)
