// Package metrics provides Prometheus metrics for the dashboard backend
// (RED on the HTTP surface, plus upstream client, sync, cache and DB pool
// series). Scrapeable at /metrics; dashboards rely on these names.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "klaviyodash"

var (
	// HTTPRequestTotal counts requests by method, route, status (RED: rate).
	HTTPRequestTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests by method, route, and status.",
		},
		[]string{"method", "route", "status"},
	)

	// HTTPRequestDurationSeconds is request latency histogram (RED: duration).
	HTTPRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2.5, 10), // 1ms to ~9.3s
		},
		[]string{"method", "route"},
	)

	// UpstreamRequestTotal counts outbound Klaviyo API calls by endpoint and status class.
	UpstreamRequestTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_requests_total",
			Help:      "Total number of upstream API requests by endpoint and status.",
		},
		[]string{"endpoint", "status"},
	)

	// UpstreamRequestDurationSeconds is upstream call latency.
	UpstreamRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_request_duration_seconds",
			Help:      "Upstream API request duration in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10), // 10ms to ~5s
		},
		[]string{"endpoint"},
	)

	// UpstreamRateLimitWaitSeconds observes time spent waiting on the client-side limiter.
	UpstreamRateLimitWaitSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_rate_limit_wait_seconds",
			Help:      "Time spent waiting for the outbound rate limiter.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 3, 9), // 1ms to ~6.5s
		},
	)

	// SyncRunsTotal counts sync job runs by entity type and result.
	SyncRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_runs_total",
			Help:      "Total number of sync runs by entity type and result.",
		},
		[]string{"entity", "result"},
	)

	// SyncRowsTotal counts rows upserted by sync jobs.
	SyncRowsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_rows_total",
			Help:      "Total number of rows written by sync jobs per entity type.",
		},
		[]string{"entity"},
	)

	// SyncDurationSeconds is sync run duration per entity type.
	SyncDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sync_duration_seconds",
			Help:      "Sync run duration in seconds per entity type.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12), // 100ms to ~3.4min
		},
		[]string{"entity"},
	)

	// CacheHitsTotal counts response cache hits by endpoint class.
	CacheHitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total number of response cache hits by endpoint class.",
		},
		[]string{"class"},
	)

	// CacheMissesTotal counts response cache misses by endpoint class.
	CacheMissesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total number of response cache misses by endpoint class.",
		},
		[]string{"class"},
	)

	// WriteBackQueueDepth is the current depth of the background write-back queue.
	WriteBackQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "write_back_queue_depth",
			Help:      "Number of pending background write-back tasks.",
		},
	)

	// WriteBackDroppedTotal counts write-back tasks dropped on queue overflow.
	WriteBackDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "write_back_dropped_total",
			Help:      "Total number of write-back tasks dropped because the queue was full.",
		},
	)

	// DBPoolOpenConnections is the current number of open DB connections.
	DBPoolOpenConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_pool_open_connections",
			Help:      "Open connections in the database pool.",
		},
	)

	// DBPoolInUse is the current number of in-use DB connections.
	DBPoolInUse = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_pool_in_use_connections",
			Help:      "In-use connections in the database pool.",
		},
	)

	// DBPoolWaitCount is the cumulative number of waits for a connection.
	DBPoolWaitCount = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_pool_wait_count",
			Help:      "Cumulative count of waits for a database connection.",
		},
	)

	// DBQueryDurationSeconds observes query latency per logical operation.
	DBQueryDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "db_query_duration_seconds",
			Help:      "Database query duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// DBQueryRetriesTotal counts transient-error retries per logical operation.
	DBQueryRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "db_query_retries_total",
			Help:      "Total number of database query retries after transient errors.",
		},
		[]string{"operation"},
	)

	// WebSocketConnectionsActive is the current number of status-stream clients.
	WebSocketConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "websocket_connections_active",
			Help:      "Number of active WebSocket status-stream connections.",
		},
	)
)
