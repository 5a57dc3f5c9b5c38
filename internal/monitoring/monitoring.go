// Package monitoring aggregates process diagnostics for the
// /monitoring endpoints: DB pool stats, rolling per-route latency,
// error counters, sync freshness and composed health.
package monitoring

import (
	"context"
	"database/sql"
	"sort"
	stdsync "sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/Kbediako/klaviyo-analytics-dashboard-sub002/internal/config"
	"github.com/Kbediako/klaviyo-analytics-dashboard-sub002/internal/models"
	"github.com/Kbediako/klaviyo-analytics-dashboard-sub002/internal/pkg/metrics"
	"github.com/Kbediako/klaviyo-analytics-dashboard-sub002/internal/repository"
)

// Health states for the composed report and per-component entries.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// Sync freshness classifications.
const (
	FreshnessOK      = "ok"
	FreshnessStale   = "stale"
	FreshnessFailing = "failing"
)

// reservoirSize bounds per-route latency memory; old samples are
// overwritten ring-buffer style.
const reservoirSize = 512

type routeStats struct {
	count   int64
	total   time.Duration
	samples []time.Duration
	next    int
}

// Collector is the process-wide diagnostics aggregator. All methods
// are safe for concurrent use.
type Collector struct {
	db         *repository.DB
	syncStatus repository.SyncStatusRepository
	log        *zap.Logger

	startedAt time.Time
	version   string
	cadences  map[string]time.Duration

	mu       stdsync.Mutex
	routes   map[string]*routeStats
	errors   map[string]int64
	lastPool sql.DBStats
}

// New builds the collector. Cron schedules are parsed into expected
// cadences for sync-freshness checks; unparseable specs fall back to
// a 24 h cadence.
func New(db *repository.DB, syncStatus repository.SyncStatusRepository, cfg config.SyncConfig, version string, log *zap.Logger) *Collector {
	if log == nil {
		log = zap.NewNop()
	}
	return &Collector{
		db:         db,
		syncStatus: syncStatus,
		log:        log,
		startedAt:  time.Now().UTC(),
		version:    version,
		cadences:   parseCadences(cfg.Schedules),
		routes:     make(map[string]*routeStats),
		errors:     make(map[string]int64),
	}
}

// parseCadences derives each entity's expected sync interval from its
// cron spec by measuring the gap between two consecutive firings.
func parseCadences(schedules map[string]string) map[string]time.Duration {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	out := make(map[string]time.Duration, len(schedules))
	for entity, spec := range schedules {
		sched, err := parser.Parse(spec)
		if err != nil {
			out[entity] = 24 * time.Hour
			continue
		}
		first := sched.Next(time.Now())
		out[entity] = sched.Next(first).Sub(first)
	}
	return out
}

// ObserveRequest records one served request for the latency and error
// rollups.
func (c *Collector) ObserveRequest(route string, status int, elapsed time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rs, ok := c.routes[route]
	if !ok {
		rs = &routeStats{samples: make([]time.Duration, 0, reservoirSize)}
		c.routes[route] = rs
	}
	rs.count++
	rs.total += elapsed
	if len(rs.samples) < reservoirSize {
		rs.samples = append(rs.samples, elapsed)
	} else {
		rs.samples[rs.next] = elapsed
		rs.next = (rs.next + 1) % reservoirSize
	}

	if status >= 400 {
		c.errors[statusClass(status)]++
	}
}

// RecordError counts an error by its envelope code.
func (c *Collector) RecordError(code string) {
	c.mu.Lock()
	c.errors[code]++
	c.mu.Unlock()
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	default:
		return "ok"
	}
}

// RouteLatency is one route's rolling latency summary.
type RouteLatency struct {
	Route  string  `json:"route"`
	Count  int64   `json:"count"`
	MeanMS float64 `json:"meanMs"`
	P50MS  float64 `json:"p50Ms"`
	P95MS  float64 `json:"p95Ms"`
	P99MS  float64 `json:"p99Ms"`
}

// PoolSnapshot mirrors sql.DBStats for JSON serving.
type PoolSnapshot struct {
	OpenConnections int   `json:"openConnections"`
	InUse           int   `json:"inUse"`
	Idle            int   `json:"idle"`
	WaitCount       int64 `json:"waitCount"`
	WaitDurationMS  int64 `json:"waitDurationMs"`
}

// MetricsSnapshot is the /monitoring/metrics payload.
type MetricsSnapshot struct {
	Pool      PoolSnapshot   `json:"pool"`
	Routes    []RouteLatency `json:"routes"`
	SampledAt time.Time      `json:"sampledAt"`
}

// Snapshot samples the pool and summarizes route latencies.
func (c *Collector) Snapshot() MetricsSnapshot {
	stats := c.SamplePool()

	c.mu.Lock()
	defer c.mu.Unlock()
	routes := make([]RouteLatency, 0, len(c.routes))
	for route, rs := range c.routes {
		sorted := append([]time.Duration(nil), rs.samples...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
		routes = append(routes, RouteLatency{
			Route:  route,
			Count:  rs.count,
			MeanMS: float64(rs.total.Milliseconds()) / float64(rs.count),
			P50MS:  percentileMS(sorted, 50),
			P95MS:  percentileMS(sorted, 95),
			P99MS:  percentileMS(sorted, 99),
		})
	}
	sort.Slice(routes, func(i, j int) bool { return routes[i].Route < routes[j].Route })

	return MetricsSnapshot{
		Pool: PoolSnapshot{
			OpenConnections: stats.OpenConnections,
			InUse:           stats.InUse,
			Idle:            stats.Idle,
			WaitCount:       stats.WaitCount,
			WaitDurationMS:  stats.WaitDuration.Milliseconds(),
		},
		Routes:    routes,
		SampledAt: time.Now().UTC(),
	}
}

func percentileMS(sorted []time.Duration, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(p / 100 * float64(len(sorted)-1))
	return float64(sorted[idx].Microseconds()) / 1000
}

// Errors returns accumulated error counts by class and envelope code.
func (c *Collector) Errors() map[string]int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]int64, len(c.errors))
	for k, v := range c.errors {
		out[k] = v
	}
	return out
}

// SamplePool reads pool stats and exports them to the Prometheus
// gauges.
func (c *Collector) SamplePool() sql.DBStats {
	stats := c.db.PoolStats()
	metrics.DBPoolOpenConnections.Set(float64(stats.OpenConnections))
	metrics.DBPoolInUse.Set(float64(stats.InUse))
	metrics.DBPoolWaitCount.Set(float64(stats.WaitCount))

	c.mu.Lock()
	c.lastPool = stats
	c.mu.Unlock()
	return stats
}

// Run samples the pool on the given interval until ctx is done.
func (c *Collector) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.SamplePool()
		}
	}
}

// SyncFreshness is one entity's staleness classification.
type SyncFreshness struct {
	EntityType string     `json:"entityType"`
	Status     string     `json:"status"`
	Freshness  string     `json:"freshness"`
	LastSync   *time.Time `json:"lastSync,omitempty"`
	AgeSeconds int64      `json:"ageSeconds"`
}

// syncFreshness classifies each entity: failing when its last run
// failed, stale when the last success is older than twice its
// cadence.
func (c *Collector) syncFreshness(ctx context.Context) ([]SyncFreshness, error) {
	statuses, err := c.syncStatus.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	out := make([]SyncFreshness, 0, len(statuses))
	for _, st := range statuses {
		f := SyncFreshness{
			EntityType: st.EntityType,
			Status:     st.Status,
			Freshness:  FreshnessOK,
			LastSync:   st.LastSyncCompletedAt,
		}
		cadence := c.cadences[st.EntityType]
		if cadence <= 0 {
			cadence = 24 * time.Hour
		}
		switch {
		case st.Status == models.SyncStatusFailed:
			f.Freshness = FreshnessFailing
		case st.LastSyncCompletedAt == nil:
			// Never synced yet; fresh processes start this way.
		case now.Sub(*st.LastSyncCompletedAt) > 2*cadence:
			f.Freshness = FreshnessStale
		}
		if st.LastSyncCompletedAt != nil {
			f.AgeSeconds = int64(now.Sub(*st.LastSyncCompletedAt).Seconds())
		}
		out = append(out, f)
	}
	return out, nil
}

// HealthReport is the /monitoring/health payload.
type HealthReport struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components"`
	Timestamp  time.Time         `json:"timestamp"`
}

// Health composes overall health: a failed DB ping is unhealthy; a
// failing sync, or one stale past three cadences, degrades.
func (c *Collector) Health(ctx context.Context) HealthReport {
	report := HealthReport{
		Status:     StatusHealthy,
		Components: map[string]string{"database": StatusHealthy, "sync": StatusHealthy},
		Timestamp:  time.Now().UTC(),
	}

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := c.db.PingContext(pingCtx); err != nil {
		c.log.Warn("database ping failed", zap.Error(err))
		report.Components["database"] = StatusUnhealthy
		report.Status = StatusUnhealthy
		return report
	}

	freshness, err := c.syncFreshness(ctx)
	if err != nil {
		report.Components["sync"] = StatusDegraded
		report.Status = StatusDegraded
		return report
	}
	now := time.Now().UTC()
	for _, f := range freshness {
		cadence := c.cadences[f.EntityType]
		if cadence <= 0 {
			cadence = 24 * time.Hour
		}
		tooOld := f.LastSync != nil && now.Sub(*f.LastSync) > 3*cadence
		if f.Freshness == FreshnessFailing || tooOld {
			report.Components["sync"] = StatusDegraded
			report.Status = StatusDegraded
			break
		}
	}
	return report
}

// StatusReport is the /monitoring/status payload.
type StatusReport struct {
	Status        string          `json:"status"`
	Version       string          `json:"version"`
	UptimeSeconds int64           `json:"uptimeSeconds"`
	Sync          []SyncFreshness `json:"sync"`
	Timestamp     time.Time       `json:"timestamp"`
}

// Status reports uptime, build version and per-entity sync state.
func (c *Collector) Status(ctx context.Context) StatusReport {
	health := c.Health(ctx)
	freshness, err := c.syncFreshness(ctx)
	if err != nil {
		c.log.Warn("failed to load sync freshness", zap.Error(err))
	}
	return StatusReport{
		Status:        health.Status,
		Version:       c.version,
		UptimeSeconds: int64(time.Since(c.startedAt).Seconds()),
		Sync:          freshness,
		Timestamp:     time.Now().UTC(),
	}
}
