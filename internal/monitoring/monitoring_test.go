package monitoring

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Kbediako/klaviyo-analytics-dashboard-sub002/internal/config"
	"github.com/Kbediako/klaviyo-analytics-dashboard-sub002/internal/repository"
)

func testCollector(t *testing.T) (*Collector, *repository.Repositories) {
	t.Helper()
	db, err := repository.Open(config.DatabaseConfig{
		Driver:        "sqlite",
		Path:          filepath.Join(t.TempDir(), "test.db"),
		MaxOpenConns:  2,
		MaxIdleConns:  1,
		SlowQueryMS:   1000,
		RetryAttempts: 2,
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	repos := repository.New(db)
	cfg := config.SyncConfig{Schedules: map[string]string{
		"events":    "0 * * * *",
		"campaigns": "0 */3 * * *",
	}}
	return New(db, repos.SyncStatus, cfg, "test", zap.NewNop()), repos
}

func TestObserveRequest_LatencySummary(t *testing.T) {
	c, _ := testCollector(t)

	for i := 1; i <= 100; i++ {
		c.ObserveRequest("GET /campaigns", 200, time.Duration(i)*time.Millisecond)
	}
	snap := c.Snapshot()
	require.Len(t, snap.Routes, 1)

	route := snap.Routes[0]
	assert.Equal(t, "GET /campaigns", route.Route)
	assert.Equal(t, int64(100), route.Count)
	assert.InDelta(t, 50, route.P50MS, 2)
	assert.InDelta(t, 95, route.P95MS, 2)
	assert.InDelta(t, 50.5, route.MeanMS, 1)
}

func TestObserveRequest_CountsErrorClasses(t *testing.T) {
	c, _ := testCollector(t)

	c.ObserveRequest("GET /overview", 200, time.Millisecond)
	c.ObserveRequest("GET /overview", 404, time.Millisecond)
	c.ObserveRequest("GET /overview", 500, time.Millisecond)
	c.ObserveRequest("GET /overview", 502, time.Millisecond)
	c.RecordError("VALIDATION_ERROR")

	errs := c.Errors()
	assert.Equal(t, int64(1), errs["4xx"])
	assert.Equal(t, int64(2), errs["5xx"])
	assert.Equal(t, int64(1), errs["VALIDATION_ERROR"])
}

func TestParseCadences(t *testing.T) {
	cadences := parseCadences(map[string]string{
		"events":    "0 * * * *",
		"campaigns": "0 */3 * * *",
		"broken":    "nope",
	})
	assert.Equal(t, time.Hour, cadences["events"])
	assert.Equal(t, 3*time.Hour, cadences["campaigns"])
	assert.Equal(t, 24*time.Hour, cadences["broken"])
}

func TestParseCadences_DefaultSchedules(t *testing.T) {
	t.Setenv("KLAVIYO_DASH_KLAVIYO_API_KEY", "pk_test")
	cfg, err := config.Load()
	require.NoError(t, err)

	cadences := parseCadences(cfg.Sync.Schedules)
	assert.Equal(t, 24*time.Hour, cadences["metrics"])
	assert.Equal(t, time.Hour, cadences["events"])
	assert.Equal(t, 3*time.Hour, cadences["campaigns"])
	assert.Equal(t, 6*time.Hour, cadences["flows"])
	assert.Equal(t, 6*time.Hour, cadences["forms"])
	assert.Equal(t, 6*time.Hour, cadences["segments"])
	assert.Equal(t, 24*time.Hour, cadences["profiles"])
}

func TestHealth_HealthyOnFreshState(t *testing.T) {
	c, _ := testCollector(t)

	report := c.Health(context.Background())
	assert.Equal(t, StatusHealthy, report.Status)
	assert.Equal(t, StatusHealthy, report.Components["database"])
	assert.Equal(t, StatusHealthy, report.Components["sync"])
}

func TestHealth_DegradedOnFailedSync(t *testing.T) {
	c, repos := testCollector(t)
	ctx := context.Background()

	require.NoError(t, repos.SyncStatus.MarkRunning(ctx, "events", time.Now().UTC()))
	require.NoError(t, repos.SyncStatus.MarkFailed(ctx, "events", "upstream exploded"))

	report := c.Health(ctx)
	assert.Equal(t, StatusDegraded, report.Status)
	assert.Equal(t, StatusDegraded, report.Components["sync"])
}

func TestStatus_ReportsFreshnessPerEntity(t *testing.T) {
	c, repos := testCollector(t)
	ctx := context.Background()

	wm := time.Now().UTC().Add(-time.Minute)
	require.NoError(t, repos.SyncStatus.MarkRunning(ctx, "events", time.Now().UTC()))
	require.NoError(t, repos.SyncStatus.MarkSucceeded(ctx, "events", &wm, 10))

	status := c.Status(ctx)
	assert.Equal(t, "test", status.Version)
	require.NotEmpty(t, status.Sync)

	byEntity := make(map[string]SyncFreshness, len(status.Sync))
	for _, f := range status.Sync {
		byEntity[f.EntityType] = f
	}
	assert.Equal(t, FreshnessOK, byEntity["events"].Freshness)
	require.NotNil(t, byEntity["events"].LastSync)
}
