package tasks

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/jmoiron/sqlx/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Kbediako/klaviyo-analytics-dashboard-sub002/internal/config"
	"github.com/Kbediako/klaviyo-analytics-dashboard-sub002/internal/models"
	"github.com/Kbediako/klaviyo-analytics-dashboard-sub002/internal/repository"
)

func testRepos(t *testing.T) *repository.Repositories {
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
	return repository.New(db)
}

func seedMetricWithEvents(t *testing.T, repos *repository.Repositories, metricID string, base time.Time, values ...float64) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, repos.Metrics.Create(ctx, &models.Metric{
		ID:        metricID,
		Name:      "Placed Order",
		Type:      "metric",
		Metadata:  types.JSONText(`{}`),
		CreatedAt: base,
		UpdatedAt: base,
	}))
	events := make([]*models.Event, len(values))
	for i, v := range values {
		events[i] = &models.Event{
			ID:         fmt.Sprintf("%s-e%d", metricID, i),
			MetricID:   metricID,
			ProfileID:  "p1",
			Timestamp:  base.AddDate(0, 0, i),
			Value:      decimal.NewNullDecimal(decimal.NewFromFloat(v)),
			Properties: types.JSONText(`{}`),
			Raw:        types.JSONText(`{}`),
		}
	}
	require.NoError(t, repos.Events.CreateBatch(ctx, events))
}

func TestRunAggregation_RollsEventsIntoBuckets(t *testing.T) {
	repos := testRepos(t)
	clk := clock.NewMock()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	clk.Set(now)

	seedMetricWithEvents(t, repos, "m1", now.AddDate(0, 0, -4), 10, 20, 30)

	r := NewRunner(repos, config.AnalyticsConfig{AggregationEnabled: true}, nil, zap.NewNop(), WithClock(clk))
	require.NoError(t, r.RunAggregation(context.Background()))

	aggs, err := repos.Aggregates.GetStoredAggregatedMetrics(context.Background(),
		"m1", models.BucketDay, now.AddDate(0, 0, -7), now)
	require.NoError(t, err)
	require.Len(t, aggs, 3)
	assert.Equal(t, int64(1), aggs[0].Count)
	assert.InDelta(t, 10, aggs[0].SumValue, 1e-9)
	assert.InDelta(t, 30, aggs[2].SumValue, 1e-9)

	// Hour buckets roll up too.
	hourly, err := repos.Aggregates.GetStoredAggregatedMetrics(context.Background(),
		"m1", models.BucketHour, now.AddDate(0, 0, -7), now)
	require.NoError(t, err)
	assert.Len(t, hourly, 3)
}

func TestRunAggregation_IsIdempotent(t *testing.T) {
	repos := testRepos(t)
	clk := clock.NewMock()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	clk.Set(now)

	seedMetricWithEvents(t, repos, "m1", now.AddDate(0, 0, -2), 5, 7)

	r := NewRunner(repos, config.AnalyticsConfig{AggregationEnabled: true}, nil, zap.NewNop(), WithClock(clk))
	require.NoError(t, r.RunAggregation(context.Background()))
	require.NoError(t, r.RunAggregation(context.Background()))

	aggs, err := repos.Aggregates.GetStoredAggregatedMetrics(context.Background(),
		"m1", models.BucketDay, now.AddDate(0, 0, -7), now)
	require.NoError(t, err)
	assert.Len(t, aggs, 2)
}

func TestRunRetention_PrunesOldRows(t *testing.T) {
	repos := testRepos(t)
	clk := clock.NewMock()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	clk.Set(now)
	ctx := context.Background()

	// One event far past the 12-month horizon, one fresh.
	seedMetricWithEvents(t, repos, "m1", now.AddDate(0, 0, -1), 5)
	require.NoError(t, repos.Events.Create(ctx, &models.Event{
		ID:         "old",
		MetricID:   "m1",
		ProfileID:  "p1",
		Timestamp:  now.AddDate(-2, 0, 0),
		Value:      decimal.NewNullDecimal(decimal.NewFromInt(1)),
		Properties: types.JSONText(`{}`),
		Raw:        types.JSONText(`{}`),
	}))
	require.NoError(t, repos.RawResponse.Insert(ctx, &models.RawAPIResponse{
		Endpoint:   "/campaigns",
		Payload:    types.JSONText(`{}`),
		APIVersion: "2024-10-15",
		ReceivedAt: now.AddDate(0, 0, -60),
	}))

	r := NewRunner(repos, config.AnalyticsConfig{}, nil, zap.NewNop(), WithClock(clk))
	require.NoError(t, r.RunRetention(ctx))

	_, err := repos.Events.FindByID(ctx, "old")
	assert.ErrorIs(t, err, repository.ErrNotFound)
	_, err = repos.Events.FindByID(ctx, "m1-e0")
	assert.NoError(t, err)

	pruned, err := repos.RawResponse.DeleteOlderThan(ctx, now)
	require.NoError(t, err)
	assert.Zero(t, pruned)
}
