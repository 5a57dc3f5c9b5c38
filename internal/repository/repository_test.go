package repository

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Kbediako/klaviyo-analytics-dashboard-sub002/internal/config"
	"github.com/Kbediako/klaviyo-analytics-dashboard-sub002/internal/models"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(config.DatabaseConfig{
		Driver:        "sqlite",
		Path:          filepath.Join(t.TempDir(), "test.db"),
		MaxOpenConns:  2,
		MaxIdleConns:  1,
		SlowQueryMS:   1000,
		RetryAttempts: 2,
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestCampaignUpsert_Idempotent(t *testing.T) {
	db := testDB(t)
	repo := NewCampaignRepository(db)
	ctx := context.Background()

	created := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	first := &models.Campaign{
		ID:        "cmp-1",
		Name:      "Welcome Series",
		Status:    "sent",
		Channel:   "email",
		SentCount: 100,
		Revenue:   decimal.NewFromFloat(12.50),
		CreatedAt: created,
		UpdatedAt: created,
	}
	require.NoError(t, repo.CreateOrUpdate(ctx, first))

	second := &models.Campaign{
		ID:        "cmp-1",
		Name:      "Welcome Series v2",
		Status:    "sent",
		Channel:   "email",
		SentCount: 150,
		OpenCount: 60,
		Revenue:   decimal.NewFromFloat(99.99),
		CreatedAt: created.Add(time.Hour), // must not replace the stored value
		UpdatedAt: created.Add(time.Hour),
	}
	require.NoError(t, repo.CreateOrUpdate(ctx, second))

	got, err := repo.FindByID(ctx, "cmp-1")
	require.NoError(t, err)
	assert.Equal(t, "Welcome Series v2", got.Name)
	assert.Equal(t, int64(150), got.SentCount)
	assert.Equal(t, int64(60), got.OpenCount)
	assert.True(t, got.Revenue.Equal(decimal.NewFromFloat(99.99)))
	assert.True(t, got.CreatedAt.Equal(created), "created_at preserved from first write")
	assert.True(t, got.UpdatedAt.Equal(created.Add(time.Hour)))

	all, err := repo.FindAll(ctx, 10, 0)
	require.NoError(t, err)
	assert.Len(t, all, 1, "upsert must not duplicate rows")
}

func TestCampaignUpdateMetrics_PartialPatch(t *testing.T) {
	db := testDB(t)
	repo := NewCampaignRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.CreateOrUpdate(ctx, &models.Campaign{
		ID:         "cmp-2",
		Name:       "Spring Sale",
		Status:     "sent",
		SentCount:  500,
		OpenCount:  200,
		ClickCount: 40,
	}))

	opens := int64(250)
	revenue := decimal.NewFromFloat(310.10)
	require.NoError(t, repo.UpdateMetrics(ctx, "cmp-2", models.MetricsPatch{
		OpenCount: &opens,
		Revenue:   &revenue,
	}))

	got, err := repo.FindByID(ctx, "cmp-2")
	require.NoError(t, err)
	assert.Equal(t, int64(500), got.SentCount, "unpatched counter untouched")
	assert.Equal(t, int64(250), got.OpenCount)
	assert.Equal(t, int64(40), got.ClickCount, "unpatched counter untouched")
	assert.True(t, got.Revenue.Equal(revenue))
}

func TestCampaignUpdateMetrics_MissingRow(t *testing.T) {
	db := testDB(t)
	repo := NewCampaignRepository(db)

	opens := int64(1)
	err := repo.UpdateMetrics(context.Background(), "absent", models.MetricsPatch{OpenCount: &opens})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCampaignCreateBatch_RollsBackOnFailure(t *testing.T) {
	db := testDB(t)
	repo := NewCampaignRepository(db)
	ctx := context.Background()

	batch := []*models.Campaign{
		{ID: "b-1", Name: "one"},
		{ID: "b-2", Name: "two"},
		{ID: "b-3", Name: "three"},
	}
	// A cancelled context fails the batch deterministically; nothing
	// from it may remain.
	cancelCtx, cancel := context.WithCancel(ctx)
	cancel()
	err := repo.CreateBatch(cancelCtx, batch)
	require.Error(t, err)

	all, err := repo.FindAll(ctx, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, all, "failed batch must leave no rows")
}

func TestEventBucketSeries(t *testing.T) {
	db := testDB(t)
	repo := NewEventRepository(db)
	ctx := context.Background()

	base := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	var events []*models.Event
	for i := 0; i < 6; i++ {
		events = append(events, &models.Event{
			ID:        fmt.Sprintf("evt-%d", i),
			MetricID:  "met-1",
			ProfileID: "prof-1",
			Timestamp: base.Add(time.Duration(i) * 30 * time.Minute),
			Value:     decimal.NewNullDecimal(decimal.NewFromInt(2)),
		})
	}
	// A NULL value counts as 1 in the bucket sum.
	events = append(events, &models.Event{
		ID:        "evt-null",
		MetricID:  "met-1",
		ProfileID: "prof-1",
		Timestamp: base.Add(10 * time.Minute),
	})
	require.NoError(t, repo.CreateBatch(ctx, events))

	points, err := repo.BucketSeries(ctx, "met-1", base, base.Add(3*time.Hour), time.Hour)
	require.NoError(t, err)
	require.Len(t, points, 3)
	assert.Equal(t, base, points[0].Timestamp)
	assert.Equal(t, 5.0, points[0].Value, "2+2 plus NULL coalesced to 1")
	assert.Equal(t, 4.0, points[1].Value)
	assert.Equal(t, 4.0, points[2].Value)
}

func TestProfileAdvanceLastEvent_Monotonic(t *testing.T) {
	db := testDB(t)
	repo := NewProfileRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.CreateOrUpdate(ctx, &models.Profile{ID: "prof-1"}))

	later := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	earlier := later.Add(-time.Hour)

	require.NoError(t, repo.AdvanceLastEvent(ctx, "prof-1", later))
	require.NoError(t, repo.AdvanceLastEvent(ctx, "prof-1", earlier))

	got, err := repo.FindByID(ctx, "prof-1")
	require.NoError(t, err)
	require.NotNil(t, got.LastEventAt)
	assert.True(t, got.LastEventAt.Equal(later), "last_event_at never moves backward")
}

func TestSyncStatusWatermark_NonDecreasing(t *testing.T) {
	db := testDB(t)
	repo := NewSyncStatusRepository(db)
	ctx := context.Background()

	wm1 := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	wm0 := wm1.Add(-24 * time.Hour)

	require.NoError(t, repo.MarkRunning(ctx, "campaigns", time.Now()))
	require.NoError(t, repo.MarkSucceeded(ctx, "campaigns", &wm1, 100))

	// An older candidate must not move the watermark backward.
	require.NoError(t, repo.MarkSucceeded(ctx, "campaigns", &wm0, 0))

	got, err := repo.Get(ctx, "campaigns")
	require.NoError(t, err)
	require.NotNil(t, got.LastWatermark)
	assert.True(t, got.LastWatermark.Equal(wm1))
	assert.Equal(t, models.SyncStatusSucceeded, got.Status)

	// A nil watermark (empty run) leaves the stored value in place.
	require.NoError(t, repo.MarkSucceeded(ctx, "campaigns", nil, 0))
	got, err = repo.Get(ctx, "campaigns")
	require.NoError(t, err)
	require.NotNil(t, got.LastWatermark)
	assert.True(t, got.LastWatermark.Equal(wm1))
}

func TestSyncStatus_SeededForAllEntityTypes(t *testing.T) {
	db := testDB(t)
	repo := NewSyncStatusRepository(db)

	all, err := repo.GetAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, all, len(config.EntityTypes))
	for _, s := range all {
		assert.Equal(t, models.SyncStatusIdle, s.Status)
	}
}

func TestAggregateCoversRange(t *testing.T) {
	db := testDB(t)
	repo := NewAggregateRepository(db)
	ctx := context.Background()

	start := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	var aggs []*models.AggregatedMetric
	for i := 0; i < 24; i++ {
		aggs = append(aggs, &models.AggregatedMetric{
			MetricID:    "met-1",
			BucketStart: start.Add(time.Duration(i) * time.Hour),
			BucketSize:  models.BucketHour,
			Count:       10,
			SumValue:    100,
			MinValue:    1,
			MaxValue:    20,
			AvgValue:    10,
		})
	}
	require.NoError(t, repo.StoreAggregatedMetrics(ctx, aggs))

	ok, err := repo.CoversRange(ctx, "met-1", models.BucketHour, start, start.Add(24*time.Hour))
	require.NoError(t, err)
	assert.True(t, ok, "fully tiled window is covered")

	ok, err = repo.CoversRange(ctx, "met-1", models.BucketHour, start, start.Add(48*time.Hour))
	require.NoError(t, err)
	assert.False(t, ok, "window extending past stored buckets is not covered")

	got, err := repo.GetStoredAggregatedMetrics(ctx, "met-1", models.BucketHour, start, start.Add(5*time.Hour))
	require.NoError(t, err)
	assert.Len(t, got, 6)
}

func TestMetricFindByName_PrefixEscapesLikeMeta(t *testing.T) {
	db := testDB(t)
	repo := NewMetricRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.CreateOrUpdate(ctx, &models.Metric{ID: "m1", Name: "100% Off Opened"}))
	require.NoError(t, repo.CreateOrUpdate(ctx, &models.Metric{ID: "m2", Name: "100x Off Opened"}))

	got, err := repo.FindByName(ctx, "100%")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "m1", got[0].ID)
}

func TestEventDeleteOlderThan(t *testing.T) {
	db := testDB(t)
	repo := NewEventRepository(db)
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, repo.CreateBatch(ctx, []*models.Event{
		{ID: "old", MetricID: "m", ProfileID: "p", Timestamp: base},
		{ID: "new", MetricID: "m", ProfileID: "p", Timestamp: base.AddDate(0, 6, 0)},
	}))

	deleted, err := repo.DeleteOlderThan(ctx, base.AddDate(0, 3, 0))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	_, err = repo.FindByID(ctx, "old")
	assert.ErrorIs(t, err, ErrNotFound)
}
