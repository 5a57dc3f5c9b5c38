package repository

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Kbediako/klaviyo-analytics-dashboard-sub002/internal/models"
)

// The sqlite-backed tests cover behavior end to end; these pin down
// the Postgres-only SQL branches against a mocked driver.
func mockPostgres(t *testing.T, timescale bool) (*DB, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = mockDB.Close() })

	return &DB{
		DB:            sqlx.NewDb(mockDB, "postgres"),
		dialect:       DialectPostgres,
		log:           zap.NewNop(),
		slowQuery:     time.Second,
		retryAttempts: 2,
		hasTimescale:  timescale,
	}, mock
}

func TestBucketSeries_UsesTimeBucketOnTimescale(t *testing.T) {
	db, mock := mockPostgres(t, true)
	repo := NewEventRepository(db)
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)

	mock.ExpectQuery(`time_bucket`).
		WithArgs("3600 seconds", "m1", start, end).
		WillReturnRows(sqlmock.NewRows([]string{"bucket_start", "value"}).
			AddRow(start, 5.0).
			AddRow(start.Add(time.Hour), 7.0))

	points, err := repo.BucketSeries(context.Background(), "m1", start, end, time.Hour)
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.True(t, start.Equal(points[0].Timestamp))
	assert.Equal(t, 7.0, points[1].Value)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBucketSeries_EpochFallbackWithoutTimescale(t *testing.T) {
	db, mock := mockPostgres(t, false)
	repo := NewEventRepository(db)
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)

	mock.ExpectQuery(`to_timestamp\(floor\(extract\(epoch FROM ts\)`).
		WithArgs(int64(3600), int64(3600), "m1", start, end).
		WillReturnRows(sqlmock.NewRows([]string{"bucket_start", "value"}).
			AddRow(start, 3.0))

	points, err := repo.BucketSeries(context.Background(), "m1", start, end, time.Hour)
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.Equal(t, 3.0, points[0].Value)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBucketAggregates_PostgresRowShape(t *testing.T) {
	db, mock := mockPostgres(t, false)
	repo := NewEventRepository(db)
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(48 * time.Hour)

	mock.ExpectQuery(`to_timestamp`).
		WithArgs(int64(86400), int64(86400), "m1", start, end).
		WillReturnRows(sqlmock.NewRows(
			[]string{"bucket_start", "count", "sum_value", "min_value", "max_value", "avg_value"}).
			AddRow(start, int64(4), 40.0, 5.0, 15.0, 10.0))

	aggs, err := repo.BucketAggregates(context.Background(), "m1", start, end, models.BucketDay)
	require.NoError(t, err)
	require.Len(t, aggs, 1)
	assert.Equal(t, "m1", aggs[0].MetricID)
	assert.Equal(t, models.BucketDay, aggs[0].BucketSize)
	assert.Equal(t, int64(4), aggs[0].Count)
	assert.InDelta(t, 10.0, aggs[0].AvgValue, 1e-9)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRun_RetriesSerializationFailure(t *testing.T) {
	db, mock := mockPostgres(t, false)
	repo := NewEventRepository(db)
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)

	mock.ExpectQuery(`SELECT COUNT`).
		WillReturnError(&pq.Error{Code: "40001"})
	mock.ExpectQuery(`SELECT COUNT`).
		WithArgs("m1", start, end).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(7)))

	n, err := repo.GetCountByMetricID(context.Background(), "m1", start, end)
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRun_DoesNotRetryConstraintViolations(t *testing.T) {
	db, mock := mockPostgres(t, false)
	repo := NewEventRepository(db)

	mock.ExpectQuery(`SELECT COUNT`).
		WillReturnError(&pq.Error{Code: "23505"})

	_, err := repo.GetCountByMetricID(context.Background(), "m1", time.Now().Add(-time.Hour), time.Now())
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
