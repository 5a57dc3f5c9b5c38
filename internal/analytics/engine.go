package analytics

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Kbediako/klaviyo-analytics-dashboard-sub002/internal/models"
	"github.com/Kbediako/klaviyo-analytics-dashboard-sub002/internal/repository"
)

// Retrieval errors carry the exact messages the HTTP layer surfaces.
var (
	ErrInvalidMetricID  = errors.New("Invalid metric ID")
	ErrInvalidDateRange = errors.New("Invalid date range")
	ErrFetchFailed      = errors.New("Failed to fetch time series data")
)

// Engine serves analytics queries over the event store, preferring
// pre-computed aggregates when they fully cover the requested window.
type Engine struct {
	events repository.EventRepository
	aggs   repository.AggregateRepository
	log    *zap.Logger
}

// NewEngine builds the analytics engine over the given repositories.
func NewEngine(events repository.EventRepository, aggs repository.AggregateRepository, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{events: events, aggs: aggs, log: log}
}

// GetTimeSeries returns the bucketed series for a metric. Stored
// aggregates at the requested bucket size are used when they tile the
// whole window; otherwise buckets are computed on the fly over raw
// events. Unknown intervals fall back to daily buckets.
func (e *Engine) GetTimeSeries(ctx context.Context, metricID string, start, end time.Time, interval string) ([]models.TimeSeriesPoint, error) {
	if metricID == "" {
		return nil, ErrInvalidMetricID
	}
	if !start.Before(end) {
		return nil, ErrInvalidDateRange
	}
	bucket, ok := models.BucketDuration(interval)
	if !ok {
		interval = models.BucketDay
		bucket, _ = models.BucketDuration(interval)
	}

	covered, err := e.aggs.CoversRange(ctx, metricID, interval, start, end)
	if err != nil {
		e.log.Warn("aggregate coverage check failed, falling back to raw events",
			zap.String("metric_id", metricID), zap.Error(err))
		covered = false
	}
	if covered {
		aggs, err := e.aggs.GetStoredAggregatedMetrics(ctx, metricID, interval, start, end)
		if err == nil {
			points := make([]models.TimeSeriesPoint, len(aggs))
			for i, a := range aggs {
				points[i] = models.TimeSeriesPoint{Timestamp: a.BucketStart, Value: a.SumValue}
			}
			return points, nil
		}
		e.log.Warn("stored aggregate read failed, falling back to raw events",
			zap.String("metric_id", metricID), zap.Error(err))
	}

	points, err := e.events.BucketSeries(ctx, metricID, start, end, bucket)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	return points, nil
}

// Decompose fetches, preprocesses and splits a metric's series into
// trend, seasonal and residual components. A period of 0 auto-detects
// the cycle from the interval (hourly data cycles daily, daily
// weekly, weekly monthly); when auto-detection fails the call errors
// rather than guessing.
func (e *Engine) Decompose(ctx context.Context, metricID string, start, end time.Time, interval string, window, period int) (*models.DecompositionResult, error) {
	series, err := e.GetTimeSeries(ctx, metricID, start, end, interval)
	if err != nil {
		return nil, err
	}
	if len(series) == 0 {
		return &models.DecompositionResult{
			Original: []models.TimeSeriesPoint{},
			Trend:    []models.TimeSeriesPoint{},
			Seasonal: []models.TimeSeriesPoint{},
			Residual: []models.TimeSeriesPoint{},
		}, nil
	}

	pre := Preprocess(series, PreprocessOptions{FillMissingValues: true})
	if !pre.Validation.IsValid {
		return nil, fmt.Errorf("invalid series for decomposition: %v", pre.Validation.Errors)
	}

	if period <= 0 {
		detected, ok := seasonalPeriod(interval)
		if !ok {
			return nil, fmt.Errorf("cannot determine seasonal period for interval %q", interval)
		}
		period = detected
	}
	return decomposeSeries(pre.Data, window, period)
}

// DetectMetricAnomalies fetches and preprocesses a metric's series,
// then runs anomaly detection over it.
func (e *Engine) DetectMetricAnomalies(ctx context.Context, metricID string, start, end time.Time, interval string, threshold float64, lookback int) ([]models.AnomalyPoint, error) {
	series, err := e.GetTimeSeries(ctx, metricID, start, end, interval)
	if err != nil {
		return nil, err
	}
	pre := Preprocess(series, PreprocessOptions{FillMissingValues: true})
	if len(pre.Data) == 0 {
		return []models.AnomalyPoint{}, nil
	}
	return DetectAnomalies(pre.Data, threshold, lookback), nil
}

// CorrelateMetrics fetches two metric series over the same window and
// computes their Pearson correlation.
func (e *Engine) CorrelateMetrics(ctx context.Context, metric1, metric2 string, start, end time.Time, interval string, align bool) (*models.CorrelationResult, error) {
	a, err := e.GetTimeSeries(ctx, metric1, start, end, interval)
	if err != nil {
		return nil, err
	}
	b, err := e.GetTimeSeries(ctx, metric2, start, end, interval)
	if err != nil {
		return nil, err
	}
	return CalculateCorrelation(a, b, align)
}
