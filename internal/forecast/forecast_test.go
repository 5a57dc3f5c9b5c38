package forecast

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kbediako/klaviyo-analytics-dashboard-sub002/internal/models"
)

func makeSeries(vals []float64, step time.Duration) []models.TimeSeriesPoint {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]models.TimeSeriesPoint, len(vals))
	for i, v := range vals {
		out[i] = models.TimeSeriesPoint{Timestamp: base.Add(time.Duration(i) * step), Value: v}
	}
	return out
}

func TestNaive_RepeatsLastValue(t *testing.T) {
	series := makeSeries([]float64{10, 12, 11, 13, 15}, 24*time.Hour)

	res, err := Naive(series, 3, models.BucketDay)
	require.NoError(t, err)
	require.Len(t, res.Forecast, 3)

	for _, p := range res.Forecast {
		assert.Equal(t, 15.0, p.Value)
	}
	// σ of the history is ≈ 1.7205, so the band sits at 15 ± 1.96σ.
	assert.InDelta(t, 18.37, res.Confidence.Upper[0], 0.01)
	assert.InDelta(t, 11.63, res.Confidence.Lower[0], 0.01)
	assert.Equal(t, MethodNaive, res.Method)
}

func TestNaive_TimestampsStepByInterval(t *testing.T) {
	series := makeSeries([]float64{1, 2, 3}, time.Hour)
	last := series[len(series)-1].Timestamp

	res, err := Naive(series, 2, models.BucketHour)
	require.NoError(t, err)
	assert.Equal(t, last.Add(time.Hour), res.Forecast[0].Timestamp)
	assert.Equal(t, last.Add(2*time.Hour), res.Forecast[1].Timestamp)

	res, err = Naive(series, 1, "bogus")
	require.NoError(t, err)
	assert.Equal(t, last.Add(24*time.Hour), res.Forecast[0].Timestamp, "unknown interval steps daily")
}

func TestNaive_EmptySeries(t *testing.T) {
	_, err := Naive(nil, 3, models.BucketDay)
	require.ErrorIs(t, err, ErrNotEnoughData)
	assert.Equal(t, "Not enough data for forecasting", err.Error())
}

func TestNaive_LowerBandClampedAtZero(t *testing.T) {
	series := makeSeries([]float64{0, 10, 0, 10, 1}, 24*time.Hour)

	res, err := Naive(series, 1, models.BucketDay)
	require.NoError(t, err)
	assert.Equal(t, 0.0, res.Confidence.Lower[0])
}

func TestMovingAverage_MeanOfWindow(t *testing.T) {
	series := makeSeries([]float64{10, 12, 11, 13, 15, 14, 16}, 24*time.Hour)

	res, err := MovingAverage(series, 2, 3, models.BucketDay)
	require.NoError(t, err)
	require.Len(t, res.Forecast, 2)
	assert.Equal(t, 15.0, res.Forecast[0].Value)
	assert.Equal(t, 15.0, res.Forecast[1].Value)
	assert.Equal(t, MethodMovingAverage, res.Method)

	// σ over {15, 14, 16} around 15 is √(2/3).
	assert.InDelta(t, 15+1.96*0.8165, res.Confidence.Upper[0], 0.01)
}

func TestMovingAverage_SeriesShorterThanWindow(t *testing.T) {
	series := makeSeries([]float64{1, 2}, 24*time.Hour)
	_, err := MovingAverage(series, 1, 3, models.BucketDay)
	assert.ErrorIs(t, err, ErrNotEnoughData)
}

func TestMovingAverage_ZeroWindowUsesDefault(t *testing.T) {
	series := makeSeries([]float64{10, 20, 30}, 24*time.Hour)
	res, err := MovingAverage(series, 1, 0, models.BucketDay)
	require.NoError(t, err)
	assert.Equal(t, 20.0, res.Forecast[0].Value, "default window of 3 averages the whole tail")
}

func TestLinearRegression_ExtendsTrendLine(t *testing.T) {
	series := makeSeries([]float64{10, 12, 14, 16, 18}, 24*time.Hour)

	res, err := LinearRegression(series, 3, models.BucketDay)
	require.NoError(t, err)
	require.Len(t, res.Forecast, 3)
	assert.InDelta(t, 20, res.Forecast[0].Value, 0.1)
	assert.InDelta(t, 22, res.Forecast[1].Value, 0.1)
	assert.InDelta(t, 24, res.Forecast[2].Value, 0.1)
	assert.InDelta(t, 1.0, res.Accuracy, 1e-9, "perfect line has R² = 1")
	assert.Equal(t, MethodLinearRegression, res.Method)
}

func TestLinearRegression_IntervalWidensWithDistance(t *testing.T) {
	series := makeSeries([]float64{10, 13, 11, 16, 14, 18, 15, 20}, 24*time.Hour)

	res, err := LinearRegression(series, 3, models.BucketDay)
	require.NoError(t, err)
	w1 := res.Confidence.Upper[0] - res.Confidence.Lower[0]
	w3 := res.Confidence.Upper[2] - res.Confidence.Lower[2]
	assert.Greater(t, w3, w1, "prediction interval widens further from the data")
}

func TestLinearRegression_TooFewPoints(t *testing.T) {
	_, err := LinearRegression(makeSeries([]float64{5}, 24*time.Hour), 1, models.BucketDay)
	assert.ErrorIs(t, err, ErrNotEnoughData)
}

func TestRescaleConfidence(t *testing.T) {
	series := makeSeries([]float64{10, 12, 11, 13, 15}, 24*time.Hour)

	res, err := Naive(series, 1, models.BucketDay)
	require.NoError(t, err)
	margin95 := res.Confidence.Upper[0] - res.Forecast[0].Value

	require.True(t, RescaleConfidence(res, 0.99))
	assert.InDelta(t, margin95*2.576/1.96, res.Confidence.Upper[0]-res.Forecast[0].Value, 1e-9)

	res, err = Naive(series, 1, models.BucketDay)
	require.NoError(t, err)
	require.True(t, RescaleConfidence(res, 0.95))
	assert.InDelta(t, margin95, res.Confidence.Upper[0]-res.Forecast[0].Value, 1e-9, "default level leaves the band alone")

	assert.False(t, RescaleConfidence(res, 0.5), "off-menu level rejected")
}

func TestRescaleConfidence_KeepsLowerClamp(t *testing.T) {
	series := makeSeries([]float64{0, 10, 0, 10, 1}, 24*time.Hour)

	res, err := Naive(series, 1, models.BucketDay)
	require.NoError(t, err)
	require.True(t, RescaleConfidence(res, 0.99))
	assert.Equal(t, 0.0, res.Confidence.Lower[0])
}

func TestHoldoutAccuracy(t *testing.T) {
	assert.Equal(t, 0.5, holdoutAccuracy([]float64{1, 2, 3}), "short series scores 0.5")

	// Holdout {10,10,10} vs historical mean 10: perfect score.
	assert.InDelta(t, 1.0, holdoutAccuracy([]float64{10, 10, 10, 10, 10, 10}), 1e-9)

	// Holdout far from the historical mean is floored at 0.
	assert.Equal(t, 0.0, holdoutAccuracy([]float64{100, 100, 100, 1, 1, 1}))
}

type stubProvider struct {
	series []models.TimeSeriesPoint
	err    error
}

func (s *stubProvider) GetTimeSeries(ctx context.Context, metricID string, start, end time.Time, interval string) ([]models.TimeSeriesPoint, error) {
	return s.series, s.err
}

func TestServiceForecast_DispatchesByMethod(t *testing.T) {
	series := makeSeries([]float64{10, 12, 11, 13, 15}, 24*time.Hour)
	svc := NewService(&stubProvider{series: series}, nil)
	start, end := series[0].Timestamp, series[len(series)-1].Timestamp.Add(time.Hour)

	res, err := svc.Forecast(context.Background(), "metric-1", start, end, models.BucketDay, MethodNaive, 3, 0)
	require.NoError(t, err)
	assert.Equal(t, MethodNaive, res.Method)

	res, err = svc.Forecast(context.Background(), "metric-1", start, end, models.BucketDay, "", 3, 0)
	require.NoError(t, err)
	assert.Equal(t, MethodNaive, res.Method, "empty method defaults to naive")

	res, err = svc.Forecast(context.Background(), "metric-1", start, end, models.BucketDay, MethodLinearRegression, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, MethodLinearRegression, res.Method)

	_, err = svc.Forecast(context.Background(), "metric-1", start, end, models.BucketDay, "prophet", 2, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown forecast method")
}

func TestServiceForecast_PropagatesProviderErrors(t *testing.T) {
	boom := errors.New("db down")
	svc := NewService(&stubProvider{err: boom}, nil)

	_, err := svc.Forecast(context.Background(), "metric-1", time.Now().Add(-time.Hour), time.Now(), models.BucketDay, MethodNaive, 1, 0)
	assert.ErrorIs(t, err, boom)
}
