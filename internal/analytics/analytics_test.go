package analytics

import (
	"math"
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

func seriesValues(series []models.TimeSeriesPoint) []float64 {
	out := make([]float64, len(series))
	for i, p := range series {
		out[i] = p.Value
	}
	return out
}

func TestPreprocess_EmptySeries(t *testing.T) {
	res := Preprocess(nil, PreprocessOptions{})
	assert.False(t, res.Validation.IsValid)
	assert.NotEmpty(t, res.Validation.Errors)
	assert.Empty(t, res.Data)
}

func TestPreprocess_SortsAndPreservesLength(t *testing.T) {
	series := makeSeries([]float64{1, 2, 3, 4}, 24*time.Hour)
	// Shuffle the order.
	shuffled := []models.TimeSeriesPoint{series[2], series[0], series[3], series[1]}

	res := Preprocess(shuffled, PreprocessOptions{})
	require.True(t, res.Validation.IsValid)
	assert.Equal(t, len(shuffled), res.Metadata.ProcessedLength)
	for i := 1; i < len(res.Data); i++ {
		assert.False(t, res.Data[i].Timestamp.Before(res.Data[i-1].Timestamp),
			"timestamps must be non-decreasing")
	}
	assert.Equal(t, []float64{1, 2, 3, 4}, seriesValues(res.Data))
}

func TestPreprocess_FillsMissingByInterpolation(t *testing.T) {
	series := makeSeries([]float64{10, math.NaN(), math.NaN(), 40}, time.Hour)
	res := Preprocess(series, PreprocessOptions{FillMissingValues: true})

	require.True(t, res.Validation.IsValid)
	assert.True(t, res.Metadata.HasMissingValues)
	assert.InDelta(t, 20, res.Data[1].Value, 1e-9)
	assert.InDelta(t, 30, res.Data[2].Value, 1e-9)
}

func TestPreprocess_EdgeGapsCopyNearestValue(t *testing.T) {
	series := makeSeries([]float64{math.NaN(), 5, 7, math.NaN()}, time.Hour)
	res := Preprocess(series, PreprocessOptions{FillMissingValues: true})

	assert.Equal(t, 5.0, res.Data[0].Value)
	assert.Equal(t, 7.0, res.Data[3].Value)
}

func TestPreprocess_RemovesOutliers(t *testing.T) {
	vals := []float64{10, 11, 10, 12, 11, 10, 11, 12, 10, 11, 1000}
	res := Preprocess(makeSeries(vals, time.Hour), PreprocessOptions{
		RemoveOutliers:   true,
		OutlierThreshold: 2,
	})

	assert.True(t, res.Metadata.HasOutliers)
	assert.Equal(t, len(vals)-1, res.Metadata.ProcessedLength)
	for _, p := range res.Data {
		assert.Less(t, p.Value, 100.0)
	}
}

func TestPreprocess_NormalizeToRegularGrid(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	series := []models.TimeSeriesPoint{
		{Timestamp: base, Value: 0},
		{Timestamp: base.Add(90 * time.Minute), Value: 3},
		{Timestamp: base.Add(2 * time.Hour), Value: 4},
	}
	res := Preprocess(series, PreprocessOptions{
		NormalizeTimestamps: true,
		ExpectedInterval:    time.Hour,
	})

	require.Len(t, res.Data, 3)
	assert.Equal(t, base.Add(time.Hour), res.Data[1].Timestamp)
	assert.InDelta(t, 2.0, res.Data[1].Value, 1e-9, "interpolated between 0@0h and 3@1.5h")
	assert.True(t, res.Metadata.TimeInterval.IsRegular)
}

func TestExtractTrend_PreservesLengthAndTimestamps(t *testing.T) {
	series := makeSeries([]float64{3, 1, 4, 1, 5, 9, 2, 6}, 24*time.Hour)
	trend := ExtractTrend(series, 3)

	require.Len(t, trend, len(series))
	for i := range series {
		assert.Equal(t, series[i].Timestamp, trend[i].Timestamp)
	}
}

func TestExtractTrend_ShorterThanWindowUnchanged(t *testing.T) {
	series := makeSeries([]float64{1, 2, 3}, time.Hour)
	trend := ExtractTrend(series, 10)
	assert.Equal(t, seriesValues(series), seriesValues(trend))
}

func TestExtractTrend_SmoothsSpike(t *testing.T) {
	series := makeSeries([]float64{10, 10, 100, 10, 10}, time.Hour)
	trend := ExtractTrend(series, 3)
	assert.Less(t, trend[2].Value, 100.0)
	assert.Greater(t, trend[2].Value, 10.0)
}

func TestDecompose_ComponentsSumToOriginal(t *testing.T) {
	// Two weeks of daily data with weekly seasonality plus trend.
	vals := make([]float64, 28)
	for i := range vals {
		vals[i] = float64(i)*0.5 + []float64{5, 3, 1, 0, 2, 8, 9}[i%7]
	}
	series := makeSeries(vals, 24*time.Hour)

	result, err := decomposeSeries(series, 7, 7)
	require.NoError(t, err)
	require.Len(t, result.Trend, len(series))
	require.Len(t, result.Seasonal, len(series))
	require.Len(t, result.Residual, len(series))

	for i := range series {
		sum := result.Trend[i].Value + result.Seasonal[i].Value + result.Residual[i].Value
		assert.InDelta(t, series[i].Value, sum, 1e-9)
	}
}

func TestDecompose_UnknownPeriodFailsClosed(t *testing.T) {
	series := makeSeries([]float64{1, 2, 3, 4}, time.Hour)
	_, err := decomposeSeries(series, 3, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "seasonal period")
}

func TestDetectAnomalies_SingleSpike(t *testing.T) {
	series := makeSeries([]float64{10, 12, 11, 50, 13}, time.Hour)
	anomalies := DetectAnomalies(series, 2.0, 0)

	require.Len(t, anomalies, 1)
	assert.Equal(t, 50.0, anomalies[0].Value)
	assert.Equal(t, series[3].Timestamp, anomalies[0].Timestamp)
	assert.Greater(t, anomalies[0].ZScore, 1.9)
}

func TestDetectAnomalies_ConstantSeriesNeverFlags(t *testing.T) {
	series := makeSeries([]float64{7, 7, 7, 7, 7, 7}, time.Hour)
	assert.Empty(t, DetectAnomalies(series, 2.0, 0))
	assert.Empty(t, DetectAnomalies(series, 2.0, 3))
}

func TestDetectAnomalies_InsufficientData(t *testing.T) {
	series := makeSeries([]float64{1, 100}, time.Hour)
	assert.Empty(t, DetectAnomalies(series, 2.0, 0))
}

func TestDetectAnomalies_RollingWindow(t *testing.T) {
	// Stable baseline, then a jump the rolling window should catch.
	vals := []float64{10, 11, 10, 11, 10, 11, 10, 11, 10, 50}
	series := makeSeries(vals, time.Hour)

	anomalies := DetectAnomalies(series, 3.0, 5)
	require.Len(t, anomalies, 1)
	assert.Equal(t, 50.0, anomalies[0].Value)
}

func TestCalculateCorrelation_PerfectPositive(t *testing.T) {
	a := makeSeries([]float64{1, 2, 3, 4, 5}, time.Hour)
	b := makeSeries([]float64{2, 4, 6, 8, 10}, time.Hour)

	res, err := CalculateCorrelation(a, b, false)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, res.Correlation, 1e-9)
	assert.Equal(t, 5, res.N)
}

func TestCalculateCorrelation_PerfectNegative(t *testing.T) {
	a := makeSeries([]float64{5, 4, 3, 2, 1}, time.Hour)
	b := makeSeries([]float64{2, 4, 6, 8, 10}, time.Hour)

	res, err := CalculateCorrelation(a, b, false)
	require.NoError(t, err)
	assert.InDelta(t, -1.0, res.Correlation, 1e-9)
}

func TestCalculateCorrelation_SelfIsOne(t *testing.T) {
	s := makeSeries([]float64{3, 1, 4, 1, 5}, time.Hour)
	res, err := CalculateCorrelation(s, s, false)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, res.Correlation, 1e-9)
}

func TestCalculateCorrelation_ConstantSeries(t *testing.T) {
	constant := makeSeries([]float64{4, 4, 4, 4}, time.Hour)
	variable := makeSeries([]float64{1, 2, 3, 4}, time.Hour)

	res, err := CalculateCorrelation(constant, constant, false)
	require.NoError(t, err)
	assert.Equal(t, 1.0, res.Correlation, "two constant series correlate 1.0")

	res, err = CalculateCorrelation(constant, variable, false)
	require.NoError(t, err)
	assert.Equal(t, 0.0, res.Correlation, "constant vs variable correlates 0")
}

func TestCalculateCorrelation_Errors(t *testing.T) {
	short := makeSeries([]float64{1}, time.Hour)
	long := makeSeries([]float64{1, 2, 3}, time.Hour)

	_, err := CalculateCorrelation(nil, nil, false)
	assert.ErrorIs(t, err, ErrEmptySeries)

	_, err = CalculateCorrelation(short, long, false)
	assert.ErrorIs(t, err, ErrSeriesLengthMismatch)

	_, err = CalculateCorrelation(short, short, false)
	assert.ErrorIs(t, err, ErrSeriesTooShort)
}

func TestCalculateCorrelation_AlignIntersectsTimestamps(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	a := []models.TimeSeriesPoint{
		{Timestamp: base, Value: 1},
		{Timestamp: base.Add(time.Hour), Value: 2},
		{Timestamp: base.Add(2 * time.Hour), Value: 3},
	}
	b := []models.TimeSeriesPoint{
		{Timestamp: base, Value: 10},
		{Timestamp: base.Add(2 * time.Hour), Value: 30},
		{Timestamp: base.Add(5 * time.Hour), Value: 99},
	}

	res, err := CalculateCorrelation(a, b, true)
	require.NoError(t, err)
	assert.Equal(t, 2, res.N)
	assert.InDelta(t, 1.0, res.Correlation, 1e-9)
}

func TestCalculateSampleEntropy_RegularVsRandom(t *testing.T) {
	regular := makeSeries([]float64{1, 2, 1, 2, 1, 2, 1, 2, 1, 2, 1, 2}, time.Hour)
	irregular := makeSeries([]float64{3, 8, 1, 9, 4, 7, 2, 8, 5, 1, 9, 3}, time.Hour)

	er, err := CalculateSampleEntropy(regular, 2, 0.5)
	require.NoError(t, err)
	ei, err := CalculateSampleEntropy(irregular, 2, 0.5)
	require.NoError(t, err)

	assert.Less(t, er, ei, "regular series must score lower entropy")
}

func TestCalculateSampleEntropy_TooShort(t *testing.T) {
	_, err := CalculateSampleEntropy(makeSeries([]float64{1, 2, 3}, time.Hour), 2, 0.2)
	require.Error(t, err)
}

func TestDownsample_LTTBKeepsEndpointsAndShape(t *testing.T) {
	vals := make([]float64, 100)
	for i := range vals {
		vals[i] = math.Sin(float64(i) / 5)
	}
	vals[50] = 10 // prominent spike must survive downsampling
	series := makeSeries(vals, time.Hour)

	out := Downsample(series, 20, DownsampleLTTB)
	require.Len(t, out, 20)
	assert.Equal(t, series[0], out[0])
	assert.Equal(t, series[len(series)-1], out[len(out)-1])

	found := false
	for _, p := range out {
		if p.Value == 10 {
			found = true
		}
	}
	assert.True(t, found, "LTTB must preserve the spike")
}

func TestDownsample_WithinLimitUnchanged(t *testing.T) {
	series := makeSeries([]float64{1, 2, 3}, time.Hour)
	assert.Equal(t, series, Downsample(series, 10, DownsampleLTTB))
}

func TestSafeFloat(t *testing.T) {
	assert.Equal(t, 0.0, SafeFloat(math.NaN()))
	assert.Equal(t, 0.0, SafeFloat(math.Inf(1)))
	assert.Equal(t, 0.0, SafeFloat(math.Inf(-1)))
	assert.Equal(t, 1.5, SafeFloat(1.5))
}
