package analytics

import (
	"fmt"

	"github.com/Kbediako/klaviyo-analytics-dashboard-sub002/internal/models"
)

// ExtractTrend computes a centered moving average of width window,
// truncating the window to the available half at either edge. The
// output has the same length and timestamps as the input. A series
// shorter than the window is returned unchanged.
func ExtractTrend(series []models.TimeSeriesPoint, window int) []models.TimeSeriesPoint {
	out := make([]models.TimeSeriesPoint, len(series))
	copy(out, series)
	if len(series) < window || len(series) < 2 {
		return out
	}
	if window < 2 {
		window = 2
	}

	half := window / 2
	for i := range series {
		lo := i - half
		if lo < 0 {
			lo = 0
		}
		hi := i + half
		if window%2 == 0 {
			hi = i + half - 1
		}
		if hi > len(series)-1 {
			hi = len(series) - 1
		}
		sum := 0.0
		for j := lo; j <= hi; j++ {
			sum += series[j].Value
		}
		out[i].Value = sum / float64(hi-lo+1)
	}
	return out
}

// seasonalPeriod maps a bucket interval to the natural cycle length:
// hourly data cycles daily, daily data weekly, weekly data monthly.
func seasonalPeriod(interval string) (int, bool) {
	switch interval {
	case models.BucketHour:
		return 24, true
	case models.BucketDay:
		return 7, true
	case models.BucketWeek:
		return 4, true
	default:
		return 0, false
	}
}

// decomposeSeries splits a preprocessed series into additive trend,
// seasonal and residual components. Seasonal values are the per-phase
// means of the detrended series, tiled over its length; residual is
// what remains, so the three components reconstruct the original
// exactly.
func decomposeSeries(series []models.TimeSeriesPoint, window, period int) (*models.DecompositionResult, error) {
	result := &models.DecompositionResult{
		Original: []models.TimeSeriesPoint{},
		Trend:    []models.TimeSeriesPoint{},
		Seasonal: []models.TimeSeriesPoint{},
		Residual: []models.TimeSeriesPoint{},
	}
	if len(series) == 0 {
		return result, nil
	}
	if period <= 0 {
		return nil, fmt.Errorf("cannot determine seasonal period")
	}

	trend := ExtractTrend(series, window)

	detrended := make([]float64, len(series))
	for i := range series {
		detrended[i] = series[i].Value - trend[i].Value
	}

	// Per-phase means of the detrended series.
	phaseSum := make([]float64, period)
	phaseCount := make([]int, period)
	for i, v := range detrended {
		phaseSum[i%period] += v
		phaseCount[i%period]++
	}
	phaseMean := make([]float64, period)
	for p := range phaseMean {
		if phaseCount[p] > 0 {
			phaseMean[p] = phaseSum[p] / float64(phaseCount[p])
		}
	}

	result.Original = series
	result.Trend = trend
	result.Seasonal = make([]models.TimeSeriesPoint, len(series))
	result.Residual = make([]models.TimeSeriesPoint, len(series))
	for i := range series {
		seasonal := phaseMean[i%period]
		result.Seasonal[i] = models.TimeSeriesPoint{Timestamp: series[i].Timestamp, Value: seasonal}
		result.Residual[i] = models.TimeSeriesPoint{
			Timestamp: series[i].Timestamp,
			Value:     series[i].Value - trend[i].Value - seasonal,
		}
	}
	return result, nil
}
