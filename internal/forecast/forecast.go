// Package forecast implements baseline time-series forecasters with
// 95% prediction intervals: naive (last value), moving average and
// ordinary least squares linear regression.
package forecast

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/Kbediako/klaviyo-analytics-dashboard-sub002/internal/models"
)

// Forecast method names as they appear in API requests and results.
const (
	MethodNaive            = "naive"
	MethodMovingAverage    = "moving_average"
	MethodLinearRegression = "linear_regression"
)

// DefaultWindow is the moving-average window when none is requested.
const DefaultWindow = 3

// zCritical is the two-sided 95% normal critical value.
const zCritical = 1.96

// DefaultConfidenceLevel is the interval the method functions compute.
const DefaultConfidenceLevel = 0.95

// Two-sided normal critical values for the confidence levels the API
// accepts.
var zByLevel = map[float64]float64{
	0.80: 1.282,
	0.90: 1.645,
	0.95: zCritical,
	0.99: 2.576,
}

// RescaleConfidence adjusts a result's 95% prediction band to the
// given confidence level, keeping the lower band clamped at zero.
// Reports false for levels outside the supported set, leaving the
// result untouched.
func RescaleConfidence(result *models.ForecastResult, level float64) bool {
	z, ok := zByLevel[level]
	if !ok {
		return false
	}
	if z == zCritical {
		return true
	}
	scale := z / zCritical
	for i := range result.Forecast {
		fit := result.Forecast[i].Value
		margin := (result.Confidence.Upper[i] - fit) * scale
		result.Confidence.Upper[i] = fit + margin
		result.Confidence.Lower[i] = math.Max(0, fit-margin)
	}
	return true
}

// ErrNotEnoughData carries the exact message the HTTP layer surfaces
// when a series is too short for the requested method.
var ErrNotEnoughData = errors.New("Not enough data for forecasting")

// Naive repeats the last observed value for horizon steps. The
// prediction interval is ±1.96·σ over the whole history, with the
// lower band clamped at zero.
func Naive(series []models.TimeSeriesPoint, horizon int, interval string) (*models.ForecastResult, error) {
	if len(series) == 0 {
		return nil, ErrNotEnoughData
	}
	if horizon <= 0 {
		return nil, fmt.Errorf("forecast horizon must be positive, got %d", horizon)
	}

	last := series[len(series)-1].Value
	sigma := stdDev(seriesValues(series))

	result := newResult(MethodNaive, horizon)
	for i, ts := range futureTimestamps(series, horizon, interval) {
		result.Forecast[i] = models.TimeSeriesPoint{Timestamp: ts, Value: last}
		result.Confidence.Upper[i] = last + zCritical*sigma
		result.Confidence.Lower[i] = math.Max(0, last-zCritical*sigma)
	}
	result.Accuracy = holdoutAccuracy(seriesValues(series))
	return result, nil
}

// MovingAverage forecasts the mean of the last window points for
// horizon steps. σ is computed over those window points around that
// mean. A window of 0 or less uses DefaultWindow.
func MovingAverage(series []models.TimeSeriesPoint, horizon, window int, interval string) (*models.ForecastResult, error) {
	if window <= 0 {
		window = DefaultWindow
	}
	if len(series) < window {
		return nil, ErrNotEnoughData
	}
	if horizon <= 0 {
		return nil, fmt.Errorf("forecast horizon must be positive, got %d", horizon)
	}

	tail := seriesValues(series[len(series)-window:])
	m := mean(tail)
	var ss float64
	for _, v := range tail {
		ss += (v - m) * (v - m)
	}
	sigma := math.Sqrt(ss / float64(window))

	result := newResult(MethodMovingAverage, horizon)
	for i, ts := range futureTimestamps(series, horizon, interval) {
		result.Forecast[i] = models.TimeSeriesPoint{Timestamp: ts, Value: m}
		result.Confidence.Upper[i] = m + zCritical*sigma
		result.Confidence.Lower[i] = math.Max(0, m-zCritical*sigma)
	}
	result.Accuracy = holdoutAccuracy(seriesValues(series))
	return result, nil
}

// LinearRegression fits value on days since the first observation and
// extrapolates horizon steps ahead. The prediction interval is
// stderr·√(1 + 1/n + (x−x̄)²/Σ(x−x̄)²)·1.96 around the fitted line,
// lower band clamped at zero. Accuracy is R².
func LinearRegression(series []models.TimeSeriesPoint, horizon int, interval string) (*models.ForecastResult, error) {
	n := len(series)
	if n < 2 {
		return nil, ErrNotEnoughData
	}
	if horizon <= 0 {
		return nil, fmt.Errorf("forecast horizon must be positive, got %d", horizon)
	}

	first := series[0].Timestamp
	xs := make([]float64, n)
	ys := make([]float64, n)
	for i, p := range series {
		xs[i] = p.Timestamp.Sub(first).Hours() / 24
		ys[i] = p.Value
	}

	xBar := mean(xs)
	yBar := mean(ys)
	var sxx, sxy float64
	for i := range xs {
		sxx += (xs[i] - xBar) * (xs[i] - xBar)
		sxy += (xs[i] - xBar) * (ys[i] - yBar)
	}
	if sxx == 0 {
		return nil, fmt.Errorf("cannot fit regression: all observations share one timestamp")
	}
	slope := sxy / sxx
	intercept := yBar - slope*xBar

	var ssRes, ssTot float64
	for i := range xs {
		fit := intercept + slope*xs[i]
		ssRes += (ys[i] - fit) * (ys[i] - fit)
		ssTot += (ys[i] - yBar) * (ys[i] - yBar)
	}
	r2 := 1.0
	if ssTot > 0 {
		r2 = 1 - ssRes/ssTot
	}
	stderr := 0.0
	if n > 2 {
		stderr = math.Sqrt(ssRes / float64(n-2))
	}

	result := newResult(MethodLinearRegression, horizon)
	for i, ts := range futureTimestamps(series, horizon, interval) {
		x := ts.Sub(first).Hours() / 24
		fit := intercept + slope*x
		margin := zCritical * stderr * math.Sqrt(1+1/float64(n)+(x-xBar)*(x-xBar)/sxx)
		result.Forecast[i] = models.TimeSeriesPoint{Timestamp: ts, Value: fit}
		result.Confidence.Upper[i] = fit + margin
		result.Confidence.Lower[i] = math.Max(0, fit-margin)
	}
	result.Accuracy = r2
	return result, nil
}

func newResult(method string, horizon int) *models.ForecastResult {
	return &models.ForecastResult{
		Forecast: make([]models.TimeSeriesPoint, horizon),
		Confidence: models.ConfidenceBand{
			Upper: make([]float64, horizon),
			Lower: make([]float64, horizon),
		},
		Method: method,
	}
}

// futureTimestamps advances from the last observation in interval
// steps. Unrecognized intervals step daily.
func futureTimestamps(series []models.TimeSeriesPoint, horizon int, interval string) []time.Time {
	step, ok := models.BucketDuration(interval)
	if !ok {
		step, _ = models.BucketDuration(models.BucketDay)
	}
	last := series[len(series)-1].Timestamp
	out := make([]time.Time, horizon)
	for i := range out {
		out[i] = last.Add(time.Duration(i+1) * step)
	}
	return out
}

// holdoutAccuracy scores naive and moving-average forecasts: the last
// three points are compared against the mean of everything before
// them, MAPE is mapped to max(0, 1−MAPE). Series shorter than 4
// points score 0.5.
func holdoutAccuracy(vals []float64) float64 {
	const holdout = 3
	if len(vals) < holdout+1 {
		return 0.5
	}

	pred := mean(vals[:len(vals)-holdout])
	var total float64
	used := 0
	for _, actual := range vals[len(vals)-holdout:] {
		if actual == 0 {
			continue
		}
		total += math.Abs(actual-pred) / math.Abs(actual)
		used++
	}
	if used == 0 {
		return 0.5
	}
	return math.Max(0, 1-total/float64(used))
}

func mean(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	var sum float64
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

// stdDev is the population standard deviation (÷n).
func stdDev(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	m := mean(vals)
	var ss float64
	for _, v := range vals {
		ss += (v - m) * (v - m)
	}
	return math.Sqrt(ss / float64(len(vals)))
}

func seriesValues(series []models.TimeSeriesPoint) []float64 {
	out := make([]float64, len(series))
	for i, p := range series {
		out[i] = p.Value
	}
	return out
}
