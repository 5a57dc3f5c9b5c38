package analytics

import (
	"errors"
	"math"

	"github.com/Kbediako/klaviyo-analytics-dashboard-sub002/internal/models"
)

// Correlation errors carry the exact messages the HTTP layer surfaces.
var (
	ErrSeriesLengthMismatch = errors.New("Time series must have the same length")
	ErrSeriesTooShort       = errors.New("Time series must have at least 2 points")
	ErrEmptySeries          = errors.New("Empty time series provided")
)

// CalculateCorrelation computes the Pearson coefficient between two
// series. With align set, the series are first intersected on equal
// timestamps; otherwise they must already have the same length. Two
// constant series correlate 1.0; a constant against a variable series
// correlates 0.
func CalculateCorrelation(a, b []models.TimeSeriesPoint, align bool) (*models.CorrelationResult, error) {
	if len(a) == 0 && len(b) == 0 {
		return nil, ErrEmptySeries
	}

	var x, y []float64
	if align {
		x, y = alignOnTimestamps(a, b)
	} else {
		if len(a) != len(b) {
			return nil, ErrSeriesLengthMismatch
		}
		x, y = values(a), values(b)
	}
	if len(x) == 0 {
		return nil, ErrEmptySeries
	}
	if len(x) < 2 {
		return nil, ErrSeriesTooShort
	}

	return &models.CorrelationResult{
		Correlation: pearson(x, y),
		N:           len(x),
	}, nil
}

// alignOnTimestamps inner-joins two series on identical timestamps,
// preserving a's order.
func alignOnTimestamps(a, b []models.TimeSeriesPoint) ([]float64, []float64) {
	byTS := make(map[int64]float64, len(b))
	for _, p := range b {
		byTS[p.Timestamp.UnixMilli()] = p.Value
	}
	var x, y []float64
	for _, p := range a {
		if v, ok := byTS[p.Timestamp.UnixMilli()]; ok {
			x = append(x, p.Value)
			y = append(y, v)
		}
	}
	return x, y
}

func pearson(x, y []float64) float64 {
	mx, my := mean(x), mean(y)
	var cov, varX, varY float64
	for i := range x {
		dx := x[i] - mx
		dy := y[i] - my
		cov += dx * dy
		varX += dx * dx
		varY += dy * dy
	}
	if varX == 0 && varY == 0 {
		return 1.0 // two constant series move identically
	}
	if varX == 0 || varY == 0 {
		return 0
	}
	return cov / math.Sqrt(varX*varY)
}

// CorrelationPValue approximates the two-sided p-value of a Pearson r
// over n pairs using the t statistic, clamped to [0, 1].
func CorrelationPValue(r float64, n int) float64 {
	if n < 3 {
		return 1
	}
	if math.Abs(r) >= 1 {
		return 0
	}
	t := math.Abs(r) * math.Sqrt(float64(n-2)/(1-r*r))
	// Normal tail approximation is adequate for dashboard display.
	p := 2 * (1 - normalCDF(t))
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}

func normalCDF(z float64) float64 {
	return 0.5 * (1 + math.Erf(z/math.Sqrt2))
}
