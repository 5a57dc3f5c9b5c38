// Package analytics implements time-series retrieval and the
// statistical toolbox behind the dashboard's analytics endpoints:
// preprocessing, trend/seasonal decomposition, anomaly detection,
// correlation, sample entropy, and chart-friendly downsampling.
package analytics

import (
	"math"
	"sort"

	"github.com/Kbediako/klaviyo-analytics-dashboard-sub002/internal/models"
)

// mean is the arithmetic mean; 0 for an empty slice.
func mean(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	sum := 0.0
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
	variance := 0.0
	for _, v := range vals {
		variance += (v - m) * (v - m)
	}
	return math.Sqrt(variance / float64(len(vals)))
}

// quartile returns the p-th percentile of sorted via linear
// interpolation between closest ranks.
func quartile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := p / 100.0 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi || hi >= len(sorted) {
		return sorted[lo]
	}
	w := rank - float64(lo)
	return sorted[lo]*(1-w) + sorted[hi]*w
}

// sortedCopy returns vals ascending without mutating the input.
func sortedCopy(vals []float64) []float64 {
	out := make([]float64, len(vals))
	copy(out, vals)
	sort.Float64s(out)
	return out
}

// SafeFloat replaces NaN and ±Inf with 0 so JSON encoding never
// fails. Applied to every float leaving the analytics surface.
func SafeFloat(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// values extracts the value column of a series.
func values(series []models.TimeSeriesPoint) []float64 {
	out := make([]float64, len(series))
	for i, p := range series {
		out[i] = p.Value
	}
	return out
}

// finiteValues extracts values, skipping NaN entries.
func finiteValues(series []models.TimeSeriesPoint) []float64 {
	out := make([]float64, 0, len(series))
	for _, p := range series {
		if !math.IsNaN(p.Value) {
			out = append(out, p.Value)
		}
	}
	return out
}
