package analytics

import (
	"fmt"
	"math"

	"github.com/Kbediako/klaviyo-analytics-dashboard-sub002/internal/models"
)

// CalculateSampleEntropy computes SampEn(m, r) of the series values:
// the negative log ratio of template matches of length m+1 to length
// m under the Chebyshev distance, self-matches excluded. Lower values
// indicate a more regular series. With m <= 0, m defaults to 2; with
// r <= 0, r defaults to 0.2·σ. Requires at least max(4, m+2) points.
// Returns +Inf when no template of length m+1 matches; callers map
// that through SafeFloat at the JSON boundary.
func CalculateSampleEntropy(series []models.TimeSeriesPoint, m int, r float64) (float64, error) {
	if m <= 0 {
		m = 2
	}
	minLen := m + 2
	if minLen < 4 {
		minLen = 4
	}
	if len(series) < minLen {
		return 0, fmt.Errorf("sample entropy requires at least %d points, got %d", minLen, len(series))
	}

	vals := values(series)
	for _, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, fmt.Errorf("sample entropy requires finite values")
		}
	}
	if r <= 0 {
		r = 0.2 * stdDev(vals)
	}
	if r == 0 {
		// Constant series: every template matches at every length.
		return 0, nil
	}

	b := countMatches(vals, m, r)
	a := countMatches(vals, m+1, r)
	if b == 0 {
		return math.Inf(1), nil
	}
	if a == 0 {
		return math.Inf(1), nil
	}
	return -math.Log(float64(a) / float64(b)), nil
}

// countMatches counts ordered template pairs of length m within
// Chebyshev distance r, excluding self-matches.
func countMatches(vals []float64, m int, r float64) int {
	n := len(vals) - m + 1
	count := 0
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			match := true
			for k := 0; k < m; k++ {
				if math.Abs(vals[i+k]-vals[j+k]) > r {
					match = false
					break
				}
			}
			if match {
				count++
			}
		}
	}
	return count
}
