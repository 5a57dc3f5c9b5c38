package analytics

import (
	"math"

	"github.com/Kbediako/klaviyo-analytics-dashboard-sub002/internal/models"
)

// iqrFenceK is the Tukey fence multiplier for the global detector.
const iqrFenceK = 1.5

// DetectAnomalies flags unusual points. With lookback <= 0 the whole
// series forms the baseline: a point is anomalous when its |z-score|
// meets the threshold or it falls outside the Tukey fences
// (quartile ± 1.5·IQR). With a positive lookback, each point is
// compared against the mean/σ of the preceding lookback points only.
// A constant baseline (σ = 0) never flags. Series shorter than 3
// points return no anomalies.
func DetectAnomalies(series []models.TimeSeriesPoint, threshold float64, lookback int) []models.AnomalyPoint {
	if len(series) < 3 {
		return []models.AnomalyPoint{}
	}
	if threshold <= 0 {
		threshold = DefaultOutlierThreshold
	}
	if lookback > 0 {
		return detectRolling(series, threshold, lookback)
	}
	return detectGlobal(series, threshold)
}

func detectGlobal(series []models.TimeSeriesPoint, threshold float64) []models.AnomalyPoint {
	vals := values(series)
	m := mean(vals)
	sd := stdDev(vals)

	sorted := sortedCopy(vals)
	q1 := quartile(sorted, 25)
	q3 := quartile(sorted, 75)
	iqr := q3 - q1
	lowerFence := q1 - iqrFenceK*iqr
	upperFence := q3 + iqrFenceK*iqr

	anomalies := []models.AnomalyPoint{}
	for _, p := range series {
		z := 0.0
		if sd > 0 {
			z = (p.Value - m) / sd
		}
		flagged := sd > 0 && math.Abs(z) >= threshold
		if !flagged && iqr > 0 && (p.Value < lowerFence || p.Value > upperFence) {
			flagged = true
		}
		if flagged {
			anomalies = append(anomalies, models.AnomalyPoint{
				Timestamp: p.Timestamp,
				Value:     p.Value,
				ZScore:    SafeFloat(z),
			})
		}
	}
	return anomalies
}

func detectRolling(series []models.TimeSeriesPoint, threshold float64, lookback int) []models.AnomalyPoint {
	anomalies := []models.AnomalyPoint{}
	for i := lookback; i < len(series); i++ {
		window := values(series[i-lookback : i])
		m := mean(window)
		sd := stdDev(window)
		if sd == 0 {
			continue
		}
		z := (series[i].Value - m) / sd
		if math.Abs(z) >= threshold {
			anomalies = append(anomalies, models.AnomalyPoint{
				Timestamp: series[i].Timestamp,
				Value:     series[i].Value,
				ZScore:    SafeFloat(z),
			})
		}
	}
	return anomalies
}
