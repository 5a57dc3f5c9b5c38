package models

import "time"

// TimeSeriesPoint is one bucketed observation.
type TimeSeriesPoint struct {
	Timestamp time.Time `json:"timestamp" db:"bucket_start"`
	Value     float64   `json:"value" db:"value"`
}

// AnomalyPoint is a flagged observation with its z-score.
type AnomalyPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
	ZScore    float64   `json:"zScore"`
}

// DecompositionResult splits a series into additive components;
// trend + seasonal + residual reconstructs original pointwise.
type DecompositionResult struct {
	Original []TimeSeriesPoint `json:"original"`
	Trend    []TimeSeriesPoint `json:"trend"`
	Seasonal []TimeSeriesPoint `json:"seasonal"`
	Residual []TimeSeriesPoint `json:"residual"`
}

// CorrelationResult is the Pearson coefficient over n aligned pairs.
type CorrelationResult struct {
	Correlation float64 `json:"correlation"`
	N           int     `json:"n"`
}

// ConfidenceBand is the 95% prediction interval around a forecast.
type ConfidenceBand struct {
	Upper []float64 `json:"upper"`
	Lower []float64 `json:"lower"`
}

// ForecastResult is the output of any forecasting method.
type ForecastResult struct {
	Forecast   []TimeSeriesPoint `json:"forecast"`
	Confidence ConfidenceBand    `json:"confidence"`
	Accuracy   float64           `json:"accuracy"`
	Method     string            `json:"method"`
}
