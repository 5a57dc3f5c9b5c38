package analytics

import (
	"math"
	"sort"
	"time"

	"github.com/Kbediako/klaviyo-analytics-dashboard-sub002/internal/models"
)

// DefaultOutlierThreshold is the z-score cutoff for outlier removal
// when the caller does not specify one.
const DefaultOutlierThreshold = 3.0

// PreprocessOptions controls the preprocessing pipeline. Zero value
// runs validation, sorting and interval analysis only.
type PreprocessOptions struct {
	FillMissingValues   bool
	RemoveOutliers      bool
	OutlierThreshold    float64
	NormalizeTimestamps bool
	ExpectedInterval    time.Duration
}

// IntervalStats summarizes the gaps between consecutive points.
type IntervalStats struct {
	Min       time.Duration `json:"min"`
	Max       time.Duration `json:"max"`
	Mean      time.Duration `json:"mean"`
	IsRegular bool          `json:"isRegular"`
}

// ValidationResult reports problems found in the input series.
type ValidationResult struct {
	IsValid  bool     `json:"isValid"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// PreprocessMetadata describes what preprocessing did to the series.
type PreprocessMetadata struct {
	OriginalLength   int           `json:"originalLength"`
	ProcessedLength  int           `json:"processedLength"`
	HasMissingValues bool          `json:"hasMissingValues"`
	HasOutliers      bool          `json:"hasOutliers"`
	TimeInterval     IntervalStats `json:"timeInterval"`
}

// PreprocessResult is the pipeline output.
type PreprocessResult struct {
	Data       []models.TimeSeriesPoint `json:"data"`
	Validation ValidationResult         `json:"validation"`
	Metadata   PreprocessMetadata       `json:"metadata"`
}

// Preprocess runs the fixed pipeline: validate, stable-sort by
// timestamp, optionally fill missing values by linear interpolation,
// analyze intervals, optionally reindex to a regular grid, optionally
// drop outliers beyond the z-score threshold. The input is not
// mutated.
func Preprocess(series []models.TimeSeriesPoint, opts PreprocessOptions) PreprocessResult {
	result := PreprocessResult{
		Validation: ValidationResult{IsValid: true},
		Metadata:   PreprocessMetadata{OriginalLength: len(series)},
	}

	if len(series) == 0 {
		result.Validation.IsValid = false
		result.Validation.Errors = append(result.Validation.Errors, "empty time series")
		result.Data = []models.TimeSeriesPoint{}
		return result
	}

	data := make([]models.TimeSeriesPoint, len(series))
	copy(data, series)
	sort.SliceStable(data, func(i, j int) bool {
		return data[i].Timestamp.Before(data[j].Timestamp)
	})

	for _, p := range data {
		if math.IsInf(p.Value, 0) {
			result.Validation.IsValid = false
			result.Validation.Errors = append(result.Validation.Errors, "series contains non-finite values")
			break
		}
	}

	missing := 0
	for _, p := range data {
		if math.IsNaN(p.Value) {
			missing++
		}
	}
	result.Metadata.HasMissingValues = missing > 0
	if missing > 0 {
		result.Validation.Warnings = append(result.Validation.Warnings, "series contains missing values")
		if opts.FillMissingValues {
			data = fillMissing(data)
		}
	}

	result.Metadata.TimeInterval = analyzeIntervals(data)
	if !result.Metadata.TimeInterval.IsRegular && len(data) > 2 {
		result.Validation.Warnings = append(result.Validation.Warnings, "irregular sampling interval")
	}

	if opts.NormalizeTimestamps && opts.ExpectedInterval > 0 {
		data = normalizeGrid(data, opts.ExpectedInterval)
		result.Metadata.TimeInterval = analyzeIntervals(data)
	}

	if opts.RemoveOutliers {
		threshold := opts.OutlierThreshold
		if threshold <= 0 {
			threshold = DefaultOutlierThreshold
		}
		var removed int
		data, removed = dropOutliers(data, threshold)
		result.Metadata.HasOutliers = removed > 0
	}

	result.Data = data
	result.Metadata.ProcessedLength = len(data)
	return result
}

// fillMissing replaces NaN values by linear interpolation between the
// nearest finite neighbors; leading and trailing gaps copy the nearest
// edge value. A series with no finite value at all is returned as-is.
func fillMissing(data []models.TimeSeriesPoint) []models.TimeSeriesPoint {
	out := make([]models.TimeSeriesPoint, len(data))
	copy(out, data)

	firstFinite := -1
	for i, p := range out {
		if !math.IsNaN(p.Value) {
			firstFinite = i
			break
		}
	}
	if firstFinite == -1 {
		return out
	}

	for i := 0; i < firstFinite; i++ {
		out[i].Value = out[firstFinite].Value
	}

	prev := firstFinite
	for i := firstFinite + 1; i < len(out); i++ {
		if !math.IsNaN(out[i].Value) {
			prev = i
			continue
		}
		// Find the next finite point; extrapolate from prev when none.
		next := -1
		for j := i + 1; j < len(out); j++ {
			if !math.IsNaN(out[j].Value) {
				next = j
				break
			}
		}
		if next == -1 {
			for j := i; j < len(out); j++ {
				out[j].Value = out[prev].Value
			}
			break
		}
		span := float64(next - prev)
		frac := float64(i-prev) / span
		out[i].Value = out[prev].Value + frac*(out[next].Value-out[prev].Value)
	}
	return out
}

// analyzeIntervals measures gaps between consecutive points. A series
// is regular when every gap is within 1% of the mean gap.
func analyzeIntervals(data []models.TimeSeriesPoint) IntervalStats {
	if len(data) < 2 {
		return IntervalStats{IsRegular: true}
	}

	stats := IntervalStats{Min: time.Duration(math.MaxInt64)}
	var total time.Duration
	for i := 1; i < len(data); i++ {
		gap := data[i].Timestamp.Sub(data[i-1].Timestamp)
		if gap < stats.Min {
			stats.Min = gap
		}
		if gap > stats.Max {
			stats.Max = gap
		}
		total += gap
	}
	stats.Mean = total / time.Duration(len(data)-1)

	tolerance := stats.Mean / 100
	stats.IsRegular = stats.Max-stats.Mean <= tolerance && stats.Mean-stats.Min <= tolerance
	return stats
}

// normalizeGrid reindexes the series onto a regular grid starting at
// the first timestamp. Grid values are linearly interpolated between
// surrounding observations; points beyond either edge copy that edge.
func normalizeGrid(data []models.TimeSeriesPoint, interval time.Duration) []models.TimeSeriesPoint {
	if len(data) < 2 || interval <= 0 {
		return data
	}

	start := data[0].Timestamp
	end := data[len(data)-1].Timestamp
	n := int(end.Sub(start)/interval) + 1

	out := make([]models.TimeSeriesPoint, 0, n)
	j := 0
	for i := 0; i < n; i++ {
		ts := start.Add(time.Duration(i) * interval)
		for j < len(data)-1 && !data[j+1].Timestamp.After(ts) {
			j++
		}
		var value float64
		switch {
		case j >= len(data)-1:
			value = data[len(data)-1].Value
		case !data[j].Timestamp.After(ts):
			// Interpolate between data[j] and data[j+1].
			span := data[j+1].Timestamp.Sub(data[j].Timestamp)
			if span <= 0 {
				value = data[j].Value
			} else {
				frac := float64(ts.Sub(data[j].Timestamp)) / float64(span)
				value = data[j].Value + frac*(data[j+1].Value-data[j].Value)
			}
		default:
			value = data[j].Value
		}
		out = append(out, models.TimeSeriesPoint{Timestamp: ts, Value: value})
	}
	return out
}

// dropOutliers removes points whose |z-score| exceeds threshold,
// returning the filtered series and the removal count.
func dropOutliers(data []models.TimeSeriesPoint, threshold float64) ([]models.TimeSeriesPoint, int) {
	finite := finiteValues(data)
	if len(finite) < 3 {
		return data, 0
	}
	m := mean(finite)
	sd := stdDev(finite)
	if sd == 0 {
		return data, 0
	}

	out := make([]models.TimeSeriesPoint, 0, len(data))
	removed := 0
	for _, p := range data {
		if !math.IsNaN(p.Value) && math.Abs(p.Value-m)/sd > threshold {
			removed++
			continue
		}
		out = append(out, p)
	}
	return out, removed
}
