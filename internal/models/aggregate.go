package models

import "time"

// Bucket sizes recognized by aggregation and analytics queries.
const (
	BucketHour = "hour"
	BucketDay  = "day"
	BucketWeek = "week"
)

// BucketDuration maps a bucket size name to its duration. Returns
// false for unknown sizes.
func BucketDuration(size string) (time.Duration, bool) {
	switch size {
	case BucketHour:
		return time.Hour, true
	case BucketDay:
		return 24 * time.Hour, true
	case BucketWeek:
		return 7 * 24 * time.Hour, true
	default:
		return 0, false
	}
}

// AggregatedMetric is a pre-computed bucket summary over events,
// keyed by (metric, bucket start, bucket size). Sums are eventually
// consistent with the events in the same bucket.
type AggregatedMetric struct {
	MetricID    string    `json:"metricId" db:"metric_id"`
	BucketStart time.Time `json:"bucketStart" db:"bucket_start"`
	BucketSize  string    `json:"bucketSize" db:"bucket_size"`
	Count       int64     `json:"count" db:"count"`
	SumValue    float64   `json:"sumValue" db:"sum_value"`
	MinValue    float64   `json:"minValue" db:"min_value"`
	MaxValue    float64   `json:"maxValue" db:"max_value"`
	AvgValue    float64   `json:"avgValue" db:"avg_value"`
}
