package analytics

import (
	"math"

	"github.com/Kbediako/klaviyo-analytics-dashboard-sub002/internal/models"
)

// Downsample methods accepted by the timeseries endpoint.
const (
	DownsampleLTTB     = "lttb"
	DownsampleEveryNth = "every_nth"
)

// Downsample reduces a series to at most maxPoints for chart payloads.
// The default method is LTTB, which preserves the visual shape; the
// every_nth method is a cheap uniform stride. Series already within
// the limit are returned unchanged.
func Downsample(series []models.TimeSeriesPoint, maxPoints int, method string) []models.TimeSeriesPoint {
	if maxPoints <= 0 || len(series) <= maxPoints {
		return series
	}
	if method == DownsampleEveryNth {
		return everyNth(series, maxPoints)
	}
	return lttb(series, maxPoints)
}

func everyNth(series []models.TimeSeriesPoint, maxPoints int) []models.TimeSeriesPoint {
	stride := float64(len(series)) / float64(maxPoints)
	out := make([]models.TimeSeriesPoint, 0, maxPoints)
	for i := 0; i < maxPoints; i++ {
		out = append(out, series[int(float64(i)*stride)])
	}
	// Always keep the last observation.
	out[len(out)-1] = series[len(series)-1]
	return out
}

// lttb is largest-triangle-three-buckets: first and last points are
// kept, and every interior bucket contributes the point forming the
// largest triangle with the previously selected point and the next
// bucket's centroid.
func lttb(series []models.TimeSeriesPoint, maxPoints int) []models.TimeSeriesPoint {
	if maxPoints < 3 {
		return []models.TimeSeriesPoint{series[0], series[len(series)-1]}[:minInt(maxPoints, 2)]
	}

	out := make([]models.TimeSeriesPoint, 0, maxPoints)
	out = append(out, series[0])

	bucketSize := float64(len(series)-2) / float64(maxPoints-2)
	prev := 0
	for i := 0; i < maxPoints-2; i++ {
		lo := int(float64(i)*bucketSize) + 1
		hi := int(float64(i+1)*bucketSize) + 1
		if hi >= len(series)-1 {
			hi = len(series) - 1
		}

		// Centroid of the next bucket (or the final point).
		nextLo := hi
		nextHi := int(float64(i+2)*bucketSize) + 1
		if nextHi >= len(series) {
			nextHi = len(series)
		}
		var cx, cy float64
		n := nextHi - nextLo
		if n < 1 {
			cx = float64(series[len(series)-1].Timestamp.UnixMilli())
			cy = series[len(series)-1].Value
		} else {
			for j := nextLo; j < nextHi; j++ {
				cx += float64(series[j].Timestamp.UnixMilli())
				cy += series[j].Value
			}
			cx /= float64(n)
			cy /= float64(n)
		}

		ax := float64(series[prev].Timestamp.UnixMilli())
		ay := series[prev].Value

		best := lo
		bestArea := -1.0
		for j := lo; j < hi; j++ {
			bx := float64(series[j].Timestamp.UnixMilli())
			by := series[j].Value
			area := math.Abs((ax-cx)*(by-ay) - (ax-bx)*(cy-ay))
			if area > bestArea {
				bestArea = area
				best = j
			}
		}
		out = append(out, series[best])
		prev = best
	}

	out = append(out, series[len(series)-1])
	return out
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
