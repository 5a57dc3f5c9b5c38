package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/Kbediako/klaviyo-analytics-dashboard-sub002/internal/models"
)

type aggregateRepository struct {
	db *DB
}

// NewAggregateRepository returns the aggregated-metric repository over db.
func NewAggregateRepository(db *DB) AggregateRepository {
	return &aggregateRepository{db: db}
}

const upsertAggregateSQL = `
	INSERT INTO aggregated_metrics (metric_id, bucket_start, bucket_size, count, sum_value, min_value, max_value, avg_value)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (metric_id, bucket_start, bucket_size) DO UPDATE SET
		count     = excluded.count,
		sum_value = excluded.sum_value,
		min_value = excluded.min_value,
		max_value = excluded.max_value,
		avg_value = excluded.avg_value
`

// StoreAggregatedMetrics upserts bucket summaries in one transaction.
// The aggregation task recomputes whole buckets, so replacing is safe.
func (r *aggregateRepository) StoreAggregatedMetrics(ctx context.Context, aggs []*models.AggregatedMetric) error {
	if len(aggs) == 0 {
		return nil
	}
	query := r.db.Rebind(upsertAggregateSQL)
	return r.db.run(ctx, "aggregates.store", func() error {
		return r.db.WithTx(ctx, func(tx *sqlx.Tx) error {
			for _, a := range aggs {
				_, err := tx.ExecContext(ctx, query,
					a.MetricID, a.BucketStart.UTC(), a.BucketSize,
					a.Count, a.SumValue, a.MinValue, a.MaxValue, a.AvgValue,
				)
				if err != nil {
					return fmt.Errorf("aggregate batch of %d rolled back: %w", len(aggs), err)
				}
			}
			return nil
		})
	})
}

func (r *aggregateRepository) GetStoredAggregatedMetrics(ctx context.Context, metricID, bucketSize string, start, end time.Time) ([]*models.AggregatedMetric, error) {
	var aggs []*models.AggregatedMetric
	query := r.db.Rebind(`
		SELECT * FROM aggregated_metrics
		WHERE metric_id = ? AND bucket_size = ? AND bucket_start >= ? AND bucket_start <= ?
		ORDER BY bucket_start ASC
	`)
	err := r.db.run(ctx, "aggregates.get", func() error {
		return r.db.SelectContext(ctx, &aggs, query, metricID, bucketSize, start.UTC(), end.UTC())
	})
	for _, a := range aggs {
		a.BucketStart = a.BucketStart.UTC()
	}
	return aggs, err
}

// CoversRange reports whether stored buckets fully tile [start, end):
// every expected bucket boundary in the window has a row.
func (r *aggregateRepository) CoversRange(ctx context.Context, metricID, bucketSize string, start, end time.Time) (bool, error) {
	dur, ok := models.BucketDuration(bucketSize)
	if !ok {
		return false, fmt.Errorf("unknown bucket size %q", bucketSize)
	}

	first := start.UTC().Truncate(dur)
	expected := int64(end.UTC().Sub(first) / dur)
	if end.UTC().Sub(first)%dur > 0 {
		expected++
	}
	if expected <= 0 {
		return false, nil
	}

	var stored int64
	query := r.db.Rebind(`
		SELECT COUNT(*) FROM aggregated_metrics
		WHERE metric_id = ? AND bucket_size = ? AND bucket_start >= ? AND bucket_start < ?
	`)
	err := r.db.run(ctx, "aggregates.covers_range", func() error {
		return r.db.GetContext(ctx, &stored, query, metricID, bucketSize, first, end.UTC())
	})
	if err != nil {
		return false, err
	}
	return stored >= expected, nil
}

func (r *aggregateRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	var deleted int64
	query := r.db.Rebind(`DELETE FROM aggregated_metrics WHERE bucket_start < ?`)
	err := r.db.run(ctx, "aggregates.prune", func() error {
		res, err := r.db.ExecContext(ctx, query, cutoff.UTC())
		if err != nil {
			return err
		}
		deleted, _ = res.RowsAffected()
		return nil
	})
	return deleted, err
}
