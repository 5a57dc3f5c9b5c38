package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/Kbediako/klaviyo-analytics-dashboard-sub002/internal/models"
)

type eventRepository struct {
	db *DB
}

// NewEventRepository returns the event repository over db.
func NewEventRepository(db *DB) EventRepository {
	return &eventRepository{db: db}
}

// Events are keyed (id, ts) so the table can be hypertable-partitioned
// on ts; upstream never changes an event's timestamp.
const upsertEventSQL = `
	INSERT INTO events (id, metric_id, profile_id, ts, value, properties, raw)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (id, ts) DO UPDATE SET
		value      = excluded.value,
		properties = excluded.properties,
		raw        = excluded.raw
`

func eventArgs(e *models.Event) []any {
	return []any{
		e.ID, e.MetricID, e.ProfileID, e.Timestamp.UTC(),
		e.Value, jsonOrEmpty(e.Properties), jsonOrEmpty(e.Raw),
	}
}

func (r *eventRepository) FindByID(ctx context.Context, id string) (*models.Event, error) {
	var e models.Event
	err := r.db.run(ctx, "events.find_by_id", func() error {
		return r.db.GetContext(ctx, &e, r.db.Rebind(`SELECT * FROM events WHERE id = ? LIMIT 1`), id)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("event %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *eventRepository) FindAll(ctx context.Context, limit, offset int) ([]*models.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	var es []*models.Event
	query := r.db.Rebind(`SELECT * FROM events ORDER BY ts DESC LIMIT ? OFFSET ?`)
	err := r.db.run(ctx, "events.find_all", func() error {
		return r.db.SelectContext(ctx, &es, query, limit, offset)
	})
	return es, err
}

func (r *eventRepository) Create(ctx context.Context, e *models.Event) error {
	query := r.db.Rebind(`
		INSERT INTO events (id, metric_id, profile_id, ts, value, properties, raw)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	return r.db.run(ctx, "events.create", func() error {
		_, err := r.db.ExecContext(ctx, query, eventArgs(e)...)
		return err
	})
}

func (r *eventRepository) CreateOrUpdate(ctx context.Context, e *models.Event) error {
	query := r.db.Rebind(upsertEventSQL)
	return r.db.run(ctx, "events.upsert", func() error {
		_, err := r.db.ExecContext(ctx, query, eventArgs(e)...)
		return err
	})
}

func (r *eventRepository) CreateBatch(ctx context.Context, es []*models.Event) error {
	if len(es) == 0 {
		return nil
	}
	query := r.db.Rebind(upsertEventSQL)
	return r.db.run(ctx, "events.create_batch", func() error {
		return r.db.WithTx(ctx, func(tx *sqlx.Tx) error {
			for _, e := range es {
				if _, err := tx.ExecContext(ctx, query, eventArgs(e)...); err != nil {
					return fmt.Errorf("event batch of %d rolled back: %w", len(es), err)
				}
			}
			return nil
		})
	})
}

func (r *eventRepository) Delete(ctx context.Context, id string) error {
	query := r.db.Rebind(`DELETE FROM events WHERE id = ?`)
	return r.db.run(ctx, "events.delete", func() error {
		_, err := r.db.ExecContext(ctx, query, id)
		return err
	})
}

func (r *eventRepository) FindByMetricID(ctx context.Context, metricID string, limit, offset int) ([]*models.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	var es []*models.Event
	query := r.db.Rebind(`SELECT * FROM events WHERE metric_id = ? ORDER BY ts DESC LIMIT ? OFFSET ?`)
	err := r.db.run(ctx, "events.find_by_metric", func() error {
		return r.db.SelectContext(ctx, &es, query, metricID, limit, offset)
	})
	return es, err
}

func (r *eventRepository) FindByProfileID(ctx context.Context, profileID string, limit, offset int) ([]*models.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	var es []*models.Event
	query := r.db.Rebind(`SELECT * FROM events WHERE profile_id = ? ORDER BY ts DESC LIMIT ? OFFSET ?`)
	err := r.db.run(ctx, "events.find_by_profile", func() error {
		return r.db.SelectContext(ctx, &es, query, profileID, limit, offset)
	})
	return es, err
}

func (r *eventRepository) FindByTimeRange(ctx context.Context, start, end time.Time, metricID string) ([]*models.Event, error) {
	query := `SELECT * FROM events WHERE ts >= ? AND ts <= ?`
	args := []any{start.UTC(), end.UTC()}
	if metricID != "" {
		query += ` AND metric_id = ?`
		args = append(args, metricID)
	}
	query += ` ORDER BY ts ASC`

	var es []*models.Event
	rebound := r.db.Rebind(query)
	err := r.db.run(ctx, "events.find_by_time_range", func() error {
		return r.db.SelectContext(ctx, &es, rebound, args...)
	})
	return es, err
}

func (r *eventRepository) GetCountByMetricID(ctx context.Context, metricID string, start, end time.Time) (int64, error) {
	var n int64
	query := r.db.Rebind(`SELECT COUNT(*) FROM events WHERE metric_id = ? AND ts >= ? AND ts <= ?`)
	err := r.db.run(ctx, "events.count_by_metric", func() error {
		return r.db.GetContext(ctx, &n, query, metricID, start.UTC(), end.UTC())
	})
	return n, err
}

func (r *eventRepository) GetSumByMetricID(ctx context.Context, metricID string, start, end time.Time) (float64, error) {
	var sum float64
	query := r.db.Rebind(`SELECT COALESCE(SUM(value), 0) FROM events WHERE metric_id = ? AND ts >= ? AND ts <= ?`)
	err := r.db.run(ctx, "events.sum_by_metric", func() error {
		return r.db.GetContext(ctx, &sum, query, metricID, start.UTC(), end.UTC())
	})
	return sum, err
}

func (r *eventRepository) GetLatestTimestamp(ctx context.Context) (time.Time, error) {
	var ts time.Time
	err := r.db.run(ctx, "events.latest_ts", func() error {
		return r.db.GetContext(ctx, &ts, `SELECT ts FROM events ORDER BY ts DESC LIMIT 1`)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	return ts.UTC(), err
}

// BucketSeries aggregates events into fixed buckets, summing value
// with NULL counted as 1 so count-style metrics chart correctly.
// Empty buckets yield no row. Uses time_bucket when timescaledb is
// active, portable SQL otherwise.
func (r *eventRepository) BucketSeries(ctx context.Context, metricID string, start, end time.Time, bucket time.Duration) ([]models.TimeSeriesPoint, error) {
	secs := int64(bucket / time.Second)
	if secs <= 0 {
		return nil, fmt.Errorf("bucket %v too small", bucket)
	}

	if r.db.dialect == DialectPostgres {
		var query string
		var args []any
		if r.db.hasTimescale {
			query = r.db.Rebind(`
				SELECT time_bucket(?::interval, ts) AS bucket_start, SUM(COALESCE(value, 1)) AS value
				FROM events
				WHERE metric_id = ? AND ts >= ? AND ts <= ?
				GROUP BY 1 ORDER BY 1 ASC
			`)
			args = []any{fmt.Sprintf("%d seconds", secs), metricID, start.UTC(), end.UTC()}
		} else {
			query = r.db.Rebind(`
				SELECT to_timestamp(floor(extract(epoch FROM ts) / ?) * ?) AS bucket_start, SUM(COALESCE(value, 1)) AS value
				FROM events
				WHERE metric_id = ? AND ts >= ? AND ts <= ?
				GROUP BY 1 ORDER BY 1 ASC
			`)
			args = []any{secs, secs, metricID, start.UTC(), end.UTC()}
		}
		var points []models.TimeSeriesPoint
		err := r.db.run(ctx, "events.bucket_series", func() error {
			return r.db.SelectContext(ctx, &points, query, args...)
		})
		for i := range points {
			points[i].Timestamp = points[i].Timestamp.UTC()
		}
		return points, err
	}

	query := `
		SELECT (CAST(strftime('%s', ts) AS INTEGER) / ?) * ? AS bucket_epoch, SUM(COALESCE(value, 1)) AS value
		FROM events
		WHERE metric_id = ? AND ts >= ? AND ts <= ?
		GROUP BY bucket_epoch ORDER BY bucket_epoch ASC
	`
	var points []models.TimeSeriesPoint
	err := r.db.run(ctx, "events.bucket_series", func() error {
		rows, err := r.db.QueryContext(ctx, query, secs, secs, metricID, start.UTC(), end.UTC())
		if err != nil {
			return err
		}
		defer rows.Close()

		points = points[:0]
		for rows.Next() {
			var epoch int64
			var value float64
			if err := rows.Scan(&epoch, &value); err != nil {
				return err
			}
			points = append(points, models.TimeSeriesPoint{
				Timestamp: time.Unix(epoch, 0).UTC(),
				Value:     value,
			})
		}
		return rows.Err()
	})
	return points, err
}

// DeleteOlderThan prunes events past the retention horizon; on
// timescaledb installs the retention policy usually beats it to the
// chunk drop.
func (r *eventRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	var deleted int64
	query := r.db.Rebind(`DELETE FROM events WHERE ts < ?`)
	err := r.db.run(ctx, "events.prune", func() error {
		res, err := r.db.ExecContext(ctx, query, cutoff.UTC())
		if err != nil {
			return err
		}
		deleted, _ = res.RowsAffected()
		return nil
	})
	return deleted, err
}

// BucketAggregates computes per-bucket summaries for the aggregation
// task. Buckets are aligned to epoch multiples of the bucket size so
// repeated roll-ups land on the same (metric, bucket, size) keys.
func (r *eventRepository) BucketAggregates(ctx context.Context, metricID string, start, end time.Time, bucketSize string) ([]*models.AggregatedMetric, error) {
	bucket, ok := models.BucketDuration(bucketSize)
	if !ok {
		return nil, fmt.Errorf("unknown bucket size %q", bucketSize)
	}
	secs := int64(bucket / time.Second)

	if r.db.dialect == DialectPostgres {
		query := r.db.Rebind(`
			SELECT
				to_timestamp(floor(extract(epoch FROM ts) / ?) * ?) AS bucket_start,
				COUNT(*)                 AS count,
				SUM(COALESCE(value, 1))  AS sum_value,
				MIN(COALESCE(value, 1))  AS min_value,
				MAX(COALESCE(value, 1))  AS max_value,
				AVG(COALESCE(value, 1))  AS avg_value
			FROM events
			WHERE metric_id = ? AND ts >= ? AND ts <= ?
			GROUP BY 1 ORDER BY 1 ASC
		`)
		var aggs []*models.AggregatedMetric
		err := r.db.run(ctx, "events.bucket_aggregates", func() error {
			rows, err := r.db.QueryxContext(ctx, query, secs, secs, metricID, start.UTC(), end.UTC())
			if err != nil {
				return err
			}
			defer rows.Close()

			aggs = aggs[:0]
			for rows.Next() {
				a := &models.AggregatedMetric{MetricID: metricID, BucketSize: bucketSize}
				if err := rows.Scan(&a.BucketStart, &a.Count, &a.SumValue, &a.MinValue, &a.MaxValue, &a.AvgValue); err != nil {
					return err
				}
				a.BucketStart = a.BucketStart.UTC()
				aggs = append(aggs, a)
			}
			return rows.Err()
		})
		return aggs, err
	}

	query := `
		SELECT
			(CAST(strftime('%s', ts) AS INTEGER) / ?) * ? AS bucket_epoch,
			COUNT(*)                AS count,
			SUM(COALESCE(value, 1)) AS sum_value,
			MIN(COALESCE(value, 1)) AS min_value,
			MAX(COALESCE(value, 1)) AS max_value,
			AVG(COALESCE(value, 1)) AS avg_value
		FROM events
		WHERE metric_id = ? AND ts >= ? AND ts <= ?
		GROUP BY bucket_epoch ORDER BY bucket_epoch ASC
	`
	var aggs []*models.AggregatedMetric
	err := r.db.run(ctx, "events.bucket_aggregates", func() error {
		rows, err := r.db.QueryContext(ctx, query, secs, secs, metricID, start.UTC(), end.UTC())
		if err != nil {
			return err
		}
		defer rows.Close()

		aggs = aggs[:0]
		for rows.Next() {
			var epoch int64
			a := &models.AggregatedMetric{MetricID: metricID, BucketSize: bucketSize}
			if err := rows.Scan(&epoch, &a.Count, &a.SumValue, &a.MinValue, &a.MaxValue, &a.AvgValue); err != nil {
				return err
			}
			a.BucketStart = time.Unix(epoch, 0).UTC()
			aggs = append(aggs, a)
		}
		return rows.Err()
	})
	return aggs, err
}
