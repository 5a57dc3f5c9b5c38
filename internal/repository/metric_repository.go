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

type metricRepository struct {
	db *DB
}

// NewMetricRepository returns the metric repository over db.
func NewMetricRepository(db *DB) MetricRepository {
	return &metricRepository{db: db}
}

const upsertMetricSQL = `
	INSERT INTO metrics (id, name, type, description, integration_id, integration_name, integration_category, metadata, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (id) DO UPDATE SET
		name                 = excluded.name,
		type                 = excluded.type,
		description          = excluded.description,
		integration_id       = excluded.integration_id,
		integration_name     = excluded.integration_name,
		integration_category = excluded.integration_category,
		metadata             = excluded.metadata,
		updated_at           = excluded.updated_at
`

func metricArgs(m *models.Metric) []any {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now()
	}
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = now()
	}
	return []any{
		m.ID, m.Name, m.Type, m.Description,
		m.IntegrationID, m.IntegrationName, m.IntegrationCategory,
		jsonOrEmpty(m.Metadata), m.CreatedAt.UTC(), m.UpdatedAt.UTC(),
	}
}

func (r *metricRepository) FindByID(ctx context.Context, id string) (*models.Metric, error) {
	var m models.Metric
	err := r.db.run(ctx, "metrics.find_by_id", func() error {
		return r.db.GetContext(ctx, &m, r.db.Rebind(`SELECT * FROM metrics WHERE id = ?`), id)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("metric %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *metricRepository) FindByName(ctx context.Context, prefix string) ([]*models.Metric, error) {
	var ms []*models.Metric
	query := r.db.Rebind(`SELECT * FROM metrics WHERE name LIKE ? ESCAPE '\' ORDER BY name ASC`)
	err := r.db.run(ctx, "metrics.find_by_name", func() error {
		return r.db.SelectContext(ctx, &ms, query, likePrefix(prefix))
	})
	return ms, err
}

func (r *metricRepository) FindByDateRange(ctx context.Context, start, end time.Time) ([]*models.Metric, error) {
	var ms []*models.Metric
	query := r.db.Rebind(`SELECT * FROM metrics WHERE created_at >= ? AND created_at <= ? ORDER BY created_at DESC`)
	err := r.db.run(ctx, "metrics.find_by_date_range", func() error {
		return r.db.SelectContext(ctx, &ms, query, start.UTC(), end.UTC())
	})
	return ms, err
}

func (r *metricRepository) FindAll(ctx context.Context, limit, offset int) ([]*models.Metric, error) {
	if limit <= 0 {
		limit = 50
	}
	var ms []*models.Metric
	query := r.db.Rebind(`SELECT * FROM metrics ORDER BY name ASC LIMIT ? OFFSET ?`)
	err := r.db.run(ctx, "metrics.find_all", func() error {
		return r.db.SelectContext(ctx, &ms, query, limit, offset)
	})
	return ms, err
}

func (r *metricRepository) Create(ctx context.Context, m *models.Metric) error {
	query := r.db.Rebind(`
		INSERT INTO metrics (id, name, type, description, integration_id, integration_name, integration_category, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	return r.db.run(ctx, "metrics.create", func() error {
		_, err := r.db.ExecContext(ctx, query, metricArgs(m)...)
		return err
	})
}

func (r *metricRepository) CreateOrUpdate(ctx context.Context, m *models.Metric) error {
	query := r.db.Rebind(upsertMetricSQL)
	return r.db.run(ctx, "metrics.upsert", func() error {
		_, err := r.db.ExecContext(ctx, query, metricArgs(m)...)
		return err
	})
}

func (r *metricRepository) CreateBatch(ctx context.Context, ms []*models.Metric) error {
	if len(ms) == 0 {
		return nil
	}
	query := r.db.Rebind(upsertMetricSQL)
	return r.db.run(ctx, "metrics.create_batch", func() error {
		return r.db.WithTx(ctx, func(tx *sqlx.Tx) error {
			for _, m := range ms {
				if _, err := tx.ExecContext(ctx, query, metricArgs(m)...); err != nil {
					return fmt.Errorf("metric batch of %d rolled back: %w", len(ms), err)
				}
			}
			return nil
		})
	})
}

func (r *metricRepository) Delete(ctx context.Context, id string) error {
	query := r.db.Rebind(`DELETE FROM metrics WHERE id = ?`)
	return r.db.run(ctx, "metrics.delete", func() error {
		_, err := r.db.ExecContext(ctx, query, id)
		return err
	})
}

func (r *metricRepository) FindUpdatedSince(ctx context.Context, ts time.Time) ([]*models.Metric, error) {
	var ms []*models.Metric
	query := r.db.Rebind(`SELECT * FROM metrics WHERE updated_at > ? ORDER BY updated_at ASC`)
	err := r.db.run(ctx, "metrics.find_updated_since", func() error {
		return r.db.SelectContext(ctx, &ms, query, ts.UTC())
	})
	return ms, err
}

func (r *metricRepository) GetLatestUpdateTimestamp(ctx context.Context) (time.Time, error) {
	var ts time.Time
	err := r.db.run(ctx, "metrics.latest_update", func() error {
		return r.db.GetContext(ctx, &ts, `SELECT updated_at FROM metrics ORDER BY updated_at DESC LIMIT 1`)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	return ts.UTC(), err
}
