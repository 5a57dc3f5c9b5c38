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

type flowRepository struct {
	db *DB
}

// NewFlowRepository returns the flow repository over db.
func NewFlowRepository(db *DB) FlowRepository {
	return &flowRepository{db: db}
}

const upsertFlowSQL = `
	INSERT INTO flows (id, name, status, trigger_type, sent_count, open_count, click_count, conversion_count, revenue, metadata, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (id) DO UPDATE SET
		name             = excluded.name,
		status           = excluded.status,
		trigger_type     = excluded.trigger_type,
		sent_count       = excluded.sent_count,
		open_count       = excluded.open_count,
		click_count      = excluded.click_count,
		conversion_count = excluded.conversion_count,
		revenue          = excluded.revenue,
		metadata         = excluded.metadata,
		updated_at       = excluded.updated_at
`

func flowArgs(f *models.Flow) []any {
	if f.CreatedAt.IsZero() {
		f.CreatedAt = now()
	}
	if f.UpdatedAt.IsZero() {
		f.UpdatedAt = now()
	}
	return []any{
		f.ID, f.Name, f.Status, f.TriggerType,
		f.SentCount, f.OpenCount, f.ClickCount, f.ConversionCount, f.Revenue,
		jsonOrEmpty(f.Metadata), f.CreatedAt.UTC(), f.UpdatedAt.UTC(),
	}
}

func (r *flowRepository) FindByID(ctx context.Context, id string) (*models.Flow, error) {
	var f models.Flow
	err := r.db.run(ctx, "flows.find_by_id", func() error {
		return r.db.GetContext(ctx, &f, r.db.Rebind(`SELECT * FROM flows WHERE id = ?`), id)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("flow %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func (r *flowRepository) FindByStatus(ctx context.Context, status string) ([]*models.Flow, error) {
	var fs []*models.Flow
	query := r.db.Rebind(`SELECT * FROM flows WHERE status = ? ORDER BY name ASC`)
	err := r.db.run(ctx, "flows.find_by_status", func() error {
		return r.db.SelectContext(ctx, &fs, query, status)
	})
	return fs, err
}

func (r *flowRepository) FindByName(ctx context.Context, prefix string) ([]*models.Flow, error) {
	var fs []*models.Flow
	query := r.db.Rebind(`SELECT * FROM flows WHERE name LIKE ? ESCAPE '\' ORDER BY name ASC`)
	err := r.db.run(ctx, "flows.find_by_name", func() error {
		return r.db.SelectContext(ctx, &fs, query, likePrefix(prefix))
	})
	return fs, err
}

func (r *flowRepository) FindByDateRange(ctx context.Context, start, end time.Time) ([]*models.Flow, error) {
	var fs []*models.Flow
	query := r.db.Rebind(`SELECT * FROM flows WHERE created_at >= ? AND created_at <= ? ORDER BY created_at DESC`)
	err := r.db.run(ctx, "flows.find_by_date_range", func() error {
		return r.db.SelectContext(ctx, &fs, query, start.UTC(), end.UTC())
	})
	return fs, err
}

func (r *flowRepository) FindAll(ctx context.Context, limit, offset int) ([]*models.Flow, error) {
	if limit <= 0 {
		limit = 50
	}
	var fs []*models.Flow
	query := r.db.Rebind(`SELECT * FROM flows ORDER BY name ASC LIMIT ? OFFSET ?`)
	err := r.db.run(ctx, "flows.find_all", func() error {
		return r.db.SelectContext(ctx, &fs, query, limit, offset)
	})
	return fs, err
}

func (r *flowRepository) Create(ctx context.Context, f *models.Flow) error {
	query := r.db.Rebind(`
		INSERT INTO flows (id, name, status, trigger_type, sent_count, open_count, click_count, conversion_count, revenue, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	return r.db.run(ctx, "flows.create", func() error {
		_, err := r.db.ExecContext(ctx, query, flowArgs(f)...)
		return err
	})
}

func (r *flowRepository) CreateOrUpdate(ctx context.Context, f *models.Flow) error {
	query := r.db.Rebind(upsertFlowSQL)
	return r.db.run(ctx, "flows.upsert", func() error {
		_, err := r.db.ExecContext(ctx, query, flowArgs(f)...)
		return err
	})
}

func (r *flowRepository) CreateBatch(ctx context.Context, fs []*models.Flow) error {
	if len(fs) == 0 {
		return nil
	}
	query := r.db.Rebind(upsertFlowSQL)
	return r.db.run(ctx, "flows.create_batch", func() error {
		return r.db.WithTx(ctx, func(tx *sqlx.Tx) error {
			for _, f := range fs {
				if _, err := tx.ExecContext(ctx, query, flowArgs(f)...); err != nil {
					return fmt.Errorf("flow batch of %d rolled back: %w", len(fs), err)
				}
			}
			return nil
		})
	})
}

func (r *flowRepository) Delete(ctx context.Context, id string) error {
	query := r.db.Rebind(`DELETE FROM flows WHERE id = ?`)
	return r.db.run(ctx, "flows.delete", func() error {
		_, err := r.db.ExecContext(ctx, query, id)
		return err
	})
}

func (r *flowRepository) FindUpdatedSince(ctx context.Context, ts time.Time) ([]*models.Flow, error) {
	var fs []*models.Flow
	query := r.db.Rebind(`SELECT * FROM flows WHERE updated_at > ? ORDER BY updated_at ASC`)
	err := r.db.run(ctx, "flows.find_updated_since", func() error {
		return r.db.SelectContext(ctx, &fs, query, ts.UTC())
	})
	return fs, err
}

func (r *flowRepository) GetLatestUpdateTimestamp(ctx context.Context) (time.Time, error) {
	var ts time.Time
	err := r.db.run(ctx, "flows.latest_update", func() error {
		return r.db.GetContext(ctx, &ts, `SELECT updated_at FROM flows ORDER BY updated_at DESC LIMIT 1`)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	return ts.UTC(), err
}

func (r *flowRepository) UpdateMetrics(ctx context.Context, id string, patch models.MetricsPatch) error {
	return updateEntityMetrics(ctx, r.db, "flows", id, patch)
}

func (r *flowRepository) CountByStatus(ctx context.Context, status string) (int64, error) {
	var n int64
	query := r.db.Rebind(`SELECT COUNT(*) FROM flows WHERE status = ?`)
	err := r.db.run(ctx, "flows.count_by_status", func() error {
		return r.db.GetContext(ctx, &n, query, status)
	})
	return n, err
}
