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

type formRepository struct {
	db *DB
}

// NewFormRepository returns the form repository over db.
func NewFormRepository(db *DB) FormRepository {
	return &formRepository{db: db}
}

const upsertFormSQL = `
	INSERT INTO forms (id, name, status, form_type, sent_count, open_count, click_count, conversion_count, revenue, metadata, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (id) DO UPDATE SET
		name             = excluded.name,
		status           = excluded.status,
		form_type        = excluded.form_type,
		sent_count       = excluded.sent_count,
		open_count       = excluded.open_count,
		click_count      = excluded.click_count,
		conversion_count = excluded.conversion_count,
		revenue          = excluded.revenue,
		metadata         = excluded.metadata,
		updated_at       = excluded.updated_at
`

func formArgs(f *models.Form) []any {
	if f.CreatedAt.IsZero() {
		f.CreatedAt = now()
	}
	if f.UpdatedAt.IsZero() {
		f.UpdatedAt = now()
	}
	return []any{
		f.ID, f.Name, f.Status, f.FormType,
		f.SentCount, f.OpenCount, f.ClickCount, f.ConversionCount, f.Revenue,
		jsonOrEmpty(f.Metadata), f.CreatedAt.UTC(), f.UpdatedAt.UTC(),
	}
}

func (r *formRepository) FindByID(ctx context.Context, id string) (*models.Form, error) {
	var f models.Form
	err := r.db.run(ctx, "forms.find_by_id", func() error {
		return r.db.GetContext(ctx, &f, r.db.Rebind(`SELECT * FROM forms WHERE id = ?`), id)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("form %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func (r *formRepository) FindByStatus(ctx context.Context, status string) ([]*models.Form, error) {
	var fs []*models.Form
	query := r.db.Rebind(`SELECT * FROM forms WHERE status = ? ORDER BY name ASC`)
	err := r.db.run(ctx, "forms.find_by_status", func() error {
		return r.db.SelectContext(ctx, &fs, query, status)
	})
	return fs, err
}

func (r *formRepository) FindByName(ctx context.Context, prefix string) ([]*models.Form, error) {
	var fs []*models.Form
	query := r.db.Rebind(`SELECT * FROM forms WHERE name LIKE ? ESCAPE '\' ORDER BY name ASC`)
	err := r.db.run(ctx, "forms.find_by_name", func() error {
		return r.db.SelectContext(ctx, &fs, query, likePrefix(prefix))
	})
	return fs, err
}

func (r *formRepository) FindByDateRange(ctx context.Context, start, end time.Time) ([]*models.Form, error) {
	var fs []*models.Form
	query := r.db.Rebind(`SELECT * FROM forms WHERE created_at >= ? AND created_at <= ? ORDER BY created_at DESC`)
	err := r.db.run(ctx, "forms.find_by_date_range", func() error {
		return r.db.SelectContext(ctx, &fs, query, start.UTC(), end.UTC())
	})
	return fs, err
}

func (r *formRepository) FindAll(ctx context.Context, limit, offset int) ([]*models.Form, error) {
	if limit <= 0 {
		limit = 50
	}
	var fs []*models.Form
	query := r.db.Rebind(`SELECT * FROM forms ORDER BY name ASC LIMIT ? OFFSET ?`)
	err := r.db.run(ctx, "forms.find_all", func() error {
		return r.db.SelectContext(ctx, &fs, query, limit, offset)
	})
	return fs, err
}

func (r *formRepository) Create(ctx context.Context, f *models.Form) error {
	query := r.db.Rebind(`
		INSERT INTO forms (id, name, status, form_type, sent_count, open_count, click_count, conversion_count, revenue, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	return r.db.run(ctx, "forms.create", func() error {
		_, err := r.db.ExecContext(ctx, query, formArgs(f)...)
		return err
	})
}

func (r *formRepository) CreateOrUpdate(ctx context.Context, f *models.Form) error {
	query := r.db.Rebind(upsertFormSQL)
	return r.db.run(ctx, "forms.upsert", func() error {
		_, err := r.db.ExecContext(ctx, query, formArgs(f)...)
		return err
	})
}

func (r *formRepository) CreateBatch(ctx context.Context, fs []*models.Form) error {
	if len(fs) == 0 {
		return nil
	}
	query := r.db.Rebind(upsertFormSQL)
	return r.db.run(ctx, "forms.create_batch", func() error {
		return r.db.WithTx(ctx, func(tx *sqlx.Tx) error {
			for _, f := range fs {
				if _, err := tx.ExecContext(ctx, query, formArgs(f)...); err != nil {
					return fmt.Errorf("form batch of %d rolled back: %w", len(fs), err)
				}
			}
			return nil
		})
	})
}

func (r *formRepository) Delete(ctx context.Context, id string) error {
	query := r.db.Rebind(`DELETE FROM forms WHERE id = ?`)
	return r.db.run(ctx, "forms.delete", func() error {
		_, err := r.db.ExecContext(ctx, query, id)
		return err
	})
}

func (r *formRepository) FindUpdatedSince(ctx context.Context, ts time.Time) ([]*models.Form, error) {
	var fs []*models.Form
	query := r.db.Rebind(`SELECT * FROM forms WHERE updated_at > ? ORDER BY updated_at ASC`)
	err := r.db.run(ctx, "forms.find_updated_since", func() error {
		return r.db.SelectContext(ctx, &fs, query, ts.UTC())
	})
	return fs, err
}

func (r *formRepository) GetLatestUpdateTimestamp(ctx context.Context) (time.Time, error) {
	var ts time.Time
	err := r.db.run(ctx, "forms.latest_update", func() error {
		return r.db.GetContext(ctx, &ts, `SELECT updated_at FROM forms ORDER BY updated_at DESC LIMIT 1`)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	return ts.UTC(), err
}

func (r *formRepository) UpdateMetrics(ctx context.Context, id string, patch models.MetricsPatch) error {
	return updateEntityMetrics(ctx, r.db, "forms", id, patch)
}
