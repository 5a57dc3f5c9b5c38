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

type segmentRepository struct {
	db *DB
}

// NewSegmentRepository returns the segment repository over db.
func NewSegmentRepository(db *DB) SegmentRepository {
	return &segmentRepository{db: db}
}

const upsertSegmentSQL = `
	INSERT INTO segments (id, name, status, member_count, sent_count, open_count, click_count, conversion_count, revenue, metadata, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (id) DO UPDATE SET
		name             = excluded.name,
		status           = excluded.status,
		member_count     = excluded.member_count,
		sent_count       = excluded.sent_count,
		open_count       = excluded.open_count,
		click_count      = excluded.click_count,
		conversion_count = excluded.conversion_count,
		revenue          = excluded.revenue,
		metadata         = excluded.metadata,
		updated_at       = excluded.updated_at
`

func segmentArgs(s *models.Segment) []any {
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now()
	}
	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = now()
	}
	return []any{
		s.ID, s.Name, s.Status, s.MemberCount,
		s.SentCount, s.OpenCount, s.ClickCount, s.ConversionCount, s.Revenue,
		jsonOrEmpty(s.Metadata), s.CreatedAt.UTC(), s.UpdatedAt.UTC(),
	}
}

func (r *segmentRepository) FindByID(ctx context.Context, id string) (*models.Segment, error) {
	var s models.Segment
	err := r.db.run(ctx, "segments.find_by_id", func() error {
		return r.db.GetContext(ctx, &s, r.db.Rebind(`SELECT * FROM segments WHERE id = ?`), id)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("segment %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *segmentRepository) FindByStatus(ctx context.Context, status string) ([]*models.Segment, error) {
	var ss []*models.Segment
	query := r.db.Rebind(`SELECT * FROM segments WHERE status = ? ORDER BY member_count DESC`)
	err := r.db.run(ctx, "segments.find_by_status", func() error {
		return r.db.SelectContext(ctx, &ss, query, status)
	})
	return ss, err
}

func (r *segmentRepository) FindByName(ctx context.Context, prefix string) ([]*models.Segment, error) {
	var ss []*models.Segment
	query := r.db.Rebind(`SELECT * FROM segments WHERE name LIKE ? ESCAPE '\' ORDER BY name ASC`)
	err := r.db.run(ctx, "segments.find_by_name", func() error {
		return r.db.SelectContext(ctx, &ss, query, likePrefix(prefix))
	})
	return ss, err
}

func (r *segmentRepository) FindByDateRange(ctx context.Context, start, end time.Time) ([]*models.Segment, error) {
	var ss []*models.Segment
	query := r.db.Rebind(`SELECT * FROM segments WHERE created_at >= ? AND created_at <= ? ORDER BY created_at DESC`)
	err := r.db.run(ctx, "segments.find_by_date_range", func() error {
		return r.db.SelectContext(ctx, &ss, query, start.UTC(), end.UTC())
	})
	return ss, err
}

func (r *segmentRepository) FindAll(ctx context.Context, limit, offset int) ([]*models.Segment, error) {
	if limit <= 0 {
		limit = 50
	}
	var ss []*models.Segment
	query := r.db.Rebind(`SELECT * FROM segments ORDER BY member_count DESC LIMIT ? OFFSET ?`)
	err := r.db.run(ctx, "segments.find_all", func() error {
		return r.db.SelectContext(ctx, &ss, query, limit, offset)
	})
	return ss, err
}

func (r *segmentRepository) Create(ctx context.Context, s *models.Segment) error {
	query := r.db.Rebind(`
		INSERT INTO segments (id, name, status, member_count, sent_count, open_count, click_count, conversion_count, revenue, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	return r.db.run(ctx, "segments.create", func() error {
		_, err := r.db.ExecContext(ctx, query, segmentArgs(s)...)
		return err
	})
}

func (r *segmentRepository) CreateOrUpdate(ctx context.Context, s *models.Segment) error {
	query := r.db.Rebind(upsertSegmentSQL)
	return r.db.run(ctx, "segments.upsert", func() error {
		_, err := r.db.ExecContext(ctx, query, segmentArgs(s)...)
		return err
	})
}

func (r *segmentRepository) CreateBatch(ctx context.Context, ss []*models.Segment) error {
	if len(ss) == 0 {
		return nil
	}
	query := r.db.Rebind(upsertSegmentSQL)
	return r.db.run(ctx, "segments.create_batch", func() error {
		return r.db.WithTx(ctx, func(tx *sqlx.Tx) error {
			for _, s := range ss {
				if _, err := tx.ExecContext(ctx, query, segmentArgs(s)...); err != nil {
					return fmt.Errorf("segment batch of %d rolled back: %w", len(ss), err)
				}
			}
			return nil
		})
	})
}

func (r *segmentRepository) Delete(ctx context.Context, id string) error {
	query := r.db.Rebind(`DELETE FROM segments WHERE id = ?`)
	return r.db.run(ctx, "segments.delete", func() error {
		_, err := r.db.ExecContext(ctx, query, id)
		return err
	})
}

func (r *segmentRepository) FindUpdatedSince(ctx context.Context, ts time.Time) ([]*models.Segment, error) {
	var ss []*models.Segment
	query := r.db.Rebind(`SELECT * FROM segments WHERE updated_at > ? ORDER BY updated_at ASC`)
	err := r.db.run(ctx, "segments.find_updated_since", func() error {
		return r.db.SelectContext(ctx, &ss, query, ts.UTC())
	})
	return ss, err
}

func (r *segmentRepository) GetLatestUpdateTimestamp(ctx context.Context) (time.Time, error) {
	var ts time.Time
	err := r.db.run(ctx, "segments.latest_update", func() error {
		return r.db.GetContext(ctx, &ts, `SELECT updated_at FROM segments ORDER BY updated_at DESC LIMIT 1`)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	return ts.UTC(), err
}

func (r *segmentRepository) UpdateMetrics(ctx context.Context, id string, patch models.MetricsPatch) error {
	return updateEntityMetrics(ctx, r.db, "segments", id, patch)
}
