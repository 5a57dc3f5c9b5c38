package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/Kbediako/klaviyo-analytics-dashboard-sub002/internal/models"
)

type campaignRepository struct {
	db *DB
}

// NewCampaignRepository returns the campaign repository over db.
func NewCampaignRepository(db *DB) CampaignRepository {
	return &campaignRepository{db: db}
}

const upsertCampaignSQL = `
	INSERT INTO campaigns (id, name, status, channel, sent_count, open_count, click_count, conversion_count, revenue, metadata, send_time, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (id) DO UPDATE SET
		name             = excluded.name,
		status           = excluded.status,
		channel          = excluded.channel,
		sent_count       = excluded.sent_count,
		open_count       = excluded.open_count,
		click_count      = excluded.click_count,
		conversion_count = excluded.conversion_count,
		revenue          = excluded.revenue,
		metadata         = excluded.metadata,
		send_time        = excluded.send_time,
		updated_at       = excluded.updated_at
`

func campaignArgs(c *models.Campaign) []any {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now()
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = now()
	}
	var sendTime any
	if c.SendTime != nil {
		sendTime = c.SendTime.UTC()
	}
	return []any{
		c.ID, c.Name, c.Status, c.Channel,
		c.SentCount, c.OpenCount, c.ClickCount, c.ConversionCount, c.Revenue,
		jsonOrEmpty(c.Metadata), sendTime, c.CreatedAt.UTC(), c.UpdatedAt.UTC(),
	}
}

func (r *campaignRepository) FindByID(ctx context.Context, id string) (*models.Campaign, error) {
	var c models.Campaign
	err := r.db.run(ctx, "campaigns.find_by_id", func() error {
		return r.db.GetContext(ctx, &c, r.db.Rebind(`SELECT * FROM campaigns WHERE id = ?`), id)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("campaign %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *campaignRepository) FindByStatus(ctx context.Context, status string) ([]*models.Campaign, error) {
	var cs []*models.Campaign
	query := r.db.Rebind(`SELECT * FROM campaigns WHERE status = ? ORDER BY COALESCE(send_time, created_at) DESC`)
	err := r.db.run(ctx, "campaigns.find_by_status", func() error {
		return r.db.SelectContext(ctx, &cs, query, status)
	})
	return cs, err
}

func (r *campaignRepository) FindByName(ctx context.Context, prefix string) ([]*models.Campaign, error) {
	var cs []*models.Campaign
	query := r.db.Rebind(`SELECT * FROM campaigns WHERE name LIKE ? ESCAPE '\' ORDER BY name ASC`)
	err := r.db.run(ctx, "campaigns.find_by_name", func() error {
		return r.db.SelectContext(ctx, &cs, query, likePrefix(prefix))
	})
	return cs, err
}

// FindByDateRange resolves a campaign's place in time by send time,
// falling back to creation for drafts that never went out.
func (r *campaignRepository) FindByDateRange(ctx context.Context, start, end time.Time) ([]*models.Campaign, error) {
	var cs []*models.Campaign
	query := r.db.Rebind(`
		SELECT * FROM campaigns
		WHERE COALESCE(send_time, created_at) >= ? AND COALESCE(send_time, created_at) <= ?
		ORDER BY COALESCE(send_time, created_at) DESC
	`)
	err := r.db.run(ctx, "campaigns.find_by_date_range", func() error {
		return r.db.SelectContext(ctx, &cs, query, start.UTC(), end.UTC())
	})
	return cs, err
}

func (r *campaignRepository) FindAll(ctx context.Context, limit, offset int) ([]*models.Campaign, error) {
	if limit <= 0 {
		limit = 50
	}
	var cs []*models.Campaign
	query := r.db.Rebind(`SELECT * FROM campaigns ORDER BY COALESCE(send_time, created_at) DESC LIMIT ? OFFSET ?`)
	err := r.db.run(ctx, "campaigns.find_all", func() error {
		return r.db.SelectContext(ctx, &cs, query, limit, offset)
	})
	return cs, err
}

func (r *campaignRepository) Create(ctx context.Context, c *models.Campaign) error {
	query := r.db.Rebind(`
		INSERT INTO campaigns (id, name, status, channel, sent_count, open_count, click_count, conversion_count, revenue, metadata, send_time, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	return r.db.run(ctx, "campaigns.create", func() error {
		_, err := r.db.ExecContext(ctx, query, campaignArgs(c)...)
		return err
	})
}

func (r *campaignRepository) CreateOrUpdate(ctx context.Context, c *models.Campaign) error {
	query := r.db.Rebind(upsertCampaignSQL)
	return r.db.run(ctx, "campaigns.upsert", func() error {
		_, err := r.db.ExecContext(ctx, query, campaignArgs(c)...)
		return err
	})
}

func (r *campaignRepository) CreateBatch(ctx context.Context, cs []*models.Campaign) error {
	if len(cs) == 0 {
		return nil
	}
	query := r.db.Rebind(upsertCampaignSQL)
	return r.db.run(ctx, "campaigns.create_batch", func() error {
		return r.db.WithTx(ctx, func(tx *sqlx.Tx) error {
			for _, c := range cs {
				if _, err := tx.ExecContext(ctx, query, campaignArgs(c)...); err != nil {
					return fmt.Errorf("campaign batch of %d rolled back: %w", len(cs), err)
				}
			}
			return nil
		})
	})
}

func (r *campaignRepository) Delete(ctx context.Context, id string) error {
	query := r.db.Rebind(`DELETE FROM campaigns WHERE id = ?`)
	return r.db.run(ctx, "campaigns.delete", func() error {
		_, err := r.db.ExecContext(ctx, query, id)
		return err
	})
}

func (r *campaignRepository) FindUpdatedSince(ctx context.Context, ts time.Time) ([]*models.Campaign, error) {
	var cs []*models.Campaign
	query := r.db.Rebind(`SELECT * FROM campaigns WHERE updated_at > ? ORDER BY updated_at ASC`)
	err := r.db.run(ctx, "campaigns.find_updated_since", func() error {
		return r.db.SelectContext(ctx, &cs, query, ts.UTC())
	})
	return cs, err
}

func (r *campaignRepository) GetLatestUpdateTimestamp(ctx context.Context) (time.Time, error) {
	var ts time.Time
	err := r.db.run(ctx, "campaigns.latest_update", func() error {
		return r.db.GetContext(ctx, &ts, `SELECT updated_at FROM campaigns ORDER BY updated_at DESC LIMIT 1`)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	return ts.UTC(), err
}

func (r *campaignRepository) UpdateMetrics(ctx context.Context, id string, patch models.MetricsPatch) error {
	return updateEntityMetrics(ctx, r.db, "campaigns", id, patch)
}

func (r *campaignRepository) CountByStatus(ctx context.Context, status string) (int64, error) {
	var n int64
	query := r.db.Rebind(`SELECT COUNT(*) FROM campaigns WHERE status = ?`)
	err := r.db.run(ctx, "campaigns.count_by_status", func() error {
		return r.db.GetContext(ctx, &n, query, status)
	})
	return n, err
}

func (r *campaignRepository) CountInRange(ctx context.Context, start, end time.Time) (int64, error) {
	var n int64
	query := r.db.Rebind(`
		SELECT COUNT(*) FROM campaigns
		WHERE COALESCE(send_time, created_at) >= ? AND COALESCE(send_time, created_at) <= ?
	`)
	err := r.db.run(ctx, "campaigns.count_in_range", func() error {
		return r.db.GetContext(ctx, &n, query, start.UTC(), end.UTC())
	})
	return n, err
}

// EngagementTotals sums the denormalized counters over campaigns sent
// in the window; the Overview KPIs are built from two of these.
func (r *campaignRepository) EngagementTotals(ctx context.Context, start, end time.Time) (*models.EngagementTotals, error) {
	var t models.EngagementTotals
	query := r.db.Rebind(`
		SELECT
			COALESCE(SUM(sent_count), 0)       AS sent_count,
			COALESCE(SUM(open_count), 0)       AS open_count,
			COALESCE(SUM(click_count), 0)      AS click_count,
			COALESCE(SUM(conversion_count), 0) AS conversion_count,
			COALESCE(SUM(revenue), 0)          AS revenue
		FROM campaigns
		WHERE COALESCE(send_time, created_at) >= ? AND COALESCE(send_time, created_at) <= ?
	`)
	err := r.db.run(ctx, "campaigns.engagement_totals", func() error {
		return r.db.GetContext(ctx, &t, query, start.UTC(), end.UTC())
	})
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// updateEntityMetrics applies a partial counter patch to any of the
// marketing entity tables; nil patch fields are left untouched.
func updateEntityMetrics(ctx context.Context, db *DB, table, id string, patch models.MetricsPatch) error {
	if patch.IsZero() {
		return nil
	}

	sets := make([]string, 0, 6)
	args := make([]any, 0, 7)
	if patch.SentCount != nil {
		sets = append(sets, "sent_count = ?")
		args = append(args, *patch.SentCount)
	}
	if patch.OpenCount != nil {
		sets = append(sets, "open_count = ?")
		args = append(args, *patch.OpenCount)
	}
	if patch.ClickCount != nil {
		sets = append(sets, "click_count = ?")
		args = append(args, *patch.ClickCount)
	}
	if patch.ConversionCount != nil {
		sets = append(sets, "conversion_count = ?")
		args = append(args, *patch.ConversionCount)
	}
	if patch.Revenue != nil {
		sets = append(sets, "revenue = ?")
		args = append(args, *patch.Revenue)
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, now())
	args = append(args, id)

	query := db.Rebind(fmt.Sprintf(`UPDATE %s SET %s WHERE id = ?`, table, strings.Join(sets, ", ")))
	return db.run(ctx, table+".update_metrics", func() error {
		res, err := db.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return fmt.Errorf("%s %s: %w", strings.TrimSuffix(table, "s"), id, ErrNotFound)
		}
		return nil
	})
}
