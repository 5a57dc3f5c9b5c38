package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Kbediako/klaviyo-analytics-dashboard-sub002/internal/models"
)

type syncStatusRepository struct {
	db *DB
}

// NewSyncStatusRepository returns the sync-status repository over db.
// Rows for every entity type are seeded by the initial migration.
func NewSyncStatusRepository(db *DB) SyncStatusRepository {
	return &syncStatusRepository{db: db}
}

func (r *syncStatusRepository) Get(ctx context.Context, entityType string) (*models.SyncStatus, error) {
	var s models.SyncStatus
	err := r.db.run(ctx, "sync_status.get", func() error {
		return r.db.GetContext(ctx, &s, r.db.Rebind(`SELECT * FROM sync_status WHERE entity_type = ?`), entityType)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("sync status for %s: %w", entityType, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *syncStatusRepository) GetAll(ctx context.Context) ([]*models.SyncStatus, error) {
	var ss []*models.SyncStatus
	err := r.db.run(ctx, "sync_status.get_all", func() error {
		return r.db.SelectContext(ctx, &ss, `SELECT * FROM sync_status ORDER BY entity_type ASC`)
	})
	return ss, err
}

func (r *syncStatusRepository) MarkRunning(ctx context.Context, entityType string, startedAt time.Time) error {
	query := r.db.Rebind(`
		UPDATE sync_status
		SET status = ?, last_sync_started_at = ?, error_message = NULL, updated_at = ?
		WHERE entity_type = ?
	`)
	return r.db.run(ctx, "sync_status.mark_running", func() error {
		_, err := r.db.ExecContext(ctx, query, models.SyncStatusRunning, startedAt.UTC(), now(), entityType)
		return err
	})
}

// MarkSucceeded records a completed run. The watermark only moves
// forward; a nil or older candidate leaves the stored value in place.
func (r *syncStatusRepository) MarkSucceeded(ctx context.Context, entityType string, watermark *time.Time, recordCount int64) error {
	if watermark == nil {
		query := r.db.Rebind(`
			UPDATE sync_status
			SET status = ?, last_sync_completed_at = ?, record_count = ?, error_message = NULL, updated_at = ?
			WHERE entity_type = ?
		`)
		return r.db.run(ctx, "sync_status.mark_succeeded", func() error {
			_, err := r.db.ExecContext(ctx, query,
				models.SyncStatusSucceeded, now(), recordCount, now(), entityType)
			return err
		})
	}

	wm := watermark.UTC()
	query := r.db.Rebind(`
		UPDATE sync_status
		SET status                 = ?,
		    last_sync_completed_at = ?,
		    last_watermark         = CASE
		        WHEN last_watermark IS NULL OR last_watermark < ? THEN ?
		        ELSE last_watermark
		    END,
		    record_count  = ?,
		    error_message = NULL,
		    updated_at    = ?
		WHERE entity_type = ?
	`)
	return r.db.run(ctx, "sync_status.mark_succeeded", func() error {
		_, err := r.db.ExecContext(ctx, query,
			models.SyncStatusSucceeded, now(), wm, wm, recordCount, now(), entityType)
		return err
	})
}

func (r *syncStatusRepository) MarkFailed(ctx context.Context, entityType string, errMsg string) error {
	query := r.db.Rebind(`
		UPDATE sync_status
		SET status = ?, last_sync_completed_at = ?, error_message = ?, updated_at = ?
		WHERE entity_type = ?
	`)
	return r.db.run(ctx, "sync_status.mark_failed", func() error {
		_, err := r.db.ExecContext(ctx, query, models.SyncStatusFailed, now(), errMsg, now(), entityType)
		return err
	})
}
