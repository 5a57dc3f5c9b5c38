package repository

import (
	"context"
	"time"

	"github.com/Kbediako/klaviyo-analytics-dashboard-sub002/internal/models"
)

type rawResponseRepository struct {
	db *DB
}

// NewRawResponseRepository returns the raw-response audit repository.
func NewRawResponseRepository(db *DB) RawResponseRepository {
	return &rawResponseRepository{db: db}
}

func (r *rawResponseRepository) Insert(ctx context.Context, resp *models.RawAPIResponse) error {
	if resp.ReceivedAt.IsZero() {
		resp.ReceivedAt = now()
	}
	query := r.db.Rebind(`
		INSERT INTO raw_api_responses (endpoint, payload, api_version, received_at)
		VALUES (?, ?, ?, ?)
	`)
	return r.db.run(ctx, "raw_responses.insert", func() error {
		_, err := r.db.ExecContext(ctx, query,
			resp.Endpoint, jsonOrEmpty(resp.Payload), resp.APIVersion, resp.ReceivedAt.UTC())
		return err
	})
}

func (r *rawResponseRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	var deleted int64
	query := r.db.Rebind(`DELETE FROM raw_api_responses WHERE received_at < ?`)
	err := r.db.run(ctx, "raw_responses.prune", func() error {
		res, err := r.db.ExecContext(ctx, query, cutoff.UTC())
		if err != nil {
			return err
		}
		deleted, _ = res.RowsAffected()
		return nil
	})
	return deleted, err
}
