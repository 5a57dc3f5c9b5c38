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

type profileRepository struct {
	db *DB
}

// NewProfileRepository returns the profile repository over db.
func NewProfileRepository(db *DB) ProfileRepository {
	return &profileRepository{db: db}
}

const upsertProfileSQL = `
	INSERT INTO profiles (id, email, phone, external_id, first_name, last_name, properties, last_event_at, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (id) DO UPDATE SET
		email       = excluded.email,
		phone       = excluded.phone,
		external_id = excluded.external_id,
		first_name  = excluded.first_name,
		last_name   = excluded.last_name,
		properties  = excluded.properties,
		updated_at  = excluded.updated_at
`

func profileArgs(p *models.Profile) []any {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now()
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = now()
	}
	var lastEvent any
	if p.LastEventAt != nil {
		lastEvent = p.LastEventAt.UTC()
	}
	return []any{
		p.ID, p.Email, p.Phone, p.ExternalID, p.FirstName, p.LastName,
		jsonOrEmpty(p.Properties), lastEvent, p.CreatedAt.UTC(), p.UpdatedAt.UTC(),
	}
}

func (r *profileRepository) FindByID(ctx context.Context, id string) (*models.Profile, error) {
	var p models.Profile
	err := r.db.run(ctx, "profiles.find_by_id", func() error {
		return r.db.GetContext(ctx, &p, r.db.Rebind(`SELECT * FROM profiles WHERE id = ?`), id)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("profile %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// FindByName prefix-matches first name, last name, or email.
func (r *profileRepository) FindByName(ctx context.Context, prefix string) ([]*models.Profile, error) {
	var ps []*models.Profile
	query := r.db.Rebind(`
		SELECT * FROM profiles
		WHERE first_name LIKE ? ESCAPE '\' OR last_name LIKE ? ESCAPE '\' OR email LIKE ? ESCAPE '\'
		ORDER BY email ASC
	`)
	pattern := likePrefix(prefix)
	err := r.db.run(ctx, "profiles.find_by_name", func() error {
		return r.db.SelectContext(ctx, &ps, query, pattern, pattern, pattern)
	})
	return ps, err
}

func (r *profileRepository) FindByEmail(ctx context.Context, email string) (*models.Profile, error) {
	var p models.Profile
	err := r.db.run(ctx, "profiles.find_by_email", func() error {
		return r.db.GetContext(ctx, &p, r.db.Rebind(`SELECT * FROM profiles WHERE email = ? LIMIT 1`), email)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("profile with email %s: %w", email, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *profileRepository) FindByDateRange(ctx context.Context, start, end time.Time) ([]*models.Profile, error) {
	var ps []*models.Profile
	query := r.db.Rebind(`SELECT * FROM profiles WHERE created_at >= ? AND created_at <= ? ORDER BY created_at DESC`)
	err := r.db.run(ctx, "profiles.find_by_date_range", func() error {
		return r.db.SelectContext(ctx, &ps, query, start.UTC(), end.UTC())
	})
	return ps, err
}

func (r *profileRepository) FindAll(ctx context.Context, limit, offset int) ([]*models.Profile, error) {
	if limit <= 0 {
		limit = 50
	}
	var ps []*models.Profile
	query := r.db.Rebind(`SELECT * FROM profiles ORDER BY created_at DESC LIMIT ? OFFSET ?`)
	err := r.db.run(ctx, "profiles.find_all", func() error {
		return r.db.SelectContext(ctx, &ps, query, limit, offset)
	})
	return ps, err
}

func (r *profileRepository) Create(ctx context.Context, p *models.Profile) error {
	query := r.db.Rebind(`
		INSERT INTO profiles (id, email, phone, external_id, first_name, last_name, properties, last_event_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	return r.db.run(ctx, "profiles.create", func() error {
		_, err := r.db.ExecContext(ctx, query, profileArgs(p)...)
		return err
	})
}

func (r *profileRepository) CreateOrUpdate(ctx context.Context, p *models.Profile) error {
	query := r.db.Rebind(upsertProfileSQL)
	return r.db.run(ctx, "profiles.upsert", func() error {
		_, err := r.db.ExecContext(ctx, query, profileArgs(p)...)
		return err
	})
}

func (r *profileRepository) CreateBatch(ctx context.Context, ps []*models.Profile) error {
	if len(ps) == 0 {
		return nil
	}
	query := r.db.Rebind(upsertProfileSQL)
	return r.db.run(ctx, "profiles.create_batch", func() error {
		return r.db.WithTx(ctx, func(tx *sqlx.Tx) error {
			for _, p := range ps {
				if _, err := tx.ExecContext(ctx, query, profileArgs(p)...); err != nil {
					return fmt.Errorf("profile batch of %d rolled back: %w", len(ps), err)
				}
			}
			return nil
		})
	})
}

func (r *profileRepository) Delete(ctx context.Context, id string) error {
	query := r.db.Rebind(`DELETE FROM profiles WHERE id = ?`)
	return r.db.run(ctx, "profiles.delete", func() error {
		_, err := r.db.ExecContext(ctx, query, id)
		return err
	})
}

func (r *profileRepository) FindUpdatedSince(ctx context.Context, ts time.Time) ([]*models.Profile, error) {
	var ps []*models.Profile
	query := r.db.Rebind(`SELECT * FROM profiles WHERE updated_at > ? ORDER BY updated_at ASC`)
	err := r.db.run(ctx, "profiles.find_updated_since", func() error {
		return r.db.SelectContext(ctx, &ps, query, ts.UTC())
	})
	return ps, err
}

func (r *profileRepository) GetLatestUpdateTimestamp(ctx context.Context) (time.Time, error) {
	var ts time.Time
	err := r.db.run(ctx, "profiles.latest_update", func() error {
		return r.db.GetContext(ctx, &ts, `SELECT updated_at FROM profiles ORDER BY updated_at DESC LIMIT 1`)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	return ts.UTC(), err
}

// AdvanceLastEvent moves last_event_at forward, never backward.
func (r *profileRepository) AdvanceLastEvent(ctx context.Context, id string, eventAt time.Time) error {
	query := r.db.Rebind(`
		UPDATE profiles SET last_event_at = ?
		WHERE id = ? AND (last_event_at IS NULL OR last_event_at < ?)
	`)
	return r.db.run(ctx, "profiles.advance_last_event", func() error {
		_, err := r.db.ExecContext(ctx, query, eventAt.UTC(), id, eventAt.UTC())
		return err
	})
}

func (r *profileRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.run(ctx, "profiles.count", func() error {
		return r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM profiles`)
	})
	return n, err
}
