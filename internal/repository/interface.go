package repository

import (
	"context"
	"errors"
	"time"

	"github.com/Kbediako/klaviyo-analytics-dashboard-sub002/internal/models"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// MetricRepository defines metric data access methods.
type MetricRepository interface {
	FindByID(ctx context.Context, id string) (*models.Metric, error)
	FindByName(ctx context.Context, prefix string) ([]*models.Metric, error)
	FindByDateRange(ctx context.Context, start, end time.Time) ([]*models.Metric, error)
	FindAll(ctx context.Context, limit, offset int) ([]*models.Metric, error)
	Create(ctx context.Context, m *models.Metric) error
	CreateOrUpdate(ctx context.Context, m *models.Metric) error
	CreateBatch(ctx context.Context, ms []*models.Metric) error
	Delete(ctx context.Context, id string) error
	FindUpdatedSince(ctx context.Context, ts time.Time) ([]*models.Metric, error)
	GetLatestUpdateTimestamp(ctx context.Context) (time.Time, error)
}

// ProfileRepository defines profile data access methods.
type ProfileRepository interface {
	FindByID(ctx context.Context, id string) (*models.Profile, error)
	FindByName(ctx context.Context, prefix string) ([]*models.Profile, error)
	FindByEmail(ctx context.Context, email string) (*models.Profile, error)
	FindByDateRange(ctx context.Context, start, end time.Time) ([]*models.Profile, error)
	FindAll(ctx context.Context, limit, offset int) ([]*models.Profile, error)
	Create(ctx context.Context, p *models.Profile) error
	CreateOrUpdate(ctx context.Context, p *models.Profile) error
	CreateBatch(ctx context.Context, ps []*models.Profile) error
	Delete(ctx context.Context, id string) error
	FindUpdatedSince(ctx context.Context, ts time.Time) ([]*models.Profile, error)
	GetLatestUpdateTimestamp(ctx context.Context) (time.Time, error)
	AdvanceLastEvent(ctx context.Context, id string, eventAt time.Time) error
	Count(ctx context.Context) (int64, error)
}

// EventRepository defines event data access methods. Events are
// append-only; Delete exists for retention pruning only.
type EventRepository interface {
	FindByID(ctx context.Context, id string) (*models.Event, error)
	FindAll(ctx context.Context, limit, offset int) ([]*models.Event, error)
	Create(ctx context.Context, e *models.Event) error
	CreateOrUpdate(ctx context.Context, e *models.Event) error
	CreateBatch(ctx context.Context, es []*models.Event) error
	Delete(ctx context.Context, id string) error
	FindByMetricID(ctx context.Context, metricID string, limit, offset int) ([]*models.Event, error)
	FindByProfileID(ctx context.Context, profileID string, limit, offset int) ([]*models.Event, error)
	FindByTimeRange(ctx context.Context, start, end time.Time, metricID string) ([]*models.Event, error)
	GetCountByMetricID(ctx context.Context, metricID string, start, end time.Time) (int64, error)
	GetSumByMetricID(ctx context.Context, metricID string, start, end time.Time) (float64, error)
	GetLatestTimestamp(ctx context.Context) (time.Time, error)
	BucketSeries(ctx context.Context, metricID string, start, end time.Time, bucket time.Duration) ([]models.TimeSeriesPoint, error)
	BucketAggregates(ctx context.Context, metricID string, start, end time.Time, bucketSize string) ([]*models.AggregatedMetric, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// AggregateRepository defines pre-computed bucket summary access.
type AggregateRepository interface {
	StoreAggregatedMetrics(ctx context.Context, aggs []*models.AggregatedMetric) error
	GetStoredAggregatedMetrics(ctx context.Context, metricID, bucketSize string, start, end time.Time) ([]*models.AggregatedMetric, error)
	CoversRange(ctx context.Context, metricID, bucketSize string, start, end time.Time) (bool, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// CampaignRepository defines campaign data access methods.
type CampaignRepository interface {
	FindByID(ctx context.Context, id string) (*models.Campaign, error)
	FindByStatus(ctx context.Context, status string) ([]*models.Campaign, error)
	FindByName(ctx context.Context, prefix string) ([]*models.Campaign, error)
	FindByDateRange(ctx context.Context, start, end time.Time) ([]*models.Campaign, error)
	FindAll(ctx context.Context, limit, offset int) ([]*models.Campaign, error)
	Create(ctx context.Context, c *models.Campaign) error
	CreateOrUpdate(ctx context.Context, c *models.Campaign) error
	CreateBatch(ctx context.Context, cs []*models.Campaign) error
	Delete(ctx context.Context, id string) error
	FindUpdatedSince(ctx context.Context, ts time.Time) ([]*models.Campaign, error)
	GetLatestUpdateTimestamp(ctx context.Context) (time.Time, error)
	UpdateMetrics(ctx context.Context, id string, patch models.MetricsPatch) error
	CountByStatus(ctx context.Context, status string) (int64, error)
	CountInRange(ctx context.Context, start, end time.Time) (int64, error)
	EngagementTotals(ctx context.Context, start, end time.Time) (*models.EngagementTotals, error)
}

// FlowRepository defines flow data access methods.
type FlowRepository interface {
	FindByID(ctx context.Context, id string) (*models.Flow, error)
	FindByStatus(ctx context.Context, status string) ([]*models.Flow, error)
	FindByName(ctx context.Context, prefix string) ([]*models.Flow, error)
	FindByDateRange(ctx context.Context, start, end time.Time) ([]*models.Flow, error)
	FindAll(ctx context.Context, limit, offset int) ([]*models.Flow, error)
	Create(ctx context.Context, f *models.Flow) error
	CreateOrUpdate(ctx context.Context, f *models.Flow) error
	CreateBatch(ctx context.Context, fs []*models.Flow) error
	Delete(ctx context.Context, id string) error
	FindUpdatedSince(ctx context.Context, ts time.Time) ([]*models.Flow, error)
	GetLatestUpdateTimestamp(ctx context.Context) (time.Time, error)
	UpdateMetrics(ctx context.Context, id string, patch models.MetricsPatch) error
	CountByStatus(ctx context.Context, status string) (int64, error)
}

// FormRepository defines form data access methods.
type FormRepository interface {
	FindByID(ctx context.Context, id string) (*models.Form, error)
	FindByStatus(ctx context.Context, status string) ([]*models.Form, error)
	FindByName(ctx context.Context, prefix string) ([]*models.Form, error)
	FindByDateRange(ctx context.Context, start, end time.Time) ([]*models.Form, error)
	FindAll(ctx context.Context, limit, offset int) ([]*models.Form, error)
	Create(ctx context.Context, f *models.Form) error
	CreateOrUpdate(ctx context.Context, f *models.Form) error
	CreateBatch(ctx context.Context, fs []*models.Form) error
	Delete(ctx context.Context, id string) error
	FindUpdatedSince(ctx context.Context, ts time.Time) ([]*models.Form, error)
	GetLatestUpdateTimestamp(ctx context.Context) (time.Time, error)
	UpdateMetrics(ctx context.Context, id string, patch models.MetricsPatch) error
}

// SegmentRepository defines segment data access methods.
type SegmentRepository interface {
	FindByID(ctx context.Context, id string) (*models.Segment, error)
	FindByStatus(ctx context.Context, status string) ([]*models.Segment, error)
	FindByName(ctx context.Context, prefix string) ([]*models.Segment, error)
	FindByDateRange(ctx context.Context, start, end time.Time) ([]*models.Segment, error)
	FindAll(ctx context.Context, limit, offset int) ([]*models.Segment, error)
	Create(ctx context.Context, s *models.Segment) error
	CreateOrUpdate(ctx context.Context, s *models.Segment) error
	CreateBatch(ctx context.Context, ss []*models.Segment) error
	Delete(ctx context.Context, id string) error
	FindUpdatedSince(ctx context.Context, ts time.Time) ([]*models.Segment, error)
	GetLatestUpdateTimestamp(ctx context.Context) (time.Time, error)
	UpdateMetrics(ctx context.Context, id string, patch models.MetricsPatch) error
}

// SyncStatusRepository tracks per-entity-type sync state.
type SyncStatusRepository interface {
	Get(ctx context.Context, entityType string) (*models.SyncStatus, error)
	GetAll(ctx context.Context) ([]*models.SyncStatus, error)
	MarkRunning(ctx context.Context, entityType string, startedAt time.Time) error
	MarkSucceeded(ctx context.Context, entityType string, watermark *time.Time, recordCount int64) error
	MarkFailed(ctx context.Context, entityType string, errMsg string) error
}

// RawResponseRepository stores upstream payload captures.
type RawResponseRepository interface {
	Insert(ctx context.Context, r *models.RawAPIResponse) error
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Repositories aggregates all repositories over one pool.
type Repositories struct {
	DB          *DB
	Metrics     MetricRepository
	Profiles    ProfileRepository
	Events      EventRepository
	Aggregates  AggregateRepository
	Campaigns   CampaignRepository
	Flows       FlowRepository
	Forms       FormRepository
	Segments    SegmentRepository
	SyncStatus  SyncStatusRepository
	RawResponse RawResponseRepository
}

// New wires every repository over the shared pool.
func New(db *DB) *Repositories {
	return &Repositories{
		DB:          db,
		Metrics:     NewMetricRepository(db),
		Profiles:    NewProfileRepository(db),
		Events:      NewEventRepository(db),
		Aggregates:  NewAggregateRepository(db),
		Campaigns:   NewCampaignRepository(db),
		Flows:       NewFlowRepository(db),
		Forms:       NewFormRepository(db),
		Segments:    NewSegmentRepository(db),
		SyncStatus:  NewSyncStatusRepository(db),
		RawResponse: NewRawResponseRepository(db),
	}
}
