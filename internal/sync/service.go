// Package sync pulls upstream marketing data into the local store.
// Each entity type runs as an independent, watermark-driven job;
// pages commit one transaction at a time so a failed run never
// advances past data it actually wrote.
package sync

import (
	"context"
	"errors"
	"fmt"
	stdsync "sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Kbediako/klaviyo-analytics-dashboard-sub002/internal/config"
	"github.com/Kbediako/klaviyo-analytics-dashboard-sub002/internal/klaviyo"
	"github.com/Kbediako/klaviyo-analytics-dashboard-sub002/internal/models"
	"github.com/Kbediako/klaviyo-analytics-dashboard-sub002/internal/pkg/metrics"
	"github.com/Kbediako/klaviyo-analytics-dashboard-sub002/internal/repository"
)

// Per-entity upstream paths and incremental filter fields. The
// upstream names the update timestamp inconsistently across resource
// families; events filter on occurrence time instead.
var (
	entityPaths = map[string]string{
		"metrics":   "/metrics",
		"campaigns": "/campaigns",
		"flows":     "/flows",
		"forms":     "/forms",
		"segments":  "/segments",
		"profiles":  "/profiles",
		"events":    "/events",
	}
	updatedFields = map[string]string{
		"metrics":   "updated",
		"campaigns": "updated_at",
		"flows":     "updated",
		"forms":     "updated_at",
		"segments":  "updated",
		"profiles":  "updated",
		"events":    "datetime",
	}
)

// upstream is the slice of the API client the orchestrator uses.
type upstream interface {
	GetPaginated(ctx context.Context, path string, params klaviyo.Params, fn func(*klaviyo.Response) error) error
	DefaultPageSize() int
}

// Options controls a sync trigger. Since overrides the stored
// watermark; Force resets it to the epoch. Entities narrows SyncAll.
type Options struct {
	Force    bool
	Since    *time.Time
	Entities []string
}

// Service orchestrates per-entity sync jobs against the upstream API.
type Service struct {
	client upstream
	repos  *repository.Repositories
	cfg    config.SyncConfig
	log    *zap.Logger
	clk    clock.Clock
	leases *leaseMap

	hookMu stdsync.Mutex
	hooks  []func(models.SyncStatusEvent)
}

// Option customizes the service.
type Option func(*Service)

// WithClock injects a clock, used by tests.
func WithClock(clk clock.Clock) Option {
	return func(s *Service) { s.clk = clk }
}

// NewService builds the sync orchestrator.
func NewService(client upstream, repos *repository.Repositories, cfg config.SyncConfig, log *zap.Logger, opts ...Option) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Service{
		client: client,
		repos:  repos,
		cfg:    cfg,
		log:    log,
		clk:    clock.New(),
		leases: newLeaseMap(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OnComplete registers a hook invoked on every sync state transition
// (running, succeeded, failed). Hooks run synchronously after the
// status row commits, so cache invalidation observes final data.
func (s *Service) OnComplete(fn func(models.SyncStatusEvent)) {
	s.hookMu.Lock()
	s.hooks = append(s.hooks, fn)
	s.hookMu.Unlock()
}

func (s *Service) notify(ev models.SyncStatusEvent) {
	s.hookMu.Lock()
	hooks := append([]func(models.SyncStatusEvent){}, s.hooks...)
	s.hookMu.Unlock()
	for _, fn := range hooks {
		fn(ev)
	}
}

// Sync runs one entity type's sync job to completion. Concurrent
// triggers for the same entity are rejected with ErrSyncInProgress.
func (s *Service) Sync(ctx context.Context, entity string, opts Options) (models.EntitySyncResult, error) {
	if _, ok := entityPaths[entity]; !ok {
		return models.EntitySyncResult{}, fmt.Errorf("unknown entity type %q", entity)
	}

	release, err := s.leases.tryAcquire(entity)
	if err != nil {
		metrics.SyncRunsTotal.WithLabelValues(entity, "skipped").Inc()
		s.log.Info("sync trigger dropped, job already running", zap.String("entity", entity))
		return models.EntitySyncResult{Error: err.Error()}, err
	}
	defer release()

	if s.cfg.AdvisoryLocks {
		unlock, err := tryAdvisoryLock(ctx, s.repos.DB, entity)
		if err != nil {
			if errors.Is(err, ErrSyncInProgress) {
				metrics.SyncRunsTotal.WithLabelValues(entity, "skipped").Inc()
			}
			return models.EntitySyncResult{Error: err.Error()}, err
		}
		defer unlock()
	}

	ctx, cancel := context.WithTimeout(ctx, s.jobTimeout())
	defer cancel()

	started := s.clk.Now().UTC()
	if err := s.repos.SyncStatus.MarkRunning(ctx, entity, started); err != nil {
		return models.EntitySyncResult{Error: err.Error()}, err
	}
	s.notify(models.SyncStatusEvent{
		Type: "sync_status", EntityType: entity,
		Status: models.SyncStatusRunning, Timestamp: started,
	})

	start, end, err := s.window(ctx, entity, opts)
	var (
		count     int64
		watermark time.Time
	)
	if err == nil {
		count, watermark, err = s.runEntity(ctx, entity, start, end)
	}
	elapsed := s.clk.Now().Sub(started)
	metrics.SyncDurationSeconds.WithLabelValues(entity).Observe(elapsed.Seconds())
	result := models.EntitySyncResult{Count: count, DurationMs: elapsed.Milliseconds()}

	if err != nil {
		// The job context may already be dead; the status write must
		// still land.
		bg := context.WithoutCancel(ctx)
		if mErr := s.repos.SyncStatus.MarkFailed(bg, entity, err.Error()); mErr != nil {
			s.log.Error("failed to record sync failure", zap.String("entity", entity), zap.Error(mErr))
		}
		metrics.SyncRunsTotal.WithLabelValues(entity, "failure").Inc()
		s.log.Error("sync failed",
			zap.String("entity", entity), zap.Int64("rows", count),
			zap.Duration("elapsed", elapsed), zap.Error(err))
		s.notify(models.SyncStatusEvent{
			Type: "sync_status", EntityType: entity,
			Status: models.SyncStatusFailed, RecordCount: count, Timestamp: s.clk.Now().UTC(),
		})
		result.Error = err.Error()
		return result, err
	}

	var wmPtr *time.Time
	if !watermark.IsZero() {
		wmPtr = &watermark
	}
	if err := s.repos.SyncStatus.MarkSucceeded(ctx, entity, wmPtr, count); err != nil {
		result.Error = err.Error()
		return result, err
	}
	metrics.SyncRunsTotal.WithLabelValues(entity, "success").Inc()
	metrics.SyncRowsTotal.WithLabelValues(entity).Add(float64(count))
	s.log.Info("sync completed",
		zap.String("entity", entity), zap.Int64("rows", count),
		zap.Duration("elapsed", elapsed), zap.Timep("watermark", wmPtr))
	s.notify(models.SyncStatusEvent{
		Type: "sync_status", EntityType: entity,
		Status: models.SyncStatusSucceeded, RecordCount: count,
		Watermark: wmPtr, Timestamp: s.clk.Now().UTC(),
	})

	result.OK = true
	return result, nil
}

// SyncAll fans out across entity types with bounded concurrency.
// Individual failures are reported per entity, never cancel siblings.
func (s *Service) SyncAll(ctx context.Context, opts Options) *models.SyncAllResult {
	entities := opts.Entities
	if len(entities) == 0 {
		entities = config.EntityTypes
	}

	limit := s.cfg.MaxParallel
	if limit <= 0 || limit > 4 {
		limit = 4
	}

	var (
		mu  stdsync.Mutex
		per = make(map[string]models.EntitySyncResult, len(entities))
	)
	g := new(errgroup.Group)
	g.SetLimit(limit)
	for _, entity := range entities {
		g.Go(func() error {
			res, err := s.Sync(ctx, entity, opts)
			if err != nil && res.Error == "" {
				res.Error = err.Error()
			}
			mu.Lock()
			per[entity] = res
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	success := true
	for _, res := range per {
		if !res.OK {
			success = false
		}
	}
	return &models.SyncAllResult{Success: success, PerEntity: per}
}

// Status serves GET /sync/status rows.
func (s *Service) Status(ctx context.Context) ([]models.SyncStatusRow, error) {
	statuses, err := s.repos.SyncStatus.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	rows := make([]models.SyncStatusRow, len(statuses))
	for i, st := range statuses {
		rows[i] = models.SyncStatusRow{
			EntityType:   st.EntityType,
			LastSyncTime: st.LastSyncCompletedAt,
			Status:       st.Status,
			RecordCount:  st.RecordCount,
			Success:      st.Status == models.SyncStatusSucceeded,
		}
		if st.ErrorMessage != nil {
			rows[i].ErrorMessage = *st.ErrorMessage
		}
	}
	return rows, nil
}

// window computes the incremental fetch bounds. The upper bound backs
// off by the clock-skew margin so in-flight upstream writes with
// slightly stale timestamps are not skipped forever.
func (s *Service) window(ctx context.Context, entity string, opts Options) (time.Time, time.Time, error) {
	now := s.clk.Now().UTC()
	end := now.Add(-s.clockSkew())

	var start time.Time
	switch {
	case opts.Since != nil:
		start = opts.Since.UTC()
	case opts.Force:
		start = time.Unix(0, 0).UTC()
	default:
		status, err := s.repos.SyncStatus.Get(ctx, entity)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return time.Time{}, time.Time{}, err
		}
		if status != nil && status.LastWatermark != nil {
			start = status.LastWatermark.UTC()
			if entity == "events" {
				start = start.Add(-s.overlap())
			}
		} else {
			start = now.AddDate(0, 0, -s.lookbackDays())
		}
	}
	return start, end, nil
}

func (s *Service) runEntity(ctx context.Context, entity string, start, end time.Time) (int64, time.Time, error) {
	now := s.clk.Now().UTC()
	path := entityPaths[entity]
	params := s.pageParams(updatedFields[entity], start, end)

	switch entity {
	case "metrics":
		return syncPages(ctx, s, path, params,
			func(res klaviyo.Resource) (*models.Metric, time.Time, error) { return metricFromResource(res, now) },
			s.repos.Metrics.CreateBatch, nil)
	case "campaigns":
		return syncPages(ctx, s, path, params,
			func(res klaviyo.Resource) (*models.Campaign, time.Time, error) { return campaignFromResource(res, now) },
			s.repos.Campaigns.CreateBatch, nil)
	case "flows":
		return syncPages(ctx, s, path, params,
			func(res klaviyo.Resource) (*models.Flow, time.Time, error) { return flowFromResource(res, now) },
			s.repos.Flows.CreateBatch, nil)
	case "forms":
		return syncPages(ctx, s, path, params,
			func(res klaviyo.Resource) (*models.Form, time.Time, error) { return formFromResource(res, now) },
			s.repos.Forms.CreateBatch, nil)
	case "segments":
		return syncPages(ctx, s, path, params,
			func(res klaviyo.Resource) (*models.Segment, time.Time, error) { return segmentFromResource(res, now) },
			s.repos.Segments.CreateBatch, nil)
	case "profiles":
		return syncPages(ctx, s, path, params,
			func(res klaviyo.Resource) (*models.Profile, time.Time, error) { return profileFromResource(res, now) },
			s.repos.Profiles.CreateBatch, nil)
	case "events":
		params.Include = []string{"metric", "profile"}
		return syncPages(ctx, s, path, params,
			func(res klaviyo.Resource) (*models.Event, time.Time, error) { return eventFromResource(res) },
			s.storeEvents, s.ingestIncluded)
	default:
		return 0, time.Time{}, fmt.Errorf("unknown entity type %q", entity)
	}
}

// syncPages streams upstream pages through transform and store. The
// watermark only advances past pages whose store call succeeded, so a
// mid-run failure re-fetches uncommitted data on the next run.
func syncPages[T any](ctx context.Context, s *Service, path string, params klaviyo.Params,
	transform func(klaviyo.Resource) (T, time.Time, error),
	store func(context.Context, []T) error,
	beforeStore func(context.Context, *klaviyo.Response) error,
) (int64, time.Time, error) {
	var (
		count     int64
		watermark time.Time
	)
	err := s.client.GetPaginated(ctx, path, params, func(resp *klaviyo.Response) error {
		if beforeStore != nil {
			if err := beforeStore(ctx, resp); err != nil {
				return err
			}
		}

		rows := make([]T, 0, len(resp.Data))
		var pageMax time.Time
		for _, res := range resp.Data {
			row, updated, err := transform(res)
			if err != nil {
				s.log.Warn("skipping malformed upstream resource",
					zap.String("path", path), zap.String("resource_id", res.ID), zap.Error(err))
				continue
			}
			rows = append(rows, row)
			if updated.After(pageMax) {
				pageMax = updated
			}
		}
		if len(rows) == 0 {
			return nil
		}
		if err := store(ctx, rows); err != nil {
			return err
		}
		count += int64(len(rows))
		if pageMax.After(watermark) {
			watermark = pageMax
		}
		return nil
	})
	return count, watermark, err
}

// ingestIncluded upserts sideloaded metric and profile resources
// before the event rows that reference them.
func (s *Service) ingestIncluded(ctx context.Context, resp *klaviyo.Response) error {
	now := s.clk.Now().UTC()
	var (
		ms []*models.Metric
		ps []*models.Profile
	)
	for _, res := range resp.Included {
		switch res.Type {
		case "metric":
			m, _, err := metricFromResource(res, now)
			if err != nil {
				s.log.Warn("skipping malformed included metric", zap.String("resource_id", res.ID), zap.Error(err))
				continue
			}
			ms = append(ms, m)
		case "profile":
			p, _, err := profileFromResource(res, now)
			if err != nil {
				s.log.Warn("skipping malformed included profile", zap.String("resource_id", res.ID), zap.Error(err))
				continue
			}
			ps = append(ps, p)
		}
	}
	if len(ms) > 0 {
		if err := s.repos.Metrics.CreateBatch(ctx, ms); err != nil {
			return err
		}
	}
	if len(ps) > 0 {
		if err := s.repos.Profiles.CreateBatch(ctx, ps); err != nil {
			return err
		}
	}
	return nil
}

// storeEvents writes an event page and advances each touched
// profile's last-event marker.
func (s *Service) storeEvents(ctx context.Context, events []*models.Event) error {
	if err := s.repos.Events.CreateBatch(ctx, events); err != nil {
		return err
	}

	latest := make(map[string]time.Time, len(events))
	for _, ev := range events {
		if ev.ProfileID == "" {
			continue
		}
		if ev.Timestamp.After(latest[ev.ProfileID]) {
			latest[ev.ProfileID] = ev.Timestamp
		}
	}
	for profileID, ts := range latest {
		if err := s.repos.Profiles.AdvanceLastEvent(ctx, profileID, ts); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) pageParams(field string, start, end time.Time) klaviyo.Params {
	return klaviyo.Params{
		Filters: []klaviyo.Filter{
			klaviyo.GreaterOrEqual(field, start),
			klaviyo.LessOrEqual(field, end),
		},
		Sort: []string{field},
		Page: klaviyo.Page{Size: s.client.DefaultPageSize()},
	}
}

func (s *Service) jobTimeout() time.Duration {
	if s.cfg.JobTimeoutMin > 0 {
		return time.Duration(s.cfg.JobTimeoutMin) * time.Minute
	}
	return 10 * time.Minute
}

func (s *Service) clockSkew() time.Duration {
	if s.cfg.ClockSkewSec > 0 {
		return time.Duration(s.cfg.ClockSkewSec) * time.Second
	}
	return time.Minute
}

func (s *Service) overlap() time.Duration {
	if s.cfg.OverlapMin > 0 {
		return time.Duration(s.cfg.OverlapMin) * time.Minute
	}
	return time.Hour
}

func (s *Service) lookbackDays() int {
	if s.cfg.LookbackDays > 0 {
		return s.cfg.LookbackDays
	}
	return 90
}
