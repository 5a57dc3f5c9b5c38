package sync

import (
	"context"
	"errors"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/Kbediako/klaviyo-analytics-dashboard-sub002/internal/config"
)

// Scheduler drives per-entity sync jobs on their configured cadence.
type Scheduler struct {
	cron *cron.Cron
	log  *zap.Logger
}

// NewScheduler registers a cron entry per entity type. An overlapping
// trigger finds the entity's lease held and is dropped, so cadences
// shorter than a run's duration are safe.
func NewScheduler(svc *Service, cfg config.SyncConfig, log *zap.Logger) (*Scheduler, error) {
	if log == nil {
		log = zap.NewNop()
	}
	c := cron.New()
	for entity, spec := range cfg.Schedules {
		if _, err := c.AddFunc(spec, runJob(svc, entity, log)); err != nil {
			return nil, fmt.Errorf("invalid cron spec %q for entity %s: %w", spec, entity, err)
		}
	}
	return &Scheduler{cron: c, log: log}, nil
}

func runJob(svc *Service, entity string, log *zap.Logger) func() {
	return func() {
		if _, err := svc.Sync(context.Background(), entity, Options{}); err != nil {
			if errors.Is(err, ErrSyncInProgress) {
				log.Info("scheduled sync skipped, previous run still active",
					zap.String("entity", entity))
				return
			}
			log.Error("scheduled sync failed", zap.String("entity", entity), zap.Error(err))
		}
	}
}

// Start begins firing scheduled jobs.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info("sync scheduler started", zap.Int("entries", len(s.cron.Entries())))
}

// Stop halts scheduling; the returned context is done once in-flight
// jobs finish.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
