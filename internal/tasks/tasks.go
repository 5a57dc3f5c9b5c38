// Package tasks runs the background maintenance jobs: rolling events
// up into aggregated_metrics and pruning data past its retention
// horizon.
package tasks

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/Kbediako/klaviyo-analytics-dashboard-sub002/internal/cache"
	"github.com/Kbediako/klaviyo-analytics-dashboard-sub002/internal/config"
	"github.com/Kbediako/klaviyo-analytics-dashboard-sub002/internal/models"
	"github.com/Kbediako/klaviyo-analytics-dashboard-sub002/internal/repository"
)

const (
	// How far back each aggregation pass recomputes buckets. Late
	// events inside this window get folded in on the next pass.
	aggregationLookback = 7 * 24 * time.Hour

	metricPageSize = 200
)

// Runner owns the periodic maintenance loops.
type Runner struct {
	repos *repository.Repositories
	cfg   config.AnalyticsConfig
	cache *cache.Cache
	log   *zap.Logger
	clk   clock.Clock
}

// Option customizes the runner.
type Option func(*Runner)

// WithClock injects a clock, used by tests.
func WithClock(clk clock.Clock) Option {
	return func(r *Runner) { r.clk = clk }
}

// NewRunner builds the maintenance runner. responseCache may be nil.
func NewRunner(repos *repository.Repositories, cfg config.AnalyticsConfig, responseCache *cache.Cache, log *zap.Logger, opts ...Option) *Runner {
	if log == nil {
		log = zap.NewNop()
	}
	r := &Runner{repos: repos, cfg: cfg, cache: responseCache, log: log, clk: clock.New()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run drives the aggregation and retention loops until ctx ends.
// Retention runs daily; aggregation per the configured cadence.
func (r *Runner) Run(ctx context.Context) {
	aggTicker := r.clk.Ticker(r.aggregationInterval())
	retTicker := r.clk.Ticker(24 * time.Hour)
	defer aggTicker.Stop()
	defer retTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-aggTicker.C:
			if r.cfg.AggregationEnabled {
				if err := r.RunAggregation(ctx); err != nil && ctx.Err() == nil {
					r.log.Error("aggregation pass failed", zap.Error(err))
				}
			}
		case <-retTicker.C:
			if err := r.RunRetention(ctx); err != nil && ctx.Err() == nil {
				r.log.Error("retention pass failed", zap.Error(err))
			}
		}
	}
}

// RunAggregation recomputes hour and day buckets over the recent
// window for every known metric. Whole buckets are replaced, so the
// pass is idempotent.
func (r *Runner) RunAggregation(ctx context.Context) error {
	now := r.clk.Now().UTC()
	start := now.Add(-aggregationLookback)
	var metricsSeen, bucketsWritten int

	for offset := 0; ; offset += metricPageSize {
		metrics, err := r.repos.Metrics.FindAll(ctx, metricPageSize, offset)
		if err != nil {
			return err
		}
		if len(metrics) == 0 {
			break
		}
		for _, m := range metrics {
			metricsSeen++
			for _, bucketSize := range []string{models.BucketHour, models.BucketDay} {
				aggs, err := r.repos.Events.BucketAggregates(ctx, m.ID, start, now, bucketSize)
				if err != nil {
					return err
				}
				if len(aggs) == 0 {
					continue
				}
				if err := r.repos.Aggregates.StoreAggregatedMetrics(ctx, aggs); err != nil {
					return err
				}
				bucketsWritten += len(aggs)
			}
		}
		if len(metrics) < metricPageSize {
			break
		}
	}

	if r.cache != nil && bucketsWritten > 0 {
		r.cache.Invalidate(ctx, cache.ClassAnalytics)
	}
	r.log.Info("aggregation pass complete",
		zap.Int("metrics", metricsSeen),
		zap.Int("buckets", bucketsWritten),
		zap.Duration("elapsed", r.clk.Now().Sub(now)))
	return nil
}

// RunRetention prunes events, aggregates and raw captures past their
// horizons.
func (r *Runner) RunRetention(ctx context.Context) error {
	now := r.clk.Now().UTC()

	events, err := r.repos.Events.DeleteOlderThan(ctx, now.AddDate(0, -r.eventsRetentionMonths(), 0))
	if err != nil {
		return err
	}
	aggs, err := r.repos.Aggregates.DeleteOlderThan(ctx, now.AddDate(0, -r.aggRetentionMonths(), 0))
	if err != nil {
		return err
	}
	raw, err := r.repos.RawResponse.DeleteOlderThan(ctx, now.AddDate(0, 0, -r.rawRetentionDays()))
	if err != nil {
		return err
	}

	r.log.Info("retention pass complete",
		zap.Int64("events_pruned", events),
		zap.Int64("aggregates_pruned", aggs),
		zap.Int64("raw_responses_pruned", raw))
	return nil
}

func (r *Runner) aggregationInterval() time.Duration {
	if r.cfg.AggregationIntervalMin > 0 {
		return time.Duration(r.cfg.AggregationIntervalMin) * time.Minute
	}
	return 15 * time.Minute
}

func (r *Runner) eventsRetentionMonths() int {
	if r.cfg.EventsRetentionMonths > 0 {
		return r.cfg.EventsRetentionMonths
	}
	return 12
}

func (r *Runner) aggRetentionMonths() int {
	if r.cfg.AggRetentionMonths > 0 {
		return r.cfg.AggRetentionMonths
	}
	return 24
}

func (r *Runner) rawRetentionDays() int {
	if r.cfg.RawRetentionDays > 0 {
		return r.cfg.RawRetentionDays
	}
	return 30
}
