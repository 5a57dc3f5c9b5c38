// Package cache provides the response cache behind the dashboard's
// GET endpoints: a TTL+LRU store (in-memory or Redis), singleflight
// coalescing of concurrent misses, entity-class invalidation and a
// bounded background write-back queue.
package cache

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Kbediako/klaviyo-analytics-dashboard-sub002/internal/config"
)

// Endpoint classes; each carries its own TTL and is invalidated as a
// unit when a sync run touches its underlying data.
const (
	ClassOverview   = "overview"
	ClassEntities   = "entities"
	ClassAnalytics  = "analytics"
	ClassSyncStatus = "sync_status"
)

// Store is a byte-value cache with per-entry TTLs and prefix
// invalidation. Implementations are safe for concurrent use.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)
	DeletePrefix(ctx context.Context, prefix string) int
	Close() error
}

// NewStore builds the configured backend: in-process LRU by default,
// Redis when cache.backend=redis.
func NewStore(cfg config.CacheConfig, log *zap.Logger) (Store, error) {
	switch cfg.Backend {
	case "", "memory":
		return newMemoryStore(cfg.MaxEntries, maxTTL(cfg)), nil
	case "redis":
		return newRedisStore(cfg, log)
	default:
		return nil, fmt.Errorf("unsupported cache backend %q", cfg.Backend)
	}
}

// classTTLs resolves per-class TTLs from config with the documented
// defaults: overview 5 min, entities 10 min, analytics 1 min, sync
// status 10 s.
func classTTLs(cfg config.CacheConfig) map[string]time.Duration {
	ttl := func(sec, def int) time.Duration {
		if sec > 0 {
			return time.Duration(sec) * time.Second
		}
		return time.Duration(def) * time.Second
	}
	return map[string]time.Duration{
		ClassOverview:   ttl(cfg.OverviewTTLSec, 300),
		ClassEntities:   ttl(cfg.EntitiesTTLSec, 600),
		ClassAnalytics:  ttl(cfg.AnalyticsTTLSec, 60),
		ClassSyncStatus: ttl(cfg.SyncStatusTTLSec, 10),
	}
}

func maxTTL(cfg config.CacheConfig) time.Duration {
	max := time.Duration(0)
	for _, ttl := range classTTLs(cfg) {
		if ttl > max {
			max = ttl
		}
	}
	return max
}
