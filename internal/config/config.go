// Package config loads and validates process configuration from YAML
// files and KLAVIYO_DASH_* environment variables.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type ServerConfig struct {
	Port               int      `mapstructure:"port"`
	AllowedOrigins     []string `mapstructure:"allowed_origins"`
	ReadTimeoutSec     int      `mapstructure:"read_timeout_sec"`
	WriteTimeoutSec    int      `mapstructure:"write_timeout_sec"`
	IdleTimeoutSec     int      `mapstructure:"idle_timeout_sec"`
	ShutdownTimeoutSec int      `mapstructure:"shutdown_timeout_sec"`
	SyncRatePerMin     int      `mapstructure:"sync_rate_per_min"` // per-IP limit on POST sync routes; 0 = disabled
}

type DatabaseConfig struct {
	Driver             string `mapstructure:"driver"` // postgres | sqlite
	URL                string `mapstructure:"url"`    // postgres connection string
	Path               string `mapstructure:"path"`   // sqlite file path
	MaxOpenConns       int    `mapstructure:"max_open_conns"`
	MaxIdleConns       int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetimeMin int    `mapstructure:"conn_max_lifetime_min"`
	StatementTimeoutMS int    `mapstructure:"statement_timeout_ms"`
	SlowQueryMS        int    `mapstructure:"slow_query_ms"`
	RetryAttempts      int    `mapstructure:"retry_attempts"` // transient-error retries per query
}

type KlaviyoConfig struct {
	APIKey             string  `mapstructure:"api_key"`
	BaseURL            string  `mapstructure:"base_url"`
	Revision           string  `mapstructure:"revision"`
	AuthScheme         string  `mapstructure:"auth_scheme"` // klaviyo-api-key | bearer
	PageSize           int     `mapstructure:"page_size"`
	MaxConcurrent      int     `mapstructure:"max_concurrent"`
	MinSpacingMS       int     `mapstructure:"min_spacing_ms"`
	MaxRetries         int     `mapstructure:"max_retries"`
	RetryBaseMS        int     `mapstructure:"retry_base_ms"`
	RetryFactor        float64 `mapstructure:"retry_factor"`
	RetryJitter        float64 `mapstructure:"retry_jitter"`
	AttemptTimeoutSec  int     `mapstructure:"attempt_timeout_sec"`
	TotalTimeoutSec    int     `mapstructure:"total_timeout_sec"`
	MaxPages           int     `mapstructure:"max_pages"`
	BreakerThreshold   int     `mapstructure:"breaker_threshold"`    // consecutive failures before the breaker opens
	BreakerCooldownSec int     `mapstructure:"breaker_cooldown_sec"` // open state duration
}

type SyncConfig struct {
	Enabled           bool              `mapstructure:"enabled"`
	Schedules         map[string]string `mapstructure:"schedules"` // entity type -> cron spec
	OverlapMin        int               `mapstructure:"overlap_min"`
	LookbackDays      int               `mapstructure:"lookback_days"`
	ClockSkewSec      int               `mapstructure:"clock_skew_sec"`
	JobTimeoutMin     int               `mapstructure:"job_timeout_min"`
	MaxParallel       int               `mapstructure:"max_parallel"`
	BatchSize         int               `mapstructure:"batch_size"`
	CaptureRaw        bool              `mapstructure:"capture_raw"`
	AdvisoryLocks     bool              `mapstructure:"advisory_locks"` // postgres only
}

type CacheConfig struct {
	Backend           string `mapstructure:"backend"` // memory | redis
	RedisAddr         string `mapstructure:"redis_addr"`
	RedisPassword     string `mapstructure:"redis_password"`
	RedisDB           int    `mapstructure:"redis_db"`
	MaxEntries        int    `mapstructure:"max_entries"`
	OverviewTTLSec    int    `mapstructure:"overview_ttl_sec"`
	EntitiesTTLSec    int    `mapstructure:"entities_ttl_sec"`
	AnalyticsTTLSec   int    `mapstructure:"analytics_ttl_sec"`
	SyncStatusTTLSec  int    `mapstructure:"sync_status_ttl_sec"`
	WriteBackWorkers  int    `mapstructure:"write_back_workers"`
	WriteBackQueueLen int    `mapstructure:"write_back_queue_len"`
}

type AnalyticsConfig struct {
	DefaultInterval        string `mapstructure:"default_interval"` // hour | day | week
	MaxPoints              int    `mapstructure:"max_points"`
	AggregationEnabled     bool   `mapstructure:"aggregation_enabled"`
	AggregationIntervalMin int    `mapstructure:"aggregation_interval_min"`
	EventsRetentionMonths  int    `mapstructure:"events_retention_months"`
	AggRetentionMonths     int    `mapstructure:"agg_retention_months"`
	RawRetentionDays       int    `mapstructure:"raw_retention_days"`
}

type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"` // json | console
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

type TracingConfig struct {
	Endpoint     string  `mapstructure:"endpoint"`
	Protocol     string  `mapstructure:"protocol"` // grpc | http
	SamplingRate float64 `mapstructure:"sampling_rate"`
}

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Klaviyo   KlaviyoConfig   `mapstructure:"klaviyo"`
	Sync      SyncConfig      `mapstructure:"sync"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Analytics AnalyticsConfig `mapstructure:"analytics"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
}

// EntityTypes lists the syncable entity types in default sync order:
// dimension entities first, then high-volume fact streams.
var EntityTypes = []string{"metrics", "campaigns", "flows", "forms", "segments", "profiles", "events"}

// IsEntityType reports whether name is a known syncable entity type.
func IsEntityType(name string) bool {
	for _, e := range EntityTypes {
		if e == name {
			return true
		}
	}
	return false
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("/etc/klaviyo-dashboard/")
	v.AddConfigPath("$HOME/.klaviyo-dashboard")
	v.AddConfigPath(".")

	setDefaults(v)

	v.SetEnvPrefix("KLAVIYO_DASH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found; using defaults and env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.read_timeout_sec", 15)
	v.SetDefault("server.write_timeout_sec", 30)
	v.SetDefault("server.idle_timeout_sec", 60)
	v.SetDefault("server.shutdown_timeout_sec", 30)
	v.SetDefault("server.sync_rate_per_min", 10)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.url", "")
	v.SetDefault("database.path", "./klaviyo-dashboard.db")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime_min", 5)
	v.SetDefault("database.statement_timeout_ms", 30000)
	v.SetDefault("database.slow_query_ms", 1000)
	v.SetDefault("database.retry_attempts", 3)

	v.SetDefault("klaviyo.api_key", "")
	v.SetDefault("klaviyo.base_url", "https://a.klaviyo.com/api")
	v.SetDefault("klaviyo.revision", "2024-10-15")
	v.SetDefault("klaviyo.auth_scheme", "klaviyo-api-key")
	v.SetDefault("klaviyo.page_size", 100)
	v.SetDefault("klaviyo.max_concurrent", 3)
	v.SetDefault("klaviyo.min_spacing_ms", 1000)
	v.SetDefault("klaviyo.max_retries", 5)
	v.SetDefault("klaviyo.retry_base_ms", 2000)
	v.SetDefault("klaviyo.retry_factor", 3)
	v.SetDefault("klaviyo.retry_jitter", 0.2)
	v.SetDefault("klaviyo.attempt_timeout_sec", 30)
	v.SetDefault("klaviyo.total_timeout_sec", 120)
	v.SetDefault("klaviyo.max_pages", 200)
	v.SetDefault("klaviyo.breaker_threshold", 5)
	v.SetDefault("klaviyo.breaker_cooldown_sec", 60)

	v.SetDefault("sync.enabled", true)
	v.SetDefault("sync.schedules", map[string]string{
		"metrics":   "0 1 * * *",
		"events":    "@hourly",
		"campaigns": "@every 3h",
		"flows":     "@every 6h",
		"forms":     "@every 6h",
		"segments":  "@every 6h",
		"profiles":  "0 2 * * *",
	})
	v.SetDefault("sync.overlap_min", 60)
	v.SetDefault("sync.lookback_days", 90)
	v.SetDefault("sync.clock_skew_sec", 60)
	v.SetDefault("sync.job_timeout_min", 10)
	v.SetDefault("sync.max_parallel", 4)
	v.SetDefault("sync.batch_size", 500)
	v.SetDefault("sync.capture_raw", false)
	v.SetDefault("sync.advisory_locks", false)

	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.redis_addr", "localhost:6379")
	v.SetDefault("cache.redis_password", "")
	v.SetDefault("cache.redis_db", 0)
	v.SetDefault("cache.max_entries", 2048)
	v.SetDefault("cache.overview_ttl_sec", 300)
	v.SetDefault("cache.entities_ttl_sec", 600)
	v.SetDefault("cache.analytics_ttl_sec", 60)
	v.SetDefault("cache.sync_status_ttl_sec", 5)
	v.SetDefault("cache.write_back_workers", 2)
	v.SetDefault("cache.write_back_queue_len", 64)

	v.SetDefault("analytics.default_interval", "day")
	v.SetDefault("analytics.max_points", 500)
	v.SetDefault("analytics.aggregation_enabled", true)
	v.SetDefault("analytics.aggregation_interval_min", 30)
	v.SetDefault("analytics.events_retention_months", 12)
	v.SetDefault("analytics.agg_retention_months", 24)
	v.SetDefault("analytics.raw_retention_days", 30)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 10)
	v.SetDefault("logging.max_age_days", 30)
	v.SetDefault("logging.compress", true)

	v.SetDefault("tracing.endpoint", "")
	v.SetDefault("tracing.protocol", "http")
	v.SetDefault("tracing.sampling_rate", 0.1)
}

// Validate fails fast on configurations the process cannot start with.
func (c *Config) Validate() error {
	if c.Sync.Enabled && c.Klaviyo.APIKey == "" {
		return fmt.Errorf("klaviyo.api_key is required when sync is enabled")
	}
	switch c.Database.Driver {
	case "postgres":
		if c.Database.URL == "" {
			return fmt.Errorf("database.url is required for the postgres driver")
		}
	case "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required for the sqlite driver")
		}
	default:
		return fmt.Errorf("unsupported database.driver %q (want postgres or sqlite)", c.Database.Driver)
	}
	switch c.Klaviyo.AuthScheme {
	case "klaviyo-api-key", "bearer":
	default:
		return fmt.Errorf("unsupported klaviyo.auth_scheme %q (want klaviyo-api-key or bearer)", c.Klaviyo.AuthScheme)
	}
	if c.Klaviyo.PageSize < 1 || c.Klaviyo.PageSize > 100 {
		return fmt.Errorf("klaviyo.page_size must be in [1,100], got %d", c.Klaviyo.PageSize)
	}
	if c.Klaviyo.MaxConcurrent < 1 {
		return fmt.Errorf("klaviyo.max_concurrent must be positive, got %d", c.Klaviyo.MaxConcurrent)
	}
	if c.Sync.MaxParallel < 1 {
		return fmt.Errorf("sync.max_parallel must be positive, got %d", c.Sync.MaxParallel)
	}
	if c.Sync.BatchSize < 1 {
		return fmt.Errorf("sync.batch_size must be positive, got %d", c.Sync.BatchSize)
	}
	for _, entity := range EntityTypes {
		if _, ok := c.Sync.Schedules[entity]; !ok {
			return fmt.Errorf("sync.schedules is missing entity type %q", entity)
		}
	}
	switch c.Cache.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("unsupported cache.backend %q (want memory or redis)", c.Cache.Backend)
	}
	switch c.Analytics.DefaultInterval {
	case "hour", "day", "week":
	default:
		return fmt.Errorf("unsupported analytics.default_interval %q (want hour, day or week)", c.Analytics.DefaultInterval)
	}
	return nil
}
