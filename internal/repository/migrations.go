package repository

import (
	"fmt"
)

// migrations is the ordered schema history. Each entry carries one
// statement batch per dialect; an empty string means the version is a
// no-op for that dialect. Applied versions are tracked in
// schema_versions.
var migrations = []struct {
	version  int
	postgres string
	sqlite   string
}{
	{
		version: 1,
		postgres: `
CREATE TABLE IF NOT EXISTS metrics (
    id                   TEXT PRIMARY KEY,
    name                 TEXT NOT NULL DEFAULT '',
    type                 TEXT NOT NULL DEFAULT '',
    description          TEXT NOT NULL DEFAULT '',
    integration_id       TEXT NOT NULL DEFAULT '',
    integration_name     TEXT NOT NULL DEFAULT '',
    integration_category TEXT NOT NULL DEFAULT '',
    metadata             JSONB NOT NULL DEFAULT '{}',
    created_at           TIMESTAMPTZ NOT NULL,
    updated_at           TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_metrics_name       ON metrics(name);
CREATE INDEX IF NOT EXISTS idx_metrics_updated_at ON metrics(updated_at);

CREATE TABLE IF NOT EXISTS profiles (
    id            TEXT PRIMARY KEY,
    email         TEXT,
    phone         TEXT,
    external_id   TEXT,
    first_name    TEXT,
    last_name     TEXT,
    properties    JSONB NOT NULL DEFAULT '{}',
    last_event_at TIMESTAMPTZ,
    created_at    TIMESTAMPTZ NOT NULL,
    updated_at    TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_profiles_email      ON profiles(email);
CREATE INDEX IF NOT EXISTS idx_profiles_updated_at ON profiles(updated_at);

CREATE TABLE IF NOT EXISTS events (
    id         TEXT NOT NULL,
    metric_id  TEXT NOT NULL,
    profile_id TEXT NOT NULL,
    ts         TIMESTAMPTZ NOT NULL,
    value      NUMERIC(18,6),
    properties JSONB NOT NULL DEFAULT '{}',
    raw        JSONB NOT NULL DEFAULT '{}',
    PRIMARY KEY (id, ts)
);
CREATE INDEX IF NOT EXISTS idx_events_metric_ts  ON events(metric_id, ts DESC) INCLUDE (value);
CREATE INDEX IF NOT EXISTS idx_events_profile_ts ON events(profile_id, ts DESC);
CREATE INDEX IF NOT EXISTS idx_events_ts_brin    ON events USING BRIN (ts);
CREATE INDEX IF NOT EXISTS idx_events_props_gin  ON events USING GIN (properties);

CREATE TABLE IF NOT EXISTS campaigns (
    id               TEXT PRIMARY KEY,
    name             TEXT NOT NULL DEFAULT '',
    status           TEXT NOT NULL DEFAULT '',
    channel          TEXT NOT NULL DEFAULT '',
    sent_count       BIGINT NOT NULL DEFAULT 0,
    open_count       BIGINT NOT NULL DEFAULT 0,
    click_count      BIGINT NOT NULL DEFAULT 0,
    conversion_count BIGINT NOT NULL DEFAULT 0,
    revenue          NUMERIC(18,6) NOT NULL DEFAULT 0,
    metadata         JSONB NOT NULL DEFAULT '{}',
    send_time        TIMESTAMPTZ,
    created_at       TIMESTAMPTZ NOT NULL,
    updated_at       TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_campaigns_name       ON campaigns(name);
CREATE INDEX IF NOT EXISTS idx_campaigns_status     ON campaigns(status);
CREATE INDEX IF NOT EXISTS idx_campaigns_send_time  ON campaigns(send_time DESC);
CREATE INDEX IF NOT EXISTS idx_campaigns_updated_at ON campaigns(updated_at);

CREATE TABLE IF NOT EXISTS flows (
    id               TEXT PRIMARY KEY,
    name             TEXT NOT NULL DEFAULT '',
    status           TEXT NOT NULL DEFAULT '',
    trigger_type     TEXT NOT NULL DEFAULT '',
    sent_count       BIGINT NOT NULL DEFAULT 0,
    open_count       BIGINT NOT NULL DEFAULT 0,
    click_count      BIGINT NOT NULL DEFAULT 0,
    conversion_count BIGINT NOT NULL DEFAULT 0,
    revenue          NUMERIC(18,6) NOT NULL DEFAULT 0,
    metadata         JSONB NOT NULL DEFAULT '{}',
    created_at       TIMESTAMPTZ NOT NULL,
    updated_at       TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_flows_name       ON flows(name);
CREATE INDEX IF NOT EXISTS idx_flows_status     ON flows(status);
CREATE INDEX IF NOT EXISTS idx_flows_updated_at ON flows(updated_at);

CREATE TABLE IF NOT EXISTS forms (
    id               TEXT PRIMARY KEY,
    name             TEXT NOT NULL DEFAULT '',
    status           TEXT NOT NULL DEFAULT '',
    form_type        TEXT NOT NULL DEFAULT '',
    sent_count       BIGINT NOT NULL DEFAULT 0,
    open_count       BIGINT NOT NULL DEFAULT 0,
    click_count      BIGINT NOT NULL DEFAULT 0,
    conversion_count BIGINT NOT NULL DEFAULT 0,
    revenue          NUMERIC(18,6) NOT NULL DEFAULT 0,
    metadata         JSONB NOT NULL DEFAULT '{}',
    created_at       TIMESTAMPTZ NOT NULL,
    updated_at       TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_forms_name       ON forms(name);
CREATE INDEX IF NOT EXISTS idx_forms_status     ON forms(status);
CREATE INDEX IF NOT EXISTS idx_forms_updated_at ON forms(updated_at);

CREATE TABLE IF NOT EXISTS segments (
    id               TEXT PRIMARY KEY,
    name             TEXT NOT NULL DEFAULT '',
    status           TEXT NOT NULL DEFAULT '',
    member_count     BIGINT NOT NULL DEFAULT 0,
    sent_count       BIGINT NOT NULL DEFAULT 0,
    open_count       BIGINT NOT NULL DEFAULT 0,
    click_count      BIGINT NOT NULL DEFAULT 0,
    conversion_count BIGINT NOT NULL DEFAULT 0,
    revenue          NUMERIC(18,6) NOT NULL DEFAULT 0,
    metadata         JSONB NOT NULL DEFAULT '{}',
    created_at       TIMESTAMPTZ NOT NULL,
    updated_at       TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_segments_name       ON segments(name);
CREATE INDEX IF NOT EXISTS idx_segments_status     ON segments(status);
CREATE INDEX IF NOT EXISTS idx_segments_updated_at ON segments(updated_at);

CREATE TABLE IF NOT EXISTS aggregated_metrics (
    metric_id    TEXT NOT NULL,
    bucket_start TIMESTAMPTZ NOT NULL,
    bucket_size  TEXT NOT NULL,
    count        BIGINT NOT NULL DEFAULT 0,
    sum_value    DOUBLE PRECISION NOT NULL DEFAULT 0,
    min_value    DOUBLE PRECISION NOT NULL DEFAULT 0,
    max_value    DOUBLE PRECISION NOT NULL DEFAULT 0,
    avg_value    DOUBLE PRECISION NOT NULL DEFAULT 0,
    PRIMARY KEY (metric_id, bucket_start, bucket_size)
);
CREATE INDEX IF NOT EXISTS idx_agg_metric_size_start ON aggregated_metrics(metric_id, bucket_size, bucket_start DESC);

CREATE TABLE IF NOT EXISTS sync_status (
    entity_type            TEXT PRIMARY KEY,
    last_sync_started_at   TIMESTAMPTZ,
    last_sync_completed_at TIMESTAMPTZ,
    last_watermark         TIMESTAMPTZ,
    status                 TEXT NOT NULL DEFAULT 'idle',
    record_count           BIGINT NOT NULL DEFAULT 0,
    error_message          TEXT,
    updated_at             TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

INSERT INTO sync_status (entity_type, status, updated_at) VALUES
    ('metrics', 'idle', NOW()),
    ('campaigns', 'idle', NOW()),
    ('flows', 'idle', NOW()),
    ('forms', 'idle', NOW()),
    ('segments', 'idle', NOW()),
    ('profiles', 'idle', NOW()),
    ('events', 'idle', NOW())
ON CONFLICT (entity_type) DO NOTHING;

CREATE TABLE IF NOT EXISTS raw_api_responses (
    id          BIGSERIAL PRIMARY KEY,
    endpoint    TEXT NOT NULL DEFAULT '',
    payload     JSONB NOT NULL DEFAULT '{}',
    api_version TEXT NOT NULL DEFAULT '',
    received_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_raw_responses_received_at ON raw_api_responses(received_at DESC);
`,
		sqlite: `
CREATE TABLE IF NOT EXISTS metrics (
    id                   TEXT PRIMARY KEY,
    name                 TEXT NOT NULL DEFAULT '',
    type                 TEXT NOT NULL DEFAULT '',
    description          TEXT NOT NULL DEFAULT '',
    integration_id       TEXT NOT NULL DEFAULT '',
    integration_name     TEXT NOT NULL DEFAULT '',
    integration_category TEXT NOT NULL DEFAULT '',
    metadata             TEXT NOT NULL DEFAULT '{}',
    created_at           DATETIME NOT NULL,
    updated_at           DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_metrics_name       ON metrics(name);
CREATE INDEX IF NOT EXISTS idx_metrics_updated_at ON metrics(updated_at);

CREATE TABLE IF NOT EXISTS profiles (
    id            TEXT PRIMARY KEY,
    email         TEXT,
    phone         TEXT,
    external_id   TEXT,
    first_name    TEXT,
    last_name     TEXT,
    properties    TEXT NOT NULL DEFAULT '{}',
    last_event_at DATETIME,
    created_at    DATETIME NOT NULL,
    updated_at    DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_profiles_email      ON profiles(email);
CREATE INDEX IF NOT EXISTS idx_profiles_updated_at ON profiles(updated_at);

CREATE TABLE IF NOT EXISTS events (
    id         TEXT NOT NULL,
    metric_id  TEXT NOT NULL,
    profile_id TEXT NOT NULL,
    ts         DATETIME NOT NULL,
    value      NUMERIC,
    properties TEXT NOT NULL DEFAULT '{}',
    raw        TEXT NOT NULL DEFAULT '{}',
    PRIMARY KEY (id, ts)
);
CREATE INDEX IF NOT EXISTS idx_events_metric_ts  ON events(metric_id, ts DESC);
CREATE INDEX IF NOT EXISTS idx_events_profile_ts ON events(profile_id, ts DESC);
CREATE INDEX IF NOT EXISTS idx_events_ts         ON events(ts);

CREATE TABLE IF NOT EXISTS campaigns (
    id               TEXT PRIMARY KEY,
    name             TEXT NOT NULL DEFAULT '',
    status           TEXT NOT NULL DEFAULT '',
    channel          TEXT NOT NULL DEFAULT '',
    sent_count       INTEGER NOT NULL DEFAULT 0,
    open_count       INTEGER NOT NULL DEFAULT 0,
    click_count      INTEGER NOT NULL DEFAULT 0,
    conversion_count INTEGER NOT NULL DEFAULT 0,
    revenue          NUMERIC NOT NULL DEFAULT 0,
    metadata         TEXT NOT NULL DEFAULT '{}',
    send_time        DATETIME,
    created_at       DATETIME NOT NULL,
    updated_at       DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_campaigns_name       ON campaigns(name);
CREATE INDEX IF NOT EXISTS idx_campaigns_status     ON campaigns(status);
CREATE INDEX IF NOT EXISTS idx_campaigns_send_time  ON campaigns(send_time DESC);
CREATE INDEX IF NOT EXISTS idx_campaigns_updated_at ON campaigns(updated_at);

CREATE TABLE IF NOT EXISTS flows (
    id               TEXT PRIMARY KEY,
    name             TEXT NOT NULL DEFAULT '',
    status           TEXT NOT NULL DEFAULT '',
    trigger_type     TEXT NOT NULL DEFAULT '',
    sent_count       INTEGER NOT NULL DEFAULT 0,
    open_count       INTEGER NOT NULL DEFAULT 0,
    click_count      INTEGER NOT NULL DEFAULT 0,
    conversion_count INTEGER NOT NULL DEFAULT 0,
    revenue          NUMERIC NOT NULL DEFAULT 0,
    metadata         TEXT NOT NULL DEFAULT '{}',
    created_at       DATETIME NOT NULL,
    updated_at       DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_flows_name       ON flows(name);
CREATE INDEX IF NOT EXISTS idx_flows_status     ON flows(status);
CREATE INDEX IF NOT EXISTS idx_flows_updated_at ON flows(updated_at);

CREATE TABLE IF NOT EXISTS forms (
    id               TEXT PRIMARY KEY,
    name             TEXT NOT NULL DEFAULT '',
    status           TEXT NOT NULL DEFAULT '',
    form_type        TEXT NOT NULL DEFAULT '',
    sent_count       INTEGER NOT NULL DEFAULT 0,
    open_count       INTEGER NOT NULL DEFAULT 0,
    click_count      INTEGER NOT NULL DEFAULT 0,
    conversion_count INTEGER NOT NULL DEFAULT 0,
    revenue          NUMERIC NOT NULL DEFAULT 0,
    metadata         TEXT NOT NULL DEFAULT '{}',
    created_at       DATETIME NOT NULL,
    updated_at       DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_forms_name       ON forms(name);
CREATE INDEX IF NOT EXISTS idx_forms_status     ON forms(status);
CREATE INDEX IF NOT EXISTS idx_forms_updated_at ON forms(updated_at);

CREATE TABLE IF NOT EXISTS segments (
    id               TEXT PRIMARY KEY,
    name             TEXT NOT NULL DEFAULT '',
    status           TEXT NOT NULL DEFAULT '',
    member_count     INTEGER NOT NULL DEFAULT 0,
    sent_count       INTEGER NOT NULL DEFAULT 0,
    open_count       INTEGER NOT NULL DEFAULT 0,
    click_count      INTEGER NOT NULL DEFAULT 0,
    conversion_count INTEGER NOT NULL DEFAULT 0,
    revenue          NUMERIC NOT NULL DEFAULT 0,
    metadata         TEXT NOT NULL DEFAULT '{}',
    created_at       DATETIME NOT NULL,
    updated_at       DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_segments_name       ON segments(name);
CREATE INDEX IF NOT EXISTS idx_segments_status     ON segments(status);
CREATE INDEX IF NOT EXISTS idx_segments_updated_at ON segments(updated_at);

CREATE TABLE IF NOT EXISTS aggregated_metrics (
    metric_id    TEXT NOT NULL,
    bucket_start DATETIME NOT NULL,
    bucket_size  TEXT NOT NULL,
    count        INTEGER NOT NULL DEFAULT 0,
    sum_value    REAL NOT NULL DEFAULT 0,
    min_value    REAL NOT NULL DEFAULT 0,
    max_value    REAL NOT NULL DEFAULT 0,
    avg_value    REAL NOT NULL DEFAULT 0,
    PRIMARY KEY (metric_id, bucket_start, bucket_size)
);
CREATE INDEX IF NOT EXISTS idx_agg_metric_size_start ON aggregated_metrics(metric_id, bucket_size, bucket_start DESC);

CREATE TABLE IF NOT EXISTS sync_status (
    entity_type            TEXT PRIMARY KEY,
    last_sync_started_at   DATETIME,
    last_sync_completed_at DATETIME,
    last_watermark         DATETIME,
    status                 TEXT NOT NULL DEFAULT 'idle',
    record_count           INTEGER NOT NULL DEFAULT 0,
    error_message          TEXT,
    updated_at             DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

INSERT OR IGNORE INTO sync_status (entity_type, status, updated_at) VALUES
    ('metrics', 'idle', CURRENT_TIMESTAMP),
    ('campaigns', 'idle', CURRENT_TIMESTAMP),
    ('flows', 'idle', CURRENT_TIMESTAMP),
    ('forms', 'idle', CURRENT_TIMESTAMP),
    ('segments', 'idle', CURRENT_TIMESTAMP),
    ('profiles', 'idle', CURRENT_TIMESTAMP),
    ('events', 'idle', CURRENT_TIMESTAMP);

CREATE TABLE IF NOT EXISTS raw_api_responses (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    endpoint    TEXT NOT NULL DEFAULT '',
    payload     TEXT NOT NULL DEFAULT '{}',
    api_version TEXT NOT NULL DEFAULT '',
    received_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_raw_responses_received_at ON raw_api_responses(received_at DESC);
`,
	},
	// Migration 2: timescaledb layout for the events hypertable. Every
	// statement is guarded so plain Postgres keeps working; SQLite is a
	// no-op (retention runs as a pruning task instead).
	{
		version: 2,
		postgres: `
DO $$
BEGIN
    IF EXISTS (SELECT 1 FROM pg_available_extensions WHERE name = 'timescaledb') THEN
        CREATE EXTENSION IF NOT EXISTS timescaledb;
    END IF;
END
$$;

DO $$
BEGIN
    IF EXISTS (SELECT 1 FROM pg_extension WHERE extname = 'timescaledb') THEN
        PERFORM create_hypertable('events', 'ts',
            chunk_time_interval => INTERVAL '7 days',
            if_not_exists       => TRUE,
            migrate_data        => TRUE);

        ALTER TABLE events SET (
            timescaledb.compress,
            timescaledb.compress_segmentby = 'metric_id',
            timescaledb.compress_orderby   = 'ts DESC'
        );
        PERFORM add_compression_policy('events', INTERVAL '90 days', if_not_exists => TRUE);
        PERFORM add_retention_policy('events', INTERVAL '2 years', if_not_exists => TRUE);
    END IF;
END
$$;
`,
		sqlite: ``,
	},
}

// Migrate applies any unapplied migrations for the active dialect.
func (d *DB) Migrate() error {
	_, err := d.DB.Exec(`CREATE TABLE IF NOT EXISTS schema_versions (
        version    INTEGER PRIMARY KEY,
        applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
    )`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		var count int
		if err := d.DB.QueryRow(d.Rebind(`SELECT COUNT(*) FROM schema_versions WHERE version = ?`), m.version).Scan(&count); err != nil {
			return fmt.Errorf("check migration %d: %w", m.version, err)
		}
		if count > 0 {
			continue // already applied
		}

		stmt := m.sqlite
		if d.dialect == DialectPostgres {
			stmt = m.postgres
		}
		if stmt != "" {
			if _, err := d.DB.Exec(stmt); err != nil {
				return fmt.Errorf("apply migration %d: %w", m.version, err)
			}
		}

		if _, err := d.DB.Exec(d.Rebind(`INSERT INTO schema_versions(version) VALUES(?)`), m.version); err != nil {
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
	}
	return nil
}
