// Package repository implements the persistence layer: one repository
// per entity type over a shared sqlx pool that speaks either Postgres
// (with the timescaledb extension when available) or SQLite. Queries
// are written with ? placeholders and rebound per dialect.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
	"github.com/lib/pq"
	"go.uber.org/zap"
	_ "modernc.org/sqlite" // pure-Go SQLite driver (no CGO required)

	"github.com/Kbediako/klaviyo-analytics-dashboard-sub002/internal/config"
	"github.com/Kbediako/klaviyo-analytics-dashboard-sub002/internal/pkg/metrics"
)

func init() {
	// sqlx does not know the modernc driver name by default.
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

// Dialect names the SQL flavor the pool speaks.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// DB wraps the sqlx pool with dialect awareness, slow-query logging
// and transient-error retries. All repositories share one DB.
type DB struct {
	*sqlx.DB
	dialect Dialect
	log     *zap.Logger

	slowQuery     time.Duration
	retryAttempts int
	hasTimescale  bool
}

// Open connects to the configured database, applies pool settings and
// runs all pending schema migrations.
func Open(cfg config.DatabaseConfig, log *zap.Logger) (*DB, error) {
	if log == nil {
		log = zap.NewNop()
	}

	var (
		db  *sqlx.DB
		err error
	)
	dialect := Dialect(cfg.Driver)
	switch dialect {
	case DialectPostgres:
		db, err = sqlx.Connect("postgres", postgresDSN(cfg.URL, cfg.StatementTimeoutMS))
	case DialectSQLite:
		db, err = sqlx.Connect("sqlite", sqliteDSN(cfg.Path))
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", cfg.Driver, err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetimeMin) * time.Minute)

	d := &DB{
		DB:            db,
		dialect:       dialect,
		log:           log,
		slowQuery:     time.Duration(cfg.SlowQueryMS) * time.Millisecond,
		retryAttempts: cfg.RetryAttempts,
	}
	if d.slowQuery <= 0 {
		d.slowQuery = time.Second
	}
	if d.retryAttempts < 1 {
		d.retryAttempts = 1
	}

	if err := d.Migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	if dialect == DialectPostgres {
		if err := db.Get(&d.hasTimescale,
			`SELECT EXISTS (SELECT 1 FROM pg_extension WHERE extname = 'timescaledb')`); err != nil {
			log.Warn("timescaledb detection failed", zap.Error(err))
		}
	}
	d.log.Info("database ready",
		zap.String("dialect", string(dialect)),
		zap.Bool("timescaledb", d.hasTimescale),
	)
	return d, nil
}

// HasTimescale reports whether the timescaledb extension is active.
func (d *DB) HasTimescale() bool { return d.hasTimescale }

// sqliteDSN appends the per-connection options every pooled connection
// needs: WAL, foreign keys, a write-contention timeout, and the
// canonical text layout for time.Time round-trips.
func sqliteDSN(path string) string {
	if strings.Contains(path, "?") {
		return path
	}
	return path + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_time_format=sqlite"
}

// postgresDSN attaches statement_timeout as a session runtime param so
// it applies to every pooled connection, not just the first.
func postgresDSN(url string, timeoutMS int) string {
	if timeoutMS <= 0 || strings.Contains(url, "statement_timeout") {
		return url
	}
	if strings.HasPrefix(url, "postgres://") || strings.HasPrefix(url, "postgresql://") {
		sep := "?"
		if strings.Contains(url, "?") {
			sep = "&"
		}
		return fmt.Sprintf("%s%sstatement_timeout=%d", url, sep, timeoutMS)
	}
	return fmt.Sprintf("%s statement_timeout=%d", url, timeoutMS)
}

// Dialect reports the SQL flavor in use.
func (d *DB) Dialect() Dialect { return d.dialect }

// IsPostgres reports whether the pool speaks Postgres; some queries
// (time_bucket, advisory locks) only exist there.
func (d *DB) IsPostgres() bool { return d.dialect == DialectPostgres }

// WithTx runs fn inside a transaction, committing on nil and rolling
// back on error or panic.
func (d *DB) WithTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := d.DB.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// run executes fn with slow-query logging and bounded retries on
// transient errors. The operation name labels metrics and log lines.
func (d *DB) run(ctx context.Context, operation string, fn func() error) error {
	var err error
	for attempt := 1; ; attempt++ {
		start := time.Now()
		err = fn()
		elapsed := time.Since(start)

		metrics.DBQueryDurationSeconds.WithLabelValues(operation).Observe(elapsed.Seconds())
		if elapsed >= d.slowQuery {
			d.log.Warn("slow query",
				zap.String("operation", operation),
				zap.Duration("elapsed", elapsed),
			)
		}

		if err == nil || !isTransient(err) || attempt >= d.retryAttempts || ctx.Err() != nil {
			return err
		}

		metrics.DBQueryRetriesTotal.WithLabelValues(operation).Inc()
		delay := retryDelay(attempt)
		d.log.Warn("retrying query after transient error",
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// retryDelay is exponential from 50ms with up to 50% added jitter.
func retryDelay(attempt int) time.Duration {
	base := 50 * time.Millisecond << (attempt - 1)
	if base > time.Second {
		base = time.Second
	}
	return base + time.Duration(rand.Int63n(int64(base)/2+1))
}

// isTransient reports whether err is worth retrying: serialization
// failures, deadlocks, dropped connections, or a busy SQLite file.
func isTransient(err error) bool {
	if err == nil || errors.Is(err, sql.ErrNoRows) {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "40001", // serialization_failure
			"40P01", // deadlock_detected
			"08000", // connection_exception
			"08003", // connection_does_not_exist
			"08006", // connection_failure
			"57P03": // cannot_connect_now
			return true
		}
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "connection reset")
}

// PoolStats publishes current pool gauges; called periodically by the
// monitoring collector.
func (d *DB) PoolStats() sql.DBStats {
	stats := d.DB.Stats()
	metrics.DBPoolOpenConnections.Set(float64(stats.OpenConnections))
	metrics.DBPoolInUse.Set(float64(stats.InUse))
	metrics.DBPoolWaitCount.Set(float64(stats.WaitCount))
	return stats
}

// now returns a UTC timestamp truncated to milliseconds, the precision
// stored for all entity timestamps.
func now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

// jsonOrEmpty substitutes {} for a nil blob so NOT NULL json columns
// accept it.
func jsonOrEmpty(j types.JSONText) types.JSONText {
	if len(j) == 0 {
		return types.JSONText("{}")
	}
	return j
}

// likePrefix builds a prefix-match LIKE pattern, escaping the LIKE
// metacharacters in the user-supplied prefix. Pair with ESCAPE '\'.
func likePrefix(prefix string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(prefix) + "%"
}
