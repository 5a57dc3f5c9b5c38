package sync

import (
	"context"
	"errors"
	"hash/fnv"
	stdsync "sync"

	"github.com/Kbediako/klaviyo-analytics-dashboard-sub002/internal/repository"
)

// ErrSyncInProgress is returned when a sync trigger finds the
// entity's lease already held.
var ErrSyncInProgress = errors.New("sync already in progress for entity type")

// leaseMap gates sync jobs per entity type within this process.
type leaseMap struct {
	mu   stdsync.Mutex
	held map[string]bool
}

func newLeaseMap() *leaseMap {
	return &leaseMap{held: make(map[string]bool)}
}

// tryAcquire takes the entity's lease, returning a release func, or
// ErrSyncInProgress when it is already held.
func (l *leaseMap) tryAcquire(entity string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[entity] {
		return nil, ErrSyncInProgress
	}
	l.held[entity] = true
	return func() {
		l.mu.Lock()
		delete(l.held, entity)
		l.mu.Unlock()
	}, nil
}

// advisoryLockKey derives a stable 64-bit key for pg_try_advisory_lock
// from the entity type name.
func advisoryLockKey(entity string) int64 {
	h := fnv.New64a()
	h.Write([]byte("klaviyodash.sync." + entity))
	return int64(h.Sum64())
}

// tryAdvisoryLock takes a session advisory lock on postgres so that
// only one instance syncs an entity type at a time. On SQLite (single
// instance by construction) it is a no-op. The returned release must
// run on the same connection, so the lock is scoped to a dedicated
// connection held for the job's duration.
func tryAdvisoryLock(ctx context.Context, db *repository.DB, entity string) (func(), error) {
	if !db.IsPostgres() {
		return func() {}, nil
	}

	conn, err := db.Connx(ctx)
	if err != nil {
		return nil, err
	}
	key := advisoryLockKey(entity)

	var acquired bool
	if err := conn.QueryRowxContext(ctx, "SELECT pg_try_advisory_lock($1)", key).Scan(&acquired); err != nil {
		conn.Close()
		return nil, err
	}
	if !acquired {
		conn.Close()
		return nil, ErrSyncInProgress
	}
	return func() {
		// Unlock on a background context: release must happen even
		// when the job's context is already cancelled.
		conn.ExecContext(context.Background(), "SELECT pg_advisory_unlock($1)", key)
		conn.Close()
	}, nil
}
