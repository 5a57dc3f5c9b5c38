package cache

import (
	"context"
	stdsync "sync"
	"time"

	"go.uber.org/zap"

	"github.com/Kbediako/klaviyo-analytics-dashboard-sub002/internal/pkg/metrics"
)

// Task is a unit of background write-back work, typically persisting
// rows fetched from upstream on a cache-miss read path.
type Task func(context.Context)

// WriteBackQueue runs write-back tasks on a bounded worker pool.
// Enqueue never blocks the request path: when the queue is full the
// task is dropped and counted, the next sync re-fetches the data.
type WriteBackQueue struct {
	tasks   chan Task
	workers int
	log     *zap.Logger

	startOnce stdsync.Once
	stopOnce  stdsync.Once
	wg        stdsync.WaitGroup
}

// NewWriteBackQueue sizes the pool; zero values fall back to 2
// workers and a depth of 256.
func NewWriteBackQueue(workers, depth int, log *zap.Logger) *WriteBackQueue {
	if workers <= 0 {
		workers = 2
	}
	if depth <= 0 {
		depth = 256
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &WriteBackQueue{
		tasks:   make(chan Task, depth),
		workers: workers,
		log:     log,
	}
}

// Start launches the workers. Tasks run with the given base context;
// cancelling it aborts in-flight tasks during shutdown.
func (q *WriteBackQueue) Start(ctx context.Context) {
	q.startOnce.Do(func() {
		for i := 0; i < q.workers; i++ {
			q.wg.Add(1)
			go q.worker(ctx)
		}
	})
}

func (q *WriteBackQueue) worker(ctx context.Context) {
	defer q.wg.Done()
	for task := range q.tasks {
		metrics.WriteBackQueueDepth.Set(float64(len(q.tasks)))
		func() {
			defer func() {
				if r := recover(); r != nil {
					q.log.Error("write-back task panicked", zap.Any("panic", r))
				}
			}()
			task(ctx)
		}()
	}
}

// Enqueue schedules a task, reporting false when the queue is full.
func (q *WriteBackQueue) Enqueue(task Task) bool {
	select {
	case q.tasks <- task:
		metrics.WriteBackQueueDepth.Set(float64(len(q.tasks)))
		return true
	default:
		metrics.WriteBackDroppedTotal.Inc()
		q.log.Warn("write-back queue full, dropping task")
		return false
	}
}

// Drain stops intake and waits for queued tasks to finish, up to the
// timeout.
func (q *WriteBackQueue) Drain(timeout time.Duration) bool {
	q.stopOnce.Do(func() { close(q.tasks) })

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		q.log.Warn("write-back drain timed out", zap.Duration("timeout", timeout))
		return false
	}
}
