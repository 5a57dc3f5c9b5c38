// Package server composes the application: configuration in, a
// running HTTP process with its background workers out.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/Kbediako/klaviyo-analytics-dashboard-sub002/internal/analytics"
	"github.com/Kbediako/klaviyo-analytics-dashboard-sub002/internal/api/rest"
	"github.com/Kbediako/klaviyo-analytics-dashboard-sub002/internal/api/websocket"
	"github.com/Kbediako/klaviyo-analytics-dashboard-sub002/internal/cache"
	"github.com/Kbediako/klaviyo-analytics-dashboard-sub002/internal/config"
	"github.com/Kbediako/klaviyo-analytics-dashboard-sub002/internal/forecast"
	"github.com/Kbediako/klaviyo-analytics-dashboard-sub002/internal/klaviyo"
	"github.com/Kbediako/klaviyo-analytics-dashboard-sub002/internal/models"
	"github.com/Kbediako/klaviyo-analytics-dashboard-sub002/internal/monitoring"
	"github.com/Kbediako/klaviyo-analytics-dashboard-sub002/internal/pkg/tracing"
	"github.com/Kbediako/klaviyo-analytics-dashboard-sub002/internal/repository"
	syncsvc "github.com/Kbediako/klaviyo-analytics-dashboard-sub002/internal/sync"
	"github.com/Kbediako/klaviyo-analytics-dashboard-sub002/internal/tasks"
)

// App holds every long-lived component of the process.
type App struct {
	cfg *config.Config
	log *zap.Logger

	db        *repository.DB
	repos     *repository.Repositories
	client    *klaviyo.Client
	respCache *cache.Cache
	writeback *cache.WriteBackQueue
	syncSvc   *syncsvc.Service
	scheduler *syncsvc.Scheduler
	collector *monitoring.Collector
	runner    *tasks.Runner
	hub       *websocket.Hub

	httpSrv        *http.Server
	tracerShutdown func(context.Context) error
}

// New wires the full dependency graph. Nothing starts running until
// Run is called.
func New(ctx context.Context, cfg *config.Config, version string, log *zap.Logger) (*App, error) {
	a := &App{cfg: cfg, log: log}

	tracerShutdown, err := tracing.Init(ctx, tracing.Config{
		ServiceName:  "klaviyo-dashboard",
		Endpoint:     cfg.Tracing.Endpoint,
		Protocol:     cfg.Tracing.Protocol,
		SamplingRate: cfg.Tracing.SamplingRate,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}
	a.tracerShutdown = tracerShutdown

	a.db, err = repository.Open(cfg.Database, log)
	if err != nil {
		return nil, err
	}
	a.repos = repository.New(a.db)

	a.writeback = cache.NewWriteBackQueue(cfg.Cache.WriteBackWorkers, cfg.Cache.WriteBackQueueLen, log)

	clientOpts := []klaviyo.Option{klaviyo.WithLogger(log)}
	if cfg.Sync.CaptureRaw {
		clientOpts = append(clientOpts, klaviyo.WithRawCapture(a.captureRawResponse))
	}
	a.client = klaviyo.New(cfg.Klaviyo, clientOpts...)

	a.respCache, err = cache.New(cfg.Cache, log)
	if err != nil {
		return nil, fmt.Errorf("init cache: %w", err)
	}

	engine := analytics.NewEngine(a.repos.Events, a.repos.Aggregates, log)
	forecasts := forecast.NewService(engine, log)

	a.syncSvc = syncsvc.NewService(a.client, a.repos, cfg.Sync, log)
	a.hub = websocket.NewHub(ctx, log)
	a.syncSvc.OnComplete(func(ev models.SyncStatusEvent) {
		a.hub.BroadcastSyncStatus(ev)
		if ev.Status == models.SyncStatusSucceeded {
			a.respCache.InvalidateForEntity(context.Background(), ev.EntityType)
		}
	})

	if cfg.Sync.Enabled {
		a.scheduler, err = syncsvc.NewScheduler(a.syncSvc, cfg.Sync, log)
		if err != nil {
			return nil, err
		}
	}

	a.collector = monitoring.New(a.db, a.repos.SyncStatus, cfg.Sync, version, log)
	a.runner = tasks.NewRunner(a.repos, cfg.Analytics, a.respCache, log)

	handlers := rest.NewHandlers(a.repos, a.syncSvc, engine, forecasts, a.collector, a.writeback, cfg.Analytics, log)
	wsHandler := websocket.NewHandler(a.hub, cfg.Server.AllowedOrigins, log)
	router := rest.NewRouter(handlers, a.respCache, wsHandler, cfg.Server, log)

	a.httpSrv = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSec) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeoutSec) * time.Second,
	}
	return a, nil
}

// captureRawResponse lands upstream payloads in the audit table off
// the request path.
func (a *App) captureRawResponse(endpoint string, payload []byte) {
	row := &models.RawAPIResponse{
		Endpoint:   endpoint,
		Payload:    append([]byte(nil), payload...),
		APIVersion: a.cfg.Klaviyo.Revision,
		ReceivedAt: time.Now().UTC(),
	}
	a.writeback.Enqueue(func(ctx context.Context) {
		if err := a.repos.RawResponse.Insert(ctx, row); err != nil {
			a.log.Warn("raw response capture failed", zap.String("endpoint", endpoint), zap.Error(err))
		}
	})
}

// Run starts every component and blocks until ctx is cancelled or
// the HTTP server fails. Shutdown is graceful: cron stops first so
// no new jobs begin, in-flight write-backs drain, then the server
// closes within the configured timeout.
func (a *App) Run(ctx context.Context) error {
	go a.hub.Run()
	a.writeback.Start(ctx)
	go a.collector.Run(ctx, 15*time.Second)
	go a.runner.Run(ctx)
	if a.scheduler != nil {
		a.scheduler.Start()
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Info("http server listening", zap.String("addr", a.httpSrv.Addr))
		if err := a.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		a.log.Info("shutdown signal received")
	case err := <-errCh:
		a.log.Error("http server failed", zap.Error(err))
		runErr = err
	}

	a.shutdown()
	return runErr
}

func (a *App) shutdown() {
	timeout := time.Duration(a.cfg.Server.ShutdownTimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	if a.scheduler != nil {
		stopped := a.scheduler.Stop()
		select {
		case <-stopped.Done():
		case <-time.After(timeout):
			a.log.Warn("scheduler jobs still running at shutdown deadline")
		}
	}

	a.writeback.Drain(timeout)
	a.hub.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := a.httpSrv.Shutdown(shutdownCtx); err != nil {
		a.log.Warn("http server shutdown incomplete", zap.Error(err))
	}

	if err := a.respCache.Close(); err != nil {
		a.log.Warn("cache close failed", zap.Error(err))
	}
	if err := a.db.Close(); err != nil {
		a.log.Warn("database close failed", zap.Error(err))
	}
	if err := a.tracerShutdown(shutdownCtx); err != nil {
		a.log.Warn("tracer shutdown failed", zap.Error(err))
	}
	a.log.Info("shutdown complete")
}
