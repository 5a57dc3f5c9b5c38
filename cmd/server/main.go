package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/Kbediako/klaviyo-analytics-dashboard-sub002/internal/config"
	"github.com/Kbediako/klaviyo-analytics-dashboard-sub002/internal/pkg/logger"
	"github.com/Kbediako/klaviyo-analytics-dashboard-sub002/internal/server"
)

// version is stamped by the build via -ldflags "-X main.version=...".
var version = "dev"

const (
	exitOK      = 0
	exitStartup = 1
	exitRuntime = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return exitStartup
	}

	log, err := logger.Init(logger.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		Compress:   cfg.Logging.Compress,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		return exitStartup
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("starting klaviyo analytics dashboard",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.String("database", cfg.Database.Driver))

	app, err := server.New(ctx, cfg, version, log)
	if err != nil {
		log.Error("startup failed", zap.Error(err))
		return exitStartup
	}

	if err := app.Run(ctx); err != nil {
		log.Error("unrecoverable runtime error", zap.Error(err))
		return exitRuntime
	}
	return exitOK
}
