// cmd/notification-engine/main.go
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"notification-engine/internal/app"
	"notification-engine/internal/common/config"
	"notification-engine/internal/common/logger"
	"notification-engine/internal/common/observability"
	"notification-engine/internal/trigger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := logger.New("info", "console")
		bootLog.Fatal("config load failed", zap.Error(err))
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting notification engine...",
		zap.String("environment", cfg.App.Environment),
		zap.String("queueDriver", cfg.Queue.Driver),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	obs, err := observability.New(cfg.App.Name)
	if err != nil {
		zapLog.Fatal("observability init failed", zap.Error(err))
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := obs.Shutdown(shutdownCtx); err != nil {
			zapLog.Error("observability shutdown failed", zap.Error(err))
		}
	}()

	connectOptions := app.Options{
		ConnectAttempts: 15,
		RetryDelay:      2 * time.Second,
		Observability:   obs,
	}
	engine, err := app.Build(ctx, cfg, log, connectOptions)
	if err != nil {
		zapLog.Fatal("engine init failed", zap.Error(err))
	}
	defer func() {
		if err := engine.Close(); err != nil {
			zapLog.Error("error closing connections", zap.Error(err))
		}
	}()

	// --- Zeebe trigger ---
	if cfg.Trigger.ZeebeEnabled {
		if err := engine.StartZeebeTrigger(ctx, cfg, connectOptions, zapLog); err != nil {
			engine.Close()
			zapLog.Fatal("zeebe trigger failed", zap.Error(err))
		}
	}

	// --- Periodic and HTTP triggers ---
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		scheduler := trigger.NewScheduler(engine.Invoker, config.GetDuration(cfg.Trigger.IntervalMs), cfg.Processor.BatchSize, log)
		return scheduler.Run(gctx)
	})
	g.Go(func() error {
		return trigger.NewServer(engine.Invoker, engine.Checks, log).ListenAndServe(gctx, cfg.Trigger.HTTPAddress)
	})

	if err := g.Wait(); err != nil {
		zapLog.Error("trigger stopped with error", zap.Error(err))
	}
	zapLog.Info("Notification engine stopped gracefully")
}
