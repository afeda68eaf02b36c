package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"payment-engine/internal/biz"
	"payment-engine/internal/conf"
	"payment-engine/internal/server"

	"github.com/gaoyong06/go-pkg/logger"
	"github.com/go-kratos/kratos/v2/config"
	"github.com/go-kratos/kratos/v2/config/file"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/robfig/cron/v3"
	_ "go.uber.org/automaxprocs"
)

var (
	flagconf string
)

func init() {
	flag.StringVar(&flagconf, "conf", "../../configs/config.yaml", "config path, eg: -conf config.yaml")
}

// SweepApp bundles the use cases the scheduled jobs run against.
type SweepApp struct {
	Reconcile *biz.ReconcileUseCase
	Events    *server.EventProducerServer
}

func main() {
	flag.Parse()

	c := config.New(
		config.WithSource(
			file.NewSource(flagconf),
		),
	)
	defer c.Close()

	if err := c.Load(); err != nil {
		panic(err)
	}

	var bc conf.Bootstrap
	if err := c.Scan(&bc); err != nil {
		panic(err)
	}

	logConfig := &logger.Config{
		Level:         "info",
		Format:        "json",
		Output:        "stdout",
		FilePath:      "logs/payment-sweeper.log",
		MaxSize:       100,
		MaxAge:        30,
		MaxBackups:    10,
		Compress:      true,
		EnableConsole: true,
	}

	loggerInstance := logger.NewLogger(logConfig)

	loggerInstance = log.With(loggerInstance,
		"ts", log.DefaultTimestamp,
		"caller", log.DefaultCaller,
		"service.name", "payment-sweeper",
	)

	logHelper := log.NewHelper(loggerInstance)

	app, cleanup, err := wireApp(&bc, loggerInstance)
	if err != nil {
		panic(err)
	}
	defer cleanup()

	// Orphan resolution can approve charges, so the sweeper publishes
	// events too.
	if err := app.Events.Start(context.Background()); err != nil {
		logHelper.Errorf("Failed to start event producer: %v", err)
	}
	defer func() { _ = app.Events.Stop(context.Background()) }()

	cronScheduler := cron.New(cron.WithSeconds())

	// Expiry sweep: flip timed-out PIX charges to expired.
	_, err = cronScheduler.AddFunc("0 * * * * *", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Second)
		defer cancel()

		count, err := app.Reconcile.SweepExpired(ctx, time.Now())
		if err != nil {
			logHelper.Errorf("[CRON] Expiry sweep error: %v", err)
		} else if count > 0 {
			logHelper.Infof("[CRON] Expiry sweep completed: expired=%d", count)
		}
	})
	if err != nil {
		logHelper.Errorf("Failed to add expiry sweep job: %v", err)
	}

	// Orphan sweep: re-query the provider for pending charges past the
	// grace window that never got a webhook.
	_, err = cronScheduler.AddFunc("0 */5 * * * *", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 4*time.Minute)
		defer cancel()

		count, err := app.Reconcile.SweepOrphans(ctx, time.Now())
		if err != nil {
			logHelper.Errorf("[CRON] Orphan sweep error: %v", err)
		} else if count > 0 {
			logHelper.Infof("[CRON] Orphan sweep completed: resolved=%d", count)
		}
	})
	if err != nil {
		logHelper.Errorf("Failed to add orphan sweep job: %v", err)
	}

	// Archive: mark old terminal charges archived, daily at 03:00.
	_, err = cronScheduler.AddFunc("0 0 3 * * *", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()

		count, err := app.Reconcile.ArchiveTerminal(ctx, time.Now())
		if err != nil {
			logHelper.Errorf("[CRON] Archive error: %v", err)
		} else {
			logHelper.Infof("[CRON] Archive completed: archived=%d", count)
		}
	})
	if err != nil {
		logHelper.Errorf("Failed to add archive job: %v", err)
	}

	cronScheduler.Start()
	logHelper.Info("========================================")
	logHelper.Info("Sweeper jobs started successfully")
	logHelper.Info("Scheduled jobs:")
	logHelper.Info("  - Expiry sweep: every minute")
	logHelper.Info("  - Orphan sweep: every 5 minutes")
	logHelper.Info("  - Archive: daily at 03:00")
	logHelper.Info("========================================")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logHelper.Info("Shutting down gracefully...")

	ctx := cronScheduler.Stop()
	select {
	case <-ctx.Done():
		logHelper.Info("Sweeper jobs stopped gracefully")
	case <-time.After(5 * time.Second):
		logHelper.Info("Sweeper jobs forced to stop after timeout")
	}
}
