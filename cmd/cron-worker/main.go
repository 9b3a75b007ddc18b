package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/calebrhodes/photoflow-backend/internal/dispatch"
	"github.com/calebrhodes/photoflow-backend/internal/pipeline"
	"github.com/calebrhodes/photoflow-backend/internal/scheduler"
	"github.com/calebrhodes/photoflow-backend/internal/settings"
	"github.com/calebrhodes/photoflow-backend/pkg/config"
	"github.com/calebrhodes/photoflow-backend/pkg/db"
	"github.com/calebrhodes/photoflow-backend/pkg/logger"
	"github.com/calebrhodes/photoflow-backend/pkg/metrics"
	"github.com/calebrhodes/photoflow-backend/pkg/migrate"
	"github.com/calebrhodes/photoflow-backend/pkg/pubsub"
	"github.com/calebrhodes/photoflow-backend/pkg/redis"
)

func main() {
	ctx := context.Background()
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(ctx, ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	requireResource(ctx, logg, "config", err)

	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	requireResource(ctx, logg, "database", err)
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(ctx, "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		requireResource(ctx, logg, "dev migrations", err)
	}

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	requireResource(ctx, logg, "redis", err)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(ctx, "error closing redis", err)
		}
	}()

	pubsubClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
	requireResource(ctx, logg, "pubsub", err)
	defer func() {
		if err := pubsubClient.Close(); err != nil {
			logg.Error(ctx, "error closing pubsub", err)
		}
	}()

	publisher := dispatch.NewGCPPublisher(pubsubClient.JobsPublisher())
	if publisher == nil {
		requireResource(ctx, logg, "jobs publisher", errors.New("jobs topic not configured"))
	}

	settingsService, err := settings.NewService(dbClient.DB(), cfg.Processing)
	requireResource(ctx, logg, "settings service", err)

	dispatchService, err := dispatch.NewService(dispatch.ServiceParams{
		Publisher: publisher,
		Repo:      pipeline.NewRepository(dbClient.DB()),
		Settings:  settingsService,
		Logger:    logg,
	})
	requireResource(ctx, logg, "dispatch service", err)

	lock, err := scheduler.NewRedisLock(redisClient, redisClient.LockKey("scheduled-batch"), 0)
	requireResource(ctx, logg, "scheduler lock", err)

	service, err := scheduler.NewService(scheduler.ServiceParams{
		Logger:     logg,
		Lock:       lock,
		Dispatcher: dispatchService,
		Settings:   settingsService,
		Metrics:    metrics.NewSchedulerJobMetrics(prometheus.DefaultRegisterer),
	})
	requireResource(ctx, logg, "scheduler service", err)

	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	runCtx = logg.WithFields(runCtx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})
	logg.Info(runCtx, "starting cron worker")

	if err := service.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(runCtx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(runCtx, "cron worker shutting down gracefully")
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, fmt.Sprintf("resource not working: %s", resource), err)
	os.Exit(1)
}
