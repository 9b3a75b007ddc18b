package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/calebrhodes/photoflow-backend/internal/analysis"
	"github.com/calebrhodes/photoflow-backend/internal/consumer"
	"github.com/calebrhodes/photoflow-backend/internal/device"
	"github.com/calebrhodes/photoflow-backend/internal/embedding"
	"github.com/calebrhodes/photoflow-backend/internal/extract"
	"github.com/calebrhodes/photoflow-backend/internal/modelruntime"
	"github.com/calebrhodes/photoflow-backend/internal/pipeline"
	"github.com/calebrhodes/photoflow-backend/internal/settings"
	"github.com/calebrhodes/photoflow-backend/pkg/config"
	"github.com/calebrhodes/photoflow-backend/pkg/db"
	"github.com/calebrhodes/photoflow-backend/pkg/idempotency"
	"github.com/calebrhodes/photoflow-backend/pkg/logger"
	"github.com/calebrhodes/photoflow-backend/pkg/metrics"
	"github.com/calebrhodes/photoflow-backend/pkg/migrate"
	"github.com/calebrhodes/photoflow-backend/pkg/pubsub"
	"github.com/calebrhodes/photoflow-backend/pkg/redis"
)

func main() {
	ctx := context.Background()
	logg := logger.New(logger.Options{ServiceName: "worker"})

	_ = godotenv.Load()

	cfg, err := config.Load()
	requireResource(ctx, logg, "config", err)

	cfg.Service.Kind = "worker"

	logg = logger.New(logger.Options{
		ServiceName: "worker",
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

	subscription := pubsubClient.JobsSubscription()
	if subscription == nil {
		requireResource(ctx, logg, "jobs subscription", errors.New("subscription not configured"))
	}

	dev, err := device.Detect(cfg.Runtime.DeviceOverride)
	requireResource(ctx, logg, "compute device", err)
	logg.Info(logg.WithField(ctx, "device", dev.Name()), "compute device selected")

	runtimeClient, err := modelruntime.NewClient(
		cfg.Runtime.CaptionURL,
		cfg.Runtime.EmbedURL,
		cfg.Runtime.Token,
		dev,
		modelruntime.WithWarmupTimeout(cfg.Runtime.WarmupTimeout),
	)
	requireResource(ctx, logg, "model runtime client", err)

	analyzer, err := analysis.NewService(runtimeClient, logg)
	requireResource(ctx, logg, "analysis service", err)

	embedder, err := embedding.NewService(runtimeClient, logg)
	requireResource(ctx, logg, "embedding service", err)

	extractor, err := extract.New(cfg.Media.Root, cfg.Media.MaxUploadMB)
	requireResource(ctx, logg, "payload extractor", err)

	settingsService, err := settings.NewService(dbClient.DB(), cfg.Processing)
	requireResource(ctx, logg, "settings service", err)

	pipelineMetrics := metrics.NewPipelineMetrics(prometheus.DefaultRegisterer)

	runner, err := pipeline.NewRunner(pipeline.RunnerParams{
		Repo:      pipeline.NewRepository(dbClient.DB()),
		Extractor: extractor,
		Analyzer:  analyzer,
		Embedder:  embedder,
		Settings:  settingsService,
		Logger:    logg,
		Metrics:   pipelineMetrics,
	})
	requireResource(ctx, logg, "pipeline runner", err)

	manager, err := idempotency.NewManager(redisClient, cfg.PubSub.JobIdempotencyTTL)
	requireResource(ctx, logg, "idempotency manager", err)

	jobConsumer, err := consumer.NewConsumer(runner, manager, subscription, logg)
	requireResource(ctx, logg, "job consumer", err)

	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	runCtx = logg.WithFields(runCtx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})
	logg.Info(runCtx, "processing worker ready")

	if err := jobConsumer.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(runCtx, "processing worker failed", err)
		os.Exit(1)
	}

	logg.Info(runCtx, "processing worker shutting down gracefully")
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, fmt.Sprintf("resource not working: %s", resource), err)
	os.Exit(1)
}
