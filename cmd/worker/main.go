package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/marketplace-orders/internal/notifications"
	"github.com/angelmondragon/marketplace-orders/pkg/config"
	"github.com/angelmondragon/marketplace-orders/pkg/db"
	"github.com/angelmondragon/marketplace-orders/pkg/logger"
	"github.com/angelmondragon/marketplace-orders/pkg/migrate"
	"github.com/angelmondragon/marketplace-orders/pkg/ops"
	"github.com/angelmondragon/marketplace-orders/pkg/outbox/idempotency"
	"github.com/angelmondragon/marketplace-orders/pkg/pubsub"
	"github.com/angelmondragon/marketplace-orders/pkg/redis"
)

const serviceKind = "worker"

func main() {
	logg := logger.New(logger.Options{ServiceName: serviceKind})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	cfg.Service.Kind = serviceKind

	logg = logger.New(logger.Options{
		ServiceName: serviceKind,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Format:      cfg.App.LogFormat,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": serviceKind,
	})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		logg.Error(ctx, "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	pubsubClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg, pubsub.RequireSubscription(cfg.PubSub.NotificationSubscription))
	if err != nil {
		logg.Error(ctx, "failed to bootstrap pubsub", err)
		os.Exit(1)
	}
	defer func() {
		if err := pubsubClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing pubsub client", err)
		}
	}()

	manager, err := idempotency.NewManager(redisClient, cfg.Eventing.OutboxIdempotencyTTL)
	if err != nil {
		logg.Error(ctx, "failed to create idempotency manager", err)
		os.Exit(1)
	}
	consumer, err := notifications.NewConsumer(
		notifications.NewRepository(dbClient.DB()),
		pubsubClient.NotificationSubscription(),
		manager,
		logg,
	)
	if err != nil {
		logg.Error(ctx, "failed to create notification consumer", err)
		os.Exit(1)
	}

	opsRouter := ops.NewRouter(ops.Options{
		Service:  serviceKind,
		Env:      cfg.App.Env,
		Logger:   logg,
		Gatherer: prometheus.DefaultGatherer,
		Checks: map[string]ops.Check{
			"database": dbClient.Ping,
			"redis":    redisClient.Ping,
			"pubsub":   pubsubClient.Ping,
		},
	})

	service, err := NewService(ServiceParams{
		Logger:               logg,
		DB:                   dbClient,
		Redis:                redisClient,
		PubSub:               pubsubClient,
		NotificationConsumer: consumer,
		Ops: func(ctx context.Context) error {
			return ops.Serve(ctx, cfg.Ops.MetricsAddr, opsRouter, logg)
		},
	})
	if err != nil {
		logg.Error(ctx, "failed to create worker service", err)
		os.Exit(1)
	}

	logg.Info(ctx, "starting worker")
	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "worker stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(ctx, "worker shutting down gracefully")
}
