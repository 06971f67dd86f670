package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/marketplace-orders/internal/catalog"
	"github.com/angelmondragon/marketplace-orders/internal/cron"
	"github.com/angelmondragon/marketplace-orders/internal/notifications"
	"github.com/angelmondragon/marketplace-orders/internal/orders"
	"github.com/angelmondragon/marketplace-orders/pkg/config"
	"github.com/angelmondragon/marketplace-orders/pkg/db"
	"github.com/angelmondragon/marketplace-orders/pkg/logger"
	"github.com/angelmondragon/marketplace-orders/pkg/metrics"
	"github.com/angelmondragon/marketplace-orders/pkg/migrate"
	"github.com/angelmondragon/marketplace-orders/pkg/ops"
	"github.com/angelmondragon/marketplace-orders/pkg/outbox"
	"github.com/angelmondragon/marketplace-orders/pkg/redis"
)

const serviceKind = "cron-worker"

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

	registry, err := buildRegistry(cfg, logg, dbClient)
	if err != nil {
		logg.Error(ctx, "failed to build cron jobs", err)
		os.Exit(1)
	}

	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey(serviceKind+":"+envOrLocal(cfg.App.Env)), 0)
	if err != nil {
		logg.Error(ctx, "failed to create cron lock", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:     logg,
		Registry:   registry,
		Lock:       lock,
		Metrics:    metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		Interval:   cfg.Cron.Interval,
		JobTimeout: cfg.Cron.JobTimeout,
	})
	if err != nil {
		logg.Error(ctx, "failed to create cron service", err)
		os.Exit(1)
	}

	opsRouter := ops.NewRouter(ops.Options{
		Service: serviceKind,
		Env:     cfg.App.Env,
		Logger:  logg,
		Checks: map[string]ops.Check{
			"database": dbClient.Ping,
			"redis":    redisClient.Ping,
		},
	})
	go func() {
		if err := ops.Serve(ctx, cfg.Ops.MetricsAddr, opsRouter, logg); err != nil {
			logg.Error(ctx, "ops listener stopped", err)
		}
	}()

	logg.Info(ctx, "starting cron worker")
	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(ctx, "cron worker shutting down gracefully")
}

// buildRegistry wires the retention and expiry jobs against the shared database.
func buildRegistry(cfg *config.Config, logg *logger.Logger, dbClient *db.Client) (*cron.Registry, error) {
	conn := dbClient.DB()

	outboxJob, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:    logg,
		DB:        dbClient,
		Outbox:    outbox.NewRepository(conn),
		DLQ:       outbox.NewDLQRepository(conn),
		Retention: cfg.Cron.OutboxRetentionDays,
	})
	if err != nil {
		return nil, err
	}

	notificationRepo := notifications.NewRepository(conn)
	notificationJob, err := cron.NewNotificationCleanupJob(cron.NotificationCleanupJobParams{
		Logger:     logg,
		Repository: notificationRepo,
		Retention:  cfg.Cron.NotificationRetentionDays,
	})
	if err != nil {
		return nil, err
	}

	emitter, err := notifications.NewEmitter(outbox.NewService(outbox.NewRepository(conn), logg), logg)
	if err != nil {
		return nil, err
	}
	listings := catalog.NewRepository(conn)
	stock, err := catalog.NewStock(listings)
	if err != nil {
		return nil, err
	}
	orderRepo := orders.NewRepository(conn)
	orderService, err := orders.NewService(orderRepo, dbClient, stock, emitter, orders.Options{
		DeliveryWindow: cfg.Orders.DeliveryWindow,
		Metrics:        metrics.NewOrders(prometheus.DefaultRegisterer),
		Logger:         logg,
		Now:            time.Now,
	})
	if err != nil {
		return nil, err
	}
	expiryJob, err := cron.NewPendingOrderExpiryJob(cron.PendingOrderExpiryJobParams{
		Logger:  logg,
		Pending: orderRepo,
		Expirer: orderService,
		TTL:     cfg.Orders.PendingOrderTTL,
	})
	if err != nil {
		return nil, err
	}

	return cron.NewRegistry(outboxJob, notificationJob, expiryJob)
}

func envOrLocal(env string) string {
	if env == "" {
		return "local"
	}
	return env
}
