package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/assetledger-backend/internal/entitlements"
	"github.com/angelmondragon/assetledger-backend/internal/payments"
	"github.com/angelmondragon/assetledger-backend/pkg/config"
	"github.com/angelmondragon/assetledger-backend/pkg/db"
	"github.com/angelmondragon/assetledger-backend/pkg/instance"
	"github.com/angelmondragon/assetledger-backend/pkg/logger"
	"github.com/angelmondragon/assetledger-backend/pkg/metrics"
	"github.com/angelmondragon/assetledger-backend/pkg/migrate"
	"github.com/angelmondragon/assetledger-backend/pkg/outbox"
	"github.com/angelmondragon/assetledger-backend/pkg/outbox/idempotency"
	"github.com/angelmondragon/assetledger-backend/pkg/pubsub"
	"github.com/angelmondragon/assetledger-backend/pkg/redis"
	"github.com/angelmondragon/assetledger-backend/pkg/settings"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	bootLog := logger.New(logger.Options{ServiceName: "worker"})
	if err := godotenv.Load(); err != nil {
		bootLog.Warn(ctx, ".env file not found, relying on environment")
	}
	cfg, err := config.Load()
	if err != nil {
		bootLog.Error(ctx, "failed to load config", err)
		return err
	}
	cfg.Service.Kind = "worker"

	logg := logger.New(logger.Options{
		ServiceName: "worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": "worker",
		"instance":    instance.GetID("worker-0"),
	})
	fail := func(msg string, err error) error {
		logg.Error(ctx, msg, err)
		return fmt.Errorf("%s: %w", msg, err)
	}

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return fail("failed to bootstrap database", err)
	}
	defer closeQuietly(ctx, logg, "database", dbClient.Close)

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		return fail("failed to run dev migrations", err)
	}

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		return fail("failed to bootstrap redis", err)
	}
	defer closeQuietly(ctx, logg, "redis", redisClient.Close)

	pubsubClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
	if err != nil {
		return fail("failed to bootstrap pubsub", err)
	}
	defer closeQuietly(ctx, logg, "pubsub client", pubsubClient.Close)

	settingsStore := settings.NewStore(dbClient.DB(), *cfg, logg)
	ledger, err := entitlements.NewService(entitlements.ServiceParams{
		Repo:     entitlements.NewRepository(dbClient.DB()),
		Tx:       dbClient,
		Outbox:   outbox.NewService(outbox.NewRepository(dbClient.DB()), logg),
		Settings: settingsStore,
		Metrics:  metrics.NewLedgerMetrics(prometheus.DefaultRegisterer),
		Logger:   logg,
	})
	if err != nil {
		return fail("failed to create entitlement service", err)
	}

	guard, err := idempotency.NewGuard(redisClient, payments.ConsumerName, cfg.Eventing.PaymentIdempotencyTTL)
	if err != nil {
		return fail("failed to create idempotency guard", err)
	}
	consumer, err := payments.NewConsumer(pubsubClient.PaymentsSubscription(), ledger, guard, logg)
	if err != nil {
		return fail("failed to create payments consumer", err)
	}

	service, err := NewService(ServiceParams{
		Config:   cfg,
		Logger:   logg,
		DB:       dbClient,
		Redis:    redisClient,
		PubSub:   pubsubClient,
		Payments: consumer,
		Metrics:  metrics.NewJobMetrics(prometheus.DefaultRegisterer),
	})
	if err != nil {
		return fail("failed to create worker service", err)
	}

	logg.Info(ctx, "starting worker")
	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fail("worker stopped unexpectedly", err)
	}
	logg.Info(ctx, "worker shutting down gracefully")
	return nil
}

func closeQuietly(ctx context.Context, logg *logger.Logger, what string, closeFn func() error) {
	if err := closeFn(); err != nil {
		logg.Error(ctx, "error closing "+what, err)
	}
}
