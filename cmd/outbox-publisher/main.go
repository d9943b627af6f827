package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/assetledger-backend/pkg/config"
	"github.com/angelmondragon/assetledger-backend/pkg/db"
	"github.com/angelmondragon/assetledger-backend/pkg/instance"
	"github.com/angelmondragon/assetledger-backend/pkg/logger"
	"github.com/angelmondragon/assetledger-backend/pkg/metrics"
	"github.com/angelmondragon/assetledger-backend/pkg/migrate"
	"github.com/angelmondragon/assetledger-backend/pkg/outbox"
	"github.com/angelmondragon/assetledger-backend/pkg/outbox/registry"
	"github.com/angelmondragon/assetledger-backend/pkg/pubsub"
)

const serviceKind = "outbox-publisher"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

// run wires the publisher and blocks until ctx is cancelled. Failures are
// logged here; the returned error only drives the exit code.
func run(ctx context.Context) error {
	bootLog := logger.New(logger.Options{ServiceName: serviceKind})
	if err := godotenv.Load(); err != nil {
		bootLog.Warn(ctx, ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		bootLog.Error(ctx, "failed to load config", err)
		return err
	}
	cfg.Service.Kind = serviceKind

	logg := logger.New(logger.Options{
		ServiceName: serviceKind,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": serviceKind,
		"instance":    instance.GetID(serviceKind + "-0"),
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

	pubsubClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
	if err != nil {
		return fail("failed to bootstrap pubsub", err)
	}
	defer closeQuietly(ctx, logg, "pubsub client", pubsubClient.Close)

	eventRegistry, err := registry.NewEventRegistry(cfg.PubSub)
	if err != nil {
		return fail("failed to build event registry", err)
	}

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(collectors.NewGoCollector())
	relay, err := NewRelay(RelayDeps{
		Outbox:      cfg.Outbox,
		Logger:      logg,
		DB:          dbClient,
		PubSub:      pubsubClient,
		Events:      outbox.NewRepository(dbClient.DB()),
		DeadLetters: outbox.NewDLQRepository(dbClient.DB()),
		Registry:    eventRegistry,
		Metrics:     metrics.NewJobMetrics(promRegistry),
	})
	if err != nil {
		return fail("failed to create outbox relay", err)
	}

	if addr := cfg.Outbox.MetricsAddr; addr != "" {
		stopMetrics := serveMetrics(ctx, logg, addr, promRegistry)
		defer stopMetrics()
	}

	logg.Info(ctx, "outbox publisher started")
	if err := relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fail("outbox relay stopped unexpectedly", err)
	}
	return nil
}

// serveMetrics exposes the publisher's registry on a side listener and
// returns a function that shuts it down.
func serveMetrics(ctx context.Context, logg *logger.Logger, addr string, gatherer prometheus.Gatherer) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "metrics listener stopped", err)
		}
	}()
	logg.Info(logg.WithField(ctx, "addr", addr), "metrics listener started")

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}
}

func closeQuietly(ctx context.Context, logg *logger.Logger, what string, closeFn func() error) {
	if err := closeFn(); err != nil {
		logg.Error(ctx, "error closing "+what, err)
	}
}
