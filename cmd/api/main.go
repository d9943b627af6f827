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
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/assetledger-backend/api/routes"
	"github.com/angelmondragon/assetledger-backend/internal/downloads"
	"github.com/angelmondragon/assetledger-backend/internal/entitlements"
	"github.com/angelmondragon/assetledger-backend/internal/views"
	"github.com/angelmondragon/assetledger-backend/pkg/config"
	"github.com/angelmondragon/assetledger-backend/pkg/db"
	"github.com/angelmondragon/assetledger-backend/pkg/instance"
	"github.com/angelmondragon/assetledger-backend/pkg/logger"
	"github.com/angelmondragon/assetledger-backend/pkg/metrics"
	"github.com/angelmondragon/assetledger-backend/pkg/migrate"
	"github.com/angelmondragon/assetledger-backend/pkg/outbox"
	"github.com/angelmondragon/assetledger-backend/pkg/redis"
	"github.com/angelmondragon/assetledger-backend/pkg/settings"
	"github.com/angelmondragon/assetledger-backend/pkg/storage"
)

const (
	serviceKind       = "api"
	shutdownTimeout   = 15 * time.Second
	readHeaderTimeout = 10 * time.Second
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

// ledgerServices is everything the router hands to controllers.
type ledgerServices struct {
	ledger   entitlements.Service
	override *entitlements.AdminOverride
	gate     *downloads.Gate
	views    *views.Service
}

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

	logg := logger.New(logger.Options{
		ServiceName: serviceKind,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})
	addr := ":" + listenPort(cfg)
	ctx = logg.WithFields(ctx, map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"instance": instance.GetID("local"),
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

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	svc, err := buildServices(cfg, logg, dbClient, redisClient, metrics.NewLedgerMetrics(promRegistry))
	if err != nil {
		return fail("failed to build ledger services", err)
	}

	handler := routes.NewRouter(cfg, logg, dbClient, redisClient,
		svc.ledger, svc.override, svc.gate, svc.views,
		promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{}))
	if err := serve(ctx, logg, addr, handler); err != nil {
		return fail("api server stopped unexpectedly", err)
	}
	return nil
}

func listenPort(cfg *config.Config) string {
	if port := os.Getenv("PORT"); port != "" {
		return port
	}
	return cfg.App.Port
}

func buildServices(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, redisClient *redis.Client, ledgerMetrics *metrics.LedgerMetrics) (*ledgerServices, error) {
	settingsStore := settings.NewStore(dbClient.DB(), *cfg, logg)

	params := entitlements.ServiceParams{
		Repo:     entitlements.NewRepository(dbClient.DB()),
		Tx:       dbClient,
		Outbox:   outbox.NewService(outbox.NewRepository(dbClient.DB()), logg),
		Settings: settingsStore,
		Metrics:  ledgerMetrics,
		Logger:   logg,
	}
	ledger, err := entitlements.NewService(params)
	if err != nil {
		return nil, fmt.Errorf("entitlement service: %w", err)
	}
	override, err := entitlements.NewAdminOverride(params)
	if err != nil {
		return nil, fmt.Errorf("admin override: %w", err)
	}

	resolver, err := storage.NewLocalResolver(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("storage resolver: %w", err)
	}
	gate, err := downloads.NewGate(downloads.GateParams{
		Owners:     ledger,
		Assets:     downloads.NewAssetRepository(dbClient.DB()),
		Resolver:   resolver,
		AccessLogs: downloads.NewAccessLogRepository(dbClient.DB()),
		Metrics:    ledgerMetrics,
		Logger:     logg,
	})
	if err != nil {
		return nil, fmt.Errorf("download gate: %w", err)
	}

	viewParams := views.ServiceParams{
		Repo:     views.NewRepository(dbClient.DB()),
		Settings: settingsStore,
		Metrics:  ledgerMetrics,
		Logger:   logg,
	}
	if cfg.FeatureFlags.ViewRedisClaims {
		viewParams.Claimer = redisClient
	}
	viewService, err := views.NewService(viewParams)
	if err != nil {
		return nil, fmt.Errorf("view service: %w", err)
	}

	return &ledgerServices{ledger: ledger, override: override, gate: gate, views: viewService}, nil
}

// serve runs the HTTP server until ctx is cancelled, then drains in-flight
// requests for up to shutdownTimeout.
func serve(ctx context.Context, logg *logger.Logger, addr string, handler http.Handler) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logg.Info(ctx, "api server listening")
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		logg.Info(ctx, "api server drained")
		return nil
	})
	return g.Wait()
}

func closeQuietly(ctx context.Context, logg *logger.Logger, what string, closeFn func() error) {
	if err := closeFn(); err != nil {
		logg.Error(ctx, "error closing "+what, err)
	}
}
