package main

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/assetledger-backend/internal/entitlements"
	"github.com/angelmondragon/assetledger-backend/internal/views"
	"github.com/angelmondragon/assetledger-backend/pkg/config"
	"github.com/angelmondragon/assetledger-backend/pkg/db"
	"github.com/angelmondragon/assetledger-backend/pkg/enums"
	"github.com/angelmondragon/assetledger-backend/pkg/logger"
	"github.com/angelmondragon/assetledger-backend/pkg/outbox"
	"github.com/angelmondragon/assetledger-backend/pkg/settings"
)

// backend is everything the commands operate on.
type backend struct {
	ledger   entitlements.Service
	override *entitlements.AdminOverride
	settings *settings.Store
	views    *views.Service
	dlq      *outbox.DLQRepository
	pending  *outbox.Repository
	close    func() error
}

type openFunc func(ctx context.Context) (*backend, error)

type commandContext struct {
	open    openFunc
	actorID *int64

	once    sync.Once
	backend *backend
	err     error
}

func newCommandContext(open openFunc, actorID *int64) *commandContext {
	return &commandContext{open: open, actorID: actorID}
}

func (c *commandContext) ensureBackend(ctx context.Context) (*backend, error) {
	c.once.Do(func() {
		c.backend, c.err = c.open(ctx)
	})
	return c.backend, c.err
}

// actorContext tags outbox events written by the CLI with the operator.
func (c *commandContext) actorContext(ctx context.Context) context.Context {
	var userID int64
	if c.actorID != nil {
		userID = *c.actorID
	}
	return outbox.WithActor(ctx, outbox.ActorRef{UserID: userID, Role: string(enums.RoleAdmin)})
}

func (c *commandContext) close() error {
	if c.backend == nil || c.backend.close == nil {
		return nil
	}
	return c.backend.close()
}

// openBackend builds the services from the environment, the same way the api
// binary does.
func openBackend(ctx context.Context) (*backend, error) {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	cfg.Service.Kind = "ledgerctl"

	logg := logger.New(logger.Options{
		ServiceName: "ledgerctl",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Output:      os.Stderr,
	})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	b, err := buildBackend(dbClient, *cfg, logg)
	if err != nil {
		_ = dbClient.Close()
		return nil, err
	}
	return b, nil
}

func buildBackend(dbClient *db.Client, cfg config.Config, logg *logger.Logger) (*backend, error) {
	store := settings.NewStore(dbClient.DB(), cfg, logg)
	events := outbox.NewRepository(dbClient.DB())
	params := entitlements.ServiceParams{
		Repo:     entitlements.NewRepository(dbClient.DB()),
		Tx:       dbClient,
		Outbox:   outbox.NewService(events, logg),
		Settings: store,
		Logger:   logg,
	}
	ledger, err := entitlements.NewService(params)
	if err != nil {
		return nil, err
	}
	override, err := entitlements.NewAdminOverride(params)
	if err != nil {
		return nil, err
	}
	viewService, err := views.NewService(views.ServiceParams{
		Repo:     views.NewRepository(dbClient.DB()),
		Settings: store,
		Logger:   logg,
	})
	if err != nil {
		return nil, err
	}
	return &backend{
		ledger:   ledger,
		override: override,
		settings: store,
		views:    viewService,
		dlq:      outbox.NewDLQRepository(dbClient.DB()),
		pending:  events,
		close:    dbClient.Close,
	}, nil
}
