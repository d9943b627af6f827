package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/angelmondragon/assetledger-backend/pkg/config"
	"github.com/angelmondragon/assetledger-backend/pkg/db"
	"github.com/angelmondragon/assetledger-backend/pkg/db/models"
	"github.com/angelmondragon/assetledger-backend/pkg/logger"
	"github.com/angelmondragon/assetledger-backend/pkg/migrate"
)

var errSQLiteUpOnly = errors.New("sqlite databases only support up")

// target is the database a goose command runs against. sqlite targets have no
// SQL handle; their schema comes from the models.
type target struct {
	sql    *sql.DB
	sqlite func(ctx context.Context) error
	close  func() error
}

type openFunc func(ctx context.Context) (*target, error)

func newRootCommand(open openFunc) *cobra.Command {
	var dir string

	rootCmd := &cobra.Command{
		Use:           "migrate",
		Short:         "Manage the ledger database schema",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&dir, "dir", migrate.DefaultDir, "goose migrations directory")

	withTarget := func(fn func(ctx context.Context, t *target) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			t, err := open(cmd.Context())
			if err != nil {
				return err
			}
			if t.close != nil {
				defer t.close()
			}
			return fn(cmd.Context(), t)
		}
	}
	gooseCommand := func(name, short string) *cobra.Command {
		return &cobra.Command{
			Use:   name,
			Short: short,
			Args:  cobra.NoArgs,
			RunE: withTarget(func(ctx context.Context, t *target) error {
				if t.sql == nil {
					if name == "up" && t.sqlite != nil {
						return t.sqlite(ctx)
					}
					return errSQLiteUpOnly
				}
				return migrate.Run(ctx, t.sql, dir, name)
			}),
		}
	}

	rootCmd.AddCommand(
		gooseCommand("up", "Apply all pending migrations"),
		gooseCommand("down", "Roll back the latest migration"),
		gooseCommand("status", "Print applied and pending migrations"),
		&cobra.Command{
			Use:   "to <version>",
			Short: "Migrate up or down to an exact YYYYMMDDHHMMSS version",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withTarget(func(ctx context.Context, t *target) error {
					if t.sql == nil {
						return errSQLiteUpOnly
					}
					return migrate.MigrateToVersion(ctx, t.sql, dir, args[0])
				})(cmd, args)
			},
		},
		&cobra.Command{
			Use:   "create <name>",
			Short: "Write an empty migration file",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				path, err := migrate.CreateSQLMigration(dir, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "created migration:", path)
				return nil
			},
		},
		&cobra.Command{
			Use:   "validate",
			Short: "Check migration file names and goose annotations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				if err := migrate.ValidateDir(dir); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "migration validation passed")
				return nil
			},
		},
	)
	return rootCmd
}

func openDatabase(ctx context.Context) (*target, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logg := logger.New(logger.Options{
		ServiceName: "migrate",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Output:      os.Stderr,
	})

	client, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	t := &target{close: client.Close}
	if cfg.DB.Driver == config.DriverSQLite {
		t.sqlite = func(ctx context.Context) error {
			if err := client.DB().WithContext(ctx).AutoMigrate(models.All()...); err != nil {
				return fmt.Errorf("sqlite auto-migrate: %w", err)
			}
			logg.Info(ctx, "sqlite schema migrated")
			return nil
		}
		return t, nil
	}

	t.sql, err = client.SQL()
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("extract sql.DB: %w", err)
	}
	return t, nil
}
