package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"slotguard/internal/config"
	"slotguard/internal/database"
	"slotguard/internal/database/postgres"
	"slotguard/internal/domain"
	"slotguard/internal/logging"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	CommitSHA = "none"
	BuildDate = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "slotguard",
		Short:         "Slot reservation, rate limiting and idempotent booking service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	defaultPath := os.Getenv("CONFIG_PATH")
	if defaultPath == "" {
		defaultPath = "configs/config.yaml"
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", defaultPath, "path to the YAML config file")

	root.AddCommand(newServeCmd(&configPath))
	root.AddCommand(newMigrateCmd(&configPath))
	root.AddCommand(newBookCmd())
	root.AddCommand(newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version info",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "slotguard %s (commit=%s, built=%s)\n", Version, CommitSHA, BuildDate)
		},
	}
}

func newMigrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the slot store schema and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, closer, err := loadConfigAndLogger(*configPath)
			if err != nil {
				return err
			}
			defer func() { _ = closer.Close() }()

			store, _, err := openSlotStore(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			logging.Component(logger, "migrate").Info().Str("driver", cfg.Database.Driver).Msg("schema is up to date")
			return store.Close()
		},
	}
}

func loadConfigAndLogger(configPath string) (*config.Config, *zerolog.Logger, io.Closer, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}

	logger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, logger, closer, nil
}

// openSlotStore opens the configured store; both drivers migrate on open.
// The SQLite handle is returned separately for the backup service.
func openSlotStore(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (domain.SlotStore, *database.DB, error) {
	switch cfg.Database.Driver {
	case config.DriverPostgres:
		store, err := postgres.Open(ctx, cfg.Database.Postgres.DSN, postgres.Options{
			MaxConnections: cfg.Database.Postgres.MaxConnections,
			LockTimeout:    cfg.Booking.LockTimeout,
			NoWait:         cfg.Booking.LockMode == config.LockModeNoWait,
		}, logger)
		if err != nil {
			logger.Error().Err(err).Msg("init postgres")
			return nil, nil, err
		}
		return store, nil, nil
	default:
		db, err := database.NewDB(cfg.Database.Path, logger, database.WithLockTimeout(cfg.Booking.LockTimeout))
		if err != nil {
			logger.Error().Err(err).Str("db_path", cfg.Database.Path).Msg("init database")
			return nil, nil, err
		}
		return db, db, nil
	}
}
