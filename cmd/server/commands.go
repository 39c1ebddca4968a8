package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/phrazzld/paygate/internal/config"
	"github.com/phrazzld/paygate/internal/platform/logger"
	"github.com/phrazzld/paygate/internal/platform/postgres"
)

// roles selects which parts of the application a process runs.
type roles struct {
	api       bool
	workers   bool
	scheduler bool
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "paygate",
		Short: "Payment-gated async task gateway",
		Long: `paygate serves capability tasks behind an x402 payment gate, runs the
queue workers that execute them, and schedules the NBA data sync jobs.

Configuration is read from paygate.yaml (current directory or /etc/paygate)
and PAYGATE_* environment variables.`,
		SilenceUsage: true,
	}

	root.AddCommand(newServeCmd(), newWorkerCmd(), newMigrateCmd())
	return root
}

func newServeCmd() *cobra.Command {
	var r roles
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the queue workers and the sync scheduler",
		Long: `Run the HTTP API, the queue workers and the sync scheduler in one process.
Select a subset with --api, --workers and --scheduler; with none of them set
all three run.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			flags := cmd.Flags()
			if !flags.Changed("api") && !flags.Changed("workers") && !flags.Changed("scheduler") {
				r = roles{api: true, workers: true, scheduler: true}
			}
			return run(cmd.Context(), r)
		},
	}
	cmd.Flags().BoolVar(&r.api, "api", false, "serve the HTTP API")
	cmd.Flags().BoolVar(&r.workers, "workers", false, "run the capability and sync queue workers")
	cmd.Flags().BoolVar(&r.scheduler, "scheduler", false, "run the sync cron scheduler")
	return cmd
}

func newWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run the queue workers only",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), roles{workers: true})
		},
	}
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "migrate up|down|status",
		Short:     "Apply, roll back or list the database migrations",
		ValidArgs: []string{"up", "down", "status"},
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := bootstrap()
			if err != nil {
				return err
			}
			if cfg.Database.URL == "" {
				return errors.New("database.url is not configured")
			}

			ctx := cmd.Context()
			db, err := postgres.Open(ctx, cfg.Database.URL)
			if err != nil {
				return err
			}
			defer func() {
				if err := db.Close(); err != nil {
					log.Error("failed to close database connection", "error", err)
				}
			}()

			return postgres.Migrate(ctx, db, args[0], log)
		},
	}
}

// bootstrap loads the configuration and installs the logger.
func bootstrap() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	log, err := logger.Setup(logger.LoggerConfig{Level: cfg.Server.LogLevel})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to set up logger: %w", err)
	}

	log.Info("configuration loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Server.LogLevel,
		"environment", cfg.Server.Environment,
		"database_configured", cfg.Database.URL != "",
		"x402_enabled", cfg.X402.Enabled)

	return cfg, log, nil
}

// run builds the application and blocks until SIGINT or SIGTERM.
func run(parent context.Context, r roles) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, log, err := bootstrap()
	if err != nil {
		return err
	}

	app, err := newApplication(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	defer app.cleanup()

	return app.Run(ctx, r)
}
