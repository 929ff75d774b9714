package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ekaya-inc/ekaya-calls/pkg/auth"
	"github.com/ekaya-inc/ekaya-calls/pkg/config"
	"github.com/ekaya-inc/ekaya-calls/pkg/database"
	"github.com/ekaya-inc/ekaya-calls/pkg/handlers"
	"github.com/ekaya-inc/ekaya-calls/pkg/middleware"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "ekaya-calls",
		Short:         "Call execution sync and extraction service",
		Long:          "ekaya-calls pulls voice-agent call executions, extracts structured fields from transcripts and appends them to each owner's spreadsheet.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "Path to config file (optional)")

	rootCmd.AddCommand(newServeCommand(&configPath))
	rootCmd.AddCommand(newSyncCommand(&configPath))
	rootCmd.AddCommand(newBackfillCommand(&configPath))
	rootCmd.AddCommand(newMigrateCommand(&configPath))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	zapCfg := zap.NewProductionConfig()
	if cfg.Env == "local" {
		zapCfg = zap.NewDevelopmentConfig()
	}
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("log_level: %w", err)
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)
	return zapCfg.Build()
}

// bootstrap loads config and builds the logger.
func bootstrap(configPath string) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configPath, Version)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func newServeCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the periodic sync scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := bootstrap(*configPath)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			logger.Info("Configuration loaded",
				zap.String("version", cfg.Version),
				zap.String("env", cfg.Env),
				zap.Bool("auth_verification", cfg.Auth.EnableVerification),
				zap.String("database", fmt.Sprintf("%s@%s:%d/%s", cfg.Database.User, cfg.Database.Host, cfg.Database.Port, cfg.Database.Database)),
				zap.Bool("redis", cfg.Redis.Host != ""),
				zap.String("extraction_provider", cfg.Extraction.Provider),
				zap.String("extraction_mode", cfg.Extraction.Mode))

			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			return serve(ctx, a)
		},
	}
}

func serve(ctx context.Context, a *app) error {
	cfg, logger := a.cfg, a.logger

	authMiddleware := auth.NewMiddleware(auth.NewAuthService(cfg.Auth, logger), logger)
	ownerMiddleware := handlers.OwnerMiddleware(database.WithOwnerContext(a.db, logger))

	mux := http.NewServeMux()
	handlers.NewHealthHandler(cfg, a.db, logger).RegisterRoutes(mux)
	handlers.NewSyncHandler(a.syncService, logger).RegisterRoutes(mux, authMiddleware)
	handlers.NewExecutionHandler(a.syncService, a.extractionService, logger).RegisterRoutes(mux, authMiddleware, ownerMiddleware)
	handlers.NewSheetsHandler(a.sheetService, logger).RegisterRoutes(mux, authMiddleware, ownerMiddleware)

	server := &http.Server{
		Addr:              net.JoinHostPort(cfg.BindAddr, cfg.Port),
		Handler:           middleware.RequestLogger(logger)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	schedulerDone := make(chan struct{})
	if cfg.Sync.EnableScheduler {
		go func() {
			defer close(schedulerDone)
			if err := a.syncService.RunScheduler(ctx, cfg.Sync.Interval); err != nil {
				logger.Error("Sync scheduler exited", zap.Error(err))
			}
		}()
	} else {
		close(schedulerDone)
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Starting ekaya-calls", zap.String("addr", server.Addr), zap.String("version", cfg.Version))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown failed", zap.Error(err))
	}
	<-schedulerDone
	return nil
}

func parseOwnerFlag(cmd *cobra.Command) (uuid.UUID, error) {
	raw, _ := cmd.Flags().GetString("owner")
	if raw == "" {
		return uuid.Nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid --owner %q: %w", raw, err)
	}
	return id, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newSyncCommand(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Sync executions once for every owner, or one owner with --owner",
		RunE: func(cmd *cobra.Command, args []string) error {
			ownerID, err := parseOwnerFlag(cmd)
			if err != nil {
				return err
			}
			cfg, logger, err := bootstrap(*configPath)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			if ownerID != uuid.Nil {
				report, err := a.syncService.SyncOwner(ctx, ownerID)
				if err != nil {
					return err
				}
				return printJSON(report)
			}
			report, err := a.syncService.SyncAll(ctx)
			if err != nil {
				return err
			}
			return printJSON(report)
		},
	}
	cmd.Flags().String("owner", "", "Only sync this owner (user UUID)")
	return cmd
}

func newBackfillCommand(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Run extraction over stored records that were never processed",
		RunE: func(cmd *cobra.Command, args []string) error {
			ownerID, err := parseOwnerFlag(cmd)
			if err != nil {
				return err
			}
			cfg, logger, err := bootstrap(*configPath)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			if ownerID != uuid.Nil {
				report, err := a.syncService.Backfill(ctx, ownerID)
				if err != nil {
					return err
				}
				return printJSON(report)
			}
			report, err := a.syncService.BackfillAll(ctx)
			if err != nil {
				return err
			}
			return printJSON(report)
		},
	}
	cmd.Flags().String("owner", "", "Only backfill this owner (user UUID)")
	return cmd
}

func newMigrateCommand(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:       "migrate [up|down]",
		Short:     "Apply or roll back database migrations",
		Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"up", "down"},
		RunE: func(cmd *cobra.Command, args []string) error {
			direction := "up"
			if len(args) == 1 {
				direction = strings.ToLower(args[0])
			}
			steps, _ := cmd.Flags().GetInt("steps")

			cfg, logger, err := bootstrap(*configPath)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			sqlDB, err := database.OpenSQL(cfg.Database.URL())
			if err != nil {
				return err
			}
			defer sqlDB.Close()

			if direction == "down" {
				return database.RollbackMigrations(sqlDB, cfg.Database.MigrationsPath, steps, logger)
			}
			return database.RunMigrations(sqlDB, cfg.Database.MigrationsPath, logger)
		},
	}
	cmd.Flags().Int("steps", 1, "Number of migrations to roll back with 'down'")
	return cmd
}
