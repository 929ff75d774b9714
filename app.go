package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-calls/pkg/config"
	"github.com/ekaya-inc/ekaya-calls/pkg/crypto"
	"github.com/ekaya-inc/ekaya-calls/pkg/database"
	"github.com/ekaya-inc/ekaya-calls/pkg/extraction"
	"github.com/ekaya-inc/ekaya-calls/pkg/llm"
	"github.com/ekaya-inc/ekaya-calls/pkg/platform"
	"github.com/ekaya-inc/ekaya-calls/pkg/repositories"
	"github.com/ekaya-inc/ekaya-calls/pkg/services"
	"github.com/ekaya-inc/ekaya-calls/pkg/sheets"
)

// app holds the wired service graph shared by every command.
type app struct {
	cfg    *config.Config
	logger *zap.Logger
	db     *database.DB
	redis  *redis.Client

	syncService       services.SyncService
	extractionService services.ExtractionService
	sheetService      services.SheetService
}

func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	encryptor, err := crypto.NewCredentialEncryptor(cfg.CredentialsKey)
	if err != nil {
		return nil, fmt.Errorf("CREDENTIALS_KEY: %w", err)
	}

	db, err := database.NewConnection(ctx, database.ConfigFrom(&cfg.Database))
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger, db: db}

	a.redis, err = database.NewRedisClient(ctx, &cfg.Redis)
	if err != nil {
		logger.Warn("Redis unavailable, sync lock is local to this process", zap.Error(err))
		a.redis = nil
	}

	var llmClient llm.LLMClient
	llmClient, err = llm.NewClientFromConfig(ctx, &cfg.Extraction, logger)
	switch {
	case errors.Is(err, llm.ErrNotConfigured):
		logger.Warn("No extraction backend configured, records will be stored without extracted fields")
		llmClient = nil
	case err != nil:
		a.Close()
		return nil, fmt.Errorf("extraction backend: %w", err)
	default:
		logger.Info("Extraction backend ready",
			zap.String("provider", cfg.Extraction.Provider),
			zap.String("model", llmClient.GetModel()))
	}

	userRepo := repositories.NewUserRepository()
	agentRepo := repositories.NewAgentRepository()
	executionRepo := repositories.NewExecutionRepository()
	fieldRepo := repositories.NewExtractionFieldRepository()
	connectionRepo := repositories.NewSheetConnectionRepository(encryptor)

	sink := sheets.NewSink(
		connectionRepo,
		sheets.NewTokenRefresher(&cfg.Sheets),
		sheets.NewGoogleAPIFactory(""),
		sheets.SinkConfig{RefreshLookahead: cfg.Sheets.RefreshLookahead, SheetName: cfg.Sheets.SheetName},
		logger,
	)

	extractor := extraction.NewFieldExtractor(llmClient, cfg.Extraction.Temperature, logger)
	a.extractionService = services.NewExtractionService(
		executionRepo, agentRepo, userRepo, fieldRepo, extractor, sink,
		services.ExtractionServiceConfig{
			Mode:      cfg.Extraction.Mode,
			SaveEmpty: cfg.Extraction.SaveEmptyResults,
			Location:  cfg.Sheets.Location(),
		},
		logger,
	)

	reconciler := services.NewReconciler(executionRepo, a.extractionService, logger)
	a.syncService = services.NewSyncService(
		platform.NewClient(&cfg.Platform, logger),
		reconciler,
		a.extractionService,
		userRepo,
		agentRepo,
		executionRepo,
		database.NewOwnerScopeProvider(db),
		services.NewSyncLock(a.redis, cfg.Sync.LockTTL, logger),
		llm.NewBatchRunner(llm.BatchRunnerConfig{Width: cfg.Sync.BackfillWidth}, logger),
		services.SyncServiceConfig{
			PageSize:      cfg.Platform.PageSize,
			MaxPages:      cfg.Platform.MaxPages,
			BackfillLimit: cfg.Sync.BackfillLimit,
		},
		logger,
	)
	a.sheetService = services.NewSheetService(fieldRepo, sink, cfg.Extraction.Mode, logger)

	return a, nil
}

// Close releases the database pool and Redis client.
func (a *app) Close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("Failed to close Redis client", zap.Error(err))
		}
	}
	a.db.Close()
}
