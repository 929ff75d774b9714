package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-calls/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-calls/pkg/database"
	"github.com/ekaya-inc/ekaya-calls/pkg/llm"
	"github.com/ekaya-inc/ekaya-calls/pkg/models"
	"github.com/ekaya-inc/ekaya-calls/pkg/platform"
	"github.com/ekaya-inc/ekaya-calls/pkg/repositories"
)

// SyncService orchestrates fetching executions from the platform and driving
// stored records through extraction.
type SyncService interface {
	// SyncAll syncs every owner with active agents. Owners with a sync already
	// running are skipped.
	SyncAll(ctx context.Context) (*models.SyncReport, error)

	// SyncOwner syncs every active agent of one owner.
	SyncOwner(ctx context.Context, ownerID uuid.UUID) (*models.SyncReport, error)

	// SyncAgent syncs one agent. Returns apperrors.ErrNotFound if the owner does not track it.
	SyncAgent(ctx context.Context, ownerID, agentID uuid.UUID) (*models.AgentSyncResult, error)

	// SyncExecution re-fetches one execution from the platform and reconciles it.
	SyncExecution(ctx context.Context, ownerID uuid.UUID, executionID string) (*ReconcileResult, error)

	// Backfill drives the owner's stored, unprocessed records through extraction.
	Backfill(ctx context.Context, ownerID uuid.UUID) (*models.BackfillReport, error)

	// BackfillAll is Backfill across every owner.
	BackfillAll(ctx context.Context) (*models.BackfillReport, error)

	// RunScheduler runs SyncAll then BackfillAll immediately and on every tick
	// until ctx is cancelled.
	RunScheduler(ctx context.Context, interval time.Duration) error
}

// SyncServiceConfig holds orchestrator settings.
type SyncServiceConfig struct {
	PageSize      int
	MaxPages      int
	BackfillLimit int
}

type syncService struct {
	platform      platform.Client
	reconciler    Reconciler
	extraction    ExtractionService
	userRepo      repositories.UserRepository
	agentRepo     repositories.AgentRepository
	executionRepo repositories.ExecutionRepository
	scopes        database.ScopeProvider
	lock          SyncLock
	batches       *llm.BatchRunner
	config        SyncServiceConfig
	now           func() time.Time
	logger        *zap.Logger
}

var _ SyncService = (*syncService)(nil)

// NewSyncService creates the sync orchestrator.
func NewSyncService(
	platformClient platform.Client,
	reconciler Reconciler,
	extraction ExtractionService,
	userRepo repositories.UserRepository,
	agentRepo repositories.AgentRepository,
	executionRepo repositories.ExecutionRepository,
	scopes database.ScopeProvider,
	lock SyncLock,
	batches *llm.BatchRunner,
	cfg SyncServiceConfig,
	logger *zap.Logger,
) SyncService {
	if cfg.PageSize < 1 {
		cfg.PageSize = 50
	}
	if cfg.MaxPages < 1 {
		cfg.MaxPages = 1000
	}
	if cfg.BackfillLimit < 1 {
		cfg.BackfillLimit = 500
	}
	return &syncService{
		platform:      platformClient,
		reconciler:    reconciler,
		extraction:    extraction,
		userRepo:      userRepo,
		agentRepo:     agentRepo,
		executionRepo: executionRepo,
		scopes:        scopes,
		lock:          lock,
		batches:       batches,
		config:        cfg,
		now:           time.Now,
		logger:        logger.Named("sync"),
	}
}

func (s *syncService) SyncAll(ctx context.Context) (*models.SyncReport, error) {
	owners, err := s.listOwners(ctx)
	if err != nil {
		return nil, err
	}

	report := &models.SyncReport{StartedAt: s.now()}
	for _, owner := range owners {
		if err := ctx.Err(); err != nil {
			s.logger.Info("Sync run cancelled", zap.Error(err))
			break
		}

		ownerReport, err := s.SyncOwner(ctx, owner.ID)
		if errors.Is(err, apperrors.ErrSyncInProgress) {
			s.logger.Info("Sync already running for owner, skipping", zap.String("user_id", owner.ID.String()))
			continue
		}
		if err != nil {
			s.logger.Error("Owner sync failed", zap.String("user_id", owner.ID.String()), zap.Error(err))
			continue
		}
		for _, res := range ownerReport.Agents {
			report.AddAgent(res)
		}
	}
	report.FinishedAt = s.now()

	s.logger.Info("Sync run finished",
		zap.Int("owners", len(owners)),
		zap.Int("agents_succeeded", report.AgentsSucceeded),
		zap.Int("agents_failed", report.AgentsFailed),
		zap.Int("synced", report.Synced),
		zap.Int("failed", report.Failed),
		zap.Duration("elapsed", report.FinishedAt.Sub(report.StartedAt)))

	return report, nil
}

func (s *syncService) listOwners(ctx context.Context) ([]*models.User, error) {
	sysCtx, cleanup, err := s.scopes.WithSystemScope(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire database connection: %w", err)
	}
	defer cleanup()

	owners, err := s.userRepo.ListWithActiveAgents(sysCtx)
	if err != nil {
		return nil, fmt.Errorf("list owners: %w", err)
	}
	return owners, nil
}

func (s *syncService) SyncOwner(ctx context.Context, ownerID uuid.UUID) (*models.SyncReport, error) {
	release, err := s.lock.Acquire(ctx, ownerLockKey(ownerID))
	if err != nil {
		return nil, err
	}
	defer release()

	ownerCtx, cleanup, err := s.scopes.WithOwnerScope(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("acquire database connection: %w", err)
	}
	defer cleanup()

	agents, err := s.agentRepo.ListActiveByUser(ownerCtx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}

	report := &models.SyncReport{StartedAt: s.now()}
	for _, agent := range agents {
		if ctx.Err() != nil {
			break
		}
		report.AddAgent(s.syncAgent(ownerCtx, agent))
	}
	report.FinishedAt = s.now()
	return report, nil
}

func (s *syncService) SyncAgent(ctx context.Context, ownerID, agentID uuid.UUID) (*models.AgentSyncResult, error) {
	release, err := s.lock.Acquire(ctx, ownerLockKey(ownerID))
	if err != nil {
		return nil, err
	}
	defer release()

	ownerCtx, cleanup, err := s.scopes.WithOwnerScope(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("acquire database connection: %w", err)
	}
	defer cleanup()

	agent, err := s.agentRepo.GetByID(ownerCtx, agentID)
	if err != nil {
		return nil, err
	}
	if agent == nil || agent.UserID != ownerID {
		return nil, apperrors.ErrNotFound
	}

	return s.syncAgent(ownerCtx, agent), nil
}

// syncAgent pages through one agent's executions. Only a failed first page
// fails the agent; a later page failure ends pagination with what was synced.
func (s *syncService) syncAgent(ctx context.Context, agent *models.Agent) *models.AgentSyncResult {
	result := &models.AgentSyncResult{
		AgentID:       agent.ID,
		RemoteAgentID: agent.AgentID,
		State:         models.AgentSyncDone,
	}
	log := s.logger.With(zap.String("agent_id", agent.AgentID), zap.String("user_id", agent.UserID.String()))

	for page := 1; page <= s.config.MaxPages; page++ {
		if err := ctx.Err(); err != nil {
			result.Error = err.Error()
			break
		}

		p, err := s.platform.ListExecutions(ctx, agent.AgentID, page, s.config.PageSize)
		if err != nil {
			if page == 1 {
				log.Error("Agent sync failed on first page", zap.Error(err))
				result.State = models.AgentSyncFailed
				result.Error = err.Error()
				return result
			}
			log.Warn("Page fetch failed, ending agent sync early",
				zap.Int("page", page),
				zap.Error(err))
			result.PageErrors++
			result.Error = err.Error()
			break
		}
		result.Pages++

		for _, raw := range p.Items {
			res, err := s.reconciler.Reconcile(ctx, agent, raw)
			if err != nil {
				result.Failed++
				log.Warn("Failed to reconcile execution", zap.Int("page", page), zap.Error(err))
				continue
			}
			result.Synced++
			result.Extraction.Add(res.Extraction)
		}

		if !p.HasMore {
			break
		}
		if page == s.config.MaxPages {
			log.Warn("Page limit reached before platform reported the last page",
				zap.Int("max_pages", s.config.MaxPages))
		}
	}

	if err := s.agentRepo.UpdateLastSynced(ctx, agent.ID, s.now()); err != nil {
		log.Warn("Failed to record agent sync time", zap.Error(err))
	}

	log.Info("Agent sync finished",
		zap.Int("pages", result.Pages),
		zap.Int("synced", result.Synced),
		zap.Int("failed", result.Failed),
		zap.Int("processed", result.Extraction.Processed))

	return result
}

func (s *syncService) SyncExecution(ctx context.Context, ownerID uuid.UUID, executionID string) (*ReconcileResult, error) {
	ownerCtx, cleanup, err := s.scopes.WithOwnerScope(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("acquire database connection: %w", err)
	}
	defer cleanup()

	rec, err := s.platform.GetExecution(ctx, executionID)
	if err != nil {
		return nil, fmt.Errorf("fetch execution %s: %w", executionID, err)
	}

	agent, err := s.agentForRecord(ownerCtx, ownerID, rec)
	if err != nil {
		return nil, err
	}

	return s.reconciler.ReconcileRecord(ownerCtx, agent, rec)
}

// agentForRecord finds the owner's agent for a fetched record, by the record's
// agent id or, when absent, by the stored copy of the record.
func (s *syncService) agentForRecord(ctx context.Context, ownerID uuid.UUID, rec *platform.Record) (*models.Agent, error) {
	if remoteAgent := rec.AgentID(); remoteAgent != "" {
		agent, err := s.agentRepo.GetByRemoteID(ctx, ownerID, remoteAgent)
		if err != nil {
			return nil, err
		}
		if agent == nil {
			return nil, apperrors.ErrNotFound
		}
		return agent, nil
	}

	stored, err := s.executionRepo.GetByExecutionID(ctx, rec.ID())
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, apperrors.ErrNotFound
	}
	if stored.UserID != ownerID {
		return nil, apperrors.ErrOwnershipViolation
	}
	agent, err := s.agentRepo.GetByID(ctx, stored.AgentID)
	if err != nil {
		return nil, err
	}
	if agent == nil {
		return nil, apperrors.ErrNotFound
	}
	return agent, nil
}

func (s *syncService) Backfill(ctx context.Context, ownerID uuid.UUID) (*models.BackfillReport, error) {
	release, err := s.lock.Acquire(ctx, ownerLockKey(ownerID))
	if err != nil {
		return nil, err
	}
	defer release()

	ownerCtx, cleanup, err := s.scopes.WithOwnerScope(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("acquire database connection: %w", err)
	}
	candidates, err := s.executionRepo.ListBackfillCandidates(ownerCtx, s.config.BackfillLimit)
	cleanup()
	if err != nil {
		return nil, fmt.Errorf("list backfill candidates: %w", err)
	}

	return s.runBackfill(ctx, candidates), nil
}

func (s *syncService) BackfillAll(ctx context.Context) (*models.BackfillReport, error) {
	release, err := s.lock.Acquire(ctx, backfillLockKey)
	if err != nil {
		return nil, err
	}
	defer release()

	sysCtx, cleanup, err := s.scopes.WithSystemScope(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire database connection: %w", err)
	}
	candidates, err := s.executionRepo.ListBackfillCandidates(sysCtx, s.config.BackfillLimit)
	cleanup()
	if err != nil {
		return nil, fmt.Errorf("list backfill candidates: %w", err)
	}

	locked, skipped, releaseOwners := s.lockCandidateOwners(ctx, candidates)
	defer releaseOwners()

	report := s.runBackfill(ctx, locked)
	report.OwnersSkipped = skipped
	return report, nil
}

// lockCandidateOwners takes the per-owner sync lock for every owner among
// candidates so a concurrent SyncOwner or Backfill cannot deliver the same
// record twice. Candidates of owners whose lock is held are dropped.
func (s *syncService) lockCandidateOwners(ctx context.Context, candidates []*models.Execution) ([]*models.Execution, int, func()) {
	held := make(map[uuid.UUID]bool)
	var releases []func()
	skipped := 0

	kept := make([]*models.Execution, 0, len(candidates))
	for _, exec := range candidates {
		ok, seen := held[exec.UserID]
		if !seen {
			release, err := s.lock.Acquire(ctx, ownerLockKey(exec.UserID))
			switch {
			case errors.Is(err, apperrors.ErrSyncInProgress):
				s.logger.Info("Sync running for owner, skipping backfill", zap.String("user_id", exec.UserID.String()))
				skipped++
			case err != nil:
				s.logger.Error("Failed to acquire owner lock for backfill",
					zap.String("user_id", exec.UserID.String()), zap.Error(err))
				skipped++
			default:
				releases = append(releases, release)
			}
			ok = err == nil
			held[exec.UserID] = ok
		}
		if ok {
			kept = append(kept, exec)
		}
	}

	return kept, skipped, func() {
		for _, release := range releases {
			release()
		}
	}
}

// runBackfill processes candidates in fixed-width batches. Every work item gets
// its own owner-scoped connection since a pooled connection is not safe for
// concurrent use.
func (s *syncService) runBackfill(ctx context.Context, candidates []*models.Execution) *models.BackfillReport {
	report := &models.BackfillReport{StartedAt: s.now(), Candidates: len(candidates)}

	items := make([]llm.WorkItem[*models.ExtractionOutcome], len(candidates))
	for i, exec := range candidates {
		items[i] = llm.WorkItem[*models.ExtractionOutcome]{
			ID: exec.ExecutionID,
			Execute: func(ctx context.Context) (*models.ExtractionOutcome, error) {
				ownerCtx, cleanup, err := s.scopes.WithOwnerScope(ctx, exec.UserID)
				if err != nil {
					return nil, fmt.Errorf("acquire database connection: %w", err)
				}
				defer cleanup()
				return s.extraction.Process(ownerCtx, exec, ProcessOptions{}), nil
			},
		}
	}

	results := llm.RunBatches(ctx, s.batches, items, func(batch, completed, total int) {
		report.Batches = batch
		s.logger.Debug("Backfill batch finished",
			zap.Int("batch", batch),
			zap.Int("completed", completed),
			zap.Int("total", total))
	})

	for _, r := range results {
		if r.Err != nil {
			report.Extraction.Add(&models.ExtractionOutcome{
				ExecutionID: r.ID,
				Status:      models.ExtractionFailed,
				Error:       r.Err.Error(),
			})
			continue
		}
		report.Extraction.Add(r.Result)
	}
	report.FinishedAt = s.now()

	s.logger.Info("Backfill finished",
		zap.Int("candidates", report.Candidates),
		zap.Int("batches", report.Batches),
		zap.Int("processed", report.Extraction.Processed),
		zap.Int("empty", report.Extraction.Empty),
		zap.Int("failed", report.Extraction.Failed),
		zap.Int("delivered", report.Extraction.Delivered))

	return report
}

func (s *syncService) RunScheduler(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("scheduler interval must be positive, got %v", interval)
	}

	s.logger.Info("Sync scheduler started", zap.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		s.runScheduledCycle(ctx)

		select {
		case <-ctx.Done():
			s.logger.Info("Sync scheduler stopped")
			return nil
		case <-ticker.C:
		}
	}
}

func (s *syncService) runScheduledCycle(ctx context.Context) {
	release, err := s.lock.Acquire(ctx, schedulerLockKey)
	if errors.Is(err, apperrors.ErrSyncInProgress) {
		s.logger.Debug("Another scheduler instance is running this cycle")
		return
	}
	if err != nil {
		s.logger.Error("Failed to acquire scheduler lock", zap.Error(err))
		return
	}
	defer release()

	if _, err := s.SyncAll(ctx); err != nil {
		s.logger.Error("Scheduled sync failed", zap.Error(err))
	}
	if ctx.Err() != nil {
		return
	}
	if _, err := s.BackfillAll(ctx); err != nil && !errors.Is(err, apperrors.ErrSyncInProgress) {
		s.logger.Error("Scheduled backfill failed", zap.Error(err))
	}
}
