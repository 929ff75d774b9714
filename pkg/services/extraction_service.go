package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-calls/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-calls/pkg/config"
	"github.com/ekaya-inc/ekaya-calls/pkg/extraction"
	"github.com/ekaya-inc/ekaya-calls/pkg/logging"
	"github.com/ekaya-inc/ekaya-calls/pkg/models"
	"github.com/ekaya-inc/ekaya-calls/pkg/repositories"
	"github.com/ekaya-inc/ekaya-calls/pkg/sheets"
)

// Formats of the call date and time metadata columns.
const (
	callDateLayout = "2006-01-02"
	callTimeLayout = "15:04:05"
)

// ProcessOptions adjusts a single extraction run.
type ProcessOptions struct {
	// SaveEmpty persists and delivers the result even when nothing was found.
	SaveEmpty bool
}

// ExtractionService runs extraction and delivery for one stored execution.
type ExtractionService interface {
	// Process extracts fields from exec, delivers the row and marks the record
	// processed. It never returns an error: failures are reported in the outcome
	// and leave the record unprocessed for a later attempt.
	Process(ctx context.Context, exec *models.Execution, opts ProcessOptions) *models.ExtractionOutcome

	// ProcessByExecutionID loads the caller's record and runs Process on it.
	ProcessByExecutionID(ctx context.Context, ownerID uuid.UUID, executionID string, opts ProcessOptions) (*models.ExtractionOutcome, error)
}

// ExtractionServiceConfig holds extraction step settings.
type ExtractionServiceConfig struct {
	Mode      string
	SaveEmpty bool
	Location  *time.Location
}

type extractionService struct {
	executionRepo repositories.ExecutionRepository
	agentRepo     repositories.AgentRepository
	userRepo      repositories.UserRepository
	fieldRepo     repositories.ExtractionFieldRepository
	extractor     extraction.FieldExtractor
	doctorInfo    *extraction.DoctorInfoExtractor
	sink          sheets.Sink
	config        ExtractionServiceConfig
	now           func() time.Time
	logger        *zap.Logger
}

var _ ExtractionService = (*extractionService)(nil)

// NewExtractionService creates the extraction-and-delivery step.
func NewExtractionService(
	executionRepo repositories.ExecutionRepository,
	agentRepo repositories.AgentRepository,
	userRepo repositories.UserRepository,
	fieldRepo repositories.ExtractionFieldRepository,
	extractor extraction.FieldExtractor,
	sink sheets.Sink,
	cfg ExtractionServiceConfig,
	logger *zap.Logger,
) ExtractionService {
	if cfg.Mode == "" {
		cfg.Mode = config.ExtractionModeCustom
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &extractionService{
		executionRepo: executionRepo,
		agentRepo:     agentRepo,
		userRepo:      userRepo,
		fieldRepo:     fieldRepo,
		extractor:     extractor,
		doctorInfo:    extraction.NewDoctorInfoExtractor(extractor, logger),
		sink:          sink,
		config:        cfg,
		now:           time.Now,
		logger:        logger.Named("extraction-service"),
	}
}

func (s *extractionService) ProcessByExecutionID(ctx context.Context, ownerID uuid.UUID, executionID string, opts ProcessOptions) (*models.ExtractionOutcome, error) {
	exec, err := s.executionRepo.GetByExecutionID(ctx, executionID)
	if err != nil {
		return nil, err
	}
	if exec == nil {
		return nil, apperrors.ErrNotFound
	}
	if exec.UserID != ownerID {
		return nil, apperrors.ErrOwnershipViolation
	}
	return s.Process(ctx, exec, opts), nil
}

// extractedRow is the mode-specific part of a result.
type extractedRow struct {
	key        string
	stored     map[string]any
	values     []string
	meaningful bool
}

func (s *extractionService) Process(ctx context.Context, exec *models.Execution, opts ProcessOptions) *models.ExtractionOutcome {
	outcome := &models.ExtractionOutcome{ExecutionID: exec.ExecutionID}
	log := s.logger.With(zap.String("execution_id", exec.ExecutionID))

	if exec.ExtractedData.Processed() {
		outcome.Status = models.ExtractionAlreadyProcessed
		return outcome
	}
	if !exec.HasTranscript() {
		outcome.Status = models.ExtractionNoTranscript
		return outcome
	}

	agent, owner, err := s.resolveOwner(ctx, exec)
	if err != nil {
		log.Warn("Cannot resolve execution owner, skipping extraction", zap.Error(err))
		outcome.Status = models.ExtractionNoOwner
		outcome.Error = err.Error()
		return outcome
	}

	var row *extractedRow
	switch s.config.Mode {
	case config.ExtractionModeDoctorInfo:
		row = s.extractDoctorInfo(ctx, exec)
	default:
		row, err = s.extractCustomFields(ctx, exec, owner.ID)
		if err != nil {
			log.Error("Extraction failed, record left unprocessed",
				zap.String("agent_id", agent.AgentID),
				zap.String("transcript", logging.TranscriptExcerpt(exec.Transcript)),
				zap.Error(err))
			outcome.Status = models.ExtractionFailed
			outcome.Error = err.Error()
			return outcome
		}
		if row == nil {
			log.Info("No active extraction fields for owner, storing raw data only",
				zap.String("user_id", owner.ID.String()))
			outcome.Status = models.ExtractionNoFields
			return outcome
		}
	}

	if !row.meaningful && !opts.SaveEmpty && !s.config.SaveEmpty {
		log.Info("Extraction found no data, record left unprocessed")
		outcome.Status = models.ExtractionEmpty
		return outcome
	}

	metadata := s.callMetadata(exec, agent)
	data := models.ExtractedData{
		models.KeyExtractionMode: s.config.Mode,
		row.key:                  row.stored,
		models.KeyCallMetadata:   metadata.AsMap(),
	}

	rowValues := append(row.values, metadata.Values()...)
	delivered, deliveryErr := s.sink.AppendRow(ctx, owner.ID, rowValues)
	switch {
	case deliveryErr != nil:
		log.Warn("Sheet delivery failed, marking processed anyway",
			zap.String("user_id", owner.ID.String()),
			zap.Error(deliveryErr))
		outcome.DeliveryErr = deliveryErr.Error()
		data[models.KeySheetsSynced] = false
		data[models.KeySheetsError] = logging.SanitizeError(deliveryErr)
	case delivered:
		outcome.Delivered = true
		data[models.KeySheetsSynced] = true
		data[models.KeySheetsSyncedAt] = s.now().UTC().Format(time.RFC3339Nano)
	default:
		data[models.KeySheetsSynced] = false
	}

	data[models.KeyProcessed] = true
	data[models.KeyProcessedAt] = s.now().UTC().Format(time.RFC3339Nano)

	written, err := s.executionRepo.MarkExtracted(ctx, exec.ExecutionID, data)
	if err != nil {
		log.Error("Failed to store extraction result", zap.Error(err))
		outcome.Status = models.ExtractionFailed
		outcome.Error = err.Error()
		return outcome
	}
	if !written {
		log.Info("Execution was processed concurrently, result discarded")
		outcome.Status = models.ExtractionAlreadyProcessed
		return outcome
	}

	exec.ExtractedData = models.MergeExtractedData(exec.ExtractedData, data)
	outcome.Status = models.ExtractionProcessed
	if row.meaningful {
		log.Info("Execution processed", zap.Bool("delivered", outcome.Delivered))
	} else {
		log.Info("Execution processed with empty result", zap.Bool("delivered", outcome.Delivered))
	}
	return outcome
}

func (s *extractionService) resolveOwner(ctx context.Context, exec *models.Execution) (*models.Agent, *models.User, error) {
	agent, err := s.agentRepo.GetByID(ctx, exec.AgentID)
	if err != nil {
		return nil, nil, fmt.Errorf("load agent: %w", err)
	}
	if agent == nil {
		return nil, nil, fmt.Errorf("agent %s: %w", exec.AgentID, apperrors.ErrNotFound)
	}
	if agent.UserID != exec.UserID {
		return nil, nil, fmt.Errorf("agent %s: %w", exec.AgentID, apperrors.ErrOwnershipViolation)
	}

	owner, err := s.userRepo.GetByID(ctx, agent.UserID)
	if err != nil {
		return nil, nil, fmt.Errorf("load owner: %w", err)
	}
	if owner == nil {
		return nil, nil, fmt.Errorf("user %s: %w", agent.UserID, apperrors.ErrNotFound)
	}
	return agent, owner, nil
}

// extractCustomFields returns nil, nil when the owner has no active fields.
func (s *extractionService) extractCustomFields(ctx context.Context, exec *models.Execution, ownerID uuid.UUID) (*extractedRow, error) {
	defs, err := s.fieldRepo.ListActive(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("load extraction fields: %w", err)
	}
	if len(defs) == 0 {
		return nil, nil
	}

	fields := make([]extraction.Field, len(defs))
	for i, d := range defs {
		fields[i] = extraction.Field{Name: d.FieldName, Instruction: d.Instruction}
	}

	values, err := s.extractor.Extract(ctx, exec.Transcript, fields)
	if err != nil {
		return nil, err
	}

	stored := make(map[string]any, len(values))
	for k, v := range values {
		stored[k] = v
	}
	return &extractedRow{
		key:        models.KeyCustomFields,
		stored:     stored,
		values:     extraction.OrderedValues(values, fields),
		meaningful: extraction.HasMeaningfulData(values),
	}, nil
}

func (s *extractionService) extractDoctorInfo(ctx context.Context, exec *models.Execution) *extractedRow {
	info := s.doctorInfo.Extract(ctx, exec.Transcript)
	return &extractedRow{
		key:        models.KeyDoctorInfo,
		stored:     info.AsMap(),
		values:     info.Values(),
		meaningful: info.HasMeaningfulData(),
	}
}

func (s *extractionService) callMetadata(exec *models.Execution, agent *models.Agent) models.CallMetadata {
	at := exec.CallTime().In(s.config.Location)
	return models.CallMetadata{
		CallDate:    at.Format(callDateLayout),
		CallTime:    at.Format(callTimeLayout),
		ExecutionID: exec.ExecutionID,
		AgentName:   agent.DisplayName(),
	}
}
