package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-calls/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-calls/pkg/models"
	"github.com/ekaya-inc/ekaya-calls/pkg/platform"
	"github.com/ekaya-inc/ekaya-calls/pkg/repositories"
)

var minorUnitsPerMajor = decimal.NewFromInt(100)

// ReconcileResult is the outcome of reconciling one remote record.
type ReconcileResult struct {
	Execution *models.Execution
	// Extraction is nil when the record has no transcript.
	Extraction *models.ExtractionOutcome
}

// Reconciler merges remote execution records into local storage.
type Reconciler interface {
	// Reconcile parses one list item and reconciles it under agent.
	Reconcile(ctx context.Context, agent *models.Agent, raw json.RawMessage) (*ReconcileResult, error)

	// ReconcileRecord upserts rec under agent, keeping previously computed
	// extraction results, then runs extraction when the record has a transcript.
	ReconcileRecord(ctx context.Context, agent *models.Agent, rec *platform.Record) (*ReconcileResult, error)
}

type reconciler struct {
	executionRepo repositories.ExecutionRepository
	extraction    ExtractionService
	logger        *zap.Logger
}

var _ Reconciler = (*reconciler)(nil)

// NewReconciler creates a record reconciler.
func NewReconciler(executionRepo repositories.ExecutionRepository, extraction ExtractionService, logger *zap.Logger) Reconciler {
	return &reconciler{
		executionRepo: executionRepo,
		extraction:    extraction,
		logger:        logger.Named("reconciler"),
	}
}

func (r *reconciler) Reconcile(ctx context.Context, agent *models.Agent, raw json.RawMessage) (*ReconcileResult, error) {
	rec, err := platform.ParseRecord(raw)
	if err != nil {
		return nil, err
	}
	return r.ReconcileRecord(ctx, agent, rec)
}

func (r *reconciler) ReconcileRecord(ctx context.Context, agent *models.Agent, rec *platform.Record) (*ReconcileResult, error) {
	if remoteAgent := rec.AgentID(); remoteAgent != "" && remoteAgent != agent.AgentID {
		return nil, fmt.Errorf("execution %s reports agent %s, expected %s: %w",
			rec.ID(), remoteAgent, agent.AgentID, apperrors.ErrOwnershipViolation)
	}

	previous, err := r.executionRepo.GetByExecutionID(ctx, rec.ID())
	if err != nil {
		return nil, fmt.Errorf("load previous execution: %w", err)
	}
	if previous != nil && previous.UserID != agent.UserID {
		return nil, fmt.Errorf("execution %s: %w", rec.ID(), apperrors.ErrOwnershipViolation)
	}

	exec := buildExecution(agent, rec)
	exec.ExtractedData = models.ReconcileExtractedData(rec.ExtractedData(), previous)
	if previous != nil {
		exec.ID = previous.ID
	}

	if err := r.executionRepo.Upsert(ctx, exec); err != nil {
		return nil, err
	}

	result := &ReconcileResult{Execution: exec}
	if exec.HasTranscript() {
		result.Extraction = r.extraction.Process(ctx, exec, ProcessOptions{})
	}

	r.logger.Debug("Execution reconciled",
		zap.String("execution_id", exec.ExecutionID),
		zap.Bool("existed", previous != nil),
		zap.Bool("processed", exec.ExtractedData.Processed()))

	return result, nil
}

// buildExecution normalises a remote record into the local shape.
func buildExecution(agent *models.Agent, rec *platform.Record) *models.Execution {
	exec := &models.Execution{
		ExecutionID:      rec.ID(),
		AgentID:          agent.ID,
		UserID:           agent.UserID,
		Status:           models.ExecutionStatus(rec.Status()),
		StartedAt:        rec.StartedAt(),
		EndedAt:          rec.EndedAt(),
		Transcript:       rec.Transcript(),
		TelephonyData:    rec.TelephonyData(),
		ProviderMetadata: rec.ProviderMetadata(),
	}
	if exec.Status == "" {
		exec.Status = models.ExecutionStatusPending
	}
	if minor, ok := rec.CostMinor(); ok {
		exec.TotalCost = MinorToMajor(minor)
	}
	if d, ok := rec.Duration(); ok {
		exec.ConversationTime = d
	}
	return exec
}

// MinorToMajor converts a cost in minor currency units (cents) to major units.
func MinorToMajor(minor float64) float64 {
	return decimal.NewFromFloat(minor).Div(minorUnitsPerMajor).InexactFloat64()
}
