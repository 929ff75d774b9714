package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-calls/pkg/config"
	"github.com/ekaya-inc/ekaya-calls/pkg/extraction"
	"github.com/ekaya-inc/ekaya-calls/pkg/models"
	"github.com/ekaya-inc/ekaya-calls/pkg/repositories"
	"github.com/ekaya-inc/ekaya-calls/pkg/sheets"
)

// SheetService manages the layout of an owner's spreadsheet.
type SheetService interface {
	// Headers returns the header row for the owner's current field definitions.
	Headers(ctx context.Context, ownerID uuid.UUID) ([]string, error)

	// InitializeHeaders writes Headers to row 1 of the owner's spreadsheet.
	InitializeHeaders(ctx context.Context, ownerID uuid.UUID) ([]string, error)

	// Validate checks the owner's stored credential can open the spreadsheet.
	Validate(ctx context.Context, ownerID uuid.UUID) (*sheets.SpreadsheetInfo, error)
}

type sheetService struct {
	fieldRepo repositories.ExtractionFieldRepository
	sink      sheets.Sink
	mode      string
	logger    *zap.Logger
}

var _ SheetService = (*sheetService)(nil)

// NewSheetService creates a sheet service for the given extraction mode.
func NewSheetService(fieldRepo repositories.ExtractionFieldRepository, sink sheets.Sink, mode string, logger *zap.Logger) SheetService {
	return &sheetService{
		fieldRepo: fieldRepo,
		sink:      sink,
		mode:      mode,
		logger:    logger.Named("sheet-service"),
	}
}

func (s *sheetService) Headers(ctx context.Context, ownerID uuid.UUID) ([]string, error) {
	var headers []string
	if s.mode == config.ExtractionModeDoctorInfo {
		headers = append(headers, extraction.DoctorInfoColumns...)
	} else {
		fields, err := s.fieldRepo.ListActive(ctx, ownerID)
		if err != nil {
			return nil, fmt.Errorf("load extraction fields: %w", err)
		}
		headers = append(headers, models.FieldNames(fields)...)
	}
	return append(headers, models.MetadataColumns...), nil
}

func (s *sheetService) InitializeHeaders(ctx context.Context, ownerID uuid.UUID) ([]string, error) {
	headers, err := s.Headers(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if err := s.sink.InitializeHeaders(ctx, ownerID, headers); err != nil {
		return nil, err
	}

	s.logger.Info("Sheet headers initialized",
		zap.String("user_id", ownerID.String()),
		zap.Int("columns", len(headers)))
	return headers, nil
}

func (s *sheetService) Validate(ctx context.Context, ownerID uuid.UUID) (*sheets.SpreadsheetInfo, error) {
	return s.sink.Validate(ctx, ownerID)
}
