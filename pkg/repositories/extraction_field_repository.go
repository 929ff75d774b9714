package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ekaya-inc/ekaya-calls/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-calls/pkg/database"
	"github.com/ekaya-inc/ekaya-calls/pkg/models"
)

// ExtractionFieldRepository defines data access for user-defined extraction fields.
type ExtractionFieldRepository interface {
	// Create inserts a field definition after validating its name.
	Create(ctx context.Context, field *models.ExtractionField) error

	// ListActive returns the user's active fields by display order.
	ListActive(ctx context.Context, userID uuid.UUID) ([]*models.ExtractionField, error)
}

type extractionFieldRepository struct{}

var _ ExtractionFieldRepository = (*extractionFieldRepository)(nil)

// NewExtractionFieldRepository creates a new extraction field repository.
func NewExtractionFieldRepository() ExtractionFieldRepository {
	return &extractionFieldRepository{}
}

func (r *extractionFieldRepository) Create(ctx context.Context, field *models.ExtractionField) error {
	if err := models.ValidateFieldName(field.FieldName); err != nil {
		return err
	}

	scope, ok := database.GetOwnerScope(ctx)
	if !ok {
		return fmt.Errorf("no owner scope in context")
	}

	if field.ID == uuid.Nil {
		field.ID = uuid.New()
	}
	now := time.Now()
	field.CreatedAt = now
	field.UpdatedAt = now

	query := `
		INSERT INTO extraction_fields (id, user_id, field_name, instruction, display_order, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := scope.Conn.Exec(ctx, query,
		field.ID, field.UserID, field.FieldName, field.Instruction,
		field.DisplayOrder, field.IsActive, field.CreatedAt, field.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return apperrors.ErrConflict
		}
		return fmt.Errorf("failed to create extraction field: %w", err)
	}
	return nil
}

func (r *extractionFieldRepository) ListActive(ctx context.Context, userID uuid.UUID) ([]*models.ExtractionField, error) {
	scope, ok := database.GetOwnerScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no owner scope in context")
	}

	query := `
		SELECT id, user_id, field_name, instruction, display_order, is_active, created_at, updated_at
		FROM extraction_fields
		WHERE user_id = $1 AND is_active
		ORDER BY display_order, field_name`

	rows, err := scope.Conn.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list extraction fields: %w", err)
	}
	defer rows.Close()

	var fields []*models.ExtractionField
	for rows.Next() {
		var f models.ExtractionField
		if err := rows.Scan(&f.ID, &f.UserID, &f.FieldName, &f.Instruction,
			&f.DisplayOrder, &f.IsActive, &f.CreatedAt, &f.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan extraction field: %w", err)
		}
		fields = append(fields, &f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating extraction fields: %w", err)
	}
	return fields, nil
}
