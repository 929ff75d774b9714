package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ekaya-inc/ekaya-calls/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-calls/pkg/database"
	"github.com/ekaya-inc/ekaya-calls/pkg/models"
)

// ExecutionRepository defines data access for synced call records.
type ExecutionRepository interface {
	// GetByExecutionID returns nil, nil when the remote id has not been synced
	// or the record is not visible to the scope.
	GetByExecutionID(ctx context.Context, executionID string) (*models.Execution, error)

	// Upsert inserts or updates by remote execution id. A stored compartment that
	// is already processed is kept on top of the incoming one. updated_at only
	// moves when a column actually changed. A record owned by another user is
	// rejected with apperrors.ErrOwnershipViolation.
	Upsert(ctx context.Context, exec *models.Execution) error

	// MarkExtracted merges data into the compartment unless the record is already
	// processed. Returns false when nothing was written.
	MarkExtracted(ctx context.Context, executionID string, data models.ExtractedData) (bool, error)

	// ListBackfillCandidates returns records with a transcript that were neither
	// processed nor delivered, oldest first. The scope decides whose records are visible.
	ListBackfillCandidates(ctx context.Context, limit int) ([]*models.Execution, error)
}

type executionRepository struct{}

var _ ExecutionRepository = (*executionRepository)(nil)

// NewExecutionRepository creates a new execution repository.
func NewExecutionRepository() ExecutionRepository {
	return &executionRepository{}
}

const executionColumns = `id, execution_id, agent_id, user_id, status, started_at, ended_at,
	total_cost, conversation_time, transcript, telephony_data, provider_metadata,
	extracted_data, created_at, updated_at`

// insufficient_privilege is raised when RLS rejects an upsert onto another owner's row.
const pgInsufficientPrivilege = "42501"

func (r *executionRepository) GetByExecutionID(ctx context.Context, executionID string) (*models.Execution, error) {
	scope, ok := database.GetOwnerScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no owner scope in context")
	}

	query := `SELECT ` + executionColumns + ` FROM executions WHERE execution_id = $1`

	exec, err := scanExecution(scope.Conn.QueryRow(ctx, query, executionID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get execution: %w", err)
	}
	return exec, nil
}

func (r *executionRepository) Upsert(ctx context.Context, exec *models.Execution) error {
	scope, ok := database.GetOwnerScope(ctx)
	if !ok {
		return fmt.Errorf("no owner scope in context")
	}

	if exec.ID == uuid.Nil {
		exec.ID = uuid.New()
	}
	if exec.ExtractedData == nil {
		exec.ExtractedData = models.ExtractedData{}
	}
	metadata := exec.ProviderMetadata
	if len(metadata) == 0 {
		metadata = json.RawMessage(`{}`)
	}

	query := `
		INSERT INTO executions (
			id, execution_id, agent_id, user_id, status, started_at, ended_at,
			total_cost, conversation_time, transcript, telephony_data, provider_metadata,
			extracted_data, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, now(), now())
		ON CONFLICT (execution_id) DO UPDATE SET
			agent_id = EXCLUDED.agent_id,
			status = EXCLUDED.status,
			started_at = EXCLUDED.started_at,
			ended_at = EXCLUDED.ended_at,
			total_cost = EXCLUDED.total_cost,
			conversation_time = EXCLUDED.conversation_time,
			transcript = EXCLUDED.transcript,
			telephony_data = EXCLUDED.telephony_data,
			provider_metadata = EXCLUDED.provider_metadata,
			extracted_data = CASE
				WHEN executions.extracted_data->'processed' = 'true'::jsonb
				THEN EXCLUDED.extracted_data || executions.extracted_data
				ELSE EXCLUDED.extracted_data
			END,
			updated_at = CASE
				WHEN (executions.agent_id, executions.status, executions.started_at, executions.ended_at,
				      executions.total_cost, executions.conversation_time, executions.transcript,
				      executions.telephony_data, executions.provider_metadata, executions.extracted_data)
				     IS DISTINCT FROM
				     (EXCLUDED.agent_id, EXCLUDED.status, EXCLUDED.started_at, EXCLUDED.ended_at,
				      EXCLUDED.total_cost, EXCLUDED.conversation_time, EXCLUDED.transcript,
				      EXCLUDED.telephony_data, EXCLUDED.provider_metadata, EXCLUDED.extracted_data)
				THEN now()
				ELSE executions.updated_at
			END
		WHERE executions.user_id = EXCLUDED.user_id
		RETURNING id, extracted_data, created_at, updated_at`

	var stored models.ExtractedData
	err := scope.Conn.QueryRow(ctx, query,
		exec.ID,
		exec.ExecutionID,
		exec.AgentID,
		exec.UserID,
		string(exec.Status),
		exec.StartedAt,
		exec.EndedAt,
		exec.TotalCost,
		exec.ConversationTime,
		exec.Transcript,
		exec.TelephonyData,
		metadata,
		exec.ExtractedData,
	).Scan(&exec.ID, &stored, &exec.CreatedAt, &exec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("execution %s: %w", exec.ExecutionID, apperrors.ErrOwnershipViolation)
	}
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgInsufficientPrivilege {
			return fmt.Errorf("execution %s: %w", exec.ExecutionID, apperrors.ErrOwnershipViolation)
		}
		return fmt.Errorf("failed to upsert execution: %w", err)
	}
	exec.ExtractedData = stored
	return nil
}

func (r *executionRepository) MarkExtracted(ctx context.Context, executionID string, data models.ExtractedData) (bool, error) {
	scope, ok := database.GetOwnerScope(ctx)
	if !ok {
		return false, fmt.Errorf("no owner scope in context")
	}

	query := `
		UPDATE executions
		SET extracted_data = extracted_data || $2::jsonb,
		    updated_at = now()
		WHERE execution_id = $1
		  AND extracted_data->'processed' IS DISTINCT FROM 'true'::jsonb`

	tag, err := scope.Conn.Exec(ctx, query, executionID, data)
	if err != nil {
		return false, fmt.Errorf("failed to store extraction result: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *executionRepository) ListBackfillCandidates(ctx context.Context, limit int) ([]*models.Execution, error) {
	scope, ok := database.GetOwnerScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no owner scope in context")
	}

	query := `SELECT ` + executionColumns + `
		FROM executions
		WHERE transcript <> ''
		  AND extracted_data->'processed' IS DISTINCT FROM 'true'::jsonb
		  AND extracted_data->'sheets_synced' IS DISTINCT FROM 'true'::jsonb
		ORDER BY created_at, id
		LIMIT $1`

	rows, err := scope.Conn.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list backfill candidates: %w", err)
	}
	defer rows.Close()

	var execs []*models.Execution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}
		execs = append(execs, exec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating executions: %w", err)
	}
	return execs, nil
}

func scanExecution(row pgx.Row) (*models.Execution, error) {
	var (
		e        models.Execution
		status   string
		metadata []byte
	)
	err := row.Scan(
		&e.ID,
		&e.ExecutionID,
		&e.AgentID,
		&e.UserID,
		&status,
		&e.StartedAt,
		&e.EndedAt,
		&e.TotalCost,
		&e.ConversationTime,
		&e.Transcript,
		&e.TelephonyData,
		&metadata,
		&e.ExtractedData,
		&e.CreatedAt,
		&e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	e.Status = models.ExecutionStatus(status)
	if len(metadata) > 0 {
		e.ProviderMetadata = json.RawMessage(metadata)
	}
	if e.ExtractedData == nil {
		e.ExtractedData = models.ExtractedData{}
	}
	return &e, nil
}
