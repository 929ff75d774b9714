package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ekaya-inc/ekaya-calls/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-calls/pkg/database"
	"github.com/ekaya-inc/ekaya-calls/pkg/models"
)

// AgentRepository defines data access for tracked platform agents.
type AgentRepository interface {
	// Create inserts an agent. Returns apperrors.ErrConflict if the user already tracks the platform id.
	Create(ctx context.Context, agent *models.Agent) error

	// GetByID returns nil, nil when the agent does not exist or is not visible to the scope.
	GetByID(ctx context.Context, id uuid.UUID) (*models.Agent, error)

	// GetByRemoteID returns the user's agent with the given platform id, nil, nil when untracked.
	GetByRemoteID(ctx context.Context, userID uuid.UUID, agentID string) (*models.Agent, error)

	// ListActiveByUser returns the user's active agents, oldest first.
	ListActiveByUser(ctx context.Context, userID uuid.UUID) ([]*models.Agent, error)

	// UpdateLastSynced records when the agent's executions were last fetched.
	UpdateLastSynced(ctx context.Context, id uuid.UUID, syncedAt time.Time) error
}

type agentRepository struct{}

var _ AgentRepository = (*agentRepository)(nil)

// NewAgentRepository creates a new agent repository.
func NewAgentRepository() AgentRepository {
	return &agentRepository{}
}

const agentColumns = `id, user_id, agent_id, name, is_active, last_synced_at, created_at, updated_at`

func (r *agentRepository) Create(ctx context.Context, agent *models.Agent) error {
	scope, ok := database.GetOwnerScope(ctx)
	if !ok {
		return fmt.Errorf("no owner scope in context")
	}

	if agent.ID == uuid.Nil {
		agent.ID = uuid.New()
	}
	now := time.Now()
	agent.CreatedAt = now
	agent.UpdatedAt = now

	query := `
		INSERT INTO agents (id, user_id, agent_id, name, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := scope.Conn.Exec(ctx, query,
		agent.ID, agent.UserID, agent.AgentID, agent.Name, agent.IsActive, agent.CreatedAt, agent.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return apperrors.ErrConflict
		}
		return fmt.Errorf("failed to create agent: %w", err)
	}
	return nil
}

func (r *agentRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Agent, error) {
	scope, ok := database.GetOwnerScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no owner scope in context")
	}

	query := `SELECT ` + agentColumns + ` FROM agents WHERE id = $1`

	agent, err := scanAgent(scope.Conn.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get agent: %w", err)
	}
	return agent, nil
}

func (r *agentRepository) GetByRemoteID(ctx context.Context, userID uuid.UUID, agentID string) (*models.Agent, error) {
	scope, ok := database.GetOwnerScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no owner scope in context")
	}

	query := `SELECT ` + agentColumns + ` FROM agents WHERE user_id = $1 AND agent_id = $2`

	agent, err := scanAgent(scope.Conn.QueryRow(ctx, query, userID, agentID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get agent: %w", err)
	}
	return agent, nil
}

func (r *agentRepository) ListActiveByUser(ctx context.Context, userID uuid.UUID) ([]*models.Agent, error) {
	scope, ok := database.GetOwnerScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no owner scope in context")
	}

	query := `SELECT ` + agentColumns + `
		FROM agents
		WHERE user_id = $1 AND is_active
		ORDER BY created_at, id`

	rows, err := scope.Conn.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list agents: %w", err)
	}
	defer rows.Close()

	var agents []*models.Agent
	for rows.Next() {
		agent, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan agent: %w", err)
		}
		agents = append(agents, agent)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating agents: %w", err)
	}
	return agents, nil
}

func (r *agentRepository) UpdateLastSynced(ctx context.Context, id uuid.UUID, syncedAt time.Time) error {
	scope, ok := database.GetOwnerScope(ctx)
	if !ok {
		return fmt.Errorf("no owner scope in context")
	}

	tag, err := scope.Conn.Exec(ctx,
		`UPDATE agents SET last_synced_at = $2, updated_at = now() WHERE id = $1`, id, syncedAt)
	if err != nil {
		return fmt.Errorf("failed to update agent sync time: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func scanAgent(row pgx.Row) (*models.Agent, error) {
	var a models.Agent
	err := row.Scan(&a.ID, &a.UserID, &a.AgentID, &a.Name, &a.IsActive, &a.LastSyncedAt, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}
