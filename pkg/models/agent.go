package models

import (
	"time"

	"github.com/google/uuid"
)

// Agent is a conversational agent on the remote platform tracked by one user.
// AgentID is the platform-assigned identifier and never changes once synced.
type Agent struct {
	ID           uuid.UUID  `json:"id"`
	UserID       uuid.UUID  `json:"user_id"`
	AgentID      string     `json:"agent_id"`
	Name         string     `json:"name"`
	IsActive     bool       `json:"is_active"`
	LastSyncedAt *time.Time `json:"last_synced_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// DisplayName returns the agent name, falling back to the platform id.
func (a *Agent) DisplayName() string {
	if a.Name != "" {
		return a.Name
	}
	return a.AgentID
}
