package models

import (
	"time"

	"github.com/google/uuid"
)

// AgentSyncState is the terminal state of one agent's sync.
type AgentSyncState string

const (
	AgentSyncDone   AgentSyncState = "done"
	AgentSyncFailed AgentSyncState = "agent-failed"
)

// ExtractionStatus describes what the extraction step did for one record.
type ExtractionStatus string

const (
	ExtractionAlreadyProcessed ExtractionStatus = "already_processed"
	ExtractionNoTranscript     ExtractionStatus = "no_transcript"
	ExtractionNoOwner          ExtractionStatus = "no_owner"
	ExtractionNoFields         ExtractionStatus = "no_fields"
	ExtractionEmpty            ExtractionStatus = "empty"
	ExtractionProcessed        ExtractionStatus = "processed"
	ExtractionFailed           ExtractionStatus = "failed"
)

// ExtractionOutcome is the result of running the extraction step on one record.
// Failures are reported here rather than returned as errors.
type ExtractionOutcome struct {
	ExecutionID string           `json:"execution_id"`
	Status      ExtractionStatus `json:"status"`
	Delivered   bool             `json:"delivered"`
	Error       string           `json:"error,omitempty"`
	DeliveryErr string           `json:"delivery_error,omitempty"`
}

// ExtractionCounts aggregates extraction outcomes.
type ExtractionCounts struct {
	Processed      int `json:"processed"`
	Skipped        int `json:"skipped"`
	Empty          int `json:"empty"`
	Failed         int `json:"failed"`
	Delivered      int `json:"delivered"`
	DeliveryFailed int `json:"delivery_failed"`
}

// Add folds one outcome into the counts. A nil outcome is ignored.
func (c *ExtractionCounts) Add(o *ExtractionOutcome) {
	if o == nil {
		return
	}
	switch o.Status {
	case ExtractionProcessed:
		c.Processed++
	case ExtractionEmpty:
		c.Empty++
	case ExtractionFailed:
		c.Failed++
	default:
		c.Skipped++
	}
	if o.Delivered {
		c.Delivered++
	}
	if o.DeliveryErr != "" {
		c.DeliveryFailed++
	}
}

// AgentSyncResult summarises one agent's sync.
type AgentSyncResult struct {
	AgentID       uuid.UUID        `json:"agent_id"`
	RemoteAgentID string           `json:"remote_agent_id"`
	State         AgentSyncState   `json:"state"`
	Pages         int              `json:"pages"`
	Synced        int              `json:"synced"`
	Failed        int              `json:"failed"`
	PageErrors    int              `json:"page_errors"`
	Extraction    ExtractionCounts `json:"extraction"`
	Error         string           `json:"error,omitempty"`
}

// SyncReport aggregates a sync run across agents.
type SyncReport struct {
	StartedAt       time.Time          `json:"started_at"`
	FinishedAt      time.Time          `json:"finished_at"`
	AgentsTotal     int                `json:"agents_total"`
	AgentsSucceeded int                `json:"agents_succeeded"`
	AgentsFailed    int                `json:"agents_failed"`
	Synced          int                `json:"synced"`
	Failed          int                `json:"failed"`
	Agents          []*AgentSyncResult `json:"agents"`
}

// AddAgent folds one agent result into the report.
func (r *SyncReport) AddAgent(res *AgentSyncResult) {
	r.Agents = append(r.Agents, res)
	r.AgentsTotal++
	if res.State == AgentSyncFailed {
		r.AgentsFailed++
	} else {
		r.AgentsSucceeded++
	}
	r.Synced += res.Synced
	r.Failed += res.Failed
}

// BackfillReport summarises a backfill run.
type BackfillReport struct {
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at"`
	Candidates int              `json:"candidates"`
	Batches    int              `json:"batches"`
	Extraction ExtractionCounts `json:"extraction"`

	// OwnersSkipped counts owners left out because a sync for them was running.
	OwnersSkipped int `json:"owners_skipped,omitempty"`
}
