package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ExecutionStatus is the platform-reported call status. The platform sends more
// values than the ones named here (queued, in-progress, busy, no-answer...);
// unknown values are stored verbatim.
type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "pending"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
)

// TelephonyData is the provider-level call information attached to an execution.
type TelephonyData struct {
	Provider       string  `json:"provider,omitempty"`
	FromNumber     string  `json:"from_number,omitempty"`
	ToNumber       string  `json:"to_number,omitempty"`
	ProviderCallID string  `json:"provider_call_id,omitempty"`
	RecordingURL   string  `json:"recording_url,omitempty"`
	Duration       float64 `json:"duration,omitempty"`
	CallType       string  `json:"call_type,omitempty"`
	HangupReason   string  `json:"hangup_reason,omitempty"`
}

// Execution is one synced call record.
//
// ExecutionID is the remote identifier and the upsert key. TotalCost is in the
// major currency unit and ConversationTime in seconds. ExtractedData is the
// locally owned compartment; see MergeExtractedData for how it survives re-syncs.
type Execution struct {
	ID               uuid.UUID       `json:"id"`
	ExecutionID      string          `json:"execution_id"`
	AgentID          uuid.UUID       `json:"agent_id"`
	UserID           uuid.UUID       `json:"user_id"`
	Status           ExecutionStatus `json:"status"`
	StartedAt        *time.Time      `json:"started_at,omitempty"`
	EndedAt          *time.Time      `json:"ended_at,omitempty"`
	TotalCost        float64         `json:"total_cost"`
	ConversationTime float64         `json:"conversation_time"`
	Transcript       string          `json:"transcript"`
	TelephonyData    *TelephonyData  `json:"telephony_data,omitempty"`
	ProviderMetadata json.RawMessage `json:"provider_metadata,omitempty"`
	ExtractedData    ExtractedData   `json:"extracted_data"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// HasTranscript reports whether the execution carries transcript text.
func (e *Execution) HasTranscript() bool {
	return hasText(e.Transcript)
}

// CallTime returns the time used for the call date/time metadata columns.
func (e *Execution) CallTime() time.Time {
	if e.StartedAt != nil && !e.StartedAt.IsZero() {
		return *e.StartedAt
	}
	return e.CreatedAt
}
