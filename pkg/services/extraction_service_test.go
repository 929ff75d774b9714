package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ekaya-inc/ekaya-calls/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-calls/pkg/config"
	"github.com/ekaya-inc/ekaya-calls/pkg/llm"
	"github.com/ekaya-inc/ekaya-calls/pkg/models"
	"github.com/ekaya-inc/ekaya-calls/pkg/sheets"
)

const sampleTranscript = "Agent: Hello. Caller: This is Dr. Rao calling from Pune about the clinic."

func TestProcess_ExtractsDeliversAndMarksProcessed(t *testing.T) {
	env := newTestEnv(t)
	exec := env.storeExecution(t, "E1", sampleTranscript)

	outcome := env.extraction.Process(context.Background(), exec, ProcessOptions{})

	assert.Equal(t, models.ExtractionProcessed, outcome.Status)
	assert.True(t, outcome.Delivered)
	assert.Empty(t, outcome.DeliveryErr)

	require.Len(t, env.sink.rows, 1)
	assert.Equal(t, []string{
		"Dr. Rao", "Not Found", "Pune",
		"2025-03-14", "09:30:00", "E1", "Front Desk",
	}, env.sink.rows[0])

	stored := env.executions.get("E1").ExtractedData
	assert.True(t, stored.Processed())
	assert.True(t, stored.SheetsSynced())
	_, ok := stored.ProcessedAt()
	assert.True(t, ok)
	assert.Equal(t, map[string]string{"doctor_name": "Dr. Rao", "clinic_name": "Not Found", "city": "Pune"}, stored.CustomFields())
	meta, ok := stored.CallMetadata()
	require.True(t, ok)
	assert.Equal(t, "E1", meta.ExecutionID)
	assert.Equal(t, config.ExtractionModeCustom, stored[models.KeyExtractionMode])
}

func TestProcess_OnlyOnce(t *testing.T) {
	env := newTestEnv(t)
	exec := env.storeExecution(t, "E1", sampleTranscript)

	first := env.extraction.Process(context.Background(), exec, ProcessOptions{})
	require.Equal(t, models.ExtractionProcessed, first.Status)

	reloaded, err := env.executions.GetByExecutionID(context.Background(), "E1")
	require.NoError(t, err)
	second := env.extraction.Process(context.Background(), reloaded, ProcessOptions{})

	assert.Equal(t, models.ExtractionAlreadyProcessed, second.Status)
	assert.Equal(t, 1, env.llm.Calls())
	assert.Equal(t, 1, env.sink.rowCount())
}

func TestProcess_StaleCopyDoesNotReprocess(t *testing.T) {
	env := newTestEnv(t)
	exec := env.storeExecution(t, "E1", sampleTranscript)
	stale := cloneExecution(exec)

	env.extraction.Process(context.Background(), exec, ProcessOptions{})
	outcome := env.extraction.Process(context.Background(), stale, ProcessOptions{})

	assert.Equal(t, models.ExtractionAlreadyProcessed, outcome.Status)
	assert.Equal(t, 1, env.executions.marks)
}

func TestProcess_DeliveryFailureStillMarksProcessed(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	env := newTestEnv(t, withLogger(zap.New(core)))
	env.sink.AppendRowFunc = func(uuid.UUID, []string) (bool, error) {
		return false, &sheets.DeliveryError{Kind: sheets.KindNotFound, Op: "append row", Err: errors.New("spreadsheet gone")}
	}
	exec := env.storeExecution(t, "E1", sampleTranscript)

	outcome := env.extraction.Process(context.Background(), exec, ProcessOptions{})

	assert.Equal(t, models.ExtractionProcessed, outcome.Status)
	assert.False(t, outcome.Delivered)
	assert.Contains(t, outcome.DeliveryErr, "spreadsheet gone")

	stored := env.executions.get("E1").ExtractedData
	assert.True(t, stored.Processed())
	assert.False(t, stored.SheetsSynced())
	assert.NotEmpty(t, stored[models.KeySheetsError])

	assert.Equal(t, 1, logs.FilterMessage("Sheet delivery failed, marking processed anyway").Len())
}

func TestProcess_NoDestinationIsNotAFailure(t *testing.T) {
	env := newTestEnv(t)
	env.sink.AppendRowFunc = func(uuid.UUID, []string) (bool, error) { return false, nil }
	exec := env.storeExecution(t, "E1", sampleTranscript)

	outcome := env.extraction.Process(context.Background(), exec, ProcessOptions{})

	assert.Equal(t, models.ExtractionProcessed, outcome.Status)
	assert.False(t, outcome.Delivered)
	assert.Empty(t, outcome.DeliveryErr)
	assert.False(t, env.executions.get("E1").ExtractedData.SheetsSynced())
}

func TestProcess_EmptyTranscriptSkipsBackend(t *testing.T) {
	env := newTestEnv(t)
	exec := env.storeExecution(t, "E1", "   \n ")

	outcome := env.extraction.Process(context.Background(), exec, ProcessOptions{})

	assert.Equal(t, models.ExtractionNoTranscript, outcome.Status)
	assert.Zero(t, env.llm.Calls())
	assert.False(t, env.executions.get("E1").ExtractedData.Processed())
}

func TestProcess_NothingFoundLeavesUnprocessed(t *testing.T) {
	env := newTestEnv(t)
	env.llm.GenerateResponseFunc = func(context.Context, string, string, float64) (*llm.GenerateResponseResult, error) {
		return &llm.GenerateResponseResult{Content: `{"doctor_name": "Not Found", "clinic_name": "", "city": null}`}, nil
	}
	exec := env.storeExecution(t, "E1", sampleTranscript)

	outcome := env.extraction.Process(context.Background(), exec, ProcessOptions{})

	assert.Equal(t, models.ExtractionEmpty, outcome.Status)
	assert.Zero(t, env.sink.rowCount())
	assert.False(t, env.executions.get("E1").ExtractedData.Processed())
}

func TestProcess_SaveEmptyOverride(t *testing.T) {
	env := newTestEnv(t)
	env.llm.GenerateResponseFunc = func(context.Context, string, string, float64) (*llm.GenerateResponseResult, error) {
		return &llm.GenerateResponseResult{Content: `{}`}, nil
	}
	exec := env.storeExecution(t, "E1", sampleTranscript)

	outcome := env.extraction.Process(context.Background(), exec, ProcessOptions{SaveEmpty: true})

	assert.Equal(t, models.ExtractionProcessed, outcome.Status)
	require.Len(t, env.sink.rows, 1)
	assert.Equal(t, []string{"Not Found", "Not Found", "Not Found"}, env.sink.rows[0][:3])
	assert.True(t, env.executions.get("E1").ExtractedData.Processed())
}

func TestProcess_BackendNotConfiguredStoresNothing(t *testing.T) {
	env := newTestEnv(t, withoutBackend())
	exec := env.storeExecution(t, "E1", sampleTranscript)

	outcome := env.extraction.Process(context.Background(), exec, ProcessOptions{})

	assert.Equal(t, models.ExtractionEmpty, outcome.Status)
	assert.Zero(t, env.sink.rowCount())
}

func TestProcess_BackendErrorLeavesUnprocessed(t *testing.T) {
	env := newTestEnv(t)
	env.llm.GenerateResponseFunc = func(context.Context, string, string, float64) (*llm.GenerateResponseResult, error) {
		return nil, errors.New("upstream exploded")
	}
	exec := env.storeExecution(t, "E1", sampleTranscript)

	outcome := env.extraction.Process(context.Background(), exec, ProcessOptions{})

	assert.Equal(t, models.ExtractionFailed, outcome.Status)
	assert.Contains(t, outcome.Error, "upstream exploded")
	assert.False(t, env.executions.get("E1").ExtractedData.Processed())
	assert.Zero(t, env.sink.rowCount())
}

func TestProcess_NoActiveFields(t *testing.T) {
	env := newTestEnv(t)
	env.fields.fields[env.owner.ID] = nil
	exec := env.storeExecution(t, "E1", sampleTranscript)

	outcome := env.extraction.Process(context.Background(), exec, ProcessOptions{})

	assert.Equal(t, models.ExtractionNoFields, outcome.Status)
	assert.Zero(t, env.llm.Calls())
}

func TestProcess_MissingAgent(t *testing.T) {
	env := newTestEnv(t)
	exec := env.storeExecution(t, "E1", sampleTranscript)
	exec.AgentID = uuid.New()

	outcome := env.extraction.Process(context.Background(), exec, ProcessOptions{})

	assert.Equal(t, models.ExtractionNoOwner, outcome.Status)
	assert.Zero(t, env.llm.Calls())
}

func TestProcess_DoctorInfoModeFallsBackToPatterns(t *testing.T) {
	env := newTestEnv(t, withMode(config.ExtractionModeDoctorInfo), withoutBackend())
	exec := env.storeExecution(t, "E1",
		"Caller: I'm Dr. Meera Shah from Sunrise Clinic. Reach me on 98765 43210 or meera@sunrise.in.")

	outcome := env.extraction.Process(context.Background(), exec, ProcessOptions{})

	require.Equal(t, models.ExtractionProcessed, outcome.Status)
	info := env.executions.get("E1").ExtractedData.DoctorInfo()
	assert.Equal(t, "Dr. Meera Shah", info["doctor_name"])
	assert.Equal(t, "9876543210", info["phone_number"])
	assert.Equal(t, "meera@sunrise.in", info["email"])
	require.Len(t, env.sink.rows, 1)
	assert.Len(t, env.sink.rows[0], 9)
}

func TestProcess_MetadataUsesConfiguredTimezone(t *testing.T) {
	kolkata, err := time.LoadLocation("Asia/Kolkata")
	require.NoError(t, err)
	env := newTestEnv(t, withLocation(kolkata))
	exec := env.storeExecution(t, "E1", sampleTranscript)

	env.extraction.Process(context.Background(), exec, ProcessOptions{})

	meta, ok := env.executions.get("E1").ExtractedData.CallMetadata()
	require.True(t, ok)
	assert.Equal(t, "2025-03-14", meta.CallDate)
	assert.Equal(t, "15:00:00", meta.CallTime)
}

func TestProcessByExecutionID(t *testing.T) {
	env := newTestEnv(t)
	env.storeExecution(t, "E1", sampleTranscript)

	_, err := env.extraction.ProcessByExecutionID(context.Background(), env.owner.ID, "missing", ProcessOptions{})
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	_, err = env.extraction.ProcessByExecutionID(context.Background(), uuid.New(), "E1", ProcessOptions{})
	assert.ErrorIs(t, err, apperrors.ErrOwnershipViolation)

	outcome, err := env.extraction.ProcessByExecutionID(context.Background(), env.owner.ID, "E1", ProcessOptions{})
	require.NoError(t, err)
	assert.Equal(t, models.ExtractionProcessed, outcome.Status)
}
