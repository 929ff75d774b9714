package services

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-calls/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-calls/pkg/llm"
	"github.com/ekaya-inc/ekaya-calls/pkg/models"
	"github.com/ekaya-inc/ekaya-calls/pkg/platform"
)

func TestSyncAgent_PaginatesUntilLastPage(t *testing.T) {
	env := newTestEnv(t)
	env.platform.pages["agent-1"] = []pageResponse{
		{items: []string{recordJSON("E1", "agent-1", ""), recordJSON("E2", "agent-1", "")}, hasMore: true},
		{items: []string{recordJSON("E3", "agent-1", "")}, hasMore: true},
		{items: []string{recordJSON("E4", "agent-1", "")}, hasMore: false},
	}

	result, err := env.sync.SyncAgent(context.Background(), env.owner.ID, env.agent.ID)
	require.NoError(t, err)

	calls := env.platform.callsFor("agent-1")
	require.Len(t, calls, 3)
	for i, c := range calls {
		assert.Equal(t, i+1, c.page)
		assert.Equal(t, 50, c.pageSize)
	}

	assert.Equal(t, models.AgentSyncDone, result.State)
	assert.Equal(t, 3, result.Pages)
	assert.Equal(t, 4, result.Synced)
	assert.Equal(t, []string{"E1", "E2", "E3", "E4"}, env.executions.order)
	assert.Contains(t, env.agents.synced, env.agent.ID)
}

func TestSyncAgent_StopsAtPageLimit(t *testing.T) {
	env := newTestEnv(t)
	pages := make([]pageResponse, 20)
	for i := range pages {
		pages[i] = pageResponse{items: []string{recordJSON(fmt.Sprintf("E%d", i), "agent-1", "")}, hasMore: true}
	}
	env.platform.pages["agent-1"] = pages

	result, err := env.sync.SyncAgent(context.Background(), env.owner.ID, env.agent.ID)
	require.NoError(t, err)

	assert.Len(t, env.platform.callsFor("agent-1"), 10)
	assert.Equal(t, 10, result.Synced)
}

func TestSyncAgent_FirstPageFailureFailsAgent(t *testing.T) {
	env := newTestEnv(t)
	env.platform.pages["agent-1"] = []pageResponse{{err: &platform.APIError{StatusCode: 503, Endpoint: "/v2/agent/agent-1/executions"}}}

	result, err := env.sync.SyncAgent(context.Background(), env.owner.ID, env.agent.ID)
	require.NoError(t, err)

	assert.Equal(t, models.AgentSyncFailed, result.State)
	assert.Contains(t, result.Error, "503")
	assert.Zero(t, result.Synced)
}

func TestSyncAgent_LaterPageFailureKeepsPartialResult(t *testing.T) {
	env := newTestEnv(t)
	env.platform.pages["agent-1"] = []pageResponse{
		{items: []string{recordJSON("E1", "agent-1", "")}, hasMore: true},
		{err: errors.New("connection reset")},
		{items: []string{recordJSON("E3", "agent-1", "")}},
	}

	result, err := env.sync.SyncAgent(context.Background(), env.owner.ID, env.agent.ID)
	require.NoError(t, err)

	assert.Equal(t, models.AgentSyncDone, result.State)
	assert.Equal(t, 1, result.Synced)
	assert.Equal(t, 1, result.PageErrors)
	assert.Len(t, env.platform.callsFor("agent-1"), 2)
}

func TestSyncAgent_BadRecordDoesNotStopPage(t *testing.T) {
	env := newTestEnv(t)
	env.platform.pages["agent-1"] = []pageResponse{
		{items: []string{recordJSON("E1", "agent-1", ""), `"garbage"`, `{"no_id": true}`, recordJSON("E4", "agent-1", "")}},
	}

	result, err := env.sync.SyncAgent(context.Background(), env.owner.ID, env.agent.ID)
	require.NoError(t, err)

	assert.Equal(t, 2, result.Synced)
	assert.Equal(t, 2, result.Failed)
	assert.Equal(t, []string{"E1", "E4"}, env.executions.order)
}

func TestSyncAgent_UnknownAgent(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.sync.SyncAgent(context.Background(), env.owner.ID, uuid.New())
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	_, err = env.sync.SyncAgent(context.Background(), uuid.New(), env.agent.ID)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestSyncOwner_AgentFailureIsIsolated(t *testing.T) {
	env := newTestEnv(t)
	second := &models.Agent{ID: uuid.New(), UserID: env.owner.ID, AgentID: "agent-2", Name: "Night Line", IsActive: true}
	require.NoError(t, env.agents.Create(context.Background(), second))

	env.platform.pages["agent-1"] = []pageResponse{{err: errors.New("dns failure")}}
	env.platform.pages["agent-2"] = []pageResponse{{items: []string{recordJSON("E9", "agent-2", "")}}}

	report, err := env.sync.SyncOwner(context.Background(), env.owner.ID)
	require.NoError(t, err)

	assert.Equal(t, 2, report.AgentsTotal)
	assert.Equal(t, 1, report.AgentsFailed)
	assert.Equal(t, 1, report.AgentsSucceeded)
	assert.Equal(t, 1, report.Synced)
	assert.NotNil(t, env.executions.get("E9"))
}

func TestSyncOwner_ExtractsOncePerRecordAcrossRuns(t *testing.T) {
	env := newTestEnv(t)
	env.platform.pages["agent-1"] = []pageResponse{
		{items: []string{recordJSON("E1", "agent-1", sampleTranscript), recordJSON("E2", "agent-1", sampleTranscript)}},
	}

	first, err := env.sync.SyncOwner(context.Background(), env.owner.ID)
	require.NoError(t, err)
	second, err := env.sync.SyncOwner(context.Background(), env.owner.ID)
	require.NoError(t, err)

	assert.Equal(t, 2, first.Agents[0].Extraction.Processed)
	assert.Equal(t, 0, second.Agents[0].Extraction.Processed)
	assert.Equal(t, 2, second.Agents[0].Extraction.Skipped)
	assert.Equal(t, 2, env.llm.Calls())
	assert.Equal(t, 2, env.sink.rowCount())
	assert.True(t, env.executions.get("E1").ExtractedData.Processed())
}

func TestSyncOwner_DeliveryFailureDoesNotFailSync(t *testing.T) {
	env := newTestEnv(t)
	env.sink.AppendRowFunc = func(uuid.UUID, []string) (bool, error) { return false, errors.New("quota exceeded") }
	env.platform.pages["agent-1"] = []pageResponse{{items: []string{recordJSON("E1", "agent-1", sampleTranscript)}}}

	report, err := env.sync.SyncOwner(context.Background(), env.owner.ID)
	require.NoError(t, err)

	agent := report.Agents[0]
	assert.Equal(t, models.AgentSyncDone, agent.State)
	assert.Equal(t, 1, agent.Synced)
	assert.Equal(t, 1, agent.Extraction.Processed)
	assert.Equal(t, 1, agent.Extraction.DeliveryFailed)
}

func TestSyncOwner_RejectsConcurrentRun(t *testing.T) {
	env := newTestEnv(t)
	s := env.sync.(*syncService)

	release, err := s.lock.Acquire(context.Background(), ownerLockKey(env.owner.ID))
	require.NoError(t, err)
	defer release()

	_, err = env.sync.SyncOwner(context.Background(), env.owner.ID)
	assert.ErrorIs(t, err, apperrors.ErrSyncInProgress)
}

func TestSyncAll_SkipsBusyOwners(t *testing.T) {
	env := newTestEnv(t)
	other := &models.User{ID: uuid.New(), Email: "zz-other@example.test"}
	env.users.users[other.ID] = other
	otherAgent := &models.Agent{ID: uuid.New(), UserID: other.ID, AgentID: "agent-x", IsActive: true}
	require.NoError(t, env.agents.Create(context.Background(), otherAgent))

	env.platform.pages["agent-1"] = []pageResponse{{items: []string{recordJSON("E1", "agent-1", "")}}}
	env.platform.pages["agent-x"] = []pageResponse{{items: []string{recordJSON("X1", "agent-x", "")}}}

	s := env.sync.(*syncService)
	release, err := s.lock.Acquire(context.Background(), ownerLockKey(other.ID))
	require.NoError(t, err)
	defer release()

	report, err := env.sync.SyncAll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.AgentsTotal)
	assert.NotNil(t, env.executions.get("E1"))
	assert.Nil(t, env.executions.get("X1"))
}

func TestSyncExecution(t *testing.T) {
	env := newTestEnv(t)
	env.platform.records["E1"] = recordJSON("E1", "agent-1", sampleTranscript)
	env.platform.records["E2"] = recordJSON("E2", "agent-unknown", "")

	res, err := env.sync.SyncExecution(context.Background(), env.owner.ID, "E1")
	require.NoError(t, err)
	assert.Equal(t, "E1", res.Execution.ExecutionID)
	require.NotNil(t, res.Extraction)
	assert.Equal(t, models.ExtractionProcessed, res.Extraction.Status)
	assert.Equal(t, 1.2, env.executions.get("E1").TotalCost)

	_, err = env.sync.SyncExecution(context.Background(), env.owner.ID, "E2")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	_, err = env.sync.SyncExecution(context.Background(), env.owner.ID, "missing")
	var apiErr *platform.APIError
	assert.ErrorAs(t, err, &apiErr)
}

func TestBackfill_ProcessesInFixedWidthBatches(t *testing.T) {
	env := newTestEnv(t)
	for i := range 12 {
		env.storeExecution(t, fmt.Sprintf("B%02d", i), sampleTranscript)
	}
	env.storeExecution(t, "no-transcript", "")

	var inFlight, peak atomic.Int32
	env.llm.GenerateResponseFunc = func(context.Context, string, string, float64) (*llm.GenerateResponseResult, error) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		return &llm.GenerateResponseResult{Content: defaultLLMResponse}, nil
	}

	report, err := env.sync.Backfill(context.Background(), env.owner.ID)
	require.NoError(t, err)

	assert.Equal(t, 12, report.Candidates)
	assert.Equal(t, 3, report.Batches)
	assert.Equal(t, 12, report.Extraction.Processed)
	assert.Equal(t, 12, report.Extraction.Delivered)
	assert.LessOrEqual(t, peak.Load(), int32(5))
	assert.Equal(t, 12, env.llm.Calls())

	again, err := env.sync.Backfill(context.Background(), env.owner.ID)
	require.NoError(t, err)
	assert.Zero(t, again.Candidates)
}

func TestBackfill_FailuresAreCounted(t *testing.T) {
	env := newTestEnv(t)
	env.storeExecution(t, "B1", sampleTranscript)
	env.storeExecution(t, "B2", sampleTranscript)

	var calls atomic.Int32
	env.llm.GenerateResponseFunc = func(context.Context, string, string, float64) (*llm.GenerateResponseResult, error) {
		if calls.Add(1) == 1 {
			return nil, errors.New("rate limited")
		}
		return &llm.GenerateResponseResult{Content: defaultLLMResponse}, nil
	}

	report, err := env.sync.BackfillAll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, report.Candidates)
	assert.Equal(t, 1, report.Extraction.Failed)
	assert.Equal(t, 1, report.Extraction.Processed)
}

func TestBackfillAll_SkipsOwnersWithSyncRunning(t *testing.T) {
	env := newTestEnv(t)
	env.storeExecution(t, "B1", sampleTranscript)

	other := &models.User{ID: uuid.New(), Email: "zz-other@example.test"}
	env.users.users[other.ID] = other
	otherAgent := &models.Agent{ID: uuid.New(), UserID: other.ID, AgentID: "agent-x", IsActive: true}
	require.NoError(t, env.agents.Create(context.Background(), otherAgent))
	otherExec := &models.Execution{
		ID: uuid.New(), ExecutionID: "X1", AgentID: otherAgent.ID, UserID: other.ID,
		Transcript: sampleTranscript, ExtractedData: models.ExtractedData{},
	}
	require.NoError(t, env.executions.Upsert(context.Background(), otherExec))

	s := env.sync.(*syncService)
	release, err := s.lock.Acquire(context.Background(), ownerLockKey(env.owner.ID))
	require.NoError(t, err)

	report, err := env.sync.BackfillAll(context.Background())
	require.NoError(t, err)
	release()

	assert.Equal(t, 1, report.OwnersSkipped)
	assert.Equal(t, 1, report.Candidates)
	assert.False(t, env.executions.get("B1").ExtractedData.Processed())
	assert.Zero(t, env.sink.rowCount(), "no row for the owner whose sync holds the lock")

	// Owner locks are released once the backfill finishes.
	_, err = env.sync.SyncOwner(context.Background(), other.ID)
	require.NoError(t, err)

	again, err := env.sync.BackfillAll(context.Background())
	require.NoError(t, err)
	assert.Zero(t, again.OwnersSkipped)
	assert.True(t, env.executions.get("B1").ExtractedData.Processed())
}

func TestBackfill_CancelledContext(t *testing.T) {
	env := newTestEnv(t)
	env.storeExecution(t, "B1", sampleTranscript)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := env.sync.Backfill(ctx, env.owner.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Extraction.Failed)
	assert.Zero(t, env.llm.Calls())
	assert.False(t, env.executions.get("B1").ExtractedData.Processed())
}

func TestRunScheduler_RunsUntilCancelled(t *testing.T) {
	env := newTestEnv(t)
	env.platform.pages["agent-1"] = []pageResponse{{items: []string{recordJSON("E1", "agent-1", "")}}}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- env.sync.RunScheduler(ctx, 10*time.Millisecond)
	}()

	require.Eventually(t, func() bool {
		return len(env.platform.callsFor("agent-1")) >= 2
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop after cancellation")
	}
}

func TestRunScheduler_RejectsNonPositiveInterval(t *testing.T) {
	env := newTestEnv(t)
	assert.Error(t, env.sync.RunScheduler(context.Background(), 0))
}

func TestNewSyncService_Defaults(t *testing.T) {
	s := NewSyncService(nil, nil, nil, nil, nil, nil, nil, newMemoryLock(),
		llm.NewBatchRunner(llm.BatchRunnerConfig{}, zap.NewNop()), SyncServiceConfig{}, zap.NewNop()).(*syncService)

	assert.Equal(t, 50, s.config.PageSize)
	assert.Equal(t, 1000, s.config.MaxPages)
	assert.Equal(t, 500, s.config.BackfillLimit)
}
