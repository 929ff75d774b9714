package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-calls/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-calls/pkg/config"
	"github.com/ekaya-inc/ekaya-calls/pkg/database"
	"github.com/ekaya-inc/ekaya-calls/pkg/extraction"
	"github.com/ekaya-inc/ekaya-calls/pkg/llm"
	"github.com/ekaya-inc/ekaya-calls/pkg/models"
	"github.com/ekaya-inc/ekaya-calls/pkg/platform"
	"github.com/ekaya-inc/ekaya-calls/pkg/repositories"
	"github.com/ekaya-inc/ekaya-calls/pkg/sheets"
)

// fakeExecutionRepo mirrors the SQL semantics of the execution repository in memory.
type fakeExecutionRepo struct {
	mu        sync.Mutex
	byID      map[string]*models.Execution
	order     []string
	upsertErr error
	markErr   error
	marks     int
}

var _ repositories.ExecutionRepository = (*fakeExecutionRepo)(nil)

func newFakeExecutionRepo() *fakeExecutionRepo {
	return &fakeExecutionRepo{byID: make(map[string]*models.Execution)}
}

func cloneExecution(e *models.Execution) *models.Execution {
	c := *e
	c.ExtractedData = e.ExtractedData.Clone()
	return &c
}

func (r *fakeExecutionRepo) GetByExecutionID(_ context.Context, executionID string) (*models.Execution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byID[executionID]
	if !ok {
		return nil, nil
	}
	return cloneExecution(e), nil
}

func (r *fakeExecutionRepo) Upsert(_ context.Context, exec *models.Execution) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.upsertErr != nil {
		return r.upsertErr
	}

	existing, ok := r.byID[exec.ExecutionID]
	if ok && existing.UserID != exec.UserID {
		return fmt.Errorf("execution %s: %w", exec.ExecutionID, apperrors.ErrOwnershipViolation)
	}
	if exec.ID == uuid.Nil {
		exec.ID = uuid.New()
	}
	data := exec.ExtractedData.Clone()
	if ok && existing.ExtractedData.Processed() {
		data = models.MergeExtractedData(data, existing.ExtractedData)
	}
	exec.ExtractedData = data
	if !ok {
		exec.CreatedAt = time.Now()
		r.order = append(r.order, exec.ExecutionID)
	} else {
		exec.ID = existing.ID
		exec.CreatedAt = existing.CreatedAt
	}
	r.byID[exec.ExecutionID] = cloneExecution(exec)
	return nil
}

func (r *fakeExecutionRepo) MarkExtracted(_ context.Context, executionID string, data models.ExtractedData) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.markErr != nil {
		return false, r.markErr
	}
	e, ok := r.byID[executionID]
	if !ok || e.ExtractedData.Processed() {
		return false, nil
	}
	r.marks++
	e.ExtractedData = models.MergeExtractedData(e.ExtractedData, data)
	return true, nil
}

func (r *fakeExecutionRepo) ListBackfillCandidates(_ context.Context, limit int) ([]*models.Execution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Execution
	for _, id := range r.order {
		e := r.byID[id]
		if !e.HasTranscript() || e.ExtractedData.Processed() || e.ExtractedData.SheetsSynced() {
			continue
		}
		out = append(out, cloneExecution(e))
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *fakeExecutionRepo) get(executionID string) *models.Execution {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byID[executionID]
}

type fakeAgentRepo struct {
	mu     sync.Mutex
	agents map[uuid.UUID]*models.Agent
	synced map[uuid.UUID]time.Time
}

var _ repositories.AgentRepository = (*fakeAgentRepo)(nil)

func newFakeAgentRepo(agents ...*models.Agent) *fakeAgentRepo {
	r := &fakeAgentRepo{agents: make(map[uuid.UUID]*models.Agent), synced: make(map[uuid.UUID]time.Time)}
	for _, a := range agents {
		r.agents[a.ID] = a
	}
	return r
}

func (r *fakeAgentRepo) Create(_ context.Context, agent *models.Agent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents[agent.ID] = agent
	return nil
}

func (r *fakeAgentRepo) GetByID(_ context.Context, id uuid.UUID) (*models.Agent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.agents[id], nil
}

func (r *fakeAgentRepo) GetByRemoteID(_ context.Context, userID uuid.UUID, agentID string) (*models.Agent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.agents {
		if a.UserID == userID && a.AgentID == agentID {
			return a, nil
		}
	}
	return nil, nil
}

func (r *fakeAgentRepo) ListActiveByUser(_ context.Context, userID uuid.UUID) ([]*models.Agent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Agent
	for _, a := range r.agents {
		if a.UserID == userID && a.IsActive {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out, nil
}

func (r *fakeAgentRepo) UpdateLastSynced(_ context.Context, id uuid.UUID, syncedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.synced[id] = syncedAt
	return nil
}

type fakeUserRepo struct {
	users map[uuid.UUID]*models.User
}

var _ repositories.UserRepository = (*fakeUserRepo)(nil)

func newFakeUserRepo(users ...*models.User) *fakeUserRepo {
	r := &fakeUserRepo{users: make(map[uuid.UUID]*models.User)}
	for _, u := range users {
		r.users[u.ID] = u
	}
	return r
}

func (r *fakeUserRepo) GetByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	return r.users[id], nil
}

func (r *fakeUserRepo) ListWithActiveAgents(_ context.Context) ([]*models.User, error) {
	var out []*models.User
	for _, u := range r.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out, nil
}

type fakeFieldRepo struct {
	fields map[uuid.UUID][]*models.ExtractionField
	err    error
}

var _ repositories.ExtractionFieldRepository = (*fakeFieldRepo)(nil)

func (r *fakeFieldRepo) Create(_ context.Context, field *models.ExtractionField) error {
	r.fields[field.UserID] = append(r.fields[field.UserID], field)
	return nil
}

func (r *fakeFieldRepo) ListActive(_ context.Context, userID uuid.UUID) ([]*models.ExtractionField, error) {
	if r.err != nil {
		return nil, r.err
	}
	var out []*models.ExtractionField
	for _, f := range r.fields[userID] {
		if f.IsActive {
			out = append(out, f)
		}
	}
	return out, nil
}

// fakeSink records delivered rows. AppendRowFunc overrides the default "delivered" answer.
type fakeSink struct {
	mu            sync.Mutex
	rows          [][]string
	headers       []string
	AppendRowFunc func(userID uuid.UUID, values []string) (bool, error)
	ValidateFunc  func(userID uuid.UUID) (*sheets.SpreadsheetInfo, error)
}

var _ sheets.Sink = (*fakeSink)(nil)

func (s *fakeSink) AppendRow(_ context.Context, userID uuid.UUID, values []string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.AppendRowFunc != nil {
		ok, err := s.AppendRowFunc(userID, values)
		if ok {
			s.rows = append(s.rows, values)
		}
		return ok, err
	}
	s.rows = append(s.rows, values)
	return true, nil
}

func (s *fakeSink) InitializeHeaders(_ context.Context, _ uuid.UUID, headers []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.headers = headers
	return nil
}

func (s *fakeSink) Validate(_ context.Context, userID uuid.UUID) (*sheets.SpreadsheetInfo, error) {
	if s.ValidateFunc != nil {
		return s.ValidateFunc(userID)
	}
	return &sheets.SpreadsheetInfo{ID: "sheet-1", Title: "Calls"}, nil
}

func (s *fakeSink) rowCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

// pageResponse is one scripted answer of fakePlatform.ListExecutions.
type pageResponse struct {
	items   []string
	hasMore bool
	err     error
}

type pageCall struct {
	agentID  string
	page     int
	pageSize int
}

type fakePlatform struct {
	mu      sync.Mutex
	pages   map[string][]pageResponse
	records map[string]string
	calls   []pageCall
}

var _ platform.Client = (*fakePlatform)(nil)

func newFakePlatform() *fakePlatform {
	return &fakePlatform{pages: make(map[string][]pageResponse), records: make(map[string]string)}
}

func (p *fakePlatform) ListExecutions(_ context.Context, agentID string, page, pageSize int) (*platform.Page, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, pageCall{agentID: agentID, page: page, pageSize: pageSize})

	responses := p.pages[agentID]
	if page > len(responses) {
		return &platform.Page{Number: page}, nil
	}
	resp := responses[page-1]
	if resp.err != nil {
		return nil, resp.err
	}
	items := make([]json.RawMessage, len(resp.items))
	for i, s := range resp.items {
		items[i] = json.RawMessage(s)
	}
	return &platform.Page{Number: page, Items: items, HasMore: resp.hasMore}, nil
}

func (p *fakePlatform) GetExecution(_ context.Context, executionID string) (*platform.Record, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	raw, ok := p.records[executionID]
	if !ok {
		return nil, &platform.APIError{StatusCode: 404, Endpoint: "/executions/" + executionID}
	}
	return platform.ParseRecord(json.RawMessage(raw))
}

func (p *fakePlatform) callsFor(agentID string) []pageCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []pageCall
	for _, c := range p.calls {
		if c.agentID == agentID {
			out = append(out, c)
		}
	}
	return out
}

// passthroughScopes hands back the caller's context; the fakes need no connection.
type passthroughScopes struct {
	mu     sync.Mutex
	owners []uuid.UUID
}

var _ database.ScopeProvider = (*passthroughScopes)(nil)

func (p *passthroughScopes) WithOwnerScope(ctx context.Context, ownerID uuid.UUID) (context.Context, func(), error) {
	p.mu.Lock()
	p.owners = append(p.owners, ownerID)
	p.mu.Unlock()
	return ctx, func() {}, nil
}

func (p *passthroughScopes) WithSystemScope(ctx context.Context) (context.Context, func(), error) {
	return ctx, func() {}, nil
}

// testEnv wires the services over in-memory fakes.
type testEnv struct {
	owner      *models.User
	agent      *models.Agent
	executions *fakeExecutionRepo
	agents     *fakeAgentRepo
	users      *fakeUserRepo
	fields     *fakeFieldRepo
	sink       *fakeSink
	platform   *fakePlatform
	llm        *llm.MockLLMClient
	scopes     *passthroughScopes
	extraction ExtractionService
	reconciler Reconciler
	sync       SyncService
}

type envOption func(*envConfig)

type envConfig struct {
	mode      string
	saveEmpty bool
	noBackend bool
	logger    *zap.Logger
	location  *time.Location
}

func withMode(mode string) envOption { return func(c *envConfig) { c.mode = mode } }
func withoutBackend() envOption      { return func(c *envConfig) { c.noBackend = true } }
func withLogger(l *zap.Logger) envOption {
	return func(c *envConfig) { c.logger = l }
}
func withLocation(loc *time.Location) envOption {
	return func(c *envConfig) { c.location = loc }
}

const defaultLLMResponse = `{"doctor_name": "Dr. Rao", "clinic_name": "Not Found", "city": "Pune"}`

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	cfg := envConfig{mode: config.ExtractionModeCustom, logger: zap.NewNop(), location: time.UTC}
	for _, o := range opts {
		o(&cfg)
	}

	owner := &models.User{ID: uuid.New(), Email: "owner@example.test", Name: "Owner"}
	agent := &models.Agent{ID: uuid.New(), UserID: owner.ID, AgentID: "agent-1", Name: "Front Desk", IsActive: true}

	env := &testEnv{
		owner:      owner,
		agent:      agent,
		executions: newFakeExecutionRepo(),
		agents:     newFakeAgentRepo(agent),
		users:      newFakeUserRepo(owner),
		fields: &fakeFieldRepo{fields: map[uuid.UUID][]*models.ExtractionField{
			owner.ID: {
				{UserID: owner.ID, FieldName: "doctor_name", Instruction: "Doctor's full name", DisplayOrder: 1, IsActive: true},
				{UserID: owner.ID, FieldName: "clinic_name", Instruction: "Clinic name", DisplayOrder: 2, IsActive: true},
				{UserID: owner.ID, FieldName: "city", Instruction: "City", DisplayOrder: 3, IsActive: true},
			},
		}},
		sink:     &fakeSink{},
		platform: newFakePlatform(),
		llm:      llm.NewMockLLMClientWithResponse(defaultLLMResponse),
		scopes:   &passthroughScopes{},
	}

	var client llm.LLMClient = env.llm
	if cfg.noBackend {
		client = nil
	}
	extractor := extraction.NewFieldExtractor(client, 0.1, zap.NewNop())

	env.extraction = NewExtractionService(env.executions, env.agents, env.users, env.fields, extractor, env.sink,
		ExtractionServiceConfig{Mode: cfg.mode, SaveEmpty: cfg.saveEmpty, Location: cfg.location}, cfg.logger)
	env.reconciler = NewReconciler(env.executions, env.extraction, zap.NewNop())
	env.sync = NewSyncService(env.platform, env.reconciler, env.extraction, env.users, env.agents, env.executions,
		env.scopes, newMemoryLock(), llm.NewBatchRunner(llm.BatchRunnerConfig{Width: 5}, zap.NewNop()),
		SyncServiceConfig{PageSize: 50, MaxPages: 10, BackfillLimit: 100}, cfg.logger)
	return env
}

// storeExecution inserts a record for env.agent directly into the fake store.
func (env *testEnv) storeExecution(t *testing.T, executionID, transcript string) *models.Execution {
	t.Helper()
	started := time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)
	exec := &models.Execution{
		ExecutionID:   executionID,
		AgentID:       env.agent.ID,
		UserID:        env.owner.ID,
		Status:        models.ExecutionStatusCompleted,
		StartedAt:     &started,
		Transcript:    transcript,
		ExtractedData: models.ExtractedData{},
	}
	if err := env.executions.Upsert(context.Background(), exec); err != nil {
		t.Fatalf("store execution: %v", err)
	}
	return exec
}

func recordJSON(id, agentID, transcript string) string {
	b, _ := json.Marshal(map[string]any{
		"id":         id,
		"agent_id":   agentID,
		"status":     "completed",
		"total_cost": 120,
		"duration":   30,
		"transcript": transcript,
		"created_at": "2025-03-14T09:30:00Z",
	})
	return string(b)
}
