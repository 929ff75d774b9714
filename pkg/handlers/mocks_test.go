package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-calls/pkg/auth"
	"github.com/ekaya-inc/ekaya-calls/pkg/config"
	"github.com/ekaya-inc/ekaya-calls/pkg/models"
	"github.com/ekaya-inc/ekaya-calls/pkg/services"
	"github.com/ekaya-inc/ekaya-calls/pkg/sheets"
	"github.com/ekaya-inc/ekaya-calls/pkg/testhelpers"
)

type mockSyncService struct {
	owners        []uuid.UUID
	syncOwnerFunc func(ownerID uuid.UUID) (*models.SyncReport, error)
	syncAgentFunc func(ownerID, agentID uuid.UUID) (*models.AgentSyncResult, error)
	syncExecFunc  func(ownerID uuid.UUID, executionID string) (*services.ReconcileResult, error)
	backfillFunc  func(ownerID uuid.UUID) (*models.BackfillReport, error)
}

var _ services.SyncService = (*mockSyncService)(nil)

func (m *mockSyncService) SyncAll(context.Context) (*models.SyncReport, error) {
	return &models.SyncReport{}, nil
}

func (m *mockSyncService) SyncOwner(_ context.Context, ownerID uuid.UUID) (*models.SyncReport, error) {
	m.owners = append(m.owners, ownerID)
	if m.syncOwnerFunc != nil {
		return m.syncOwnerFunc(ownerID)
	}
	return &models.SyncReport{}, nil
}

func (m *mockSyncService) SyncAgent(_ context.Context, ownerID, agentID uuid.UUID) (*models.AgentSyncResult, error) {
	m.owners = append(m.owners, ownerID)
	return m.syncAgentFunc(ownerID, agentID)
}

func (m *mockSyncService) SyncExecution(_ context.Context, ownerID uuid.UUID, executionID string) (*services.ReconcileResult, error) {
	m.owners = append(m.owners, ownerID)
	return m.syncExecFunc(ownerID, executionID)
}

func (m *mockSyncService) Backfill(_ context.Context, ownerID uuid.UUID) (*models.BackfillReport, error) {
	m.owners = append(m.owners, ownerID)
	return m.backfillFunc(ownerID)
}

func (m *mockSyncService) BackfillAll(context.Context) (*models.BackfillReport, error) {
	return &models.BackfillReport{}, nil
}

func (m *mockSyncService) RunScheduler(context.Context, time.Duration) error { return nil }

type mockExtractionService struct {
	lastOpts services.ProcessOptions
	outcome  *models.ExtractionOutcome
	err      error
}

var _ services.ExtractionService = (*mockExtractionService)(nil)

func (m *mockExtractionService) Process(context.Context, *models.Execution, services.ProcessOptions) *models.ExtractionOutcome {
	return m.outcome
}

func (m *mockExtractionService) ProcessByExecutionID(_ context.Context, _ uuid.UUID, _ string, opts services.ProcessOptions) (*models.ExtractionOutcome, error) {
	m.lastOpts = opts
	return m.outcome, m.err
}

type mockSheetService struct {
	headers []string
	info    *sheets.SpreadsheetInfo
	err     error
}

var _ services.SheetService = (*mockSheetService)(nil)

func (m *mockSheetService) Headers(context.Context, uuid.UUID) ([]string, error) {
	return m.headers, m.err
}

func (m *mockSheetService) InitializeHeaders(context.Context, uuid.UUID) ([]string, error) {
	return m.headers, m.err
}

func (m *mockSheetService) Validate(context.Context, uuid.UUID) (*sheets.SpreadsheetInfo, error) {
	return m.info, m.err
}

// testServer routes requests through the real auth middleware.
type testServer struct {
	mux       *http.ServeMux
	owner     uuid.UUID
	ownerHits int
}

func newTestServer(t *testing.T, syncSvc services.SyncService, extractSvc services.ExtractionService, sheetSvc services.SheetService) *testServer {
	t.Helper()
	ts := &testServer{mux: http.NewServeMux(), owner: uuid.New()}

	authSvc := auth.NewAuthService(config.AuthConfig{EnableVerification: true, JWTSecret: testhelpers.TestJWTSecret}, zap.NewNop())
	authMiddleware := auth.NewMiddleware(authSvc, zap.NewNop())
	ownerMiddleware := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			ts.ownerHits++
			next(w, r)
		}
	}

	NewSyncHandler(syncSvc, zap.NewNop()).RegisterRoutes(ts.mux, authMiddleware)
	NewExecutionHandler(syncSvc, extractSvc, zap.NewNop()).RegisterRoutes(ts.mux, authMiddleware, ownerMiddleware)
	NewSheetsHandler(sheetSvc, zap.NewNop()).RegisterRoutes(ts.mux, authMiddleware, ownerMiddleware)
	return ts
}

func (ts *testServer) do(method, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	req.Header.Set("Authorization", testhelpers.GenerateTestJWTWithBearer(ts.owner.String()))
	rec := httptest.NewRecorder()
	ts.mux.ServeHTTP(rec, req)
	return rec
}
