package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-calls/pkg/auth"
	"github.com/ekaya-inc/ekaya-calls/pkg/models"
	"github.com/ekaya-inc/ekaya-calls/pkg/services"
)

// RefreshResponse is returned by the single-record refresh route.
type RefreshResponse struct {
	Execution  *models.Execution         `json:"execution"`
	Extraction *models.ExtractionOutcome `json:"extraction,omitempty"`
}

// ExecutionHandler exposes per-record refresh and extraction.
type ExecutionHandler struct {
	syncService       services.SyncService
	extractionService services.ExtractionService
	logger            *zap.Logger
}

// NewExecutionHandler creates a new ExecutionHandler.
func NewExecutionHandler(syncService services.SyncService, extractionService services.ExtractionService, logger *zap.Logger) *ExecutionHandler {
	return &ExecutionHandler{
		syncService:       syncService,
		extractionService: extractionService,
		logger:            logger.Named("execution-handler"),
	}
}

// RegisterRoutes registers the execution handler's routes on the given mux.
func (h *ExecutionHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware, ownerMiddleware OwnerMiddleware) {
	mux.HandleFunc("POST /api/executions/{eid}/refresh", authMiddleware.RequireAuth(h.Refresh))
	mux.HandleFunc("POST /api/executions/{eid}/extract", authMiddleware.RequireAuth(ownerMiddleware(h.Extract)))
}

// Refresh handles POST /api/executions/{eid}/refresh
func (h *ExecutionHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := requireOwner(w, r, h.logger)
	if !ok {
		return
	}
	executionID, ok := ParseExecutionID(w, r, h.logger)
	if !ok {
		return
	}

	res, err := h.syncService.SyncExecution(r.Context(), ownerID, executionID)
	if err != nil {
		writeServiceError(w, err, h.logger)
		return
	}

	if err := WriteJSON(w, http.StatusOK, RefreshResponse{Execution: res.Execution, Extraction: res.Extraction}); err != nil {
		h.logger.Error("Failed to encode refresh response", zap.Error(err))
	}
}

// Extract handles POST /api/executions/{eid}/extract?save_empty=true
func (h *ExecutionHandler) Extract(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := requireOwner(w, r, h.logger)
	if !ok {
		return
	}
	executionID, ok := ParseExecutionID(w, r, h.logger)
	if !ok {
		return
	}
	saveEmpty, ok := ParseBoolQuery(w, r, "save_empty", h.logger)
	if !ok {
		return
	}

	outcome, err := h.extractionService.ProcessByExecutionID(r.Context(), ownerID, executionID,
		services.ProcessOptions{SaveEmpty: saveEmpty})
	if err != nil {
		writeServiceError(w, err, h.logger)
		return
	}

	if err := WriteJSON(w, http.StatusOK, outcome); err != nil {
		h.logger.Error("Failed to encode extraction outcome", zap.Error(err))
	}
}
