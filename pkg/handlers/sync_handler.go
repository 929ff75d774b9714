package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-calls/pkg/auth"
	"github.com/ekaya-inc/ekaya-calls/pkg/services"
)

// SyncHandler exposes manual sync and backfill triggers.
// The sync service opens its own owner scopes, so these routes need no owner middleware.
type SyncHandler struct {
	syncService services.SyncService
	logger      *zap.Logger
}

// NewSyncHandler creates a new SyncHandler.
func NewSyncHandler(syncService services.SyncService, logger *zap.Logger) *SyncHandler {
	return &SyncHandler{syncService: syncService, logger: logger.Named("sync-handler")}
}

// RegisterRoutes registers the sync handler's routes on the given mux.
func (h *SyncHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware) {
	mux.HandleFunc("POST /api/sync", authMiddleware.RequireAuth(h.SyncOwner))
	mux.HandleFunc("POST /api/sync/agents/{aid}", authMiddleware.RequireAuth(h.SyncAgent))
	mux.HandleFunc("POST /api/sync/backfill", authMiddleware.RequireAuth(h.Backfill))
}

// SyncOwner handles POST /api/sync
func (h *SyncHandler) SyncOwner(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := requireOwner(w, r, h.logger)
	if !ok {
		return
	}

	report, err := h.syncService.SyncOwner(r.Context(), ownerID)
	if err != nil {
		writeServiceError(w, err, h.logger)
		return
	}

	if err := WriteJSON(w, http.StatusOK, report); err != nil {
		h.logger.Error("Failed to encode sync report", zap.Error(err))
	}
}

// SyncAgent handles POST /api/sync/agents/{aid}
func (h *SyncHandler) SyncAgent(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := requireOwner(w, r, h.logger)
	if !ok {
		return
	}
	agentID, ok := ParseAgentID(w, r, h.logger)
	if !ok {
		return
	}

	result, err := h.syncService.SyncAgent(r.Context(), ownerID, agentID)
	if err != nil {
		writeServiceError(w, err, h.logger)
		return
	}

	if err := WriteJSON(w, http.StatusOK, result); err != nil {
		h.logger.Error("Failed to encode agent sync result", zap.Error(err))
	}
}

// Backfill handles POST /api/sync/backfill
func (h *SyncHandler) Backfill(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := requireOwner(w, r, h.logger)
	if !ok {
		return
	}

	report, err := h.syncService.Backfill(r.Context(), ownerID)
	if err != nil {
		writeServiceError(w, err, h.logger)
		return
	}

	if err := WriteJSON(w, http.StatusOK, report); err != nil {
		h.logger.Error("Failed to encode backfill report", zap.Error(err))
	}
}
