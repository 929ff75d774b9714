package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-calls/pkg/auth"
	"github.com/ekaya-inc/ekaya-calls/pkg/services"
)

// HeadersResponse is returned after writing the header row.
type HeadersResponse struct {
	Headers []string `json:"headers"`
}

// SheetsHandler manages the caller's spreadsheet destination.
type SheetsHandler struct {
	sheetService services.SheetService
	logger       *zap.Logger
}

// NewSheetsHandler creates a new SheetsHandler.
func NewSheetsHandler(sheetService services.SheetService, logger *zap.Logger) *SheetsHandler {
	return &SheetsHandler{sheetService: sheetService, logger: logger.Named("sheets-handler")}
}

// RegisterRoutes registers the sheets handler's routes on the given mux.
func (h *SheetsHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware, ownerMiddleware OwnerMiddleware) {
	mux.HandleFunc("POST /api/sheets/headers", authMiddleware.RequireAuth(ownerMiddleware(h.InitializeHeaders)))
	mux.HandleFunc("GET /api/sheets/validate", authMiddleware.RequireAuth(ownerMiddleware(h.Validate)))
}

// InitializeHeaders handles POST /api/sheets/headers
func (h *SheetsHandler) InitializeHeaders(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := requireOwner(w, r, h.logger)
	if !ok {
		return
	}

	headers, err := h.sheetService.InitializeHeaders(r.Context(), ownerID)
	if err != nil {
		writeServiceError(w, err, h.logger)
		return
	}

	if err := WriteJSON(w, http.StatusOK, HeadersResponse{Headers: headers}); err != nil {
		h.logger.Error("Failed to encode headers response", zap.Error(err))
	}
}

// Validate handles GET /api/sheets/validate
func (h *SheetsHandler) Validate(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := requireOwner(w, r, h.logger)
	if !ok {
		return
	}

	info, err := h.sheetService.Validate(r.Context(), ownerID)
	if err != nil {
		writeServiceError(w, err, h.logger)
		return
	}

	if err := WriteJSON(w, http.StatusOK, info); err != nil {
		h.logger.Error("Failed to encode spreadsheet info", zap.Error(err))
	}
}
