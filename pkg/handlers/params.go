package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-calls/pkg/auth"
)

// OwnerMiddleware wraps a handler with an owner-scoped database connection.
type OwnerMiddleware func(http.HandlerFunc) http.HandlerFunc

// ParseAgentID extracts and validates the agent ID from the request path.
// Expects path parameter: aid
func ParseAgentID(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (uuid.UUID, bool) {
	return parseUUID(w, r, "aid", "invalid_agent_id", "Invalid agent ID format", logger)
}

// ParseExecutionID extracts the platform execution ID from the request path.
// Expects path parameter: eid
func ParseExecutionID(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (string, bool) {
	id := strings.TrimSpace(r.PathValue("eid"))
	if id == "" {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_execution_id", "Execution ID is required"); err != nil {
			logger.Error("Failed to write error response", zap.Error(err))
		}
		return "", false
	}
	return id, true
}

// ParseBoolQuery reads an optional boolean query parameter. Absent means false.
func ParseBoolQuery(w http.ResponseWriter, r *http.Request, name string, logger *zap.Logger) (bool, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return false, true
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_parameter", "Invalid value for "+name); err != nil {
			logger.Error("Failed to write error response", zap.Error(err))
		}
		return false, false
	}
	return v, true
}

// requireOwner returns the authenticated owner or writes a 401.
func requireOwner(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (uuid.UUID, bool) {
	ownerID, ok := auth.GetOwnerID(r.Context())
	if !ok {
		if err := ErrorResponse(w, http.StatusUnauthorized, "unauthorized", "Authentication required"); err != nil {
			logger.Error("Failed to write error response", zap.Error(err))
		}
		return uuid.Nil, false
	}
	return ownerID, true
}

func parseUUID(w http.ResponseWriter, r *http.Request, pathParam, errorCode, errorMessage string, logger *zap.Logger) (uuid.UUID, bool) {
	idStr := r.PathValue(pathParam)
	id, err := uuid.Parse(idStr)
	if err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, errorCode, errorMessage); err != nil {
			logger.Error("Failed to write error response", zap.Error(err))
		}
		return uuid.Nil, false
	}
	return id, true
}
