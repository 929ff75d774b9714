package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-calls/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-calls/pkg/logging"
	"github.com/ekaya-inc/ekaya-calls/pkg/platform"
	"github.com/ekaya-inc/ekaya-calls/pkg/sheets"
)

// ErrorResponse writes a JSON error response and returns any encoding error.
func ErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(map[string]string{
		"error":   errorCode,
		"message": message,
	})
}

// WriteJSON writes a JSON response and returns any encoding error.
func WriteJSON(w http.ResponseWriter, statusCode int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	if statusCode != http.StatusOK {
		w.WriteHeader(statusCode)
	}
	return json.NewEncoder(w).Encode(data)
}

// writeServiceError maps a service error onto an HTTP status.
func writeServiceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	status, code, message := http.StatusInternalServerError, "internal_error", "Internal server error"

	var apiErr *platform.APIError
	var deliveryErr *sheets.DeliveryError
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		status, code, message = http.StatusNotFound, "not_found", "Resource not found"
	case errors.Is(err, apperrors.ErrOwnershipViolation):
		status, code, message = http.StatusForbidden, "forbidden", "Resource belongs to a different owner"
	case errors.Is(err, apperrors.ErrSyncInProgress):
		status, code, message = http.StatusConflict, "sync_in_progress", "A sync is already running for this owner"
	case errors.Is(err, apperrors.ErrDestinationNotConfigured):
		status, code, message = http.StatusPreconditionFailed, "destination_not_configured", "No spreadsheet is connected"
	case errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound:
		status, code, message = http.StatusNotFound, "not_found", "Execution not found on platform"
	case errors.As(err, &apiErr):
		status, code, message = http.StatusBadGateway, "platform_error", logging.SanitizeError(err)
	case errors.As(err, &deliveryErr):
		status, code, message = http.StatusBadGateway, "sheets_"+string(deliveryErr.Kind), logging.SanitizeError(err)
	}

	if status >= http.StatusInternalServerError {
		logger.Error("Request failed", zap.Int("status", status), zap.Error(err))
	}
	if err := ErrorResponse(w, status, code, message); err != nil {
		logger.Error("Failed to write error response", zap.Error(err))
	}
}
