package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-calls/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-calls/pkg/sheets"
)

func TestSheetsHandler_InitializeHeaders(t *testing.T) {
	svc := &mockSheetService{headers: []string{"city", "Call Date", "Call Time", "Execution ID", "Agent Name"}}
	ts := newTestServer(t, &mockSyncService{}, &mockExtractionService{}, svc)

	rec := ts.do(http.MethodPost, "/api/sheets/headers")

	require.Equal(t, http.StatusOK, rec.Code)
	var body HeadersResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, svc.headers, body.Headers)
	assert.Equal(t, 1, ts.ownerHits)
}

func TestSheetsHandler_Validate(t *testing.T) {
	svc := &mockSheetService{info: &sheets.SpreadsheetInfo{ID: "sheet-1", Title: "Calls"}}
	ts := newTestServer(t, &mockSyncService{}, &mockExtractionService{}, svc)

	rec := ts.do(http.MethodGet, "/api/sheets/validate")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"spreadsheet_id":"sheet-1"`)
}

func TestSheetsHandler_Errors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"no connection", apperrors.ErrDestinationNotConfigured, http.StatusPreconditionFailed, "destination_not_configured"},
		{"revoked", &sheets.DeliveryError{Kind: sheets.KindAuth, Op: "validate", Err: errors.New("invalid_grant")}, http.StatusBadGateway, "sheets_auth"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, &mockSyncService{}, &mockExtractionService{}, &mockSheetService{err: tt.err})
			rec := ts.do(http.MethodGet, "/api/sheets/validate")
			assert.Equal(t, tt.status, rec.Code)

			var body map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.code, body["error"])
		})
	}
}
