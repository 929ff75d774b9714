package models

import (
	"encoding/json"
	"strings"
	"time"
)

// Keys of the extracted_data compartment written by this service. The platform
// may also populate the compartment with keys of its own.
const (
	KeyProcessed      = "processed"
	KeyProcessedAt    = "processed_at"
	KeyExtractionMode = "extraction_mode"
	KeyCustomFields   = "custom_fields"
	KeyDoctorInfo     = "doctor_info"
	KeyCallMetadata   = "call_metadata"
	KeySheetsSynced   = "sheets_synced"
	KeySheetsSyncedAt = "sheets_synced_at"
	KeySheetsError    = "sheets_error"
)

// ExtractedData is the extracted_data compartment of an execution, stored as JSONB.
// Values follow encoding/json decoding rules (numbers are float64).
type ExtractedData map[string]any

// MergeExtractedData combines a freshly fetched compartment with the previously
// stored one. The result starts from remote and has every key of previous laid
// over it, so previous wins on collision. Neither argument is modified.
func MergeExtractedData(remote, previous ExtractedData) ExtractedData {
	merged := make(ExtractedData, len(remote)+len(previous))
	for k, v := range remote {
		merged[k] = v
	}
	for k, v := range previous {
		merged[k] = v
	}
	return merged
}

// ReconcileExtractedData picks the compartment to persist for a re-synced record.
// Once the previous record is processed its keys are preserved over the remote
// ones; until then the remote compartment (or an empty one) is used as-is.
func ReconcileExtractedData(remote ExtractedData, previous *Execution) ExtractedData {
	if previous != nil && previous.ExtractedData.Processed() {
		return MergeExtractedData(remote, previous.ExtractedData)
	}
	return remote.Clone()
}

// Clone returns a shallow copy; a nil compartment clones to an empty one.
func (d ExtractedData) Clone() ExtractedData {
	out := make(ExtractedData, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// Processed reports whether local extraction has completed for the record.
func (d ExtractedData) Processed() bool {
	v, ok := d[KeyProcessed].(bool)
	return ok && v
}

// ProcessedAt returns the extraction timestamp if one was recorded.
func (d ExtractedData) ProcessedAt() (time.Time, bool) {
	return d.timeValue(KeyProcessedAt)
}

// SheetsSynced reports whether the extracted row was delivered to the spreadsheet.
func (d ExtractedData) SheetsSynced() bool {
	v, ok := d[KeySheetsSynced].(bool)
	return ok && v
}

// CustomFields returns the extracted custom field values.
func (d ExtractedData) CustomFields() map[string]string {
	return d.stringMap(KeyCustomFields)
}

// DoctorInfo returns the legacy fixed-layout extraction, if present.
func (d ExtractedData) DoctorInfo() map[string]string {
	return d.stringMap(KeyDoctorInfo)
}

// CallMetadata returns the metadata block written alongside the extracted values.
func (d ExtractedData) CallMetadata() (CallMetadata, bool) {
	raw, ok := d[KeyCallMetadata]
	if !ok {
		return CallMetadata{}, false
	}
	m, ok := toStringMap(raw)
	if !ok {
		return CallMetadata{}, false
	}
	return CallMetadata{
		CallDate:    m["call_date"],
		CallTime:    m["call_time"],
		ExecutionID: m["execution_id"],
		AgentName:   m["agent_name"],
	}, true
}

func (d ExtractedData) stringMap(key string) map[string]string {
	raw, ok := d[key]
	if !ok {
		return nil
	}
	m, _ := toStringMap(raw)
	return m
}

func (d ExtractedData) timeValue(key string) (time.Time, bool) {
	switch v := d[key].(type) {
	case time.Time:
		return v, true
	case string:
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return time.Time{}, false
		}
		return t, true
	}
	return time.Time{}, false
}

func toStringMap(raw any) (map[string]string, bool) {
	switch v := raw.(type) {
	case map[string]string:
		out := make(map[string]string, len(v))
		for k, s := range v {
			out[k] = s
		}
		return out, true
	case map[string]any:
		out := make(map[string]string, len(v))
		for k, val := range v {
			if s, ok := val.(string); ok {
				out[k] = s
			}
		}
		return out, true
	}
	return nil, false
}

// MarshalJSON encodes a nil compartment as {} so the column never stores null.
func (d ExtractedData) MarshalJSON() ([]byte, error) {
	if d == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(map[string]any(d))
}

// CallMetadata is the block appended after the extracted values in a sheet row.
type CallMetadata struct {
	CallDate    string `json:"call_date"`
	CallTime    string `json:"call_time"`
	ExecutionID string `json:"execution_id"`
	AgentName   string `json:"agent_name"`
}

// MetadataColumns are the fixed trailing sheet header names, in row order.
var MetadataColumns = []string{"Call Date", "Call Time", "Execution ID", "Agent Name"}

// Values returns the metadata in MetadataColumns order.
func (m CallMetadata) Values() []string {
	return []string{m.CallDate, m.CallTime, m.ExecutionID, m.AgentName}
}

// AsMap returns the metadata in the form stored inside ExtractedData.
func (m CallMetadata) AsMap() map[string]any {
	return map[string]any{
		"call_date":    m.CallDate,
		"call_time":    m.CallTime,
		"execution_id": m.ExecutionID,
		"agent_name":   m.AgentName,
	}
}

func hasText(s string) bool {
	return strings.TrimSpace(s) != ""
}
