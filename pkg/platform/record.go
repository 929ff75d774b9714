package platform

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ekaya-inc/ekaya-calls/pkg/jsonutil"
	"github.com/ekaya-inc/ekaya-calls/pkg/models"
)

// ErrMalformedRecord is returned for list items that are not usable execution objects.
var ErrMalformedRecord = errors.New("malformed execution record")

// DurationKeys are the keys that may carry a call's duration in seconds,
// in precedence order. The nested telephony duration is consulted last.
var DurationKeys = []string{
	"duration",
	"call_duration",
	"conversation_duration",
	"conversation_time",
	"total_duration",
}

var (
	costKeys      = []string{"total_cost", "cost"}
	startedAtKeys = []string{"started_at", "initiated_at", "created_at"}
	endedAtKeys   = []string{"ended_at", "completed_at"}
)

// metadataExcludedKeys are not copied into provider metadata: they are stored in
// dedicated columns or are too large to duplicate.
var metadataExcludedKeys = map[string]bool{
	"transcript":     true,
	"extracted_data": true,
}

// Record is one execution as returned by the platform. Field names vary across
// API versions, so values are read through accessors.
type Record struct {
	fields map[string]json.RawMessage
}

// ParseRecord decodes one list item. It must be a JSON object with a string id.
func ParseRecord(raw json.RawMessage) (*Record, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return nil, fmt.Errorf("%w: not a JSON object", ErrMalformedRecord)
	}
	r := &Record{fields: fields}
	if r.ID() == "" {
		return nil, fmt.Errorf("%w: missing id", ErrMalformedRecord)
	}
	return r, nil
}

// ID returns the remote execution id.
func (r *Record) ID() string {
	for _, k := range []string{"id", "execution_id"} {
		if s := jsonutil.FlexibleStringValue(r.fields[k]); s != "" {
			return s
		}
	}
	return ""
}

// AgentID returns the remote agent id, if present.
func (r *Record) AgentID() string {
	return jsonutil.FlexibleStringValue(r.fields["agent_id"])
}

// Status returns the platform status, empty when absent.
func (r *Record) Status() string {
	s, _ := jsonutil.StrictString(r.fields["status"])
	return strings.TrimSpace(s)
}

// CostMinor returns the cost in minor currency units.
func (r *Record) CostMinor() (float64, bool) {
	return jsonutil.FirstNumber(r.fields, costKeys...)
}

// Duration returns the first present non-null duration in DurationKeys order,
// then telephony_data.duration.
func (r *Record) Duration() (float64, bool) {
	if d, ok := jsonutil.FirstNumber(r.fields, DurationKeys...); ok {
		return d, true
	}
	if tel := r.object("telephony_data"); tel != nil {
		return jsonutil.FirstNumber(tel, "duration")
	}
	return 0, false
}

// Transcript returns the transcript text. Non-string transcripts read as empty.
func (r *Record) Transcript() string {
	s, _ := jsonutil.StrictString(r.fields["transcript"])
	return s
}

// StartedAt returns the call start time.
func (r *Record) StartedAt() *time.Time {
	return r.firstTime(startedAtKeys)
}

// EndedAt returns the call end time.
func (r *Record) EndedAt() *time.Time {
	return r.firstTime(endedAtKeys)
}

// TelephonyData returns the telephony block, nil when absent.
func (r *Record) TelephonyData() *models.TelephonyData {
	tel := r.object("telephony_data")
	if tel == nil {
		return nil
	}
	duration, _ := jsonutil.FirstNumber(tel, "duration")
	return &models.TelephonyData{
		Provider:       jsonutil.FlexibleStringValue(tel["provider"]),
		FromNumber:     jsonutil.FlexibleStringValue(tel["from_number"]),
		ToNumber:       jsonutil.FlexibleStringValue(tel["to_number"]),
		ProviderCallID: jsonutil.FlexibleStringValue(tel["provider_call_id"]),
		RecordingURL:   jsonutil.FlexibleStringValue(tel["recording_url"]),
		Duration:       duration,
		CallType:       jsonutil.FlexibleStringValue(tel["call_type"]),
		HangupReason:   jsonutil.FlexibleStringValue(tel["hangup_reason"]),
	}
}

// ExtractedData returns the platform-side extracted_data compartment, nil when
// absent or not an object.
func (r *Record) ExtractedData() models.ExtractedData {
	raw, ok := r.fields["extracted_data"]
	if !ok {
		return nil
	}
	var data models.ExtractedData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil
	}
	return data
}

// ProviderMetadata returns the record without transcript and extracted data.
func (r *Record) ProviderMetadata() json.RawMessage {
	meta := make(map[string]json.RawMessage, len(r.fields))
	for k, v := range r.fields {
		if !metadataExcludedKeys[k] {
			meta[k] = v
		}
	}
	b, err := json.Marshal(meta)
	if err != nil {
		return nil
	}
	return b
}

func (r *Record) object(key string) map[string]json.RawMessage {
	raw, ok := r.fields[key]
	if !ok {
		return nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil
	}
	return obj
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02 15:04:05.999999",
	"2006-01-02 15:04:05",
}

func (r *Record) firstTime(keys []string) *time.Time {
	for _, k := range keys {
		s, ok := jsonutil.StrictString(r.fields[k])
		if !ok || s == "" {
			continue
		}
		if t, ok := parseTime(s); ok {
			return &t
		}
	}
	return nil
}

// parseTime accepts RFC 3339 and zone-less timestamps, which are taken as UTC.
func parseTime(s string) (time.Time, bool) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
