package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeExtractedData_PreviousWins(t *testing.T) {
	previous := ExtractedData{"a": 1.0, KeyProcessed: true}
	remote := ExtractedData{"b": 2.0}

	got := MergeExtractedData(remote, previous)

	want := ExtractedData{"b": 2.0, "a": 1.0, KeyProcessed: true}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("merged compartment mismatch (-want +got):\n%s", diff)
	}
}

func TestMergeExtractedData_CollisionKeepsPrevious(t *testing.T) {
	previous := ExtractedData{KeyProcessed: true, KeyCustomFields: map[string]any{"city": "Pune"}}
	remote := ExtractedData{KeyProcessed: false, KeyCustomFields: map[string]any{"city": "Delhi"}, "summary": "x"}

	got := MergeExtractedData(remote, previous)

	assert.True(t, got.Processed())
	assert.Equal(t, map[string]string{"city": "Pune"}, got.CustomFields())
	assert.Equal(t, "x", got["summary"])
}

func TestMergeExtractedData_DoesNotMutateInputs(t *testing.T) {
	previous := ExtractedData{"a": 1.0}
	remote := ExtractedData{"b": 2.0}

	merged := MergeExtractedData(remote, previous)
	merged["c"] = 3.0

	assert.Len(t, previous, 1)
	assert.Len(t, remote, 1)
}

func TestReconcileExtractedData(t *testing.T) {
	tests := []struct {
		name     string
		remote   ExtractedData
		previous *Execution
		want     ExtractedData
	}{
		{
			name:   "no previous record uses remote",
			remote: ExtractedData{"b": 2.0},
			want:   ExtractedData{"b": 2.0},
		},
		{
			name:     "unprocessed previous is replaced by remote",
			remote:   ExtractedData{"b": 2.0},
			previous: &Execution{ExtractedData: ExtractedData{"a": 1.0}},
			want:     ExtractedData{"b": 2.0},
		},
		{
			name:     "processed previous overlays remote",
			remote:   ExtractedData{"b": 2.0},
			previous: &Execution{ExtractedData: ExtractedData{"a": 1.0, KeyProcessed: true}},
			want:     ExtractedData{"a": 1.0, "b": 2.0, KeyProcessed: true},
		},
		{
			name:     "nil remote with processed previous",
			previous: &Execution{ExtractedData: ExtractedData{KeyProcessed: true}},
			want:     ExtractedData{KeyProcessed: true},
		},
		{
			name: "nil remote without previous is empty",
			want: ExtractedData{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ReconcileExtractedData(tt.remote, tt.previous)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestExtractedData_JSONRoundTripAccessors(t *testing.T) {
	processedAt := time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC)
	data := ExtractedData{
		KeyProcessed:    true,
		KeyProcessedAt:  processedAt.Format(time.RFC3339Nano),
		KeyCustomFields: map[string]string{"doctor_name": "Dr. Rao"},
		KeyCallMetadata: CallMetadata{CallDate: "2024-03-01", CallTime: "10:30:00", ExecutionID: "E1", AgentName: "Front desk"}.AsMap(),
		KeySheetsSynced: true,
	}

	raw, err := json.Marshal(data)
	require.NoError(t, err)

	var decoded ExtractedData
	require.NoError(t, json.Unmarshal(raw, &decoded))

	assert.True(t, decoded.Processed())
	assert.True(t, decoded.SheetsSynced())
	got, ok := decoded.ProcessedAt()
	require.True(t, ok)
	assert.True(t, processedAt.Equal(got))
	assert.Equal(t, map[string]string{"doctor_name": "Dr. Rao"}, decoded.CustomFields())

	meta, ok := decoded.CallMetadata()
	require.True(t, ok)
	assert.Equal(t, []string{"2024-03-01", "10:30:00", "E1", "Front desk"}, meta.Values())
}

func TestExtractedData_NilMarshalsAsObject(t *testing.T) {
	var data ExtractedData
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(raw))
	assert.False(t, data.Processed())
	assert.Nil(t, data.CustomFields())
}
