// Package extraction turns call transcripts into field values.
package extraction

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-calls/pkg/jsonutil"
	"github.com/ekaya-inc/ekaya-calls/pkg/llm"
	"github.com/ekaya-inc/ekaya-calls/pkg/prompts"
)

// NotFound is the value reported for a field the transcript does not contain.
const NotFound = prompts.NotFound

// Field describes one value to extract.
type Field struct {
	Name        string
	Instruction string
}

// FieldExtractor extracts user-defined fields from a transcript.
//
// The returned map has an entry for every field: a non-empty trimmed string
// or NotFound. An error means the backend call or its response failed; callers
// treat that as "no data this attempt".
type FieldExtractor interface {
	Extract(ctx context.Context, transcript string, fields []Field) (map[string]string, error)
	// Available reports whether a backend is configured.
	Available() bool
}

type fieldExtractor struct {
	client      llm.LLMClient
	temperature float64
	logger      *zap.Logger
}

// NewFieldExtractor creates an extractor. A nil client means no backend is
// configured and every field is reported as NotFound.
func NewFieldExtractor(client llm.LLMClient, temperature float64, logger *zap.Logger) FieldExtractor {
	return &fieldExtractor{
		client:      client,
		temperature: temperature,
		logger:      logger.Named("field-extractor"),
	}
}

var _ FieldExtractor = (*fieldExtractor)(nil)

func (e *fieldExtractor) Available() bool {
	return e.client != nil
}

func (e *fieldExtractor) Extract(ctx context.Context, transcript string, fields []Field) (map[string]string, error) {
	if len(fields) == 0 {
		return map[string]string{}, nil
	}
	if strings.TrimSpace(transcript) == "" {
		return AllNotFound(fields), nil
	}
	if e.client == nil {
		e.logger.Debug("No extraction backend configured, reporting all fields as not found",
			zap.Int("fields", len(fields)))
		return AllNotFound(fields), nil
	}

	contexts := make([]prompts.FieldContext, len(fields))
	for i, f := range fields {
		contexts[i] = prompts.FieldContext{Name: f.Name, Instruction: f.Instruction}
	}

	start := time.Now()
	resp, err := e.client.GenerateResponse(ctx, prompts.BuildFieldExtractionPrompt(transcript, contexts), prompts.ExtractionSystemMessage, e.temperature)
	if err != nil {
		return nil, fmt.Errorf("extraction request: %w", err)
	}

	parsed, err := llm.ParseJSONObject(resp.Content)
	if err != nil {
		return nil, fmt.Errorf("parse extraction response: %w", err)
	}

	values := fieldValues(parsed, fields)

	e.logger.Debug("Extraction completed",
		zap.Int("fields", len(fields)),
		zap.Int("found", countFound(values)),
		zap.Int("total_tokens", resp.TotalTokens),
		zap.Duration("elapsed", time.Since(start)))

	return values, nil
}

// fieldValues coerces a parsed response into the sentinel-complete result.
// Non-string or blank values, and values echoing the sentinel, become NotFound.
func fieldValues(parsed map[string]json.RawMessage, fields []Field) map[string]string {
	values := make(map[string]string, len(fields))
	for _, f := range fields {
		values[f.Name] = NotFound

		raw, ok := parsed[f.Name]
		if !ok {
			continue
		}
		s, ok := jsonutil.StrictString(raw)
		if !ok {
			continue
		}
		s = strings.TrimSpace(s)
		if s == "" || strings.EqualFold(s, NotFound) {
			continue
		}
		values[f.Name] = s
	}
	return values
}

// AllNotFound returns a result with every field set to NotFound.
func AllNotFound(fields []Field) map[string]string {
	values := make(map[string]string, len(fields))
	for _, f := range fields {
		values[f.Name] = NotFound
	}
	return values
}

// HasMeaningfulData reports whether any value differs from NotFound.
func HasMeaningfulData(values map[string]string) bool {
	return countFound(values) > 0
}

func countFound(values map[string]string) int {
	n := 0
	for _, v := range values {
		if v != NotFound {
			n++
		}
	}
	return n
}

// OrderedValues returns the values in field order, for a sheet row.
func OrderedValues(values map[string]string, fields []Field) []string {
	row := make([]string, len(fields))
	for i, f := range fields {
		v, ok := values[f.Name]
		if !ok {
			v = NotFound
		}
		row[i] = v
	}
	return row
}
