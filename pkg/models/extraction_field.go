package models

import (
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"

	"github.com/ekaya-inc/ekaya-calls/pkg/apperrors"
)

// MaxFieldNameLength bounds extraction field names; they become sheet headers and JSON keys.
const MaxFieldNameLength = 64

var fieldNamePattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// ExtractionField is a user-defined datum to pull out of call transcripts.
// (UserID, FieldName) is unique. Only active fields are extracted and exported.
type ExtractionField struct {
	ID           uuid.UUID `json:"id"`
	UserID       uuid.UUID `json:"user_id"`
	FieldName    string    `json:"field_name"`
	Instruction  string    `json:"instruction"`
	DisplayOrder int       `json:"display_order"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ValidateFieldName checks the name against the allowed character set and length.
func ValidateFieldName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: name is required", apperrors.ErrInvalidFieldName)
	}
	if len(name) > MaxFieldNameLength {
		return fmt.Errorf("%w: %q exceeds %d characters", apperrors.ErrInvalidFieldName, name, MaxFieldNameLength)
	}
	if !fieldNamePattern.MatchString(name) {
		return fmt.Errorf("%w: %q may only contain letters, digits and underscores", apperrors.ErrInvalidFieldName, name)
	}
	return nil
}

// FieldNames returns the names of fields in the given order.
func FieldNames(fields []*ExtractionField) []string {
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.FieldName
	}
	return names
}
