package apperrors

import "errors"

var (
	ErrNotFound                 = errors.New("not found")
	ErrConflict                 = errors.New("conflict")
	ErrOwnershipViolation       = errors.New("resource belongs to a different owner")
	ErrDestinationNotConfigured = errors.New("spreadsheet destination not configured")
	ErrInvalidFieldName         = errors.New("invalid extraction field name")
	ErrSyncInProgress           = errors.New("sync already in progress")
)
