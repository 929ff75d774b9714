package models

import (
	"time"

	"github.com/google/uuid"
)

// SheetConnection is a user's spreadsheet destination and its OAuth credential
// (decrypted form). The OAuth consent flow that creates it lives elsewhere.
type SheetConnection struct {
	UserID          uuid.UUID  `json:"user_id"`
	Connected       bool       `json:"connected"`
	SpreadsheetID   string     `json:"spreadsheet_id,omitempty"`
	SpreadsheetName string     `json:"spreadsheet_name,omitempty"`
	AccessToken     string     `json:"-"`
	RefreshToken    string     `json:"-"`
	TokenExpiry     *time.Time `json:"token_expiry,omitempty"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// IsActive reports whether rows can be delivered: authorised and bound to a spreadsheet.
func (c *SheetConnection) IsActive() bool {
	return c != nil && c.Connected && c.SpreadsheetID != ""
}

// ExpiresWithin reports whether the access token expires within d of now.
// A missing expiry or access token counts as expiring.
func (c *SheetConnection) ExpiresWithin(now time.Time, d time.Duration) bool {
	if c.AccessToken == "" || c.TokenExpiry == nil {
		return true
	}
	return !c.TokenExpiry.After(now.Add(d))
}
