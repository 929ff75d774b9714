package models

import (
	"time"

	"github.com/google/uuid"
)

// User is a dashboard account. Users own agents, extraction field
// definitions and a spreadsheet connection. Registration and login live
// in the auth service; this service only reads users.
type User struct {
	ID        uuid.UUID `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
