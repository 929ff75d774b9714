package auth

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// WithClaims returns ctx carrying claims and the raw token.
func WithClaims(ctx context.Context, claims *Claims, token string) context.Context {
	ctx = context.WithValue(ctx, ClaimsKey, claims)
	return context.WithValue(ctx, TokenKey, token)
}

// GetOwnerID returns the authenticated owner's ID.
// Returns uuid.Nil and false if not authenticated or the subject is not a UUID.
func GetOwnerID(ctx context.Context) (uuid.UUID, bool) {
	claims, ok := GetClaims(ctx)
	if !ok {
		return uuid.Nil, false
	}
	id, err := claims.OwnerID()
	if err != nil || id == uuid.Nil {
		return uuid.Nil, false
	}
	return id, true
}

// RequireOwnerID is GetOwnerID for callers that need an error.
func RequireOwnerID(ctx context.Context) (uuid.UUID, error) {
	id, ok := GetOwnerID(ctx)
	if !ok {
		return uuid.Nil, fmt.Errorf("owner ID not found in context")
	}
	return id, nil
}
