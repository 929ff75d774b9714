package database

import (
	"context"

	"github.com/google/uuid"
)

type contextKey string

const (
	// OwnerScopeKey is the context key for storing the owner-scoped database connection.
	OwnerScopeKey contextKey = "ownerScope"
)

// GetOwnerScope retrieves the owner-scoped database connection from context.
// Returns nil and false if not present.
func GetOwnerScope(ctx context.Context) (*OwnerScope, bool) {
	scope, ok := ctx.Value(OwnerScopeKey).(*OwnerScope)
	return scope, ok && scope != nil
}

// SetOwnerScope stores the owner-scoped database connection in context.
func SetOwnerScope(ctx context.Context, scope *OwnerScope) context.Context {
	return context.WithValue(ctx, OwnerScopeKey, scope)
}

// ScopeProvider opens owner-scoped or unscoped contexts for database work.
type ScopeProvider interface {
	WithOwnerScope(ctx context.Context, ownerID uuid.UUID) (context.Context, func(), error)
	WithSystemScope(ctx context.Context) (context.Context, func(), error)
}

// OwnerScopeProvider creates owner-scoped contexts for background jobs.
type OwnerScopeProvider struct {
	db *DB
}

var _ ScopeProvider = (*OwnerScopeProvider)(nil)

// NewOwnerScopeProvider creates an OwnerScopeProvider for the given database.
func NewOwnerScopeProvider(db *DB) *OwnerScopeProvider {
	return &OwnerScopeProvider{db: db}
}

// WithOwnerScope returns a context with owner scope set for the given user.
// The cleanup function must be called when the scope is no longer needed.
func (p *OwnerScopeProvider) WithOwnerScope(ctx context.Context, ownerID uuid.UUID) (context.Context, func(), error) {
	scope, err := p.db.WithOwner(ctx, ownerID)
	if err != nil {
		return nil, nil, err
	}
	return SetOwnerScope(ctx, scope), func() { scope.Close() }, nil
}

// WithSystemScope returns a context with an unscoped connection.
func (p *OwnerScopeProvider) WithSystemScope(ctx context.Context) (context.Context, func(), error) {
	scope, err := p.db.WithoutOwner(ctx)
	if err != nil {
		return nil, nil, err
	}
	return SetOwnerScope(ctx, scope), func() { scope.Close() }, nil
}
