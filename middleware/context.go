package middleware

import (
	"context"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/upb/rolegate/claims"
	"github.com/upb/rolegate/roles"
)

// Context key type to avoid collisions
type contextKey string

const (
	// ClaimsKey is the context key for the verified claim set
	ClaimsKey contextKey = "claims"

	// RolesKey is the context key for the granted role set
	RolesKey contextKey = "roles"
)

// GetRequestIDFromContext retrieves the request ID set by chi's RequestID middleware
func GetRequestIDFromContext(ctx context.Context) string {
	return chimw.GetReqID(ctx)
}

// GetClaimsFromContext retrieves the verified claim set from context
func GetClaimsFromContext(ctx context.Context) *claims.ClaimSet {
	if val := ctx.Value(ClaimsKey); val != nil {
		if cs, ok := val.(*claims.ClaimSet); ok {
			return cs
		}
	}
	return nil
}

// WithClaims adds the verified claim set to the context
func WithClaims(ctx context.Context, cs *claims.ClaimSet) context.Context {
	return context.WithValue(ctx, ClaimsKey, cs)
}

// GetRolesFromContext retrieves the granted roles from context
func GetRolesFromContext(ctx context.Context) roles.Set {
	if val := ctx.Value(RolesKey); val != nil {
		if granted, ok := val.(roles.Set); ok {
			return granted
		}
	}
	return nil
}

// WithRoles adds the granted roles to the context
func WithRoles(ctx context.Context, granted roles.Set) context.Context {
	return context.WithValue(ctx, RolesKey, granted)
}
