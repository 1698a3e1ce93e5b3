// ABOUTME: Authentication context for tracking identity through request handlers
// ABOUTME: Provides WithAuth/FromContext for propagating the caller via context

package auth

import (
	"context"
	"slices"
)

// Role names carried in tokens and the user directory.
const (
	RoleCustomer = "customer"
	RoleAdmin    = "admin"
	RoleOwner    = "owner"
)

// AuthContext holds the authenticated identity extracted from a request.
type AuthContext struct {
	UserID      string
	DisplayName string
	Roles       []string
}

// IsAdmin returns true if the caller has the admin or owner role.
func (a *AuthContext) IsAdmin() bool {
	return IsAdminRole(a.Roles...)
}

// IsAdminRole reports whether any of roles grants admin access.
func IsAdminRole(roles ...string) bool {
	return slices.Contains(roles, RoleAdmin) || slices.Contains(roles, RoleOwner)
}

// PrimaryRole returns the role recorded in the user directory.
func (a *AuthContext) PrimaryRole() string {
	switch {
	case slices.Contains(a.Roles, RoleOwner):
		return RoleOwner
	case slices.Contains(a.Roles, RoleAdmin):
		return RoleAdmin
	case len(a.Roles) > 0:
		return a.Roles[0]
	default:
		return RoleCustomer
	}
}

// authContextKey is the key type for storing AuthContext in context.Context.
type authContextKey struct{}

// WithAuth returns a new context with the AuthContext attached.
func WithAuth(ctx context.Context, auth *AuthContext) context.Context {
	return context.WithValue(ctx, authContextKey{}, auth)
}

// FromContext retrieves the AuthContext from the context, returning nil if not present.
func FromContext(ctx context.Context) *AuthContext {
	auth, _ := ctx.Value(authContextKey{}).(*AuthContext)
	return auth
}

// MustFromContext retrieves the AuthContext from the context, panicking if not present.
func MustFromContext(ctx context.Context) *AuthContext {
	auth := FromContext(ctx)
	if auth == nil {
		panic("auth: AuthContext not found in context")
	}
	return auth
}
