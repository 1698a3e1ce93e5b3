// ABOUTME: Role-based gate for implicitly claiming unassigned conversations
// ABOUTME: Only admins may become a conversation's admin by replying to it

package auth

import (
	"context"

	"github.com/2389/shopchat/internal/store"
)

// UserLookup reads the user directory.
type UserLookup interface {
	GetUser(ctx context.Context, id string) (*store.User, error)
}

// RoleClaimAuthorizer allows a claim when the caller in ctx is that user and
// holds an admin role, or when the directory records the user as an admin.
type RoleClaimAuthorizer struct {
	users UserLookup
}

// NewRoleClaimAuthorizer creates a RoleClaimAuthorizer.
func NewRoleClaimAuthorizer(users UserLookup) *RoleClaimAuthorizer {
	return &RoleClaimAuthorizer{users: users}
}

// CanClaim implements conversation.ClaimAuthorizer.
func (a *RoleClaimAuthorizer) CanClaim(ctx context.Context, conv *store.Conversation, userID string) bool {
	if ac := FromContext(ctx); ac != nil && ac.UserID == userID && ac.IsAdmin() {
		return true
	}
	user, err := a.users.GetUser(ctx, userID)
	if err != nil {
		return false
	}
	return IsAdminRole(user.Role)
}
