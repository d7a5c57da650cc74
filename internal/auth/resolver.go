package auth

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"warden.dev/internal/obs"
)

// Resolver turns an access token into the current principal. The token only
// proves identity: the user and role are re-read on every call.
type Resolver struct {
	tokens *TokenService
	users  UserStore
	roles  RoleStore
}

// NewResolver constructs a Resolver.
func NewResolver(tokens *TokenService, users UserStore, roles RoleStore) *Resolver {
	return &Resolver{tokens: tokens, users: users, roles: roles}
}

// Resolve returns the principal for token, or false for any failure
// (expired, malformed, bad signature, unknown or inactive user).
func (r *Resolver) Resolve(ctx context.Context, token string) (Principal, bool) {
	if token == "" {
		return Principal{}, false
	}
	claims, err := r.tokens.VerifyAccessToken(token)
	if err != nil {
		return Principal{}, false
	}
	user, err := r.users.GetUser(ctx, claims.ID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			obs.Logger().Error("resolve principal: load user", zap.String("user_id", claims.ID), zap.Error(err))
		}
		return Principal{}, false
	}
	if !user.IsActive {
		return Principal{}, false
	}
	principal := Principal{User: user}
	if user.RoleID != "" {
		role, err := r.roles.GetRole(ctx, user.RoleID)
		switch {
		case err == nil:
			principal.Role = &role
		case !errors.Is(err, ErrNotFound):
			obs.Logger().Error("resolve principal: load role", zap.String("role_id", user.RoleID), zap.Error(err))
		}
	}
	return principal, true
}
