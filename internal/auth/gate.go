package auth

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"warden.dev/internal/obs"
)

// DenyKind tells the transport which rejection to send.
type DenyKind string

const (
	DenyUnauthenticated DenyKind = "unauthenticated"
	DenyForbidden       DenyKind = "forbidden"
)

// Decision is the outcome of a gate check. Err is set when the decision
// could not be made because a dependency failed.
type Decision struct {
	Allowed bool
	Kind    DenyKind
	Err     error
}

var allow = Decision{Allowed: true}

// Gate applies RBAC checks. With enforcement disabled every check allows.
type Gate struct {
	enabled  bool
	resolver *Resolver
	matcher  *Matcher
}

// NewGate constructs a Gate.
func NewGate(enabled bool, resolver *Resolver, matcher *Matcher) *Gate {
	return &Gate{enabled: enabled, resolver: resolver, matcher: matcher}
}

// Enabled reports whether RBAC enforcement is on.
func (g *Gate) Enabled() bool { return g.enabled }

// Authenticate resolves the principal for an access token.
func (g *Gate) Authenticate(ctx context.Context, token string) (Principal, bool) {
	return g.resolver.Resolve(ctx, token)
}

// RequireAuthenticated allows any resolved principal.
func (g *Gate) RequireAuthenticated(ctx context.Context, principal *Principal, method, path string) Decision {
	if !g.enabled {
		return allow
	}
	if principal == nil {
		return g.deny(ctx, nil, DenyUnauthenticated, method, path)
	}
	return g.allow()
}

// Authorize checks the principal's role permissions for method and path.
func (g *Gate) Authorize(ctx context.Context, principal *Principal, method, path string) Decision {
	if !g.enabled {
		return allow
	}
	if principal == nil {
		return g.deny(ctx, nil, DenyUnauthenticated, method, path)
	}
	if !principal.HasActiveRole() {
		return g.deny(ctx, principal, DenyForbidden, method, path)
	}
	ok, err := g.matcher.IsAllowed(ctx, principal.User.RoleID, method, path)
	if err != nil {
		obs.Logger().Error("permission lookup failed",
			zap.String("principal_id", principal.User.ID),
			zap.String("role_id", principal.User.RoleID),
			zap.Error(err))
		return Decision{Kind: DenyForbidden, Err: err}
	}
	if !ok {
		return g.deny(ctx, principal, DenyForbidden, method, path)
	}
	return g.allow()
}

// CheckRole allows principals whose active role is one of roles.
func (g *Gate) CheckRole(ctx context.Context, principal *Principal, method, path string, roles ...string) Decision {
	if !g.enabled {
		return allow
	}
	if principal == nil {
		return g.deny(ctx, nil, DenyUnauthenticated, method, path)
	}
	if !principal.HasRole(roles...) {
		return g.deny(ctx, principal, DenyForbidden, method, path)
	}
	return g.allow()
}

// CheckAdmin allows principals holding the admin role.
func (g *Gate) CheckAdmin(ctx context.Context, principal *Principal, method, path string) Decision {
	if !g.enabled {
		return allow
	}
	if principal == nil {
		return g.deny(ctx, nil, DenyUnauthenticated, method, path)
	}
	if !principal.IsAdmin() {
		return g.deny(ctx, principal, DenyForbidden, method, path)
	}
	return g.allow()
}

// CheckOwnerOrAdmin allows admins, and any other principal only when ownerID
// is its own user id.
func (g *Gate) CheckOwnerOrAdmin(ctx context.Context, principal *Principal, method, path, ownerID string) Decision {
	if !g.enabled {
		return allow
	}
	if principal == nil {
		return g.deny(ctx, nil, DenyUnauthenticated, method, path)
	}
	if principal.IsAdmin() || (ownerID != "" && principal.User.ID == ownerID) {
		return g.allow()
	}
	return g.deny(ctx, principal, DenyForbidden, method, path)
}

func (g *Gate) allow() Decision {
	obs.RecordAuthzDecision("allow")
	return allow
}

func (g *Gate) deny(_ context.Context, principal *Principal, kind DenyKind, method, path string) Decision {
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	fields := []zap.Field{
		zap.String("kind", string(kind)),
		zap.String("method", strings.ToUpper(method)),
		zap.String("path", path),
	}
	if principal != nil {
		fields = append(fields,
			zap.String("principal_id", principal.User.ID),
			zap.String("role", principal.RoleName()))
	}
	obs.Logger().Warn("access denied", fields...)
	obs.RecordAuthzDecision(string(kind))
	return Decision{Kind: kind}
}
