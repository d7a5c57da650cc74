package auth

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"warden.dev/internal/obs"
)

// Matcher decides whether a role may call method on path.
type Matcher struct {
	perms PermissionStore
}

// NewMatcher constructs a Matcher backed by the permission store.
func NewMatcher(perms PermissionStore) *Matcher {
	return &Matcher{perms: perms}
}

// IsAllowed loads the role's permissions and reports whether any of them
// matches. Allow-only: no permissions means deny.
func (m *Matcher) IsAllowed(ctx context.Context, roleID, method, path string) (bool, error) {
	if strings.TrimSpace(roleID) == "" {
		return false, nil
	}
	perms, err := m.perms.PermissionsForRole(ctx, roleID)
	if err != nil {
		return false, err
	}
	return MatchAny(perms, method, path), nil
}

// MatchAny reports whether any permission grants method on path.
func MatchAny(perms []Permission, method, path string) bool {
	method = strings.ToUpper(strings.TrimSpace(method))
	for _, p := range perms {
		if strings.ToUpper(p.Method) != method {
			continue
		}
		pattern, err := CompilePattern(p.RoutePattern)
		if err != nil {
			obs.Logger().Warn("skipping unparsable route pattern",
				zap.String("permission_id", p.ID),
				zap.String("route_pattern", p.RoutePattern),
				zap.Error(err))
			continue
		}
		if _, ok := pattern.Match(path); ok {
			return true
		}
	}
	return false
}
