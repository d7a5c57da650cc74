package auth

import "strings"

// Principal is the authenticated identity of a request together with its
// current role. Role is nil when the user's role row could not be loaded.
type Principal struct {
	User User  `json:"user"`
	Role *Role `json:"role,omitempty"`
}

// RoleName returns the principal's role name or "" when unknown.
func (p Principal) RoleName() string {
	if p.Role == nil {
		return ""
	}
	return p.Role.Name
}

// HasActiveRole reports whether the principal's role exists and is active.
func (p Principal) HasActiveRole() bool {
	return p.Role != nil && p.Role.IsActive
}

// IsAdmin reports whether the principal holds the active admin role.
func (p Principal) IsAdmin() bool {
	return p.HasActiveRole() && p.Role.IsAdmin
}

// HasRole reports whether the principal's active role is one of names (case-insensitive).
func (p Principal) HasRole(names ...string) bool {
	if !p.HasActiveRole() {
		return false
	}
	for _, name := range names {
		if strings.EqualFold(strings.TrimSpace(name), p.Role.Name) {
			return true
		}
	}
	return false
}
