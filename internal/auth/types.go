package auth

import "time"

// User is an identity record. PasswordHash and FederatedID are empty when absent.
type User struct {
	ID           string     `json:"id"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"`
	FederatedID  string     `json:"federatedId,omitempty"`
	RoleID       string     `json:"roleId"`
	LastLogin    *time.Time `json:"lastLogin,omitempty"`
	IsActive     bool       `json:"isActive"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// HasPassword reports whether the user can log in with local credentials.
func (u User) HasPassword() bool { return u.PasswordHash != "" }

// Role groups permissions.
type Role struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	IsSystem    bool      `json:"isSystem"`
	IsAdmin     bool      `json:"isAdmin"`
	IsDefault   bool      `json:"isDefault"`
	IsActive    bool      `json:"isActive"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Permission grants an HTTP method on a route pattern to the roles in RoleIDs.
type Permission struct {
	ID           string    `json:"id"`
	RoutePattern string    `json:"routePattern"`
	Method       string    `json:"method"`
	RoleIDs      []string  `json:"roleIds"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// RefreshToken is a persisted refresh-token record. Only the token digest is stored.
type RefreshToken struct {
	ID        string
	UserID    string
	TokenHash string
	UserAgent string
	IPAddress string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// UserPatch is a storage-level partial update. Nil fields are left unchanged.
type UserPatch struct {
	Email        *string
	PasswordHash *string
	FederatedID  *string
	RoleID       *string
	IsActive     *bool
	LastLogin    *time.Time
}

// UserUpdate is an administrative partial update. A nil Password keeps the
// current one; a non-nil empty Password is rejected.
type UserUpdate struct {
	Email    *string `json:"email"`
	Password *string `json:"password"`
	RoleID   *string `json:"roleId"`
	IsActive *bool   `json:"isActive"`
}

// RolePatch is a partial role update.
type RolePatch struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	IsAdmin     *bool   `json:"isAdmin"`
	IsDefault   *bool   `json:"isDefault"`
	IsActive    *bool   `json:"isActive"`
}

// PermissionPatch is a partial permission update.
type PermissionPatch struct {
	RoutePattern *string `json:"routePattern"`
	Method       *string `json:"method"`
}

// ClientMeta describes the client a refresh token is issued to.
type ClientMeta struct {
	UserAgent string
	IPAddress string
}

// TokenPair represents access and refresh tokens along with their expirations.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}
