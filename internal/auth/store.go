package auth

import "context"

// Store describes persistence operations required by the auth subsystem.
// Implementations enforce the uniqueness rules (email, role name, single
// active admin and default role, permission route+method, role/permission
// link) and report violations as ErrConflict.
type Store interface {
	UserStore
	RoleStore
	PermissionStore
	RefreshTokenStore
}

// UserStore manages users.
type UserStore interface {
	CreateUser(ctx context.Context, u User) (User, error)
	GetUser(ctx context.Context, id string) (User, error)
	GetUserByEmail(ctx context.Context, email string) (User, error)
	GetUserByFederatedID(ctx context.Context, federatedID string) (User, error)
	ListUsers(ctx context.Context) ([]User, error)
	UpdateUser(ctx context.Context, id string, patch UserPatch) (User, error)
}

// RoleStore manages roles.
type RoleStore interface {
	CreateRole(ctx context.Context, r Role) (Role, error)
	GetRole(ctx context.Context, id string) (Role, error)
	GetRoleByName(ctx context.Context, name string) (Role, error)
	ListRoles(ctx context.Context) ([]Role, error)
	FindAdminRole(ctx context.Context) (Role, error)
	FindDefaultRole(ctx context.Context) (Role, error)
	UpdateRole(ctx context.Context, id string, patch RolePatch) (Role, error)
}

// PermissionStore manages the permission catalog and its role links.
type PermissionStore interface {
	CreatePermission(ctx context.Context, p Permission) (Permission, error)
	GetPermission(ctx context.Context, id string) (Permission, error)
	FindPermission(ctx context.Context, routePattern, method string) (Permission, error)
	ListPermissions(ctx context.Context) ([]Permission, error)
	PermissionsForRole(ctx context.Context, roleID string) ([]Permission, error)
	UpdatePermission(ctx context.Context, id string, patch PermissionPatch) (Permission, error)
	DeletePermission(ctx context.Context, id string) error
	AddPermissionRole(ctx context.Context, permissionID, roleID string) error
	RemovePermissionRole(ctx context.Context, permissionID, roleID string) error
}

// RefreshTokenStore manages refresh token lifecycle.
type RefreshTokenStore interface {
	CreateRefreshToken(ctx context.Context, tok RefreshToken) error
	FindRefreshToken(ctx context.Context, tokenHash string) (RefreshToken, error)
	DeleteRefreshTokens(ctx context.Context, tokenHash string) (int64, error)
	DeleteUserRefreshTokens(ctx context.Context, userID string) (int64, error)
}
