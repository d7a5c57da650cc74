package auth

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
)

// RoleInput describes a role to create.
type RoleInput struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	IsSystem    bool   `json:"isSystem"`
	IsAdmin     bool   `json:"isAdmin"`
	IsDefault   bool   `json:"isDefault"`
}

// PermissionInput describes a permission to create.
type PermissionInput struct {
	RoutePattern string   `json:"routePattern"`
	Method       string   `json:"method"`
	RoleIDs      []string `json:"roleIds"`
}

// RBACService manages users, roles and permissions. The uniqueness checks here
// fail fast with a readable message; the store constraints are authoritative.
type RBACService struct {
	store  Store
	hasher PasswordHasher
	tokens *TokenService
}

func NewRBACService(store Store, hasher PasswordHasher, tokens *TokenService) (*RBACService, error) {
	if store == nil {
		return nil, errors.New("rbac store is required")
	}
	if hasher == nil {
		hasher = NewBcryptHasher(DefaultBcryptCost)
	}
	return &RBACService{store: store, hasher: hasher, tokens: tokens}, nil
}

// --- users ---

func (s *RBACService) CreateUser(ctx context.Context, email, password, roleID string) (User, error) {
	email, err := validateEmail(email)
	if err != nil {
		return User{}, err
	}
	if password == "" {
		return User{}, fmt.Errorf("%w: password is required", ErrInvalidInput)
	}
	if _, err := s.store.GetUserByEmail(ctx, email); err == nil {
		return User{}, fmt.Errorf("%w: user already exists", ErrConflict)
	} else if !errors.Is(err, ErrNotFound) {
		return User{}, err
	}
	role, err := s.resolveRole(ctx, roleID)
	if err != nil {
		return User{}, err
	}
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return User{}, err
	}
	user, err := s.store.CreateUser(ctx, User{Email: email, PasswordHash: hash, RoleID: role.ID, IsActive: true})
	if errors.Is(err, ErrConflict) {
		return User{}, fmt.Errorf("%w: user already exists", ErrConflict)
	}
	return user, err
}

func (s *RBACService) ListUsers(ctx context.Context) ([]User, error) {
	return s.store.ListUsers(ctx)
}

func (s *RBACService) GetUser(ctx context.Context, id string) (User, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return User{}, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	return s.store.GetUser(ctx, id)
}

func (s *RBACService) GetUserByEmail(ctx context.Context, email string) (User, error) {
	email = normalizeEmail(email)
	if email == "" {
		return User{}, fmt.Errorf("%w: email is required", ErrInvalidInput)
	}
	return s.store.GetUserByEmail(ctx, email)
}

// UpdateUser applies a partial update. Deactivating a user revokes all of
// their refresh tokens.
func (s *RBACService) UpdateUser(ctx context.Context, id string, upd UserUpdate) (User, error) {
	current, err := s.GetUser(ctx, id)
	if err != nil {
		return User{}, err
	}
	var patch UserPatch
	if upd.Email != nil {
		if strings.TrimSpace(*upd.Email) == "" {
			return User{}, fmt.Errorf("%w: email can not be cleared", ErrInvalidInput)
		}
		email, err := validateEmail(*upd.Email)
		if err != nil {
			return User{}, err
		}
		if email != current.Email {
			if other, err := s.store.GetUserByEmail(ctx, email); err == nil && other.ID != current.ID {
				return User{}, fmt.Errorf("%w: user already exists", ErrConflict)
			} else if err != nil && !errors.Is(err, ErrNotFound) {
				return User{}, err
			}
			patch.Email = &email
		}
	}
	if upd.Password != nil {
		hash, err := s.hasher.Hash(*upd.Password)
		if err != nil {
			return User{}, err
		}
		patch.PasswordHash = &hash
	}
	if upd.RoleID != nil {
		role, err := s.resolveRole(ctx, *upd.RoleID)
		if err != nil {
			return User{}, err
		}
		patch.RoleID = &role.ID
	}
	patch.IsActive = upd.IsActive

	updated, err := s.store.UpdateUser(ctx, current.ID, patch)
	if err != nil {
		if errors.Is(err, ErrConflict) {
			return User{}, fmt.Errorf("%w: user already exists", ErrConflict)
		}
		return User{}, err
	}
	if !updated.IsActive {
		if err := s.revokeAll(ctx, updated.ID); err != nil {
			return User{}, err
		}
	}
	return updated, nil
}

// DeleteUser soft-deletes the user.
func (s *RBACService) DeleteUser(ctx context.Context, id string) error {
	inactive := false
	_, err := s.UpdateUser(ctx, id, UserUpdate{IsActive: &inactive})
	return err
}

// --- roles ---

func (s *RBACService) CreateRole(ctx context.Context, in RoleInput) (Role, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return Role{}, fmt.Errorf("%w: role name is required", ErrInvalidInput)
	}
	if _, err := s.store.GetRoleByName(ctx, name); err == nil {
		return Role{}, fmt.Errorf("%w: role already exists", ErrConflict)
	} else if !errors.Is(err, ErrNotFound) {
		return Role{}, err
	}
	if in.IsAdmin {
		if err := s.ensureVacant(ctx, s.store.FindAdminRole, "", "admin role already exists"); err != nil {
			return Role{}, err
		}
	}
	if in.IsDefault {
		if err := s.ensureVacant(ctx, s.store.FindDefaultRole, "", "default role already exists"); err != nil {
			return Role{}, err
		}
	}
	role, err := s.store.CreateRole(ctx, Role{
		Name:        name,
		Description: strings.TrimSpace(in.Description),
		IsSystem:    in.IsSystem,
		IsAdmin:     in.IsAdmin,
		IsDefault:   in.IsDefault,
		IsActive:    true,
	})
	if errors.Is(err, ErrConflict) {
		return Role{}, fmt.Errorf("%w: role already exists", ErrConflict)
	}
	return role, err
}

func (s *RBACService) ListRoles(ctx context.Context) ([]Role, error) {
	return s.store.ListRoles(ctx)
}

func (s *RBACService) GetRole(ctx context.Context, id string) (Role, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Role{}, fmt.Errorf("%w: role id is required", ErrInvalidInput)
	}
	return s.store.GetRole(ctx, id)
}

func (s *RBACService) GetRoleByName(ctx context.Context, name string) (Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Role{}, fmt.Errorf("%w: role name is required", ErrInvalidInput)
	}
	return s.store.GetRoleByName(ctx, name)
}

func (s *RBACService) GetRoleIDByName(ctx context.Context, name string) (string, error) {
	role, err := s.GetRoleByName(ctx, name)
	if err != nil {
		return "", err
	}
	return role.ID, nil
}

func (s *RBACService) DefaultRoleID(ctx context.Context) (string, error) {
	role, err := s.store.FindDefaultRole(ctx)
	if err != nil {
		return "", err
	}
	return role.ID, nil
}

func (s *RBACService) AdminRoleID(ctx context.Context) (string, error) {
	role, err := s.store.FindAdminRole(ctx)
	if err != nil {
		return "", err
	}
	return role.ID, nil
}

// UpdateRole applies a partial update. System roles keep their name and
// cannot be deactivated.
func (s *RBACService) UpdateRole(ctx context.Context, id string, patch RolePatch) (Role, error) {
	current, err := s.GetRole(ctx, id)
	if err != nil {
		return Role{}, err
	}
	if patch.Name != nil {
		name := strings.TrimSpace(*patch.Name)
		if name == "" {
			return Role{}, fmt.Errorf("%w: role name is required", ErrInvalidInput)
		}
		if name != current.Name {
			if current.IsSystem {
				return Role{}, fmt.Errorf("%w: system role cannot be renamed", ErrInvalidInput)
			}
			if _, err := s.store.GetRoleByName(ctx, name); err == nil {
				return Role{}, fmt.Errorf("%w: role already exists", ErrConflict)
			} else if !errors.Is(err, ErrNotFound) {
				return Role{}, err
			}
		}
		patch.Name = &name
	}
	if patch.Description != nil {
		desc := strings.TrimSpace(*patch.Description)
		patch.Description = &desc
	}
	if patch.IsActive != nil && !*patch.IsActive && current.IsSystem {
		return Role{}, fmt.Errorf("%w: system role cannot be deactivated", ErrInvalidInput)
	}
	if patch.IsAdmin != nil && *patch.IsAdmin {
		if err := s.ensureVacant(ctx, s.store.FindAdminRole, current.ID, "admin role already exists"); err != nil {
			return Role{}, err
		}
	}
	if patch.IsDefault != nil && *patch.IsDefault {
		if err := s.ensureVacant(ctx, s.store.FindDefaultRole, current.ID, "default role already exists"); err != nil {
			return Role{}, err
		}
	}
	role, err := s.store.UpdateRole(ctx, current.ID, patch)
	if errors.Is(err, ErrConflict) {
		return Role{}, fmt.Errorf("%w: role already exists", ErrConflict)
	}
	return role, err
}

// DeleteRole soft-deletes a non-system role.
func (s *RBACService) DeleteRole(ctx context.Context, id string) error {
	current, err := s.GetRole(ctx, id)
	if err != nil {
		return err
	}
	if current.IsSystem {
		return fmt.Errorf("%w: system role cannot be deleted", ErrInvalidInput)
	}
	inactive := false
	_, err = s.store.UpdateRole(ctx, current.ID, RolePatch{IsActive: &inactive})
	return err
}

// --- permissions ---

func (s *RBACService) CreatePermission(ctx context.Context, in PermissionInput) (Permission, error) {
	pattern, method, err := normalizePermission(in.RoutePattern, in.Method)
	if err != nil {
		return Permission{}, err
	}
	if _, err := s.store.FindPermission(ctx, pattern, method); err == nil {
		return Permission{}, fmt.Errorf("%w: permission already exists", ErrConflict)
	} else if !errors.Is(err, ErrNotFound) {
		return Permission{}, err
	}
	var roleIDs []string
	for _, id := range in.RoleIDs {
		id = strings.TrimSpace(id)
		if id == "" || slices.Contains(roleIDs, id) {
			continue
		}
		if _, err := s.existingRole(ctx, id); err != nil {
			return Permission{}, err
		}
		roleIDs = append(roleIDs, id)
	}
	perm, err := s.store.CreatePermission(ctx, Permission{RoutePattern: pattern, Method: method, RoleIDs: roleIDs})
	if errors.Is(err, ErrConflict) {
		return Permission{}, fmt.Errorf("%w: permission already exists", ErrConflict)
	}
	return perm, err
}

func (s *RBACService) ListPermissions(ctx context.Context) ([]Permission, error) {
	return s.store.ListPermissions(ctx)
}

func (s *RBACService) GetPermission(ctx context.Context, id string) (Permission, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Permission{}, fmt.Errorf("%w: permission id is required", ErrInvalidInput)
	}
	return s.store.GetPermission(ctx, id)
}

func (s *RBACService) FindPermission(ctx context.Context, routePattern, method string) (Permission, error) {
	routePattern = strings.TrimSpace(routePattern)
	if routePattern == "" || strings.TrimSpace(method) == "" {
		return Permission{}, fmt.Errorf("%w: routePattern and method are required", ErrInvalidInput)
	}
	m, err := NormalizeMethod(method)
	if err != nil {
		return Permission{}, err
	}
	return s.store.FindPermission(ctx, routePattern, m)
}

func (s *RBACService) PermissionsForRole(ctx context.Context, roleID string) ([]Permission, error) {
	if _, err := s.existingRole(ctx, roleID); err != nil {
		return nil, err
	}
	return s.store.PermissionsForRole(ctx, strings.TrimSpace(roleID))
}

func (s *RBACService) UpdatePermission(ctx context.Context, id string, patch PermissionPatch) (Permission, error) {
	current, err := s.GetPermission(ctx, id)
	if err != nil {
		return Permission{}, err
	}
	pattern, method := current.RoutePattern, current.Method
	if patch.RoutePattern != nil {
		pattern = *patch.RoutePattern
	}
	if patch.Method != nil {
		method = *patch.Method
	}
	pattern, method, err = normalizePermission(pattern, method)
	if err != nil {
		return Permission{}, err
	}
	if pattern == current.RoutePattern && method == current.Method {
		return current, nil
	}
	if other, err := s.store.FindPermission(ctx, pattern, method); err == nil && other.ID != current.ID {
		return Permission{}, fmt.Errorf("%w: permission already exists", ErrConflict)
	} else if err != nil && !errors.Is(err, ErrNotFound) {
		return Permission{}, err
	}
	perm, err := s.store.UpdatePermission(ctx, current.ID, PermissionPatch{RoutePattern: &pattern, Method: &method})
	if errors.Is(err, ErrConflict) {
		return Permission{}, fmt.Errorf("%w: permission already exists", ErrConflict)
	}
	return perm, err
}

func (s *RBACService) DeletePermission(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("%w: permission id is required", ErrInvalidInput)
	}
	return s.store.DeletePermission(ctx, id)
}

func (s *RBACService) AddRoleToPermission(ctx context.Context, permissionID, roleID string) (Permission, error) {
	perm, err := s.GetPermission(ctx, permissionID)
	if err != nil {
		return Permission{}, err
	}
	role, err := s.existingRole(ctx, roleID)
	if err != nil {
		return Permission{}, err
	}
	if slices.Contains(perm.RoleIDs, role.ID) {
		return Permission{}, fmt.Errorf("%w: permission already has this role assigned", ErrConflict)
	}
	if err := s.store.AddPermissionRole(ctx, perm.ID, role.ID); err != nil {
		if errors.Is(err, ErrConflict) {
			return Permission{}, fmt.Errorf("%w: permission already has this role assigned", ErrConflict)
		}
		return Permission{}, err
	}
	return s.store.GetPermission(ctx, perm.ID)
}

func (s *RBACService) RemoveRoleFromPermission(ctx context.Context, permissionID, roleID string) (Permission, error) {
	perm, err := s.GetPermission(ctx, permissionID)
	if err != nil {
		return Permission{}, err
	}
	roleID = strings.TrimSpace(roleID)
	if roleID == "" {
		return Permission{}, fmt.Errorf("%w: role id is required", ErrInvalidInput)
	}
	if err := s.store.RemovePermissionRole(ctx, perm.ID, roleID); err != nil {
		return Permission{}, err
	}
	return s.store.GetPermission(ctx, perm.ID)
}

// --- helpers ---

func (s *RBACService) resolveRole(ctx context.Context, roleID string) (Role, error) {
	if strings.TrimSpace(roleID) == "" {
		role, err := s.store.FindDefaultRole(ctx)
		if errors.Is(err, ErrNotFound) {
			return Role{}, fmt.Errorf("%w: default role not found", ErrInvalidInput)
		}
		return role, err
	}
	role, err := s.existingRole(ctx, roleID)
	if err != nil {
		return Role{}, err
	}
	if !role.IsActive {
		return Role{}, fmt.Errorf("%w: role %s is inactive", ErrInvalidInput, role.Name)
	}
	return role, nil
}

func (s *RBACService) existingRole(ctx context.Context, roleID string) (Role, error) {
	roleID = strings.TrimSpace(roleID)
	if roleID == "" {
		return Role{}, fmt.Errorf("%w: role id is required", ErrInvalidInput)
	}
	role, err := s.store.GetRole(ctx, roleID)
	if errors.Is(err, ErrNotFound) {
		return Role{}, fmt.Errorf("%w: role not found", ErrNotFound)
	}
	return role, err
}

func (s *RBACService) ensureVacant(ctx context.Context, find func(context.Context) (Role, error), selfID, msg string) error {
	holder, err := find(ctx)
	switch {
	case err == nil && holder.ID != selfID:
		return fmt.Errorf("%w: %s", ErrConflict, msg)
	case err == nil, errors.Is(err, ErrNotFound):
		return nil
	default:
		return err
	}
}

func (s *RBACService) revokeAll(ctx context.Context, userID string) error {
	if s.tokens == nil {
		return nil
	}
	return s.tokens.RevokeAll(ctx, userID)
}

func normalizePermission(pattern, method string) (string, string, error) {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" || strings.TrimSpace(method) == "" {
		return "", "", fmt.Errorf("%w: routePattern and method are required", ErrInvalidInput)
	}
	m, err := NormalizeMethod(method)
	if err != nil {
		return "", "", err
	}
	if err := ValidateRoutePattern(pattern); err != nil {
		return "", "", err
	}
	return pattern, m, nil
}
