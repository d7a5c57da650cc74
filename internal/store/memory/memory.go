// Package memory is an in-process auth.Store used when no database is
// configured and in tests. It enforces the same uniqueness rules as the
// Postgres schema.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"warden.dev/internal/auth"
	"warden.dev/internal/ids"
)

type rolePerm struct {
	roleID       string
	permissionID string
}

// Store implements auth.Store.
type Store struct {
	mu          sync.RWMutex
	now         func() time.Time
	users       map[string]auth.User
	roles       map[string]auth.Role
	permissions map[string]auth.Permission
	links       map[rolePerm]time.Time
	tokens      map[string]auth.RefreshToken
}

var _ auth.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{
		now:         func() time.Time { return time.Now().UTC() },
		users:       make(map[string]auth.User),
		roles:       make(map[string]auth.Role),
		permissions: make(map[string]auth.Permission),
		links:       make(map[rolePerm]time.Time),
		tokens:      make(map[string]auth.RefreshToken),
	}
}

// --- users ---

func (s *Store) CreateUser(_ context.Context, u auth.User) (auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.ID == "" {
		u.ID = ids.New()
	}
	if _, ok := s.roles[u.RoleID]; !ok {
		return auth.User{}, auth.ErrNotFound
	}
	if err := s.checkUserUnique(u, ""); err != nil {
		return auth.User{}, err
	}
	now := s.now()
	u.CreatedAt, u.UpdatedAt = now, now
	s.users[u.ID] = u
	return u, nil
}

func (s *Store) GetUser(_ context.Context, id string) (auth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return auth.User{}, auth.ErrNotFound
	}
	return u, nil
}

func (s *Store) GetUserByEmail(_ context.Context, email string) (auth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if strings.EqualFold(u.Email, email) {
			return u, nil
		}
	}
	return auth.User{}, auth.ErrNotFound
}

func (s *Store) GetUserByFederatedID(_ context.Context, federatedID string) (auth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.FederatedID != "" && u.FederatedID == federatedID {
			return u, nil
		}
	}
	return auth.User{}, auth.ErrNotFound
}

func (s *Store) ListUsers(_ context.Context) ([]auth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]auth.User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) UpdateUser(_ context.Context, id string, patch auth.UserPatch) (auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return auth.User{}, auth.ErrNotFound
	}
	if patch.Email != nil {
		u.Email = *patch.Email
	}
	if patch.PasswordHash != nil {
		u.PasswordHash = *patch.PasswordHash
	}
	if patch.FederatedID != nil {
		u.FederatedID = *patch.FederatedID
	}
	if patch.RoleID != nil {
		if _, ok := s.roles[*patch.RoleID]; !ok {
			return auth.User{}, auth.ErrNotFound
		}
		u.RoleID = *patch.RoleID
	}
	if patch.IsActive != nil {
		u.IsActive = *patch.IsActive
	}
	if patch.LastLogin != nil {
		at := *patch.LastLogin
		u.LastLogin = &at
	}
	if err := s.checkUserUnique(u, u.ID); err != nil {
		return auth.User{}, err
	}
	u.UpdatedAt = s.now()
	s.users[id] = u
	return u, nil
}

func (s *Store) checkUserUnique(u auth.User, selfID string) error {
	for id, other := range s.users {
		if id == selfID {
			continue
		}
		if strings.EqualFold(other.Email, u.Email) {
			return auth.ErrConflict
		}
		if u.FederatedID != "" && other.FederatedID == u.FederatedID {
			return auth.ErrConflict
		}
	}
	return nil
}

// --- roles ---

func (s *Store) CreateRole(_ context.Context, r auth.Role) (auth.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.ID == "" {
		r.ID = ids.New()
	}
	if err := s.checkRoleUnique(r, ""); err != nil {
		return auth.Role{}, err
	}
	now := s.now()
	r.CreatedAt, r.UpdatedAt = now, now
	s.roles[r.ID] = r
	return r, nil
}

func (s *Store) GetRole(_ context.Context, id string) (auth.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.roles[id]
	if !ok {
		return auth.Role{}, auth.ErrNotFound
	}
	return r, nil
}

func (s *Store) GetRoleByName(_ context.Context, name string) (auth.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.roles {
		if r.Name == name {
			return r, nil
		}
	}
	return auth.Role{}, auth.ErrNotFound
}

func (s *Store) ListRoles(_ context.Context) ([]auth.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]auth.Role, 0, len(s.roles))
	for _, r := range s.roles {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) FindAdminRole(_ context.Context) (auth.Role, error) {
	return s.findFlagged(func(r auth.Role) bool { return r.IsAdmin })
}

func (s *Store) FindDefaultRole(_ context.Context) (auth.Role, error) {
	return s.findFlagged(func(r auth.Role) bool { return r.IsDefault })
}

func (s *Store) findFlagged(pred func(auth.Role) bool) (auth.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.roles {
		if r.IsActive && pred(r) {
			return r, nil
		}
	}
	return auth.Role{}, auth.ErrNotFound
}

func (s *Store) UpdateRole(_ context.Context, id string, patch auth.RolePatch) (auth.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.roles[id]
	if !ok {
		return auth.Role{}, auth.ErrNotFound
	}
	if patch.Name != nil {
		r.Name = *patch.Name
	}
	if patch.Description != nil {
		r.Description = *patch.Description
	}
	if patch.IsAdmin != nil {
		r.IsAdmin = *patch.IsAdmin
	}
	if patch.IsDefault != nil {
		r.IsDefault = *patch.IsDefault
	}
	if patch.IsActive != nil {
		r.IsActive = *patch.IsActive
	}
	if err := s.checkRoleUnique(r, r.ID); err != nil {
		return auth.Role{}, err
	}
	r.UpdatedAt = s.now()
	s.roles[id] = r
	return r, nil
}

func (s *Store) checkRoleUnique(r auth.Role, selfID string) error {
	for id, other := range s.roles {
		if id == selfID {
			continue
		}
		if other.Name == r.Name {
			return auth.ErrConflict
		}
		if r.IsActive && other.IsActive {
			if r.IsAdmin && other.IsAdmin {
				return auth.ErrConflict
			}
			if r.IsDefault && other.IsDefault {
				return auth.ErrConflict
			}
		}
	}
	return nil
}

// --- permissions ---

func (s *Store) CreatePermission(_ context.Context, p auth.Permission) (auth.Permission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == "" {
		p.ID = ids.New()
	}
	if err := s.checkPermissionUnique(p, ""); err != nil {
		return auth.Permission{}, err
	}
	for _, roleID := range p.RoleIDs {
		if _, ok := s.roles[roleID]; !ok {
			return auth.Permission{}, auth.ErrNotFound
		}
	}
	now := s.now()
	p.CreatedAt, p.UpdatedAt = now, now
	for _, roleID := range p.RoleIDs {
		s.links[rolePerm{roleID: roleID, permissionID: p.ID}] = now
	}
	p.RoleIDs = nil
	s.permissions[p.ID] = p
	return s.withRoles(p), nil
}

func (s *Store) GetPermission(_ context.Context, id string) (auth.Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.permissions[id]
	if !ok {
		return auth.Permission{}, auth.ErrNotFound
	}
	return s.withRoles(p), nil
}

func (s *Store) FindPermission(_ context.Context, routePattern, method string) (auth.Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.permissions {
		if p.RoutePattern == routePattern && p.Method == method {
			return s.withRoles(p), nil
		}
	}
	return auth.Permission{}, auth.ErrNotFound
}

func (s *Store) ListPermissions(_ context.Context) ([]auth.Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]auth.Permission, 0, len(s.permissions))
	for _, p := range s.permissions {
		out = append(out, s.withRoles(p))
	}
	sortPermissions(out)
	return out, nil
}

func (s *Store) PermissionsForRole(_ context.Context, roleID string) ([]auth.Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []auth.Permission
	for link := range s.links {
		if link.roleID != roleID {
			continue
		}
		if p, ok := s.permissions[link.permissionID]; ok {
			out = append(out, s.withRoles(p))
		}
	}
	sortPermissions(out)
	return out, nil
}

func (s *Store) UpdatePermission(_ context.Context, id string, patch auth.PermissionPatch) (auth.Permission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.permissions[id]
	if !ok {
		return auth.Permission{}, auth.ErrNotFound
	}
	if patch.RoutePattern != nil {
		p.RoutePattern = *patch.RoutePattern
	}
	if patch.Method != nil {
		p.Method = *patch.Method
	}
	if err := s.checkPermissionUnique(p, p.ID); err != nil {
		return auth.Permission{}, err
	}
	p.UpdatedAt = s.now()
	s.permissions[id] = p
	return s.withRoles(p), nil
}

func (s *Store) DeletePermission(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.permissions[id]; !ok {
		return auth.ErrNotFound
	}
	delete(s.permissions, id)
	for link := range s.links {
		if link.permissionID == id {
			delete(s.links, link)
		}
	}
	return nil
}

func (s *Store) AddPermissionRole(_ context.Context, permissionID, roleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.permissions[permissionID]; !ok {
		return auth.ErrNotFound
	}
	if _, ok := s.roles[roleID]; !ok {
		return auth.ErrNotFound
	}
	key := rolePerm{roleID: roleID, permissionID: permissionID}
	if _, exists := s.links[key]; exists {
		return auth.ErrConflict
	}
	s.links[key] = s.now()
	return nil
}

func (s *Store) RemovePermissionRole(_ context.Context, permissionID, roleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := rolePerm{roleID: roleID, permissionID: permissionID}
	if _, exists := s.links[key]; !exists {
		return auth.ErrNotFound
	}
	delete(s.links, key)
	return nil
}

func (s *Store) checkPermissionUnique(p auth.Permission, selfID string) error {
	for id, other := range s.permissions {
		if id != selfID && other.RoutePattern == p.RoutePattern && other.Method == p.Method {
			return auth.ErrConflict
		}
	}
	return nil
}

func (s *Store) withRoles(p auth.Permission) auth.Permission {
	var roleIDs []string
	for link := range s.links {
		if link.permissionID == p.ID {
			roleIDs = append(roleIDs, link.roleID)
		}
	}
	sort.Strings(roleIDs)
	p.RoleIDs = roleIDs
	return p
}

func sortPermissions(perms []auth.Permission) {
	sort.Slice(perms, func(i, j int) bool {
		if perms[i].RoutePattern != perms[j].RoutePattern {
			return perms[i].RoutePattern < perms[j].RoutePattern
		}
		return perms[i].Method < perms[j].Method
	})
}

// --- refresh tokens ---

func (s *Store) CreateRefreshToken(_ context.Context, tok auth.RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[tok.UserID]; !ok {
		return auth.ErrNotFound
	}
	if tok.ID == "" {
		tok.ID = ids.New()
	}
	s.tokens[tok.ID] = tok
	return nil
}

func (s *Store) FindRefreshToken(_ context.Context, tokenHash string) (auth.RefreshToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, tok := range s.tokens {
		if tok.TokenHash == tokenHash {
			return tok, nil
		}
	}
	return auth.RefreshToken{}, auth.ErrNotFound
}

func (s *Store) DeleteRefreshTokens(_ context.Context, tokenHash string) (int64, error) {
	return s.deleteTokens(func(t auth.RefreshToken) bool { return t.TokenHash == tokenHash }), nil
}

func (s *Store) DeleteUserRefreshTokens(_ context.Context, userID string) (int64, error) {
	return s.deleteTokens(func(t auth.RefreshToken) bool { return t.UserID == userID }), nil
}

func (s *Store) deleteTokens(pred func(auth.RefreshToken) bool) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, tok := range s.tokens {
		if pred(tok) {
			delete(s.tokens, id)
			n++
		}
	}
	return n
}
