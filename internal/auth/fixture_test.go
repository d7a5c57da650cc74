package auth_test

import (
	"context"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"warden.dev/internal/auth"
	"warden.dev/internal/store/memory"
)

type fixture struct {
	store     *memory.Store
	hasher    auth.BcryptHasher
	tokens    *auth.TokenService
	svc       *auth.Service
	rbac      *auth.RBACService
	gate      *auth.Gate
	adminRole auth.Role
	userRole  auth.Role
	now       time.Time
}

func newFixture(t *testing.T, rbacEnabled bool) *fixture {
	t.Helper()
	ctx := context.Background()
	f := &fixture{
		store:  memory.New(),
		hasher: auth.NewBcryptHasher(bcrypt.MinCost),
		now:    time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return f.now }

	var err error
	f.adminRole, err = f.store.CreateRole(ctx, auth.Role{Name: "admin", IsSystem: true, IsAdmin: true, IsActive: true})
	if err != nil {
		t.Fatalf("create admin role: %v", err)
	}
	f.userRole, err = f.store.CreateRole(ctx, auth.Role{Name: "user", IsSystem: true, IsDefault: true, IsActive: true})
	if err != nil {
		t.Fatalf("create user role: %v", err)
	}

	f.tokens, err = auth.NewTokenService(f.store, f.store,
		auth.WithSecrets("access-secret", "refresh-secret"),
		auth.WithAccessTTL(time.Hour),
		auth.WithRefreshTTL(24*time.Hour),
		auth.WithClock(clock),
	)
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}
	f.gate = auth.NewGate(rbacEnabled, auth.NewResolver(f.tokens, f.store, f.store), auth.NewMatcher(f.store))
	registry, err := auth.NewRegistry(
		auth.NewLocalVerifier(f.store, f.hasher),
		auth.NewFederatedVerifier(auth.StrategyGoogle, f.store),
	)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	f.svc, err = auth.NewService(f.store, f.tokens,
		auth.WithVerifiers(registry),
		auth.WithPasswordHasher(f.hasher),
		auth.WithGate(f.gate),
		auth.WithServiceClock(clock),
	)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	f.rbac, err = auth.NewRBACService(f.store, f.hasher, f.tokens)
	if err != nil {
		t.Fatalf("NewRBACService: %v", err)
	}
	return f
}

func (f *fixture) addUser(t *testing.T, email, password string, role auth.Role) auth.User {
	t.Helper()
	var hash string
	if password != "" {
		var err error
		if hash, err = f.hasher.Hash(password); err != nil {
			t.Fatalf("hash: %v", err)
		}
	}
	u, err := f.store.CreateUser(context.Background(), auth.User{
		Email:        email,
		PasswordHash: hash,
		RoleID:       role.ID,
		IsActive:     true,
	})
	if err != nil {
		t.Fatalf("create user %s: %v", email, err)
	}
	return u
}

func (f *fixture) grant(t *testing.T, pattern, method string, roles ...auth.Role) auth.Permission {
	t.Helper()
	var roleIDs []string
	for _, r := range roles {
		roleIDs = append(roleIDs, r.ID)
	}
	p, err := f.rbac.CreatePermission(context.Background(), auth.PermissionInput{RoutePattern: pattern, Method: method, RoleIDs: roleIDs})
	if err != nil {
		t.Fatalf("grant %s %s: %v", method, pattern, err)
	}
	return p
}
