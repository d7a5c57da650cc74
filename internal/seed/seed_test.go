package seed_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"warden.dev/internal/auth"
	"warden.dev/internal/seed"
	"warden.dev/internal/store/memory"
)

func TestSeedIsIdempotent(t *testing.T) {
	ctx := context.Background()
	hasher := auth.NewBcryptHasher(bcrypt.MinCost)
	svc, err := auth.NewRBACService(memory.New(), hasher, nil)
	require.NoError(t, err)

	data, err := seed.Default()
	require.NoError(t, err)
	require.Len(t, data.Roles, 2)

	first, err := seed.Seed(ctx, svc, data)
	require.NoError(t, err)
	require.Equal(t, 2, first.Roles)
	require.Equal(t, len(data.Permissions), first.Permissions)
	require.Equal(t, 2, first.Users)

	second, err := seed.Seed(ctx, svc, data)
	require.NoError(t, err)
	require.Equal(t, seed.Report{}, second)

	adminID, err := svc.AdminRoleID(ctx)
	require.NoError(t, err)
	defaultID, err := svc.DefaultRoleID(ctx)
	require.NoError(t, err)
	require.NotEqual(t, adminID, defaultID)

	admin, err := svc.GetUserByEmail(ctx, "admin@api.org")
	require.NoError(t, err)
	require.Equal(t, adminID, admin.RoleID)
	require.True(t, hasher.Verify("Admin123!", admin.PasswordHash))

	userPerms, err := svc.PermissionsForRole(ctx, defaultID)
	require.NoError(t, err)
	require.True(t, auth.MatchAny(userPerms, "GET", "/api/user/123"))
	require.False(t, auth.MatchAny(userPerms, "GET", "/api/roles"))
}

func TestSeedUnknownRole(t *testing.T) {
	svc, err := auth.NewRBACService(memory.New(), auth.NewBcryptHasher(bcrypt.MinCost), nil)
	require.NoError(t, err)

	data, err := seed.Parse([]byte(`
permissions:
  - {route: /api/things, method: GET, roles: [Ghost]}
`))
	require.NoError(t, err)

	_, err = seed.Seed(context.Background(), svc, data)
	require.ErrorIs(t, err, auth.ErrNotFound)
}

func TestParseRejectsMalformedYAML(t *testing.T) {
	_, err := seed.Parse([]byte("roles: [name: {"))
	require.Error(t, err)
}
