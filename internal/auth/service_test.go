package auth_test

import (
	"context"
	"errors"
	"testing"

	"warden.dev/internal/auth"
)

func TestLoginIssuesTokensAndStampsLastLogin(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	f.addUser(t, "ivan@example.com", "pw", f.userRole)

	pair, user, err := f.svc.Login(ctx, auth.LocalCredentials{Email: "ivan@example.com", Password: "pw"}, auth.ClientMeta{UserAgent: "ua"})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatal("expected both tokens")
	}
	if user.LastLogin == nil || !user.LastLogin.Equal(f.now) {
		t.Fatalf("expected lastLogin %v, got %v", f.now, user.LastLogin)
	}
	principal, ok := f.svc.Resolve(ctx, pair.AccessToken)
	if !ok || principal.User.ID != user.ID || principal.RoleName() != "user" {
		t.Fatalf("unexpected principal %+v ok=%v", principal, ok)
	}
}

func TestLoginFailuresAreIndistinguishable(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	f.addUser(t, "judy@example.com", "pw", f.userRole)

	for _, creds := range []auth.LocalCredentials{
		{Email: "nobody@example.com", Password: "pw"},
		{Email: "judy@example.com", Password: "nope"},
	} {
		_, _, err := f.svc.Login(ctx, creds, auth.ClientMeta{})
		if err != auth.ErrInvalidCredentials {
			t.Fatalf("expected bare ErrInvalidCredentials for %s, got %v", creds.Email, err)
		}
	}
	if _, _, err := f.svc.Login(ctx, nil, auth.ClientMeta{}); !errors.Is(err, auth.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for nil credentials, got %v", err)
	}
}

func TestSignup(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	u, err := f.svc.Signup(ctx, " Kim@Example.com ", "pw")
	if err != nil {
		t.Fatalf("Signup: %v", err)
	}
	if u.Email != "kim@example.com" || u.RoleID != f.userRole.ID || !u.IsActive {
		t.Fatalf("unexpected user %+v", u)
	}
	if u.PasswordHash == "pw" || !f.hasher.Verify("pw", u.PasswordHash) {
		t.Fatal("password must be stored as a bcrypt digest")
	}

	_, err = f.svc.Signup(ctx, "kim@example.com", "other")
	if !errors.Is(err, auth.ErrConflict) || err.Error() != "conflict: user already exists" {
		t.Fatalf("expected user already exists conflict, got %v", err)
	}
	if _, err := f.svc.Signup(ctx, "", "pw"); !errors.Is(err, auth.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for missing email, got %v", err)
	}
	if _, err := f.svc.Signup(ctx, "not-an-email", "pw"); !errors.Is(err, auth.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for malformed email, got %v", err)
	}
	if _, err := f.svc.Signup(ctx, "lee@example.com", ""); !errors.Is(err, auth.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for missing password, got %v", err)
	}
}

func TestFederatedLoginLinksAndCreates(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	existing := f.addUser(t, "mallory@example.com", "pw", f.userRole)

	_, linked, err := f.svc.FederatedLogin(ctx, auth.FederatedProfile{Provider: auth.StrategyGoogle, Subject: "sub-1", Email: "Mallory@example.com"}, auth.ClientMeta{})
	if err != nil {
		t.Fatalf("FederatedLogin link: %v", err)
	}
	if linked.ID != existing.ID || linked.FederatedID != "sub-1" {
		t.Fatalf("expected existing account to be linked, got %+v", linked)
	}

	_, created, err := f.svc.FederatedLogin(ctx, auth.FederatedProfile{Provider: auth.StrategyGoogle, Subject: "sub-2", Email: "new@example.com"}, auth.ClientMeta{})
	if err != nil {
		t.Fatalf("FederatedLogin create: %v", err)
	}
	if created.RoleID != f.userRole.ID || created.HasPassword() || created.FederatedID != "sub-2" {
		t.Fatalf("unexpected created user %+v", created)
	}

	_, again, err := f.svc.FederatedLogin(ctx, auth.FederatedProfile{Provider: auth.StrategyGoogle, Subject: "sub-2", Email: "new@example.com"}, auth.ClientMeta{})
	if err != nil || again.ID != created.ID {
		t.Fatalf("expected repeat login to resolve same user, got %+v, %v", again, err)
	}

	_, _, err = f.svc.FederatedLogin(ctx, auth.FederatedProfile{Provider: auth.StrategyGoogle, Subject: "sub-3", Email: "mallory@example.com"}, auth.ClientMeta{})
	if err != auth.ErrInvalidCredentials {
		t.Fatalf("email linked to another identity must be rejected, got %v", err)
	}
}

func TestRefreshAndLogout(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	f.addUser(t, "nina@example.com", "pw", f.userRole)

	pair, user, err := f.svc.Login(ctx, auth.LocalCredentials{Email: "nina@example.com", Password: "pw"}, auth.ClientMeta{})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	next, _, err := f.svc.Refresh(ctx, pair.RefreshToken, auth.ClientMeta{})
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if _, _, err := f.svc.Refresh(ctx, pair.RefreshToken, auth.ClientMeta{}); !errors.Is(err, auth.ErrRefreshTokenNotFound) {
		t.Fatalf("expected rotated token to be rejected, got %v", err)
	}

	if err := f.svc.Logout(ctx, auth.Principal{User: user}, next.RefreshToken); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if _, _, err := f.svc.Refresh(ctx, next.RefreshToken, auth.ClientMeta{}); !errors.Is(err, auth.ErrRefreshTokenNotFound) {
		t.Fatalf("expected logged out token to be rejected, got %v", err)
	}
}

func TestResolveRejectsDeactivatedUser(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	u := f.addUser(t, "oscar@example.com", "pw", f.userRole)
	token, _, err := f.tokens.IssueAccessToken(u)
	if err != nil {
		t.Fatalf("IssueAccessToken: %v", err)
	}
	if _, ok := f.svc.Resolve(ctx, token); !ok {
		t.Fatal("expected active user to resolve")
	}
	if err := f.rbac.DeleteUser(ctx, u.ID); err != nil {
		t.Fatalf("DeleteUser: %v", err)
	}
	if _, ok := f.svc.Resolve(ctx, token); ok {
		t.Fatal("deactivated user must not resolve even with a valid token")
	}
}
