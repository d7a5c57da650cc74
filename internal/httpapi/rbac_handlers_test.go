package httpapi

import (
	"context"
	"net/http"
	"net/url"
	"testing"

	"warden.dev/internal/auth"
)

func adminEnv(t *testing.T) (*testEnv, *http.Client) {
	t.Helper()
	env := newTestEnv(t, testOptions{rbac: true})
	c := env.client()
	env.login(c, adminEmail, adminPassword)
	return env, c
}

func TestRoleEndpoints(t *testing.T) {
	env, c := adminEnv(t)

	res := env.do(c, http.MethodPost, "/api/roles", map[string]any{"name": "Auditor", "description": "read only"}, nil)
	expectStatus(t, res, http.StatusCreated)
	var auditor auth.Role
	res.json(t, &auditor)
	if auditor.ID == "" || auditor.Name != "Auditor" || !auditor.IsActive {
		t.Fatalf("unexpected role: %+v", auditor)
	}
	if loc := res.resp.Header.Get("Location"); loc != "/api/roles/"+auditor.ID {
		t.Fatalf("unexpected Location %q", loc)
	}

	dup := env.do(c, http.MethodPost, "/api/roles", map[string]any{"name": "Auditor"}, nil)
	expectStatus(t, dup, http.StatusBadRequest)
	if msg := dup.message(t); msg != "role already exists" {
		t.Fatalf("unexpected message %q", msg)
	}

	secondAdmin := env.do(c, http.MethodPost, "/api/roles", map[string]any{"name": "Root", "isAdmin": true}, nil)
	expectStatus(t, secondAdmin, http.StatusBadRequest)
	if msg := secondAdmin.message(t); msg != "admin role already exists" {
		t.Fatalf("unexpected message %q", msg)
	}

	var byName auth.Role
	res = env.do(c, http.MethodGet, "/api/roles/name/Auditor", nil, nil)
	expectStatus(t, res, http.StatusOK)
	res.json(t, &byName)
	if byName.ID != auditor.ID {
		t.Fatalf("lookup by name returned %s", byName.ID)
	}

	var idOnly map[string]string
	res = env.do(c, http.MethodGet, "/api/roles/id/Auditor", nil, nil)
	expectStatus(t, res, http.StatusOK)
	res.json(t, &idOnly)
	if idOnly["id"] != auditor.ID {
		t.Fatalf("unexpected id payload %v", idOnly)
	}

	res = env.do(c, http.MethodPut, "/api/roles/"+auditor.ID, map[string]any{"description": "auditors"}, nil)
	expectStatus(t, res, http.StatusOK)
	var updated auth.Role
	res.json(t, &updated)
	if updated.Description != "auditors" || updated.Name != "Auditor" {
		t.Fatalf("unexpected update: %+v", updated)
	}

	expectStatus(t, env.do(c, http.MethodDelete, "/api/roles/"+auditor.ID, nil, nil), http.StatusOK)

	sysID, err := env.rbac.DefaultRoleID(context.Background())
	if err != nil {
		t.Fatalf("DefaultRoleID: %v", err)
	}
	protected := env.do(c, http.MethodDelete, "/api/roles/"+sysID, nil, nil)
	expectStatus(t, protected, http.StatusBadRequest)

	missing := env.do(c, http.MethodGet, "/api/roles/name/Nobody", nil, nil)
	expectStatus(t, missing, http.StatusNotFound)
	if msg := missing.message(t); msg != "role not found" {
		t.Fatalf("unexpected message %q", msg)
	}
}

func TestPermissionEndpoints(t *testing.T) {
	env, c := adminEnv(t)

	var role auth.Role
	env.do(c, http.MethodPost, "/api/roles", map[string]any{"name": "Reporter"}, nil).json(t, &role)

	res := env.do(c, http.MethodPost, "/api/permissions", map[string]any{
		"routePattern": "/api/reports/:id",
		"method":       "get",
		"roleIds":      []string{role.ID},
	}, nil)
	expectStatus(t, res, http.StatusCreated)
	var perm auth.Permission
	res.json(t, &perm)
	if perm.Method != http.MethodGet || len(perm.RoleIDs) != 1 || perm.RoleIDs[0] != role.ID {
		t.Fatalf("unexpected permission: %+v", perm)
	}

	dup := env.do(c, http.MethodPost, "/api/permissions", map[string]any{"routePattern": "/api/reports/:id", "method": "GET"}, nil)
	expectStatus(t, dup, http.StatusBadRequest)
	if msg := dup.message(t); msg != "permission already exists" {
		t.Fatalf("unexpected message %q", msg)
	}

	bad := env.do(c, http.MethodPost, "/api/permissions", map[string]any{"routePattern": "/api/x", "method": "FETCH"}, nil)
	expectStatus(t, bad, http.StatusBadRequest)

	q := url.Values{"routePattern": {"/api/reports/:id"}, "method": {"GET"}}
	var found auth.Permission
	res = env.do(c, http.MethodGet, "/api/permissions/params?"+q.Encode(), nil, nil)
	expectStatus(t, res, http.StatusOK)
	res.json(t, &found)
	if found.ID != perm.ID {
		t.Fatalf("params lookup returned %s", found.ID)
	}

	var forRole []auth.Permission
	res = env.do(c, http.MethodGet, "/api/permissions/role/"+role.ID, nil, nil)
	expectStatus(t, res, http.StatusOK)
	res.json(t, &forRole)
	if len(forRole) != 1 || forRole[0].ID != perm.ID {
		t.Fatalf("unexpected role permissions: %+v", forRole)
	}

	again := env.do(c, http.MethodPost, "/api/permissions/"+perm.ID+"/roles", map[string]string{"roleId": role.ID}, nil)
	expectStatus(t, again, http.StatusBadRequest)
	if msg := again.message(t); msg != "permission already has this role assigned" {
		t.Fatalf("unexpected message %q", msg)
	}

	res = env.do(c, http.MethodDelete, "/api/permissions/"+perm.ID+"/roles/"+role.ID, nil, nil)
	expectStatus(t, res, http.StatusOK)
	var stripped auth.Permission
	res.json(t, &stripped)
	if len(stripped.RoleIDs) != 0 {
		t.Fatalf("expected no roles, got %v", stripped.RoleIDs)
	}

	res = env.do(c, http.MethodPut, "/api/permissions/"+perm.ID, map[string]any{"method": "POST"}, nil)
	expectStatus(t, res, http.StatusOK)
	var moved auth.Permission
	res.json(t, &moved)
	if moved.Method != http.MethodPost {
		t.Fatalf("expected POST, got %s", moved.Method)
	}

	expectStatus(t, env.do(c, http.MethodDelete, "/api/permissions/"+perm.ID, nil, nil), http.StatusOK)
	gone := env.do(c, http.MethodGet, "/api/permissions/"+perm.ID, nil, nil)
	expectStatus(t, gone, http.StatusNotFound)
	if msg := gone.message(t); msg != "permission not found" {
		t.Fatalf("unexpected message %q", msg)
	}
}

func TestGrantTakesEffectImmediately(t *testing.T) {
	env, admin := adminEnv(t)
	user := env.client()
	env.login(user, userEmail, userPassword)

	expectStatus(t, env.do(user, http.MethodGet, "/api/roles", nil, nil), http.StatusForbidden)

	var perm auth.Permission
	env.do(admin, http.MethodGet, "/api/permissions/params?routePattern=/api/roles&method=GET", nil, nil).json(t, &perm)
	var userRoleID map[string]string
	env.do(admin, http.MethodGet, "/api/roles/id/User", nil, nil).json(t, &userRoleID)

	res := env.do(admin, http.MethodPost, "/api/permissions/"+perm.ID+"/roles", map[string]string{"roleId": userRoleID["id"]}, nil)
	expectStatus(t, res, http.StatusOK)

	expectStatus(t, env.do(user, http.MethodGet, "/api/roles", nil, nil), http.StatusOK)
}

func TestUserEndpoints(t *testing.T) {
	env, c := adminEnv(t)

	res := env.do(c, http.MethodPost, "/api/user", map[string]string{"email": "ops@api.org", "password": "Ops123!"}, nil)
	expectStatus(t, res, http.StatusCreated)
	var created auth.User
	res.json(t, &created)

	var byEmail auth.User
	res = env.do(c, http.MethodGet, "/api/user/name?email=OPS@api.org", nil, nil)
	expectStatus(t, res, http.StatusOK)
	res.json(t, &byEmail)
	if byEmail.ID != created.ID {
		t.Fatalf("lookup by email returned %s", byEmail.ID)
	}

	empty := env.do(c, http.MethodPut, "/api/user/"+created.ID, map[string]any{"password": ""}, nil)
	expectStatus(t, empty, http.StatusBadRequest)

	res = env.do(c, http.MethodPut, "/api/user/"+created.ID, map[string]any{"email": "ops2@api.org"}, nil)
	expectStatus(t, res, http.StatusOK)
	var renamed auth.User
	res.json(t, &renamed)
	if renamed.Email != "ops2@api.org" {
		t.Fatalf("unexpected email %s", renamed.Email)
	}

	unknown := env.do(c, http.MethodPut, "/api/user/"+created.ID, map[string]any{"nickname": "x"}, nil)
	expectStatus(t, unknown, http.StatusBadRequest)

	missing := env.do(c, http.MethodGet, "/api/user/01J00000000000000000000000", nil, nil)
	expectStatus(t, missing, http.StatusNotFound)
	if msg := missing.message(t); msg != "user not found" {
		t.Fatalf("unexpected message %q", msg)
	}
}

func TestNonAdminCannotEscalate(t *testing.T) {
	env, admin := adminEnv(t)
	ctx := context.Background()
	self, err := env.rbac.GetUserByEmail(ctx, userEmail)
	if err != nil {
		t.Fatalf("GetUserByEmail: %v", err)
	}
	root, err := env.rbac.GetUserByEmail(ctx, adminEmail)
	if err != nil {
		t.Fatalf("GetUserByEmail: %v", err)
	}
	adminRoleID, err := env.rbac.AdminRoleID(ctx)
	if err != nil {
		t.Fatalf("AdminRoleID: %v", err)
	}

	user := env.client()
	env.login(user, userEmail, userPassword)

	expectStatus(t, env.do(user, http.MethodPut, "/api/user/"+self.ID, map[string]any{"roleId": adminRoleID}, nil), http.StatusForbidden)
	expectStatus(t, env.do(user, http.MethodPut, "/api/user/"+self.ID, map[string]any{"isActive": true}, nil), http.StatusForbidden)
	expectStatus(t, env.do(user, http.MethodGet, "/api/roles", nil, nil), http.StatusForbidden)

	expectStatus(t, env.do(user, http.MethodGet, "/api/user/"+root.ID, nil, nil), http.StatusForbidden)
	expectStatus(t, env.do(user, http.MethodPut, "/api/user/"+root.ID, map[string]any{"email": "taken@api.org"}, nil), http.StatusForbidden)
	expectStatus(t, env.do(user, http.MethodDelete, "/api/user/"+root.ID, nil, nil), http.StatusForbidden)

	still, err := env.rbac.GetUser(ctx, root.ID)
	if err != nil || !still.IsActive || still.RoleID != adminRoleID {
		t.Fatalf("admin account changed: %+v %v", still, err)
	}

	res := env.do(user, http.MethodPut, "/api/user/"+self.ID, map[string]any{"password": "Changed1!"}, nil)
	expectStatus(t, res, http.StatusOK)
	env.login(env.client(), userEmail, "Changed1!")

	// admins keep full control over roles and activation
	res = env.do(admin, http.MethodPut, "/api/user/"+self.ID, map[string]any{"roleId": adminRoleID}, nil)
	expectStatus(t, res, http.StatusOK)
	var promoted auth.User
	res.json(t, &promoted)
	if promoted.RoleID != adminRoleID {
		t.Fatalf("expected admin role, got %s", promoted.RoleID)
	}
}
