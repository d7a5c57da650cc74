package httpapi

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"warden.dev/internal/audit"
	"warden.dev/internal/auth"
)

type createUserRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	RoleID   string `json:"roleId"`
}

type roleRequest struct {
	RoleID string `json:"roleId"`
}

// notFound gives a bare store ErrNotFound a readable message.
func notFound(err error, what string) error {
	if err != nil && err.Error() == auth.ErrNotFound.Error() {
		return fmt.Errorf("%w: %s not found", auth.ErrNotFound, what)
	}
	return err
}

func (a *API) audit(r *http.Request, event, resource, id string) {
	_ = audit.LogEvent(r.Context(), event, map[string]any{
		"resource":    resource,
		"resource_id": id,
	})
}

// --- users ---

func (a *API) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := a.rbac.ListUsers(r.Context())
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (a *API) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	user, err := a.rbac.CreateUser(r.Context(), req.Email, req.Password, req.RoleID)
	if err != nil {
		handleError(w, r, notFound(err, "role"))
		return
	}
	a.audit(r, "rbac.user.create", "user", user.ID)
	w.Header().Set("Location", "/api/user/"+user.ID)
	writeJSON(w, http.StatusCreated, user)
}

func (a *API) handleGetUserByEmail(w http.ResponseWriter, r *http.Request) {
	user, err := a.rbac.GetUserByEmail(r.Context(), r.URL.Query().Get("email"))
	if err != nil {
		handleError(w, r, notFound(err, "user"))
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (a *API) handleGetUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !a.admitOwner(w, r, id) {
		return
	}
	user, err := a.rbac.GetUser(r.Context(), id)
	if err != nil {
		handleError(w, r, notFound(err, "user"))
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (a *API) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	var upd auth.UserUpdate
	if err := decodeJSON(r, &upd); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	id := chi.URLParam(r, "id")
	// role and activation changes are reserved for admins
	if upd.RoleID != nil || upd.IsActive != nil {
		if !a.admitAdmin(w, r) {
			return
		}
	} else if !a.admitOwner(w, r, id) {
		return
	}
	user, err := a.rbac.UpdateUser(r.Context(), id, upd)
	if err != nil {
		handleError(w, r, notFound(err, "user"))
		return
	}
	a.audit(r, "rbac.user.update", "user", user.ID)
	writeJSON(w, http.StatusOK, user)
}

func (a *API) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !a.admitOwner(w, r, id) {
		return
	}
	if err := a.rbac.DeleteUser(r.Context(), id); err != nil {
		handleError(w, r, notFound(err, "user"))
		return
	}
	a.audit(r, "rbac.user.delete", "user", id)
	writeMessage(w, http.StatusOK, "User deleted")
}

// --- roles ---

func (a *API) handleCreateRole(w http.ResponseWriter, r *http.Request) {
	var in auth.RoleInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	role, err := a.rbac.CreateRole(r.Context(), in)
	if err != nil {
		handleError(w, r, err)
		return
	}
	a.audit(r, "rbac.role.create", "role", role.ID)
	w.Header().Set("Location", "/api/roles/"+role.ID)
	writeJSON(w, http.StatusCreated, role)
}

func (a *API) handleListRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := a.rbac.ListRoles(r.Context())
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, roles)
}

func (a *API) handleGetRole(w http.ResponseWriter, r *http.Request) {
	role, err := a.rbac.GetRole(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleError(w, r, notFound(err, "role"))
		return
	}
	writeJSON(w, http.StatusOK, role)
}

func (a *API) handleGetRoleByName(w http.ResponseWriter, r *http.Request) {
	role, err := a.rbac.GetRoleByName(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		handleError(w, r, notFound(err, "role"))
		return
	}
	writeJSON(w, http.StatusOK, role)
}

func (a *API) handleGetRoleIDByName(w http.ResponseWriter, r *http.Request) {
	id, err := a.rbac.GetRoleIDByName(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		handleError(w, r, notFound(err, "role"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id})
}

func (a *API) handleUpdateRole(w http.ResponseWriter, r *http.Request) {
	var patch auth.RolePatch
	if err := decodeJSON(r, &patch); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	role, err := a.rbac.UpdateRole(r.Context(), chi.URLParam(r, "id"), patch)
	if err != nil {
		handleError(w, r, notFound(err, "role"))
		return
	}
	a.audit(r, "rbac.role.update", "role", role.ID)
	writeJSON(w, http.StatusOK, role)
}

func (a *API) handleDeleteRole(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := a.rbac.DeleteRole(r.Context(), id); err != nil {
		handleError(w, r, notFound(err, "role"))
		return
	}
	a.audit(r, "rbac.role.delete", "role", id)
	writeMessage(w, http.StatusOK, "Role deleted")
}

func (a *API) handleDefaultRoleID(w http.ResponseWriter, r *http.Request) {
	id, err := a.rbac.DefaultRoleID(r.Context())
	if err != nil {
		handleError(w, r, notFound(err, "default role"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id})
}

func (a *API) handleAdminRoleID(w http.ResponseWriter, r *http.Request) {
	id, err := a.rbac.AdminRoleID(r.Context())
	if err != nil {
		handleError(w, r, notFound(err, "admin role"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id})
}

// --- permissions ---

func (a *API) handleCreatePermission(w http.ResponseWriter, r *http.Request) {
	var in auth.PermissionInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	perm, err := a.rbac.CreatePermission(r.Context(), in)
	if err != nil {
		handleError(w, r, notFound(err, "role"))
		return
	}
	a.audit(r, "rbac.permission.create", "permission", perm.ID)
	w.Header().Set("Location", "/api/permissions/"+perm.ID)
	writeJSON(w, http.StatusCreated, perm)
}

func (a *API) handleListPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := a.rbac.ListPermissions(r.Context())
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, perms)
}

func (a *API) handleFindPermission(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	perm, err := a.rbac.FindPermission(r.Context(), q.Get("routePattern"), q.Get("method"))
	if err != nil {
		handleError(w, r, notFound(err, "permission"))
		return
	}
	writeJSON(w, http.StatusOK, perm)
}

func (a *API) handlePermissionsForRole(w http.ResponseWriter, r *http.Request) {
	perms, err := a.rbac.PermissionsForRole(r.Context(), chi.URLParam(r, "roleId"))
	if err != nil {
		handleError(w, r, notFound(err, "role"))
		return
	}
	writeJSON(w, http.StatusOK, perms)
}

func (a *API) handleGetPermission(w http.ResponseWriter, r *http.Request) {
	perm, err := a.rbac.GetPermission(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleError(w, r, notFound(err, "permission"))
		return
	}
	writeJSON(w, http.StatusOK, perm)
}

func (a *API) handleUpdatePermission(w http.ResponseWriter, r *http.Request) {
	var patch auth.PermissionPatch
	if err := decodeJSON(r, &patch); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	perm, err := a.rbac.UpdatePermission(r.Context(), chi.URLParam(r, "id"), patch)
	if err != nil {
		handleError(w, r, notFound(err, "permission"))
		return
	}
	a.audit(r, "rbac.permission.update", "permission", perm.ID)
	writeJSON(w, http.StatusOK, perm)
}

func (a *API) handleDeletePermission(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := a.rbac.DeletePermission(r.Context(), id); err != nil {
		handleError(w, r, notFound(err, "permission"))
		return
	}
	a.audit(r, "rbac.permission.delete", "permission", id)
	writeMessage(w, http.StatusOK, "Permission deleted")
}

func (a *API) handleAddPermissionRole(w http.ResponseWriter, r *http.Request) {
	var req roleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.RoleID) == "" {
		writeError(w, r, http.StatusBadRequest, "roleId is required")
		return
	}
	perm, err := a.rbac.AddRoleToPermission(r.Context(), chi.URLParam(r, "id"), req.RoleID)
	if err != nil {
		handleError(w, r, notFound(err, "permission or role"))
		return
	}
	a.audit(r, "rbac.permission.role.add", "permission", perm.ID)
	writeJSON(w, http.StatusOK, perm)
}

func (a *API) handleRemovePermissionRole(w http.ResponseWriter, r *http.Request) {
	perm, err := a.rbac.RemoveRoleFromPermission(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "roleId"))
	if err != nil {
		handleError(w, r, notFound(err, "permission role"))
		return
	}
	a.audit(r, "rbac.permission.role.remove", "permission", perm.ID)
	writeJSON(w, http.StatusOK, perm)
}
