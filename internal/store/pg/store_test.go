package pg

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"warden.dev/internal/auth"
)

var fixedNow = time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	s := New(db)
	s.now = func() time.Time { return fixedNow }
	return s, mock
}

func userRow() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "email", "password_hash", "federated_id", "role_id", "last_login", "is_active", "created_at", "updated_at"})
}

func TestCreateUserMapsUniqueViolation(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("insert into users").
		WithArgs("u1", "a@example.com", sqlmock.AnyArg(), sqlmock.AnyArg(), "r1", true, fixedNow).
		WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation, ConstraintName: "users_email_key"})

	_, err := s.CreateUser(context.Background(), auth.User{ID: "u1", Email: "a@example.com", PasswordHash: "h", RoleID: "r1", IsActive: true})
	if !errors.Is(err, auth.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCreateUserScansNullableColumns(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("insert into users").
		WillReturnRows(userRow().AddRow("u1", "a@example.com", nil, "google-1", "r1", nil, true, fixedNow, fixedNow))

	u, err := s.CreateUser(context.Background(), auth.User{Email: "a@example.com", FederatedID: "google-1", RoleID: "r1", IsActive: true})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if u.HasPassword() || u.FederatedID != "google-1" || u.LastLogin != nil {
		t.Fatalf("unexpected user %+v", u)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestGetUserByEmailNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("from users where lower(email) = lower($1)")).
		WithArgs("missing@example.com").
		WillReturnRows(userRow())

	if _, err := s.GetUserByEmail(context.Background(), " missing@example.com "); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUpdateUserBuildsPartialStatement(t *testing.T) {
	s, mock := newMockStore(t)
	off := false
	login := fixedNow.Add(-time.Hour)

	mock.ExpectQuery(regexp.QuoteMeta("update users set is_active = $1, last_login = $2, updated_at = $3 where id = $4 returning")).
		WithArgs(false, login, fixedNow, "u1").
		WillReturnRows(userRow().AddRow("u1", "a@example.com", "h", nil, "r1", login, false, fixedNow, fixedNow))

	u, err := s.UpdateUser(context.Background(), "u1", auth.UserPatch{IsActive: &off, LastLogin: &login})
	if err != nil {
		t.Fatalf("UpdateUser: %v", err)
	}
	if u.IsActive || u.LastLogin == nil || !u.LastLogin.Equal(login) {
		t.Fatalf("unexpected user %+v", u)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUpdateRoleMapsDefaultIndexConflict(t *testing.T) {
	s, mock := newMockStore(t)
	yes := true

	mock.ExpectQuery(regexp.QuoteMeta("update roles set is_default = $1, updated_at = $2 where id = $3")).
		WithArgs(true, fixedNow, "r2").
		WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation, ConstraintName: "roles_single_default"})

	_, err := s.UpdateRole(context.Background(), "r2", auth.RolePatch{IsDefault: &yes})
	if !errors.Is(err, auth.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestFindDefaultRole(t *testing.T) {
	s, mock := newMockStore(t)
	cols := []string{"id", "name", "description", "is_system", "is_admin", "is_default", "is_active", "created_at", "updated_at"}

	mock.ExpectQuery(regexp.QuoteMeta("from roles where is_default and is_active limit 1")).
		WillReturnRows(sqlmock.NewRows(cols).AddRow("r1", "user", "", true, false, true, true, fixedNow, fixedNow))

	r, err := s.FindDefaultRole(context.Background())
	if err != nil {
		t.Fatalf("FindDefaultRole: %v", err)
	}
	if r.ID != "r1" || !r.IsDefault || !r.IsSystem {
		t.Fatalf("unexpected role %+v", r)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCreatePermissionLinksRoles(t *testing.T) {
	s, mock := newMockStore(t)
	permCols := []string{"id", "route_pattern", "method", "role_ids", "created_at", "updated_at"}

	mock.ExpectBegin()
	mock.ExpectExec("insert into permissions").
		WithArgs("p1", "/api/user/:id", "GET", fixedNow).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("insert into role_permissions").
		WithArgs("r1", "p1", fixedNow).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("insert into role_permissions").
		WithArgs("r2", "p1", fixedNow).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()
	mock.ExpectQuery("from permissions p").
		WithArgs("p1").
		WillReturnRows(sqlmock.NewRows(permCols).AddRow("p1", "/api/user/:id", "GET", "r1,r2", fixedNow, fixedNow))

	p, err := s.CreatePermission(context.Background(), auth.Permission{ID: "p1", RoutePattern: "/api/user/:id", Method: "GET", RoleIDs: []string{"r1", "r2"}})
	if err != nil {
		t.Fatalf("CreatePermission: %v", err)
	}
	if len(p.RoleIDs) != 2 || p.RoleIDs[0] != "r1" || p.RoleIDs[1] != "r2" {
		t.Fatalf("unexpected role ids %v", p.RoleIDs)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCreatePermissionRollsBackOnDuplicate(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("insert into permissions").
		WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation, ConstraintName: "permissions_route_pattern_method_key"})
	mock.ExpectRollback()

	_, err := s.CreatePermission(context.Background(), auth.Permission{RoutePattern: "/api/x", Method: "GET"})
	if !errors.Is(err, auth.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPermissionsForRole(t *testing.T) {
	s, mock := newMockStore(t)
	permCols := []string{"id", "route_pattern", "method", "role_ids", "created_at", "updated_at"}

	mock.ExpectQuery(regexp.QuoteMeta("select permission_id from role_permissions where role_id = $1")).
		WithArgs("r1").
		WillReturnRows(sqlmock.NewRows(permCols).
			AddRow("p1", "/api/roles", "GET", "r1", fixedNow, fixedNow).
			AddRow("p2", "/api/user/:id", "GET", "r1,r9", fixedNow, fixedNow))

	perms, err := s.PermissionsForRole(context.Background(), "r1")
	if err != nil {
		t.Fatalf("PermissionsForRole: %v", err)
	}
	if len(perms) != 2 || len(perms[1].RoleIDs) != 2 {
		t.Fatalf("unexpected permissions %+v", perms)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRemovePermissionRoleNotLinked(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("delete from role_permissions").
		WithArgs("p1", "r1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := s.RemovePermissionRole(context.Background(), "p1", "r1"); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestAddPermissionRoleDuplicate(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("insert into role_permissions").
		WithArgs("r1", "p1", fixedNow).
		WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation, ConstraintName: "role_permissions_pkey"})

	if err := s.AddPermissionRole(context.Background(), "p1", "r1"); !errors.Is(err, auth.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRefreshTokenLifecycle(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()
	exp := fixedNow.Add(time.Hour)

	mock.ExpectExec("insert into refresh_tokens").
		WithArgs("t1", "u1", "digest", "agent", sqlmock.AnyArg(), fixedNow, exp).
		WillReturnResult(sqlmock.NewResult(1, 1))
	if err := s.CreateRefreshToken(ctx, auth.RefreshToken{ID: "t1", UserID: "u1", TokenHash: "digest", UserAgent: "agent", ExpiresAt: exp}); err != nil {
		t.Fatalf("CreateRefreshToken: %v", err)
	}

	mock.ExpectQuery("from refresh_tokens").
		WithArgs("digest").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "token_hash", "user_agent", "ip_address", "created_at", "expires_at"}).
			AddRow("t1", "u1", "digest", "agent", nil, fixedNow, exp))
	tok, err := s.FindRefreshToken(ctx, "digest")
	if err != nil {
		t.Fatalf("FindRefreshToken: %v", err)
	}
	if tok.UserID != "u1" || tok.UserAgent != "agent" || tok.IPAddress != "" || !tok.ExpiresAt.Equal(exp) {
		t.Fatalf("unexpected token %+v", tok)
	}

	mock.ExpectExec(regexp.QuoteMeta("delete from refresh_tokens where user_id = $1")).
		WithArgs("u1").
		WillReturnResult(sqlmock.NewResult(0, 3))
	n, err := s.DeleteUserRefreshTokens(ctx, "u1")
	if err != nil || n != 3 {
		t.Fatalf("DeleteUserRefreshTokens = %d, %v", n, err)
	}

	mock.ExpectExec("insert into refresh_tokens").
		WillReturnError(&pgconn.PgError{Code: pgErrForeignKeyViolation, ConstraintName: "refresh_tokens_user_id_fkey"})
	if err := s.CreateRefreshToken(ctx, auth.RefreshToken{UserID: "ghost", TokenHash: "x", ExpiresAt: exp}); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown user, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
