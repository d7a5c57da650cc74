package pg

import (
	"context"
	"strings"

	"warden.dev/internal/auth"
	"warden.dev/internal/ids"
)

// permissionSelect loads permissions with their role ids folded into one column.
const permissionSelect = `
	select p.id, p.route_pattern, p.method,
	       coalesce(string_agg(rp.role_id, ',' order by rp.role_id), '') as role_ids,
	       p.created_at, p.updated_at
	from permissions p
	left join role_permissions rp on rp.permission_id = p.id`

const permissionGroup = ` group by p.id, p.route_pattern, p.method, p.created_at, p.updated_at`

func scanPermission(row rowScanner) (auth.Permission, error) {
	var (
		p       auth.Permission
		roleIDs string
	)
	if err := row.Scan(&p.ID, &p.RoutePattern, &p.Method, &roleIDs, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return auth.Permission{}, err
	}
	if roleIDs != "" {
		p.RoleIDs = strings.Split(roleIDs, ",")
	}
	return p, nil
}

func (s *Store) CreatePermission(ctx context.Context, p auth.Permission) (auth.Permission, error) {
	if s.db == nil {
		return auth.Permission{}, errNoDB
	}
	if p.ID == "" {
		p.ID = ids.New()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return auth.Permission{}, err
	}
	defer func() { _ = tx.Rollback() }()

	now := s.now()
	if _, err := tx.ExecContext(ctx, `
		insert into permissions (id, route_pattern, method, created_at, updated_at)
		values ($1, $2, $3, $4, $4)
	`, p.ID, p.RoutePattern, p.Method, now); err != nil {
		return auth.Permission{}, mapError(err)
	}
	for _, roleID := range p.RoleIDs {
		if _, err := tx.ExecContext(ctx, `
			insert into role_permissions (role_id, permission_id, created_at)
			values ($1, $2, $3)
		`, roleID, p.ID, now); err != nil {
			return auth.Permission{}, mapError(err)
		}
	}
	if err := tx.Commit(); err != nil {
		return auth.Permission{}, err
	}
	return s.GetPermission(ctx, p.ID)
}

func (s *Store) GetPermission(ctx context.Context, id string) (auth.Permission, error) {
	return s.permissionWhere(ctx, `p.id = $1`, id)
}

func (s *Store) FindPermission(ctx context.Context, routePattern, method string) (auth.Permission, error) {
	return s.permissionWhere(ctx, `p.route_pattern = $1 and p.method = $2`, routePattern, method)
}

func (s *Store) permissionWhere(ctx context.Context, cond string, args ...any) (auth.Permission, error) {
	if s.db == nil {
		return auth.Permission{}, errNoDB
	}
	p, err := scanPermission(s.db.QueryRowContext(ctx, permissionSelect+` where `+cond+permissionGroup, args...))
	if err != nil {
		return auth.Permission{}, mapError(err)
	}
	return p, nil
}

func (s *Store) ListPermissions(ctx context.Context) ([]auth.Permission, error) {
	return s.permissionList(ctx, permissionSelect+permissionGroup+` order by p.route_pattern, p.method`)
}

func (s *Store) PermissionsForRole(ctx context.Context, roleID string) ([]auth.Permission, error) {
	return s.permissionList(ctx, permissionSelect+`
		where p.id in (select permission_id from role_permissions where role_id = $1)`+
		permissionGroup+` order by p.route_pattern, p.method`, roleID)
}

func (s *Store) permissionList(ctx context.Context, query string, args ...any) ([]auth.Permission, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []auth.Permission
	for rows.Next() {
		p, err := scanPermission(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) UpdatePermission(ctx context.Context, id string, patch auth.PermissionPatch) (auth.Permission, error) {
	if s.db == nil {
		return auth.Permission{}, errNoDB
	}
	var b setBuilder
	if patch.RoutePattern != nil {
		b.add("route_pattern", *patch.RoutePattern)
	}
	if patch.Method != nil {
		b.add("method", *patch.Method)
	}
	if b.empty() {
		return s.GetPermission(ctx, id)
	}
	b.add("updated_at", s.now())
	query, args := b.statement("permissions", id, "id")
	var updatedID string
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&updatedID); err != nil {
		return auth.Permission{}, mapError(err)
	}
	return s.GetPermission(ctx, updatedID)
}

// DeletePermission removes the permission; role links cascade.
func (s *Store) DeletePermission(ctx context.Context, id string) error {
	return s.execAffectingOne(ctx, `delete from permissions where id = $1`, id)
}

func (s *Store) AddPermissionRole(ctx context.Context, permissionID, roleID string) error {
	if s.db == nil {
		return errNoDB
	}
	_, err := s.db.ExecContext(ctx, `
		insert into role_permissions (role_id, permission_id, created_at)
		values ($1, $2, $3)
	`, roleID, permissionID, s.now())
	return mapError(err)
}

func (s *Store) RemovePermissionRole(ctx context.Context, permissionID, roleID string) error {
	return s.execAffectingOne(ctx, `delete from role_permissions where permission_id = $1 and role_id = $2`, permissionID, roleID)
}

func (s *Store) execAffectingOne(ctx context.Context, query string, args ...any) error {
	if s.db == nil {
		return errNoDB
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return mapError(err)
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return auth.ErrNotFound
	}
	return nil
}
