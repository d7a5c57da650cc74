package pg

import (
	"context"

	"warden.dev/internal/auth"
	"warden.dev/internal/ids"
)

const roleColumns = `id, name, description, is_system, is_admin, is_default, is_active, created_at, updated_at`

func scanRole(row rowScanner) (auth.Role, error) {
	var r auth.Role
	err := row.Scan(&r.ID, &r.Name, &r.Description, &r.IsSystem, &r.IsAdmin, &r.IsDefault, &r.IsActive, &r.CreatedAt, &r.UpdatedAt)
	return r, err
}

func (s *Store) CreateRole(ctx context.Context, r auth.Role) (auth.Role, error) {
	if s.db == nil {
		return auth.Role{}, errNoDB
	}
	if r.ID == "" {
		r.ID = ids.New()
	}
	row := s.db.QueryRowContext(ctx, `
		insert into roles (id, name, description, is_system, is_admin, is_default, is_active, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		returning `+roleColumns,
		r.ID, r.Name, r.Description, r.IsSystem, r.IsAdmin, r.IsDefault, r.IsActive, s.now())
	created, err := scanRole(row)
	if err != nil {
		return auth.Role{}, mapError(err)
	}
	return created, nil
}

func (s *Store) GetRole(ctx context.Context, id string) (auth.Role, error) {
	return s.roleWhere(ctx, `id = $1`, id)
}

func (s *Store) GetRoleByName(ctx context.Context, name string) (auth.Role, error) {
	return s.roleWhere(ctx, `name = $1`, name)
}

func (s *Store) FindAdminRole(ctx context.Context) (auth.Role, error) {
	return s.roleWhere(ctx, `is_admin and is_active`)
}

func (s *Store) FindDefaultRole(ctx context.Context) (auth.Role, error) {
	return s.roleWhere(ctx, `is_default and is_active`)
}

func (s *Store) roleWhere(ctx context.Context, cond string, args ...any) (auth.Role, error) {
	if s.db == nil {
		return auth.Role{}, errNoDB
	}
	r, err := scanRole(s.db.QueryRowContext(ctx, `select `+roleColumns+` from roles where `+cond+` limit 1`, args...))
	if err != nil {
		return auth.Role{}, mapError(err)
	}
	return r, nil
}

func (s *Store) ListRoles(ctx context.Context) ([]auth.Role, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	rows, err := s.db.QueryContext(ctx, `select `+roleColumns+` from roles order by name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []auth.Role
	for rows.Next() {
		r, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) UpdateRole(ctx context.Context, id string, patch auth.RolePatch) (auth.Role, error) {
	if s.db == nil {
		return auth.Role{}, errNoDB
	}
	var b setBuilder
	if patch.Name != nil {
		b.add("name", *patch.Name)
	}
	if patch.Description != nil {
		b.add("description", *patch.Description)
	}
	if patch.IsAdmin != nil {
		b.add("is_admin", *patch.IsAdmin)
	}
	if patch.IsDefault != nil {
		b.add("is_default", *patch.IsDefault)
	}
	if patch.IsActive != nil {
		b.add("is_active", *patch.IsActive)
	}
	if b.empty() {
		return s.GetRole(ctx, id)
	}
	b.add("updated_at", s.now())
	query, args := b.statement("roles", id, roleColumns)
	r, err := scanRole(s.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		return auth.Role{}, mapError(err)
	}
	return r, nil
}
