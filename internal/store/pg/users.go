package pg

import (
	"context"
	"database/sql"
	"strings"

	"warden.dev/internal/auth"
	"warden.dev/internal/ids"
)

const userColumns = `id, email, password_hash, federated_id, role_id, last_login, is_active, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (auth.User, error) {
	var (
		u         auth.User
		hash, fid sql.NullString
		lastLogin sql.NullTime
	)
	if err := row.Scan(&u.ID, &u.Email, &hash, &fid, &u.RoleID, &lastLogin, &u.IsActive, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return auth.User{}, err
	}
	u.PasswordHash = hash.String
	u.FederatedID = fid.String
	if lastLogin.Valid {
		at := lastLogin.Time
		u.LastLogin = &at
	}
	return u, nil
}

func (s *Store) CreateUser(ctx context.Context, u auth.User) (auth.User, error) {
	if s.db == nil {
		return auth.User{}, errNoDB
	}
	if u.ID == "" {
		u.ID = ids.New()
	}
	now := s.now()
	row := s.db.QueryRowContext(ctx, `
		insert into users (id, email, password_hash, federated_id, role_id, is_active, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $7)
		returning `+userColumns,
		u.ID, u.Email, nullIfEmpty(u.PasswordHash), nullIfEmpty(u.FederatedID), u.RoleID, u.IsActive, now)
	created, err := scanUser(row)
	if err != nil {
		return auth.User{}, mapError(err)
	}
	return created, nil
}

func (s *Store) GetUser(ctx context.Context, id string) (auth.User, error) {
	return s.userWhere(ctx, `id = $1`, id)
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (auth.User, error) {
	return s.userWhere(ctx, `lower(email) = lower($1)`, strings.TrimSpace(email))
}

func (s *Store) GetUserByFederatedID(ctx context.Context, federatedID string) (auth.User, error) {
	return s.userWhere(ctx, `federated_id = $1`, federatedID)
}

func (s *Store) userWhere(ctx context.Context, cond string, arg any) (auth.User, error) {
	if s.db == nil {
		return auth.User{}, errNoDB
	}
	u, err := scanUser(s.db.QueryRowContext(ctx, `select `+userColumns+` from users where `+cond, arg))
	if err != nil {
		return auth.User{}, mapError(err)
	}
	return u, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]auth.User, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	rows, err := s.db.QueryContext(ctx, `select `+userColumns+` from users order by created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []auth.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) UpdateUser(ctx context.Context, id string, patch auth.UserPatch) (auth.User, error) {
	if s.db == nil {
		return auth.User{}, errNoDB
	}
	var b setBuilder
	if patch.Email != nil {
		b.add("email", *patch.Email)
	}
	if patch.PasswordHash != nil {
		b.add("password_hash", nullIfEmpty(*patch.PasswordHash))
	}
	if patch.FederatedID != nil {
		b.add("federated_id", nullIfEmpty(*patch.FederatedID))
	}
	if patch.RoleID != nil {
		b.add("role_id", *patch.RoleID)
	}
	if patch.IsActive != nil {
		b.add("is_active", *patch.IsActive)
	}
	if patch.LastLogin != nil {
		b.add("last_login", *patch.LastLogin)
	}
	if b.empty() {
		return s.GetUser(ctx, id)
	}
	b.add("updated_at", s.now())
	query, args := b.statement("users", id, userColumns)
	u, err := scanUser(s.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		return auth.User{}, mapError(err)
	}
	return u, nil
}
