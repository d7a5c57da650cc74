package pg

import (
	"context"
	"database/sql"

	"warden.dev/internal/auth"
	"warden.dev/internal/ids"
)

func (s *Store) CreateRefreshToken(ctx context.Context, tok auth.RefreshToken) error {
	if s.db == nil {
		return errNoDB
	}
	if tok.ID == "" {
		tok.ID = ids.New()
	}
	if tok.CreatedAt.IsZero() {
		tok.CreatedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx, `
		insert into refresh_tokens (id, user_id, token_hash, user_agent, ip_address, created_at, expires_at)
		values ($1, $2, $3, $4, $5, $6, $7)
	`, tok.ID, tok.UserID, tok.TokenHash, nullIfEmpty(tok.UserAgent), nullIfEmpty(tok.IPAddress), tok.CreatedAt, tok.ExpiresAt)
	return mapError(err)
}

// FindRefreshToken returns the newest record for tokenHash.
func (s *Store) FindRefreshToken(ctx context.Context, tokenHash string) (auth.RefreshToken, error) {
	if s.db == nil {
		return auth.RefreshToken{}, errNoDB
	}
	var tok auth.RefreshToken
	var ua, ip sql.NullString
	err := s.db.QueryRowContext(ctx, `
		select id, user_id, token_hash, user_agent, ip_address, created_at, expires_at
		from refresh_tokens
		where token_hash = $1
		order by created_at desc
		limit 1
	`, tokenHash).Scan(&tok.ID, &tok.UserID, &tok.TokenHash, &ua, &ip, &tok.CreatedAt, &tok.ExpiresAt)
	if err != nil {
		return auth.RefreshToken{}, mapError(err)
	}
	tok.UserAgent, tok.IPAddress = ua.String, ip.String
	return tok, nil
}

func (s *Store) DeleteRefreshTokens(ctx context.Context, tokenHash string) (int64, error) {
	return s.deleteCount(ctx, `delete from refresh_tokens where token_hash = $1`, tokenHash)
}

func (s *Store) DeleteUserRefreshTokens(ctx context.Context, userID string) (int64, error) {
	return s.deleteCount(ctx, `delete from refresh_tokens where user_id = $1`, userID)
}

func (s *Store) deleteCount(ctx context.Context, query string, arg any) (int64, error) {
	if s.db == nil {
		return 0, errNoDB
	}
	res, err := s.db.ExecContext(ctx, query, arg)
	if err != nil {
		return 0, mapError(err)
	}
	return res.RowsAffected()
}
