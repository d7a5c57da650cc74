package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"warden.dev/internal/ids"
)

const (
	DefaultAccessTTL  = time.Hour
	DefaultRefreshTTL = 7 * 24 * time.Hour

	audienceAccess  = "access"
	audienceRefresh = "refresh"
)

// AccessClaims are embedded in access tokens. Role carries the role id at issuance.
type AccessClaims struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// RefreshClaims are embedded in refresh tokens.
type RefreshClaims struct {
	ID string `json:"id"`
	jwt.RegisteredClaims
}

// TokenService issues, verifies and revokes access and refresh tokens.
type TokenService struct {
	users  UserStore
	store  RefreshTokenStore
	now    func() time.Time
	issuer string

	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
}

// TokenOption configures TokenService behavior.
type TokenOption func(*TokenService) error

// WithSecrets sets the HS256 keys for access and refresh tokens.
func WithSecrets(accessSecret, refreshSecret string) TokenOption {
	return func(s *TokenService) error {
		if strings.TrimSpace(accessSecret) == "" || strings.TrimSpace(refreshSecret) == "" {
			return errors.New("auth: access and refresh secrets are required")
		}
		s.accessSecret = []byte(accessSecret)
		s.refreshSecret = []byte(refreshSecret)
		return nil
	}
}

// WithAccessTTL configures access token lifetime.
func WithAccessTTL(ttl time.Duration) TokenOption {
	return func(s *TokenService) error {
		if ttl > 0 {
			s.accessTTL = ttl
		}
		return nil
	}
}

// WithRefreshTTL configures refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) TokenOption {
	return func(s *TokenService) error {
		if ttl > 0 {
			s.refreshTTL = ttl
		}
		return nil
	}
}

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) TokenOption {
	return func(s *TokenService) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// WithIssuer sets the iss claim written and required on every token.
func WithIssuer(issuer string) TokenOption {
	return func(s *TokenService) error {
		s.issuer = strings.TrimSpace(issuer)
		return nil
	}
}

// NewTokenService constructs a TokenService. WithSecrets is mandatory.
func NewTokenService(users UserStore, store RefreshTokenStore, opts ...TokenOption) (*TokenService, error) {
	s := &TokenService{
		users:      users,
		store:      store,
		now:        time.Now,
		accessTTL:  DefaultAccessTTL,
		refreshTTL: DefaultRefreshTTL,
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	if len(s.accessSecret) == 0 || len(s.refreshSecret) == 0 {
		return nil, errors.New("auth: access and refresh secrets are required")
	}
	return s, nil
}

// AccessTTL returns the configured access token lifetime.
func (s *TokenService) AccessTTL() time.Duration { return s.accessTTL }

// RefreshTTL returns the configured refresh token lifetime.
func (s *TokenService) RefreshTTL() time.Duration { return s.refreshTTL }

// IssueAccessToken signs a stateless access token for user.
func (s *TokenService) IssueAccessToken(user User) (string, time.Time, error) {
	if user.ID == "" {
		return "", time.Time{}, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	now := s.now()
	exp := now.Add(s.accessTTL)
	claims := AccessClaims{
		ID:               user.ID,
		Email:            user.Email,
		Role:             user.RoleID,
		RegisteredClaims: s.registered(user.ID, audienceAccess, now, exp),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.accessSecret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign access token: %w", err)
	}
	return signed, exp, nil
}

// IssueRefreshToken signs a refresh token and persists its record. The token
// is not valid until the record is stored.
func (s *TokenService) IssueRefreshToken(ctx context.Context, user User, meta ClientMeta) (string, time.Time, error) {
	if user.ID == "" {
		return "", time.Time{}, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	now := s.now()
	exp := now.Add(s.refreshTTL)
	claims := RefreshClaims{
		ID:               user.ID,
		RegisteredClaims: s.registered(user.ID, audienceRefresh, now, exp),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.refreshSecret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign refresh token: %w", err)
	}
	rec := RefreshToken{
		ID:        ids.New(),
		UserID:    user.ID,
		TokenHash: HashToken(signed),
		UserAgent: meta.UserAgent,
		IPAddress: meta.IPAddress,
		CreatedAt: now,
		ExpiresAt: exp,
	}
	if err := s.store.CreateRefreshToken(ctx, rec); err != nil {
		return "", time.Time{}, fmt.Errorf("persist refresh token: %w", err)
	}
	return signed, exp, nil
}

// IssuePair mints an access token and a persisted refresh token.
func (s *TokenService) IssuePair(ctx context.Context, user User, meta ClientMeta) (TokenPair, error) {
	access, accessExp, err := s.IssueAccessToken(user)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, refreshExp, err := s.IssueRefreshToken(ctx, user, meta)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

// VerifyAccessToken checks signature and expiry only.
func (s *TokenService) VerifyAccessToken(token string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := s.parse(token, s.accessSecret, audienceAccess, claims); err != nil {
		return nil, err
	}
	if strings.TrimSpace(claims.ID) == "" {
		return nil, tokenError(TokenMalformed, errors.New("id claim missing"))
	}
	return claims, nil
}

// VerifyRefreshToken checks signature and expiry only. Callers must also
// confirm the persisted record, see ValidateRefreshToken.
func (s *TokenService) VerifyRefreshToken(token string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	if err := s.parse(token, s.refreshSecret, audienceRefresh, claims); err != nil {
		return nil, err
	}
	return claims, nil
}

// ValidateRefreshToken verifies the token and requires a live persisted record.
func (s *TokenService) ValidateRefreshToken(ctx context.Context, token string) (*RefreshClaims, RefreshToken, error) {
	claims, err := s.VerifyRefreshToken(token)
	if err != nil {
		if reason, _ := TokenReasonOf(err); reason == TokenExpired {
			return nil, RefreshToken{}, tokenError(TokenExpired, ErrRefreshTokenNotFound)
		}
		return nil, RefreshToken{}, err
	}
	rec, err := s.store.FindRefreshToken(ctx, HashToken(token))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, RefreshToken{}, tokenError(TokenRevoked, ErrRefreshTokenNotFound)
		}
		return nil, RefreshToken{}, err
	}
	if !s.now().Before(rec.ExpiresAt) {
		return nil, RefreshToken{}, tokenError(TokenExpired, ErrRefreshTokenNotFound)
	}
	return claims, rec, nil
}

// Rotate revokes a live refresh token and issues a fresh pair for its owner.
// Concurrent rotations of the same token may both succeed.
func (s *TokenService) Rotate(ctx context.Context, old string, meta ClientMeta) (TokenPair, User, error) {
	claims, rec, err := s.ValidateRefreshToken(ctx, old)
	if err != nil {
		return TokenPair{}, User{}, err
	}
	userID := strings.TrimSpace(claims.ID)
	if userID == "" || userID != rec.UserID {
		return TokenPair{}, User{}, ErrInvalidTokenPayload
	}
	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return TokenPair{}, User{}, ErrUserNotFound
		}
		return TokenPair{}, User{}, err
	}
	if !user.IsActive {
		return TokenPair{}, User{}, ErrUserNotFound
	}
	if _, err := s.store.DeleteRefreshTokens(ctx, rec.TokenHash); err != nil {
		return TokenPair{}, User{}, fmt.Errorf("revoke refresh token: %w", err)
	}
	pair, err := s.IssuePair(ctx, user, meta)
	if err != nil {
		return TokenPair{}, User{}, err
	}
	return pair, user, nil
}

// Revoke deletes every record of token. Unknown tokens are a no-op.
func (s *TokenService) Revoke(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil
	}
	_, err := s.store.DeleteRefreshTokens(ctx, HashToken(token))
	return err
}

// RevokeAll deletes every refresh token of the user.
func (s *TokenService) RevokeAll(ctx context.Context, userID string) error {
	if strings.TrimSpace(userID) == "" {
		return nil
	}
	_, err := s.store.DeleteUserRefreshTokens(ctx, userID)
	return err
}

func (s *TokenService) registered(subject, audience string, now, exp time.Time) jwt.RegisteredClaims {
	return jwt.RegisteredClaims{
		Issuer:    s.issuer,
		Subject:   subject,
		Audience:  jwt.ClaimStrings{audience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
		ID:        uuid.NewString(),
	}
}

func (s *TokenService) parse(token string, secret []byte, audience string, claims jwt.Claims) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return tokenError(TokenMalformed, errors.New("token is empty"))
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
		jwt.WithAudience(audience),
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return secret, nil
	}, opts...)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, jwt.ErrTokenExpired):
		return tokenError(TokenExpired, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return tokenError(TokenSignatureMismatch, err)
	default:
		return tokenError(TokenMalformed, err)
	}
}

// HashToken returns the hex SHA-256 digest under which a refresh token is stored.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
