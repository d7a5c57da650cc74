package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"go.uber.org/zap"

	"warden.dev/internal/obs"
)

// Service implements login, refresh, logout and signup on top of the
// verifier registry and the token service.
type Service struct {
	store    Store
	tokens   *TokenService
	registry *Registry
	hasher   PasswordHasher
	gate     *Gate
	now      func() time.Time
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithVerifiers replaces the default local-only registry.
func WithVerifiers(r *Registry) ServiceOption {
	return func(s *Service) error {
		if r == nil {
			return errors.New("auth: registry is nil")
		}
		s.registry = r
		return nil
	}
}

// WithPasswordHasher overrides the bcrypt hasher.
func WithPasswordHasher(h PasswordHasher) ServiceOption {
	return func(s *Service) error {
		if h != nil {
			s.hasher = h
		}
		return nil
	}
}

// WithGate sets the RBAC gate used by Authorize and Resolve.
func WithGate(g *Gate) ServiceOption {
	return func(s *Service) error {
		if g != nil {
			s.gate = g
		}
		return nil
	}
}

// WithServiceClock overrides time source for lastLogin stamps.
func WithServiceClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// NewService constructs Service with optional configuration.
func NewService(store Store, tokens *TokenService, opts ...ServiceOption) (*Service, error) {
	if store == nil || tokens == nil {
		return nil, errors.New("auth: store and token service are required")
	}
	s := &Service{
		store:  store,
		tokens: tokens,
		hasher: NewBcryptHasher(DefaultBcryptCost),
		now:    time.Now,
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	if s.registry == nil {
		reg, err := NewRegistry(NewLocalVerifier(store, s.hasher))
		if err != nil {
			return nil, err
		}
		s.registry = reg
	}
	if s.gate == nil {
		s.gate = NewGate(false, NewResolver(tokens, store, store), NewMatcher(store))
	}
	return s, nil
}

// Tokens exposes the token service (TTLs for cookies).
func (s *Service) Tokens() *TokenService { return s.tokens }

// Gate exposes the RBAC gate.
func (s *Service) Gate() *Gate { return s.gate }

// SupportsStrategy reports whether a credential strategy is enabled.
func (s *Service) SupportsStrategy(name string) bool { return s.registry.Supports(name) }

// Login verifies credentials and issues a token pair. Every verifier
// rejection is reported as ErrInvalidCredentials.
func (s *Service) Login(ctx context.Context, creds Credentials, meta ClientMeta) (TokenPair, User, error) {
	if creds == nil {
		return TokenPair{}, User{}, fmt.Errorf("%w: credentials are required", ErrInvalidInput)
	}
	strategy := creds.Strategy()
	user, err := s.registry.Verify(ctx, creds)
	if err != nil {
		return TokenPair{}, User{}, s.loginFailed(strategy, err)
	}
	return s.completeLogin(ctx, strategy, user, meta)
}

// FederatedLogin verifies a provider profile. Unknown identities are linked
// to an existing account with the same email, or a new account is created
// with the default role.
func (s *Service) FederatedLogin(ctx context.Context, profile FederatedProfile, meta ClientMeta) (TokenPair, User, error) {
	strategy := profile.Strategy()
	user, err := s.registry.Verify(ctx, profile)
	if reason, ok := FailureReasonOf(err); ok && reason == FailureNotFound {
		user, err = s.linkOrCreate(ctx, profile)
	}
	if err != nil {
		return TokenPair{}, User{}, s.loginFailed(strategy, err)
	}
	return s.completeLogin(ctx, strategy, user, meta)
}

// Refresh rotates a refresh token.
func (s *Service) Refresh(ctx context.Context, refreshToken string, meta ClientMeta) (TokenPair, User, error) {
	pair, user, err := s.tokens.Rotate(ctx, refreshToken, meta)
	if err != nil {
		obs.RecordRotation("rejected")
		return TokenPair{}, User{}, err
	}
	obs.RecordRotation("success")
	return pair, user, nil
}

// Logout revokes the presented refresh token, or all of the principal's
// refresh tokens when none was presented.
func (s *Service) Logout(ctx context.Context, principal Principal, refreshToken string) error {
	if strings.TrimSpace(refreshToken) != "" {
		return s.tokens.Revoke(ctx, refreshToken)
	}
	return s.tokens.RevokeAll(ctx, principal.User.ID)
}

// Resolve returns the principal for an access token.
func (s *Service) Resolve(ctx context.Context, accessToken string) (Principal, bool) {
	return s.gate.Authenticate(ctx, accessToken)
}

// Authorize applies the permission check for method and path.
func (s *Service) Authorize(ctx context.Context, principal *Principal, method, path string) Decision {
	return s.gate.Authorize(ctx, principal, method, path)
}

// Signup registers an active local user with the default role.
func (s *Service) Signup(ctx context.Context, email, password string) (User, error) {
	email, err := validateEmail(email)
	if err != nil {
		return User{}, err
	}
	if password == "" {
		return User{}, fmt.Errorf("%w: email and password are required", ErrInvalidInput)
	}
	if _, err := s.store.GetUserByEmail(ctx, email); err == nil {
		return User{}, fmt.Errorf("%w: user already exists", ErrConflict)
	} else if !errors.Is(err, ErrNotFound) {
		return User{}, err
	}
	role, err := s.defaultRole(ctx)
	if err != nil {
		return User{}, err
	}
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return User{}, err
	}
	user, err := s.store.CreateUser(ctx, User{
		Email:        email,
		PasswordHash: hash,
		RoleID:       role.ID,
		IsActive:     true,
	})
	if err != nil {
		if errors.Is(err, ErrConflict) {
			return User{}, fmt.Errorf("%w: user already exists", ErrConflict)
		}
		return User{}, err
	}
	return user, nil
}

func (s *Service) completeLogin(ctx context.Context, strategy string, user User, meta ClientMeta) (TokenPair, User, error) {
	pair, err := s.tokens.IssuePair(ctx, user, meta)
	if err != nil {
		return TokenPair{}, User{}, err
	}
	now := s.now().UTC()
	if updated, err := s.store.UpdateUser(ctx, user.ID, UserPatch{LastLogin: &now}); err != nil {
		obs.Logger().Warn("update last login", zap.String("user_id", user.ID), zap.Error(err))
	} else {
		user = updated
	}
	obs.RecordLogin(strategy, "success")
	obs.Logger().Info("user logged in", zap.String("user_id", user.ID), zap.String("strategy", strategy))
	return pair, user, nil
}

func (s *Service) loginFailed(strategy string, err error) error {
	if errors.Is(err, ErrInvalidCredentials) {
		reason, _ := FailureReasonOf(err)
		obs.RecordLogin(strategy, "rejected")
		obs.Logger().Info("login rejected", zap.String("strategy", strategy), zap.String("reason", string(reason)))
		return ErrInvalidCredentials
	}
	obs.RecordLogin(strategy, "error")
	return err
}

func (s *Service) linkOrCreate(ctx context.Context, profile FederatedProfile) (User, error) {
	federatedID := profile.FederatedID()
	if federatedID == "" {
		return User{}, &AuthFailure{Reason: FailureNotFound}
	}
	email, err := validateEmail(profile.Email)
	if err != nil {
		return User{}, fmt.Errorf("%w: provider profile has no usable email", ErrInvalidInput)
	}
	existing, err := s.store.GetUserByEmail(ctx, email)
	switch {
	case err == nil:
		if !existing.IsActive || (existing.FederatedID != "" && existing.FederatedID != federatedID) {
			return User{}, &AuthFailure{Reason: FailureBadCredentials}
		}
		return s.store.UpdateUser(ctx, existing.ID, UserPatch{FederatedID: &federatedID})
	case !errors.Is(err, ErrNotFound):
		return User{}, err
	}
	role, err := s.defaultRole(ctx)
	if err != nil {
		return User{}, err
	}
	return s.store.CreateUser(ctx, User{
		Email:       email,
		FederatedID: federatedID,
		RoleID:      role.ID,
		IsActive:    true,
	})
}

func (s *Service) defaultRole(ctx context.Context) (Role, error) {
	role, err := s.store.FindDefaultRole(ctx)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Role{}, fmt.Errorf("%w: default role not found", ErrInvalidInput)
		}
		return Role{}, err
	}
	return role, nil
}

func validateEmail(email string) (string, error) {
	email = normalizeEmail(email)
	if email == "" {
		return "", fmt.Errorf("%w: email is required", ErrInvalidInput)
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", fmt.Errorf("%w: invalid email %q", ErrInvalidInput, email)
	}
	return email, nil
}
