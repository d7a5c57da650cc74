package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Strategy names.
const (
	StrategyLocal  = "local"
	StrategyGoogle = "google"
)

// Credentials is the login material of one strategy.
type Credentials interface {
	Strategy() string
}

// LocalCredentials is an email + password login.
type LocalCredentials struct {
	Email    string
	Password string
}

func (LocalCredentials) Strategy() string { return StrategyLocal }

// FederatedProfile is an identity asserted by an external provider.
type FederatedProfile struct {
	Provider string
	Subject  string
	Email    string
	Name     string
}

func (p FederatedProfile) Strategy() string {
	if p.Provider == "" {
		return StrategyGoogle
	}
	return p.Provider
}

// FederatedID is the value stored on the user for this profile.
func (p FederatedProfile) FederatedID() string {
	return strings.TrimSpace(p.Subject)
}

// CredentialVerifier turns credentials of one strategy into a user.
type CredentialVerifier interface {
	Strategy() string
	Verify(ctx context.Context, creds Credentials) (User, error)
}

// LocalVerifier checks email + password against stored bcrypt digests.
type LocalVerifier struct {
	users  UserStore
	hasher PasswordHasher
}

// NewLocalVerifier constructs the local strategy.
func NewLocalVerifier(users UserStore, hasher PasswordHasher) *LocalVerifier {
	return &LocalVerifier{users: users, hasher: hasher}
}

func (v *LocalVerifier) Strategy() string { return StrategyLocal }

func (v *LocalVerifier) Verify(ctx context.Context, creds Credentials) (User, error) {
	local, ok := creds.(LocalCredentials)
	if !ok {
		return User{}, fmt.Errorf("%w: local strategy expects email and password", ErrInvalidInput)
	}
	email := normalizeEmail(local.Email)
	if email == "" {
		return User{}, &AuthFailure{Reason: FailureNotFound}
	}
	user, err := v.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return User{}, &AuthFailure{Reason: FailureNotFound}
		}
		return User{}, err
	}
	if !user.IsActive {
		return User{}, &AuthFailure{Reason: FailureNotFound}
	}
	if !user.HasPassword() || !v.hasher.Verify(local.Password, user.PasswordHash) {
		return User{}, &AuthFailure{Reason: FailureBadCredentials}
	}
	return user, nil
}

// FederatedVerifier resolves users already linked to a provider identity.
// Linking and account creation happen in Service.FederatedLogin.
type FederatedVerifier struct {
	provider string
	users    UserStore
}

// NewFederatedVerifier constructs a federated strategy for provider.
func NewFederatedVerifier(provider string, users UserStore) *FederatedVerifier {
	return &FederatedVerifier{provider: provider, users: users}
}

func (v *FederatedVerifier) Strategy() string { return v.provider }

func (v *FederatedVerifier) Verify(ctx context.Context, creds Credentials) (User, error) {
	profile, ok := creds.(FederatedProfile)
	if !ok {
		return User{}, fmt.Errorf("%w: %s strategy expects a provider profile", ErrInvalidInput, v.provider)
	}
	id := profile.FederatedID()
	if id == "" {
		return User{}, &AuthFailure{Reason: FailureNotFound}
	}
	user, err := v.users.GetUserByFederatedID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return User{}, &AuthFailure{Reason: FailureNotFound}
		}
		return User{}, err
	}
	if !user.IsActive {
		return User{}, &AuthFailure{Reason: FailureNotFound}
	}
	return user, nil
}

// Registry dispatches credentials to the verifier of their strategy.
// It is built once at startup and never mutated.
type Registry struct {
	verifiers map[string]CredentialVerifier
}

// NewRegistry builds a registry. Duplicate strategies are rejected.
func NewRegistry(verifiers ...CredentialVerifier) (*Registry, error) {
	m := make(map[string]CredentialVerifier, len(verifiers))
	for _, v := range verifiers {
		if v == nil {
			continue
		}
		name := v.Strategy()
		if _, dup := m[name]; dup {
			return nil, fmt.Errorf("auth: strategy %q registered twice", name)
		}
		m[name] = v
	}
	return &Registry{verifiers: m}, nil
}

// Supports reports whether a strategy is enabled.
func (r *Registry) Supports(strategy string) bool {
	_, ok := r.verifiers[strategy]
	return ok
}

// Verify selects the verifier by the credentials' strategy.
func (r *Registry) Verify(ctx context.Context, creds Credentials) (User, error) {
	if creds == nil {
		return User{}, fmt.Errorf("%w: credentials are required", ErrInvalidInput)
	}
	v, ok := r.verifiers[creds.Strategy()]
	if !ok {
		return User{}, fmt.Errorf("%w: strategy %q is not enabled", ErrInvalidInput, creds.Strategy())
	}
	return v.Verify(ctx, creds)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
