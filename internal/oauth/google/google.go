// Package google implements Google sign-in over OpenID Connect and turns the
// verified ID token into an auth.FederatedProfile.
package google

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"warden.dev/internal/auth"
)

// Issuer is Google's OIDC discovery issuer.
const Issuer = "https://accounts.google.com"

var defaultScopes = []string{oidc.ScopeOpenID, "profile", "email"}

type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	IssuerURL    string
	Scopes       []string
}

// Validate checks the settings required for the authorization code flow.
func (c Config) Validate() error {
	if c.ClientID == "" {
		return errors.New("client_id is required")
	}
	if c.ClientSecret == "" {
		return errors.New("client_secret is required")
	}
	if c.RedirectURL == "" {
		return errors.New("redirect_url is required")
	}
	return nil
}

// Provider runs the authorization code flow against Google.
type Provider struct {
	oauth2   *oauth2.Config
	verifier *oidc.IDTokenVerifier
}

// New discovers the provider metadata and builds a Provider.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	issuer := cfg.IssuerURL
	if issuer == "" {
		issuer = Issuer
	}
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("discover oidc provider: %w", err)
	}
	return NewWithVerifier(cfg, provider.Endpoint(), provider.Verifier(&oidc.Config{ClientID: cfg.ClientID})), nil
}

// NewWithVerifier builds a Provider from an explicit endpoint and ID token verifier.
func NewWithVerifier(cfg Config, endpoint oauth2.Endpoint, verifier *oidc.IDTokenVerifier) *Provider {
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = defaultScopes
	}
	return &Provider{
		oauth2: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     endpoint,
			Scopes:       scopes,
		},
		verifier: verifier,
	}
}

// AuthCodeURL returns the consent page URL carrying state.
func (p *Provider) AuthCodeURL(state string) string {
	return p.oauth2.AuthCodeURL(state)
}

// Exchange trades an authorization code for a verified profile.
func (p *Provider) Exchange(ctx context.Context, code string) (auth.FederatedProfile, error) {
	if strings.TrimSpace(code) == "" {
		return auth.FederatedProfile{}, fmt.Errorf("%w: missing authorization code", auth.ErrInvalidInput)
	}
	token, err := p.oauth2.Exchange(ctx, code)
	if err != nil {
		return auth.FederatedProfile{}, fmt.Errorf("exchange code: %w", err)
	}
	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return auth.FederatedProfile{}, errors.New("missing id_token in token response")
	}
	idToken, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return auth.FederatedProfile{}, fmt.Errorf("verify id token: %w", err)
	}
	var c claims
	if err := idToken.Claims(&c); err != nil {
		return auth.FederatedProfile{}, fmt.Errorf("decode id token claims: %w", err)
	}
	return profileFromClaims(idToken.Subject, c)
}

type claims struct {
	Email         string `json:"email"`
	EmailVerified *bool  `json:"email_verified"`
	Name          string `json:"name"`
}

func profileFromClaims(subject string, c claims) (auth.FederatedProfile, error) {
	if subject == "" {
		return auth.FederatedProfile{}, errors.New("missing subject in id token")
	}
	email := strings.ToLower(strings.TrimSpace(c.Email))
	if email == "" {
		return auth.FederatedProfile{}, errors.New("missing email in id token")
	}
	if c.EmailVerified != nil && !*c.EmailVerified {
		return auth.FederatedProfile{}, fmt.Errorf("email %s is not verified", email)
	}
	return auth.FederatedProfile{
		Provider: auth.StrategyGoogle,
		Subject:  subject,
		Email:    email,
		Name:     c.Name,
	}, nil
}
