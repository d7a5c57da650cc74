// Package app assembles the services shared by the API server and wardenctl.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"warden.dev/internal/auth"
	"warden.dev/internal/config"
	"warden.dev/internal/httpapi"
	"warden.dev/internal/migrate"
	"warden.dev/internal/oauth/google"
	"warden.dev/internal/obs"
	"warden.dev/internal/ratelimit"
	"warden.dev/internal/seed"
	"warden.dev/internal/store/memory"
	"warden.dev/internal/store/pg"
	"warden.dev/migrations"
)

type App struct {
	Config  config.Config
	Store   auth.Store
	DB      *sql.DB
	Redis   *redis.Client
	Tokens  *auth.TokenService
	Auth    *auth.Service
	RBAC    *auth.RBACService
	Google  *google.Provider
	Limiter ratelimit.Limiter

	closers []func() error
}

// New builds the object graph described by cfg. Google discovery is
// performed only when federated login is enabled.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	a := &App{Config: cfg}
	if err := a.openStore(); err != nil {
		return nil, err
	}

	tokens, err := auth.NewTokenService(a.Store, a.Store,
		auth.WithSecrets(cfg.JWTSecret, cfg.RefreshTokenSecret),
		auth.WithAccessTTL(cfg.AccessTokenTTL),
		auth.WithRefreshTTL(cfg.RefreshTokenTTL),
		auth.WithIssuer(cfg.JWTIssuer),
	)
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("token service: %w", err)
	}
	a.Tokens = tokens

	hasher := auth.NewBcryptHasher(cfg.BcryptCost)
	verifiers := []auth.CredentialVerifier{auth.NewLocalVerifier(a.Store, hasher)}
	if cfg.UseGoogleAuth {
		provider, err := google.New(ctx, google.Config{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  cfg.GoogleCallbackURL,
		})
		if err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("google provider: %w", err)
		}
		a.Google = provider
		verifiers = append(verifiers, auth.NewFederatedVerifier(auth.StrategyGoogle, a.Store))
	}
	registry, err := auth.NewRegistry(verifiers...)
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	gate := auth.NewGate(cfg.RBAC, auth.NewResolver(tokens, a.Store, a.Store), auth.NewMatcher(a.Store))
	a.Auth, err = auth.NewService(a.Store, tokens,
		auth.WithVerifiers(registry),
		auth.WithPasswordHasher(hasher),
		auth.WithGate(gate),
	)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.RBAC, err = auth.NewRBACService(a.Store, hasher, tokens)
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	if cfg.RateLimiter {
		if err := a.buildLimiter(); err != nil {
			_ = a.Close()
			return nil, err
		}
	}
	return a, nil
}

func (a *App) openStore() error {
	if a.Config.UsesMemoryStore() {
		obs.Logger().Warn("DATABASE_URL not set, using in-memory store")
		a.Store = memory.New()
		return nil
	}
	st, err := pg.Open(a.Config.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	a.Store = st
	a.DB = st.DB()
	a.closers = append(a.closers, st.Close)
	return nil
}

// buildLimiter prefers Redis so that replicas share budgets. The fixed
// window holds one burst and lasts as long as the rate needs to refill it.
func (a *App) buildLimiter() error {
	cfg := a.Config
	if cfg.RedisURL == "" {
		a.Limiter = ratelimit.NewMemoryLimiter(cfg.RateLimitPerSecond, cfg.RateLimitBurst, 10*time.Minute)
		return nil
	}
	client, err := ratelimit.ParseRedisURL(cfg.RedisURL)
	if err != nil {
		return err
	}
	a.Redis = client
	a.closers = append(a.closers, client.Close)
	window := time.Duration(math.Ceil(float64(cfg.RateLimitBurst) / cfg.RateLimitPerSecond * float64(time.Second)))
	a.Limiter = ratelimit.NewRedisLimiter(client, "warden:rl:", cfg.RateLimitBurst, window)
	return nil
}

// Migrate applies pending migrations. It is a no-op for the in-memory store.
func (a *App) Migrate(ctx context.Context) ([]string, error) {
	if a.DB == nil {
		return nil, nil
	}
	return migrate.NewManager(a.DB, migrations.FS).Up(ctx)
}

// Migrator exposes the migration manager, or nil without a database.
func (a *App) Migrator() *migrate.Manager {
	if a.DB == nil {
		return nil
	}
	return migrate.NewManager(a.DB, migrations.FS)
}

// Seed loads the embedded default data.
func (a *App) Seed(ctx context.Context) (seed.Report, error) {
	data, err := seed.Default()
	if err != nil {
		return seed.Report{}, err
	}
	return seed.Seed(ctx, a.RBAC, data)
}

func (a *App) ReadyProbe() httpapi.ReadyProbe {
	probe := httpapi.ReadyProbe{DB: a.DB}
	if a.Redis != nil {
		probe.Redis = a.Redis
	}
	return probe
}

// HTTP builds the HTTP API over the assembled services.
func (a *App) HTTP(version string) (*httpapi.API, error) {
	deps := httpapi.Deps{
		Auth:           a.Auth,
		RBAC:           a.RBAC,
		Ready:          a.ReadyProbe(),
		Limiter:        a.Limiter,
		CORSOrigins:    a.Config.CORSOrigins,
		TrustedProxies: a.Config.TrustedProxies,
		CookieSecure:   a.Config.CookieSecure,
		Version:        version,
	}
	if a.Google != nil {
		deps.Google = a.Google
	}
	return httpapi.New(deps)
}

// Close releases the database and Redis connections.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if err := errors.Join(errs...); err != nil {
		obs.Logger().Warn("close resources", zap.Error(err))
		return err
	}
	return nil
}
