package httpapi

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	"warden.dev/internal/auth"
	"warden.dev/internal/obs"
	"warden.dev/internal/ratelimit"
)

const serviceName = "warden-api"

// ReadyProbe checks the backing services. Nil members are skipped.
type ReadyProbe struct {
	DB    *sql.DB
	Redis redis.UniversalClient
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB != nil {
		if err := rp.DB.PingContext(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}
	if rp.Redis != nil {
		if err := rp.Redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return nil
}

// FederatedProvider runs an external sign-in flow.
type FederatedProvider interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (auth.FederatedProfile, error)
}

// Deps wires the HTTP layer. Google and Limiter are optional. X-Forwarded-For
// is believed only from TrustedProxies.
type Deps struct {
	Auth           *auth.Service
	RBAC           *auth.RBACService
	Ready          ReadyProbe
	Google         FederatedProvider
	Limiter        ratelimit.Limiter
	CORSOrigins    []string
	TrustedProxies []string
	CookieSecure   bool
	Version        string
}

// API is the HTTP layer.
type API struct {
	auth    *auth.Service
	rbac    *auth.RBACService
	gate    *auth.Gate
	ready   ReadyProbe
	google  FederatedProvider
	limiter ratelimit.Limiter
	cookies cookieJar
	origins []string
	proxies []netip.Prefix
	version string
	router  chi.Router
}

func New(d Deps) (*API, error) {
	if d.Auth == nil {
		return nil, errors.New("auth service is required")
	}
	if d.RBAC == nil {
		return nil, errors.New("rbac service is required")
	}
	proxies, err := ParseTrustedProxies(d.TrustedProxies)
	if err != nil {
		return nil, err
	}
	a := &API{
		auth:    d.Auth,
		rbac:    d.RBAC,
		gate:    d.Auth.Gate(),
		ready:   d.Ready,
		google:  d.Google,
		limiter: d.Limiter,
		cookies: cookieJar{
			secure:     d.CookieSecure,
			accessTTL:  d.Auth.Tokens().AccessTTL(),
			refreshTTL: d.Auth.Tokens().RefreshTTL(),
		},
		origins: d.CORSOrigins,
		proxies: proxies,
		version: d.Version,
	}
	a.router = a.routes()
	return a, nil
}

// Handler returns the root handler with the full middleware chain.
func (a *API) Handler() http.Handler {
	return a.router
}

func (a *API) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(RequestID, ClientIP(a.proxies), obs.Instrument, LoggingJSON, SecurityHeaders, CORS(a.origins))
	if a.limiter != nil {
		r.Use(RateLimit(a.limiter))
	}
	r.Use(MaxBodyBytes(1<<20), a.resolvePrincipal)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "resource not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Get("/healthz", a.Healthz)
	r.Get("/readyz", a.Ready)
	r.Get("/v1/info", a.Info)
	r.Handle("/metrics", obs.Handler())

	r.Route("/api/auth", func(r chi.Router) {
		r.Post("/login", a.handleLogin)
		r.Post("/refresh-token", a.handleRefresh)
		r.Get("/loginstatus", a.handleLoginStatus)
		r.Get("/logout", a.handleLogout)
		r.Get("/google/login", a.handleGoogleLogin)
		r.Get("/google/callback", a.handleGoogleCallback)
	})

	r.Route("/api/user", func(r chi.Router) {
		r.Post("/signup", a.handleSignup)
		r.Group(func(r chi.Router) {
			r.Use(a.RequirePermission)
			r.Get("/", a.handleListUsers)
			r.Post("/", a.handleCreateUser)
			r.Get("/name", a.handleGetUserByEmail)
			r.Get("/{id}", a.handleGetUser)
			r.Put("/{id}", a.handleUpdateUser)
			r.Delete("/{id}", a.handleDeleteUser)
		})
	})

	r.Route("/api/roles", func(r chi.Router) {
		r.Use(a.RequirePermission)
		r.Post("/", a.handleCreateRole)
		r.Get("/", a.handleListRoles)
		r.Get("/name/{name}", a.handleGetRoleByName)
		r.Get("/id/{name}", a.handleGetRoleIDByName)
		r.Get("/{id}", a.handleGetRole)
		r.Put("/{id}", a.handleUpdateRole)
		r.Delete("/{id}", a.handleDeleteRole)
	})

	r.Route("/api/permissions", func(r chi.Router) {
		r.Use(a.RequirePermission)
		r.Post("/", a.handleCreatePermission)
		r.Get("/", a.handleListPermissions)
		r.Get("/params", a.handleFindPermission)
		r.Get("/role/{roleId}", a.handlePermissionsForRole)
		r.Get("/{id}", a.handleGetPermission)
		r.Put("/{id}", a.handleUpdatePermission)
		r.Delete("/{id}", a.handleDeletePermission)
		r.Post("/{id}/roles", a.handleAddPermissionRole)
		r.Delete("/{id}/roles/{roleId}", a.handleRemovePermissionRole)
	})

	r.Route("/api/admin", func(r chi.Router) {
		r.Use(a.RequireAdmin)
		r.Get("/roles/default", a.handleDefaultRoleID)
		r.Get("/roles/admin", a.handleAdminRoleID)
	})

	return r
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.ready.Check(r.Context()); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    serviceName,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
		"rbac":    a.gate.Enabled(),
		"google":  a.google != nil,
	})
}
