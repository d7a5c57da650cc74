package httpapi

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"warden.dev/internal/auth"
	"warden.dev/internal/obs"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

// resolvePrincipal attaches the principal behind the request's access token,
// when there is a valid one. It never rejects.
func (a *API) resolvePrincipal(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := accessToken(r)
		if token == "" {
			next.ServeHTTP(w, r)
			return
		}
		principal, ok := a.auth.Resolve(r.Context(), token)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}
		ctx := auth.ContextWithPrincipal(r.Context(), principal)
		ctx = auth.ContextWithToken(ctx, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAuthenticated rejects anonymous requests with 401.
func (a *API) RequireAuthenticated(next http.Handler) http.Handler {
	return a.guard(next, func(r *http.Request, p *auth.Principal) auth.Decision {
		return a.gate.RequireAuthenticated(r.Context(), p, r.Method, requestPath(r))
	})
}

// RequirePermission checks the caller's role permissions against the
// request method and path.
func (a *API) RequirePermission(next http.Handler) http.Handler {
	return a.guard(next, func(r *http.Request, p *auth.Principal) auth.Decision {
		return a.gate.Authorize(r.Context(), p, r.Method, requestPath(r))
	})
}

// RequireRole admits callers whose role is one of names.
func (a *API) RequireRole(names ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return a.guard(next, func(r *http.Request, p *auth.Principal) auth.Decision {
			return a.gate.CheckRole(r.Context(), p, r.Method, requestPath(r), names...)
		})
	}
}

// RequireAdmin admits callers holding the admin role.
func (a *API) RequireAdmin(next http.Handler) http.Handler {
	return a.guard(next, func(r *http.Request, p *auth.Principal) auth.Decision {
		return a.gate.CheckAdmin(r.Context(), p, r.Method, requestPath(r))
	})
}

func (a *API) guard(next http.Handler, check func(*http.Request, *auth.Principal) auth.Decision) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.admit(w, r, check(r, principalFrom(r))) {
			next.ServeHTTP(w, r)
		}
	})
}

// admit writes the rejection for a denied decision and reports whether the
// request may proceed.
func (a *API) admit(w http.ResponseWriter, r *http.Request, d auth.Decision) bool {
	switch {
	case d.Allowed:
		return true
	case d.Err != nil:
		obs.Logger().Error("authorization check failed",
			zap.String("request_id", RequestIDFromContext(r.Context())),
			zap.Error(d.Err))
		writeError(w, r, http.StatusInternalServerError, "internal error")
	case d.Kind == auth.DenyUnauthenticated:
		writeError(w, r, http.StatusUnauthorized, "Unauthorized")
	default:
		writeError(w, r, http.StatusForbidden, "Forbidden")
	}
	return false
}

// admitOwner lets admins act on any account and everyone else only on
// their own.
func (a *API) admitOwner(w http.ResponseWriter, r *http.Request, ownerID string) bool {
	return a.admit(w, r, a.gate.CheckOwnerOrAdmin(r.Context(), principalFrom(r), r.Method, requestPath(r), ownerID))
}

// admitAdmin is the in-handler form of RequireAdmin.
func (a *API) admitAdmin(w http.ResponseWriter, r *http.Request) bool {
	return a.admit(w, r, a.gate.CheckAdmin(r.Context(), principalFrom(r), r.Method, requestPath(r)))
}

func principalFrom(r *http.Request) *auth.Principal {
	if p, ok := auth.PrincipalFromContext(r.Context()); ok {
		return &p
	}
	return nil
}

// requestPath is the path as sent by the client. Pattern matching decodes
// each segment itself.
func requestPath(r *http.Request) string {
	return r.URL.EscapedPath()
}

// accessToken reads the jwt cookie, falling back to a bearer header.
func accessToken(r *http.Request) string {
	if c, err := r.Cookie(accessCookie); err == nil && c.Value != "" {
		return c.Value
	}
	header := strings.TrimSpace(r.Header.Get(authHeader))
	if len(header) < len(bearer) || !strings.EqualFold(header[:len(bearer)], bearer) {
		return ""
	}
	return strings.TrimSpace(header[len(bearer):])
}
