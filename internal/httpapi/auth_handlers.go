package httpapi

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"warden.dev/internal/audit"
	"warden.dev/internal/auth"
	"warden.dev/internal/obs"
)

// credentialsRequest accepts either email or username as the login name.
type credentialsRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

func (c credentialsRequest) login() string {
	if s := strings.TrimSpace(c.Email); s != "" {
		return s
	}
	return strings.TrimSpace(c.Username)
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type principalView struct {
	ID     string `json:"id"`
	Email  string `json:"email"`
	RoleID string `json:"roleId"`
	Role   string `json:"role,omitempty"`
}

func clientMeta(r *http.Request) auth.ClientMeta {
	return auth.ClientMeta{UserAgent: r.UserAgent(), IPAddress: clientIP(r)}
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	login := req.login()
	if login == "" || req.Password == "" {
		writeError(w, r, http.StatusBadRequest, "Email and password are required")
		return
	}
	pair, user, err := a.auth.Login(r.Context(), auth.LocalCredentials{Email: login, Password: req.Password}, clientMeta(r))
	if err != nil {
		handleError(w, r, err)
		return
	}
	a.cookies.setTokens(w, pair)
	ctx := auth.ContextWithPrincipal(r.Context(), auth.Principal{User: user})
	_ = audit.LogEvent(ctx, "auth.login", map[string]any{"strategy": auth.StrategyLocal})
	writeMessage(w, http.StatusOK, "User logged in")
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	token := cookieValue(r, refreshCookie)
	if token == "" && r.ContentLength != 0 {
		var req refreshRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		token = strings.TrimSpace(req.RefreshToken)
	}
	if token == "" {
		handleError(w, r, auth.ErrRefreshTokenNotFound)
		return
	}
	pair, user, err := a.auth.Refresh(r.Context(), token, clientMeta(r))
	if err != nil {
		if errors.Is(err, auth.ErrRefreshTokenNotFound) || errors.Is(err, auth.ErrUserNotFound) {
			a.cookies.clearTokens(w)
		}
		handleError(w, r, err)
		return
	}
	a.cookies.setTokens(w, pair)
	ctx := auth.ContextWithPrincipal(r.Context(), auth.Principal{User: user})
	_ = audit.LogEvent(ctx, "auth.refresh", nil)
	writeMessage(w, http.StatusOK, "Tokens refreshed successfully")
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.PrincipalFromContext(r.Context())
	refresh := cookieValue(r, refreshCookie)
	if !ok && refresh == "" {
		writeError(w, r, http.StatusUnauthorized, "User not found")
		return
	}
	if err := a.auth.Logout(r.Context(), principal, refresh); err != nil {
		handleError(w, r, err)
		return
	}
	a.cookies.clearTokens(w)
	_ = audit.LogEvent(r.Context(), "auth.logout", nil)
	writeMessage(w, http.StatusOK, "User logged out")
}

func (a *API) handleLoginStatus(w http.ResponseWriter, r *http.Request) {
	p, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{"loggedIn": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"loggedIn": true,
		"user": principalView{
			ID:     p.User.ID,
			Email:  p.User.Email,
			RoleID: p.User.RoleID,
			Role:   p.RoleName(),
		},
	})
}

func (a *API) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	login := req.login()
	if login == "" || req.Password == "" {
		writeError(w, r, http.StatusBadRequest, "Email and password are required")
		return
	}
	user, err := a.auth.Signup(r.Context(), login, req.Password)
	if err != nil {
		handleError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "user.signup", map[string]any{"user_id": user.ID})
	writeJSON(w, http.StatusCreated, map[string]any{
		"message": "User successfully created",
		"user":    user,
	})
}

func (a *API) handleGoogleLogin(w http.ResponseWriter, r *http.Request) {
	if a.google == nil || !a.auth.SupportsStrategy(auth.StrategyGoogle) {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	state := uuid.NewString()
	a.cookies.setState(w, state)
	http.Redirect(w, r, a.google.AuthCodeURL(state), http.StatusFound)
}

func (a *API) handleGoogleCallback(w http.ResponseWriter, r *http.Request) {
	if a.google == nil || !a.auth.SupportsStrategy(auth.StrategyGoogle) {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	q := r.URL.Query()
	expected := cookieValue(r, stateCookie)
	a.cookies.clear(w, stateCookie)
	if expected == "" || subtle.ConstantTimeCompare([]byte(expected), []byte(q.Get("state"))) != 1 {
		writeError(w, r, http.StatusBadRequest, "invalid oauth state")
		return
	}
	if e := q.Get("error"); e != "" {
		writeError(w, r, http.StatusUnauthorized, "Unauthorized")
		return
	}
	profile, err := a.google.Exchange(r.Context(), q.Get("code"))
	if err != nil {
		if errors.Is(err, auth.ErrInvalidInput) {
			writeError(w, r, http.StatusBadRequest, publicMessage(err))
			return
		}
		obs.Logger().Warn("google exchange failed",
			zap.String("request_id", RequestIDFromContext(r.Context())),
			zap.Error(err))
		writeError(w, r, http.StatusUnauthorized, "Unauthorized")
		return
	}
	pair, user, err := a.auth.FederatedLogin(r.Context(), profile, clientMeta(r))
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			writeError(w, r, http.StatusNotFound, "User not found")
			return
		}
		handleError(w, r, err)
		return
	}
	a.cookies.setTokens(w, pair)
	ctx := auth.ContextWithPrincipal(r.Context(), auth.Principal{User: user})
	_ = audit.LogEvent(ctx, "auth.login", map[string]any{"strategy": auth.StrategyGoogle})
	writeMessage(w, http.StatusOK, "User logged in")
}
