package httpapi

import (
	"net/http"
	"time"

	"warden.dev/internal/auth"
)

const (
	accessCookie  = "jwt"
	refreshCookie = "refreshToken"
	stateCookie   = "oauth_state"

	stateTTL = 10 * time.Minute
)

type cookieJar struct {
	secure     bool
	accessTTL  time.Duration
	refreshTTL time.Duration
}

func (j cookieJar) cookie(name, value string, ttl time.Duration) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   int(ttl / time.Second),
		Expires:  time.Now().Add(ttl),
		HttpOnly: true,
		Secure:   j.secure,
		SameSite: http.SameSiteLaxMode,
	}
}

func (j cookieJar) setTokens(w http.ResponseWriter, pair auth.TokenPair) {
	http.SetCookie(w, j.cookie(accessCookie, pair.AccessToken, j.accessTTL))
	http.SetCookie(w, j.cookie(refreshCookie, pair.RefreshToken, j.refreshTTL))
}

func (j cookieJar) clear(w http.ResponseWriter, names ...string) {
	for _, name := range names {
		c := j.cookie(name, "", 0)
		c.MaxAge = -1
		c.Expires = time.Unix(0, 0)
		http.SetCookie(w, c)
	}
}

func (j cookieJar) clearTokens(w http.ResponseWriter) {
	j.clear(w, accessCookie, refreshCookie)
}

func (j cookieJar) setState(w http.ResponseWriter, state string) {
	http.SetCookie(w, j.cookie(stateCookie, state, stateTTL))
}

func cookieValue(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}
