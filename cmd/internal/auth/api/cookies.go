package api

import (
	"net/http"
	"strings"
	"time"

	"tube/cmd/internal/auth/session"
)

const (
	accessCookieName  = "accessToken"
	refreshCookieName = "refreshToken"
)

// setAuthCookies attaches both tokens as HTTP-only cookies. Lifetimes
// follow the configured token TTLs.
func (h *Handler) setAuthCookies(w http.ResponseWriter, pair session.TokenPair, now time.Time) {
	h.setCookie(w, accessCookieName, pair.AccessToken, now.Add(h.tokens.AccessTTL()))
	h.setCookie(w, refreshCookieName, pair.RefreshToken, now.Add(h.tokens.RefreshTTL()))
}

func (h *Handler) clearAuthCookies(w http.ResponseWriter) {
	h.expireCookie(w, accessCookieName)
	h.expireCookie(w, refreshCookieName)
}

func (h *Handler) setCookie(w http.ResponseWriter, name, value string, exp time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     h.cfg.CookiePath,
		Domain:   h.cfg.CookieDomain,
		Expires:  exp,
		HttpOnly: true,
		Secure:   h.cfg.CookieSecure,
		SameSite: h.cfg.CookieSameSite,
	})
}

func (h *Handler) expireCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     h.cfg.CookiePath,
		Domain:   h.cfg.CookieDomain,
		Expires:  time.Unix(0, 0).UTC(),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cfg.CookieSecure,
		SameSite: h.cfg.CookieSameSite,
	})
}

// bearerToken extracts the access token from the accessToken cookie or the
// Authorization header, cookie first.
func bearerToken(r *http.Request) (string, bool) {
	if c, err := r.Cookie(accessCookieName); err == nil {
		if v := strings.TrimSpace(c.Value); v != "" {
			return v, true
		}
	}
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	if rest, ok := strings.CutPrefix(auth, "Bearer "); ok {
		if v := strings.TrimSpace(rest); v != "" {
			return v, true
		}
	}
	return "", false
}

// refreshTokenFrom reads the refresh token from the cookie carrier or,
// failing that, from the request body.
func refreshTokenFrom(r *http.Request, body refreshRequest) (string, bool) {
	if c, err := r.Cookie(refreshCookieName); err == nil {
		if v := strings.TrimSpace(c.Value); v != "" {
			return v, true
		}
	}
	if v := strings.TrimSpace(body.RefreshToken); v != "" {
		return v, true
	}
	return "", false
}
