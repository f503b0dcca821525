package api

import (
	"context"
	"net/http"

	"tube/cmd/identity"
)

type contextKey struct{ name string }

var identityKey = contextKey{"identity"}

// IdentityFromContext returns the authenticated user attached by
// requireAuth, if any.
func IdentityFromContext(ctx context.Context) (identity.User, bool) {
	u, ok := ctx.Value(identityKey).(identity.User)
	return u, ok
}

// requireAuth resolves the request's bearer credential to a stored user.
//
// The token may arrive in the accessToken cookie or the Authorization
// header. Verification failure and a vanished account are both 401; the
// caller learns nothing about which.
func (h *Handler) requireAuth(w http.ResponseWriter, r *http.Request) (identity.User, bool) {
	raw, ok := bearerToken(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return identity.User{}, false
	}

	claims, err := h.tokens.VerifyAccess(raw)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return identity.User{}, false
	}

	u, err := h.svc.CurrentUser(r.Context(), claims.Subject)
	if err != nil {
		if identity.IsNotFound(err) {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return identity.User{}, false
		}
		h.log.Error("auth.require.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return identity.User{}, false
	}

	*r = *r.WithContext(context.WithValue(r.Context(), identityKey, u))
	return u, true
}
