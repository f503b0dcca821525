// Package api exposes the user-account HTTP surface under /api/v1/users.
//
// Handlers do transport work only: decode requests, run the session
// service, and encode the response envelopes. Every success is
// {status, data, message}; every failure is {status, message}.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"tube/cmd/identity"
	"tube/cmd/internal/assets"
	"tube/cmd/internal/auth/session"
	"tube/cmd/internal/auth/token"
)

// Handler wires the account endpoints to the session service and the
// asset store.
type Handler struct {
	log     *slog.Logger
	cfg     Config
	svc     *session.Service
	tokens  *token.Manager
	uploads assets.Store
}

// NewHandler constructs a Handler. All dependencies are required.
func NewHandler(log *slog.Logger, cfg Config, svc *session.Service, tokens *token.Manager, uploads assets.Store) (*Handler, error) {
	if log == nil {
		log = slog.Default()
	}
	if svc == nil {
		return nil, errors.New("api: nil session service")
	}
	if tokens == nil {
		return nil, errors.New("api: nil token manager")
	}
	if uploads == nil {
		return nil, errors.New("api: nil asset store")
	}
	return &Handler{log: log, cfg: cfg, svc: svc, tokens: tokens, uploads: uploads}, nil
}

// Register wires the account routes onto the provided mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("/api/v1/users/register", h.handleRegister)
	mux.HandleFunc("/api/v1/users/login", h.handleLogin)
	mux.HandleFunc("/api/v1/users/logout", h.handleLogout)
	mux.HandleFunc("/api/v1/users/refresh", h.handleRefresh)
	mux.HandleFunc("/api/v1/users/password", h.handleChangePassword)
	mux.HandleFunc("/api/v1/users/profile", h.handleUpdateProfile)
	mux.HandleFunc("/api/v1/users/avatar", h.handleUpdateAvatar)
	mux.HandleFunc("/api/v1/users/cover", h.handleUpdateCover)
	mux.HandleFunc("/api/v1/users/me", h.handleMe)
}

// ---- handlers ----

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	if err := r.ParseMultipartForm(h.cfg.MaxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	ctx := r.Context()
	now := time.Now().UTC()

	// Reject incomplete forms before touching the asset store; an upload
	// for a request that can never register is a wasted write.
	for _, field := range []string{"username", "email", "fullname", "password"} {
		if strings.TrimSpace(r.FormValue(field)) == "" {
			writeError(w, http.StatusBadRequest, "all fields are required")
			return
		}
	}

	// Avatar is mandatory; its upload must succeed before the record is
	// created so a stored account never points at a missing asset.
	avatarPath, err := saveFormFile(r, "avatar", h.cfg.MaxUploadBytes)
	if err != nil {
		if errors.Is(err, errNoFile) {
			writeError(w, http.StatusBadRequest, "avatar file is required")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid avatar upload")
		return
	}
	avatarURL, err := h.uploads.Upload(ctx, avatarPath)
	if err != nil {
		h.log.Error("users.register.avatar_upload.fail", "err", err)
		writeError(w, http.StatusBadRequest, "avatar upload failed")
		return
	}

	// Cover image is optional and its upload failure is non-fatal.
	var coverURL *string
	if coverPath, err := saveFormFile(r, "coverImage", h.cfg.MaxUploadBytes); err == nil {
		if u, err := h.uploads.Upload(ctx, coverPath); err == nil {
			coverURL = &u
		} else {
			h.log.Warn("users.register.cover_upload.fail", "err", err)
		}
	} else if !errors.Is(err, errNoFile) {
		writeError(w, http.StatusBadRequest, "invalid cover image upload")
		return
	}

	u, err := h.svc.Register(ctx, now, session.RegisterInput{
		Username:      r.FormValue("username"),
		Email:         r.FormValue("email"),
		FullName:      r.FormValue("fullname"),
		Password:      r.FormValue("password"),
		AvatarURL:     avatarURL,
		CoverImageURL: coverURL,
	})
	if err != nil {
		writeDomainError(h.log, w, "users.register.fail", err)
		return
	}

	h.log.Info("users.register.ok", "user_id", u.ID)
	writeData(w, http.StatusCreated, toUserResponse(u), "user registered successfully")
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req loginRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	now := time.Now().UTC()
	u, pair, err := h.svc.Login(r.Context(), now, session.LoginInput{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		writeDomainError(h.log, w, "users.login.fail", err)
		return
	}

	h.log.Info("users.login.ok", "user_id", u.ID)
	h.setAuthCookies(w, pair, now)
	writeData(w, http.StatusOK, loginResponse{
		User:         toUserResponse(u),
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
	}, "user logged in successfully")
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	u, ok := h.requireAuth(w, r)
	if !ok {
		return
	}

	if err := h.svc.Logout(r.Context(), time.Now().UTC(), u.ID); err != nil {
		writeDomainError(h.log, w, "users.logout.fail", err)
		return
	}

	h.log.Info("users.logout.ok", "user_id", u.ID)
	h.clearAuthCookies(w)
	writeData(w, http.StatusOK, nil, "user logged out")
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req refreshRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	raw, ok := refreshTokenFrom(r, req)
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing refresh token")
		return
	}

	now := time.Now().UTC()
	u, pair, err := h.svc.Refresh(r.Context(), now, raw)
	if err != nil {
		writeDomainError(h.log, w, "users.refresh.fail", err)
		return
	}

	h.log.Info("users.refresh.ok", "user_id", u.ID)
	h.setAuthCookies(w, pair, now)
	writeData(w, http.StatusOK, refreshResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
	}, "tokens refreshed")
}

func (h *Handler) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPatch {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	u, ok := h.requireAuth(w, r)
	if !ok {
		return
	}

	var req changePasswordRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	err := h.svc.ChangePassword(r.Context(), time.Now().UTC(), u.ID, session.ChangePasswordInput{
		OldPassword:     req.OldPassword,
		NewPassword:     req.NewPassword,
		ConfirmPassword: req.ConfirmPassword,
	})
	if err != nil {
		writeDomainError(h.log, w, "users.password.fail", err)
		return
	}

	h.log.Info("users.password.ok", "user_id", u.ID)
	writeData(w, http.StatusOK, nil, "password changed")
}

func (h *Handler) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPatch {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	u, ok := h.requireAuth(w, r)
	if !ok {
		return
	}

	var req updateProfileRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	updated, err := h.svc.UpdateProfile(r.Context(), time.Now().UTC(), u.ID, identity.UpdateProfileInput{
		FullName: req.FullName,
		Email:    req.Email,
	})
	if err != nil {
		writeDomainError(h.log, w, "users.profile.fail", err)
		return
	}

	writeData(w, http.StatusOK, toUserResponse(updated), "profile updated")
}

func (h *Handler) handleUpdateAvatar(w http.ResponseWriter, r *http.Request) {
	h.handleImageUpdate(w, r, "avatar", "users.avatar.fail", h.svc.UpdateAvatar)
}

func (h *Handler) handleUpdateCover(w http.ResponseWriter, r *http.Request) {
	h.handleImageUpdate(w, r, "coverImage", "users.cover.fail", h.svc.UpdateCoverImage)
}

func (h *Handler) handleImageUpdate(
	w http.ResponseWriter,
	r *http.Request,
	field, event string,
	apply func(ctx context.Context, now time.Time, userID, url string) (identity.User, error),
) {
	if r.Method != http.MethodPatch {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	u, ok := h.requireAuth(w, r)
	if !ok {
		return
	}

	if err := r.ParseMultipartForm(h.cfg.MaxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	path, err := saveFormFile(r, field, h.cfg.MaxUploadBytes)
	if err != nil {
		if errors.Is(err, errNoFile) {
			writeError(w, http.StatusBadRequest, field+" file is required")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid "+field+" upload")
		return
	}

	ctx := r.Context()
	url, err := h.uploads.Upload(ctx, path)
	if err != nil {
		h.log.Error(event, "err", err)
		writeError(w, http.StatusBadRequest, field+" upload failed")
		return
	}

	updated, err := apply(ctx, time.Now().UTC(), u.ID, url)
	if err != nil {
		writeDomainError(h.log, w, event, err)
		return
	}

	writeData(w, http.StatusOK, toUserResponse(updated), field+" updated")
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	u, ok := h.requireAuth(w, r)
	if !ok {
		return
	}

	writeData(w, http.StatusOK, toUserResponse(u), "current user")
}
