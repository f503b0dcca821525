package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"tube/cmd/identity"
	"tube/cmd/internal/auth/session"
	"tube/cmd/internal/auth/token"
	"tube/cmd/security/password"
)

// stubUploader mimics the asset store contract: consume the temp file,
// return a URL or fail.
type stubUploader struct {
	fail bool
	n    atomic.Int64
}

func (s *stubUploader) Upload(ctx context.Context, localPath string) (string, error) {
	defer func() { _ = os.Remove(localPath) }()
	if s.fail {
		return "", errors.New("stub upload failure")
	}
	return fmt.Sprintf("https://cdn.example.com/u/%d", s.n.Add(1)), nil
}

func newTestHandler(t *testing.T, uploads *stubUploader) (*Handler, *http.ServeMux) {
	t.Helper()

	pwCfg := password.DefaultConfig()
	pwCfg.Params = password.Argon2idParams{
		MemoryKiB:   8 * 1024,
		Iterations:  1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	}

	tokens, err := token.NewManager(token.Config{
		Issuer:        "tube",
		AccessSecret:  []byte(strings.Repeat("a", 32)),
		RefreshSecret: []byte(strings.Repeat("r", 32)),
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    7 * 24 * time.Hour,
		ClockSkew:     30 * time.Second,
	})
	if err != nil {
		t.Fatalf("token manager: %v", err)
	}

	svc := session.NewService(identity.NewMemoryStore(), identity.NewHasher(pwCfg), tokens)

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	h, err := NewHandler(log, Config{
		MaxBodyBytes:   1 << 20,
		MaxUploadBytes: 8 << 20,
		CookiePath:     "/",
		CookieSecure:   false,
		CookieSameSite: http.SameSiteLaxMode,
	}, svc, tokens, uploads)
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}

	mux := http.NewServeMux()
	h.Register(mux)
	return h, mux
}

func multipartBody(t *testing.T, fields map[string]string, files map[string]string) (*bytes.Buffer, string) {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("write field: %v", err)
		}
	}
	for field, name := range files {
		fw, err := mw.CreateFormFile(field, name)
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		if _, err := fw.Write([]byte("file-bytes-" + name)); err != nil {
			t.Fatalf("write file: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

func doRegister(t *testing.T, mux *http.ServeMux, username, email string) *httptest.ResponseRecorder {
	t.Helper()

	body, ct := multipartBody(t,
		map[string]string{
			"username": username,
			"email":    email,
			"password": "Secr3t!",
			"fullname": "Alice A",
		},
		map[string]string{"avatar": "img1.png"},
	)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/users/register", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func doLogin(t *testing.T, mux *http.ServeMux, username, pw string) *httptest.ResponseRecorder {
	t.Helper()

	body, _ := json.Marshal(map[string]string{"username": username, "password": pw})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/users/login", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

type envelope struct {
	Status  int             `json:"status"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()

	var env envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode envelope: %v (body=%s)", err, rec.Body.String())
	}
	return env
}

func cookieValue(t *testing.T, rec *httptest.ResponseRecorder, name string) *http.Cookie {
	t.Helper()

	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func TestRegister(t *testing.T) {
	t.Parallel()

	_, mux := newTestHandler(t, &stubUploader{})

	rec := doRegister(t, mux, "alice", "alice@x.com")
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	env := decodeEnvelope(t, rec)
	if env.Status != http.StatusCreated {
		t.Fatalf("envelope status=%d", env.Status)
	}

	var u map[string]any
	if err := json.Unmarshal(env.Data, &u); err != nil {
		t.Fatalf("decode user: %v", err)
	}
	if u["username"] != "alice" {
		t.Fatalf("unexpected username %v", u["username"])
	}
	if _, exists := u["password"]; exists {
		t.Fatalf("response must not carry a password field")
	}
	if u["avatar"] == "" {
		t.Fatalf("avatar URL must be set")
	}

	// Duplicate registration conflicts.
	rec = doRegister(t, mux, "ALICE", "other@x.com")
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	var errBody map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &errBody); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if errBody["status"] != float64(http.StatusConflict) || errBody["message"] == "" {
		t.Fatalf("unexpected error envelope: %v", errBody)
	}
}

func TestRegister_MissingAvatar(t *testing.T) {
	t.Parallel()

	_, mux := newTestHandler(t, &stubUploader{})

	body, ct := multipartBody(t, map[string]string{
		"username": "bob", "email": "bob@x.com", "password": "pw", "fullname": "Bob",
	}, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/users/register", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestRegister_BlankFieldSkipsUpload(t *testing.T) {
	t.Parallel()

	uploads := &stubUploader{}
	_, mux := newTestHandler(t, uploads)

	body, ct := multipartBody(t, map[string]string{
		"username": "   ", "email": "bob@x.com", "password": "pw", "fullname": "Bob",
	}, map[string]string{"avatar": "img1.png"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/users/register", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if got := uploads.n.Load(); got != 0 {
		t.Fatalf("asset store must not be touched for an invalid form, got %d uploads", got)
	}
}

func TestRegister_UploadFailure(t *testing.T) {
	t.Parallel()

	_, mux := newTestHandler(t, &stubUploader{fail: true})

	rec := doRegister(t, mux, "carol", "carol@x.com")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 on upload failure, got %d", rec.Code)
	}
}

func TestLogin(t *testing.T) {
	t.Parallel()

	_, mux := newTestHandler(t, &stubUploader{})
	doRegister(t, mux, "alice", "alice@x.com")

	rec := doLogin(t, mux, "alice", "Secr3t!")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	env := decodeEnvelope(t, rec)
	var resp struct {
		User         map[string]any `json:"user"`
		AccessToken  string         `json:"accessToken"`
		RefreshToken string         `json:"refreshToken"`
	}
	if err := json.Unmarshal(env.Data, &resp); err != nil {
		t.Fatalf("decode login data: %v", err)
	}
	if resp.AccessToken == "" || resp.RefreshToken == "" {
		t.Fatalf("expected both tokens in body")
	}

	for _, name := range []string{"accessToken", "refreshToken"} {
		c := cookieValue(t, rec, name)
		if c == nil || c.Value == "" {
			t.Fatalf("missing %s cookie", name)
		}
		if !c.HttpOnly {
			t.Fatalf("%s cookie must be HttpOnly", name)
		}
	}

	if got := cookieValue(t, rec, "refreshToken").Value; got != resp.RefreshToken {
		t.Fatalf("cookie and body refresh token must match")
	}
}

func TestLogin_Failures(t *testing.T) {
	t.Parallel()

	_, mux := newTestHandler(t, &stubUploader{})
	doRegister(t, mux, "alice", "alice@x.com")

	cases := []struct {
		name string
		body map[string]string
		want int
	}{
		{"missing password", map[string]string{"username": "alice"}, http.StatusBadRequest},
		{"missing identifier", map[string]string{"password": "x"}, http.StatusBadRequest},
		{"unknown user", map[string]string{"username": "nobody", "password": "x"}, http.StatusNotFound},
		{"wrong password", map[string]string{"username": "alice", "password": "wrong"}, http.StatusUnauthorized},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b, _ := json.Marshal(tc.body)
			req := httptest.NewRequest(http.MethodPost, "/api/v1/users/login", bytes.NewReader(b))
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, req)
			if rec.Code != tc.want {
				t.Fatalf("expected %d, got %d: %s", tc.want, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestRefreshRotationViaCookie(t *testing.T) {
	t.Parallel()

	_, mux := newTestHandler(t, &stubUploader{})
	doRegister(t, mux, "alice", "alice@x.com")
	login := doLogin(t, mux, "alice", "Secr3t!")
	refreshCookie := cookieValue(t, login, "refreshToken")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/users/refresh", nil)
	req.AddCookie(refreshCookie)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("refresh: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	env := decodeEnvelope(t, rec)
	var rotated refreshResponse
	if err := json.Unmarshal(env.Data, &rotated); err != nil {
		t.Fatalf("decode refresh data: %v", err)
	}
	if rotated.RefreshToken == "" || rotated.RefreshToken == refreshCookie.Value {
		t.Fatalf("refresh must return a rotated token")
	}

	// The superseded token is dead.
	req = httptest.NewRequest(http.MethodPost, "/api/v1/users/refresh", nil)
	req.AddCookie(refreshCookie)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("stale refresh: expected 401, got %d", rec.Code)
	}
}

func TestRefreshViaBody(t *testing.T) {
	t.Parallel()

	_, mux := newTestHandler(t, &stubUploader{})
	doRegister(t, mux, "alice", "alice@x.com")
	login := doLogin(t, mux, "alice", "Secr3t!")

	env := decodeEnvelope(t, login)
	var resp loginResponse
	if err := json.Unmarshal(env.Data, &resp); err != nil {
		t.Fatalf("decode login data: %v", err)
	}

	b, _ := json.Marshal(map[string]string{"refreshToken": resp.RefreshToken})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/users/refresh", bytes.NewReader(b))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("refresh via body: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestRefresh_MissingOrGarbage(t *testing.T) {
	t.Parallel()

	_, mux := newTestHandler(t, &stubUploader{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/users/refresh", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing token: expected 401, got %d", rec.Code)
	}

	b, _ := json.Marshal(map[string]string{"refreshToken": "garbage"})
	req = httptest.NewRequest(http.MethodPost, "/api/v1/users/refresh", bytes.NewReader(b))
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("garbage token: expected 401, got %d", rec.Code)
	}
}

func TestLogoutFlow(t *testing.T) {
	t.Parallel()

	_, mux := newTestHandler(t, &stubUploader{})
	doRegister(t, mux, "alice", "alice@x.com")
	login := doLogin(t, mux, "alice", "Secr3t!")
	access := cookieValue(t, login, "accessToken")
	refresh := cookieValue(t, login, "refreshToken")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/users/logout", nil)
	req.AddCookie(access)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("logout: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	// Both carriers are expired.
	for _, name := range []string{"accessToken", "refreshToken"} {
		c := cookieValue(t, rec, name)
		if c == nil || c.Value != "" || c.MaxAge != -1 {
			t.Fatalf("%s cookie must be cleared, got %+v", name, c)
		}
	}

	// The refresh token issued before logout no longer works.
	req = httptest.NewRequest(http.MethodPost, "/api/v1/users/refresh", nil)
	req.AddCookie(refresh)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("refresh after logout: expected 401, got %d", rec.Code)
	}

	// Logout is idempotent for a still-valid access token.
	req = httptest.NewRequest(http.MethodPost, "/api/v1/users/logout", nil)
	req.AddCookie(access)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("second logout: expected 200, got %d", rec.Code)
	}
}

func TestMe(t *testing.T) {
	t.Parallel()

	_, mux := newTestHandler(t, &stubUploader{})
	doRegister(t, mux, "alice", "alice@x.com")
	login := doLogin(t, mux, "alice", "Secr3t!")

	env := decodeEnvelope(t, login)
	var resp loginResponse
	if err := json.Unmarshal(env.Data, &resp); err != nil {
		t.Fatalf("decode login data: %v", err)
	}

	// Bearer header carrier.
	req := httptest.NewRequest(http.MethodGet, "/api/v1/users/me", nil)
	req.Header.Set("Authorization", "Bearer "+resp.AccessToken)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("me: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	// No credential at all.
	req = httptest.NewRequest(http.MethodGet, "/api/v1/users/me", nil)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("me without token: expected 401, got %d", rec.Code)
	}

	// A refresh token is not an access credential.
	req = httptest.NewRequest(http.MethodGet, "/api/v1/users/me", nil)
	req.Header.Set("Authorization", "Bearer "+resp.RefreshToken)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("me with refresh token: expected 401, got %d", rec.Code)
	}
}

func TestChangePassword(t *testing.T) {
	t.Parallel()

	_, mux := newTestHandler(t, &stubUploader{})
	doRegister(t, mux, "alice", "alice@x.com")
	login := doLogin(t, mux, "alice", "Secr3t!")
	access := cookieValue(t, login, "accessToken")

	patch := func(body map[string]string) *httptest.ResponseRecorder {
		b, _ := json.Marshal(body)
		req := httptest.NewRequest(http.MethodPatch, "/api/v1/users/password", bytes.NewReader(b))
		req.AddCookie(access)
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		return rec
	}

	if rec := patch(map[string]string{"oldPassword": "Secr3t!", "newPassword": "a", "confirmPassword": "b"}); rec.Code != http.StatusBadRequest {
		t.Fatalf("mismatch: expected 400, got %d", rec.Code)
	}
	if rec := patch(map[string]string{"oldPassword": "wrong", "newPassword": "NewPass1", "confirmPassword": "NewPass1"}); rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong old: expected 401, got %d", rec.Code)
	}
	if rec := patch(map[string]string{"oldPassword": "Secr3t!", "newPassword": "NewPass1", "confirmPassword": "NewPass1"}); rec.Code != http.StatusOK {
		t.Fatalf("change: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	if rec := doLogin(t, mux, "alice", "NewPass1"); rec.Code != http.StatusOK {
		t.Fatalf("login with new password: expected 200, got %d", rec.Code)
	}
	if rec := doLogin(t, mux, "alice", "Secr3t!"); rec.Code != http.StatusUnauthorized {
		t.Fatalf("login with old password: expected 401, got %d", rec.Code)
	}
}

func TestUpdateProfileAndAvatar(t *testing.T) {
	t.Parallel()

	_, mux := newTestHandler(t, &stubUploader{})
	doRegister(t, mux, "alice", "alice@x.com")
	login := doLogin(t, mux, "alice", "Secr3t!")
	access := cookieValue(t, login, "accessToken")

	b, _ := json.Marshal(map[string]string{"fullname": "Alice Renamed"})
	req := httptest.NewRequest(http.MethodPatch, "/api/v1/users/profile", bytes.NewReader(b))
	req.AddCookie(access)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("profile: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	env := decodeEnvelope(t, rec)
	var u map[string]any
	if err := json.Unmarshal(env.Data, &u); err != nil {
		t.Fatalf("decode user: %v", err)
	}
	if u["fullname"] != "Alice Renamed" {
		t.Fatalf("fullname not updated: %v", u["fullname"])
	}

	body, ct := multipartBody(t, nil, map[string]string{"avatar": "new.png"})
	req = httptest.NewRequest(http.MethodPatch, "/api/v1/users/avatar", body)
	req.Header.Set("Content-Type", ct)
	req.AddCookie(access)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("avatar: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	body, ct = multipartBody(t, nil, map[string]string{"coverImage": "cover.png"})
	req = httptest.NewRequest(http.MethodPatch, "/api/v1/users/cover", body)
	req.Header.Set("Content-Type", ct)
	req.AddCookie(access)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("cover: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestMethodNotAllowed(t *testing.T) {
	t.Parallel()

	_, mux := newTestHandler(t, &stubUploader{})

	for _, path := range []string{
		"/api/v1/users/register",
		"/api/v1/users/login",
		"/api/v1/users/logout",
		"/api/v1/users/refresh",
	} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		if rec.Code != http.StatusMethodNotAllowed {
			t.Fatalf("%s: expected 405, got %d", path, rec.Code)
		}
	}
}
