package session

import (
	"context"
	"strings"
	"testing"
	"time"

	"tube/cmd/identity"
	"tube/cmd/internal/auth/token"
	"tube/cmd/security/password"
)

func newTestService(t *testing.T) (*Service, *identity.MemoryStore) {
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

	store := identity.NewMemoryStore()
	return NewService(store, identity.NewHasher(pwCfg), tokens), store
}

func registerAlice(t *testing.T, svc *Service) identity.User {
	t.Helper()

	u, err := svc.Register(context.Background(), time.Now().UTC(), RegisterInput{
		Username:  "alice",
		Email:     "alice@x.com",
		FullName:  "Alice A",
		Password:  "Secr3t!",
		AvatarURL: "img1",
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	return u
}

func TestRegister_HashesPassword(t *testing.T) {
	t.Parallel()

	svc, store := newTestService(t)
	u := registerAlice(t, svc)

	auth, err := store.GetUserAuthByID(context.Background(), u.ID)
	if err != nil {
		t.Fatalf("load auth: %v", err)
	}
	if auth.PasswordHash == "Secr3t!" {
		t.Fatalf("stored password must not be plain text")
	}
	if !strings.HasPrefix(auth.PasswordHash, "$argon2id$") {
		t.Fatalf("unexpected hash format: %q", auth.PasswordHash)
	}
	if auth.RefreshToken != nil {
		t.Fatalf("fresh account must have no refresh token")
	}
}

func TestRegister_Validation(t *testing.T) {
	t.Parallel()

	svc, store := newTestService(t)

	cases := []struct {
		name string
		in   RegisterInput
		want func(error) bool
	}{
		{"blank username", RegisterInput{Username: "  ", Email: "e@x.com", FullName: "F", Password: "p", AvatarURL: "a"}, identity.IsInvalidInput},
		{"blank email", RegisterInput{Username: "u", Email: "", FullName: "F", Password: "p", AvatarURL: "a"}, identity.IsInvalidInput},
		{"blank fullname", RegisterInput{Username: "u", Email: "e@x.com", FullName: " ", Password: "p", AvatarURL: "a"}, identity.IsInvalidInput},
		{"blank password", RegisterInput{Username: "u", Email: "e@x.com", FullName: "F", Password: "   ", AvatarURL: "a"}, identity.IsInvalidInput},
		{"missing avatar", RegisterInput{Username: "u", Email: "e@x.com", FullName: "F", Password: "p", AvatarURL: ""}, identity.IsDependency},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Register(context.Background(), time.Now().UTC(), tc.in)
			if err == nil || !tc.want(err) {
				t.Fatalf("unexpected error: %v", err)
			}
			// No store write may have happened.
			if _, err := store.GetUserAuthByUsernameOrEmail(context.Background(), tc.in.Username, tc.in.Email); !identity.IsNotFound(err) {
				t.Fatalf("store must be untouched, lookup returned: %v", err)
			}
		})
	}
}

func TestRegister_Conflict(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	registerAlice(t, svc)

	_, err := svc.Register(context.Background(), time.Now().UTC(), RegisterInput{
		Username:  "ALICE",
		Email:     "other@x.com",
		FullName:  "Alice B",
		Password:  "pw",
		AvatarURL: "img",
	})
	if err == nil || !identity.IsConflict(err) {
		t.Fatalf("expected conflict on username, got: %v", err)
	}

	_, err = svc.Register(context.Background(), time.Now().UTC(), RegisterInput{
		Username:  "bob",
		Email:     "Alice@X.com",
		FullName:  "Bob B",
		Password:  "pw",
		AvatarURL: "img",
	})
	if err == nil || !identity.IsConflict(err) {
		t.Fatalf("expected conflict on email, got: %v", err)
	}
}

func TestLogin_StoresReturnedRefreshToken(t *testing.T) {
	t.Parallel()

	svc, store := newTestService(t)
	u := registerAlice(t, svc)

	got, pair, err := svc.Login(context.Background(), time.Now().UTC(), LoginInput{
		Username: "alice",
		Password: "Secr3t!",
	})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if got.ID != u.ID {
		t.Fatalf("expected id=%q got=%q", u.ID, got.ID)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatalf("expected both tokens")
	}
	if pair.AccessToken == pair.RefreshToken {
		t.Fatalf("token kinds must differ")
	}

	auth, err := store.GetUserAuthByID(context.Background(), u.ID)
	if err != nil {
		t.Fatalf("load auth: %v", err)
	}
	if auth.RefreshToken == nil || *auth.RefreshToken != pair.RefreshToken {
		t.Fatalf("stored refresh token must equal the returned one")
	}
}

func TestLogin_ByEmail(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	registerAlice(t, svc)

	_, _, err := svc.Login(context.Background(), time.Now().UTC(), LoginInput{
		Email:    "Alice@X.com",
		Password: "Secr3t!",
	})
	if err != nil {
		t.Fatalf("login by email: %v", err)
	}
}

func TestLogin_Failures(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	registerAlice(t, svc)
	ctx := context.Background()
	now := time.Now().UTC()

	if _, _, err := svc.Login(ctx, now, LoginInput{Password: "Secr3t!"}); !identity.IsInvalidInput(err) {
		t.Fatalf("missing identifier: %v", err)
	}
	if _, _, err := svc.Login(ctx, now, LoginInput{Username: "alice"}); !identity.IsInvalidInput(err) {
		t.Fatalf("missing password: %v", err)
	}
	if _, _, err := svc.Login(ctx, now, LoginInput{Username: "nobody", Password: "x"}); !identity.IsNotFound(err) {
		t.Fatalf("unknown user: %v", err)
	}
	if _, _, err := svc.Login(ctx, now, LoginInput{Username: "alice", Password: "wrong"}); !identity.IsUnauthorized(err) {
		t.Fatalf("wrong password: %v", err)
	}
}

func TestRefresh_RotatesAndRejectsOldToken(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	registerAlice(t, svc)
	ctx := context.Background()

	// A single instant throughout: rotation must hold even when login and
	// refresh land in the same wall-clock second.
	now := time.Now().UTC()

	_, pair, err := svc.Login(ctx, now, LoginInput{Username: "alice", Password: "Secr3t!"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	// The issued refresh token is accepted exactly once.
	_, rotated, err := svc.Refresh(ctx, now, pair.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if rotated.RefreshToken == pair.RefreshToken {
		t.Fatalf("refresh must rotate the token")
	}

	_, _, err = svc.Refresh(ctx, now, pair.RefreshToken)
	if err == nil || !identity.IsUnauthorized(err) {
		t.Fatalf("superseded token must be rejected, got: %v", err)
	}

	// The rotated token still works.
	if _, _, err := svc.Refresh(ctx, now, rotated.RefreshToken); err != nil {
		t.Fatalf("rotated token refresh: %v", err)
	}
}

func TestRefresh_RejectsGarbageAndForeignTokens(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	registerAlice(t, svc)
	ctx := context.Background()
	now := time.Now().UTC()

	if _, _, err := svc.Refresh(ctx, now, ""); !identity.IsUnauthorized(err) {
		t.Fatalf("empty token: %v", err)
	}
	if _, _, err := svc.Refresh(ctx, now, "not-a-jwt"); !identity.IsUnauthorized(err) {
		t.Fatalf("garbage token: %v", err)
	}

	// An access token is never a valid refresh token.
	_, pair, err := svc.Login(ctx, now, LoginInput{Username: "alice", Password: "Secr3t!"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if _, _, err := svc.Refresh(ctx, now, pair.AccessToken); !identity.IsUnauthorized(err) {
		t.Fatalf("access-as-refresh: %v", err)
	}
}

func TestLogout_ClearsTokenAndBlocksRefresh(t *testing.T) {
	t.Parallel()

	svc, store := newTestService(t)
	u := registerAlice(t, svc)
	ctx := context.Background()

	_, pair, err := svc.Login(ctx, time.Now().UTC(), LoginInput{Username: "alice", Password: "Secr3t!"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	if err := svc.Logout(ctx, time.Now().UTC(), u.ID); err != nil {
		t.Fatalf("logout: %v", err)
	}

	auth, err := store.GetUserAuthByID(ctx, u.ID)
	if err != nil {
		t.Fatalf("load auth: %v", err)
	}
	if auth.RefreshToken != nil {
		t.Fatalf("logout must clear the stored token")
	}

	if _, _, err := svc.Refresh(ctx, time.Now().UTC(), pair.RefreshToken); !identity.IsUnauthorized(err) {
		t.Fatalf("refresh after logout: %v", err)
	}

	// Idempotent.
	if err := svc.Logout(ctx, time.Now().UTC(), u.ID); err != nil {
		t.Fatalf("repeated logout: %v", err)
	}
}

func TestLogin_InvalidatesPreviousSession(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	registerAlice(t, svc)
	ctx := context.Background()

	now := time.Now().UTC()

	_, first, err := svc.Login(ctx, now, LoginInput{Username: "alice", Password: "Secr3t!"})
	if err != nil {
		t.Fatalf("first login: %v", err)
	}
	_, second, err := svc.Login(ctx, now, LoginInput{Username: "alice", Password: "Secr3t!"})
	if err != nil {
		t.Fatalf("second login: %v", err)
	}
	if second.RefreshToken == first.RefreshToken {
		t.Fatalf("back-to-back logins must issue distinct refresh tokens")
	}

	if _, _, err := svc.Refresh(ctx, now, first.RefreshToken); !identity.IsUnauthorized(err) {
		t.Fatalf("first session's token must be dead, got: %v", err)
	}
}

func TestChangePassword(t *testing.T) {
	t.Parallel()

	svc, store := newTestService(t)
	u := registerAlice(t, svc)
	ctx := context.Background()
	now := time.Now().UTC()

	before, err := store.GetUserAuthByID(ctx, u.ID)
	if err != nil {
		t.Fatalf("load auth: %v", err)
	}

	// Confirmation mismatch is checked before the old password.
	err = svc.ChangePassword(ctx, now, u.ID, ChangePasswordInput{
		OldPassword:     "definitely-wrong",
		NewPassword:     "NewPass1",
		ConfirmPassword: "NewPass2",
	})
	if !identity.IsInvalidInput(err) {
		t.Fatalf("mismatched confirmation: %v", err)
	}

	err = svc.ChangePassword(ctx, now, u.ID, ChangePasswordInput{
		OldPassword:     "wrong",
		NewPassword:     "NewPass1",
		ConfirmPassword: "NewPass1",
	})
	if !identity.IsUnauthorized(err) {
		t.Fatalf("wrong old password: %v", err)
	}

	after, err := store.GetUserAuthByID(ctx, u.ID)
	if err != nil {
		t.Fatalf("load auth: %v", err)
	}
	if after.PasswordHash != before.PasswordHash {
		t.Fatalf("failed change must leave the hash untouched")
	}

	err = svc.ChangePassword(ctx, now, u.ID, ChangePasswordInput{
		OldPassword:     "Secr3t!",
		NewPassword:     "NewPass1",
		ConfirmPassword: "NewPass1",
	})
	if err != nil {
		t.Fatalf("change password: %v", err)
	}

	if _, _, err := svc.Login(ctx, now, LoginInput{Username: "alice", Password: "NewPass1"}); err != nil {
		t.Fatalf("login with new password: %v", err)
	}
	if _, _, err := svc.Login(ctx, now, LoginInput{Username: "alice", Password: "Secr3t!"}); !identity.IsUnauthorized(err) {
		t.Fatalf("old password must stop working: %v", err)
	}
}

func TestProfileUpdates(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	u := registerAlice(t, svc)
	ctx := context.Background()
	now := time.Now().UTC()

	if _, err := svc.UpdateProfile(ctx, now, u.ID, identity.UpdateProfileInput{}); !identity.IsInvalidInput(err) {
		t.Fatalf("empty update: %v", err)
	}

	name := "Alice Renamed"
	got, err := svc.UpdateProfile(ctx, now, u.ID, identity.UpdateProfileInput{FullName: &name})
	if err != nil {
		t.Fatalf("update profile: %v", err)
	}
	if got.FullName != name {
		t.Fatalf("fullname not updated: %q", got.FullName)
	}

	got, err = svc.UpdateAvatar(ctx, now, u.ID, "img2")
	if err != nil {
		t.Fatalf("update avatar: %v", err)
	}
	if got.AvatarURL != "img2" {
		t.Fatalf("avatar not updated: %q", got.AvatarURL)
	}

	if _, err := svc.UpdateAvatar(ctx, now, u.ID, "  "); !identity.IsDependency(err) {
		t.Fatalf("blank avatar ref: %v", err)
	}

	got, err = svc.UpdateCoverImage(ctx, now, u.ID, "cover1")
	if err != nil {
		t.Fatalf("update cover: %v", err)
	}
	if got.CoverImageURL == nil || *got.CoverImageURL != "cover1" {
		t.Fatalf("cover not updated: %v", got.CoverImageURL)
	}

	const ghost = "01ARZ3NDEKTSV4RRFFQ69G5FAV"
	if _, err := svc.UpdateAvatar(ctx, now, ghost, "img"); !identity.IsNotFound(err) {
		t.Fatalf("ghost user avatar: %v", err)
	}
	if _, err := svc.UpdateProfile(ctx, now, ghost, identity.UpdateProfileInput{FullName: &name}); !identity.IsNotFound(err) {
		t.Fatalf("ghost user profile: %v", err)
	}
}
