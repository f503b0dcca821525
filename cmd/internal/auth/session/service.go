package session

import (
	"context"
	"crypto/subtle"
	"fmt"
	"strings"
	"time"

	"tube/cmd/identity"
	"tube/cmd/internal/auth/token"
)

// Service implements the high-level account session operations.
//
// It composes the password hasher, the token manager, and the identity
// store; it performs no I/O of its own beyond those collaborators.
type Service struct {
	store  identity.Store
	hasher *identity.Hasher
	tokens *token.Manager
}

// TokenPair is the dual-token result of login and refresh.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// RegisterInput carries already-decoded registration fields. AvatarURL is
// the result of the avatar upload performed by the transport layer.
type RegisterInput struct {
	Username      string
	Email         string
	FullName      string
	Password      string
	AvatarURL     string
	CoverImageURL *string
}

// LoginInput identifies an account by username or email plus its password.
type LoginInput struct {
	Username string
	Email    string
	Password string
}

// ChangePasswordInput carries the credential-change fields.
type ChangePasswordInput struct {
	OldPassword     string
	NewPassword     string
	ConfirmPassword string
}

// NewService constructs a Service. All three collaborators are required.
func NewService(store identity.Store, hasher *identity.Hasher, tokens *token.Manager) *Service {
	return &Service{store: store, hasher: hasher, tokens: tokens}
}

// Register creates a new account with a hashed password and no active
// refresh token. The returned record carries no credential fields.
func (s *Service) Register(ctx context.Context, now time.Time, in RegisterInput) (identity.User, error) {
	const op = "session.Register"

	username := strings.TrimSpace(in.Username)
	email := strings.TrimSpace(in.Email)
	fullName := strings.TrimSpace(in.FullName)

	if username == "" || email == "" || fullName == "" || strings.TrimSpace(in.Password) == "" {
		return identity.User{}, identity.OpError{Op: op, Kind: identity.ErrInvalidInput, Msg: "all fields are required"}
	}
	if strings.TrimSpace(in.AvatarURL) == "" {
		return identity.User{}, identity.OpError{Op: op, Kind: identity.ErrDependency, Msg: "avatar is required"}
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return identity.User{}, err
	}

	return s.store.CreateUser(ctx, identity.CreateUserInput{
		Username:      username,
		Email:         email,
		FullName:      fullName,
		PasswordHash:  hash,
		AvatarURL:     strings.TrimSpace(in.AvatarURL),
		CoverImageURL: in.CoverImageURL,
		Now:           now,
	})
}

// Login verifies credentials and mints a fresh token pair. The refresh
// token is persisted on the record before anything is returned, overwriting
// any prior value; earlier refresh tokens stop working at that moment.
func (s *Service) Login(ctx context.Context, now time.Time, in LoginInput) (identity.User, TokenPair, error) {
	const op = "session.Login"

	username := strings.TrimSpace(in.Username)
	email := strings.TrimSpace(in.Email)

	if username == "" && email == "" {
		return identity.User{}, TokenPair{}, identity.OpError{Op: op, Kind: identity.ErrInvalidInput, Msg: "username or email is required"}
	}
	if in.Password == "" {
		return identity.User{}, TokenPair{}, identity.OpError{Op: op, Kind: identity.ErrInvalidInput, Msg: "password is required"}
	}

	auth, err := s.store.GetUserAuthByUsernameOrEmail(ctx, username, email)
	if err != nil {
		return identity.User{}, TokenPair{}, err
	}

	ok, err := s.hasher.Verify(in.Password, auth.PasswordHash)
	if err != nil {
		return identity.User{}, TokenPair{}, err
	}
	if !ok {
		return identity.User{}, TokenPair{}, identity.OpError{Op: op, Kind: identity.ErrUnauthorized, Msg: "invalid credentials"}
	}

	pair, err := s.issueAndStore(ctx, op, now, auth.User)
	if err != nil {
		return identity.User{}, TokenPair{}, err
	}
	return auth.User, pair, nil
}

// Refresh redeems a refresh token for a rotated pair. The presented token
// must verify AND match the stored value; on success the newly minted
// refresh token replaces it, so the presented one is spent.
func (s *Service) Refresh(ctx context.Context, now time.Time, rawRefresh string) (identity.User, TokenPair, error) {
	const op = "session.Refresh"

	rawRefresh = strings.TrimSpace(rawRefresh)
	if rawRefresh == "" {
		return identity.User{}, TokenPair{}, unauthorized(op, "missing refresh token")
	}

	claims, err := s.tokens.VerifyRefresh(rawRefresh)
	if err != nil {
		return identity.User{}, TokenPair{}, unauthorized(op, "invalid refresh token")
	}

	auth, err := s.store.GetUserAuthByID(ctx, claims.Subject)
	if err != nil {
		if identity.IsNotFound(err) {
			return identity.User{}, TokenPair{}, unauthorized(op, "invalid refresh token")
		}
		return identity.User{}, TokenPair{}, err
	}

	if auth.RefreshToken == nil ||
		subtle.ConstantTimeCompare([]byte(*auth.RefreshToken), []byte(rawRefresh)) != 1 {
		return identity.User{}, TokenPair{}, unauthorized(op, "refresh token is expired or used")
	}

	pair, err := s.issueAndStore(ctx, op, now, auth.User)
	if err != nil {
		return identity.User{}, TokenPair{}, err
	}
	return auth.User, pair, nil
}

// Logout clears the stored refresh token. Repeated calls are no-ops.
func (s *Service) Logout(ctx context.Context, now time.Time, userID string) error {
	return s.store.ClearRefreshToken(ctx, userID, now)
}

// ChangePassword replaces the account's password hash after verifying the
// old password. The confirmation mismatch is checked first, before any
// credential is touched.
func (s *Service) ChangePassword(ctx context.Context, now time.Time, userID string, in ChangePasswordInput) error {
	const op = "session.ChangePassword"

	if in.NewPassword != in.ConfirmPassword {
		return identity.OpError{Op: op, Kind: identity.ErrInvalidInput, Msg: "password confirmation does not match"}
	}

	auth, err := s.store.GetUserAuthByID(ctx, userID)
	if err != nil {
		return err
	}

	ok, err := s.hasher.Verify(in.OldPassword, auth.PasswordHash)
	if err != nil {
		return err
	}
	if !ok {
		return unauthorized(op, "invalid old password")
	}

	hash, err := s.hasher.Hash(in.NewPassword)
	if err != nil {
		return err
	}
	return s.store.UpdatePassword(ctx, userID, hash, now)
}

// UpdateProfile applies a partial fullname/email update.
func (s *Service) UpdateProfile(ctx context.Context, now time.Time, userID string, in identity.UpdateProfileInput) (identity.User, error) {
	const op = "session.UpdateProfile"

	if in.FullName == nil && in.Email == nil {
		return identity.User{}, identity.OpError{Op: op, Kind: identity.ErrInvalidInput, Msg: "nothing to update"}
	}
	return s.store.UpdateProfile(ctx, userID, in, now)
}

// UpdateAvatar replaces the avatar reference.
func (s *Service) UpdateAvatar(ctx context.Context, now time.Time, userID, avatarURL string) (identity.User, error) {
	const op = "session.UpdateAvatar"

	if strings.TrimSpace(avatarURL) == "" {
		return identity.User{}, identity.OpError{Op: op, Kind: identity.ErrDependency, Msg: "avatar upload failed"}
	}
	return s.store.UpdateAvatar(ctx, userID, avatarURL, now)
}

// UpdateCoverImage replaces the cover image reference.
func (s *Service) UpdateCoverImage(ctx context.Context, now time.Time, userID, coverURL string) (identity.User, error) {
	const op = "session.UpdateCoverImage"

	if strings.TrimSpace(coverURL) == "" {
		return identity.User{}, identity.OpError{Op: op, Kind: identity.ErrDependency, Msg: "cover image upload failed"}
	}
	return s.store.UpdateCoverImage(ctx, userID, coverURL, now)
}

// CurrentUser loads the stripped identity projection for an authenticated
// subject.
func (s *Service) CurrentUser(ctx context.Context, userID string) (identity.User, error) {
	return s.store.GetUserByID(ctx, userID)
}

func (s *Service) issueAndStore(ctx context.Context, op string, now time.Time, u identity.User) (TokenPair, error) {
	access, err := s.tokens.IssueAccess(token.Identity{
		ID:       u.ID,
		Username: u.Username,
		Email:    u.Email,
		FullName: u.FullName,
	}, now)
	if err != nil {
		return TokenPair{}, fmt.Errorf("%s: sign access token: %w", op, err)
	}

	refresh, err := s.tokens.IssueRefresh(u.ID, now)
	if err != nil {
		return TokenPair{}, fmt.Errorf("%s: sign refresh token: %w", op, err)
	}

	// Persist before returning; a pair the store never saw must not leak out.
	if err := s.store.SetRefreshToken(ctx, u.ID, refresh, now); err != nil {
		return TokenPair{}, err
	}

	return TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

func unauthorized(op, msg string) error {
	return identity.OpError{Op: op, Kind: identity.ErrUnauthorized, Msg: msg}
}
