package identity

import (
	"context"
	"time"
)

// User is tube's canonical account record, stripped of credential material.
// Every layer above the store passes this projection around; the password hash
// and the stored refresh token only ever appear on UserAuth.
type User struct {
	ID           string
	Username     string
	UsernameNorm string
	Email        string
	EmailNorm    string
	FullName     string

	AvatarURL     string
	CoverImageURL *string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// UserAuth is the credential projection used only by login, refresh and
// password-change flows. RefreshToken holds the single currently valid
// refresh token for the account (nil when logged out).
//
// IMPORTANT: never serialize UserAuth to a client; convert to User first.
type UserAuth struct {
	User
	PasswordHash string
	RefreshToken *string
}

// CreateUserInput describes a user registration request.
// All fields except CoverImageURL are required; PasswordHash must already be
// an encoded Argon2id hash (the store never sees plain passwords).
type CreateUserInput struct {
	Username      string
	Email         string
	FullName      string
	PasswordHash  string
	AvatarURL     string
	CoverImageURL *string
	Now           time.Time
}

// UpdateProfileInput is a partial profile update; nil fields are left untouched.
type UpdateProfileInput struct {
	FullName *string
	Email    *string
}

// Store is the credential persistence boundary.
//
// Contract notes:
//   - CreateUser maps unique violations on username/email to ConflictError.
//   - Lookups that find no row return errors matching ErrNotFound.
//   - SetRefreshToken overwrites any previously stored value (single active
//     refresh token per account; last writer wins under concurrency).
//   - ClearRefreshToken is idempotent.
type Store interface {
	CreateUser(ctx context.Context, in CreateUserInput) (User, error)

	GetUserByID(ctx context.Context, id string) (User, error)
	GetUserAuthByID(ctx context.Context, id string) (UserAuth, error)
	GetUserAuthByUsernameOrEmail(ctx context.Context, username, email string) (UserAuth, error)

	UpdateProfile(ctx context.Context, userID string, in UpdateProfileInput, now time.Time) (User, error)
	UpdateAvatar(ctx context.Context, userID, avatarURL string, now time.Time) (User, error)
	UpdateCoverImage(ctx context.Context, userID, coverURL string, now time.Time) (User, error)

	SetRefreshToken(ctx context.Context, userID, token string, now time.Time) error
	ClearRefreshToken(ctx context.Context, userID string, now time.Time) error
	UpdatePassword(ctx context.Context, userID, passwordHash string, now time.Time) error
}
