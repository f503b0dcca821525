package identity

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store used for tests and DB-less dev mode.
//
// Semantics mirror PostgresStore: normalized username/email uniqueness,
// NotFound on missing rows, last-writer-wins on the refresh-token column.
type MemoryStore struct {
	mu sync.Mutex

	users   map[string]*memUser // by id
	byUname map[string]string   // username_norm -> id
	byEmail map[string]string   // email_norm -> id
}

type memUser struct {
	user         User
	passwordHash string
	refreshToken *string
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:   make(map[string]*memUser),
		byUname: make(map[string]string),
		byEmail: make(map[string]string),
	}
}

var _ Store = (*MemoryStore)(nil)

// CreateUser creates a new user, enforcing normalized uniqueness.
func (s *MemoryStore) CreateUser(ctx context.Context, in CreateUserInput) (User, error) {
	const op = "identity.CreateUser"

	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	username := strings.TrimSpace(in.Username)
	email := strings.TrimSpace(in.Email)
	fullName := strings.TrimSpace(in.FullName)

	if username == "" || email == "" || fullName == "" || in.PasswordHash == "" {
		return User{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "missing required field"}
	}
	if strings.TrimSpace(in.AvatarURL) == "" {
		return User{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "missing avatar_url"}
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	unameNorm := NormalizeUsername(username)
	emailNorm := NormalizeEmail(email)

	id, err := NewULID(now)
	if err != nil {
		return User{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byUname[unameNorm]; exists {
		return User{}, ConflictError{Op: op, Field: "username"}
	}
	if _, exists := s.byEmail[emailNorm]; exists {
		return User{}, ConflictError{Op: op, Field: "email"}
	}

	u := User{
		ID:            id,
		Username:      username,
		UsernameNorm:  unameNorm,
		Email:         email,
		EmailNorm:     emailNorm,
		FullName:      fullName,
		AvatarURL:     strings.TrimSpace(in.AvatarURL),
		CoverImageURL: trimPtr(in.CoverImageURL),
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	s.users[id] = &memUser{user: u, passwordHash: in.PasswordHash}
	s.byUname[unameNorm] = id
	s.byEmail[emailNorm] = id

	return u, nil
}

// GetUserByID returns the stripped projection.
func (s *MemoryStore) GetUserByID(ctx context.Context, id string) (User, error) {
	const op = "identity.GetUserByID"

	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.users[id]
	if !ok {
		return User{}, NotFoundError{Op: op, Resource: "user"}
	}
	return rec.user, nil
}

// GetUserAuthByID returns the credential projection.
func (s *MemoryStore) GetUserAuthByID(ctx context.Context, id string) (UserAuth, error) {
	const op = "identity.GetUserAuthByID"

	if err := ctx.Err(); err != nil {
		return UserAuth{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.users[id]
	if !ok {
		return UserAuth{}, NotFoundError{Op: op, Resource: "user"}
	}
	return rec.auth(), nil
}

// GetUserAuthByUsernameOrEmail resolves by either identifier (normalized).
func (s *MemoryStore) GetUserAuthByUsernameOrEmail(ctx context.Context, username, email string) (UserAuth, error) {
	const op = "identity.GetUserAuthByUsernameOrEmail"

	if err := ctx.Err(); err != nil {
		return UserAuth{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if n := NormalizeUsername(username); n != "" {
		if id, ok := s.byUname[n]; ok {
			return s.users[id].auth(), nil
		}
	}
	if n := NormalizeEmail(email); n != "" {
		if id, ok := s.byEmail[n]; ok {
			return s.users[id].auth(), nil
		}
	}
	return UserAuth{}, NotFoundError{Op: op, Resource: "user"}
}

// UpdateProfile applies a partial update; nil fields are untouched.
func (s *MemoryStore) UpdateProfile(ctx context.Context, userID string, in UpdateProfileInput, now time.Time) (User, error) {
	const op = "identity.UpdateProfile"

	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.users[userID]
	if !ok {
		return User{}, NotFoundError{Op: op, Resource: "user"}
	}

	if in.FullName != nil {
		v := strings.TrimSpace(*in.FullName)
		if v == "" {
			return User{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "blank fullname"}
		}
		rec.user.FullName = v
	}
	if in.Email != nil {
		v := strings.TrimSpace(*in.Email)
		if v == "" {
			return User{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "blank email"}
		}
		norm := NormalizeEmail(v)
		if other, exists := s.byEmail[norm]; exists && other != userID {
			return User{}, ConflictError{Op: op, Field: "email"}
		}
		delete(s.byEmail, rec.user.EmailNorm)
		rec.user.Email = v
		rec.user.EmailNorm = norm
		s.byEmail[norm] = userID
	}

	rec.user.UpdatedAt = now
	return rec.user, nil
}

// UpdateAvatar replaces the avatar reference.
func (s *MemoryStore) UpdateAvatar(ctx context.Context, userID, avatarURL string, now time.Time) (User, error) {
	const op = "identity.UpdateAvatar"
	return s.updateImage(ctx, op, userID, avatarURL, now, func(u *User, v string) { u.AvatarURL = v })
}

// UpdateCoverImage replaces the cover image reference.
func (s *MemoryStore) UpdateCoverImage(ctx context.Context, userID, coverURL string, now time.Time) (User, error) {
	const op = "identity.UpdateCoverImage"
	return s.updateImage(ctx, op, userID, coverURL, now, func(u *User, v string) { u.CoverImageURL = &v })
}

func (s *MemoryStore) updateImage(ctx context.Context, op, userID, url string, now time.Time, apply func(*User, string)) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	url = strings.TrimSpace(url)
	if url == "" {
		return User{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "blank url"}
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.users[userID]
	if !ok {
		return User{}, NotFoundError{Op: op, Resource: "user"}
	}
	apply(&rec.user, url)
	rec.user.UpdatedAt = now
	return rec.user, nil
}

// SetRefreshToken overwrites the stored refresh token (last writer wins).
func (s *MemoryStore) SetRefreshToken(ctx context.Context, userID, token string, now time.Time) error {
	const op = "identity.SetRefreshToken"

	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(token) == "" {
		return OpError{Op: op, Kind: ErrInvalidInput, Msg: "blank refresh token"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.users[userID]
	if !ok {
		return NotFoundError{Op: op, Resource: "user"}
	}
	rec.refreshToken = &token
	rec.user.UpdatedAt = nonZero(now)
	return nil
}

// ClearRefreshToken clears the stored refresh token; repeated calls are no-ops.
func (s *MemoryStore) ClearRefreshToken(ctx context.Context, userID string, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.users[userID]
	if !ok {
		// Idempotent by contract: clearing for a vanished user is harmless.
		return nil
	}
	rec.refreshToken = nil
	rec.user.UpdatedAt = nonZero(now)
	return nil
}

// UpdatePassword replaces the stored password hash.
func (s *MemoryStore) UpdatePassword(ctx context.Context, userID, passwordHash string, now time.Time) error {
	const op = "identity.UpdatePassword"

	if err := ctx.Err(); err != nil {
		return err
	}
	if passwordHash == "" {
		return OpError{Op: op, Kind: ErrInvalidInput, Msg: "blank password hash"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.users[userID]
	if !ok {
		return NotFoundError{Op: op, Resource: "user"}
	}
	rec.passwordHash = passwordHash
	rec.user.UpdatedAt = nonZero(now)
	return nil
}

func (m *memUser) auth() UserAuth {
	out := UserAuth{User: m.user, PasswordHash: m.passwordHash}
	if m.refreshToken != nil {
		v := *m.refreshToken
		out.RefreshToken = &v
	}
	return out
}

func trimPtr(p *string) *string {
	if p == nil {
		return nil
	}
	s := strings.TrimSpace(*p)
	if s == "" {
		return nil
	}
	return &s
}

func nonZero(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}
