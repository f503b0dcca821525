package identity

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements identity persistence over PostgreSQL.
//
// Design notes:
// - The pgx pool is owned by the caller; this store must NOT close it.
// - Schema/table identifiers are safely quoted to avoid SQL injection via identifiers.
// - Unique violations are mapped to ConflictError with a stable logical field name.
// - The refresh-token column is written last-writer-wins; concurrent logins for
//   the same account simply leave the most recent token active.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures the store.
type PostgresOption func(*PostgresStore) error

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// WithSchema sets the Postgres schema used by the identity store (default "tube").
// The schema name is validated to be a legal PostgreSQL identifier.
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return fmt.Errorf("identity: empty schema")
		}
		if !pgIdentRe.MatchString(schema) {
			return fmt.Errorf("identity: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore with secure defaults.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: "tube",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, fmt.Errorf("identity: nil pool")
	}
	return st, nil
}

var _ Store = (*PostgresStore)(nil)

const userColumns = `id, username, username_norm, email, email_norm, full_name, avatar_url, cover_image_url, created_at, updated_at`

// CreateUser creates the user row and its credential row transactionally.
func (s *PostgresStore) CreateUser(ctx context.Context, in CreateUserInput) (User, error) {
	const op = "identity.CreateUser"

	if s == nil || s.pool == nil {
		return User{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "nil store"}
	}
	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	username := strings.TrimSpace(in.Username)
	email := strings.TrimSpace(in.Email)
	fullName := strings.TrimSpace(in.FullName)
	avatarURL := strings.TrimSpace(in.AvatarURL)

	if username == "" || email == "" || fullName == "" {
		return User{}, pgInvalid(op, "missing required field")
	}
	if in.PasswordHash == "" {
		return User{}, pgInvalid(op, "missing password hash")
	}
	if avatarURL == "" {
		return User{}, pgInvalid(op, "missing avatar_url")
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	unameNorm := NormalizeUsername(username)
	emailNorm := NormalizeEmail(email)

	userID, err := NewULID(now)
	if err != nil {
		return User{}, err
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return User{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	users := pgIdent(s.schema, "users")
	creds := pgIdent(s.schema, "user_credentials")

	_, err = tx.Exec(ctx,
		`INSERT INTO `+users+` (
		     id, username, username_norm, email, email_norm, full_name,
		     avatar_url, cover_image_url, created_at, updated_at
		   ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)`,
		userID,
		username,
		unameNorm,
		email,
		emailNorm,
		fullName,
		avatarURL,
		pgTrimPtr(in.CoverImageURL),
		now,
	)
	if err != nil {
		if field, ok := pgClassifyUniqueViolation(err); ok {
			return User{}, ConflictError{Op: op, Field: field}
		}
		return User{}, err
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO `+creds+` (user_id, password_hash, refresh_token, created_at, updated_at)
		 VALUES ($1, $2, NULL, $3, $3)`,
		userID, in.PasswordHash, now,
	)
	if err != nil {
		// An FK failure here indicates programming/schema inconsistency.
		return User{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return User{}, err
	}

	return User{
		ID:            userID,
		Username:      username,
		UsernameNorm:  unameNorm,
		Email:         email,
		EmailNorm:     emailNorm,
		FullName:      fullName,
		AvatarURL:     avatarURL,
		CoverImageURL: pgTrimPtr(in.CoverImageURL),
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// GetUserByID loads the stripped projection (no credential columns).
func (s *PostgresStore) GetUserByID(ctx context.Context, id string) (User, error) {
	const op = "identity.GetUserByID"

	if s == nil || s.pool == nil {
		return User{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "nil store"}
	}
	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	if strings.TrimSpace(id) == "" {
		return User{}, pgInvalid(op, "missing id")
	}

	users := pgIdent(s.schema, "users")

	row := s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM `+users+` WHERE id = $1`,
		id,
	)
	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, NotFoundError{Op: op, Resource: "user"}
		}
		return User{}, err
	}
	return u, nil
}

// GetUserAuthByID loads the credential projection by id.
func (s *PostgresStore) GetUserAuthByID(ctx context.Context, id string) (UserAuth, error) {
	const op = "identity.GetUserAuthByID"

	if strings.TrimSpace(id) == "" {
		return UserAuth{}, pgInvalid(op, "missing id")
	}
	return s.getUserAuth(ctx, op, `u.id = $1`, id)
}

// GetUserAuthByUsernameOrEmail resolves a login identifier to the credential
// projection. Either identifier may be blank; matching is on normalized values.
func (s *PostgresStore) GetUserAuthByUsernameOrEmail(ctx context.Context, username, email string) (UserAuth, error) {
	const op = "identity.GetUserAuthByUsernameOrEmail"

	unameNorm := NormalizeUsername(username)
	emailNorm := NormalizeEmail(email)
	if unameNorm == "" && emailNorm == "" {
		return UserAuth{}, pgInvalid(op, "username or email is required")
	}

	return s.getUserAuth(ctx, op,
		`(u.username_norm = $1 AND $1 <> '') OR (u.email_norm = $2 AND $2 <> '')`,
		unameNorm, emailNorm,
	)
}

func (s *PostgresStore) getUserAuth(ctx context.Context, op, where string, args ...any) (UserAuth, error) {
	if s == nil || s.pool == nil {
		return UserAuth{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "nil store"}
	}
	if err := ctx.Err(); err != nil {
		return UserAuth{}, err
	}

	users := pgIdent(s.schema, "users")
	creds := pgIdent(s.schema, "user_credentials")

	var (
		out      UserAuth
		coverURL *string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT u.id, u.username, u.username_norm, u.email, u.email_norm, u.full_name,
		        u.avatar_url, u.cover_image_url, u.created_at, u.updated_at,
		        c.password_hash, c.refresh_token
		   FROM `+users+` u
		   JOIN `+creds+` c ON c.user_id = u.id
		  WHERE `+where,
		args...,
	).Scan(
		&out.ID,
		&out.Username,
		&out.UsernameNorm,
		&out.Email,
		&out.EmailNorm,
		&out.FullName,
		&out.AvatarURL,
		&coverURL,
		&out.CreatedAt,
		&out.UpdatedAt,
		&out.PasswordHash,
		&out.RefreshToken,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return UserAuth{}, NotFoundError{Op: op, Resource: "user"}
		}
		return UserAuth{}, err
	}
	out.CoverImageURL = coverURL
	return out, nil
}

// UpdateProfile applies a partial update to fullname/email.
func (s *PostgresStore) UpdateProfile(ctx context.Context, userID string, in UpdateProfileInput, now time.Time) (User, error) {
	const op = "identity.UpdateProfile"

	if s == nil || s.pool == nil {
		return User{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "nil store"}
	}
	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	if strings.TrimSpace(userID) == "" {
		return User{}, pgInvalid(op, "missing user_id")
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	set := []string{"updated_at = $1"}
	args := []any{now}

	if in.FullName != nil {
		v := strings.TrimSpace(*in.FullName)
		if v == "" {
			return User{}, pgInvalid(op, "blank fullname")
		}
		args = append(args, v)
		set = append(set, fmt.Sprintf("full_name = $%d", len(args)))
	}
	if in.Email != nil {
		v := strings.TrimSpace(*in.Email)
		if v == "" {
			return User{}, pgInvalid(op, "blank email")
		}
		args = append(args, v)
		set = append(set, fmt.Sprintf("email = $%d", len(args)))
		args = append(args, NormalizeEmail(v))
		set = append(set, fmt.Sprintf("email_norm = $%d", len(args)))
	}

	users := pgIdent(s.schema, "users")
	args = append(args, userID)

	row := s.pool.QueryRow(ctx,
		`UPDATE `+users+`
		    SET `+strings.Join(set, ", ")+`
		  WHERE id = $`+fmt.Sprint(len(args))+`
		  RETURNING `+userColumns,
		args...,
	)
	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, NotFoundError{Op: op, Resource: "user"}
		}
		if field, ok := pgClassifyUniqueViolation(err); ok {
			return User{}, ConflictError{Op: op, Field: field}
		}
		return User{}, err
	}
	return u, nil
}

// UpdateAvatar replaces the avatar reference.
func (s *PostgresStore) UpdateAvatar(ctx context.Context, userID, avatarURL string, now time.Time) (User, error) {
	const op = "identity.UpdateAvatar"
	return s.updateImage(ctx, op, "avatar_url", userID, avatarURL, now)
}

// UpdateCoverImage replaces the cover image reference.
func (s *PostgresStore) UpdateCoverImage(ctx context.Context, userID, coverURL string, now time.Time) (User, error) {
	const op = "identity.UpdateCoverImage"
	return s.updateImage(ctx, op, "cover_image_url", userID, coverURL, now)
}

func (s *PostgresStore) updateImage(ctx context.Context, op, column, userID, url string, now time.Time) (User, error) {
	if s == nil || s.pool == nil {
		return User{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "nil store"}
	}
	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	if strings.TrimSpace(userID) == "" {
		return User{}, pgInvalid(op, "missing user_id")
	}
	url = strings.TrimSpace(url)
	if url == "" {
		return User{}, pgInvalid(op, "blank url")
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	users := pgIdent(s.schema, "users")

	// column is a compile-time constant from the two callers above; never
	// interpolate caller-provided identifiers here.
	row := s.pool.QueryRow(ctx,
		`UPDATE `+users+`
		    SET `+column+` = $1, updated_at = $2
		  WHERE id = $3
		  RETURNING `+userColumns,
		url, now, userID,
	)
	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, NotFoundError{Op: op, Resource: "user"}
		}
		return User{}, err
	}
	return u, nil
}

// SetRefreshToken overwrites the stored refresh token (last writer wins).
func (s *PostgresStore) SetRefreshToken(ctx context.Context, userID, token string, now time.Time) error {
	const op = "identity.SetRefreshToken"

	if s == nil || s.pool == nil {
		return OpError{Op: op, Kind: ErrInvalidInput, Msg: "nil store"}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(userID) == "" {
		return pgInvalid(op, "missing user_id")
	}
	if strings.TrimSpace(token) == "" {
		return pgInvalid(op, "blank refresh token")
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	creds := pgIdent(s.schema, "user_credentials")

	ct, err := s.pool.Exec(ctx,
		`UPDATE `+creds+`
		    SET refresh_token = $1, updated_at = $2
		  WHERE user_id = $3`,
		token, now, userID,
	)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return NotFoundError{Op: op, Resource: "user"}
	}
	return nil
}

// ClearRefreshToken clears the stored refresh token; repeated calls are no-ops.
func (s *PostgresStore) ClearRefreshToken(ctx context.Context, userID string, now time.Time) error {
	const op = "identity.ClearRefreshToken"

	if s == nil || s.pool == nil {
		return OpError{Op: op, Kind: ErrInvalidInput, Msg: "nil store"}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(userID) == "" {
		return pgInvalid(op, "missing user_id")
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	creds := pgIdent(s.schema, "user_credentials")

	// Idempotent by contract; zero rows affected is not an error.
	_, err := s.pool.Exec(ctx,
		`UPDATE `+creds+`
		    SET refresh_token = NULL, updated_at = $1
		  WHERE user_id = $2
		    AND refresh_token IS NOT NULL`,
		now, userID,
	)
	return err
}

// UpdatePassword replaces the stored password hash.
func (s *PostgresStore) UpdatePassword(ctx context.Context, userID, passwordHash string, now time.Time) error {
	const op = "identity.UpdatePassword"

	if s == nil || s.pool == nil {
		return OpError{Op: op, Kind: ErrInvalidInput, Msg: "nil store"}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(userID) == "" {
		return pgInvalid(op, "missing user_id")
	}
	if passwordHash == "" {
		return pgInvalid(op, "blank password hash")
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	creds := pgIdent(s.schema, "user_credentials")

	ct, err := s.pool.Exec(ctx,
		`UPDATE `+creds+`
		    SET password_hash = $1, updated_at = $2
		  WHERE user_id = $3`,
		passwordHash, now, userID,
	)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return NotFoundError{Op: op, Resource: "user"}
	}
	return nil
}

// ---- helpers ----

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (User, error) {
	var (
		u        User
		coverURL *string
	)
	err := row.Scan(
		&u.ID,
		&u.Username,
		&u.UsernameNorm,
		&u.Email,
		&u.EmailNorm,
		&u.FullName,
		&u.AvatarURL,
		&coverURL,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		return User{}, err
	}
	u.CoverImageURL = coverURL
	return u, nil
}

// pgTrimPtr trims a string pointer, returning nil if result is empty.
func pgTrimPtr(p *string) *string {
	if p == nil {
		return nil
	}
	s := strings.TrimSpace(*p)
	if s == "" {
		return nil
	}
	return &s
}

// pgInvalid standardizes invalid input errors.
func pgInvalid(op, msg string) error {
	return OpError{Op: op, Kind: ErrInvalidInput, Msg: msg}
}

// pgIdent safely quotes a schema-qualified identifier: "schema"."name".
func pgIdent(schema, name string) string {
	return pgx.Identifier{schema, name}.Sanitize()
}

func pgClassifyUniqueViolation(err error) (field string, ok bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return "", false
	}
	if pgErr.Code != "23505" { // unique_violation
		return "", false
	}

	// Prefer stable schema constraint names; fall back to substring matching.
	c := strings.ToLower(strings.TrimSpace(pgErr.ConstraintName))

	switch c {
	case "uq_users_username_norm":
		return "username", true
	case "uq_users_email_norm":
		return "email", true
	default:
		switch {
		case strings.Contains(c, "username"):
			return "username", true
		case strings.Contains(c, "email"):
			return "email", true
		}
		return "unknown", true
	}
}
