// Package token issues and verifies the signed tokens used by the auth
// subsystem.
//
// Two kinds of tokens exist, signed with independent HS256 secrets:
//
//   - Access tokens are short-lived and carry enough identity claims for
//     request handling without a store round-trip.
//   - Refresh tokens are long-lived and carry only the subject; everything
//     else is re-read from the store when the token is redeemed.
//
// Keeping the secrets distinct means a leaked access secret cannot be used
// to mint refresh tokens, and vice versa.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	// ErrExpired reports a structurally valid token past its expiry.
	ErrExpired = errors.New("token: expired")

	// ErrInvalid reports a token that is malformed, has a bad signature,
	// was signed for the other token kind, or is not yet valid.
	ErrInvalid = errors.New("token: invalid")
)

// AccessClaims is the payload carried by access tokens.
type AccessClaims struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	FullName string `json:"fullname"`
	jwt.RegisteredClaims
}

// RefreshClaims is the payload carried by refresh tokens. Deliberately
// minimal: the subject plus a unique token ID is all a refresh grant needs.
type RefreshClaims struct {
	jwt.RegisteredClaims
}

// Identity is the subset of account fields embedded into access tokens.
type Identity struct {
	ID       string
	Username string
	Email    string
	FullName string
}

// Manager signs and verifies both token kinds.
type Manager struct {
	cfg Config
}

// NewManager validates cfg and returns a Manager.
func NewManager(cfg Config) (*Manager, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Manager{cfg: cfg}, nil
}

// AccessTTL reports the configured access-token lifetime.
func (m *Manager) AccessTTL() time.Duration { return m.cfg.AccessTTL }

// RefreshTTL reports the configured refresh-token lifetime.
func (m *Manager) RefreshTTL() time.Duration { return m.cfg.RefreshTTL }

// IssueAccess signs a new access token for id, valid from now.
func (m *Manager) IssueAccess(id Identity, now time.Time) (string, error) {
	if id.ID == "" {
		return "", fmt.Errorf("token: issue access: %w: empty subject", ErrInvalid)
	}
	now = now.UTC()

	claims := AccessClaims{
		Username: id.Username,
		Email:    id.Email,
		FullName: id.FullName,
		RegisteredClaims: jwt.RegisteredClaims{
			// Timestamps have second granularity, so the token ID is
			// what makes two issuances for one subject distinct.
			ID:        uuid.NewString(),
			Subject:   id.ID,
			Issuer:    m.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.cfg.AccessTTL)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.cfg.AccessSecret)
	if err != nil {
		return "", fmt.Errorf("token: sign access: %w", err)
	}
	return signed, nil
}

// IssueRefresh signs a new refresh token for userID, valid from now.
func (m *Manager) IssueRefresh(userID string, now time.Time) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("token: issue refresh: %w: empty subject", ErrInvalid)
	}
	now = now.UTC()

	claims := RefreshClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			// The token ID guarantees rotation: a refresh issued in the
			// same second as its predecessor must still differ, or the
			// stored-token comparison could not tell old from new.
			ID:        uuid.NewString(),
			Subject:   userID,
			Issuer:    m.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.cfg.RefreshTTL)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.cfg.RefreshSecret)
	if err != nil {
		return "", fmt.Errorf("token: sign refresh: %w", err)
	}
	return signed, nil
}

// VerifyAccess checks signature and validity window of an access token.
func (m *Manager) VerifyAccess(raw string) (AccessClaims, error) {
	var claims AccessClaims
	if err := m.verify(raw, &claims, m.cfg.AccessSecret); err != nil {
		return AccessClaims{}, err
	}
	return claims, nil
}

// VerifyRefresh checks signature and validity window of a refresh token.
func (m *Manager) VerifyRefresh(raw string) (RefreshClaims, error) {
	var claims RefreshClaims
	if err := m.verify(raw, &claims, m.cfg.RefreshSecret); err != nil {
		return RefreshClaims{}, err
	}
	return claims, nil
}

func (m *Manager) verify(raw string, claims jwt.Claims, secret []byte) error {
	if raw == "" {
		return fmt.Errorf("token: verify: %w: empty token", ErrInvalid)
	}

	parsed, err := jwt.ParseWithClaims(raw, claims,
		func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %q", t.Header["alg"])
			}
			return secret, nil
		},
		jwt.WithIssuer(m.cfg.Issuer),
		jwt.WithLeeway(m.cfg.ClockSkew),
		jwt.WithExpirationRequired(),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpired
	case err != nil:
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	case !parsed.Valid:
		return ErrInvalid
	}

	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return fmt.Errorf("%w: missing subject", ErrInvalid)
	}
	return nil
}
