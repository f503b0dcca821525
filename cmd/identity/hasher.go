package identity

import (
	"errors"

	"tube/cmd/security/password"
)

// Hasher wraps the Argon2id implementation behind the identity error taxonomy.
//
// It is constructed once at startup from an explicit password.Config; Hash and
// Verify never consult ambient configuration.
type Hasher struct {
	cfg password.Config
}

// NewHasher builds a Hasher from an explicit configuration.
func NewHasher(cfg password.Config) *Hasher {
	return &Hasher{cfg: cfg}
}

// Hash returns a PHC-style Argon2id hash string.
// A blank password (after trimming) fails with ErrInvalidInput; the result is
// never the plain input.
func (h *Hasher) Hash(plain string) (string, error) {
	const op = "identity.Hash"

	enc, err := h.cfg.Hash(plain)
	if err != nil {
		switch {
		case errors.Is(err, password.ErrPasswordEmpty),
			errors.Is(err, password.ErrPasswordTooShort),
			errors.Is(err, password.ErrPasswordTooLong):
			return "", OpError{Op: op, Kind: ErrInvalidInput, Msg: err.Error()}
		default:
			return "", err
		}
	}
	return enc, nil
}

// Verify checks plain against an encoded Argon2id hash in constant time.
// A mismatch is (false, nil); only a malformed stored hash is an error, and it
// surfaces as ErrCorruptData.
func (h *Hasher) Verify(plain, encodedHash string) (bool, error) {
	const op = "identity.Verify"

	ok, err := h.cfg.Verify(encodedHash, plain)
	if err != nil {
		if errors.Is(err, password.ErrInvalidHash) {
			return false, OpError{Op: op, Kind: ErrCorruptData, Msg: "malformed password hash"}
		}
		return false, err
	}
	return ok, nil
}
