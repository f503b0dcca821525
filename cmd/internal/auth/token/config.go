package token

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

// ErrConfig reports invalid or missing token configuration.
var ErrConfig = errors.New("token: invalid config")

// Config defines the signing material and lifetimes for both token kinds.
//
// There are no default secrets or lifetimes. Every deployment must state
// its own values explicitly; a service that starts without them is a
// misconfiguration, not a degraded mode.
type Config struct {
	// Issuer is the value set in the "iss" claim of both token kinds.
	Issuer string

	// AccessSecret signs access tokens; RefreshSecret signs refresh
	// tokens. They must differ.
	AccessSecret  []byte
	RefreshSecret []byte

	AccessTTL  time.Duration
	RefreshTTL time.Duration

	// ClockSkew is the allowed time skew during token validation.
	ClockSkew time.Duration
}

func (c Config) validate() error {
	if len(c.AccessSecret) < 32 {
		return fmt.Errorf("%w: access secret shorter than 32 bytes", ErrConfig)
	}
	if len(c.RefreshSecret) < 32 {
		return fmt.Errorf("%w: refresh secret shorter than 32 bytes", ErrConfig)
	}
	if len(c.AccessSecret) == len(c.RefreshSecret) &&
		subtle.ConstantTimeCompare(c.AccessSecret, c.RefreshSecret) == 1 {
		return fmt.Errorf("%w: access and refresh secrets must differ", ErrConfig)
	}
	if c.AccessTTL <= 0 {
		return fmt.Errorf("%w: non-positive access TTL", ErrConfig)
	}
	if c.RefreshTTL <= 0 {
		return fmt.Errorf("%w: non-positive refresh TTL", ErrConfig)
	}
	if c.ClockSkew < 0 {
		return fmt.Errorf("%w: negative clock skew", ErrConfig)
	}
	return nil
}

// LoadConfigFromEnv loads token configuration from environment variables.
//
// Required (all four; durations must be valid Go duration strings):
//   - TUBE_ACCESS_TOKEN_SECRET
//   - TUBE_ACCESS_TOKEN_TTL
//   - TUBE_REFRESH_TOKEN_SECRET
//   - TUBE_REFRESH_TOKEN_TTL
//
// Optional:
//   - TUBE_AUTH_ISSUER (default "tube")
//   - TUBE_AUTH_CLOCK_SKEW (default 30s)
func LoadConfigFromEnv() (Config, error) {
	cfg := Config{
		Issuer:    "tube",
		ClockSkew: 30 * time.Second,
	}

	if v := strings.TrimSpace(os.Getenv("TUBE_AUTH_ISSUER")); v != "" {
		cfg.Issuer = v
	}

	var err error
	if cfg.AccessSecret, err = requiredSecret("TUBE_ACCESS_TOKEN_SECRET"); err != nil {
		return Config{}, err
	}
	if cfg.RefreshSecret, err = requiredSecret("TUBE_REFRESH_TOKEN_SECRET"); err != nil {
		return Config{}, err
	}
	if cfg.AccessTTL, err = requiredDuration("TUBE_ACCESS_TOKEN_TTL"); err != nil {
		return Config{}, err
	}
	if cfg.RefreshTTL, err = requiredDuration("TUBE_REFRESH_TOKEN_TTL"); err != nil {
		return Config{}, err
	}

	if v := strings.TrimSpace(os.Getenv("TUBE_AUTH_CLOCK_SKEW")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return Config{}, fmt.Errorf("%w: TUBE_AUTH_CLOCK_SKEW=%q", ErrConfig, v)
		}
		cfg.ClockSkew = d
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func requiredSecret(name string) ([]byte, error) {
	v := os.Getenv(name)
	if strings.TrimSpace(v) == "" {
		return nil, fmt.Errorf("%w: %s is required, no default", ErrConfig, name)
	}
	return []byte(v), nil
}

func requiredDuration(name string) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return 0, fmt.Errorf("%w: %s is required, no default", ErrConfig, name)
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("%w: %s=%q", ErrConfig, name, v)
	}
	return d, nil
}
