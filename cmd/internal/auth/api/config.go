package api

import (
	"net/http"
	"os"
	"strconv"
	"strings"
)

// Config controls transport behavior: body/upload limits and cookie
// attributes for the two credential carriers.
type Config struct {
	MaxBodyBytes   int64
	MaxUploadBytes int64

	CookiePath     string
	CookieDomain   string
	CookieSecure   bool
	CookieSameSite http.SameSite
}

// LoadConfigFromEnv loads API config from environment variables with safe
// defaults. All keys are optional:
//   - TUBE_API_MAX_BODY_BYTES (default 1 MiB)
//   - TUBE_API_MAX_UPLOAD_BYTES (default 8 MiB)
//   - TUBE_API_COOKIE_PATH (default "/")
//   - TUBE_API_COOKIE_DOMAIN
//   - TUBE_API_COOKIE_SECURE (default true)
func LoadConfigFromEnv() Config {
	cfg := Config{
		MaxBodyBytes:   envInt64("TUBE_API_MAX_BODY_BYTES", 1<<20),
		MaxUploadBytes: envInt64("TUBE_API_MAX_UPLOAD_BYTES", 8<<20),
		CookiePath:     "/",
		CookieSecure:   envBool("TUBE_API_COOKIE_SECURE", true),
		CookieSameSite: http.SameSiteLaxMode,
	}

	if v := strings.TrimSpace(os.Getenv("TUBE_API_COOKIE_PATH")); v != "" {
		cfg.CookiePath = v
	}
	cfg.CookieDomain = strings.TrimSpace(os.Getenv("TUBE_API_COOKIE_DOMAIN"))

	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 8 << 20
	}

	return cfg
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt64(key string, def int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
