package app

import "time"

// Config contains all runtime configuration loaded from environment variables.
//
// Token secrets and TTLs and the password cost factor are NOT here: those
// are required, defaultless, and owned by their packages (auth/token,
// security/password).
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32
	MigrateUp   bool

	// If true, /readyz returns 503 unless DB is configured and reachable.
	ReadinessRequireDB bool

	// Browser-facing policy. Origins may end in ":*" to allow any port,
	// which is useful for local frontend dev servers.
	CORSAllowedOrigins   []string
	CORSAllowCredentials bool
	CORSMaxAgeSeconds    int

	// Asset storage. When S3 is not configured, uploads land on local disk
	// under MediaDir and are served from /static/.
	MediaDir         string
	S3Region         string
	S3Endpoint       string
	S3AccessKey      string
	S3SecretKey      string
	S3Bucket         string
	S3PublicBaseURL  string
	S3KeyPrefix      string
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr:  EnvString("TUBE_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel:  EnvString("TUBE_LOG_LEVEL", "info"),
		LogFormat: EnvString("TUBE_LOG_FORMAT", "json"),

		ReadHeaderTimeout: EnvDuration("TUBE_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("TUBE_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("TUBE_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("TUBE_HTTP_IDLE_TIMEOUT", 60*time.Second),

		MaxHeaderBytes: EnvInt("TUBE_HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL: EnvString("TUBE_DATABASE_URL", ""),
		DBMaxConns:  EnvInt32("TUBE_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("TUBE_DB_MIN_CONNS", 0),
		MigrateUp:   EnvBool("TUBE_DB_MIGRATE", true),

		ReadinessRequireDB: EnvBool("TUBE_READINESS_REQUIRE_DB", false),

		CORSAllowedOrigins:   EnvStringList("TUBE_CORS_ALLOWED_ORIGINS", nil),
		CORSAllowCredentials: EnvBool("TUBE_CORS_ALLOW_CREDENTIALS", true),
		CORSMaxAgeSeconds:    EnvInt("TUBE_CORS_MAX_AGE_SECONDS", 600),

		MediaDir:        EnvString("TUBE_MEDIA_DIR", "./data/media"),
		S3Region:        EnvString("TUBE_S3_REGION", ""),
		S3Endpoint:      EnvString("TUBE_S3_ENDPOINT", ""),
		S3AccessKey:     EnvString("TUBE_S3_ACCESS_KEY", ""),
		S3SecretKey:     EnvString("TUBE_S3_SECRET_KEY", ""),
		S3Bucket:        EnvString("TUBE_S3_BUCKET", ""),
		S3PublicBaseURL: EnvString("TUBE_S3_PUBLIC_BASE_URL", ""),
		S3KeyPrefix:     EnvString("TUBE_S3_KEY_PREFIX", "media"),
	}
}

// S3Configured reports whether the object-store settings are complete
// enough to use S3 instead of local disk.
func (c Config) S3Configured() bool {
	return c.S3Region != "" && c.S3AccessKey != "" && c.S3SecretKey != "" &&
		c.S3Bucket != "" && c.S3PublicBaseURL != ""
}
