// Package app wires the Tube server runtime: config, logging, persistence,
// media storage, and the account HTTP API.
package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"tube/cmd/identity"
	"tube/cmd/internal/assets"
	"tube/cmd/internal/auth/api"
	"tube/cmd/internal/auth/session"
	"tube/cmd/internal/auth/token"
	"tube/cmd/security/password"
)

// Store is a small app-level lifecycle abstraction.
// It exists to allow DB-backed resources to be closed gracefully.
type Store interface {
	Close(ctx context.Context) error
}

// nopStore is used for in-memory store mode.
type nopStore struct{}

func (nopStore) Close(_ context.Context) error { return nil }

// App is the Tube server runtime. It owns the HTTP server wiring and the
// lifecycle of the database pool.
type App struct {
	cfg Config
	log *slog.Logger

	store Store

	dbPool    *pgxpool.Pool
	dbEnabled bool

	metrics     *Metrics
	localAssets *assets.LocalStore

	auth *api.Handler
}

// New constructs a fully wired App instance from config and logger.
func New(cfg Config, log *slog.Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}

	st, pool, dbEnabled, userStore, err := newUserStore(context.Background(), cfg, log)
	if err != nil {
		return nil, err
	}

	uploads, localAssets, err := newAssetStore(context.Background(), cfg, log)
	if err != nil {
		_ = st.Close(context.Background())
		return nil, err
	}

	pwCfg, err := password.FromEnv()
	if err != nil {
		_ = st.Close(context.Background())
		return nil, err
	}
	hasher := identity.NewHasher(pwCfg)

	tokCfg, err := token.LoadConfigFromEnv()
	if err != nil {
		_ = st.Close(context.Background())
		return nil, err
	}
	tokens, err := token.NewManager(tokCfg)
	if err != nil {
		_ = st.Close(context.Background())
		return nil, err
	}

	svc := session.NewService(userStore, hasher, tokens)

	authHandler, err := api.NewHandler(log, api.LoadConfigFromEnv(), svc, tokens, uploads)
	if err != nil {
		_ = st.Close(context.Background())
		return nil, err
	}

	return &App{
		cfg:         cfg,
		log:         log,
		store:       st,
		dbPool:      pool,
		dbEnabled:   dbEnabled,
		metrics:     NewMetrics(),
		localAssets: localAssets,
		auth:        authHandler,
	}, nil
}

// Run starts the HTTP server and blocks until context cancellation or fatal server error.
func (a *App) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.cfg, a.dbPool, a.dbEnabled, a.metrics, a.localAssets, a.auth)

	handler := WithCORS(mux, a.cfg, a.log)
	handler = WithSecurityHeaders(handler)
	handler = WithRequestLogging(handler, a.log, a.metrics)

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	a.log.Info("server.start", "addr", a.cfg.HTTPAddr, "db_enabled", a.dbEnabled)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		return err
	}

	if err := a.store.Close(shutdownCtx); err != nil {
		a.log.Error("store.close.fail", "err", err)
	}

	a.log.Info("server.stopped")
	return nil
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// newUserStore decides between Postgres-backed persistence and an in-memory dev store.
func newUserStore(ctx context.Context, cfg Config, log *slog.Logger) (Store, *pgxpool.Pool, bool, identity.Store, error) {
	if cfg.DatabaseURL == "" {
		log.Info("db.disabled.inmemory_store")
		return nopStore{}, nil, false, identity.NewMemoryStore(), nil
	}

	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return nil, nil, false, nil, err
	}

	if cfg.MigrateUp {
		if err := RunMigrations(cfg.DatabaseURL); err != nil {
			pool.Close()
			return nil, nil, false, nil, err
		}
		log.Info("db.migrations.applied")
	}

	// The store's default schema matches the embedded migrations; a
	// configurable schema here would point at tables the migrator never
	// creates.
	userStore, err := identity.NewPostgresStore(pool)
	if err != nil {
		pool.Close()
		return nil, nil, false, nil, err
	}

	log.Info("db.enabled.postgres_store")

	return dbStore{pool: pool}, pool, true, userStore, nil
}

type dbStore struct {
	pool *pgxpool.Pool
}

func (s dbStore) Close(_ context.Context) error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

// newAssetStore picks object storage when S3 settings are complete,
// falling back to a local directory served under /static/.
func newAssetStore(ctx context.Context, cfg Config, log *slog.Logger) (assets.Store, *assets.LocalStore, error) {
	if cfg.S3Configured() {
		s3Store, err := assets.NewS3Store(ctx, assets.S3Config{
			Region:        cfg.S3Region,
			Endpoint:      cfg.S3Endpoint,
			AccessKey:     cfg.S3AccessKey,
			SecretKey:     cfg.S3SecretKey,
			Bucket:        cfg.S3Bucket,
			PublicBaseURL: cfg.S3PublicBaseURL,
			KeyPrefix:     cfg.S3KeyPrefix,
		})
		if err != nil {
			return nil, nil, err
		}
		log.Info("media.s3_store", "bucket", cfg.S3Bucket)
		return s3Store, nil, nil
	}

	local, err := assets.NewLocalStore(cfg.MediaDir, "/static")
	if err != nil {
		return nil, nil, err
	}
	log.Info("media.local_store", "dir", cfg.MediaDir)
	return local, local, nil
}
