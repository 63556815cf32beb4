package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"vidtube-backend/internal/auth"
	"vidtube-backend/internal/config"
	"vidtube-backend/internal/db"
	"vidtube-backend/internal/httpx"
	"vidtube-backend/internal/maintenance"
	"vidtube-backend/internal/media"
	"vidtube-backend/internal/observability"
	"vidtube-backend/internal/subscription"
	"vidtube-backend/internal/video"
)

type Options struct {
	LoadDotEnv        bool
	DisableMigrations bool
}

type Runtime struct {
	Config  config.Config
	Logger  *observability.Logger
	Handler http.Handler
	Close   func() error
}

func Build(options Options) (*Runtime, error) {
	if options.LoadDotEnv {
		_ = godotenv.Load()
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger := observability.New(os.Stdout, cfg.LogLevel)

	if err := observability.InitSentry(cfg.SentryDSN, cfg.AppEnv); err != nil {
		logger.Error("init_sentry_failed", map[string]any{"error": err.Error()})
	}

	database, err := openDatabase(cfg.Database)
	if err != nil {
		return nil, err
	}
	closers := []func() error{database.Close}
	closeAll := func() error {
		observability.FlushSentry()
		var errs []error
		for i := len(closers) - 1; i >= 0; i-- {
			errs = append(errs, closers[i]())
		}
		return errors.Join(errs...)
	}
	fail := func(err error) (*Runtime, error) {
		_ = closeAll()
		return nil, err
	}

	if cfg.RunMigrations && !options.DisableMigrations {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		applied, err := db.RunMigrations(ctx, database)
		cancel()
		if err != nil {
			return fail(fmt.Errorf("run migrations: %w", err))
		}
		if len(applied) > 0 {
			logger.Info("migrations_applied", map[string]any{"versions": applied})
		}
	}

	provider, err := newMediaProvider(cfg.Media)
	if err != nil {
		return fail(err)
	}
	gateway := media.NewGateway(provider, logger)

	authRepo := auth.NewRepository(database)

	limitStore, closeLimiter, err := newLoginLimitStore(cfg.LoginRateLimit, authRepo)
	if err != nil {
		return fail(err)
	}
	if closeLimiter != nil {
		closers = append(closers, closeLimiter)
	}
	loginLimiter := auth.NewLoginRateLimiter(limitStore, cfg.LoginRateLimit.MaxHits, cfg.LoginRateLimit.Window, logger).
		WithTrustedProxy(cfg.LoginRateLimit.TrustProxy)

	tokens := auth.NewTokenService(authRepo, cfg.Token)
	boundary := httpx.NewBoundary(logger)
	authn := auth.NewAuthenticator(tokens, authRepo, boundary)

	userHandler := auth.NewHandler(authRepo, tokens, gateway, auth.HandlerConfig{
		Cookie:         cfg.Cookie,
		BcryptCost:     cfg.BcryptCost,
		UploadDir:      cfg.Media.UploadDir,
		MaxUploadBytes: cfg.Media.MaxUploadBytes,
	})
	videoHandler := video.NewHandler(video.NewRepository(database), gateway, authRepo, logger, video.HandlerConfig{
		UploadDir:      cfg.Media.UploadDir,
		MaxUploadBytes: cfg.Media.MaxUploadBytes,
	})
	subscriptionHandler := subscription.NewHandler(subscription.NewRepository(database))
	cleanupHandler := maintenance.NewCleanupHandler(authRepo, logger, cfg.Maintenance, cfg.Media.UploadDir)

	public := boundary.Handle
	protected := func(fn httpx.HandlerFunc) http.Handler {
		return authn.Require(boundary.Handle(fn))
	}

	mux := http.NewServeMux()

	const users = "/api/v1/users"
	mux.Handle("POST "+users+"/register", public(userHandler.Register))
	mux.Handle("POST "+users+"/login", loginLimiter.Middleware(public(userHandler.Login)))
	mux.Handle("POST "+users+"/resetToken", public(userHandler.RefreshToken))
	mux.Handle("POST "+users+"/logout", protected(userHandler.Logout))
	mux.Handle("POST "+users+"/resetPassword", protected(userHandler.ChangePassword))
	mux.Handle("PATCH "+users+"/resetPassword", protected(userHandler.ChangePassword))
	mux.Handle("GET "+users+"/getUser", protected(userHandler.CurrentUser))
	mux.Handle("POST "+users+"/getUser", protected(userHandler.CurrentUser))
	mux.Handle("PATCH "+users+"/updateUser", protected(userHandler.UpdateAccount))
	mux.Handle("PATCH "+users+"/updateAvatar", protected(userHandler.UpdateAvatar))
	mux.Handle("PATCH "+users+"/updateCoverImage", protected(userHandler.UpdateCoverImage))
	mux.Handle("GET "+users+"/channel/{username}", protected(userHandler.ChannelProfile))
	mux.Handle("GET "+users+"/watchHistory", protected(userHandler.WatchHistory))

	const videos = "/api/v1/videos"
	mux.Handle("GET "+videos, protected(videoHandler.List))
	mux.Handle("POST "+videos, protected(videoHandler.Publish))
	mux.Handle("GET "+videos+"/{videoId}", protected(videoHandler.Get))
	mux.Handle("PATCH "+videos+"/{videoId}", protected(videoHandler.Update))
	mux.Handle("DELETE "+videos+"/{videoId}", protected(videoHandler.Delete))
	mux.Handle("PATCH "+videos+"/toggle/publish/{videoId}", protected(videoHandler.TogglePublish))

	mux.Handle("POST /api/v1/subscriptions/c/{channelId}", protected(subscriptionHandler.Toggle))

	mux.Handle("GET /internal/maintenance/cleanup", public(cleanupHandler.Handle))
	mux.Handle("POST /internal/maintenance/cleanup", public(cleanupHandler.Handle))
	mux.HandleFunc("GET /health", healthHandler(database))
	mux.Handle("/", public(func(http.ResponseWriter, *http.Request) error {
		return httpx.NotFound("Route not found")
	}))

	handler := observability.RecoverMiddleware(logger, observability.RequestLoggingMiddleware(logger, mux))

	return &Runtime{
		Config:  cfg,
		Logger:  logger,
		Handler: handler,
		Close:   closeAll,
	}, nil
}

func openDatabase(cfg config.DatabaseConfig) (*sql.DB, error) {
	database, err := sql.Open("pgx", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	database.SetMaxOpenConns(cfg.MaxOpenConns)
	database.SetMaxIdleConns(cfg.MaxIdleConns)
	database.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	database.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := database.PingContext(ctx); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return database, nil
}

func newMediaProvider(cfg config.MediaConfig) (media.Provider, error) {
	switch cfg.Provider {
	case config.MediaProviderS3:
		storage, err := media.NewS3Storage(context.Background(), cfg.S3)
		if err != nil {
			return nil, fmt.Errorf("init s3 storage: %w", err)
		}
		return storage, nil
	default:
		client, err := media.NewCloudinary(cfg.CloudinaryURL, cfg.CloudinaryTimeout)
		if err != nil {
			return nil, fmt.Errorf("init cloudinary: %w", err)
		}
		return client, nil
	}
}

func newLoginLimitStore(cfg config.RateLimitConfig, repo *auth.Repository) (auth.LoginLimitStore, func() error, error) {
	switch cfg.Backend {
	case config.RateLimitBackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("ping redis: %w", err)
		}
		return auth.NewRedisLoginLimitStore(client), client.Close, nil
	case config.RateLimitBackendMemory:
		return auth.NewMemoryLoginLimitStore(), nil, nil
	default:
		return repo, nil, nil
	}
}

func healthHandler(database *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		body := map[string]any{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)}
		if err := database.PingContext(ctx); err != nil {
			status = http.StatusServiceUnavailable
			body = map[string]any{"status": "degraded", "time": time.Now().UTC().Format(time.RFC3339)}
		}

		httpx.WriteJSON(w, status, body)
	}
}
