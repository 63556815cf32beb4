package config

import (
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	MediaProviderCloudinary = "cloudinary"
	MediaProviderS3         = "s3"

	RateLimitBackendPostgres = "postgres"
	RateLimitBackendRedis    = "redis"
	RateLimitBackendMemory   = "memory"
)

// Config is the immutable runtime configuration. It is built once by Load and
// passed by value into every component that needs a setting.
type Config struct {
	Port          string
	AppEnv        string
	LogLevel      string
	SentryDSN     string
	RunMigrations bool

	Database       DatabaseConfig
	Token          TokenConfig
	Cookie         CookieConfig
	BcryptCost     int
	Media          MediaConfig
	LoginRateLimit RateLimitConfig
	Maintenance    MaintenanceConfig
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

type TokenConfig struct {
	AccessSecret  string
	AccessTTL     time.Duration
	RefreshSecret string
	RefreshTTL    time.Duration
}

type CookieConfig struct {
	Secure   bool
	SameSite http.SameSite
	Domain   string
}

type MediaConfig struct {
	Provider          string
	CloudinaryURL     string
	CloudinaryTimeout time.Duration
	S3                S3Config
	UploadDir         string
	MaxUploadBytes    int64
}

type S3Config struct {
	Bucket        string
	Region        string
	Endpoint      string
	PublicBaseURL string
}

type RateLimitConfig struct {
	Backend       string
	MaxHits       int
	Window        time.Duration
	RedisAddr     string
	RedisPassword string
	// TrustProxy keys the limiter on X-Forwarded-For. Enable it only behind
	// a proxy that overwrites the header, such as the serverless platform.
	TrustProxy    bool
}

type MaintenanceConfig struct {
	CronSecret          string
	BatchSize           int
	IPLimitRetention    time.Duration
	UploadTempRetention time.Duration
}

// Load reads the configuration from the process environment.
func Load() (Config, error) {
	cfg := Config{
		Port:          EnvOrDefault("PORT", "8000"),
		AppEnv:        EnvOrDefault("APP_ENV", "development"),
		LogLevel:      EnvOrDefault("LOG_LEVEL", "info"),
		SentryDSN:     strings.TrimSpace(os.Getenv("SENTRY_DSN")),
		RunMigrations: EnvBoolOrDefault("RUN_MIGRATIONS_ON_STARTUP", true),
		BcryptCost:    envIntOrDefault("BCRYPT_COST", 10),
	}

	var err error
	if cfg.Database.URL, err = mustEnv("DATABASE_URL"); err != nil {
		return Config{}, err
	}
	cfg.Database.MaxOpenConns = envIntOrDefault("DB_MAX_OPEN_CONNS", 10)
	cfg.Database.MaxIdleConns = envIntOrDefault("DB_MAX_IDLE_CONNS", 5)
	cfg.Database.ConnMaxLifetime = envMinutesOrDefault("DB_CONN_MAX_LIFETIME_MINUTES", 30)
	cfg.Database.ConnMaxIdleTime = envMinutesOrDefault("DB_CONN_MAX_IDLE_TIME_MINUTES", 10)

	if cfg.Token.AccessSecret, err = mustEnv("ACCESS_TOKEN_SECRET"); err != nil {
		return Config{}, err
	}
	if cfg.Token.RefreshSecret, err = mustEnv("REFRESH_TOKEN_SECRET"); err != nil {
		return Config{}, err
	}
	if cfg.Token.AccessTTL, err = envExpiryOrDefault("ACCESS_TOKEN_EXPIRY", 24*time.Hour); err != nil {
		return Config{}, err
	}
	if cfg.Token.RefreshTTL, err = envExpiryOrDefault("REFRESH_TOKEN_EXPIRY", 10*24*time.Hour); err != nil {
		return Config{}, err
	}

	cfg.Cookie = CookieConfig{
		Secure:   EnvBoolOrDefault("COOKIE_SECURE", true),
		SameSite: parseSameSite(os.Getenv("COOKIE_SAMESITE")),
		Domain:   strings.TrimSpace(os.Getenv("COOKIE_DOMAIN")),
	}

	cfg.Media = MediaConfig{
		Provider:          strings.ToLower(EnvOrDefault("MEDIA_PROVIDER", MediaProviderCloudinary)),
		CloudinaryTimeout: envSecondsOrDefault("CLOUDINARY_TIMEOUT_SECONDS", 120),
		S3: S3Config{
			Bucket:        strings.TrimSpace(os.Getenv("S3_BUCKET")),
			Region:        EnvOrDefault("S3_REGION", "us-east-1"),
			Endpoint:      strings.TrimSpace(os.Getenv("S3_ENDPOINT")),
			PublicBaseURL: strings.TrimSpace(os.Getenv("S3_PUBLIC_BASE_URL")),
		},
		UploadDir:      EnvOrDefault("UPLOAD_TEMP_DIR", os.TempDir()),
		MaxUploadBytes: int64(envIntOrDefault("MAX_UPLOAD_MB", 200)) << 20,
	}
	switch cfg.Media.Provider {
	case MediaProviderCloudinary:
		if cfg.Media.CloudinaryURL, err = mustEnv("CLOUDINARY_URL"); err != nil {
			return Config{}, err
		}
	case MediaProviderS3:
		if cfg.Media.S3.Bucket == "" {
			return Config{}, fmt.Errorf("missing required env: S3_BUCKET")
		}
	default:
		return Config{}, fmt.Errorf("unsupported MEDIA_PROVIDER: %s", cfg.Media.Provider)
	}

	cfg.LoginRateLimit = RateLimitConfig{
		Backend:       strings.ToLower(EnvOrDefault("LOGIN_RATE_LIMIT_BACKEND", RateLimitBackendPostgres)),
		MaxHits:       envIntOrDefault("LOGIN_RATE_LIMIT_MAX", 10),
		Window:        envSecondsOrDefault("LOGIN_RATE_LIMIT_WINDOW_SECONDS", 60),
		RedisAddr:     strings.TrimSpace(os.Getenv("REDIS_ADDR")),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		TrustProxy:    EnvBoolOrDefault("TRUST_PROXY_HEADERS", false),
	}
	switch cfg.LoginRateLimit.Backend {
	case RateLimitBackendPostgres, RateLimitBackendMemory:
	case RateLimitBackendRedis:
		if cfg.LoginRateLimit.RedisAddr == "" {
			return Config{}, fmt.Errorf("missing required env: REDIS_ADDR")
		}
	default:
		return Config{}, fmt.Errorf("unsupported LOGIN_RATE_LIMIT_BACKEND: %s", cfg.LoginRateLimit.Backend)
	}

	cfg.Maintenance = MaintenanceConfig{
		CronSecret:          strings.TrimSpace(os.Getenv("CRON_SECRET")),
		BatchSize:           envIntOrDefault("AUTH_CLEANUP_BATCH_SIZE", 500),
		IPLimitRetention:    envDaysOrDefault("LOGIN_IP_LIMIT_RETENTION_DAYS", 30),
		UploadTempRetention: envHoursOrDefault("UPLOAD_TEMP_RETENTION_HOURS", 6),
	}

	return cfg, nil
}

func mustEnv(name string) (string, error) {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return "", fmt.Errorf("missing required env: %s", name)
	}
	return value, nil
}

func EnvOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func envIntOrDefault(name string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func envSecondsOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Second
}

func envMinutesOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Minute
}

func envHoursOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Hour
}

func envDaysOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * 24 * time.Hour
}

// envExpiryOrDefault accepts Go durations ("15m", "1h") and whole days ("10d").
func envExpiryOrDefault(name string, fallback time.Duration) (time.Duration, error) {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback, nil
	}
	parsed, err := ParseExpiry(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	return parsed, nil
}

func ParseExpiry(value string) (time.Duration, error) {
	value = strings.TrimSpace(strings.ToLower(value))
	if days, ok := strings.CutSuffix(value, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil || n <= 0 {
			return 0, fmt.Errorf("expiry %q is not a positive day count", value)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("expiry %q must be positive", value)
	}
	return d, nil
}

func EnvBoolOrDefault(name string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(name)))
	if value == "" {
		return fallback
	}

	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func parseSameSite(value string) http.SameSite {
	switch strings.TrimSpace(strings.ToLower(value)) {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteLaxMode
	}
}
