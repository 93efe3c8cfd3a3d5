package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Env      string
	Addr     string
	SiteURL  *url.URL
	LogLevel string

	DBDriver    string
	DatabaseURL string

	SessionSecret string
	JWTSecret     string
	JWTIssuer     string
	JWTAudience   string
	TokenTTL      time.Duration
	RememberMeTTL time.Duration
	OTPTTL        time.Duration
	ResetTokenTTL time.Duration

	SMTPHost string
	SMTPPort string
	SMTPUser string
	SMTPPass string
	SMTPFrom string

	UploadDir      string
	MaxUploadBytes int64

	CommentsRequireApproval bool

	AdminBootstrapEmail    string
	AdminBootstrapName     string
	AdminBootstrapPassword string
}

// Load reads .env (if present) and then the process environment.
func Load() (Config, error) {
	_ = godotenv.Load()
	return LoadFromEnv(os.Getenv)
}

func LoadFromEnv(getenv func(string) string) (Config, error) {
	cfg := Config{
		Env:           getenv("APP_ENV"),
		LogLevel:      strings.ToLower(getenv("LOG_LEVEL")),
		DBDriver:      strings.ToLower(getenv("DB_DRIVER")),
		DatabaseURL:   getenv("DATABASE_URL"),
		SessionSecret: getenv("SESSION_SECRET"),
		JWTSecret:     getenv("JWT_SECRET"),
		JWTIssuer:     getenv("JWT_ISSUER"),
		JWTAudience:   getenv("JWT_AUDIENCE"),
		SMTPHost:      getenv("SMTP_HOST"),
		SMTPPort:      getenv("SMTP_PORT"),
		SMTPUser:      getenv("SMTP_USER"),
		SMTPPass:      getenv("SMTP_PASS"),
		SMTPFrom:      getenv("SMTP_FROM"),
		UploadDir:     getenv("UPLOAD_DIR"),
	}

	if cfg.Env == "" {
		cfg.Env = "dev"
	}
	switch cfg.Env {
	case "dev", "prod", "test":
	default:
		return Config{}, errors.New("APP_ENV: must be one of dev, test, prod")
	}

	port := getenv("PORT")
	if port == "" {
		port = "8080"
	}
	cfg.Addr = ":" + port

	siteRaw := getenv("SITE_URL")
	if siteRaw == "" {
		siteRaw = "http://localhost:" + port
	}
	parsed, err := url.Parse(siteRaw)
	if err != nil {
		return Config{}, fmt.Errorf("SITE_URL: %w", err)
	}
	if !parsed.IsAbs() || parsed.Host == "" {
		return Config{}, errors.New("SITE_URL: must be an absolute URL")
	}
	cfg.SiteURL = parsed

	if cfg.DBDriver == "" {
		cfg.DBDriver = "postgres"
	}
	switch cfg.DBDriver {
	case "postgres", "sqlite":
	default:
		return Config{}, errors.New("DB_DRIVER: must be postgres or sqlite")
	}
	if cfg.DatabaseURL == "" && cfg.DBDriver == "sqlite" {
		cfg.DatabaseURL = "bloglytics.db"
	}

	if cfg.JWTIssuer == "" {
		cfg.JWTIssuer = "bloglytics"
	}
	if cfg.JWTAudience == "" {
		cfg.JWTAudience = "bloglytics-web"
	}
	if cfg.UploadDir == "" {
		cfg.UploadDir = "web/static/uploads"
	}

	durations := []struct {
		key string
		dst *time.Duration
		def time.Duration
	}{
		{"TOKEN_TTL", &cfg.TokenTTL, 8 * time.Hour},
		{"REMEMBER_ME_TTL", &cfg.RememberMeTTL, 30 * 24 * time.Hour},
		{"OTP_TTL", &cfg.OTPTTL, 10 * time.Minute},
		{"RESET_TOKEN_TTL", &cfg.ResetTokenTTL, time.Hour},
	}
	for _, d := range durations {
		v, err := parseDuration(getenv(d.key), d.def)
		if err != nil {
			return Config{}, fmt.Errorf("%s: %w", d.key, err)
		}
		*d.dst = v
	}

	cfg.MaxUploadBytes = 5 << 20
	if raw := getenv("MAX_UPLOAD_BYTES"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n <= 0 {
			return Config{}, errors.New("MAX_UPLOAD_BYTES: must be a positive integer")
		}
		cfg.MaxUploadBytes = n
	}

	if raw := getenv("COMMENTS_REQUIRE_APPROVAL"); raw != "" {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return Config{}, fmt.Errorf("COMMENTS_REQUIRE_APPROVAL: %w", err)
		}
		cfg.CommentsRequireApproval = b
	}

	cfg.AdminBootstrapEmail = strings.TrimSpace(strings.ToLower(getenv("ADMIN_EMAIL")))
	cfg.AdminBootstrapName = strings.TrimSpace(getenv("ADMIN_NAME"))
	cfg.AdminBootstrapPassword = getenv("ADMIN_PASSWORD")
	if cfg.AdminBootstrapPassword != "" && cfg.AdminBootstrapEmail == "" {
		return Config{}, errors.New("ADMIN_EMAIL: required when ADMIN_PASSWORD is set")
	}
	if cfg.AdminBootstrapPassword != "" && cfg.AdminBootstrapName == "" {
		cfg.AdminBootstrapName = "Administrator"
	}

	if cfg.IsProd() {
		if cfg.DatabaseURL == "" {
			return Config{}, errors.New("DATABASE_URL: required in prod")
		}
		if len(cfg.SessionSecret) < 32 {
			return Config{}, errors.New("SESSION_SECRET: must be at least 32 bytes in prod")
		}
		if len(cfg.JWTSecret) < 32 {
			return Config{}, errors.New("JWT_SECRET: must be at least 32 bytes in prod")
		}
	} else {
		// 开发环境默认值
		if cfg.SessionSecret == "" {
			cfg.SessionSecret = "dev_session_secret_change_me_0123456789"
		}
		if cfg.JWTSecret == "" {
			cfg.JWTSecret = "dev_jwt_secret_change_me_0123456789abcd"
		}
		if cfg.DatabaseURL == "" {
			cfg.DatabaseURL = "host=localhost user=postgres password=postgres dbname=bloglytics port=5432 sslmode=disable TimeZone=UTC"
		}
	}

	return cfg, nil
}

func (c Config) IsProd() bool { return c.Env == "prod" }

func (c Config) CookieSecure() bool {
	if c.SiteURL != nil {
		return c.SiteURL.Scheme == "https"
	}
	return c.IsProd()
}

func (c Config) MailEnabled() bool {
	return c.SMTPHost != "" && c.SMTPPort != "" && c.SMTPFrom != ""
}

// SiteBase returns SITE_URL without a trailing slash.
func (c Config) SiteBase() string {
	if c.SiteURL == nil {
		return ""
	}
	return strings.TrimRight(c.SiteURL.String(), "/")
}

func parseDuration(raw string, def time.Duration) (time.Duration, error) {
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, errors.New("must be > 0")
	}
	return d, nil
}
