// Package config reads the service configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"

	"access-serverless/internal/db"
	"access-serverless/internal/mail"
	"access-serverless/internal/otp"
	"access-serverless/internal/ratelimit"
)

const (
	BackendPostgres = "postgres"
	BackendRedis    = "redis"

	ProviderResend = "resend"
	ProviderSMTP   = "smtp"
)

type Limits struct {
	DownloadIP    ratelimit.Policy
	DownloadEmail ratelimit.Policy
	ConfirmIP     ratelimit.Policy
	Report        ratelimit.Policy
	CreatePayCode ratelimit.Policy
}

type Staff struct {
	MaxAttempts    int
	LockDuration   time.Duration
	AccessTokenTTL time.Duration
	// Admin* seed the first admin account when set.
	AdminEmail    string
	AdminPassword string
	AdminRefCode  string
}

type Mail struct {
	Provider string
	// OTPResendKey and WelcomeResendKey let the two flows use separate Resend keys.
	OTPResendKey     string
	WelcomeResendKey string
	From             string
	FromName         string
	ReplyTo          string
	SMTP             mail.SMTPConfig
	Templates        mail.TemplateConfig
}

type Cleanup struct {
	CronSecret            string
	BatchSize             int
	OTPRetention          time.Duration
	AttemptRetention      time.Duration
	RateLimitRetention    time.Duration
	LoginAttemptRetention time.Duration
}

type Config struct {
	AppEnv    string
	Release   string
	Port      string
	SentryDSN string

	DatabaseURL string
	Pool        db.PoolConfig

	APIKey    string
	JWTSecret string

	OTP    otp.Config
	Limits Limits
	Staff  Staff

	RateLimitBackend string
	RedisURL         string
	// RedisKeyTTL bounds how long an idle rate-limit key survives in Redis.
	RedisKeyTTL time.Duration

	Mail Mail

	AssetDir     string
	AssetBaseURL string

	PayCodePrefix  string
	ReportLocation *time.Location

	Cleanup Cleanup
}

// Load reads .env first when loadDotEnv is set; real environment variables win.
func Load(loadDotEnv bool) (Config, error) {
	if loadDotEnv {
		_ = godotenv.Load()
	}

	var cfg Config
	var err error

	if cfg.DatabaseURL, err = mustEnv("DATABASE_URL"); err != nil {
		return Config{}, err
	}
	if cfg.APIKey, err = mustEnv("API_KEY"); err != nil {
		return Config{}, err
	}
	if cfg.JWTSecret, err = mustEnv("JWT_SECRET"); err != nil {
		return Config{}, err
	}

	cfg.AppEnv = envOrDefault("APP_ENV", "development")
	cfg.Release = os.Getenv("APP_RELEASE")
	cfg.Port = envOrDefault("PORT", "8080")
	cfg.SentryDSN = os.Getenv("SENTRY_DSN")

	cfg.Pool = db.PoolConfig{
		MaxOpenConns:    envIntOrDefault("DB_MAX_OPEN_CONNS", 10),
		MaxIdleConns:    envIntOrDefault("DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: envMinutesOrDefault("DB_CONN_MAX_LIFETIME_MINUTES", 30),
		ConnMaxIdleTime: envMinutesOrDefault("DB_CONN_MAX_IDLE_TIME_MINUTES", 10),
	}

	cfg.OTP = otp.Config{
		TTL:             envMinutesOrDefault("OTP_TTL_MINUTES", 10),
		MaxAttempts:     envIntOrDefault("OTP_MAX_ATTEMPTS", 5),
		LockoutDuration: envMinutesOrDefault("OTP_LOCKOUT_MINUTES", 15),
	}

	cfg.Limits = Limits{
		DownloadIP:    envPolicy("DOWNLOAD_IP_LIMIT", 10, 15, 30),
		DownloadEmail: envPolicy("DOWNLOAD_EMAIL_LIMIT", 5, 15, 30),
		ConfirmIP:     envPolicy("CONFIRM_IP_LIMIT", 20, 15, 30),
		Report:        envPolicy("REPORT_LIMIT", 5, 15, 30),
		CreatePayCode: envPolicy("PAY_CODE_LIMIT", 10, 15, 30),
	}

	cfg.Staff = Staff{
		MaxAttempts:    envIntOrDefault("LOGIN_MAX_ATTEMPTS", 5),
		LockDuration:   envMinutesOrDefault("LOGIN_LOCK_MINUTES", 15),
		AccessTokenTTL: envMinutesOrDefault("ACCESS_TOKEN_TTL_MINUTES", 60),
		AdminEmail:     os.Getenv("ADMIN_EMAIL"),
		AdminPassword:  os.Getenv("ADMIN_PASSWORD"),
		AdminRefCode:   os.Getenv("ADMIN_REF_CODE"),
	}

	cfg.RateLimitBackend = strings.ToLower(envOrDefault("RATE_LIMIT_BACKEND", BackendPostgres))
	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	cfg.RedisKeyTTL = envHoursOrDefault("RATE_LIMIT_REDIS_TTL_HOURS", 24)
	switch cfg.RateLimitBackend {
	case BackendPostgres:
	case BackendRedis:
		if cfg.RedisURL == "" {
			return Config{}, fmt.Errorf("missing required env: REDIS_URL (RATE_LIMIT_BACKEND=redis)")
		}
	default:
		return Config{}, fmt.Errorf("unsupported RATE_LIMIT_BACKEND: %s", cfg.RateLimitBackend)
	}

	if cfg.Mail, err = loadMail(); err != nil {
		return Config{}, err
	}

	cfg.AssetDir = strings.TrimSpace(os.Getenv("ASSET_DIR"))
	cfg.AssetBaseURL = strings.TrimSpace(os.Getenv("ASSET_BASE_URL"))
	if cfg.AssetDir == "" && cfg.AssetBaseURL == "" {
		cfg.AssetDir = "download"
	}

	cfg.PayCodePrefix = strings.ToUpper(envOrDefault("PAYMENT_CODE_PREFIX", "NE"))
	zone := envOrDefault("REPORT_TIMEZONE", "Asia/Ho_Chi_Minh")
	if cfg.ReportLocation, err = time.LoadLocation(zone); err != nil {
		return Config{}, fmt.Errorf("load REPORT_TIMEZONE %q: %w", zone, err)
	}

	cfg.Cleanup = Cleanup{
		CronSecret:            os.Getenv("CRON_SECRET"),
		BatchSize:             envIntOrDefault("CLEANUP_BATCH_SIZE", 500),
		OTPRetention:          envHoursOrDefault("OTP_RETENTION_HOURS", 24),
		AttemptRetention:      envDaysOrDefault("OTP_ATTEMPT_RETENTION_DAYS", 7),
		RateLimitRetention:    envDaysOrDefault("RATE_LIMIT_RETENTION_DAYS", 7),
		LoginAttemptRetention: envDaysOrDefault("LOGIN_ATTEMPT_RETENTION_DAYS", 30),
	}

	return cfg, nil
}

func loadMail() (Mail, error) {
	m := Mail{
		Provider: strings.ToLower(envOrDefault("MAIL_PROVIDER", ProviderResend)),
		From:     envOrDefault("MAIL_FROM", os.Getenv("SMTP_USER")),
		FromName: os.Getenv("MAIL_FROM_NAME"),
		ReplyTo:  os.Getenv("MAIL_REPLY_TO"),
		Templates: mail.TemplateConfig{
			ProductBaseURL: os.Getenv("PRODUCT_BASE_URL"),
			GuideURL:       os.Getenv("PRODUCT_GUIDE_URL"),
			OTPSubject:     os.Getenv("OTP_EMAIL_SUBJECT"),
		},
	}

	switch m.Provider {
	case ProviderResend:
		key, err := mustEnv("RESEND_API_KEY_OTP")
		if err != nil {
			return Mail{}, err
		}
		m.OTPResendKey = key
		m.WelcomeResendKey = envOrDefault("RESEND_API_KEY_WELCOME", key)
	case ProviderSMTP:
		m.SMTP = mail.SMTPConfig{
			Host:     envOrDefault("SMTP_HOST", "smtp.gmail.com"),
			Port:     envOrDefault("SMTP_PORT", "465"),
			Username: os.Getenv("SMTP_USER"),
			Password: os.Getenv("SMTP_PASS"),
			From:     m.From,
			FromName: m.FromName,
		}
	default:
		return Mail{}, fmt.Errorf("unsupported MAIL_PROVIDER: %s", m.Provider)
	}

	if strings.TrimSpace(m.From) == "" {
		return Mail{}, fmt.Errorf("missing required env: MAIL_FROM")
	}
	return m, nil
}

// envPolicy reads <prefix>_MAX, <prefix>_WINDOW_MINUTES and <prefix>_BLOCK_MINUTES.
func envPolicy(prefix string, max, windowMinutes, blockMinutes int) ratelimit.Policy {
	return ratelimit.Policy{
		MaxRequests:   envIntOrDefault(prefix+"_MAX", max),
		Window:        envMinutesOrDefault(prefix+"_WINDOW_MINUTES", windowMinutes),
		BlockDuration: envMinutesOrDefault(prefix+"_BLOCK_MINUTES", blockMinutes),
	}
}

func mustEnv(name string) (string, error) {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return "", fmt.Errorf("missing required env: %s", name)
	}
	return value, nil
}

func envOrDefault(name, fallback string) string {
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

func envMinutesOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Minute
}

func envHoursOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Hour
}

func envDaysOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * 24 * time.Hour
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
