package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config is the identity and profile server configuration.
type Config struct {
	// Database
	DBDriver   string
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string
	DBPath     string

	// JWT
	JWTSecret        string
	JWTAccessExpiry  time.Duration
	JWTRefreshExpiry time.Duration

	// OAuth providers; a provider is enabled when its client id is set.
	GoogleClientID     string
	GoogleClientSecret string
	GitHubClientID     string
	GitHubClientSecret string
	AppleClientID      string
	AppleTeamID        string
	AppleKeyID         string
	ApplePrivateKey    string

	// Admin
	AdminEmails string

	// Password reset mail; links are logged instead of mailed when SMTPHost
	// is empty.
	PasswordResetURL    string
	PasswordResetExpiry time.Duration
	SMTPHost            string
	SMTPPort            string
	SMTPUsername        string
	SMTPPassword        string
	MailFrom            string

	// Logging
	LogLevel         string
	LogRetention     time.Duration
	LogFlushInterval time.Duration
	SentryDSN        string
	AppEnv           string

	// Server
	Port          string
	CORSOrigins   string
	AuthRateLimit int
}

func Load() *Config {
	return &Config{
		DBDriver:   getEnv("DB_DRIVER", "postgres"),
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", ""),
		DBName:     getEnv("DB_NAME", "paygate_portal"),
		DBSSLMode:  getEnv("DB_SSLMODE", "disable"),
		DBPath:     getEnv("DB_PATH", "paygate.db"),

		JWTSecret:        getEnv("JWT_SECRET", ""),
		JWTAccessExpiry:  parseDuration(getEnv("JWT_ACCESS_EXPIRY", "15m")),
		JWTRefreshExpiry: parseDuration(getEnv("JWT_REFRESH_EXPIRY", "168h")),

		GoogleClientID:     getEnv("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret: getEnv("GOOGLE_CLIENT_SECRET", ""),
		GitHubClientID:     getEnv("GITHUB_CLIENT_ID", ""),
		GitHubClientSecret: getEnv("GITHUB_CLIENT_SECRET", ""),
		AppleClientID:      getEnv("APPLE_CLIENT_ID", ""),
		AppleTeamID:        getEnv("APPLE_TEAM_ID", ""),
		AppleKeyID:         getEnv("APPLE_KEY_ID", ""),
		ApplePrivateKey:    getEnv("APPLE_PRIVATE_KEY", ""),

		AdminEmails: getEnv("ADMIN_EMAILS", ""),

		PasswordResetURL:    getEnv("PASSWORD_RESET_URL", "http://localhost:3000/auth/reset-password"),
		PasswordResetExpiry: parseDuration(getEnv("PASSWORD_RESET_EXPIRY", "1h")),
		SMTPHost:            getEnv("SMTP_HOST", ""),
		SMTPPort:            getEnv("SMTP_PORT", "587"),
		SMTPUsername:        getEnv("SMTP_USERNAME", ""),
		SMTPPassword:        getEnv("SMTP_PASSWORD", ""),
		MailFrom:            getEnv("MAIL_FROM", "no-reply@paygate.local"),

		LogLevel:         getEnv("LOG_LEVEL", "info"),
		LogRetention:     parseDuration(getEnv("LOG_RETENTION", "720h")),
		LogFlushInterval: parseDuration(getEnv("LOG_FLUSH_INTERVAL", "5s")),
		SentryDSN:        getEnv("SENTRY_DSN", ""),
		AppEnv:           getEnv("APP_ENV", "development"),

		Port:          getEnv("PORT", "8080"),
		CORSOrigins:   getEnv("CORS_ORIGINS", "*"),
		AuthRateLimit: parseInt(getEnv("AUTH_RATE_LIMIT", "10"), 10),
	}
}

func (c *Config) DSN() string {
	return "host=" + c.DBHost +
		" user=" + c.DBUser +
		" password=" + c.DBPassword +
		" dbname=" + c.DBName +
		" port=" + c.DBPort +
		" sslmode=" + c.DBSSLMode +
		" TimeZone=UTC"
}

// PortalConfig configures the portal client.
type PortalConfig struct {
	APIURL      string
	HTTPTimeout time.Duration

	// Session storage: "file", "redis" or "memory".
	Storage     string
	StateDir    string
	RedisURL    string
	RedisPrefix string
	SessionTTL  time.Duration

	// Third-party sign-in callback listener.
	CallbackAddr string
	OAuthTimeout time.Duration

	LogLevel      string
	LogBufferSize int
	SentryDSN     string
}

func LoadPortal() *PortalConfig {
	return &PortalConfig{
		APIURL:      getEnv("PORTAL_API_URL", "http://localhost:8080"),
		HTTPTimeout: parseDuration(getEnv("PORTAL_HTTP_TIMEOUT", "15s")),

		Storage:     getEnv("PORTAL_STORAGE", "file"),
		StateDir:    getEnv("PORTAL_STATE_DIR", defaultStateDir()),
		RedisURL:    getEnv("PORTAL_REDIS_URL", "redis://localhost:6379/0"),
		RedisPrefix: getEnv("PORTAL_REDIS_PREFIX", "paygate-portal"),
		SessionTTL:  parseDuration(getEnv("PORTAL_SESSION_TTL", "168h")),

		CallbackAddr: getEnv("PORTAL_CALLBACK_ADDR", "127.0.0.1:0"),
		OAuthTimeout: parseDuration(getEnv("PORTAL_OAUTH_TIMEOUT", "5m")),

		LogLevel:      getEnv("PORTAL_LOG_LEVEL", "warn"),
		LogBufferSize: parseInt(getEnv("PORTAL_LOG_BUFFER", "1000"), 1000),
		SentryDSN:     getEnv("SENTRY_DSN", ""),
	}
}

// SessionFile is where file storage keeps the session.
func (c *PortalConfig) SessionFile() string {
	return filepath.Join(c.StateDir, "session.json")
}

func defaultStateDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".paygate-portal"
	}
	return filepath.Join(dir, "paygate-portal")
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func parseDuration(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 15 * time.Minute
	}
	return d
}

func parseInt(s string, fallback int) int {
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
