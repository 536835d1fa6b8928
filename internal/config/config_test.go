package config

import (
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("JWT_ACCESS_EXPIRY", "")
	t.Setenv("PASSWORD_RESET_EXPIRY", "")
	t.Setenv("SMTP_HOST", "")
	t.Setenv("AUTH_RATE_LIMIT", "")

	cfg := Load()
	if cfg.JWTAccessExpiry != 15*time.Minute {
		t.Errorf("access expiry = %v", cfg.JWTAccessExpiry)
	}
	if cfg.AuthRateLimit != 10 {
		t.Errorf("auth rate limit = %d", cfg.AuthRateLimit)
	}
	if cfg.DBDriver != "postgres" {
		t.Errorf("db driver = %q", cfg.DBDriver)
	}
	if cfg.PasswordResetExpiry != time.Hour {
		t.Errorf("password reset expiry = %v", cfg.PasswordResetExpiry)
	}
	if cfg.SMTPHost != "" {
		t.Errorf("smtp host = %q, want logging mailer by default", cfg.SMTPHost)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("JWT_REFRESH_EXPIRY", "2h")
	t.Setenv("AUTH_RATE_LIMIT", "3")
	t.Setenv("LOG_RETENTION", "not-a-duration")

	cfg := Load()
	if cfg.JWTRefreshExpiry != 2*time.Hour {
		t.Errorf("refresh expiry = %v", cfg.JWTRefreshExpiry)
	}
	if cfg.AuthRateLimit != 3 {
		t.Errorf("auth rate limit = %d", cfg.AuthRateLimit)
	}
	if cfg.LogRetention != 15*time.Minute {
		t.Errorf("invalid duration should fall back, got %v", cfg.LogRetention)
	}
}

func TestDSN(t *testing.T) {
	cfg := &Config{DBHost: "db", DBUser: "u", DBPassword: "p", DBName: "n", DBPort: "5432", DBSSLMode: "disable"}
	want := "host=db user=u password=p dbname=n port=5432 sslmode=disable TimeZone=UTC"
	if got := cfg.DSN(); got != want {
		t.Fatalf("DSN = %q", got)
	}
}

func TestLoadPortal(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("PORTAL_STATE_DIR", dir)
	t.Setenv("PORTAL_STORAGE", "memory")
	t.Setenv("PORTAL_LOG_BUFFER", "-4")

	cfg := LoadPortal()
	if cfg.Storage != "memory" {
		t.Errorf("storage = %q", cfg.Storage)
	}
	if cfg.SessionFile() != filepath.Join(dir, "session.json") {
		t.Errorf("session file = %q", cfg.SessionFile())
	}
	if cfg.LogBufferSize != 1000 {
		t.Errorf("negative buffer should fall back, got %d", cfg.LogBufferSize)
	}
}
