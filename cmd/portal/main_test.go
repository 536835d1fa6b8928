package main

import (
	"bytes"
	"context"
	"errors"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ahmetcoskunkizilkaya/paygate-portal/internal/auth"
	"github.com/ahmetcoskunkizilkaya/paygate-portal/internal/config"
	"github.com/ahmetcoskunkizilkaya/paygate-portal/internal/database"
	"github.com/ahmetcoskunkizilkaya/paygate-portal/internal/handlers"
	"github.com/ahmetcoskunkizilkaya/paygate-portal/internal/oauth"
	"github.com/ahmetcoskunkizilkaya/paygate-portal/internal/routes"
	"github.com/ahmetcoskunkizilkaya/paygate-portal/internal/services"
	"github.com/ahmetcoskunkizilkaya/paygate-portal/internal/session"
	"github.com/ahmetcoskunkizilkaya/paygate-portal/internal/validation"
)

// resetLinks keeps the password reset links the backend would have mailed.
type resetLinks struct {
	mu    sync.Mutex
	links []string
}

func (r *resetLinks) SendPasswordReset(_ context.Context, _, link string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.links = append(r.links, link)
	return nil
}

func (r *resetLinks) last() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.links) == 0 {
		return ""
	}
	return r.links[len(r.links)-1]
}

// startBackend serves the real API on a loopback port.
func startBackend(t *testing.T) string {
	t.Helper()
	api, _ := startBackendWithMail(t)
	return api
}

func startBackendWithMail(t *testing.T) (string, *resetLinks) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "api.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := &config.Config{
		JWTSecret:        "portal-test-secret-0123456789abcdef",
		JWTAccessExpiry:  15 * time.Minute,
		JWTRefreshExpiry: time.Hour,
		AuthRateLimit:    100,

		PasswordResetURL:    "http://portal.test/reset",
		PasswordResetExpiry: time.Hour,
	}
	registry := oauth.NewRegistry()
	mail := &resetLinks{}

	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	routes.Setup(app, cfg, db,
		handlers.NewAuthHandler(services.NewIdentityService(db, cfg), registry, mail, cfg.PasswordResetURL),
		handlers.NewProfileHandler(services.NewProfileService(db)),
		handlers.NewHealthHandler(func() error { return nil }, registry),
	)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() { _ = app.Listener(ln) }()
	t.Cleanup(func() { _ = app.Shutdown() })
	return "http://" + ln.Addr().String(), mail
}

func runPortal(t *testing.T, api, stateDir string, args ...string) (string, error) {
	t.Helper()
	root := rootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetIn(strings.NewReader(""))
	root.SetArgs(append([]string{"--api", api, "--state-dir", stateDir, "--storage", "file", "--log-level", "critical"}, args...))
	err := root.Execute()
	return out.String(), err
}

func TestPortalSessionLifecycle(t *testing.T) {
	api := startBackend(t)
	state := t.TempDir()

	out, err := runPortal(t, api, state, "signup", "--name", "Ada Lovelace", "--email", "ada@example.com", "--password", "secret1")
	if err != nil {
		t.Fatalf("signup: %v\n%s", err, out)
	}
	if !strings.Contains(out, `"initials": "AL"`) {
		t.Errorf("signup output = %s", out)
	}
	if _, err := os.Stat(filepath.Join(state, "session.json")); err != nil {
		t.Errorf("session file: %v", err)
	}

	out, err = runPortal(t, api, state, "whoami")
	if err != nil || !strings.Contains(out, "ada@example.com") {
		t.Fatalf("whoami: %v\n%s", err, out)
	}

	out, err = runPortal(t, api, state, "profile", "update", "--name", "Ada King")
	if err != nil || !strings.Contains(out, "Ada King") {
		t.Fatalf("profile update: %v\n%s", err, out)
	}

	out, err = runPortal(t, api, state, "logs", "--category", "AUTH")
	if err != nil || !strings.Contains(out, "Auth registration") {
		t.Errorf("logs: %v\n%s", err, out)
	}
	if strings.Contains(out, "secret1") {
		t.Error("diagnostics contain the password")
	}

	if out, err = runPortal(t, api, state, "signout"); err != nil {
		t.Fatalf("signout: %v\n%s", err, out)
	}
	if _, err = runPortal(t, api, state, "whoami"); err == nil || err.Error() != "not signed in" {
		t.Errorf("whoami after signout: %v", err)
	}

	out, err = runPortal(t, api, state, "signin", "--email", "ada@example.com", "--password", "wrong-pass")
	if err == nil || err.Error() != "Invalid email or password" {
		t.Errorf("bad signin: %v\n%s", err, out)
	}

	if _, err = runPortal(t, api, state, "logs", "clear"); err != nil {
		t.Errorf("logs clear: %v", err)
	}
	if _, err := os.Stat(filepath.Join(state, "diagnostics.json")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("diagnostics after clear: %v", err)
	}
}

func TestPortalPasswordReset(t *testing.T) {
	api, mail := startBackendWithMail(t)
	state := t.TempDir()

	if out, err := runPortal(t, api, state, "signup", "--name", "Ada", "--email", "ada@example.com", "--password", "secret1"); err != nil {
		t.Fatalf("signup: %v\n%s", err, out)
	}

	_, err := runPortal(t, api, state, "password-reset", "--email", "not-an-email")
	if err == nil || !strings.Contains(err.Error(), "email: Please enter a valid email address") {
		t.Errorf("malformed email: %v", err)
	}

	out, err := runPortal(t, api, state, "password-reset", "--email", "ada@example.com")
	if err != nil || !strings.Contains(out, "Password reset email sent successfully") {
		t.Fatalf("password-reset: %v\n%s", err, out)
	}
	link, err := url.Parse(mail.last())
	if err != nil || link.Query().Get("token") == "" {
		t.Fatalf("reset link = %q", mail.last())
	}
	token := link.Query().Get("token")

	_, err = runPortal(t, api, state, "password-reset", "confirm", "--token", token, "--password", "brand-new", "--confirm-password", "brand-old")
	if err == nil || !strings.Contains(err.Error(), "confirmPassword: Passwords don't match") {
		t.Errorf("mismatch: %v", err)
	}
	if out, err = runPortal(t, api, state, "password-reset", "confirm", "--token", token, "--password", "brand-new"); err != nil {
		t.Fatalf("confirm: %v\n%s", err, out)
	}
	_, err = runPortal(t, api, state, "password-reset", "confirm", "--token", token, "--password", "brand-new")
	if err == nil || err.Error() != "This password reset link is invalid or has expired" {
		t.Errorf("reused link: %v", err)
	}

	if out, err = runPortal(t, api, state, "signin", "--email", "ada@example.com", "--password", "brand-new"); err != nil {
		t.Errorf("signin with new password: %v\n%s", err, out)
	}
}

func TestSubmitReportsFieldErrors(t *testing.T) {
	api := startBackend(t)
	_, err := runPortal(t, api, t.TempDir(), "--mode", "signup", "submit",
		"--name", "Ada", "--email", "ada@example.com", "--password", "secret1", "--confirm-password", "secret2")
	if err == nil || !strings.Contains(err.Error(), "confirmPassword: Passwords don't match") {
		t.Errorf("err = %v", err)
	}
}

func TestCredentialsFromStdin(t *testing.T) {
	c := credentials{passwordStdin: true}
	if err := c.resolve(strings.NewReader("s3cret!\n")); err != nil {
		t.Fatal(err)
	}
	if c.password != "s3cret!" || c.confirmPassword != "s3cret!" {
		t.Errorf("credentials = %+v", c)
	}
}

func TestNewStorage(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		storage string
		want    any
		wantErr bool
	}{
		{"memory", &session.MemoryStorage{}, false},
		{"file", &session.FileStorage{}, false},
		{"", &session.FileStorage{}, false},
		{"redis", &session.RedisStorage{}, false},
		{"etcd", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.storage, func(t *testing.T) {
			cfg := &config.PortalConfig{Storage: tt.storage, StateDir: dir, RedisURL: "redis://localhost:6379/0"}
			s, closeFn, err := newStorage(cfg)
			if closeFn != nil {
				defer closeFn()
			}
			if tt.wantErr {
				if err == nil {
					t.Error("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("newStorage: %v", err)
			}
			switch tt.want.(type) {
			case *session.MemoryStorage:
				_, ok := s.(*session.MemoryStorage)
				if !ok {
					t.Errorf("got %T", s)
				}
			case *session.FileStorage:
				fs, ok := s.(*session.FileStorage)
				if !ok || fs.Path() != filepath.Join(dir, "session.json") {
					t.Errorf("got %T", s)
				}
			case *session.RedisStorage:
				if _, ok := s.(*session.RedisStorage); !ok {
					t.Errorf("got %T", s)
				}
			}
		})
	}
}

func TestDescribe(t *testing.T) {
	if got := describe(&auth.FlowError{Message: "Sign in failed", Cause: errors.New("dial tcp")}); got.Error() != "Sign in failed" {
		t.Errorf("flow error = %q", got)
	}
	got := describe(&auth.ValidationError{Fields: validation.FieldErrors{"password": "Password must be at least 6 characters", "email": "Please enter a valid email address"}})
	want := "please fix the following:\n  email: Please enter a valid email address\n  password: Password must be at least 6 characters"
	if got.Error() != want {
		t.Errorf("validation error = %q", got)
	}
	if describe(nil) != nil {
		t.Error("nil should stay nil")
	}
}
