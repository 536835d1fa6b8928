package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	sentryfiber "github.com/getsentry/sentry-go/fiber"
	"github.com/gofiber/fiber/v2"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"

	"github.com/ahmetcoskunkizilkaya/paygate-portal/internal/config"
	"github.com/ahmetcoskunkizilkaya/paygate-portal/internal/database"
	"github.com/ahmetcoskunkizilkaya/paygate-portal/internal/dto"
	"github.com/ahmetcoskunkizilkaya/paygate-portal/internal/handlers"
	"github.com/ahmetcoskunkizilkaya/paygate-portal/internal/logging"
	"github.com/ahmetcoskunkizilkaya/paygate-portal/internal/mailer"
	"github.com/ahmetcoskunkizilkaya/paygate-portal/internal/middleware"
	"github.com/ahmetcoskunkizilkaya/paygate-portal/internal/oauth"
	"github.com/ahmetcoskunkizilkaya/paygate-portal/internal/routes"
	"github.com/ahmetcoskunkizilkaya/paygate-portal/internal/services"
)

func main() {
	cfg := config.Load()

	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = slog.LevelInfo
	}
	// Structured logging (JSON to stdout)
	logging.Setup(os.Stdout, level)

	if cfg.JWTSecret == "" {
		slog.Error("JWT_SECRET environment variable is required")
		os.Exit(1)
	}
	if cfg.DBDriver != "sqlite" && cfg.DBPassword == "" {
		slog.Error("DB_PASSWORD environment variable is required")
		os.Exit(1)
	}

	// Database
	if err := database.Connect(cfg); err != nil {
		slog.Error("database connection failed", "error", err)
		os.Exit(1)
	}
	if err := database.Migrate(database.DB); err != nil {
		slog.Error("migration failed", "error", err)
		os.Exit(1)
	}

	// Sentry error tracking
	sentryEnabled := false
	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.SentryDSN,
			EnableTracing:    true,
			TracesSampleRate: 0.2,
			Environment:      cfg.AppEnv,
		}); err != nil {
			slog.Error("sentry init failed", "error", err)
		} else {
			sentryEnabled = true
			defer sentry.Flush(2 * time.Second)
		}
	}

	// Database log handler (ERROR+ async batch), Sentry for CRITICAL
	dbLogHandler := logging.NewDBHandler(database.DB, cfg.LogFlushInterval)
	extra := []slog.Handler{dbLogHandler}
	if sentryEnabled {
		extra = append(extra, logging.NewSentryHandler(sentry.CurrentHub()))
	}
	logging.Setup(os.Stdout, level, extra...)

	cleanupDone := make(chan struct{})
	logging.StartCleanup(database.DB, cfg.LogRetention, cleanupDone)

	registry := buildProviders(cfg)
	slog.Info("oauth providers configured", "providers", registry.Names())

	// Services
	identityService := services.NewIdentityService(database.DB, cfg)
	profileService := services.NewProfileService(database.DB)

	// Handlers
	authHandler := handlers.NewAuthHandler(identityService, registry, buildMailer(cfg), cfg.PasswordResetURL)
	profileHandler := handlers.NewProfileHandler(profileService)
	healthHandler := handlers.NewHealthHandler(database.Ping, registry)

	// Fiber app
	app := fiber.New(fiber.Config{
		BodyLimit:    1 * 1024 * 1024,
		ErrorHandler: customErrorHandler,
	})

	app.Use(sentryfiber.New(sentryfiber.Options{
		Repanic:         true,
		WaitForDelivery: false,
	}))

	// Global middleware
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(fiberlogger.New(fiberlogger.Config{
		Format: "${time} | ${status} | ${latency} | ${ip} | ${method} | ${path}\n",
	}))
	app.Use(middleware.CORS(cfg))
	app.Use(func(c *fiber.Ctx) error {
		c.Set("X-Content-Type-Options", "nosniff")
		c.Set("X-Frame-Options", "DENY")
		c.Set("Referrer-Policy", "no-referrer")
		return c.Next()
	})

	routes.Setup(app, cfg, database.DB, authHandler, profileHandler, healthHandler)

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("server starting", "port", cfg.Port)
		if err := app.Listen(":" + cfg.Port); err != nil {
			slog.Error("server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	<-quit
	slog.Info("shutting down server...")

	close(cleanupDone)
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		slog.Error("server shutdown error", "error", err)
	}
	dbLogHandler.Stop()
	sentry.Flush(2 * time.Second)

	if sqlDB, err := database.DB.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			slog.Error("database close error", "error", err)
		}
	}

	slog.Info("server stopped")
}

// buildMailer falls back to logging reset links when no SMTP relay is set.
func buildMailer(cfg *config.Config) mailer.Mailer {
	if cfg.SMTPHost == "" {
		if cfg.AppEnv == "production" {
			slog.Warn("SMTP_HOST is not set, password reset links will only be logged")
		}
		return mailer.NewLog(slog.Default())
	}
	return mailer.NewSMTP(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword, cfg.MailFrom)
}

// buildProviders registers every provider with credentials configured. A
// provider that fails to initialize is skipped.
func buildProviders(cfg *config.Config) *oauth.Registry {
	var list []oauth.Provider

	if cfg.GoogleClientID != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		p, err := oauth.NewGoogle(ctx, cfg.GoogleClientID, cfg.GoogleClientSecret)
		cancel()
		if err != nil {
			slog.Error("google provider disabled", "error", err)
		} else {
			list = append(list, p)
		}
	}
	if cfg.GitHubClientID != "" {
		if p, err := oauth.NewGitHub(cfg.GitHubClientID, cfg.GitHubClientSecret); err != nil {
			slog.Error("github provider disabled", "error", err)
		} else {
			list = append(list, p)
		}
	}
	if cfg.AppleClientID != "" {
		if p, err := oauth.NewApple(cfg.AppleClientID, cfg.AppleTeamID, cfg.AppleKeyID, cfg.ApplePrivateKey); err != nil {
			slog.Error("apple provider disabled", "error", err)
		} else {
			list = append(list, p)
		}
	}

	return oauth.NewRegistry(list...)
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal server error"
	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	// Only expose error details for client errors (4xx), not server errors (5xx)
	if code >= 500 {
		slog.Error("unhandled server error", "method", c.Method(), "path", c.Path(), "error", err.Error())
		message = "Internal server error"
	}

	return c.Status(code).JSON(dto.ErrorResponse{
		Error:   true,
		Message: message,
	})
}
