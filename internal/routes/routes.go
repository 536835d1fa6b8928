package routes

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"gorm.io/gorm"

	"github.com/ahmetcoskunkizilkaya/paygate-portal/internal/config"
	"github.com/ahmetcoskunkizilkaya/paygate-portal/internal/dto"
	"github.com/ahmetcoskunkizilkaya/paygate-portal/internal/gateway"
	"github.com/ahmetcoskunkizilkaya/paygate-portal/internal/handlers"
	"github.com/ahmetcoskunkizilkaya/paygate-portal/internal/middleware"
)

func Setup(
	app *fiber.App,
	cfg *config.Config,
	db *gorm.DB,
	authHandler *handlers.AuthHandler,
	profileHandler *handlers.ProfileHandler,
	healthHandler *handlers.HealthHandler,
) {
	api := app.Group("/api")

	// General API rate limit: 60 req/min per IP
	api.Use(newLimiter(60))

	api.Get("/health", healthHandler.Check)

	// Auth (public, stricter limit)
	auth := api.Group("/auth", newLimiter(cfg.AuthRateLimit))
	auth.Post("/signup", authHandler.SignUp)
	auth.Post("/signin", authHandler.SignIn)
	auth.Post("/refresh", authHandler.Refresh)
	auth.Post("/signout", authHandler.SignOut)
	auth.Post("/password-reset", authHandler.PasswordReset)
	auth.Post("/password-reset/confirm", authHandler.PasswordResetConfirm)
	auth.Get("/oauth/:provider/url", authHandler.OAuthURL)
	auth.Post("/oauth/:provider", authHandler.OAuthExchange)

	// Profiles (JWT + self or admin)
	profiles := api.Group("/profiles", middleware.JWTProtected(cfg))
	profiles.Get("/", middleware.AdminRequired(db, cfg), profileHandler.List)
	profiles.Get("/:id", middleware.SelfOrAdmin(db, cfg), profileHandler.Get)
	profiles.Post("/:id", middleware.SelfOrAdmin(db, cfg), profileHandler.Create)
	profiles.Patch("/:id", middleware.SelfOrAdmin(db, cfg), profileHandler.Update)
	profiles.Delete("/:id", middleware.SelfOrAdmin(db, cfg), profileHandler.Delete)
}

func newLimiter(limit int) fiber.Handler {
	if limit <= 0 {
		limit = 10
	}
	return limiter.New(limiter.Config{
		Max:               limit,
		Expiration:        1 * time.Minute,
		LimiterMiddleware: limiter.SlidingWindow{},
		KeyGenerator:      func(c *fiber.Ctx) string { return c.IP() },
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(dto.ErrorResponse{
				Error:   true,
				Code:    string(gateway.CodeTooManyRequests),
				Message: "Too many requests",
			})
		},
	})
}
