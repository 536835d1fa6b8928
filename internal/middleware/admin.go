package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/ahmetcoskunkizilkaya/paygate-portal/internal/config"
	"github.com/ahmetcoskunkizilkaya/paygate-portal/internal/dto"
	"github.com/ahmetcoskunkizilkaya/paygate-portal/internal/gateway"
	"github.com/ahmetcoskunkizilkaya/paygate-portal/internal/models"
)

const localIsAdmin = "is_admin"

// SelfOrAdmin lets a request through when the :id route param is the token
// subject, or the caller is an admin. Admins are listed in config by email
// or carry the admin role on their profile.
func SelfOrAdmin(db *gorm.DB, cfg *config.Config) fiber.Handler {
	adminEmails := parseCSV(cfg.AdminEmails)

	return func(c *fiber.Ctx) error {
		sub, email, ok := Claims(c)
		if !ok {
			return unauthorized(c)
		}

		admin := isAdmin(c, db, adminEmails, sub, email)
		c.Locals(localIsAdmin, admin)

		if admin || c.Params("id") == sub {
			return c.Next()
		}
		return c.Status(fiber.StatusForbidden).JSON(dto.ErrorResponse{
			Error: true, Code: string(gateway.CodeForbidden), Message: "Access to this profile is not allowed",
		})
	}
}

// AdminRequired admits only admins, decided the same way as SelfOrAdmin.
func AdminRequired(db *gorm.DB, cfg *config.Config) fiber.Handler {
	adminEmails := parseCSV(cfg.AdminEmails)

	return func(c *fiber.Ctx) error {
		sub, email, ok := Claims(c)
		if !ok {
			return unauthorized(c)
		}
		if !isAdmin(c, db, adminEmails, sub, email) {
			return c.Status(fiber.StatusForbidden).JSON(dto.ErrorResponse{
				Error: true, Code: string(gateway.CodeForbidden), Message: "Admin access required",
			})
		}
		c.Locals(localIsAdmin, true)
		return c.Next()
	}
}

func isAdmin(c *fiber.Ctx, db *gorm.DB, adminEmails []string, sub, email string) bool {
	if contains(adminEmails, strings.ToLower(email)) {
		return true
	}
	var profile models.Profile
	if err := db.WithContext(c.UserContext()).Select("role").First(&profile, "id = ?", sub).Error; err != nil {
		return false
	}
	return profile.IsAdmin()
}

func unauthorized(c *fiber.Ctx) error {
	return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{
		Error: true, Code: string(gateway.CodeInvalidCredential), Message: "Unauthorized",
	})
}

// IsAdmin reports what SelfOrAdmin decided for this request.
func IsAdmin(c *fiber.Ctx) bool {
	admin, _ := c.Locals(localIsAdmin).(bool)
	return admin
}

func parseCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		trimmed := strings.ToLower(strings.TrimSpace(p))
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func contains(list []string, val string) bool {
	for _, item := range list {
		if item == val {
			return true
		}
	}
	return false
}
