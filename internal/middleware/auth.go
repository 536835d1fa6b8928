package middleware

import (
	jwtware "github.com/gofiber/contrib/jwt"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"

	"github.com/ahmetcoskunkizilkaya/paygate-portal/internal/config"
	"github.com/ahmetcoskunkizilkaya/paygate-portal/internal/dto"
	"github.com/ahmetcoskunkizilkaya/paygate-portal/internal/gateway"
)

func JWTProtected(cfg *config.Config) fiber.Handler {
	return jwtware.New(jwtware.Config{
		SigningKey: jwtware.SigningKey{JWTAlg: jwtware.HS256, Key: []byte(cfg.JWTSecret)},
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{
				Error:   true,
				Code:    string(gateway.CodeInvalidCredential),
				Message: "Unauthorized: invalid or expired token",
			})
		},
	})
}

// Claims returns the subject and email of the verified token, if any.
func Claims(c *fiber.Ctx) (sub, email string, ok bool) {
	token, ok := c.Locals("user").(*jwt.Token)
	if !ok || token == nil {
		return "", "", false
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", "", false
	}
	sub, _ = claims["sub"].(string)
	email, _ = claims["email"].(string)
	return sub, email, sub != ""
}
