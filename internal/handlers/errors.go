package handlers

import (
	"errors"
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"github.com/ahmetcoskunkizilkaya/paygate-portal/internal/dto"
	"github.com/ahmetcoskunkizilkaya/paygate-portal/internal/gateway"
	"github.com/ahmetcoskunkizilkaya/paygate-portal/internal/oauth"
	"github.com/ahmetcoskunkizilkaya/paygate-portal/internal/services"
)

type errorMapping struct {
	target error
	status int
	code   gateway.Code
}

// errorTable maps service sentinels to a status and a client error code.
// The sentinel text is the client message.
var errorTable = []errorMapping{
	{services.ErrInvalidCredentials, fiber.StatusUnauthorized, gateway.CodeInvalidCredential},
	{services.ErrEmailTaken, fiber.StatusConflict, gateway.CodeEmailInUse},
	{services.ErrWeakPassword, fiber.StatusBadRequest, gateway.CodeWeakPassword},
	{services.ErrInvalidEmail, fiber.StatusBadRequest, gateway.CodeInvalidEmail},
	{services.ErrAccountDisabled, fiber.StatusForbidden, gateway.CodeUserDisabled},
	{services.ErrInvalidToken, fiber.StatusUnauthorized, gateway.CodeInvalidToken},
	{services.ErrInvalidResetToken, fiber.StatusBadRequest, gateway.CodeInvalidResetLink},
	{services.ErrAccountNotFound, fiber.StatusNotFound, gateway.CodeUserNotFound},
	{services.ErrProfileNotFound, fiber.StatusNotFound, gateway.CodeProfileNotFound},
	{services.ErrProfileExists, fiber.StatusConflict, gateway.CodeProfileExists},
	{services.ErrForbidden, fiber.StatusForbidden, gateway.CodeForbidden},
	{services.ErrInvalidProfile, fiber.StatusBadRequest, gateway.CodeInvalidArgument},
	{oauth.ErrUnknownProvider, fiber.StatusNotFound, gateway.CodeInvalidArgument},
	{oauth.ErrInvalidRedirectURI, fiber.StatusBadRequest, gateway.CodeInvalidArgument},
	{oauth.ErrAuthorizationDenied, fiber.StatusUnauthorized, gateway.CodePopupCancelled},
	{oauth.ErrMissingClaims, fiber.StatusBadGateway, gateway.CodeProviderError},
}

func respondError(c *fiber.Ctx, err error) error {
	for _, m := range errorTable {
		if errors.Is(err, m.target) {
			message := m.target.Error()
			if m.status >= fiber.StatusInternalServerError {
				slog.Error("upstream provider error", "path", c.Path(), "error", err)
			}
			return c.Status(m.status).JSON(dto.ErrorResponse{
				Error: true, Code: string(m.code), Message: message,
			})
		}
	}

	slog.Error("request failed", "method", c.Method(), "path", c.Path(), "error", err)
	return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{
		Error: true, Message: "Internal server error",
	})
}

func badRequest(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
		Error: true, Code: string(gateway.CodeInvalidArgument), Message: message,
	})
}
