package handlers

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/ahmetcoskunkizilkaya/paygate-portal/internal/dto"
	"github.com/ahmetcoskunkizilkaya/paygate-portal/internal/mailer"
	"github.com/ahmetcoskunkizilkaya/paygate-portal/internal/oauth"
	"github.com/ahmetcoskunkizilkaya/paygate-portal/internal/services"
)

type AuthHandler struct {
	identity  *services.IdentityService
	providers *oauth.Registry
	mailer    mailer.Mailer
	resetURL  string
}

// NewAuthHandler builds the auth endpoints. Password reset links point at
// resetURL with the token added as a query parameter.
func NewAuthHandler(identity *services.IdentityService, providers *oauth.Registry, m mailer.Mailer, resetURL string) *AuthHandler {
	return &AuthHandler{identity: identity, providers: providers, mailer: m, resetURL: resetURL}
}

func (h *AuthHandler) SignUp(c *fiber.Ctx) error {
	var req dto.SignUpRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}

	resp, err := h.identity.SignUp(c.UserContext(), &req)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(resp)
}

func (h *AuthHandler) SignIn(c *fiber.Ctx) error {
	var req dto.SignInRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}

	resp, err := h.identity.SignIn(c.UserContext(), &req)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(resp)
}

func (h *AuthHandler) Refresh(c *fiber.Ctx) error {
	var req dto.RefreshRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}

	resp, err := h.identity.Refresh(c.UserContext(), &req)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(resp)
}

// SignOut revokes the refresh token in the body. It does not require a valid
// access token so that expired sessions can still sign out.
func (h *AuthHandler) SignOut(c *fiber.Ctx) error {
	var req dto.SignOutRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}

	if err := h.identity.SignOut(c.UserContext(), &req); err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"message": "Signed out successfully"})
}

// PasswordReset mails a reset link when the email belongs to an active
// account. The response is the same either way; a mail failure is only
// logged.
func (h *AuthHandler) PasswordReset(c *fiber.Ctx) error {
	var req dto.PasswordResetRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}

	token, err := h.identity.RequestPasswordReset(c.UserContext(), req.Email)
	if err != nil {
		return respondError(c, err)
	}
	if token != "" {
		to := strings.ToLower(strings.TrimSpace(req.Email))
		if err := h.mailer.SendPasswordReset(c.UserContext(), to, resetLink(h.resetURL, token)); err != nil {
			slog.Error("password reset mail failed", "error", err)
		}
	}
	return c.JSON(fiber.Map{"message": "Password reset email sent successfully"})
}

// PasswordResetConfirm sets a new password with the token from a reset link.
func (h *AuthHandler) PasswordResetConfirm(c *fiber.Ctx) error {
	var req dto.PasswordResetConfirmRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}

	if err := h.identity.ResetPassword(c.UserContext(), &req); err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"message": "Password has been reset"})
}

func resetLink(base, token string) string {
	u, err := url.Parse(base)
	if err != nil {
		return base + "?token=" + url.QueryEscape(token)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String()
}

// OAuthURL returns the provider authorization page for a loopback callback.
// The client owns state and the PKCE challenge.
func (h *AuthHandler) OAuthURL(c *fiber.Ctx) error {
	provider, err := h.providers.Get(c.Params("provider"))
	if err != nil {
		return respondError(c, err)
	}

	redirectURI := c.Query("redirect_uri")
	if err := oauth.ValidateRedirectURI(redirectURI); err != nil {
		return respondError(c, err)
	}
	state := c.Query("state")
	if state == "" {
		return badRequest(c, "state is required")
	}

	return c.JSON(dto.OAuthURLResponse{
		URL: provider.AuthCodeURL(state, c.Query("code_challenge"), redirectURI),
	})
}

// OAuthExchange completes a third-party sign-in and issues a token pair.
func (h *AuthHandler) OAuthExchange(c *fiber.Ctx) error {
	provider, err := h.providers.Get(c.Params("provider"))
	if err != nil {
		return respondError(c, err)
	}

	var req dto.OAuthExchangeRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if req.Code == "" {
		return badRequest(c, "code is required")
	}
	if err := oauth.ValidateRedirectURI(req.RedirectURI); err != nil {
		return respondError(c, err)
	}

	identity, err := provider.ExchangeCode(c.UserContext(), req.Code, req.CodeVerifier, req.RedirectURI)
	if err != nil {
		slog.Warn("oauth exchange failed", "provider", provider.Name(), "error", err)
		if !errors.Is(err, oauth.ErrMissingClaims) && !errors.Is(err, oauth.ErrAuthorizationDenied) {
			err = fmt.Errorf("%w: %v", services.ErrInvalidCredentials, err)
		}
		return respondError(c, err)
	}
	if identity.Name == "" {
		identity.Name = strings.TrimSpace(req.Name)
	}

	resp, err := h.identity.SignInWithProvider(c.UserContext(), identity)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(resp)
}
