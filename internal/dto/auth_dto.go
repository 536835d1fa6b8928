package dto

import "time"

type SignUpRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type SignInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type SignOutRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// OAuthURLResponse carries the provider authorization page for a
// third-party sign-in.
type OAuthURLResponse struct {
	URL string `json:"url"`
}

// OAuthExchangeRequest completes a third-party sign-in with the code the
// provider redirected back with.
type OAuthExchangeRequest struct {
	Code         string `json:"code"`
	CodeVerifier string `json:"code_verifier"`
	RedirectURI  string `json:"redirect_uri"`
	Name         string `json:"name,omitempty"`
}

type AuthResponse struct {
	AccessToken  string           `json:"access_token"`
	RefreshToken string           `json:"refresh_token"`
	ExpiresAt    time.Time        `json:"expires_at"`
	Identity     IdentityResponse `json:"identity"`
}

type IdentityResponse struct {
	ID            string    `json:"id"`
	Email         string    `json:"email"`
	DisplayName   string    `json:"display_name"`
	EmailVerified bool      `json:"email_verified"`
	Provider      string    `json:"provider"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type ErrorResponse struct {
	Error   bool   `json:"error"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

type HealthResponse struct {
	Status    string   `json:"status"`
	Timestamp string   `json:"timestamp"`
	DB        string   `json:"db"`
	Providers []string `json:"providers"`
}

// PasswordResetRequest asks for a reset link for Email.
type PasswordResetRequest struct {
	Email string `json:"email"`
}

// PasswordResetConfirmRequest sets a new password with the token from the
// reset link.
type PasswordResetConfirmRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}
