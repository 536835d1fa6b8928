// Package gateway defines the identity provider and profile store the auth
// orchestrator depends on, and the error taxonomy both report through.
package gateway

import (
	"context"
	"time"

	"github.com/ahmetcoskunkizilkaya/paygate-portal/internal/models"
)

// ProviderKind names a third-party sign-in provider.
type ProviderKind string

const (
	ProviderGoogle ProviderKind = "google"
	ProviderGitHub ProviderKind = "github"
	ProviderApple  ProviderKind = "apple"
)

// Valid reports whether k is a known provider.
func (k ProviderKind) Valid() bool {
	switch k {
	case ProviderGoogle, ProviderGitHub, ProviderApple:
		return true
	}
	return false
}

// Identity is the authenticated principal as issued by the identity provider.
type Identity struct {
	ID            string    `json:"id"`
	Email         string    `json:"email"`
	DisplayName   string    `json:"display_name"`
	EmailVerified bool      `json:"email_verified"`
	Provider      string    `json:"provider"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// AuthResult is the outcome of every successful identity call that issues
// tokens. Token is the short-lived bearer token.
type AuthResult struct {
	Identity     Identity  `json:"identity"`
	Token        string    `json:"token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// IdentityProvider verifies credentials and issues bearer tokens.
//
// Failures are reported as *Error with one of the Code constants.
type IdentityProvider interface {
	SignIn(ctx context.Context, email, password string) (*AuthResult, error)
	SignUp(ctx context.Context, name, email, password string) (*AuthResult, error)
	SignInWithThirdParty(ctx context.Context, kind ProviderKind) (*AuthResult, error)
	// SignOut is best effort; callers clear their local state regardless.
	SignOut(ctx context.Context) error
	// RefreshToken exchanges the current refresh token for a new pair.
	RefreshToken(ctx context.Context) (*AuthResult, error)
	// SendPasswordReset asks the provider to mail a reset link. It succeeds
	// for unregistered addresses too.
	SendPasswordReset(ctx context.Context, email string) error
	// ConfirmPasswordReset sets a new password with the token from a reset
	// link. Sessions issued before the reset stop refreshing.
	ConfirmPasswordReset(ctx context.Context, token, password string) error
}

// ProfileStore is CRUD over profile records keyed by identity id.
// GetProfile reports a missing record with an error matching ErrNotFound.
type ProfileStore interface {
	GetProfile(ctx context.Context, id string) (*models.Profile, error)
	CreateProfile(ctx context.Context, id string, seed models.ProfileSeed) (*models.Profile, error)
	UpdateProfile(ctx context.Context, id string, update models.ProfileUpdate) (*models.Profile, error)
	SoftDeleteProfile(ctx context.Context, id string) error
	HardDeleteProfile(ctx context.Context, id string) error
}

// TokenSource yields the bearer and refresh tokens of the current session.
type TokenSource interface {
	Tokens() (token, refreshToken string)
}

// TokenCache is implemented by identity providers that keep the tokens of
// their last call for use by later calls of the same flow. ForgetTokens
// drops them once the flow has ended.
type TokenCache interface {
	ForgetTokens()
}
