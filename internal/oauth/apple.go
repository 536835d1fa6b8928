package oauth

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
)

const (
	appleIssuer  = "https://appleid.apple.com"
	appleJWKSURL = appleIssuer + "/auth/keys"
)

var appleEndpoint = oauth2.Endpoint{
	AuthURL:   appleIssuer + "/auth/authorize",
	TokenURL:  appleIssuer + "/auth/token",
	AuthStyle: oauth2.AuthStyleInParams,
}

// AppleProvider implements Sign in with Apple. Apple has no PKCE support, so
// the challenge and verifier are ignored; it posts the callback as a form.
type AppleProvider struct {
	clientID    string
	teamID      string
	keyID       string
	privateKey  *ecdsa.PrivateKey
	oauthConfig *oauth2.Config
	jwks        *JWKSClient
	now         func() time.Time
}

// NewApple builds the provider from the services id, team id and the .p8
// signing key used to mint client secrets.
func NewApple(clientID, teamID, keyID, privateKeyPEM string) (*AppleProvider, error) {
	if clientID == "" || teamID == "" || keyID == "" || privateKeyPEM == "" {
		return nil, errors.New("apple oauth config missing required fields")
	}
	key, err := jwt.ParseECPrivateKeyFromPEM([]byte(privateKeyPEM))
	if err != nil {
		return nil, fmt.Errorf("failed to parse apple private key: %w", err)
	}
	return &AppleProvider{
		clientID:   clientID,
		teamID:     teamID,
		keyID:      keyID,
		privateKey: key,
		oauthConfig: &oauth2.Config{
			ClientID: clientID,
			Endpoint: appleEndpoint,
			Scopes:   []string{"name", "email"},
		},
		jwks: NewJWKSClient(appleJWKSURL),
		now:  time.Now,
	}, nil
}

func (p *AppleProvider) Name() string {
	return "apple"
}

func (p *AppleProvider) AuthCodeURL(state, _, redirectURI string) string {
	cfg := *p.oauthConfig
	cfg.RedirectURL = redirectURI
	return cfg.AuthCodeURL(state, oauth2.SetAuthURLParam("response_mode", "form_post"))
}

// clientSecret is a short-lived ES256 JWT signed with the team key.
func (p *AppleProvider) clientSecret() (string, error) {
	now := p.now()
	token := jwt.NewWithClaims(jwt.SigningMethodES256, jwt.RegisteredClaims{
		Issuer:    p.teamID,
		Subject:   p.clientID,
		Audience:  jwt.ClaimStrings{appleIssuer},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(5 * time.Minute)),
	})
	token.Header["kid"] = p.keyID
	return token.SignedString(p.privateKey)
}

func (p *AppleProvider) ExchangeCode(ctx context.Context, code, _, redirectURI string) (*Identity, error) {
	secret, err := p.clientSecret()
	if err != nil {
		return nil, fmt.Errorf("failed to sign apple client secret: %w", err)
	}
	cfg := *p.oauthConfig
	cfg.RedirectURL = redirectURI
	cfg.ClientSecret = secret

	token, err := cfg.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("apple token exchange failed: %w", err)
	}
	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return nil, fmt.Errorf("apple did not return id_token: %w", ErrMissingClaims)
	}
	return p.VerifyIDToken(ctx, rawIDToken)
}

type appleClaims struct {
	jwt.RegisteredClaims
	Email         string      `json:"email"`
	EmailVerified interface{} `json:"email_verified"`
}

// VerifyIDToken checks an Apple identity token against Apple's published
// keys and returns the identity it asserts.
func (p *AppleProvider) VerifyIDToken(ctx context.Context, raw string) (*Identity, error) {
	var claims appleClaims
	_, err := jwt.ParseWithClaims(raw, &claims, p.jwks.Keyfunc(ctx),
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer(appleIssuer),
		jwt.WithAudience(p.clientID),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(p.now),
	)
	if err != nil {
		return nil, fmt.Errorf("apple id_token verification failed: %w", err)
	}
	if claims.Subject == "" {
		return nil, ErrMissingClaims
	}

	email := claims.Email
	if email == "" {
		email = claims.Subject + "@privaterelay.appleid.com"
	}
	return &Identity{
		Provider:      p.Name(),
		Subject:       claims.Subject,
		Email:         email,
		EmailVerified: truthy(claims.EmailVerified),
	}, nil
}

// truthy reads Apple's email_verified, which is sent as a bool or a string.
func truthy(v interface{}) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return t == "true"
	}
	return false
}
