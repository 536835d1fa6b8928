// Package oauth exchanges third-party authorization codes for verified
// identity facts. Providers never create accounts or sessions.
package oauth

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"sort"
)

// Identity is what a provider asserts about the signed-in user.
type Identity struct {
	Provider      string
	Subject       string
	Email         string
	EmailVerified bool
	Name          string
}

// Provider is one configured third-party sign-in provider.
type Provider interface {
	// Name returns the provider identifier, e.g. "google".
	Name() string

	// AuthCodeURL returns the authorization page URL. The caller owns state
	// and the PKCE challenge.
	AuthCodeURL(state, codeChallenge, redirectURI string) string

	// ExchangeCode trades the authorization code for a verified identity.
	ExchangeCode(ctx context.Context, code, codeVerifier, redirectURI string) (*Identity, error)
}

var (
	ErrUnknownProvider     = errors.New("unknown oauth provider")
	ErrInvalidRedirectURI  = errors.New("redirect uri must be an http loopback address")
	ErrMissingClaims       = errors.New("provider did not return the required identity claims")
	ErrAuthorizationDenied = errors.New("authorization denied by provider")
)

// Registry holds the configured providers by name.
type Registry struct {
	providers map[string]Provider
}

func NewRegistry(list ...Provider) *Registry {
	m := make(map[string]Provider)
	for _, p := range list {
		m[p.Name()] = p
	}
	return &Registry{providers: m}
}

func (r *Registry) Get(name string) (Provider, error) {
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}
	return p, nil
}

// Names lists the registered providers in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidateRedirectURI accepts only http callbacks on a loopback address, the
// form a native client listens on.
func ValidateRedirectURI(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "http" || u.Host == "" {
		return ErrInvalidRedirectURI
	}
	host := u.Hostname()
	if host == "localhost" {
		return nil
	}
	ip := net.ParseIP(host)
	if ip == nil || !ip.IsLoopback() {
		return ErrInvalidRedirectURI
	}
	return nil
}
