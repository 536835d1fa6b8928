package oauth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
)

type stubProvider struct{ name string }

func (s stubProvider) Name() string { return s.name }
func (s stubProvider) AuthCodeURL(string, string, string) string { return "" }
func (s stubProvider) ExchangeCode(context.Context, string, string, string) (*Identity, error) {
	return nil, nil
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(stubProvider{"github"}, stubProvider{"apple"})

	if _, err := r.Get("github"); err != nil {
		t.Fatalf("get github: %v", err)
	}
	if _, err := r.Get("myspace"); !errors.Is(err, ErrUnknownProvider) {
		t.Fatalf("expected ErrUnknownProvider, got %v", err)
	}
	if got := strings.Join(r.Names(), ","); got != "apple,github" {
		t.Fatalf("names = %q", got)
	}
}

func TestValidateRedirectURI(t *testing.T) {
	tests := map[string]bool{
		"http://127.0.0.1:53682/callback": true,
		"http://localhost:9000/callback":  true,
		"http://[::1]:9000/callback":      true,
		"https://127.0.0.1/callback":      false,
		"http://evil.example.com/cb":      false,
		"http://10.0.0.5:8080/cb":         false,
		"not a url":                       false,
	}
	for raw, ok := range tests {
		err := ValidateRedirectURI(raw)
		if ok && err != nil {
			t.Errorf("%s: unexpected error %v", raw, err)
		}
		if !ok && !errors.Is(err, ErrInvalidRedirectURI) {
			t.Errorf("%s: expected ErrInvalidRedirectURI, got %v", raw, err)
		}
	}
}

func TestGitHubAuthCodeURL(t *testing.T) {
	p, err := NewGitHub("client", "secret")
	if err != nil {
		t.Fatal(err)
	}
	raw := p.AuthCodeURL("st4te", "ch4llenge", "http://127.0.0.1:5000/callback")
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatal(err)
	}
	q := u.Query()
	if q.Get("state") != "st4te" || q.Get("code_challenge") != "ch4llenge" || q.Get("code_challenge_method") != "S256" {
		t.Fatalf("unexpected query %v", q)
	}
	if q.Get("redirect_uri") != "http://127.0.0.1:5000/callback" {
		t.Fatalf("redirect uri = %q", q.Get("redirect_uri"))
	}
}

func TestGitHubExchangeCode(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/login/oauth/access_token", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if r.Form.Get("code") != "the-code" || r.Form.Get("code_verifier") != "the-verifier" {
			t.Errorf("unexpected token request %v", r.Form)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"gh-token","token_type":"bearer"}`))
	})
	mux.HandleFunc("/user", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer gh-token" {
			t.Errorf("missing bearer token, got %q", r.Header.Get("Authorization"))
		}
		_, _ = w.Write([]byte(`{"id":42,"login":"octocat","name":"","email":"public@example.com"}`))
	})
	mux.HandleFunc("/user/emails", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"email":"other@example.com","primary":false,"verified":true},{"email":"octo@example.com","primary":true,"verified":true}]`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	p := &GitHubProvider{
		oauthConfig: &oauth2.Config{
			ClientID:     "client",
			ClientSecret: "secret",
			Endpoint: oauth2.Endpoint{
				AuthURL:  srv.URL + "/login/oauth/authorize",
				TokenURL: srv.URL + "/login/oauth/access_token",
			},
		},
		apiURL: srv.URL,
	}

	identity, err := p.ExchangeCode(context.Background(), "the-code", "the-verifier", "http://127.0.0.1:1/callback")
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}
	if identity.Subject != "42" || identity.Email != "octo@example.com" || !identity.EmailVerified {
		t.Fatalf("unexpected identity %+v", identity)
	}
	if identity.Name != "octocat" {
		t.Fatalf("name should fall back to login, got %q", identity.Name)
	}
}

func TestAppleVerifyIDToken(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	jwksServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(jwkSet{Keys: []jwk{{
			Kty: "RSA",
			Kid: "test-kid",
			Alg: "RS256",
			N:   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
			E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
		}}})
	}))
	defer jwksServer.Close()

	p := &AppleProvider{
		clientID: "com.example.portal",
		jwks:     NewJWKSClient(jwksServer.URL),
		now:      time.Now,
	}

	sign := func(claims jwt.MapClaims, kid string) string {
		tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
		tok.Header["kid"] = kid
		s, err := tok.SignedString(key)
		if err != nil {
			t.Fatal(err)
		}
		return s
	}
	valid := jwt.MapClaims{
		"iss":            appleIssuer,
		"aud":            "com.example.portal",
		"sub":            "001234.abcd",
		"email":          "jane@privaterelay.appleid.com",
		"email_verified": "true",
		"exp":            time.Now().Add(time.Hour).Unix(),
	}

	identity, err := p.VerifyIDToken(context.Background(), sign(valid, "test-kid"))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if identity.Subject != "001234.abcd" || !identity.EmailVerified {
		t.Fatalf("unexpected identity %+v", identity)
	}

	wrongAudience := jwt.MapClaims{}
	for k, v := range valid {
		wrongAudience[k] = v
	}
	wrongAudience["aud"] = "com.example.other"
	if _, err := p.VerifyIDToken(context.Background(), sign(wrongAudience, "test-kid")); err == nil {
		t.Fatal("expected audience mismatch to fail")
	}

	if _, err := p.VerifyIDToken(context.Background(), sign(valid, "unknown-kid")); err == nil {
		t.Fatal("expected unknown kid to fail")
	}
}

func TestTruthy(t *testing.T) {
	if !truthy(true) || !truthy("true") || truthy("false") || truthy(nil) {
		t.Fatal("truthy mismatch")
	}
}
