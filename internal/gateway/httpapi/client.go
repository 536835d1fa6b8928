// Package httpapi implements the identity provider and profile store
// gateways against the portal backend REST API.
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/ahmetcoskunkizilkaya/paygate-portal/internal/dto"
	"github.com/ahmetcoskunkizilkaya/paygate-portal/internal/gateway"
	"github.com/ahmetcoskunkizilkaya/paygate-portal/internal/models"
)

const defaultTimeout = 15 * time.Second

// Client talks to the backend. It keeps the token pair of the last identity
// call so profile calls made during the same flow are authorized before the
// session is persisted. The orchestrator calls ForgetTokens when the flow
// ends, after which tokens come from the session again.
type Client struct {
	baseURL string
	http    *http.Client
	popup   Popup
	session gateway.TokenSource
	logger  *slog.Logger

	mu   sync.Mutex
	last *gateway.AuthResult
}

var (
	_ gateway.IdentityProvider = (*Client)(nil)
	_ gateway.ProfileStore     = (*Client)(nil)
	_ gateway.TokenCache       = (*Client)(nil)
)

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithPopup enables third-party sign-in.
func WithPopup(p Popup) Option {
	return func(c *Client) { c.popup = p }
}

// WithTokenSource supplies tokens when the client has not issued any itself,
// typically the session store restored from durable storage.
func WithTokenSource(ts gateway.TokenSource) Option {
	return func(c *Client) { c.session = ts }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: defaultTimeout},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Tokens returns the latest issued pair, falling back to the session.
func (c *Client) Tokens() (string, string) {
	c.mu.Lock()
	last := c.last
	c.mu.Unlock()
	if last != nil {
		return last.Token, last.RefreshToken
	}
	if c.session != nil {
		return c.session.Tokens()
	}
	return "", ""
}

// ForgetTokens drops the cached pair.
func (c *Client) ForgetTokens() {
	c.remember(nil)
}

func (c *Client) remember(res *gateway.AuthResult) {
	c.mu.Lock()
	c.last = res
	c.mu.Unlock()
}

func (c *Client) SignIn(ctx context.Context, email, password string) (*gateway.AuthResult, error) {
	return c.authenticate(ctx, "/api/auth/signin", dto.SignInRequest{Email: email, Password: password})
}

func (c *Client) SignUp(ctx context.Context, name, email, password string) (*gateway.AuthResult, error) {
	return c.authenticate(ctx, "/api/auth/signup", dto.SignUpRequest{Name: name, Email: email, Password: password})
}

// SignInWithThirdParty runs the popup and exchanges the returned code.
func (c *Client) SignInWithThirdParty(ctx context.Context, kind gateway.ProviderKind) (*gateway.AuthResult, error) {
	if c.popup == nil {
		return nil, gateway.NewError(gateway.CodeProviderError, "third-party sign-in is not available")
	}

	cb, err := c.popup.Authorize(ctx, func(ctx context.Context, redirectURI, state, challenge string) (string, error) {
		return c.authorizationURL(ctx, kind, redirectURI, state, challenge)
	})
	if err != nil {
		return nil, err
	}

	return c.authenticate(ctx, "/api/auth/oauth/"+url.PathEscape(string(kind)), dto.OAuthExchangeRequest{
		Code:         cb.Code,
		CodeVerifier: cb.CodeVerifier,
		RedirectURI:  cb.RedirectURI,
		Name:         cb.Name,
	})
}

func (c *Client) authorizationURL(ctx context.Context, kind gateway.ProviderKind, redirectURI, state, challenge string) (string, error) {
	q := url.Values{}
	q.Set("redirect_uri", redirectURI)
	q.Set("state", state)
	q.Set("code_challenge", challenge)

	var resp dto.OAuthURLResponse
	path := "/api/auth/oauth/" + url.PathEscape(string(kind)) + "/url?" + q.Encode()
	if err := c.do(ctx, http.MethodGet, path, "", nil, &resp); err != nil {
		return "", err
	}
	return resp.URL, nil
}

// SignOut revokes the refresh token server side and forgets the cached pair.
func (c *Client) SignOut(ctx context.Context) error {
	_, refresh := c.Tokens()
	c.remember(nil)
	if refresh == "" {
		return nil
	}
	return c.do(ctx, http.MethodPost, "/api/auth/signout", "", dto.SignOutRequest{RefreshToken: refresh}, nil)
}

func (c *Client) RefreshToken(ctx context.Context) (*gateway.AuthResult, error) {
	_, refresh := c.Tokens()
	if refresh == "" {
		return nil, gateway.NewError(gateway.CodeInvalidToken, "no refresh token")
	}
	return c.authenticate(ctx, "/api/auth/refresh", dto.RefreshRequest{RefreshToken: refresh})
}

func (c *Client) SendPasswordReset(ctx context.Context, email string) error {
	return c.do(ctx, http.MethodPost, "/api/auth/password-reset", "", dto.PasswordResetRequest{Email: email}, nil)
}

func (c *Client) ConfirmPasswordReset(ctx context.Context, token, password string) error {
	return c.do(ctx, http.MethodPost, "/api/auth/password-reset/confirm", "",
		dto.PasswordResetConfirmRequest{Token: token, Password: password}, nil)
}

func (c *Client) authenticate(ctx context.Context, path string, body any) (*gateway.AuthResult, error) {
	var resp dto.AuthResponse
	if err := c.do(ctx, http.MethodPost, path, "", body, &resp); err != nil {
		return nil, err
	}
	res := &gateway.AuthResult{
		Identity: gateway.Identity{
			ID:            resp.Identity.ID,
			Email:         resp.Identity.Email,
			DisplayName:   resp.Identity.DisplayName,
			EmailVerified: resp.Identity.EmailVerified,
			Provider:      resp.Identity.Provider,
			CreatedAt:     resp.Identity.CreatedAt,
			UpdatedAt:     resp.Identity.UpdatedAt,
		},
		Token:        resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		ExpiresAt:    resp.ExpiresAt,
	}
	c.remember(res)
	return res, nil
}

func (c *Client) GetProfile(ctx context.Context, id string) (*models.Profile, error) {
	var p models.Profile
	if err := c.do(ctx, http.MethodGet, profilePath(id), c.bearer(), nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *Client) CreateProfile(ctx context.Context, id string, seed models.ProfileSeed) (*models.Profile, error) {
	var p models.Profile
	if err := c.do(ctx, http.MethodPost, profilePath(id), c.bearer(), seed, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *Client) UpdateProfile(ctx context.Context, id string, update models.ProfileUpdate) (*models.Profile, error) {
	var p models.Profile
	if err := c.do(ctx, http.MethodPatch, profilePath(id), c.bearer(), update, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *Client) SoftDeleteProfile(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, profilePath(id), c.bearer(), nil, nil)
}

func (c *Client) HardDeleteProfile(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, profilePath(id)+"?hard=true", c.bearer(), nil, nil)
}

func (c *Client) bearer() string {
	token, _ := c.Tokens()
	return token
}

func profilePath(id string) string {
	return "/api/profiles/" + url.PathEscape(id)
}

func (c *Client) do(ctx context.Context, method, path, token string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, stripQuery(path), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		c.logger.Debug("backend request failed", "method", method, "path", stripQuery(path), "status", resp.StatusCode)
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", stripQuery(path), err)
	}
	return nil
}

// decodeError turns an error body into a *gateway.Error. Bodies without a
// code are classified by status.
func decodeError(resp *http.Response) error {
	var body dto.ErrorResponse
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := json.Unmarshal(raw, &body); err != nil {
		body.Message = strings.TrimSpace(string(raw))
	}

	code := gateway.Code(body.Code)
	if code == "" {
		code = codeForStatus(resp.StatusCode)
	}
	return &gateway.Error{
		Code:    code,
		Message: body.Message,
		Err:     errors.New(resp.Status),
	}
}

func codeForStatus(status int) gateway.Code {
	switch status {
	case http.StatusUnauthorized:
		return gateway.CodeInvalidCredential
	case http.StatusForbidden:
		return gateway.CodeForbidden
	case http.StatusNotFound:
		return gateway.CodeProfileNotFound
	case http.StatusTooManyRequests:
		return gateway.CodeTooManyRequests
	case http.StatusBadRequest:
		return gateway.CodeInvalidArgument
	default:
		return gateway.CodeProviderError
	}
}

func stripQuery(path string) string {
	p, _, _ := strings.Cut(path, "?")
	return p
}
