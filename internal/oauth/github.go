package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
)

const githubAPI = "https://api.github.com"

type GitHubProvider struct {
	oauthConfig *oauth2.Config
	apiURL      string
}

func NewGitHub(clientID, clientSecret string) (*GitHubProvider, error) {
	if clientID == "" || clientSecret == "" {
		return nil, errors.New("github oauth config missing required fields")
	}
	return &GitHubProvider{
		oauthConfig: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint:     github.Endpoint,
			Scopes:       []string{"read:user", "user:email"},
		},
		apiURL: githubAPI,
	}, nil
}

func (p *GitHubProvider) Name() string {
	return "github"
}

func (p *GitHubProvider) config(redirectURI string) *oauth2.Config {
	cfg := *p.oauthConfig
	cfg.RedirectURL = redirectURI
	return &cfg
}

func (p *GitHubProvider) AuthCodeURL(state, codeChallenge, redirectURI string) string {
	return p.config(redirectURI).AuthCodeURL(
		state,
		oauth2.SetAuthURLParam("code_challenge", codeChallenge),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	)
}

type githubUser struct {
	ID    int64  `json:"id"`
	Login string `json:"login"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type githubEmail struct {
	Email    string `json:"email"`
	Primary  bool   `json:"primary"`
	Verified bool   `json:"verified"`
}

// ExchangeCode resolves the account and its primary verified address. The
// public profile email is used only when the emails endpoint has none.
func (p *GitHubProvider) ExchangeCode(ctx context.Context, code, codeVerifier, redirectURI string) (*Identity, error) {
	cfg := p.config(redirectURI)
	token, err := cfg.Exchange(ctx, code, oauth2.VerifierOption(codeVerifier))
	if err != nil {
		return nil, fmt.Errorf("github token exchange failed: %w", err)
	}
	client := cfg.Client(ctx, token)

	var user githubUser
	if err := p.get(ctx, client, "/user", &user); err != nil {
		return nil, err
	}
	if user.ID == 0 {
		return nil, ErrMissingClaims
	}

	var emails []githubEmail
	if err := p.get(ctx, client, "/user/emails", &emails); err != nil {
		return nil, err
	}

	identity := &Identity{
		Provider: p.Name(),
		Subject:  strconv.FormatInt(user.ID, 10),
		Name:     user.Name,
	}
	if identity.Name == "" {
		identity.Name = user.Login
	}
	for _, e := range emails {
		if e.Primary && e.Verified {
			identity.Email = e.Email
			identity.EmailVerified = true
			break
		}
	}
	if identity.Email == "" {
		identity.Email = user.Email
	}
	if identity.Email == "" {
		return nil, fmt.Errorf("github account has no usable email: %w", ErrMissingClaims)
	}
	return identity, nil
}

func (p *GitHubProvider) get(ctx context.Context, client *http.Client, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.apiURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("github %s request failed: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("github %s returned status %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode github %s: %w", path, err)
	}
	return nil
}
