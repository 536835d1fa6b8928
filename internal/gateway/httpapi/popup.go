package httpapi

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/oauth2"

	"github.com/ahmetcoskunkizilkaya/paygate-portal/internal/gateway"
)

const (
	callbackPath       = "/callback"
	defaultPopupWait   = 3 * time.Minute
	defaultCallbackURL = "127.0.0.1:0"
)

// AuthURLFunc asks the backend for the provider authorization page.
type AuthURLFunc func(ctx context.Context, redirectURI, state, codeChallenge string) (string, error)

// Callback is what the provider redirected back with.
type Callback struct {
	Code         string
	CodeVerifier string
	RedirectURI  string
	// Name is only sent by providers that share it once, on first consent.
	Name string
}

// Popup drives the interactive part of a third-party sign-in.
type Popup interface {
	Authorize(ctx context.Context, authURL AuthURLFunc) (*Callback, error)
}

// LoopbackPopup receives the provider redirect on a local listener.
type LoopbackPopup struct {
	// Addr is the listen address; the port may be 0.
	Addr string
	// Timeout bounds the wait for the user; it reports the popup as closed.
	Timeout time.Duration
	// Open shows the authorization URL to the user, e.g. launches a browser.
	Open func(url string) error
}

type popupResult struct {
	cb  *Callback
	err error
}

func (p *LoopbackPopup) Authorize(ctx context.Context, authURL AuthURLFunc) (*Callback, error) {
	if p.Open == nil {
		return nil, gateway.NewError(gateway.CodeProviderError, "no way to open the sign-in page")
	}
	addr := p.Addr
	if addr == "" {
		addr = defaultCallbackURL
	}
	wait := p.Timeout
	if wait <= 0 {
		wait = defaultPopupWait
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen for oauth callback: %w", err)
	}
	redirectURI := "http://" + ln.Addr().String() + callbackPath

	state, err := randomState()
	if err != nil {
		ln.Close()
		return nil, err
	}
	verifier := oauth2.GenerateVerifier()

	results := make(chan popupResult, 1)
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.All(callbackPath, func(c *fiber.Ctx) error {
		c.Set(fiber.HeaderContentType, fiber.MIMETextHTMLCharsetUTF8)
		// A hit without our state is not the provider's redirect; the popup
		// keeps waiting for the real one.
		if c.FormValue("state") != state {
			return c.Status(fiber.StatusBadRequest).SendString(page("This sign-in link is not valid."))
		}
		res := parseCallback(c)
		if res.cb != nil {
			res.cb.CodeVerifier = verifier
			res.cb.RedirectURI = redirectURI
		}
		select {
		case results <- res:
		default:
		}
		if res.err != nil {
			return c.Status(fiber.StatusBadRequest).SendString(page("Sign-in did not complete. You can close this window."))
		}
		return c.SendString(page("Signed in. You can close this window."))
	})
	go func() { _ = app.Listener(ln) }()
	defer func() { _ = app.ShutdownWithTimeout(time.Second) }()

	target, err := authURL(ctx, redirectURI, state, oauth2.S256ChallengeFromVerifier(verifier))
	if err != nil {
		return nil, err
	}
	if err := p.Open(target); err != nil {
		return nil, fmt.Errorf("open sign-in page: %w", err)
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case res := <-results:
		return res.cb, res.err
	case <-timer.C:
		return nil, gateway.NewError(gateway.CodePopupClosed, "")
	case <-ctx.Done():
		return nil, &gateway.Error{Code: gateway.CodePopupClosed, Err: ctx.Err()}
	}
}

// parseCallback reads query parameters or a form_post body whose state has
// already been checked.
func parseCallback(c *fiber.Ctx) popupResult {
	if e := c.FormValue("error"); e != "" {
		if e == "access_denied" || e == "user_cancelled_authorize" {
			return popupResult{err: gateway.NewError(gateway.CodePopupCancelled, "")}
		}
		return popupResult{err: gateway.NewError(gateway.CodeProviderError, firstNonEmpty(c.FormValue("error_description"), e))}
	}
	code := c.FormValue("code")
	if code == "" {
		return popupResult{err: gateway.NewError(gateway.CodeProviderError, "missing authorization code")}
	}
	return popupResult{cb: &Callback{Code: code, Name: appleUserName(c.FormValue("user"))}}
}

// appleUserName extracts "first last" from the user JSON Apple posts on the
// first authorization.
func appleUserName(raw string) string {
	if raw == "" {
		return ""
	}
	var u struct {
		Name struct {
			FirstName string `json:"firstName"`
			LastName  string `json:"lastName"`
		} `json:"name"`
	}
	if err := json.Unmarshal([]byte(raw), &u); err != nil {
		return ""
	}
	return strings.TrimSpace(u.Name.FirstName + " " + u.Name.LastName)
}

func randomState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate oauth state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func page(msg string) string {
	return "<!doctype html><html><body><p>" + msg + "</p></body></html>"
}
