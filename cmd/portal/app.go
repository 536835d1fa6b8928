package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/redis/go-redis/v9"

	"github.com/ahmetcoskunkizilkaya/paygate-portal/internal/auth"
	"github.com/ahmetcoskunkizilkaya/paygate-portal/internal/config"
	"github.com/ahmetcoskunkizilkaya/paygate-portal/internal/gateway/httpapi"
	"github.com/ahmetcoskunkizilkaya/paygate-portal/internal/logging"
	"github.com/ahmetcoskunkizilkaya/paygate-portal/internal/session"
	"github.com/ahmetcoskunkizilkaya/paygate-portal/internal/validation"
)

// portal is one CLI invocation: the diagnostic sink, the restored session
// and an orchestrator wired to the backend.
type portal struct {
	cfg    *config.PortalConfig
	sink   *logging.Sink
	logger *slog.Logger
	store  *session.Store
	auth   *auth.Orchestrator

	closers []func()
}

func newPortal(ctx context.Context, cfg *config.PortalConfig, mode validation.Mode) (*portal, error) {
	p := &portal{cfg: cfg}
	p.setupLogging()

	storage, closeStorage, err := newStorage(cfg)
	if err != nil {
		p.Close()
		return nil, err
	}
	if closeStorage != nil {
		p.closers = append(p.closers, closeStorage)
	}
	p.store = session.NewStore(storage, p.logger)

	client := httpapi.New(cfg.APIURL,
		httpapi.WithHTTPClient(&http.Client{Timeout: cfg.HTTPTimeout}),
		httpapi.WithTokenSource(p.store),
		httpapi.WithLogger(p.logger),
		httpapi.WithPopup(&httpapi.LoopbackPopup{
			Addr:    cfg.CallbackAddr,
			Timeout: cfg.OAuthTimeout,
			Open:    openBrowser,
		}),
	)

	p.auth = auth.New(auth.Deps{
		Identity: client,
		Profiles: client,
		Session:  p.store,
		Logger:   p.logger,
	}, auth.WithMode(mode))
	p.closers = append(p.closers, p.auth.Close)

	if err := p.auth.Restore(ctx); err != nil {
		p.Close()
		return nil, err
	}
	return p, nil
}

// setupLogging sends records to stderr at the configured level and to the
// diagnostic sink at every level. The sink is carried across runs in the
// state directory.
func (p *portal) setupLogging() {
	level, err := logging.ParseLevel(p.cfg.LogLevel)
	if err != nil {
		level = slog.LevelWarn
	}
	p.sink = newSink(p.cfg)

	extra := []slog.Handler{p.sink}
	if p.cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{Dsn: p.cfg.SentryDSN}); err == nil {
			extra = append(extra, logging.NewSentryHandler(sentry.CurrentHub()))
			p.closers = append(p.closers, func() { sentry.Flush(2 * time.Second) })
		}
	}
	p.logger = logging.Setup(os.Stderr, level, extra...)
	p.closers = append(p.closers, func() {
		if err := saveDiagnostics(p.cfg, p.sink); err != nil {
			fmt.Fprintln(os.Stderr, "could not save diagnostics:", err)
		}
	})
}

// Close runs the registered cleanups in reverse order.
func (p *portal) Close() {
	for i := len(p.closers) - 1; i >= 0; i-- {
		p.closers[i]()
	}
	p.closers = nil
}

func newStorage(cfg *config.PortalConfig) (session.Storage, func(), error) {
	switch cfg.Storage {
	case "memory":
		return session.NewMemoryStorage(), nil, nil
	case "file", "":
		return session.NewFileStorage(cfg.SessionFile()), nil, nil
	case "redis":
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid redis url: %w", err)
		}
		client := redis.NewClient(opts)
		return session.NewRedisStorage(client, cfg.RedisPrefix, cfg.SessionTTL), func() { _ = client.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage %q (want file, redis or memory)", cfg.Storage)
	}
}

func diagnosticsFile(cfg *config.PortalConfig) string {
	return filepath.Join(cfg.StateDir, "diagnostics.json")
}

// newSink restores earlier entries; an unreadable file starts empty.
func newSink(cfg *config.PortalConfig) *logging.Sink {
	sink := logging.NewSink(cfg.LogBufferSize, slog.LevelDebug)
	raw, err := os.ReadFile(diagnosticsFile(cfg))
	if err != nil {
		return sink
	}
	var entries []logging.Entry
	if json.Unmarshal(raw, &entries) == nil {
		sink.Import(entries)
	}
	return sink
}

func saveDiagnostics(cfg *config.PortalConfig, sink *logging.Sink) error {
	raw, err := sink.Export()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.StateDir, 0o700); err != nil {
		return err
	}
	return os.WriteFile(diagnosticsFile(cfg), raw, 0o600)
}

func removeDiagnostics(cfg *config.PortalConfig) error {
	err := os.Remove(diagnosticsFile(cfg))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// openBrowser prints the sign-in URL and tries the platform opener.
func openBrowser(url string) error {
	fmt.Fprintf(os.Stderr, "Complete sign-in in your browser:\n  %s\n", url)
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	// The printed URL is enough when no opener is installed.
	_ = cmd.Start()
	return nil
}
