// Package auth obtains Google OAuth tokens for the Slides, Sheets and Drive
// steps. Tokens are cached in the local store; a missing or dead token is
// replaced through the loopback redirect flow.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/rasha-hantash/locscout/steps/types"
	"github.com/rasha-hantash/locscout/store"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// Scopes requested for every token.
var Scopes = []string{
	"https://www.googleapis.com/auth/presentations",
	"https://www.googleapis.com/auth/spreadsheets",
	"https://www.googleapis.com/auth/drive",
}

var (
	ErrNotConfigured       = errors.New("google.client_id and google.client_secret are not configured")
	ErrInteractionRequired = errors.New("no cached token; interactive sign-in required")
	ErrStateMismatch       = errors.New("OAuth state mismatch")
)

// TokenStore is the subset of the local store used for the token cache.
type TokenStore interface {
	GetJSON(ctx context.Context, key string, v any) (time.Time, error)
	PutJSON(ctx context.Context, key string, v any) error
	Delete(ctx context.Context, key string) error
}

type Config struct {
	ClientID        string
	ClientSecret    string
	CredentialsFile string
	// Endpoint defaults to Google's.
	Endpoint oauth2.Endpoint
	// Open shows the consent page to the user. Defaults to OpenBrowser.
	Open func(url string) error
	// ListenAddr is the loopback address for redirects. Defaults to
	// 127.0.0.1:0.
	ListenAddr string
	// Interactive allows the Step to start a sign-in when no token is cached.
	Interactive bool
}

// Provider hands out bearer tokens.
type Provider struct {
	cfg    Config
	tokens TokenStore
	oauth  *oauth2.Config

	mu         sync.Mutex
	fileSource oauth2.TokenSource
}

func NewProvider(cfg Config, tokens TokenStore) *Provider {
	if cfg.Endpoint.TokenURL == "" {
		cfg.Endpoint = google.Endpoint
	}
	if cfg.Open == nil {
		cfg.Open = OpenBrowser
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = "127.0.0.1:0"
	}
	return &Provider{
		cfg:    cfg,
		tokens: tokens,
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     cfg.Endpoint,
			Scopes:       Scopes,
		},
	}
}

// Name implements the Step interface
func (p *Provider) Name() string {
	return "auth"
}

// Run implements the Step interface
func (p *Provider) Run(ctx context.Context, _ *types.Run) error {
	tok, err := p.Token(ctx, p.cfg.Interactive)
	if err != nil {
		return &types.AuthError{Err: err}
	}
	slog.Info("obtained google token", slog.Time("expiry", tok.Expiry))
	return nil
}

// Token returns a valid token: from the credentials file when one is
// configured, else the cache, else a refresh, else (when interactive) a new
// sign-in.
func (p *Provider) Token(ctx context.Context, interactive bool) (*oauth2.Token, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cfg.CredentialsFile != "" {
		return p.fileToken(ctx)
	}

	var cached oauth2.Token
	_, err := p.tokens.GetJSON(ctx, store.KeyToken, &cached)
	switch {
	case err == nil && cached.Valid():
		return &cached, nil
	case err == nil && cached.RefreshToken != "" && p.cfg.ClientID != "":
		tok, rerr := p.oauth.TokenSource(ctx, &cached).Token()
		if rerr == nil {
			if err := p.save(ctx, tok); err != nil {
				return nil, err
			}
			slog.Debug("refreshed google token")
			return tok, nil
		}
		slog.Warn("token refresh failed", slog.Any("error", rerr))
	case err != nil && !errors.Is(err, store.ErrNotFound):
		return nil, fmt.Errorf("reading cached token: %w", err)
	}

	if !interactive {
		return nil, ErrInteractionRequired
	}
	return p.signIn(ctx)
}

// Invalidate drops the cached token so the next call signs in again.
func (p *Provider) Invalidate(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fileSource = nil
	if err := p.tokens.Delete(ctx, store.KeyToken); err != nil {
		return fmt.Errorf("removing cached token: %w", err)
	}
	slog.Info("removed cached google token")
	return nil
}

// TokenSource adapts the provider for Google API clients. It never starts
// an interactive sign-in, and it reads the cache on every call so an
// Invalidate takes effect immediately.
func (p *Provider) TokenSource(ctx context.Context) oauth2.TokenSource {
	return tokenSource{ctx: ctx, p: p}
}

type tokenSource struct {
	ctx context.Context
	p   *Provider
}

func (ts tokenSource) Token() (*oauth2.Token, error) {
	return ts.p.Token(ts.ctx, false)
}

func (p *Provider) fileToken(ctx context.Context) (*oauth2.Token, error) {
	if p.fileSource == nil {
		data, err := os.ReadFile(p.cfg.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("reading credentials file: %w", err)
		}
		creds, err := google.CredentialsFromJSON(ctx, data, Scopes...)
		if err != nil {
			return nil, fmt.Errorf("parsing credentials file: %w", err)
		}
		p.fileSource = creds.TokenSource
	}
	tok, err := p.fileSource.Token()
	if err != nil {
		return nil, fmt.Errorf("fetching token from credentials file: %w", err)
	}
	return tok, nil
}

func (p *Provider) save(ctx context.Context, tok *oauth2.Token) error {
	if err := p.tokens.PutJSON(ctx, store.KeyToken, tok); err != nil {
		return fmt.Errorf("caching token: %w", err)
	}
	return nil
}
