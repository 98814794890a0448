package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os/exec"
	"runtime"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

const callbackPath = "/callback"

const donePage = `<!DOCTYPE html><html lang="ja"><meta charset="utf-8"><title>locscout</title>
<body><p>認証が完了しました。このウィンドウを閉じてください。</p></body></html>`

// signIn runs the authorization-code flow with PKCE against a loopback
// redirect and caches the resulting token.
func (p *Provider) signIn(ctx context.Context) (*oauth2.Token, error) {
	if p.cfg.ClientID == "" || p.cfg.ClientSecret == "" {
		return nil, ErrNotConfigured
	}

	ln, redirect, err := p.listen()
	if err != nil {
		return nil, err
	}

	conf := *p.oauth
	conf.RedirectURL = redirect
	state := uuid.NewString()
	verifier := oauth2.GenerateVerifier()
	authURL := conf.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.S256ChallengeOption(verifier))

	got, err := p.await(ctx, ln, authURL)
	if err != nil {
		return nil, err
	}

	q := got.Query()
	if e := q.Get("error"); e != "" {
		return nil, fmt.Errorf("authorization denied: %s", e)
	}
	if q.Get("state") != state {
		return nil, ErrStateMismatch
	}
	code := q.Get("code")
	if code == "" {
		return nil, errors.New("authorization response has no code")
	}

	tok, err := conf.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, fmt.Errorf("exchanging authorization code: %w", err)
	}
	if err := p.save(ctx, tok); err != nil {
		return nil, err
	}
	slog.Info("signed in to google")
	return tok, nil
}

// LaunchWebAuthFlow opens authURL with its redirect_uri pointed at a
// loopback listener and returns the URL the provider redirected to.
func (p *Provider) LaunchWebAuthFlow(ctx context.Context, authURL string) (string, error) {
	u, err := url.Parse(authURL)
	if err != nil {
		return "", fmt.Errorf("parsing auth URL: %w", err)
	}

	ln, redirect, err := p.listen()
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("redirect_uri", redirect)
	u.RawQuery = q.Encode()

	got, err := p.await(ctx, ln, u.String())
	if err != nil {
		return "", err
	}
	return got.String(), nil
}

func (p *Provider) listen() (net.Listener, string, error) {
	ln, err := net.Listen("tcp", p.cfg.ListenAddr)
	if err != nil {
		return nil, "", fmt.Errorf("starting redirect listener: %w", err)
	}
	return ln, "http://" + ln.Addr().String() + callbackPath, nil
}

// await serves ln until the first redirect arrives, then shuts it down.
func (p *Provider) await(ctx context.Context, ln net.Listener, authURL string) (*url.URL, error) {
	redirects := make(chan *url.URL, 1)
	srv := &http.Server{
		ReadHeaderTimeout: 10 * time.Second,
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != callbackPath {
				http.NotFound(w, r)
				return
			}
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			_, _ = w.Write([]byte(donePage))

			got := *r.URL
			got.Scheme = "http"
			got.Host = ln.Addr().String()
			select {
			case redirects <- &got:
			default:
			}
		}),
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Warn("redirect listener stopped", slog.Any("error", err))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("waiting for browser sign-in", slog.String("url", authURL))
	if err := p.cfg.Open(authURL); err != nil {
		slog.Warn("could not open browser; open the URL manually", slog.Any("error", err))
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case got := <-redirects:
		return got, nil
	}
}

// OpenBrowser opens url with the platform's default handler.
func OpenBrowser(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	return cmd.Start()
}
