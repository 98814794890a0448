package auth_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rasha-hantash/locscout/steps/auth"
	"github.com/rasha-hantash/locscout/steps/types"
	"github.com/rasha-hantash/locscout/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

type fakeGoogle struct {
	srv       *httptest.Server
	grants    atomic.Int32
	refreshes atomic.Int32
}

func newFakeGoogle(t *testing.T) *fakeGoogle {
	t.Helper()
	f := &fakeGoogle{}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/token", r.URL.Path)
		if !assert.NoError(t, r.ParseForm()) {
			return
		}

		var access string
		switch r.Form.Get("grant_type") {
		case "authorization_code":
			assert.Equal(t, "good-code", r.Form.Get("code"))
			assert.NotEmpty(t, r.Form.Get("code_verifier"))
			f.grants.Add(1)
			access = "access-1"
		case "refresh_token":
			assert.Equal(t, "refresh-1", r.Form.Get("refresh_token"))
			f.refreshes.Add(1)
			access = "access-2"
		default:
			http.Error(w, "unsupported grant", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  access,
			"token_type":    "Bearer",
			"refresh_token": "refresh-1",
			"expires_in":    3600,
		})
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeGoogle) endpoint() oauth2.Endpoint {
	return oauth2.Endpoint{AuthURL: f.srv.URL + "/auth", TokenURL: f.srv.URL + "/token"}
}

// consent plays the user's browser: it follows the consent URL straight to
// the redirect with the given code.
func consent(code string, tamperState bool) func(string) error {
	return func(raw string) error {
		u, err := url.Parse(raw)
		if err != nil {
			return err
		}
		q := u.Query()
		state := q.Get("state")
		if tamperState {
			state = "forged"
		}
		cb := q.Get("redirect_uri") + "?" + url.Values{"code": {code}, "state": {state}}.Encode()
		go func() {
			resp, err := http.Get(cb)
			if err == nil {
				resp.Body.Close()
			}
		}()
		return nil
	}
}

func openStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), store.DefaultFileName))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestLoopbackSignInAndCache(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	idp := newFakeGoogle(t)
	s := openStore(t)
	p := auth.NewProvider(auth.Config{
		ClientID:     "client",
		ClientSecret: "secret",
		Endpoint:     idp.endpoint(),
		Open:         consent("good-code", false),
	}, s)

	tok, err := p.Token(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, "access-1", tok.AccessToken)
	assert.EqualValues(t, 1, idp.grants.Load())

	// Served from the cache.
	tok, err = p.Token(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, "access-1", tok.AccessToken)
	assert.EqualValues(t, 1, idp.grants.Load())

	require.NoError(t, p.Invalidate(ctx))
	_, err = p.Token(ctx, false)
	assert.ErrorIs(t, err, auth.ErrInteractionRequired)
}

func TestRefreshExpiredToken(t *testing.T) {
	ctx := context.Background()
	idp := newFakeGoogle(t)
	s := openStore(t)
	require.NoError(t, s.PutJSON(ctx, store.KeyToken, &oauth2.Token{
		AccessToken:  "stale",
		RefreshToken: "refresh-1",
		Expiry:       time.Now().Add(-time.Hour),
	}))

	p := auth.NewProvider(auth.Config{
		ClientID:     "client",
		ClientSecret: "secret",
		Endpoint:     idp.endpoint(),
		Open:         func(string) error { return errors.New("no browser in tests") },
	}, s)

	tok, err := p.TokenSource(ctx).Token()
	require.NoError(t, err)
	assert.Equal(t, "access-2", tok.AccessToken)
	assert.EqualValues(t, 1, idp.refreshes.Load())

	var cached oauth2.Token
	_, err = s.GetJSON(ctx, store.KeyToken, &cached)
	require.NoError(t, err)
	assert.Equal(t, "access-2", cached.AccessToken)
}

func TestSignInRejectsForgedState(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	idp := newFakeGoogle(t)
	p := auth.NewProvider(auth.Config{
		ClientID:     "client",
		ClientSecret: "secret",
		Endpoint:     idp.endpoint(),
		Open:         consent("good-code", true),
	}, openStore(t))

	_, err := p.Token(ctx, true)
	assert.ErrorIs(t, err, auth.ErrStateMismatch)
	assert.EqualValues(t, 0, idp.grants.Load())
}

func TestRunWrapsAuthError(t *testing.T) {
	p := auth.NewProvider(auth.Config{Interactive: true}, openStore(t))

	err := p.Run(context.Background(), &types.Run{})
	var authErr *types.AuthError
	require.True(t, errors.As(err, &authErr))
	assert.ErrorIs(t, err, auth.ErrNotConfigured)
	assert.Contains(t, err.Error(), "OAuth")
}

func TestRunUsesCachedToken(t *testing.T) {
	ctx := context.Background()
	idp := newFakeGoogle(t)
	s := openStore(t)
	require.NoError(t, s.PutJSON(ctx, store.KeyToken, &oauth2.Token{
		AccessToken:  "cached",
		RefreshToken: "refresh-1",
		Expiry:       time.Now().Add(time.Hour),
	}))

	p := auth.NewProvider(auth.Config{
		ClientID:     "client",
		ClientSecret: "secret",
		Endpoint:     idp.endpoint(),
		Open:         func(string) error { return errors.New("no browser in tests") },
	}, s)

	require.NoError(t, p.Run(ctx, &types.Run{}))
	assert.Zero(t, idp.grants.Load())
	assert.Zero(t, idp.refreshes.Load())

	tok, err := p.TokenSource(ctx).Token()
	require.NoError(t, err)
	assert.Equal(t, "cached", tok.AccessToken)
}

func TestLaunchWebAuthFlow(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	p := auth.NewProvider(auth.Config{Open: consent("xyz", false)}, openStore(t))

	got, err := p.LaunchWebAuthFlow(ctx, "https://idp.example.com/authorize?client_id=c&state=s1")
	require.NoError(t, err)

	u, err := url.Parse(got)
	require.NoError(t, err)
	assert.Equal(t, "/callback", u.Path)
	assert.Equal(t, "xyz", u.Query().Get("code"))
	assert.Equal(t, "s1", u.Query().Get("state"))
}

func TestAwaitHonoursContext(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	p := auth.NewProvider(auth.Config{
		ClientID:     "client",
		ClientSecret: "secret",
		Open:         func(string) error { return nil },
	}, openStore(t))

	_, err := p.Token(ctx, true)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
