// Package gapi holds the plumbing shared by the Google Slides, Sheets and
// Drive steps: client options, retries and error payloads.
package gapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
	"google.golang.org/api/slides/v1"
)

// Options selects how Google clients authenticate and where they connect.
type Options struct {
	TokenSource  oauth2.TokenSource
	QuotaProject string
	// Endpoint and HTTPClient point the clients at a fake server in tests.
	Endpoint   string
	HTTPClient *http.Client
}

// ClientOptions converts o into google.golang.org/api options.
func (o Options) ClientOptions() []option.ClientOption {
	var opts []option.ClientOption
	switch {
	case o.HTTPClient != nil:
		opts = append(opts, option.WithHTTPClient(o.HTTPClient))
	case o.TokenSource != nil:
		opts = append(opts, option.WithTokenSource(o.TokenSource))
	}
	if o.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(o.Endpoint))
	}
	if o.QuotaProject != "" {
		opts = append(opts, option.WithQuotaProject(o.QuotaProject))
	}
	return opts
}

func NewSlides(ctx context.Context, o Options) (*slides.Service, error) {
	svc, err := slides.NewService(ctx, o.ClientOptions()...)
	if err != nil {
		return nil, fmt.Errorf("creating Slides service: %w", err)
	}
	return svc, nil
}

func NewDrive(ctx context.Context, o Options) (*drive.Service, error) {
	svc, err := drive.NewService(ctx, o.ClientOptions()...)
	if err != nil {
		return nil, fmt.Errorf("creating Drive service: %w", err)
	}
	return svc, nil
}

func NewSheets(ctx context.Context, o Options) (*sheets.Service, error) {
	svc, err := sheets.NewService(ctx, o.ClientOptions()...)
	if err != nil {
		return nil, fmt.Errorf("creating Sheets service: %w", err)
	}
	return svc, nil
}

const maxAttempts = 6

// backoffBase is the first retry delay; it doubles on every attempt.
var backoffBase = time.Second

// Retry calls fn until it succeeds, fails with a non-transient error, or ctx
// is done. Transient errors get exponential back-off with jitter.
func Retry[T any](ctx context.Context, op string, fn func() (T, error)) (T, error) {
	var zero T
	var err error
	for i := 0; i < maxAttempts; i++ {
		var v T
		v, err = fn()
		if err == nil {
			return v, nil
		}
		if !Transient(err) {
			return zero, err
		}
		if i == maxAttempts-1 {
			break
		}

		d := backoffBase << i
		d += time.Duration(rand.Int64N(int64(d/2) + 1))
		slog.Debug("retrying google api call",
			slog.String("op", op),
			slog.Int("attempt", i+1),
			slog.Duration("delay", d),
			slog.Any("error", err))

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(d):
		}
	}
	return zero, fmt.Errorf("%s: after %d attempts: %w", op, maxAttempts, err)
}

// Transient reports whether err is a rate limit or server-side failure.
func Transient(err error) bool {
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return false
	}
	switch gerr.Code {
	case http.StatusTooManyRequests, http.StatusInternalServerError,
		http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// Unauthorized reports whether err is a 401 from a Google API.
func Unauthorized(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusUnauthorized
}

// Payload returns the raw error body of a Google API error, or "".
func Payload(err error) string {
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return ""
	}
	if gerr.Body != "" {
		return gerr.Body
	}
	return gerr.Message
}
