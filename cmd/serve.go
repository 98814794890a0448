package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/rasha-hantash/locscout/bridge"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownGrace = 5 * time.Second

var flagAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the host bridge on a loopback address",
	Long: `Serve exposes the pipeline to a local client:

  POST /v1/actions       action-tagged requests (generate-document, select-folder,
                         select-template-document, encrypt-credential,
                         decrypt-credential)
  GET  /v1/progress      latest progress marker
  GET  /v1/progress/ws   progress markers as a websocket stream

Actions must be posted as application/json. Browser callers are accepted
only from the origins listed in bridge.allowed_origins. A generate-document
request may carry a "settings" object (slideMode, masterSlideId,
slideFolderId, templateSlideId, saveToSheets, spreadsheetId, teamSharing,
masterSpreadsheetId, userName) that overrides the config for that run.

Sign in once with "locscout generate" or "locscout folders" first; the
server never opens a browser.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&flagAddr, "addr", "127.0.0.1:8765", "Listen address")
}

func runServe(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd.Context(), settings, false)
	if err != nil {
		return err
	}
	defer a.Close()

	handler := bridge.New(bridge.Deps{
		Runner:   a.orch,
		Drive:    a.generator,
		Sealer:   a.box,
		Progress: a.store,
		Broker:   a.broker,
		Settings: settings,
	})

	ln, err := net.Listen("tcp", flagAddr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", flagAddr, err)
	}
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(cmd.Context())
	g.Go(func() error {
		slog.Info("bridge listening", slog.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serving: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownGrace)
		defer cancel()
		slog.Info("shutting down bridge")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
