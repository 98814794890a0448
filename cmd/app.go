package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/rasha-hantash/locscout/config"
	"github.com/rasha-hantash/locscout/pipeline"
	"github.com/rasha-hantash/locscout/secure"
	"github.com/rasha-hantash/locscout/steps/analyzer"
	"github.com/rasha-hantash/locscout/steps/auth"
	"github.com/rasha-hantash/locscout/steps/extractor"
	"github.com/rasha-hantash/locscout/steps/gapi"
	"github.com/rasha-hantash/locscout/steps/generator"
	"github.com/rasha-hantash/locscout/steps/sink"
	"github.com/rasha-hantash/locscout/store"
)

// app holds every component built from the settings.
type app struct {
	store     *store.Store
	box       *secure.Box
	auth      *auth.Provider
	broker    *pipeline.Broker
	generator *generator.Generator
	sink      *sink.Sink
	orch      *pipeline.Orchestrator
	apiKey    string
}

// newApp opens the store and wires the pipeline. interactive lets the auth
// step open a browser for sign-in.
func newApp(ctx context.Context, s config.Settings, interactive bool) (*app, error) {
	st, err := openStore(s.Store.Path)
	if err != nil {
		return nil, err
	}

	a := &app{store: st, box: secure.NewBox(st)}
	a.apiKey, err = a.resolveAPIKey(ctx, s.OpenAI)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	a.auth = auth.NewProvider(auth.Config{
		ClientID:        s.Google.ClientID,
		ClientSecret:    s.Google.ClientSecret,
		CredentialsFile: s.Google.CredentialsFile,
		Interactive:     interactive,
	}, st)

	gopts := gapi.Options{
		TokenSource:  a.auth.TokenSource(ctx),
		QuotaProject: s.Google.QuotaProject,
	}
	if a.generator, err = generator.NewGenerator(ctx, gopts, s.Slides); err != nil {
		_ = st.Close()
		return nil, err
	}
	if a.sink, err = sink.NewSink(ctx, gopts, s.Sheets); err != nil {
		_ = st.Close()
		return nil, err
	}

	steps := []pipeline.Step{
		extractor.NewExtractor(s.Run.FetchTimeout),
		analyzer.NewAnalyzer(analyzer.Config{
			APIKey:  a.apiKey,
			Model:   s.OpenAI.Model,
			BaseURL: s.OpenAI.BaseURL,
		}),
		a.auth,
		a.generator,
		a.sink,
	}
	a.broker = pipeline.NewBroker(st)
	a.orch = pipeline.NewOrchestrator(steps, a.broker, st, s.Run.Timeout).WithInvalidator(a.auth)

	slog.Debug("pipeline ready",
		slog.String("store", st.Path()),
		slog.Any("steps", a.orch.Steps()),
		slog.Bool("api_key_set", a.apiKey != ""))
	return a, nil
}

func (a *app) Close() error {
	return a.store.Close()
}

// resolveAPIKey prefers the plain key, then the encrypted key from the
// config, then the one saved with `key encrypt --save`.
func (a *app) resolveAPIKey(ctx context.Context, o config.OpenAI) (string, error) {
	if o.APIKey != "" {
		return o.APIKey, nil
	}
	if o.EncryptedAPIKey != "" {
		key, err := a.box.Decrypt(ctx, o.EncryptedAPIKey)
		if err != nil {
			return "", fmt.Errorf("openai.encrypted_api_key: %w", err)
		}
		return key, nil
	}
	blob, _, err := a.store.Get(ctx, store.KeyCredential)
	if errors.Is(err, store.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	key, err := a.box.Decrypt(ctx, string(blob))
	if err != nil {
		return "", fmt.Errorf("saved credential: %w", err)
	}
	return key, nil
}
