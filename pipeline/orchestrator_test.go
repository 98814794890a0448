package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rasha-hantash/locscout/config"
	"github.com/rasha-hantash/locscout/steps/types"
	"github.com/rasha-hantash/locscout/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"
)

type fakeStep struct {
	name  string
	calls atomic.Int32
	fn    func(ctx context.Context, run *types.Run) error
}

func (s *fakeStep) Name() string { return s.name }

func (s *fakeStep) Run(ctx context.Context, run *types.Run) error {
	s.calls.Add(1)
	if s.fn == nil {
		return nil
	}
	return s.fn(ctx, run)
}

type harness struct {
	orch   *Orchestrator
	broker *Broker
	store  *store.Store

	extractor, analyzer, auth, generator, sink *fakeStep
}

func newHarness(t *testing.T, timeout time.Duration) *harness {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), store.DefaultFileName))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	h := &harness{
		store: st,
		extractor: &fakeStep{name: "extractor", fn: func(_ context.Context, run *types.Run) error {
			run.Page = &types.PageContent{URL: run.URL, Title: "Example Hall"}
			return nil
		}},
		analyzer: &fakeStep{name: "analyzer", fn: func(_ context.Context, run *types.Run) error {
			run.Record = &types.LocationRecord{
				LocationName: "Example Hall",
				ParkingInfo:  types.ParkingFree,
				SourceURL:    run.Page.URL,
			}
			return nil
		}},
		auth: &fakeStep{name: "auth"},
		generator: &fakeStep{name: "generator", fn: func(_ context.Context, run *types.Run) error {
			run.MarkCompleted("created presentation pres-1")
			run.Document = &types.Handle{ID: "pres-1", URL: types.PresentationURL("pres-1")}
			return nil
		}},
		sink: &fakeStep{name: "sink", fn: func(_ context.Context, run *types.Run) error {
			run.Sink = types.SinkOutcome{MasterSaved: true, PersonalSaved: true}
			return nil
		}},
	}
	h.broker = NewBroker(st)
	h.orch = NewOrchestrator([]Step{h.extractor, h.analyzer, h.auth, h.generator, h.sink}, h.broker, st, timeout)
	return h
}

// stages runs fn and returns the stages published meanwhile.
func (h *harness) stages(fn func()) []types.Stage {
	ch, cancel := h.broker.Subscribe()
	fn()
	cancel()
	var out []types.Stage
	for m := range ch {
		out = append(out, m.Stage)
	}
	return out
}

var request = Request{TabID: "tab-1", URL: "https://example.com/hall"}

func TestGenerateRunsEveryStep(t *testing.T) {
	h := newHarness(t, time.Second)

	var res Result
	stages := h.stages(func() { res = h.orch.Generate(context.Background(), request) })

	require.True(t, res.Success, res.Error)
	assert.Equal(t, types.PresentationURL("pres-1"), res.SlideURL)
	assert.True(t, res.MasterSaved)
	assert.True(t, res.PersonalSaved)
	assert.False(t, res.NeedsSetup)
	require.NotNil(t, res.LocationData)
	assert.Equal(t, "Example Hall", res.LocationData.LocationName)

	assert.Equal(t, []types.Stage{
		types.StageStarting,
		types.StageExtracting,
		types.StageAnalyzing,
		types.StageAuth,
		types.StageCreateSlide,
		types.StageSaveSheet,
		types.StageDone,
	}, stages)

	marker, fresh, err := h.store.Progress(context.Background())
	require.NoError(t, err)
	assert.True(t, fresh)
	assert.Equal(t, types.StageDone, marker.Stage)
	assert.Equal(t, "tab-1", marker.TabID)

	var saved types.Run
	_, err = h.store.GetJSON(context.Background(), store.KeyLastRun, &saved)
	require.NoError(t, err)
	assert.Equal(t, "pres-1", saved.Document.ID)
}

func TestAuthFailureDegradesToRecordOnly(t *testing.T) {
	h := newHarness(t, time.Second)
	h.auth.fn = func(context.Context, *types.Run) error {
		return &types.AuthError{Err: errors.New("google.client_id is not set")}
	}

	res := h.orch.Generate(context.Background(), request)

	assert.True(t, res.Success)
	assert.True(t, res.NeedsSetup)
	require.NotNil(t, res.LocationData)
	assert.Empty(t, res.SlideURL)
	assert.Zero(t, h.generator.calls.Load())
	assert.Zero(t, h.sink.calls.Load())
}

func TestSinkFailureKeepsDocument(t *testing.T) {
	h := newHarness(t, time.Second)
	h.sink.fn = func(_ context.Context, run *types.Run) error {
		err := &types.SinkError{Store: "master", Err: errors.New("permission denied")}
		run.Sink = types.SinkOutcome{PersonalSaved: true, Errors: []string{err.Error()}}
		return err
	}

	res := h.orch.Generate(context.Background(), request)

	assert.True(t, res.Success)
	assert.Equal(t, types.PresentationURL("pres-1"), res.SlideURL)
	assert.False(t, res.MasterSaved)
	assert.Equal(t, []string{"saving to master spreadsheet: permission denied"}, res.SinkErrors)
}

func TestFailureMessages(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantMsg   string
		wantSetup bool
	}{
		{
			name:      "missing key",
			err:       &types.AnalysisError{Err: types.ErrNoAPIKey},
			wantMsg:   apiKeyGuidance,
			wantSetup: true,
		},
		{
			name:      "rejected key",
			err:       &types.AnalysisError{Err: errors.New("OpenAI API error: Incorrect API key provided")},
			wantMsg:   apiKeyGuidance,
			wantSetup: true,
		},
		{
			name:      "oauth mention",
			err:       errors.New("OAuth client was deleted"),
			wantMsg:   oauthGuidance,
			wantSetup: true,
		},
		{
			name:    "verbatim",
			err:     &types.AnalysisError{Err: types.ErrNotObject},
			wantMsg: "analysis failed: completion body is not a JSON object",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, time.Second)
			h.analyzer.fn = func(context.Context, *types.Run) error { return tt.err }

			var res Result
			stages := h.stages(func() { res = h.orch.Generate(context.Background(), request) })

			assert.False(t, res.Success)
			assert.Contains(t, res.Error, tt.wantMsg)
			assert.Equal(t, tt.wantSetup, res.NeedsSetup)
			assert.ErrorIs(t, res.Err, tt.err)
			assert.Equal(t, types.StageError, stages[len(stages)-1])
			assert.Zero(t, h.auth.calls.Load())
		})
	}
}

func TestGenerationFailureReportsPossiblyCompleted(t *testing.T) {
	h := newHarness(t, time.Second)
	h.generator.fn = func(_ context.Context, run *types.Run) error {
		run.MarkCompleted("created presentation pres-1")
		return &types.DocumentGenerationError{Op: "add content slide", Err: errors.New("400")}
	}

	res := h.orch.Generate(context.Background(), request)

	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "slide generation: add content slide")
	assert.Equal(t, []string{"created presentation pres-1"}, res.PossiblyCompleted)
	assert.Zero(t, h.sink.calls.Load())
}

func TestTimeoutCancelsInFlightCall(t *testing.T) {
	h := newHarness(t, 50*time.Millisecond)
	var seen error
	h.generator.fn = func(ctx context.Context, run *types.Run) error {
		run.MarkCompleted("created presentation pres-1")
		<-ctx.Done()
		seen = ctx.Err()
		return ctx.Err()
	}

	res := h.orch.Generate(context.Background(), request)

	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "タイムアウト")
	assert.ErrorIs(t, seen, context.DeadlineExceeded)
	assert.Equal(t, []string{"created presentation pres-1"}, res.PossiblyCompleted)
	assert.Zero(t, h.sink.calls.Load())
}

func TestOverlappingRunIsRejected(t *testing.T) {
	h := newHarness(t, 5*time.Second)
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	h.extractor.fn = func(_ context.Context, run *types.Run) error {
		if run.TabID == "busy" {
			once.Do(func() { close(started) })
			<-release
		}
		run.Page = &types.PageContent{URL: run.URL}
		return nil
	}

	first := make(chan Result, 1)
	go func() {
		first <- h.orch.Generate(context.Background(), Request{TabID: "busy", URL: "https://example.com/a"})
	}()
	<-started

	second := h.orch.Generate(context.Background(), Request{TabID: "busy", URL: "https://example.com/b"})
	assert.False(t, second.Success)
	assert.ErrorIs(t, second.Err, types.ErrInFlight)

	other := h.orch.Generate(context.Background(), Request{TabID: "other", URL: "https://example.com/c"})
	assert.True(t, other.Success, other.Error)

	close(release)
	assert.True(t, (<-first).Success)

	again := h.orch.Generate(context.Background(), Request{TabID: "busy", URL: "https://example.com/d"})
	assert.True(t, again.Success, "lock released after the run")
}

func TestGeneratePassesRequestSettings(t *testing.T) {
	h := newHarness(t, time.Second)
	var slidesSeen *config.Slides
	var sheetsSeen *config.Sheets
	h.generator.fn = func(_ context.Context, run *types.Run) error {
		slidesSeen = run.Slides
		sheetsSeen = run.Sheets
		run.Document = &types.Handle{ID: "deck-9", URL: types.PresentationURL("deck-9")}
		return nil
	}

	req := request
	req.Slides = &config.Slides{Mode: config.ModeAppend, PresentationID: "deck-9"}
	req.Sheets = &config.Sheets{UserName: "sato"}
	res := h.orch.Generate(context.Background(), req)

	require.True(t, res.Success, res.Error)
	require.NotNil(t, slidesSeen)
	assert.Equal(t, "deck-9", slidesSeen.PresentationID)
	require.NotNil(t, sheetsSeen)
	assert.Equal(t, "sato", sheetsSeen.UserName)
}

func TestResumeFromStep(t *testing.T) {
	h := newHarness(t, time.Second)
	h.generator.fn = func(context.Context, *types.Run) error {
		return &types.DocumentGenerationError{Op: "create presentation", Err: errors.New("503")}
	}
	require.False(t, h.orch.Generate(context.Background(), request).Success)

	h.generator.fn = func(_ context.Context, run *types.Run) error {
		require.NotNil(t, run.Record, "record comes from the saved run")
		run.Document = &types.Handle{ID: "pres-2", URL: types.PresentationURL("pres-2")}
		return nil
	}
	res := h.orch.Resume(context.Background(), "generator", "")

	require.True(t, res.Success, res.Error)
	assert.Equal(t, types.PresentationURL("pres-2"), res.SlideURL)
	assert.Equal(t, int32(1), h.extractor.calls.Load())
	assert.Equal(t, int32(1), h.analyzer.calls.Load())
	assert.Equal(t, int32(2), h.generator.calls.Load())
}

func TestResumeErrors(t *testing.T) {
	h := newHarness(t, time.Second)

	res := h.orch.Resume(context.Background(), "uploader", "")
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, `unknown step "uploader"`)

	res = h.orch.Resume(context.Background(), "sink", "")
	assert.False(t, res.Success)
	assert.Equal(t, "no previous run to resume", res.Error)
}

func TestBrokerDropsOldestMarker(t *testing.T) {
	h := newHarness(t, time.Second)
	ch, cancel := h.broker.Subscribe()

	total := MailboxSize + 4
	for i := range total {
		h.broker.Publish(context.Background(), fmt.Sprintf("tab-%d", i), types.StageExtracting)
	}
	cancel()

	var tabs []string
	for m := range ch {
		tabs = append(tabs, m.TabID)
	}
	require.Len(t, tabs, MailboxSize)
	assert.Equal(t, "tab-4", tabs[0])
	assert.Equal(t, fmt.Sprintf("tab-%d", total-1), tabs[len(tabs)-1])

	marker, _, err := h.store.Progress(context.Background())
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("tab-%d", total-1), marker.TabID)

	assert.NotPanics(t, cancel, "unsubscribe twice")
}

type countingInvalidator struct{ calls atomic.Int32 }

func (c *countingInvalidator) Invalidate(context.Context) error {
	c.calls.Add(1)
	return nil
}

func TestUnauthorizedDropsCachedToken(t *testing.T) {
	h := newHarness(t, time.Second)
	inv := &countingInvalidator{}
	h.orch.WithInvalidator(inv)

	h.generator.fn = func(context.Context, *types.Run) error {
		return &types.DocumentGenerationError{
			Op:  "create presentation",
			Err: &googleapi.Error{Code: http.StatusUnauthorized, Message: "Request had invalid authentication credentials."},
		}
	}
	res := h.orch.Generate(context.Background(), request)
	assert.False(t, res.Success)
	assert.Equal(t, int32(1), inv.calls.Load())

	h.generator.fn = func(context.Context, *types.Run) error {
		return &types.DocumentGenerationError{Op: "create presentation", Err: &googleapi.Error{Code: http.StatusBadRequest}}
	}
	h.orch.Generate(context.Background(), request)
	assert.Equal(t, int32(1), inv.calls.Load(), "only a 401 drops the token")
}
