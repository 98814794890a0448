package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/rasha-hantash/locscout/config"
	"github.com/rasha-hantash/locscout/steps/gapi"
	"github.com/rasha-hantash/locscout/steps/types"
	"github.com/rasha-hantash/locscout/store"
)

const (
	oauthGuidance  = "Google OAuth設定が必要です。config.yamlのgoogle.client_idとgoogle.client_secretを設定してください。"
	apiKeyGuidance = "OpenAI APIキーが無効です。設定を確認してください。"
)

// stageOf maps step names to the progress stage shown while they run.
var stageOf = map[string]types.Stage{
	"extractor": types.StageExtracting,
	"analyzer":  types.StageAnalyzing,
	"auth":      types.StageAuth,
	"generator": types.StageCreateSlide,
	"sink":      types.StageSaveSheet,
}

// Invalidator drops a cached credential.
type Invalidator interface {
	Invalidate(ctx context.Context) error
}

// SnapshotStore keeps the last run so it can be resumed.
type SnapshotStore interface {
	GetJSON(ctx context.Context, key string, v any) (time.Time, error)
	PutJSON(ctx context.Context, key string, v any) error
}

// Request starts a generation for one page.
type Request struct {
	TabID string
	URL   string
	// HTML is the page snapshot; empty means fetch URL.
	HTML   []byte
	APIKey string
	// Slides and Sheets replace the configured settings for this request
	// when set.
	Slides *config.Slides
	Sheets *config.Sheets
}

// Result is the envelope returned to callers of generate-document.
type Result struct {
	Success           bool                  `json:"success"`
	SlideURL          string                `json:"slideUrl,omitempty"`
	MasterSaved       bool                  `json:"masterSaved"`
	Duplicate         bool                  `json:"duplicate"`
	PersonalSaved     bool                  `json:"spreadsheetSaved"`
	NeedsSetup        bool                  `json:"needsSetup"`
	LocationData      *types.LocationRecord `json:"locationData,omitempty"`
	SinkErrors        []string              `json:"sinkErrors,omitempty"`
	Error             string                `json:"error,omitempty"`
	PossiblyCompleted []string              `json:"possiblyCompleted,omitempty"`

	// Err is the underlying failure, if any.
	Err error `json:"-"`
}

// Orchestrator sequences the steps for one page at a time per tab,
// publishing progress and translating failures into a Result.
type Orchestrator struct {
	pipe      *Pipeline
	progress  *Broker
	snapshots SnapshotStore
	timeout   time.Duration
	// tokens, when set, is invalidated after a Google API 401.
	tokens Invalidator

	mu       sync.Mutex
	inFlight map[string]struct{}
}

// NewOrchestrator wires steps into a pipeline. The steps are expected in
// extractor, analyzer, auth, generator, sink order.
func NewOrchestrator(steps []Step, progress *Broker, snapshots SnapshotStore, timeout time.Duration) *Orchestrator {
	o := &Orchestrator{
		progress:  progress,
		snapshots: snapshots,
		timeout:   timeout,
		inFlight:  map[string]struct{}{},
	}
	o.pipe = NewPipeline(steps...).WithHooks(Hooks{
		Before: o.beforeStep,
		After:  o.afterStep,
	})
	return o
}

// WithInvalidator makes a 401 from any Google call drop the cached token,
// so the next run signs in again.
func (o *Orchestrator) WithInvalidator(inv Invalidator) *Orchestrator {
	o.tokens = inv
	return o
}

// Steps lists the step names accepted by Resume.
func (o *Orchestrator) Steps() []string {
	return o.pipe.Names()
}

// Generate runs every step for req.
func (o *Orchestrator) Generate(ctx context.Context, req Request) Result {
	run := &types.Run{
		TabID:  req.TabID,
		URL:    req.URL,
		HTML:   req.HTML,
		APIKey: req.APIKey,
		Slides: req.Slides,
		Sheets: req.Sheets,
	}
	return o.execute(ctx, run, 0)
}

// Resume reloads the last saved run and re-executes it starting at the
// named step.
func (o *Orchestrator) Resume(ctx context.Context, from, apiKey string) Result {
	idx := o.pipe.FindIndex(from)
	if idx == -1 {
		err := fmt.Errorf("unknown step %q (valid: %s)", from, strings.Join(o.pipe.Names(), ", "))
		return Result{Error: err.Error(), Err: err}
	}

	var run types.Run
	if _, err := o.snapshots.GetJSON(ctx, store.KeyLastRun, &run); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			err = errors.New("no previous run to resume")
		}
		return Result{Error: err.Error(), Err: err}
	}
	run.APIKey = apiKey
	run.Completed = nil
	run.Sink = types.SinkOutcome{}
	run.NeedsSetup, run.AuthFailure = false, ""

	slog.Info("resuming run",
		slog.String("url", run.URL),
		slog.String("from", from))
	return o.execute(ctx, &run, idx)
}

func (o *Orchestrator) execute(ctx context.Context, run *types.Run, start int) Result {
	if !o.acquire(run.TabID) {
		slog.Warn("rejected overlapping run", slog.String("tab_id", run.TabID))
		return Result{Error: types.ErrInFlight.Error(), Err: types.ErrInFlight}
	}
	defer o.release(run.TabID)

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	o.progress.Publish(ctx, run.TabID, types.StageStarting)
	err := o.pipe.RunFrom(ctx, run, start)
	if err != nil && o.tokens != nil && gapi.Unauthorized(err) {
		if ierr := o.tokens.Invalidate(context.WithoutCancel(ctx)); ierr != nil {
			slog.Warn("failed to drop rejected token", slog.Any("error", ierr))
		}
	}

	timedOut := errors.Is(ctx.Err(), context.DeadlineExceeded)
	var (
		authErr *types.AuthError
		sinkErr *types.SinkError
	)
	switch {
	case err == nil:
	case timedOut:
	case errors.As(err, &authErr):
		run.NeedsSetup = true
		run.AuthFailure = authErr.Error()
		slog.Warn("continuing without documents", slog.Any("error", err))
		err = nil
	case errors.As(err, &sinkErr):
		slog.Warn("spreadsheet save failed", slog.Any("error", err))
		err = nil
	}

	if err != nil {
		o.progress.Publish(ctx, run.TabID, types.StageError)
		msg, setup := userMessage(err, timedOut, o.timeout)
		slog.Error("generation failed",
			slog.String("url", run.URL),
			slog.Any("error", err),
			slog.Any("possibly_completed", run.Completed))
		return Result{
			Error:             msg,
			NeedsSetup:        setup,
			PossiblyCompleted: run.Completed,
			Err:               err,
		}
	}

	o.progress.Publish(ctx, run.TabID, types.StageDone)
	res := Result{
		Success:       true,
		MasterSaved:   run.Sink.MasterSaved,
		Duplicate:     run.Sink.MasterDuplicate,
		PersonalSaved: run.Sink.PersonalSaved,
		NeedsSetup:    run.NeedsSetup,
		LocationData:  run.Record,
		SinkErrors:    run.Sink.Errors,
	}
	if run.Document != nil {
		res.SlideURL = run.Document.URL
	}
	return res
}

func (o *Orchestrator) beforeStep(ctx context.Context, step Step, run *types.Run) {
	if stage, ok := stageOf[step.Name()]; ok {
		o.progress.Publish(ctx, run.TabID, stage)
	}
}

func (o *Orchestrator) afterStep(ctx context.Context, step Step, run *types.Run) {
	if err := o.snapshots.PutJSON(context.WithoutCancel(ctx), store.KeyLastRun, run); err != nil {
		slog.Warn("failed to save run snapshot",
			slog.String("step", step.Name()),
			slog.Any("error", err))
	}
}

func (o *Orchestrator) acquire(tabID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, busy := o.inFlight[tabID]; busy {
		return false
	}
	o.inFlight[tabID] = struct{}{}
	return true
}

func (o *Orchestrator) release(tabID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.inFlight, tabID)
}

// userMessage rewrites known failures into guidance. The bool reports
// whether the fix is a configuration change.
func userMessage(err error, timedOut bool, timeout time.Duration) (string, bool) {
	if timedOut {
		return fmt.Sprintf("処理がタイムアウトしました（%d秒）", int(timeout.Seconds())), false
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "OAuth"):
		return oauthGuidance, true
	case strings.Contains(msg, "API key"):
		return apiKeyGuidance, true
	}
	return msg, false
}
