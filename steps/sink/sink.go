// Package sink appends location records to the personal and master
// spreadsheets and bootstraps new ones.
package sink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/rasha-hantash/locscout/config"
	"github.com/rasha-hantash/locscout/steps/gapi"
	"github.com/rasha-hantash/locscout/steps/types"
	"google.golang.org/api/sheets/v4"
)

// Sink writes two-row blocks into Google Sheets.
type Sink struct {
	sheets   *sheets.Service
	settings config.Sheets
	now      func() time.Time
}

// NewSink creates the Sheets client from o.
func NewSink(ctx context.Context, o gapi.Options, settings config.Sheets) (*Sink, error) {
	svc, err := gapi.NewSheets(ctx, o)
	if err != nil {
		return nil, err
	}
	return New(svc, settings), nil
}

// New wraps an existing client.
func New(svc *sheets.Service, settings config.Sheets) *Sink {
	return &Sink{sheets: svc, settings: settings, now: time.Now}
}

// Name implements the Step interface
func (s *Sink) Name() string {
	return "sink"
}

// Run implements the Step interface. The returned error is always a
// *types.SinkError (or a join of them); the outcome is recorded on run
// either way.
func (s *Sink) Run(ctx context.Context, run *types.Run) error {
	if run.Record == nil {
		return &types.SinkError{Store: "any", Err: errors.New("no location record")}
	}
	slideURL := types.NotRecorded
	if run.Document != nil {
		slideURL = run.Document.URL
	}
	settings := s.settings
	if run.Sheets != nil {
		settings = *run.Sheets
	}
	outcome, err := s.save(ctx, settings, run.Record, slideURL, run.MarkCompleted)
	run.Sink = outcome
	return err
}

// Save appends rec to whichever spreadsheets are enabled. Each store is
// attempted independently; failures are collected rather than aborting
// the other write.
func (s *Sink) Save(ctx context.Context, rec *types.LocationRecord, slideURL string, done func(string)) (types.SinkOutcome, error) {
	return s.save(ctx, s.settings, rec, slideURL, done)
}

func (s *Sink) save(ctx context.Context, cfg config.Sheets, rec *types.LocationRecord, slideURL string, done func(string)) (types.SinkOutcome, error) {
	if done == nil {
		done = func(string) {}
	}
	var (
		outcome types.SinkOutcome
		errs    []error
	)
	stamp := s.now().Format(timestampLayout)

	if cfg.TeamSharing && cfg.MasterSpreadsheetID != "" {
		dup, err := s.SaveMaster(ctx, cfg.MasterSpreadsheetID, cfg.UserName, rec, slideURL, stamp)
		switch {
		case err != nil:
			errs = append(errs, err)
		case dup:
			outcome.MasterDuplicate = true
		default:
			outcome.MasterSaved = true
			done("appended master rows to " + cfg.MasterSpreadsheetID)
		}
	}

	if cfg.SavePersonal && cfg.SpreadsheetID != "" {
		if err := s.SavePersonal(ctx, cfg.SpreadsheetID, rec, slideURL, stamp); err != nil {
			errs = append(errs, err)
		} else {
			outcome.PersonalSaved = true
			done("appended personal rows to " + cfg.SpreadsheetID)
		}
	}

	for _, err := range errs {
		outcome.Errors = append(outcome.Errors, err.Error())
	}
	return outcome, errors.Join(errs...)
}

// SaveMaster appends rec to the master spreadsheet unless its source URL is
// already present. It reports whether the write was skipped as a duplicate.
func (s *Sink) SaveMaster(ctx context.Context, spreadsheetID, user string, rec *types.LocationRecord, slideURL, stamp string) (bool, error) {
	if s.IsDuplicate(ctx, spreadsheetID, rec.SourceURL) {
		slog.Info("skipping duplicate master entry",
			slog.String("spreadsheet_id", spreadsheetID),
			slog.String("url", rec.SourceURL))
		return true, nil
	}
	rows := MasterRows(rec, slideURL, stamp, user)
	if err := s.append(ctx, spreadsheetID, masterRange, rows); err != nil {
		return false, &types.SinkError{Store: "master", Err: err}
	}
	return false, nil
}

// SavePersonal appends rec to the personal spreadsheet.
func (s *Sink) SavePersonal(ctx context.Context, spreadsheetID string, rec *types.LocationRecord, slideURL, stamp string) error {
	rows := PersonalRows(rec, slideURL, stamp)
	if err := s.append(ctx, spreadsheetID, personalRange, rows); err != nil {
		return &types.SinkError{Store: "personal", Err: err}
	}
	return nil
}

// IsDuplicate reports whether sourceURL already appears in the master
// URL column. A failed read counts as not duplicate.
func (s *Sink) IsDuplicate(ctx context.Context, spreadsheetID, sourceURL string) bool {
	if sourceURL == "" || sourceURL == types.NotRecorded {
		return false
	}
	vr, err := gapi.Retry(ctx, "read master urls", func() (*sheets.ValueRange, error) {
		return s.sheets.Spreadsheets.Values.Get(spreadsheetID, dedupRange).Context(ctx).Do()
	})
	if err != nil {
		slog.Warn("duplicate check failed, writing anyway",
			slog.String("spreadsheet_id", spreadsheetID),
			slog.Any("error", err))
		return false
	}
	for _, row := range vr.Values {
		if len(row) == 0 {
			continue
		}
		if v, ok := row[0].(string); ok && strings.TrimSpace(v) == sourceURL {
			return true
		}
	}
	return false
}

func (s *Sink) append(ctx context.Context, spreadsheetID, rng string, rows [][]any) error {
	_, err := gapi.Retry(ctx, "append rows", func() (*sheets.AppendValuesResponse, error) {
		return s.sheets.Spreadsheets.Values.Append(spreadsheetID, rng, &sheets.ValueRange{Values: rows}).
			ValueInputOption("USER_ENTERED").
			InsertDataOption("INSERT_ROWS").
			Context(ctx).
			Do()
	})
	if err != nil {
		if p := gapi.Payload(err); p != "" {
			return fmt.Errorf("appending to %s: %w: %s", rng, err, p)
		}
		return fmt.Errorf("appending to %s: %w", rng, err)
	}
	slog.Debug("appended rows",
		slog.String("spreadsheet_id", spreadsheetID),
		slog.String("range", rng),
		slog.Int("rows", len(rows)))
	return nil
}
