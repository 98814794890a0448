package generator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rasha-hantash/locscout/config"
	"github.com/rasha-hantash/locscout/steps/gapi"
	"github.com/rasha-hantash/locscout/steps/types"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/slides/v1"
)

const titlePrefix = "撮影地情報 - "

// Generator writes a LocationRecord into Google Slides.
type Generator struct {
	slides   *slides.Service
	drive    *drive.Service
	settings config.Slides

	now   func() time.Time
	newID func() string
}

// NewGenerator creates the Slides and Drive clients from o.
func NewGenerator(ctx context.Context, o gapi.Options, settings config.Slides) (*Generator, error) {
	slidesSvc, err := gapi.NewSlides(ctx, o)
	if err != nil {
		return nil, err
	}
	driveSvc, err := gapi.NewDrive(ctx, o)
	if err != nil {
		return nil, err
	}
	return New(slidesSvc, driveSvc, settings), nil
}

// New wraps existing clients.
func New(slidesSvc *slides.Service, driveSvc *drive.Service, settings config.Slides) *Generator {
	return &Generator{
		slides:   slidesSvc,
		drive:    driveSvc,
		settings: settings,
		now:      time.Now,
		newID:    NewObjectID,
	}
}

// Name implements the Step interface
func (g *Generator) Name() string {
	return "generator"
}

// Run implements the Step interface
func (g *Generator) Run(ctx context.Context, run *types.Run) error {
	if run.Record == nil {
		return &types.DocumentGenerationError{Op: "generate", Err: errors.New("no location record")}
	}
	settings := g.settings
	if run.Slides != nil {
		settings = *run.Slides
	}
	handle, err := g.generate(ctx, settings, run.Record, run.MarkCompleted)
	if err != nil {
		return err
	}
	run.Document = handle
	slog.Info("generated slide",
		slog.String("mode", settings.Mode),
		slog.String("presentation_id", handle.ID))
	return nil
}

// Generate produces the slide according to the configured mode. done is
// called after every remote write that succeeded; nothing is rolled back
// on a later failure.
func (g *Generator) Generate(ctx context.Context, rec *types.LocationRecord, done func(string)) (*types.Handle, error) {
	return g.generate(ctx, g.settings, rec, done)
}

func (g *Generator) generate(ctx context.Context, cfg config.Slides, rec *types.LocationRecord, done func(string)) (*types.Handle, error) {
	if done == nil {
		done = func(string) {}
	}

	var id string
	var err error
	switch cfg.Mode {
	case config.ModeAppend:
		id, err = g.appendSlide(ctx, cfg.PresentationID, rec, done)
	case config.ModeOverwrite:
		id, err = g.overwrite(ctx, cfg.PresentationID, rec, done)
	default:
		if cfg.TemplateID != "" {
			id, err = g.fromTemplate(ctx, cfg, rec, done)
		} else {
			id, err = g.createNew(ctx, cfg, rec, done)
		}
	}
	if err != nil {
		return nil, err
	}
	return &types.Handle{ID: id, URL: types.PresentationURL(id)}, nil
}

func (g *Generator) createNew(ctx context.Context, cfg config.Slides, rec *types.LocationRecord, done func(string)) (string, error) {
	pres, err := gapi.Retry(ctx, "create presentation", func() (*slides.Presentation, error) {
		return g.slides.Presentations.Create(&slides.Presentation{Title: titlePrefix + rec.LocationName}).Context(ctx).Do()
	})
	if err != nil {
		return "", genErr("create presentation", err)
	}
	done("created presentation " + pres.PresentationId)

	folderID, err := g.targetFolder(ctx, cfg)
	if err != nil {
		return "", err
	}
	if folderID != "" {
		if err := g.relocate(ctx, pres.PresentationId, folderID); err != nil {
			return "", err
		}
		done("moved presentation to folder " + folderID)
	}

	if err := g.batch(ctx, pres.PresentationId, "add content slide", ContentSlideRequests(rec, g.newID)); err != nil {
		return "", err
	}
	done("added slide to " + pres.PresentationId)
	return pres.PresentationId, nil
}

func (g *Generator) appendSlide(ctx context.Context, id string, rec *types.LocationRecord, done func(string)) (string, error) {
	if err := g.batch(ctx, id, "append content slide", ContentSlideRequests(rec, g.newID)); err != nil {
		return "", err
	}
	done("appended slide to " + id)
	return id, nil
}

// overwrite deletes every slide but the first, empties the first and then
// appends the content slide.
func (g *Generator) overwrite(ctx context.Context, id string, rec *types.LocationRecord, done func(string)) (string, error) {
	pres, err := gapi.Retry(ctx, "get presentation", func() (*slides.Presentation, error) {
		return g.slides.Presentations.Get(id).Fields("presentationId,slides(objectId,pageElements(objectId))").Context(ctx).Do()
	})
	if err != nil {
		return "", genErr("get presentation", err)
	}

	if len(pres.Slides) > 1 {
		var extra []string
		for _, s := range pres.Slides[1:] {
			extra = append(extra, s.ObjectId)
		}
		if err := g.batch(ctx, id, "delete slides", DeleteRequests(extra)); err != nil {
			return "", err
		}
		done(fmt.Sprintf("deleted %d slides from %s", len(extra), id))
	}

	if len(pres.Slides) > 0 {
		var elements []string
		for _, el := range pres.Slides[0].PageElements {
			elements = append(elements, el.ObjectId)
		}
		if len(elements) > 0 {
			if err := g.batch(ctx, id, "clear first slide", DeleteRequests(elements)); err != nil {
				return "", err
			}
			done("cleared first slide of " + id)
		}
	}

	if err := g.batch(ctx, id, "add content slide", ContentSlideRequests(rec, g.newID)); err != nil {
		return "", err
	}
	done("added slide to " + id)
	return id, nil
}

func (g *Generator) fromTemplate(ctx context.Context, cfg config.Slides, rec *types.LocationRecord, done func(string)) (string, error) {
	stamp := g.now().Format("2006/01/02 15:04")
	file := &drive.File{Name: titlePrefix + rec.LocationName + " - " + stamp}

	folderID, err := g.targetFolder(ctx, cfg)
	if err != nil {
		return "", err
	}
	if folderID != "" {
		file.Parents = []string{folderID}
	}

	copied, err := gapi.Retry(ctx, "copy template", func() (*drive.File, error) {
		return g.drive.Files.Copy(cfg.TemplateID, file).Fields("id").SupportsAllDrives(true).Context(ctx).Do()
	})
	if err != nil {
		return "", genErr("copy template", err)
	}
	done("copied template to " + copied.Id)

	if err := g.batch(ctx, copied.Id, "fill placeholders", ReplaceRequests(Placeholders(rec, stamp))); err != nil {
		return "", err
	}
	done("filled placeholders in " + copied.Id)
	return copied.Id, nil
}

func (g *Generator) batch(ctx context.Context, presentationID, op string, reqs []*slides.Request) error {
	if len(reqs) == 0 {
		return nil
	}
	_, err := gapi.Retry(ctx, op, func() (*slides.BatchUpdatePresentationResponse, error) {
		return g.slides.Presentations.BatchUpdate(presentationID, &slides.BatchUpdatePresentationRequest{
			Requests: reqs,
		}).Context(ctx).Do()
	})
	if err != nil {
		return genErr(op, err)
	}
	slog.Debug("slides batch update",
		slog.String("op", op),
		slog.String("presentation_id", presentationID),
		slog.Int("requests", len(reqs)))
	return nil
}

func genErr(op string, err error) error {
	return &types.DocumentGenerationError{Op: op, Payload: gapi.Payload(err), Err: err}
}
