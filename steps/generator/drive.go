package generator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/rasha-hantash/locscout/config"
	"github.com/rasha-hantash/locscout/steps/gapi"
	"google.golang.org/api/drive/v3"
)

const (
	folderMimeType       = "application/vnd.google-apps.folder"
	presentationMimeType = "application/vnd.google-apps.presentation"
)

// DriveFile is a folder or presentation offered for selection.
type DriveFile struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	ModifiedTime string `json:"modifiedTime,omitempty"`
}

// targetFolder resolves the folder new presentations go into. An empty
// result means the Drive root.
func (g *Generator) targetFolder(ctx context.Context, cfg config.Slides) (string, error) {
	if cfg.FolderID != "" {
		return cfg.FolderID, nil
	}
	if cfg.FolderName == "" {
		return "", nil
	}
	id, err := g.EnsureFolder(ctx, cfg.FolderName)
	if err != nil {
		return "", genErr("ensure folder", err)
	}
	return id, nil
}

// EnsureFolder returns the id of the folder called name, creating it when
// it does not exist.
func (g *Generator) EnsureFolder(ctx context.Context, name string) (string, error) {
	q := fmt.Sprintf("mimeType='%s' and name='%s' and trashed=false", folderMimeType, escapeQuery(name))

	r, err := gapi.Retry(ctx, "search folder", func() (*drive.FileList, error) {
		return g.drive.Files.List().Q(q).Fields("files(id)").SupportsAllDrives(true).IncludeItemsFromAllDrives(true).Context(ctx).Do()
	})
	if err != nil {
		return "", fmt.Errorf("searching for folder: %w", err)
	}

	if len(r.Files) > 0 {
		slog.Info("found existing drive folder",
			slog.String("name", name),
			slog.String("id", r.Files[0].Id))
		return r.Files[0].Id, nil
	}

	f := &drive.File{
		Name:     name,
		MimeType: folderMimeType,
	}
	created, err := gapi.Retry(ctx, "create folder", func() (*drive.File, error) {
		return g.drive.Files.Create(f).Fields("id").SupportsAllDrives(true).Context(ctx).Do()
	})
	if err != nil {
		return "", fmt.Errorf("creating folder: %w", err)
	}

	slog.Info("created drive folder",
		slog.String("name", name),
		slog.String("id", created.Id))
	return created.Id, nil
}

// relocate moves a file out of its current parents into folderID.
func (g *Generator) relocate(ctx context.Context, fileID, folderID string) error {
	current, err := gapi.Retry(ctx, "get parents", func() (*drive.File, error) {
		return g.drive.Files.Get(fileID).Fields("parents").SupportsAllDrives(true).Context(ctx).Do()
	})
	if err != nil {
		return genErr("get parents", err)
	}

	call := g.drive.Files.Update(fileID, &drive.File{}).
		AddParents(folderID).
		Fields("id,parents").
		SupportsAllDrives(true)
	if len(current.Parents) > 0 {
		call = call.RemoveParents(strings.Join(current.Parents, ","))
	}
	if _, err := gapi.Retry(ctx, "move presentation", func() (*drive.File, error) {
		return call.Context(ctx).Do()
	}); err != nil {
		return genErr("move presentation", err)
	}

	slog.Info("moved presentation",
		slog.String("id", fileID),
		slog.String("folder_id", folderID))
	return nil
}

// ListFolders returns the user's Drive folders ordered by name.
func (g *Generator) ListFolders(ctx context.Context) ([]DriveFile, error) {
	return g.list(ctx, folderMimeType, "name")
}

// ListPresentations returns presentations, most recently modified first.
func (g *Generator) ListPresentations(ctx context.Context) ([]DriveFile, error) {
	return g.list(ctx, presentationMimeType, "modifiedTime desc")
}

func (g *Generator) list(ctx context.Context, mimeType, orderBy string) ([]DriveFile, error) {
	q := fmt.Sprintf("mimeType='%s' and trashed=false", mimeType)

	var out []DriveFile
	pageToken := ""
	for {
		r, err := gapi.Retry(ctx, "list files", func() (*drive.FileList, error) {
			call := g.drive.Files.List().
				Q(q).
				OrderBy(orderBy).
				PageSize(100).
				Fields("nextPageToken,files(id,name,modifiedTime)").
				Context(ctx)
			if pageToken != "" {
				call = call.PageToken(pageToken)
			}
			return call.Do()
		})
		if err != nil {
			return nil, genErr("list files", err)
		}
		for _, f := range r.Files {
			out = append(out, DriveFile{ID: f.Id, Name: f.Name, ModifiedTime: f.ModifiedTime})
		}
		if r.NextPageToken == "" {
			break
		}
		pageToken = r.NextPageToken
	}

	slog.Debug("listed drive files",
		slog.String("mime_type", mimeType),
		slog.Int("count", len(out)))
	return out, nil
}

func escapeQuery(s string) string {
	return strings.ReplaceAll(strings.ReplaceAll(s, `\`, `\\`), `'`, `\'`)
}
