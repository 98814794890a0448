// Package bridge exposes the pipeline to a browser extension or any other
// local host over HTTP. Requests carry an action tag and receive the same
// {success, ...} envelopes the extension's message bus used.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"time"

	"github.com/rasha-hantash/locscout/config"
	"github.com/rasha-hantash/locscout/pipeline"
	"github.com/rasha-hantash/locscout/steps/generator"
	"github.com/rasha-hantash/locscout/steps/types"
	"github.com/rasha-hantash/locscout/store"
)

// Action names.
const (
	ActionGenerate       = "generate-document"
	ActionSelectFolder   = "select-folder"
	ActionSelectTemplate = "select-template-document"
	ActionEncrypt        = "encrypt-credential"
	ActionDecrypt        = "decrypt-credential"
)

// maxBody bounds an action request; page snapshots can be large.
const maxBody = 20 << 20

var (
	errNoDrive     = errors.New("Google Drive認証が必要です")
	errOrigin      = errors.New("origin not allowed")
	errContentType = errors.New("content type must be application/json")
)

type Runner interface {
	Generate(ctx context.Context, req pipeline.Request) pipeline.Result
}

type Lister interface {
	ListFolders(ctx context.Context) ([]generator.DriveFile, error)
	ListPresentations(ctx context.Context) ([]generator.DriveFile, error)
}

type Sealer interface {
	Encrypt(ctx context.Context, plaintext string) (string, error)
	Decrypt(ctx context.Context, blob string) (string, error)
}

type ProgressReader interface {
	Progress(ctx context.Context) (store.Marker, bool, error)
}

// Deps are the collaborators behind the actions. Drive may be nil when
// Google access is not configured. Settings are the configured values that
// per-request settings are laid over; Settings.Bridge lists the browser
// origins allowed to call.
type Deps struct {
	Runner   Runner
	Drive    Lister
	Sealer   Sealer
	Progress ProgressReader
	Broker   *pipeline.Broker
	Settings config.Settings
}

// ActionRequest is the body of POST /v1/actions.
type ActionRequest struct {
	Action string `json:"action"`

	// generate-document
	TabID  string `json:"tabId,omitempty"`
	URL    string `json:"url,omitempty"`
	HTML   string `json:"html,omitempty"`
	APIKey string `json:"apiKey,omitempty"`
	// Settings replace the configured slide and sheet options for this
	// request only.
	Settings *config.Overrides `json:"settings,omitempty"`

	// encrypt-credential takes APIKey; decrypt-credential and
	// generate-document may take EncryptedKey.
	EncryptedKey string `json:"encryptedKey,omitempty"`
}

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

type folderResponse struct {
	Success          bool                  `json:"success"`
	FolderID         string                `json:"folderId"`
	FolderName       string                `json:"folderName"`
	AvailableFolders []generator.DriveFile `json:"availableFolders"`
}

type templateResponse struct {
	Success         bool                  `json:"success"`
	SlideID         string                `json:"slideId"`
	SlideName       string                `json:"slideName"`
	AvailableSlides []generator.DriveFile `json:"availableSlides"`
}

type encryptResponse struct {
	Success      bool   `json:"success"`
	EncryptedKey string `json:"encryptedKey"`
}

type decryptResponse struct {
	Success      bool   `json:"success"`
	DecryptedKey string `json:"decryptedKey"`
}

// ProgressResponse is served by the poll and stream endpoints.
type ProgressResponse struct {
	Stage types.Stage `json:"stage"`
	TabID string      `json:"tabId,omitempty"`
	At    time.Time   `json:"at"`
	Fresh bool        `json:"fresh"`
}

// Server routes bridge requests.
type Server struct {
	deps     Deps
	mux      *http.ServeMux
	handlers map[string]func(context.Context, ActionRequest) any

	origins     map[string]bool
	originHosts []string
}

func New(deps Deps) *Server {
	s := &Server{deps: deps, mux: http.NewServeMux(), origins: make(map[string]bool)}
	for _, o := range deps.Settings.Bridge.AllowedOrigins {
		s.origins[o] = true
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			s.originHosts = append(s.originHosts, u.Host)
		}
	}
	s.handlers = map[string]func(context.Context, ActionRequest) any{
		ActionGenerate:       s.generate,
		ActionSelectFolder:   s.selectFolder,
		ActionSelectTemplate: s.selectTemplate,
		ActionEncrypt:        s.encrypt,
		ActionDecrypt:        s.decrypt,
	}
	s.mux.HandleFunc("POST /v1/actions", s.guard(s.handleAction))
	s.mux.HandleFunc("OPTIONS /v1/actions", s.guard(s.handlePreflight))
	s.mux.HandleFunc("GET /v1/progress", s.guard(s.handleProgress))
	s.mux.HandleFunc("GET /v1/progress/ws", s.handleProgressStream)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// guard rejects browser requests from origins that are not allowed and
// adds the CORS headers for the ones that are.
func (s *Server) guard(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" {
			next(w, r)
			return
		}
		if !s.origins[origin] {
			slog.Warn("rejected request from origin", slog.String("origin", origin))
			writeJSON(w, http.StatusForbidden, failure(errOrigin))
			return
		}
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Add("Vary", "Origin")
		next(w, r)
	}
}

func (s *Server) handlePreflight(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Access-Control-Allow-Methods", "POST")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	if mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type")); err != nil || mt != "application/json" {
		writeJSON(w, http.StatusUnsupportedMediaType, failure(errContentType))
		return
	}

	var req ActionRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBody)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, failure(fmt.Errorf("decoding request: %w", err)))
		return
	}

	h, ok := s.handlers[req.Action]
	if !ok {
		slog.Warn("unknown action", slog.String("action", req.Action))
		writeJSON(w, http.StatusBadRequest, failure(fmt.Errorf("unknown action: %s", req.Action)))
		return
	}

	slog.Info("action received", slog.String("action", req.Action))
	writeJSON(w, http.StatusOK, h(r.Context(), req))
}

func (s *Server) generate(ctx context.Context, req ActionRequest) any {
	if req.URL == "" {
		return failure(errors.New("url is required"))
	}
	apiKey := req.APIKey
	if apiKey == "" && req.EncryptedKey != "" {
		key, err := s.deps.Sealer.Decrypt(ctx, req.EncryptedKey)
		if err != nil {
			return failure(err)
		}
		apiKey = key
	}
	preq := pipeline.Request{
		TabID:  req.TabID,
		URL:    req.URL,
		HTML:   []byte(req.HTML),
		APIKey: apiKey,
	}
	if req.Settings != nil {
		merged, err := s.deps.Settings.Apply(*req.Settings)
		if err != nil {
			return failure(err)
		}
		preq.Slides, preq.Sheets = &merged.Slides, &merged.Sheets
	}
	return s.deps.Runner.Generate(ctx, preq)
}

func (s *Server) selectFolder(ctx context.Context, _ ActionRequest) any {
	if s.deps.Drive == nil {
		return failure(errNoDrive)
	}
	folders, err := s.deps.Drive.ListFolders(ctx)
	if err != nil {
		return failure(err)
	}
	if len(folders) == 0 {
		return failure(errors.New("フォルダが見つかりませんでした"))
	}
	return folderResponse{
		Success:          true,
		FolderID:         folders[0].ID,
		FolderName:       folders[0].Name,
		AvailableFolders: folders,
	}
}

func (s *Server) selectTemplate(ctx context.Context, _ ActionRequest) any {
	if s.deps.Drive == nil {
		return failure(errNoDrive)
	}
	decks, err := s.deps.Drive.ListPresentations(ctx)
	if err != nil {
		return failure(err)
	}
	if len(decks) == 0 {
		return failure(errors.New("Google Slidesファイルが見つかりませんでした"))
	}
	return templateResponse{
		Success:         true,
		SlideID:         decks[0].ID,
		SlideName:       decks[0].Name,
		AvailableSlides: decks,
	}
}

func (s *Server) encrypt(ctx context.Context, req ActionRequest) any {
	blob, err := s.deps.Sealer.Encrypt(ctx, req.APIKey)
	if err != nil {
		return failure(err)
	}
	return encryptResponse{Success: true, EncryptedKey: blob}
}

func (s *Server) decrypt(ctx context.Context, req ActionRequest) any {
	key, err := s.deps.Sealer.Decrypt(ctx, req.EncryptedKey)
	if err != nil {
		return failure(err)
	}
	return decryptResponse{Success: true, DecryptedKey: key}
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	m, fresh, err := s.deps.Progress.Progress(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, failure(err))
		return
	}
	writeJSON(w, http.StatusOK, progressResponse(m, fresh))
}

func progressResponse(m store.Marker, fresh bool) ProgressResponse {
	return ProgressResponse{Stage: m.Stage, TabID: m.TabID, At: m.At, Fresh: fresh}
}

func failure(err error) errorResponse {
	return errorResponse{Success: false, Error: err.Error()}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to write response", slog.Any("error", err))
	}
}
