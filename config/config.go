// Package config loads locscout settings from a YAML file with environment
// overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Slide modes.
const (
	ModeNew       = "new"
	ModeAppend    = "append"
	ModeOverwrite = "overwrite"
)

const (
	DefaultModel        = "gpt-4o-mini"
	DefaultRunTimeout   = 30 * time.Second
	DefaultFetchTimeout = 15 * time.Second
)

type OpenAI struct {
	APIKey          string `yaml:"api_key"`
	EncryptedAPIKey string `yaml:"encrypted_api_key"`
	Model           string `yaml:"model"`
	BaseURL         string `yaml:"base_url"`
}

type Google struct {
	ClientID        string `yaml:"client_id"`
	ClientSecret    string `yaml:"client_secret"`
	CredentialsFile string `yaml:"credentials_file"`
	QuotaProject    string `yaml:"quota_project"`
}

type Slides struct {
	Mode           string `yaml:"mode"`
	PresentationID string `yaml:"presentation_id"`
	FolderID       string `yaml:"folder_id"`
	// FolderName is looked up, or created, when FolderID is empty.
	FolderName string `yaml:"folder_name"`
	TemplateID string `yaml:"template_id"`
}

type Sheets struct {
	SavePersonal        bool   `yaml:"save_personal"`
	SpreadsheetID       string `yaml:"spreadsheet_id"`
	TeamSharing         bool   `yaml:"team_sharing"`
	MasterSpreadsheetID string `yaml:"master_spreadsheet_id"`
	UserName            string `yaml:"user_name"`
}

type Run struct {
	Timeout      time.Duration `yaml:"timeout"`
	FetchTimeout time.Duration `yaml:"fetch_timeout"`
}

type Store struct {
	Path string `yaml:"path"`
}

type Bridge struct {
	// AllowedOrigins are the browser origins, e.g. chrome-extension://<id>,
	// allowed to call the bridge. Requests without an Origin header are
	// always allowed.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// Settings is the user configuration consumed by the pipeline.
type Settings struct {
	OpenAI OpenAI `yaml:"openai"`
	Google Google `yaml:"google"`
	Slides Slides `yaml:"slides"`
	Sheets Sheets `yaml:"sheets"`
	Run    Run    `yaml:"run"`
	Store  Store  `yaml:"store"`
	Bridge Bridge `yaml:"bridge"`
}

// Default returns settings with every default applied.
func Default() Settings {
	return Settings{
		OpenAI: OpenAI{Model: DefaultModel},
		Slides: Slides{Mode: ModeNew},
		Run: Run{
			Timeout:      DefaultRunTimeout,
			FetchTimeout: DefaultFetchTimeout,
		},
	}
}

// DefaultPath returns $XDG_CONFIG_HOME/locscout/config.yaml or its platform
// equivalent.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolving config dir: %w", err)
	}
	return filepath.Join(dir, "locscout", "config.yaml"), nil
}

// Load reads path, applies defaults and environment overrides, and validates
// the result. A missing file yields the defaults.
func Load(path string) (Settings, error) {
	s := Default()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return s, fmt.Errorf("reading config: %w", err)
	default:
		if err := yaml.Unmarshal(data, &s); err != nil {
			return s, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	s.applyEnv()
	s.fillDefaults()

	if err := s.Validate(); err != nil {
		return s, err
	}
	return s, nil
}

func (s *Settings) applyEnv() {
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		s.OpenAI.APIKey = v
	}
	if v := os.Getenv("LOCSCOUT_STORE"); v != "" {
		s.Store.Path = v
	}
}

func (s *Settings) fillDefaults() {
	if s.OpenAI.Model == "" {
		s.OpenAI.Model = DefaultModel
	}
	if s.Slides.Mode == "" {
		s.Slides.Mode = ModeNew
	}
	if s.Run.Timeout <= 0 {
		s.Run.Timeout = DefaultRunTimeout
	}
	if s.Run.FetchTimeout <= 0 {
		s.Run.FetchTimeout = DefaultFetchTimeout
	}
}

// Validate checks the enumerated options.
func (s Settings) Validate() error {
	switch s.Slides.Mode {
	case ModeNew:
	case ModeAppend, ModeOverwrite:
		if s.Slides.PresentationID == "" {
			return fmt.Errorf("slides.mode %q requires slides.presentation_id", s.Slides.Mode)
		}
	default:
		return fmt.Errorf("unknown slides.mode %q (want new, append or overwrite)", s.Slides.Mode)
	}
	if s.Sheets.TeamSharing && s.Sheets.MasterSpreadsheetID == "" {
		return errors.New("sheets.team_sharing requires sheets.master_spreadsheet_id")
	}
	return nil
}

// Overrides are slide and sheet choices sent with a single request. Empty
// strings and nil flags keep the configured value.
type Overrides struct {
	SlideMode           string `json:"slideMode,omitempty"`
	PresentationID      string `json:"masterSlideId,omitempty"`
	FolderID            string `json:"slideFolderId,omitempty"`
	TemplateID          string `json:"templateSlideId,omitempty"`
	SaveToSheets        *bool  `json:"saveToSheets,omitempty"`
	SpreadsheetID       string `json:"spreadsheetId,omitempty"`
	TeamSharing         *bool  `json:"teamSharing,omitempty"`
	MasterSpreadsheetID string `json:"masterSpreadsheetId,omitempty"`
	UserName            string `json:"userName,omitempty"`
}

// Apply returns s with o laid over it. The result is validated.
func (s Settings) Apply(o Overrides) (Settings, error) {
	if o.SlideMode != "" {
		s.Slides.Mode = o.SlideMode
	}
	if o.PresentationID != "" {
		s.Slides.PresentationID = o.PresentationID
	}
	if o.FolderID != "" {
		s.Slides.FolderID = o.FolderID
	}
	if o.TemplateID != "" {
		s.Slides.TemplateID = o.TemplateID
	}
	if o.SaveToSheets != nil {
		s.Sheets.SavePersonal = *o.SaveToSheets
	}
	if o.SpreadsheetID != "" {
		s.Sheets.SpreadsheetID = o.SpreadsheetID
	}
	if o.TeamSharing != nil {
		s.Sheets.TeamSharing = *o.TeamSharing
	}
	if o.MasterSpreadsheetID != "" {
		s.Sheets.MasterSpreadsheetID = o.MasterSpreadsheetID
	}
	if o.UserName != "" {
		s.Sheets.UserName = o.UserName
	}
	if err := s.Validate(); err != nil {
		return s, err
	}
	return s, nil
}

// Save writes s to path as YAML.
func Save(path string, s Settings) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}
