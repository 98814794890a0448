package types

import (
	"time"

	"github.com/rasha-hantash/locscout/config"
)

// NotRecorded is written in place of any field the page does not state.
const NotRecorded = "記載無し"

// Canonical parking values. A priced lot is ParkingAvailable + " - " + rate.
const (
	ParkingAvailable   = "有り"
	ParkingFree        = "有り - 無料"
	ParkingUnavailable = "無し"
)

// Image is a candidate photo found on the page.
type Image struct {
	Src    string `json:"src"`
	Alt    string `json:"alt"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// PageContent is the flat record the extractor produces for one page.
type PageContent struct {
	Title   string            `json:"title"`
	URL     string            `json:"url"`
	Meta    map[string]string `json:"meta"`
	Text    string            `json:"text"`
	Images  []Image           `json:"images"`
	Address string            `json:"address,omitempty"`
	Phone   string            `json:"phone,omitempty"`
	Hours   string            `json:"hours,omitempty"`
}

type DataQuality string

const (
	QualityHigh   DataQuality = "high"
	QualityMedium DataQuality = "medium"
	QualityLow    DataQuality = "low"
)

// SourceInfo is the provenance block of a LocationRecord.
type SourceInfo struct {
	PageTitle       string      `json:"pageTitle"`
	PageURL         string      `json:"pageUrl"`
	PageDescription string      `json:"pageDescription"`
	ExtractedFrom   string      `json:"extractedFrom"`
	DataQuality     DataQuality `json:"dataQuality"`
	ExtractedFields []string    `json:"extractedFields"`
}

// LocationRecord is the structured result of one analysis. Every text field
// holds either a value or NotRecorded.
type LocationRecord struct {
	LocationName string     `json:"locationName"`
	Address      string     `json:"address"`
	TrainAccess  string     `json:"trainAccess"`
	CarAccess    string     `json:"carAccess"`
	ParkingInfo  string     `json:"parkingInfo"`
	PhoneNumber  string     `json:"phoneNumber"`
	SourceInfo   SourceInfo `json:"sourceInfo"`
	SourceURL    string     `json:"sourceUrl"`
	ExtractedAt  time.Time  `json:"extractedAt"`
}

// Handle identifies a generated presentation.
type Handle struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// PresentationURL returns the edit URL of a presentation.
func PresentationURL(id string) string {
	return "https://docs.google.com/presentation/d/" + id + "/edit"
}

// Stage is a coarse progress marker.
type Stage string

const (
	StageStarting    Stage = "starting"
	StageExtracting  Stage = "extracting"
	StageAnalyzing   Stage = "analyzing"
	StageAuth        Stage = "authenticating"
	StageCreateSlide Stage = "creating_slide"
	StageSaveSheet   Stage = "saving_spreadsheet"
	StageDone        Stage = "done"
	StageError       Stage = "error"
)

// SinkOutcome reports what the record sink did.
type SinkOutcome struct {
	MasterSaved     bool     `json:"masterSaved"`
	MasterDuplicate bool     `json:"masterDuplicate"`
	PersonalSaved   bool     `json:"personalSaved"`
	Errors          []string `json:"errors,omitempty"`
}

// Run is the state threaded through the pipeline steps for one request.
// It is persisted after each step so a later step can be retried.
type Run struct {
	TabID string `json:"tabId"`
	URL   string `json:"url"`
	// HTML is the page snapshot supplied by the caller. When empty the
	// extractor fetches URL itself.
	HTML []byte `json:"-"`
	// APIKey overrides the configured OpenAI key for this run.
	APIKey string `json:"-"`

	// Slides and Sheets replace the configured settings for this run
	// when set.
	Slides *config.Slides `json:"slides,omitempty"`
	Sheets *config.Sheets `json:"sheets,omitempty"`

	Page     *PageContent    `json:"page,omitempty"`
	Record   *LocationRecord `json:"record,omitempty"`
	Document *Handle         `json:"document,omitempty"`
	Sink     SinkOutcome     `json:"sink"`

	// NeedsSetup is set when authentication failed and the run continued
	// without generating documents.
	NeedsSetup  bool   `json:"needsSetup"`
	AuthFailure string `json:"authFailure,omitempty"`

	// Completed lists remote writes that finished, in order.
	Completed []string `json:"completed,omitempty"`
}

// MarkCompleted records a finished remote write.
func (r *Run) MarkCompleted(what string) {
	r.Completed = append(r.Completed, what)
}
