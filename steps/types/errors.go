package types

import (
	"errors"
	"fmt"
)

var (
	// ErrInFlight rejects a run for a tab that already has one running.
	ErrInFlight = errors.New("a generation is already running for this tab")
	// ErrUnsupportedPage is returned for browser-internal or non-web URLs.
	ErrUnsupportedPage = errors.New("this page cannot be read; open a regular web page")
	// ErrNoChoice means the completion envelope had no choices.
	ErrNoChoice = errors.New("completion response has no choices")
	// ErrNotObject means the completion body is not a JSON object.
	ErrNotObject = errors.New("completion body is not a JSON object")
	// ErrNoAPIKey means no OpenAI API key was configured or supplied.
	ErrNoAPIKey = errors.New("OpenAI API key is not set")
)

// ExtractionError means the page could not be read or parsed.
type ExtractionError struct {
	URL string
	Err error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extracting %s: %v", e.URL, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// AnalysisError covers transport failures and malformed model output.
type AnalysisError struct {
	Err error
}

func (e *AnalysisError) Error() string {
	return fmt.Sprintf("analysis failed: %v", e.Err)
}

func (e *AnalysisError) Unwrap() error { return e.Err }

// AuthError means no bearer token could be obtained.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("OAuth authorization failed: %v", e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// DocumentGenerationError wraps a failed presentation or drive call.
// Payload is the raw error body returned by the service, if any.
type DocumentGenerationError struct {
	Op      string
	Payload string
	Err     error
}

func (e *DocumentGenerationError) Error() string {
	if e.Payload != "" {
		return fmt.Sprintf("slide generation: %s: %v: %s", e.Op, e.Err, e.Payload)
	}
	return fmt.Sprintf("slide generation: %s: %v", e.Op, e.Err)
}

func (e *DocumentGenerationError) Unwrap() error { return e.Err }

// SinkError wraps a failed spreadsheet write.
type SinkError struct {
	Store string
	Err   error
}

func (e *SinkError) Error() string {
	return fmt.Sprintf("saving to %s spreadsheet: %v", e.Store, e.Err)
}

func (e *SinkError) Unwrap() error { return e.Err }
