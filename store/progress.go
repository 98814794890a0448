package store

import (
	"context"
	"errors"
	"time"

	"github.com/rasha-hantash/locscout/steps/types"
)

// FreshFor is how long a progress marker stays valid for readers.
// Older markers belong to an abandoned run and are ignored.
const FreshFor = 10 * time.Second

// Marker is a persisted progress stage.
type Marker struct {
	Stage types.Stage `json:"stage"`
	TabID string      `json:"tabId,omitempty"`
	At    time.Time   `json:"at"`
}

// SetProgress records the current stage.
func (s *Store) SetProgress(ctx context.Context, tabID string, stage types.Stage) (Marker, error) {
	m := Marker{Stage: stage, TabID: tabID, At: s.now()}
	return m, s.PutJSON(ctx, KeyProgress, m)
}

// Progress returns the current marker if it is younger than FreshFor.
func (s *Store) Progress(ctx context.Context) (Marker, bool, error) {
	var m Marker
	if _, err := s.GetJSON(ctx, KeyProgress, &m); err != nil {
		if errors.Is(err, ErrNotFound) {
			return Marker{}, false, nil
		}
		return Marker{}, false, err
	}
	if s.now().Sub(m.At) > FreshFor {
		return m, false, nil
	}
	return m, true, nil
}
