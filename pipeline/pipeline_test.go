package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/rasha-hantash/locscout/steps/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunFrom(t *testing.T) {
	boom := errors.New("boom")

	tests := []struct {
		name      string
		start     int
		failAt    string
		wantRan   []string
		wantAfter []string
		wantErr   string
	}{
		{
			name:      "all steps",
			start:     0,
			wantRan:   []string{"a", "b", "c"},
			wantAfter: []string{"a", "b", "c"},
		},
		{
			name:      "resume midway",
			start:     1,
			wantRan:   []string{"b", "c"},
			wantAfter: []string{"b", "c"},
		},
		{
			name:      "stops at failure",
			start:     0,
			failAt:    "b",
			wantRan:   []string{"a", "b"},
			wantAfter: []string{"a"},
			wantErr:   "step b failed after",
		},
		{
			name:    "out of range",
			start:   3,
			wantErr: "start index 3 out of range",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ran, after []string
			var steps []Step
			for _, name := range []string{"a", "b", "c"} {
				steps = append(steps, &fakeStep{name: name, fn: func(context.Context, *types.Run) error {
					ran = append(ran, name)
					if name == tt.failAt {
						return boom
					}
					return nil
				}})
			}
			p := NewPipeline(steps...).WithHooks(Hooks{
				After: func(_ context.Context, s Step, _ *types.Run) { after = append(after, s.Name()) },
			})

			err := p.RunFrom(context.Background(), &types.Run{}, tt.start)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.wantRan, ran)
			assert.Equal(t, tt.wantAfter, after)
			if tt.failAt != "" {
				assert.ErrorIs(t, err, boom)
			}
		})
	}
}

func TestFindIndex(t *testing.T) {
	p := NewPipeline(&fakeStep{name: "extractor"}, &fakeStep{name: "analyzer"})

	assert.Equal(t, 1, p.FindIndex("analyzer"))
	assert.Equal(t, -1, p.FindIndex("patcher"))
	assert.Equal(t, []string{"extractor", "analyzer"}, p.Names())
}
