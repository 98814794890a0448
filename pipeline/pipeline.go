package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/rasha-hantash/locscout/steps/types"
)

// Step represents a discrete unit of work in the pipeline.
// Every step reads what it needs from the run and records its output there,
// so a later step can be re-executed from a saved run.
type Step interface {
	Name() string
	Run(ctx context.Context, run *types.Run) error
}

// Hooks observe step transitions. Either may be nil.
type Hooks struct {
	// Before is called before a step starts.
	Before func(ctx context.Context, step Step, run *types.Run)
	// After is called once a step has succeeded.
	After func(ctx context.Context, step Step, run *types.Run)
}

// Pipeline orchestrates a fixed list of steps.
type Pipeline struct {
	steps []Step
	hooks Hooks
}

func NewPipeline(steps ...Step) *Pipeline {
	return &Pipeline{steps: steps}
}

// WithHooks sets the transition hooks and returns p.
func (p *Pipeline) WithHooks(h Hooks) *Pipeline {
	p.hooks = h
	return p
}

// RunFrom executes steps starting at the provided index.
// If any step returns an error, execution stops and the error bubbles up.
func (p *Pipeline) RunFrom(ctx context.Context, run *types.Run, start int) error {
	if start < 0 || start >= len(p.steps) {
		return fmt.Errorf("start index %d out of range", start)
	}

	for i := start; i < len(p.steps); i++ {
		step := p.steps[i]
		slog.Info("running step",
			slog.String("step", step.Name()),
			slog.Int("current", i+1),
			slog.Int("total", len(p.steps)))
		t0 := time.Now()

		if p.hooks.Before != nil {
			p.hooks.Before(ctx, step, run)
		}
		if err := step.Run(ctx, run); err != nil {
			return fmt.Errorf("step %s failed after %s: %w", step.Name(), time.Since(t0).Truncate(time.Millisecond), err)
		}
		if p.hooks.After != nil {
			p.hooks.After(ctx, step, run)
		}

		slog.Info("completed step",
			slog.String("step", step.Name()),
			slog.Duration("duration", time.Since(t0).Truncate(time.Millisecond)))
	}

	return nil
}

// FindIndex returns the position of a step by name or ‑1 if not found.
func (p *Pipeline) FindIndex(name string) int {
	for i, s := range p.steps {
		if s.Name() == name {
			return i
		}
	}
	return -1
}

// Names lists the step names in order.
func (p *Pipeline) Names() []string {
	names := make([]string, len(p.steps))
	for i, s := range p.steps {
		names[i] = s.Name()
	}
	return names
}
