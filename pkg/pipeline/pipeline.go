package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Step is one stage of a message flow. A step returns the (possibly
// replaced) context wrapped in a StepResult. Returning an error aborts
// the pipeline; setting CanProceed=false on the result stops it without
// treating the stop as a failure.
type Step interface {
	Name() string
	Execute(ctx context.Context, mc *MessagingContext) (*StepResult, error)
}

// StepResult is the outcome of one step execution.
type StepResult struct {
	Context    *MessagingContext
	CanProceed bool
}

// Proceed wraps mc in a result that lets the pipeline continue.
func Proceed(mc *MessagingContext) *StepResult {
	return &StepResult{Context: mc, CanProceed: true}
}

// Stop wraps mc in a result that halts the pipeline without error.
func Stop(mc *MessagingContext) *StepResult {
	return &StepResult{Context: mc, CanProceed: false}
}

// StepFunc adapts a function to the Step interface.
type StepFunc struct {
	StepName string
	Fn       func(ctx context.Context, mc *MessagingContext) (*StepResult, error)
}

func (s StepFunc) Name() string { return s.StepName }

func (s StepFunc) Execute(ctx context.Context, mc *MessagingContext) (*StepResult, error) {
	return s.Fn(ctx, mc)
}

// Pipeline executes an ordered list of steps over a MessagingContext.
type Pipeline struct {
	name   string
	steps  []Step
	logger *slog.Logger
}

// New builds a pipeline. A nil logger falls back to slog.Default.
func New(name string, logger *slog.Logger, steps ...Step) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{name: name, steps: steps, logger: logger.With("pipeline", name)}
}

// Execute runs the steps in order. The returned context is the one
// produced by the last executed step. Execution stops at the first step
// that errors, returns CanProceed=false, or when ctx is cancelled.
func (p *Pipeline) Execute(ctx context.Context, mc *MessagingContext) (*MessagingContext, error) {
	for _, step := range p.steps {
		if err := ctx.Err(); err != nil {
			return mc, err
		}
		start := time.Now()
		result, err := step.Execute(ctx, mc)
		if err != nil {
			p.logger.Error("step failed",
				"step", step.Name(),
				"mode", mc.Mode.String(),
				"error", err)
			return mc, fmt.Errorf("%s: %w", step.Name(), err)
		}
		if result == nil {
			return mc, fmt.Errorf("%s: step returned no result", step.Name())
		}
		if result.Context != nil {
			mc = result.Context
		}
		p.logger.Debug("step completed",
			"step", step.Name(),
			"mode", mc.Mode.String(),
			"duration", time.Since(start))
		if !result.CanProceed {
			p.logger.Debug("pipeline stopped", "step", step.Name())
			return mc, nil
		}
	}
	return mc, nil
}
