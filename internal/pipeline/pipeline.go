// Package pipeline runs a photo through an ordered list of stages, each
// backed by a fallback chain of providers, and reports per-step progress.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/elihugi89/aistyler/internal/imageref"
	"github.com/elihugi89/aistyler/internal/provider"
	"github.com/elihugi89/aistyler/internal/retry"
)

var errNoProviders = errors.New("no providers configured")

// Stage is one named unit of work. Providers are tried in order until one
// succeeds; each is wrapped in the pipeline's retry policy.
type Stage struct {
	Name      string
	Providers []provider.Provider
	Options   provider.Options
}

// Event is a step snapshot taken right after a transition.
type Event struct {
	RunID    string
	Index    int
	Step     Step
	Progress Progress
}

// Observer is notified synchronously on every step transition.
type Observer interface {
	Observe(ctx context.Context, ev Event)
}

type ObserverFunc func(ctx context.Context, ev Event)

func (f ObserverFunc) Observe(ctx context.Context, ev Event) { f(ctx, ev) }

type Pipeline struct {
	stages    []Stage
	policy    retry.Policy
	logger    *slog.Logger
	observers []Observer
}

type Option func(*Pipeline)

func WithPolicy(p retry.Policy) Option {
	return func(pl *Pipeline) { pl.policy = p }
}

func WithLogger(l *slog.Logger) Option {
	return func(pl *Pipeline) {
		if l != nil {
			pl.logger = l
		}
	}
}

// WithObserver registers an observer for every run of the pipeline.
func WithObserver(o Observer) Option {
	return func(pl *Pipeline) { pl.observers = append(pl.observers, o) }
}

func New(stages []Stage, opts ...Option) *Pipeline {
	p := &Pipeline{
		stages: append([]Stage(nil), stages...),
		policy: retry.Default(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// StageNames lists the stages in execution order.
func (p *Pipeline) StageNames() []string {
	names := make([]string, len(p.stages))
	for i, s := range p.stages {
		names[i] = s.Name
	}
	return names
}

type runConfig struct {
	id        string
	observers []Observer
}

// RunOption customizes a single run.
type RunOption func(*runConfig)

// WithRunID sets the run id; a random UUID is used otherwise.
func WithRunID(id string) RunOption {
	return func(c *runConfig) { c.id = id }
}

// WithRunObserver adds an observer for this run only.
func WithRunObserver(o Observer) RunOption {
	return func(c *runConfig) { c.observers = append(c.observers, o) }
}

// Run executes every stage in order against original. It never returns an
// error; failures are reported on the failed step and on the result.
func (p *Pipeline) Run(ctx context.Context, original imageref.Ref, opts ...RunOption) Result {
	cfg := runConfig{observers: append([]Observer(nil), p.observers...)}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.id == "" {
		cfg.id = uuid.NewString()
	}

	logger := p.logger.With("run_id", cfg.id)
	policy := p.policy
	policy.Logger = logger

	steps := make([]*Step, len(p.stages))
	for i, stage := range p.stages {
		steps[i] = newStep(stage.Name)
	}

	res := Result{ID: cfg.id, Original: original}
	started := time.Now()
	notify := func(i int) {
		if len(cfg.observers) == 0 {
			return
		}
		ev := Event{
			RunID:    cfg.id,
			Index:    i,
			Step:     steps[i].snapshot(),
			Progress: summarize(steps),
		}
		for _, o := range cfg.observers {
			o.Observe(ctx, ev)
		}
	}

	logger.InfoContext(ctx, "pipeline started", "image", original.String(), "stages", len(p.stages))

	current := original
	for i, stage := range p.stages {
		step := steps[i]
		stageLog := logger.With("step", stage.Name)

		step.start()
		notify(i)
		stageLog.InfoContext(ctx, "step started", "progress", step.Progress)

		stageStart := time.Now()
		out, used, err := p.runStage(ctx, stageLog, policy, stage, step, current)
		if err != nil {
			step.fail(err)
			notify(i)
			stageLog.ErrorContext(ctx, "step failed",
				"kind", step.Error,
				"attempts", len(step.Attempts),
				"duration", time.Since(stageStart),
				"err", err)

			res.Err = fmt.Errorf("%s: %w", stage.Name, err)
			res.Error = res.Err.Error()
			break
		}

		step.complete(used)
		res.Outputs = append(res.Outputs, Output{Step: stage.Name, Ref: out})
		current = out
		notify(i)
		stageLog.InfoContext(ctx, "step completed",
			"provider", step.Provider,
			"output", out.String(),
			"duration", time.Since(stageStart))
	}

	res.Steps = make([]Step, len(steps))
	for i, s := range steps {
		res.Steps[i] = s.snapshot()
	}
	res.Success = res.Err == nil
	res.Duration = time.Since(started)

	logger.InfoContext(ctx, "pipeline finished",
		"success", res.Success,
		"final", res.Final().String(),
		"duration", res.Duration)
	return res
}

// runStage walks the fallback chain. Each provider gets the full retry
// budget; the stage fails with the last provider's error.
func (p *Pipeline) runStage(ctx context.Context, logger *slog.Logger, policy retry.Policy, stage Stage, step *Step, in imageref.Ref) (imageref.Ref, string, error) {
	if len(stage.Providers) == 0 {
		return imageref.Ref{}, "", errNoProviders
	}

	var lastErr error
	for _, prov := range stage.Providers {
		name := prov.Name()
		out, err := retry.Do(ctx, policy, stage.Name+"/"+name, func(ctx context.Context) (imageref.Ref, error) {
			return prov.Process(ctx, in, stage.Options)
		})
		step.attempt(name, err)
		if err == nil {
			return out, name, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		logger.WarnContext(ctx, "provider failed", "provider", name, "err", err)
	}
	return imageref.Ref{}, "", lastErr
}
