package pipeline

import (
	"context"
	"errors"

	"github.com/elihugi89/aistyler/internal/failure"
)

// Status is the lifecycle state of one step.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// ProgressDispatched is the checkpoint a step reports once its request is
// on the wire.
const ProgressDispatched = 25

// Attempt records the outcome of one provider in a stage's fallback chain.
// Retries inside the provider are not listed separately.
type Attempt struct {
	Provider string       `json:"provider"`
	Kind     failure.Kind `json:"kind,omitempty"`
	Error    string       `json:"error,omitempty"`
}

// Step is the state of one stage within a run. Status only moves
// pending -> processing -> completed|failed and a terminal step is frozen.
type Step struct {
	Name     string    `json:"name"`
	Status   Status    `json:"status"`
	Progress int       `json:"progress"`
	Provider string    `json:"provider,omitempty"`
	Error    string    `json:"error,omitempty"`
	Detail   string    `json:"detail,omitempty"`
	Attempts []Attempt `json:"attempts,omitempty"`

	err error
}

func newStep(name string) *Step {
	return &Step{Name: name, Status: StatusPending}
}

func (s *Step) Terminal() bool {
	return s.Status == StatusCompleted || s.Status == StatusFailed
}

// Err is the error that failed the step, nil otherwise.
func (s *Step) Err() error { return s.err }

func (s *Step) start() bool {
	if s.Status != StatusPending {
		return false
	}
	s.Status = StatusProcessing
	s.advance(ProgressDispatched)
	return true
}

func (s *Step) advance(progress int) {
	if s.Terminal() || progress <= s.Progress {
		return
	}
	if progress > 100 {
		progress = 100
	}
	s.Progress = progress
}

func (s *Step) complete(provider string) bool {
	if s.Status != StatusProcessing {
		return false
	}
	s.advance(100)
	s.Status = StatusCompleted
	s.Provider = provider
	return true
}

// fail leaves progress where it was.
func (s *Step) fail(err error) bool {
	if s.Status != StatusProcessing {
		return false
	}
	s.Status = StatusFailed
	s.err = err
	s.Error = errorLabel(err)
	if err != nil {
		s.Detail = err.Error()
	}
	return true
}

func (s *Step) attempt(provider string, err error) {
	a := Attempt{Provider: provider}
	if err != nil {
		a.Kind = failure.KindOf(err)
		a.Error = err.Error()
	}
	s.Attempts = append(s.Attempts, a)
}

// snapshot returns a copy safe to hand to observers and callers.
func (s *Step) snapshot() Step {
	c := *s
	if s.Attempts != nil {
		c.Attempts = append([]Attempt(nil), s.Attempts...)
	}
	return c
}

// errorLabel is the short, user-facing name of what went wrong.
func errorLabel(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled):
		return "Canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "Timeout"
	}
	if kind := failure.KindOf(err); kind != "" {
		return string(kind)
	}
	return "Error"
}
