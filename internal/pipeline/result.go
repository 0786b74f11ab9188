package pipeline

import (
	"time"

	"github.com/elihugi89/aistyler/internal/imageref"
)

// Output is the image a completed step produced.
type Output struct {
	Step string       `json:"step"`
	Ref  imageref.Ref `json:"image"`
}

// Result is the immutable outcome of one run. Success holds iff every step
// completed; on failure Err wraps the failed step's error.
type Result struct {
	ID       string        `json:"id"`
	Success  bool          `json:"success"`
	Original imageref.Ref  `json:"original"`
	Outputs  []Output      `json:"outputs,omitempty"`
	Steps    []Step        `json:"steps"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`

	Err error `json:"-"`
}

// Final is the last produced image, or the original when nothing ran.
func (r Result) Final() imageref.Ref {
	if n := len(r.Outputs); n > 0 {
		return r.Outputs[n-1].Ref
	}
	return r.Original
}

func (r Result) Output(step string) (imageref.Ref, bool) {
	for _, o := range r.Outputs {
		if o.Step == step {
			return o.Ref, true
		}
	}
	return imageref.Ref{}, false
}

// FailedStep returns the step that halted the run, if any.
func (r Result) FailedStep() (Step, bool) {
	for _, s := range r.Steps {
		if s.Status == StatusFailed {
			return s, true
		}
	}
	return Step{}, false
}

func (r Result) Progress() Progress { return Summarize(r.Steps) }
