package pipeline

import "math"

// Labels shown as the current step once no step is processing.
const (
	LabelPending  = "Pending"
	LabelComplete = "Complete"
	LabelFailed   = "Failed"
)

// Progress is the overall view of a run for display.
type Progress struct {
	Overall   int    `json:"overall"`
	Current   string `json:"current"`
	Completed int    `json:"completed"`
	Total     int    `json:"total"`
	Complete  bool   `json:"complete"`
	HasErrors bool   `json:"has_errors"`
}

// Summarize computes Overall as round(100 * completed / total). A run with
// no steps is complete at 100.
func Summarize(steps []Step) Progress {
	p := Progress{Total: len(steps)}
	processing := ""
	for _, s := range steps {
		switch s.Status {
		case StatusCompleted:
			p.Completed++
		case StatusFailed:
			p.HasErrors = true
		case StatusProcessing:
			if processing == "" {
				processing = s.Name
			}
		}
	}

	if p.Total == 0 {
		p.Overall = 100
	} else {
		p.Overall = int(math.Round(100 * float64(p.Completed) / float64(p.Total)))
	}
	p.Complete = p.Completed == p.Total

	switch {
	case processing != "":
		p.Current = processing
	case p.HasErrors:
		p.Current = LabelFailed
	case p.Complete:
		p.Current = LabelComplete
	default:
		p.Current = LabelPending
	}
	return p
}

func summarize(steps []*Step) Progress {
	vals := make([]Step, len(steps))
	for i, s := range steps {
		vals[i] = *s
	}
	return Summarize(vals)
}
