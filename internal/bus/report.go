package bus

import (
	"context"
	"log/slog"
	"time"

	"github.com/elihugi89/aistyler/internal/failure"
	"github.com/elihugi89/aistyler/internal/pipeline"
	"github.com/elihugi89/aistyler/pkg/schema"
)

// Publisher is the subset of Client the reporter needs.
type Publisher interface {
	PublishJSON(subject string, v any) error
}

// StepsSubject is where step snapshots for results on subject are published.
func StepsSubject(subject string) string { return subject + ".steps" }

// Reporter publishes a StepEvent for every step transition of one job.
type Reporter struct {
	pub     Publisher
	subject string
	jobID   string
	logger  *slog.Logger
	now     func() time.Time
}

func NewReporter(pub Publisher, resultSubject, jobID string, logger *slog.Logger) *Reporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reporter{
		pub:     pub,
		subject: StepsSubject(resultSubject),
		jobID:   jobID,
		logger:  logger,
		now:     time.Now,
	}
}

// Observe implements pipeline.Observer. Publish failures are logged and
// never affect the run.
func (r *Reporter) Observe(ctx context.Context, ev pipeline.Event) {
	e := StepEvent(r.jobID, ev.RunID, ev.Index, ev.Step, ev.Progress)
	e.HappenedAt = r.now().Unix()
	if err := r.pub.PublishJSON(r.subject, e); err != nil {
		r.logger.WarnContext(ctx, "publish step event failed",
			"subject", r.subject,
			"step", ev.Step.Name,
			"status", ev.Step.Status,
			"err", err)
	}
}

// StepEvent converts a step snapshot into its wire form.
func StepEvent(jobID, runID string, index int, s pipeline.Step, p pipeline.Progress) schema.StepEvent {
	return schema.StepEvent{
		JobID:           jobID,
		RunID:           runID,
		Index:           index,
		Name:            s.Name,
		Status:          schema.StepStatus(s.Status),
		Progress:        s.Progress,
		Provider:        s.Provider,
		Error:           s.Error,
		FailureType:     failure.Classify(s.Err()),
		OverallProgress: p.Overall,
		CurrentStep:     p.Current,
	}
}

// DoneEvent converts a finished run into the result event. Output content
// ids are filled in by the caller once outputs are stored.
func DoneEvent(jobID string, res pipeline.Result, now time.Time) schema.ProcessingDone {
	progress := res.Progress()
	done := schema.ProcessingDone{
		ID:               jobID,
		RunID:            res.ID,
		Original:         res.Original.String(),
		Success:          res.Success,
		ProcessingTimeMs: res.Duration.Milliseconds(),
		Error:            res.Error,
		FailureType:      failure.Classify(res.Err),
		HappenedAt:       now.Unix(),
	}
	if res.Success {
		done.Final = res.Final().String()
	}
	for _, o := range res.Outputs {
		done.Outputs = append(done.Outputs, schema.OutputResult{Step: o.Step, Image: o.Ref.String()})
	}
	for i, s := range res.Steps {
		ev := StepEvent(jobID, res.ID, i, s, progress)
		ev.HappenedAt = done.HappenedAt
		done.Steps = append(done.Steps, ev)
	}
	return done
}
