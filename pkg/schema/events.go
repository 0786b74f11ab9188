// pkg/schema/events.go
package schema

// ProcessRequested asks a worker to run the pipeline against one photo.
// Image holds an image reference string (file path, URL, data URI or
// content://<uuid>); ContentID is a shortcut for content-backed photos.
type ProcessRequested struct {
	ID         string   `json:"id"`
	Image      string   `json:"image,omitempty"`
	ContentID  string   `json:"content_id,omitempty"`
	Filename   string   `json:"filename,omitempty"`
	Stages     []string `json:"stages,omitempty"`
	HappenedAt int64    `json:"happened_at"`
}

type StepStatus string

const (
	StepPending    StepStatus = "pending"
	StepProcessing StepStatus = "processing"
	StepCompleted  StepStatus = "completed"
	StepFailed     StepStatus = "failed"
)

type FailureType string

const (
	FailureTypeRetryable  FailureType = "retryable"
	FailureTypePermanent  FailureType = "permanent"
	FailureTypeValidation FailureType = "validation"
)

// StepEvent is a snapshot of one pipeline step, published every time the
// step changes state.
type StepEvent struct {
	JobID           string      `json:"job_id,omitempty"`
	RunID           string      `json:"run_id"`
	Index           int         `json:"index"`
	Name            string      `json:"name"`
	Status          StepStatus  `json:"status"`
	Progress        int         `json:"progress"`
	Provider        string      `json:"provider,omitempty"`
	Error           string      `json:"error,omitempty"`
	FailureType     FailureType `json:"failure_type,omitempty"`
	OverallProgress int         `json:"overall_progress"`
	CurrentStep     string      `json:"current_step"`
	HappenedAt      int64       `json:"happened_at"`
}

type OutputResult struct {
	Step      string `json:"step"`
	Image     string `json:"image"`
	ContentID string `json:"content_id,omitempty"`
}

type ProcessingDone struct {
	ID               string         `json:"id"`
	RunID            string         `json:"run_id"`
	Original         string         `json:"original"`
	Success          bool           `json:"success"`
	Final            string         `json:"final,omitempty"`
	Outputs          []OutputResult `json:"outputs,omitempty"`
	Steps            []StepEvent    `json:"steps,omitempty"`
	ProcessingTimeMs int64          `json:"processing_time_ms"`
	Error            string         `json:"error,omitempty"`
	FailureType      FailureType    `json:"failure_type,omitempty"`
	HappenedAt       int64          `json:"happened_at"`
}
