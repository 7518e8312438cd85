package events

// Lifecycle event types.
const (
	RunStarted   = "run.started"
	RunCompleted = "run.completed"
	JobQueued    = "job.queued"
	JobSkipped   = "job.skipped"
	JobCompleted = "job.completed"
)

// RunData is the payload of run.started and run.completed.
type RunData struct {
	RunID      string `json:"run_id"`
	Workflow   string `json:"workflow"`
	Repository string `json:"repository,omitempty"`
	Event      string `json:"event"`
	Ref        string `json:"ref,omitempty"`
	RunNumber  int64  `json:"run_number"`
	Result     string `json:"result,omitempty"`
}

// JobData is the payload of the job.* events. JobID is empty for a job
// that was skipped before expansion.
type JobData struct {
	RunID       string            `json:"run_id"`
	JobID       string            `json:"job_id,omitempty"`
	Job         string            `json:"job"`
	Name        string            `json:"name,omitempty"`
	DisplayName string            `json:"display_name,omitempty"`
	Labels      []string          `json:"labels,omitempty"`
	Result      string            `json:"result,omitempty"`
	Outputs     map[string]string `json:"outputs,omitempty"`
}
